// Package target is a small HTTP service to point load tests at.
package target

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// maxDelay caps /delay/:ms.
const maxDelay = 30 * time.Second

// NewRouter returns the demo service handler.
//
//	GET /health            204
//	GET /hello             204
//	GET /hello-resty       200 after ~20ms of simulated work
//	GET /status/:code      responds with code
//	GET /delay/:ms         200 after ms milliseconds
//	GET /json              a small JSON document
func NewRouter(logger *zap.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	if logger != nil {
		r.Use(requestLogger(logger))
	}

	r.GET("/health", func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	r.GET("/hello", func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	// two fake tasks and some post processing
	r.GET("/hello-resty", func(c *gin.Context) {
		if !sleep(c, 5*time.Millisecond) || !sleep(c, 5*time.Millisecond) || !sleep(c, 10*time.Millisecond) {
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "pong", "tasks": 2})
	})

	r.GET("/status/:code", func(c *gin.Context) {
		code, err := strconv.Atoi(c.Param("code"))
		if err != nil || code < 100 || code > 599 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status code"})
			return
		}
		c.Status(code)
	})

	r.GET("/delay/:ms", func(c *gin.Context) {
		ms, err := strconv.Atoi(c.Param("ms"))
		if err != nil || ms < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid delay"})
			return
		}
		d := time.Duration(ms) * time.Millisecond
		if d > maxDelay {
			d = maxDelay
		}
		if !sleep(c, d) {
			return
		}
		c.JSON(http.StatusOK, gin.H{"delay": ms})
	})

	r.GET("/json", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message": "pong",
			"items": []gin.H{
				{"id": 1, "name": "ditto"},
				{"id": 2, "name": "pikachu"},
			},
		})
	})

	return r
}

// sleep waits d or until the client goes away.
func sleep(c *gin.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-c.Request.Context().Done():
		c.Abort()
		return false
	}
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}

// Server runs the demo service.
type Server struct {
	srv    *http.Server
	logger *zap.Logger
}

// NewServer creates a server listening on addr.
func NewServer(addr string, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           NewRouter(logger),
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("target listening", zap.String("addr", s.srv.Addr))
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
