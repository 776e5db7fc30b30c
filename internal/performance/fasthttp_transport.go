package performance

import (
	"context"
	"crypto/tls"
	"errors"
	"net/http"
	"time"

	"github.com/valyala/fasthttp"
)

const maxRedirects = 5

// FastHTTPTransport is a Transport backed by valyala/fasthttp.
//
// fasthttp has no context support; the deadline is the earlier of the
// request timeout and the context deadline, and cancellation is only
// observed before the request is sent.
type FastHTTPTransport struct {
	client  *fasthttp.Client
	timeout time.Duration
}

// NewFastHTTPTransport creates a fasthttp transport.
func NewFastHTTPTransport(cfg HTTPClientConfig) *FastHTTPTransport {
	maxConns := cfg.MaxConnsPerHost
	if maxConns <= 0 {
		maxConns = 65535
	}

	client := &fasthttp.Client{
		MaxConnsPerHost:           maxConns,
		MaxIdleConnDuration:       cfg.IdleConnTimeout,
		MaxIdemponentCallAttempts: 1,
		NoDefaultUserAgentHeader:  true,
	}
	if cfg.InsecureSkipVerify {
		client.TLSConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
	}

	return &FastHTTPTransport{client: client, timeout: cfg.Timeout}
}

// Send implements Transport.
func (t *FastHTTPTransport) Send(ctx context.Context, req *Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, ClassifyError(err)
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = t.timeout
	}
	deadline := time.Now().Add(timeout)
	if timeout <= 0 {
		deadline = time.Now().Add(DefaultHTTPClientConfig().Timeout)
	}
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	freq := fasthttp.AcquireRequest()
	fresp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(freq)
	defer fasthttp.ReleaseResponse(fresp)

	freq.SetRequestURI(req.URL)
	freq.Header.SetMethod(req.Method)
	for key, values := range req.Header {
		for _, v := range values {
			freq.Header.Add(key, v)
		}
	}
	if len(req.Body) > 0 {
		freq.SetBody(req.Body)
	}

	start := time.Now()
	if err := t.doRedirects(freq, fresp, deadline); err != nil {
		return nil, ClassifyError(fastHTTPError(err))
	}

	header := make(http.Header)
	fresp.Header.VisitAll(func(k, v []byte) {
		header.Add(string(k), string(v))
	})

	body := append([]byte(nil), fresp.Body()...)

	return &Response{
		StatusCode: fresp.StatusCode(),
		Header:     header,
		Body:       body,
		Duration:   time.Since(start),
	}, nil
}

func (t *FastHTTPTransport) doRedirects(req *fasthttp.Request, resp *fasthttp.Response, deadline time.Time) error {
	for i := 0; ; i++ {
		if err := t.client.DoDeadline(req, resp, deadline); err != nil {
			return err
		}
		if !fasthttp.StatusCodeIsRedirect(resp.StatusCode()) || i >= maxRedirects {
			return nil
		}
		location := resp.Header.Peek("Location")
		if len(location) == 0 {
			return nil
		}
		req.URI().UpdateBytes(location)

		// 301, 302 and 303 follow up with a bodiless GET, as net/http does.
		switch resp.StatusCode() {
		case fasthttp.StatusMovedPermanently, fasthttp.StatusFound, fasthttp.StatusSeeOther:
			if !req.Header.IsGet() && !req.Header.IsHead() {
				req.Header.SetMethod(fasthttp.MethodGet)
			}
			req.ResetBody()
			req.Header.Del(fasthttp.HeaderContentType)
			req.Header.Del(fasthttp.HeaderContentLength)
		}
	}
}

// fastHTTPError maps fasthttp sentinel errors onto the errors the
// classifier understands.
func fastHTTPError(err error) error {
	switch {
	case errors.Is(err, fasthttp.ErrTimeout), errors.Is(err, fasthttp.ErrDialTimeout):
		return &RequestError{Kind: ErrorTimeout, Err: err}
	case errors.Is(err, fasthttp.ErrConnectionClosed):
		return &RequestError{Kind: ErrorConnectionReset, Err: err}
	default:
		return err
	}
}

// CloseIdleConnections closes pooled connections.
func (t *FastHTTPTransport) CloseIdleConnections() {
	t.client.CloseIdleConnections()
}
