package performance

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"
)

// Request is a transport-agnostic HTTP request.
type Request struct {
	Method  string
	URL     string
	Header  http.Header
	Body    []byte
	Timeout time.Duration
}

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Duration   time.Duration
}

// Transport sends HTTP requests. Implementations must be safe for concurrent
// use and enforce Request.Timeout themselves.
type Transport interface {
	Send(ctx context.Context, req *Request) (*Response, error)
}

// ErrorKind classifies transport failures.
type ErrorKind string

const (
	ErrorTimeout           ErrorKind = "timeout"
	ErrorDNS               ErrorKind = "dns"
	ErrorConnectionRefused ErrorKind = "connection_refused"
	ErrorConnectionReset   ErrorKind = "connection_reset"
	ErrorCanceled          ErrorKind = "canceled"
	ErrorOther             ErrorKind = "other"
)

// Code returns a stable numeric code for the kind, used as the error_code tag.
func (k ErrorKind) Code() int {
	switch k {
	case ErrorTimeout:
		return 1050
	case ErrorDNS:
		return 1100
	case ErrorConnectionRefused:
		return 1212
	case ErrorConnectionReset:
		return 1220
	case ErrorCanceled:
		return 1010
	default:
		return 1000
	}
}

// ErrNoResponse is reported when a transport returns neither a response nor
// an error.
var ErrNoResponse = errors.New("transport returned no response")

// RequestError is a per-request transport failure. It is recorded as data
// and never stops a VU.
type RequestError struct {
	Kind ErrorKind
	Err  error
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *RequestError) Unwrap() error { return e.Err }

// ClassifyError wraps err into a *RequestError. A nil err returns nil.
func ClassifyError(err error) *RequestError {
	if err == nil {
		return nil
	}

	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return reqErr
	}

	return &RequestError{Kind: classify(err), Err: err}
}

func classify(err error) ErrorKind {
	var dnsErr *net.DNSError
	var netErr net.Error

	switch {
	case errors.Is(err, context.Canceled):
		return ErrorCanceled
	case errors.Is(err, context.DeadlineExceeded):
		return ErrorTimeout
	case errors.As(err, &dnsErr):
		return ErrorDNS
	case errors.Is(err, syscall.ECONNREFUSED):
		return ErrorConnectionRefused
	case errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.EPIPE):
		return ErrorConnectionReset
	case errors.As(err, &netErr) && netErr.Timeout():
		return ErrorTimeout
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "timed out"):
		return ErrorTimeout
	case strings.Contains(msg, "connection refused"):
		return ErrorConnectionRefused
	case strings.Contains(msg, "connection reset"), strings.Contains(msg, "connection closed"):
		return ErrorConnectionReset
	default:
		return ErrorOther
	}
}

// HTTPClientConfig contains HTTP client configuration.
type HTTPClientConfig struct {
	// Timeout is the default per-request timeout
	Timeout time.Duration

	// MaxIdleConns controls the maximum number of idle connections
	MaxIdleConns int

	// MaxIdleConnsPerHost controls the maximum idle connections per host
	MaxIdleConnsPerHost int

	// MaxConnsPerHost limits the total connections per host
	MaxConnsPerHost int

	// IdleConnTimeout is how long idle connections are kept alive
	IdleConnTimeout time.Duration

	// DisableKeepAlives disables HTTP keep-alives
	DisableKeepAlives bool

	// InsecureSkipVerify skips TLS certificate verification
	InsecureSkipVerify bool
}

// DefaultHTTPClientConfig returns sensible defaults for load testing.
func DefaultHTTPClientConfig() HTTPClientConfig {
	return HTTPClientConfig{
		Timeout:             30 * time.Second,
		MaxIdleConns:        1000,
		MaxIdleConnsPerHost: 100,
		IdleConnTimeout:     90 * time.Second,
	}
}

// HTTPTransport is a Transport backed by net/http. One instance is shared by
// all VUs of a run for connection pooling.
type HTTPTransport struct {
	client  *http.Client
	timeout time.Duration
}

// NewHTTPTransport creates a net/http transport.
func NewHTTPTransport(cfg HTTPClientConfig) *HTTPTransport {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
		MaxConnsPerHost:     cfg.MaxConnsPerHost,
		IdleConnTimeout:     cfg.IdleConnTimeout,
		DisableKeepAlives:   cfg.DisableKeepAlives,
	}
	if cfg.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
	}

	return &HTTPTransport{
		client:  &http.Client{Transport: transport},
		timeout: cfg.Timeout,
	}
}

// Send implements Transport.
func (t *HTTPTransport) Send(ctx context.Context, req *Request) (*Response, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = t.timeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, &RequestError{Kind: ErrorOther, Err: fmt.Errorf("failed to build request: %w", err)}
	}
	for key, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}

	start := time.Now()
	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, ClassifyError(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, ClassifyError(fmt.Errorf("failed to read response body: %w", err))
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       data,
		Duration:   time.Since(start),
	}, nil
}

// CloseIdleConnections closes pooled connections.
func (t *HTTPTransport) CloseIdleConnections() {
	t.client.CloseIdleConnections()
}
