// Package http is the instrumented HTTP client used by virtual users.
package http

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net/http"
	"net/http/httptrace"
	"time"
)

// ClientConfig configures the shared transport.
type ClientConfig struct {
	// Timeout is the default per-request timeout (default: 60s)
	Timeout time.Duration

	// MaxIdleConns controls the maximum number of idle connections
	MaxIdleConns int

	// MaxIdleConnsPerHost controls the maximum idle connections per host
	MaxIdleConnsPerHost int

	// MaxConnsPerHost limits total connections per host (0 = unlimited)
	MaxConnsPerHost int

	// IdleConnTimeout is how long idle connections remain in the pool
	IdleConnTimeout time.Duration

	// DisableKeepAlives disables HTTP keep-alive
	DisableKeepAlives bool

	// InsecureSkipVerify skips TLS certificate verification
	InsecureSkipVerify bool
}

// DefaultClientConfig returns settings sized for hundreds of concurrent VUs.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Timeout:             60 * time.Second,
		MaxIdleConns:        1000,
		MaxIdleConnsPerHost: 100,
		IdleConnTimeout:     90 * time.Second,
	}
}

// Client issues requests and measures them. It is safe for concurrent use
// and meant to be shared by every VU of a run.
type Client struct {
	httpClient *http.Client
	baseURL    string
	headers    map[string]string
	timeout    time.Duration
}

// ClientOption is a function that configures a Client
type ClientOption func(*Client)

// NewClient creates a client with the default configuration.
func NewClient(options ...ClientOption) *Client {
	return NewClientWithConfig(DefaultClientConfig(), options...)
}

// NewClientWithConfig creates a client on a transport built from cfg.
func NewClientWithConfig(cfg ClientConfig, options ...ClientOption) *Client {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
		MaxConnsPerHost:     cfg.MaxConnsPerHost,
		IdleConnTimeout:     cfg.IdleConnTimeout,
		DisableKeepAlives:   cfg.DisableKeepAlives,
		ForceAttemptHTTP2:   true,
	}
	if cfg.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in for test targets
	}

	client := &Client{
		httpClient: &http.Client{Transport: transport},
		headers:    make(map[string]string),
		timeout:    cfg.Timeout,
	}
	for _, option := range options {
		option(client)
	}
	return client
}

// WithBaseURL sets the base URL relative request URLs are resolved against.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = baseURL
	}
}

// WithTimeout sets the default per-request timeout.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.timeout = timeout
	}
}

// WithHeader adds a header sent with every request.
func WithHeader(key, value string) ClientOption {
	return func(c *Client) {
		c.headers[key] = value
	}
}

// BaseURL returns the configured base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Get issues a GET request.
func (c *Client) Get(ctx context.Context, rawURL string) (*Response, error) {
	return c.Do(ctx, NewRequest(http.MethodGet, rawURL))
}

// Post issues a POST request with body. Non-byte bodies are sent as JSON.
func (c *Client) Post(ctx context.Context, rawURL string, body any) (*Response, error) {
	return c.Do(ctx, NewRequest(http.MethodPost, rawURL).WithBody(body))
}

// Do executes req and returns the response with a timing breakdown.
//
// Transport failures and timeouts still return a non-nil Response with
// StatusCode 0 and the elapsed Timing, so callers can record the attempt.
func (c *Client) Do(ctx context.Context, req *Request) (*Response, error) {
	httpReq, sent, err := req.Build(c.baseURL)
	if err != nil {
		return nil, err
	}
	for key, value := range c.headers {
		if httpReq.Header.Get(key) == "" {
			httpReq.Header.Set(key, value)
		}
	}

	timeout := c.timeout
	if req.Timeout > 0 {
		timeout = req.Timeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	timing := TimingInfo{StartTime: time.Now()}
	var dnsStart, connectStart, tlsStart, lastPhaseEnd time.Time
	lastPhaseEnd = timing.StartTime

	trace := &httptrace.ClientTrace{
		DNSStart: func(httptrace.DNSStartInfo) { dnsStart = time.Now() },
		DNSDone: func(httptrace.DNSDoneInfo) {
			lastPhaseEnd = time.Now()
			timing.DNSLookupTime = lastPhaseEnd.Sub(dnsStart)
		},
		ConnectStart: func(string, string) { connectStart = time.Now() },
		ConnectDone: func(_, _ string, err error) {
			if err == nil {
				lastPhaseEnd = time.Now()
				timing.TCPConnectTime = lastPhaseEnd.Sub(connectStart)
			}
		},
		TLSHandshakeStart: func() { tlsStart = time.Now() },
		TLSHandshakeDone: func(_ tls.ConnectionState, err error) {
			if err == nil {
				lastPhaseEnd = time.Now()
				timing.TLSHandshakeTime = lastPhaseEnd.Sub(tlsStart)
			}
		},
		GotFirstResponseByte: func() {
			timing.TimeToFirstByte = time.Since(lastPhaseEnd)
		},
	}
	httpReq = httpReq.WithContext(httptrace.WithClientTrace(ctx, trace))

	resp := &Response{Request: req, BytesSent: sent}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		timing.TotalTime = time.Since(timing.StartTime)
		resp.Timing = timing
		return resp, &RequestError{Method: req.Method, URL: httpReq.URL.String(), Err: err, Timeout: isTimeout(ctx, err)}
	}
	defer httpResp.Body.Close()

	transferStart := time.Now()
	body, readErr := io.ReadAll(httpResp.Body)
	timing.ContentTransferTime = time.Since(transferStart)
	timing.TotalTime = time.Since(timing.StartTime)

	resp.StatusCode = httpResp.StatusCode
	resp.Status = httpResp.Status
	resp.Headers = httpResp.Header
	resp.Body = body
	resp.Timing = timing
	resp.BytesReceived = int64(len(body)) + headerSize(httpResp.Header) + int64(len(httpResp.Proto)+len(httpResp.Status)+4)

	if readErr != nil {
		return resp, &RequestError{Method: req.Method, URL: httpReq.URL.String(), Err: readErr, Timeout: isTimeout(ctx, readErr)}
	}
	return resp, nil
}

func headerSize(h http.Header) int64 {
	var n int64
	for k, values := range h {
		for _, v := range values {
			n += int64(len(k) + len(v) + 4)
		}
	}
	return n
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}

// RequestError is a transport-level failure of one request.
type RequestError struct {
	Method  string
	URL     string
	Timeout bool
	Err     error
}

func (e *RequestError) Error() string {
	if e.Timeout {
		return e.Method + " " + e.URL + ": request timeout: " + e.Err.Error()
	}
	return e.Method + " " + e.URL + ": " + e.Err.Error()
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// requestSize approximates the bytes put on the wire for a request.
func requestSize(r *http.Request, body []byte) int64 {
	n := int64(len(r.Method) + len(r.URL.RequestURI()) + len(r.Proto) + 4)
	n += int64(len(r.URL.Host) + 8)
	n += headerSize(r.Header)
	return n + int64(len(body)) + 2
}
