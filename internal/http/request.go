package http

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Request describes one HTTP call.
type Request struct {
	// Name groups requests in metrics (defaults to the URL path).
	Name        string
	Method      string
	URL         string
	QueryParams url.Values
	Headers     map[string]string
	Body        interface{}
	Timeout     time.Duration
}

// NewRequest creates a new HTTP request. rawURL may be absolute or
// relative to the client's base URL.
func NewRequest(method, rawURL string) *Request {
	return &Request{
		Method:      method,
		URL:         rawURL,
		QueryParams: make(url.Values),
		Headers:     make(map[string]string),
	}
}

// WithHeader adds a header to the request
func (r *Request) WithHeader(key, value string) *Request {
	if r.Headers == nil {
		r.Headers = make(map[string]string)
	}
	r.Headers[key] = value
	return r
}

// WithQueryParam adds a query parameter to the request
func (r *Request) WithQueryParam(key, value string) *Request {
	if r.QueryParams == nil {
		r.QueryParams = make(url.Values)
	}
	r.QueryParams.Add(key, value)
	return r
}

// WithBody sets the body of the request
func (r *Request) WithBody(body interface{}) *Request {
	r.Body = body
	return r
}

// WithTimeout overrides the client timeout for this request.
func (r *Request) WithTimeout(d time.Duration) *Request {
	r.Timeout = d
	return r
}

// ResolveURL joins the request URL with baseURL unless it is absolute.
func (r *Request) ResolveURL(baseURL string) (*url.URL, error) {
	target, err := url.Parse(r.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid url %q: %w", r.URL, err)
	}
	if !target.IsAbs() {
		if baseURL == "" {
			return nil, fmt.Errorf("relative url %q without a base url", r.URL)
		}
		base, err := url.Parse(baseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid base url %q: %w", baseURL, err)
		}
		base.Path = strings.TrimRight(base.Path, "/") + "/" + strings.TrimLeft(target.Path, "/")
		if target.RawQuery != "" {
			base.RawQuery = target.RawQuery
		}
		target = base
	}

	if len(r.QueryParams) > 0 {
		query := target.Query()
		for key, values := range r.QueryParams {
			for _, value := range values {
				query.Add(key, value)
			}
		}
		target.RawQuery = query.Encode()
	}
	return target, nil
}

// Build constructs an http.Request and reports its approximate wire size.
func (r *Request) Build(baseURL string) (*http.Request, int64, error) {
	target, err := r.ResolveURL(baseURL)
	if err != nil {
		return nil, 0, err
	}

	var payload []byte
	contentType := ""
	switch body := r.Body.(type) {
	case nil:
	case string:
		payload = []byte(body)
	case []byte:
		payload = body
	case io.Reader:
		payload, err = io.ReadAll(body)
		if err != nil {
			return nil, 0, fmt.Errorf("read body: %w", err)
		}
	default:
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, 0, fmt.Errorf("encode body: %w", err)
		}
		contentType = "application/json"
	}

	var bodyReader io.Reader
	if payload != nil {
		bodyReader = bytes.NewReader(payload)
	}
	req, err := http.NewRequest(r.Method, target.String(), bodyReader)
	if err != nil {
		return nil, 0, err
	}
	for key, value := range r.Headers {
		req.Header.Set(key, value)
	}
	if contentType != "" && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", contentType)
	}

	return req, requestSize(req, payload), nil
}
