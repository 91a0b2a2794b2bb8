package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/tidwall/gjson"
)

// TimingInfo is the phase breakdown of a request.
type TimingInfo struct {
	StartTime           time.Time
	DNSLookupTime       time.Duration
	TCPConnectTime      time.Duration
	TLSHandshakeTime    time.Duration
	TimeToFirstByte     time.Duration
	ContentTransferTime time.Duration
	TotalTime           time.Duration
}

// Response is a fully read HTTP response.
type Response struct {
	StatusCode    int
	Status        string
	Headers       http.Header
	Body          []byte
	Timing        TimingInfo
	BytesSent     int64
	BytesReceived int64
	Request       *Request
}

// Duration returns the total request time.
func (r *Response) Duration() time.Duration {
	return r.Timing.TotalTime
}

// BodyString returns the body as a string.
func (r *Response) BodyString() string {
	return string(r.Body)
}

// Header returns the first value of the named header.
func (r *Response) Header(key string) string {
	if r.Headers == nil {
		return ""
	}
	return r.Headers.Get(key)
}

// Field looks up a value in a JSON body. path may be a gjson path
// ("data.token") or a JSONPath ("$.data.token").
func (r *Response) Field(path string) gjson.Result {
	return gjson.GetBytes(r.Body, GjsonPath(path))
}

// DecodeJSON unmarshals the body into v.
func (r *Response) DecodeJSON(v any) error {
	return DecodeJSON(r, v)
}

// DecodeJSON unmarshals the body of r into v.
func DecodeJSON(r *Response, v any) error {
	if r == nil {
		return fmt.Errorf("decode: nil response")
	}
	if len(r.Body) == 0 {
		return fmt.Errorf("decode: empty body (status %d)", r.StatusCode)
	}
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}

// Decode unmarshals the body of r into a new T.
func Decode[T any](r *Response) (T, error) {
	var v T
	err := DecodeJSON(r, &v)
	return v, err
}
