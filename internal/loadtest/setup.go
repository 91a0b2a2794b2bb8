package loadtest

import (
	"context"
	"errors"
	"fmt"
	"time"

	khttp "github.com/wesleyorama2/k7/internal/http"
	"github.com/wesleyorama2/k7/internal/loadtest/metrics"
)

// SetupScenario is the scenario tag of requests made during setup.
const SetupScenario = "setup"

// SetupCheck is the check recorded for every setup attempt.
const SetupCheck = "setup token received"

// SetupFunc performs a custom setup exchange and returns the token.
type SetupFunc func(ctx context.Context, client *khttp.Client) (string, error)

// Setup obtains the token stored in every VU as authToken.
type Setup struct {
	// Request is the login exchange, resolved against Variables
	Request *RequestSpec

	// ExpectStatus is the status a successful exchange returns
	ExpectStatus int

	// TokenPath locates the token in the JSON response body
	TokenPath string

	// PerVU runs setup once in each VU instead of once per test
	PerVU bool

	// Func replaces Request when set
	Func SetupFunc
}

// Run executes the setup exchange once. Any failure is a *SetupError.
func (s *Setup) Run(ctx context.Context, client *khttp.Client, m *metrics.Engine, vars map[string]string) (string, error) {
	tags := metrics.Tags{metrics.TagScenario: SetupScenario}

	if s.Func != nil {
		token, err := s.Func(ctx, client)
		if err != nil {
			m.AddCheck(SetupCheck, false, tags)
			var setupErr *SetupError
			if errors.As(err, &setupErr) {
				return "", setupErr
			}
			return "", &SetupError{Reason: "setup function failed", Err: err}
		}
		m.AddCheck(SetupCheck, token != "", tags)
		if token == "" {
			return "", &SetupError{Reason: "setup function returned an empty token"}
		}
		return token, nil
	}

	if s.Request == nil {
		return "", &SetupError{Reason: "no setup request defined"}
	}
	req, err := s.Request.Build(lookupIn(vars))
	if err != nil {
		return "", &SetupError{Reason: "invalid setup request", Err: err}
	}

	started := time.Now()
	resp, err := client.Do(ctx, req)
	if resp == nil {
		m.AddCheck(SetupCheck, false, tags)
		return "", &SetupError{Reason: "invalid setup request", Err: err}
	}
	result := metrics.RequestResult{
		Name:          requestName(req),
		Method:        req.Method,
		URL:           req.URL,
		Status:        resp.StatusCode,
		Duration:      resp.Duration(),
		BytesSent:     resp.BytesSent,
		BytesReceived: resp.BytesReceived,
		Timestamp:     started,
		Tags:          tags,
	}
	if err != nil {
		result.Error = err.Error()
	}
	m.AddRequest(result)

	if err != nil {
		m.AddCheck(SetupCheck, false, tags)
		return "", &SetupError{Reason: "request failed", Err: err}
	}

	expect := s.ExpectStatus
	if expect == 0 {
		expect = 200
	}
	if resp.StatusCode != expect {
		m.AddCheck(SetupCheck, false, tags)
		return "", &SetupError{Status: resp.StatusCode, Reason: fmt.Sprintf("expected status %d", expect)}
	}

	path := s.TokenPath
	if path == "" {
		path = "accessToken"
	}
	field := resp.Field(path)
	if !field.Exists() || field.String() == "" {
		m.AddCheck(SetupCheck, false, tags)
		return "", &SetupError{Status: resp.StatusCode, Reason: fmt.Sprintf("no token at %q", path)}
	}
	m.AddCheck(SetupCheck, true, tags)
	return field.String(), nil
}

func lookupIn(vars map[string]string) func(string) (string, bool) {
	return func(name string) (string, bool) {
		v, ok := vars[name]
		return v, ok
	}
}
