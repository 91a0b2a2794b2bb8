package loadtest

import (
	"context"
	"errors"
	"net/url"
	"time"

	"github.com/google/uuid"

	khttp "github.com/wesleyorama2/k7/internal/http"
	"github.com/wesleyorama2/k7/internal/loadtest/metrics"
)

// IterationFunc is the body of one VU iteration.
type IterationFunc func(ctx context.Context, it *Iteration) error

// Iteration is the handle a VU passes to its iteration body. Requests and
// checks made through it are recorded with the scenario's current tags.
type Iteration struct {
	vu     *VirtualUser
	number int64
	tags   metrics.Tags
}

// VU returns the id of the VU running the iteration.
func (it *Iteration) VU() uuid.UUID { return it.vu.ID }

// Number is the VU-local iteration counter, starting at 0.
func (it *Iteration) Number() int64 { return it.number }

// Scenario returns the scenario name.
func (it *Iteration) Scenario() string { return it.vu.pool.scenario.Name }

// Tags returns the tags samples of this iteration carry.
func (it *Iteration) Tags() metrics.Tags { return it.tags.Clone() }

// Var looks up a VU variable.
func (it *Iteration) Var(name string) (string, bool) { return it.vu.Var(name) }

// SetVar sets a VU variable for this and later iterations.
func (it *Iteration) SetVar(name, value string) { it.vu.SetVar(name, value) }

// Token returns the setup token, if any.
func (it *Iteration) Token() string {
	v, _ := it.vu.Var(TokenVar)
	return v
}

// Get issues a GET request and records it.
func (it *Iteration) Get(ctx context.Context, rawURL string) (*khttp.Response, error) {
	return it.Do(ctx, khttp.NewRequest("GET", rawURL))
}

// Post issues a POST request with body and records it.
func (it *Iteration) Post(ctx context.Context, rawURL string, body interface{}) (*khttp.Response, error) {
	return it.Do(ctx, khttp.NewRequest("POST", rawURL).WithBody(body))
}

// Do executes req on the pool's shared client and records the result.
//
// Requests interrupted because ctx was cancelled are not recorded.
func (it *Iteration) Do(ctx context.Context, req *khttp.Request) (*khttp.Response, error) {
	pool := it.vu.pool
	started := time.Now()
	resp, err := pool.client.Do(ctx, req)
	if resp == nil {
		return nil, err
	}
	if err != nil && ctx.Err() != nil {
		return resp, err
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
		Tags:          it.tags,
	}
	if err != nil {
		result.Error = err.Error()
		var reqErr *RequestError
		if errors.As(err, &reqErr) && reqErr.Timeout {
			pool.logger.Debug("request timed out", pool.fields(it.vu, req)...)
		}
	}
	pool.metrics.AddRequest(result)
	pool.observeSlow(it.vu, req, resp)
	return resp, err
}

// Check evaluates checks against resp, records each outcome and reports
// whether all passed.
func (it *Iteration) Check(resp *khttp.Response, checks ...Check) bool {
	all := true
	for _, c := range checks {
		passed := c.Fn(resp)
		it.vu.pool.metrics.AddCheck(c.Name, passed, it.tags)
		all = all && passed
	}
	return all
}

func requestName(req *khttp.Request) string {
	if req.Name != "" {
		return req.Name
	}
	if u, err := url.Parse(req.URL); err == nil && u.Path != "" {
		return u.Path
	}
	return req.URL
}
