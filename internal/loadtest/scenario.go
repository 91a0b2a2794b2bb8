package loadtest

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	khttp "github.com/wesleyorama2/k7/internal/http"
	"github.com/wesleyorama2/k7/internal/loadtest/metrics"
)

// TokenVar is the VU variable holding the setup token.
const TokenVar = "authToken"

// Scenario defines what a VU executes during each iteration.
type Scenario struct {
	// Name of the scenario, added to every sample as the scenario tag
	Name string

	// Tags are added to every sample. An explicit rampUp tag overrides
	// the executor-derived value.
	Tags metrics.Tags

	// Variables seed every VU's variable scope
	Variables map[string]string

	// Requests run in order when Iteration is nil
	Requests []*RequestSpec

	// Iteration replaces the request list with custom code
	Iteration IterationFunc

	// ThinkTime is slept at the end of every iteration
	ThinkTime time.Duration

	// Setup, when set with PerVU, runs once in every new VU
	Setup *Setup
}

// RequestSpec is a request template resolved against VU variables.
type RequestSpec struct {
	Name    string
	Method  string
	URL     string
	Headers map[string]string
	Query   map[string]string
	Body    string
	JSON    interface{}
	Timeout time.Duration
	Checks  []Check
}

var varPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}|\{\{([A-Za-z_][A-Za-z0-9_]*)\}\}`)

// resolve substitutes ${name} and {{name}} from lookup, leaving unknown
// names untouched.
func resolve(s string, lookup func(string) (string, bool)) string {
	if !strings.Contains(s, "${") && !strings.Contains(s, "{{") {
		return s
	}
	return varPattern.ReplaceAllStringFunc(s, func(m string) string {
		sub := varPattern.FindStringSubmatch(m)
		name := sub[1]
		if name == "" {
			name = sub[2]
		}
		if v, ok := lookup(name); ok {
			return v
		}
		return m
	})
}

// resolveJSON substitutes variables in every string key and leaf of a
// decoded JSON value, returning a copy.
func resolveJSON(v interface{}, lookup func(string) (string, bool)) interface{} {
	switch val := v.(type) {
	case string:
		return resolve(val, lookup)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			out[resolve(k, lookup)] = resolveJSON(item, lookup)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = resolveJSON(item, lookup)
		}
		return out
	default:
		return v
	}
}

// Build resolves the template into a concrete request.
func (r *RequestSpec) Build(lookup func(string) (string, bool)) (*khttp.Request, error) {
	req := khttp.NewRequest(strings.ToUpper(r.Method), resolve(r.URL, lookup))
	req.Name = r.Name
	req.Timeout = r.Timeout
	for k, v := range r.Headers {
		req.WithHeader(k, resolve(v, lookup))
	}
	for k, v := range r.Query {
		req.WithQueryParam(k, resolve(v, lookup))
	}

	switch {
	case r.JSON != nil:
		raw, err := json.Marshal(resolveJSON(r.JSON, lookup))
		if err != nil {
			return nil, fmt.Errorf("encode json body of %s: %w", r.Name, err)
		}
		req.WithBody(raw)
		if _, ok := req.Headers["Content-Type"]; !ok {
			req.WithHeader("Content-Type", "application/json")
		}
	case r.Body != "":
		req.WithBody(resolve(r.Body, lookup))
	}
	return req, nil
}

// requestsIteration runs the scenario's request list with its checks.
func requestsIteration(ctx context.Context, it *Iteration) error {
	for _, spec := range it.vu.pool.scenario.Requests {
		if err := ctx.Err(); err != nil {
			return err
		}
		req, err := spec.Build(it.Var)
		if err != nil {
			return err
		}
		resp, err := it.Do(ctx, req)
		if resp == nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		it.Check(resp, spec.Checks...)
	}
	return nil
}
