package loadtest

import (
	"encoding/json"
	"fmt"
	"net/textproto"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	khttp "github.com/wesleyorama2/k7/internal/http"
)

// Check is a named predicate over a response. Each evaluation adds one
// sample to the checks metric.
type Check struct {
	Name string
	Fn   func(resp *khttp.Response) bool
}

// Named returns a copy of the check with a different name.
func (c Check) Named(name string) Check {
	if name != "" {
		c.Name = name
	}
	return c
}

// StatusIs passes when the response has the given status code.
func StatusIs(code int) Check {
	return Check{
		Name: fmt.Sprintf("status is %d", code),
		Fn: func(resp *khttp.Response) bool {
			return resp != nil && resp.StatusCode == code
		},
	}
}

// HeaderEquals passes when the header is present, and equal to value if
// value is not empty.
func HeaderEquals(header, value string) Check {
	name := fmt.Sprintf("header %s present", header)
	if value != "" {
		name = fmt.Sprintf("header %s is %s", header, value)
	}
	return Check{
		Name: name,
		Fn: func(resp *khttp.Response) bool {
			if resp == nil || resp.Headers == nil {
				return false
			}
			values, ok := resp.Headers[textproto.CanonicalMIMEHeaderKey(header)]
			if !ok || len(values) == 0 {
				return false
			}
			return value == "" || values[0] == value
		},
	}
}

// BodyContains passes when the body contains s.
func BodyContains(s string) Check {
	return Check{
		Name: fmt.Sprintf("body contains %q", s),
		Fn: func(resp *khttp.Response) bool {
			return resp != nil && strings.Contains(string(resp.Body), s)
		},
	}
}

// JSONPathEquals passes when the JSON path exists, and its string value
// equals want if want is not empty. Paths may use $.a.b or gjson syntax.
func JSONPathEquals(path, want string) Check {
	name := fmt.Sprintf("%s exists", path)
	if want != "" {
		name = fmt.Sprintf("%s is %s", path, want)
	}
	return Check{
		Name: name,
		Fn: func(resp *khttp.Response) bool {
			if resp == nil {
				return false
			}
			field := resp.Field(path)
			if !field.Exists() {
				return false
			}
			return want == "" || field.String() == want
		},
	}
}

// DurationBelow passes when the request completed within max.
func DurationBelow(max time.Duration) Check {
	return Check{
		Name: fmt.Sprintf("duration < %s", max),
		Fn: func(resp *khttp.Response) bool {
			return resp != nil && resp.StatusCode != 0 && resp.Duration() < max
		},
	}
}

// JSONSchema compiles schema once and passes when the body validates
// against it.
func JSONSchema(schema string) (Check, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", strings.NewReader(schema)); err != nil {
		return Check{}, fmt.Errorf("invalid schema: %w", err)
	}
	compiled, err := compiler.Compile("schema.json")
	if err != nil {
		return Check{}, fmt.Errorf("invalid schema: %w", err)
	}
	return Check{
		Name: "body matches schema",
		Fn: func(resp *khttp.Response) bool {
			if resp == nil {
				return false
			}
			var doc interface{}
			if err := json.Unmarshal(resp.Body, &doc); err != nil {
				return false
			}
			return compiled.Validate(doc) == nil
		},
	}, nil
}
