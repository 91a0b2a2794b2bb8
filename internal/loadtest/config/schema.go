// Package config loads and validates k7 test definitions.
package config

import (
	"time"
)

// Executor types.
const (
	ExecutorConstantVUs         = "constant-vus"
	ExecutorRampingVUs          = "ramping-vus"
	ExecutorConstantArrivalRate = "constant-arrival-rate"
	ExecutorRampingArrivalRate  = "ramping-arrival-rate"
)

// TestConfig is the root of a test definition.
//
// Example YAML:
//
//	name: "Backend max RPS"
//	settings:
//	  baseUrl: "http://localhost:3000"
//	setup:
//	  request:
//	    method: POST
//	    url: /auth/login
//	    json: {email: "admin@example.com", password: "secret"}
//	scenarios:
//	  instantLoad:
//	    executor: constant-vus
//	    vus: ${VUS}
//	    duration: ${DURATION}
//	    requests:
//	      - method: GET
//	        url: /content/get-range
//	thresholds:
//	  "http_req_failed{rampUp:false}":
//	    - threshold: rate==0
//	      abortOnFail: true
type TestConfig struct {
	// Name of the test (for reporting)
	Name string `json:"name" yaml:"name"`

	// Description of the test (optional)
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// Settings contains global HTTP settings
	Settings GlobalSettings `json:"settings,omitempty" yaml:"settings,omitempty"`

	// Variables are copied into every VU's variable scope
	Variables map[string]string `json:"variables,omitempty" yaml:"variables,omitempty"`

	// Setup is the optional authentication exchange run before scenarios
	Setup *SetupConfig `json:"setup,omitempty" yaml:"setup,omitempty"`

	// Scenarios defines the load profiles to run, keyed by name
	Scenarios map[string]*ScenarioConfig `json:"scenarios" yaml:"scenarios"`

	// Thresholds maps "metric{tag:value}" keys to pass/fail expressions
	Thresholds Thresholds `json:"thresholds,omitempty" yaml:"thresholds,omitempty"`

	// SummaryTrendStats selects the statistics shown for trend metrics
	SummaryTrendStats []string `json:"summaryTrendStats,omitempty" yaml:"summaryTrendStats,omitempty"`
}

// GlobalSettings contains global HTTP settings.
type GlobalSettings struct {
	// BaseURL is the default base URL for all requests
	BaseURL string `json:"baseUrl,omitempty" yaml:"baseUrl,omitempty"`

	// Timeout is the default HTTP request timeout (default: 60s)
	Timeout Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// MaxConnectionsPerHost limits connections per host
	MaxConnectionsPerHost int `json:"maxConnectionsPerHost,omitempty" yaml:"maxConnectionsPerHost,omitempty"`

	// MaxIdleConnsPerHost limits idle connections per host
	MaxIdleConnsPerHost int `json:"maxIdleConnsPerHost,omitempty" yaml:"maxIdleConnsPerHost,omitempty"`

	// InsecureSkipVerify skips TLS certificate verification
	InsecureSkipVerify bool `json:"insecureSkipVerify,omitempty" yaml:"insecureSkipVerify,omitempty"`

	// UserAgent is the default User-Agent header
	UserAgent string `json:"userAgent,omitempty" yaml:"userAgent,omitempty"`

	// Headers are default headers applied to all requests
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`

	// SlowRequestThreshold logs every request slower than this at warn level
	SlowRequestThreshold Duration `json:"slowRequestThreshold,omitempty" yaml:"slowRequestThreshold,omitempty"`
}

// SetupConfig is a request whose response yields the auth token.
type SetupConfig struct {
	Request RequestConfig `json:"request" yaml:"request"`

	// ExpectStatus is the status the exchange must return (default: 200)
	ExpectStatus int `json:"expectStatus,omitempty" yaml:"expectStatus,omitempty"`

	// TokenPath locates the token in the JSON body (default: accessToken)
	TokenPath string `json:"tokenPath,omitempty" yaml:"tokenPath,omitempty"`

	// PerVU runs the exchange once per VU instead of once per test
	PerVU bool `json:"perVU,omitempty" yaml:"perVU,omitempty"`
}

// ScenarioConfig defines a single load testing scenario.
type ScenarioConfig struct {
	// Executor specifies the load generation strategy
	Executor string `json:"executor" yaml:"executor"`

	// VUs is the number of virtual users (constant-vus). Nil means 1; an
	// explicit 0 runs no VUs.
	VUs *int `json:"vus,omitempty" yaml:"vus,omitempty"`

	// StartVUs is the VU count ramping-vus starts from
	StartVUs int `json:"startVUs,omitempty" yaml:"startVUs,omitempty"`

	// Duration is how long to run (e.g., "30s", "2m", "1h")
	Duration string `json:"duration,omitempty" yaml:"duration,omitempty"`

	// Rate is iterations per TimeUnit (constant-arrival-rate)
	Rate float64 `json:"rate,omitempty" yaml:"rate,omitempty"`

	// StartRate is the rate ramping-arrival-rate starts from
	StartRate float64 `json:"startRate,omitempty" yaml:"startRate,omitempty"`

	// TimeUnit is the period rates refer to (default: 1s)
	TimeUnit string `json:"timeUnit,omitempty" yaml:"timeUnit,omitempty"`

	// PreAllocatedVUs is the number of VUs created up front (arrival-rate)
	PreAllocatedVUs int `json:"preAllocatedVUs,omitempty" yaml:"preAllocatedVUs,omitempty"`

	// MaxVUs is the maximum number of VUs to scale up to (arrival-rate)
	MaxVUs int `json:"maxVUs,omitempty" yaml:"maxVUs,omitempty"`

	// Stages defines ramping stages
	Stages []StageConfig `json:"stages,omitempty" yaml:"stages,omitempty"`

	// StartTime delays the scenario relative to test start
	StartTime string `json:"startTime,omitempty" yaml:"startTime,omitempty"`

	// GracefulStop is how long in-flight iterations may drain (default: 30s)
	GracefulStop string `json:"gracefulStop,omitempty" yaml:"gracefulStop,omitempty"`

	// ThinkTime is the pause at the end of each iteration
	ThinkTime string `json:"thinkTime,omitempty" yaml:"thinkTime,omitempty"`

	// Tags are added to every sample of the scenario
	Tags map[string]string `json:"tags,omitempty" yaml:"tags,omitempty"`

	// Requests are executed in order on every iteration
	Requests []RequestConfig `json:"requests" yaml:"requests"`
}

// StageConfig defines a single stage in a ramping executor.
type StageConfig struct {
	// Duration of this stage (e.g., "30s", "2m")
	Duration string `json:"duration" yaml:"duration"`

	// Target VU count (ramping-vus) or rate (ramping-arrival-rate)
	Target int `json:"target" yaml:"target"`

	// Name is an optional name for this stage (for logging)
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
}

// RequestConfig defines a single HTTP request.
type RequestConfig struct {
	// Name for this request (used in metrics)
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// Method is the HTTP method (GET, POST, PUT, DELETE, etc.)
	Method string `json:"method" yaml:"method"`

	// URL is absolute or relative to settings.baseUrl
	URL string `json:"url" yaml:"url"`

	// Headers are request-specific headers
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`

	// Query parameters are appended to the URL
	Query map[string]string `json:"query,omitempty" yaml:"query,omitempty"`

	// Body is a raw request body
	Body string `json:"body,omitempty" yaml:"body,omitempty"`

	// JSON is encoded as the request body with a JSON content type
	JSON interface{} `json:"json,omitempty" yaml:"json,omitempty"`

	// Timeout is request-specific timeout (overrides global)
	Timeout string `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// Checks are evaluated against the response
	Checks []CheckConfig `json:"checks,omitempty" yaml:"checks,omitempty"`
}

// Check types.
const (
	CheckStatus       = "status"
	CheckHeader       = "header"
	CheckBodyContains = "body-contains"
	CheckJSONPath     = "json-path"
	CheckJSONSchema   = "json-schema"
	CheckDuration     = "duration"
)

// CheckConfig defines one named response predicate.
type CheckConfig struct {
	// Name is reported in the summary (defaults to a generated label)
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// Type is one of status, header, body-contains, json-path, json-schema, duration
	Type string `json:"type" yaml:"type"`

	// Status is the expected status code (status)
	Status int `json:"status,omitempty" yaml:"status,omitempty"`

	// Header is the header name (header)
	Header string `json:"header,omitempty" yaml:"header,omitempty"`

	// Path is a gjson or JSONPath expression (json-path)
	Path string `json:"path,omitempty" yaml:"path,omitempty"`

	// Equals is the expected value; empty means the header or path must exist
	Equals string `json:"equals,omitempty" yaml:"equals,omitempty"`

	// Contains is the expected substring (body-contains)
	Contains string `json:"contains,omitempty" yaml:"contains,omitempty"`

	// Schema is an inline JSON schema (json-schema)
	Schema string `json:"schema,omitempty" yaml:"schema,omitempty"`

	// Max is the maximum allowed duration (duration)
	Max string `json:"max,omitempty" yaml:"max,omitempty"`
}

// Duration is a time.Duration that can be unmarshaled from JSON/YAML strings.
type Duration time.Duration

// GetDuration returns the duration or a default if empty.
func (d Duration) GetDuration(defaultValue time.Duration) time.Duration {
	if d == 0 {
		return defaultValue
	}
	return time.Duration(d)
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Duration(d).String() + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	if s == "null" {
		s = ""
	}
	dur, err := ParseDurationString(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	dur, err := ParseDurationString(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// String returns the duration as a string.
func (d Duration) String() string {
	return time.Duration(d).String()
}

// VUCount returns the configured constant VU count, 1 when unset.
func (sc *ScenarioConfig) VUCount() int {
	if sc.VUs == nil {
		return 1
	}
	return *sc.VUs
}
