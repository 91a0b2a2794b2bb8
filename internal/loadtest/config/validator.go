package config

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/wesleyorama2/k7/internal/loadtest/threshold"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors struct {
	Errors []*ValidationError
}

func (e *ValidationErrors) Error() string {
	if len(e.Errors) == 0 {
		return "no validation errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e.Errors)))
	for i, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// Add adds an error to the collection.
func (e *ValidationErrors) Add(field, message string) {
	e.Errors = append(e.Errors, &ValidationError{Field: field, Message: message})
}

// HasErrors returns true if there are any errors.
func (e *ValidationErrors) HasErrors() bool {
	return len(e.Errors) > 0
}

var validExecutors = map[string]bool{
	ExecutorConstantVUs:         true,
	ExecutorRampingVUs:          true,
	ExecutorConstantArrivalRate: true,
	ExecutorRampingArrivalRate:  true,
}

// Validate validates the entire test configuration.
//
// Returns nil if valid, or a *ValidationErrors containing every problem.
func (c *TestConfig) Validate() error {
	errs := &ValidationErrors{}

	if len(c.Scenarios) == 0 {
		errs.Add("scenarios", "at least one scenario is required")
	}

	names := make([]string, 0, len(c.Scenarios))
	for name := range c.Scenarios {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		sc := c.Scenarios[name]
		if sc == nil {
			errs.Add("scenarios."+name, "scenario is empty")
			continue
		}
		validateScenario(name, sc, errs)
	}
	validateStartTimes(c.Scenarios, names, errs)

	if c.Setup != nil {
		validateRequest("setup.request", &c.Setup.Request, errs)
		if c.Setup.ExpectStatus < 0 || c.Setup.ExpectStatus > 599 {
			errs.Add("setup.expectStatus", fmt.Sprintf("invalid status code: %d", c.Setup.ExpectStatus))
		}
	}

	validateThresholds(c.Thresholds, errs)

	if c.Settings.BaseURL != "" {
		if u, err := url.Parse(c.Settings.BaseURL); err != nil || !u.IsAbs() {
			errs.Add("settings.baseUrl", fmt.Sprintf("invalid base URL: %s", c.Settings.BaseURL))
		}
	}
	if c.Settings.Timeout < 0 {
		errs.Add("settings.timeout", "timeout cannot be negative")
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

// validateScenario validates a single scenario configuration.
func validateScenario(name string, sc *ScenarioConfig, errs *ValidationErrors) {
	prefix := fmt.Sprintf("scenarios.%s", name)

	if sc.Executor == "" {
		errs.Add(prefix+".executor", "executor type is required")
	} else if !validExecutors[sc.Executor] {
		errs.Add(prefix+".executor", fmt.Sprintf("unknown executor type: %s", sc.Executor))
	}

	switch sc.Executor {
	case ExecutorConstantVUs:
		if sc.VUCount() < 0 {
			errs.Add(prefix+".vus", "vus cannot be negative")
		}
		validateRequiredDuration(prefix+".duration", sc.Duration, errs)
	case ExecutorRampingVUs:
		if len(sc.Stages) == 0 {
			errs.Add(prefix+".stages", "at least one stage is required for ramping-vus executor")
		}
		if sc.StartVUs < 0 {
			errs.Add(prefix+".startVUs", "startVUs cannot be negative")
		}
	case ExecutorConstantArrivalRate:
		if sc.Rate <= 0 {
			errs.Add(prefix+".rate", "rate must be greater than 0")
		}
		validateRequiredDuration(prefix+".duration", sc.Duration, errs)
		validateArrivalRateVUs(prefix, sc, errs)
	case ExecutorRampingArrivalRate:
		if len(sc.Stages) == 0 {
			errs.Add(prefix+".stages", "at least one stage is required for ramping-arrival-rate executor")
		}
		if sc.StartRate < 0 {
			errs.Add(prefix+".startRate", "startRate cannot be negative")
		}
		validateArrivalRateVUs(prefix, sc, errs)
	}

	for i, stage := range sc.Stages {
		validateStage(fmt.Sprintf("%s.stages[%d]", prefix, i), &stage, errs)
	}

	validateOptionalDuration(prefix+".startTime", sc.StartTime, errs)
	validateOptionalDuration(prefix+".gracefulStop", sc.GracefulStop, errs)
	validateOptionalDuration(prefix+".thinkTime", sc.ThinkTime, errs)
	if sc.TimeUnit != "" {
		if d, err := ParseDurationString(sc.TimeUnit); err != nil || d <= 0 {
			errs.Add(prefix+".timeUnit", fmt.Sprintf("invalid timeUnit: %s", sc.TimeUnit))
		}
	}

	if len(sc.Requests) == 0 {
		errs.Add(prefix+".requests", "at least one request is required")
	}
	for i, req := range sc.Requests {
		validateRequest(fmt.Sprintf("%s.requests[%d]", prefix, i), &req, errs)
	}
}

func validateArrivalRateVUs(prefix string, sc *ScenarioConfig, errs *ValidationErrors) {
	if sc.PreAllocatedVUs < 0 {
		errs.Add(prefix+".preAllocatedVUs", "preAllocatedVUs cannot be negative")
	}
	if sc.MaxVUs < 0 {
		errs.Add(prefix+".maxVUs", "maxVUs cannot be negative")
	}
	if sc.MaxVUs > 0 && sc.PreAllocatedVUs > sc.MaxVUs {
		errs.Add(prefix+".preAllocatedVUs", "preAllocatedVUs cannot be greater than maxVUs")
	}
}

func validateRequiredDuration(field, value string, errs *ValidationErrors) {
	if value == "" {
		errs.Add(field, "duration is required")
		return
	}
	d, err := ParseDurationString(value)
	if err != nil {
		errs.Add(field, fmt.Sprintf("invalid duration: %v", err))
	} else if d <= 0 {
		errs.Add(field, "duration must be greater than 0")
	}
}

func validateOptionalDuration(field, value string, errs *ValidationErrors) {
	if value == "" {
		return
	}
	d, err := ParseDurationString(value)
	if err != nil {
		errs.Add(field, fmt.Sprintf("invalid duration: %v", err))
	} else if d < 0 {
		errs.Add(field, "duration cannot be negative")
	}
}

// validateStage validates a single stage configuration.
func validateStage(prefix string, stage *StageConfig, errs *ValidationErrors) {
	if stage.Duration == "" {
		errs.Add(prefix+".duration", "duration is required")
	} else if d, err := ParseDurationString(stage.Duration); err != nil {
		errs.Add(prefix+".duration", fmt.Sprintf("invalid duration: %v", err))
	} else if d < 0 {
		errs.Add(prefix+".duration", "duration cannot be negative")
	}

	if stage.Target < 0 {
		errs.Add(prefix+".target", "target cannot be negative")
	}
}

// validateStartTimes rejects a startTime later than the end of every other
// scenario, which would leave the test idle before the scenario begins.
func validateStartTimes(scenarios map[string]*ScenarioConfig, names []string, errs *ValidationErrors) {
	if len(names) < 2 {
		return
	}
	ends := make(map[string]time.Duration, len(names))
	for _, name := range names {
		sc := scenarios[name]
		if sc == nil {
			continue
		}
		start, err1 := ParseDurationString(sc.StartTime)
		d, err2 := ScenarioDuration(sc)
		if err1 != nil || err2 != nil {
			return
		}
		ends[name] = start + d
	}

	for _, name := range names {
		sc := scenarios[name]
		if sc == nil || sc.StartTime == "" {
			continue
		}
		start, _ := ParseDurationString(sc.StartTime)
		var latest time.Duration
		for other, end := range ends {
			if other != name && end > latest {
				latest = end
			}
		}
		if start > latest {
			errs.Add(fmt.Sprintf("scenarios.%s.startTime", name),
				fmt.Sprintf("startTime %s is after every other scenario has ended (%s)", start, latest))
		}
	}
}

var validMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "DELETE": true,
	"PATCH": true, "HEAD": true, "OPTIONS": true,
}

var validCheckTypes = map[string]bool{
	CheckStatus: true, CheckHeader: true, CheckBodyContains: true,
	CheckJSONPath: true, CheckJSONSchema: true, CheckDuration: true,
}

// validateRequest validates a single request configuration.
func validateRequest(prefix string, req *RequestConfig, errs *ValidationErrors) {
	method := strings.ToUpper(req.Method)
	if method == "" {
		errs.Add(prefix+".method", "method is required")
	} else if !validMethods[method] {
		errs.Add(prefix+".method", fmt.Sprintf("invalid HTTP method: %s", req.Method))
	}

	if req.URL == "" {
		errs.Add(prefix+".url", "url is required")
	} else if _, err := url.Parse(placeholder.ReplaceAllString(stripTemplates(req.URL), "placeholder")); err != nil {
		errs.Add(prefix+".url", fmt.Sprintf("invalid URL: %v", err))
	}

	if req.Body != "" && req.JSON != nil {
		errs.Add(prefix+".body", "body and json are mutually exclusive")
	}

	validateOptionalDuration(prefix+".timeout", req.Timeout, errs)

	for i, check := range req.Checks {
		validateCheck(fmt.Sprintf("%s.checks[%d]", prefix, i), &check, errs)
	}
}

// stripTemplates replaces {{var}} placeholders so the URL can be parsed.
func stripTemplates(s string) string {
	for {
		start := strings.Index(s, "{{")
		end := strings.Index(s, "}}")
		if start < 0 || end < start {
			return s
		}
		s = s[:start] + "placeholder" + s[end+2:]
	}
}

func validateCheck(prefix string, check *CheckConfig, errs *ValidationErrors) {
	if check.Type == "" {
		errs.Add(prefix+".type", "type is required")
		return
	}
	if !validCheckTypes[check.Type] {
		errs.Add(prefix+".type", fmt.Sprintf("invalid check type: %s", check.Type))
		return
	}

	switch check.Type {
	case CheckStatus:
		if check.Status < 100 || check.Status > 599 {
			errs.Add(prefix+".status", fmt.Sprintf("invalid status code: %d", check.Status))
		}
	case CheckHeader:
		if check.Header == "" {
			errs.Add(prefix+".header", "header is required")
		}
	case CheckBodyContains:
		if check.Contains == "" {
			errs.Add(prefix+".contains", "contains is required")
		}
	case CheckJSONPath:
		if check.Path == "" {
			errs.Add(prefix+".path", "path is required")
		}
	case CheckJSONSchema:
		if check.Schema == "" {
			errs.Add(prefix+".schema", "schema is required")
		}
	case CheckDuration:
		if d, err := ParseDurationString(check.Max); err != nil || d <= 0 {
			errs.Add(prefix+".max", fmt.Sprintf("invalid max duration: %q", check.Max))
		}
	}
}

// validateThresholds parses every threshold so syntax errors surface
// before the run starts.
func validateThresholds(t Thresholds, errs *ValidationErrors) {
	keys := make([]string, 0, len(t))
	for k := range t {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		for i, spec := range t[key] {
			field := fmt.Sprintf("thresholds.%s[%d]", key, i)
			delay, err := ParseDurationString(spec.DelayAbortEval)
			if err != nil {
				errs.Add(field+".delayAbortEval", err.Error())
				continue
			}
			_, err = threshold.New(threshold.Definition{
				Key:            key,
				Expression:     spec.Threshold,
				AbortOnFail:    spec.AbortOnFail,
				DelayAbortEval: delay,
			})
			var defErr *threshold.DefinitionError
			if errors.As(err, &defErr) {
				errs.Add(field, defErr.Reason)
			} else if err != nil {
				errs.Add(field, err.Error())
			}
		}
	}
}
