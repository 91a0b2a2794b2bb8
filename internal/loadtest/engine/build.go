package engine

import (
	"fmt"
	"sort"
	"time"

	"github.com/wesleyorama2/k7/internal/loadtest"
	"github.com/wesleyorama2/k7/internal/loadtest/config"
	"github.com/wesleyorama2/k7/internal/loadtest/executor"
	"github.com/wesleyorama2/k7/internal/loadtest/metrics"
	"github.com/wesleyorama2/k7/internal/loadtest/scheduler"
)

// BuildSpecs converts the scenarios of a validated config into scheduler
// specs, in scenario name order.
func BuildSpecs(cfg *config.TestConfig) ([]scheduler.ScenarioSpec, error) {
	names := make([]string, 0, len(cfg.Scenarios))
	for name := range cfg.Scenarios {
		names = append(names, name)
	}
	sort.Strings(names)

	specs := make([]scheduler.ScenarioSpec, 0, len(names))
	for _, name := range names {
		sc := cfg.Scenarios[name]
		execCfg, err := executorConfig(name, sc)
		if err != nil {
			return nil, fmt.Errorf("scenario %s: %w", name, err)
		}
		start, err := config.ParseDurationString(sc.StartTime)
		if err != nil {
			return nil, fmt.Errorf("scenario %s: startTime: %w", name, err)
		}
		think, err := config.ParseDurationString(sc.ThinkTime)
		if err != nil {
			return nil, fmt.Errorf("scenario %s: thinkTime: %w", name, err)
		}
		requests := make([]*loadtest.RequestSpec, 0, len(sc.Requests))
		for i := range sc.Requests {
			spec, err := requestSpec(&sc.Requests[i])
			if err != nil {
				return nil, fmt.Errorf("scenario %s: requests[%d]: %w", name, i, err)
			}
			requests = append(requests, spec)
		}

		specs = append(specs, scheduler.ScenarioSpec{
			Scenario: &loadtest.Scenario{
				Name:      name,
				Tags:      metrics.Tags(sc.Tags).Clone(),
				Variables: cfg.Variables,
				Requests:  requests,
				ThinkTime: think,
			},
			Executor:  execCfg,
			StartTime: start,
		})
	}
	return specs, nil
}

func executorConfig(name string, sc *config.ScenarioConfig) (*executor.Config, error) {
	cfg := &executor.Config{
		Name:            name,
		Type:            executor.Type(sc.Executor),
		VUs:             sc.VUCount(),
		StartVUs:        sc.StartVUs,
		Rate:            sc.Rate,
		StartRate:       sc.StartRate,
		PreAllocatedVUs: sc.PreAllocatedVUs,
		MaxVUs:          sc.MaxVUs,
	}
	if cfg.Type == executor.TypeConstantArrivalRate {
		cfg.StartRate = sc.Rate
	}

	var err error
	if cfg.Duration, err = config.ParseDurationString(sc.Duration); err != nil {
		return nil, fmt.Errorf("duration: %w", err)
	}
	if cfg.TimeUnit, err = config.ParseDurationString(sc.TimeUnit); err != nil {
		return nil, fmt.Errorf("timeUnit: %w", err)
	}
	if cfg.GracefulStop, err = config.ParseDurationString(sc.GracefulStop); err != nil {
		return nil, fmt.Errorf("gracefulStop: %w", err)
	}
	for i, st := range sc.Stages {
		d, err := config.ParseDurationString(st.Duration)
		if err != nil {
			return nil, fmt.Errorf("stages[%d].duration: %w", i, err)
		}
		cfg.Stages = append(cfg.Stages, executor.Stage{Duration: d, Target: st.Target, Name: st.Name})
	}
	return cfg, nil
}

func requestSpec(rc *config.RequestConfig) (*loadtest.RequestSpec, error) {
	timeout, err := config.ParseDurationString(rc.Timeout)
	if err != nil {
		return nil, fmt.Errorf("timeout: %w", err)
	}
	spec := &loadtest.RequestSpec{
		Name:    rc.Name,
		Method:  rc.Method,
		URL:     rc.URL,
		Headers: rc.Headers,
		Query:   rc.Query,
		Body:    rc.Body,
		JSON:    jsonCompatible(rc.JSON),
		Timeout: timeout,
	}
	for i := range rc.Checks {
		check, err := buildCheck(&rc.Checks[i])
		if err != nil {
			return nil, fmt.Errorf("checks[%d]: %w", i, err)
		}
		spec.Checks = append(spec.Checks, check)
	}
	return spec, nil
}

func buildCheck(cc *config.CheckConfig) (loadtest.Check, error) {
	var check loadtest.Check
	switch cc.Type {
	case config.CheckStatus:
		check = loadtest.StatusIs(cc.Status)
	case config.CheckHeader:
		check = loadtest.HeaderEquals(cc.Header, cc.Equals)
	case config.CheckBodyContains:
		check = loadtest.BodyContains(cc.Contains)
	case config.CheckJSONPath:
		check = loadtest.JSONPathEquals(cc.Path, cc.Equals)
	case config.CheckJSONSchema:
		var err error
		if check, err = loadtest.JSONSchema(cc.Schema); err != nil {
			return loadtest.Check{}, err
		}
	case config.CheckDuration:
		max, err := config.ParseDurationString(cc.Max)
		if err != nil {
			return loadtest.Check{}, err
		}
		check = loadtest.DurationBelow(max)
	default:
		return loadtest.Check{}, fmt.Errorf("unknown check type %q", cc.Type)
	}
	return check.Named(cc.Name), nil
}

// setupFrom converts the setup block.
func setupFrom(sc *config.SetupConfig) (*loadtest.Setup, error) {
	req, err := requestSpec(&sc.Request)
	if err != nil {
		return nil, fmt.Errorf("setup: %w", err)
	}
	if req.Name == "" {
		req.Name = "setup"
	}
	return &loadtest.Setup{
		Request:      req,
		ExpectStatus: sc.ExpectStatus,
		TokenPath:    sc.TokenPath,
		PerVU:        sc.PerVU,
	}, nil
}

// jsonCompatible converts map[interface{}]interface{} values, which some
// YAML decoders produce, into types encoding/json accepts.
func jsonCompatible(v interface{}) interface{} {
	switch t := v.(type) {
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = jsonCompatible(val)
		}
		return out
	case map[string]interface{}:
		for k, val := range t {
			t[k] = jsonCompatible(val)
		}
		return t
	case []interface{}:
		for i, val := range t {
			t[i] = jsonCompatible(val)
		}
		return t
	default:
		return v
	}
}

func durationOr(d config.Duration, def time.Duration) time.Duration {
	return d.GetDuration(def)
}
