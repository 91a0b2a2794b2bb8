package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/wesleyorama2/k7/internal/loadtest/metrics"
)

// Defaults applied by ApplyDefaults.
const (
	DefaultTimeout      = 60 * time.Second
	DefaultGracefulStop = 30 * time.Second
	DefaultTimeUnit     = time.Second
	DefaultExpectStatus = 200
	DefaultTokenPath    = "accessToken"
	DefaultUserAgent    = "k7/1.0"

	// MaxArrivalRateVUs caps the derived maxVUs of arrival-rate scenarios.
	MaxArrivalRateVUs = 10000
)

// LoadConfig reads a test definition, expands params into it and applies
// defaults.
//
// The file format is determined by extension:
//   - .yaml, .yml -> YAML
//   - .json -> JSON
func LoadConfig(path string, params Params) (*TestConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := ParseConfig([]byte(params.Expand(string(data))), path)
	if err != nil {
		return nil, err
	}
	if cfg.Name == "" {
		cfg.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	ApplyDefaults(cfg)
	return cfg, nil
}

// ParseConfig parses configuration data.
//
// The format is determined by the file extension in path, or defaults to YAML
// if the path is empty or has an unknown extension.
func ParseConfig(data []byte, path string) (*TestConfig, error) {
	var config TestConfig

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".json":
		if err := json.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	}

	return &config, nil
}

// ParseDurationString parses a duration string with support for common formats.
//
// Supported formats:
//   - Standard Go duration: "30s", "2m", "1h30m", "500ms"
//   - Seconds as integer: "30" (treated as 30 seconds)
func ParseDurationString(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}

	d, err := time.ParseDuration(s)
	if err == nil {
		return d, nil
	}

	var seconds int
	var rest string
	if n, _ := fmt.Sscanf(s, "%d%s", &seconds, &rest); n == 1 {
		return time.Duration(seconds) * time.Second, nil
	}

	return 0, fmt.Errorf("invalid duration format: %s", s)
}

// ScenarioDuration returns the run time of a scenario excluding startTime
// and gracefulStop: the sum of its stages, or its duration.
func ScenarioDuration(sc *ScenarioConfig) (time.Duration, error) {
	if len(sc.Stages) > 0 && (sc.Executor == ExecutorRampingVUs || sc.Executor == ExecutorRampingArrivalRate) {
		var total time.Duration
		for _, stage := range sc.Stages {
			d, err := ParseDurationString(stage.Duration)
			if err != nil {
				return 0, fmt.Errorf("invalid stage duration: %w", err)
			}
			total += d
		}
		return total, nil
	}
	if sc.Duration != "" {
		return ParseDurationString(sc.Duration)
	}
	return 0, fmt.Errorf("no duration specified and no stages defined")
}

// ApplyDefaults applies default values to a TestConfig.
func ApplyDefaults(config *TestConfig) {
	if config.Settings.Timeout == 0 {
		config.Settings.Timeout = Duration(DefaultTimeout)
	}
	if config.Settings.MaxIdleConnsPerHost == 0 {
		config.Settings.MaxIdleConnsPerHost = 100
	}
	if config.Settings.UserAgent == "" {
		config.Settings.UserAgent = DefaultUserAgent
	}
	if len(config.SummaryTrendStats) == 0 {
		config.SummaryTrendStats = append([]string(nil), metrics.DefaultTrendStats...)
	}

	if s := config.Setup; s != nil {
		if s.ExpectStatus == 0 {
			s.ExpectStatus = DefaultExpectStatus
		}
		if s.TokenPath == "" {
			s.TokenPath = DefaultTokenPath
		}
	}

	for _, sc := range config.Scenarios {
		if sc != nil {
			applyScenarioDefaults(sc)
		}
	}
}

// applyScenarioDefaults applies default values to a scenario.
func applyScenarioDefaults(sc *ScenarioConfig) {
	if sc.Executor == "" {
		sc.Executor = ExecutorConstantVUs
	}
	if sc.GracefulStop == "" {
		sc.GracefulStop = DefaultGracefulStop.String()
	}

	switch sc.Executor {
	case ExecutorConstantVUs:
		if sc.VUs == nil {
			vus := 1
			sc.VUs = &vus
		}
	case ExecutorConstantArrivalRate, ExecutorRampingArrivalRate:
		if sc.TimeUnit == "" {
			sc.TimeUnit = DefaultTimeUnit.String()
		}
		if sc.PreAllocatedVUs == 0 {
			sc.PreAllocatedVUs = 1
		}
		if sc.MaxVUs == 0 {
			sc.MaxVUs = derivedMaxVUs(sc)
		}
	}
}

// derivedMaxVUs allows one VU per iteration of the peak rate, bounded by
// MaxArrivalRateVUs and never below preAllocatedVUs.
func derivedMaxVUs(sc *ScenarioConfig) int {
	peak := sc.Rate
	if sc.StartRate > peak {
		peak = sc.StartRate
	}
	for _, st := range sc.Stages {
		if float64(st.Target) > peak {
			peak = float64(st.Target)
		}
	}
	n := int(math.Ceil(peak))
	if n > MaxArrivalRateVUs {
		n = MaxArrivalRateVUs
	}
	if n < sc.PreAllocatedVUs {
		n = sc.PreAllocatedVUs
	}
	return n
}
