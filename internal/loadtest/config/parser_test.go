package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDurationString(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected time.Duration
		wantErr  bool
	}{
		{name: "standard seconds", input: "30s", expected: 30 * time.Second},
		{name: "standard minutes", input: "2m", expected: 2 * time.Minute},
		{name: "milliseconds", input: "500ms", expected: 500 * time.Millisecond},
		{name: "combined duration", input: "1h30m", expected: 90 * time.Minute},
		{name: "integer as seconds", input: "30", expected: 30 * time.Second},
		{name: "empty string", input: "", expected: 0},
		{name: "invalid format", input: "abc", wantErr: true},
		{name: "trailing garbage", input: "30x", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDurationString(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Errorf("ParseDurationString(%q) expected error", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseDurationString(%q) unexpected error: %v", tt.input, err)
			}
			if got != tt.expected {
				t.Errorf("ParseDurationString(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestParams(t *testing.T) {
	p := NewParams(nil)
	v, _ := p.Get(ParamVUs)
	assert.Equal(t, "450", v)
	v, _ = p.Get(ParamRampUp)
	assert.Equal(t, "5s", v)
	v, _ = p.Get(ParamDuration)
	assert.Equal(t, "60s", v)

	p, err := ParseParams([]string{"VUS=300", "BASE_URL=http://api.test:8080", "EMPTY="})
	require.NoError(t, err)
	assert.Equal(t, "vus: 300 ramp: 5s", p.Expand("vus: ${VUS} ramp: ${RAMPUP}"))
	assert.Equal(t, "http://api.test:8080/x", p.Expand("${BASE_URL:-http://localhost}/x"))
	assert.Equal(t, "", p.Expand("${EMPTY}"))
	assert.Equal(t, "fallback", p.Expand("${MISSING:-fallback}"))
	assert.Equal(t, "Bearer ${authToken}", p.Expand("Bearer ${authToken}"))

	q := p.With(ParamVUs, "10")
	v, _ = q.Get(ParamVUs)
	assert.Equal(t, "10", v)
	v, _ = p.Get(ParamVUs)
	assert.Equal(t, "300", v, "With must not mutate the receiver")

	_, err = ParseParams([]string{"NOEQUALS"})
	assert.Error(t, err)
}

func TestLoadConfig_BackendMaxRPS(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join("..", "..", "..", "examples", "backend-maxrps.yaml"), NewParams(nil))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "backend-max-rps", cfg.Name)
	assert.Equal(t, "http://localhost:3000", cfg.Settings.BaseURL)
	assert.Equal(t, 60*time.Second, time.Duration(cfg.Settings.Timeout))
	assert.Equal(t, 950*time.Millisecond, time.Duration(cfg.Settings.SlowRequestThreshold))

	require.NotNil(t, cfg.Setup)
	assert.Equal(t, 200, cfg.Setup.ExpectStatus)
	assert.Equal(t, "accessToken", cfg.Setup.TokenPath)

	ramp := cfg.Scenarios["rampUp"]
	require.NotNil(t, ramp)
	assert.Equal(t, ExecutorRampingVUs, ramp.Executor)
	require.Len(t, ramp.Stages, 1)
	assert.Equal(t, 450, ramp.Stages[0].Target)
	assert.Equal(t, "5s", ramp.Stages[0].Duration)
	assert.Equal(t, "true", ramp.Tags["rampUp"])

	steady := cfg.Scenarios["instantLoad"]
	require.NotNil(t, steady)
	assert.Equal(t, 450, steady.VUCount())
	assert.Equal(t, "60s", steady.Duration)
	assert.Equal(t, "5s", steady.StartTime)
	require.Len(t, steady.Requests, 2)
	assert.Equal(t, "Bearer ${authToken}", steady.Requests[0].Headers["Authorization"])
	assert.Equal(t, 201, steady.Requests[0].Checks[0].Status)

	defs, err := cfg.Thresholds.Definitions()
	require.NoError(t, err)
	require.Len(t, defs, 2)
	assert.Equal(t, "http_req_duration{rampUp:false}", defs[0].Key)
	assert.Equal(t, "p(95)<1000", defs[0].Expression)
	assert.True(t, defs[0].AbortOnFail)
	assert.Equal(t, "http_req_failed{rampUp:false}", defs[1].Key)

	assert.Equal(t, []string{"avg", "min", "med", "max", "p(90)", "p(95)"}, cfg.SummaryTrendStats)
}

func TestLoadConfig_ParamsOverride(t *testing.T) {
	params, err := ParseParams([]string{"VUS=20", "RAMPUP=2s", "DURATION=10s"})
	require.NoError(t, err)

	cfg, err := LoadConfig(filepath.Join("..", "..", "..", "examples", "frontend-maxrps.yaml"), params)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 20, cfg.Scenarios["rampUp"].Stages[0].Target)
	assert.Equal(t, 20, cfg.Scenarios["instantLoad"].VUCount())
	assert.Equal(t, "2s", cfg.Scenarios["instantLoad"].StartTime)
	assert.Equal(t, "10s", cfg.Scenarios["instantLoad"].Duration)
	assert.Len(t, cfg.Scenarios["instantLoad"].Requests, 3)
}

func TestLoadConfig_Breakpoint(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join("..", "..", "..", "examples", "backend-breakpoint.yaml"), NewParams(nil))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	sc := cfg.Scenarios["breakpoint"]
	assert.Equal(t, ExecutorRampingArrivalRate, sc.Executor)
	assert.Equal(t, 50, sc.PreAllocatedVUs)
	assert.Equal(t, 1200, sc.MaxVUs)
	assert.Equal(t, "1s", sc.TimeUnit)

	d, err := ScenarioDuration(sc)
	require.NoError(t, err)
	assert.Equal(t, time.Minute, d)
}

func TestParseConfig_JSONThresholdForms(t *testing.T) {
	data := []byte(`{
		"name": "json",
		"scenarios": {
			"s": {"executor": "constant-vus", "vus": 2, "duration": "1s",
			      "requests": [{"method": "GET", "url": "http://x.test/"}]}
		},
		"thresholds": {
			"http_req_duration": ["p(95)<500", {"threshold": "avg<200", "abortOnFail": true, "delayAbortEval": "10s"}]
		}
	}`)

	cfg, err := ParseConfig(data, "test.json")
	require.NoError(t, err)
	ApplyDefaults(cfg)
	require.NoError(t, cfg.Validate())

	specs := cfg.Thresholds["http_req_duration"]
	require.Len(t, specs, 2)
	assert.Equal(t, ThresholdSpec{Threshold: "p(95)<500"}, specs[0])
	assert.Equal(t, ThresholdSpec{Threshold: "avg<200", AbortOnFail: true, DelayAbortEval: "10s"}, specs[1])

	defs, err := cfg.Thresholds.Definitions()
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, defs[1].DelayAbortEval)
}

func TestApplyDefaults_ArrivalRate(t *testing.T) {
	cfg := &TestConfig{Scenarios: map[string]*ScenarioConfig{
		"a": {Executor: ExecutorRampingArrivalRate, Stages: []StageConfig{{Duration: "1m", Target: 600}}},
		"b": {Executor: ExecutorConstantArrivalRate, Rate: 1e6, Duration: "1s"},
	}}
	ApplyDefaults(cfg)

	assert.Equal(t, 1, cfg.Scenarios["a"].PreAllocatedVUs)
	assert.Equal(t, 600, cfg.Scenarios["a"].MaxVUs)
	assert.Equal(t, "1s", cfg.Scenarios["a"].TimeUnit)
	assert.Equal(t, "30s", cfg.Scenarios["a"].GracefulStop)
	assert.Equal(t, MaxArrivalRateVUs, cfg.Scenarios["b"].MaxVUs)
}

func TestApplyDefaults_ConstantVUs(t *testing.T) {
	doc := `
name: vus
scenarios:
  explicit:
    executor: constant-vus
    vus: ${VUS}
    duration: 1s
    requests: [{method: GET, url: "http://x.test/"}]
  unset:
    executor: constant-vus
    duration: 1s
    requests: [{method: GET, url: "http://x.test/"}]
`
	path := filepath.Join(t.TempDir(), "vus.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	cfg, err := LoadConfig(path, NewParams(map[string]string{"VUS": "0"}))
	require.NoError(t, err)
	ApplyDefaults(cfg)
	require.NoError(t, cfg.Validate())

	require.NotNil(t, cfg.Scenarios["explicit"].VUs)
	assert.Equal(t, 0, cfg.Scenarios["explicit"].VUCount())
	assert.Equal(t, 1, cfg.Scenarios["unset"].VUCount())
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"), NewParams(nil))
	assert.Error(t, err)
}

func TestLoadConfig_NameFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "smoke.yml")
	require.NoError(t, os.WriteFile(path, []byte(`
scenarios:
  s:
    executor: constant-vus
    vus: 1
    duration: 1s
    requests:
      - method: GET
        url: http://localhost/
`), 0o644))

	cfg, err := LoadConfig(path, NewParams(nil))
	require.NoError(t, err)
	assert.Equal(t, "smoke", cfg.Name)
}
