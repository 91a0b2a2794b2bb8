package breakpoint

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/k7/internal/loadtest"
	"github.com/wesleyorama2/k7/internal/loadtest/config"
)

// capacity returns a runner that passes up to limit VUs and records every
// load it was asked to run. Failures listed in flaky are injected once per
// VU count.
func capacity(limit int, flaky ...int) (Runner, *[]int) {
	var calls []int
	pending := map[int]bool{}
	for _, v := range flaky {
		pending[v] = true
	}
	return func(ctx context.Context, vus int) (bool, error) {
		calls = append(calls, vus)
		if pending[vus] {
			delete(pending, vus)
			return false, nil
		}
		return vus <= limit, nil
	}, &calls
}

func TestSearch_Sequences(t *testing.T) {
	tests := []struct {
		name   string
		cfg    Config
		limit  int
		flaky  []int
		maxVUs int
		calls  []int
	}{
		{
			name:   "validates half an increment below the failing level",
			cfg:    Config{InitialVUs: 100, Increment: 100, ValidationRuns: 2, FailsAllowed: 1},
			limit:  350,
			maxVUs: 350,
			calls:  []int{100, 200, 300, 400, 400, 350, 350},
		},
		{
			name:   "reduces again when validation fails",
			cfg:    Config{InitialVUs: 100, Increment: 100, ValidationRuns: 2, FailsAllowed: 1},
			limit:  320,
			maxVUs: 300,
			calls:  []int{100, 200, 300, 400, 400, 350, 350, 300, 300},
		},
		{
			name:   "a single failure is retried at the same load",
			cfg:    Config{InitialVUs: 10, Increment: 10, ValidationRuns: 1, FailsAllowed: 1},
			limit:  25,
			flaky:  []int{20},
			maxVUs: 25,
			calls:  []int{10, 20, 20, 30, 30, 25},
		},
		{
			name:   "validation retries within the fail budget",
			cfg:    Config{InitialVUs: 10, Increment: 10, ValidationRuns: 2, FailsAllowed: 1},
			limit:  25,
			flaky:  []int{25},
			maxVUs: 25,
			calls:  []int{10, 20, 30, 30, 25, 25, 25},
		},
		{
			name:   "no fails allowed",
			cfg:    Config{InitialVUs: 4, Increment: 4, ValidationRuns: 1, FailsAllowed: 0},
			limit:  9,
			maxVUs: 8,
			calls:  []int{4, 8, 12, 10, 8},
		},
		{
			name:   "zero validation runs accepts the reduced level",
			cfg:    Config{InitialVUs: 10, Increment: 10, ValidationRuns: 0, FailsAllowed: 0},
			limit:  10,
			maxVUs: 15,
			calls:  []int{10, 20},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner, calls := capacity(tt.limit, tt.flaky...)
			s, err := New(tt.cfg, runner)
			require.NoError(t, err)

			result, err := s.Search(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.maxVUs, result.MaxVUs)
			assert.Equal(t, tt.calls, *calls)
			assert.Len(t, result.Runs, len(tt.calls))
		})
	}
}

func TestSearch_ReachesZero(t *testing.T) {
	runner, calls := capacity(0)
	var phases []Phase
	s, err := New(Config{InitialVUs: 100, Increment: 100, ValidationRuns: 1}, runner,
		WithRunFunc(func(r Run) { phases = append(phases, r.Phase) }))
	require.NoError(t, err)

	result, err := s.Search(context.Background())
	assert.ErrorIs(t, err, ErrNoStableLoad)
	assert.Equal(t, 0, result.MaxVUs)
	assert.Equal(t, []int{100, 50}, *calls)
	assert.Equal(t, []Phase{PhaseIncreasing, PhaseValidating}, phases)
}

func TestSearch_RunnerErrorStops(t *testing.T) {
	boom := &loadtest.SetupError{Status: 500, Reason: "unexpected status"}
	n := 0
	s, err := New(Config{InitialVUs: 1, Increment: 1}, func(ctx context.Context, vus int) (bool, error) {
		n++
		if vus == 3 {
			return false, boom
		}
		return true, nil
	})
	require.NoError(t, err)

	_, err = s.Search(context.Background())
	var setupErr *loadtest.SetupError
	assert.ErrorAs(t, err, &setupErr)
	assert.Equal(t, 3, n)
}

func TestSearch_DelayHonorsContext(t *testing.T) {
	runner, calls := capacity(1000)
	s, err := New(Config{InitialVUs: 1, Increment: 1, Delay: time.Hour}, runner)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = s.Search(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Equal(t, []int{1}, *calls)
}

func TestConfig_Validate(t *testing.T) {
	runner, _ := capacity(1)
	tests := []Config{
		{InitialVUs: 0, Increment: 1},
		{InitialVUs: 1, Increment: 0},
		{InitialVUs: 1, Increment: 1, ValidationRuns: -1},
		{InitialVUs: 1, Increment: 1, Delay: -time.Second},
		{InitialVUs: 1, Increment: 1, FailsAllowed: -1},
		{InitialVUs: maxVUs + 1, Increment: 1},
	}
	for _, cfg := range tests {
		_, err := New(cfg, runner)
		assert.Error(t, err, "%+v", cfg)
	}
	_, err := New(Config{InitialVUs: 1, Increment: 1}, nil)
	assert.Error(t, err)
}

const concurrencyTest = `
name: concurrency
settings:
  baseUrl: ${BASE_URL}
scenarios:
  load:
    executor: constant-vus
    vus: ${VUS}
    duration: ${DURATION}
    gracefulStop: 1s
    requests:
      - method: GET
        url: /
thresholds:
  http_req_failed: ["rate==0"]
`

func TestEngineRunner(t *testing.T) {
	var inFlight atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		time.Sleep(20 * time.Millisecond)
		if n > 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "concurrency.yaml")
	require.NoError(t, os.WriteFile(path, []byte(concurrencyTest), 0o644))

	params := config.NewParams(map[string]string{"BASE_URL": srv.URL})
	runner := EngineRunner(path, params, 0, 300*time.Millisecond)

	s, err := New(Config{InitialVUs: 2, Increment: 2, ValidationRuns: 1}, runner)
	require.NoError(t, err)

	result, err := s.Search(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, result.MaxVUs)
}

func TestEngineRunner_ConfigurationError(t *testing.T) {
	runner := EngineRunner(filepath.Join(t.TempDir(), "missing.yaml"), config.NewParams(nil), 0, time.Second)
	_, err := runner(context.Background(), 1)
	var cfgErr *loadtest.ConfigurationError
	assert.ErrorAs(t, err, &cfgErr)
}
