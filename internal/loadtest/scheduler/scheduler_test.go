package scheduler_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	khttp "github.com/wesleyorama2/k7/internal/http"
	"github.com/wesleyorama2/k7/internal/loadtest"
	"github.com/wesleyorama2/k7/internal/loadtest/executor"
	"github.com/wesleyorama2/k7/internal/loadtest/metrics"
	"github.com/wesleyorama2/k7/internal/loadtest/scheduler"
)

type eventLog struct {
	mu     sync.Mutex
	events []loadtest.Event
}

func (l *eventLog) add(ev loadtest.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) kinds(scenario string) []loadtest.EventKind {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []loadtest.EventKind
	for _, ev := range l.events {
		if ev.Scenario == scenario && (ev.Kind == loadtest.EventScenarioStart || ev.Kind == loadtest.EventScenarioEnd) {
			out = append(out, ev.Kind)
		}
	}
	return out
}

func setup(t *testing.T) (*khttp.Client, *metrics.Engine) {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ok":true}`))
	}))
	t.Cleanup(server.Close)
	m := metrics.NewEngine()
	t.Cleanup(m.Stop)
	return khttp.NewClient(khttp.WithBaseURL(server.URL)), m
}

func requests() []*loadtest.RequestSpec {
	return []*loadtest.RequestSpec{{Name: "ping", Method: "GET", URL: "/ping"}}
}

func TestScheduler_RunsScenariosWithOffsets(t *testing.T) {
	client, m := setup(t)
	specs := maxRPSSpecs(4, 200*time.Millisecond, 300*time.Millisecond)
	for _, spec := range specs {
		spec.Scenario.Requests = requests()
		spec.Scenario.ThinkTime = 10 * time.Millisecond
		spec.Executor.GracefulStop = time.Second
	}

	log := &eventLog{}
	s, err := scheduler.New(specs, client, m, scheduler.WithLogger(zap.NewNop()), scheduler.WithEventFunc(log.add))
	require.NoError(t, err)

	start := time.Now()
	require.NoError(t, s.Run(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), 500*time.Millisecond)

	assert.Equal(t, []loadtest.EventKind{loadtest.EventScenarioStart, loadtest.EventScenarioEnd}, log.kinds("rampUp"))
	assert.Equal(t, []loadtest.EventKind{loadtest.EventScenarioStart, loadtest.EventScenarioEnd}, log.kinds("instantLoad"))

	steady := m.Windows(metrics.Tags{metrics.TagRampUp: "false"})
	require.Len(t, steady, 1)
	assert.Equal(t, "instantLoad", steady[0].Scenario)
	assert.Equal(t, 4, steady[0].PeakVUs)
	assert.InDelta(t, 300*time.Millisecond, steady[0].Duration(), float64(50*time.Millisecond))
	assert.LessOrEqual(t, m.PeakVUs(), 4, "ramp and steady scenarios never overlap")

	reqs, ok := m.Query(metrics.HTTPReqs, metrics.Tags{metrics.TagRampUp: "false"})
	require.True(t, ok)
	assert.Positive(t, reqs.Sum)

	stats := s.Stats()
	assert.Contains(t, stats, "rampUp")
	assert.Equal(t, 1.0, s.Progress())
	assert.False(t, s.Aborted())
}

func TestScheduler_StageChangeSplitsWindows(t *testing.T) {
	client, m := setup(t)
	specs := []scheduler.ScenarioSpec{{
		Scenario: &loadtest.Scenario{Name: "ramp", Requests: requests(), ThinkTime: 10 * time.Millisecond},
		Executor: &executor.Config{
			Type: executor.TypeRampingVUs,
			Stages: []executor.Stage{
				{Duration: 200 * time.Millisecond, Target: 3},
				{Duration: 300 * time.Millisecond, Target: 3},
			},
			GracefulStop: time.Second,
		},
	}}
	s, err := scheduler.New(specs, client, m)
	require.NoError(t, err)
	require.NoError(t, s.Run(context.Background()))

	windows := m.Windows(metrics.Tags{metrics.TagScenario: "ramp"})
	require.Len(t, windows, 2)
	assert.Equal(t, "true", windows[0].Tags[metrics.TagRampUp])
	assert.Equal(t, "false", windows[1].Tags[metrics.TagRampUp])
	assert.Equal(t, windows[0].End, windows[1].Start)

	_, ok := m.Query(metrics.HTTPReqs, metrics.Tags{metrics.TagScenario: "ramp", metrics.TagRampUp: "true"})
	assert.True(t, ok)
	_, ok = m.Query(metrics.HTTPReqs, metrics.Tags{metrics.TagScenario: "ramp", metrics.TagRampUp: "false"})
	assert.True(t, ok)
}

func TestScheduler_Abort(t *testing.T) {
	client, m := setup(t)
	specs := []scheduler.ScenarioSpec{
		{
			Scenario: &loadtest.Scenario{Name: "running", Requests: requests(), ThinkTime: 10 * time.Millisecond},
			Executor: &executor.Config{Type: executor.TypeConstantVUs, VUs: 2, Duration: time.Minute, GracefulStop: time.Second},
		},
		{
			Scenario:  &loadtest.Scenario{Name: "later", Requests: requests()},
			Executor:  executor.ConstantVUs("later", 2, time.Minute),
			StartTime: 30 * time.Second,
		},
	}
	log := &eventLog{}
	s, err := scheduler.New(specs, client, m, scheduler.WithEventFunc(log.add))
	require.NoError(t, err)

	cause := errors.New("threshold crossed")
	go func() {
		time.Sleep(150 * time.Millisecond)
		s.Abort(cause)
		s.Abort(errors.New("second abort is ignored"))
	}()

	start := time.Now()
	err = s.Run(context.Background())
	assert.ErrorIs(t, err, cause)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.True(t, s.Aborted())

	assert.Empty(t, log.kinds("later"), "a scenario not yet started never starts after abort")
	assert.Equal(t, 0, m.ActiveVUs())

	log.mu.Lock()
	defer log.mu.Unlock()
	aborted := 0
	for _, ev := range log.events {
		if ev.Kind == loadtest.EventAborted {
			aborted++
		}
	}
	assert.Equal(t, 1, aborted)
}

func TestScheduler_ContextCancel(t *testing.T) {
	client, m := setup(t)
	specs := []scheduler.ScenarioSpec{{
		Scenario: &loadtest.Scenario{Name: "c", Requests: requests(), ThinkTime: 10 * time.Millisecond},
		Executor: &executor.Config{Type: executor.TypeConstantVUs, VUs: 1, Duration: time.Minute, GracefulStop: time.Second},
	}}
	s, err := scheduler.New(specs, client, m)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err = s.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestScheduler_PerVUSetupFailureAborts(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()
	m := metrics.NewEngine()
	defer m.Stop()

	specs := []scheduler.ScenarioSpec{{
		Scenario: &loadtest.Scenario{
			Name:     "pervu",
			Requests: requests(),
			Setup: &loadtest.Setup{
				Request: &loadtest.RequestSpec{Method: "POST", URL: "/login"},
				PerVU:   true,
			},
		},
		Executor: &executor.Config{Type: executor.TypeConstantVUs, VUs: 3, Duration: time.Minute, GracefulStop: time.Second},
	}}
	s, err := scheduler.New(specs, khttp.NewClient(khttp.WithBaseURL(server.URL)), m)
	require.NoError(t, err)

	err = s.Run(context.Background())
	var setupErr *loadtest.SetupError
	require.True(t, errors.As(err, &setupErr), "got %v", err)
	assert.Equal(t, http.StatusInternalServerError, setupErr.Status)

	_, ok := m.Query(metrics.Iterations, nil)
	assert.False(t, ok, "no iteration runs after a failed setup")
}
