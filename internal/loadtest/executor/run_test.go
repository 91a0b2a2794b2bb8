package executor_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	khttp "github.com/wesleyorama2/k7/internal/http"
	"github.com/wesleyorama2/k7/internal/loadtest"
	"github.com/wesleyorama2/k7/internal/loadtest/executor"
	"github.com/wesleyorama2/k7/internal/loadtest/metrics"
)

func newTestPool(t *testing.T, sc *loadtest.Scenario, opts ...loadtest.PoolOption) (*loadtest.Pool, *metrics.Engine) {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status": "ok"}`))
	}))
	t.Cleanup(server.Close)

	m := metrics.NewEngine()
	t.Cleanup(m.Stop)
	client := khttp.NewClient(khttp.WithBaseURL(server.URL))
	return loadtest.NewPool(sc, client, m, opts...), m
}

func TestConstantVUs_Run(t *testing.T) {
	sc := &loadtest.Scenario{
		Name:      "constant",
		Requests:  []*loadtest.RequestSpec{{Name: "root", Method: "GET", URL: "/"}},
		ThinkTime: 10 * time.Millisecond,
	}
	pool, m := newTestPool(t, sc)

	e, err := executor.New(executor.ConstantVUs("constant", 3, 300*time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}
	if err := e.Run(context.Background(), pool); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if e.Progress() != 1.0 {
		t.Errorf("Progress() after Run = %v, want 1", e.Progress())
	}
	if m.PeakVUs() != 3 {
		t.Errorf("PeakVUs() = %d, want 3", m.PeakVUs())
	}
	if pool.Allocated() != 0 {
		t.Errorf("Allocated() after Run = %d, want 0", pool.Allocated())
	}

	reqs, ok := m.Query(metrics.HTTPReqs, metrics.Tags{metrics.TagScenario: "constant", metrics.TagRampUp: "false"})
	if !ok || reqs.Sum < 3 {
		t.Errorf("http_reqs{rampUp:false} = %v (ok=%v), want >= 3", reqs.Sum, ok)
	}
	if _, ok := m.Query(metrics.HTTPReqs, metrics.Tags{metrics.TagRampUp: "true"}); ok {
		t.Error("constant-vus must not produce rampUp:true samples")
	}
}

func TestRampingVUs_MidpointVUs(t *testing.T) {
	sc := &loadtest.Scenario{
		Name: "ramp",
		Iteration: func(ctx context.Context, it *loadtest.Iteration) error {
			return nil
		},
		ThinkTime: 5 * time.Millisecond,
	}
	pool, _ := newTestPool(t, sc)

	cfg := &executor.Config{
		Type:         executor.TypeRampingVUs,
		Stages:       []executor.Stage{{Duration: time.Second, Target: 20}},
		GracefulStop: time.Second,
	}
	e, err := executor.New(cfg)
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		e.Run(context.Background(), pool)
	}()

	time.Sleep(500 * time.Millisecond)
	stats := e.Stats()
	if stats.TargetVUs < 8 || stats.TargetVUs > 12 {
		t.Errorf("TargetVUs at midpoint = %d, want ~10", stats.TargetVUs)
	}
	if !stats.RampUp {
		t.Error("RampUp should be true while ramping")
	}
	active := pool.Active()
	if active < 8 || active > 12 {
		t.Errorf("Active() at midpoint = %d, want ~10", active)
	}
	wg.Wait()
}

func TestRampingVUs_CancelStopsEarly(t *testing.T) {
	sc := &loadtest.Scenario{
		Name:      "cancel",
		Iteration: func(ctx context.Context, it *loadtest.Iteration) error { return nil },
		ThinkTime: 5 * time.Millisecond,
	}
	pool, _ := newTestPool(t, sc)

	e, _ := executor.New(executor.ConstantVUs("cancel", 2, time.Minute))
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	e.Run(ctx, pool)
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("Run() took %v after cancellation", elapsed)
	}
}

func TestConstantArrivalRate_Run(t *testing.T) {
	var calls atomic.Int64
	sc := &loadtest.Scenario{
		Name: "rate",
		Iteration: func(ctx context.Context, it *loadtest.Iteration) error {
			calls.Add(1)
			return nil
		},
	}
	pool, m := newTestPool(t, sc)

	e, err := executor.New(executor.ConstantArrivalRate("rate", 50, time.Second, time.Second, 2, 10))
	if err != nil {
		t.Fatal(err)
	}
	if err := e.Run(context.Background(), pool); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	got := calls.Load()
	if got < 35 || got > 60 {
		t.Errorf("iterations = %d, want ~50", got)
	}
	iters, ok := m.Query(metrics.Iterations, metrics.Tags{metrics.TagScenario: "rate"})
	if !ok || int64(iters.Sum) != got {
		t.Errorf("iterations metric = %v, want %d", iters.Sum, got)
	}
}

func TestConstantArrivalRate_HighRate(t *testing.T) {
	var calls atomic.Int64
	sc := &loadtest.Scenario{
		Name: "fast",
		Iteration: func(ctx context.Context, it *loadtest.Iteration) error {
			calls.Add(1)
			return nil
		},
	}
	pool, m := newTestPool(t, sc)

	e, err := executor.New(executor.ConstantArrivalRate("fast", 2000, time.Second, time.Second, 50, 500))
	if err != nil {
		t.Fatal(err)
	}
	if err := e.Run(context.Background(), pool); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	var dropped int64
	if d, ok := m.Query(metrics.DroppedIterations, metrics.Tags{metrics.TagScenario: "fast"}); ok {
		dropped = int64(d.Sum)
	}
	got := calls.Load()
	if got+dropped < 1900 {
		t.Errorf("started+dropped = %d+%d, want >= 1900 of 2000 slots", got, dropped)
	}
	if got > 2000+200 {
		t.Errorf("iterations = %d, want at most one control interval above 2000", got)
	}
}

func TestRampingArrivalRate_DropsAtMaxVUs(t *testing.T) {
	release := make(chan struct{})
	sc := &loadtest.Scenario{
		Name: "drop",
		Iteration: func(ctx context.Context, it *loadtest.Iteration) error {
			select {
			case <-release:
			case <-ctx.Done():
			}
			return nil
		},
	}
	pool, m := newTestPool(t, sc)

	cfg := &executor.Config{
		Type:            executor.TypeRampingArrivalRate,
		StartRate:       100,
		TimeUnit:        time.Second,
		PreAllocatedVUs: 1,
		MaxVUs:          2,
		Stages:          []executor.Stage{{Duration: 300 * time.Millisecond, Target: 100}},
		GracefulStop:    50 * time.Millisecond,
	}
	e, err := executor.New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	e.Run(context.Background(), pool)
	close(release)

	stats := e.Stats()
	if stats.DroppedIterations == 0 {
		t.Error("expected dropped iterations when maxVUs are busy")
	}
	dropped, ok := m.Query(metrics.DroppedIterations, metrics.Tags{metrics.TagScenario: "drop"})
	if !ok || int64(dropped.Sum) != stats.DroppedIterations {
		t.Errorf("dropped_iterations = %v, want %d", dropped.Sum, stats.DroppedIterations)
	}
	if m.PeakVUs() > 2 {
		t.Errorf("PeakVUs() = %d, want <= maxVUs 2", m.PeakVUs())
	}
}

func TestRampingArrivalRate_ZeroRateStartsNothing(t *testing.T) {
	var calls atomic.Int64
	sc := &loadtest.Scenario{
		Name: "zero",
		Iteration: func(ctx context.Context, it *loadtest.Iteration) error {
			calls.Add(1)
			return nil
		},
	}
	pool, _ := newTestPool(t, sc)

	cfg := &executor.Config{
		Type:   executor.TypeRampingArrivalRate,
		MaxVUs: 1,
		Stages: []executor.Stage{{Duration: 200 * time.Millisecond, Target: 0}},
	}
	e, _ := executor.New(cfg)
	e.Run(context.Background(), pool)

	if calls.Load() != 0 {
		t.Errorf("iterations = %d, want 0 at rate 0", calls.Load())
	}
}
