package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	khttp "github.com/wesleyorama2/k7/internal/http"
	"github.com/wesleyorama2/k7/internal/loadtest"
	"github.com/wesleyorama2/k7/internal/loadtest/executor"
	"github.com/wesleyorama2/k7/internal/loadtest/metrics"
)

// ErrAborted is the cause reported when Abort is called without one.
var ErrAborted = errors.New("test aborted")

// Scheduler runs every scenario of a plan concurrently.
//
// It owns one pool and one executor per scenario, records metric windows
// from lifecycle events and propagates an abort to all of them.
type Scheduler struct {
	plan    *Plan
	runners []*runner
	metrics *metrics.Engine
	logger  *zap.Logger

	poolOpts    []loadtest.PoolOption
	subscribers []loadtest.EventFunc

	mu        sync.Mutex
	cancel    context.CancelCauseFunc
	startTime time.Time
	cause     error
	aborted   atomic.Bool
	running   atomic.Bool
}

type runner struct {
	spec     ScenarioSpec
	pool     *loadtest.Pool
	executor executor.Executor
	started  atomic.Bool
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithEventFunc subscribes fn to lifecycle events.
func WithEventFunc(fn loadtest.EventFunc) Option {
	return func(s *Scheduler) { s.subscribers = append(s.subscribers, fn) }
}

// WithPoolOptions passes options to every scenario pool.
func WithPoolOptions(opts ...loadtest.PoolOption) Option {
	return func(s *Scheduler) { s.poolOpts = append(s.poolOpts, opts...) }
}

// New builds the plan and prepares a pool and executor per scenario.
// Nothing runs until Run.
func New(specs []ScenarioSpec, client *khttp.Client, m *metrics.Engine, opts ...Option) (*Scheduler, error) {
	plan, err := BuildPlan(specs)
	if err != nil {
		return nil, err
	}

	s := &Scheduler{
		plan:    plan,
		metrics: m,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	poolOpts := append([]loadtest.PoolOption{
		loadtest.WithPoolLogger(s.logger),
		loadtest.WithEventFunc(s.emit),
		loadtest.WithFatalFunc(s.Abort),
	}, s.poolOpts...)

	for _, spec := range specs {
		exec, err := executor.New(spec.Executor)
		if err != nil {
			return nil, &loadtest.ConfigurationError{Err: err}
		}
		s.runners = append(s.runners, &runner{
			spec:     spec,
			pool:     loadtest.NewPool(spec.Scenario, client, m, poolOpts...),
			executor: exec,
		})
	}
	return s, nil
}

// Plan returns the execution plan.
func (s *Scheduler) Plan() *Plan {
	return s.plan
}

// Run starts every scenario at its startTime offset and blocks until all
// have finished. It returns the abort cause if the run was aborted or ctx
// was cancelled, nil otherwise.
func (s *Scheduler) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return errors.New("scheduler is already running")
	}

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	s.mu.Lock()
	s.cancel = cancel
	s.startTime = time.Now()
	cause := s.cause
	s.mu.Unlock()
	if s.aborted.Load() {
		cancel(cause)
	}

	var wg sync.WaitGroup
	for _, r := range s.runners {
		wg.Add(1)
		go func(r *runner) {
			defer wg.Done()
			s.runScenario(runCtx, r)
		}(r)
	}
	wg.Wait()

	if s.aborted.Load() {
		return s.Cause()
	}
	if ctx.Err() != nil {
		return context.Cause(runCtx)
	}
	return nil
}

func (s *Scheduler) runScenario(ctx context.Context, r *runner) {
	name := r.spec.Scenario.Name
	s.mu.Lock()
	at := s.startTime.Add(r.spec.StartTime)
	s.mu.Unlock()

	if r.spec.StartTime > 0 {
		timer := time.NewTimer(time.Until(at))
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			r.pool.Close()
			s.logger.Debug("scenario skipped", zap.String("scenario", name))
			return
		}
	}
	if !s.awaitPredecessors(ctx, r) || ctx.Err() != nil {
		r.pool.Close()
		return
	}

	// executors run to the planned end, not to their own start plus duration
	ctx, cancel := context.WithDeadline(ctx, at.Add(r.spec.Executor.TotalDuration()))
	defer cancel()

	segments := r.spec.Executor.Segments()
	if len(segments) > 0 {
		r.pool.SetRampUp(segments[0].RampUp)
	}
	r.started.Store(true)
	s.emit(loadtest.Event{Kind: loadtest.EventScenarioStart, Scenario: name, Tags: r.pool.Tags()})

	if err := r.executor.Run(ctx, r.pool); err != nil {
		s.logger.Error("executor failed", zap.String("scenario", name), zap.Error(err))
	}

	s.emit(loadtest.Event{Kind: loadtest.EventScenarioEnd, Scenario: name, Tags: r.pool.Tags()})
}

// awaitPredecessors waits until every scenario planned to end by r's start
// has closed its pool, so back-to-back scenarios never overlap their VUs.
func (s *Scheduler) awaitPredecessors(ctx context.Context, r *runner) bool {
	for _, q := range s.runners {
		d := q.spec.Executor.TotalDuration()
		if q == r || d == 0 || q.spec.StartTime+d > r.spec.StartTime {
			continue
		}
		select {
		case <-q.pool.Closing():
		case <-ctx.Done():
			return false
		}
	}
	return true
}

// Abort closes every pool and cancels all executors with cause. In-flight
// iterations drain up to each scenario's graceful stop. Only the first
// call has an effect.
func (s *Scheduler) Abort(cause error) {
	if cause == nil {
		cause = ErrAborted
	}
	if !s.aborted.CompareAndSwap(false, true) {
		return
	}

	s.mu.Lock()
	s.cause = cause
	cancel := s.cancel
	s.mu.Unlock()

	for _, r := range s.runners {
		r.pool.Close()
	}
	if cancel != nil {
		cancel(cause)
	}
	s.emit(loadtest.Event{Kind: loadtest.EventAborted, Err: cause})
}

// Aborted reports whether Abort was called.
func (s *Scheduler) Aborted() bool {
	return s.aborted.Load()
}

// Cause returns the abort cause, if any.
func (s *Scheduler) Cause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cause
}

// Stats returns the executor statistics of every scenario.
func (s *Scheduler) Stats() map[string]*executor.Stats {
	stats := make(map[string]*executor.Stats, len(s.runners))
	for _, r := range s.runners {
		stats[r.spec.Scenario.Name] = r.executor.Stats()
	}
	return stats
}

// Progress returns overall progress (0.0 to 1.0) against the plan.
func (s *Scheduler) Progress() float64 {
	s.mu.Lock()
	start := s.startTime
	s.mu.Unlock()

	total := s.plan.TotalDuration()
	if start.IsZero() || total == 0 {
		return 0
	}
	p := float64(time.Since(start)) / float64(total)
	if p > 1 {
		p = 1
	}
	return p
}

// emit records windows, logs the event and fans it out to subscribers.
func (s *Scheduler) emit(ev loadtest.Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	switch ev.Kind {
	case loadtest.EventScenarioStart, loadtest.EventStageChange:
		s.metrics.OpenWindow(ev.Scenario, ev.Tags, ev.Time)
	case loadtest.EventScenarioEnd:
		s.metrics.CloseWindow(ev.Scenario, ev.Time)
	}

	fields := []zap.Field{zap.String("event", ev.Kind.String())}
	if ev.Scenario != "" {
		fields = append(fields, zap.String("scenario", ev.Scenario))
	}
	if v, ok := ev.Tags[metrics.TagRampUp]; ok {
		fields = append(fields, zap.String("rampUp", v))
	}
	if ev.Err != nil {
		fields = append(fields, zap.Error(ev.Err))
	}
	if ev.Kind == loadtest.EventAborted {
		s.logger.Warn("test aborted", fields...)
	} else {
		s.logger.Debug("lifecycle", fields...)
	}

	for _, fn := range s.subscribers {
		fn(ev)
	}
}
