// Package engine runs a load test definition end to end: setup, the
// scenario scheduler, metric aggregation and threshold evaluation.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	khttp "github.com/wesleyorama2/k7/internal/http"
	"github.com/wesleyorama2/k7/internal/loadtest"
	"github.com/wesleyorama2/k7/internal/loadtest/config"
	"github.com/wesleyorama2/k7/internal/loadtest/executor"
	"github.com/wesleyorama2/k7/internal/loadtest/metrics"
	"github.com/wesleyorama2/k7/internal/loadtest/scheduler"
	"github.com/wesleyorama2/k7/internal/loadtest/threshold"
)

// DefaultEvalInterval is how often thresholds are evaluated during a run.
const DefaultEvalInterval = 2 * time.Second

// Engine is the main orchestrator of a load test.
//
// Example usage:
//
//	cfg, _ := config.LoadConfig("test.yaml", config.NewParams(nil))
//	eng, _ := engine.NewEngine(cfg, engine.WithLogger(logger))
//	result, _ := eng.Run(context.Background())
//	fmt.Printf("Test passed: %v\n", result.Passed)
type Engine struct {
	config     *config.TestConfig
	specs      []scheduler.ScenarioSpec
	plan       *scheduler.Plan
	thresholds []threshold.Definition
	setup      *loadtest.Setup

	logger       *zap.Logger
	sinks        []metrics.Sink
	subscribers  []loadtest.EventFunc
	evalInterval time.Duration
	bucketSize   time.Duration

	mu        sync.RWMutex
	running   bool
	metrics   *metrics.Engine
	scheduler *scheduler.Scheduler
}

// Option configures an Engine.
type Option func(*Engine) error

// WithLogger sets the logger used by the engine and everything it runs.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) error {
		if l != nil {
			e.logger = l
		}
		return nil
	}
}

// WithIteration replaces the request list of scenario with fn.
func WithIteration(scenario string, fn loadtest.IterationFunc) Option {
	return func(e *Engine) error {
		for _, spec := range e.specs {
			if spec.Scenario.Name == scenario {
				spec.Scenario.Iteration = fn
				return nil
			}
		}
		return &loadtest.ConfigurationError{Err: fmt.Errorf("unknown scenario %q", scenario)}
	}
}

// WithSetupFunc replaces the setup exchange with fn. The setup block's
// perVU flag is kept.
func WithSetupFunc(fn loadtest.SetupFunc) Option {
	return func(e *Engine) error {
		if e.setup == nil {
			e.setup = &loadtest.Setup{}
		}
		e.setup.Func = fn
		return nil
	}
}

// WithSink forwards every sample to s.
func WithSink(s metrics.Sink) Option {
	return func(e *Engine) error {
		e.sinks = append(e.sinks, s)
		return nil
	}
}

// WithEventFunc subscribes fn to scheduler lifecycle events.
func WithEventFunc(fn loadtest.EventFunc) Option {
	return func(e *Engine) error {
		e.subscribers = append(e.subscribers, fn)
		return nil
	}
}

// WithEvalInterval sets how often thresholds are evaluated.
func WithEvalInterval(d time.Duration) Option {
	return func(e *Engine) error {
		e.evalInterval = d
		return nil
	}
}

// WithBucketInterval sets the live time-series resolution.
func WithBucketInterval(d time.Duration) Option {
	return func(e *Engine) error {
		e.bucketSize = d
		return nil
	}
}

// NewEngine validates cfg and prepares a run. Every problem with the
// definition is reported as a *loadtest.ConfigurationError before any VU
// exists.
func NewEngine(cfg *config.TestConfig, opts ...Option) (*Engine, error) {
	config.ApplyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, &loadtest.ConfigurationError{Err: err}
	}

	specs, err := BuildSpecs(cfg)
	if err != nil {
		return nil, &loadtest.ConfigurationError{Err: err}
	}
	plan, err := scheduler.BuildPlan(specs)
	if err != nil {
		return nil, err
	}
	defs, err := cfg.Thresholds.Definitions()
	if err != nil {
		return nil, &loadtest.ConfigurationError{Err: err}
	}

	e := &Engine{
		config:       cfg,
		specs:        specs,
		plan:         plan,
		thresholds:   defs,
		logger:       zap.NewNop(),
		evalInterval: DefaultEvalInterval,
	}
	if cfg.Setup != nil {
		if e.setup, err = setupFrom(cfg.Setup); err != nil {
			return nil, &loadtest.ConfigurationError{Err: err}
		}
	}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// Config returns the test configuration.
func (e *Engine) Config() *config.TestConfig {
	return e.config
}

// Plan returns the execution plan.
func (e *Engine) Plan() *scheduler.Plan {
	return e.plan
}

// Run executes the test and returns its result.
//
// A failed setup returns a *loadtest.SetupError and runs no iteration. A
// threshold abort is not an error: the result reports Aborted and
// Passed=false.
func (e *Engine) Run(ctx context.Context) (*TestResult, error) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil, errors.New("engine is already running")
	}
	e.running = true
	m := metrics.NewEngineWithConfig(e.metricsConfig())
	e.metrics = m
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
	}()

	start := time.Now()
	client := e.newClient()

	vars := make(map[string]string, len(e.config.Variables)+1)
	for k, v := range e.config.Variables {
		vars[k] = v
	}

	if e.setup != nil && !e.setup.PerVU {
		e.logger.Info("running setup")
		token, err := e.setup.Run(ctx, client, m, vars)
		if err != nil {
			e.logger.Error("setup failed", zap.Error(err))
			m.Stop()
			result := e.result(m, start, nil, nil)
			result.Passed = false
			result.Error = err
			result.ErrorMessage = err.Error()
			return result, err
		}
		vars[loadtest.TokenVar] = token
	}
	if e.setup != nil && e.setup.PerVU {
		for _, spec := range e.specs {
			spec.Scenario.Setup = e.setup
		}
	}

	sched, err := scheduler.New(e.specs, client, m,
		scheduler.WithLogger(e.logger),
		scheduler.WithEventFunc(e.fanOut),
		scheduler.WithPoolOptions(
			loadtest.WithVariables(vars),
			loadtest.WithSlowRequestThreshold(time.Duration(e.config.Settings.SlowRequestThreshold)),
		),
	)
	if err != nil {
		m.Stop()
		return nil, err
	}
	e.mu.Lock()
	e.scheduler = sched
	e.mu.Unlock()

	evaluator, err := threshold.NewEvaluator(e.thresholds, m,
		threshold.WithLogger(e.logger),
		threshold.WithAbortFunc(func(v *threshold.Violation) { sched.Abort(v) }),
	)
	if err != nil {
		m.Stop()
		return nil, &loadtest.ConfigurationError{Err: err}
	}

	e.logger.Info("starting test",
		zap.String("name", e.config.Name),
		zap.Int("scenarios", len(e.specs)),
		zap.Int("maxVUs", e.plan.MaxVUs()),
		zap.Duration("duration", e.plan.TotalDuration()))

	evalCtx, stopEval := context.WithCancel(ctx)
	var evalWG sync.WaitGroup
	evalWG.Add(1)
	go func() {
		defer evalWG.Done()
		evaluator.Run(evalCtx, e.evalInterval)
	}()

	runErr := sched.Run(ctx)
	stopEval()
	evalWG.Wait()

	aborted := sched.Aborted()
	m.Stop()
	results := evaluator.Evaluate()

	result := e.result(m, start, results, sched)
	result.Passed = evaluator.Verdict()
	if aborted {
		result.Aborted = true
		result.Passed = false
		if cause := sched.Cause(); cause != nil {
			result.AbortCause = cause.Error()
		}
	}

	var setupErr *loadtest.SetupError
	switch {
	case errors.As(runErr, &setupErr):
		result.Passed = false
		result.Error = runErr
		result.ErrorMessage = runErr.Error()
		e.logger.Info("test finished", zap.Bool("passed", false), zap.Error(runErr))
		return result, runErr
	case runErr != nil && !aborted:
		result.Error = runErr
		result.ErrorMessage = runErr.Error()
	}

	e.logger.Info("test finished",
		zap.Bool("passed", result.Passed),
		zap.Bool("aborted", result.Aborted),
		zap.Duration("duration", result.Duration))
	return result, nil
}

func (e *Engine) metricsConfig() metrics.EngineConfig {
	cfg := metrics.DefaultEngineConfig()
	cfg.Sinks = e.sinks
	if e.bucketSize > 0 {
		cfg.BucketInterval = e.bucketSize
	}
	return cfg
}

func (e *Engine) newClient() *khttp.Client {
	s := e.config.Settings
	cfg := khttp.DefaultClientConfig()
	cfg.Timeout = durationOr(s.Timeout, config.DefaultTimeout)
	cfg.InsecureSkipVerify = s.InsecureSkipVerify
	if s.MaxIdleConnsPerHost > 0 {
		cfg.MaxIdleConnsPerHost = s.MaxIdleConnsPerHost
	}
	if s.MaxConnectionsPerHost > 0 {
		cfg.MaxConnsPerHost = s.MaxConnectionsPerHost
	}

	opts := []khttp.ClientOption{khttp.WithBaseURL(s.BaseURL)}
	if s.UserAgent != "" {
		opts = append(opts, khttp.WithHeader("User-Agent", s.UserAgent))
	}
	for k, v := range s.Headers {
		opts = append(opts, khttp.WithHeader(k, v))
	}
	return khttp.NewClientWithConfig(cfg, opts...)
}

func (e *Engine) fanOut(ev loadtest.Event) {
	for _, fn := range e.subscribers {
		fn(ev)
	}
}

// result assembles the TestResult from the stopped metrics engine.
func (e *Engine) result(m *metrics.Engine, start time.Time, thresholds []threshold.Result, sched *scheduler.Scheduler) *TestResult {
	end := time.Now()
	trend := e.config.SummaryTrendStats
	r := &TestResult{
		Name:        e.config.Name,
		Description: e.config.Description,
		StartTime:   start,
		EndTime:     end,
		Duration:    end.Sub(start),
		TrendStats:  trend,
		Metrics:     make(map[string]MetricSummary),
		Thresholds:  thresholds,
		Windows:     m.Windows(nil),
		TimeSeries:  m.TimeSeries(),
		Snapshot:    m.Snapshot(),
	}

	for _, name := range m.Metrics() {
		if s, ok := m.Query(name, nil); ok {
			r.Metrics[name] = summarize(name, s, trend)
		}
	}
	for _, def := range e.thresholds {
		name, selector, err := threshold.ParseKey(def.Key)
		if err != nil || len(selector) == 0 {
			continue
		}
		if s, ok := m.Query(name, selector); ok {
			r.Metrics[def.Key] = summarize(def.Key, s, trend)
		}
	}

	for name, s := range m.GroupBy(metrics.Checks, metrics.TagCheck, nil) {
		r.Checks = append(r.Checks, CheckResult{Name: name, Passes: s.Passes, Fails: s.Fails})
	}
	sort.Slice(r.Checks, func(i, j int) bool { return r.Checks[i].Name < r.Checks[j].Name })

	if sched != nil {
		stats := sched.Stats()
		r.Scenarios = make(map[string]ScenarioResult, len(e.specs))
		for _, spec := range e.specs {
			name := spec.Scenario.Name
			sr := ScenarioResult{
				Name:     name,
				Executor: string(spec.Executor.Type),
				Stats:    stats[name],
			}
			sel := metrics.Tags{metrics.TagScenario: name}
			if s, ok := m.Query(metrics.Iterations, sel); ok {
				sr.Iterations = int64(s.Sum)
			}
			if s, ok := m.Query(metrics.DroppedIterations, sel); ok {
				sr.DroppedIterations = int64(s.Sum)
			}
			if s, ok := m.Query(metrics.HTTPReqs, sel); ok {
				sr.Requests = int64(s.Sum)
			}
			r.Scenarios[name] = sr
		}
	}
	return r
}

// Snapshot returns live totals, or nil before Run.
func (e *Engine) Snapshot() *metrics.Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.metrics == nil {
		return nil
	}
	return e.metrics.Snapshot()
}

// Metrics returns the metrics engine of the current or last run.
func (e *Engine) Metrics() *metrics.Engine {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.metrics
}

// Progress returns the overall test progress (0.0 to 1.0).
func (e *Engine) Progress() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.scheduler == nil {
		return 0
	}
	return e.scheduler.Progress()
}

// Stats returns current executor stats for all scenarios.
func (e *Engine) Stats() map[string]*executor.Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.scheduler == nil {
		return nil
	}
	return e.scheduler.Stats()
}

// IsRunning returns true if the engine is currently running.
func (e *Engine) IsRunning() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}

// Abort stops a running test with cause.
func (e *Engine) Abort(cause error) {
	e.mu.RLock()
	sched := e.scheduler
	e.mu.RUnlock()
	if sched != nil {
		sched.Abort(cause)
	}
}
