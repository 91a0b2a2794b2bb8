package threshold

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wesleyorama2/k7/internal/loadtest/metrics"
)

// Source is the aggregator view the evaluator reads from.
type Source interface {
	Query(metric string, selector metrics.Tags) (metrics.Summary, bool)
}

// AbortFunc is called once with the first abortOnFail violation.
type AbortFunc func(*Violation)

// Evaluator checks thresholds against a Source, periodically or on demand.
type Evaluator struct {
	thresholds []*Threshold
	source     Source
	onAbort    AbortFunc
	logger     *zap.Logger
	start      time.Time
	now        func() time.Time

	mu        sync.Mutex
	violation *Violation
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithAbortFunc sets the callback invoked on the first abort.
func WithAbortFunc(fn AbortFunc) Option {
	return func(e *Evaluator) { e.onAbort = fn }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Evaluator) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithClock overrides the time source used for delayAbortEval.
func WithClock(now func() time.Time) Option {
	return func(e *Evaluator) { e.now = now }
}

// NewEvaluator parses every definition. All parse failures are returned
// together so a test definition can be fixed in one pass.
func NewEvaluator(defs []Definition, src Source, opts ...Option) (*Evaluator, error) {
	e := &Evaluator{
		source: src,
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.start = e.now()

	var errs []error
	for _, def := range defs {
		th, err := New(def)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		e.thresholds = append(e.thresholds, th)
	}
	if len(errs) > 0 {
		return nil, &DefinitionErrors{Errors: errs}
	}
	return e, nil
}

// Evaluate computes every threshold against the current metric values.
func (e *Evaluator) Evaluate() []Result {
	e.mu.Lock()
	defer e.mu.Unlock()

	elapsed := e.now().Sub(e.start)
	var fire *Violation

	for _, th := range e.thresholds {
		summary, ok := e.source.Query(th.Metric, th.Selector)
		if !ok {
			if th.state != StateAborted {
				th.state = StateInconclusive
			}
			continue
		}
		value, err := summary.Stat(th.pred.stat)
		if err != nil {
			if th.state != StateAborted {
				th.state = StateInconclusive
			}
			continue
		}
		th.value = value

		if th.state == StateAborted {
			continue
		}
		if th.pred.holds(value) {
			th.state = StatePassing
			continue
		}
		th.state = StateFailing

		if th.AbortOnFail && elapsed >= th.DelayAbortEval {
			th.state = StateAborted
			if e.violation == nil && fire == nil {
				fire = &Violation{Key: th.Key, Expression: th.Expression, Value: value}
			}
		}
	}

	results := e.resultsLocked()

	if fire != nil {
		e.violation = fire
		e.logger.Warn("threshold crossed, aborting test",
			zap.String("metric", fire.Key),
			zap.String("expression", fire.Expression),
			zap.Float64("value", fire.Value),
		)
		if e.onAbort != nil {
			e.onAbort(fire)
		}
	}
	return results
}

// Run evaluates every interval until ctx is done or a threshold aborts.
func (e *Evaluator) Run(ctx context.Context, interval time.Duration) {
	if len(e.thresholds) == 0 {
		return
	}
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.Evaluate()
			if e.Violation() != nil {
				return
			}
		}
	}
}

// Violation returns the abort cause, or nil if no threshold aborted.
func (e *Evaluator) Violation() *Violation {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.violation
}

// Results returns the states from the last evaluation.
func (e *Evaluator) Results() []Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.resultsLocked()
}

func (e *Evaluator) resultsLocked() []Result {
	out := make([]Result, len(e.thresholds))
	for i, th := range e.thresholds {
		out[i] = Result{
			Key:         th.Key,
			Expression:  th.Expression,
			State:       th.state,
			Value:       th.value,
			HasValue:    th.state != StatePending && th.state != StateInconclusive,
			AbortOnFail: th.AbortOnFail,
		}
	}
	return out
}

// Verdict reports whether no threshold is failing or aborted.
func (e *Evaluator) Verdict() bool {
	for _, r := range e.Results() {
		if !r.Passed() {
			return false
		}
	}
	return true
}
