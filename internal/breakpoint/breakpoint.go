// Package breakpoint searches for the highest VU count a system sustains
// by running the same test repeatedly at increasing load.
//
// The search climbs from InitialVUs in steps of Increment while runs pass.
// Once a load level fails more than FailsAllowed times in a row, it backs
// off by half an increment and requires ValidationRuns passing runs at the
// reduced level, backing off again until a level validates or reaches 0.
package breakpoint

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Defaults of the breakpoint command flags.
const (
	DefaultValidationRuns = 4
	DefaultDelay          = 10 * time.Second
	DefaultFailsAllowed   = 1
	DefaultRampUp         = 15 * time.Second
	DefaultDuration       = 60 * time.Second

	maxVUs = 10_000_000
)

// ErrNoStableLoad is returned when no VU count above zero validated.
var ErrNoStableLoad = errors.New("no stable VU count found")

// Runner executes one test at vus and reports whether it passed. An error
// means the test itself is broken and stops the search.
type Runner func(ctx context.Context, vus int) (bool, error)

// Config controls the search.
type Config struct {
	InitialVUs     int
	Increment      int
	ValidationRuns int
	Delay          time.Duration
	FailsAllowed   int
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.InitialVUs <= 0 || c.InitialVUs > maxVUs {
		return fmt.Errorf("initial VUs must be between 1 and %d", maxVUs)
	}
	if c.Increment <= 0 || c.Increment > maxVUs {
		return fmt.Errorf("increment must be between 1 and %d", maxVUs)
	}
	if c.ValidationRuns < 0 {
		return errors.New("validation runs must not be negative")
	}
	if c.Delay < 0 {
		return errors.New("delay must not be negative")
	}
	if c.FailsAllowed < 0 {
		return errors.New("fails allowed must not be negative")
	}
	return nil
}

// Phase says which part of the search a run belonged to.
type Phase string

const (
	PhaseIncreasing Phase = "increasing"
	PhaseValidating Phase = "validating"
)

// Run records one test execution.
type Run struct {
	Number int   `json:"number"`
	VUs    int   `json:"vus"`
	Phase  Phase `json:"phase"`
	Passed bool  `json:"passed"`
}

// Result is the outcome of a search.
type Result struct {
	MaxVUs int   `json:"maxVUs"`
	Runs   []Run `json:"runs"`
}

// Option configures a Searcher.
type Option func(*Searcher)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Searcher) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithRunFunc is called after every run.
func WithRunFunc(fn func(Run)) Option {
	return func(s *Searcher) {
		s.onRun = fn
	}
}

// Searcher drives a breakpoint search.
type Searcher struct {
	cfg    Config
	runner Runner
	logger *zap.Logger
	onRun  func(Run)

	runs []Run
}

// New returns a Searcher for cfg.
func New(cfg Config, runner Runner, opts ...Option) (*Searcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if runner == nil {
		return nil, errors.New("runner is required")
	}
	s := &Searcher{cfg: cfg, runner: runner, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Search runs the search until a VU count validates, the load reaches
// zero, ctx is cancelled or the runner fails.
func (s *Searcher) Search(ctx context.Context) (*Result, error) {
	s.runs = nil
	vus, err := s.increase(ctx)
	if err != nil {
		return s.result(0), err
	}

	step := s.cfg.Increment / 2
	if step == 0 {
		step = 1
	}
	for ; vus > 0; vus -= step {
		ok, err := s.validate(ctx, vus)
		if err != nil {
			return s.result(0), err
		}
		if ok {
			s.logger.Info("validated maximum stable VU count", zap.Int("vus", vus))
			return s.result(vus), nil
		}
		s.logger.Info("validation failed, reducing VUs",
			zap.Int("vus", vus), zap.Int("next", vus-step))
	}

	s.logger.Warn("VU count reached zero")
	return s.result(0), ErrNoStableLoad
}

// increase climbs until a level fails too often and returns the level to
// validate first.
func (s *Searcher) increase(ctx context.Context) (int, error) {
	vus := s.cfg.InitialVUs
	failed := 0
	for {
		passed, err := s.run(ctx, vus, PhaseIncreasing)
		if err != nil {
			return 0, err
		}
		if passed {
			failed = 0
			vus += s.cfg.Increment
			continue
		}
		if failed >= s.cfg.FailsAllowed {
			reduced := vus - s.cfg.Increment/2
			s.logger.Info("breakpoint reached, validating reduced load",
				zap.Int("failedAt", vus), zap.Int("vus", reduced))
			return reduced, nil
		}
		failed++
	}
}

// validate requires ValidationRuns passing runs at vus, retrying up to
// FailsAllowed failures.
func (s *Searcher) validate(ctx context.Context, vus int) (bool, error) {
	failed := 0
	for passes := 0; passes < s.cfg.ValidationRuns; {
		passed, err := s.run(ctx, vus, PhaseValidating)
		if err != nil {
			return false, err
		}
		if passed {
			passes++
			continue
		}
		if failed >= s.cfg.FailsAllowed {
			return false, nil
		}
		failed++
	}
	return true, nil
}

func (s *Searcher) run(ctx context.Context, vus int, phase Phase) (bool, error) {
	if len(s.runs) > 0 && s.cfg.Delay > 0 {
		t := time.NewTimer(s.cfg.Delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return false, ctx.Err()
		case <-t.C:
		}
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	n := len(s.runs) + 1
	s.logger.Info("starting run", zap.Int("run", n), zap.Int("vus", vus), zap.String("phase", string(phase)))
	passed, err := s.runner(ctx, vus)
	if err != nil {
		return false, fmt.Errorf("run %d at %d VUs: %w", n, vus, err)
	}

	r := Run{Number: n, VUs: vus, Phase: phase, Passed: passed}
	s.runs = append(s.runs, r)
	s.logger.Info("run finished", zap.Int("run", n), zap.Int("vus", vus), zap.Bool("passed", passed))
	if s.onRun != nil {
		s.onRun(r)
	}
	return passed, nil
}

func (s *Searcher) result(vus int) *Result {
	return &Result{MaxVUs: vus, Runs: append([]Run(nil), s.runs...)}
}
