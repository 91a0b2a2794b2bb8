package executor

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wesleyorama2/k7/internal/loadtest"
	"github.com/wesleyorama2/k7/internal/loadtest/metrics"
)

// RampingVUs keeps a target number of looping VUs alive, interpolating the
// target linearly between stages. It also runs constant-vus, which is a
// single flat segment.
//
// Example stages:
//
//	startVUs: 0
//	stages:
//	  - duration: 5s
//	    target: 450    # Ramp from 0 to 450 VUs over 5s
//	  - duration: 1m
//	    target: 450    # Hold 450 VUs for 1 minute
type RampingVUs struct {
	config *Config
	pool   *loadtest.Pool

	startTime    time.Time
	targetVUs    atomic.Int32
	currentStage atomic.Int32
	rampUp       atomic.Bool
	running      atomic.Bool
	finished     atomic.Bool

	mu sync.RWMutex
}

// NewRampingVUs creates a VU-based executor for a validated config.
func NewRampingVUs(cfg *Config) *RampingVUs {
	return &RampingVUs{config: cfg}
}

// Type returns the executor type.
func (e *RampingVUs) Type() Type {
	return e.config.Type
}

// Config returns the executor configuration.
func (e *RampingVUs) Config() *Config {
	return e.config
}

// Run starts the executor and blocks until completion.
func (e *RampingVUs) Run(ctx context.Context, pool *loadtest.Pool) error {
	e.mu.Lock()
	e.pool = pool
	e.startTime = time.Now()
	e.mu.Unlock()
	e.running.Store(true)
	defer func() {
		e.running.Store(false)
		e.finished.Store(true)
	}()

	runCtx, cancel := context.WithTimeout(ctx, e.config.TotalDuration())
	defer cancel()

	e.adjust()

	ticker := time.NewTicker(controlInterval)
	defer ticker.Stop()
	for {
		select {
		case <-runCtx.Done():
			pool.Shutdown(e.config.GracefulStopOrDefault())
			return nil
		case <-ticker.C:
			e.adjust()
		}
	}
}

// adjust moves the pool to the target for the current elapsed time.
func (e *RampingVUs) adjust() {
	elapsed := time.Since(e.startTime)
	seg := e.config.SegmentAt(elapsed)
	target := int(math.Round(seg.valueAt(elapsed)))

	e.currentStage.Store(int32(seg.Stage))
	e.rampUp.Store(seg.RampUp)
	e.targetVUs.Store(int32(target))

	// tag first so VUs spawned below start with the right rampUp value
	e.pool.SetRampUp(seg.RampUp)
	e.pool.Scale(target)
}

// Progress returns current progress (0.0 to 1.0).
func (e *RampingVUs) Progress() float64 {
	return progress(e.running.Load(), e.finished.Load(), e.started(), e.config.TotalDuration())
}

func (e *RampingVUs) started() time.Time {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.startTime
}

// Stats returns executor statistics.
func (e *RampingVUs) Stats() *Stats {
	e.mu.RLock()
	pool, start := e.pool, e.startTime
	e.mu.RUnlock()

	stats := &Stats{
		StartTime:     start,
		TotalDuration: e.config.TotalDuration(),
		TargetVUs:     int(e.targetVUs.Load()),
		CurrentStage:  int(e.currentStage.Load()),
		TotalStages:   len(e.config.Stages),
		RampUp:        e.rampUp.Load(),
	}
	if !start.IsZero() {
		stats.Elapsed = time.Since(start)
	}
	if stats.CurrentStage < len(e.config.Stages) {
		stats.CurrentStageName = e.config.Stages[stats.CurrentStage].Name
	}
	if pool != nil {
		stats.ActiveVUs = pool.Active()
		stats.AllocatedVUs = pool.Allocated()
		stats.Iterations = iterationsOf(pool)
	}
	return stats
}

var _ Executor = (*RampingVUs)(nil)

func progress(running, finished bool, start time.Time, total time.Duration) float64 {
	if finished {
		return 1.0
	}
	if !running || start.IsZero() {
		return 0.0
	}
	if total == 0 {
		return 1.0
	}
	p := float64(time.Since(start)) / float64(total)
	if p > 1.0 {
		p = 1.0
	}
	return p
}

func iterationsOf(pool *loadtest.Pool) int64 {
	s, ok := pool.Metrics().Query(metrics.Iterations, metrics.Tags{metrics.TagScenario: pool.Scenario().Name})
	if !ok {
		return 0
	}
	return int64(s.Sum)
}
