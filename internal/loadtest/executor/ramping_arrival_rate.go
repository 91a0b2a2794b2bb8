package executor

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/wesleyorama2/k7/internal/loadtest"
)

// minRate is the rate below which no iteration is scheduled.
const minRate = 0.001

// RampingArrivalRate starts iterations at a target rate regardless of
// response time, ramping the rate linearly between stages starting from
// startRate. It also runs constant-arrival-rate, a single flat segment.
//
// VUs are allocated elastically: preAllocatedVUs are created up front and
// more are spawned on demand up to maxVUs. An iteration that finds no free
// VU at maxVUs is dropped and counted in dropped_iterations.
//
// Example:
//
//	executor: ramping-arrival-rate
//	startRate: 0
//	timeUnit: 1s
//	preAllocatedVUs: 50
//	maxVUs: 1200
//	stages:
//	  - duration: 1m
//	    target: 600    # Ramp from 0 to 600 iterations/s over 1 minute
type RampingArrivalRate struct {
	config *Config
	pool   *loadtest.Pool

	limiter *rate.Limiter
	idle    chan *loadtest.VirtualUser

	startTime    time.Time
	currentStage atomic.Int32
	currentRate  atomic.Int64 // iterations/s * 1000
	rampUp       atomic.Bool
	dropped      atomic.Int64
	running      atomic.Bool
	finished     atomic.Bool

	mu sync.RWMutex
}

// NewRampingArrivalRate creates an arrival-rate executor for a validated
// config.
func NewRampingArrivalRate(cfg *Config) *RampingArrivalRate {
	return &RampingArrivalRate{config: cfg}
}

// Type returns the executor type.
func (e *RampingArrivalRate) Type() Type {
	return e.config.Type
}

// Config returns the executor configuration.
func (e *RampingArrivalRate) Config() *Config {
	return e.config
}

func (e *RampingArrivalRate) maxVUs() int {
	if e.config.MaxVUs > 0 {
		return e.config.MaxVUs
	}
	if e.config.PreAllocatedVUs > 0 {
		return e.config.PreAllocatedVUs
	}
	return 1
}

// Run starts the executor and blocks until completion.
func (e *RampingArrivalRate) Run(ctx context.Context, pool *loadtest.Pool) error {
	e.mu.Lock()
	e.pool = pool
	e.startTime = time.Now()
	e.idle = make(chan *loadtest.VirtualUser, e.maxVUs())
	e.limiter = rate.NewLimiter(rate.Limit(e.perSecond(0)), 1)
	e.mu.Unlock()
	e.running.Store(true)
	defer func() {
		e.running.Store(false)
		e.finished.Store(true)
	}()

	runCtx, cancel := context.WithTimeout(ctx, e.config.TotalDuration())
	defer cancel()

	for i := 0; i < e.config.PreAllocatedVUs; i++ {
		vu, err := pool.Spawn()
		if err != nil {
			break
		}
		e.idle <- vu
	}

	e.adjust()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		e.rateController(runCtx)
	}()

	e.schedule(runCtx)
	wg.Wait()

	pool.Shutdown(e.config.GracefulStopOrDefault())
	return nil
}

// perSecond converts the target at elapsed into iterations per second.
func (e *RampingArrivalRate) perSecond(elapsed time.Duration) float64 {
	return e.config.TargetAt(elapsed) / e.config.timeUnit().Seconds()
}

func (e *RampingArrivalRate) adjust() {
	elapsed := time.Since(e.startTime)
	seg := e.config.SegmentAt(elapsed)
	r := seg.valueAt(elapsed) / e.config.timeUnit().Seconds()

	e.currentStage.Store(int32(seg.Stage))
	e.rampUp.Store(seg.RampUp)
	e.currentRate.Store(int64(r * 1000))
	e.limiter.SetLimit(rate.Limit(r))
	e.limiter.SetBurst(burstFor(r))
	e.pool.SetRampUp(seg.RampUp)
}

// burstFor sizes the limiter bucket to one control interval of slots so a
// scheduling loop that falls behind catches up instead of losing tokens.
func burstFor(perSecond float64) int {
	b := int(math.Ceil(perSecond * controlInterval.Seconds()))
	if b < 1 {
		return 1
	}
	return b
}

// rateController adjusts the rate according to stages every 100ms.
func (e *RampingArrivalRate) rateController(ctx context.Context) {
	ticker := time.NewTicker(controlInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.adjust()
		}
	}
}

// schedule starts one iteration per limiter token until ctx is done.
func (e *RampingArrivalRate) schedule(ctx context.Context) {
	for {
		if !e.waitSlot(ctx) {
			return
		}

		vu := e.acquire()
		if vu == nil {
			if e.pool.Closed() {
				return
			}
			e.dropped.Add(1)
			e.pool.Metrics().AddDroppedIteration(e.pool.Tags())
			continue
		}

		e.pool.Go(func(poolCtx context.Context) {
			e.iterate(poolCtx, vu)
		})
	}
}

// waitSlot blocks until the next iteration is due. Reservations further
// out than one control interval are cancelled and retried so rate
// changes take effect promptly.
func (e *RampingArrivalRate) waitSlot(ctx context.Context) bool {
	for {
		if ctx.Err() != nil {
			return false
		}
		if float64(e.currentRate.Load())/1000 < minRate {
			if !sleep(ctx, controlInterval) {
				return false
			}
			continue
		}

		r := e.limiter.Reserve()
		delay := r.Delay()
		if delay > controlInterval {
			r.Cancel()
			if !sleep(ctx, controlInterval) {
				return false
			}
			continue
		}
		if delay <= 0 {
			return true
		}
		if !sleep(ctx, delay) {
			r.Cancel()
			return false
		}
		return true
	}
}

// acquire returns an idle VU, spawning one when below maxVUs. It returns
// nil when the iteration has to be dropped.
func (e *RampingArrivalRate) acquire() *loadtest.VirtualUser {
	for {
		select {
		case vu := <-e.idle:
			if vu.Stopping() {
				continue
			}
			return vu
		default:
		}
		break
	}

	if e.pool.Allocated() >= e.maxVUs() {
		return nil
	}
	vu, err := e.pool.Spawn()
	if err != nil {
		return nil
	}
	return vu
}

func (e *RampingArrivalRate) iterate(ctx context.Context, vu *loadtest.VirtualUser) {
	if err := e.pool.Prepare(ctx, vu); err != nil {
		e.pool.Retire(vu)
		return
	}
	err := vu.RunIteration(ctx)
	if err != nil && ctx.Err() == nil && !errors.Is(err, loadtest.ErrVUStopped) {
		e.pool.Logger().Debug("iteration failed",
			zap.String("scenario", e.pool.Scenario().Name),
			zap.String("vu", vu.ID.String()),
			zap.Error(err))
	}
	if vu.Stopping() || ctx.Err() != nil {
		e.pool.Retire(vu)
		return
	}
	select {
	case e.idle <- vu:
	default:
		e.pool.Retire(vu)
	}
}

// Progress returns current progress (0.0 to 1.0).
func (e *RampingArrivalRate) Progress() float64 {
	e.mu.RLock()
	start := e.startTime
	e.mu.RUnlock()
	return progress(e.running.Load(), e.finished.Load(), start, e.config.TotalDuration())
}

// Stats returns executor statistics.
func (e *RampingArrivalRate) Stats() *Stats {
	e.mu.RLock()
	pool, start := e.pool, e.startTime
	e.mu.RUnlock()

	stats := &Stats{
		StartTime:         start,
		TotalDuration:     e.config.TotalDuration(),
		TargetVUs:         e.maxVUs(),
		DroppedIterations: e.dropped.Load(),
		CurrentStage:      int(e.currentStage.Load()),
		TotalStages:       len(e.config.Stages),
		RampUp:            e.rampUp.Load(),
		CurrentRate:       math.Round(float64(e.currentRate.Load())) / 1000,
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

var _ Executor = (*RampingArrivalRate)(nil)

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
