package loadtest

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	khttp "github.com/wesleyorama2/k7/internal/http"
	"github.com/wesleyorama2/k7/internal/loadtest/metrics"
)

const (
	rampUnset int32 = iota
	rampTrue
	rampFalse
)

// Pool owns the VUs of one scenario. It is the only place VUs are created
// and retired; executors drive it through Scale, Spawn and Go.
type Pool struct {
	scenario *Scenario
	client   *khttp.Client
	metrics  *metrics.Engine
	logger   *zap.Logger

	vars          map[string]string
	slowThreshold time.Duration
	onEvent       EventFunc
	onFatal       func(error)

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.RWMutex
	vus       []*VirtualUser
	closed    atomic.Bool
	closing   chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
	gaugeMu   sync.Mutex

	rampUp      atomic.Int32
	fixedRampUp bool
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithPoolLogger sets the logger.
func WithPoolLogger(l *zap.Logger) PoolOption {
	return func(p *Pool) { p.logger = l }
}

// WithVariables adds variables copied into every VU, such as the setup
// token.
func WithVariables(vars map[string]string) PoolOption {
	return func(p *Pool) {
		for k, v := range vars {
			p.vars[k] = v
		}
	}
}

// WithEventFunc subscribes to VU lifecycle events.
func WithEventFunc(fn EventFunc) PoolOption {
	return func(p *Pool) { p.onEvent = fn }
}

// WithFatalFunc is called when a VU hits an unrecoverable error, such as
// a failed per-VU setup.
func WithFatalFunc(fn func(error)) PoolOption {
	return func(p *Pool) { p.onFatal = fn }
}

// WithSlowRequestThreshold logs requests slower than d.
func WithSlowRequestThreshold(d time.Duration) PoolOption {
	return func(p *Pool) { p.slowThreshold = d }
}

// NewPool creates an empty pool for scenario.
func NewPool(scenario *Scenario, client *khttp.Client, m *metrics.Engine, opts ...PoolOption) *Pool {
	p := &Pool{
		scenario: scenario,
		client:   client,
		metrics:  m,
		logger:   zap.NewNop(),
		vars:     make(map[string]string),
		closing:  make(chan struct{}),
	}
	for k, v := range scenario.Variables {
		p.vars[k] = v
	}
	for _, opt := range opts {
		opt(p)
	}
	p.ctx, p.cancel = context.WithCancel(context.Background())

	if v, ok := scenario.Tags[metrics.TagRampUp]; ok {
		p.fixedRampUp = true
		if b, err := strconv.ParseBool(v); err == nil && b {
			p.rampUp.Store(rampTrue)
		} else {
			p.rampUp.Store(rampFalse)
		}
	}
	return p
}

// Scenario returns the pool's scenario.
func (p *Pool) Scenario() *Scenario {
	return p.scenario
}

// Metrics returns the engine samples are recorded into.
func (p *Pool) Metrics() *metrics.Engine {
	return p.metrics
}

// Logger returns the pool's logger.
func (p *Pool) Logger() *zap.Logger {
	return p.logger
}

// Context is cancelled when the pool is shut down.
func (p *Pool) Context() context.Context {
	return p.ctx
}

// SetRampUp updates the rampUp tag of subsequent samples and emits a
// stage-change event when the value flips. It is a no-op when the
// scenario sets the tag explicitly.
func (p *Pool) SetRampUp(v bool) {
	if p.fixedRampUp {
		return
	}
	next := rampFalse
	if v {
		next = rampTrue
	}
	if prev := p.rampUp.Swap(next); prev != rampUnset && prev != next {
		p.emit(Event{Kind: EventStageChange, Tags: p.Tags()})
	}
}

// RampingUp reports the current rampUp value.
func (p *Pool) RampingUp() bool {
	return p.rampUp.Load() == rampTrue
}

// Tags returns the tags every sample of the scenario carries right now.
func (p *Pool) Tags() metrics.Tags {
	tags := p.scenario.Tags.With(metrics.Tags{metrics.TagScenario: p.scenario.Name})
	switch p.rampUp.Load() {
	case rampTrue:
		tags[metrics.TagRampUp] = "true"
	case rampFalse:
		tags[metrics.TagRampUp] = "false"
	}
	return tags
}

// Spawn creates and registers a VU without starting it.
func (p *Pool) Spawn() (*VirtualUser, error) {
	if p.closed.Load() {
		return nil, ErrPoolClosed
	}
	vu := newVirtualUser(p, p.vars)

	p.mu.Lock()
	if p.closed.Load() {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	p.vus = append(p.vus, vu)
	p.mu.Unlock()

	p.emit(Event{Kind: EventVUSpawn, VU: vu.ID})
	p.updateGauge()
	return vu, nil
}

// Start runs vu in a loop of iterations until it is stopped or the pool
// shuts down.
func (p *Pool) Start(vu *VirtualUser) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.Retire(vu)

		if err := p.Prepare(p.ctx, vu); err != nil {
			return
		}
		for !vu.Stopping() && p.ctx.Err() == nil {
			err := vu.RunIteration(p.ctx)
			if errors.Is(err, ErrVUStopped) || p.ctx.Err() != nil {
				return
			}
			if err != nil {
				p.logger.Debug("iteration failed",
					zap.String("scenario", p.scenario.Name),
					zap.String("vu", vu.ID.String()),
					zap.Error(err))
			}
		}
	}()
}

// Go runs fn as a tracked pool goroutine.
func (p *Pool) Go(fn func(ctx context.Context)) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		fn(p.ctx)
	}()
}

// Prepare runs per-VU setup once for vu. A failure is reported to the
// fatal handler.
func (p *Pool) Prepare(ctx context.Context, vu *VirtualUser) error {
	setup := p.scenario.Setup
	if vu.prepared || setup == nil || !setup.PerVU {
		return nil
	}
	vu.varsMu.RLock()
	vars := make(map[string]string, len(vu.vars))
	for k, v := range vu.vars {
		vars[k] = v
	}
	vu.varsMu.RUnlock()

	token, err := setup.Run(ctx, p.client, p.metrics, vars)
	if err != nil {
		if ctx.Err() == nil {
			p.logger.Error("vu setup failed",
				zap.String("scenario", p.scenario.Name),
				zap.String("vu", vu.ID.String()),
				zap.Error(err))
			if p.onFatal != nil {
				p.onFatal(err)
			}
		}
		return err
	}
	vu.SetVar(TokenVar, token)
	vu.prepared = true
	return nil
}

// Retire stops vu and removes it from the pool.
func (p *Pool) Retire(vu *VirtualUser) {
	vu.markStopped()

	p.mu.Lock()
	found := false
	for i, v := range p.vus {
		if v == vu {
			p.vus = append(p.vus[:i], p.vus[i+1:]...)
			found = true
			break
		}
	}
	p.mu.Unlock()

	if found {
		p.emit(Event{Kind: EventVURetire, VU: vu.ID})
		p.updateGauge()
	}
}

// Scale starts or stops looping VUs until target are active. Excess VUs
// finish their current iteration before leaving. It returns the active
// count.
func (p *Pool) Scale(target int) int {
	if target < 0 {
		target = 0
	}
	active := p.active()
	switch {
	case len(active) < target:
		for i := len(active); i < target; i++ {
			vu, err := p.Spawn()
			if err != nil {
				break
			}
			p.Start(vu)
		}
	case len(active) > target:
		for i := len(active) - 1; i >= target; i-- {
			active[i].RequestStop()
		}
		p.updateGauge()
	}
	return p.Active()
}

// Active returns the number of VUs that are not stopping.
func (p *Pool) Active() int {
	return len(p.active())
}

// Allocated returns the number of registered VUs, including stopping ones.
func (p *Pool) Allocated() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.vus)
}

// VUs returns a snapshot of the registered VUs.
func (p *Pool) VUs() []*VirtualUser {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*VirtualUser, len(p.vus))
	copy(out, p.vus)
	return out
}

func (p *Pool) active() []*VirtualUser {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*VirtualUser, 0, len(p.vus))
	for _, vu := range p.vus {
		if !vu.Stopping() {
			out = append(out, vu)
		}
	}
	return out
}

// Closed reports whether Close was called.
func (p *Pool) Closed() bool {
	return p.closed.Load()
}

// Close rejects further spawns and asks every VU to stop after its
// current iteration.
func (p *Pool) Close() {
	p.closed.Store(true)
	for _, vu := range p.VUs() {
		vu.RequestStop()
	}
	p.updateGauge()
	p.closeOnce.Do(func() { close(p.closing) })
}

// Closing is closed once the pool stops counting its VUs as active.
func (p *Pool) Closing() <-chan struct{} {
	return p.closing
}

// Wait blocks until every pool goroutine has exited or timeout elapses.
func (p *Pool) Wait(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Shutdown closes the pool, lets in-flight iterations drain for up to
// grace, then cancels whatever is still running.
func (p *Pool) Shutdown(grace time.Duration) {
	p.Close()
	if !p.Wait(grace) {
		p.logger.Warn("graceful stop elapsed, interrupting iterations",
			zap.String("scenario", p.scenario.Name),
			zap.Int("remaining", p.Allocated()))
	}
	p.cancel()
	p.wg.Wait()
	for _, vu := range p.VUs() {
		p.Retire(vu)
	}
	p.gaugeMu.Lock()
	p.metrics.SetActiveVUs(p.scenario.Name, 0)
	p.gaugeMu.Unlock()
}

// updateGauge serializes count and publish so a stale count never lands
// after a newer one.
func (p *Pool) updateGauge() {
	p.gaugeMu.Lock()
	defer p.gaugeMu.Unlock()
	p.metrics.SetActiveVUs(p.scenario.Name, p.Active())
	p.metrics.Add(metrics.Sample{
		Metric: metrics.VUsMax,
		Value:  float64(p.Allocated()),
		Time:   time.Now(),
		Tags:   metrics.Tags{metrics.TagScenario: p.scenario.Name},
	})
}

func (p *Pool) emit(ev Event) {
	if p.onEvent == nil {
		return
	}
	ev.Scenario = p.scenario.Name
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	p.onEvent(ev)
}

func (p *Pool) fields(vu *VirtualUser, req *khttp.Request) []zap.Field {
	return []zap.Field{
		zap.String("scenario", p.scenario.Name),
		zap.String("vu", vu.ID.String()),
		zap.String("method", req.Method),
		zap.String("url", req.URL),
	}
}

func (p *Pool) observeSlow(vu *VirtualUser, req *khttp.Request, resp *khttp.Response) {
	if p.slowThreshold <= 0 || resp.Duration() < p.slowThreshold {
		return
	}
	p.logger.Warn("slow request",
		append(p.fields(vu, req),
			zap.Int("status", resp.StatusCode),
			zap.Duration("duration", resp.Duration()))...)
}

