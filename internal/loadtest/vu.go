package loadtest

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// VUState represents the lifecycle state of a virtual user
type VUState int32

const (
	VUStateIdle     VUState = iota // Waiting for work
	VUStateRunning                 // Executing an iteration
	VUStateStopping                // Stop requested, finishing current iteration
	VUStateStopped                 // Fully stopped
)

// String returns the string representation of the VU state
func (s VUState) String() string {
	switch s {
	case VUStateIdle:
		return "idle"
	case VUStateRunning:
		return "running"
	case VUStateStopping:
		return "stopping"
	case VUStateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// VirtualUser executes iterations of one scenario. Its variables are
// private; nothing mutable is shared between VUs except the HTTP client
// and the metrics engine.
type VirtualUser struct {
	ID uuid.UUID

	pool       *Pool
	state      atomic.Int32
	iterations atomic.Int64
	prepared   bool

	varsMu sync.RWMutex
	vars   map[string]string

	stopCh chan struct{}
	done   sync.Once
}

func newVirtualUser(p *Pool, vars map[string]string) *VirtualUser {
	own := make(map[string]string, len(vars))
	for k, v := range vars {
		own[k] = v
	}
	return &VirtualUser{
		ID:     uuid.New(),
		pool:   p,
		vars:   own,
		stopCh: make(chan struct{}),
	}
}

// State returns the current state.
func (vu *VirtualUser) State() VUState {
	return VUState(vu.state.Load())
}

// Iterations returns the number of completed iterations.
func (vu *VirtualUser) Iterations() int64 {
	return vu.iterations.Load()
}

// Var returns a VU variable.
func (vu *VirtualUser) Var(name string) (string, bool) {
	vu.varsMu.RLock()
	defer vu.varsMu.RUnlock()
	v, ok := vu.vars[name]
	return v, ok
}

// SetVar sets a VU variable.
func (vu *VirtualUser) SetVar(name, value string) {
	vu.varsMu.Lock()
	defer vu.varsMu.Unlock()
	vu.vars[name] = value
}

// RequestStop asks the VU to stop after its current iteration.
func (vu *VirtualUser) RequestStop() {
	for {
		current := vu.state.Load()
		if current == int32(VUStateStopping) || current == int32(VUStateStopped) {
			return
		}
		if vu.state.CompareAndSwap(current, int32(VUStateStopping)) {
			close(vu.stopCh)
			return
		}
	}
}

// Stopping reports whether a stop was requested or completed.
func (vu *VirtualUser) Stopping() bool {
	s := vu.State()
	return s == VUStateStopping || s == VUStateStopped
}

func (vu *VirtualUser) markStopped() {
	vu.done.Do(func() {
		if vu.state.CompareAndSwap(int32(VUStateIdle), int32(VUStateStopping)) ||
			vu.state.CompareAndSwap(int32(VUStateRunning), int32(VUStateStopping)) {
			close(vu.stopCh)
		}
		vu.state.Store(int32(VUStateStopped))
	})
}

// RunIteration executes one iteration followed by the scenario think
// time. Completed iterations are recorded; iterations cut short by ctx are
// not.
func (vu *VirtualUser) RunIteration(ctx context.Context) error {
	if !vu.state.CompareAndSwap(int32(VUStateIdle), int32(VUStateRunning)) {
		return ErrVUStopped
	}
	defer vu.state.CompareAndSwap(int32(VUStateRunning), int32(VUStateIdle))

	p := vu.pool
	it := &Iteration{vu: vu, number: vu.iterations.Load(), tags: p.Tags()}
	fn := p.scenario.Iteration
	if fn == nil {
		fn = requestsIteration
	}

	start := time.Now()
	err := fn(ctx, it)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	p.metrics.AddIteration(time.Since(start), it.tags)
	vu.iterations.Add(1)

	if think := p.scenario.ThinkTime; think > 0 {
		timer := time.NewTimer(think)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-vu.stopCh:
		case <-ctx.Done():
		}
	}
	return err
}
