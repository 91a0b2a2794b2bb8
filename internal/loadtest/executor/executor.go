// Package executor provides load generation strategies for load tests.
package executor

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/wesleyorama2/k7/internal/loadtest"
)

// Type identifies the type of executor.
type Type string

const (
	// TypeConstantVUs runs a fixed number of VUs for a duration.
	TypeConstantVUs Type = "constant-vus"

	// TypeRampingVUs ramps VU count up and down according to stages.
	TypeRampingVUs Type = "ramping-vus"

	// TypeConstantArrivalRate maintains a fixed iteration rate.
	TypeConstantArrivalRate Type = "constant-arrival-rate"

	// TypeRampingArrivalRate ramps iteration rate up and down.
	TypeRampingArrivalRate Type = "ramping-arrival-rate"
)

const (
	// DefaultGracefulStop bounds the drain of in-flight iterations.
	DefaultGracefulStop = 30 * time.Second

	// controlInterval is how often targets are recomputed.
	controlInterval = 100 * time.Millisecond
)

// Executor drives a scenario's pool for the executor's duration.
//
// Executors control HOW load is generated: either by keeping a number of
// looping VUs alive or by starting iterations at a target rate.
type Executor interface {
	// Type returns the executor type.
	Type() Type

	// Config returns the validated configuration.
	Config() *Config

	// Run blocks until the executor's duration elapses or ctx is done,
	// then shuts the pool down within the graceful stop period.
	Run(ctx context.Context, pool *loadtest.Pool) error

	// Progress returns current progress (0.0 to 1.0).
	Progress() float64

	// Stats returns executor-specific statistics.
	Stats() *Stats
}

// Config contains configuration for an executor.
type Config struct {
	Name string `json:"name" yaml:"name"`
	Type Type   `json:"type" yaml:"type"`

	// VU-based executors
	VUs      int           `json:"vus,omitempty" yaml:"vus,omitempty"`
	StartVUs int           `json:"startVUs,omitempty" yaml:"startVUs,omitempty"`
	Duration time.Duration `json:"duration,omitempty" yaml:"duration,omitempty"`

	// Arrival-rate executors; Rate and StartRate are iterations per TimeUnit
	Rate            float64       `json:"rate,omitempty" yaml:"rate,omitempty"`
	StartRate       float64       `json:"startRate,omitempty" yaml:"startRate,omitempty"`
	TimeUnit        time.Duration `json:"timeUnit,omitempty" yaml:"timeUnit,omitempty"`
	PreAllocatedVUs int           `json:"preAllocatedVUs,omitempty" yaml:"preAllocatedVUs,omitempty"`
	MaxVUs          int           `json:"maxVUs,omitempty" yaml:"maxVUs,omitempty"`

	// Stages (for ramping executors)
	Stages []Stage `json:"stages,omitempty" yaml:"stages,omitempty"`

	GracefulStop time.Duration `json:"gracefulStop,omitempty" yaml:"gracefulStop,omitempty"`
}

// Stage defines a stage in ramping executors.
type Stage struct {
	// Duration of this stage
	Duration time.Duration `json:"duration" yaml:"duration"`

	// Target VU count (for ramping-vus) or rate (for ramping-arrival-rate)
	Target int `json:"target" yaml:"target"`

	// Optional name for this stage (for reporting)
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
}

// Stats contains real-time executor statistics.
type Stats struct {
	StartTime     time.Time     `json:"startTime"`
	Elapsed       time.Duration `json:"elapsed"`
	TotalDuration time.Duration `json:"totalDuration"`

	ActiveVUs    int `json:"activeVUs"`
	TargetVUs    int `json:"targetVUs"`
	AllocatedVUs int `json:"allocatedVUs"`

	Iterations        int64 `json:"iterations"`
	DroppedIterations int64 `json:"droppedIterations,omitempty"`

	CurrentStage     int    `json:"currentStage"`
	CurrentStageName string `json:"currentStageName,omitempty"`
	TotalStages      int    `json:"totalStages"`
	RampUp           bool   `json:"rampUp"`

	// CurrentRate is in iterations per second
	CurrentRate float64 `json:"currentRate,omitempty"`
}

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return "validation error on field '" + e.Field + "': " + e.Message
}

// Validate validates the executor configuration.
func (c *Config) Validate() error {
	if c.Type == "" {
		return &ValidationError{Field: "type", Message: "executor type is required"}
	}
	if c.GracefulStop < 0 {
		return &ValidationError{Field: "gracefulStop", Message: "gracefulStop must be >= 0"}
	}

	switch c.Type {
	case TypeConstantVUs:
		if c.VUs < 0 {
			return &ValidationError{Field: "vus", Message: "vus must be >= 0"}
		}
		if c.Duration <= 0 {
			return &ValidationError{Field: "duration", Message: "duration must be > 0"}
		}

	case TypeRampingVUs:
		if c.StartVUs < 0 {
			return &ValidationError{Field: "startVUs", Message: "startVUs must be >= 0"}
		}
		if err := validateStages(c.Stages); err != nil {
			return err
		}

	case TypeConstantArrivalRate:
		if c.Rate <= 0 {
			return &ValidationError{Field: "rate", Message: "rate must be > 0"}
		}
		if c.Duration <= 0 {
			return &ValidationError{Field: "duration", Message: "duration must be > 0"}
		}
		return c.validateAllocation()

	case TypeRampingArrivalRate:
		if c.StartRate < 0 {
			return &ValidationError{Field: "startRate", Message: "startRate must be >= 0"}
		}
		if err := validateStages(c.Stages); err != nil {
			return err
		}
		return c.validateAllocation()

	default:
		return &ValidationError{Field: "type", Message: "unknown executor type: " + string(c.Type)}
	}

	return nil
}

func validateStages(stages []Stage) error {
	if len(stages) == 0 {
		return &ValidationError{Field: "stages", Message: "at least one stage is required"}
	}
	for i, s := range stages {
		if s.Duration < 0 {
			return &ValidationError{Field: fmt.Sprintf("stages[%d].duration", i), Message: "duration must be >= 0"}
		}
		if s.Target < 0 {
			return &ValidationError{Field: fmt.Sprintf("stages[%d].target", i), Message: "target must be >= 0"}
		}
	}
	return nil
}

func (c *Config) validateAllocation() error {
	if c.TimeUnit < 0 {
		return &ValidationError{Field: "timeUnit", Message: "timeUnit must be > 0"}
	}
	if c.PreAllocatedVUs < 0 {
		return &ValidationError{Field: "preAllocatedVUs", Message: "preAllocatedVUs must be >= 0"}
	}
	if c.MaxVUs > 0 && c.MaxVUs < c.PreAllocatedVUs {
		return &ValidationError{Field: "maxVUs", Message: "maxVUs must be >= preAllocatedVUs"}
	}
	return nil
}

// TotalDuration calculates the total duration for this executor.
func (c *Config) TotalDuration() time.Duration {
	switch c.Type {
	case TypeConstantVUs, TypeConstantArrivalRate:
		return c.Duration

	case TypeRampingVUs, TypeRampingArrivalRate:
		var total time.Duration
		for _, stage := range c.Stages {
			total += stage.Duration
		}
		return total

	default:
		return 0
	}
}

// GracefulStopOrDefault returns the drain period.
func (c *Config) GracefulStopOrDefault() time.Duration {
	if c.GracefulStop > 0 {
		return c.GracefulStop
	}
	return DefaultGracefulStop
}

func (c *Config) timeUnit() time.Duration {
	if c.TimeUnit > 0 {
		return c.TimeUnit
	}
	return time.Second
}

// IsArrivalRate reports whether the executor schedules by rate.
func (c *Config) IsArrivalRate() bool {
	return c.Type == TypeConstantArrivalRate || c.Type == TypeRampingArrivalRate
}

// Segment is a span of the executor timeline over which the target moves
// linearly from From to To. Targets are VUs, or iterations per TimeUnit
// for arrival-rate executors.
type Segment struct {
	Start  time.Duration
	End    time.Duration
	From   float64
	To     float64
	RampUp bool
	Stage  int
	Name   string
}

// Segments returns the executor timeline. Zero-length stages are kept so
// the target jumps at their offset.
func (c *Config) Segments() []Segment {
	switch c.Type {
	case TypeConstantVUs:
		v := float64(c.VUs)
		return []Segment{{End: c.Duration, From: v, To: v}}

	case TypeConstantArrivalRate:
		return []Segment{{End: c.Duration, From: c.Rate, To: c.Rate}}
	}

	from := float64(c.StartVUs)
	if c.Type == TypeRampingArrivalRate {
		from = c.StartRate
	}
	segments := make([]Segment, 0, len(c.Stages))
	var offset time.Duration
	for i, stage := range c.Stages {
		to := float64(stage.Target)
		segments = append(segments, Segment{
			Start:  offset,
			End:    offset + stage.Duration,
			From:   from,
			To:     to,
			RampUp: from != to,
			Stage:  i,
			Name:   stage.Name,
		})
		offset += stage.Duration
		from = to
	}
	return segments
}

// SegmentAt returns the segment active at elapsed. Past the end it
// returns the last segment.
func (c *Config) SegmentAt(elapsed time.Duration) Segment {
	segments := c.Segments()
	for _, s := range segments {
		if elapsed < s.End {
			return s
		}
	}
	if len(segments) == 0 {
		return Segment{}
	}
	return segments[len(segments)-1]
}

// TargetAt returns the interpolated target at elapsed.
func (c *Config) TargetAt(elapsed time.Duration) float64 {
	s := c.SegmentAt(elapsed)
	return s.valueAt(elapsed)
}

func (s Segment) valueAt(elapsed time.Duration) float64 {
	span := s.End - s.Start
	if span <= 0 || elapsed >= s.End {
		return s.To
	}
	if elapsed <= s.Start {
		return s.From
	}
	progress := float64(elapsed-s.Start) / float64(span)
	return s.From + (s.To-s.From)*progress
}

// VUsAt returns the planned number of VUs at elapsed. Arrival-rate
// executors report their maximum allocation.
func (c *Config) VUsAt(elapsed time.Duration) int {
	if c.IsArrivalRate() {
		return c.MaxVUs
	}
	return int(math.Round(c.TargetAt(elapsed)))
}

// PeakVUs returns the largest VU count the executor can reach.
func (c *Config) PeakVUs() int {
	if c.IsArrivalRate() {
		return c.MaxVUs
	}
	peak := 0.0
	for _, s := range c.Segments() {
		peak = math.Max(peak, math.Max(s.From, s.To))
	}
	return int(math.Round(peak))
}

// New creates the executor for cfg after validating it.
func New(cfg *Config) (Executor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Type {
	case TypeConstantVUs, TypeRampingVUs:
		return NewRampingVUs(cfg), nil
	case TypeConstantArrivalRate, TypeRampingArrivalRate:
		return NewRampingArrivalRate(cfg), nil
	}
	return nil, &ValidationError{Field: "type", Message: "unknown executor type: " + string(cfg.Type)}
}
