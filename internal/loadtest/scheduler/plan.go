// Package scheduler plans and runs the scenarios of a test concurrently,
// each at its startTime offset.
package scheduler

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/wesleyorama2/k7/internal/loadtest"
	"github.com/wesleyorama2/k7/internal/loadtest/executor"
	"github.com/wesleyorama2/k7/internal/loadtest/metrics"
)

// ScenarioSpec pairs a scenario with its executor and start offset.
type ScenarioSpec struct {
	Scenario  *loadtest.Scenario
	Executor  *executor.Config
	StartTime time.Duration
}

// Window is a span of one scenario during which its samples carry the
// same tags.
type Window struct {
	Scenario string        `json:"scenario"`
	Tags     metrics.Tags  `json:"tags"`
	Start    time.Duration `json:"start"`
	End      time.Duration `json:"end"`
	FromVUs  int           `json:"fromVUs"`
	ToVUs    int           `json:"toVUs"`
	RampUp   bool          `json:"rampUp"`
}

// Duration returns the window length.
func (w Window) Duration() time.Duration {
	return w.End - w.Start
}

// Step is one point of the planned VU timeline.
type Step struct {
	Offset     time.Duration `json:"offset"`
	Scenario   string        `json:"scenario"`
	PlannedVUs int           `json:"plannedVUs"`
	RampUp     bool          `json:"rampUp"`
}

// Plan is the computed execution of a test. Building it runs nothing.
type Plan struct {
	windows  []Window
	steps    []Step
	segments []vuSegment
	total    time.Duration
}

// vuSegment is a linear span of planned VUs on the absolute timeline.
type vuSegment struct {
	scenario string
	start    time.Duration
	end      time.Duration
	from     float64
	to       float64
}

func (s vuSegment) at(t time.Duration) float64 {
	span := s.end - s.start
	if span <= 0 {
		return s.to
	}
	return s.from + (s.to-s.from)*float64(t-s.start)/float64(span)
}

// BuildPlan validates specs and computes their windows and VU timeline.
// Invalid specs are reported as a *loadtest.ConfigurationError.
func BuildPlan(specs []ScenarioSpec) (*Plan, error) {
	if len(specs) == 0 {
		return nil, &loadtest.ConfigurationError{Err: fmt.Errorf("at least one scenario is required")}
	}

	seen := make(map[string]bool, len(specs))
	plan := &Plan{}
	for _, spec := range specs {
		if spec.Scenario == nil || spec.Executor == nil {
			return nil, &loadtest.ConfigurationError{Err: fmt.Errorf("scenario without executor")}
		}
		name := spec.Scenario.Name
		if seen[name] {
			return nil, &loadtest.ConfigurationError{Err: fmt.Errorf("duplicate scenario %q", name)}
		}
		seen[name] = true

		if spec.StartTime < 0 {
			return nil, &loadtest.ConfigurationError{Err: fmt.Errorf("scenario %s: startTime must be >= 0", name)}
		}
		if err := spec.Executor.Validate(); err != nil {
			return nil, &loadtest.ConfigurationError{Err: fmt.Errorf("scenario %s: %w", name, err)}
		}
		plan.add(spec)
	}

	sort.SliceStable(plan.windows, func(i, j int) bool {
		if plan.windows[i].Start != plan.windows[j].Start {
			return plan.windows[i].Start < plan.windows[j].Start
		}
		return plan.windows[i].Scenario < plan.windows[j].Scenario
	})
	sort.SliceStable(plan.steps, func(i, j int) bool {
		if plan.steps[i].Offset != plan.steps[j].Offset {
			return plan.steps[i].Offset < plan.steps[j].Offset
		}
		return plan.steps[i].Scenario < plan.steps[j].Scenario
	})
	return plan, nil
}

func (p *Plan) add(spec ScenarioSpec) {
	sc, cfg := spec.Scenario, spec.Executor
	base := sc.Tags.With(metrics.Tags{metrics.TagScenario: sc.Name})
	_, explicit := sc.Tags[metrics.TagRampUp]

	arrival := cfg.IsArrivalRate()
	vus := func(v float64) float64 {
		if arrival {
			return float64(cfg.MaxVUs)
		}
		return v
	}

	var current *Window
	for _, seg := range cfg.Segments() {
		start := spec.StartTime + seg.Start
		end := spec.StartTime + seg.End
		from, to := vus(seg.From), vus(seg.To)

		p.segments = append(p.segments, vuSegment{scenario: sc.Name, start: start, end: end, from: from, to: to})
		p.steps = append(p.steps, Step{Offset: start, Scenario: sc.Name, PlannedVUs: int(math.Round(from)), RampUp: seg.RampUp})

		rampUp := seg.RampUp
		if explicit {
			rampUp, _ = strconv.ParseBool(sc.Tags[metrics.TagRampUp])
		}
		if current != nil && current.RampUp == rampUp {
			current.End = end
			current.ToVUs = int(math.Round(to))
			continue
		}
		if current != nil {
			p.windows = append(p.windows, *current)
		}
		tags := base.Clone()
		tags[metrics.TagRampUp] = strconv.FormatBool(rampUp)
		current = &Window{
			Scenario: sc.Name,
			Tags:     tags,
			Start:    start,
			End:      end,
			FromVUs:  int(math.Round(from)),
			ToVUs:    int(math.Round(to)),
			RampUp:   rampUp,
		}
	}
	if current != nil {
		p.windows = append(p.windows, *current)
		p.steps = append(p.steps, Step{Offset: current.End, Scenario: sc.Name})
		if current.End > p.total {
			p.total = current.End
		}
	}
}

// Windows returns the planned windows whose tags contain selector.
func (p *Plan) Windows(selector metrics.Tags) []Window {
	out := make([]Window, 0, len(p.windows))
	for _, w := range p.windows {
		if w.Tags.Matches(selector) {
			out = append(out, w)
		}
	}
	return out
}

// Steps returns the planned VU timeline ordered by offset.
func (p *Plan) Steps() []Step {
	out := make([]Step, len(p.steps))
	copy(out, p.steps)
	return out
}

// TotalDuration is the end of the last scenario.
func (p *Plan) TotalDuration() time.Duration {
	return p.total
}

// VUsAt returns the planned concurrent VUs at t. Segments are half-open,
// so a scenario ending at t no longer counts.
func (p *Plan) VUsAt(t time.Duration) int {
	total := 0.0
	for _, s := range p.segments {
		if s.start <= t && t < s.end {
			total += s.at(t)
		}
	}
	return int(math.Round(total))
}

// MaxVUs returns the peak of planned concurrent VUs across scenarios.
// Every segment boundary is checked from both sides since targets are
// linear in between.
func (p *Plan) MaxVUs() int {
	peak := 0.0
	for _, b := range p.boundaries() {
		var at, before float64
		for _, s := range p.segments {
			if s.start <= b && b < s.end {
				at += s.at(b)
			}
			if s.start < b && b <= s.end {
				before += s.at(b)
			}
		}
		peak = math.Max(peak, math.Max(at, before))
	}
	return int(math.Round(peak))
}

func (p *Plan) boundaries() []time.Duration {
	set := make(map[time.Duration]struct{}, 2*len(p.segments))
	for _, s := range p.segments {
		set[s.start] = struct{}{}
		set[s.end] = struct{}{}
	}
	out := make([]time.Duration, 0, len(set))
	for b := range set {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
