package engine

import (
	"sort"
	"time"

	"github.com/wesleyorama2/k7/internal/loadtest/executor"
	"github.com/wesleyorama2/k7/internal/loadtest/metrics"
	"github.com/wesleyorama2/k7/internal/loadtest/threshold"
)

// TestResult contains the complete test results.
type TestResult struct {
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	StartTime   time.Time     `json:"startTime"`
	EndTime     time.Time     `json:"endTime"`
	Duration    time.Duration `json:"duration"`

	// Passed is the threshold verdict; false if setup failed
	Passed bool `json:"passed"`

	Aborted    bool   `json:"aborted"`
	AbortCause string `json:"abortCause,omitempty"`

	// Error is set when setup or the run failed
	Error        error  `json:"-"`
	ErrorMessage string `json:"error,omitempty"`

	TrendStats []string                  `json:"trendStats"`
	Metrics    map[string]MetricSummary  `json:"metrics"`
	Checks     []CheckResult             `json:"checks,omitempty"`
	Thresholds []threshold.Result        `json:"thresholds,omitempty"`
	Scenarios  map[string]ScenarioResult `json:"scenarios,omitempty"`
	Windows    []metrics.Window          `json:"windows,omitempty"`
	TimeSeries []metrics.Bucket          `json:"timeSeries,omitempty"`
	Snapshot   *metrics.Snapshot         `json:"snapshot,omitempty"`
}

// MetricSummary is the end-of-test view of one metric, or of a
// threshold submetric such as http_req_duration{rampUp:false}.
type MetricSummary struct {
	Name     string             `json:"name"`
	Kind     string             `json:"kind"`
	Selector metrics.Tags       `json:"selector,omitempty"`
	Count    int64              `json:"count"`
	Values   map[string]float64 `json:"values"`
}

// CheckResult counts the outcomes of one named check.
type CheckResult struct {
	Name   string `json:"name"`
	Passes int64  `json:"passes"`
	Fails  int64  `json:"fails"`
}

// ScenarioResult contains per-scenario totals.
type ScenarioResult struct {
	Name              string          `json:"name"`
	Executor          string          `json:"executor"`
	Iterations        int64           `json:"iterations"`
	DroppedIterations int64           `json:"droppedIterations,omitempty"`
	Requests          int64           `json:"requests"`
	Stats             *executor.Stats `json:"stats,omitempty"`
}

// MetricNames returns the summarized metric keys in sorted order.
func (r *TestResult) MetricNames() []string {
	names := make([]string, 0, len(r.Metrics))
	for name := range r.Metrics {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// summarize builds the summary of one metric for the given selector.
func summarize(key string, s metrics.Summary, trendStats []string) MetricSummary {
	out := MetricSummary{
		Name:     key,
		Kind:     s.Kind.String(),
		Selector: s.Selector,
		Count:    s.Count,
		Values:   make(map[string]float64),
	}
	switch s.Kind {
	case metrics.KindTrend:
		out.Values = s.TrendSummary(trendStats...)
	case metrics.KindRate:
		out.Values["rate"] = s.Rate()
		out.Values["passes"] = float64(s.Passes)
		out.Values["fails"] = float64(s.Fails)
	case metrics.KindCounter:
		out.Values["count"] = s.Sum
		out.Values["rate"] = s.Rate()
	case metrics.KindGauge:
		out.Values["value"] = s.Value
		out.Values["min"] = s.Min
		out.Values["max"] = s.Max
	}
	return out
}
