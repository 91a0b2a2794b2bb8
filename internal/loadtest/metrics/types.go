package metrics

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Kind is the aggregation kind of a metric.
type Kind int

const (
	KindCounter Kind = iota
	KindGauge
	KindRate
	KindTrend
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindCounter:
		return "counter"
	case KindGauge:
		return "gauge"
	case KindRate:
		return "rate"
	case KindTrend:
		return "trend"
	default:
		return "unknown"
	}
}

// Built-in metric names.
const (
	HTTPReqs          = "http_reqs"
	HTTPReqDuration   = "http_req_duration"
	HTTPReqFailed     = "http_req_failed"
	DataSent          = "data_sent"
	DataReceived      = "data_received"
	Checks            = "checks"
	Iterations        = "iterations"
	IterationDuration = "iteration_duration"
	DroppedIterations = "dropped_iterations"
	VUs               = "vus"
	VUsMax            = "vus_max"
)

var builtinKinds = map[string]Kind{
	HTTPReqs:          KindCounter,
	HTTPReqDuration:   KindTrend,
	HTTPReqFailed:     KindRate,
	DataSent:          KindCounter,
	DataReceived:      KindCounter,
	Checks:            KindRate,
	Iterations:        KindCounter,
	IterationDuration: KindTrend,
	DroppedIterations: KindCounter,
	VUs:               KindGauge,
	VUsMax:            KindGauge,
}

// KindOf returns the kind of a built-in metric.
func KindOf(metric string) (Kind, bool) {
	k, ok := builtinKinds[metric]
	return k, ok
}

// Standard tag keys.
const (
	TagScenario = "scenario"
	TagRampUp   = "rampUp"
	TagName     = "name"
	TagMethod   = "method"
	TagStatus   = "status"
	TagCheck    = "check"
)

// Tags is an immutable-by-convention set of key/value labels.
type Tags map[string]string

// Key returns a canonical, order-independent string for the tag set.
func (t Tags) Key() string {
	if len(t) == 0 {
		return ""
	}
	keys := make([]string, 0, len(t))
	for k := range t {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(k)
		b.WriteByte(':')
		b.WriteString(t[k])
	}
	return b.String()
}

// String renders the tags the way they appear in threshold keys.
func (t Tags) String() string {
	if len(t) == 0 {
		return ""
	}
	return "{" + t.Key() + "}"
}

// Matches reports whether t carries every key/value of selector.
func (t Tags) Matches(selector Tags) bool {
	for k, v := range selector {
		if got, ok := t[k]; !ok || got != v {
			return false
		}
	}
	return true
}

// With returns a copy of t extended (or overridden) by extra.
func (t Tags) With(extra Tags) Tags {
	out := make(Tags, len(t)+len(extra))
	for k, v := range t {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

// Clone returns a copy of t.
func (t Tags) Clone() Tags {
	return t.With(nil)
}

// Sample is a single observation of a metric.
type Sample struct {
	Metric string
	Value  float64
	Time   time.Time
	Tags   Tags
}

// RequestResult is the outcome of one HTTP call made by a VU.
//
// It is immutable once handed to the aggregator.
type RequestResult struct {
	Name          string
	Method        string
	URL           string
	Status        int
	Duration      time.Duration
	BytesSent     int64
	BytesReceived int64
	Error         string
	Timestamp     time.Time
	Tags          Tags
}

// Failed reports whether the request counts towards http_req_failed.
// Network errors, timeouts and any status outside 2xx/3xx are failures.
func (r RequestResult) Failed() bool {
	return r.Error != "" || r.Status < 200 || r.Status >= 400
}

// Samples expands the result into the http_* and data_* samples.
func (r RequestResult) Samples() []Sample {
	tags := r.Tags.With(Tags{TagMethod: r.Method, TagStatus: fmt.Sprintf("%d", r.Status)})
	if r.Name != "" {
		tags[TagName] = r.Name
	}
	ts := r.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	failed := 0.0
	if r.Failed() {
		failed = 1
	}
	return []Sample{
		{Metric: HTTPReqs, Value: 1, Time: ts, Tags: tags},
		{Metric: HTTPReqDuration, Value: float64(r.Duration) / float64(time.Millisecond), Time: ts, Tags: tags},
		{Metric: HTTPReqFailed, Value: failed, Time: ts, Tags: tags},
		{Metric: DataSent, Value: float64(r.BytesSent), Time: ts, Tags: tags},
		{Metric: DataReceived, Value: float64(r.BytesReceived), Time: ts, Tags: tags},
	}
}
