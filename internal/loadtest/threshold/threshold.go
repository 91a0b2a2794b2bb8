// Package threshold evaluates pass/fail criteria against aggregated metrics.
package threshold

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/wesleyorama2/k7/internal/loadtest/metrics"
)

// State is the evaluation state of a threshold.
type State int

const (
	StatePending State = iota
	StatePassing
	StateFailing
	StateInconclusive
	StateAborted
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StatePassing:
		return "passing"
	case StateFailing:
		return "failing"
	case StateInconclusive:
		return "inconclusive"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// MarshalText renders the state by name in JSON output.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Definition is one threshold as written in a test definition.
type Definition struct {
	// Key is the metric with an optional tag selector, e.g.
	// "http_req_duration{rampUp:false}".
	Key string

	// Expression is the predicate, e.g. "p(95)<1000" or "rate==0".
	Expression string

	AbortOnFail    bool
	DelayAbortEval time.Duration
}

// DefinitionError reports a threshold that cannot be parsed or evaluated.
type DefinitionError struct {
	Key        string
	Expression string
	Reason     string
}

func (e *DefinitionError) Error() string {
	if e.Expression == "" {
		return fmt.Sprintf("threshold %q: %s", e.Key, e.Reason)
	}
	return fmt.Sprintf("threshold %q %q: %s", e.Key, e.Expression, e.Reason)
}

// Violation is the abort cause produced by an abortOnFail threshold.
type Violation struct {
	Key        string
	Expression string
	Value      float64
}

func (v *Violation) Error() string {
	return fmt.Sprintf("threshold %s %s crossed (value %.4g)", v.Key, v.Expression, v.Value)
}

var (
	keyPattern  = regexp.MustCompile(`^\s*([A-Za-z_][A-Za-z0-9_]*)\s*(?:\{([^}]*)\})?\s*$`)
	exprPattern = regexp.MustCompile(`^\s*(p\(\d+(?:\.\d+)?\)|p\d+(?:\.\d+)?|[a-z]+)\s*(<=|>=|==|!=|<|>|=)\s*(-?\d+(?:\.\d+)?)\s*(ms|s|us|µs)?\s*$`)
	shortPct    = regexp.MustCompile(`^p(\d+(?:\.\d+)?)$`)
)

// ParseKey splits "metric{k:v,...}" into the metric name and its selector.
func ParseKey(key string) (string, metrics.Tags, error) {
	m := keyPattern.FindStringSubmatch(key)
	if m == nil {
		return "", nil, &DefinitionError{Key: key, Reason: "invalid metric key"}
	}
	name := m[1]
	if strings.TrimSpace(m[2]) == "" {
		return name, nil, nil
	}

	selector := metrics.Tags{}
	for _, pair := range strings.Split(m[2], ",") {
		k, v, ok := strings.Cut(pair, ":")
		k, v = strings.TrimSpace(k), strings.Trim(strings.TrimSpace(v), `"'`)
		if !ok || k == "" {
			return "", nil, &DefinitionError{Key: key, Reason: fmt.Sprintf("invalid tag selector %q", pair)}
		}
		selector[k] = v
	}
	return name, selector, nil
}

// predicate is a parsed threshold expression.
type predicate struct {
	stat  string
	op    string
	value float64
}

func parsePredicate(expr string) (predicate, error) {
	m := exprPattern.FindStringSubmatch(expr)
	if m == nil {
		return predicate{}, fmt.Errorf("invalid expression")
	}

	stat := m[1]
	if sm := shortPct.FindStringSubmatch(stat); sm != nil {
		stat = "p(" + sm[1] + ")"
	}
	value, err := strconv.ParseFloat(m[3], 64)
	if err != nil {
		return predicate{}, fmt.Errorf("invalid value %q", m[3])
	}
	switch m[4] {
	case "s":
		value *= 1000
	case "us", "µs":
		value /= 1000
	}

	op := m[2]
	if op == "=" {
		op = "=="
	}
	return predicate{stat: stat, op: op, value: value}, nil
}

func (p predicate) holds(actual float64) bool {
	switch p.op {
	case "<":
		return actual < p.value
	case "<=":
		return actual <= p.value
	case ">":
		return actual > p.value
	case ">=":
		return actual >= p.value
	case "==":
		return actual == p.value
	case "!=":
		return actual != p.value
	default:
		return false
	}
}

// Threshold is a parsed definition together with its current state.
type Threshold struct {
	Definition

	Metric   string
	Selector metrics.Tags

	pred  predicate
	state State
	value float64
}

// New parses a definition and checks that its statistic fits the metric.
func New(def Definition) (*Threshold, error) {
	name, selector, err := ParseKey(def.Key)
	if err != nil {
		return nil, err
	}
	kind, ok := metrics.KindOf(name)
	if !ok {
		return nil, &DefinitionError{Key: def.Key, Reason: fmt.Sprintf("unknown metric %q", name)}
	}
	pred, err := parsePredicate(def.Expression)
	if err != nil {
		return nil, &DefinitionError{Key: def.Key, Expression: def.Expression, Reason: err.Error()}
	}
	if !metrics.ValidStat(kind, pred.stat) {
		return nil, &DefinitionError{
			Key:        def.Key,
			Expression: def.Expression,
			Reason:     fmt.Sprintf("%q is not available for %s metrics", pred.stat, kind),
		}
	}
	if def.DelayAbortEval < 0 {
		return nil, &DefinitionError{Key: def.Key, Expression: def.Expression, Reason: "delayAbortEval must not be negative"}
	}

	return &Threshold{
		Definition: def,
		Metric:     name,
		Selector:   selector,
		pred:       pred,
	}, nil
}

// Result is the externally visible state of one threshold.
type Result struct {
	Key         string  `json:"metric"`
	Expression  string  `json:"expression"`
	State       State   `json:"state"`
	Value       float64 `json:"value"`
	HasValue    bool    `json:"hasValue"`
	AbortOnFail bool    `json:"abortOnFail,omitempty"`
}

// Passed reports whether the result counts as a pass for the verdict.
func (r Result) Passed() bool {
	return r.State != StateFailing && r.State != StateAborted
}
