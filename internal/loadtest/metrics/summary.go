package metrics

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// DefaultTrendStats is the summary statistic set used when a test does not
// configure summaryTrendStats.
var DefaultTrendStats = []string{"avg", "min", "med", "max", "p(90)", "p(95)"}

// Summary is the aggregate of a metric over every stream matching a selector.
type Summary struct {
	Metric   string  `json:"metric"`
	Selector Tags    `json:"selector,omitempty"`
	Kind     Kind    `json:"-"`
	Count    int64   `json:"count"`
	Sum      float64 `json:"sum"`
	Passes   int64   `json:"passes,omitempty"`
	Fails    int64   `json:"fails,omitempty"`
	Value    float64 `json:"value,omitempty"`
	Min      float64 `json:"min,omitempty"`
	Max      float64 `json:"max,omitempty"`

	// Elapsed is the time span used to derive per-second counter rates.
	Elapsed time.Duration `json:"-"`

	hist *hdrhistogram.Histogram
}

func newSummary(metric string, kind Kind, selector Tags, acc *accumulator, elapsed time.Duration) Summary {
	s := Summary{
		Metric:   metric,
		Selector: selector,
		Kind:     kind,
		Count:    acc.count,
		Sum:      acc.sum,
		Passes:   acc.nonZero,
		Fails:    acc.count - acc.nonZero,
		Value:    acc.last,
		Elapsed:  elapsed,
		hist:     acc.hist,
	}
	if acc.count > 0 {
		s.Min = acc.min
		s.Max = acc.max
	}
	return s
}

// Rate returns the fraction of non-zero samples for Rate metrics and the
// per-second rate for Counter metrics.
func (s Summary) Rate() float64 {
	switch s.Kind {
	case KindRate:
		if s.Count == 0 {
			return 0
		}
		return float64(s.Passes) / float64(s.Count)
	case KindCounter:
		if s.Elapsed <= 0 {
			return 0
		}
		return s.Sum / s.Elapsed.Seconds()
	default:
		return 0
	}
}

// Avg returns the arithmetic mean of the samples.
func (s Summary) Avg() float64 {
	if s.Count == 0 {
		return 0
	}
	return s.Sum / float64(s.Count)
}

// Percentile returns the value at quantile q (0-100) in milliseconds.
//
// HDR percentiles report the highest equivalent value of their bucket, so
// the result is clamped to the exact observed [min, max] range. Clamping is
// monotonic, which keeps p(95) >= p(90) >= med >= min and max >= p(95).
func (s Summary) Percentile(q float64) float64 {
	if s.hist == nil || s.Count == 0 {
		return 0
	}
	v := float64(s.hist.ValueAtQuantile(q)) / 1000
	return math.Max(s.Min, math.Min(s.Max, v))
}

// Med returns the median.
func (s Summary) Med() float64 {
	return s.Percentile(50)
}

var percentileStat = regexp.MustCompile(`^p\((\d+(?:\.\d+)?)\)$`)

// Stat resolves a named statistic such as "avg", "p(99.9)" or "rate".
func (s Summary) Stat(name string) (float64, error) {
	switch name {
	case "count":
		if s.Kind == KindCounter {
			return s.Sum, nil
		}
		return float64(s.Count), nil
	case "avg":
		return s.Avg(), nil
	case "min":
		return s.Min, nil
	case "max":
		return s.Max, nil
	case "med":
		return s.Med(), nil
	case "rate":
		return s.Rate(), nil
	case "value":
		return s.Value, nil
	case "sum":
		return s.Sum, nil
	}
	if m := percentileStat.FindStringSubmatch(name); m != nil {
		q, err := strconv.ParseFloat(m[1], 64)
		if err != nil || q > 100 {
			return 0, fmt.Errorf("invalid percentile %q", name)
		}
		return s.Percentile(q), nil
	}
	return 0, fmt.Errorf("unknown statistic %q", name)
}

// TrendSummary returns the requested statistics keyed by name, skipping
// names that do not resolve.
func (s Summary) TrendSummary(stats ...string) map[string]float64 {
	if len(stats) == 0 {
		stats = DefaultTrendStats
	}
	out := make(map[string]float64, len(stats))
	for _, name := range stats {
		if v, err := s.Stat(name); err == nil {
			out[name] = v
		}
	}
	return out
}

// ValidStat reports whether stat can be computed for metrics of kind k.
func ValidStat(k Kind, stat string) bool {
	switch k {
	case KindTrend:
		switch stat {
		case "count", "avg", "min", "max", "med":
			return true
		}
		return percentileStat.MatchString(stat)
	case KindRate:
		return stat == "rate"
	case KindCounter:
		return stat == "count" || stat == "rate"
	case KindGauge:
		return stat == "value" || stat == "min" || stat == "max"
	}
	return false
}
