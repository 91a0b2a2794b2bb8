package metrics

import (
	"math"
	"sync"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// Histogram bounds in microseconds: 1µs to 1 hour, 3 significant figures.
const (
	histMin     int64 = 1
	histMax     int64 = 3_600_000_000
	histSigFigs       = 3
)

// stream holds the running aggregate of one metric for one tag set.
type stream struct {
	metric string
	kind   Kind
	tags   Tags

	mu      sync.Mutex
	count   int64
	sum     float64
	nonZero int64
	min     float64
	max     float64
	last    float64
	hist    *hdrhistogram.Histogram
}

func newStream(metric string, kind Kind, tags Tags) *stream {
	s := &stream{
		metric: metric,
		kind:   kind,
		tags:   tags,
		min:    math.Inf(1),
		max:    math.Inf(-1),
	}
	if kind == KindTrend {
		s.hist = hdrhistogram.New(histMin, histMax, histSigFigs)
	}
	return s
}

func (s *stream) add(v float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.count++
	s.sum += v
	s.last = v
	if v != 0 {
		s.nonZero++
	}
	if v < s.min {
		s.min = v
	}
	if v > s.max {
		s.max = v
	}
	if s.hist != nil {
		// HDR RecordValue is not thread-safe; s.mu guards it.
		_ = s.hist.RecordValue(toMicros(v))
	}
}

// mergeInto folds the stream into acc. Callers must not hold s.mu.
func (s *stream) mergeInto(acc *accumulator) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.count == 0 {
		return
	}
	acc.count += s.count
	acc.sum += s.sum
	acc.nonZero += s.nonZero
	acc.min = math.Min(acc.min, s.min)
	acc.max = math.Max(acc.max, s.max)
	acc.last += s.last
	if s.hist != nil {
		if acc.hist == nil {
			acc.hist = hdrhistogram.New(histMin, histMax, histSigFigs)
		}
		acc.hist.Merge(s.hist)
	}
}

// accumulator is the merged view of every stream matching a selector.
type accumulator struct {
	count   int64
	sum     float64
	nonZero int64
	min     float64
	max     float64
	last    float64
	hist    *hdrhistogram.Histogram
}

func newAccumulator() *accumulator {
	return &accumulator{min: math.Inf(1), max: math.Inf(-1)}
}

// toMicros converts a millisecond value into a clamped histogram unit.
func toMicros(ms float64) int64 {
	us := int64(math.Round(ms * 1000))
	if us < histMin {
		us = histMin
	}
	if us > histMax {
		us = histMax
	}
	return us
}
