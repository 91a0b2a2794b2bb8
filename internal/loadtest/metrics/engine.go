package metrics

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Sink receives every sample after it has been aggregated.
type Sink interface {
	AddSample(Sample)
}

// EngineConfig contains configuration for the metrics engine.
type EngineConfig struct {
	// BucketInterval is the interval for time-series buckets (default: 1s)
	BucketInterval time.Duration

	// MaxBuckets is the ring buffer size (default: 3600)
	MaxBuckets int

	// Sinks receive samples in addition to the in-memory streams.
	Sinks []Sink
}

// DefaultEngineConfig returns the default configuration.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		BucketInterval: time.Second,
		MaxBuckets:     3600,
	}
}

// Engine is the metrics aggregator for one test run.
type Engine struct {
	config EngineConfig

	mu      sync.RWMutex
	kinds   map[string]Kind
	streams map[string]map[string]*stream

	buckets *bucketStore

	vuMu      sync.Mutex
	activeVUs map[string]int
	peakVUs   int

	winMu   sync.Mutex
	windows []*Window
	open    map[string]*Window

	startTime time.Time
	endTime   time.Time
	timeMu    sync.RWMutex

	emitterCancel context.CancelFunc
	emitterWg     sync.WaitGroup
	stopOnce      sync.Once
}

// NewEngine creates a metrics engine with default configuration.
func NewEngine() *Engine {
	return NewEngineWithConfig(DefaultEngineConfig())
}

// NewEngineWithConfig creates a metrics engine and starts its bucket emitter.
func NewEngineWithConfig(config EngineConfig) *Engine {
	if config.BucketInterval <= 0 {
		config.BucketInterval = time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())

	e := &Engine{
		config:        config,
		kinds:         make(map[string]Kind, len(builtinKinds)),
		streams:       make(map[string]map[string]*stream),
		buckets:       newBucketStore(config.MaxBuckets),
		activeVUs:     make(map[string]int),
		open:          make(map[string]*Window),
		startTime:     time.Now(),
		emitterCancel: cancel,
	}
	for name, kind := range builtinKinds {
		e.kinds[name] = kind
	}

	e.emitterWg.Add(1)
	go e.runEmitter(ctx)

	return e
}

// Register declares a custom metric. Built-in metrics are pre-registered.
func (e *Engine) Register(metric string, kind Kind) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.kinds[metric] = kind
}

// Kind returns the registered kind of a metric.
func (e *Engine) Kind(metric string) (Kind, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	k, ok := e.kinds[metric]
	return k, ok
}

// Add records a sample. Samples for unregistered metrics are counted.
func (e *Engine) Add(s Sample) {
	e.streamFor(s.Metric, s.Tags).add(s.Value)
	for _, sink := range e.config.Sinks {
		sink.AddSample(s)
	}
}

// AddRequest records every sample derived from a request result.
func (e *Engine) AddRequest(r RequestResult) {
	for _, s := range r.Samples() {
		e.Add(s)
	}
	e.buckets.record(r.Failed())
}

// AddCheck records one check outcome tagged with the check name.
func (e *Engine) AddCheck(name string, passed bool, tags Tags) {
	v := 0.0
	if passed {
		v = 1
	}
	e.Add(Sample{
		Metric: Checks,
		Value:  v,
		Time:   time.Now(),
		Tags:   tags.With(Tags{TagCheck: name}),
	})
}

// AddIteration records a completed iteration and its duration.
func (e *Engine) AddIteration(d time.Duration, tags Tags) {
	now := time.Now()
	e.Add(Sample{Metric: Iterations, Value: 1, Time: now, Tags: tags})
	e.Add(Sample{Metric: IterationDuration, Value: float64(d) / float64(time.Millisecond), Time: now, Tags: tags})
}

// AddDroppedIteration records an arrival-rate iteration that found no VU.
func (e *Engine) AddDroppedIteration(tags Tags) {
	e.Add(Sample{Metric: DroppedIterations, Value: 1, Time: time.Now(), Tags: tags})
}

func (e *Engine) streamFor(metric string, tags Tags) *stream {
	key := tags.Key()

	e.mu.RLock()
	s, ok := e.streams[metric][key]
	e.mu.RUnlock()
	if ok {
		return s
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	byTags, ok := e.streams[metric]
	if !ok {
		byTags = make(map[string]*stream)
		e.streams[metric] = byTags
	}
	if s, ok := byTags[key]; ok {
		return s
	}
	kind, ok := e.kinds[metric]
	if !ok {
		kind = KindCounter
		e.kinds[metric] = kind
	}
	s = newStream(metric, kind, tags.Clone())
	byTags[key] = s
	return s
}

// matching returns every stream of metric whose tags include selector,
// sorted by tag key so that merges see a stable order.
func (e *Engine) matching(metric string, selector Tags) ([]*stream, Kind, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	kind, known := e.kinds[metric]
	byTags, ok := e.streams[metric]
	if !ok {
		return nil, kind, known
	}
	keys := make([]string, 0, len(byTags))
	for k, s := range byTags {
		if s.tags.Matches(selector) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	out := make([]*stream, len(keys))
	for i, k := range keys {
		out[i] = byTags[k]
	}
	return out, kind, known
}

// Query merges every stream of metric matching selector. ok is false when
// no sample matched.
func (e *Engine) Query(metric string, selector Tags) (Summary, bool) {
	streams, kind, _ := e.matching(metric, selector)
	acc := newAccumulator()
	for _, s := range streams {
		s.mergeInto(acc)
	}
	sum := newSummary(metric, kind, selector, acc, e.Elapsed())
	return sum, acc.count > 0
}

// GroupBy queries metric once per distinct value of tagKey among the
// streams matching selector.
func (e *Engine) GroupBy(metric, tagKey string, selector Tags) map[string]Summary {
	streams, kind, _ := e.matching(metric, selector)
	accs := make(map[string]*accumulator)
	for _, s := range streams {
		v, ok := s.tags[tagKey]
		if !ok {
			continue
		}
		acc, ok := accs[v]
		if !ok {
			acc = newAccumulator()
			accs[v] = acc
		}
		s.mergeInto(acc)
	}

	elapsed := e.Elapsed()
	out := make(map[string]Summary, len(accs))
	for v, acc := range accs {
		out[v] = newSummary(metric, kind, selector.With(Tags{tagKey: v}), acc, elapsed)
	}
	return out
}

// Metrics returns the names of all metrics with at least one stream.
func (e *Engine) Metrics() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	names := make([]string, 0, len(e.streams))
	for name := range e.streams {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SetActiveVUs updates the active VU gauge of a scenario.
func (e *Engine) SetActiveVUs(scenario string, n int) {
	e.vuMu.Lock()
	e.activeVUs[scenario] = n
	total := 0
	for _, v := range e.activeVUs {
		total += v
	}
	if total > e.peakVUs {
		e.peakVUs = total
	}
	e.vuMu.Unlock()

	e.winMu.Lock()
	if w, ok := e.open[scenario]; ok && n > w.PeakVUs {
		w.PeakVUs = n
	}
	e.winMu.Unlock()

	e.Add(Sample{Metric: VUs, Value: float64(n), Time: time.Now(), Tags: Tags{TagScenario: scenario}})
}

// ActiveVUs returns the current number of active VUs across scenarios.
func (e *Engine) ActiveVUs() int {
	e.vuMu.Lock()
	defer e.vuMu.Unlock()
	total := 0
	for _, v := range e.activeVUs {
		total += v
	}
	return total
}

// PeakVUs returns the highest concurrent VU count observed.
func (e *Engine) PeakVUs() int {
	e.vuMu.Lock()
	defer e.vuMu.Unlock()
	return e.peakVUs
}

// Elapsed returns the time since the engine started, frozen by Stop.
func (e *Engine) Elapsed() time.Duration {
	e.timeMu.RLock()
	defer e.timeMu.RUnlock()
	if !e.endTime.IsZero() {
		return e.endTime.Sub(e.startTime)
	}
	return time.Since(e.startTime)
}

// StartTime returns when the engine was created.
func (e *Engine) StartTime() time.Time {
	return e.startTime
}

func (e *Engine) runEmitter(ctx context.Context) {
	defer e.emitterWg.Done()

	ticker := time.NewTicker(e.config.BucketInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			e.buckets.emit(now, e.ActiveVUs(), e.rampingUp())
		}
	}
}

// TimeSeries returns the emitted buckets in chronological order.
func (e *Engine) TimeSeries() []Bucket {
	return e.buckets.all()
}

// Stop stops the emitter, emits a final bucket and freezes Elapsed.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		e.emitterCancel()
		e.emitterWg.Wait()

		now := time.Now()
		e.CloseAllWindows(now)
		e.buckets.emit(now, e.ActiveVUs(), false)

		e.timeMu.Lock()
		e.endTime = now
		e.timeMu.Unlock()
	})
}

// Snapshot is a point-in-time view used by the live display.
type Snapshot struct {
	TotalRequests  int64         `json:"totalRequests"`
	FailedRequests int64         `json:"failedRequests"`
	Iterations     int64         `json:"iterations"`
	RPS            float64       `json:"rps"`
	SteadyStateRPS float64       `json:"steadyStateRps"`
	ErrorRate      float64       `json:"errorRate"`
	AvgLatency     float64       `json:"avgLatencyMs"`
	P95Latency     float64       `json:"p95LatencyMs"`
	ActiveVUs      int           `json:"activeVUs"`
	PeakVUs        int           `json:"peakVUs"`
	Elapsed        time.Duration `json:"elapsed"`
}

// Snapshot returns current totals and the latest interval rate.
func (e *Engine) Snapshot() *Snapshot {
	snap := &Snapshot{
		TotalRequests:  e.buckets.totalRequests.Load(),
		FailedRequests: e.buckets.totalFailures.Load(),
		ActiveVUs:      e.ActiveVUs(),
		PeakVUs:        e.PeakVUs(),
		Elapsed:        e.Elapsed(),
	}
	if snap.TotalRequests > 0 {
		snap.ErrorRate = float64(snap.FailedRequests) / float64(snap.TotalRequests)
	}
	if latest, ok := e.buckets.latest(); ok {
		snap.RPS = latest.RPS
	} else if secs := snap.Elapsed.Seconds(); secs > 0 {
		snap.RPS = float64(snap.TotalRequests) / secs
	}
	snap.SteadyStateRPS, _ = e.buckets.steadyStateRPS()
	if d, ok := e.Query(HTTPReqDuration, nil); ok {
		snap.AvgLatency = d.Avg()
		snap.P95Latency = d.Percentile(95)
	}
	if it, ok := e.Query(Iterations, nil); ok {
		snap.Iterations = int64(it.Sum)
	}
	return snap
}
