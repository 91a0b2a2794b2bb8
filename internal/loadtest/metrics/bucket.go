package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// Bucket is one interval of the request time series.
type Bucket struct {
	Timestamp     time.Time `json:"timestamp"`
	TotalRequests int64     `json:"totalRequests"`
	TotalFailures int64     `json:"totalFailures"`
	Requests      int64     `json:"requests"`
	RPS           float64   `json:"rps"`
	ErrorRate     float64   `json:"errorRate"`
	ActiveVUs     int       `json:"activeVUs"`
	RampUp        bool      `json:"rampUp"`
}

// bucketStore keeps interval buckets in a ring buffer.
//
// Requests are accumulated lock-free between emissions; emit swaps the
// accumulators and appends one bucket.
type bucketStore struct {
	mu       sync.RWMutex
	buckets  []Bucket
	head     int
	count    int
	lastEmit time.Time

	intervalRequests atomic.Int64
	intervalFailures atomic.Int64
	totalRequests    atomic.Int64
	totalFailures    atomic.Int64
}

func newBucketStore(max int) *bucketStore {
	if max <= 0 {
		max = 3600
	}
	return &bucketStore{
		buckets:  make([]Bucket, max),
		lastEmit: time.Now(),
	}
}

func (b *bucketStore) record(failed bool) {
	b.intervalRequests.Add(1)
	b.totalRequests.Add(1)
	if failed {
		b.intervalFailures.Add(1)
		b.totalFailures.Add(1)
	}
}

func (b *bucketStore) emit(now time.Time, activeVUs int, rampUp bool) Bucket {
	b.mu.Lock()
	defer b.mu.Unlock()

	reqs := b.intervalRequests.Swap(0)
	fails := b.intervalFailures.Swap(0)

	secs := now.Sub(b.lastEmit).Seconds()
	if secs <= 0 {
		secs = 1
	}
	bucket := Bucket{
		Timestamp:     now,
		TotalRequests: b.totalRequests.Load(),
		TotalFailures: b.totalFailures.Load(),
		Requests:      reqs,
		RPS:           float64(reqs) / secs,
		ActiveVUs:     activeVUs,
		RampUp:        rampUp,
	}
	if reqs > 0 {
		bucket.ErrorRate = float64(fails) / float64(reqs)
	}

	b.buckets[b.head] = bucket
	b.head = (b.head + 1) % len(b.buckets)
	if b.count < len(b.buckets) {
		b.count++
	}
	b.lastEmit = now
	return bucket
}

// all returns the buckets in chronological order.
func (b *bucketStore) all() []Bucket {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]Bucket, b.count)
	start := 0
	if b.count == len(b.buckets) {
		start = b.head
	}
	for i := 0; i < b.count; i++ {
		out[i] = b.buckets[(start+i)%len(b.buckets)]
	}
	return out
}

func (b *bucketStore) latest() (Bucket, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.count == 0 {
		return Bucket{}, false
	}
	return b.buckets[(b.head-1+len(b.buckets))%len(b.buckets)], true
}

// steadyStateRPS averages the interval RPS of buckets outside ramp-up.
func (b *bucketStore) steadyStateRPS() (float64, int) {
	var total float64
	n := 0
	for _, bucket := range b.all() {
		if bucket.RampUp {
			continue
		}
		total += bucket.RPS
		n++
	}
	if n == 0 {
		return 0, 0
	}
	return total / float64(n), n
}
