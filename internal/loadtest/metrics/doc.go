// Package metrics aggregates load-test samples into tagged metric streams.
//
// Every sample belongs to a stream identified by its metric name and its
// full tag set. Queries take a tag selector and merge every stream whose
// tags are a superset of the selector, so `http_req_duration{rampUp:false}`
// sees the union of all steady-state streams across scenarios.
//
// # Metric kinds
//
//   - Trend: HDR histogram of values (count, avg, min, med, max, p(N))
//   - Rate: fraction of non-zero samples
//   - Counter: running sum, reported together with a per-second rate
//   - Gauge: last value and its peak
//
// # Thread Safety
//
// Engine is safe for concurrent use. The stream index is protected by a
// read-write mutex and every stream carries its own mutex, so VUs recording
// into different streams never contend on a single lock.
package metrics
