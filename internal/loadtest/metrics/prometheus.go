package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusSink mirrors request, check and VU samples into Prometheus
// collectors on a private registry.
type PrometheusSink struct {
	registry *prometheus.Registry

	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	failed   *prometheus.CounterVec
	checks   *prometheus.CounterVec
	vus      *prometheus.GaugeVec
}

var requestLabels = []string{TagScenario, TagRampUp, TagName, TagMethod, TagStatus}

// NewPrometheusSink creates the collectors and registers them.
func NewPrometheusSink() *PrometheusSink {
	s := &PrometheusSink{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "k7_http_reqs_total",
				Help: "Total number of HTTP requests made by virtual users",
			},
			requestLabels,
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "k7_http_req_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			requestLabels,
		),
		failed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "k7_http_req_failed_total",
				Help: "Total number of failed HTTP requests",
			},
			requestLabels,
		),
		checks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "k7_checks_total",
				Help: "Check outcomes by check name",
			},
			[]string{TagScenario, TagCheck, "result"},
		),
		vus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "k7_vus",
				Help: "Currently active virtual users",
			},
			[]string{TagScenario},
		),
	}

	s.registry.MustRegister(s.requests, s.duration, s.failed, s.checks, s.vus)
	return s
}

// AddSample implements Sink.
func (s *PrometheusSink) AddSample(sample Sample) {
	switch sample.Metric {
	case HTTPReqs:
		s.requests.With(s.requestLabels(sample.Tags)).Add(sample.Value)
	case HTTPReqDuration:
		s.duration.With(s.requestLabels(sample.Tags)).Observe(sample.Value / 1000)
	case HTTPReqFailed:
		if sample.Value != 0 {
			s.failed.With(s.requestLabels(sample.Tags)).Inc()
		}
	case Checks:
		result := "fail"
		if sample.Value != 0 {
			result = "pass"
		}
		s.checks.WithLabelValues(sample.Tags[TagScenario], sample.Tags[TagCheck], result).Inc()
	case VUs:
		s.vus.WithLabelValues(sample.Tags[TagScenario]).Set(sample.Value)
	}
}

func (s *PrometheusSink) requestLabels(tags Tags) prometheus.Labels {
	labels := make(prometheus.Labels, len(requestLabels))
	for _, l := range requestLabels {
		labels[l] = tags[l]
	}
	return labels
}

// Registry returns the registry holding the k7 collectors.
func (s *PrometheusSink) Registry() *prometheus.Registry {
	return s.registry
}

// Handler returns an HTTP handler serving the collectors.
func (s *PrometheusSink) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}
