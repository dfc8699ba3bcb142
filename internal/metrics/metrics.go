// Package metrics provides Prometheus metrics for the judge's HTTP surface
// and execution pipeline, narrowed from the teacher's cross-domain Metrics
// struct down to the concerns this repo actually has.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once     sync.Once
	instance *Metrics
)

// Metrics holds every Prometheus collector the judge registers.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	ExecutionsTotal      *prometheus.CounterVec
	ExecutionDuration    *prometheus.HistogramVec
	ExecutionsInFlight   prometheus.Gauge
	QueuePendingGauge    prometheus.Gauge
	QueueRunningGauge    prometheus.Gauge
	StaleClaimsReclaimed prometheus.Counter
}

// Get returns the singleton Metrics instance, registering its collectors
// with the default Prometheus registry on first use.
func Get() *Metrics {
	once.Do(func() {
		instance = newMetrics()
	})
	return instance
}

func newMetrics() *Metrics {
	m := &Metrics{}

	m.HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "codejudge",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by route, method, and status class",
		},
		[]string{"route", "method", "status"},
	)

	m.HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "codejudge",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"route", "method"},
	)

	m.HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "codejudge",
			Subsystem: "http",
			Name:      "requests_in_flight",
			Help:      "Current number of HTTP requests being processed",
		},
	)

	m.ExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "codejudge",
			Subsystem: "execution",
			Name:      "total",
			Help:      "Total number of job executions by language and terminal status",
		},
		[]string{"language", "status"},
	)

	m.ExecutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "codejudge",
			Subsystem: "execution",
			Name:      "duration_seconds",
			Help:      "Job execution duration in seconds, from claim to terminal commit",
			Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 20, 30, 60},
		},
		[]string{"language"},
	)

	m.ExecutionsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "codejudge",
			Subsystem: "execution",
			Name:      "in_flight",
			Help:      "Number of jobs currently claimed and executing",
		},
	)

	m.QueuePendingGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "codejudge",
			Subsystem: "queue",
			Name:      "pending",
			Help:      "Number of jobs currently in the pending state",
		},
	)

	m.QueueRunningGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "codejudge",
			Subsystem: "queue",
			Name:      "running",
			Help:      "Number of jobs currently in the running state",
		},
	)

	m.StaleClaimsReclaimed = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "codejudge",
			Subsystem: "queue",
			Name:      "stale_claims_reclaimed_total",
			Help:      "Total number of running claims reassigned to pending by the stale-claim sweeper",
		},
	)

	return m
}

// RecordHTTPRequest records one HTTP request/response cycle.
func (m *Metrics) RecordHTTPRequest(route, method string, statusCode int, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(route, method, statusCodeToLabel(statusCode)).Inc()
	m.HTTPRequestDuration.WithLabelValues(route, method).Observe(duration.Seconds())
}

// RecordExecution records one job's terminal outcome.
func (m *Metrics) RecordExecution(language, status string, duration time.Duration) {
	m.ExecutionsTotal.WithLabelValues(language, status).Inc()
	m.ExecutionDuration.WithLabelValues(language).Observe(duration.Seconds())
}

// SetQueueDepth updates the pending/running queue-depth gauges, typically
// sampled by the health endpoint or a periodic reporter.
func (m *Metrics) SetQueueDepth(pending, running int64) {
	m.QueuePendingGauge.Set(float64(pending))
	m.QueueRunningGauge.Set(float64(running))
}

func statusCodeToLabel(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
