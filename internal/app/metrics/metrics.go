// Package metrics exposes the Prometheus collectors for the dispatch
// service's HTTP surface and job lifecycle.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "lattice",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lattice",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "lattice",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		},
		[]string{"method", "path"},
	)

	jobsDispatched = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lattice",
			Subsystem: "dispatch",
			Name:      "jobs_assigned_total",
			Help:      "Total number of jobs assigned to an agent.",
		},
		[]string{"job_type"},
	)

	jobsCompleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lattice",
			Subsystem: "dispatch",
			Name:      "jobs_completed_total",
			Help:      "Total number of jobs resolved to a terminal state.",
		},
		[]string{"job_type", "terminal_state"},
	)

	heartbeats = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lattice",
			Subsystem: "agents",
			Name:      "heartbeats_total",
			Help:      "Total number of agent heartbeats received.",
		},
		[]string{"allowed"},
	)

	riskScores = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "lattice",
			Subsystem: "risk",
			Name:      "score_value",
			Help:      "Distribution of computed risk scores.",
			Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
		},
		[]string{"level"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		jobsDispatched,
		jobsCompleted,
		heartbeats,
		riskScores,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

type statusRecorder struct {
	http.ResponseWriter
	status  int
	written bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if !r.written {
		r.status = code
		r.written = true
		r.ResponseWriter.WriteHeader(code)
	}
}

// InstrumentHandler wraps next with HTTP request-count and latency metrics.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		method := strings.ToUpper(r.Method)
		httpRequests.WithLabelValues(method, r.URL.Path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, r.URL.Path).Observe(duration.Seconds())
	})
}

// RecordJobAssigned records a job handed to an agent.
func RecordJobAssigned(jobType string) {
	jobsDispatched.WithLabelValues(jobType).Inc()
}

// RecordJobTerminal records a job reaching a terminal state.
func RecordJobTerminal(jobType, terminalState string) {
	jobsCompleted.WithLabelValues(jobType, terminalState).Inc()
}

// RecordHeartbeat records an agent heartbeat and whether execution was allowed.
func RecordHeartbeat(allowed bool) {
	heartbeats.WithLabelValues(strconv.FormatBool(allowed)).Inc()
}

// RecordRiskScore records a freshly computed risk score.
func RecordRiskScore(level string, value float64) {
	riskScores.WithLabelValues(level).Observe(value)
}
