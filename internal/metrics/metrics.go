// Package metrics holds the Prometheus collectors shared by the guard, the
// audit logger, and the command pipeline.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is safe to use as a nil pointer; every recorder is a no-op then.
type Metrics struct {
	authzDecisions     *prometheus.CounterVec
	auditWriteFailures prometheus.Counter
	commandsSubmitted  *prometheus.CounterVec
	commandTransitions *prometheus.CounterVec
	capabilityCalls    *prometheus.CounterVec
	processDuration    prometheus.Histogram
	httpRequests       *prometheus.CounterVec
	httpDuration       *prometheus.HistogramVec
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		authzDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "domus_authz_decisions_total",
			Help: "Access guard decisions by resource type and reason.",
		}, []string{"resource", "reason"}),
		auditWriteFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "domus_audit_write_failures_total",
			Help: "Security events that could not be persisted.",
		}),
		commandsSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "domus_commands_submitted_total",
			Help: "Command intake outcomes (accepted or rejection reason).",
		}, []string{"outcome"}),
		commandTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "domus_command_transitions_total",
			Help: "Command state transitions by target state.",
		}, []string{"to"}),
		capabilityCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "domus_capability_calls_total",
			Help: "AI capability invocations by stage and result.",
		}, []string{"stage", "result"}),
		processDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "domus_command_process_seconds",
			Help:    "Wall time from dequeue to terminal state.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "domus_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "domus_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "status"}),
	}

	reg.MustRegister(
		m.authzDecisions, m.auditWriteFailures, m.commandsSubmitted, m.commandTransitions,
		m.capabilityCalls, m.processDuration, m.httpRequests, m.httpDuration,
	)

	return m
}

func (m *Metrics) AuthzDecision(resource, reason string) {
	if m == nil {
		return
	}
	m.authzDecisions.WithLabelValues(resource, reason).Inc()
}

func (m *Metrics) AuditWriteFailed() {
	if m == nil {
		return
	}
	m.auditWriteFailures.Inc()
}

func (m *Metrics) CommandSubmitted(outcome string) {
	if m == nil {
		return
	}
	m.commandsSubmitted.WithLabelValues(outcome).Inc()
}

func (m *Metrics) CommandTransition(to string) {
	if m == nil {
		return
	}
	m.commandTransitions.WithLabelValues(to).Inc()
}

func (m *Metrics) CapabilityCall(stage, result string) {
	if m == nil {
		return
	}
	m.capabilityCalls.WithLabelValues(stage, result).Inc()
}

func (m *Metrics) ObserveProcessing(d time.Duration) {
	if m == nil {
		return
	}
	m.processDuration.Observe(d.Seconds())
}

// Handler serves the default gatherer.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Instrument records request count and latency. Paths are left out of the
// labels to keep cardinality bounded.
func (m *Metrics) Instrument(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		status := strconv.Itoa(sw.code)
		m.httpDuration.WithLabelValues(r.Method, status).Observe(time.Since(start).Seconds())
		m.httpRequests.WithLabelValues(r.Method, status).Inc()
	})
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying writer
// (websocket upgrades need the Hijacker).
func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
