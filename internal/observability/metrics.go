package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors this service exposes: the HTTP
// layer (every request through chi) and the orchestrator's per-agent
// dispatch path (C5 invocations).
type Metrics struct {
	registry *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	agentCalls *prometheus.CounterVec
	agentCallDuration *prometheus.HistogramVec
	agentErrors *prometheus.CounterVec
}

// NewMetrics registers every collector on a fresh registry under
// namespace (default "orchestra").
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "orchestra"
	}
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "http", Name: "requests_total",
		Help: "Total HTTP requests served.",
	}, []string{"method", "path", "status"})

	m.httpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace, Subsystem: "http", Name: "request_duration_seconds",
		Help: "HTTP request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	m.agentCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "agent", Name: "calls_total",
		Help: "Total agent dispatch attempts (C5 invocations).",
	}, []string{"agent_name"})

	m.agentCallDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace, Subsystem: "agent", Name: "call_duration_seconds",
		Help: "Agent dispatch duration in seconds.",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 15), // 10ms to 163s
	}, []string{"agent_name"})

	m.agentErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "agent", Name: "errors_total",
		Help: "Total failed agent dispatch attempts.",
	}, []string{"agent_name"})

	m.registry.MustRegister(m.httpRequests, m.httpDuration, m.agentCalls, m.agentCallDuration, m.agentErrors)
	return m
}

// Handler exposes the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordHTTPRequest records one completed HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path string, status int, d time.Duration) {
	m.httpRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, path).Observe(d.Seconds())
}

// RecordAgentCall records one completed C5 dispatch attempt.
func (m *Metrics) RecordAgentCall(agentName string, success bool, d time.Duration) {
	m.agentCalls.WithLabelValues(agentName).Inc()
	m.agentCallDuration.WithLabelValues(agentName).Observe(d.Seconds())
	if !success {
		m.agentErrors.WithLabelValues(agentName).Inc()
	}
}
