package telemetry

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the enforcement daemon
type Metrics struct {
	// Evaluation metrics
	evaluationsTotal   *prometheus.CounterVec
	evaluationDuration *prometheus.HistogramVec
	violationsTotal    *prometheus.CounterVec

	// Registry metrics
	publishesTotal     *prometheus.CounterVec
	registryGeneration prometheus.Gauge
	contractsLoaded    prometheus.Gauge

	// HTTP metrics
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics instance with all daemon metrics
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		evaluationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nomos_evaluations_total",
				Help: "Total number of evaluations by tenant, request kind, and outcome",
			},
			[]string{"tenant", "kind", "outcome"},
		),

		evaluationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nomos_evaluation_duration_seconds",
				Help:    "Evaluation latency in seconds",
				Buckets: []float64{.0001, .0005, .001, .0025, .005, .01, .025, .05, .1, .25},
			},
			[]string{"kind"},
		),

		violationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nomos_violations_total",
				Help: "Total number of rule violations by code and severity",
			},
			[]string{"code", "severity"},
		),

		publishesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nomos_publishes_total",
				Help: "Total number of contract publish attempts by result",
			},
			[]string{"tenant", "result"},
		),

		registryGeneration: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "nomos_registry_generation",
				Help: "Current registry snapshot generation",
			},
		),

		contractsLoaded: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "nomos_contracts_loaded",
				Help: "Number of active contracts across all tenants",
			},
		),

		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nomos_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),

		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nomos_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		registry: registry,
	}

	// Register all metrics
	registry.MustRegister(
		m.evaluationsTotal,
		m.evaluationDuration,
		m.violationsTotal,
		m.publishesTotal,
		m.registryGeneration,
		m.contractsLoaded,
		m.httpRequestsTotal,
		m.httpRequestDuration,
	)

	return m
}

// RecordEvaluation records metrics for one completed evaluation
func (m *Metrics) RecordEvaluation(tenant, kind, outcome string, duration time.Duration) {
	m.evaluationsTotal.WithLabelValues(tenant, kind, outcome).Inc()
	m.evaluationDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordViolation records a single rule violation
func (m *Metrics) RecordViolation(code, severity string) {
	m.violationsTotal.WithLabelValues(code, severity).Inc()
}

// RecordPublish records a contract publish attempt
func (m *Metrics) RecordPublish(tenant, result string) {
	m.publishesTotal.WithLabelValues(tenant, result).Inc()
}

// SetRegistryGeneration updates the registry generation gauge
func (m *Metrics) SetRegistryGeneration(generation int64) {
	m.registryGeneration.Set(float64(generation))
}

// SetContractsLoaded updates the active contract count gauge
func (m *Metrics) SetContractsLoaded(count int) {
	m.contractsLoaded.Set(float64(count))
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration) {
	m.httpRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	m.httpRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// Handler returns the Prometheus metrics HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Middleware creates HTTP middleware that records request metrics
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Wrap response writer to capture status code
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)
		endpoint := endpointName(r.URL.Path)
		statusCode := strconv.Itoa(wrapped.statusCode)

		m.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)
	})
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Flush() {
	if flusher, ok := rw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// endpointName extracts a normalized endpoint name from the path, keeping
// label cardinality bounded even when paths embed contract identifiers.
func endpointName(path string) string {
	switch path {
	case "/healthz":
		return "healthz"
	case "/metrics":
		return "metrics"
	case "/v1/evaluate":
		return "evaluate"
	case "/v1/evaluate/batch":
		return "evaluate_batch"
	case "/v1/contracts":
		return "contracts"
	}
	if strings.HasPrefix(path, "/v1/contracts/") {
		return "contracts"
	}
	return "unknown"
}
