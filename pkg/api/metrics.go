package api

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the API.
type Metrics struct {
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	policyDecisions  *prometheus.CounterVec
	inspections      *prometheus.CounterVec
	validations      *prometheus.CounterVec
	trustedContracts prometheus.Gauge
	registryReloads  *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a metrics instance on a private registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "txguard_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),

		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "txguard_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		policyDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "txguard_policy_decisions_total",
				Help: "Transaction policy decisions by outcome",
			},
			[]string{"outcome"},
		),

		inspections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "txguard_eip712_inspections_total",
				Help: "Typed-data inspections by risk level",
			},
			[]string{"risk"},
		),

		validations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "txguard_preflight_validations_total",
				Help: "Pre-flight validations by recommendation",
			},
			[]string{"recommendation"},
		),

		trustedContracts: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "txguard_trusted_contracts",
				Help: "Number of trusted verifying contracts",
			},
		),

		registryReloads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "txguard_registry_reloads_total",
				Help: "Registry file reloads by status",
			},
			[]string{"status"},
		),

		registry: registry,
	}

	registry.MustRegister(
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.policyDecisions,
		m.inspections,
		m.validations,
		m.trustedContracts,
		m.registryReloads,
		collectors.NewGoCollector(),
	)

	return m
}

// RecordHTTPRequest records one served request.
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration) {
	m.httpRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	m.httpRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordPolicyDecision counts an evaluation outcome.
func (m *Metrics) RecordPolicyDecision(allowed bool) {
	outcome := "denied"
	if allowed {
		outcome = "allowed"
	}
	m.policyDecisions.WithLabelValues(outcome).Inc()
}

// RecordInspection counts an inspection by risk.
func (m *Metrics) RecordInspection(risk string) {
	m.inspections.WithLabelValues(risk).Inc()
}

// RecordValidation counts a pre-flight recommendation.
func (m *Metrics) RecordValidation(recommendation string) {
	m.validations.WithLabelValues(recommendation).Inc()
}

// SetTrustedContracts publishes the trust registry size.
func (m *Metrics) SetTrustedContracts(n int) {
	m.trustedContracts.Set(float64(n))
}

// RecordRegistryReload counts a registry file reload.
func (m *Metrics) RecordRegistryReload(status string) {
	m.registryReloads.WithLabelValues(status).Inc()
}

// Handler returns the HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// MetricsMiddleware records request counts and latencies by route pattern.
func (m *Metrics) MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		m.RecordHTTPRequest(r.Method, endpointName(r), strconv.Itoa(wrapped.statusCode), time.Since(start))
	})
}

// endpointName returns the matched chi route pattern so ids stay out of labels.
func endpointName(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
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

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hijacker, ok := rw.ResponseWriter.(http.Hijacker); ok {
		return hijacker.Hijack()
	}
	return nil, nil, fmt.Errorf("underlying ResponseWriter does not support http.Hijacker")
}
