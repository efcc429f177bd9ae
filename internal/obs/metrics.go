// Package obs holds the Prometheus metrics of the access core.
package obs

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Rate limit outcomes.
const (
	OutcomeAllowed  = "allowed"
	OutcomeDenied   = "denied"
	OutcomeDegraded = "degraded"
)

// Metrics groups the counters recorded by the access core. A nil *Metrics is valid and records nothing.
type Metrics struct {
	rateLimitDecisions *prometheus.CounterVec
	tokenEvents        *prometheus.CounterVec
	authzChecks        *prometheus.CounterVec
	httpRequests       *prometheus.CounterVec
	httpDuration       *prometheus.HistogramVec
	httpInFlight       prometheus.Gauge
}

// NewMetrics creates the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		rateLimitDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "access_rate_limit_decisions_total",
			Help: "Rate limiter admission decisions by outcome.",
		}, []string{"outcome"}),
		tokenEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "access_token_events_total",
			Help: "Token issuance, verification and rotation events.",
		}, []string{"event", "result"}),
		authzChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "access_authz_checks_total",
			Help: "Permission checks by result.",
		}, []string{"result"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_in_flight_requests",
			Help: "In-flight HTTP requests.",
		}),
	}
	reg.MustRegister(m.rateLimitDecisions, m.tokenEvents, m.authzChecks, m.httpRequests, m.httpDuration, m.httpInFlight)
	return m
}

// RateLimitDecision counts one admission decision.
func (m *Metrics) RateLimitDecision(outcome string) {
	if m == nil {
		return
	}
	m.rateLimitDecisions.WithLabelValues(outcome).Inc()
}

// TokenEvent counts a token event such as ("rotate", "ok") or ("verify", "expired").
func (m *Metrics) TokenEvent(event, result string) {
	if m == nil {
		return
	}
	m.tokenEvents.WithLabelValues(event, result).Inc()
}

// AuthzCheck counts a permission check.
func (m *Metrics) AuthzCheck(allowed bool) {
	if m == nil {
		return
	}
	result := "denied"
	if allowed {
		result = "allowed"
	}
	m.authzChecks.WithLabelValues(result).Inc()
}

// Handler serves the metrics registered on g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Instrument records RPS, latency and in-flight requests for next.
func (m *Metrics) Instrument(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.httpInFlight.Inc()
		defer m.httpInFlight.Dec()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		status := strconv.Itoa(sw.code)
		m.httpDuration.WithLabelValues(r.Method, r.URL.Path, status).Observe(time.Since(start).Seconds())
		m.httpRequests.WithLabelValues(r.Method, r.URL.Path, status).Inc()
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
