// Package httpapi is the HTTP edge of the access core: login, refresh, logout and identity
// endpoints behind bearer authentication, rate limiting and audit middleware.
package httpapi

import (
	"net/http"

	"github.com/sirupsen/logrus"

	"access-core/internal/access"
	"access-core/internal/audit"
	"access-core/internal/clientip"
	"access-core/internal/logging"
	"access-core/internal/obs"
)

// Paths that skip bearer authentication. Exempt paths additionally skip rate limiting and audit.
var (
	publicPaths = map[string]bool{
		"/healthz":      true,
		"/metrics":      true,
		"/auth/login":   true,
		"/auth/refresh": true,
	}
	exemptPaths = map[string]bool{
		"/healthz": true,
		"/metrics": true,
	}
)

// API serves the HTTP edge.
type API struct {
	facade  *access.Facade
	audit   audit.AuditLogger
	log     logrus.FieldLogger
	metrics *obs.Metrics
	ready   func() bool
	scrape  http.Handler
	proxies *clientip.Proxies
}

// Option configures an API.
type Option func(*API)

// WithAuditor records one audit entry per non-exempt request.
func WithAuditor(a audit.AuditLogger) Option { return func(api *API) { api.audit = a } }

// WithLogger sets the request logger. Defaults to a discarding logger.
func WithLogger(l logrus.FieldLogger) Option { return func(api *API) { api.log = l } }

// WithMetrics instruments every route with the HTTP request metrics.
func WithMetrics(m *obs.Metrics) Option { return func(api *API) { api.metrics = m } }

// WithTrustedProxies believes X-Forwarded-For and X-Real-IP only from peers inside p.
// Without it the remote address is the client IP.
func WithTrustedProxies(p *clientip.Proxies) Option { return func(api *API) { api.proxies = p } }

// WithReadiness sets the check behind /healthz. Without it /healthz always reports ok.
func WithReadiness(ready func() bool) Option { return func(api *API) { api.ready = ready } }

// WithMetricsHandler also serves h on GET /metrics.
func WithMetricsHandler(h http.Handler) Option { return func(api *API) { api.scrape = h } }

// New returns an API backed by facade.
func New(facade *access.Facade, opts ...Option) *API {
	api := &API{facade: facade, log: logging.Discard()}
	for _, o := range opts {
		o(api)
	}
	api.log = api.log.WithField("component", "http")
	return api
}

// Handler returns the routed handler wrapped in the middleware chain
// request id -> request scope -> logging -> security headers -> metrics -> auth -> rate limit -> audit.
func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/login", a.handleLogin)
	mux.HandleFunc("POST /auth/refresh", a.handleRefresh)
	mux.HandleFunc("POST /auth/logout", a.handleLogout)
	mux.HandleFunc("GET /auth/me", a.handleMe)
	mux.HandleFunc("GET /healthz", a.handleHealth)
	if a.scrape != nil {
		mux.Handle("GET /metrics", a.scrape)
	}

	var h http.Handler = mux
	h = a.withAudit(h)
	h = a.withRateLimit(h)
	h = a.withAuth(h)
	h = a.metrics.Instrument(h)
	h = SecurityHeaders(h)
	h = a.withLogging(h)
	h = a.withRequestScope(h)
	h = RequestID(h)
	return h
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if a.ready != nil && !a.ready() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
