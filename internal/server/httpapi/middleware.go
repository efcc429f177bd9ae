package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"access-core/internal/audit"
	"access-core/internal/clientip"
	"access-core/internal/ratelimit"
	rbacservice "access-core/internal/rbac/service"
)

type ctxKey int

const (
	requestIDKey ctxKey = iota
	subjectKey
	tokenKey
)

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// RequestID propagates X-Request-ID or assigns a new one.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rid := strings.TrimSpace(r.Header.Get("X-Request-ID"))
		if rid == "" || len(rid) > 128 {
			rid = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", rid)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, rid)))
	})
}

// RequestIDFromContext returns the request id assigned by RequestID, or "".
func RequestIDFromContext(ctx context.Context) string {
	rid, _ := ctx.Value(requestIDKey).(string)
	return rid
}

// SubjectFromContext returns the authenticated subject, if any.
func SubjectFromContext(ctx context.Context) (string, bool) {
	s, ok := ctx.Value(subjectKey).(string)
	return s, ok && s != ""
}

func tokenFromContext(ctx context.Context) string {
	t, _ := ctx.Value(tokenKey).(string)
	return t
}

// withRequestScope resolves the client IP through the trusted proxies and installs a role graph
// cache shared by every permission check of the request.
func (a *API) withRequestScope(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := a.proxies.Resolve(r.RemoteAddr, r.Header.Get("X-Forwarded-For"), r.Header.Get("X-Real-IP"))
		ctx := rbacservice.WithCache(audit.WithClientIP(r.Context(), ip))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *API) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(sw, r)
		if exemptPaths[r.URL.Path] {
			return
		}
		a.log.WithFields(logrus.Fields{
			"request_id":  RequestIDFromContext(r.Context()),
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      sw.code,
			"duration_ms": time.Since(start).Milliseconds(),
			"client_ip":   ClientIP(r),
		}).Info("http request")
	})
}

// SecurityHeaders sets hardening headers for an API that serves JSON only.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "no-referrer")
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

// withAuth verifies the bearer token. Protected paths reject requests without a valid token;
// public paths accept a valid token so that rate limiting can key by subject.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		public := publicPaths[r.URL.Path]
		token := parseBearer(r.Header.Get("Authorization"))
		if token == "" {
			if public {
				next.ServeHTTP(w, r)
				return
			}
			w.Header().Set("WWW-Authenticate", "Bearer")
			writeError(w, r, http.StatusUnauthorized, "missing or invalid authorization")
			return
		}
		subject, err := a.facade.VerifyAccess(r.Context(), token)
		if err != nil {
			if public {
				next.ServeHTTP(w, r)
				return
			}
			a.writeAppError(w, r, err)
			return
		}
		ctx := context.WithValue(r.Context(), subjectKey, subject)
		ctx = context.WithValue(ctx, tokenKey, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// withRateLimit admits every non-exempt request, keyed by subject or client IP, and reports
// the quota in X-RateLimit-* headers.
func (a *API) withRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if exemptPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}
		d, err := a.facade.Admit(r.Context(), rateLimitKey(r))
		if d.Limit > 0 {
			setRateLimitHeaders(w.Header(), d)
		}
		if err != nil {
			a.writeAppError(w, r, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func rateLimitKey(r *http.Request) string {
	if subject, ok := SubjectFromContext(r.Context()); ok {
		return "user:" + subject
	}
	return "ip:" + ClientIP(r)
}

func setRateLimitHeaders(h http.Header, d ratelimit.Decision) {
	h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
}

// withAudit records one entry per request before the handler runs.
func (a *API) withAudit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if a.audit != nil && !exemptPaths[r.URL.Path] {
			subject, _ := SubjectFromContext(ctx)
			ar := audit.ParseHTTPRoute(r.Method, r.URL.Path)
			a.audit.LogEvent(ctx, subject, ar.Action, ar.Resource, "request_id="+RequestIDFromContext(ctx))
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ClientIP returns the client IP resolved for r by the request scope middleware. Outside of it
// the remote address is used and forwarding headers are ignored.
func ClientIP(r *http.Request) string {
	if ip := audit.ClientIPFromContext(r.Context()); ip != "" {
		return ip
	}
	if host := clientip.HostOnly(r.RemoteAddr); host != "" {
		return host
	}
	return clientip.Unknown
}

func parseBearer(header string) string {
	header = strings.TrimSpace(header)
	const prefix = "bearer "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}
