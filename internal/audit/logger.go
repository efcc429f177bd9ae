package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"access-core/internal/audit/domain"
	auditrepo "access-core/internal/audit/repository"
)

// AnonymousSubject is the subject_id used for events with no authenticated subject
// (e.g. login_failure for an unknown email, requests without a bearer token).
const AnonymousSubject = "_anonymous"

// IPExtractor returns the client IP from the request context (e.g. gRPC peer or HTTP request).
type IPExtractor func(context.Context) string

// AuditLogger writes a single audit event with explicit action/resource.
// LogEvent is best-effort: failures are logged and do not affect the caller.
type AuditLogger interface {
	LogEvent(ctx context.Context, subjectID, action, resource, metadata string)
}

// Option configures a Logger.
type Option func(*Logger)

// WithIPExtractor sets the function used to resolve the client IP.
func WithIPExtractor(fn IPExtractor) Option {
	return func(l *Logger) { l.ipExtractor = fn }
}

// WithLogger sets the logger used to report persistence failures.
func WithLogger(log logrus.FieldLogger) Option {
	return func(l *Logger) { l.log = log.WithField("component", "audit") }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Logger) { l.now = now }
}

// Logger implements AuditLogger using the audit repository.
type Logger struct {
	repo        auditrepo.Repository
	ipExtractor IPExtractor
	log         logrus.FieldLogger
	now         func() time.Time
}

// NewLogger returns an AuditLogger that persists to repo. Without WithIPExtractor the IP is
// taken from the request context (see WithClientIP) and falls back to "unknown".
func NewLogger(repo auditrepo.Repository, opts ...Option) *Logger {
	l := &Logger{
		repo: repo,
		log:  logrus.StandardLogger().WithField("component", "audit"),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// LogEvent writes one audit log entry. Best-effort: errors are logged and not returned.
func (l *Logger) LogEvent(ctx context.Context, subjectID, action, resource, metadata string) {
	if l == nil || l.repo == nil {
		return
	}
	ip := ClientIPFromContext(ctx)
	if l.ipExtractor != nil {
		ip = l.ipExtractor(ctx)
	}
	if ip == "" {
		ip = "unknown"
	}
	if subjectID == "" {
		subjectID = AnonymousSubject
	}
	entry := &domain.AuditLog{
		ID:        uuid.New().String(),
		SubjectID: subjectID,
		Action:    action,
		Resource:  resource,
		IP:        ip,
		Metadata:  metadata,
		CreatedAt: l.now().UTC(),
	}
	if err := l.repo.Create(ctx, entry); err != nil {
		l.log.WithError(err).WithFields(logrus.Fields{"action": action, "resource": resource}).
			Warn("failed to record audit event")
	}
}

type clientIPKey struct{}

// WithClientIP returns a context carrying the client IP for audit entries.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey{}, ip)
}

// ClientIPFromContext returns the client IP stored by WithClientIP, or "".
func ClientIPFromContext(ctx context.Context) string {
	ip, _ := ctx.Value(clientIPKey{}).(string)
	return ip
}
