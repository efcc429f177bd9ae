// Package access composes token issuance, refresh rotation, role resolution and admission
// control into the single entry point used by the gRPC and HTTP edges.
package access

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"access-core/internal/apperr"
	auditdomain "access-core/internal/audit/domain"
	"access-core/internal/logging"
	rbacdomain "access-core/internal/rbac/domain"
	"access-core/internal/ratelimit"
	"access-core/internal/security"
	tokenservice "access-core/internal/token/service"
	userdomain "access-core/internal/user/domain"
)

const tracerName = "access-core/internal/access"

// UserStore is the read side of the identity store.
type UserStore interface {
	GetByID(ctx context.Context, id string) (*userdomain.User, error)
	GetByEmail(ctx context.Context, email string) (*userdomain.User, error)
}

// Tokens is the token service surface the facade needs.
type Tokens interface {
	IssuePair(ctx context.Context, subject, device string) (*tokenservice.Pair, error)
	Verify(ctx context.Context, token string, expected security.TokenType) (string, error)
	Rotate(ctx context.Context, raw string) (*tokenservice.Pair, error)
	RevokeAll(ctx context.Context, subject string) (int64, error)
}

// Permissions is the RBAC resolver surface the facade needs.
type Permissions interface {
	RolesFor(ctx context.Context, subject string) (map[string]struct{}, error)
	HasPermission(ctx context.Context, subject, resource string, action rbacdomain.Action) (bool, error)
}

// Auditor records best-effort audit events.
type Auditor interface {
	LogEvent(ctx context.Context, subjectID, action, resource, metadata string)
}

// Config holds the default admission quota.
type Config struct {
	RateLimit  int
	RateWindow time.Duration
}

// TokenPair is returned by login and refresh.
type TokenPair struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	ExpiresIn    int64     `json:"expires_in"`
	SubjectID    string    `json:"-"`
	ExpiresAt    time.Time `json:"-"`
}

// Facade is the AccessControlFacade.
type Facade struct {
	tokens  Tokens
	rbac    Permissions
	limiter ratelimit.Limiter
	users   UserStore
	hasher  *security.Hasher
	audit   Auditor
	cfg     Config
	now     func() time.Time
	log     logrus.FieldLogger
	tracer  trace.Tracer
}

// Option configures a Facade.
type Option func(*Facade)

// WithLogger sets the logger. Defaults to a discarding logger.
func WithLogger(l logrus.FieldLogger) Option { return func(f *Facade) { f.log = l } }

// WithAuditor records login, rotation, reuse and logout events.
func WithAuditor(a Auditor) Option { return func(f *Facade) { f.audit = a } }

// WithClock sets the clock used for expires_in.
func WithClock(now func() time.Time) Option { return func(f *Facade) { f.now = now } }

// WithTracerProvider overrides the global tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(f *Facade) { f.tracer = tp.Tracer(tracerName) }
}

// New returns a Facade. limiter is normally a *ratelimit.Guard so that backend failures follow
// the configured degraded policy.
func New(tokens Tokens, rbac Permissions, limiter ratelimit.Limiter, users UserStore, hasher *security.Hasher, cfg Config, opts ...Option) *Facade {
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 100
	}
	if cfg.RateWindow <= 0 {
		cfg.RateWindow = time.Minute
	}
	f := &Facade{
		tokens:  tokens,
		rbac:    rbac,
		limiter: limiter,
		users:   users,
		hasher:  hasher,
		cfg:     cfg,
		now:     time.Now,
		log:     logging.Discard(),
		tracer:  otel.Tracer(tracerName),
	}
	for _, o := range opts {
		o(f)
	}
	f.log = f.log.WithField("component", "access")
	return f
}

// Authenticate checks email and password against the identity store and issues a token pair.
// Every mismatch returns apperr.ErrInvalidCredentials.
func (f *Facade) Authenticate(ctx context.Context, email, password, device string) (*TokenPair, error) {
	ctx, span := f.tracer.Start(ctx, "access.Authenticate")
	defer span.End()

	email = userdomain.NormalizeEmail(email)
	u, err := f.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, f.fail(span, apperr.Unavailable(err))
	}
	if u == nil {
		f.hasher.Burn(password)
		f.auditEvent(ctx, "", auditdomain.ActionLoginFailure, "")
		return nil, f.fail(span, apperr.ErrInvalidCredentials)
	}
	if !f.hasher.Verify(u.PasswordHash, password) || !u.Active() {
		f.auditEvent(ctx, u.ID, auditdomain.ActionLoginFailure, "")
		return nil, f.fail(span, apperr.ErrInvalidCredentials)
	}
	pair, err := f.tokens.IssuePair(ctx, u.ID, device)
	if err != nil {
		return nil, f.fail(span, err)
	}
	span.SetAttributes(attribute.String("subject", u.ID))
	f.auditEvent(ctx, u.ID, auditdomain.ActionLoginSuccess, deviceMeta(device))
	return f.toTokenPair(pair), nil
}

// VerifyAccess returns the subject of a valid access token.
func (f *Facade) VerifyAccess(ctx context.Context, token string) (string, error) {
	return f.tokens.Verify(ctx, token, security.TokenTypeAccess)
}

// Identify verifies an access token and loads its subject. A subject that no longer exists or
// is disabled yields the same apperr.ErrInvalidToken as a bad token.
func (f *Facade) Identify(ctx context.Context, token string) (*userdomain.User, error) {
	ctx, span := f.tracer.Start(ctx, "access.Identify")
	defer span.End()

	subject, err := f.VerifyAccess(ctx, token)
	if err != nil {
		return nil, f.fail(span, err)
	}
	u, err := f.users.GetByID(ctx, subject)
	if err != nil {
		return nil, f.fail(span, apperr.Unavailable(err))
	}
	if u == nil || !u.Active() {
		f.log.WithFields(logrus.Fields{"subject": subject, "reason": apperr.TokenReasonInactive}).Debug("identify rejected")
		return nil, f.fail(span, apperr.NewTokenError(apperr.TokenReasonInactive))
	}
	return u, nil
}

// Rotate exchanges a refresh token for a new pair. A revoked token presented again is audited
// as token_reuse; the caller sees the uniform invalid token error either way.
func (f *Facade) Rotate(ctx context.Context, refreshToken string) (*TokenPair, error) {
	ctx, span := f.tracer.Start(ctx, "access.Rotate")
	defer span.End()

	pair, err := f.tokens.Rotate(ctx, refreshToken)
	if err != nil {
		if apperr.ReasonOf(err) == apperr.TokenReasonRevoked {
			f.auditEvent(ctx, apperr.SubjectOf(err), auditdomain.ActionTokenReuse, "")
		}
		return nil, f.fail(span, err)
	}
	f.auditEvent(ctx, pair.SubjectID, auditdomain.ActionTokenRotated, "")
	return f.toTokenPair(pair), nil
}

// Logout revokes every refresh token of subject. Idempotent.
func (f *Facade) Logout(ctx context.Context, subject string) error {
	ctx, span := f.tracer.Start(ctx, "access.Logout", trace.WithAttributes(attribute.String("subject", subject)))
	defer span.End()

	n, err := f.tokens.RevokeAll(ctx, subject)
	if err != nil {
		return f.fail(span, err)
	}
	f.auditEvent(ctx, subject, auditdomain.ActionLogout, fmt.Sprintf("revoked=%d", n))
	return nil
}

// Roles returns the role names held by subject, sorted.
func (f *Facade) Roles(ctx context.Context, subject string) ([]string, error) {
	set, err := f.rbac.RolesFor(ctx, subject)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(set))
	for name := range set {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

// Authorize returns nil if subject holds (resource, action) and apperr.ErrPermissionDenied otherwise.
func (f *Facade) Authorize(ctx context.Context, subject, resource string, action rbacdomain.Action) error {
	ctx, span := f.tracer.Start(ctx, "access.Authorize", trace.WithAttributes(
		attribute.String("subject", subject),
		attribute.String("resource", resource),
		attribute.String("action", string(action)),
	))
	defer span.End()

	ok, err := f.rbac.HasPermission(ctx, subject, resource, action)
	if err != nil {
		return f.fail(span, err)
	}
	if !ok {
		return f.fail(span, fmt.Errorf("%w: %s:%s", apperr.ErrPermissionDenied, resource, action))
	}
	return nil
}

// Admit applies the default quota to key. See AdmitWithin.
func (f *Facade) Admit(ctx context.Context, key string) (ratelimit.Decision, error) {
	return f.AdmitWithin(ctx, key, f.cfg.RateLimit, f.cfg.RateWindow)
}

// AdmitWithin runs one admission check. A denial returns the decision together with an
// *apperr.RateLimitError so callers can still emit rate-limit headers.
func (f *Facade) AdmitWithin(ctx context.Context, key string, limit int, window time.Duration) (ratelimit.Decision, error) {
	ctx, span := f.tracer.Start(ctx, "access.Admit")
	defer span.End()

	d, err := f.limiter.Admit(ctx, key, limit, window)
	if err != nil {
		return d, f.fail(span, err)
	}
	span.SetAttributes(attribute.Bool("allowed", d.Allowed), attribute.Bool("degraded", d.Degraded))
	if !d.Allowed {
		return d, &apperr.RateLimitError{Limit: d.Limit, ResetAt: d.ResetAt, RetryAfter: d.RetryAfter}
	}
	return d, nil
}

func (f *Facade) toTokenPair(p *tokenservice.Pair) *TokenPair {
	expiresIn := int64(p.AccessExpiresAt.Sub(f.now()).Round(time.Second) / time.Second)
	if expiresIn < 0 {
		expiresIn = 0
	}
	return &TokenPair{
		AccessToken:  p.AccessToken,
		RefreshToken: p.RefreshToken,
		TokenType:    "bearer",
		ExpiresIn:    expiresIn,
		SubjectID:    p.SubjectID,
		ExpiresAt:    p.AccessExpiresAt,
	}
}

func (f *Facade) auditEvent(ctx context.Context, subject, action, metadata string) {
	if f.audit == nil {
		return
	}
	f.audit.LogEvent(ctx, subject, action, "auth", metadata)
}

// fail marks span with err unless err is an expected client-side rejection.
func (f *Facade) fail(span trace.Span, err error) error {
	if errors.Is(err, apperr.ErrBackendUnavailable) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetAttributes(attribute.String("rejection", rejection(err)))
	}
	return err
}

func rejection(err error) string {
	switch {
	case errors.Is(err, apperr.ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, apperr.ErrInvalidToken):
		return "invalid_token"
	case errors.Is(err, apperr.ErrPermissionDenied):
		return "permission_denied"
	case errors.Is(err, apperr.ErrRateLimitExceeded):
		return "rate_limited"
	default:
		return "error"
	}
}

func deviceMeta(device string) string {
	if device == "" {
		return ""
	}
	return "device=" + device
}
