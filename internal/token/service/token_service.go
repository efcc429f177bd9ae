// Package service issues, verifies and rotates access/refresh token pairs.
package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"access-core/internal/apperr"
	"access-core/internal/logging"
	"access-core/internal/obs"
	refreshdomain "access-core/internal/refreshtoken/domain"
	"access-core/internal/security"
)

// RefreshStore is the refresh token persistence the service needs.
type RefreshStore interface {
	FindByHash(ctx context.Context, hash string) (*refreshdomain.Record, error)
	Insert(ctx context.Context, r *refreshdomain.Record) error
	Revoke(ctx context.Context, id string, at time.Time) (bool, error)
	RevokeAllForSubject(ctx context.Context, subjectID string, at time.Time) (int64, error)
}

// Config holds token lifetimes and the reuse policy.
type Config struct {
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	// RevokeAllOnReuse revokes every refresh token of the subject when an already revoked
	// refresh token is presented again.
	RevokeAllOnReuse bool
}

// Pair is the result of a login or a rotation. RefreshToken is the raw value and is never stored.
type Pair struct {
	SubjectID        string
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
	RefreshID        string
}

// Service implements issue, verify, rotate and revoke-all.
type Service struct {
	tokens  *security.TokenProvider
	store   RefreshStore
	cfg     Config
	now     func() time.Time
	newID   func() string
	log     logrus.FieldLogger
	metrics *obs.Metrics
}

// Option configures a Service.
type Option func(*Service)

// WithClock sets the time source for refresh records. It should match the provider's clock.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option { return func(s *Service) { s.log = l } }

// WithMetrics sets the metrics sink.
func WithMetrics(m *obs.Metrics) Option { return func(s *Service) { s.metrics = m } }

// WithIDGenerator overrides the refresh record id generator.
func WithIDGenerator(f func() string) Option { return func(s *Service) { s.newID = f } }

// NewService returns a token Service. Zero TTLs default to 30 minutes and 7 days.
func NewService(tokens *security.TokenProvider, store RefreshStore, cfg Config, opts ...Option) *Service {
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = 30 * time.Minute
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = 7 * 24 * time.Hour
	}
	s := &Service{
		tokens: tokens,
		store:  store,
		cfg:    cfg,
		now:    time.Now,
		newID:  uuid.NewString,
		log:    logging.Discard(),
	}
	for _, o := range opts {
		o(s)
	}
	s.log = s.log.WithField("component", "token")
	return s
}

// AccessTTL returns the configured access token lifetime.
func (s *Service) AccessTTL() time.Duration { return s.cfg.AccessTTL }

// IssueAccessToken signs an access token for subject valid for ttl.
func (s *Service) IssueAccessToken(subject string, ttl time.Duration) (string, time.Time, error) {
	token, _, exp, err := s.tokens.IssueAccess(subject, ttl)
	if err != nil {
		s.log.WithError(err).Error("sign access token")
		return "", time.Time{}, err
	}
	s.metrics.TokenEvent("issue_access", "ok")
	return token, exp, nil
}

// IssueRefreshToken returns a new random raw refresh value and its hash.
func (s *Service) IssueRefreshToken() (raw, hash string, err error) {
	return security.GenerateRefreshToken()
}

// IssuePair issues an access token and persists a new refresh record for subject.
func (s *Service) IssuePair(ctx context.Context, subject, device string) (*Pair, error) {
	return s.issuePair(ctx, subject, device, "")
}

func (s *Service) issuePair(ctx context.Context, subject, device, parentID string) (*Pair, error) {
	raw, hash, err := s.IssueRefreshToken()
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	rec := &refreshdomain.Record{
		ID:        s.newID(),
		SubjectID: subject,
		TokenHash: hash,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.cfg.RefreshTTL),
		Device:    device,
		ParentID:  parentID,
	}
	if err := s.store.Insert(ctx, rec); err != nil {
		return nil, apperr.Unavailable(err)
	}
	access, accessExp, err := s.IssueAccessToken(subject, s.cfg.AccessTTL)
	if err != nil {
		return nil, err
	}
	return &Pair{
		SubjectID:        subject,
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     raw,
		RefreshExpiresAt: rec.ExpiresAt,
		RefreshID:        rec.ID,
	}, nil
}

// Verify returns the subject of token if it is valid for expected. Access tokens are checked
// by signature and claims; refresh tokens by their stored record. All rejections match
// apperr.ErrInvalidToken with the same message; the reason is only logged.
func (s *Service) Verify(ctx context.Context, token string, expected security.TokenType) (string, error) {
	if expected == security.TokenTypeRefresh {
		rec, err := s.lookupActive(ctx, token)
		if err != nil {
			s.reject("verify", err)
			return "", err
		}
		return rec.SubjectID, nil
	}
	subject, err := s.tokens.Verify(token, expected)
	if err != nil {
		s.reject("verify", err)
		return "", err
	}
	s.metrics.TokenEvent("verify", "ok")
	return subject, nil
}

func (s *Service) lookupActive(ctx context.Context, raw string) (*refreshdomain.Record, error) {
	if raw == "" {
		return nil, apperr.ErrTokenNotFound
	}
	rec, err := s.store.FindByHash(ctx, security.HashRefreshToken(raw))
	if err != nil {
		return nil, apperr.Unavailable(err)
	}
	switch {
	case rec == nil:
		return nil, apperr.ErrTokenNotFound
	case rec.Revoked():
		return rec, apperr.ErrTokenRevoked
	case rec.Expired(s.now()):
		return rec, apperr.ErrTokenExpired
	}
	return rec, nil
}

// Rotate exchanges a raw refresh token for a new pair. The old record is revoked with one
// conditional update, so of several concurrent calls with the same token at most one succeeds.
// Rotation is not retryable: once the old record is revoked a failure afterwards leaves the
// caller to log in again.
func (s *Service) Rotate(ctx context.Context, raw string) (*Pair, error) {
	rec, err := s.lookupActive(ctx, raw)
	if err != nil {
		if apperr.ReasonOf(err) == apperr.TokenReasonRevoked && rec != nil {
			s.onReuse(ctx, rec)
			err = &apperr.TokenError{Reason: apperr.TokenReasonRevoked, Subject: rec.SubjectID}
		}
		s.reject("rotate", err)
		return nil, err
	}
	won, err := s.store.Revoke(ctx, rec.ID, s.now().UTC())
	if err != nil {
		return nil, apperr.Unavailable(err)
	}
	if !won {
		s.reject("rotate", apperr.ErrTokenRevoked)
		return nil, &apperr.TokenError{Reason: apperr.TokenReasonRevoked, Subject: rec.SubjectID}
	}
	pair, err := s.issuePair(ctx, rec.SubjectID, rec.Device, rec.ID)
	if err != nil {
		s.log.WithError(err).WithField("subject", rec.SubjectID).Error("rotation revoked the parent but could not issue a successor")
		return nil, err
	}
	s.metrics.TokenEvent("rotate", "ok")
	return pair, nil
}

// onReuse handles presentation of a refresh token that was already revoked.
func (s *Service) onReuse(ctx context.Context, rec *refreshdomain.Record) {
	entry := s.log.WithFields(logrus.Fields{"subject": rec.SubjectID, "record_id": rec.ID})
	s.metrics.TokenEvent("rotate", "reuse")
	if !s.cfg.RevokeAllOnReuse {
		entry.Warn("revoked refresh token presented again")
		return
	}
	n, err := s.store.RevokeAllForSubject(ctx, rec.SubjectID, s.now().UTC())
	if err != nil {
		entry.WithError(err).Error("revoke all after refresh token reuse")
		return
	}
	entry.WithField("revoked", n).Warn("revoked refresh token presented again; revoked all tokens of subject")
}

// RevokeAll revokes every active refresh token of subject. Calling it again is a no-op.
func (s *Service) RevokeAll(ctx context.Context, subject string) (int64, error) {
	n, err := s.store.RevokeAllForSubject(ctx, subject, s.now().UTC())
	if err != nil {
		return 0, apperr.Unavailable(err)
	}
	s.metrics.TokenEvent("revoke_all", "ok")
	return n, nil
}

func (s *Service) reject(event string, err error) {
	reason := apperr.ReasonOf(err)
	if reason == "" {
		s.log.WithError(err).Warn(event + " failed")
		s.metrics.TokenEvent(event, "error")
		return
	}
	s.log.WithField("reason", string(reason)).Debug(event + " rejected")
	s.metrics.TokenEvent(event, string(reason))
}
