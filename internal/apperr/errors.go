// Package apperr defines the error kinds shared by the access core and the edges that map them
// to transport status codes. Callers compare with errors.Is / errors.As.
package apperr

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidCredentials is returned when a login identity/secret pair does not match.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInvalidToken is the uniform token failure. Every *TokenError matches it.
	ErrInvalidToken = errors.New("invalid token")
	// ErrPermissionDenied is returned when no role of the subject grants the requested (resource, action).
	ErrPermissionDenied = errors.New("permission denied")
	// ErrRateLimitExceeded is matched by every *RateLimitError.
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	// ErrBackendUnavailable wraps failures of the counting store or the persistence collaborator.
	ErrBackendUnavailable = errors.New("backend unavailable")
)

// TokenReason records why a token was rejected. It is for logs and audit only; it never changes
// the message a caller sees.
type TokenReason string

const (
	TokenReasonMalformed TokenReason = "malformed"
	TokenReasonSignature TokenReason = "signature"
	TokenReasonType      TokenReason = "type"
	TokenReasonExpired   TokenReason = "expired"
	TokenReasonClaims    TokenReason = "claims"
	TokenReasonRevoked   TokenReason = "revoked"
	TokenReasonNotFound  TokenReason = "not_found"
	TokenReasonInactive  TokenReason = "inactive_subject"
)

// TokenError is a token rejection with an internal reason. Error() is identical for every reason.
type TokenError struct {
	Reason TokenReason
	// Subject is the owner of a known but rejected refresh record. Never sent to clients.
	Subject string
}

func (e *TokenError) Error() string { return ErrInvalidToken.Error() }

// Is makes every TokenError match ErrInvalidToken, and two TokenErrors match when reasons agree.
func (e *TokenError) Is(target error) bool {
	if target == ErrInvalidToken {
		return true
	}
	t, ok := target.(*TokenError)
	return ok && t.Reason == e.Reason
}

var (
	// ErrTokenRevoked is returned for a refresh record whose revoked_at is set.
	ErrTokenRevoked = &TokenError{Reason: TokenReasonRevoked}
	// ErrTokenNotFound is returned when no refresh record matches the presented value.
	ErrTokenNotFound = &TokenError{Reason: TokenReasonNotFound}
	// ErrTokenExpired is returned for an expired access token or refresh record.
	ErrTokenExpired = &TokenError{Reason: TokenReasonExpired}
)

// NewTokenError returns a TokenError for reason.
func NewTokenError(reason TokenReason) *TokenError {
	return &TokenError{Reason: reason}
}

// ReasonOf returns the internal reason carried by err, or "" when err is not a TokenError.
func ReasonOf(err error) TokenReason {
	var te *TokenError
	if errors.As(err, &te) {
		return te.Reason
	}
	return ""
}

// SubjectOf returns the subject attached to a TokenError, or "".
func SubjectOf(err error) string {
	var te *TokenError
	if errors.As(err, &te) {
		return te.Subject
	}
	return ""
}

// RateLimitError is an admission denial. RetryAfter is never negative.
type RateLimitError struct {
	Limit      int
	ResetAt    time.Time
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s: retry after %ds", ErrRateLimitExceeded, RetryAfterSeconds(e.RetryAfter))
}

func (e *RateLimitError) Is(target error) bool { return target == ErrRateLimitExceeded }

// RetryAfterSeconds rounds d up to whole seconds for Retry-After headers.
func RetryAfterSeconds(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	s := int64(d / time.Second)
	if d%time.Second != 0 {
		s++
	}
	return s
}

// Unavailable wraps err as ErrBackendUnavailable, keeping the driver error text.
func Unavailable(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
}
