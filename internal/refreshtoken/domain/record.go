package domain

import "time"

// Record is a persisted refresh token. Only the SHA-256 hash of the raw value is stored.
type Record struct {
	ID        string
	SubjectID string
	TokenHash string
	IssuedAt  time.Time
	ExpiresAt time.Time
	RevokedAt *time.Time // nil while active
	Device    string     // opaque client descriptor, may be empty
	ParentID  string     // record this one superseded on rotation; empty for a login
}

// Revoked reports whether the record has been revoked.
func (r *Record) Revoked() bool { return r.RevokedAt != nil }

// Expired reports whether the record is past its expiry at now.
func (r *Record) Expired(now time.Time) bool { return !now.Before(r.ExpiresAt) }

// Active reports whether the record can still be exchanged at now.
func (r *Record) Active(now time.Time) bool { return !r.Revoked() && !r.Expired(now) }
