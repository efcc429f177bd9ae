package domain

import "time"

// AuditLog represents an audit event.
type AuditLog struct {
	ID        string
	SubjectID string
	Action    string
	Resource  string
	IP        string
	Metadata  string
	CreatedAt time.Time
}

// Actions recorded by the access core itself. Interceptors and middleware record
// request-derived actions in addition to these.
const (
	ActionLoginSuccess = "login_success"
	ActionLoginFailure = "login_failure"
	ActionTokenRotated = "token_rotated"
	ActionTokenReuse   = "token_reuse"
	ActionLogout       = "logout"
)
