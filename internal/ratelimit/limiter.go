// Package ratelimit implements sliding-window-log admission control over Redis, with an
// in-process limiter of identical semantics and a guard that applies the degraded-mode policy.
package ratelimit

import (
	"context"
	"fmt"
	"time"
)

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	// ResetAt is when the oldest entry in the window expires and a slot frees up.
	ResetAt time.Time
	// RetryAfter is set on denial; never negative.
	RetryAfter time.Duration
	// Degraded is true when the shared counting store was not consulted.
	Degraded bool
}

// Limiter admits or denies a request for key. Implementations drop entries at or before
// now-window, count the rest, and record now only when the count is below limit, as one
// atomic step.
type Limiter interface {
	Admit(ctx context.Context, key string, limit int, window time.Duration) (Decision, error)
}

// Policy selects what happens when the shared counting store cannot be reached.
type Policy string

const (
	// PolicyFailOpen admits every request while the store is down.
	PolicyFailOpen Policy = "fail_open"
	// PolicyLocal counts in process; there is no cross-process guarantee.
	PolicyLocal Policy = "local"
	// PolicyFailClosed rejects with apperr.ErrBackendUnavailable.
	PolicyFailClosed Policy = "fail_closed"
)

// ParsePolicy parses a policy name. Empty selects PolicyFailOpen.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(s); p {
	case "":
		return PolicyFailOpen, nil
	case PolicyFailOpen, PolicyLocal, PolicyFailClosed:
		return p, nil
	}
	return "", fmt.Errorf("ratelimit: unknown degraded policy %q", s)
}

func decide(allowed bool, limit, count int, oldest, now time.Time, window time.Duration) Decision {
	d := Decision{Allowed: allowed, Limit: limit, ResetAt: oldest.Add(window)}
	if allowed {
		d.Remaining = limit - count
	} else {
		d.RetryAfter = d.ResetAt.Sub(now)
		if d.RetryAfter < 0 {
			d.RetryAfter = 0
		}
	}
	if d.Remaining < 0 {
		d.Remaining = 0
	}
	return d
}
