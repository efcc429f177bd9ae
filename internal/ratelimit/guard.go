package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"access-core/internal/apperr"
	"access-core/internal/logging"
	"access-core/internal/obs"
)

// Guard consults the shared limiter through a circuit breaker and applies the degraded-mode
// policy when it is unreachable. A nil primary runs degraded from the start.
type Guard struct {
	primary  Limiter
	fallback *MemoryLimiter
	policy   Policy
	breaker  *gobreaker.CircuitBreaker
	now      func() time.Time
	log      logrus.FieldLogger
	metrics  *obs.Metrics
}

// GuardOption configures a Guard.
type GuardOption func(*Guard)

// WithLogger sets the logger for breaker transitions and degraded decisions.
func WithLogger(l logrus.FieldLogger) GuardOption { return func(g *Guard) { g.log = l } }

// WithMetrics records every decision, including degraded ones.
func WithMetrics(m *obs.Metrics) GuardOption { return func(g *Guard) { g.metrics = m } }

// WithClock sets the clock used for degraded decisions and the local fallback.
func WithClock(now func() time.Time) GuardOption { return func(g *Guard) { g.now = now } }

// WithBreakerSettings overrides the circuit breaker settings. Name and OnStateChange are kept
// when empty.
func WithBreakerSettings(st gobreaker.Settings) GuardOption {
	return func(g *Guard) { g.breaker = g.newBreaker(st) }
}

// NewGuard returns a Guard over primary with the given degraded policy.
func NewGuard(primary Limiter, policy Policy, opts ...GuardOption) *Guard {
	g := &Guard{
		primary: primary,
		policy:  policy,
		now:     time.Now,
		log:     logging.Discard(),
	}
	if g.policy == "" {
		g.policy = PolicyFailOpen
	}
	g.breaker = g.newBreaker(gobreaker.Settings{})
	for _, o := range opts {
		o(g)
	}
	g.fallback = NewMemoryLimiter(g.now)
	g.log = g.log.WithField("component", "ratelimit")
	return g
}

func (g *Guard) newBreaker(st gobreaker.Settings) *gobreaker.CircuitBreaker {
	if st.Name == "" {
		st.Name = "ratelimit-redis"
	}
	if st.Timeout == 0 {
		st.Timeout = 10 * time.Second
	}
	if st.ReadyToTrip == nil {
		st.ReadyToTrip = func(c gobreaker.Counts) bool { return c.ConsecutiveFailures >= 5 }
	}
	if st.IsSuccessful == nil {
		// A canceled caller says nothing about backend health.
		st.IsSuccessful = func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		}
	}
	if st.OnStateChange == nil {
		st.OnStateChange = func(name string, from, to gobreaker.State) {
			g.log.WithFields(logrus.Fields{"breaker": name, "from": from.String(), "to": to.String()}).Warn("rate limit backend breaker changed state")
		}
	}
	return gobreaker.NewCircuitBreaker(st)
}

// Policy returns the degraded-mode policy.
func (g *Guard) Policy() Policy { return g.policy }

// Admit implements Limiter. With PolicyFailClosed a backend failure returns an error wrapping
// apperr.ErrBackendUnavailable; the other policies never fail on backend errors.
func (g *Guard) Admit(ctx context.Context, key string, limit int, window time.Duration) (Decision, error) {
	if g.primary == nil {
		return g.degraded(ctx, key, limit, window, errors.New("no shared counting store configured"))
	}
	res, err := g.breaker.Execute(func() (interface{}, error) {
		return g.primary.Admit(ctx, key, limit, window)
	})
	if err == nil {
		d := res.(Decision)
		g.record(d)
		return d, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return Decision{}, ctxErr
	}
	return g.degraded(ctx, key, limit, window, err)
}

func (g *Guard) degraded(ctx context.Context, key string, limit int, window time.Duration, cause error) (Decision, error) {
	entry := g.log.WithError(cause).WithField("policy", string(g.policy))
	warn := entry.Warn
	if g.primary == nil {
		// Reported once at startup.
		warn = entry.Debug
	}
	switch g.policy {
	case PolicyFailClosed:
		warn("rate limit backend unavailable; rejecting")
		g.metrics.RateLimitDecision(obs.OutcomeDenied)
		return Decision{Limit: limit, ResetAt: g.now().Add(window), Degraded: true}, apperr.Unavailable(cause)
	case PolicyLocal:
		warn("rate limit backend unavailable; counting in process")
		d, _ := g.fallback.Admit(ctx, key, limit, window)
		d.Degraded = true
		g.record(d)
		return d, nil
	default:
		warn("rate limit backend unavailable; admitting")
		g.metrics.RateLimitDecision(obs.OutcomeDegraded)
		return Decision{
			Allowed:   true,
			Limit:     limit,
			Remaining: limit,
			ResetAt:   g.now().Add(window),
			Degraded:  true,
		}, nil
	}
}

func (g *Guard) record(d Decision) {
	switch {
	case !d.Allowed:
		g.metrics.RateLimitDecision(obs.OutcomeDenied)
	case d.Degraded:
		g.metrics.RateLimitDecision(obs.OutcomeDegraded)
	default:
		g.metrics.RateLimitDecision(obs.OutcomeAllowed)
	}
}
