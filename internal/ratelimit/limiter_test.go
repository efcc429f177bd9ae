package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"access-core/internal/security"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func newLimiter(t *testing.T, kind string, clock *security.FixedClock) Limiter {
	t.Helper()
	if kind == "memory" {
		return NewMemoryLimiter(clock.Now)
	}
	_, rdb := newRedis(t)
	return NewRedisLimiter(rdb, "rate_limit:", WithRedisClock(clock.Now))
}

func TestLimiter_Boundary(t *testing.T) {
	start := time.Unix(1_700_000_000, 0)
	for _, kind := range []string{"redis", "memory"} {
		t.Run(kind, func(t *testing.T) {
			clock := security.NewFixedClock(start)
			l := newLimiter(t, kind, clock)
			ctx := context.Background()
			const limit, window = 5, 60 * time.Second

			for i, want := range []int{4, 3, 2, 1, 0} {
				d, err := l.Admit(ctx, "10.0.0.1", limit, window)
				require.NoError(t, err)
				require.Truef(t, d.Allowed, "call %d should be allowed", i+1)
				require.Equal(t, want, d.Remaining)
				require.Equal(t, limit, d.Limit)
				require.Equal(t, start.Add(window).UnixMilli(), d.ResetAt.UnixMilli())
				clock.Advance(time.Second)
			}

			d, err := l.Admit(ctx, "10.0.0.1", limit, window)
			require.NoError(t, err)
			require.False(t, d.Allowed)
			require.Zero(t, d.Remaining)
			require.Greater(t, d.RetryAfter, time.Duration(0))
			require.LessOrEqual(t, d.RetryAfter, window)

			// Other keys are independent.
			d, err = l.Admit(ctx, "10.0.0.2", limit, window)
			require.NoError(t, err)
			require.True(t, d.Allowed)

			// Once the earliest entry leaves the window a slot frees up.
			clock.Advance(window - 5*time.Second + time.Millisecond)
			d, err = l.Admit(ctx, "10.0.0.1", limit, window)
			require.NoError(t, err)
			require.True(t, d.Allowed)
			require.Equal(t, 0, d.Remaining)
		})
	}
}

func TestLimiter_DeniedCallsAreNotRecorded(t *testing.T) {
	start := time.Unix(1_700_000_000, 0)
	clock := security.NewFixedClock(start)
	_, rdb := newRedis(t)
	for name, l := range map[string]Limiter{
		"redis":  NewRedisLimiter(rdb, "rl:", WithRedisClock(clock.Now)),
		"memory": NewMemoryLimiter(clock.Now),
	} {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			key := "denied-" + name
			for i := 0; i < 2; i++ {
				d, err := l.Admit(ctx, key, 2, time.Minute)
				require.NoError(t, err)
				require.True(t, d.Allowed)
			}
			for i := 0; i < 10; i++ {
				d, err := l.Admit(ctx, key, 2, time.Minute)
				require.NoError(t, err)
				require.False(t, d.Allowed)
			}
		})
	}
	// Only the two admitted requests are in the Redis window.
	n, err := rdb.ZCard(context.Background(), "rl:denied-redis").Result()
	require.NoError(t, err)
	require.EqualValues(t, 2, n)
}

func TestRedisLimiter_KeyExpiresAfterTwoWindows(t *testing.T) {
	mr, rdb := newRedis(t)
	l := NewRedisLimiter(rdb, "rate_limit:")
	_, err := l.Admit(context.Background(), "k", 10, 30*time.Second)
	require.NoError(t, err)
	require.True(t, mr.Exists("rate_limit:k"))
	require.Equal(t, 60*time.Second, mr.TTL("rate_limit:k"))
}

func TestLimiter_AtomicUnderConcurrency(t *testing.T) {
	_, rdb := newRedis(t)
	for name, l := range map[string]Limiter{
		"redis":  NewRedisLimiter(rdb, "rate_limit:"),
		"memory": NewMemoryLimiter(nil),
	} {
		t.Run(name, func(t *testing.T) {
			const limit, extra = 10, 15
			var admitted int32
			var wg sync.WaitGroup
			for i := 0; i < limit+extra; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					d, err := l.Admit(context.Background(), "burst", limit, time.Minute)
					if err != nil {
						t.Errorf("Admit: %v", err)
						return
					}
					if d.Allowed {
						atomic.AddInt32(&admitted, 1)
					}
				}()
			}
			wg.Wait()
			require.EqualValues(t, limit, admitted)
		})
	}
}

func TestMemoryLimiter_SweepDropsIdleKeys(t *testing.T) {
	clock := security.NewFixedClock(time.Unix(1_700_000_000, 0))
	l := NewMemoryLimiter(clock.Now)
	ctx := context.Background()
	for i := 0; i < sweepEvery-1; i++ {
		_, _ = l.Admit(ctx, fmt.Sprintf("k%d", i), 1, time.Second)
	}
	require.Equal(t, sweepEvery-1, l.Len())
	clock.Advance(2 * time.Second)
	_, _ = l.Admit(ctx, "fresh", 1, time.Second)
	require.Equal(t, 1, l.Len())
}

func TestParsePolicy(t *testing.T) {
	for in, want := range map[string]Policy{"": PolicyFailOpen, "fail_open": PolicyFailOpen, "local": PolicyLocal, "fail_closed": PolicyFailClosed} {
		got, err := ParsePolicy(in)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
	_, err := ParsePolicy("fail_sideways")
	require.Error(t, err)
}
