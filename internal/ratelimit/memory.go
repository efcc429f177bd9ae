package ratelimit

import (
	"context"
	"sync"
	"time"
)

const sweepEvery = 1024

type windowLog struct {
	stamps []time.Time
	window time.Duration
}

// MemoryLimiter is the sliding-window log over per-key timestamp lists in process memory.
type MemoryLimiter struct {
	mu    sync.Mutex
	logs  map[string]*windowLog
	calls int
	now   func() time.Time
}

// NewMemoryLimiter returns an empty in-process limiter. now may be nil for time.Now.
func NewMemoryLimiter(now func() time.Time) *MemoryLimiter {
	if now == nil {
		now = time.Now
	}
	return &MemoryLimiter{logs: make(map[string]*windowLog), now: now}
}

// Admit implements Limiter. It never returns an error.
func (m *MemoryLimiter) Admit(ctx context.Context, key string, limit int, window time.Duration) (Decision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	wl, ok := m.logs[key]
	if !ok {
		wl = &windowLog{}
		m.logs[key] = wl
	}
	wl.window = window
	wl.stamps = prune(wl.stamps, now.Add(-window))

	allowed := len(wl.stamps) < limit
	if allowed {
		wl.stamps = append(wl.stamps, now)
	}
	count := len(wl.stamps)
	oldest := now
	if count > 0 {
		oldest = wl.stamps[0]
	} else {
		delete(m.logs, key)
	}

	m.calls++
	if m.calls%sweepEvery == 0 {
		m.sweep(now)
	}
	return decide(allowed, limit, count, oldest, now, window), nil
}

// prune drops timestamps at or before start. Entries are appended in clock order.
func prune(stamps []time.Time, start time.Time) []time.Time {
	i := 0
	for i < len(stamps) && !stamps[i].After(start) {
		i++
	}
	return stamps[i:]
}

// sweep drops keys whose newest entry has left its window.
func (m *MemoryLimiter) sweep(now time.Time) {
	for k, wl := range m.logs {
		if n := len(wl.stamps); n == 0 || !wl.stamps[n-1].After(now.Add(-wl.window)) {
			delete(m.logs, k)
		}
	}
}

// Len returns the number of tracked keys.
func (m *MemoryLimiter) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.logs)
}
