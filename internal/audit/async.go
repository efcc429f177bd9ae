package audit

import (
	"context"
	"sync"
	"time"
)

// writeTimeout bounds a single asynchronous audit write.
const writeTimeout = 5 * time.Second

// AsyncLogger runs LogEvent of the wrapped logger in a goroutine so the request path does not
// wait on the audit store. The write keeps the request's values (client IP) but not its
// cancellation.
type AsyncLogger struct {
	inner AuditLogger
	wg    sync.WaitGroup
}

// NewAsync wraps inner. A nil inner yields a logger that drops every event.
func NewAsync(inner AuditLogger) *AsyncLogger {
	return &AsyncLogger{inner: inner}
}

// LogEvent schedules the write and returns immediately.
func (a *AsyncLogger) LogEvent(ctx context.Context, subjectID, action, resource, metadata string) {
	if a == nil || a.inner == nil {
		return
	}
	detached := context.WithoutCancel(ctx)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		wctx, cancel := context.WithTimeout(detached, writeTimeout)
		defer cancel()
		a.inner.LogEvent(wctx, subjectID, action, resource, metadata)
	}()
}

// Drain waits for in-flight writes or until ctx is done.
func (a *AsyncLogger) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
