// Package health reports readiness of the storage backends to the gRPC health service and the
// HTTP /healthz endpoint.
package health

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"access-core/internal/logging"
)

const pingTimeout = time.Second

// Pinger checks a backend connection. *sql.DB satisfies it.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) PingContext(ctx context.Context) error { return f(ctx) }

// Checker pings the registered backends. A Checker with no backends is always ready.
type Checker struct {
	names    []string
	pingers  []Pinger
	draining atomic.Bool
	log      logrus.FieldLogger
}

// NewChecker returns a Checker. log may be nil.
func NewChecker(log logrus.FieldLogger) *Checker {
	if log == nil {
		log = logging.Discard()
	}
	return &Checker{log: log.WithField("component", "health")}
}

// Add registers a backend. A nil pinger is ignored.
func (c *Checker) Add(name string, p Pinger) *Checker {
	if p != nil {
		c.names = append(c.names, name)
		c.pingers = append(c.pingers, p)
	}
	return c
}

// Drain marks the process as shutting down; Check fails from then on.
func (c *Checker) Drain() { c.draining.Store(true) }

// Check pings every backend and returns the first failure.
func (c *Checker) Check(ctx context.Context) error {
	if c.draining.Load() {
		return fmt.Errorf("shutting down")
	}
	for i, p := range c.pingers {
		pctx, cancel := context.WithTimeout(ctx, pingTimeout)
		err := p.PingContext(pctx)
		cancel()
		if err != nil {
			return fmt.Errorf("%s: %w", c.names[i], err)
		}
	}
	return nil
}

// Ready reports whether Check passes. It is the readiness hook of the HTTP edge.
func (c *Checker) Ready() bool {
	err := c.Check(context.Background())
	if err != nil {
		c.log.WithError(err).Warn("not ready")
	}
	return err == nil
}

// Sync sets the overall status of hs from one Check.
func (c *Checker) Sync(ctx context.Context, hs *grpchealth.Server) {
	status := healthpb.HealthCheckResponse_SERVING
	if err := c.Check(ctx); err != nil {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	hs.SetServingStatus("", status)
}

// Watch calls Sync every interval until ctx is done.
func (c *Checker) Watch(ctx context.Context, hs *grpchealth.Server, interval time.Duration) {
	c.Sync(ctx, hs)
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			c.Sync(ctx, hs)
		}
	}
}
