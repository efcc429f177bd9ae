package otel

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

type exported struct {
	body     string
	severity otellog.Severity
	attrs    map[string]string
}

type memoryExporter struct {
	mu      sync.Mutex
	records []exported
}

func (m *memoryExporter) Export(_ context.Context, records []sdklog.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range records {
		e := exported{body: r.Body().AsString(), severity: r.Severity(), attrs: map[string]string{}}
		r.WalkAttributes(func(kv otellog.KeyValue) bool {
			e.attrs[kv.Key] = kv.Value.AsString()
			return true
		})
		m.records = append(m.records, e)
	}
	return nil
}

func (m *memoryExporter) Shutdown(context.Context) error   { return nil }
func (m *memoryExporter) ForceFlush(context.Context) error { return nil }

func TestLogHook_ForwardsEntries(t *testing.T) {
	exp := &memoryExporter{}
	lp := sdklog.NewLoggerProvider(sdklog.WithProcessor(sdklog.NewSimpleProcessor(exp)))
	t.Cleanup(func() { _ = lp.Shutdown(context.Background()) })

	log := logrus.New()
	log.SetOutput(io.Discard)
	log.SetLevel(logrus.DebugLevel)
	log.AddHook(NewLogHook(lp, logrus.InfoLevel))

	log.Debug("dropped")
	log.WithField("component", "ratelimit").WithError(errors.New("dial tcp: refused")).Warn("redis unavailable")

	exp.mu.Lock()
	defer exp.mu.Unlock()
	if len(exp.records) != 1 {
		t.Fatalf("records = %d, want 1", len(exp.records))
	}
	got := exp.records[0]
	if got.body != "redis unavailable" || got.severity != otellog.SeverityWarn {
		t.Errorf("record = %+v", got)
	}
	if got.attrs["component"] != "ratelimit" || got.attrs["error"] != "dial tcp: refused" {
		t.Errorf("attrs = %v", got.attrs)
	}
}

func TestNewLogHook_Levels(t *testing.T) {
	if NewLogHook(nil, logrus.InfoLevel) != nil {
		t.Error("nil provider should yield a nil hook")
	}
	h := NewLogHook(sdklog.NewLoggerProvider(), logrus.WarnLevel)
	want := map[logrus.Level]bool{logrus.PanicLevel: true, logrus.FatalLevel: true, logrus.ErrorLevel: true, logrus.WarnLevel: true}
	if len(h.Levels()) != len(want) {
		t.Fatalf("levels = %v", h.Levels())
	}
	for _, l := range h.Levels() {
		if !want[l] {
			t.Errorf("unexpected level %v", l)
		}
	}
}
