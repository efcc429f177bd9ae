package otel

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

const instrumentationName = "access-core"

// LogHook forwards logrus entries at or above a minimum level to an OpenTelemetry LoggerProvider.
type LogHook struct {
	logger otellog.Logger
	levels []logrus.Level
}

// NewLogHook returns a hook emitting entries at min or more severe. A nil provider yields nil.
func NewLogHook(provider *sdklog.LoggerProvider, min logrus.Level) *LogHook {
	if provider == nil {
		return nil
	}
	var levels []logrus.Level
	for _, l := range logrus.AllLevels {
		if l <= min {
			levels = append(levels, l)
		}
	}
	return &LogHook{logger: provider.Logger(instrumentationName), levels: levels}
}

func (h *LogHook) Levels() []logrus.Level { return h.levels }

// Fire converts the entry to a log record. Fields become string attributes.
func (h *LogHook) Fire(e *logrus.Entry) error {
	var rec otellog.Record
	rec.SetTimestamp(e.Time)
	rec.SetBody(otellog.StringValue(e.Message))
	rec.SetSeverity(severity(e.Level))
	rec.SetSeverityText(e.Level.String())
	for k, v := range e.Data {
		if err, ok := v.(error); ok {
			rec.AddAttributes(otellog.String(k, err.Error()))
			continue
		}
		rec.AddAttributes(otellog.String(k, fmt.Sprint(v)))
	}
	ctx := e.Context
	if ctx == nil {
		ctx = context.Background()
	}
	h.logger.Emit(ctx, rec)
	return nil
}

func severity(l logrus.Level) otellog.Severity {
	switch l {
	case logrus.PanicLevel, logrus.FatalLevel:
		return otellog.SeverityFatal
	case logrus.ErrorLevel:
		return otellog.SeverityError
	case logrus.WarnLevel:
		return otellog.SeverityWarn
	case logrus.InfoLevel:
		return otellog.SeverityInfo
	case logrus.DebugLevel:
		return otellog.SeverityDebug
	default:
		return otellog.SeverityTrace
	}
}
