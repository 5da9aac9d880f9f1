package infra

import (
	"context"
	"log/slog"
	"os"

	"go.opentelemetry.io/otel/trace"
)

// TraceHandler is a slog handler that stamps each record with the active
// span's trace and span IDs so log lines can be joined to traces.
type TraceHandler struct {
	handler     slog.Handler
	otelEnabled bool
}

// NewTraceHandler wraps handler with trace annotation.
func NewTraceHandler(handler slog.Handler, otelEnabled bool) *TraceHandler {
	return &TraceHandler{handler: handler, otelEnabled: otelEnabled}
}

func (h *TraceHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.handler.Enabled(ctx, level)
}

func (h *TraceHandler) Handle(ctx context.Context, r slog.Record) error {
	if h.otelEnabled {
		span := trace.SpanFromContext(ctx)
		if span.SpanContext().IsValid() {
			spanCtx := span.SpanContext()
			r.AddAttrs(
				slog.String("trace", spanCtx.TraceID().String()),
				slog.String("spanId", spanCtx.SpanID().String()),
				slog.Bool("traceSampled", spanCtx.IsSampled()),
			)
		}
	}
	return h.handler.Handle(ctx, r)
}

func (h *TraceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &TraceHandler{handler: h.handler.WithAttrs(attrs), otelEnabled: h.otelEnabled}
}

func (h *TraceHandler) WithGroup(name string) slog.Handler {
	return &TraceHandler{handler: h.handler.WithGroup(name), otelEnabled: h.otelEnabled}
}

// SetupLogger installs a JSON logger with trace annotation as the process
// default and returns it.
func SetupLogger(level slog.Level, otelEnabled bool) *slog.Logger {
	jsonHandler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	log := slog.New(NewTraceHandler(jsonHandler, otelEnabled))
	slog.SetDefault(log)
	return log
}

// ParseLevel maps a config string onto a slog level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch s {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
