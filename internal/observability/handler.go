package observability

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/trace"
)

// traceContextHandler stamps trace_id and span_id onto every record whose
// context carries a valid span, so gateway logs line up with the caller's
// trace without any per-call-site work.
type traceContextHandler struct {
	handler slog.Handler
}

// compile-time check
var _ slog.Handler = (*traceContextHandler)(nil)

func newTraceContextHandler(handler slog.Handler) *traceContextHandler {
	return &traceContextHandler{handler: handler}
}

func (h *traceContextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.handler.Enabled(ctx, level)
}

// Handle adds the trace correlation attributes when present and delegates.
func (h *traceContextHandler) Handle(ctx context.Context, record slog.Record) error {
	if spanCtx := trace.SpanContextFromContext(ctx); spanCtx.IsValid() {
		record.AddAttrs(
			slog.String("trace_id", spanCtx.TraceID().String()),
			slog.String("span_id", spanCtx.SpanID().String()),
		)
	}
	return h.handler.Handle(ctx, record)
}

func (h *traceContextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &traceContextHandler{handler: h.handler.WithAttrs(attrs)}
}

func (h *traceContextHandler) WithGroup(name string) slog.Handler {
	return &traceContextHandler{handler: h.handler.WithGroup(name)}
}
