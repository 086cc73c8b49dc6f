package middleware

import (
	"log/slog"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// TraceContextExtraction reads W3C Traceparent/Tracestate headers so gateway
// log lines join the caller's trace. No spans are created; coding agents that
// propagate trace context through the Messages endpoint still get their
// trace_id and span_id on every log line the request produces.
func TraceContextExtraction(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		propagator := otel.GetTextMapPropagator()
		ctx := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))

		spanCtx := trace.SpanContextFromContext(ctx)
		if !spanCtx.IsValid() {
			// No incoming trace context; nothing to attach.
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		// SetLogAttrs is a no-op when the logging middleware is absent.
		SetLogAttrs(ctx,
			slog.String("trace_id", spanCtx.TraceID().String()),
			slog.String("span_id", spanCtx.SpanID().String()),
		)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
