package middleware

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
)

const requestIDHeader = "X-Request-ID"

// RequestIDContextKey is a context key for storing request IDs.
type RequestIDContextKey struct{}

// requestID honors an ID supplied by the client or an earlier middleware and
// generates one otherwise, so every relayed call is correlatable end to end.
func requestID(r *http.Request) string {
	if id := r.Header.Get(requestIDHeader); id != "" {
		return id
	}
	if id, ok := r.Context().Value(RequestIDContextKey{}).(string); ok && id != "" {
		return id
	}
	return uuid.New().String()
}

// RequestIDGeneration resolves the request ID and stores it in the request
// context for downstream handlers.
func RequestIDGeneration(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), RequestIDContextKey{}, requestID(r))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestIDPropagation echoes the request ID back on the response and attaches
// it to the request log. The header is set before the handler runs so it
// survives panics and half-written SSE responses.
func RequestIDPropagation(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id, ok := r.Context().Value(RequestIDContextKey{}).(string); ok && id != "" {
			w.Header().Set(requestIDHeader, id)
			SetLogAttrs(r.Context(), slog.String("request_id", id))
		}

		next.ServeHTTP(w, r)
	})
}
