package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/florianilch/throne-gateway/internal/anthropic"
)

// writeJSON writes a JSON response with the given status code.
// Logs encoding failures internally using the provided context.
func writeJSON(ctx context.Context, w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	// Headers and status are written before encoding to avoid buffering.
	// If encoding fails, the client may receive a partial response.
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.ErrorContext(ctx, "failed to encode JSON response", "error", err)
	}
}

// statusError is the contract shared by the typed gateway errors: an HTTP
// status plus an Anthropic error envelope.
type statusError interface {
	error
	StatusCode() int
	Envelope() *anthropic.ErrorResponse
}

// writeError maps any error onto the Anthropic error envelope with the
// right status. Typed errors carry their own mapping; bare envelopes map by
// detail type; everything else becomes a generic 500 that leaks nothing.
func writeError(ctx context.Context, w http.ResponseWriter, err error) {
	var typed statusError
	if errors.As(err, &typed) {
		var pending *anthropic.NegotiationPendingError
		if errors.As(err, &pending) && pending.RetryAfter > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(pending.RetryAfter))
		}
		writeJSON(ctx, w, typed.Envelope(), typed.StatusCode())
		return
	}

	var envelope *anthropic.ErrorResponse
	if errors.As(err, &envelope) {
		writeJSON(ctx, w, envelope, statusForErrType(envelope.Err.Type))
		return
	}

	writeJSON(ctx, w,
		anthropic.NewErrorResponse(anthropic.ErrTypeAPI, http.StatusText(http.StatusInternalServerError)),
		http.StatusInternalServerError)
}

func statusForErrType(errType string) int {
	switch errType {
	case anthropic.ErrTypeInvalidRequest:
		return http.StatusBadRequest
	case anthropic.ErrTypeAuthentication:
		return http.StatusUnauthorized
	case anthropic.ErrTypeOverloaded:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
