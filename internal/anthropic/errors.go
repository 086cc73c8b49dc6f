package anthropic

import (
	"fmt"
	"net/http"
	"strings"
)

// Error detail types of the Anthropic error envelope.
const (
	ErrTypeInvalidRequest = "invalid_request_error"
	ErrTypeAuthentication = "authentication_error"
	ErrTypeAPI            = "api_error"
	ErrTypeOverloaded     = "overloaded_error"
)

// ErrorDetail is the inner error object of the envelope.
type ErrorDetail struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ErrorResponse is the Anthropic error envelope:
// {"type":"error","error":{"type":…,"message":…}}.
type ErrorResponse struct {
	Type string      `json:"type"`
	Err  ErrorDetail `json:"error"`
}

// Error implements the error interface, returning the detail message.
func (e *ErrorResponse) Error() string {
	return e.Err.Message
}

// NewErrorResponse builds an envelope with the given detail type and message.
func NewErrorResponse(errType, message string) *ErrorResponse {
	return &ErrorResponse{Type: "error", Err: ErrorDetail{Type: errType, Message: message}}
}

// MissingAPIKeyError rejects a request because no credential could be
// resolved. It lists every env var checked and never echoes key material.
type MissingAPIKeyError struct {
	Provider   string
	EnvChecked []string
}

// Error implements the error interface.
func (e *MissingAPIKeyError) Error() string {
	return fmt.Sprintf("no API key found for provider %q (checked: %s)",
		e.Provider, strings.Join(e.EnvChecked, ", "))
}

// StatusCode reports the HTTP status for this failure.
func (e *MissingAPIKeyError) StatusCode() int { return http.StatusBadRequest }

// Envelope renders the client-facing error body.
func (e *MissingAPIKeyError) Envelope() *ErrorResponse {
	return NewErrorResponse(ErrTypeAuthentication, e.Error())
}

// NegotiationPendingError holds a request while an endpoint-kind probe for
// the target base URL is still in flight.
type NegotiationPendingError struct {
	BaseURL    string
	RetryAfter int // seconds
}

// Error implements the error interface.
func (e *NegotiationPendingError) Error() string {
	return fmt.Sprintf("endpoint negotiation pending for %s, retry in %ds", e.BaseURL, e.RetryAfter)
}

// StatusCode reports the HTTP status for this failure.
func (e *NegotiationPendingError) StatusCode() int { return http.StatusServiceUnavailable }

// Envelope renders the client-facing error body.
func (e *NegotiationPendingError) Envelope() *ErrorResponse {
	return NewErrorResponse(ErrTypeOverloaded, e.Error())
}

// UpstreamError passes an upstream non-2xx straight through to the client.
// Body is truncated by the caller when surfaced over SSE.
type UpstreamError struct {
	Status int
	Body   string
}

// Error implements the error interface.
func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream returned status %d: %s", e.Status, e.Body)
}

// StatusCode reports the passthrough HTTP status.
func (e *UpstreamError) StatusCode() int { return e.Status }

// Envelope renders the client-facing error body. Auth-ish statuses keep
// their detail type so clients can react; everything else maps to api_error.
func (e *UpstreamError) Envelope() *ErrorResponse {
	errType := ErrTypeAPI
	switch e.Status {
	case http.StatusBadRequest:
		errType = ErrTypeInvalidRequest
	case http.StatusUnauthorized, http.StatusForbidden:
		errType = ErrTypeAuthentication
	case http.StatusServiceUnavailable, http.StatusTooManyRequests:
		errType = ErrTypeOverloaded
	}
	return NewErrorResponse(errType, e.Body)
}

// Truncate caps s at max bytes for SSE error events.
func Truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
