package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/florianilch/throne-gateway/internal/anthropic"
	"github.com/florianilch/throne-gateway/internal/upstream"
)

const maxStreamErrorChars = 1000

// handleMessages serves POST /v1/messages for both upstream dialects.
func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	raw, err := io.ReadAll(r.Body)
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			s.logger.WarnContext(ctx, "request exceeds size limit", "limit_bytes", maxBytesErr.Limit)
			writeJSON(ctx, w,
				anthropic.NewErrorResponse(anthropic.ErrTypeInvalidRequest, http.StatusText(http.StatusRequestEntityTooLarge)),
				http.StatusRequestEntityTooLarge)
			return
		}
		s.logger.ErrorContext(ctx, "failed to read request body", "error", err)
		writeJSON(ctx, w,
			anthropic.NewErrorResponse(anthropic.ErrTypeInvalidRequest, http.StatusText(http.StatusBadRequest)),
			http.StatusBadRequest)
		return
	}

	var req anthropic.MessagesRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		s.logger.ErrorContext(ctx, "failed to decode request", "error", err)
		writeJSON(ctx, w,
			anthropic.NewErrorResponse(anthropic.ErrTypeInvalidRequest, http.StatusText(http.StatusBadRequest)),
			http.StatusBadRequest)
		return
	}

	if s.keyErr != nil {
		s.observe(req.Model, "missing_key")
		writeError(ctx, w, s.keyErr)
		return
	}

	state := s.resolver.Snapshot()
	if state.Kind == upstream.KindUnknown {
		// Never guess a dialect; start the probe and tell the client to retry.
		s.resolver.Kick(ctx)
		s.observe(req.Model, "pending")
		writeError(ctx, w, &anthropic.NegotiationPendingError{BaseURL: s.resolver.BaseURL(), RetryAfter: 1})
		return
	}

	started := time.Now()
	if state.Kind == upstream.KindAnthropicNative {
		if err := s.native.Forward(ctx, w, http.MethodPost, "/messages", bytes.NewReader(raw), s.transport); err != nil {
			s.logger.ErrorContext(ctx, "native relay failed", "error", err)
			s.observe(req.Model, "error")
			writeError(ctx, w, err)
			return
		}
		s.observe(req.Model, "success")
		s.metrics.ObserveUpstream(string(s.resolver.Provider()), string(state.Kind), time.Since(started))
		return
	}

	if req.Stream {
		s.streamResponse(ctx, w, req)
	} else {
		s.writeResponse(ctx, w, req)
	}
	s.metrics.ObserveUpstream(string(s.resolver.Provider()), string(state.Kind), time.Since(started))
}

// writeResponse handles non-streaming Messages requests.
func (s *Server) writeResponse(ctx context.Context, w http.ResponseWriter, req anthropic.MessagesRequest) {
	if ctx.Err() != nil {
		return
	}
	response, err := s.chat.ProcessRequest(ctx, req, s.transport)
	if err != nil {
		s.logger.ErrorContext(ctx, "request failed", "error", err)
		s.observe(req.Model, "error")
		writeError(ctx, w, err)
		return
	}

	s.observe(req.Model, "success")
	s.metrics.AddTokens("input", response.Usage.InputTokens)
	s.metrics.AddTokens("output", response.Usage.OutputTokens)
	writeJSON(ctx, w, response, http.StatusOK)
}

// streamResponse bridges the adapter's event iterator onto the client SSE
// connection. Errors before the first event keep the plain JSON shape;
// errors after it become exactly one terminal error event.
func (s *Server) streamResponse(ctx context.Context, w http.ResponseWriter, req anthropic.MessagesRequest) {
	if ctx.Err() != nil {
		return
	}
	stream, err := s.chat.ProcessStreamingRequest(ctx, req, s.transport)
	if err != nil {
		s.logger.ErrorContext(ctx, "streaming request failed", "error", err)
		s.observe(req.Model, "error")
		writeError(ctx, w, err)
		return
	}

	sse, err := NewSSEWriter(w)
	if err != nil {
		s.logger.ErrorContext(ctx, "SSE not supported", "error", err)
		s.observe(req.Model, "error")
		writeError(ctx, w, err)
		return
	}

	outcome := "success"
	defer func() { s.observe(req.Model, outcome) }()

	for chunk, err := range stream {
		// Check for client disconnect before processing chunk
		if ctx.Err() != nil {
			s.logger.DebugContext(ctx, "client disconnected during stream")
			outcome = "disconnect"
			return
		}

		if err != nil {
			s.logger.ErrorContext(ctx, "stream error", "error", err)
			outcome = "error"
			s.writeStreamError(ctx, sse, err)
			return
		}

		if chunk.Event == anthropic.EventMessageDelta {
			if delta, ok := chunk.Data.(anthropic.MessageDeltaEvent); ok {
				s.metrics.AddTokens("output", delta.Usage.OutputTokens)
			}
		}

		if writeErr := sse.WriteEvent(chunk.Event); writeErr != nil {
			s.logger.ErrorContext(ctx, "failed to write event type", "error", writeErr)
			outcome = "error"
			return
		}
		if writeErr := sse.WriteData(chunk.Data); writeErr != nil {
			s.logger.ErrorContext(ctx, "failed to write chunk", "error", writeErr)
			outcome = "error"
			return
		}
	}
}

// writeStreamError surfaces one terminal error event, body capped so huge
// upstream responses cannot flood the stream.
func (s *Server) writeStreamError(ctx context.Context, sse *SSEWriter, err error) {
	envelope := anthropic.NewErrorResponse(anthropic.ErrTypeAPI, http.StatusText(http.StatusInternalServerError))

	var typed statusError
	var direct *anthropic.ErrorResponse
	switch {
	case errors.As(err, &typed):
		envelope = typed.Envelope()
	case errors.As(err, &direct):
		envelope = direct
	}
	envelope.Err.Message = anthropic.Truncate(envelope.Err.Message, maxStreamErrorChars)

	if writeErr := sse.WriteEvent(anthropic.EventError); writeErr != nil {
		s.logger.ErrorContext(ctx, "failed to write error event type", "error", writeErr)
		return
	}
	if writeErr := sse.WriteData(envelope); writeErr != nil {
		s.logger.ErrorContext(ctx, "failed to write error event", "error", writeErr)
	}
}

func (s *Server) observe(model, outcome string) {
	s.metrics.ObserveRequest(string(s.resolver.Provider()), model, outcome)
}
