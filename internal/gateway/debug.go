package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/florianilch/throne-gateway/internal/adapter"
	"github.com/florianilch/throne-gateway/internal/anthropic"
	"github.com/florianilch/throne-gateway/internal/redact"
	"github.com/florianilch/throne-gateway/internal/upstream"
)

// echoResponse is the upstream call the gateway would make for a Messages
// request, secrets redacted. Nothing is sent upstream, so the output is safe
// to paste into an issue.
type echoResponse struct {
	Method    string            `json:"method"`
	URL       string            `json:"url"`
	Model     string            `json:"model,omitempty"`
	ModelRule string            `json:"model_rule,omitempty"`
	XMLTools  bool              `json:"xml_tools,omitempty"`
	Reasoning bool              `json:"reasoning,omitempty"`
	Headers   map[string]string `json:"headers"`
	Body      json.RawMessage   `json:"body"`
}

// handleEcho serves POST /v1/debug/echo, mounted only in debug mode. It runs
// the translation pipeline as a dry run: model-default selection, tool
// conversion, and XML injection all apply exactly as on /v1/messages.
func (s *Server) handleEcho(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	raw, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(ctx, w,
			anthropic.NewErrorResponse(anthropic.ErrTypeInvalidRequest, http.StatusText(http.StatusBadRequest)),
			http.StatusBadRequest)
		return
	}
	var req anthropic.MessagesRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		writeJSON(ctx, w,
			anthropic.NewErrorResponse(anthropic.ErrTypeInvalidRequest, http.StatusText(http.StatusBadRequest)),
			http.StatusBadRequest)
		return
	}

	preview, err := s.previewUpstream(ctx, req, raw)
	if err != nil {
		s.logger.ErrorContext(ctx, "dry run failed", "error", err)
		writeError(ctx, w, err)
		return
	}

	headers := make(map[string]string, len(preview.Headers))
	for name, values := range preview.Headers {
		headers[name] = redact.String(name + ": " + strings.Join(values, ", "))
	}

	writeJSON(ctx, w, echoResponse{
		Method:    preview.Method,
		URL:       preview.URL,
		Model:     preview.Model,
		ModelRule: preview.ModelRule,
		XMLTools:  preview.XMLTools,
		Reasoning: preview.Reasoning,
		Headers:   headers,
		Body:      json.RawMessage(redact.JSON(preview.Body)),
	}, http.StatusOK)
}

// previewUpstream picks the dry-run path matching the resolved dialect. An
// unresolved kind previews the translated form, which is what an
// unclassified custom endpoint would most likely receive.
func (s *Server) previewUpstream(ctx context.Context, req anthropic.MessagesRequest, raw []byte) (*adapter.Preview, error) {
	if s.resolver.Snapshot().Kind == upstream.KindAnthropicNative {
		return s.native.Preview(http.MethodPost, "/messages", raw), nil
	}
	previewer, ok := s.chat.(adapter.Previewer)
	if !ok {
		return nil, anthropic.NewErrorResponse(anthropic.ErrTypeAPI, "adapter does not support dry runs")
	}
	return previewer.BuildUpstreamPayload(ctx, req)
}
