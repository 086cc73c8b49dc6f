package gateway

import (
	"io"
	"net/http"

	"github.com/florianilch/throne-gateway/internal/anthropic"
	"github.com/florianilch/throne-gateway/internal/upstream"
)

const maxModelsBody = 8 << 20

// handleModels proxies GET /v1/models to the upstream listing so clients
// can populate model pickers, whichever dialect the upstream speaks.
func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if s.resolver.Snapshot().Kind == upstream.KindAnthropicNative {
		if err := s.native.Forward(ctx, w, http.MethodGet, "/models", nil, s.transport); err != nil {
			s.logger.ErrorContext(ctx, "models relay failed", "error", err)
			writeError(ctx, w, err)
		}
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.resolver.BaseURL()+"/models", nil)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}
	upstream.SetAttributionHeaders(req.Header, s.resolver.Provider())

	httpClient := &http.Client{Transport: s.transport}
	resp, err := httpClient.Do(req)
	if err != nil {
		s.logger.ErrorContext(ctx, "models listing failed", "error", err)
		writeError(ctx, w, err)
		return
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxModelsBody))
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		writeError(ctx, w, &anthropic.UpstreamError{Status: resp.StatusCode, Body: string(body)})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(body); err != nil {
		s.logger.ErrorContext(ctx, "failed to write response", "error", err)
	}
}
