package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/florianilch/throne-gateway/internal/anthropic"
)

// handleCountTokens serves POST /v1/messages/count_tokens with the local
// word-count heuristic. The answer is an estimate by design: the gateway
// does not ship a vendor tokenizer.
func (s *Server) handleCountTokens(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req anthropic.CountTokensRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.logger.ErrorContext(ctx, "failed to decode request", "error", err)
		writeJSON(ctx, w,
			anthropic.NewErrorResponse(anthropic.ErrTypeInvalidRequest, http.StatusText(http.StatusBadRequest)),
			http.StatusBadRequest)
		return
	}

	writeJSON(ctx, w, anthropic.CountTokensResponse{
		InputTokens: anthropic.EstimateRequestTokens(req.System, req.Messages),
	}, http.StatusOK)
}
