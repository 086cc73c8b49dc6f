package gateway

import (
	"net/http"
	"time"
)

// healthResponse reports liveness plus the current endpoint decision, which
// is the piece operators actually need when a custom upstream misbehaves.
type healthResponse struct {
	Status          string `json:"status"`
	Provider        string `json:"provider"`
	EndpointKind    string `json:"endpoint_kind"`
	DetectionSource string `json:"detection_source,omitempty"`
	LastProbedAt    string `json:"last_probed_at,omitempty"`
	ReasoningModel  string `json:"reasoning_model,omitempty"`
	CompletionModel string `json:"completion_model,omitempty"`
}

// handleHealth serves GET /health and its deprecated /healthz alias.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/healthz" {
		s.logger.DebugContext(r.Context(), "deprecated /healthz alias used, prefer /health")
	}
	w.Header().Set("Cache-Control", "no-cache")

	state := s.resolver.Snapshot()
	resp := healthResponse{
		Status:          "ok",
		Provider:        string(s.resolver.Provider()),
		EndpointKind:    string(state.Kind),
		DetectionSource: string(state.Source),
		ReasoningModel:  s.reasoningModel,
		CompletionModel: s.completionModel,
	}
	if !state.LastProbedAt.IsZero() {
		resp.LastProbedAt = state.LastProbedAt.UTC().Format(time.RFC3339)
	}
	writeJSON(r.Context(), w, resp, http.StatusOK)
}
