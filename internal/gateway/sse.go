package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// SSEWriter writes server-sent events and flushes after every frame so
// chunks reach the client immediately.
type SSEWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewSSEWriter prepares the response for SSE. Fails when the underlying
// writer cannot flush.
func NewSSEWriter(w http.ResponseWriter) (*SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support flushing")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	return &SSEWriter{w: w, flusher: flusher}, nil
}

// WriteEvent writes an event-name line. The matching data line follows via
// WriteData.
func (s *SSEWriter) WriteEvent(name string) error {
	if _, err := fmt.Fprintf(s.w, "event: %s\n", name); err != nil {
		return fmt.Errorf("write event line: %w", err)
	}
	return nil
}

// WriteData JSON-encodes data as one data frame and flushes.
func (s *SSEWriter) WriteData(data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode event data: %w", err)
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", payload); err != nil {
		return fmt.Errorf("write data frame: %w", err)
	}
	s.flusher.Flush()
	return nil
}
