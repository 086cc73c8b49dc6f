// Package anthropicnative relays Messages traffic to upstreams that already
// speak the Anthropic dialect. Bodies pass through byte for byte; only the
// credential headers are adapted.
package anthropicnative

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/florianilch/throne-gateway/internal/adapter"
	"github.com/florianilch/throne-gateway/internal/upstream"
)

const apiVersion = "2023-06-01"

// Relay forwards requests to one Anthropic-native base URL.
type Relay struct {
	baseURL string
	apiKey  string
	logger  *slog.Logger
}

// Options configures a Relay.
type Options struct {
	BaseURL string
	APIKey  string
	Logger  *slog.Logger
}

// New builds a Relay.
func New(opts Options) *Relay {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{
		baseURL: upstream.NormalizeBaseURL(opts.BaseURL),
		apiKey:  opts.APIKey,
		logger:  logger,
	}
}

// Forward relays one request to {base}{path} and copies the upstream answer,
// status, content type, and body, back to the client. SSE responses are
// flushed chunk by chunk; buffered ones are copied whole. The upstream
// status passes through untouched, including non-2xx.
func (r *Relay) Forward(
	ctx context.Context,
	w http.ResponseWriter,
	method, path string,
	body io.Reader,
	transport http.RoundTripper,
) error {
	req, err := http.NewRequestWithContext(ctx, method, r.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build upstream request: %w", err)
	}
	req.Header = r.headers(body != nil)

	httpClient := &http.Client{
		Transport: transport,
		// Client.Timeout = 0 allows long-running SSE streams (bounded by server WriteTimeout)
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("relay to upstream: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	contentType := resp.Header.Get("Content-Type")
	if contentType != "" {
		w.Header().Set("Content-Type", contentType)
	}
	w.WriteHeader(resp.StatusCode)

	var dst io.Writer = w
	if strings.HasPrefix(contentType, "text/event-stream") {
		dst = &flushWriter{w: w}
	}
	if _, err := io.Copy(dst, resp.Body); err != nil {
		// Headers are already on the wire; all that is left is logging.
		r.logger.WarnContext(ctx, "relay copy interrupted", "path", path, "error", err)
	}
	return nil
}

// headers builds the adapted credential header set of a relayed call.
func (r *Relay) headers(hasBody bool) http.Header {
	h := http.Header{}
	if hasBody {
		h.Set("Content-Type", "application/json")
	}
	if r.apiKey != "" {
		h.Set("x-api-key", r.apiKey)
	}
	h.Set("anthropic-version", apiVersion)
	return h
}

// Preview reports the forward that would happen for body, without sending
// it. The relay is a passthrough, so the body comes back unchanged.
func (r *Relay) Preview(method, path string, body []byte) *adapter.Preview {
	return &adapter.Preview{
		Method:  method,
		URL:     r.baseURL + path,
		Headers: r.headers(body != nil),
		Body:    body,
	}
}

// flushWriter flushes after every write so SSE frames leave immediately.
type flushWriter struct {
	w http.ResponseWriter
}

func (f *flushWriter) Write(p []byte) (int, error) {
	n, err := f.w.Write(p)
	if flusher, ok := f.w.(http.Flusher); ok {
		flusher.Flush()
	}
	return n, err
}
