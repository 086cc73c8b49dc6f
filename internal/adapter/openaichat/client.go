package openaichat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/florianilch/throne-gateway/internal/anthropic"
	"github.com/florianilch/throne-gateway/internal/openaiwire"
	"github.com/florianilch/throne-gateway/internal/upstream"
)

// upstreamHeaders builds the header set of a chat completion call: content
// negotiation, bearer auth, and provider attribution.
func (a *Adapter) upstreamHeaders(streaming bool) http.Header {
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	if a.apiKey != "" {
		h.Set("Authorization", "Bearer "+a.apiKey)
	}
	if streaming {
		h.Set("Accept", "text/event-stream")
	}
	upstream.SetAttributionHeaders(h, a.provider)
	return h
}

// call POSTs the chat completion and returns the response with a 2xx status
// guaranteed; anything else comes back as an UpstreamError carrying the
// status and body for passthrough.
func (a *Adapter) call(ctx context.Context, transport http.RoundTripper, chatReq openaiwire.ChatRequest) (*http.Response, error) {
	payload, err := json.Marshal(chatReq)
	if err != nil {
		return nil, fmt.Errorf("encode upstream request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	req.Header = a.upstreamHeaders(chatReq.Stream)

	httpClient := &http.Client{
		Transport: transport,
		// Client.Timeout = 0 allows long-running SSE streams (bounded by server WriteTimeout)
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call chat completions: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		_ = resp.Body.Close()
		return nil, &anthropic.UpstreamError{
			Status: resp.StatusCode,
			Body:   strings.TrimSpace(string(body)),
		}
	}
	return resp, nil
}
