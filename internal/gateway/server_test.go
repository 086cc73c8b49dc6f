package gateway

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/florianilch/throne-gateway/internal/adapter/anthropicnative"
	"github.com/florianilch/throne-gateway/internal/adapter/openaichat"
	"github.com/florianilch/throne-gateway/internal/anthropic"
	"github.com/florianilch/throne-gateway/internal/capability"
	"github.com/florianilch/throne-gateway/internal/upstream"
)

// mockUpstream returns pre-recorded responses without network calls.
type mockUpstream struct {
	status      int
	body        string
	contentType string

	lastRequest *http.Request
}

func (m *mockUpstream) RoundTrip(req *http.Request) (*http.Response, error) {
	m.lastRequest = req
	status := m.status
	if status == 0 {
		status = http.StatusOK
	}
	contentType := m.contentType
	if contentType == "" {
		contentType = "application/json"
	}
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(m.body)),
		Header:     http.Header{"Content-Type": []string{contentType}},
		Request:    req,
	}, nil
}

func newTestServer(t *testing.T, transport http.RoundTripper, mutate func(*Options)) *Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	caps, err := capability.New(capability.Options{})
	if err != nil {
		t.Fatalf("capability.New: %v", err)
	}
	const baseURL = "https://api.openai.com/v1"
	opts := Options{
		Chat: openaichat.New(openaichat.Options{
			BaseURL:         baseURL,
			APIKey:          "sk-test",
			Capabilities:    caps,
			CompletionModel: "gpt-4o-mini",
			Logger:          logger,
		}),
		Native:          anthropicnative.New(anthropicnative.Options{BaseURL: baseURL, APIKey: "sk-test", Logger: logger}),
		Resolver:        upstream.NewResolver(upstream.ResolverOptions{BaseURL: baseURL, Logger: logger}),
		APIKey:          "sk-test",
		ReasoningModel:  "o3-mini",
		CompletionModel: "gpt-4o-mini",
		Transport:       transport,
		Logger:          logger,
		Debug:           true,
	}
	if mutate != nil {
		mutate(&opts)
	}
	return New(opts)
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func TestMessagesNonStreaming(t *testing.T) {
	transport := &mockUpstream{body: `{
		"choices":[{"index":0,"message":{"role":"assistant","content":"hi there"},"finish_reason":"stop"}],
		"usage":{"prompt_tokens":3,"completion_tokens":2}
	}`}
	server := httptest.NewServer(newTestServer(t, transport, nil))
	defer server.Close()

	resp := postJSON(t, server.URL+"/v1/messages", `{"model":"gpt-4o","max_tokens":16,"messages":[{"role":"user","content":"hello"}]}`)
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var msg anthropic.MessagesResponse
	if err := json.NewDecoder(resp.Body).Decode(&msg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.Type != "message" || len(msg.Content) != 1 || msg.Content[0].Text != "hi there" {
		t.Errorf("response = %+v", msg)
	}
}

func TestMessagesStreamingSSE(t *testing.T) {
	transport := &mockUpstream{
		contentType: "text/event-stream",
		body: "data: {\"choices\":[{\"index\":0,\"delta\":{\"content\":\"hey\"}}]}\n\n" +
			"data: {\"choices\":[{\"index\":0,\"delta\":{},\"finish_reason\":\"stop\"}]}\n\n" +
			"data: [DONE]\n",
	}
	server := httptest.NewServer(newTestServer(t, transport, nil))
	defer server.Close()

	resp := postJSON(t, server.URL+"/v1/messages", `{"model":"gpt-4o","max_tokens":16,"stream":true,"messages":[{"role":"user","content":"hello"}]}`)
	defer func() { _ = resp.Body.Close() }()

	if got := resp.Header.Get("Content-Type"); !strings.HasPrefix(got, "text/event-stream") {
		t.Fatalf("content type = %q", got)
	}
	body, _ := io.ReadAll(resp.Body)
	text := string(body)
	for _, want := range []string{
		"event: message_start",
		"event: ping",
		"event: content_block_start",
		"event: content_block_delta",
		"event: content_block_stop",
		"event: message_delta",
		"event: message_stop",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("stream missing %q", want)
		}
	}
	if strings.Contains(text, "[DONE]") {
		t.Error("the OpenAI DONE marker must not leak into the Anthropic stream")
	}
}

func TestMessagesNegotiationPending(t *testing.T) {
	server := httptest.NewServer(newTestServer(t, &mockUpstream{}, func(opts *Options) {
		// Unclassifiable custom endpoint; probes fail fast on the bad host.
		opts.Resolver = upstream.NewResolver(upstream.ResolverOptions{
			BaseURL: "http://upstream.invalid/v1",
			Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		})
	}))
	defer server.Close()

	resp := postJSON(t, server.URL+"/v1/messages", `{"max_tokens":16,"messages":[{"role":"user","content":"hi"}]}`)
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", resp.StatusCode)
	}
	if resp.Header.Get("Retry-After") == "" {
		t.Error("503 must carry a Retry-After hint")
	}
	var envelope anthropic.ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if envelope.Type != "error" || !strings.Contains(envelope.Err.Message, "negotiation pending") {
		t.Errorf("envelope = %+v", envelope)
	}
}

func TestMessagesMissingAPIKey(t *testing.T) {
	server := httptest.NewServer(newTestServer(t, &mockUpstream{}, func(opts *Options) {
		opts.KeyError = &anthropic.MissingAPIKeyError{
			Provider:   "openai",
			EnvChecked: []string{"OPENAI_API_KEY", "CUSTOM_API_KEY", "API_KEY"},
		}
	}))
	defer server.Close()

	resp := postJSON(t, server.URL+"/v1/messages", `{"max_tokens":16,"messages":[{"role":"user","content":"hi"}]}`)
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	for _, envVar := range []string{"OPENAI_API_KEY", "CUSTOM_API_KEY", "API_KEY"} {
		if !strings.Contains(string(body), envVar) {
			t.Errorf("rejection should name %s, got %s", envVar, body)
		}
	}
}

func TestMessagesUpstreamErrorPassthrough(t *testing.T) {
	transport := &mockUpstream{status: http.StatusUnauthorized, body: `{"error":{"message":"bad key"}}`}
	server := httptest.NewServer(newTestServer(t, transport, nil))
	defer server.Close()

	resp := postJSON(t, server.URL+"/v1/messages", `{"model":"gpt-4o","max_tokens":16,"messages":[{"role":"user","content":"hi"}]}`)
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want passthrough 401", resp.StatusCode)
	}
}

func TestNativePassthrough(t *testing.T) {
	transport := &mockUpstream{body: `{"id":"msg_1","type":"message","role":"assistant","content":[{"type":"text","text":"native"}],"usage":{"input_tokens":1,"output_tokens":1}}`}
	server := httptest.NewServer(newTestServer(t, transport, func(opts *Options) {
		logger := slog.New(slog.NewTextHandler(io.Discard, nil))
		opts.Resolver = upstream.NewResolver(upstream.ResolverOptions{
			BaseURL: "https://api.anthropic.com/v1",
			Logger:  logger,
		})
		opts.Native = anthropicnative.New(anthropicnative.Options{
			BaseURL: "https://api.anthropic.com/v1",
			APIKey:  "sk-ant-test",
			Logger:  logger,
		})
	}))
	defer server.Close()

	resp := postJSON(t, server.URL+"/v1/messages", `{"model":"claude-sonnet","max_tokens":16,"messages":[{"role":"user","content":"hi"}]}`)
	defer func() { _ = resp.Body.Close() }()

	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `"native"`) {
		t.Errorf("body = %s, want byte passthrough", body)
	}
	if got := transport.lastRequest.Header.Get("x-api-key"); got != "sk-ant-test" {
		t.Errorf("x-api-key = %q", got)
	}
	if got := transport.lastRequest.Header.Get("anthropic-version"); got == "" {
		t.Error("anthropic-version header must be set")
	}
}

func TestCountTokensHeuristic(t *testing.T) {
	server := httptest.NewServer(newTestServer(t, &mockUpstream{}, nil))
	defer server.Close()

	resp := postJSON(t, server.URL+"/v1/messages/count_tokens", `{"messages":[{"role":"user","content":"one two three four five six"}]}`)
	defer func() { _ = resp.Body.Close() }()

	var out anthropic.CountTokensResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.InputTokens != 8 {
		t.Errorf("input_tokens = %d, want 8 for six words", out.InputTokens)
	}
}

func TestHealthAndDeprecatedAlias(t *testing.T) {
	server := httptest.NewServer(newTestServer(t, &mockUpstream{}, nil))
	defer server.Close()

	for _, path := range []string{"/health", "/healthz"} {
		resp, err := http.Get(server.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		body, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("%s status = %d", path, resp.StatusCode)
		}
		if !strings.Contains(string(body), "openai_compatible") {
			t.Errorf("%s body = %s, want endpoint kind", path, body)
		}
		if !strings.Contains(string(body), `"reasoning_model":"o3-mini"`) ||
			!strings.Contains(string(body), `"completion_model":"gpt-4o-mini"`) {
			t.Errorf("%s body = %s, want configured model defaults", path, body)
		}
	}
}

func TestDebugEchoPreviewsUpstreamRequest(t *testing.T) {
	transport := &mockUpstream{}
	server := httptest.NewServer(newTestServer(t, transport, nil))
	defer server.Close()

	resp := postJSON(t, server.URL+"/v1/debug/echo",
		`{"max_tokens":16,"messages":[{"role":"user","content":"Say hi"}]}`)
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var echo struct {
		Method    string          `json:"method"`
		URL       string          `json:"url"`
		Model     string          `json:"model"`
		ModelRule string          `json:"model_rule"`
		Body      json.RawMessage `json:"body"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&echo); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if echo.Method != http.MethodPost || !strings.HasSuffix(echo.URL, "/chat/completions") {
		t.Errorf("preview target = %s %s", echo.Method, echo.URL)
	}
	if echo.Model != "gpt-4o-mini" || echo.ModelRule != "completion_default" {
		t.Errorf("model = %q via %q", echo.Model, echo.ModelRule)
	}
	if !strings.Contains(string(echo.Body), `"gpt-4o-mini"`) || !strings.Contains(string(echo.Body), "Say hi") {
		t.Errorf("preview body = %s, want translated chat payload", echo.Body)
	}
	if transport.lastRequest != nil {
		t.Errorf("dry run must not call upstream, saw %s %s",
			transport.lastRequest.Method, transport.lastRequest.URL)
	}
}

func TestDebugEchoRedactsSecrets(t *testing.T) {
	server := httptest.NewServer(newTestServer(t, &mockUpstream{}, nil))
	defer server.Close()

	resp := postJSON(t, server.URL+"/v1/debug/echo",
		`{"max_tokens":16,"messages":[{"role":"user","content":"my key is sk-very-secret-123456, keep it safe"}]}`)
	defer func() { _ = resp.Body.Close() }()
	body, _ := io.ReadAll(resp.Body)

	if strings.Contains(string(body), "sk-very-secret-123456") || strings.Contains(string(body), "sk-test") {
		t.Errorf("echo leaked a secret: %s", body)
	}
	if !strings.Contains(string(body), "keep it safe") {
		t.Errorf("echo lost the harmless payload: %s", body)
	}
	if !strings.Contains(string(body), "[REDACTED]") {
		t.Errorf("echo should carry the redaction marker: %s", body)
	}
}

func TestModelsProxy(t *testing.T) {
	transport := &mockUpstream{body: `{"data":[{"id":"gpt-4o"},{"id":"gpt-4o-mini"}]}`}
	server := httptest.NewServer(newTestServer(t, transport, nil))
	defer server.Close()

	resp, err := http.Get(server.URL + "/v1/models")
	if err != nil {
		t.Fatalf("GET /v1/models: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	body, _ := io.ReadAll(resp.Body)

	if !strings.Contains(string(body), "gpt-4o-mini") {
		t.Errorf("models body = %s", body)
	}
	if transport.lastRequest.URL.Path != "/v1/models" {
		t.Errorf("upstream path = %q", transport.lastRequest.URL.Path)
	}
	if got := transport.lastRequest.Header.Get("Authorization"); got != "Bearer sk-test" {
		t.Errorf("authorization = %q", got)
	}
}
