package openaichat

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/florianilch/throne-gateway/internal/anthropic"
	"github.com/florianilch/throne-gateway/internal/capability"
)

// mockTransport returns pre-recorded responses without network calls and
// captures the outbound request for assertions.
type mockTransport struct {
	status      int
	body        string
	contentType string

	lastRequest *http.Request
	lastBody    []byte
}

func (m *mockTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	m.lastRequest = req
	if req.Body != nil {
		m.lastBody, _ = io.ReadAll(req.Body)
	}
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

func userRequest(model, text string) anthropic.MessagesRequest {
	return anthropic.MessagesRequest{
		Model:     model,
		MaxTokens: 64,
		Messages: []anthropic.Message{{Role: "user", Content: anthropic.MessageContent{Blocks: []anthropic.ContentBlock{
			{Type: anthropic.BlockTypeText, Text: text},
		}}}},
	}
}

func TestToStopReason(t *testing.T) {
	cases := map[string]string{
		"stop":           anthropic.StopReasonEndTurn,
		"length":         anthropic.StopReasonMaxTokens,
		"tool_calls":     anthropic.StopReasonToolUse,
		"content_filter": anthropic.StopReasonContentFilter,
		"":               anthropic.StopReasonEndTurn,
		"weird":          anthropic.StopReasonEndTurn,
	}
	for finish, want := range cases {
		if got := toStopReason(finish); got != want {
			t.Errorf("toStopReason(%q) = %q, want %q", finish, got, want)
		}
	}
}

func TestProcessRequestPlainText(t *testing.T) {
	a := newTestAdapter(t, capability.Options{})
	transport := &mockTransport{body: `{
		"id": "cmpl-1",
		"choices": [{"index":0,"message":{"role":"assistant","content":"Hello there."},"finish_reason":"stop"}],
		"usage": {"prompt_tokens": 12, "completion_tokens": 4}
	}`}

	resp, err := a.ProcessRequest(t.Context(), userRequest("gpt-4o", "hi"), transport)
	if err != nil {
		t.Fatalf("ProcessRequest: %v", err)
	}

	if resp.Role != "assistant" || resp.Type != "message" || !strings.HasPrefix(resp.ID, "msg_") {
		t.Errorf("envelope = %+v", resp)
	}
	if len(resp.Content) != 1 || resp.Content[0].Type != anthropic.BlockTypeText || resp.Content[0].Text != "Hello there." {
		t.Errorf("content = %+v", resp.Content)
	}
	if resp.StopReason != anthropic.StopReasonEndTurn {
		t.Errorf("stop reason = %q", resp.StopReason)
	}
	if resp.Usage.InputTokens != 12 || resp.Usage.OutputTokens != 4 {
		t.Errorf("usage = %+v", resp.Usage)
	}
}

func TestProcessRequestNativeToolCalls(t *testing.T) {
	a := newTestAdapter(t, capability.Options{})
	transport := &mockTransport{body: `{
		"choices": [{"index":0,"message":{
			"role": "assistant",
			"content": "Let me check.",
			"tool_calls": [{"id":"call_1","type":"function","function":{"name":"get_weather","arguments":"{\"city\":\"SF\"}"}}]
		},"finish_reason":"tool_calls"}]
	}`}

	req := userRequest("gpt-4o", "weather?")
	req.Tools = []anthropic.ToolDefinition{{Name: "get_weather"}}

	resp, err := a.ProcessRequest(t.Context(), req, transport)
	if err != nil {
		t.Fatalf("ProcessRequest: %v", err)
	}

	if len(resp.Content) != 2 {
		t.Fatalf("content blocks = %d, want text + tool_use", len(resp.Content))
	}
	if resp.Content[0].Type != anthropic.BlockTypeText {
		t.Errorf("first block = %+v, want text first", resp.Content[0])
	}
	toolUse := resp.Content[1]
	if toolUse.Type != anthropic.BlockTypeToolUse || toolUse.ID != "call_1" || toolUse.Name != "get_weather" {
		t.Errorf("tool_use block = %+v", toolUse)
	}
	if string(toolUse.Input) != `{"city":"SF"}` {
		t.Errorf("input = %s", toolUse.Input)
	}
	if resp.StopReason != anthropic.StopReasonToolUse {
		t.Errorf("stop reason = %q", resp.StopReason)
	}
}

func TestProcessRequestMalformedArguments(t *testing.T) {
	a := newTestAdapter(t, capability.Options{})
	transport := &mockTransport{body: `{
		"choices": [{"index":0,"message":{
			"role": "assistant",
			"tool_calls": [{"id":"call_1","type":"function","function":{"name":"calc","arguments":"{\"a\": "}}]
		},"finish_reason":"tool_calls"}]
	}`}

	resp, err := a.ProcessRequest(t.Context(), userRequest("gpt-4o", "add"), transport)
	if err != nil {
		t.Fatalf("malformed arguments must not fail the request: %v", err)
	}
	toolUse := resp.Content[0]
	if string(toolUse.Input) != "{}" {
		t.Errorf("input = %s, want empty object substitute", toolUse.Input)
	}
}

func TestProcessRequestXMLToolParsing(t *testing.T) {
	a := newTestAdapter(t, capability.Options{ForceXMLTools: true})
	transport := &mockTransport{body: `{
		"choices": [{"index":0,"message":{"role":"assistant","content":"<calc><a>1</a><b>2</b></calc>"},"finish_reason":"stop"}]
	}`}

	req := userRequest("mistral-7b-instruct", "add 1 and 2")
	req.Tools = []anthropic.ToolDefinition{{Name: "calc"}}

	resp, err := a.ProcessRequest(t.Context(), req, transport)
	if err != nil {
		t.Fatalf("ProcessRequest: %v", err)
	}

	if len(resp.Content) != 1 || resp.Content[0].Type != anthropic.BlockTypeToolUse || resp.Content[0].Name != "calc" {
		t.Fatalf("content = %+v, want one calc tool_use", resp.Content)
	}
	var input map[string]string
	if err := json.Unmarshal(resp.Content[0].Input, &input); err != nil {
		t.Fatalf("input: %v", err)
	}
	if input["a"] != "1" || input["b"] != "2" {
		t.Errorf("input = %v", input)
	}
	if resp.StopReason != anthropic.StopReasonToolUse {
		t.Errorf("stop reason = %q", resp.StopReason)
	}
	if strings.Contains(string(transport.lastBody), `"tools"`) {
		t.Error("xml mode request must not carry native tools")
	}
}

func TestProcessRequestEmptyChoiceStillHasContent(t *testing.T) {
	a := newTestAdapter(t, capability.Options{})
	transport := &mockTransport{body: `{"choices":[{"index":0,"message":{"role":"assistant"},"finish_reason":"stop"}]}`}

	resp, err := a.ProcessRequest(t.Context(), userRequest("gpt-4o", "hi"), transport)
	if err != nil {
		t.Fatalf("ProcessRequest: %v", err)
	}
	if len(resp.Content) != 1 || resp.Content[0].Type != anthropic.BlockTypeText {
		t.Errorf("content = %+v, want one empty text block", resp.Content)
	}
}

func TestProcessRequestUsageFallback(t *testing.T) {
	a := newTestAdapter(t, capability.Options{})
	transport := &mockTransport{body: `{
		"choices":[{"index":0,"message":{"role":"assistant","content":"four words of text"},"finish_reason":"stop"}]
	}`}

	resp, err := a.ProcessRequest(t.Context(), userRequest("gpt-4o", "count some words please"), transport)
	if err != nil {
		t.Fatalf("ProcessRequest: %v", err)
	}
	if resp.Usage.InputTokens <= 0 || resp.Usage.OutputTokens <= 0 {
		t.Errorf("usage = %+v, want positive estimates", resp.Usage)
	}
}

func TestProcessRequestUpstreamErrorPassthrough(t *testing.T) {
	a := newTestAdapter(t, capability.Options{})
	transport := &mockTransport{status: http.StatusTooManyRequests, body: `{"error":{"message":"slow down"}}`}

	_, err := a.ProcessRequest(t.Context(), userRequest("gpt-4o", "hi"), transport)
	upstreamErr, ok := err.(*anthropic.UpstreamError)
	if !ok {
		t.Fatalf("error = %v, want UpstreamError", err)
	}
	if upstreamErr.Status != http.StatusTooManyRequests || !strings.Contains(upstreamErr.Body, "slow down") {
		t.Errorf("upstream error = %+v", upstreamErr)
	}
}

func TestAuthorizationHeaderOnUpstreamCall(t *testing.T) {
	a := newTestAdapter(t, capability.Options{})
	transport := &mockTransport{body: `{"choices":[]}`}

	if _, err := a.ProcessRequest(t.Context(), userRequest("gpt-4o", "hi"), transport); err != nil {
		t.Fatalf("ProcessRequest: %v", err)
	}
	if got := transport.lastRequest.Header.Get("Authorization"); got != "Bearer sk-test" {
		t.Errorf("authorization = %q", got)
	}
	if transport.lastRequest.URL.Path != "/v1/chat/completions" {
		t.Errorf("path = %q", transport.lastRequest.URL.Path)
	}
	if got := transport.lastRequest.Header.Get("HTTP-Referer"); got != "" {
		t.Errorf("non-OpenRouter call carries attribution referer %q", got)
	}
}

func TestOpenRouterCallsCarryAttributionHeaders(t *testing.T) {
	caps, err := capability.New(capability.Options{})
	if err != nil {
		t.Fatalf("capability.New: %v", err)
	}
	a := New(Options{
		BaseURL:         "https://openrouter.ai/api/v1",
		APIKey:          "sk-or-test",
		Capabilities:    caps,
		CompletionModel: "deepseek/deepseek-chat",
		Logger:          discardLogger(),
	})
	transport := &mockTransport{body: `{"choices":[]}`}

	if _, err := a.ProcessRequest(t.Context(), userRequest("", "hi"), transport); err != nil {
		t.Fatalf("ProcessRequest: %v", err)
	}
	if got := transport.lastRequest.Header.Get("HTTP-Referer"); got == "" {
		t.Error("OpenRouter call must carry the HTTP-Referer attribution header")
	}
	if got := transport.lastRequest.Header.Get("X-Title"); got == "" {
		t.Error("OpenRouter call must carry the X-Title attribution header")
	}
}
