// Package openaichat translates Anthropic Messages traffic to and from
// OpenAI-compatible Chat Completions upstreams, whole-response and streamed.
package openaichat

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"log/slog"
	"net/http"

	"github.com/florianilch/throne-gateway/internal/adapter"
	"github.com/florianilch/throne-gateway/internal/anthropic"
	"github.com/florianilch/throne-gateway/internal/capability"
	"github.com/florianilch/throne-gateway/internal/openaiwire"
	"github.com/florianilch/throne-gateway/internal/toolbridge"
	"github.com/florianilch/throne-gateway/internal/upstream"
)

// Options configures an Adapter.
type Options struct {
	BaseURL string
	APIKey  string

	Capabilities *capability.Registry

	// ReasoningModel and CompletionModel are the defaults applied when the
	// client omits a model. ReasoningModel wins when thinking is requested.
	ReasoningModel  string
	CompletionModel string

	// StripURIFormat enables the compatibility mode that removes
	// format:"uri" annotations from tool schemas recursively.
	StripURIFormat bool

	// Tools is the shared tool-name registry driving the XML parser. A fresh
	// registry is created when nil.
	Tools  *toolbridge.Registry
	Logger *slog.Logger
}

// Adapter implements the Messages operation against a Chat Completions
// upstream. Stateless per request apart from the shared tool-name registry.
type Adapter struct {
	baseURL  string
	apiKey   string
	provider upstream.Provider

	caps            *capability.Registry
	reasoningModel  string
	completionModel string
	stripURIFormat  bool

	tools  *toolbridge.Registry
	parser *toolbridge.Parser
	logger *slog.Logger
}

// Compile-time check to ensure Adapter implements the Messages contract.
var _ adapter.MessagesAdapter = (*Adapter)(nil)
var _ adapter.Previewer = (*Adapter)(nil)

// New builds an Adapter for one upstream base URL.
func New(opts Options) *Adapter {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tools := opts.Tools
	if tools == nil {
		tools = toolbridge.NewRegistry()
	}
	baseURL := upstream.NormalizeBaseURL(opts.BaseURL)

	return &Adapter{
		baseURL:         baseURL,
		apiKey:          opts.APIKey,
		provider:        upstream.DetectProvider(baseURL),
		caps:            opts.Capabilities,
		reasoningModel:  opts.ReasoningModel,
		completionModel: opts.CompletionModel,
		stripURIFormat:  opts.StripURIFormat,
		tools:           tools,
		parser:          toolbridge.NewParser(tools, logger),
		logger:          logger,
	}
}

// ProcessRequest translates the request, performs the upstream call, and
// translates the buffered reply back into a Messages response.
func (a *Adapter) ProcessRequest(
	ctx context.Context,
	clientReq anthropic.MessagesRequest,
	transport http.RoundTripper,
) (*anthropic.MessagesResponse, error) {
	plan := a.plan(ctx, clientReq)
	chatReq := a.buildChatRequest(clientReq, plan, false)

	resp, err := a.call(ctx, transport, chatReq)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	var chatResp openaiwire.ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return nil, fmt.Errorf("decode upstream response: %w", err)
	}

	return a.toMessagesResponse(ctx, clientReq, plan, chatResp), nil
}

// ProcessStreamingRequest translates the request, opens the upstream SSE
// stream, and returns an iterator of Anthropic stream events. Upstream
// rejections surface as an error before any event is produced.
func (a *Adapter) ProcessStreamingRequest(
	ctx context.Context,
	clientReq anthropic.MessagesRequest,
	transport http.RoundTripper,
) (iter.Seq2[*anthropic.StreamEvent, error], error) {
	plan := a.plan(ctx, clientReq)
	chatReq := a.buildChatRequest(clientReq, plan, true)

	resp, err := a.call(ctx, transport, chatReq)
	if err != nil {
		return nil, err
	}

	return a.streamEvents(ctx, resp, clientReq, plan), nil
}

// BuildUpstreamPayload runs the full translation pipeline for clientReq and
// returns the call it would produce, without sending anything upstream.
func (a *Adapter) BuildUpstreamPayload(
	ctx context.Context,
	clientReq anthropic.MessagesRequest,
) (*adapter.Preview, error) {
	plan := a.plan(ctx, clientReq)
	chatReq := a.buildChatRequest(clientReq, plan, clientReq.Stream)

	payload, err := json.Marshal(chatReq)
	if err != nil {
		return nil, fmt.Errorf("encode upstream request: %w", err)
	}
	return &adapter.Preview{
		Method:    http.MethodPost,
		URL:       a.baseURL + "/chat/completions",
		Headers:   a.upstreamHeaders(chatReq.Stream),
		Body:      payload,
		Model:     plan.model,
		ModelRule: plan.modelRule,
		XMLTools:  plan.xmlTools,
		Reasoning: plan.reasoning,
	}, nil
}

// requestPlan is the per-request translation decision set.
type requestPlan struct {
	model     string
	modelRule string
	xmlTools  bool
	reasoning bool
}

// plan resolves the model selection chain and the capability-driven flags,
// recording which rule fired.
func (a *Adapter) plan(ctx context.Context, req anthropic.MessagesRequest) requestPlan {
	model, rule := a.selectModel(req)
	plan := requestPlan{model: model, modelRule: rule}

	if len(req.Tools) > 0 && a.caps != nil {
		plan.xmlTools = a.caps.NeedsXMLTools(ctx, a.provider, model)
	}
	if req.Thinking != nil && req.Thinking.Enabled && a.caps != nil {
		plan.reasoning = a.caps.SupportsReasoningParam(ctx, a.provider, model)
	}

	a.logger.DebugContext(ctx, "planned upstream request",
		"model", model, "model_rule", rule,
		"xml_tools", plan.xmlTools, "reasoning", plan.reasoning)
	return plan
}

// selectModel walks the chain: explicit client model, reasoning default when
// thinking is requested, completion default.
func (a *Adapter) selectModel(req anthropic.MessagesRequest) (model, rule string) {
	if req.Model != "" {
		return req.Model, "explicit"
	}
	if req.Thinking != nil && req.Thinking.Enabled && a.reasoningModel != "" {
		return a.reasoningModel, "reasoning_default"
	}
	return a.completionModel, "completion_default"
}
