package upstream

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/sync/singleflight"
)

// Kind is the wire dialect an upstream speaks.
type Kind string

const (
	KindAnthropicNative  Kind = "anthropic_native"
	KindOpenAICompatible Kind = "openai_compatible"
	KindUnknown          Kind = "unknown"
)

// DetectionSource records how the current kind was decided.
type DetectionSource string

const (
	SourceOverride  DetectionSource = "override"
	SourceHeuristic DetectionSource = "heuristic"
	SourceProbe     DetectionSource = "probe"
)

// State is a read snapshot of the endpoint-kind cache.
type State struct {
	Kind         Kind
	Source       DetectionSource
	LastProbedAt time.Time
}

// Resolver owns the process-wide endpoint-kind cache for one base URL and
// runs the negotiation probe for unclassified custom endpoints. It is an
// injectable object with an explicit lifecycle so tests can isolate state.
type Resolver struct {
	baseURL  string // normalized
	provider Provider
	apiKey   string
	client   *http.Client
	logger   *slog.Logger

	mu    sync.RWMutex
	state State

	group singleflight.Group
}

// ResolverOptions configures a Resolver.
type ResolverOptions struct {
	BaseURL string
	// Overrides maps normalized base URLs to an explicit kind, from config.
	Overrides map[string]Kind
	// APIKey is attached to probe requests when available.
	APIKey string
	// Client defaults to a 10s-timeout client matching the probe budget.
	Client *http.Client
	Logger *slog.Logger
}

// NewResolver builds a Resolver and runs the synchronous part of detection:
// explicit override first, heuristic second, unknown for the rest.
func NewResolver(opts ResolverOptions) *Resolver {
	normalized := NormalizeBaseURL(opts.BaseURL)
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := &Resolver{
		baseURL:  normalized,
		provider: DetectProvider(normalized),
		apiKey:   opts.APIKey,
		client:   client,
		logger:   logger,
	}
	r.state = State{Kind: r.infer(opts.Overrides)}
	switch {
	case overrideFor(opts.Overrides, normalized) != KindUnknown:
		r.state.Source = SourceOverride
	case r.state.Kind != KindUnknown:
		r.state.Source = SourceHeuristic
	}
	return r
}

// BaseURL returns the normalized upstream base URL.
func (r *Resolver) BaseURL() string { return r.baseURL }

// Provider returns the detected provider id.
func (r *Resolver) Provider() Provider { return r.provider }

// Snapshot returns the current endpoint-kind decision.
func (r *Resolver) Snapshot() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// infer applies override map then heuristic table. Known anthropic-native
// shapes: the anthropic provider itself, and custom endpoints whose base
// path ends in /anthropic (the convention used by multi-dialect vendors).
func (r *Resolver) infer(overrides map[string]Kind) Kind {
	if k := overrideFor(overrides, r.baseURL); k != KindUnknown {
		return k
	}
	if r.provider == ProviderAnthropic {
		return KindAnthropicNative
	}
	if strings.HasSuffix(r.baseURL, "/anthropic") {
		return KindAnthropicNative
	}
	if r.provider != ProviderCustom {
		return KindOpenAICompatible
	}
	return KindUnknown
}

func overrideFor(overrides map[string]Kind, normalized string) Kind {
	if k, ok := overrides[normalized]; ok && k != "" {
		return k
	}
	return KindUnknown
}

// Kick starts negotiation in the background if the kind is still unknown.
// Safe to call on every request; concurrent callers share one probe.
func (r *Resolver) Kick(ctx context.Context) {
	if r.Snapshot().Kind != KindUnknown {
		return
	}
	go func() {
		// Detach from the request context so a client disconnect does not
		// cancel the shared probe other callers are waiting on.
		probeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
		defer cancel()
		_, _ = r.Negotiate(probeCtx)
	}()
}

// Negotiate classifies the endpoint with a live probe. Single-flight:
// concurrent callers await one shared in-flight probe. On probe failure the
// heuristic answer (openai_compatible for unclassified customs) is cached
// with source=heuristic and the failure is logged.
func (r *Resolver) Negotiate(ctx context.Context) (Kind, error) {
	if s := r.Snapshot(); s.Kind != KindUnknown {
		return s.Kind, nil
	}

	result, err, _ := r.group.Do("negotiate", func() (any, error) {
		kind, probeErr := r.probe(ctx)
		now := time.Now()

		r.mu.Lock()
		defer r.mu.Unlock()
		if probeErr != nil {
			r.logger.WarnContext(ctx, "endpoint negotiation failed, falling back to heuristic",
				"base_url", r.baseURL, "error", probeErr)
			r.state = State{Kind: KindOpenAICompatible, Source: SourceHeuristic, LastProbedAt: now}
			return r.state.Kind, nil
		}
		r.state = State{Kind: kind, Source: SourceProbe, LastProbedAt: now}
		r.logger.InfoContext(ctx, "endpoint negotiated",
			"base_url", r.baseURL, "kind", string(kind))
		return kind, nil
	})
	if err != nil {
		return KindUnknown, err
	}
	return result.(Kind), nil
}

// Reset clears the cached decision back to the constructor inference.
// Used by tests and by config-override refresh.
func (r *Resolver) Reset(overrides map[string]Kind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = State{Kind: r.infer(overrides)}
	if r.state.Kind != KindUnknown {
		r.state.Source = SourceHeuristic
	}
}

const probeBody = `{"model":"probe","max_tokens":1,"messages":[{"role":"user","content":"ping"}]}`

// probe classifies the endpoint by what it answers, not by what it returns
// for success: an Anthropic-shaped envelope (message or error) on POST
// {base}/messages marks anthropic_native, an OpenAI-shaped reply on POST
// {base}/chat/completions marks openai_compatible. Auth failures still
// classify, since both dialects reject with their own envelope.
func (r *Resolver) probe(ctx context.Context) (Kind, error) {
	if body, err := r.probeCall(ctx, r.baseURL+"/messages", func(h http.Header) {
		if r.apiKey != "" {
			h.Set("x-api-key", r.apiKey)
		}
		h.Set("anthropic-version", "2023-06-01")
	}); err == nil {
		parsed := gjson.ParseBytes(body)
		if parsed.Get("type").String() == "message" ||
			(parsed.Get("type").String() == "error" && parsed.Get("error.type").Exists()) {
			return KindAnthropicNative, nil
		}
	}

	body, err := r.probeCall(ctx, r.baseURL+"/chat/completions", func(h http.Header) {
		if r.apiKey != "" {
			h.Set("Authorization", "Bearer "+r.apiKey)
		}
	})
	if err != nil {
		return KindUnknown, err
	}
	parsed := gjson.ParseBytes(body)
	if parsed.Get("choices").Exists() || parsed.Get("object").String() == "chat.completion" ||
		parsed.Get("error.message").Exists() {
		return KindOpenAICompatible, nil
	}
	return KindUnknown, errUnclassifiable
}

type unclassifiableError struct{}

func (unclassifiableError) Error() string { return "probe responses matched neither dialect" }

var errUnclassifiable = unclassifiableError{}

// probeCall POSTs the minimal body and returns up to 4KB of response body.
func (r *Resolver) probeCall(ctx context.Context, url string, setHeaders func(http.Header)) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(probeBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	setHeaders(req.Header)
	SetAttributionHeaders(req.Header, r.provider)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return nil, err
	}
	return bytes.TrimSpace(body), nil
}
