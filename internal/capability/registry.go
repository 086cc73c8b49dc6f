// Package capability answers what a given (provider, model) pair can do:
// native tool calling, reasoning parameters, or whether tool use must be
// emulated over the XML protocol.
//
// Lookups are two-tier: a TTL-cached dynamic fetch of the upstream model
// listing takes precedence over the static pattern table supplied by config.
// Both tiers support a wildcard "*" provider entry.
package capability

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/sync/singleflight"

	"github.com/florianilch/throne-gateway/internal/match"
	"github.com/florianilch/throne-gateway/internal/upstream"
)

// WildcardProvider keys table entries that apply to every provider.
const WildcardProvider = "*"

// Capability is one resolved answer set for a model.
type Capability struct {
	SupportsTools     bool
	SupportsReasoning bool
}

// StaticRuleSpec is the config-file shape of one static table row.
type StaticRuleSpec struct {
	Patterns          []string `koanf:"patterns"`
	SupportsTools     bool     `koanf:"supports_tools"`
	SupportsReasoning bool     `koanf:"supports_reasoning"`
}

type staticRule struct {
	patterns []match.Pattern
	caps     Capability
}

// builtinXMLFamilies cover model families known to lack native function
// calling. Config pattern lists take precedence over this fallback.
var builtinXMLFamilies = []string{"*-base", "mistral-7b*", "gemma*", "*-uncensored*"}

type dynamicEntry struct {
	caps      Capability
	hasParams bool
}

// Options configures a Registry.
type Options struct {
	// Static maps provider id (or "*") to pattern rules.
	Static map[string][]StaticRuleSpec
	// XMLToolPatterns maps provider id (or "*") to model patterns that must
	// use XML tool emulation regardless of advertised capabilities.
	XMLToolPatterns map[string][]string
	// ForceXMLTools short-circuits every XML decision to true.
	ForceXMLTools bool

	// BaseURL/APIKey feed the dynamic model-listing fetch; empty BaseURL
	// disables the dynamic tier.
	BaseURL string
	APIKey  string
	Client  *http.Client
	TTL     time.Duration

	Logger *slog.Logger
	Now    func() time.Time
}

// Registry is the process-wide capability cache. It is an injectable object
// with explicit refresh/reset lifecycle rather than a module-level global.
type Registry struct {
	static      map[string][]staticRule
	xmlPatterns map[string][]match.Pattern
	builtinXML  []match.Pattern
	forceXML    bool

	baseURL  string
	provider upstream.Provider
	apiKey   string
	client   *http.Client
	ttl      time.Duration
	logger   *slog.Logger
	now      func() time.Time

	mu        sync.RWMutex
	dynamic   map[string]dynamicEntry
	fetchedAt time.Time

	group singleflight.Group
}

// New compiles every config pattern once and returns the registry.
// Invalid patterns fail loading rather than silently never matching.
func New(opts Options) (*Registry, error) {
	static := make(map[string][]staticRule, len(opts.Static))
	for provider, specs := range opts.Static {
		rules := make([]staticRule, 0, len(specs))
		for _, spec := range specs {
			patterns, err := match.CompileAll(spec.Patterns)
			if err != nil {
				return nil, fmt.Errorf("static capability rule for %q: %w", provider, err)
			}
			rules = append(rules, staticRule{
				patterns: patterns,
				caps:     Capability{SupportsTools: spec.SupportsTools, SupportsReasoning: spec.SupportsReasoning},
			})
		}
		static[strings.ToLower(provider)] = rules
	}

	xmlPatterns := make(map[string][]match.Pattern, len(opts.XMLToolPatterns))
	for provider, specs := range opts.XMLToolPatterns {
		patterns, err := match.CompileAll(specs)
		if err != nil {
			return nil, fmt.Errorf("xml tool patterns for %q: %w", provider, err)
		}
		xmlPatterns[strings.ToLower(provider)] = patterns
	}

	builtin, err := match.CompileAll(builtinXMLFamilies)
	if err != nil {
		return nil, fmt.Errorf("builtin xml families: %w", err)
	}

	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	baseURL := upstream.NormalizeBaseURL(opts.BaseURL)
	return &Registry{
		static:      static,
		xmlPatterns: xmlPatterns,
		builtinXML:  builtin,
		forceXML:    opts.ForceXMLTools,
		baseURL:     baseURL,
		provider:    upstream.DetectProvider(baseURL),
		apiKey:      opts.APIKey,
		client:      client,
		ttl:         ttl,
		logger:      logger,
		now:         now,
		dynamic:     make(map[string]dynamicEntry),
	}, nil
}

// SupportsToolCalling reports whether the model accepts a native tools field.
func (r *Registry) SupportsToolCalling(ctx context.Context, provider upstream.Provider, model string) bool {
	if entry, ok := r.dynamicLookup(ctx, model); ok {
		return entry.caps.SupportsTools
	}
	if caps, ok := r.staticLookup(provider, model); ok {
		return caps.SupportsTools
	}
	// Unlisted models default to native tools; the XML fallback has its own
	// pattern chain for the exceptions.
	return true
}

// SupportsReasoningParam reports whether the model accepts the upstream
// reasoning parameter.
func (r *Registry) SupportsReasoningParam(ctx context.Context, provider upstream.Provider, model string) bool {
	if entry, ok := r.dynamicLookup(ctx, model); ok {
		return entry.caps.SupportsReasoning
	}
	if caps, ok := r.staticLookup(provider, model); ok {
		return caps.SupportsReasoning
	}
	return false
}

// NeedsXMLTools decides whether tool calling must be emulated over XML:
// global force flag, then per-provider/wildcard config patterns, then the
// builtin known-family fallback, then the model's own tool capability.
func (r *Registry) NeedsXMLTools(ctx context.Context, provider upstream.Provider, model string) bool {
	if r.forceXML {
		return true
	}
	if patterns, ok := r.xmlPatterns[strings.ToLower(string(provider))]; ok && match.Any(patterns, model) {
		return true
	}
	if patterns, ok := r.xmlPatterns[WildcardProvider]; ok && match.Any(patterns, model) {
		return true
	}
	if match.Any(r.builtinXML, model) {
		return true
	}
	return !r.SupportsToolCalling(ctx, provider, model)
}

// WarmUp starts a background fetch of the dynamic tier. Non-blocking;
// failures are logged and ignored so startup never stalls on the upstream.
func (r *Registry) WarmUp(ctx context.Context) {
	if r.baseURL == "" {
		return
	}
	go func() {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		r.refresh(fetchCtx)
	}()
}

// Reset drops the dynamic tier, forcing the next lookup to refetch.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dynamic = make(map[string]dynamicEntry)
	r.fetchedAt = time.Time{}
}

func (r *Registry) staticLookup(provider upstream.Provider, model string) (Capability, bool) {
	for _, key := range []string{strings.ToLower(string(provider)), WildcardProvider} {
		for _, rule := range r.static[key] {
			if match.Any(rule.patterns, model) {
				return rule.caps, true
			}
		}
	}
	return Capability{}, false
}

func (r *Registry) dynamicLookup(ctx context.Context, model string) (dynamicEntry, bool) {
	if r.baseURL == "" {
		return dynamicEntry{}, false
	}

	r.mu.RLock()
	entry, ok := r.dynamic[model]
	stale := r.fetchedAt.IsZero() || r.now().Sub(r.fetchedAt) > r.ttl
	r.mu.RUnlock()

	if stale {
		r.refresh(ctx)
		r.mu.RLock()
		entry, ok = r.dynamic[model]
		r.mu.RUnlock()
	}
	if !ok || !entry.hasParams {
		return dynamicEntry{}, false
	}
	return entry, true
}

// refresh fetches the upstream model listing once, single-flight across
// concurrent callers, and replaces the dynamic tier on success.
func (r *Registry) refresh(ctx context.Context) {
	_, _, _ = r.group.Do("fetch", func() (any, error) {
		// Re-check staleness inside the flight; a caller that queued behind
		// a finished fetch should not trigger another one.
		r.mu.RLock()
		fresh := !r.fetchedAt.IsZero() && r.now().Sub(r.fetchedAt) <= r.ttl
		r.mu.RUnlock()
		if fresh {
			return nil, nil
		}

		entries, err := r.fetchModels(ctx)
		if err != nil {
			r.logger.WarnContext(ctx, "capability fetch failed, using static table",
				"base_url", r.baseURL, "error", err)
			// Record the attempt so request-path lookups stop retrying the
			// upstream until the TTL elapses.
			r.mu.Lock()
			r.fetchedAt = r.now()
			r.mu.Unlock()
			return nil, nil
		}

		r.mu.Lock()
		r.dynamic = entries
		r.fetchedAt = r.now()
		r.mu.Unlock()
		r.logger.DebugContext(ctx, "capability cache refreshed", "models", len(entries))
		return nil, nil
	})
}

// fetchModels parses a GET {base}/models listing. The shape is provider
// specific, so this reads with gjson instead of typed structs: model ids
// under data[].id, optional OpenRouter-style supported_parameters.
func (r *Registry) fetchModels(ctx context.Context) (map[string]dynamicEntry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"/models", nil)
	if err != nil {
		return nil, err
	}
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}
	upstream.SetAttributionHeaders(req.Header, r.provider)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("model listing returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, err
	}

	entries := make(map[string]dynamicEntry)
	gjson.GetBytes(body, "data").ForEach(func(_, item gjson.Result) bool {
		id := item.Get("id").String()
		if id == "" {
			return true
		}
		params := item.Get("supported_parameters")
		if !params.Exists() {
			entries[id] = dynamicEntry{}
			return true
		}
		var caps Capability
		params.ForEach(func(_, p gjson.Result) bool {
			switch p.String() {
			case "tools", "tool_choice":
				caps.SupportsTools = true
			case "reasoning", "include_reasoning":
				caps.SupportsReasoning = true
			}
			return true
		})
		entries[id] = dynamicEntry{caps: caps, hasParams: true}
		return true
	})
	if len(entries) == 0 {
		return nil, fmt.Errorf("model listing had no data entries")
	}
	return entries, nil
}
