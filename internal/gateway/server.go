// Package gateway is the HTTP surface: the Messages endpoint with its
// streaming bridge, the models listing, health, token counting, the debug
// echo, and the metrics scrape.
package gateway

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/florianilch/throne-gateway/internal/adapter"
	"github.com/florianilch/throne-gateway/internal/adapter/anthropicnative"
	"github.com/florianilch/throne-gateway/internal/anthropic"
	"github.com/florianilch/throne-gateway/internal/metrics"
	"github.com/florianilch/throne-gateway/internal/observability/middleware"
	"github.com/florianilch/throne-gateway/internal/upstream"
)

const defaultMaxBodyBytes = 10 << 20

// Options wires a Server.
type Options struct {
	Chat   adapter.MessagesAdapter
	Native *anthropicnative.Relay

	Resolver *upstream.Resolver

	// APIKey authenticates direct upstream calls made by the gateway itself,
	// such as the models listing proxy.
	APIKey string

	// KeyError is non-nil when no upstream credential could be resolved at
	// startup; Messages requests are then rejected with it.
	KeyError *anthropic.MissingAPIKeyError

	// ReasoningModel and CompletionModel are the configured defaults,
	// surfaced on the health endpoint.
	ReasoningModel  string
	CompletionModel string

	Metrics   *metrics.Collector
	Transport http.RoundTripper
	Logger    *slog.Logger

	// Debug mounts the echo endpoint.
	Debug bool

	MaxBodyBytes   int64
	AllowedOrigins []string
}

// Server is the gateway's http.Handler.
type Server struct {
	router chi.Router

	chat     adapter.MessagesAdapter
	native   *anthropicnative.Relay
	resolver *upstream.Resolver
	apiKey   string
	keyErr   *anthropic.MissingAPIKeyError

	reasoningModel  string
	completionModel string

	metrics   *metrics.Collector
	transport http.RoundTripper
	logger    *slog.Logger
}

// Compile-time check to ensure Server implements http.Handler
var _ http.Handler = (*Server)(nil)

// New assembles the router with the full middleware stack.
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	transport := opts.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	maxBody := opts.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = defaultMaxBodyBytes
	}
	collector := opts.Metrics
	if collector == nil {
		collector = metrics.New()
	}

	s := &Server{
		chat:      opts.Chat,
		native:    opts.Native,
		resolver:  opts.Resolver,
		apiKey:    opts.APIKey,
		keyErr:    opts.KeyError,

		reasoningModel:  opts.ReasoningModel,
		completionModel: opts.CompletionModel,

		metrics:   collector,
		transport: transport,
		logger:    logger,
	}

	r := chi.NewRouter()
	r.Use(Recovery)
	r.Use(middleware.RequestIDGeneration)
	r.Use(middleware.TraceContextExtraction)
	r.Use(middleware.Logging(logger))
	r.Use(middleware.RequestIDPropagation)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins(opts.AllowedOrigins),
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization", "X-Api-Key", "Anthropic-Version"},
	}))
	r.Use(RequestSizeLimit(maxBody))

	r.Post("/v1/messages", s.handleMessages)
	r.Post("/v1/messages/count_tokens", s.handleCountTokens)
	r.Get("/v1/models", s.handleModels)
	r.Get("/health", s.handleHealth)
	// Deprecated alias kept for clients configured against older releases.
	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", collector.Handler())
	if opts.Debug {
		r.Post("/v1/debug/echo", s.handleEcho)
	}

	s.router = r
	return s
}

func allowedOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
