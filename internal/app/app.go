// Package app wires configuration into the gateway's collaborators and
// orchestrates the server lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/florianilch/throne-gateway/internal/adapter/anthropicnative"
	"github.com/florianilch/throne-gateway/internal/adapter/openaichat"
	"github.com/florianilch/throne-gateway/internal/anthropic"
	"github.com/florianilch/throne-gateway/internal/capability"
	"github.com/florianilch/throne-gateway/internal/gateway"
	"github.com/florianilch/throne-gateway/internal/metrics"
	"github.com/florianilch/throne-gateway/internal/upstream"
)

// App orchestrates the lifecycle of the gateway server and related services.
type App struct {
	server   *http.Server
	resolver *upstream.Resolver
	registry *capability.Registry
}

// New resolves credentials, builds the adapters and the router, and returns
// an App ready to Start. A missing API key is not fatal here: the server
// still starts and rejects Messages requests with the full env-var listing.
func New(cfg Config) (*App, error) {
	logger := slog.Default()

	baseURL := upstream.NormalizeBaseURL(cfg.BaseURL)
	provider := upstream.DetectProvider(baseURL)

	var keyErr *anthropic.MissingAPIKeyError
	cred, checked, ok := upstream.ResolveAPIKey(provider, cfg.APIKey, os.Getenv)
	if ok {
		logger.Info("upstream credential resolved",
			"provider", string(provider), "source", cred.Source)
	} else {
		keyErr = &anthropic.MissingAPIKeyError{Provider: string(provider), EnvChecked: checked}
		logger.Warn("no upstream API key found, requests will be rejected",
			"provider", string(provider), "checked", checked)
	}

	overrides := make(map[string]upstream.Kind, len(cfg.EndpointOverrides))
	for rawURL, kind := range cfg.EndpointOverrides {
		overrides[upstream.NormalizeBaseURL(rawURL)] = upstream.Kind(kind)
	}

	resolver := upstream.NewResolver(upstream.ResolverOptions{
		BaseURL:   baseURL,
		Overrides: overrides,
		APIKey:    cred.Key,
		Logger:    logger,
	})

	registry, err := capability.New(capability.Options{
		Static:          cfg.Capabilities,
		XMLToolPatterns: cfg.XMLToolPatterns,
		ForceXMLTools:   cfg.ForceXMLTools,
		BaseURL:         baseURL,
		APIKey:          cred.Key,
		Logger:          logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build capability registry: %w", err)
	}

	handler := gateway.New(gateway.Options{
		Chat: openaichat.New(openaichat.Options{
			BaseURL:         baseURL,
			APIKey:          cred.Key,
			Capabilities:    registry,
			ReasoningModel:  cfg.ReasoningModel,
			CompletionModel: cfg.CompletionModel,
			StripURIFormat:  cfg.StripURIFormat,
			Logger:          logger,
		}),
		Native: anthropicnative.New(anthropicnative.Options{
			BaseURL: baseURL,
			APIKey:  cred.Key,
			Logger:  logger,
		}),
		Resolver:        resolver,
		APIKey:          cred.Key,
		KeyError:        keyErr,
		ReasoningModel:  cfg.ReasoningModel,
		CompletionModel: cfg.CompletionModel,
		Metrics:         metrics.New(),
		Logger:          logger,
		Debug:           cfg.Debug,
		MaxBodyBytes:    cfg.MaxBodyBytes,
		AllowedOrigins:  cfg.AllowedOrigins,
	})

	return &App{
		server: &http.Server{
			Addr:    cfg.Listen,
			Handler: handler,
			// WriteTimeout stays zero so long-lived SSE responses are not cut
			// off by a fixed deadline.
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       2 * time.Minute,
		},
		resolver: resolver,
		registry: registry,
	}, nil
}

// Start starts all services and blocks until shutdown is triggered.
// Uses errgroup for runtime error monitoring and shutdown function collection
// for coordinated cleanup.
func (a *App) Start(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	var shutdownFuncs []func(context.Context) error

	// Warm the caches without blocking startup; both are best-effort.
	a.registry.WarmUp(gCtx)
	a.resolver.Kick(gCtx)

	slog.InfoContext(gCtx, "starting gateway server",
		"addr", a.server.Addr,
		"base_url", a.resolver.BaseURL(),
		"provider", string(a.resolver.Provider()),
		"endpoint_kind", string(a.resolver.Snapshot().Kind))

	listener, err := net.Listen("tcp", a.server.Addr)
	if err != nil {
		return fmt.Errorf("gateway startup failed: %w", err)
	}
	serveErrCh := make(chan error, 1)
	go func() {
		if serveErr := a.server.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			serveErrCh <- serveErr
		}
		close(serveErrCh)
	}()
	shutdownFuncs = append(shutdownFuncs, a.server.Shutdown)

	// Monitor runtime errors - errgroup cancels context on first error
	g.Go(func() error {
		select {
		case err := <-serveErrCh:
			if err != nil {
				slog.ErrorContext(gCtx, "gateway runtime error", "error", err)
				return fmt.Errorf("gateway: %w", err)
			}
			return nil
		case <-gCtx.Done():
			return nil
		}
	})

	runtimeErr := g.Wait()

	slog.InfoContext(gCtx, "shutting down services")

	// Shutdown phase: Stop all services
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var errs []error
	if runtimeErr != nil {
		errs = append(errs, fmt.Errorf("runtime: %w", runtimeErr))
	}

	for i := len(shutdownFuncs) - 1; i >= 0; i-- {
		if err := shutdownFuncs[i](shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "service shutdown failed", "error", err)
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	slog.Info("application stopped")
	return nil
}
