package middleware

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/httplog/v3"
)

// skipPaths are high-frequency probe endpoints whose request logs carry no
// signal; scrapers and load balancers hit them constantly.
var skipPaths = map[string]bool{
	"/health":  true,
	"/healthz": true,
	"/metrics": true,
}

// Logging logs HTTP requests with method, path, status, and duration.
// Request and response bodies stay out of the logs: Messages payloads carry
// prompt text and tool results that must never land in a log line.
func Logging(logger *slog.Logger) func(http.Handler) http.Handler {
	return httplog.RequestLogger(logger, &httplog.Options{
		Schema: httplog.SchemaECS.Concise(true),

		Skip: func(req *http.Request, respStatus int) bool {
			return skipPaths[req.URL.Path] && respStatus < http.StatusInternalServerError
		},

		// Anthropic-Version is worth keeping; it pins which protocol
		// revision the client speaks.
		LogRequestHeaders:  []string{"Content-Type", "Origin", "Anthropic-Version"},
		LogResponseHeaders: []string{},
		LogRequestBody:     nil,
		LogResponseBody:    nil,

		RecoverPanics: false, // use dedicated middleware, panics are logged regardless
	})
}

// SetLogAttrs sets attributes on the request log.
func SetLogAttrs(ctx context.Context, attrs ...slog.Attr) {
	httplog.SetAttrs(ctx, attrs...)
}
