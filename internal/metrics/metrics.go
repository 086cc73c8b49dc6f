// Package metrics exposes the gateway's Prometheus instrumentation.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector bundles the gateway metrics on a private registry so tests can
// instantiate it repeatedly without duplicate-registration panics.
type Collector struct {
	registry *prometheus.Registry

	requests        *prometheus.CounterVec
	upstreamLatency *prometheus.HistogramVec
	tokensRelayed   *prometheus.CounterVec
}

// New builds a Collector with all metrics registered.
func New() *Collector {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Collector{
		registry: registry,
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "throne",
			Name:      "requests_total",
			Help:      "Messages requests by provider, model, and outcome.",
		}, []string{"provider", "model", "outcome"}),
		upstreamLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "throne",
			Name:      "upstream_latency_seconds",
			Help:      "Latency of upstream calls by provider and endpoint kind.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"provider", "kind"}),
		tokensRelayed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "throne",
			Name:      "tokens_relayed_total",
			Help:      "Token counts relayed to clients, by direction.",
		}, []string{"direction"}),
	}
}

// Handler serves the scrape endpoint for this collector's registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// ObserveRequest records one finished Messages request.
func (c *Collector) ObserveRequest(provider, model, outcome string) {
	c.requests.WithLabelValues(provider, model, outcome).Inc()
}

// ObserveUpstream records one upstream call's latency.
func (c *Collector) ObserveUpstream(provider, kind string, elapsed time.Duration) {
	c.upstreamLatency.WithLabelValues(provider, kind).Observe(elapsed.Seconds())
}

// AddTokens accumulates relayed token usage. Direction is input or output.
func (c *Collector) AddTokens(direction string, n int) {
	if n <= 0 {
		return
	}
	c.tokensRelayed.WithLabelValues(direction).Add(float64(n))
}
