// Package adapter defines the contract between the HTTP surface and the
// upstream translators.
package adapter

import (
	"context"
	"iter"
	"net/http"

	"github.com/florianilch/throne-gateway/internal/anthropic"
)

// Adapter defines the contract for transforming client requests to provider API calls.
//
// Type parameters allow the interface to express transformation contracts for different
// request/response shapes while maintaining compile-time type safety.
//
// Type parameters:
//   - TRequest:  Client-specific request structure
//   - TResponse: Client-specific response structure
//   - TChunk:    Client-specific streaming chunk protocol
type Adapter[TRequest, TResponse, TChunk any] interface {
	// ProcessRequest transforms the client request, calls the provider API, and returns
	// the transformed response. Implementations should remain stateless.
	ProcessRequest(ctx context.Context, clientReq TRequest, transport http.RoundTripper) (*TResponse, error)

	// ProcessStreamingRequest transforms the client request, calls the provider streaming API,
	// and returns an iterator of transformed chunks. Implementations should remain stateless.
	ProcessStreamingRequest(ctx context.Context, clientReq TRequest, transport http.RoundTripper) (iter.Seq2[*TChunk, error], error)
}

// Preview is a dry-run of one upstream call: everything that would go on the
// wire, never sent. Serves the debug echo endpoint.
type Preview struct {
	Method  string
	URL     string
	Headers http.Header
	Body    []byte

	// Translation decisions, empty when the upstream is a passthrough.
	Model     string
	ModelRule string
	XMLTools  bool
	Reasoning bool
}

// Previewer is implemented by adapters that can translate a request without
// performing the upstream call.
type Previewer interface {
	BuildUpstreamPayload(ctx context.Context, clientReq MessagesRequest) (*Preview, error)
}

// Type aliases for the Anthropic Messages operation the gateway serves.
// MessagesAdapter is the concrete adapter interface for this operation.
type (
	MessagesRequest  = anthropic.MessagesRequest
	MessagesResponse = anthropic.MessagesResponse
	MessagesChunk    = anthropic.StreamEvent

	MessagesAdapter = Adapter[
		MessagesRequest,
		MessagesResponse,
		MessagesChunk,
	]
)
