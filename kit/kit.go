// Package kit defines the transport-agnostic endpoint abstraction shared by
// the HTTP and MCP surfaces, plus the context keys that carry per-request
// metadata across them.
//
// An Endpoint is a single business operation. Transports (chi handlers, MCP
// tools) decode their wire format into a request value, invoke the Endpoint,
// and encode the response. Middleware composes on Endpoints the same way
// http.Handler middleware composes on handlers.
package kit

import "context"

// Endpoint is a single business operation, independent of transport.
type Endpoint func(ctx context.Context, req any) (any, error)

// Middleware wraps an Endpoint, adding cross-cutting behaviour.
type Middleware func(next Endpoint) Endpoint

// Chain composes middlewares left-to-right: the first middleware in the
// slice is the outermost wrapper (executed first on the request path).
func Chain(mws ...Middleware) Middleware {
	return func(next Endpoint) Endpoint {
		for i := len(mws) - 1; i >= 0; i-- {
			next = mws[i](next)
		}
		return next
	}
}
