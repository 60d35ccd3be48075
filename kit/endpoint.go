// Package kit holds the transport-agnostic endpoint plumbing shared by the
// HTTP and MCP surfaces: an Endpoint is one operation, middleware wraps it,
// and the transport adapters decode requests into it.
package kit

import "context"

// Endpoint is one transport-agnostic operation.
type Endpoint func(ctx context.Context, req any) (any, error)

// Middleware wraps an Endpoint.
type Middleware func(Endpoint) Endpoint

// Chain composes middlewares outermost-first.
func Chain(mws ...Middleware) Middleware {
	return func(next Endpoint) Endpoint {
		for i := len(mws) - 1; i >= 0; i-- {
			next = mws[i](next)
		}
		return next
	}
}
