// Package middleware implements the onion-model middleware chain that
// wraps calls to the public client facade's operations (spec §9: "ambient
// ground floor for logging/retry/timeout"), generalized from the
// teacher's RPCMessage-shaped chain to one keyed on an Operation name and
// an opaque result.
//
// Onion model execution order:
//
//	Chain(A, B, C)(handler)  →  A(B(C(handler)))
//
//	Request:   A.before → B.before → C.before → handler
//	Response:  handler → C.after → B.after → A.after
package middleware

import "context"

// Operation identifies one facade call (e.g. "WriteEvents", "ReadEvent")
// for the benefit of logging and retry middleware; the actual request
// payload stays inside the closure HandlerFunc invokes.
type Operation struct {
	Name string
}

// HandlerFunc performs one operation and returns its result, the same
// signature a middleware-wrapped handler and the innermost business call
// both share.
type HandlerFunc func(ctx context.Context, op Operation) (any, error)

// Middleware wraps a handler with cross-cutting behavior.
type Middleware func(next HandlerFunc) HandlerFunc

// Chain composes middlewares so the first in the list is outermost,
// executed first on the way in and last on the way out.
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
