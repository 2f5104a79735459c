// Package middleware wraps the client's send path with cross-cutting behaviour.
//
// Middlewares compose around a HandlerFunc, the outermost first:
//
//	Chain(Logging, Metrics, RateLimit)(send)
//	    → Logging → Metrics → RateLimit → send
package middleware

import (
	"context"

	"pirate-rpc/message"
)

// HandlerFunc performs one call. It never returns nil.
type HandlerFunc func(ctx context.Context, req *message.Request) *message.Response

type Middleware func(next HandlerFunc) HandlerFunc

// Chain combines middlewares into one; the first one runs outermost.
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
