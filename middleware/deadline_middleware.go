package middleware

import (
	"context"
	"time"

	"pirate-rpc/message"
)

// DeadlineMiddleware bounds a whole call, retries included, to d. The per-attempt
// timeouts still apply; whichever expires first ends the call. A call cut short this
// way fails with TransportFault wrapping context.DeadlineExceeded.
func DeadlineMiddleware(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) *message.Response {
			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(ctx, req)
		}
	}
}
