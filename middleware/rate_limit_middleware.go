package middleware

import (
	"context"
	"errors"

	"golang.org/x/time/rate"

	"pirate-rpc/message"
	"pirate-rpc/metrics"
	"pirate-rpc/rpcerr"
)

// ErrRateLimited is the cause of a call rejected by RateLimitMiddleware.
var ErrRateLimited = errors.New("middleware: client rate limit exceeded")

// RateLimitMiddleware throttles calls with a token bucket of r calls/second and the given
// burst. A rejected call fails with ServiceUnavailable wrapping ErrRateLimited and never
// touches the network.
func RateLimitMiddleware(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) *message.Response {
			if !limiter.Allow() {
				metrics.RateLimited.WithLabelValues(req.Service).Inc()
				return message.Failed(&rpcerr.Error{
					Code:    rpcerr.CodeServiceUnavailable,
					Service: req.Service,
					Err:     ErrRateLimited,
				})
			}
			return next(ctx, req)
		}
	}
}
