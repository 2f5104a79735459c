package middleware

import (
	"context"
	"time"

	"pirate-rpc/message"
	"pirate-rpc/metrics"
	"pirate-rpc/rpcerr"
)

// MetricsMiddleware records call outcomes and latency.
func MetricsMiddleware() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) *message.Response {
			start := time.Now()
			resp := next(ctx, req)
			metrics.CallLatency.WithLabelValues(req.Service).Observe(time.Since(start).Seconds())

			outcome := "ok"
			if resp.Err != nil {
				outcome = "error"
				if code := rpcerr.CodeOf(resp.Err); code != 0 {
					outcome = code.String()
				}
			}
			metrics.Calls.WithLabelValues(req.Service, outcome).Inc()
			return resp
		}
	}
}
