package middleware

import (
	"context"
	"log/slog"
	"time"

	"pirate-rpc/message"
)

// LoggingMiddleware logs every finished call at debug level, and failed calls at warn.
func LoggingMiddleware(log *slog.Logger) Middleware {
	if log == nil {
		log = slog.Default()
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) *message.Response {
			start := time.Now()
			resp := next(ctx, req)
			duration := time.Since(start)

			if resp.Err != nil {
				log.Warn("call failed",
					"service", req.Service,
					"attempts", resp.Attempts,
					"duration", duration,
					"error", resp.Err)
				return resp
			}
			log.Debug("call finished",
				"service", req.Service,
				"attempts", resp.Attempts,
				"duration", duration,
				"bytes", len(resp.Payload))
			return resp
		}
	}
}
