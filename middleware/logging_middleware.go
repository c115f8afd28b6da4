package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"

	"spacelink/message"
)

func LoggingMiddleware(logger *zap.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, env *message.Envelope) (*message.Payload, error) {
			start := time.Now()
			resp, err := next(ctx, env)
			fields := []zap.Field{
				zap.Stringer("op", env.Op),
				zap.Uint32("tag", env.Tag),
				zap.Duration("duration", time.Since(start)),
			}
			if err != nil {
				logger.Warn("Handler failed", append(fields, zap.Error(err))...)
			} else {
				logger.Debug("Handled request", fields...)
			}
			return resp, err
		}
	}
}
