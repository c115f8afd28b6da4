package middleware

import (
	"context"
	"errors"

	"golang.org/x/time/rate"

	"spacelink/message"
)

var ErrRateLimited = errors.New("rate limit exceeded")

// RateLimitMiddleware rejects inbound requests beyond r per second (token bucket).
// Responses are never rate limited because they bypass the handler chain.
func RateLimitMiddleware(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, env *message.Envelope) (*message.Payload, error) {
			if !limiter.Allow() {
				return nil, ErrRateLimited
			}
			return next(ctx, env)
		}
	}
}
