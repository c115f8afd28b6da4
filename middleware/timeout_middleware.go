package middleware

import (
	"context"
	"errors"
	"time"

	"spacelink/message"
)

var ErrTimeout = errors.New("request timed out")

type handlerResult struct {
	resp *message.Payload
	err  error
}

// TimeOutMiddleware bounds how long the dispatch goroutine waits for a handler.
// The handler keeps running after the deadline but its result is discarded.
func TimeOutMiddleware(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, env *message.Envelope) (*message.Payload, error) {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			done := make(chan handlerResult, 1)
			go func() {
				resp, err := next(ctx, env)
				done <- handlerResult{resp: resp, err: err}
			}()

			select {
			case r := <-done:
				return r.resp, r.err
			case <-ctx.Done():
				return nil, ErrTimeout
			}
		}
	}
}
