package middleware

import (
	"context"
	"errors"
	"fmt"

	"spacelink/message"
)

var ErrHandlerPanic = errors.New("handler panic")

// RecoverMiddleware turns a panicking handler into an ordinary error so one bad
// handler cannot take the dispatch goroutine down with it.
func RecoverMiddleware() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, env *message.Envelope) (resp *message.Payload, err error) {
			defer func() {
				if r := recover(); r != nil {
					resp = nil
					err = fmt.Errorf("%w: %v: %v", ErrHandlerPanic, env.Op, r)
				}
			}()
			return next(ctx, env)
		}
	}
}
