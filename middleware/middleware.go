// Package middleware wraps dispatch handlers with cross-cutting behavior.
//
// A Connection builds the chain once and applies it to every handler added
// through AddHandlers, so feature modules only ever see the final HandlerFunc.
package middleware

import (
	"context"

	"spacelink/message"
)

// HandlerFunc serves one inbound envelope. A nil payload with a nil error means
// "no response"; a non-nil payload is sent back to the peer as the reply.
type HandlerFunc func(ctx context.Context, env *message.Envelope) (*message.Payload, error)

type Middleware func(next HandlerFunc) HandlerFunc

// Chain composes middlewares so that the first one listed runs outermost:
//
//	Chain(A, B, C)(h) == A(B(C(h)))
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
