package middleware

import (
	"context"

	"spacelink/auth"
	"spacelink/message"
)

// AuthMiddleware verifies the token carried by each request before the handler
// runs and stores the resulting identity in the handler's context.
func AuthMiddleware(a auth.Authenticator) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, env *message.Envelope) (*message.Payload, error) {
			id, err := a.Authenticate(ctx, env.Payload.Token())
			if err != nil {
				return nil, err
			}
			return next(auth.WithIdentity(ctx, id), env)
		}
	}
}
