// Package auth is the authentication hook consulted by session management and
// the auth middleware. The connection core never interprets tokens itself.
package auth

import (
	"context"
	"errors"
)

var ErrUnauthorized = errors.New("auth: unauthorized")

type (
	// Identity is who a verified token belongs to.
	Identity struct {
		User string
	}

	Authenticator interface {
		Authenticate(ctx context.Context, token string) (Identity, error)
	}

	// AuthenticatorFunc adapts a function to Authenticator.
	AuthenticatorFunc func(ctx context.Context, token string) (Identity, error)

	allowAll struct{}

	identityKey struct{}
)

func (f AuthenticatorFunc) Authenticate(ctx context.Context, token string) (Identity, error) {
	return f(ctx, token)
}

// AllowAll returns an Authenticator which accepts any token, including none.
func AllowAll() Authenticator { return allowAll{} }

func (allowAll) Authenticate(ctx context.Context, token string) (Identity, error) {
	return Identity{User: "anonymous"}, nil
}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}
