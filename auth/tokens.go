package auth

import (
	"context"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// TokenTable verifies tokens of the form "user:secret" against bcrypt hashes
// of the secret, keyed by user.
type TokenTable struct {
	hashes map[string][]byte
}

func NewTokenTable(hashes map[string]string) *TokenTable {
	t := &TokenTable{hashes: make(map[string][]byte, len(hashes))}
	for user, h := range hashes {
		t.hashes[user] = []byte(h)
	}
	return t
}

// HashSecret returns the bcrypt hash to store for a secret.
func HashSecret(secret string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

func (t *TokenTable) Authenticate(ctx context.Context, token string) (Identity, error) {
	user, secret, ok := strings.Cut(token, ":")
	if !ok || user == "" {
		return Identity{}, ErrUnauthorized
	}
	hash, found := t.hashes[user]
	if !found {
		return Identity{}, ErrUnauthorized
	}
	if err := bcrypt.CompareHashAndPassword(hash, []byte(secret)); err != nil {
		return Identity{}, ErrUnauthorized
	}
	return Identity{User: user}, nil
}
