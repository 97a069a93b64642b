// Package auth authenticates callers from bearer tokens and API keys and
// carries the resulting identity on the request context.
package auth

import (
	"context"
	"errors"
	"time"
)

// Authentication errors.
var (
	ErrNoToken      = errors.New("no credentials found")
	ErrInvalidToken = errors.New("invalid credentials")
)

// Identity is an authenticated caller.
type Identity struct {
	UserID   string
	Email    string
	Name     string
	AuthType string // "jwt" or "apikey"
	// ExpiresAt is zero when the credential does not expire.
	ExpiresAt time.Time
}

// Authenticator resolves the token carried on ctx into an Identity.
type Authenticator interface {
	Authenticate(ctx context.Context) (*Identity, error)
}

type contextKey int

const (
	tokenKey contextKey = iota
	identityKey
)

// WithToken stores a raw credential on the context.
func WithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenKey, token)
}

// GetToken returns the raw credential, if any.
func GetToken(ctx context.Context) string {
	t, _ := ctx.Value(tokenKey).(string)
	return t
}

// WithIdentity stores the authenticated identity on the context.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// GetIdentity returns the authenticated identity or nil.
func GetIdentity(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityKey).(*Identity)
	return id
}

// Chain tries authenticators in order and returns the first identity.
type Chain []Authenticator

// Authenticate implements Authenticator.
func (c Chain) Authenticate(ctx context.Context) (*Identity, error) {
	if GetToken(ctx) == "" {
		return nil, ErrNoToken
	}

	var lastErr error
	for _, a := range c {
		id, err := a.Authenticate(ctx)
		if err == nil && id != nil {
			return id, nil
		}
		if err != nil {
			lastErr = err
		}
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, ErrInvalidToken
}

// Verify interface compliance.
var _ Authenticator = Chain(nil)
