package auth

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// bcrypt only uses the first 72 bytes.
const (
	minKeyLength = 16
	maxKeyLength = 72
)

// APIKey is a service credential. Only the bcrypt hash of the key is kept.
type APIKey struct {
	Name   string
	UserID string
	Hash   string
}

// APIKeyAuthenticator authenticates callers presenting a known API key.
type APIKeyAuthenticator struct {
	keys []APIKey
}

// NewAPIKeyAuthenticator creates an APIKeyAuthenticator.
func NewAPIKeyAuthenticator(keys []APIKey) (*APIKeyAuthenticator, error) {
	for _, k := range keys {
		if k.Name == "" || k.Hash == "" {
			return nil, errors.New("api key name and hash are required")
		}
		if _, err := bcrypt.Cost([]byte(k.Hash)); err != nil {
			return nil, fmt.Errorf("api key %s: %w", k.Name, err)
		}
	}
	return &APIKeyAuthenticator{keys: keys}, nil
}

// Authenticate implements Authenticator.
func (a *APIKeyAuthenticator) Authenticate(ctx context.Context) (*Identity, error) {
	token := GetToken(ctx)
	if token == "" {
		return nil, ErrNoToken
	}

	for _, k := range a.keys {
		if bcrypt.CompareHashAndPassword([]byte(k.Hash), []byte(token)) != nil {
			continue
		}
		user := k.UserID
		if user == "" {
			user = "apikey:" + k.Name
		}
		return &Identity{UserID: user, Name: k.Name, AuthType: "apikey"}, nil
	}
	return nil, ErrInvalidToken
}

// HashAPIKey returns the bcrypt hash to configure for key.
func HashAPIKey(key string) (string, error) {
	if len(key) < minKeyLength || len(key) > maxKeyLength {
		return "", fmt.Errorf("api key must be %d to %d characters", minKeyLength, maxKeyLength)
	}
	h, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hashing api key: %w", err)
	}
	return string(h), nil
}

// Verify interface compliance.
var _ Authenticator = (*APIKeyAuthenticator)(nil)
