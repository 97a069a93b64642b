package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// JWTConfig configures HMAC-signed bearer token validation. Tokens are
// issued by the identity service; this side only verifies them.
type JWTConfig struct {
	Issuer     string
	Audience   string
	SigningKey []byte
}

// JWTAuthenticator validates HMAC-signed JWTs and maps "sub" to the user.
type JWTAuthenticator struct {
	cfg    JWTConfig
	parser *jwt.Parser
}

// NewJWTAuthenticator creates a JWTAuthenticator.
func NewJWTAuthenticator(cfg JWTConfig) (*JWTAuthenticator, error) {
	if len(cfg.SigningKey) == 0 {
		return nil, errors.New("jwt signing key is required")
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
		jwt.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	return &JWTAuthenticator{cfg: cfg, parser: jwt.NewParser(opts...)}, nil
}

// Authenticate implements Authenticator.
func (a *JWTAuthenticator) Authenticate(ctx context.Context) (*Identity, error) {
	raw := GetToken(ctx)
	if raw == "" {
		return nil, ErrNoToken
	}

	claims := jwt.MapClaims{}
	_, err := a.parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return a.cfg.SigningKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return nil, fmt.Errorf("%w: missing sub claim", ErrInvalidToken)
	}

	id := &Identity{UserID: sub, AuthType: "jwt"}
	id.Email, _ = claims["email"].(string)
	id.Name, _ = claims["name"].(string)
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		id.ExpiresAt = exp.Time
	}
	return id, nil
}

// Verify interface compliance.
var _ Authenticator = (*JWTAuthenticator)(nil)
