package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

var testKey = []byte("0123456789abcdef0123456789abcdef")

func signed(t *testing.T, claims jwt.MapClaims, key []byte, method jwt.SigningMethod) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return s
}

func TestContext(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, GetToken(ctx))
	assert.Nil(t, GetIdentity(ctx))

	ctx = WithToken(ctx, "tok")
	ctx = WithIdentity(ctx, &Identity{UserID: "u1"})
	assert.Equal(t, "tok", GetToken(ctx))
	assert.Equal(t, "u1", GetIdentity(ctx).UserID)
}

func TestJWTAuthenticator(t *testing.T) {
	a, err := NewJWTAuthenticator(JWTConfig{Issuer: "mealbox", SigningKey: testKey})
	require.NoError(t, err)
	exp := time.Now().Add(time.Hour).Truncate(time.Second)

	valid := jwt.MapClaims{"sub": "user-42", "iss": "mealbox", "email": "a@example.com", "exp": exp.Unix()}

	t.Run("valid", func(t *testing.T) {
		ctx := WithToken(context.Background(), signed(t, valid, testKey, jwt.SigningMethodHS256))
		id, err := a.Authenticate(ctx)
		require.NoError(t, err)
		assert.Equal(t, "user-42", id.UserID)
		assert.Equal(t, "a@example.com", id.Email)
		assert.Equal(t, "jwt", id.AuthType)
		assert.True(t, exp.Equal(id.ExpiresAt))
	})

	tests := []struct {
		name  string
		token string
	}{
		{"wrong key", signed(t, valid, []byte("another-key-another-key-another!"), jwt.SigningMethodHS256)},
		{"wrong issuer", signed(t, jwt.MapClaims{"sub": "u", "iss": "evil", "exp": exp.Unix()}, testKey, jwt.SigningMethodHS256)},
		{"expired", signed(t, jwt.MapClaims{"sub": "u", "iss": "mealbox", "exp": time.Now().Add(-time.Hour).Unix()}, testKey, jwt.SigningMethodHS256)},
		{"no expiry", signed(t, jwt.MapClaims{"sub": "u", "iss": "mealbox"}, testKey, jwt.SigningMethodHS256)},
		{"no subject", signed(t, jwt.MapClaims{"iss": "mealbox", "exp": exp.Unix()}, testKey, jwt.SigningMethodHS256)},
		{"garbage", "not.a.jwt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := a.Authenticate(WithToken(context.Background(), tt.token))
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}

	t.Run("no token", func(t *testing.T) {
		_, err := a.Authenticate(context.Background())
		assert.ErrorIs(t, err, ErrNoToken)
	})

	t.Run("requires key", func(t *testing.T) {
		_, err := NewJWTAuthenticator(JWTConfig{})
		assert.Error(t, err)
	})
}

func TestJWTAuthenticator_Audience(t *testing.T) {
	a, err := NewJWTAuthenticator(JWTConfig{Audience: "groupcart", SigningKey: testKey})
	require.NoError(t, err)
	exp := time.Now().Add(time.Hour).Unix()

	ok := signed(t, jwt.MapClaims{"sub": "u", "aud": "groupcart", "exp": exp}, testKey, jwt.SigningMethodHS256)
	_, err = a.Authenticate(WithToken(context.Background(), ok))
	assert.NoError(t, err)

	other := signed(t, jwt.MapClaims{"sub": "u", "aud": "billing", "exp": exp}, testKey, jwt.SigningMethodHS256)
	_, err = a.Authenticate(WithToken(context.Background(), other))
	assert.Error(t, err)
}

func TestAPIKeyAuthenticator(t *testing.T) {
	const key = "gc_live_0123456789abcdef"
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.MinCost)
	require.NoError(t, err)

	a, err := NewAPIKeyAuthenticator([]APIKey{
		{Name: "kiosk", UserID: "kiosk-7", Hash: string(hash)},
	})
	require.NoError(t, err)

	id, err := a.Authenticate(WithToken(context.Background(), key))
	require.NoError(t, err)
	assert.Equal(t, "kiosk-7", id.UserID)
	assert.Equal(t, "apikey", id.AuthType)

	_, err = a.Authenticate(WithToken(context.Background(), "gc_live_wrong"))
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = NewAPIKeyAuthenticator([]APIKey{{Name: "bad", Hash: "plaintext"}})
	assert.Error(t, err)
}

func TestHashAPIKey(t *testing.T) {
	h, err := HashAPIKey("gc_live_0123456789abcdef")
	require.NoError(t, err)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(h), []byte("gc_live_0123456789abcdef")))

	_, err = HashAPIKey("short")
	assert.Error(t, err)
}

type stubAuth struct {
	id  *Identity
	err error
}

func (s stubAuth) Authenticate(context.Context) (*Identity, error) { return s.id, s.err }

func TestChain(t *testing.T) {
	ctx := WithToken(context.Background(), "tok")
	bad := stubAuth{err: errors.New("nope")}
	good := stubAuth{id: &Identity{UserID: "u"}}

	id, err := Chain{bad, good}.Authenticate(ctx)
	require.NoError(t, err)
	assert.Equal(t, "u", id.UserID)

	_, err = Chain{bad}.Authenticate(ctx)
	assert.EqualError(t, err, "nope")

	_, err = Chain{}.Authenticate(ctx)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = Chain{good}.Authenticate(context.Background())
	assert.ErrorIs(t, err, ErrNoToken)
}
