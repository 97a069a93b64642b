package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/txn2/groupcart/pkg/auth"
)

type stubAuth struct{}

func (stubAuth) Authenticate(ctx context.Context) (*auth.Identity, error) {
	if auth.GetToken(ctx) == "good" {
		return &auth.Identity{UserID: "u1"}, nil
	}
	return nil, errors.New("bad token")
}

func TestExtractToken(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Empty(t, ExtractToken(r))

	r.Header.Set("X-API-Key", "key")
	assert.Equal(t, "key", ExtractToken(r))

	r.Header.Set("Authorization", "Bearer jwt")
	assert.Equal(t, "jwt", ExtractToken(r))

	r.Header.Set("Authorization", "Basic abc")
	assert.Equal(t, "key", ExtractToken(r))
}

func TestAuthenticate(t *testing.T) {
	var seen *auth.Identity
	h := Authenticate(stubAuth{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = auth.GetIdentity(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"invalid", "Bearer bad", http.StatusUnauthorized},
		{"valid", "Bearer good", http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = nil
			r := httptest.NewRequest(http.MethodGet, "/groups", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, r)
			assert.Equal(t, tt.want, w.Code)

			if tt.want == http.StatusUnauthorized {
				var body map[string]string
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
				assert.Equal(t, "UNAUTHENTICATED", body["code"])
				assert.Nil(t, seen)
				return
			}
			require.NotNil(t, seen)
			assert.Equal(t, "u1", seen.UserID)
		})
	}
}

func TestRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	h := RequestLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/groups/join", nil))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "http request", line["msg"])
	assert.Equal(t, "/groups/join", line["path"])
	assert.InDelta(t, float64(http.StatusTeapot), line["status"], 0)
}
