package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/txn2/groupcart/pkg/audit"
	"github.com/txn2/groupcart/pkg/auth"
	"github.com/txn2/groupcart/pkg/catalog"
	"github.com/txn2/groupcart/pkg/group"
	"github.com/txn2/groupcart/pkg/throttle"
)

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func newTestHandler(t *testing.T, opts Options) (*Handler, *catalog.MemoryCatalog) {
	t.Helper()
	cat := catalog.NewMemoryCatalog(
		catalog.Variant{ID: "v-burger", Label: "Burger", ActualPrice: 60, DiscountedPrice: 50, Stock: 5, IsActive: true},
		catalog.Variant{ID: "v-fries", Label: "Fries", ActualPrice: 30, DiscountedPrice: 30, Stock: 10, IsActive: true},
	)
	svc := group.NewService(group.NewMemoryStore(), cat, audit.NewMemoryStore(0), group.Config{})
	if opts.Logger == nil {
		opts.Logger = quietLogger
	}
	return NewHandler(svc, opts), cat
}

func call(t *testing.T, h http.Handler, method, path, user string, body any) (int, map[string]any) {
	t.Helper()
	var rd io.Reader = http.NoBody
	if body != nil {
		if s, ok := body.(string); ok {
			rd = strings.NewReader(s)
		} else {
			b, err := json.Marshal(body)
			require.NoError(t, err)
			rd = bytes.NewReader(b)
		}
	}
	req := httptest.NewRequest(method, path, rd)
	if user != "" {
		req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UserID: user}))
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	out := map[string]any{}
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	}
	return w.Code, out
}

func scheduled() string { return time.Now().Add(48 * time.Hour).UTC().Format(time.RFC3339) }

// createGroup returns the session id and join token of a new session led by leader.
func createGroup(t *testing.T, h http.Handler, leader string) (string, string) {
	t.Helper()
	code, body := call(t, h, http.MethodPost, "/groups", leader, createSessionRequest{
		Name: "Friday lunch", ScheduledAt: scheduled(), Mode: "PARCEL",
	})
	require.Equal(t, http.StatusCreated, code, body)
	sess, ok := body["session"].(map[string]any)
	require.True(t, ok)
	token, _ := body["joinToken"].(string)
	require.NotEmpty(t, token)
	return sess["id"].(string), token
}

func TestGroupLifecycle(t *testing.T) {
	h, cat := newTestHandler(t, Options{})
	sid, token := createGroup(t, h, "lead")

	code, body := call(t, h, http.MethodPost, "/groups/join", "ana", joinRequest{JoinToken: token})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, sid, body["sessionId"])

	code, body = call(t, h, http.MethodPost, "/groups/join", "ana", joinRequest{JoinToken: token})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "ALREADY_JOINED", body["code"])

	code, body = call(t, h, http.MethodPost, "/groups/"+sid+"/items", "ana", upsertItemRequest{ProductVariantID: "v-burger", Quantity: 1})
	require.Equal(t, http.StatusOK, code, body)
	line := body["lineItem"].(map[string]any)
	assert.Equal(t, "v-burger", line["productVariantId"])
	assert.InDelta(t, 1, line["quantity"], 0)

	code, _ = call(t, h, http.MethodPost, "/groups/"+sid+"/items", "lead", upsertItemRequest{ProductVariantID: "v-fries", Quantity: 1})
	require.Equal(t, http.StatusOK, code)

	code, body = call(t, h, http.MethodGet, "/groups/"+sid+"/summary", "ana", nil)
	require.Equal(t, http.StatusOK, code)
	summary := body["summary"].(map[string]any)
	assert.InDelta(t, 80, summary["subtotal"], 0)
	assert.InDelta(t, 2, summary["totalItems"], 0)

	code, body = call(t, h, http.MethodGet, "/groups/"+sid, "ana", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["members"], 2)

	code, body = call(t, h, http.MethodGet, "/groups/"+sid+"/activity?limit=2", "lead", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["events"], 2)
	assert.InDelta(t, 4, body["total"], 0, "created, joined and two item events")

	code, body = call(t, h, http.MethodDelete, "/groups/"+sid, "ana", nil)
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "NOT_LEADER", body["code"])

	code, body = call(t, h, http.MethodDelete, "/groups/"+sid, "lead", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, sid, body["sessionId"])

	v, err := cat.Variant(context.Background(), "v-burger")
	require.NoError(t, err)
	assert.Equal(t, 5, v.Stock, "terminate returns held stock")

	code, body = call(t, h, http.MethodGet, "/groups/"+sid+"/summary", "ana", nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "SESSION_NOT_FOUND", body["code"])
}

func TestCreateSessionValidation(t *testing.T) {
	h, _ := newTestHandler(t, Options{})

	tests := []struct {
		name string
		body any
	}{
		{"bad json", "{"},
		{"missing name", createSessionRequest{ScheduledAt: scheduled(), Mode: "DINE_IN"}},
		{"past time", createSessionRequest{Name: "x", ScheduledAt: "2020-01-01T00:00:00Z", Mode: "DINE_IN"}},
		{"bad mode", createSessionRequest{Name: "x", ScheduledAt: scheduled(), Mode: "DRIVE_THRU"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := call(t, h, http.MethodPost, "/groups", "lead", tt.body)
			assert.Equal(t, http.StatusBadRequest, code)
			assert.Equal(t, "VALIDATION_FAILED", body["code"])
		})
	}
}

func TestUnauthenticated(t *testing.T) {
	h, _ := newTestHandler(t, Options{})
	code, body := call(t, h, http.MethodPost, "/groups", "", createSessionRequest{Name: "x"})
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "UNAUTHENTICATED", body["code"])
}

func TestUpsertItemErrors(t *testing.T) {
	h, _ := newTestHandler(t, Options{})
	sid, _ := createGroup(t, h, "lead")
	items := "/groups/" + sid + "/items"

	tests := []struct {
		name     string
		user     string
		req      upsertItemRequest
		wantCode int
		wantErr  string
	}{
		{"zero quantity", "lead", upsertItemRequest{ProductVariantID: "v-burger", Quantity: 0}, http.StatusBadRequest, "VALIDATION_FAILED"},
		{"not a member", "stranger", upsertItemRequest{ProductVariantID: "v-burger", Quantity: 1}, http.StatusForbidden, "NOT_A_MEMBER"},
		{"unknown variant", "lead", upsertItemRequest{ProductVariantID: "v-nope", Quantity: 1}, http.StatusNotFound, "VARIANT_NOT_FOUND"},
		{"too many", "lead", upsertItemRequest{ProductVariantID: "v-burger", Quantity: 6}, http.StatusConflict, "INSUFFICIENT_STOCK"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := call(t, h, http.MethodPost, items, tt.user, tt.req)
			assert.Equal(t, tt.wantCode, code)
			assert.Equal(t, tt.wantErr, body["code"])
		})
	}
}

func TestJoinThrottled(t *testing.T) {
	h, _ := newTestHandler(t, Options{JoinLimiter: throttle.NewMemoryLimiter(2, time.Minute, nil)})

	for range 2 {
		code, _ := call(t, h, http.MethodPost, "/groups/join", "guesser", joinRequest{JoinToken: "nope"})
		assert.Equal(t, http.StatusNotFound, code)
	}
	code, body := call(t, h, http.MethodPost, "/groups/join", "guesser", joinRequest{JoinToken: "nope"})
	assert.Equal(t, http.StatusTooManyRequests, code)
	assert.Equal(t, "RATE_LIMITED", body["code"])

	code, _ = call(t, h, http.MethodPost, "/groups/join", "other", joinRequest{JoinToken: "nope"})
	assert.Equal(t, http.StatusNotFound, code)
}

type brokenLimiter struct{}

func (brokenLimiter) Allow(context.Context, string) (bool, error) {
	return false, errors.New("redis down")
}

func TestJoinThrottleFailsOpen(t *testing.T) {
	h, _ := newTestHandler(t, Options{JoinLimiter: brokenLimiter{}})
	_, token := createGroup(t, h, "lead")
	code, _ := call(t, h, http.MethodPost, "/groups/join", "ana", joinRequest{JoinToken: token})
	assert.Equal(t, http.StatusOK, code)
}

func TestActivityParams(t *testing.T) {
	h, _ := newTestHandler(t, Options{})
	sid, _ := createGroup(t, h, "lead")

	for _, q := range []string{"limit=-1", "limit=abc", "limit=501", "offset=-2"} {
		code, _ := call(t, h, http.MethodGet, "/groups/"+sid+"/activity?"+q, "lead", nil)
		assert.Equal(t, http.StatusBadRequest, code, q)
	}

	code, body := call(t, h, http.MethodGet, "/groups/"+sid+"/activity?action=member.joined", "lead", nil)
	require.Equal(t, http.StatusOK, code)
	assert.InDelta(t, 0, body["total"], 0)
	assert.Len(t, body["byAction"], 1)
}

type failingService struct{ GroupService }

func (failingService) Summarize(context.Context, group.SessionID, group.UserID) (*group.Summary, error) {
	return nil, errors.New("connection reset by peer")
}

func TestInternalErrorsAreMasked(t *testing.T) {
	var logs bytes.Buffer
	h := NewHandler(failingService{}, Options{Logger: slog.New(slog.NewTextHandler(&logs, nil))})

	code, body := call(t, h, http.MethodGet, "/groups/s1/summary", "ana", nil)
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, "INTERNAL", body["code"])
	assert.Equal(t, "internal error", body["error"])
	assert.Contains(t, logs.String(), "connection reset by peer")
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, statusFor(group.KindValidation))
	assert.Equal(t, http.StatusNotFound, statusFor(group.KindNotFound))
	assert.Equal(t, http.StatusForbidden, statusFor(group.KindForbidden))
	assert.Equal(t, http.StatusConflict, statusFor(group.KindConflict))
	assert.Equal(t, http.StatusInternalServerError, statusFor(group.KindInternal))
}
