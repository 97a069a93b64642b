// Package api provides the REST endpoints for group ordering.
//
//	@title						groupcart API
//	@version					1.0
//	@description				Group ordering sessions with shared stock reservation.
//	@BasePath					/
//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization
//	@securityDefinitions.apikey	ApiKeyAuth
//	@in							header
//	@name						X-API-Key
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/txn2/groupcart/pkg/auth"
	"github.com/txn2/groupcart/pkg/group"
	"github.com/txn2/groupcart/pkg/throttle"
)

const maxBodyBytes = 1 << 20

// GroupService is the group ordering surface the handlers call.
type GroupService interface {
	CreateSession(ctx context.Context, in group.CreateSessionInput, leader group.UserID) (*group.Session, error)
	Join(ctx context.Context, token string, user group.UserID) (group.SessionID, error)
	UpsertItem(ctx context.Context, in group.UpsertItemInput) (*group.LineItem, error)
	Summarize(ctx context.Context, sessionID group.SessionID, requester group.UserID) (*group.Summary, error)
	Details(ctx context.Context, sessionID group.SessionID, requester group.UserID) (*group.Details, error)
	Terminate(ctx context.Context, sessionID group.SessionID, requester group.UserID) error
	Activity(ctx context.Context, sessionID group.SessionID, requester group.UserID, q group.ActivityQuery) (*group.Activity, error)
}

var _ GroupService = (*group.Service)(nil)

// Options configures a Handler.
type Options struct {
	// JoinLimiter throttles join attempts per user. Nil disables throttling.
	JoinLimiter throttle.Limiter
	Logger      *slog.Logger
}

// Handler serves the group REST API. It expects an authenticated identity
// on the request context.
type Handler struct {
	mux     *http.ServeMux
	svc     GroupService
	limiter throttle.Limiter
	logger  *slog.Logger
}

// NewHandler creates a Handler over svc.
func NewHandler(svc GroupService, opts Options) *Handler {
	if opts.JoinLimiter == nil {
		opts.JoinLimiter = throttle.Unlimited{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	h := &Handler{
		mux:     http.NewServeMux(),
		svc:     svc,
		limiter: opts.JoinLimiter,
		logger:  opts.Logger,
	}
	h.registerRoutes()
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) registerRoutes() {
	h.mux.HandleFunc("POST /groups", h.createSession)
	h.mux.HandleFunc("POST /groups/join", h.join)
	h.mux.HandleFunc("GET /groups/{sessionId}", h.details)
	h.mux.HandleFunc("GET /groups/{sessionId}/summary", h.summary)
	h.mux.HandleFunc("GET /groups/{sessionId}/activity", h.activity)
	h.mux.HandleFunc("POST /groups/{sessionId}/items", h.upsertItem)
	h.mux.HandleFunc("DELETE /groups/{sessionId}", h.terminate)
}

// errorResponse is the body of every non-2xx response.
type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, code group.Code, msg string) {
	writeJSON(w, status, errorResponse{Error: msg, Code: string(code)})
}

// statusFor maps a domain error kind to an HTTP status.
func statusFor(k group.Kind) int {
	switch k {
	case group.KindValidation:
		return http.StatusBadRequest
	case group.KindNotFound:
		return http.StatusNotFound
	case group.KindForbidden:
		return http.StatusForbidden
	case group.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err as a response. Unclassified errors are logged and masked.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	var e *group.Error
	if errors.As(err, &e) && e.Kind != group.KindInternal {
		writeError(w, statusFor(e.Kind), e.Code, e.Message)
		return
	}
	h.logger.ErrorContext(r.Context(), "request failed",
		"method", r.Method, "path", r.URL.Path, "error", err)
	writeError(w, http.StatusInternalServerError, group.CodeInternal, "internal error")
}

// caller returns the authenticated user, writing a 401 when there is none.
func caller(w http.ResponseWriter, r *http.Request) (group.UserID, bool) {
	id := auth.GetIdentity(r.Context())
	if id == nil || id.UserID == "" {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "authentication required", Code: "UNAUTHENTICATED"})
		return "", false
	}
	return group.UserID(id.UserID), true
}

// decode reads a JSON body into v, writing a 400 on failure.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, group.CodeValidation, "invalid JSON body")
		return false
	}
	return true
}
