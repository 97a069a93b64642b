package api

import (
	"net/http"
	"strconv"

	"github.com/txn2/groupcart/pkg/audit"
	"github.com/txn2/groupcart/pkg/catalog"
	"github.com/txn2/groupcart/pkg/group"
)

const maxActivityLimit = 500

type createSessionRequest struct {
	Name        string `json:"name"`
	ScheduledAt string `json:"scheduledAt" example:"2026-11-01T19:30:00Z"`
	Mode        string `json:"mode" enums:"DINE_IN,PARCEL"`
}

type createSessionResponse struct {
	Session   *group.Session `json:"session"`
	JoinToken string         `json:"joinToken"`
}

type joinRequest struct {
	JoinToken string `json:"joinToken"`
}

type sessionIDResponse struct {
	SessionID group.SessionID `json:"sessionId"`
}

type upsertItemRequest struct {
	ProductVariantID string `json:"productVariantId"`
	Quantity         int    `json:"quantity"`
}

type lineItemResponse struct {
	LineItem *group.LineItem `json:"lineItem"`
}

type summaryResponse struct {
	Summary *group.Summary `json:"summary"`
}

// createSession handles POST /groups.
//
// @Summary      Create group session
// @Description  Creates a session led by the caller and returns its join token.
// @Tags         Groups
// @Accept       json
// @Produce      json
// @Param        body  body  createSessionRequest  true  "Session definition"
// @Success      201  {object}  createSessionResponse
// @Failure      400  {object}  errorResponse
// @Failure      409  {object}  errorResponse
// @Security     BearerAuth
// @Security     ApiKeyAuth
// @Router       /groups [post]
func (h *Handler) createSession(w http.ResponseWriter, r *http.Request) {
	user, ok := caller(w, r)
	if !ok {
		return
	}
	var req createSessionRequest
	if !decode(w, r, &req) {
		return
	}

	sess, err := h.svc.CreateSession(r.Context(), group.CreateSessionInput{
		Name:        req.Name,
		ScheduledAt: req.ScheduledAt,
		Mode:        req.Mode,
	}, user)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, createSessionResponse{Session: sess, JoinToken: sess.JoinToken})
}

// join handles POST /groups/join.
//
// @Summary      Join group session
// @Description  Adds the caller to the session identified by a join token. Attempts are rate limited per user.
// @Tags         Groups
// @Accept       json
// @Produce      json
// @Param        body  body  joinRequest  true  "Join token"
// @Success      200  {object}  sessionIDResponse
// @Failure      400  {object}  errorResponse
// @Failure      404  {object}  errorResponse
// @Failure      409  {object}  errorResponse
// @Failure      429  {object}  errorResponse
// @Security     BearerAuth
// @Security     ApiKeyAuth
// @Router       /groups/join [post]
func (h *Handler) join(w http.ResponseWriter, r *http.Request) {
	user, ok := caller(w, r)
	if !ok {
		return
	}

	allowed, err := h.limiter.Allow(r.Context(), "join:"+string(user))
	if err != nil {
		h.logger.WarnContext(r.Context(), "join throttle unavailable", "user_id", user, "error", err)
		allowed = true
	}
	if !allowed {
		writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: "too many join attempts", Code: "RATE_LIMITED"})
		return
	}

	var req joinRequest
	if !decode(w, r, &req) {
		return
	}
	sid, err := h.svc.Join(r.Context(), req.JoinToken, user)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionIDResponse{SessionID: sid})
}

// details handles GET /groups/{sessionId}.
//
// @Summary      Get group session
// @Description  Returns the session and its members. Members only.
// @Tags         Groups
// @Produce      json
// @Param        sessionId  path  string  true  "Session ID"
// @Success      200  {object}  group.Details
// @Failure      403  {object}  errorResponse
// @Failure      404  {object}  errorResponse
// @Security     BearerAuth
// @Security     ApiKeyAuth
// @Router       /groups/{sessionId} [get]
func (h *Handler) details(w http.ResponseWriter, r *http.Request) {
	user, ok := caller(w, r)
	if !ok {
		return
	}
	d, err := h.svc.Details(r.Context(), sessionID(r), user)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// upsertItem handles POST /groups/{sessionId}/items.
//
// @Summary      Set cart item
// @Description  Sets the caller's quantity of a product variant, reserving or releasing stock by the difference.
// @Tags         Cart
// @Accept       json
// @Produce      json
// @Param        sessionId  path  string             true  "Session ID"
// @Param        body       body  upsertItemRequest  true  "Variant and quantity"
// @Success      200  {object}  lineItemResponse
// @Failure      400  {object}  errorResponse
// @Failure      403  {object}  errorResponse
// @Failure      404  {object}  errorResponse
// @Failure      409  {object}  errorResponse
// @Security     BearerAuth
// @Security     ApiKeyAuth
// @Router       /groups/{sessionId}/items [post]
func (h *Handler) upsertItem(w http.ResponseWriter, r *http.Request) {
	user, ok := caller(w, r)
	if !ok {
		return
	}
	var req upsertItemRequest
	if !decode(w, r, &req) {
		return
	}

	item, err := h.svc.UpsertItem(r.Context(), group.UpsertItemInput{
		SessionID: sessionID(r),
		UserID:    user,
		VariantID: catalog.VariantID(req.ProductVariantID),
		Quantity:  req.Quantity,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, lineItemResponse{LineItem: item})
}

// summary handles GET /groups/{sessionId}/summary.
//
// @Summary      Get cart summary
// @Description  Consolidates every member's items against current prices and stock. Members only.
// @Tags         Cart
// @Produce      json
// @Param        sessionId  path  string  true  "Session ID"
// @Success      200  {object}  summaryResponse
// @Failure      403  {object}  errorResponse
// @Failure      404  {object}  errorResponse
// @Security     BearerAuth
// @Security     ApiKeyAuth
// @Router       /groups/{sessionId}/summary [get]
func (h *Handler) summary(w http.ResponseWriter, r *http.Request) {
	user, ok := caller(w, r)
	if !ok {
		return
	}
	s, err := h.svc.Summarize(r.Context(), sessionID(r), user)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summaryResponse{Summary: s})
}

// activity handles GET /groups/{sessionId}/activity.
//
// @Summary      Get session activity
// @Description  Returns the session's audit trail, newest first. Leader only.
// @Tags         Groups
// @Produce      json
// @Param        sessionId  path   string  true   "Session ID"
// @Param        action     query  string  false  "Filter by action"
// @Param        limit      query  int     false  "Page size (default 50, max 500)"
// @Param        offset     query  int     false  "Page offset"
// @Success      200  {object}  group.Activity
// @Failure      400  {object}  errorResponse
// @Failure      403  {object}  errorResponse
// @Failure      404  {object}  errorResponse
// @Security     BearerAuth
// @Security     ApiKeyAuth
// @Router       /groups/{sessionId}/activity [get]
func (h *Handler) activity(w http.ResponseWriter, r *http.Request) {
	user, ok := caller(w, r)
	if !ok {
		return
	}

	q := group.ActivityQuery{Action: audit.Action(r.URL.Query().Get("action"))}
	var valid bool
	if q.Limit, valid = intParam(r, "limit"); !valid || q.Limit > maxActivityLimit {
		writeError(w, http.StatusBadRequest, group.CodeValidation, "limit must be between 0 and 500")
		return
	}
	if q.Offset, valid = intParam(r, "offset"); !valid {
		writeError(w, http.StatusBadRequest, group.CodeValidation, "offset must be a non-negative integer")
		return
	}

	a, err := h.svc.Activity(r.Context(), sessionID(r), user, q)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// terminate handles DELETE /groups/{sessionId}.
//
// @Summary      Terminate group session
// @Description  Deletes the session with its members and items and returns held stock. Leader only.
// @Tags         Groups
// @Produce      json
// @Param        sessionId  path  string  true  "Session ID"
// @Success      200  {object}  sessionIDResponse
// @Failure      403  {object}  errorResponse
// @Failure      404  {object}  errorResponse
// @Security     BearerAuth
// @Security     ApiKeyAuth
// @Router       /groups/{sessionId} [delete]
func (h *Handler) terminate(w http.ResponseWriter, r *http.Request) {
	user, ok := caller(w, r)
	if !ok {
		return
	}
	sid := sessionID(r)
	if err := h.svc.Terminate(r.Context(), sid, user); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionIDResponse{SessionID: sid})
}

func sessionID(r *http.Request) group.SessionID {
	return group.SessionID(r.PathValue("sessionId"))
}

// intParam parses a non-negative query parameter; absent means zero.
func intParam(r *http.Request, name string) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}
