package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/codeengage/snippet-collab/pkg/auth"
	"github.com/codeengage/snippet-collab/pkg/collab"
)

// sessionResponse is the client view of a session. The event log is only
// served through the updates feed.
type sessionResponse struct {
	ID           string                       `json:"id"`
	DocumentID   string                       `json:"document_id"`
	Token        string                       `json:"token"`
	Participants []string                     `json:"participants"`
	Permissions  map[string]collab.Permission `json:"permissions,omitempty"`
	Lock         *collab.EditLock             `json:"lock,omitempty"`
	LastActivity time.Time                    `json:"last_activity"`
	CreatedAt    time.Time                    `json:"created_at"`
}

func newSessionResponse(s *collab.Session) sessionResponse {
	return sessionResponse{
		ID:           s.ID,
		DocumentID:   s.DocumentID,
		Token:        s.Token,
		Participants: s.Participants,
		Permissions:  s.Permissions,
		Lock:         s.Lock,
		LastActivity: s.LastActivity,
		CreatedAt:    s.CreatedAt,
	}
}

type createSessionRequest struct {
	DocumentID string `json:"document_id"`
}

type updateRequest struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type inviteRequest struct {
	Permission collab.Permission `json:"permission"`
}

type joinInviteRequest struct {
	Invite string `json:"invite"`
}

type messagesResponse struct {
	Messages []collab.Event `json:"messages"`
}

// caller returns the authenticated user id, writing 401 when absent.
func caller(w http.ResponseWriter, r *http.Request) (string, bool) {
	uc := auth.GetUserContext(r.Context())
	if uc == nil || uc.UserID == "" {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return "", false
	}
	return uc.UserID, true
}

// createSession handles POST /api/v1/sessions.
func (h *Handler) createSession(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}
	var req createSessionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.DocumentID == "" {
		writeError(w, http.StatusBadRequest, "document_id is required")
		return
	}

	sess, err := h.sessions.CreateSession(r.Context(), req.DocumentID, userID)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newSessionResponse(sess))
}

// joinSession handles POST /api/v1/sessions/{token}/join.
func (h *Handler) joinSession(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}
	sess, err := h.sessions.JoinSession(r.Context(), r.PathValue(pathParamToken), userID)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newSessionResponse(sess))
}

// endSession handles DELETE /api/v1/sessions/{token}.
func (h *Handler) endSession(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}
	if err := h.sessions.EndSession(r.Context(), r.PathValue(pathParamToken), userID); err != nil {
		writeEngineError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// pushUpdate handles POST /api/v1/sessions/{token}/updates.
func (h *Handler) pushUpdate(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}
	var req updateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Type == "" {
		writeError(w, http.StatusBadRequest, "type is required")
		return
	}
	update, err := collab.DecodeUpdate(req.Type, req.Data)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}

	if err := h.sessions.PushUpdate(r.Context(), r.PathValue(pathParamToken), userID, update); err != nil {
		writeEngineError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// getUpdates handles GET /api/v1/sessions/{token}/updates?since=.
func (h *Handler) getUpdates(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}
	var since time.Time
	if v := r.URL.Query().Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be an RFC 3339 timestamp")
			return
		}
		since = t
	}

	delta, err := h.sessions.GetUpdates(r.Context(), r.PathValue(pathParamToken), userID, since)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, delta)
}

// listMessages handles GET /api/v1/sessions/{token}/messages?limit=.
func (h *Handler) listMessages(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}
	var limit int
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	msgs, err := h.sessions.ListMessages(r.Context(), r.PathValue(pathParamToken), userID, limit)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	if msgs == nil {
		msgs = []collab.Event{}
	}
	writeJSON(w, http.StatusOK, messagesResponse{Messages: msgs})
}

// acquireLock handles POST /api/v1/sessions/{token}/lock.
func (h *Handler) acquireLock(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}
	lock, err := h.sessions.AcquireLock(r.Context(), r.PathValue(pathParamToken), userID)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, lock)
}

// releaseLock handles DELETE /api/v1/sessions/{token}/lock.
func (h *Handler) releaseLock(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}
	if err := h.sessions.ReleaseLock(r.Context(), r.PathValue(pathParamToken), userID); err != nil {
		writeEngineError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// createInvite handles POST /api/v1/sessions/{token}/invites.
func (h *Handler) createInvite(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}
	req := inviteRequest{Permission: collab.PermissionEdit}
	if r.ContentLength != 0 && !decodeBody(w, r, &req) {
		return
	}

	inv, err := h.sessions.CreateInvite(r.Context(), r.PathValue(pathParamToken), userID, req.Permission)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, inv)
}

// joinWithInvite handles POST /api/v1/invites/join.
func (h *Handler) joinWithInvite(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}
	var req joinInviteRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Invite == "" {
		writeError(w, http.StatusBadRequest, "invite is required")
		return
	}

	sess, err := h.sessions.JoinWithInvite(r.Context(), req.Invite, userID)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newSessionResponse(sess))
}

// Verify interface compliance.
var _ Sessions = (*collab.Manager)(nil)
