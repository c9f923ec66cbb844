// Package api exposes collaboration sessions over HTTP.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/codeengage/snippet-collab/pkg/collab"
)

// Sessions is the session engine behind the API.
type Sessions interface {
	CreateSession(ctx context.Context, documentID, userID string) (*collab.Session, error)
	JoinSession(ctx context.Context, token, userID string) (*collab.Session, error)
	PushUpdate(ctx context.Context, token, userID string, update collab.Update) error
	GetUpdates(ctx context.Context, token, userID string, since time.Time) (*collab.Delta, error)
	EndSession(ctx context.Context, token, userID string) error
	ListMessages(ctx context.Context, token, userID string, limit int) ([]collab.Event, error)
	AcquireLock(ctx context.Context, token, userID string) (*collab.EditLock, error)
	ReleaseLock(ctx context.Context, token, userID string) error
	CreateInvite(ctx context.Context, token, inviterID string, perm collab.Permission) (*collab.Invite, error)
	JoinWithInvite(ctx context.Context, invite, userID string) (*collab.Session, error)
}

// maxBodyBytes bounds request bodies. Text changes carry whole snippets.
const maxBodyBytes = 1 << 20

const pathParamToken = "token"

// Handler serves the session endpoints.
type Handler struct {
	mux        *http.ServeMux
	sessions   Sessions
	authMiddle func(http.Handler) http.Handler
}

// NewHandler creates the session API. authMiddle must place an
// auth.UserContext on the request context; without it every route answers 401.
func NewHandler(sessions Sessions, authMiddle func(http.Handler) http.Handler) *Handler {
	h := &Handler{
		mux:        http.NewServeMux(),
		sessions:   sessions,
		authMiddle: authMiddle,
	}
	h.registerRoutes()
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var next http.Handler = h.mux
	if h.authMiddle != nil {
		next = h.authMiddle(next)
	}
	RequestID(next).ServeHTTP(w, r)
}

func (h *Handler) registerRoutes() {
	h.mux.HandleFunc("POST /api/v1/sessions", h.createSession)
	h.mux.HandleFunc("POST /api/v1/sessions/{token}/join", h.joinSession)
	h.mux.HandleFunc("DELETE /api/v1/sessions/{token}", h.endSession)
	h.mux.HandleFunc("POST /api/v1/sessions/{token}/updates", h.pushUpdate)
	h.mux.HandleFunc("GET /api/v1/sessions/{token}/updates", h.getUpdates)
	h.mux.HandleFunc("GET /api/v1/sessions/{token}/messages", h.listMessages)
	h.mux.HandleFunc("POST /api/v1/sessions/{token}/lock", h.acquireLock)
	h.mux.HandleFunc("DELETE /api/v1/sessions/{token}/lock", h.releaseLock)
	h.mux.HandleFunc("POST /api/v1/sessions/{token}/invites", h.createInvite)
	h.mux.HandleFunc("POST /api/v1/invites/join", h.joinWithInvite)
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// decodeBody reads a JSON body into v.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}
