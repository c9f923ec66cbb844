// Package admin provides REST API endpoints for administrative operations.
package admin

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/codeengage/snippet-collab/pkg/audit"
)

// Sweeper removes expired collaboration sessions.
type Sweeper interface {
	SweepExpired(ctx context.Context) (int, error)
}

// AuditMetricsQuerier provides aggregate audit queries.
type AuditMetricsQuerier interface {
	Timeseries(ctx context.Context, filter audit.TimeseriesFilter) ([]audit.TimeseriesBucket, error)
	Breakdown(ctx context.Context, filter audit.BreakdownFilter) ([]audit.BreakdownEntry, error)
}

// Deps holds the collaborators behind the admin endpoints. Nil members
// disable the routes that need them.
type Deps struct {
	Sweeper             Sweeper
	AuditQuerier        audit.Querier
	AuditMetricsQuerier AuditMetricsQuerier
}

// Handler provides admin REST API endpoints.
type Handler struct {
	mux        *http.ServeMux
	deps       Deps
	authMiddle func(http.Handler) http.Handler
}

// NewHandler creates a new admin API handler.
func NewHandler(deps Deps, authMiddle func(http.Handler) http.Handler) *Handler {
	h := &Handler{
		mux:        http.NewServeMux(),
		deps:       deps,
		authMiddle: authMiddle,
	}
	h.registerRoutes()
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.authMiddle != nil {
		h.authMiddle(h.mux).ServeHTTP(w, r)
		return
	}
	h.mux.ServeHTTP(w, r)
}

// registerRoutes registers all admin API routes.
func (h *Handler) registerRoutes() {
	if h.deps.Sweeper != nil {
		h.mux.HandleFunc("POST /api/v1/admin/sweep", h.sweep)
	}
	if h.deps.AuditQuerier != nil {
		h.mux.HandleFunc("GET /api/v1/admin/audit/events", h.listAuditEvents)
		h.mux.HandleFunc("GET /api/v1/admin/audit/events/{id}", h.getAuditEvent)
	}
	h.registerAuditMetricsRoutes()
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
