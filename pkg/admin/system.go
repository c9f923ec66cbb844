package admin

import (
	"log/slog"
	"net/http"
)

type sweepResponse struct {
	Removed int `json:"removed"`
}

// sweep handles POST /api/v1/admin/sweep.
func (h *Handler) sweep(w http.ResponseWriter, r *http.Request) {
	n, err := h.deps.Sweeper.SweepExpired(r.Context())
	if err != nil {
		slog.Error("admin: sweep failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to sweep sessions")
		return
	}
	writeJSON(w, http.StatusOK, sweepResponse{Removed: n})
}
