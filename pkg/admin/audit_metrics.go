package admin

import (
	"net/http"
	"strconv"

	"github.com/codeengage/snippet-collab/pkg/audit"
)

// registerAuditMetricsRoutes registers audit metrics endpoints.
func (h *Handler) registerAuditMetricsRoutes() {
	if h.deps.AuditMetricsQuerier == nil {
		return
	}
	h.mux.HandleFunc("GET /api/v1/admin/audit/metrics/timeseries", h.getAuditTimeseries)
	h.mux.HandleFunc("GET /api/v1/admin/audit/metrics/breakdown", h.getAuditBreakdown)
}

// getAuditTimeseries handles GET /api/v1/admin/audit/metrics/timeseries.
func (h *Handler) getAuditTimeseries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	resolution := audit.Resolution(q.Get("resolution"))
	if resolution == "" {
		resolution = audit.ResolutionHour
	}
	if !audit.ValidResolutions[resolution] {
		writeError(w, http.StatusBadRequest, "invalid resolution: must be hour or day")
		return
	}

	filter := audit.TimeseriesFilter{
		Resolution: resolution,
		ActionType: q.Get("action_type"),
		StartTime:  parseTimeParam(q, paramStartTime),
		EndTime:    parseTimeParam(q, paramEndTime),
	}

	buckets, err := h.deps.AuditMetricsQuerier.Timeseries(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to query timeseries")
		return
	}
	if buckets == nil {
		buckets = []audit.TimeseriesBucket{}
	}

	writeJSON(w, http.StatusOK, buckets)
}

// getAuditBreakdown handles GET /api/v1/admin/audit/metrics/breakdown.
func (h *Handler) getAuditBreakdown(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	groupBy := audit.BreakdownDimension(q.Get("group_by"))
	if !audit.ValidBreakdownDimensions[groupBy] {
		writeError(w, http.StatusBadRequest,
			"invalid group_by: must be action_type, actor_id, or entity_id")
		return
	}

	var limit int
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	filter := audit.BreakdownFilter{
		GroupBy:   groupBy,
		Limit:     limit,
		StartTime: parseTimeParam(q, paramStartTime),
		EndTime:   parseTimeParam(q, paramEndTime),
	}

	entries, err := h.deps.AuditMetricsQuerier.Breakdown(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to query breakdown")
		return
	}
	if entries == nil {
		entries = []audit.BreakdownEntry{}
	}

	writeJSON(w, http.StatusOK, entries)
}
