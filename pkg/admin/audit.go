package admin

import (
	"net/http"

	"github.com/codeengage/snippet-collab/pkg/audit"
)

// auditEventResponse wraps a paginated list of audit events.
type auditEventResponse struct {
	Data    []audit.Event `json:"data"`
	Total   int           `json:"total"`
	Page    int           `json:"page"`
	PerPage int           `json:"per_page"`
}

const (
	defaultAuditLimit = 50
	maxAuditLimit     = 500
)

// listAuditEvents handles GET /api/v1/admin/audit/events.
// Filters: actor_id, action_type, entity_type, entity_id, start_time, end_time.
func (h *Handler) listAuditEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := audit.QueryFilter{
		ActorID:    q.Get("actor_id"),
		ActionType: q.Get("action_type"),
		EntityType: q.Get("entity_type"),
		EntityID:   q.Get("entity_id"),
		StartTime:  parseTimeParam(q, paramStartTime),
		EndTime:    parseTimeParam(q, paramEndTime),
	}

	filter.Limit = min(parseLimit(q), maxAuditLimit)
	if filter.Limit <= 0 {
		filter.Limit = defaultAuditLimit
	}
	effectiveLimit := filter.Limit
	filter.Offset = parsePageOffset(q, effectiveLimit)

	events, err := h.deps.AuditQuerier.Query(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to query audit events")
		return
	}

	// Count without limit/offset for total
	countFilter := filter
	countFilter.Limit = 0
	countFilter.Offset = 0
	total, err := h.deps.AuditQuerier.Count(r.Context(), countFilter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to count audit events")
		return
	}

	if events == nil {
		events = []audit.Event{}
	}

	writeJSON(w, http.StatusOK, auditEventResponse{
		Data:    events,
		Total:   total,
		Page:    filter.Offset/effectiveLimit + 1,
		PerPage: effectiveLimit,
	})
}

// getAuditEvent handles GET /api/v1/admin/audit/events/{id}.
func (h *Handler) getAuditEvent(w http.ResponseWriter, r *http.Request) {
	filter := audit.QueryFilter{ID: r.PathValue(pathParamID), Limit: 1}
	events, err := h.deps.AuditQuerier.Query(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to query audit event")
		return
	}
	if len(events) == 0 {
		writeError(w, http.StatusNotFound, "audit event not found")
		return
	}
	writeJSON(w, http.StatusOK, events[0])
}
