package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/codeengage/snippet-collab/pkg/audit"
	"github.com/codeengage/snippet-collab/pkg/collab"
)

// statusFor maps an engine error kind to an HTTP status.
func statusFor(kind collab.Kind) int {
	switch kind {
	case collab.KindNotFound:
		return http.StatusNotFound
	case collab.KindUnauthorized:
		return http.StatusForbidden
	case collab.KindValidation:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// writeEngineError writes err as a JSON error. Internal causes are logged
// and never echoed to the client.
func writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	kind := collab.KindOf(err)
	status := statusFor(kind)
	if status == http.StatusInternalServerError {
		slog.Error("api: request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", audit.RequestIDFromContext(r.Context()),
			"error", err,
		)
		writeError(w, status, "internal error")
		return
	}

	msg := err.Error()
	var e *collab.Error
	if errors.As(err, &e) {
		msg = e.Msg
	}
	writeJSON(w, status, errorResponse{Error: msg, Kind: kind.String()})
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}
