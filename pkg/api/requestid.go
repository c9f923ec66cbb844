package api

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/codeengage/snippet-collab/pkg/audit"
)

// HeaderRequestID carries the request correlation id.
const HeaderRequestID = "X-Request-ID"

const maxRequestIDLen = 128

// RequestID propagates the caller's X-Request-ID, or assigns a new one, into
// the audit context and the response headers.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(HeaderRequestID)
		if id == "" || len(id) > maxRequestIDLen {
			id = uuid.NewString()
		}
		w.Header().Set(HeaderRequestID, id)
		next.ServeHTTP(w, r.WithContext(audit.WithRequestID(r.Context(), id)))
	})
}
