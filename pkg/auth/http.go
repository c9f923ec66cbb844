package auth

import (
	"encoding/json"
	"net/http"
	"strings"
)

// Header names for credentials.
const (
	headerAuthorization = "Authorization"
	headerAPIKey        = "X-API-Key"
	bearerPrefix        = "Bearer "
)

// ExtractToken returns the credential carried by r, preferring X-API-Key
// over a bearer Authorization header.
func ExtractToken(r *http.Request) string {
	if key := strings.TrimSpace(r.Header.Get(headerAPIKey)); key != "" {
		return key
	}
	h := r.Header.Get(headerAuthorization)
	if len(h) > len(bearerPrefix) && strings.EqualFold(h[:len(bearerPrefix)], bearerPrefix) {
		return strings.TrimSpace(h[len(bearerPrefix):])
	}
	return ""
}

// Middleware authenticates every request and stores the UserContext on its
// context. Unauthenticated requests receive 401.
func Middleware(a Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := WithToken(r.Context(), ExtractToken(r))
			uc, err := a.Authenticate(ctx)
			if err != nil {
				w.Header().Set("WWW-Authenticate", `Bearer realm="snippet-collab"`)
				writeError(w, http.StatusUnauthorized, "authentication required")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUserContext(ctx, uc)))
		})
	}
}

// RequireRole rejects authenticated callers lacking role with 403.
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			uc := GetUserContext(r.Context())
			if uc == nil {
				writeError(w, http.StatusUnauthorized, "authentication required")
				return
			}
			if !uc.HasRole(role) {
				writeError(w, http.StatusForbidden, "insufficient role")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
