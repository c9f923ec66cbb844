package admin

import (
	"net/http"

	"github.com/codeengage/snippet-collab/pkg/auth"
)

// RoleAdmin is the role required for every admin endpoint.
const RoleAdmin = "admin"

// RequireAdmin authenticates the request and enforces the admin role.
func RequireAdmin(a auth.Authenticator) func(http.Handler) http.Handler {
	authenticate := auth.Middleware(a)
	requireRole := auth.RequireRole(RoleAdmin)
	return func(next http.Handler) http.Handler {
		return authenticate(requireRole(next))
	}
}
