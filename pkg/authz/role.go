package authz

import (
	"net/http"
	"strings"
)

// RoleHeader is the HTTP header used to extract the user's role when no
// token-based extractor is configured. Intended for deployments behind a
// trusted auth proxy; production setups should configure the JWT extractor.
const RoleHeader = "X-User-Role"

// RoleExtractor is a function that extracts a Role from an HTTP request.
// The default extractor reads the X-User-Role header.
type RoleExtractor func(r *http.Request) Role

// DefaultRoleExtractor reads the role from the X-User-Role header.
// Returns RoleViewer if the header is missing or unrecognized.
func DefaultRoleExtractor(r *http.Request) Role {
	header := strings.TrimSpace(strings.ToLower(r.Header.Get(RoleHeader)))
	switch header {
	case string(RoleManager):
		return RoleManager
	case string(RoleTester):
		return RoleTester
	default:
		return RoleViewer
	}
}

// RequireRole returns middleware that enforces a minimum role, using the
// Identity placed in the request context by IdentityMiddleware.
// If the user's role is insufficient, it responds with 403 Forbidden.
func RequireRole(role Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, _ := IdentityFromContext(r.Context())
			if !HasRole(id.Role, role) {
				http.Error(w, `{"error":"forbidden","message":"insufficient permissions"}`, http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// HasRole checks whether userRole satisfies the required role.
// Manager can do everything Tester can do plus release-management
// operations; Tester can do everything Viewer can do plus recording.
func HasRole(userRole, required Role) bool {
	switch required {
	case RoleViewer:
		// Everyone has at least viewer access
		return true
	case RoleTester:
		return userRole == RoleTester || userRole == RoleManager
	case RoleManager:
		return userRole == RoleManager
	default:
		return false
	}
}
