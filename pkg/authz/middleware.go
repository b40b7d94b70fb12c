package authz

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/umutsoyyilmaz/SAP-Transformation-Platform-sub009/pkg/tenancy"
)

// RequirePermission returns middleware that enforces a specific resource/verb
// permission check. It retrieves the identity from context (via IdentityMiddleware)
// and the program from context (via tenancy middleware), then calls the authorizer.
func RequirePermission(authorizer Authorizer, resource, verb string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, _ := IdentityFromContext(r.Context())
			program := tenancy.ProgramFromContext(r.Context())

			req := AuthzRequest{
				User:     id.User,
				Role:     id.Role,
				Resource: resource,
				Verb:     verb,
				Program:  program,
			}

			allowed, err := authorizer.Authorize(r.Context(), req)
			if err != nil {
				writeAuthzError(w, http.StatusInternalServerError, "internal_error", "authorization check failed")
				return
			}

			if !allowed {
				writeAuthzError(w, http.StatusForbidden, "forbidden",
					fmt.Sprintf("insufficient permissions for %s/%s in program %s", resource, verb, program))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// AuthzMiddleware returns middleware that auto-maps the HTTP method and URL path
// to a (resource, verb) pair and performs the authorization check. This can be
// mounted as global middleware on all API routes.
func AuthzMiddleware(authorizer Authorizer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			mapping := MapRequest(r.Method, r.URL.Path)

			// If we cannot map the request, deny by default.
			if mapping == UnknownMapping {
				writeAuthzError(w, http.StatusForbidden, "forbidden", "unknown endpoint, access denied")
				return
			}

			id, _ := IdentityFromContext(r.Context())
			program := tenancy.ProgramFromContext(r.Context())

			req := AuthzRequest{
				User:     id.User,
				Role:     id.Role,
				Resource: mapping.Resource,
				Verb:     mapping.Verb,
				Program:  program,
			}

			allowed, err := authorizer.Authorize(r.Context(), req)
			if err != nil {
				writeAuthzError(w, http.StatusInternalServerError, "internal_error", "authorization check failed")
				return
			}

			if !allowed {
				writeAuthzError(w, http.StatusForbidden, "forbidden",
					fmt.Sprintf("insufficient permissions for %s/%s in program %s", mapping.Resource, mapping.Verb, program))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func writeAuthzError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   code,
		"message": message,
	})
}
