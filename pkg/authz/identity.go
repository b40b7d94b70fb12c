package authz

import (
	"context"
	"net/http"
	"strings"
)

// identityCtxKey is an unexported type used as the context key for Identity.
type identityCtxKey struct{}

// PrincipalHeader carries the authenticated user principal, typically set
// by a trusted auth proxy in front of the server.
const PrincipalHeader = "X-User-Principal"

// Identity represents the authenticated user making a request.
type Identity struct {
	User string
	Role Role
}

// WithIdentity returns a new context with the given Identity attached.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityCtxKey{}, id)
}

// IdentityFromContext retrieves the Identity from the context.
// Returns the zero value and false if no identity is set.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityCtxKey{}).(Identity)
	return id, ok
}

// Actor returns the user principal from the context for audit attribution.
// Returns "system" when no identity is set or the principal is empty, so
// internally-triggered writes are still attributed.
func Actor(ctx context.Context) string {
	id, ok := IdentityFromContext(ctx)
	if !ok || id.User == "" {
		return "system"
	}
	return id.User
}

// IdentityMiddleware returns HTTP middleware that extracts identity from the
// X-User-Principal header and the given role extractor, and stores it in the
// request context. If X-User-Principal is missing, the user defaults to
// "anonymous". A nil extractor falls back to DefaultRoleExtractor.
func IdentityMiddleware(extractor RoleExtractor) func(http.Handler) http.Handler {
	if extractor == nil {
		extractor = DefaultRoleExtractor
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := strings.TrimSpace(r.Header.Get(PrincipalHeader))
			if user == "" {
				user = "anonymous"
			}

			id := Identity{User: user, Role: extractor(r)}
			ctx := WithIdentity(r.Context(), id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
