package authz

import "fmt"

// AuthzMode selects the authorization backend.
type AuthzMode string

const (
	// AuthzModeNone disables authorization checks (dev/backward compat).
	AuthzModeNone AuthzMode = "none"
	// AuthzModeRole enforces the role-grant table using roles extracted
	// from request headers or JWT Bearer tokens.
	AuthzModeRole AuthzMode = "role"
)

// NewAuthorizer returns the Authorizer for the given mode.
func NewAuthorizer(mode AuthzMode) (Authorizer, error) {
	switch mode {
	case AuthzModeNone, "":
		return &NoopAuthorizer{}, nil
	case AuthzModeRole:
		return NewRoleAuthorizer(), nil
	default:
		return nil, fmt.Errorf("unknown authz mode %q", mode)
	}
}
