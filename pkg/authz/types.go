// Package authz provides identity and authorization primitives for the
// testhub server. It supports role-based authorization with roles taken
// from request headers or JWT Bearer tokens, and a no-op mode for
// development and backward compatibility.
package authz

import "context"

// Role represents a user's access level for testhub operations.
type Role string

const (
	// RoleViewer has read-only access (browse executions, defects, gate results).
	RoleViewer Role = "viewer"

	// RoleTester has read access plus recording operations (submit executions,
	// raise and transition defects, manage defect links).
	RoleTester Role = "tester"

	// RoleManager has tester access plus release-management operations
	// (configure gate criteria, evaluate gates, record sign-offs).
	RoleManager Role = "manager"
)

// Resource names for authorization mapping.
const (
	ResourceExecutions    = "executions"
	ResourceDefects       = "defects"
	ResourceGates         = "gates"
	ResourceSignoffs      = "signoffs"
	ResourceAudit         = "audit"
	ResourceNotifications = "notifications"
)

// Verb names for authorization mapping.
const (
	VerbGet        = "get"
	VerbList       = "list"
	VerbCreate     = "create"
	VerbUpdate     = "update"
	VerbDelete     = "delete"
	VerbTransition = "transition"
	VerbEvaluate   = "evaluate"
	VerbSignoff    = "signoff"
)

// AuthzRequest represents an authorization check.
type AuthzRequest struct {
	User     string
	Role     Role
	Resource string
	Verb     string
	Program  string // Empty for program-agnostic checks.
}

// Authorizer checks whether a user is authorized to perform an action.
type Authorizer interface {
	Authorize(ctx context.Context, req AuthzRequest) (bool, error)
}
