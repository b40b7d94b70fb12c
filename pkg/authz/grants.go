package authz

import "context"

// RoleAuthorizer checks authorization against a static role-grant table.
// Reads are open to all roles; recording operations require RoleTester and
// release-management operations require RoleManager.
type RoleAuthorizer struct{}

// NewRoleAuthorizer creates a new RoleAuthorizer.
func NewRoleAuthorizer() *RoleAuthorizer {
	return &RoleAuthorizer{}
}

// Authorize checks the request against the grant table. Unknown
// resource/verb combinations are denied.
func (a *RoleAuthorizer) Authorize(_ context.Context, req AuthzRequest) (bool, error) {
	required, ok := minRoleFor(req.Resource, req.Verb)
	if !ok {
		return false, nil
	}
	return HasRole(req.Role, required), nil
}

// minRoleFor returns the minimum role required for a resource/verb pair.
// The second return value is false when the pair is not a known operation.
func minRoleFor(resource, verb string) (Role, bool) {
	switch verb {
	case VerbGet, VerbList:
		switch resource {
		case ResourceExecutions, ResourceDefects, ResourceGates,
			ResourceSignoffs, ResourceAudit, ResourceNotifications:
			return RoleViewer, true
		}
		return "", false
	}

	switch resource {
	case ResourceExecutions:
		switch verb {
		case VerbCreate, VerbUpdate:
			return RoleTester, true
		}
	case ResourceDefects:
		switch verb {
		case VerbCreate, VerbUpdate, VerbTransition:
			return RoleTester, true
		case VerbDelete:
			// Only defect links are deletable; defects themselves are not.
			return RoleTester, true
		}
	case ResourceGates:
		switch verb {
		case VerbCreate, VerbUpdate, VerbDelete:
			return RoleManager, true
		case VerbEvaluate:
			return RoleManager, true
		}
	case ResourceSignoffs:
		if verb == VerbSignoff || verb == VerbCreate {
			return RoleManager, true
		}
	case ResourceNotifications:
		if verb == VerbUpdate {
			return RoleManager, true
		}
	case ResourceAudit:
		if verb == VerbDelete {
			return RoleManager, true
		}
	}
	return "", false
}
