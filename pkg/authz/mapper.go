package authz

import (
	"net/http"
	"strings"
)

// ResourceMapping maps an HTTP request to a testhub resource and verb for authorization.
type ResourceMapping struct {
	Resource string
	Verb     string
}

// UnknownMapping is returned when no known pattern matches the request.
// Callers should deny requests with this mapping by default.
var UnknownMapping = ResourceMapping{Resource: "", Verb: ""}

// MapRequest maps an HTTP method and URL path to a ResourceMapping.
// The mapper uses path segment patterns to determine the appropriate
// resource and verb for authorization checks.
func MapRequest(method, path string) ResourceMapping {
	// Normalize the path: trim trailing slash.
	path = strings.TrimRight(path, "/")

	switch {
	case strings.HasPrefix(path, "/api/executions/"):
		return mapExecutionsRoute(method, path)
	case strings.HasPrefix(path, "/api/defects/"):
		return mapDefectsRoute(method, path)
	case strings.HasPrefix(path, "/api/gates/"):
		return mapGatesRoute(method, path)
	case strings.HasPrefix(path, "/api/audit/"):
		return mapAuditRoute(method, path)
	case strings.HasPrefix(path, "/api/notifications/"):
		return mapNotificationsRoute(method, path)
	}

	// Default: unknown pattern.
	return UnknownMapping
}

// mapExecutionsRoute handles /api/executions/* routes.
func mapExecutionsRoute(method, path string) ResourceMapping {
	switch method {
	case http.MethodGet:
		if strings.HasSuffix(path, "/executions") || strings.HasSuffix(path, "/testcases") {
			return ResourceMapping{Resource: ResourceExecutions, Verb: VerbList}
		}
		return ResourceMapping{Resource: ResourceExecutions, Verb: VerbGet}
	case http.MethodPost:
		// POST /executions/{id}/steps appends to an existing execution.
		if strings.HasSuffix(path, "/steps") {
			return ResourceMapping{Resource: ResourceExecutions, Verb: VerbUpdate}
		}
		return ResourceMapping{Resource: ResourceExecutions, Verb: VerbCreate}
	}
	return UnknownMapping
}

// mapDefectsRoute handles /api/defects/* routes.
func mapDefectsRoute(method, path string) ResourceMapping {
	switch method {
	case http.MethodGet:
		if strings.HasSuffix(path, "/defects") {
			return ResourceMapping{Resource: ResourceDefects, Verb: VerbList}
		}
		return ResourceMapping{Resource: ResourceDefects, Verb: VerbGet}
	case http.MethodPost:
		// POST /defects/{id}/transitions
		if strings.HasSuffix(path, "/transitions") {
			return ResourceMapping{Resource: ResourceDefects, Verb: VerbTransition}
		}
		return ResourceMapping{Resource: ResourceDefects, Verb: VerbCreate}
	case http.MethodPatch:
		return ResourceMapping{Resource: ResourceDefects, Verb: VerbUpdate}
	case http.MethodDelete:
		// DELETE /defects/{id}/links/{linkID}
		if strings.Contains(path, "/links/") {
			return ResourceMapping{Resource: ResourceDefects, Verb: VerbDelete}
		}
	}
	return UnknownMapping
}

// mapGatesRoute handles /api/gates/* routes.
func mapGatesRoute(method, path string) ResourceMapping {
	switch method {
	case http.MethodGet:
		if strings.Contains(path, "/signoffs") {
			return ResourceMapping{Resource: ResourceSignoffs, Verb: VerbList}
		}
		if strings.HasSuffix(path, "/criteria") || strings.HasSuffix(path, "/evaluations") ||
			strings.HasSuffix(path, "/coverage-marks") {
			return ResourceMapping{Resource: ResourceGates, Verb: VerbList}
		}
		return ResourceMapping{Resource: ResourceGates, Verb: VerbGet}
	case http.MethodPost:
		if strings.HasSuffix(path, "/evaluations") {
			return ResourceMapping{Resource: ResourceGates, Verb: VerbEvaluate}
		}
		if strings.HasSuffix(path, "/signoffs") {
			return ResourceMapping{Resource: ResourceSignoffs, Verb: VerbSignoff}
		}
		if strings.HasSuffix(path, "/coverage-marks") {
			return ResourceMapping{Resource: ResourceGates, Verb: VerbUpdate}
		}
		return ResourceMapping{Resource: ResourceGates, Verb: VerbCreate}
	case http.MethodPut:
		return ResourceMapping{Resource: ResourceGates, Verb: VerbUpdate}
	case http.MethodDelete:
		return ResourceMapping{Resource: ResourceGates, Verb: VerbDelete}
	}
	return UnknownMapping
}

// mapAuditRoute handles /api/audit/* routes.
func mapAuditRoute(method, path string) ResourceMapping {
	switch method {
	case http.MethodGet:
		if strings.HasSuffix(path, "/events") {
			return ResourceMapping{Resource: ResourceAudit, Verb: VerbList}
		}
		return ResourceMapping{Resource: ResourceAudit, Verb: VerbGet}
	case http.MethodPost:
		// POST /retention:run
		if strings.HasSuffix(path, "/retention:run") {
			return ResourceMapping{Resource: ResourceAudit, Verb: VerbDelete}
		}
	}
	return UnknownMapping
}

// mapNotificationsRoute handles /api/notifications/* routes.
func mapNotificationsRoute(method, path string) ResourceMapping {
	switch method {
	case http.MethodGet:
		if strings.HasSuffix(path, "/notifications") {
			return ResourceMapping{Resource: ResourceNotifications, Verb: VerbList}
		}
		return ResourceMapping{Resource: ResourceNotifications, Verb: VerbGet}
	case http.MethodPost:
		// POST /notifications/{id}/retry and /notifications/{id}/cancel
		if strings.HasSuffix(path, "/retry") || strings.HasSuffix(path, "/cancel") {
			return ResourceMapping{Resource: ResourceNotifications, Verb: VerbUpdate}
		}
	}
	return UnknownMapping
}
