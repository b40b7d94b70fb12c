package audit

import (
	"strings"
)

// extractArea extracts the API area from a URL path.
// For paths like /api/defects/v1alpha1/... it returns "defects".
func extractArea(path string) string {
	parts := strings.Split(strings.TrimPrefix(path, "/"), "/")
	if len(parts) < 2 {
		return ""
	}
	// Expected format: api/{area}/{version}/...
	return parts[1]
}

// extractResourceType extracts the resource type from a URL path.
// Returns "executions", "defects", "criteria", etc.
func extractResourceType(path string) string {
	parts := strings.Split(strings.TrimPrefix(path, "/"), "/")

	// Walk forwards to find the first resource type segment.
	// Typical patterns:
	//   /api/executions/v1alpha1/executions/{id}/steps
	//   /api/defects/v1alpha1/defects/{id}/transitions
	//   /api/gates/v1alpha1/targets/{entityType}/{entityId}/evaluations
	//   /api/gates/v1alpha1/criteria/{id}
	//   /api/audit/v1alpha1/retention:run
	for i, p := range parts {
		// Skip the area segment itself ("api/{area}/{version}/...").
		if i < 3 {
			continue
		}
		switch p {
		case "executions", "testcases", "defects", "criteria", "targets",
			"signoffs", "coverage-marks", "events", "notifications":
			return p
		}
		if strings.HasPrefix(p, "retention:") {
			return "events"
		}
	}

	return ""
}

// extractResourceIDs extracts resource IDs from a URL path.
// Returns IDs found in path parameter positions.
func extractResourceIDs(path string) []string {
	parts := strings.Split(strings.TrimPrefix(path, "/"), "/")
	var ids []string

	for i, p := range parts {
		switch p {
		case "executions", "testcases", "defects", "criteria",
			"links", "notifications", "events":
			if i+1 < len(parts) {
				id := parts[i+1]
				// Strip action suffix (e.g., "sit-exit:evaluate" -> "sit-exit").
				if colonIdx := strings.Index(id, ":"); colonIdx > 0 {
					id = id[:colonIdx]
				}
				ids = append(ids, id)
			}
		case "targets":
			// Gate targets are addressed as targets/{entityType}/{entityId}.
			if i+2 < len(parts) {
				ids = append(ids, parts[i+2])
			}
		}
	}

	return ids
}

// extractActionVerb returns a human-readable action name from the HTTP method and path.
func extractActionVerb(method, path string) string {
	parts := strings.Split(strings.TrimPrefix(path, "/"), "/")

	// Check for :action suffix in path segments.
	for _, p := range parts {
		if colonIdx := strings.Index(p, ":"); colonIdx > 0 {
			suffix := p[colonIdx+1:]
			if suffix == "run" && strings.HasPrefix(p, "retention:") {
				return "run-retention"
			}
			return suffix
		}
	}

	// Check for known sub-resource endpoints.
	for _, p := range parts {
		switch p {
		case "transitions":
			if method == "POST" {
				return "transition"
			}
		case "evaluations":
			if method == "POST" {
				return "evaluate"
			}
		case "signoffs":
			if method == "POST" {
				return "signoff"
			}
		case "coverage-marks":
			if method == "POST" {
				return "mark-coverage"
			}
		case "steps":
			if method == "POST" {
				return "append-steps"
			}
		case "links":
			switch method {
			case "POST":
				return "link"
			case "DELETE":
				return "unlink"
			}
		case "retry":
			return "retry"
		case "cancel":
			return "cancel"
		}
	}

	// Fall back to HTTP method mapping.
	switch method {
	case "POST":
		return "create"
	case "PUT":
		return "update"
	case "PATCH":
		return "patch"
	case "DELETE":
		return "delete"
	default:
		return strings.ToLower(method)
	}
}

// isManagementEndpoint returns true if the request should be audited.
// Mutating requests (POST, PUT, PATCH, DELETE) are audited; pure browsing
// (GET) is not.
func isManagementEndpoint(method, path string) bool {
	// Never audit health endpoints.
	if isHealthEndpoint(path) {
		return false
	}

	switch method {
	case "POST", "PUT", "PATCH", "DELETE":
		return true
	}

	return false
}

// isHealthEndpoint returns true for health-check paths.
func isHealthEndpoint(path string) bool {
	switch path {
	case "/livez", "/readyz", "/healthz":
		return true
	}
	return false
}
