package audit

import (
	"github.com/go-chi/chi/v5"

	"github.com/umutsoyyilmaz/SAP-Transformation-Platform-sub009/pkg/authz"
)

// Router creates a chi.Router for the audit API.
// When authorizer is non-nil, endpoints require audit permissions.
func Router(store *Store, worker *RetentionWorker, authorizer authz.Authorizer) chi.Router {
	r := chi.NewRouter()

	listHandler := ListEventsHandler(store)
	getHandler := GetEventHandler(store)
	retentionHandler := RunRetentionHandler(worker)

	if authorizer != nil {
		r.Get("/events", authz.RequirePermission(authorizer, authz.ResourceAudit, authz.VerbList)(listHandler).ServeHTTP)
		r.Get("/events/{eventId}", authz.RequirePermission(authorizer, authz.ResourceAudit, authz.VerbGet)(getHandler).ServeHTTP)
		r.Post("/retention:run", authz.RequirePermission(authorizer, authz.ResourceAudit, authz.VerbDelete)(retentionHandler).ServeHTTP)
	} else {
		r.Get("/events", listHandler)
		r.Get("/events/{eventId}", getHandler)
		r.Post("/retention:run", retentionHandler)
	}

	return r
}
