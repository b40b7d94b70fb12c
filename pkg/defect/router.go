package defect

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/umutsoyyilmaz/SAP-Transformation-Platform-sub009/pkg/authz"
)

// Router creates a chi.Router for the defect API.
// When authorizer is non-nil, endpoints require defect permissions.
func Router(svc *Service, authorizer authz.Authorizer) chi.Router {
	r := chi.NewRouter()

	guard := func(verb string, h http.HandlerFunc) http.HandlerFunc {
		if authorizer == nil {
			return h
		}
		return authz.RequirePermission(authorizer, authz.ResourceDefects, verb)(h).ServeHTTP
	}

	r.Post("/defects", guard(authz.VerbCreate, CreateDefectHandler(svc)))
	r.Get("/defects", guard(authz.VerbList, ListDefectsHandler(svc)))
	r.Get("/defects/{defectId}", guard(authz.VerbGet, GetDefectHandler(svc)))
	r.Patch("/defects/{defectId}", guard(authz.VerbUpdate, UpdateDefectHandler(svc)))
	r.Post("/defects/{defectId}/transitions", guard(authz.VerbTransition, TransitionHandler(svc)))
	r.Get("/defects/{defectId}/transitions", guard(authz.VerbGet, ListTransitionsHandler(svc)))
	r.Get("/defects/{defectId}/sla", guard(authz.VerbGet, SLAHandler(svc)))
	r.Post("/defects/{defectId}/links", guard(authz.VerbCreate, CreateLinkHandler(svc)))
	r.Get("/defects/{defectId}/links", guard(authz.VerbGet, ListLinksHandler(svc)))
	r.Delete("/defects/{defectId}/links/{linkId}", guard(authz.VerbDelete, DeleteLinkHandler(svc)))

	return r
}
