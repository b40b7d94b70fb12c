package gate

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/umutsoyyilmaz/SAP-Transformation-Platform-sub009/pkg/authz"
)

// Router creates a chi.Router for the gate API.
// When authorizer is non-nil, endpoints require gate permissions;
// sign-off endpoints are guarded as their own resource. An optional
// criteriaMW wraps the criteria subtree, e.g. with the read cache.
func Router(svc *Service, authorizer authz.Authorizer, criteriaMW ...func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()

	guard := func(resource, verb string, h http.HandlerFunc) http.HandlerFunc {
		if authorizer == nil {
			return h
		}
		return authz.RequirePermission(authorizer, resource, verb)(h).ServeHTTP
	}

	r.Group(func(cr chi.Router) {
		cr.Use(criteriaMW...)
		cr.Post("/gates/criteria", guard(authz.ResourceGates, authz.VerbCreate, CreateCriterionHandler(svc)))
		cr.Get("/gates/criteria", guard(authz.ResourceGates, authz.VerbList, ListCriteriaHandler(svc)))
		cr.Get("/gates/criteria/{criterionId}", guard(authz.ResourceGates, authz.VerbGet, GetCriterionHandler(svc)))
		cr.Put("/gates/criteria/{criterionId}", guard(authz.ResourceGates, authz.VerbUpdate, UpdateCriterionHandler(svc)))
		cr.Delete("/gates/criteria/{criterionId}", guard(authz.ResourceGates, authz.VerbDelete, DeleteCriterionHandler(svc)))
	})

	r.Post("/gates/targets/{entityType}/{entityId}/evaluations", guard(authz.ResourceGates, authz.VerbEvaluate, EvaluateHandler(svc)))
	r.Get("/gates/targets/{entityType}/{entityId}/evaluations", guard(authz.ResourceGates, authz.VerbList, HistoryHandler(svc)))
	r.Get("/gates/targets/{entityType}/{entityId}/evaluations/latest", guard(authz.ResourceGates, authz.VerbGet, LatestVerdictHandler(svc)))

	r.Post("/gates/targets/{entityType}/{entityId}/signoffs", guard(authz.ResourceSignoffs, authz.VerbSignoff, CreateSignoffHandler(svc)))
	r.Get("/gates/targets/{entityType}/{entityId}/signoffs", guard(authz.ResourceSignoffs, authz.VerbList, ListSignoffsHandler(svc)))

	r.Post("/gates/targets/{entityType}/{entityId}/coverage-marks", guard(authz.ResourceGates, authz.VerbUpdate, CreateCoverageMarkHandler(svc)))
	r.Get("/gates/targets/{entityType}/{entityId}/coverage-marks", guard(authz.ResourceGates, authz.VerbList, ListCoverageMarksHandler(svc)))

	return r
}
