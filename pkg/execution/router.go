package execution

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/umutsoyyilmaz/SAP-Transformation-Platform-sub009/pkg/authz"
)

// Router creates a chi.Router for the execution API.
// When authorizer is non-nil, endpoints require execution permissions.
// An optional summaryMW wraps the run summary route, e.g. with the read cache.
func Router(svc *Service, authorizer authz.Authorizer, summaryMW ...func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()

	guard := func(verb string, h http.HandlerFunc) http.HandlerFunc {
		if authorizer == nil {
			return h
		}
		return authz.RequirePermission(authorizer, authz.ResourceExecutions, verb)(h).ServeHTTP
	}

	r.Post("/executions", guard(authz.VerbCreate, RecordExecutionHandler(svc)))
	r.Get("/executions", guard(authz.VerbList, ListExecutionsHandler(svc)))
	r.Get("/executions/{executionId}", guard(authz.VerbGet, GetExecutionHandler(svc)))
	r.Post("/executions/{executionId}/steps", guard(authz.VerbUpdate, AppendStepsHandler(svc)))
	r.Get("/testcases/{testCaseId}/executions", guard(authz.VerbList, HistoryHandler(svc)))
	r.Get("/testcases/{testCaseId}/latest", guard(authz.VerbGet, LatestHandler(svc)))
	r.With(summaryMW...).Get("/runs/{runId}/summary", guard(authz.VerbGet, RunSummaryHandler(svc)))

	return r
}
