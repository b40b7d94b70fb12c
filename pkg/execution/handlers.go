package execution

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

// RecordExecutionHandler handles POST /api/executions/v1alpha1/executions
func RecordExecutionHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req RecordExecutionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		exec, err := svc.RecordExecution(r.Context(), req)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, exec)
	}
}

// AppendStepsHandler handles POST /api/executions/v1alpha1/executions/{executionId}/steps
func AppendStepsHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		executionID := chi.URLParam(r, "executionId")
		var req AppendStepsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		exec, err := svc.AppendSteps(r.Context(), executionID, req)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, exec)
	}
}

// GetExecutionHandler handles GET /api/executions/v1alpha1/executions/{executionId}
func GetExecutionHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		executionID := chi.URLParam(r, "executionId")
		exec, err := svc.GetExecution(r.Context(), executionID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, exec)
	}
}

// ListExecutionsHandler handles GET /api/executions/v1alpha1/executions
// Query params: testCaseId, runId, status, executedBy, defectId, pageSize,
// pageToken
func ListExecutionsHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filter := ListFilter{
			TestCaseID: r.URL.Query().Get("testCaseId"),
			RunID:      r.URL.Query().Get("runId"),
			Status:     r.URL.Query().Get("status"),
			ExecutedBy: r.URL.Query().Get("executedBy"),
			DefectID:   r.URL.Query().Get("defectId"),
		}
		list, err := svc.ListExecutions(r.Context(), filter, pageSizeParam(r), r.URL.Query().Get("pageToken"))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, list)
	}
}

// HistoryHandler handles GET /api/executions/v1alpha1/testcases/{testCaseId}/executions
// Query params: runId (required), pageSize, pageToken
func HistoryHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		testCaseID := chi.URLParam(r, "testCaseId")
		runID := r.URL.Query().Get("runId")
		list, err := svc.History(r.Context(), testCaseID, runID, pageSizeParam(r), r.URL.Query().Get("pageToken"))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, list)
	}
}

// LatestHandler handles GET /api/executions/v1alpha1/testcases/{testCaseId}/latest
// Query params: runId (required)
func LatestHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		testCaseID := chi.URLParam(r, "testCaseId")
		runID := r.URL.Query().Get("runId")
		exec, err := svc.Latest(r.Context(), testCaseID, runID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, exec)
	}
}

// RunSummaryHandler handles GET /api/executions/v1alpha1/runs/{runId}/summary
func RunSummaryHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		summary, err := svc.RunSummary(r.Context(), chi.URLParam(r, "runId"))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, summary)
	}
}

func pageSizeParam(r *http.Request) int {
	pageSize := 20
	if ps := r.URL.Query().Get("pageSize"); ps != "" {
		if v, err := strconv.Atoi(ps); err == nil && v > 0 {
			pageSize = v
		}
	}
	return pageSize
}

func writeServiceError(w http.ResponseWriter, err error) {
	var verr *ValidationError
	if errors.As(err, &verr) {
		writeError(w, http.StatusBadRequest, verr.Error())
		return
	}
	var nferr *NotFoundError
	if errors.As(err, &nferr) {
		writeError(w, http.StatusNotFound, nferr.Error())
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
