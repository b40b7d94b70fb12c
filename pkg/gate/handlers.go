package gate

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

// CreateCriterionHandler handles POST /api/gates/v1alpha1/gates/criteria
func CreateCriterionHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateCriterionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		c, err := svc.CreateCriterion(r.Context(), req)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, c)
	}
}

// ListCriteriaHandler handles GET /api/gates/v1alpha1/gates/criteria
// Query params: gateType, kind, active
func ListCriteriaHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filter := CriterionFilter{
			GateType:   r.URL.Query().Get("gateType"),
			Kind:       r.URL.Query().Get("kind"),
			ActiveOnly: r.URL.Query().Get("active") == "true",
		}
		criteria, err := svc.ListCriteria(r.Context(), filter)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": criteria})
	}
}

// GetCriterionHandler handles GET /api/gates/v1alpha1/gates/criteria/{criterionId}
func GetCriterionHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := svc.GetCriterion(r.Context(), chi.URLParam(r, "criterionId"))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, c)
	}
}

// UpdateCriterionHandler handles PUT /api/gates/v1alpha1/gates/criteria/{criterionId}
func UpdateCriterionHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req UpdateCriterionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		c, err := svc.UpdateCriterion(r.Context(), chi.URLParam(r, "criterionId"), req)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, c)
	}
}

// DeleteCriterionHandler handles DELETE /api/gates/v1alpha1/gates/criteria/{criterionId}
func DeleteCriterionHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := svc.DeleteCriterion(r.Context(), chi.URLParam(r, "criterionId")); err != nil {
			writeServiceError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// EvaluateHandler handles POST /api/gates/v1alpha1/gates/targets/{entityType}/{entityId}/evaluations
// An empty body evaluates the entity's default gate over its own run.
func EvaluateHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req EvaluateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		verdict, err := svc.Evaluate(r.Context(), chi.URLParam(r, "entityType"), chi.URLParam(r, "entityId"), req)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, verdict)
	}
}

// HistoryHandler handles GET /api/gates/v1alpha1/gates/targets/{entityType}/{entityId}/evaluations
// Query params: pageSize, pageToken
func HistoryHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		history, err := svc.History(r.Context(),
			chi.URLParam(r, "entityType"), chi.URLParam(r, "entityId"),
			pageSizeParam(r), r.URL.Query().Get("pageToken"))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, history)
	}
}

// LatestVerdictHandler handles GET /api/gates/v1alpha1/gates/targets/{entityType}/{entityId}/evaluations/latest
func LatestVerdictHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		verdict, err := svc.LatestVerdict(r.Context(), chi.URLParam(r, "entityType"), chi.URLParam(r, "entityId"))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, verdict)
	}
}

// CreateSignoffHandler handles POST /api/gates/v1alpha1/gates/targets/{entityType}/{entityId}/signoffs
func CreateSignoffHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateSignoffRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		signoff, err := svc.CreateSignoff(r.Context(), chi.URLParam(r, "entityType"), chi.URLParam(r, "entityId"), req)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, signoff)
	}
}

// ListSignoffsHandler handles GET /api/gates/v1alpha1/gates/targets/{entityType}/{entityId}/signoffs
func ListSignoffsHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		signoffs, err := svc.ListSignoffs(r.Context(), chi.URLParam(r, "entityType"), chi.URLParam(r, "entityId"))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": signoffs})
	}
}

// CreateCoverageMarkHandler handles POST /api/gates/v1alpha1/gates/targets/{entityType}/{entityId}/coverage-marks
func CreateCoverageMarkHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateCoverageMarkRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		mark, err := svc.CreateCoverageMark(r.Context(), chi.URLParam(r, "entityType"), chi.URLParam(r, "entityId"), req)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, mark)
	}
}

// ListCoverageMarksHandler handles GET /api/gates/v1alpha1/gates/targets/{entityType}/{entityId}/coverage-marks
func ListCoverageMarksHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		marks, err := svc.ListCoverageMarks(r.Context(), chi.URLParam(r, "entityType"), chi.URLParam(r, "entityId"))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": marks})
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
