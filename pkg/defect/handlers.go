package defect

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

// CreateDefectHandler handles POST /api/defects/v1alpha1/defects
func CreateDefectHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateDefectRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		d, err := svc.CreateDefect(r.Context(), req)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, d)
	}
}

// ListDefectsHandler handles GET /api/defects/v1alpha1/defects
// Query params: status, severity, priority, assignedTo, runId, testCaseId,
// open, pageSize, pageToken
func ListDefectsHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filter := ListFilter{
			Status:     r.URL.Query().Get("status"),
			Severity:   r.URL.Query().Get("severity"),
			Priority:   r.URL.Query().Get("priority"),
			AssignedTo: r.URL.Query().Get("assignedTo"),
			RunID:      r.URL.Query().Get("runId"),
			TestCaseID: r.URL.Query().Get("testCaseId"),
			OpenOnly:   r.URL.Query().Get("open") == "true",
		}
		list, err := svc.ListDefects(r.Context(), filter, pageSizeParam(r), r.URL.Query().Get("pageToken"))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, list)
	}
}

// GetDefectHandler handles GET /api/defects/v1alpha1/defects/{defectId}
func GetDefectHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		d, err := svc.GetDefect(r.Context(), chi.URLParam(r, "defectId"))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, d)
	}
}

// UpdateDefectHandler handles PATCH /api/defects/v1alpha1/defects/{defectId}
func UpdateDefectHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req UpdateDefectRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		d, err := svc.UpdateDefect(r.Context(), chi.URLParam(r, "defectId"), req)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, d)
	}
}

// TransitionHandler handles POST /api/defects/v1alpha1/defects/{defectId}/transitions
func TransitionHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req TransitionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		d, err := svc.Transition(r.Context(), chi.URLParam(r, "defectId"), req)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, d)
	}
}

// ListTransitionsHandler handles GET /api/defects/v1alpha1/defects/{defectId}/transitions
func ListTransitionsHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defectID := chi.URLParam(r, "defectId")
		transitions, err := svc.ListTransitions(r.Context(), defectID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"defectId": defectID,
			"items":    transitions,
		})
	}
}

// SLAHandler handles GET /api/defects/v1alpha1/defects/{defectId}/sla
func SLAHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defectID := chi.URLParam(r, "defectId")
		info, err := svc.SLAStatus(r.Context(), defectID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"defectId": defectID,
			"sla":      info,
		})
	}
}

// CreateLinkHandler handles POST /api/defects/v1alpha1/defects/{defectId}/links
func CreateLinkHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req LinkRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		link, err := svc.CreateLink(r.Context(), chi.URLParam(r, "defectId"), req)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, link)
	}
}

// ListLinksHandler handles GET /api/defects/v1alpha1/defects/{defectId}/links
func ListLinksHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		links, err := svc.ListLinks(r.Context(), chi.URLParam(r, "defectId"))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": links})
	}
}

// DeleteLinkHandler handles DELETE /api/defects/v1alpha1/defects/{defectId}/links/{linkId}
func DeleteLinkHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := svc.DeleteLink(r.Context(), chi.URLParam(r, "defectId"), chi.URLParam(r, "linkId"))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
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
	var terr *TransitionError
	if errors.As(err, &terr) {
		writeJSON(w, http.StatusUnprocessableEntity, terr)
		return
	}
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
	var cerr *CycleDetectedError
	if errors.As(err, &cerr) {
		writeError(w, http.StatusConflict, cerr.Error())
		return
	}
	var merr *ConcurrentModificationError
	if errors.As(err, &merr) {
		writeError(w, http.StatusConflict, merr.Error())
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
