package audit

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
)

// ListEventsHandler handles GET /api/audit/v1alpha1/events
// Query params: program, actor, eventType, resourceType, resourceId, action,
// outcome, pageSize, pageToken
func ListEventsHandler(store *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filter := ListFilter{
			Program:      r.URL.Query().Get("program"),
			Actor:        r.URL.Query().Get("actor"),
			EventType:    r.URL.Query().Get("eventType"),
			ResourceType: r.URL.Query().Get("resourceType"),
			ResourceID:   r.URL.Query().Get("resourceId"),
			Action:       r.URL.Query().Get("action"),
			Outcome:      r.URL.Query().Get("outcome"),
		}

		pageSize := 20
		if ps := r.URL.Query().Get("pageSize"); ps != "" {
			if v, err := strconv.Atoi(ps); err == nil && v > 0 {
				pageSize = v
			}
		}
		pageToken := r.URL.Query().Get("pageToken")

		records, nextToken, total, err := store.ListFiltered(filter, pageSize, pageToken)
		if err != nil {
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to list audit events: %v", err))
			return
		}

		events := make([]eventResponse, len(records))
		for i, rec := range records {
			events[i] = recordToResponse(rec)
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"events":        events,
			"nextPageToken": nextToken,
			"totalSize":     total,
		})
	}
}

// GetEventHandler handles GET /api/audit/v1alpha1/events/{eventId}
func GetEventHandler(store *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		eventID := chi.URLParam(r, "eventId")
		if eventID == "" {
			writeError(w, http.StatusBadRequest, "missing event ID")
			return
		}

		record, err := store.GetByID(eventID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to get audit event: %v", err))
			return
		}
		if record == nil {
			writeError(w, http.StatusNotFound, fmt.Sprintf("audit event %q not found", eventID))
			return
		}

		writeJSON(w, http.StatusOK, recordToResponse(*record))
	}
}

// RunRetentionHandler handles POST /api/audit/v1alpha1/retention:run
// It triggers an immediate retention pass outside the daily schedule.
func RunRetentionHandler(worker *RetentionWorker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if worker == nil {
			writeError(w, http.StatusServiceUnavailable, "retention worker not configured")
			return
		}
		worker.Cleanup()
		writeJSON(w, http.StatusOK, map[string]string{
			"status": "completed",
			"ranAt":  time.Now().Format(time.RFC3339),
		})
	}
}

// eventResponse is the API representation of an audit event.
type eventResponse struct {
	ID            string         `json:"id"`
	Program       string         `json:"program"`
	CorrelationID string         `json:"correlationId,omitempty"`
	RequestID     string         `json:"requestId,omitempty"`
	EventType     string         `json:"eventType"`
	Actor         string         `json:"actor"`
	ResourceType  string         `json:"resourceType,omitempty"`
	ResourceID    string         `json:"resourceId,omitempty"`
	ResourceIDs   []string       `json:"resourceIds,omitempty"`
	Action        string         `json:"action,omitempty"`
	Outcome       string         `json:"outcome"`
	StatusCode    int            `json:"statusCode,omitempty"`
	Reason        string         `json:"reason,omitempty"`
	OldValue      map[string]any `json:"oldValue,omitempty"`
	NewValue      map[string]any `json:"newValue,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	CreatedAt     string         `json:"createdAt"`
}

func recordToResponse(rec Event) eventResponse {
	return eventResponse{
		ID:            rec.ID,
		Program:       rec.Program,
		CorrelationID: rec.CorrelationID,
		RequestID:     rec.RequestID,
		EventType:     rec.EventType,
		Actor:         rec.Actor,
		ResourceType:  rec.ResourceType,
		ResourceID:    rec.ResourceID,
		ResourceIDs:   []string(rec.ResourceIDs),
		Action:        rec.Action,
		Outcome:       rec.Outcome,
		StatusCode:    rec.StatusCode,
		Reason:        rec.Reason,
		OldValue:      map[string]any(rec.OldValue),
		NewValue:      map[string]any(rec.NewValue),
		Metadata:      map[string]any(rec.EventMetadata),
		CreatedAt:     rec.CreatedAt.Format(time.RFC3339Nano),
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
