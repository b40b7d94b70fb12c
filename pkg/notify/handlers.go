package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/umutsoyyilmaz/SAP-Transformation-Platform-sub009/pkg/tenancy"
)

// ListNotificationsHandler handles GET /api/notifications/v1alpha1/notifications
// Query params: kind, state, recipient, pageSize, pageToken
func ListNotificationsHandler(store *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filter := ListFilter{
			Kind:      r.URL.Query().Get("kind"),
			State:     r.URL.Query().Get("state"),
			Recipient: r.URL.Query().Get("recipient"),
		}

		records, nextToken, total, err := store.List(programFrom(r.Context()), filter,
			pageSizeParam(r), r.URL.Query().Get("pageToken"))
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		items := make([]Notification, len(records))
		for i := range records {
			items[i] = recordToNotification(&records[i])
		}

		writeJSON(w, http.StatusOK, NotificationList{
			Items:         items,
			TotalSize:     int64(total),
			NextPageToken: nextToken,
		})
	}
}

// GetNotificationHandler handles GET /api/notifications/v1alpha1/notifications/{notificationId}
func GetNotificationHandler(store *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "notificationId")
		rec, err := store.Get(programFrom(r.Context()), id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if rec == nil {
			writeServiceError(w, &NotFoundError{ID: id})
			return
		}
		writeJSON(w, http.StatusOK, recordToNotification(rec))
	}
}

// CancelNotificationHandler handles POST /api/notifications/v1alpha1/notifications/{notificationId}/cancel
func CancelNotificationHandler(store *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "notificationId")
		if err := store.Cancel(programFrom(r.Context()), id); err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"status":         "canceled",
			"notificationId": id,
		})
	}
}

// RetryNotificationHandler handles POST /api/notifications/v1alpha1/notifications/{notificationId}/retry
func RetryNotificationHandler(store *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "notificationId")
		rec, err := store.Retry(programFrom(r.Context()), id)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, recordToNotification(rec))
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
	var nferr *NotFoundError
	if errors.As(err, &nferr) {
		writeError(w, http.StatusNotFound, nferr.Error())
		return
	}
	var serr *StateError
	if errors.As(err, &serr) {
		writeError(w, http.StatusConflict, serr.Error())
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

func programFrom(ctx context.Context) string {
	if p := tenancy.ProgramFromContext(ctx); p != "" {
		return p
	}
	return "default"
}
