package notify

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/umutsoyyilmaz/SAP-Transformation-Platform-sub009/pkg/authz"
)

// Router creates a chi.Router for the notification API.
// When authorizer is non-nil, endpoints require notification permissions.
func Router(store *Store, authorizer authz.Authorizer) chi.Router {
	r := chi.NewRouter()

	guard := func(verb string, h http.HandlerFunc) http.HandlerFunc {
		if authorizer == nil {
			return h
		}
		return authz.RequirePermission(authorizer, authz.ResourceNotifications, verb)(h).ServeHTTP
	}

	r.Get("/notifications", guard(authz.VerbList, ListNotificationsHandler(store)))
	r.Get("/notifications/{notificationId}", guard(authz.VerbGet, GetNotificationHandler(store)))
	r.Post("/notifications/{notificationId}/cancel", guard(authz.VerbUpdate, CancelNotificationHandler(store)))
	r.Post("/notifications/{notificationId}/retry", guard(authz.VerbUpdate, RetryNotificationHandler(store)))

	return r
}
