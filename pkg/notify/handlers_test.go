package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umutsoyyilmaz/SAP-Transformation-Platform-sub009/pkg/tenancy"
)

func newTestHandlerStore(t *testing.T) (http.Handler, *Store) {
	t.Helper()
	store := NewStore(setupTestDB(t))
	return Router(store, nil), store
}

func doRequest(t *testing.T, router http.Handler, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	ctx := tenancy.WithProgram(context.Background(), tenancy.ProgramContext{Program: "default"})
	req = req.WithContext(ctx)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestListAndGetNotificationHandlers(t *testing.T) {
	router, store := newTestHandlerStore(t)

	n1, err := store.Enqueue(newTestNotification(KindSLABreach, "alice"))
	require.NoError(t, err)
	_, err = store.Enqueue(newTestNotification(KindGateVerdict, "bob"))
	require.NoError(t, err)

	rec := doRequest(t, router, "GET", "/notifications")
	require.Equal(t, http.StatusOK, rec.Code)
	var list NotificationList
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Equal(t, int64(2), list.TotalSize)
	assert.Len(t, list.Items, 2)

	rec = doRequest(t, router, "GET", "/notifications?kind="+KindSLABreach)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Equal(t, int64(1), list.TotalSize)

	rec = doRequest(t, router, "GET", "/notifications/"+n1.ID)
	require.Equal(t, http.StatusOK, rec.Code)
	var got Notification
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, n1.ID, got.ID)
	assert.Equal(t, StateQueued, got.State)

	rec = doRequest(t, router, "GET", "/notifications/nonexistent")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCancelNotificationHandler(t *testing.T) {
	router, store := newTestHandlerStore(t)

	n, err := store.Enqueue(newTestNotification(KindSLABreach, "alice"))
	require.NoError(t, err)

	rec := doRequest(t, router, "POST", "/notifications/"+n.ID+"/cancel")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "canceled", resp["status"])

	// Canceling twice conflicts; the row is already terminal.
	rec = doRequest(t, router, "POST", "/notifications/"+n.ID+"/cancel")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doRequest(t, router, "POST", "/notifications/nonexistent/cancel")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRetryNotificationHandler(t *testing.T) {
	router, store := newTestHandlerStore(t)

	n, err := store.Enqueue(newTestNotification(KindSLABreach, "alice"))
	require.NoError(t, err)
	require.NoError(t, store.Fail(n.ID, "connection refused", 0))

	rec := doRequest(t, router, "POST", "/notifications/"+n.ID+"/retry")
	require.Equal(t, http.StatusOK, rec.Code)
	var got Notification
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, StateQueued, got.State)
	assert.Equal(t, 0, got.AttemptCount)

	// A queued notification has nothing to retry.
	rec = doRequest(t, router, "POST", "/notifications/"+n.ID+"/retry")
	assert.Equal(t, http.StatusConflict, rec.Code)
}
