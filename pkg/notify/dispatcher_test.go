package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebhookDispatcherPostsNotification(t *testing.T) {
	var received Notification
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	d := NewWebhookDispatcher(srv.URL, 2*time.Second)
	rec := newTestNotification(KindSLABreach, "alice")
	rec.Subject = "SLA breached: S1/P1 defect d-42"

	require.NoError(t, d.Dispatch(context.Background(), rec))
	assert.Equal(t, rec.ID, received.ID)
	assert.Equal(t, KindSLABreach, received.Kind)
	assert.Equal(t, "SLA breached: S1/P1 defect d-42", received.Subject)
}

func TestWebhookDispatcherRejectsNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	d := NewWebhookDispatcher(srv.URL, 2*time.Second)
	err := d.Dispatch(context.Background(), newTestNotification(KindSLABreach, "alice"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestLogDispatcherNeverFails(t *testing.T) {
	d := NewLogDispatcher(nil)
	assert.NoError(t, d.Dispatch(context.Background(), newTestNotification(KindGateVerdict, "")))
}
