package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Dispatcher delivers a claimed notification to its destination. A nil
// error means the notification was handed off and can be marked delivered.
type Dispatcher interface {
	Dispatch(ctx context.Context, rec *NotificationRecord) error
}

// LogDispatcher writes notifications to the structured log. It is the
// fallback destination when no webhook is configured, and keeps the outbox
// lifecycle observable in development.
type LogDispatcher struct {
	logger *slog.Logger
}

// NewLogDispatcher creates a LogDispatcher. A nil logger falls back to
// slog.Default().
func NewLogDispatcher(logger *slog.Logger) *LogDispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogDispatcher{logger: logger}
}

// Dispatch logs the notification.
func (d *LogDispatcher) Dispatch(_ context.Context, rec *NotificationRecord) error {
	d.logger.Info("notification",
		"id", rec.ID,
		"program", rec.Program,
		"kind", rec.Kind,
		"recipient", rec.Recipient,
		"subject", rec.Subject,
		"attempt", rec.AttemptCount)
	return nil
}

// WebhookDispatcher POSTs notifications as JSON to a configured URL.
// Any 2xx response counts as delivered.
type WebhookDispatcher struct {
	url    string
	client *http.Client
}

// NewWebhookDispatcher creates a WebhookDispatcher targeting the given URL.
func NewWebhookDispatcher(url string, timeout time.Duration) *WebhookDispatcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookDispatcher{
		url: url,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// Dispatch POSTs the notification to the webhook URL.
func (d *WebhookDispatcher) Dispatch(ctx context.Context, rec *NotificationRecord) error {
	payload, err := json.Marshal(recordToNotification(rec))
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
