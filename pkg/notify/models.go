// Package notify implements the notification outbox: SLA breaches, gate
// verdict changes, and anything else the platform wants pushed out are
// enqueued as rows and delivered by a worker pool through a dispatcher.
// Delivery is at-least-once; idempotency keys keep producers from enqueuing
// the same fact twice while it is still in flight.
package notify

import (
	"time"

	"github.com/umutsoyyilmaz/SAP-Transformation-Platform-sub009/pkg/audit"
)

// NotificationState is the delivery lifecycle state of a notification.
type NotificationState string

const (
	StateQueued    NotificationState = "queued"
	StateSending   NotificationState = "sending"
	StateDelivered NotificationState = "delivered"
	StateFailed    NotificationState = "failed"
	StateCanceled  NotificationState = "canceled"
)

// Notification kinds produced by the platform's own scanners and listeners.
// The outbox accepts any kind string; these are the built-in producers.
const (
	KindSLABreach   = "sla_breach"
	KindGateVerdict = "gate_verdict"
)

// NotificationRecord is the GORM model for an outbox row.
type NotificationRecord struct {
	ID             string            `gorm:"primaryKey;type:varchar(36)"`
	Program        string            `gorm:"index:idx_notify_program_state,priority:1;default:default;not null"`
	Kind           string            `gorm:"index:idx_notify_kind_state,priority:1;not null"`
	Recipient      string            `gorm:"index"`
	Subject        string            `gorm:"not null"`
	Body           string
	Payload        audit.JSONAny     `gorm:"type:text"`
	State          NotificationState `gorm:"index:idx_notify_program_state,priority:2;index:idx_notify_kind_state,priority:2;index:idx_notify_state;not null;default:queued"`
	EnqueuedBy     string
	EnqueuedAt     time.Time `gorm:"not null"`
	StartedAt      *time.Time
	FinishedAt     *time.Time
	DeliveredAt    *time.Time
	AttemptCount   int `gorm:"default:0"`
	LastError      string
	IdempotencyKey string `gorm:"uniqueIndex:idx_notify_idemp_key"`
}

// TableName returns the GORM table name.
func (NotificationRecord) TableName() string { return "notifications" }

// IsTerminal reports whether the notification has reached a final state.
func (n *NotificationRecord) IsTerminal() bool {
	switch n.State {
	case StateDelivered, StateFailed, StateCanceled:
		return true
	}
	return false
}

// Notification is the API view of an outbox row.
type Notification struct {
	ID             string            `json:"id"`
	Program        string            `json:"program"`
	Kind           string            `json:"kind"`
	Recipient      string            `json:"recipient,omitempty"`
	Subject        string            `json:"subject"`
	Body           string            `json:"body,omitempty"`
	Payload        audit.JSONAny     `json:"payload,omitempty"`
	State          NotificationState `json:"state"`
	EnqueuedBy     string            `json:"enqueuedBy,omitempty"`
	EnqueuedAt     time.Time         `json:"enqueuedAt"`
	StartedAt      *time.Time        `json:"startedAt,omitempty"`
	FinishedAt     *time.Time        `json:"finishedAt,omitempty"`
	DeliveredAt    *time.Time        `json:"deliveredAt,omitempty"`
	AttemptCount   int               `json:"attemptCount"`
	LastError      string            `json:"lastError,omitempty"`
	IdempotencyKey string            `json:"idempotencyKey,omitempty"`
}

// NotificationList is a paginated page of notifications.
type NotificationList struct {
	Items         []Notification `json:"items"`
	TotalSize     int64          `json:"totalSize"`
	NextPageToken string         `json:"nextPageToken,omitempty"`
}

func recordToNotification(rec *NotificationRecord) Notification {
	return Notification{
		ID:             rec.ID,
		Program:        rec.Program,
		Kind:           rec.Kind,
		Recipient:      rec.Recipient,
		Subject:        rec.Subject,
		Body:           rec.Body,
		Payload:        rec.Payload,
		State:          rec.State,
		EnqueuedBy:     rec.EnqueuedBy,
		EnqueuedAt:     rec.EnqueuedAt,
		StartedAt:      rec.StartedAt,
		FinishedAt:     rec.FinishedAt,
		DeliveredAt:    rec.DeliveredAt,
		AttemptCount:   rec.AttemptCount,
		LastError:      rec.LastError,
		IdempotencyKey: rec.IdempotencyKey,
	}
}
