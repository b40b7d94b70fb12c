// Package audit provides an append-only audit trail for the testhub server.
// Every state-changing operation (execution recording, defect transitions,
// gate evaluations, sign-offs) produces an immutable audit event, either
// written transactionally by the feature stores or captured by the HTTP
// middleware for management endpoints.
package audit

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// JSONStringSlice is a custom GORM type for []string stored as JSON.
type JSONStringSlice []string

// Scan implements the sql.Scanner interface for JSONStringSlice.
func (s *JSONStringSlice) Scan(value any) error {
	if value == nil {
		*s = nil
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case string:
		bytes = []byte(v)
	case []byte:
		bytes = v
	default:
		return fmt.Errorf("unsupported type for JSONStringSlice: %T", value)
	}
	return json.Unmarshal(bytes, s)
}

// Value implements the driver.Valuer interface for JSONStringSlice.
func (s JSONStringSlice) Value() (driver.Value, error) {
	if s == nil {
		return nil, nil
	}
	b, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// JSONAny is a custom GORM type for map[string]any stored as JSON.
type JSONAny map[string]any

// Scan implements the sql.Scanner interface for JSONAny.
func (m *JSONAny) Scan(value any) error {
	if value == nil {
		*m = nil
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case string:
		bytes = []byte(v)
	case []byte:
		bytes = v
	default:
		return fmt.Errorf("unsupported type for JSONAny: %T", value)
	}
	return json.Unmarshal(bytes, m)
}

// Value implements the driver.Valuer interface for JSONAny.
func (m JSONAny) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Event types recorded in the audit trail.
const (
	EventTypeManagement   = "management"
	EventTypeTransition   = "transition"
	EventTypeExecution    = "execution"
	EventTypeEvaluation   = "evaluation"
	EventTypeNotification = "notification"
)

// Outcome values for audit events.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeDenied  = "denied"
)

// Event is an immutable audit trail entry. Events are append-only:
// nothing in the server updates or deletes them except the retention worker.
type Event struct {
	ID            string    `gorm:"primaryKey;column:id;type:varchar(36)"`
	Program       string    `gorm:"column:program;index:idx_audit_program_time,priority:1;default:default;not null"`
	CorrelationID string    `gorm:"column:correlation_id;index"`
	RequestID     string    `gorm:"column:request_id;index"`
	EventType     string    `gorm:"column:event_type;index:idx_audit_type_time,priority:1;not null"`
	Actor         string    `gorm:"column:actor;index:idx_audit_actor_time,priority:1;not null"`
	ResourceType  string    `gorm:"column:resource_type;index:idx_audit_resource,priority:1"`
	ResourceID    string    `gorm:"column:resource_id;index:idx_audit_resource,priority:2"`
	ResourceIDs   JSONStringSlice `gorm:"column:resource_ids;type:text"`
	Action        string    `gorm:"column:action"`
	Outcome       string    `gorm:"column:outcome;not null"`
	StatusCode    int       `gorm:"column:status_code"`
	Reason        string    `gorm:"column:reason"`
	OldValue      JSONAny   `gorm:"column:old_value;type:text"`
	NewValue      JSONAny   `gorm:"column:new_value;type:text"`
	EventMetadata JSONAny   `gorm:"column:metadata;type:text"`
	CreatedAt     time.Time `gorm:"column:created_at;index:idx_audit_type_time,priority:2;index:idx_audit_actor_time,priority:2;index:idx_audit_program_time,priority:2;autoCreateTime"`
}

// TableName returns the GORM table name.
func (Event) TableName() string { return "audit_events" }
