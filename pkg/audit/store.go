package audit

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// Store provides append-only operations for audit events.
type Store struct {
	db *gorm.DB
}

// NewStore creates a new Store.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// AutoMigrate creates or updates the audit_events table.
func (s *Store) AutoMigrate() error {
	return s.db.AutoMigrate(&Event{})
}

// Append creates a new immutable audit event.
func (s *Store) Append(event *Event) error {
	return AppendTx(s.db, event)
}

// AppendTx creates a new immutable audit event within the given transaction.
// Feature stores use this to record audit events atomically with the state
// change they describe.
func AppendTx(tx *gorm.DB, event *Event) error {
	if err := tx.Create(event).Error; err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	return nil
}

// ListFilter narrows ListFiltered results. Zero-valued fields are ignored.
type ListFilter struct {
	Program      string
	Actor        string
	EventType    string
	ResourceType string
	ResourceID   string
	Action       string
	Outcome      string
}

func (f ListFilter) apply(q *gorm.DB) *gorm.DB {
	if f.Program != "" {
		q = q.Where("program = ?", f.Program)
	}
	if f.Actor != "" {
		q = q.Where("actor = ?", f.Actor)
	}
	if f.EventType != "" {
		q = q.Where("event_type = ?", f.EventType)
	}
	if f.ResourceType != "" {
		q = q.Where("resource_type = ?", f.ResourceType)
	}
	if f.ResourceID != "" {
		q = q.Where("resource_id = ?", f.ResourceID)
	}
	if f.Action != "" {
		q = q.Where("action = ?", f.Action)
	}
	if f.Outcome != "" {
		q = q.Where("outcome = ?", f.Outcome)
	}
	return q
}

// ListFiltered returns paginated audit events matching the filter,
// ordered by created_at DESC (newest first).
// pageToken is an RFC3339 timestamp; events with created_at < pageToken are returned.
func (s *Store) ListFiltered(filter ListFilter, pageSize int, pageToken string) ([]Event, string, int, error) {
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}

	var totalSize int64
	if err := filter.apply(s.db.Model(&Event{})).Count(&totalSize).Error; err != nil {
		return nil, "", 0, fmt.Errorf("count audit events: %w", err)
	}

	query := filter.apply(s.db).Order("created_at DESC").Limit(pageSize + 1)
	if pageToken != "" {
		t, err := time.Parse(time.RFC3339Nano, pageToken)
		if err != nil {
			return nil, "", 0, fmt.Errorf("invalid page token: %w", err)
		}
		query = query.Where("created_at < ?", t)
	}

	var records []Event
	if err := query.Find(&records).Error; err != nil {
		return nil, "", 0, fmt.Errorf("list audit events: %w", err)
	}

	var nextToken string
	if len(records) > pageSize {
		nextToken = records[pageSize-1].CreatedAt.Format(time.RFC3339Nano)
		records = records[:pageSize]
	}

	return records, nextToken, int(totalSize), nil
}

// ListByResource returns paginated audit events for a specific resource,
// ordered by created_at DESC. Used for per-defect and per-gate history views.
func (s *Store) ListByResource(resourceType, resourceID string, pageSize int, pageToken string) ([]Event, string, int, error) {
	return s.ListFiltered(ListFilter{ResourceType: resourceType, ResourceID: resourceID}, pageSize, pageToken)
}

// GetByID returns a single audit event, or nil if it does not exist.
func (s *Store) GetByID(id string) (*Event, error) {
	var event Event
	if err := s.db.Where("id = ?", id).First(&event).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get audit event: %w", err)
	}
	return &event, nil
}

// DeleteOlderThan deletes audit events created before the given cutoff time.
// Returns the number of deleted records.
func (s *Store) DeleteOlderThan(cutoff time.Time) (int64, error) {
	result := s.db.Where("created_at < ?", cutoff).Delete(&Event{})
	if result.Error != nil {
		return 0, fmt.Errorf("delete old audit events: %w", result.Error)
	}
	return result.RowsAffected, nil
}
