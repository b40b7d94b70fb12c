package notify

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Store provides database operations for the notification outbox.
type Store struct {
	db *gorm.DB
}

// NewStore creates a new Store.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// AutoMigrate creates or updates the notifications table.
func (s *Store) AutoMigrate() error {
	return s.db.AutoMigrate(&NotificationRecord{})
}

// ListFilter defines filters for listing notifications.
type ListFilter struct {
	Kind      string
	State     string
	Recipient string
}

// Enqueue inserts a queued notification. If the record carries an
// idempotency key and a non-terminal notification with the same key exists,
// the existing row is returned instead of creating a duplicate. Safe for
// concurrent use.
func (s *Store) Enqueue(rec *NotificationRecord) (*NotificationRecord, error) {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.Program == "" {
		rec.Program = "default"
	}
	if rec.State == "" {
		rec.State = StateQueued
	}
	if rec.EnqueuedAt.IsZero() {
		rec.EnqueuedAt = time.Now().UTC()
	}

	if rec.IdempotencyKey == "" {
		// Self-keyed rows cannot collide; skip the transaction.
		rec.IdempotencyKey = rec.ID
		if err := s.db.Create(rec).Error; err != nil {
			return nil, fmt.Errorf("enqueue notification: %w", err)
		}
		return rec, nil
	}

	var result *NotificationRecord
	err := s.db.Transaction(func(tx *gorm.DB) error {
		// Check for an existing non-terminal notification with this key.
		var existing NotificationRecord
		err := tx.Where("idempotency_key = ? AND state IN ?", rec.IdempotencyKey,
			[]NotificationState{StateQueued, StateSending}).First(&existing).Error
		if err == nil {
			result = &existing
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("check idempotency key: %w", err)
		}

		// Retire the key on terminal rows by replacing it with each row's own
		// ID. Clearing to the empty string would make the second retired row
		// collide with the first on the unique index.
		tx.Model(&NotificationRecord{}).
			Where("idempotency_key = ? AND state IN ?", rec.IdempotencyKey,
				[]NotificationState{StateDelivered, StateFailed, StateCanceled}).
			Update("idempotency_key", gorm.Expr("id"))

		if err := tx.Create(rec).Error; err != nil {
			// Another transaction may have created the row between the check
			// and the insert. Return the winner.
			var raceExisting NotificationRecord
			lookupErr := s.db.Where("idempotency_key = ? AND state IN ?", rec.IdempotencyKey,
				[]NotificationState{StateQueued, StateSending}).First(&raceExisting).Error
			if lookupErr == nil {
				result = &raceExisting
				return nil
			}
			return fmt.Errorf("enqueue notification: %w", err)
		}
		result = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Claim atomically picks a queued notification and transitions it to
// sending. Uses FOR UPDATE SKIP LOCKED where supported (PostgreSQL).
// Returns nil if nothing is waiting.
func (s *Store) Claim(maxRetries int) (*NotificationRecord, error) {
	var rec NotificationRecord

	err := s.db.Transaction(func(tx *gorm.DB) error {
		// Attempt FOR UPDATE SKIP LOCKED (PostgreSQL). For SQLite or other
		// databases that don't support it, fall back to a plain SELECT.
		result := tx.Raw(`
			SELECT * FROM notifications
			WHERE state = ? AND attempt_count <= ?
			ORDER BY enqueued_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		`, StateQueued, maxRetries).Scan(&rec)

		if result.Error != nil {
			result = tx.Where("state = ? AND attempt_count <= ?", StateQueued, maxRetries).
				Order("enqueued_at ASC").
				Limit(1).
				First(&rec)
			if result.Error != nil {
				if errors.Is(result.Error, gorm.ErrRecordNotFound) {
					return nil
				}
				return result.Error
			}
		}

		if rec.ID == "" {
			return nil
		}

		now := time.Now()
		return tx.Model(&NotificationRecord{}).Where("id = ? AND state = ?", rec.ID, StateQueued).
			Updates(map[string]any{
				"state":         StateSending,
				"started_at":    now,
				"attempt_count": gorm.Expr("attempt_count + 1"),
			}).Error
	})

	if err != nil {
		return nil, fmt.Errorf("claim notification: %w", err)
	}

	if rec.ID == "" {
		return nil, nil
	}

	// Reload to get the updated values.
	if err := s.db.First(&rec, "id = ?", rec.ID).Error; err != nil {
		return nil, fmt.Errorf("reload claimed notification: %w", err)
	}

	return &rec, nil
}

// Delivered marks a notification as delivered.
func (s *Store) Delivered(id string) error {
	now := time.Now()
	result := s.db.Model(&NotificationRecord{}).Where("id = ?", id).Updates(map[string]any{
		"state":        StateDelivered,
		"delivered_at": now,
		"finished_at":  now,
		"last_error":   "",
	})
	if result.Error != nil {
		return fmt.Errorf("mark delivered: %w", result.Error)
	}
	return nil
}

// Fail records a delivery failure. If the attempt count is within
// maxRetries the notification is re-queued, otherwise it goes terminal.
func (s *Store) Fail(id string, errMsg string, maxRetries int) error {
	now := time.Now()

	var rec NotificationRecord
	if err := s.db.First(&rec, "id = ?", id).Error; err != nil {
		return fmt.Errorf("load notification for fail: %w", err)
	}

	updates := map[string]any{
		"last_error":  errMsg,
		"finished_at": now,
	}

	if rec.AttemptCount < maxRetries {
		// Re-queue for retry.
		updates["state"] = StateQueued
		updates["started_at"] = nil
		updates["finished_at"] = nil
	} else {
		updates["state"] = StateFailed
		updates["last_error"] = "Max retries exceeded: " + errMsg
	}

	result := s.db.Model(&NotificationRecord{}).Where("id = ?", id).Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("fail notification: %w", result.Error)
	}
	return nil
}

// Cancel marks a queued notification as canceled. Notifications already
// being sent cannot be canceled.
func (s *Store) Cancel(program, id string) error {
	now := time.Now()
	result := s.db.Model(&NotificationRecord{}).
		Where("program = ? AND id = ? AND state = ?", program, id, StateQueued).
		Updates(map[string]any{
			"state":       StateCanceled,
			"finished_at": now,
		})
	if result.Error != nil {
		return fmt.Errorf("cancel notification: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		var rec NotificationRecord
		if err := s.db.Where("program = ? AND id = ?", program, id).First(&rec).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return &NotFoundError{ID: id}
			}
			return fmt.Errorf("check notification: %w", err)
		}
		return &StateError{ID: id, State: rec.State, Message: "only queued notifications can be canceled"}
	}
	return nil
}

// Retry re-queues a failed or canceled notification with a fresh attempt
// budget.
func (s *Store) Retry(program, id string) (*NotificationRecord, error) {
	var rec NotificationRecord
	if err := s.db.Where("program = ? AND id = ?", program, id).First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &NotFoundError{ID: id}
		}
		return nil, fmt.Errorf("load notification for retry: %w", err)
	}

	switch rec.State {
	case StateFailed, StateCanceled:
	case StateDelivered:
		return nil, &StateError{ID: id, State: rec.State, Message: "already delivered"}
	default:
		return nil, &StateError{ID: id, State: rec.State, Message: "delivery is still in progress"}
	}

	err := s.db.Model(&NotificationRecord{}).Where("id = ?", id).Updates(map[string]any{
		"state":         StateQueued,
		"attempt_count": 0,
		"last_error":    "",
		"started_at":    nil,
		"finished_at":   nil,
		"delivered_at":  nil,
	}).Error
	if err != nil {
		return nil, fmt.Errorf("retry notification: %w", err)
	}

	if err := s.db.First(&rec, "id = ?", id).Error; err != nil {
		return nil, fmt.Errorf("reload retried notification: %w", err)
	}
	return &rec, nil
}

// GetByIdempotencyKey retrieves the notification currently holding the
// given key, in any state. Returns nil if no row holds it. Producers use
// this to decide whether a fact has already been pushed out.
func (s *Store) GetByIdempotencyKey(key string) (*NotificationRecord, error) {
	var rec NotificationRecord
	if err := s.db.Where("idempotency_key = ?", key).First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get notification by key: %w", err)
	}
	return &rec, nil
}

// Get retrieves a notification by ID within a program. Returns nil if not
// found.
func (s *Store) Get(program, id string) (*NotificationRecord, error) {
	var rec NotificationRecord
	if err := s.db.Where("program = ? AND id = ?", program, id).First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get notification: %w", err)
	}
	return &rec, nil
}

// List returns paginated notifications matching the given filter, newest
// first.
func (s *Store) List(program string, filter ListFilter, pageSize int, pageToken string) ([]NotificationRecord, string, int, error) {
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}

	buildQuery := func(base *gorm.DB) *gorm.DB {
		q := base.Model(&NotificationRecord{}).Where("program = ?", program)
		if filter.Kind != "" {
			q = q.Where("kind = ?", filter.Kind)
		}
		if filter.State != "" {
			q = q.Where("state = ?", filter.State)
		}
		if filter.Recipient != "" {
			q = q.Where("recipient = ?", filter.Recipient)
		}
		return q
	}

	var totalSize int64
	if err := buildQuery(s.db).Count(&totalSize).Error; err != nil {
		return nil, "", 0, fmt.Errorf("count notifications: %w", err)
	}

	query := buildQuery(s.db).Order("enqueued_at DESC").Limit(pageSize + 1)
	if pageToken != "" {
		t, err := time.Parse(time.RFC3339Nano, pageToken)
		if err != nil {
			return nil, "", 0, fmt.Errorf("invalid page token: %w", err)
		}
		query = query.Where("enqueued_at < ?", t)
	}

	var records []NotificationRecord
	if err := query.Find(&records).Error; err != nil {
		return nil, "", 0, fmt.Errorf("list notifications: %w", err)
	}

	var nextToken string
	if len(records) > pageSize {
		nextToken = records[pageSize-1].EnqueuedAt.Format(time.RFC3339Nano)
		records = records[:pageSize]
	}

	return records, nextToken, int(totalSize), nil
}

// RecoverStuck re-queues notifications stuck in sending (started_at older
// than claimTimeout), e.g. after a worker crash mid-delivery.
func (s *Store) RecoverStuck(claimTimeout time.Duration) (int64, error) {
	cutoff := time.Now().Add(-claimTimeout)
	result := s.db.Model(&NotificationRecord{}).
		Where("state = ? AND started_at < ?", StateSending, cutoff).
		Updates(map[string]any{
			"state":      StateQueued,
			"started_at": nil,
			"last_error": "Timed out (stuck delivery recovery)",
		})
	if result.Error != nil {
		return 0, fmt.Errorf("recover stuck notifications: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// DeleteOlderThan removes terminal notifications older than the given
// cutoff.
func (s *Store) DeleteOlderThan(cutoff time.Time) (int64, error) {
	result := s.db.Where("state IN ? AND finished_at < ?",
		[]NotificationState{StateDelivered, StateFailed, StateCanceled}, cutoff).
		Delete(&NotificationRecord{})
	if result.Error != nil {
		return 0, fmt.Errorf("delete old notifications: %w", result.Error)
	}
	return result.RowsAffected, nil
}
