package gate

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/umutsoyyilmaz/SAP-Transformation-Platform-sub009/pkg/audit"
)

// Store provides persistence for gate criteria, evaluation history, verdicts,
// sign-offs, and coverage marks.
type Store struct {
	db *gorm.DB
}

// NewStore creates a new Store.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// AutoMigrate creates or updates the gate tables.
func (s *Store) AutoMigrate() error {
	for _, model := range []any{
		&CriterionRecord{},
		&EvaluationRecord{},
		&VerdictRecord{},
		&SignoffRecord{},
		&CoverageMarkRecord{},
	} {
		if err := s.db.AutoMigrate(model); err != nil {
			return fmt.Errorf("auto-migrate gate tables: %w", err)
		}
	}
	return nil
}

// CreateCriterion inserts a new criterion and its audit event in one
// transaction.
func (s *Store) CreateCriterion(rec *CriterionRecord, event *audit.Event) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(rec).Error; err != nil {
			return fmt.Errorf("create criterion: %w", err)
		}
		if event != nil {
			return audit.AppendTx(tx, event)
		}
		return nil
	})
}

// GetCriterion retrieves a criterion by ID within a program.
// Returns nil, nil if no criterion exists.
func (s *Store) GetCriterion(program, id string) (*CriterionRecord, error) {
	var rec CriterionRecord
	err := s.db.Where("program = ? AND id = ?", program, id).First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get criterion: %w", err)
	}
	return &rec, nil
}

// CriterionFilter narrows ListCriteria results. Zero-valued fields are
// ignored.
type CriterionFilter struct {
	GateType   string
	Kind       string
	ActiveOnly bool
}

// ListCriteria returns criteria for a program in creation order.
func (s *Store) ListCriteria(program string, filter CriterionFilter) ([]CriterionRecord, error) {
	q := s.db.Where("program = ?", program)
	if filter.GateType != "" {
		q = q.Where("gate_type = ?", filter.GateType)
	}
	if filter.Kind != "" {
		q = q.Where("kind = ?", filter.Kind)
	}
	if filter.ActiveOnly {
		q = q.Where("active = ?", true)
	}
	var records []CriterionRecord
	if err := q.Order("created_at ASC").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("list criteria: %w", err)
	}
	return records, nil
}

// UpdateCriterion applies a partial update and writes the audit event in one
// transaction. Returns false when no criterion matched.
func (s *Store) UpdateCriterion(program, id string, updates map[string]any, event *audit.Event) (bool, error) {
	var found bool
	err := s.db.Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&CriterionRecord{}).
			Where("program = ? AND id = ?", program, id).
			Updates(updates)
		if result.Error != nil {
			return fmt.Errorf("update criterion: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return nil
		}
		found = true
		if event != nil {
			return audit.AppendTx(tx, event)
		}
		return nil
	})
	return found, err
}

// DeleteCriterion removes a criterion and writes the audit event in one
// transaction. Returns false when no criterion matched. Past evaluation rows
// referencing the criterion are history and stay untouched.
func (s *Store) DeleteCriterion(program, id string, event *audit.Event) (bool, error) {
	var found bool
	err := s.db.Transaction(func(tx *gorm.DB) error {
		result := tx.Where("program = ? AND id = ?", program, id).Delete(&CriterionRecord{})
		if result.Error != nil {
			return fmt.Errorf("delete criterion: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return nil
		}
		found = true
		if event != nil {
			return audit.AppendTx(tx, event)
		}
		return nil
	})
	return found, err
}

// AppendEvaluation writes one evaluation group atomically: the verdict row,
// every criterion row, and the audit event. Nothing here updates prior rows;
// evaluation history is append-only by construction.
func (s *Store) AppendEvaluation(verdict *VerdictRecord, rows []EvaluationRecord, event *audit.Event) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(verdict).Error; err != nil {
			return fmt.Errorf("append verdict: %w", err)
		}
		if len(rows) > 0 {
			if err := tx.Create(&rows).Error; err != nil {
				return fmt.Errorf("append evaluation rows: %w", err)
			}
		}
		if event != nil {
			return audit.AppendTx(tx, event)
		}
		return nil
	})
}

// ListEvaluations returns paginated evaluation rows for a target, newest
// first. pageToken is an RFC3339 timestamp; rows created before it are
// returned.
func (s *Store) ListEvaluations(program, entityType, entityID string, pageSize int, pageToken string) ([]EvaluationRecord, string, int64, error) {
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}

	scope := func(q *gorm.DB) *gorm.DB {
		return q.Where("program = ? AND entity_type = ? AND entity_id = ?", program, entityType, entityID)
	}

	var totalSize int64
	if err := scope(s.db.Model(&EvaluationRecord{})).Count(&totalSize).Error; err != nil {
		return nil, "", 0, fmt.Errorf("count evaluations: %w", err)
	}

	query := scope(s.db).Order("created_at DESC").Limit(pageSize + 1)
	if pageToken != "" {
		t, err := time.Parse(time.RFC3339Nano, pageToken)
		if err != nil {
			return nil, "", 0, fmt.Errorf("invalid page token: %w", err)
		}
		query = query.Where("created_at < ?", t)
	}

	var records []EvaluationRecord
	if err := query.Find(&records).Error; err != nil {
		return nil, "", 0, fmt.Errorf("list evaluations: %w", err)
	}

	var nextToken string
	if len(records) > pageSize {
		nextToken = records[pageSize-1].CreatedAt.Format(time.RFC3339Nano)
		records = records[:pageSize]
	}

	return records, nextToken, totalSize, nil
}

// LatestVerdict returns the most recent verdict for a target.
// Returns nil, nil when the target has never been evaluated.
func (s *Store) LatestVerdict(program, entityType, entityID string) (*VerdictRecord, error) {
	var rec VerdictRecord
	err := s.db.
		Where("program = ? AND entity_type = ? AND entity_id = ?", program, entityType, entityID).
		Order("created_at DESC").
		First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("latest verdict: %w", err)
	}
	return &rec, nil
}

// GroupEvaluations returns the criterion rows of one evaluation group in
// the order they were scored.
func (s *Store) GroupEvaluations(program, groupID string) ([]EvaluationRecord, error) {
	var records []EvaluationRecord
	err := s.db.
		Where("program = ? AND group_id = ?", program, groupID).
		Order("position ASC").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("group evaluations: %w", err)
	}
	return records, nil
}

// CreateSignoff inserts a sign-off and its audit event in one transaction.
func (s *Store) CreateSignoff(rec *SignoffRecord, event *audit.Event) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(rec).Error; err != nil {
			return fmt.Errorf("create signoff: %w", err)
		}
		if event != nil {
			return audit.AppendTx(tx, event)
		}
		return nil
	})
}

// ListSignoffs returns sign-offs for a target in creation order.
func (s *Store) ListSignoffs(program, entityType, entityID string) ([]SignoffRecord, error) {
	var records []SignoffRecord
	err := s.db.
		Where("program = ? AND entity_type = ? AND entity_id = ?", program, entityType, entityID).
		Order("created_at ASC").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("list signoffs: %w", err)
	}
	return records, nil
}

// SignoffRoles returns the distinct roles that have signed off on a target.
func (s *Store) SignoffRoles(program, entityType, entityID string) ([]string, error) {
	var roles []string
	err := s.db.Model(&SignoffRecord{}).
		Where("program = ? AND entity_type = ? AND entity_id = ?", program, entityType, entityID).
		Distinct("role").
		Pluck("role", &roles).Error
	if err != nil {
		return nil, fmt.Errorf("signoff roles: %w", err)
	}
	return roles, nil
}

// CreateCoverageMark inserts a coverage mark and its audit event in one
// transaction.
func (s *Store) CreateCoverageMark(rec *CoverageMarkRecord, event *audit.Event) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(rec).Error; err != nil {
			return fmt.Errorf("create coverage mark: %w", err)
		}
		if event != nil {
			return audit.AppendTx(tx, event)
		}
		return nil
	})
}

// ListCoverageMarks returns coverage marks for a target in creation order.
func (s *Store) ListCoverageMarks(program, entityType, entityID string) ([]CoverageMarkRecord, error) {
	var records []CoverageMarkRecord
	err := s.db.
		Where("program = ? AND entity_type = ? AND entity_id = ?", program, entityType, entityID).
		Order("created_at ASC").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("list coverage marks: %w", err)
	}
	return records, nil
}

// CoverageStats returns, for a target, how many distinct requirements are
// marked in scope and how many of those have at least one linked execution.
func (s *Store) CoverageStats(program, entityType, entityID string) (covered, total int64, err error) {
	scope := s.db.Model(&CoverageMarkRecord{}).
		Where("program = ? AND entity_type = ? AND entity_id = ?", program, entityType, entityID).
		Session(&gorm.Session{})

	if err = scope.Distinct("requirement_id").Count(&total).Error; err != nil {
		return 0, 0, fmt.Errorf("count requirements in scope: %w", err)
	}
	if err = scope.Where("execution_id <> ''").
		Distinct("requirement_id").
		Count(&covered).Error; err != nil {
		return 0, 0, fmt.Errorf("count covered requirements: %w", err)
	}
	return covered, total, nil
}
