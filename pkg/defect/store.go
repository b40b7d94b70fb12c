package defect

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/umutsoyyilmaz/SAP-Transformation-Platform-sub009/pkg/audit"
)

// Store provides persistence for defects, their links, and their transition
// history.
type Store struct {
	db *gorm.DB
}

// NewStore creates a new Store.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// AutoMigrate creates or updates the defect tables.
func (s *Store) AutoMigrate() error {
	if err := s.db.AutoMigrate(&DefectRecord{}); err != nil {
		return fmt.Errorf("auto-migrate defects: %w", err)
	}
	if err := s.db.AutoMigrate(&DefectLinkRecord{}); err != nil {
		return fmt.Errorf("auto-migrate defect_links: %w", err)
	}
	if err := s.db.AutoMigrate(&TransitionRecord{}); err != nil {
		return fmt.Errorf("auto-migrate defect_transitions: %w", err)
	}
	return nil
}

// Create inserts a new defect and its audit event in one transaction.
func (s *Store) Create(rec *DefectRecord, event *audit.Event) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(rec).Error; err != nil {
			return fmt.Errorf("create defect: %w", err)
		}
		if event != nil {
			return audit.AppendTx(tx, event)
		}
		return nil
	})
}

// Get retrieves a defect by ID within a program.
// Returns nil, nil if no defect exists.
func (s *Store) Get(program, id string) (*DefectRecord, error) {
	var rec DefectRecord
	err := s.db.Where("program = ? AND id = ?", program, id).First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get defect: %w", err)
	}
	return &rec, nil
}

// ListFilter narrows List results. Zero-valued fields are ignored.
type ListFilter struct {
	Status     string
	Severity   string
	Priority   string
	AssignedTo string
	RunID      string
	TestCaseID string
	OpenOnly   bool
}

func (f ListFilter) apply(q *gorm.DB) *gorm.DB {
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.Severity != "" {
		q = q.Where("severity = ?", f.Severity)
	}
	if f.Priority != "" {
		q = q.Where("priority = ?", f.Priority)
	}
	if f.AssignedTo != "" {
		q = q.Where("assigned_to = ?", f.AssignedTo)
	}
	if f.RunID != "" {
		q = q.Where("run_id = ?", f.RunID)
	}
	if f.TestCaseID != "" {
		q = q.Where("test_case_id = ?", f.TestCaseID)
	}
	if f.OpenOnly {
		q = q.Where("status NOT IN ?", []string{string(StatusClosed), string(StatusRejected), string(StatusDeferred)})
	}
	return q
}

// List returns paginated defects matching the filter, ordered by created_at
// DESC (newest first). pageToken is an RFC3339 timestamp; defects created
// before it are returned.
func (s *Store) List(program string, filter ListFilter, pageSize int, pageToken string) ([]DefectRecord, string, int, error) {
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}

	base := s.db.Model(&DefectRecord{}).Where("program = ?", program)
	var totalSize int64
	if err := filter.apply(base).Count(&totalSize).Error; err != nil {
		return nil, "", 0, fmt.Errorf("count defects: %w", err)
	}

	query := filter.apply(s.db.Where("program = ?", program)).
		Order("created_at DESC").
		Limit(pageSize + 1)
	if pageToken != "" {
		t, err := time.Parse(time.RFC3339Nano, pageToken)
		if err != nil {
			return nil, "", 0, fmt.Errorf("invalid page token: %w", err)
		}
		query = query.Where("created_at < ?", t)
	}

	var records []DefectRecord
	if err := query.Find(&records).Error; err != nil {
		return nil, "", 0, fmt.Errorf("list defects: %w", err)
	}

	var nextToken string
	if len(records) > pageSize {
		nextToken = records[pageSize-1].CreatedAt.Format(time.RFC3339Nano)
		records = records[:pageSize]
	}

	return records, nextToken, int(totalSize), nil
}

// ApplyTransition writes a state transition with optimistic concurrency: the
// update only lands if the row still carries expectedVersion, and the version
// is bumped in the same statement. A stale write affects zero rows and
// surfaces as ConcurrentModificationError — it is never applied. The
// transition history row and audit event commit atomically with the update.
func (s *Store) ApplyTransition(defectID string, expectedVersion int, updates map[string]any, transition *TransitionRecord, event *audit.Event) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		updates["version"] = expectedVersion + 1
		result := tx.Model(&DefectRecord{}).
			Where("id = ? AND version = ?", defectID, expectedVersion).
			Updates(updates)
		if result.Error != nil {
			return fmt.Errorf("apply transition: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return &ConcurrentModificationError{DefectID: defectID, ExpectedVersion: expectedVersion}
		}
		if transition != nil {
			if err := tx.Create(transition).Error; err != nil {
				return fmt.Errorf("append transition history: %w", err)
			}
		}
		if event != nil {
			return audit.AppendTx(tx, event)
		}
		return nil
	})
}

// Update writes re-triage field changes with the same optimistic concurrency
// contract as ApplyTransition, without a transition history row.
func (s *Store) Update(defectID string, expectedVersion int, updates map[string]any, event *audit.Event) error {
	return s.ApplyTransition(defectID, expectedVersion, updates, nil, event)
}

// ListTransitions returns a defect's transition history in chronological
// order.
func (s *Store) ListTransitions(program, defectID string) ([]TransitionRecord, error) {
	var records []TransitionRecord
	err := s.db.Where("program = ? AND defect_id = ?", program, defectID).
		Order("created_at ASC").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("list defect transitions: %w", err)
	}
	return records, nil
}

// CreateLink inserts a typed link after running the cycle check for
// duplicate_of/caused_by inside the same transaction, so two racing link
// creations cannot close a cycle between them.
func (s *Store) CreateLink(link *DefectLinkRecord, event *audit.Event) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var existing int64
		err := tx.Model(&DefectLinkRecord{}).
			Where("source_id = ? AND link_type = ? AND target_type = ? AND target_id = ?",
				link.SourceID, link.LinkType, link.TargetType, link.TargetID).
			Count(&existing).Error
		if err != nil {
			return fmt.Errorf("check existing link: %w", err)
		}
		if existing > 0 {
			return &ValidationError{Field: "type", Message: "link already exists"}
		}

		linkType := LinkType(link.LinkType)
		if cycleChecked(linkType) {
			adjacency, err := linkAdjacency(tx, link.Program, link.LinkType)
			if err != nil {
				return err
			}
			if wouldCreateCycle(adjacency, link.SourceID, link.TargetID) {
				return &CycleDetectedError{
					LinkType: linkType,
					SourceID: link.SourceID,
					TargetID: link.TargetID,
				}
			}
		}

		if err := tx.Create(link).Error; err != nil {
			return fmt.Errorf("create defect link: %w", err)
		}
		if event != nil {
			return audit.AppendTx(tx, event)
		}
		return nil
	})
}

// linkAdjacency loads the defect-to-defect subgraph for one link type as a
// source -> targets adjacency map.
func linkAdjacency(tx *gorm.DB, program, linkType string) (map[string][]string, error) {
	var links []DefectLinkRecord
	err := tx.Where("program = ? AND link_type = ? AND target_type = ?", program, linkType, LinkTargetDefect).
		Find(&links).Error
	if err != nil {
		return nil, fmt.Errorf("load link graph: %w", err)
	}
	adjacency := make(map[string][]string, len(links))
	for _, l := range links {
		adjacency[l.SourceID] = append(adjacency[l.SourceID], l.TargetID)
	}
	return adjacency, nil
}

// GetLink retrieves a link by ID within a program.
// Returns nil, nil if no link exists.
func (s *Store) GetLink(program, linkID string) (*DefectLinkRecord, error) {
	var rec DefectLinkRecord
	err := s.db.Where("program = ? AND id = ?", program, linkID).First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get defect link: %w", err)
	}
	return &rec, nil
}

// DeleteLink removes a link. Returns false if the link did not exist.
func (s *Store) DeleteLink(program, linkID string, event *audit.Event) (bool, error) {
	var deleted bool
	err := s.db.Transaction(func(tx *gorm.DB) error {
		result := tx.Where("program = ? AND id = ?", program, linkID).Delete(&DefectLinkRecord{})
		if result.Error != nil {
			return fmt.Errorf("delete defect link: %w", result.Error)
		}
		deleted = result.RowsAffected > 0
		if deleted && event != nil {
			return audit.AppendTx(tx, event)
		}
		return nil
	})
	return deleted, err
}

// ListLinks returns every link a defect participates in, either as source or
// as a defect-typed target.
func (s *Store) ListLinks(program, defectID string) ([]DefectLinkRecord, error) {
	var links []DefectLinkRecord
	err := s.db.
		Where("program = ?", program).
		Where(
			s.db.Where("source_id = ?", defectID).
				Or("target_type = ? AND target_id = ?", LinkTargetDefect, defectID),
		).
		Order("created_at ASC").
		Find(&links).Error
	if err != nil {
		return nil, fmt.Errorf("list defect links: %w", err)
	}
	return links, nil
}

// OpenDefectCount counts open defects, optionally restricted to the given
// severities. Closed, rejected, and deferred defects are not open.
func (s *Store) OpenDefectCount(program string, severities []string) (int64, error) {
	q := s.db.Model(&DefectRecord{}).
		Where("program = ?", program).
		Where("status NOT IN ?", []string{string(StatusClosed), string(StatusRejected), string(StatusDeferred)})
	if len(severities) > 0 {
		q = q.Where("severity IN ?", severities)
	}
	var count int64
	if err := q.Count(&count).Error; err != nil {
		return 0, fmt.Errorf("count open defects: %w", err)
	}
	return count, nil
}

// BlockingDefects returns defects holding an active blocks link against the
// given gate target. A blocks link is active until its defect is CLOSED or
// REJECTED; a deferred defect still blocks, since deferring a defect is not
// the same as clearing the gate it holds up.
func (s *Store) BlockingDefects(program, entityType, entityID string) ([]DefectRecord, error) {
	var records []DefectRecord
	err := s.db.Model(&DefectRecord{}).
		Joins("JOIN defect_links ON defect_links.source_id = defects.id").
		Where("defect_links.program = ? AND defect_links.link_type = ? AND defect_links.target_type = ? AND defect_links.target_id = ?",
			program, string(LinkBlocks), entityType, entityID).
		Where("defects.program = ?", program).
		Where("defects.status NOT IN ?", []string{string(StatusClosed), string(StatusRejected)}).
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("list blocking defects: %w", err)
	}
	return records, nil
}

// BreachCandidates returns assigned or in-progress defects whose SLA deadline
// has passed at the given instant. The SLA breach scanner polls this; breach
// itself is always recomputed from the pure SLA function.
func (s *Store) BreachCandidates(now time.Time) ([]DefectRecord, error) {
	var records []DefectRecord
	err := s.db.
		Where("status IN ?", []string{string(StatusAssigned), string(StatusInProgress)}).
		Where("sla_deadline IS NOT NULL AND sla_deadline < ?", now).
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("list SLA breach candidates: %w", err)
	}
	return records, nil
}
