package execution

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"gorm.io/gorm"

	"github.com/umutsoyyilmaz/SAP-Transformation-Platform-sub009/pkg/audit"
)

// Store provides append-only persistence for executions and their step
// results.
type Store struct {
	db *gorm.DB
}

// NewStore creates a new Store.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// AutoMigrate creates or updates the execution tables.
func (s *Store) AutoMigrate() error {
	if err := s.db.AutoMigrate(&ExecutionRecord{}); err != nil {
		return fmt.Errorf("auto-migrate test_executions: %w", err)
	}
	if err := s.db.AutoMigrate(&StepResultRecord{}); err != nil {
		return fmt.Errorf("auto-migrate test_execution_steps: %w", err)
	}
	return nil
}

// Record inserts a new execution with its initial step results in a single
// transaction. The execution number is resolved inside the transaction so
// the history for a (test case, run) pair stays sequential; the unique index
// on (program, test_case_id, run_id, execution_number) backstops concurrent
// writers.
func (s *Store) Record(exec *ExecutionRecord, steps []StepResultRecord, event *audit.Event) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var maxNumber int
		err := tx.Model(&ExecutionRecord{}).
			Where("program = ? AND test_case_id = ? AND run_id = ?", exec.Program, exec.TestCaseID, exec.RunID).
			Select("COALESCE(MAX(execution_number), 0)").
			Scan(&maxNumber).Error
		if err != nil {
			return fmt.Errorf("resolve execution number: %w", err)
		}
		exec.ExecutionNumber = maxNumber + 1

		if err := tx.Create(exec).Error; err != nil {
			return fmt.Errorf("create execution: %w", err)
		}
		for i := range steps {
			steps[i].ExecutionID = exec.ID
		}
		if len(steps) > 0 {
			if err := tx.Create(&steps).Error; err != nil {
				return fmt.Errorf("create step results: %w", err)
			}
		}
		if event != nil {
			return audit.AppendTx(tx, event)
		}
		return nil
	})
}

// AppendSteps adds step results to an existing execution and refreshes its
// aggregated status. The status is recomputed from all persisted steps inside
// the transaction, so concurrent appends cannot leave a stale aggregate.
// Returns the status after the append.
func (s *Store) AppendSteps(executionID string, totalSteps int, steps []StepResultRecord, event *audit.Event) (ExecutionStatus, error) {
	var status ExecutionStatus
	err := s.db.Transaction(func(tx *gorm.DB) error {
		for i := range steps {
			steps[i].ExecutionID = executionID
		}
		if len(steps) > 0 {
			if err := tx.Create(&steps).Error; err != nil {
				return fmt.Errorf("create step results: %w", err)
			}
		}

		var recorded []string
		err := tx.Model(&StepResultRecord{}).
			Where("execution_id = ?", executionID).
			Pluck("outcome", &recorded).Error
		if err != nil {
			return fmt.Errorf("load step outcomes: %w", err)
		}
		outcomes := make([]StepOutcome, len(recorded))
		for i, o := range recorded {
			outcomes[i] = StepOutcome(o)
		}
		status = Aggregate(outcomes, totalSteps)

		err = tx.Model(&ExecutionRecord{}).
			Where("id = ?", executionID).
			Update("status", string(status)).Error
		if err != nil {
			return fmt.Errorf("update execution status: %w", err)
		}
		if event != nil {
			return audit.AppendTx(tx, event)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return status, nil
}

// Get retrieves an execution by ID within a program.
// Returns nil, nil if no execution exists.
func (s *Store) Get(program, id string) (*ExecutionRecord, error) {
	var rec ExecutionRecord
	err := s.db.Where("program = ? AND id = ?", program, id).First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get execution: %w", err)
	}
	return &rec, nil
}

// Steps returns the step results for an execution ordered by step index.
func (s *Store) Steps(executionID string) ([]StepResultRecord, error) {
	var steps []StepResultRecord
	err := s.db.Where("execution_id = ?", executionID).
		Order("step_index ASC").
		Find(&steps).Error
	if err != nil {
		return nil, fmt.Errorf("list step results: %w", err)
	}
	return steps, nil
}

// ListFilter narrows List results. Zero-valued fields are ignored.
type ListFilter struct {
	TestCaseID string
	RunID      string
	Status     string
	ExecutedBy string
	DefectID   string
}

func (f ListFilter) apply(q *gorm.DB) *gorm.DB {
	if f.TestCaseID != "" {
		q = q.Where("test_case_id = ?", f.TestCaseID)
	}
	if f.RunID != "" {
		q = q.Where("run_id = ?", f.RunID)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.ExecutedBy != "" {
		q = q.Where("executed_by = ?", f.ExecutedBy)
	}
	if f.DefectID != "" {
		q = q.Where("defect_id = ?", f.DefectID)
	}
	return q
}

// List returns paginated executions matching the filter, ordered by
// created_at DESC (newest first).
// pageToken is an RFC3339 timestamp; executions recorded before it are
// returned.
func (s *Store) List(program string, filter ListFilter, pageSize int, pageToken string) ([]ExecutionRecord, string, int, error) {
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}

	base := s.db.Model(&ExecutionRecord{}).Where("program = ?", program)
	var totalSize int64
	if err := filter.apply(base).Count(&totalSize).Error; err != nil {
		return nil, "", 0, fmt.Errorf("count executions: %w", err)
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

	var records []ExecutionRecord
	if err := query.Find(&records).Error; err != nil {
		return nil, "", 0, fmt.Errorf("list executions: %w", err)
	}

	var nextToken string
	if len(records) > pageSize {
		nextToken = records[pageSize-1].CreatedAt.Format(time.RFC3339Nano)
		records = records[:pageSize]
	}

	return records, nextToken, int(totalSize), nil
}

// History returns the full execution ledger for a test case within a run,
// newest attempt first. pageToken is the execution number of the last record
// from the previous page; pass "" for the first page.
func (s *Store) History(program, testCaseID, runID string, pageSize int, pageToken string) ([]ExecutionRecord, string, error) {
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}

	query := s.db.
		Where("program = ? AND test_case_id = ? AND run_id = ?", program, testCaseID, runID).
		Order("execution_number DESC").
		Limit(pageSize + 1)
	if pageToken != "" {
		n, err := strconv.Atoi(pageToken)
		if err != nil {
			return nil, "", fmt.Errorf("invalid page token: %w", err)
		}
		query = query.Where("execution_number < ?", n)
	}

	var records []ExecutionRecord
	if err := query.Find(&records).Error; err != nil {
		return nil, "", fmt.Errorf("list execution history: %w", err)
	}

	var nextToken string
	if len(records) > pageSize {
		nextToken = strconv.Itoa(records[pageSize-1].ExecutionNumber)
		records = records[:pageSize]
	}

	return records, nextToken, nil
}

// Latest returns the execution with the highest execution number for a
// (test case, run) pair. Returns nil, nil if the case has never been executed
// in that run.
func (s *Store) Latest(program, testCaseID, runID string) (*ExecutionRecord, error) {
	var rec ExecutionRecord
	err := s.db.
		Where("program = ? AND test_case_id = ? AND run_id = ?", program, testCaseID, runID).
		Order("execution_number DESC").
		First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get latest execution: %w", err)
	}
	return &rec, nil
}

type statusCountRow struct {
	Status string
	Count  int64
}

// LatestStatusCounts rolls up, for every test case executed in the run, the
// status of its latest execution. Superseded attempts do not contribute.
// Release gate criteria are computed from this view.
func (s *Store) LatestStatusCounts(program, runID string) (map[ExecutionStatus]int64, error) {
	latest := s.db.Model(&ExecutionRecord{}).
		Select("test_case_id, MAX(execution_number) AS max_number").
		Where("program = ? AND run_id = ?", program, runID).
		Group("test_case_id")

	var rows []statusCountRow
	err := s.db.Model(&ExecutionRecord{}).
		Select("test_executions.status AS status, COUNT(*) AS count").
		Joins("JOIN (?) AS latest ON latest.test_case_id = test_executions.test_case_id AND latest.max_number = test_executions.execution_number", latest).
		Where("test_executions.program = ? AND test_executions.run_id = ?", program, runID).
		Group("test_executions.status").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("aggregate latest statuses: %w", err)
	}

	counts := make(map[ExecutionStatus]int64, len(rows))
	for _, row := range rows {
		counts[ExecutionStatus(row.Status)] = row.Count
	}
	return counts, nil
}
