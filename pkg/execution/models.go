package execution

import (
	"time"

	"github.com/umutsoyyilmaz/SAP-Transformation-Platform-sub009/pkg/audit"
)

// ExecutionRecord is the GORM model for a recorded execution. Rows are only
// ever inserted or have their derived status refreshed; history is never
// rewritten.
type ExecutionRecord struct {
	ID              string `gorm:"primaryKey;type:varchar(36)"`
	Program         string `gorm:"uniqueIndex:uniq_execution_number,priority:1;index:idx_execution_case,priority:1;default:default"`
	TestCaseID      string `gorm:"uniqueIndex:uniq_execution_number,priority:2;index:idx_execution_case,priority:2"`
	RunID           string `gorm:"uniqueIndex:uniq_execution_number,priority:3;index:idx_execution_run"`
	ExecutionNumber int    `gorm:"uniqueIndex:uniq_execution_number,priority:4"`
	Status          string `gorm:"index"`
	TotalSteps      int
	ExecutedBy      string
	Environment     string
	DefectID        string `gorm:"index"`
	Notes           string
	CreatedAt       time.Time `gorm:"autoCreateTime;index"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime"`
}

// TableName sets the table name for execution records.
func (ExecutionRecord) TableName() string {
	return "test_executions"
}

// StepResultRecord is the GORM model for a single step outcome within an
// execution. Step rows are immutable once written.
type StepResultRecord struct {
	ID           string `gorm:"primaryKey;type:varchar(36)"`
	ExecutionID  string `gorm:"uniqueIndex:uniq_step_index,priority:1;index"`
	StepIndex    int    `gorm:"uniqueIndex:uniq_step_index,priority:2"`
	Outcome      string
	Description  string
	Reason       string
	EvidenceRefs audit.JSONStringSlice `gorm:"type:text"`
	ExecutedAt   time.Time
	CreatedAt    time.Time `gorm:"autoCreateTime"`
}

// TableName sets the table name for step result records.
func (StepResultRecord) TableName() string {
	return "test_execution_steps"
}

func recordToExecution(rec *ExecutionRecord, steps []StepResultRecord) Execution {
	out := Execution{
		ID:              rec.ID,
		Program:         rec.Program,
		TestCaseID:      rec.TestCaseID,
		RunID:           rec.RunID,
		ExecutionNumber: rec.ExecutionNumber,
		Status:          ExecutionStatus(rec.Status),
		TotalSteps:      rec.TotalSteps,
		ExecutedBy:      rec.ExecutedBy,
		Environment:     rec.Environment,
		DefectID:        rec.DefectID,
		Notes:           rec.Notes,
		CreatedAt:       rec.CreatedAt,
		UpdatedAt:       rec.UpdatedAt,
	}
	for _, st := range steps {
		out.Steps = append(out.Steps, stepRecordToResult(st))
	}
	return out
}

func stepRecordToResult(rec StepResultRecord) StepResult {
	return StepResult{
		StepIndex:    rec.StepIndex,
		Outcome:      StepOutcome(rec.Outcome),
		Description:  rec.Description,
		Reason:       rec.Reason,
		EvidenceRefs: []string(rec.EvidenceRefs),
		ExecutedAt:   rec.ExecutedAt,
	}
}
