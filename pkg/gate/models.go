package gate

import (
	"time"

	"github.com/umutsoyyilmaz/SAP-Transformation-Platform-sub009/pkg/audit"
)

// CriterionRecord is the GORM model for a configured gate criterion.
// Criteria are configuration: they are read once at the start of an
// evaluation, so an evaluation always scores a consistent snapshot.
type CriterionRecord struct {
	ID             string `gorm:"primaryKey;type:varchar(36)"`
	Program        string `gorm:"index:idx_criterion_program_gate,priority:1;default:default"`
	GateType       string `gorm:"index:idx_criterion_program_gate,priority:2"`
	Name           string
	Description    string
	Kind           string
	Operator       string
	Threshold      float64
	SeverityFilter audit.JSONStringSlice `gorm:"type:text"`
	RequiredRoles  audit.JSONStringSlice `gorm:"type:text"`
	Expression     string
	IsBlocking     bool
	Active         bool      `gorm:"default:true"`
	CreatedBy      string
	CreatedAt      time.Time `gorm:"autoCreateTime"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime"`
}

// TableName sets the table name for criterion records.
func (CriterionRecord) TableName() string {
	return "gate_criteria"
}

// EvaluationRecord is the GORM model for one scored criterion in one
// evaluation group. Rows are append-only; history is never rewritten.
type EvaluationRecord struct {
	ID            string `gorm:"primaryKey;type:varchar(36)"`
	Program       string `gorm:"index:idx_eval_target,priority:1;default:default"`
	EntityType    string `gorm:"index:idx_eval_target,priority:2"`
	EntityID      string `gorm:"index:idx_eval_target,priority:3"`
	GateType      string
	GroupID       string `gorm:"index"`
	Position      int
	CriterionID   string `gorm:"index"`
	CriterionName string
	Kind          string
	Operator      string
	Threshold     float64
	ActualValue   float64
	Passed        bool
	IsBlocking    bool
	EvalError     string
	CreatedAt     time.Time `gorm:"autoCreateTime;index"`
}

// TableName sets the table name for evaluation records.
func (EvaluationRecord) TableName() string {
	return "gate_evaluations"
}

// VerdictRecord is the GORM model for the aggregate outcome of one
// evaluation group. Its ID doubles as the group ID on the criterion rows.
type VerdictRecord struct {
	ID                string `gorm:"primaryKey;type:varchar(36)"`
	Program           string `gorm:"index:idx_verdict_target,priority:1;default:default"`
	EntityType        string `gorm:"index:idx_verdict_target,priority:2"`
	EntityID          string `gorm:"index:idx_verdict_target,priority:3"`
	GateType          string
	AllPassed         bool
	BlockingFailed    bool
	CanProceed        bool
	BlockingDefectIDs audit.JSONStringSlice `gorm:"type:text"`
	EvaluatedBy       string
	CreatedAt         time.Time `gorm:"autoCreateTime;index"`
}

// TableName sets the table name for verdict records.
func (VerdictRecord) TableName() string {
	return "gate_verdicts"
}

// SignoffRecord is the GORM model for an approval recorded against a gate
// target. Rows are append-only.
type SignoffRecord struct {
	ID         string `gorm:"primaryKey;type:varchar(36)"`
	Program    string `gorm:"index:idx_signoff_target,priority:1;default:default"`
	EntityType string `gorm:"index:idx_signoff_target,priority:2"`
	EntityID   string `gorm:"index:idx_signoff_target,priority:3"`
	Role       string
	SignedBy   string
	Comment    string
	CreatedAt  time.Time `gorm:"autoCreateTime"`
}

// TableName sets the table name for sign-off records.
func (SignoffRecord) TableName() string {
	return "gate_signoffs"
}

// CoverageMarkRecord is the GORM model for a requirement coverage mark. A
// mark with an empty execution_id declares the requirement in scope but not
// yet covered.
type CoverageMarkRecord struct {
	ID            string `gorm:"primaryKey;type:varchar(36)"`
	Program       string `gorm:"index:idx_coverage_target,priority:1;default:default"`
	EntityType    string `gorm:"index:idx_coverage_target,priority:2"`
	EntityID      string `gorm:"index:idx_coverage_target,priority:3"`
	RequirementID string `gorm:"index"`
	ExecutionID   string
	MarkedBy      string
	CreatedAt     time.Time `gorm:"autoCreateTime"`
}

// TableName sets the table name for coverage mark records.
func (CoverageMarkRecord) TableName() string {
	return "gate_coverage_marks"
}

func recordToCriterion(rec *CriterionRecord) Criterion {
	return Criterion{
		ID:             rec.ID,
		Program:        rec.Program,
		GateType:       GateType(rec.GateType),
		Name:           rec.Name,
		Description:    rec.Description,
		Kind:           CriterionKind(rec.Kind),
		Operator:       Operator(rec.Operator),
		Threshold:      rec.Threshold,
		SeverityFilter: rec.SeverityFilter,
		RequiredRoles:  rec.RequiredRoles,
		Expression:     rec.Expression,
		IsBlocking:     rec.IsBlocking,
		Active:         rec.Active,
		CreatedBy:      rec.CreatedBy,
		CreatedAt:      rec.CreatedAt,
		UpdatedAt:      rec.UpdatedAt,
	}
}

func recordToEvaluation(rec EvaluationRecord) Evaluation {
	return Evaluation{
		ID:              rec.ID,
		EntityType:      rec.EntityType,
		EntityID:        rec.EntityID,
		GateType:        GateType(rec.GateType),
		EvaluationGroup: rec.GroupID,
		CriterionID:     rec.CriterionID,
		CriterionName:   rec.CriterionName,
		Kind:            CriterionKind(rec.Kind),
		Operator:        Operator(rec.Operator),
		Threshold:       rec.Threshold,
		ActualValue:     rec.ActualValue,
		Passed:          rec.Passed,
		IsBlocking:      rec.IsBlocking,
		Error:           rec.EvalError,
		EvaluatedAt:     rec.CreatedAt,
	}
}

func signoffRecordToSignoff(rec SignoffRecord) Signoff {
	return Signoff{
		ID:         rec.ID,
		EntityType: rec.EntityType,
		EntityID:   rec.EntityID,
		Role:       rec.Role,
		SignedBy:   rec.SignedBy,
		Comment:    rec.Comment,
		CreatedAt:  rec.CreatedAt,
	}
}

func markRecordToMark(rec CoverageMarkRecord) CoverageMark {
	return CoverageMark{
		ID:            rec.ID,
		EntityType:    rec.EntityType,
		EntityID:      rec.EntityID,
		RequirementID: rec.RequirementID,
		ExecutionID:   rec.ExecutionID,
		MarkedBy:      rec.MarkedBy,
		CreatedAt:     rec.CreatedAt,
	}
}
