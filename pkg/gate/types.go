// Package gate implements release-gate evaluation: configurable criteria
// (pass rate, open defect counts, coverage, execution completeness, sign-off
// completeness, custom expressions) scored against current aggregated state,
// an append-only evaluation history, and a Go / No-Go verdict per target.
// Verdicts are recomputed fresh on every evaluation; nothing is cached.
package gate

import (
	"context"
	"time"
)

// GateType names a checkpoint in the delivery flow.
type GateType string

const (
	GateCycleExit GateType = "cycle_exit"
	GatePlanExit  GateType = "plan_exit"
	GateRelease   GateType = "release"
)

// ValidGateType reports whether g is a known gate type.
func ValidGateType(g GateType) bool {
	switch g {
	case GateCycleExit, GatePlanExit, GateRelease:
		return true
	}
	return false
}

// Gate target entity types. A gate is evaluated against a test cycle, a test
// plan, or a release.
const (
	TargetCycle   = "cycle"
	TargetPlan    = "plan"
	TargetRelease = "release"
)

// ValidTargetType reports whether t is a known gate target type.
func ValidTargetType(t string) bool {
	switch t {
	case TargetCycle, TargetPlan, TargetRelease:
		return true
	}
	return false
}

// DefaultGateType maps a target type to the gate type evaluated for it when
// the caller does not name one.
func DefaultGateType(targetType string) GateType {
	switch targetType {
	case TargetCycle:
		return GateCycleExit
	case TargetPlan:
		return GatePlanExit
	default:
		return GateRelease
	}
}

// CriterionKind selects how a criterion's actual value is computed.
type CriterionKind string

const (
	KindPassRate          CriterionKind = "pass_rate"
	KindDefectCount       CriterionKind = "defect_count"
	KindCoverage          CriterionKind = "coverage"
	KindExecutionComplete CriterionKind = "execution_complete"
	KindApprovalComplete  CriterionKind = "approval_complete"
	KindCustom            CriterionKind = "custom"
)

// ValidCriterionKind reports whether k is a known criterion kind.
func ValidCriterionKind(k CriterionKind) bool {
	switch k {
	case KindPassRate, KindDefectCount, KindCoverage,
		KindExecutionComplete, KindApprovalComplete, KindCustom:
		return true
	}
	return false
}

// Operator compares a criterion's actual value against its threshold.
type Operator string

const (
	OpGTE Operator = ">="
	OpLTE Operator = "<="
	OpEQ  Operator = "=="
	OpGT  Operator = ">"
	OpLT  Operator = "<"
)

// ValidOperator reports whether o is a known comparison operator.
func ValidOperator(o Operator) bool {
	switch o {
	case OpGTE, OpLTE, OpEQ, OpGT, OpLT:
		return true
	}
	return false
}

// Compare applies the operator to (actual, threshold). Equality is exact,
// which suits counts and boolean-valued criteria.
func (o Operator) Compare(actual, threshold float64) (bool, error) {
	switch o {
	case OpGTE:
		return actual >= threshold, nil
	case OpLTE:
		return actual <= threshold, nil
	case OpEQ:
		return actual == threshold, nil
	case OpGT:
		return actual > threshold, nil
	case OpLT:
		return actual < threshold, nil
	}
	return false, &EvaluationError{Message: "unknown operator " + string(o)}
}

// Criterion is the JSON representation of a configured gate rule.
type Criterion struct {
	ID             string        `json:"id"`
	Program        string        `json:"program,omitempty"`
	GateType       GateType      `json:"gateType"`
	Name           string        `json:"name"`
	Description    string        `json:"description,omitempty"`
	Kind           CriterionKind `json:"kind"`
	Operator       Operator      `json:"operator"`
	Threshold      float64       `json:"threshold"`
	SeverityFilter []string      `json:"severityFilter,omitempty"`
	RequiredRoles  []string      `json:"requiredRoles,omitempty"`
	Expression     string        `json:"expression,omitempty"`
	IsBlocking     bool          `json:"isBlocking"`
	Active         bool          `json:"active"`
	CreatedBy      string        `json:"createdBy,omitempty"`
	CreatedAt      time.Time     `json:"createdAt"`
	UpdatedAt      time.Time     `json:"updatedAt"`
}

// CreateCriterionRequest is the request body for configuring a criterion.
// Omitted gateType defaults to release; omitted operator defaults to >=.
type CreateCriterionRequest struct {
	GateType       GateType      `json:"gateType,omitempty"`
	Name           string        `json:"name"`
	Description    string        `json:"description,omitempty"`
	Kind           CriterionKind `json:"kind"`
	Operator       Operator      `json:"operator,omitempty"`
	Threshold      float64       `json:"threshold"`
	SeverityFilter []string      `json:"severityFilter,omitempty"`
	RequiredRoles  []string      `json:"requiredRoles,omitempty"`
	Expression     string        `json:"expression,omitempty"`
	IsBlocking     bool          `json:"isBlocking"`
}

// UpdateCriterionRequest carries a partial criterion update. Nil fields are
// left unchanged. Kind is immutable after creation.
type UpdateCriterionRequest struct {
	Name           *string   `json:"name,omitempty"`
	Description    *string   `json:"description,omitempty"`
	Operator       *Operator `json:"operator,omitempty"`
	Threshold      *float64  `json:"threshold,omitempty"`
	SeverityFilter *[]string `json:"severityFilter,omitempty"`
	RequiredRoles  *[]string `json:"requiredRoles,omitempty"`
	Expression     *string   `json:"expression,omitempty"`
	IsBlocking     *bool     `json:"isBlocking,omitempty"`
	Active         *bool     `json:"active,omitempty"`
}

// EvaluateRequest is the request body for running a gate evaluation. Runs
// names the execution scope (run IDs) for pass_rate and execution_complete;
// when empty the target's own identifier is used as the run.
type EvaluateRequest struct {
	GateType GateType `json:"gateType,omitempty"`
	Runs     []string `json:"runs,omitempty"`
}

// CriterionResult is one scored criterion inside a verdict. Error is set when
// the criterion could not be computed; such a criterion counts as failed but
// never aborts the rest of the evaluation.
type CriterionResult struct {
	CriterionID string        `json:"criterionId"`
	Name        string        `json:"name"`
	Kind        CriterionKind `json:"kind"`
	Operator    Operator      `json:"operator"`
	Threshold   float64       `json:"threshold"`
	ActualValue float64       `json:"actualValue"`
	Passed      bool          `json:"passed"`
	IsBlocking  bool          `json:"isBlocking"`
	Error       string        `json:"error,omitempty"`
}

// BlockingDefect is an open defect holding a blocks link against the target.
// Any such defect forces the verdict to No-Go regardless of criteria.
type BlockingDefect struct {
	DefectID string `json:"defectId"`
	Title    string `json:"title"`
	Severity string `json:"severity"`
	Status   string `json:"status"`
}

// GateVerdict is the outcome of one evaluation: the per-criterion breakdown
// plus the aggregate Go / No-Go decision. CanProceed is false exactly when a
// blocking criterion failed or an open blocks-linked defect targets the
// entity; non-blocking failures surface in AllPassed only.
//
// BlockingDefects carries the full defect summaries on a fresh evaluation;
// verdicts reconstructed from history carry BlockingDefectIDs only.
type GateVerdict struct {
	EntityType        string            `json:"entityType"`
	EntityID          string            `json:"entityId"`
	GateType          GateType          `json:"gateType"`
	EvaluationGroup   string            `json:"evaluationGroup"`
	AllPassed         bool              `json:"allPassed"`
	BlockingFailed    bool              `json:"blockingFailed"`
	CanProceed        bool              `json:"canProceed"`
	Criteria          []CriterionResult `json:"criteria"`
	BlockingDefects   []BlockingDefect  `json:"blockingDefects,omitempty"`
	BlockingDefectIDs []string          `json:"blockingDefectIds,omitempty"`
	EvaluatedBy       string            `json:"evaluatedBy,omitempty"`
	EvaluatedAt       time.Time         `json:"evaluatedAt"`
}

// Evaluation is the JSON representation of one persisted evaluation row (one
// criterion scored in one evaluation group). Rows are append-only history.
type Evaluation struct {
	ID              string        `json:"id"`
	EntityType      string        `json:"entityType"`
	EntityID        string        `json:"entityId"`
	GateType        GateType      `json:"gateType"`
	EvaluationGroup string        `json:"evaluationGroup"`
	CriterionID     string        `json:"criterionId"`
	CriterionName   string        `json:"criterionName"`
	Kind            CriterionKind `json:"kind"`
	Operator        Operator      `json:"operator"`
	Threshold       float64       `json:"threshold"`
	ActualValue     float64       `json:"actualValue"`
	Passed          bool          `json:"passed"`
	IsBlocking      bool          `json:"isBlocking"`
	Error           string        `json:"error,omitempty"`
	EvaluatedAt     time.Time     `json:"evaluatedAt"`
}

// EvaluationHistory is a paginated page of evaluation rows, newest first.
type EvaluationHistory struct {
	Items         []Evaluation `json:"items"`
	TotalSize     int64        `json:"totalSize"`
	NextPageToken string       `json:"nextPageToken,omitempty"`
}

// Signoff is a recorded approval for a gate target. Sign-offs are append-only
// and back the approval_complete criterion kind.
type Signoff struct {
	ID         string    `json:"id"`
	EntityType string    `json:"entityType"`
	EntityID   string    `json:"entityId"`
	Role       string    `json:"role"`
	SignedBy   string    `json:"signedBy"`
	Comment    string    `json:"comment,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// CreateSignoffRequest is the request body for recording a sign-off.
type CreateSignoffRequest struct {
	Role    string `json:"role"`
	Comment string `json:"comment,omitempty"`
}

// CoverageMark declares a requirement in scope for a gate target and,
// when ExecutionID is set, links an execution that covers it. The coverage
// criterion kind is computed from these marks.
type CoverageMark struct {
	ID            string    `json:"id"`
	EntityType    string    `json:"entityType"`
	EntityID      string    `json:"entityId"`
	RequirementID string    `json:"requirementId"`
	ExecutionID   string    `json:"executionId,omitempty"`
	MarkedBy      string    `json:"markedBy,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

// CreateCoverageMarkRequest is the request body for recording a coverage
// mark. An empty executionId declares the requirement in scope but uncovered.
type CreateCoverageMarkRequest struct {
	RequirementID string `json:"requirementId"`
	ExecutionID   string `json:"executionId,omitempty"`
}

// VerdictEvent describes a completed evaluation. Changed is true when the
// verdict's CanProceed differs from the previous evaluation of the same
// target (or when there is no previous evaluation).
type VerdictEvent struct {
	Program         string
	EntityType      string
	EntityID        string
	GateType        GateType
	EvaluationGroup string
	CanProceed      bool
	Changed         bool
	EvaluatedBy     string
}

// VerdictListener receives completed evaluations after they are persisted.
// Listeners run synchronously on the evaluation path and must not block.
type VerdictListener interface {
	GateEvaluated(ctx context.Context, event VerdictEvent)
}
