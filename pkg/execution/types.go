// Package execution records test execution results and derives execution
// status from individual step outcomes. Executions form an append-only
// history per (test case, run) pair; the most recent execution is the one
// that counts toward release gates.
package execution

import "time"

// StepOutcome is the recorded result of a single test step.
type StepOutcome string

const (
	StepPass    StepOutcome = "PASS"
	StepFail    StepOutcome = "FAIL"
	StepBlocked StepOutcome = "BLOCKED"
	StepSkipped StepOutcome = "SKIPPED"
)

// ValidOutcome reports whether o is one of the recordable step outcomes.
func ValidOutcome(o StepOutcome) bool {
	switch o {
	case StepPass, StepFail, StepBlocked, StepSkipped:
		return true
	}
	return false
}

// ExecutionStatus is the aggregated status of a recorded execution. It is
// always derived from the step outcomes, never set directly by callers.
type ExecutionStatus string

const (
	StatusPass    ExecutionStatus = "PASS"
	StatusFail    ExecutionStatus = "FAIL"
	StatusBlocked ExecutionStatus = "BLOCKED"
	StatusNotRun  ExecutionStatus = "NOT_RUN"
)

// ValidStatus reports whether s is a known aggregated status.
func ValidStatus(s ExecutionStatus) bool {
	switch s {
	case StatusPass, StatusFail, StatusBlocked, StatusNotRun:
		return true
	}
	return false
}

// Execution is the API representation of a recorded test execution.
type Execution struct {
	ID              string          `json:"id"`
	Program         string          `json:"program,omitempty"`
	TestCaseID      string          `json:"testCaseId"`
	RunID           string          `json:"runId"`
	ExecutionNumber int             `json:"executionNumber"`
	Status          ExecutionStatus `json:"status"`
	TotalSteps      int             `json:"totalSteps"`
	ExecutedBy      string          `json:"executedBy,omitempty"`
	Environment     string          `json:"environment,omitempty"`
	DefectID        string          `json:"defectId,omitempty"`
	Notes           string          `json:"notes,omitempty"`
	Steps           []StepResult    `json:"steps,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

// StepResult is the API representation of a single recorded step outcome.
type StepResult struct {
	StepIndex    int         `json:"stepIndex"`
	Outcome      StepOutcome `json:"outcome"`
	Description  string      `json:"description,omitempty"`
	Reason       string      `json:"reason,omitempty"`
	EvidenceRefs []string    `json:"evidenceRefs,omitempty"`
	ExecutedAt   time.Time   `json:"executedAt"`
}

// StepResultInput is a step outcome supplied by a caller when recording or
// appending results.
type StepResultInput struct {
	StepIndex    int         `json:"stepIndex"`
	Outcome      StepOutcome `json:"outcome"`
	Description  string      `json:"description,omitempty"`
	Reason       string      `json:"reason,omitempty"`
	EvidenceRefs []string    `json:"evidenceRefs,omitempty"`
}

// RecordExecutionRequest is the request body for recording a new execution.
// TotalSteps declares how many steps the test case has; when omitted it
// defaults to the number of step results supplied.
type RecordExecutionRequest struct {
	TestCaseID  string            `json:"testCaseId"`
	RunID       string            `json:"runId"`
	TotalSteps  int               `json:"totalSteps,omitempty"`
	ExecutedBy  string            `json:"executedBy,omitempty"`
	Environment string            `json:"environment,omitempty"`
	DefectID    string            `json:"defectId,omitempty"`
	Notes       string            `json:"notes,omitempty"`
	Steps       []StepResultInput `json:"steps"`
}

// AppendStepsRequest is the request body for appending step results to an
// existing execution. Previously recorded steps are never modified.
type AppendStepsRequest struct {
	Steps []StepResultInput `json:"steps"`
}

// ExecutionList is a paginated page of executions.
type ExecutionList struct {
	Items         []Execution `json:"items"`
	TotalSize     int64       `json:"totalSize"`
	NextPageToken string      `json:"nextPageToken,omitempty"`
}

// RunSummary is the status rollup for a run. Only each test case's latest
// execution contributes, so a case that failed and was re-run green counts
// as PASS. Executed covers PASS, FAIL and BLOCKED; NOT_RUN cases dilute
// completion but never the pass rate.
type RunSummary struct {
	RunID         string                    `json:"runId"`
	Counts        map[ExecutionStatus]int64 `json:"counts"`
	TotalCases    int64                     `json:"totalCases"`
	Executed      int64                     `json:"executed"`
	PassRate      float64                   `json:"passRate"`
	CompletionPct float64                   `json:"completionPct"`
}
