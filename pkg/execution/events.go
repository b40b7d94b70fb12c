package execution

import "context"

// StepFailedEvent describes a single failed step inside a durably recorded
// execution. Recording never creates defects itself; listeners decide what a
// failure means.
type StepFailedEvent struct {
	Program     string
	ExecutionID string
	TestCaseID  string
	RunID       string
	StepIndex   int
	Reason      string
	ExecutedBy  string
}

// FailureListener receives step failure notifications after the execution has
// been persisted. Listeners run synchronously on the recording path and must
// not block.
type FailureListener interface {
	StepFailed(ctx context.Context, event StepFailedEvent)
}

// StatusEvent describes a change in an execution's aggregated status,
// including the initial status assigned when the execution is first recorded
// (Previous is empty in that case).
type StatusEvent struct {
	Program     string
	ExecutionID string
	TestCaseID  string
	RunID       string
	DefectID    string
	Previous    ExecutionStatus
	Current     ExecutionStatus
	ExecutedBy  string
}

// StatusListener receives aggregated status changes. Retest coordination
// hangs off this: an execution linked to a defect reports its verdict here.
type StatusListener interface {
	ExecutionStatusChanged(ctx context.Context, event StatusEvent)
}
