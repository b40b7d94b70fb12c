package execution

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/umutsoyyilmaz/SAP-Transformation-Platform-sub009/pkg/audit"
	"github.com/umutsoyyilmaz/SAP-Transformation-Platform-sub009/pkg/authz"
	"github.com/umutsoyyilmaz/SAP-Transformation-Platform-sub009/pkg/tenancy"
)

// Service implements execution recording and aggregation on top of Store.
// Listeners registered on the service are notified after a write has been
// durably persisted, never before.
type Service struct {
	store  *Store
	logger *slog.Logger

	failureListeners []FailureListener
	statusListeners  []StatusListener
}

// NewService creates a new execution Service.
func NewService(store *Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, logger: logger}
}

// OnStepFailed registers a listener invoked for every failed step in a
// persisted recording. Registration is not safe for concurrent use; wire
// listeners during server assembly.
func (s *Service) OnStepFailed(l FailureListener) {
	s.failureListeners = append(s.failureListeners, l)
}

// OnStatusChanged registers a listener invoked when an execution's aggregated
// status is assigned or changes.
func (s *Service) OnStatusChanged(l StatusListener) {
	s.statusListeners = append(s.statusListeners, l)
}

// RecordExecution validates and persists a new execution attempt. The
// aggregated status is derived from the supplied step outcomes; an execution
// recorded with no steps starts as NOT_RUN.
func (s *Service) RecordExecution(ctx context.Context, req RecordExecutionRequest) (*Execution, error) {
	if req.TestCaseID == "" {
		return nil, &ValidationError{Field: "testCaseId", Message: "is required"}
	}
	if req.RunID == "" {
		return nil, &ValidationError{Field: "runId", Message: "is required"}
	}
	totalSteps := req.TotalSteps
	if totalSteps <= 0 {
		totalSteps = len(req.Steps)
	}
	if totalSteps < len(req.Steps) {
		return nil, &ValidationError{
			Field:   "totalSteps",
			Message: fmt.Sprintf("declares %d steps but %d results were supplied", totalSteps, len(req.Steps)),
		}
	}
	if err := validateSteps(req.Steps, totalSteps, nil); err != nil {
		return nil, err
	}

	program := programFrom(ctx)
	executedBy := req.ExecutedBy
	if executedBy == "" {
		executedBy = authz.Actor(ctx)
	}

	outcomes := make([]StepOutcome, len(req.Steps))
	for i, st := range req.Steps {
		outcomes[i] = st.Outcome
	}
	status := Aggregate(outcomes, totalSteps)

	rec := &ExecutionRecord{
		ID:          uuid.New().String(),
		Program:     program,
		TestCaseID:  req.TestCaseID,
		RunID:       req.RunID,
		Status:      string(status),
		TotalSteps:  totalSteps,
		ExecutedBy:  executedBy,
		Environment: req.Environment,
		DefectID:    req.DefectID,
		Notes:       req.Notes,
	}
	stepRecs := buildStepRecords(req.Steps)

	event := &audit.Event{
		ID:           uuid.New().String(),
		Program:      program,
		EventType:    audit.EventTypeExecution,
		Actor:        authz.Actor(ctx),
		ResourceType: "executions",
		ResourceID:   rec.ID,
		Action:       "record",
		Outcome:      audit.OutcomeSuccess,
		NewValue: audit.JSONAny{
			"testCaseId": req.TestCaseID,
			"runId":      req.RunID,
			"status":     string(status),
			"steps":      len(req.Steps),
		},
	}

	if err := s.store.Record(rec, stepRecs, event); err != nil {
		return nil, err
	}

	s.logger.Info("recorded execution",
		"execution", rec.ID,
		"testCase", rec.TestCaseID,
		"run", rec.RunID,
		"number", rec.ExecutionNumber,
		"status", rec.Status,
	)

	s.notifyFailedSteps(ctx, rec, stepRecs)
	s.notifyStatus(ctx, rec, "", status)

	out := recordToExecution(rec, stepRecs)
	return &out, nil
}

// AppendSteps adds step results to an existing execution and re-derives its
// status. Previously recorded steps cannot be overwritten; a result for an
// already-recorded step index is rejected.
func (s *Service) AppendSteps(ctx context.Context, executionID string, req AppendStepsRequest) (*Execution, error) {
	if len(req.Steps) == 0 {
		return nil, &ValidationError{Field: "steps", Message: "at least one step result is required"}
	}

	program := programFrom(ctx)
	rec, err := s.store.Get(program, executionID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, &NotFoundError{Kind: "execution", ID: executionID}
	}

	existing, err := s.store.Steps(executionID)
	if err != nil {
		return nil, err
	}
	taken := make(map[int]bool, len(existing))
	for _, st := range existing {
		taken[st.StepIndex] = true
	}
	if err := validateSteps(req.Steps, rec.TotalSteps, taken); err != nil {
		return nil, err
	}

	stepRecs := buildStepRecords(req.Steps)
	previous := ExecutionStatus(rec.Status)

	event := &audit.Event{
		ID:           uuid.New().String(),
		Program:      program,
		EventType:    audit.EventTypeExecution,
		Actor:        authz.Actor(ctx),
		ResourceType: "executions",
		ResourceID:   rec.ID,
		Action:       "append-steps",
		Outcome:      audit.OutcomeSuccess,
		OldValue:     audit.JSONAny{"status": rec.Status},
		NewValue:     audit.JSONAny{"steps": len(req.Steps)},
	}

	status, err := s.store.AppendSteps(executionID, rec.TotalSteps, stepRecs, event)
	if err != nil {
		return nil, err
	}
	rec.Status = string(status)

	s.logger.Info("appended step results",
		"execution", rec.ID,
		"steps", len(stepRecs),
		"status", rec.Status,
	)

	s.notifyFailedSteps(ctx, rec, stepRecs)
	if status != previous {
		s.notifyStatus(ctx, rec, previous, status)
	}

	all := append(existing, stepRecs...)
	out := recordToExecution(rec, all)
	return &out, nil
}

// GetExecution returns an execution with its step results.
func (s *Service) GetExecution(ctx context.Context, executionID string) (*Execution, error) {
	program := programFrom(ctx)
	rec, err := s.store.Get(program, executionID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, &NotFoundError{Kind: "execution", ID: executionID}
	}
	steps, err := s.store.Steps(executionID)
	if err != nil {
		return nil, err
	}
	out := recordToExecution(rec, steps)
	return &out, nil
}

// ListExecutions returns a page of executions matching the filter, without
// step results.
func (s *Service) ListExecutions(ctx context.Context, filter ListFilter, pageSize int, pageToken string) (*ExecutionList, error) {
	program := programFrom(ctx)
	records, nextToken, total, err := s.store.List(program, filter, pageSize, pageToken)
	if err != nil {
		return nil, err
	}
	list := &ExecutionList{
		Items:         make([]Execution, len(records)),
		TotalSize:     int64(total),
		NextPageToken: nextToken,
	}
	for i := range records {
		list.Items[i] = recordToExecution(&records[i], nil)
	}
	return list, nil
}

// History returns the execution ledger for a test case within a run, newest
// attempt first.
func (s *Service) History(ctx context.Context, testCaseID, runID string, pageSize int, pageToken string) (*ExecutionList, error) {
	if runID == "" {
		return nil, &ValidationError{Field: "runId", Message: "is required"}
	}
	program := programFrom(ctx)
	records, nextToken, err := s.store.History(program, testCaseID, runID, pageSize, pageToken)
	if err != nil {
		return nil, err
	}
	list := &ExecutionList{
		Items:         make([]Execution, len(records)),
		TotalSize:     int64(len(records)),
		NextPageToken: nextToken,
	}
	for i := range records {
		list.Items[i] = recordToExecution(&records[i], nil)
	}
	return list, nil
}

// Latest returns the most recent execution of a test case within a run,
// including its step results.
func (s *Service) Latest(ctx context.Context, testCaseID, runID string) (*Execution, error) {
	if runID == "" {
		return nil, &ValidationError{Field: "runId", Message: "is required"}
	}
	program := programFrom(ctx)
	rec, err := s.store.Latest(program, testCaseID, runID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, &NotFoundError{Kind: "execution for test case", ID: testCaseID}
	}
	steps, err := s.store.Steps(rec.ID)
	if err != nil {
		return nil, err
	}
	out := recordToExecution(rec, steps)
	return &out, nil
}

// RunSummary aggregates the latest attempt of every test case in a run.
func (s *Service) RunSummary(ctx context.Context, runID string) (*RunSummary, error) {
	if runID == "" {
		return nil, &ValidationError{Field: "runId", Message: "is required"}
	}
	counts, err := s.store.LatestStatusCounts(programFrom(ctx), runID)
	if err != nil {
		return nil, err
	}

	summary := &RunSummary{RunID: runID, Counts: counts}
	for _, n := range counts {
		summary.TotalCases += n
	}
	summary.Executed = counts[StatusPass] + counts[StatusFail] + counts[StatusBlocked]
	if summary.Executed > 0 {
		summary.PassRate = float64(counts[StatusPass]) / float64(summary.Executed) * 100
	}
	if summary.TotalCases > 0 {
		summary.CompletionPct = float64(summary.Executed) / float64(summary.TotalCases) * 100
	}
	return summary, nil
}

func (s *Service) notifyFailedSteps(ctx context.Context, rec *ExecutionRecord, steps []StepResultRecord) {
	for _, st := range steps {
		if StepOutcome(st.Outcome) != StepFail {
			continue
		}
		event := StepFailedEvent{
			Program:     rec.Program,
			ExecutionID: rec.ID,
			TestCaseID:  rec.TestCaseID,
			RunID:       rec.RunID,
			StepIndex:   st.StepIndex,
			Reason:      st.Reason,
			ExecutedBy:  rec.ExecutedBy,
		}
		for _, l := range s.failureListeners {
			l.StepFailed(ctx, event)
		}
	}
}

func (s *Service) notifyStatus(ctx context.Context, rec *ExecutionRecord, previous, current ExecutionStatus) {
	event := StatusEvent{
		Program:     rec.Program,
		ExecutionID: rec.ID,
		TestCaseID:  rec.TestCaseID,
		RunID:       rec.RunID,
		DefectID:    rec.DefectID,
		Previous:    previous,
		Current:     current,
		ExecutedBy:  rec.ExecutedBy,
	}
	for _, l := range s.statusListeners {
		l.ExecutionStatusChanged(ctx, event)
	}
}

// validateSteps checks step inputs against the declared step count and any
// already-recorded indexes. A skipped step must carry a reason; that reason is
// what reviewers see when they ask why coverage is incomplete.
func validateSteps(steps []StepResultInput, totalSteps int, taken map[int]bool) error {
	seen := make(map[int]bool, len(steps))
	for _, st := range steps {
		if st.StepIndex < 1 || st.StepIndex > totalSteps {
			return &ValidationError{
				Field:   "steps.stepIndex",
				Message: fmt.Sprintf("step %d is outside 1..%d", st.StepIndex, totalSteps),
			}
		}
		if seen[st.StepIndex] || taken[st.StepIndex] {
			return &ValidationError{
				Field:   "steps.stepIndex",
				Message: fmt.Sprintf("step %d already has a recorded result", st.StepIndex),
			}
		}
		seen[st.StepIndex] = true
		if !ValidOutcome(st.Outcome) {
			return &ValidationError{
				Field:   "steps.outcome",
				Message: fmt.Sprintf("unknown outcome %q", st.Outcome),
			}
		}
		if st.Outcome == StepSkipped && strings.TrimSpace(st.Reason) == "" {
			return &ValidationError{
				Field:   "steps.reason",
				Message: fmt.Sprintf("step %d is skipped without a reason", st.StepIndex),
			}
		}
	}
	return nil
}

// programFrom resolves the caller's program scope, falling back to the
// default program when no tenancy middleware ran.
func programFrom(ctx context.Context) string {
	if p := tenancy.ProgramFromContext(ctx); p != "" {
		return p
	}
	return "default"
}

func buildStepRecords(steps []StepResultInput) []StepResultRecord {
	now := time.Now().UTC()
	records := make([]StepResultRecord, len(steps))
	for i, st := range steps {
		records[i] = StepResultRecord{
			ID:           uuid.New().String(),
			StepIndex:    st.StepIndex,
			Outcome:      string(st.Outcome),
			Description:  st.Description,
			Reason:       st.Reason,
			EvidenceRefs: audit.JSONStringSlice(st.EvidenceRefs),
			ExecutedAt:   now,
		}
	}
	return records
}
