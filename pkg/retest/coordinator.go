// Package retest closes the loop between the defect lifecycle and the
// execution ledger. When a resolved defect is sent to retest, the coordinator
// seeds a pending execution for the defect's test case; when an execution
// linked to a defect completes, the coordinator applies the verdict, closing
// the defect on PASS and reopening it on FAIL or BLOCKED.
package retest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/umutsoyyilmaz/SAP-Transformation-Platform-sub009/pkg/defect"
	"github.com/umutsoyyilmaz/SAP-Transformation-Platform-sub009/pkg/execution"
)

// Coordinator bridges the execution and defect services. It is registered on
// both at assembly time and also serves as the defect service's execution
// lookup, so retest references are verified against the real ledger.
type Coordinator struct {
	executions *execution.Service
	defects    *defect.Service
	logger     *slog.Logger
}

// NewCoordinator creates a Coordinator over the two services.
func NewCoordinator(executions *execution.Service, defects *defect.Service, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{executions: executions, defects: defects, logger: logger}
}

// Wire registers the coordinator with both services: execution lookup and
// transition hook on the defect side, status listener on the execution side.
func (c *Coordinator) Wire() {
	c.defects.SetExecutionLookup(c)
	c.defects.OnTransition(c)
	c.executions.OnStatusChanged(c)
}

// LookupExecution implements defect.ExecutionLookup.
func (c *Coordinator) LookupExecution(ctx context.Context, _ string, id string) (*defect.ExecutionRef, error) {
	exec, err := c.executions.GetExecution(ctx, id)
	if err != nil {
		var nferr *execution.NotFoundError
		if errors.As(err, &nferr) {
			return nil, nil
		}
		return nil, err
	}
	return &defect.ExecutionRef{
		ID:         exec.ID,
		TestCaseID: exec.TestCaseID,
		RunID:      exec.RunID,
		DefectID:   exec.DefectID,
		Status:     string(exec.Status),
	}, nil
}

// DefectTransitioned seeds a pending retest execution when a defect enters
// RETEST. The execution carries the defect ID, so its eventual status feeds
// back as the retest verdict. Seeding is best-effort: a defect raised without
// an execution context has nothing to retest automatically.
func (c *Coordinator) DefectTransitioned(ctx context.Context, event defect.TransitionEvent) {
	if event.Action != defect.ActionSendToRetest {
		return
	}
	if event.TestCaseID == "" || event.RunID == "" {
		c.logger.Warn("defect sent to retest without an execution context; not seeding a retest",
			"program", event.Program,
			"defect", event.DefectID)
		return
	}

	totalSteps := 0
	if event.OriginExecutionID != "" {
		if origin, err := c.executions.GetExecution(ctx, event.OriginExecutionID); err == nil {
			totalSteps = origin.TotalSteps
		}
	}

	exec, err := c.executions.RecordExecution(ctx, execution.RecordExecutionRequest{
		TestCaseID: event.TestCaseID,
		RunID:      event.RunID,
		TotalSteps: totalSteps,
		DefectID:   event.DefectID,
		Notes:      fmt.Sprintf("retest for defect %s", event.DefectID),
	})
	if err != nil {
		c.logger.Error("seeding retest execution failed",
			"program", event.Program,
			"defect", event.DefectID,
			"error", err)
		return
	}

	c.logger.Info("retest execution seeded",
		"program", event.Program,
		"defect", event.DefectID,
		"execution", exec.ID,
		"testCase", event.TestCaseID,
		"run", event.RunID)
}

// ExecutionStatusChanged applies the retest verdict when an execution linked
// to a defect reaches a final status. The defect service still enforces the
// state machine, so a verdict arriving while the defect is not in RETEST is
// rejected there and logged here.
func (c *Coordinator) ExecutionStatusChanged(ctx context.Context, event execution.StatusEvent) {
	if event.DefectID == "" {
		return
	}

	var target defect.DefectStatus
	switch event.Current {
	case execution.StatusPass:
		target = defect.StatusClosed
	case execution.StatusFail, execution.StatusBlocked:
		target = defect.StatusReopened
	default:
		return
	}

	if _, err := c.defects.Transition(ctx, event.DefectID, defect.TransitionRequest{
		TargetStatus:      target,
		RetestExecutionID: event.ExecutionID,
	}); err != nil {
		c.logger.Warn("retest verdict not applied",
			"program", event.Program,
			"defect", event.DefectID,
			"execution", event.ExecutionID,
			"verdict", string(event.Current),
			"error", err)
		return
	}

	c.logger.Info("retest verdict applied",
		"program", event.Program,
		"defect", event.DefectID,
		"execution", event.ExecutionID,
		"to", string(target))
}
