package defect

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umutsoyyilmaz/SAP-Transformation-Platform-sub009/pkg/authz"
	"github.com/umutsoyyilmaz/SAP-Transformation-Platform-sub009/pkg/tenancy"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	store, _ := newTestStore(t)
	return NewService(store, nil)
}

func testContext() context.Context {
	ctx := tenancy.WithProgram(context.Background(), tenancy.ProgramContext{Program: "default"})
	return authz.WithIdentity(ctx, authz.Identity{User: "alice", Role: authz.RoleTester})
}

// fakeExecutions resolves execution references from a fixed map.
type fakeExecutions struct {
	refs map[string]*ExecutionRef
}

func (f *fakeExecutions) LookupExecution(_ context.Context, _ string, id string) (*ExecutionRef, error) {
	return f.refs[id], nil
}

// captureHook records committed transitions.
type captureHook struct {
	events []TransitionEvent
}

func (c *captureHook) DefectTransitioned(_ context.Context, e TransitionEvent) {
	c.events = append(c.events, e)
}

func createDefect(t *testing.T, svc *Service, mutate func(*CreateDefectRequest)) *Defect {
	t.Helper()
	req := CreateDefectRequest{
		Title:    "pricing total differs from quote",
		Severity: SeverityS2,
		Priority: PriorityP2,
	}
	if mutate != nil {
		mutate(&req)
	}
	d, err := svc.CreateDefect(testContext(), req)
	require.NoError(t, err)
	return d
}

func transition(t *testing.T, svc *Service, id string, req TransitionRequest) *Defect {
	t.Helper()
	d, err := svc.Transition(testContext(), id, req)
	require.NoError(t, err)
	return d
}

func TestService_CreateDefect(t *testing.T) {
	svc := newTestService(t)

	d := createDefect(t, svc, func(r *CreateDefectRequest) {
		r.Description = "order confirmation shows the list price, not the agreed discount"
		r.Component = "SD-pricing"
	})

	assert.Equal(t, StatusNew, d.Status)
	assert.Equal(t, SeverityS2, d.Severity)
	assert.Equal(t, 1, d.Version)
	assert.Equal(t, "alice", d.RaisedBy, "raisedBy defaults to the caller")
	assert.Nil(t, d.SLA, "no SLA clock before assignment")
}

func TestService_CreateDefectValidation(t *testing.T) {
	svc := newTestService(t)

	tests := []struct {
		name   string
		mutate func(*CreateDefectRequest)
		field  string
	}{
		{"missing title", func(r *CreateDefectRequest) { r.Title = "  " }, "title"},
		{"bad severity", func(r *CreateDefectRequest) { r.Severity = "SEV-HIGH" }, "severity"},
		{"bad priority", func(r *CreateDefectRequest) { r.Priority = "urgent" }, "priority"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := CreateDefectRequest{Title: "t", Severity: SeverityS2, Priority: PriorityP2}
			tt.mutate(&req)
			_, err := svc.CreateDefect(testContext(), req)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestService_CreateDefectResolvesOrigin(t *testing.T) {
	svc := newTestService(t)
	svc.SetExecutionLookup(&fakeExecutions{refs: map[string]*ExecutionRef{
		"ex-1": {ID: "ex-1", TestCaseID: "tc-order-pricing", RunID: "sit-cycle-1", Status: "FAIL"},
	}})

	d := createDefect(t, svc, func(r *CreateDefectRequest) {
		r.OriginExecutionID = "ex-1"
	})
	assert.Equal(t, "tc-order-pricing", d.TestCaseID)
	assert.Equal(t, "sit-cycle-1", d.RunID)

	_, err := svc.CreateDefect(testContext(), CreateDefectRequest{
		Title: "t", Severity: SeverityS2, Priority: PriorityP2,
		OriginExecutionID: "ex-missing",
	})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "originExecutionId", verr.Field)
}

func TestService_TransitionAssignStartsClock(t *testing.T) {
	svc := newTestService(t)
	d := createDefect(t, svc, nil)

	got := transition(t, svc, d.ID, TransitionRequest{TargetStatus: StatusAssigned, AssignedTo: "bob"})

	assert.Equal(t, StatusAssigned, got.Status)
	assert.Equal(t, "bob", got.AssignedTo)
	assert.Equal(t, 2, got.Version)
	require.NotNil(t, got.AssignedAt)
	require.NotNil(t, got.SLADeadline)
	// S2+P2 carries a 24h window.
	assert.WithinDuration(t, got.AssignedAt.Add(24*time.Hour), *got.SLADeadline, time.Second)
	require.NotNil(t, got.SLA)
	assert.Equal(t, SLAOnTrack, got.SLA.Status)

	history, err := svc.ListTransitions(testContext(), d.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, ActionAssign, history[0].Action)
	assert.Equal(t, StatusNew, history[0].FromStatus)
	assert.Equal(t, StatusAssigned, history[0].ToStatus)
}

func TestService_TransitionAssignRequiresAssignee(t *testing.T) {
	svc := newTestService(t)
	d := createDefect(t, svc, nil)

	_, err := svc.Transition(testContext(), d.ID, TransitionRequest{TargetStatus: StatusAssigned})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "assignedTo", verr.Field)
}

func TestService_TransitionIllegal(t *testing.T) {
	svc := newTestService(t)
	d := createDefect(t, svc, nil)

	_, err := svc.Transition(testContext(), d.ID, TransitionRequest{TargetStatus: StatusResolved})
	var terr *TransitionError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, "DEFECT_INVALID_TRANSITION", terr.Code)

	_, err = svc.Transition(testContext(), d.ID, TransitionRequest{TargetStatus: StatusNew})
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, "DEFECT_SAME_STATE", terr.Code, "no silent same-state no-op")
}

func TestService_TransitionRequiredFields(t *testing.T) {
	svc := newTestService(t)

	t.Run("reject needs a reason", func(t *testing.T) {
		d := createDefect(t, svc, nil)
		_, err := svc.Transition(testContext(), d.ID, TransitionRequest{TargetStatus: StatusRejected})
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "reason", verr.Field)
	})

	t.Run("defer needs a reason", func(t *testing.T) {
		d := createDefect(t, svc, nil)
		_, err := svc.Transition(testContext(), d.ID, TransitionRequest{TargetStatus: StatusDeferred})
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "reason", verr.Field)
	})

	t.Run("resolve needs a resolution type", func(t *testing.T) {
		d := createDefect(t, svc, nil)
		transition(t, svc, d.ID, TransitionRequest{TargetStatus: StatusAssigned, AssignedTo: "bob"})
		transition(t, svc, d.ID, TransitionRequest{TargetStatus: StatusInProgress})
		_, err := svc.Transition(testContext(), d.ID, TransitionRequest{TargetStatus: StatusResolved})
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "resolutionType", verr.Field)
	})

	t.Run("retest verdict needs an execution reference", func(t *testing.T) {
		d := createDefect(t, svc, nil)
		transition(t, svc, d.ID, TransitionRequest{TargetStatus: StatusAssigned, AssignedTo: "bob"})
		transition(t, svc, d.ID, TransitionRequest{TargetStatus: StatusInProgress})
		transition(t, svc, d.ID, TransitionRequest{TargetStatus: StatusResolved, ResolutionType: ResolutionFixed})
		transition(t, svc, d.ID, TransitionRequest{TargetStatus: StatusRetest})
		_, err := svc.Transition(testContext(), d.ID, TransitionRequest{TargetStatus: StatusClosed})
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "retestExecutionId", verr.Field)
	})
}

func TestService_RetestRefVerification(t *testing.T) {
	svc := newTestService(t)
	fake := &fakeExecutions{refs: map[string]*ExecutionRef{}}
	svc.SetExecutionLookup(fake)

	d := createDefect(t, svc, nil)
	transition(t, svc, d.ID, TransitionRequest{TargetStatus: StatusAssigned, AssignedTo: "bob"})
	transition(t, svc, d.ID, TransitionRequest{TargetStatus: StatusInProgress})
	transition(t, svc, d.ID, TransitionRequest{TargetStatus: StatusResolved, ResolutionType: ResolutionFixed})
	transition(t, svc, d.ID, TransitionRequest{TargetStatus: StatusRetest})

	fake.refs["ex-pass"] = &ExecutionRef{ID: "ex-pass", DefectID: d.ID, Status: "PASS"}
	fake.refs["ex-fail"] = &ExecutionRef{ID: "ex-fail", DefectID: d.ID, Status: "FAIL"}
	fake.refs["ex-other"] = &ExecutionRef{ID: "ex-other", DefectID: "someone-else", Status: "PASS"}

	var verr *ValidationError

	// Closing on a failed retest is rejected.
	_, err := svc.Transition(testContext(), d.ID, TransitionRequest{TargetStatus: StatusClosed, RetestExecutionID: "ex-fail"})
	require.ErrorAs(t, err, &verr)

	// As is a retest that belongs to a different defect.
	_, err = svc.Transition(testContext(), d.ID, TransitionRequest{TargetStatus: StatusClosed, RetestExecutionID: "ex-other"})
	require.ErrorAs(t, err, &verr)

	// Reopening on a passing retest is rejected too.
	_, err = svc.Transition(testContext(), d.ID, TransitionRequest{TargetStatus: StatusReopened, RetestExecutionID: "ex-pass"})
	require.ErrorAs(t, err, &verr)

	got := transition(t, svc, d.ID, TransitionRequest{TargetStatus: StatusClosed, RetestExecutionID: "ex-pass"})
	assert.Equal(t, StatusClosed, got.Status)
}

func TestService_FullLifecycle(t *testing.T) {
	svc := newTestService(t)
	fake := &fakeExecutions{refs: map[string]*ExecutionRef{}}
	svc.SetExecutionLookup(fake)

	d := createDefect(t, svc, nil)
	fake.refs["ex-retest"] = &ExecutionRef{ID: "ex-retest", DefectID: d.ID, Status: "PASS"}

	transition(t, svc, d.ID, TransitionRequest{TargetStatus: StatusAssigned, AssignedTo: "bob"})
	transition(t, svc, d.ID, TransitionRequest{TargetStatus: StatusInProgress})
	transition(t, svc, d.ID, TransitionRequest{TargetStatus: StatusResolved, ResolutionType: ResolutionFixed, RootCause: "discount condition never copied to the order"})
	transition(t, svc, d.ID, TransitionRequest{TargetStatus: StatusRetest})
	got := transition(t, svc, d.ID, TransitionRequest{TargetStatus: StatusClosed, RetestExecutionID: "ex-retest"})

	assert.Equal(t, StatusClosed, got.Status)
	assert.Equal(t, ResolutionFixed, got.ResolutionType)
	assert.Equal(t, 6, got.Version)

	history, err := svc.ListTransitions(testContext(), d.ID)
	require.NoError(t, err)
	require.Len(t, history, 5)
	actions := make([]string, len(history))
	for i, h := range history {
		actions[i] = h.Action
	}
	assert.Equal(t, []string{ActionAssign, ActionStartWork, ActionResolve, ActionSendToRetest, ActionRetestPass}, actions)

	// Closed is the end of the road.
	_, err = svc.Transition(testContext(), d.ID, TransitionRequest{TargetStatus: StatusAssigned, AssignedTo: "bob"})
	var terr *TransitionError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, "DEFECT_TERMINAL_STATE", terr.Code)
}

func TestService_ReopenStopsAndRestartsClock(t *testing.T) {
	svc := newTestService(t)
	fake := &fakeExecutions{refs: map[string]*ExecutionRef{}}
	svc.SetExecutionLookup(fake)

	d := createDefect(t, svc, nil)
	fake.refs["ex-retest"] = &ExecutionRef{ID: "ex-retest", DefectID: d.ID, Status: "FAIL"}

	transition(t, svc, d.ID, TransitionRequest{TargetStatus: StatusAssigned, AssignedTo: "bob"})
	transition(t, svc, d.ID, TransitionRequest{TargetStatus: StatusInProgress})
	transition(t, svc, d.ID, TransitionRequest{TargetStatus: StatusResolved, ResolutionType: ResolutionFixed})
	transition(t, svc, d.ID, TransitionRequest{TargetStatus: StatusRetest})

	reopened := transition(t, svc, d.ID, TransitionRequest{TargetStatus: StatusReopened, RetestExecutionID: "ex-retest"})
	assert.Equal(t, StatusReopened, reopened.Status)
	assert.Nil(t, reopened.SLA, "the clock stops on reopen")
	assert.Equal(t, "bob", reopened.AssignedTo, "the assignee survives the reopen")

	// Re-assignment without naming an assignee falls back to bob and starts
	// a fresh clock.
	reassigned := transition(t, svc, d.ID, TransitionRequest{TargetStatus: StatusAssigned})
	assert.Equal(t, "bob", reassigned.AssignedTo)
	require.NotNil(t, reassigned.SLA)
	assert.Equal(t, SLAOnTrack, reassigned.SLA.Status)
}

func TestService_DeferAndReactivate(t *testing.T) {
	svc := newTestService(t)
	d := createDefect(t, svc, nil)

	deferred := transition(t, svc, d.ID, TransitionRequest{TargetStatus: StatusDeferred, Reason: "fix lands with the next release wave"})
	assert.Equal(t, StatusDeferred, deferred.Status)
	assert.Nil(t, deferred.SLA)

	// A never-assigned deferred defect cannot be reactivated without naming
	// an assignee.
	_, err := svc.Transition(testContext(), d.ID, TransitionRequest{TargetStatus: StatusAssigned})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)

	reactivated := transition(t, svc, d.ID, TransitionRequest{TargetStatus: StatusAssigned, AssignedTo: "carol"})
	assert.Equal(t, StatusAssigned, reactivated.Status)
	assert.Equal(t, "carol", reactivated.AssignedTo)
	require.NotNil(t, reactivated.SLA)
}

func TestService_TransitionVersionPrecheck(t *testing.T) {
	svc := newTestService(t)
	d := createDefect(t, svc, nil)

	transition(t, svc, d.ID, TransitionRequest{TargetStatus: StatusAssigned, AssignedTo: "bob", Version: 1})

	// A second caller still holding version 1 is told to re-read.
	_, err := svc.Transition(testContext(), d.ID, TransitionRequest{TargetStatus: StatusDeferred, Reason: "parking it", Version: 1})
	var conflict *ConcurrentModificationError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, 1, conflict.ExpectedVersion)
}

func TestService_TransitionHook(t *testing.T) {
	svc := newTestService(t)
	hook := &captureHook{}
	svc.OnTransition(hook)

	d := createDefect(t, svc, func(r *CreateDefectRequest) {
		r.OriginExecutionID = "ex-origin"
		r.TestCaseID = "tc-order-pricing"
		r.RunID = "sit-cycle-1"
	})
	transition(t, svc, d.ID, TransitionRequest{TargetStatus: StatusAssigned, AssignedTo: "bob"})

	require.Len(t, hook.events, 1)
	e := hook.events[0]
	assert.Equal(t, ActionAssign, e.Action)
	assert.Equal(t, StatusNew, e.From)
	assert.Equal(t, StatusAssigned, e.To)
	assert.Equal(t, d.ID, e.DefectID)
	assert.Equal(t, "ex-origin", e.OriginExecutionID)
	assert.Equal(t, "tc-order-pricing", e.TestCaseID)
	assert.Equal(t, "sit-cycle-1", e.RunID)
}

func TestService_UpdateDefectRetriage(t *testing.T) {
	svc := newTestService(t)
	d := createDefect(t, svc, nil)
	assigned := transition(t, svc, d.ID, TransitionRequest{TargetStatus: StatusAssigned, AssignedTo: "bob"})

	severity := SeverityS1
	updated, err := svc.UpdateDefect(testContext(), d.ID, UpdateDefectRequest{
		Severity: &severity,
		Version:  assigned.Version,
	})
	require.NoError(t, err)
	assert.Equal(t, SeverityS1, updated.Severity)
	assert.Equal(t, assigned.Version+1, updated.Version)

	// The deadline is recomputed from the original assignment: S1+P2 is 8h.
	require.NotNil(t, updated.SLADeadline)
	assert.WithinDuration(t, assigned.AssignedAt.Add(8*time.Hour), *updated.SLADeadline, time.Second)
	assert.WithinDuration(t, *assigned.AssignedAt, *updated.AssignedAt, time.Second, "re-triage must not restart the clock")

	// Stale version is rejected.
	_, err = svc.UpdateDefect(testContext(), d.ID, UpdateDefectRequest{Severity: &severity, Version: 1})
	var conflict *ConcurrentModificationError
	require.ErrorAs(t, err, &conflict)

	// An empty patch is rejected.
	_, err = svc.UpdateDefect(testContext(), d.ID, UpdateDefectRequest{Version: updated.Version})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestService_Links(t *testing.T) {
	svc := newTestService(t)
	a := createDefect(t, svc, nil)
	b := createDefect(t, svc, nil)

	link, err := svc.CreateLink(testContext(), a.ID, LinkRequest{Type: LinkDuplicateOf, TargetDefectID: b.ID})
	require.NoError(t, err)
	assert.Equal(t, LinkDuplicateOf, link.Type)
	assert.Equal(t, LinkTargetDefect, link.TargetType)

	var verr *ValidationError

	// Self links are rejected outright.
	_, err = svc.CreateLink(testContext(), a.ID, LinkRequest{Type: LinkRelatedTo, TargetDefectID: a.ID})
	require.ErrorAs(t, err, &verr)

	// Defect-targeted links need an existing target.
	_, err = svc.CreateLink(testContext(), a.ID, LinkRequest{Type: LinkRelatedTo, TargetDefectID: "ghost"})
	var nferr *NotFoundError
	require.ErrorAs(t, err, &nferr)

	// Blocks links target a gate entity, not a defect.
	_, err = svc.CreateLink(testContext(), a.ID, LinkRequest{Type: LinkBlocks})
	require.ErrorAs(t, err, &verr)
	blocks, err := svc.CreateLink(testContext(), a.ID, LinkRequest{Type: LinkBlocks, EntityType: "release", EntityID: "2025.10"})
	require.NoError(t, err)
	assert.Equal(t, "release", blocks.TargetType)

	links, err := svc.ListLinks(testContext(), a.ID)
	require.NoError(t, err)
	assert.Len(t, links, 2)

	// The reverse duplicate_of closes a two-node loop.
	_, err = svc.CreateLink(testContext(), b.ID, LinkRequest{Type: LinkDuplicateOf, TargetDefectID: a.ID})
	var cycle *CycleDetectedError
	require.ErrorAs(t, err, &cycle)

	require.NoError(t, svc.DeleteLink(testContext(), a.ID, link.ID))
	err = svc.DeleteLink(testContext(), a.ID, link.ID)
	require.ErrorAs(t, err, &nferr)

	// A link can only be deleted through its source defect.
	err = svc.DeleteLink(testContext(), b.ID, blocks.ID)
	require.ErrorAs(t, err, &nferr)
}

func TestService_SLAStatus(t *testing.T) {
	svc := newTestService(t)
	d := createDefect(t, svc, nil)

	info, err := svc.SLAStatus(testContext(), d.ID)
	require.NoError(t, err)
	assert.Nil(t, info, "no reading before the clock starts")

	transition(t, svc, d.ID, TransitionRequest{TargetStatus: StatusAssigned, AssignedTo: "bob"})
	info, err = svc.SLAStatus(testContext(), d.ID)
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, SLAOnTrack, info.Status)

	_, err = svc.SLAStatus(testContext(), "ghost")
	var nferr *NotFoundError
	require.ErrorAs(t, err, &nferr)
}

func TestService_GetDefectNotFound(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.GetDefect(testContext(), "ghost")
	var nferr *NotFoundError
	require.ErrorAs(t, err, &nferr)
}

func TestService_ListDefects(t *testing.T) {
	svc := newTestService(t)
	createDefect(t, svc, nil)
	createDefect(t, svc, func(r *CreateDefectRequest) { r.Severity = SeverityS1 })

	list, err := svc.ListDefects(testContext(), ListFilter{Severity: string(SeverityS1)}, 20, "")
	require.NoError(t, err)
	assert.Equal(t, int64(1), list.TotalSize)
	require.Len(t, list.Items, 1)
	assert.Equal(t, SeverityS1, list.Items[0].Severity)
}
