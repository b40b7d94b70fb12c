package gate

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umutsoyyilmaz/SAP-Transformation-Platform-sub009/pkg/defect"
	"github.com/umutsoyyilmaz/SAP-Transformation-Platform-sub009/pkg/execution"
)

type fakeExecutions struct {
	byRun map[string]map[execution.ExecutionStatus]int64
	err   error
	asked []string
}

func (f *fakeExecutions) LatestStatusCounts(_ string, runID string) (map[execution.ExecutionStatus]int64, error) {
	f.asked = append(f.asked, runID)
	if f.err != nil {
		return nil, f.err
	}
	return f.byRun[runID], nil
}

type fakeDefects struct {
	open        map[string]int64
	openErr     error
	blockers    []defect.DefectRecord
	blockersErr error
	askedFilter []string
}

func (f *fakeDefects) OpenDefectCount(_ string, severities []string) (int64, error) {
	f.askedFilter = severities
	if f.openErr != nil {
		return 0, f.openErr
	}
	return f.open[strings.Join(severities, ",")], nil
}

func (f *fakeDefects) BlockingDefects(_, _, _ string) ([]defect.DefectRecord, error) {
	if f.blockersErr != nil {
		return nil, f.blockersErr
	}
	return f.blockers, nil
}

type fakeApprovals struct {
	roles []string
	err   error
}

func (f *fakeApprovals) SignoffRoles(_, _, _ string) ([]string, error) {
	return f.roles, f.err
}

type fakeCoverage struct {
	covered int64
	total   int64
	err     error
}

func (f *fakeCoverage) CoverageStats(_, _, _ string) (int64, int64, error) {
	return f.covered, f.total, f.err
}

type engineFixture struct {
	executions *fakeExecutions
	defects    *fakeDefects
	approvals  *fakeApprovals
	coverage   *fakeCoverage
	engine     *Engine
}

// newEngineFixture wires an engine over in-memory fakes. The default scope
// has 48 passed, 1 failed, 1 blocked, and 10 not-run executions under the
// run "sit-cycle-1" (pass rate 96, completion 83.33).
func newEngineFixture() *engineFixture {
	f := &engineFixture{
		executions: &fakeExecutions{byRun: map[string]map[execution.ExecutionStatus]int64{
			"sit-cycle-1": {
				execution.StatusPass:    48,
				execution.StatusFail:    1,
				execution.StatusBlocked: 1,
				execution.StatusNotRun:  10,
			},
		}},
		defects:   &fakeDefects{open: map[string]int64{}},
		approvals: &fakeApprovals{},
		coverage:  &fakeCoverage{},
	}
	f.engine = NewEngine(f.executions, f.defects, f.approvals, f.coverage, nil)
	return f
}

func (f *engineFixture) evaluate(t *testing.T, criteria ...Criterion) *GateVerdict {
	t.Helper()
	verdict, err := f.engine.Evaluate(context.Background(),
		"default",
		Target{EntityType: TargetCycle, EntityID: "sit-cycle-1", GateType: GateCycleExit},
		criteria)
	require.NoError(t, err)
	return verdict
}

func TestEngine_PassRate(t *testing.T) {
	f := newEngineFixture()

	verdict := f.evaluate(t, Criterion{
		ID: "c1", Name: "SIT pass rate", Kind: KindPassRate,
		Operator: OpGTE, Threshold: 95, IsBlocking: true,
	})

	require.Len(t, verdict.Criteria, 1)
	result := verdict.Criteria[0]
	assert.InDelta(t, 96.0, result.ActualValue, 0.001)
	assert.True(t, result.Passed)
	assert.True(t, verdict.AllPassed)
	assert.True(t, verdict.CanProceed)
}

func TestEngine_PassRateExcludesNotRun(t *testing.T) {
	// 10 not-run executions must not dilute the rate: the denominator is
	// executed cases only.
	f := newEngineFixture()
	f.executions.byRun["sit-cycle-1"] = map[execution.ExecutionStatus]int64{
		execution.StatusPass:   9,
		execution.StatusFail:   1,
		execution.StatusNotRun: 90,
	}

	verdict := f.evaluate(t, Criterion{ID: "c1", Kind: KindPassRate, Operator: OpGTE, Threshold: 90})

	assert.InDelta(t, 90.0, verdict.Criteria[0].ActualValue, 0.001)
	assert.True(t, verdict.Criteria[0].Passed)
}

func TestEngine_ExecutionComplete(t *testing.T) {
	f := newEngineFixture()

	verdict := f.evaluate(t, Criterion{
		ID: "c1", Name: "execution progress", Kind: KindExecutionComplete,
		Operator: OpGTE, Threshold: 90,
	})

	result := verdict.Criteria[0]
	assert.InDelta(t, 83.333, result.ActualValue, 0.001)
	assert.False(t, result.Passed)
	assert.False(t, verdict.AllPassed)
	assert.True(t, verdict.CanProceed, "non-blocking miss must not hold the gate")
}

func TestEngine_DefectCount(t *testing.T) {
	f := newEngineFixture()
	f.defects.open["S1,S2"] = 3

	verdict := f.evaluate(t, Criterion{
		ID: "c1", Name: "no critical defects", Kind: KindDefectCount,
		Operator: OpEQ, Threshold: 0, SeverityFilter: []string{"S1", "S2"}, IsBlocking: true,
	})

	result := verdict.Criteria[0]
	assert.Equal(t, []string{"S1", "S2"}, f.defects.askedFilter)
	assert.InDelta(t, 3.0, result.ActualValue, 0.001)
	assert.False(t, result.Passed)
	assert.True(t, verdict.BlockingFailed)
	assert.False(t, verdict.CanProceed)
}

func TestEngine_Coverage(t *testing.T) {
	f := newEngineFixture()
	f.coverage.covered = 8
	f.coverage.total = 10

	verdict := f.evaluate(t, Criterion{
		ID: "c1", Kind: KindCoverage, Operator: OpGTE, Threshold: 80,
	})

	assert.InDelta(t, 80.0, verdict.Criteria[0].ActualValue, 0.001)
	assert.True(t, verdict.Criteria[0].Passed)
}

func TestEngine_ApprovalComplete(t *testing.T) {
	tests := []struct {
		name     string
		present  []string
		required []string
		want     float64
	}{
		{"all required roles signed", []string{"qa_lead", "release_manager"}, []string{"qa_lead", "release_manager"}, 1},
		{"extra roles do not hurt", []string{"qa_lead", "release_manager", "cutover_lead"}, []string{"qa_lead"}, 1},
		{"missing role", []string{"qa_lead"}, []string{"qa_lead", "release_manager"}, 0},
		{"no signoffs at all", nil, []string{"qa_lead"}, 0},
		{"no required roles, any signoff satisfies", []string{"anyone"}, nil, 1},
		{"no required roles, no signoffs", nil, nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newEngineFixture()
			f.approvals.roles = tt.present

			verdict := f.evaluate(t, Criterion{
				ID: "c1", Kind: KindApprovalComplete, Operator: OpEQ, Threshold: 1,
				RequiredRoles: tt.required,
			})

			result := verdict.Criteria[0]
			assert.InDelta(t, tt.want, result.ActualValue, 0.001)
			assert.Equal(t, tt.want == 1, result.Passed)
		})
	}
}

func TestEngine_CustomExpression(t *testing.T) {
	f := newEngineFixture()
	f.defects.open["S1"] = 0

	verdict := f.evaluate(t, Criterion{
		ID: "c1", Name: "composite exit check", Kind: KindCustom,
		Operator: OpEQ, Threshold: 1,
		Expression: `pass_rate >= 95 && open_defects("S1") == 0`,
	})

	result := verdict.Criteria[0]
	require.Empty(t, result.Error)
	assert.InDelta(t, 1.0, result.ActualValue, 0.001)
	assert.True(t, result.Passed)
}

func TestEngine_CustomExpressionArithmetic(t *testing.T) {
	f := newEngineFixture()

	verdict := f.evaluate(t, Criterion{
		ID: "c1", Kind: KindCustom, Operator: OpGTE, Threshold: 95,
		Expression: `(passed / executed) * 100`,
	})

	result := verdict.Criteria[0]
	require.Empty(t, result.Error)
	assert.InDelta(t, 96.0, result.ActualValue, 0.001)
	assert.True(t, result.Passed)
}

func TestEngine_CustomUnknownFactFails(t *testing.T) {
	f := newEngineFixture()
	f.coverage.total = 0 // nothing marked, so the coverage fact is absent

	verdict := f.evaluate(t, Criterion{
		ID: "c1", Kind: KindCustom, Operator: OpEQ, Threshold: 1,
		Expression: `coverage >= 90`,
	})

	result := verdict.Criteria[0]
	assert.False(t, result.Passed)
	assert.Contains(t, result.Error, "coverage")
}

func TestEngine_BlockingDefectOverride(t *testing.T) {
	// Perfect numbers, but one open defect holds a blocks link against the
	// cycle: the gate must not open.
	f := newEngineFixture()
	f.executions.byRun["sit-cycle-1"] = map[execution.ExecutionStatus]int64{
		execution.StatusPass: 50,
	}
	f.defects.blockers = []defect.DefectRecord{{
		ID: "d-77", Title: "posting run aborts on FX rounding", Severity: "S2", Status: "in_progress",
	}}

	verdict := f.evaluate(t, Criterion{
		ID: "c1", Kind: KindPassRate, Operator: OpGTE, Threshold: 95, IsBlocking: true,
	})

	assert.True(t, verdict.AllPassed, "the pass-rate criterion itself is satisfied")
	assert.True(t, verdict.BlockingFailed)
	assert.False(t, verdict.CanProceed)
	require.Len(t, verdict.BlockingDefects, 1)
	assert.Equal(t, "d-77", verdict.BlockingDefects[0].DefectID)
	assert.Equal(t, "S2", verdict.BlockingDefects[0].Severity)
	assert.Equal(t, []string{"d-77"}, verdict.BlockingDefectIDs)
}

func TestEngine_NonBlockingMissStillProceeds(t *testing.T) {
	f := newEngineFixture()
	f.coverage.covered = 8
	f.coverage.total = 10

	verdict := f.evaluate(t,
		Criterion{ID: "c1", Kind: KindPassRate, Operator: OpGTE, Threshold: 95, IsBlocking: true},
		Criterion{ID: "c2", Kind: KindCoverage, Operator: OpGTE, Threshold: 90, IsBlocking: false},
	)

	require.Len(t, verdict.Criteria, 2)
	assert.True(t, verdict.Criteria[0].Passed)
	assert.False(t, verdict.Criteria[1].Passed)
	assert.False(t, verdict.AllPassed)
	assert.False(t, verdict.BlockingFailed)
	assert.True(t, verdict.CanProceed)
}

func TestEngine_ScoringErrorDoesNotAbort(t *testing.T) {
	f := newEngineFixture()
	f.executions.err = errors.New("executions store unavailable")
	f.coverage.covered = 9
	f.coverage.total = 10

	verdict := f.evaluate(t,
		Criterion{ID: "c1", Kind: KindPassRate, Operator: OpGTE, Threshold: 95, IsBlocking: true},
		Criterion{ID: "c2", Kind: KindCoverage, Operator: OpGTE, Threshold: 80},
	)

	require.Len(t, verdict.Criteria, 2)
	assert.Contains(t, verdict.Criteria[0].Error, "executions store unavailable")
	assert.False(t, verdict.Criteria[0].Passed)
	assert.Empty(t, verdict.Criteria[1].Error, "the coverage source is fine and must still be scored")
	assert.True(t, verdict.Criteria[1].Passed)
	assert.False(t, verdict.AllPassed)
	assert.True(t, verdict.BlockingFailed, "an unscorable blocking criterion fails closed")
	assert.False(t, verdict.CanProceed)
}

func TestEngine_BlockerReadFailureAborts(t *testing.T) {
	f := newEngineFixture()
	f.defects.blockersErr = errors.New("defects store unavailable")

	_, err := f.engine.Evaluate(context.Background(), "default",
		Target{EntityType: TargetCycle, EntityID: "sit-cycle-1", GateType: GateCycleExit},
		[]Criterion{{ID: "c1", Kind: KindPassRate, Operator: OpGTE, Threshold: 95}})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "list blocking defects")
}

func TestEngine_EmptyScope(t *testing.T) {
	f := newEngineFixture()
	f.executions.byRun = map[string]map[execution.ExecutionStatus]int64{}

	verdict := f.evaluate(t, Criterion{ID: "c1", Kind: KindPassRate, Operator: OpGTE, Threshold: 95})

	result := verdict.Criteria[0]
	assert.False(t, result.Passed)
	assert.Contains(t, result.Error, "no executed test cases")
}

func TestEngine_NoCriteria(t *testing.T) {
	f := newEngineFixture()

	verdict := f.evaluate(t)
	assert.True(t, verdict.AllPassed)
	assert.True(t, verdict.CanProceed)

	// The blocks override still applies with nothing configured.
	f.defects.blockers = []defect.DefectRecord{{ID: "d-1", Title: "blocker", Severity: "S1", Status: "new"}}
	verdict = f.evaluate(t)
	assert.True(t, verdict.AllPassed)
	assert.False(t, verdict.CanProceed)
}

func TestEngine_RunScope(t *testing.T) {
	f := newEngineFixture()
	f.executions.byRun["uat-run-a"] = map[execution.ExecutionStatus]int64{execution.StatusPass: 10}
	f.executions.byRun["uat-run-b"] = map[execution.ExecutionStatus]int64{
		execution.StatusPass: 5,
		execution.StatusFail: 5,
	}

	verdict, err := f.engine.Evaluate(context.Background(), "default",
		Target{EntityType: TargetPlan, EntityID: "uat-plan", GateType: GatePlanExit, Runs: []string{"uat-run-a", "uat-run-b"}},
		[]Criterion{{ID: "c1", Kind: KindPassRate, Operator: OpGTE, Threshold: 80}})
	require.NoError(t, err)

	assert.Equal(t, []string{"uat-run-a", "uat-run-b"}, f.executions.asked)
	assert.InDelta(t, 75.0, verdict.Criteria[0].ActualValue, 0.001)
	assert.False(t, verdict.Criteria[0].Passed)
}

func TestEngine_RunScopeDefaultsToEntity(t *testing.T) {
	f := newEngineFixture()
	f.evaluate(t, Criterion{ID: "c1", Kind: KindPassRate, Operator: OpGTE, Threshold: 95})
	assert.Equal(t, []string{"sit-cycle-1"}, f.executions.asked)
}

func TestOperator_Compare(t *testing.T) {
	tests := []struct {
		op        Operator
		actual    float64
		threshold float64
		want      bool
	}{
		{OpGTE, 95, 95, true},
		{OpGTE, 94.9, 95, false},
		{OpLTE, 0, 0, true},
		{OpLTE, 1, 0, false},
		{OpEQ, 1, 1, true},
		{OpEQ, 0, 1, false},
		{OpGT, 95.1, 95, true},
		{OpGT, 95, 95, false},
		{OpLT, 4, 5, true},
		{OpLT, 5, 5, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.op), func(t *testing.T) {
			got, err := tt.op.Compare(tt.actual, tt.threshold)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := Operator("~=").Compare(1, 1)
	assert.Error(t, err)
}
