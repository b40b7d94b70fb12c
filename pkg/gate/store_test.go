package gate

import (
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/umutsoyyilmaz/SAP-Transformation-Platform-sub009/pkg/audit"
)

// newTestGateStore creates an in-memory SQLite-backed gate store with the
// audit table migrated alongside it.
func newTestGateStore(t *testing.T) (*Store, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	store := NewStore(db)
	require.NoError(t, store.AutoMigrate())
	require.NoError(t, audit.NewStore(db).AutoMigrate())
	return store, db
}

func createTestCriterion(t *testing.T, store *Store, mutate func(*CriterionRecord)) *CriterionRecord {
	t.Helper()
	rec := &CriterionRecord{
		ID:        uuid.New().String(),
		Program:   "default",
		GateType:  string(GateCycleExit),
		Name:      "SIT pass rate",
		Kind:      string(KindPassRate),
		Operator:  string(OpGTE),
		Threshold: 95,
		Active:    true,
	}
	if mutate != nil {
		mutate(rec)
	}
	require.NoError(t, store.CreateCriterion(rec, nil))
	return rec
}

func TestStore_CriterionCreateAndGet(t *testing.T) {
	store, _ := newTestGateStore(t)
	rec := createTestCriterion(t, store, nil)

	got, err := store.GetCriterion("default", rec.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "SIT pass rate", got.Name)
	assert.True(t, got.Active)

	missing, err := store.GetCriterion("default", "no-such-criterion")
	require.NoError(t, err)
	assert.Nil(t, missing)

	// Programs do not see each other's criteria.
	crossProgram, err := store.GetCriterion("program-b", rec.ID)
	require.NoError(t, err)
	assert.Nil(t, crossProgram)
}

func TestStore_CriterionCreateWritesAudit(t *testing.T) {
	store, db := newTestGateStore(t)
	rec := &CriterionRecord{
		ID:       uuid.New().String(),
		Program:  "default",
		GateType: string(GateRelease),
		Name:     "no open criticals",
		Kind:     string(KindDefectCount),
		Operator: string(OpEQ),
		Active:   true,
	}
	event := &audit.Event{
		ID:           uuid.New().String(),
		Program:      "default",
		EventType:    audit.EventTypeManagement,
		Actor:        "alice",
		ResourceType: "gate_criteria",
		ResourceID:   rec.ID,
		Action:       "create",
		Outcome:      audit.OutcomeSuccess,
	}
	require.NoError(t, store.CreateCriterion(rec, event))

	var count int64
	require.NoError(t, db.Model(&audit.Event{}).Where("resource_id = ?", rec.ID).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestStore_ListCriteriaFilters(t *testing.T) {
	store, _ := newTestGateStore(t)
	base := time.Date(2025, 4, 2, 8, 0, 0, 0, time.UTC)

	seed := []struct {
		name     string
		gateType GateType
		kind     CriterionKind
		active   bool
	}{
		{"sit pass rate", GateCycleExit, KindPassRate, true},
		{"sit completion", GateCycleExit, KindExecutionComplete, false},
		{"uat approvals", GatePlanExit, KindApprovalComplete, true},
		{"release coverage", GateRelease, KindCoverage, true},
	}
	for i, c := range seed {
		i, c := i, c
		createTestCriterion(t, store, func(r *CriterionRecord) {
			r.Name = c.name
			r.GateType = string(c.gateType)
			r.Kind = string(c.kind)
			r.Active = c.active
			r.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		})
	}

	all, err := store.ListCriteria("default", CriterionFilter{})
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, "sit pass rate", all[0].Name, "listed oldest first")

	cycleExit, err := store.ListCriteria("default", CriterionFilter{GateType: string(GateCycleExit)})
	require.NoError(t, err)
	assert.Len(t, cycleExit, 2)

	activeCycleExit, err := store.ListCriteria("default", CriterionFilter{GateType: string(GateCycleExit), ActiveOnly: true})
	require.NoError(t, err)
	require.Len(t, activeCycleExit, 1)
	assert.Equal(t, "sit pass rate", activeCycleExit[0].Name)

	coverage, err := store.ListCriteria("default", CriterionFilter{Kind: string(KindCoverage)})
	require.NoError(t, err)
	require.Len(t, coverage, 1)
	assert.Equal(t, "release coverage", coverage[0].Name)
}

func TestStore_UpdateCriterion(t *testing.T) {
	store, _ := newTestGateStore(t)
	rec := createTestCriterion(t, store, nil)

	found, err := store.UpdateCriterion("default", rec.ID, map[string]any{
		"threshold":   98.0,
		"is_blocking": true,
	}, nil)
	require.NoError(t, err)
	assert.True(t, found)

	got, err := store.GetCriterion("default", rec.ID)
	require.NoError(t, err)
	assert.InDelta(t, 98.0, got.Threshold, 0.001)
	assert.True(t, got.IsBlocking)

	found, err = store.UpdateCriterion("default", "no-such-criterion", map[string]any{"threshold": 1.0}, nil)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestStore_DeleteCriterion(t *testing.T) {
	store, _ := newTestGateStore(t)
	rec := createTestCriterion(t, store, nil)

	found, err := store.DeleteCriterion("default", rec.ID, nil)
	require.NoError(t, err)
	assert.True(t, found)

	got, err := store.GetCriterion("default", rec.ID)
	require.NoError(t, err)
	assert.Nil(t, got)

	found, err = store.DeleteCriterion("default", rec.ID, nil)
	require.NoError(t, err)
	assert.False(t, found)
}

func appendTestEvaluation(t *testing.T, store *Store, entityID string, createdAt time.Time, canProceed bool) *VerdictRecord {
	t.Helper()
	group := uuid.New().String()
	verdict := &VerdictRecord{
		ID:          group,
		Program:     "default",
		EntityType:  TargetCycle,
		EntityID:    entityID,
		GateType:    string(GateCycleExit),
		AllPassed:   canProceed,
		CanProceed:  canProceed,
		EvaluatedBy: "alice",
		CreatedAt:   createdAt,
	}
	rows := []EvaluationRecord{
		{
			ID: uuid.New().String(), Program: "default",
			EntityType: TargetCycle, EntityID: entityID, GateType: string(GateCycleExit),
			GroupID: group, Position: 0, CriterionID: "c-rate", CriterionName: "pass rate",
			Kind: string(KindPassRate), Operator: string(OpGTE), Threshold: 95,
			ActualValue: 96, Passed: true, CreatedAt: createdAt,
		},
		{
			ID: uuid.New().String(), Program: "default",
			EntityType: TargetCycle, EntityID: entityID, GateType: string(GateCycleExit),
			GroupID: group, Position: 1, CriterionID: "c-defects", CriterionName: "open criticals",
			Kind: string(KindDefectCount), Operator: string(OpEQ), Threshold: 0,
			ActualValue: 0, Passed: canProceed, IsBlocking: true, CreatedAt: createdAt,
		},
	}
	require.NoError(t, store.AppendEvaluation(verdict, rows, nil))
	return verdict
}

func TestStore_AppendEvaluationAtomic(t *testing.T) {
	store, db := newTestGateStore(t)
	verdict := appendTestEvaluation(t, store, "sit-cycle-1", time.Now().UTC(), true)

	event := &audit.Event{
		ID:           uuid.New().String(),
		Program:      "default",
		EventType:    audit.EventTypeEvaluation,
		Actor:        "alice",
		ResourceType: "gates",
		ResourceID:   "sit-cycle-1",
		Action:       "evaluate",
		Outcome:      audit.OutcomeSuccess,
	}
	second := &VerdictRecord{
		ID: uuid.New().String(), Program: "default",
		EntityType: TargetCycle, EntityID: "sit-cycle-1", GateType: string(GateCycleExit),
	}
	require.NoError(t, store.AppendEvaluation(second, nil, event))

	var verdicts, events int64
	require.NoError(t, db.Model(&VerdictRecord{}).Count(&verdicts).Error)
	require.NoError(t, db.Model(&audit.Event{}).Where("action = ?", "evaluate").Count(&events).Error)
	assert.Equal(t, int64(2), verdicts)
	assert.Equal(t, int64(1), events)

	rows, err := store.GroupEvaluations("default", verdict.ID)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "c-rate", rows[0].CriterionID, "rows come back in scoring order")
	assert.Equal(t, "c-defects", rows[1].CriterionID)
}

func TestStore_EvaluationHistoryPagination(t *testing.T) {
	store, _ := newTestGateStore(t)
	base := time.Date(2025, 4, 2, 8, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		appendTestEvaluation(t, store, "sit-cycle-1", base.Add(time.Duration(i)*time.Minute), true)
	}
	// Another target's history stays out of scope.
	appendTestEvaluation(t, store, "sit-cycle-2", base, true)

	var groups []string
	token := ""
	pages := 0
	for {
		records, next, total, err := store.ListEvaluations("default", TargetCycle, "sit-cycle-1", 4, token)
		require.NoError(t, err)
		assert.Equal(t, int64(6), total)
		for _, r := range records {
			groups = append(groups, fmt.Sprintf("%s/%d", r.GroupID[:8], r.Position))
		}
		pages++
		if next == "" {
			break
		}
		token = next
	}

	assert.Equal(t, 2, pages)
	assert.Len(t, groups, 6)

	_, _, _, err := store.ListEvaluations("default", TargetCycle, "sit-cycle-1", 4, "not-a-timestamp")
	assert.Error(t, err)
}

func TestStore_LatestVerdict(t *testing.T) {
	store, _ := newTestGateStore(t)

	missing, err := store.LatestVerdict("default", TargetCycle, "never-evaluated")
	require.NoError(t, err)
	assert.Nil(t, missing)

	base := time.Date(2025, 4, 2, 8, 0, 0, 0, time.UTC)
	appendTestEvaluation(t, store, "sit-cycle-1", base, false)
	latest := appendTestEvaluation(t, store, "sit-cycle-1", base.Add(time.Hour), true)

	got, err := store.LatestVerdict("default", TargetCycle, "sit-cycle-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, latest.ID, got.ID)
	assert.True(t, got.CanProceed)
}

func TestStore_SignoffRoles(t *testing.T) {
	store, _ := newTestGateStore(t)
	seed := []struct {
		role   string
		signer string
	}{
		{"qa_lead", "alice"},
		{"qa_lead", "dave"}, // same role signed twice
		{"release_manager", "erin"},
	}
	for _, s := range seed {
		require.NoError(t, store.CreateSignoff(&SignoffRecord{
			ID: uuid.New().String(), Program: "default",
			EntityType: TargetRelease, EntityID: "rel-2025-q2",
			Role: s.role, SignedBy: s.signer,
		}, nil))
	}

	roles, err := store.SignoffRoles("default", TargetRelease, "rel-2025-q2")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"qa_lead", "release_manager"}, roles)

	all, err := store.ListSignoffs("default", TargetRelease, "rel-2025-q2")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	none, err := store.SignoffRoles("default", TargetRelease, "rel-2025-q3")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestStore_CoverageStats(t *testing.T) {
	store, _ := newTestGateStore(t)
	seed := []struct {
		requirement string
		execution   string
	}{
		{"REQ-001", "exec-1"},
		{"REQ-001", "exec-2"}, // covered twice still counts once
		{"REQ-002", ""},       // in scope, not covered
		{"REQ-003", "exec-3"},
	}
	for _, m := range seed {
		require.NoError(t, store.CreateCoverageMark(&CoverageMarkRecord{
			ID: uuid.New().String(), Program: "default",
			EntityType: TargetCycle, EntityID: "sit-cycle-1",
			RequirementID: m.requirement, ExecutionID: m.execution,
			MarkedBy: "alice",
		}, nil))
	}

	covered, total, err := store.CoverageStats("default", TargetCycle, "sit-cycle-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), covered)
	assert.Equal(t, int64(3), total)

	covered, total, err = store.CoverageStats("default", TargetCycle, "sit-cycle-9")
	require.NoError(t, err)
	assert.Zero(t, covered)
	assert.Zero(t, total)
}
