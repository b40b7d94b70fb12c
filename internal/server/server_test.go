package server

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/umutsoyyilmaz/SAP-Transformation-Platform-sub009/pkg/defect"
	"github.com/umutsoyyilmaz/SAP-Transformation-Platform-sub009/pkg/execution"
	"github.com/umutsoyyilmaz/SAP-Transformation-Platform-sub009/pkg/gate"
)

func newTestServer(t *testing.T, opts ...ServerOption) *Server {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	srv := NewServer(db, "sqlite", ":memory:", slog.Default(), opts...)
	require.NoError(t, srv.Init(context.Background()))
	srv.MountRoutes()
	return srv
}

func serveJSON(t *testing.T, srv *Server, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("X-User-Principal", "smoke-tester")
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), "body: %s", rec.Body.String())
	return out
}

// TestServerEndToEnd drives the whole loop through the mounted router:
// record executions, raise and link a defect, configure a criterion,
// evaluate the gate, and confirm the verdict change landed in the
// notification outbox and the audit trail.
func TestServerEndToEnd(t *testing.T) {
	srv := newTestServer(t)

	// Record one passing and one failing execution in the same run.
	rec := serveJSON(t, srv, "POST", "/api/executions/v1alpha1/executions", execution.RecordExecutionRequest{
		TestCaseID: "tc-login",
		RunID:      "run-sprint-9",
		Steps:      []execution.StepResultInput{{StepIndex: 1, Outcome: execution.StepPass}},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = serveJSON(t, srv, "POST", "/api/executions/v1alpha1/executions", execution.RecordExecutionRequest{
		TestCaseID: "tc-checkout",
		RunID:      "run-sprint-9",
		Steps:      []execution.StepResultInput{{StepIndex: 1, Outcome: execution.StepFail, Reason: "500 on submit"}},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	failed := decode[execution.Execution](t, rec)
	assert.Equal(t, execution.StatusFail, failed.Status)

	// Run summary reflects both latest executions.
	rec = serveJSON(t, srv, "GET", "/api/executions/v1alpha1/runs/run-sprint-9/summary", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	summary := decode[execution.RunSummary](t, rec)
	assert.Equal(t, int64(2), summary.TotalCases)
	assert.InDelta(t, 50.0, summary.PassRate, 0.01)

	// Raise a defect from the failed execution and block the release with it.
	rec = serveJSON(t, srv, "POST", "/api/defects/v1alpha1/defects", defect.CreateDefectRequest{
		Title:             "checkout returns 500",
		Severity:          defect.SeverityS2,
		Priority:          defect.PriorityP2,
		OriginExecutionID: failed.ID,
		TestCaseID:        "tc-checkout",
		RunID:             "run-sprint-9",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	d := decode[defect.Defect](t, rec)
	assert.Equal(t, defect.StatusNew, d.Status)

	rec = serveJSON(t, srv, "POST", "/api/defects/v1alpha1/defects/"+d.ID+"/links", defect.LinkRequest{
		Type:       defect.LinkBlocks,
		EntityType: "release",
		EntityID:   "rel-2026.3",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	// Configure a blocking pass-rate criterion and evaluate the release gate.
	rec = serveJSON(t, srv, "POST", "/api/gates/v1alpha1/gates/criteria", gate.CreateCriterionRequest{
		Name:       "pass rate 90",
		Kind:       gate.KindPassRate,
		Threshold:  90,
		IsBlocking: true,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = serveJSON(t, srv, "POST", "/api/gates/v1alpha1/gates/targets/release/rel-2026.3/evaluations", gate.EvaluateRequest{
		Runs: []string{"run-sprint-9"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	verdict := decode[gate.GateVerdict](t, rec)
	assert.False(t, verdict.CanProceed)
	assert.True(t, verdict.BlockingFailed)
	require.Len(t, verdict.Criteria, 1)
	assert.InDelta(t, 50.0, verdict.Criteria[0].ActualValue, 0.01)
	assert.Len(t, verdict.BlockingDefects, 1)

	// The verdict change was enqueued for delivery.
	rec = serveJSON(t, srv, "GET", "/api/notifications/v1alpha1/notifications", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var notifications struct {
		Items []map[string]any `json:"items"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &notifications))
	require.NotEmpty(t, notifications.Items)

	// The state-changing requests above left an audit trail.
	rec = serveJSON(t, srv, "GET", "/api/audit/v1alpha1/events", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var events struct {
		Events []map[string]any `json:"events"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &events))
	assert.NotEmpty(t, events.Events)
}

func TestServerHealthEndpoints(t *testing.T) {
	srv := newTestServer(t)

	for _, path := range []string{"/healthz", "/livez"} {
		rec := serveJSON(t, srv, "GET", path, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		body := decode[map[string]string](t, rec)
		assert.Equal(t, "alive", body["status"])
		assert.NotEmpty(t, body["uptime"])
	}

	rec := serveJSON(t, srv, "GET", "/readyz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var ready struct {
		Status     string                       `json:"status"`
		Components map[string]map[string]string `json:"components"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ready))
	assert.Equal(t, "ready", ready.Status)
	assert.Equal(t, "up", ready.Components["database"]["status"])
	assert.Equal(t, "complete", ready.Components["initialization"]["status"])
	assert.Equal(t, "not_configured", ready.Components["leader_election"]["status"])
}

func TestServerReadyzBeforeInit(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	srv := NewServer(db, "sqlite", ":memory:", slog.Default())
	srv.MountRoutes()

	rec := serveJSON(t, srv, "GET", "/readyz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "not_ready")
}

func TestServerProgramsEndpoint(t *testing.T) {
	srv := newTestServer(t)

	rec := serveJSON(t, srv, "GET", "/api/tenancy/v1alpha1/programs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Programs []string `json:"programs"`
		Mode     string   `json:"mode"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, []string{"default"}, body.Programs)
	assert.Equal(t, "single", body.Mode)
}

func TestServerIsLeaderWithoutElection(t *testing.T) {
	srv := newTestServer(t)
	assert.True(t, srv.IsLeader())
}

func TestServerStop(t *testing.T) {
	srv := newTestServer(t)
	require.NoError(t, srv.Stop(context.Background()))
}
