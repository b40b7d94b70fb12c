package conformance

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// testSeq is an atomic counter for generating unique test asset names.
var testSeq int64

// testRunPrefix is a unique prefix for this test binary invocation to avoid
// name collisions with stale DB records from prior runs.
var testRunPrefix = fmt.Sprintf("%d", time.Now().UnixMilli()%100000)

// testSeqNum returns a unique sequence number for naming test assets.
// The returned value includes a per-run prefix to avoid DB collisions.
func testSeqNum() string {
	n := atomic.AddInt64(&testSeq, 1)
	return fmt.Sprintf("%s-%d", testRunPrefix, n)
}

// defaultHeaders returns the standard identity headers for test requests.
// Sign-offs and audit attribution both need a principal. The manager role
// covers every grant, so the suite runs unchanged whether or not role
// authorization is enabled. Against a server in program tenancy mode, set
// TESTHUB_PROGRAM so every request carries a program scope.
func defaultHeaders() map[string]string {
	h := map[string]string{
		"X-User-Principal": "conformance-test",
		"X-User-Role":      "manager",
	}
	if p := os.Getenv("TESTHUB_PROGRAM"); p != "" {
		h["X-Program"] = p
	}
	return h
}

// headersWithRole returns the default headers with the role replaced, for
// exercising servers running with role-based authorization.
func headersWithRole(role string) map[string]string {
	h := defaultHeaders()
	h["X-User-Role"] = role
	return h
}

// actorHeaders returns the default headers with the principal replaced, so a
// test can attribute its writes to a unique actor.
func actorHeaders(actor string) map[string]string {
	h := defaultHeaders()
	h["X-User-Principal"] = actor
	return h
}

// step builds a step result input for recording requests.
func step(index int, outcome string) map[string]any {
	return map[string]any{"stepIndex": index, "outcome": outcome}
}

// skippedStep builds a skipped step input carrying the mandatory reason.
func skippedStep(index int, reason string) map[string]any {
	return map[string]any{"stepIndex": index, "outcome": "SKIPPED", "reason": reason}
}

// recordExecution posts an execution and fails the test on anything but 201.
func recordExecution(t *testing.T, body map[string]any) executionResponse {
	t.Helper()
	resp := doRequest(t, http.MethodPost, serverURL+executionsAPI+"/executions", body, defaultHeaders())
	requireStatus(t, resp, http.StatusCreated)
	var exec executionResponse
	decodeJSON(t, resp, &exec)
	return exec
}

// passingExecution records an n-step execution with every step passed.
func passingExecution(t *testing.T, testCaseID, runID string, n int) executionResponse {
	t.Helper()
	steps := make([]map[string]any, 0, n)
	for i := 1; i <= n; i++ {
		steps = append(steps, step(i, "PASS"))
	}
	return recordExecution(t, map[string]any{
		"testCaseId": testCaseID,
		"runId":      runID,
		"totalSteps": n,
		"steps":      steps,
	})
}

// failingExecution records a two-step execution whose second step failed.
func failingExecution(t *testing.T, testCaseID, runID string) executionResponse {
	t.Helper()
	return recordExecution(t, map[string]any{
		"testCaseId": testCaseID,
		"runId":      runID,
		"totalSteps": 2,
		"steps":      []map[string]any{step(1, "PASS"), step(2, "FAIL")},
	})
}

// createDefect posts a defect and fails the test on anything but 201.
func createDefect(t *testing.T, body map[string]any) defectResponse {
	t.Helper()
	resp := doRequest(t, http.MethodPost, serverURL+defectsAPI+"/defects", body, defaultHeaders())
	requireStatus(t, resp, http.StatusCreated)
	var d defectResponse
	decodeJSON(t, resp, &d)
	return d
}

// simpleDefect creates a defect with just a title, severity, and priority.
func simpleDefect(t *testing.T, title, severity, priority string) defectResponse {
	t.Helper()
	return createDefect(t, map[string]any{
		"title":    title,
		"severity": severity,
		"priority": priority,
	})
}

// transitionDefect posts a lifecycle transition and returns the raw response.
// The caller decides which status codes are acceptable.
func transitionDefect(t *testing.T, defectID string, body map[string]any) *http.Response {
	t.Helper()
	return doRequest(t, http.MethodPost, serverURL+defectsAPI+"/defects/"+defectID+"/transitions", body, defaultHeaders())
}

// mustTransition posts a lifecycle transition and fails the test unless the
// server accepts it.
func mustTransition(t *testing.T, defectID string, body map[string]any) defectResponse {
	t.Helper()
	resp := transitionDefect(t, defectID, body)
	requireStatus(t, resp, http.StatusOK)
	var d defectResponse
	decodeJSON(t, resp, &d)
	return d
}

// ensureDefectAtStatus creates a defect and walks it through valid lifecycle
// transitions until it reaches the target status.
func ensureDefectAtStatus(t *testing.T, title, target string) defectResponse {
	t.Helper()
	d := simpleDefect(t, title, "S2", "P2")

	type hop struct {
		to   string
		body map[string]any
	}
	paths := map[string][]hop{
		"NEW":         {},
		"ASSIGNED":    {{to: "ASSIGNED", body: map[string]any{"assignedTo": "dev-lee"}}},
		"IN_PROGRESS": {{to: "ASSIGNED", body: map[string]any{"assignedTo": "dev-lee"}}, {to: "IN_PROGRESS"}},
		"RESOLVED": {
			{to: "ASSIGNED", body: map[string]any{"assignedTo": "dev-lee"}},
			{to: "IN_PROGRESS"},
			{to: "RESOLVED", body: map[string]any{"resolutionType": "fixed"}},
		},
		"RETEST": {
			{to: "ASSIGNED", body: map[string]any{"assignedTo": "dev-lee"}},
			{to: "IN_PROGRESS"},
			{to: "RESOLVED", body: map[string]any{"resolutionType": "fixed"}},
			{to: "RETEST"},
		},
	}

	hops, ok := paths[target]
	if !ok {
		t.Fatalf("no setup path to defect status %s", target)
	}
	for _, h := range hops {
		body := map[string]any{"targetStatus": h.to}
		for k, v := range h.body {
			body[k] = v
		}
		d = mustTransition(t, d.ID, body)
	}
	if d.Status != target {
		t.Fatalf("setup expected defect at %s, got %s", target, d.Status)
	}
	return d
}

// createCriterion posts a gate criterion and fails the test on anything but 201.
func createCriterion(t *testing.T, body map[string]any) criterionResponse {
	t.Helper()
	resp := doRequest(t, http.MethodPost, serverURL+gatesAPI+"/gates/criteria", body, defaultHeaders())
	requireStatus(t, resp, http.StatusCreated)
	var c criterionResponse
	decodeJSON(t, resp, &c)
	return c
}

// deleteCriterion removes a criterion, tolerating an already-deleted one.
func deleteCriterion(t *testing.T, id string) {
	t.Helper()
	resp := doRequest(t, http.MethodDelete, serverURL+gatesAPI+"/gates/criteria/"+id, nil, defaultHeaders())
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusNotFound {
		t.Errorf("deleting criterion %s returned %d", id, resp.StatusCode)
	}
}

// evaluateGate runs a gate evaluation and fails the test on anything but 200.
func evaluateGate(t *testing.T, entityType, entityID string, body map[string]any) verdictResponse {
	t.Helper()
	path := fmt.Sprintf("%s/gates/targets/%s/%s/evaluations", gatesAPI, entityType, entityID)
	resp := doRequest(t, http.MethodPost, serverURL+path, body, defaultHeaders())
	requireStatus(t, resp, http.StatusOK)
	var verdict verdictResponse
	decodeJSON(t, resp, &verdict)
	return verdict
}

// tenancyMode probes the server's tenancy mode once. In program mode the
// programs endpoint rejects requests without a program header, which itself
// identifies the mode.
var (
	tenancyOnce  sync.Once
	tenancyValue string
)

func tenancyMode(t *testing.T) string {
	t.Helper()
	tenancyOnce.Do(func() {
		resp := doRequest(t, http.MethodGet, serverURL+tenancyAPI+"/programs", nil, nil)
		defer resp.Body.Close()
		if resp.StatusCode == http.StatusBadRequest {
			tenancyValue = "program"
			return
		}
		var programs struct {
			Mode string `json:"mode"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&programs); err != nil {
			tenancyValue = "single"
			return
		}
		tenancyValue = programs.Mode
	})
	return tenancyValue
}

// rbacEnabled probes whether role-based authorization is active. A criterion
// create with a viewer role and an empty body is rejected with 403 when the
// role guard runs, and with 400 (validation) when authorization is off, so
// the probe never creates anything.
var (
	rbacOnce   sync.Once
	rbacActive bool
)

func rbacEnabled(t *testing.T) bool {
	t.Helper()
	rbacOnce.Do(func() {
		resp := doRequest(t, http.MethodPost, serverURL+gatesAPI+"/gates/criteria",
			map[string]any{}, headersWithRole("viewer"))
		resp.Body.Close()
		rbacActive = resp.StatusCode == http.StatusForbidden
	})
	return rbacActive
}
