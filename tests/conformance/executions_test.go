package conformance

import (
	"fmt"
	"net/http"
	"testing"
)

// TestExecutionRecording covers step-outcome aggregation at recording time.
func TestExecutionRecording(t *testing.T) {
	waitForReady(t)

	runID := fmt.Sprintf("run-rec-%s", testSeqNum())

	t.Run("all_pass", func(t *testing.T) {
		tc := fmt.Sprintf("tc-pass-%s", testSeqNum())
		exec := passingExecution(t, tc, runID, 3)

		if exec.ID == "" {
			t.Fatal("expected a generated execution id")
		}
		if exec.Status != "PASS" {
			t.Errorf("expected status PASS, got %s", exec.Status)
		}
		if exec.ExecutionNumber != 1 {
			t.Errorf("expected executionNumber 1, got %d", exec.ExecutionNumber)
		}
		if len(exec.Steps) != 3 {
			t.Errorf("expected 3 steps, got %d", len(exec.Steps))
		}
	})

	t.Run("fail_dominates", func(t *testing.T) {
		tc := fmt.Sprintf("tc-fail-%s", testSeqNum())
		exec := recordExecution(t, map[string]any{
			"testCaseId": tc,
			"runId":      runID,
			"totalSteps": 3,
			"steps":      []map[string]any{step(1, "PASS"), step(2, "FAIL"), step(3, "BLOCKED")},
		})
		if exec.Status != "FAIL" {
			t.Errorf("expected FAIL to dominate, got %s", exec.Status)
		}
	})

	t.Run("blocked_without_fail", func(t *testing.T) {
		tc := fmt.Sprintf("tc-blocked-%s", testSeqNum())
		exec := recordExecution(t, map[string]any{
			"testCaseId": tc,
			"runId":      runID,
			"totalSteps": 2,
			"steps":      []map[string]any{step(1, "PASS"), step(2, "BLOCKED")},
		})
		if exec.Status != "BLOCKED" {
			t.Errorf("expected BLOCKED, got %s", exec.Status)
		}
	})

	t.Run("pass_with_skips", func(t *testing.T) {
		tc := fmt.Sprintf("tc-skip-%s", testSeqNum())
		exec := recordExecution(t, map[string]any{
			"testCaseId": tc,
			"runId":      runID,
			"totalSteps": 2,
			"steps":      []map[string]any{step(1, "PASS"), skippedStep(2, "environment lacks printer")},
		})
		if exec.Status != "PASS" {
			t.Errorf("expected PASS with a reasoned skip, got %s", exec.Status)
		}
	})

	t.Run("all_skipped_is_not_run", func(t *testing.T) {
		tc := fmt.Sprintf("tc-allskip-%s", testSeqNum())
		exec := recordExecution(t, map[string]any{
			"testCaseId": tc,
			"runId":      runID,
			"totalSteps": 2,
			"steps":      []map[string]any{skippedStep(1, "out of scope"), skippedStep(2, "out of scope")},
		})
		if exec.Status != "NOT_RUN" {
			t.Errorf("expected NOT_RUN for an all-skipped result, got %s", exec.Status)
		}
	})

	t.Run("partial_steps_not_run", func(t *testing.T) {
		tc := fmt.Sprintf("tc-partial-%s", testSeqNum())
		exec := recordExecution(t, map[string]any{
			"testCaseId": tc,
			"runId":      runID,
			"totalSteps": 4,
			"steps":      []map[string]any{step(1, "PASS"), step(2, "PASS")},
		})
		if exec.Status != "NOT_RUN" {
			t.Errorf("expected NOT_RUN while steps remain, got %s", exec.Status)
		}
	})

	t.Run("skip_requires_reason", func(t *testing.T) {
		resp := doRequest(t, http.MethodPost, serverURL+executionsAPI+"/executions", map[string]any{
			"testCaseId": fmt.Sprintf("tc-badskip-%s", testSeqNum()),
			"runId":      runID,
			"totalSteps": 1,
			"steps":      []map[string]any{step(1, "SKIPPED")},
		}, defaultHeaders())
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("expected 400 for a skip without reason, got %d", resp.StatusCode)
		}
	})

	t.Run("step_index_out_of_range", func(t *testing.T) {
		resp := doRequest(t, http.MethodPost, serverURL+executionsAPI+"/executions", map[string]any{
			"testCaseId": fmt.Sprintf("tc-badidx-%s", testSeqNum()),
			"runId":      runID,
			"totalSteps": 2,
			"steps":      []map[string]any{step(5, "PASS")},
		}, defaultHeaders())
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("expected 400 for out-of-range step index, got %d", resp.StatusCode)
		}
	})

	t.Run("duplicate_step_index", func(t *testing.T) {
		resp := doRequest(t, http.MethodPost, serverURL+executionsAPI+"/executions", map[string]any{
			"testCaseId": fmt.Sprintf("tc-dupidx-%s", testSeqNum()),
			"runId":      runID,
			"totalSteps": 2,
			"steps":      []map[string]any{step(1, "PASS"), step(1, "FAIL")},
		}, defaultHeaders())
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("expected 400 for duplicate step index, got %d", resp.StatusCode)
		}
	})

	t.Run("missing_testcase", func(t *testing.T) {
		resp := doRequest(t, http.MethodPost, serverURL+executionsAPI+"/executions", map[string]any{
			"runId":      runID,
			"totalSteps": 1,
			"steps":      []map[string]any{step(1, "PASS")},
		}, defaultHeaders())
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("expected 400 for missing testCaseId, got %d", resp.StatusCode)
		}
	})
}

// TestExecutionAppend covers incremental step recording on an open execution.
func TestExecutionAppend(t *testing.T) {
	waitForReady(t)

	runID := fmt.Sprintf("run-append-%s", testSeqNum())
	tc := fmt.Sprintf("tc-append-%s", testSeqNum())

	exec := recordExecution(t, map[string]any{
		"testCaseId": tc,
		"runId":      runID,
		"totalSteps": 3,
		"steps":      []map[string]any{step(1, "PASS")},
	})
	if exec.Status != "NOT_RUN" {
		t.Fatalf("expected NOT_RUN before all steps recorded, got %s", exec.Status)
	}

	t.Run("append_completes", func(t *testing.T) {
		resp := doRequest(t, http.MethodPost, serverURL+executionsAPI+"/executions/"+exec.ID+"/steps", map[string]any{
			"steps": []map[string]any{step(2, "PASS"), step(3, "PASS")},
		}, defaultHeaders())
		requireStatus(t, resp, http.StatusOK)

		var updated executionResponse
		decodeJSON(t, resp, &updated)
		if updated.Status != "PASS" {
			t.Errorf("expected PASS after completing steps, got %s", updated.Status)
		}
		if len(updated.Steps) != 3 {
			t.Errorf("expected 3 recorded steps, got %d", len(updated.Steps))
		}
	})

	t.Run("append_taken_index_rejected", func(t *testing.T) {
		resp := doRequest(t, http.MethodPost, serverURL+executionsAPI+"/executions/"+exec.ID+"/steps", map[string]any{
			"steps": []map[string]any{step(2, "FAIL")},
		}, defaultHeaders())
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("expected 400 when re-recording a step, got %d", resp.StatusCode)
		}
	})

	t.Run("append_unknown_execution", func(t *testing.T) {
		resp := doRequest(t, http.MethodPost, serverURL+executionsAPI+"/executions/no-such-execution/steps", map[string]any{
			"steps": []map[string]any{step(1, "PASS")},
		}, defaultHeaders())
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("expected 404 for unknown execution, got %d", resp.StatusCode)
		}
	})
}

// TestExecutionHistoryAndLatest covers the per-test-case attempt ledger.
func TestExecutionHistoryAndLatest(t *testing.T) {
	waitForReady(t)

	runID := fmt.Sprintf("run-hist-%s", testSeqNum())
	tc := fmt.Sprintf("tc-hist-%s", testSeqNum())

	first := failingExecution(t, tc, runID)
	second := failingExecution(t, tc, runID)
	third := passingExecution(t, tc, runID, 2)

	if first.ExecutionNumber != 1 || second.ExecutionNumber != 2 || third.ExecutionNumber != 3 {
		t.Fatalf("expected attempt numbers 1,2,3; got %d,%d,%d",
			first.ExecutionNumber, second.ExecutionNumber, third.ExecutionNumber)
	}

	t.Run("history_lists_all_attempts", func(t *testing.T) {
		var list executionListResponse
		getJSON(t, fmt.Sprintf("%s/testcases/%s/executions?runId=%s", executionsAPI, tc, runID), &list)

		if len(list.Items) != 3 {
			t.Fatalf("expected 3 attempts in history, got %d", len(list.Items))
		}
		for _, item := range list.Items {
			if item.TestCaseID != tc {
				t.Errorf("history leaked execution for %s", item.TestCaseID)
			}
		}
	})

	t.Run("latest_is_newest_attempt", func(t *testing.T) {
		var latest executionResponse
		getJSON(t, fmt.Sprintf("%s/testcases/%s/latest?runId=%s", executionsAPI, tc, runID), &latest)

		if latest.ID != third.ID {
			t.Errorf("expected latest execution %s, got %s", third.ID, latest.ID)
		}
		if latest.Status != "PASS" {
			t.Errorf("expected latest status PASS, got %s", latest.Status)
		}
	})

	t.Run("get_by_id", func(t *testing.T) {
		var exec executionResponse
		getJSON(t, executionsAPI+"/executions/"+second.ID, &exec)
		if exec.ExecutionNumber != 2 {
			t.Errorf("expected executionNumber 2, got %d", exec.ExecutionNumber)
		}
	})
}

// TestExecutionList covers filters and pagination on the execution ledger.
func TestExecutionList(t *testing.T) {
	waitForReady(t)

	runID := fmt.Sprintf("run-list-%s", testSeqNum())
	for i := 0; i < 3; i++ {
		passingExecution(t, fmt.Sprintf("tc-list-%s", testSeqNum()), runID, 1)
	}
	failingExecution(t, fmt.Sprintf("tc-list-%s", testSeqNum()), runID)

	t.Run("filter_by_run", func(t *testing.T) {
		var list executionListResponse
		getJSON(t, executionsAPI+"/executions?runId="+runID, &list)
		if len(list.Items) != 4 {
			t.Errorf("expected 4 executions in run, got %d", len(list.Items))
		}
	})

	t.Run("filter_by_status", func(t *testing.T) {
		var list executionListResponse
		getJSON(t, executionsAPI+"/executions?runId="+runID+"&status=FAIL", &list)
		if len(list.Items) != 1 {
			t.Fatalf("expected 1 failed execution, got %d", len(list.Items))
		}
		if list.Items[0].Status != "FAIL" {
			t.Errorf("status filter returned %s", list.Items[0].Status)
		}
	})

	t.Run("pagination", func(t *testing.T) {
		seen := map[string]bool{}
		pageToken := ""
		for pages := 0; pages < 10; pages++ {
			path := executionsAPI + "/executions?runId=" + runID + "&pageSize=2"
			if pageToken != "" {
				path += "&pageToken=" + pageToken
			}
			var list executionListResponse
			getJSON(t, path, &list)
			if len(list.Items) > 2 {
				t.Fatalf("page size exceeded: %d items", len(list.Items))
			}
			for _, item := range list.Items {
				if seen[item.ID] {
					t.Fatalf("execution %s returned on two pages", item.ID)
				}
				seen[item.ID] = true
			}
			if list.NextPageToken == "" {
				break
			}
			pageToken = list.NextPageToken
		}
		if len(seen) != 4 {
			t.Errorf("pagination walked %d executions, expected 4", len(seen))
		}
	})
}

// TestRunSummary covers the aggregated run progress numbers.
func TestRunSummary(t *testing.T) {
	waitForReady(t)

	runID := fmt.Sprintf("run-sum-%s", testSeqNum())

	passingExecution(t, fmt.Sprintf("tc-sum-%s", testSeqNum()), runID, 1)
	passingExecution(t, fmt.Sprintf("tc-sum-%s", testSeqNum()), runID, 1)
	failingExecution(t, fmt.Sprintf("tc-sum-%s", testSeqNum()), runID)
	recordExecution(t, map[string]any{
		"testCaseId": fmt.Sprintf("tc-sum-%s", testSeqNum()),
		"runId":      runID,
		"totalSteps": 2,
		"steps":      []map[string]any{step(1, "PASS")},
	})

	var summary runSummaryResponse
	getJSON(t, executionsAPI+"/runs/"+runID+"/summary", &summary)

	if summary.RunID != runID {
		t.Errorf("expected runId %s, got %s", runID, summary.RunID)
	}
	if summary.TotalCases != 4 {
		t.Errorf("expected 4 cases, got %d", summary.TotalCases)
	}
	if summary.Counts["PASS"] != 2 || summary.Counts["FAIL"] != 1 || summary.Counts["NOT_RUN"] != 1 {
		t.Errorf("unexpected counts %v", summary.Counts)
	}
	if summary.Executed != 3 {
		t.Errorf("expected 3 executed, got %d", summary.Executed)
	}
	// 2 of 3 executed cases passed.
	if summary.PassRate < 66.0 || summary.PassRate > 67.0 {
		t.Errorf("expected pass rate ~66.7, got %.2f", summary.PassRate)
	}
	if summary.CompletionPct != 75.0 {
		t.Errorf("expected completion 75.0, got %.2f", summary.CompletionPct)
	}

	t.Run("retry_replaces_latest", func(t *testing.T) {
		// A second, passing attempt of the failed case changes the summary:
		// only the latest attempt per test case counts.
		var fails executionListResponse
		getJSON(t, executionsAPI+"/executions?runId="+runID+"&status=FAIL", &fails)
		if len(fails.Items) != 1 {
			t.Fatalf("expected one failed case, got %d", len(fails.Items))
		}
		passingExecution(t, fails.Items[0].TestCaseID, runID, 1)

		var after runSummaryResponse
		getJSON(t, executionsAPI+"/runs/"+runID+"/summary", &after)
		if after.Counts["FAIL"] != 0 {
			t.Errorf("expected the retry to supersede the failure, counts %v", after.Counts)
		}
		if after.Counts["PASS"] != 3 {
			t.Errorf("expected 3 passing cases after retry, got %d", after.Counts["PASS"])
		}
		if after.TotalCases != 4 {
			t.Errorf("retry must not add cases, got %d", after.TotalCases)
		}
	})
}
