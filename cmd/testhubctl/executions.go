package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

// executionView mirrors the server's execution representation for display.
type executionView struct {
	ID              string     `json:"id"`
	TestCaseID      string     `json:"testCaseId"`
	RunID           string     `json:"runId"`
	ExecutionNumber int        `json:"executionNumber"`
	Status          string     `json:"status"`
	TotalSteps      int        `json:"totalSteps"`
	ExecutedBy      string     `json:"executedBy,omitempty"`
	Environment     string     `json:"environment,omitempty"`
	DefectID        string     `json:"defectId,omitempty"`
	Notes           string     `json:"notes,omitempty"`
	Steps           []stepView `json:"steps,omitempty"`
	CreatedAt       string     `json:"createdAt"`
}

type stepView struct {
	StepIndex int    `json:"stepIndex"`
	Outcome   string `json:"outcome"`
	Reason    string `json:"reason,omitempty"`
}

type executionListView struct {
	Items         []executionView `json:"items"`
	TotalSize     int64           `json:"totalSize"`
	NextPageToken string          `json:"nextPageToken,omitempty"`
}

var executionsCmd = &cobra.Command{
	Use:     "executions",
	Aliases: []string{"exec"},
	Short:   "Record and inspect test executions",
}

func init() {
	executionsCmd.AddCommand(newExecutionsRecordCmd())
	executionsCmd.AddCommand(newExecutionsAppendCmd())
	executionsCmd.AddCommand(newExecutionsListCmd())
	executionsCmd.AddCommand(newExecutionsGetCmd())
	executionsCmd.AddCommand(newExecutionsHistoryCmd())
	executionsCmd.AddCommand(newExecutionsLatestCmd())
	executionsCmd.AddCommand(newExecutionsSummaryCmd())
}

// parseStepSpec parses a --step value of the form "index:outcome[:reason]",
// e.g. "1:pass" or "3:fail:timeout on submit".
func parseStepSpec(spec string) (map[string]any, error) {
	parts := strings.SplitN(spec, ":", 3)
	if len(parts) < 2 {
		return nil, fmt.Errorf("invalid step %q (expected index:outcome[:reason])", spec)
	}
	index, err := strconv.Atoi(parts[0])
	if err != nil {
		return nil, fmt.Errorf("invalid step index in %q: %w", spec, err)
	}
	step := map[string]any{
		"stepIndex": index,
		"outcome":   strings.ToUpper(parts[1]),
	}
	if len(parts) == 3 && parts[2] != "" {
		step["reason"] = parts[2]
	}
	return step, nil
}

func newExecutionsRecordCmd() *cobra.Command {
	var (
		testCaseID  string
		runID       string
		totalSteps  int
		executedBy  string
		environment string
		notes       string
		steps       []string
		file        string
	)

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record a test execution with its step outcomes",
		Example: `  testhubctl executions record --testcase tc-login --run run-42 \
      --step 1:pass --step "2:fail:timeout on submit"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var body any
			if file != "" {
				data, err := os.ReadFile(file)
				if err != nil {
					return fmt.Errorf("reading %s: %w", file, err)
				}
				var req map[string]any
				if err := json.Unmarshal(data, &req); err != nil {
					return fmt.Errorf("parsing %s: %w", file, err)
				}
				body = req
			} else {
				if testCaseID == "" || runID == "" {
					return fmt.Errorf("--testcase and --run are required (or use --file)")
				}
				stepInputs := make([]map[string]any, 0, len(steps))
				for _, spec := range steps {
					step, err := parseStepSpec(spec)
					if err != nil {
						return err
					}
					stepInputs = append(stepInputs, step)
				}
				req := map[string]any{
					"testCaseId": testCaseID,
					"runId":      runID,
					"steps":      stepInputs,
				}
				if totalSteps > 0 {
					req["totalSteps"] = totalSteps
				}
				if executedBy != "" {
					req["executedBy"] = executedBy
				}
				if environment != "" {
					req["environment"] = environment
				}
				if notes != "" {
					req["notes"] = notes
				}
				body = req
			}

			var exec executionView
			if err := newClient().postJSON(executionsAPI+"/executions", body, &exec); err != nil {
				return fmt.Errorf("failed to record execution: %w", err)
			}

			if structured() {
				return printOutput(exec)
			}
			fmt.Printf("Recorded execution %s (attempt %d): %s\n", exec.ID, exec.ExecutionNumber, exec.Status)
			return nil
		},
	}

	cmd.Flags().StringVar(&testCaseID, "testcase", "", "Test case identifier")
	cmd.Flags().StringVar(&runID, "run", "", "Test run identifier")
	cmd.Flags().IntVar(&totalSteps, "total-steps", 0, "Declared number of steps in the test case")
	cmd.Flags().StringVar(&executedBy, "executed-by", "", "Who executed the test (defaults to the request principal)")
	cmd.Flags().StringVar(&environment, "environment", "", "Environment the test ran against")
	cmd.Flags().StringVar(&notes, "notes", "", "Free-form notes")
	cmd.Flags().StringArrayVar(&steps, "step", nil, "Step outcome as index:outcome[:reason] (repeatable)")
	cmd.Flags().StringVar(&file, "file", "", "Read the full request body from a JSON file")

	return cmd
}

func newExecutionsAppendCmd() *cobra.Command {
	var steps []string

	cmd := &cobra.Command{
		Use:   "append <execution-id>",
		Short: "Append step outcomes to an existing execution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(steps) == 0 {
				return fmt.Errorf("at least one --step is required")
			}
			stepInputs := make([]map[string]any, 0, len(steps))
			for _, spec := range steps {
				step, err := parseStepSpec(spec)
				if err != nil {
					return err
				}
				stepInputs = append(stepInputs, step)
			}

			var exec executionView
			path := executionsAPI + "/executions/" + args[0] + "/steps"
			if err := newClient().postJSON(path, map[string]any{"steps": stepInputs}, &exec); err != nil {
				return fmt.Errorf("failed to append steps: %w", err)
			}

			if structured() {
				return printOutput(exec)
			}
			fmt.Printf("Execution %s now %s (%d steps recorded)\n", exec.ID, exec.Status, len(exec.Steps))
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&steps, "step", nil, "Step outcome as index:outcome[:reason] (repeatable)")

	return cmd
}

func newExecutionsListCmd() *cobra.Command {
	var (
		testCaseID string
		runID      string
		status     string
		executedBy string
		defectID   string
		pageSize   int
		pageToken  string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded executions",
		RunE: func(cmd *cobra.Command, args []string) error {
			params := map[string]string{
				"testCaseId": testCaseID,
				"runId":      runID,
				"status":     strings.ToUpper(status),
				"executedBy": executedBy,
				"defectId":   defectID,
				"pageToken":  pageToken,
			}
			if pageSize > 0 {
				params["pageSize"] = strconv.Itoa(pageSize)
			}

			var list executionListView
			if err := newClient().getJSON(executionsAPI+"/executions"+queryString(params), &list); err != nil {
				return fmt.Errorf("failed to list executions: %w", err)
			}

			if structured() {
				return printOutput(list)
			}

			if len(list.Items) == 0 {
				fmt.Println("No executions found.")
				return nil
			}

			printExecutionTable(list.Items)
			if list.NextPageToken != "" {
				fmt.Printf("\nMore results available. Use --page-token %s\n", list.NextPageToken)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&testCaseID, "testcase", "", "Filter by test case")
	cmd.Flags().StringVar(&runID, "run", "", "Filter by run")
	cmd.Flags().StringVar(&status, "status", "", "Filter by status (pass, fail, blocked, not_run)")
	cmd.Flags().StringVar(&executedBy, "executed-by", "", "Filter by executor")
	cmd.Flags().StringVar(&defectID, "defect", "", "Filter by linked defect")
	cmd.Flags().IntVar(&pageSize, "page-size", 0, "Page size")
	cmd.Flags().StringVar(&pageToken, "page-token", "", "Page token from a previous response")

	return cmd
}

func newExecutionsGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <execution-id>",
		Short: "Show one execution with its steps",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var exec executionView
			if err := newClient().getJSON(executionsAPI+"/executions/"+args[0], &exec); err != nil {
				return fmt.Errorf("failed to get execution: %w", err)
			}

			if structured() {
				return printOutput(exec)
			}

			fmt.Printf("Execution:  %s\n", exec.ID)
			fmt.Printf("Test case:  %s\n", exec.TestCaseID)
			fmt.Printf("Run:        %s\n", exec.RunID)
			fmt.Printf("Attempt:    %d\n", exec.ExecutionNumber)
			fmt.Printf("Status:     %s\n", exec.Status)
			if exec.ExecutedBy != "" {
				fmt.Printf("Executed by: %s\n", exec.ExecutedBy)
			}
			if exec.DefectID != "" {
				fmt.Printf("Defect:     %s\n", exec.DefectID)
			}
			if len(exec.Steps) > 0 {
				fmt.Println()
				rows := make([][]string, 0, len(exec.Steps))
				for _, s := range exec.Steps {
					rows = append(rows, []string{strconv.Itoa(s.StepIndex), s.Outcome, dash(truncate(s.Reason, 60))})
				}
				printTable([]string{"Step", "Outcome", "Reason"}, rows)
			}
			return nil
		},
	}
}

func newExecutionsHistoryCmd() *cobra.Command {
	var runID string

	cmd := &cobra.Command{
		Use:   "history <testcase-id>",
		Short: "Show the execution history of a test case, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params := map[string]string{"runId": runID}
			var list executionListView
			path := executionsAPI + "/testcases/" + args[0] + "/executions" + queryString(params)
			if err := newClient().getJSON(path, &list); err != nil {
				return fmt.Errorf("failed to fetch history: %w", err)
			}

			if structured() {
				return printOutput(list)
			}
			if len(list.Items) == 0 {
				fmt.Println("No executions recorded for this test case.")
				return nil
			}
			printExecutionTable(list.Items)
			return nil
		},
	}

	cmd.Flags().StringVar(&runID, "run", "", "Restrict history to one run")

	return cmd
}

func newExecutionsLatestCmd() *cobra.Command {
	var runID string

	cmd := &cobra.Command{
		Use:   "latest <testcase-id>",
		Short: "Show the latest execution of a test case",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params := map[string]string{"runId": runID}
			var exec executionView
			path := executionsAPI + "/testcases/" + args[0] + "/latest" + queryString(params)
			if err := newClient().getJSON(path, &exec); err != nil {
				return fmt.Errorf("failed to fetch latest execution: %w", err)
			}

			if structured() {
				return printOutput(exec)
			}
			printExecutionTable([]executionView{exec})
			return nil
		},
	}

	cmd.Flags().StringVar(&runID, "run", "", "Restrict to one run")

	return cmd
}

func newExecutionsSummaryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "summary <run-id>",
		Short: "Show the status rollup for a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var summary struct {
				RunID         string           `json:"runId"`
				Counts        map[string]int64 `json:"counts"`
				TotalCases    int64            `json:"totalCases"`
				Executed      int64            `json:"executed"`
				PassRate      float64          `json:"passRate"`
				CompletionPct float64          `json:"completionPct"`
			}
			path := executionsAPI + "/runs/" + args[0] + "/summary"
			if err := newClient().getJSON(path, &summary); err != nil {
				return fmt.Errorf("failed to fetch run summary: %w", err)
			}

			if structured() {
				return printOutput(summary)
			}

			fmt.Printf("Run %s: %d cases, %d executed\n\n", summary.RunID, summary.TotalCases, summary.Executed)
			rows := [][]string{}
			for _, status := range []string{"PASS", "FAIL", "BLOCKED", "NOT_RUN"} {
				rows = append(rows, []string{status, strconv.FormatInt(summary.Counts[status], 10)})
			}
			rows = append(rows,
				[]string{"Pass rate", formatPct(summary.PassRate)},
				[]string{"Completion", formatPct(summary.CompletionPct)},
			)
			printTable([]string{"Metric", "Value"}, rows)
			return nil
		},
	}
}

func printExecutionTable(items []executionView) {
	headers := []string{"ID", "Test case", "Run", "Attempt", "Status", "Executed at"}
	rows := make([][]string, 0, len(items))
	for _, e := range items {
		rows = append(rows, []string{
			e.ID,
			truncate(e.TestCaseID, 30),
			truncate(e.RunID, 30),
			strconv.Itoa(e.ExecutionNumber),
			e.Status,
			formatTime(e.CreatedAt),
		})
	}
	printTable(headers, rows)
}
