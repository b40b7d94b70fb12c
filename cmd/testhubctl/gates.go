package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

// criterionView mirrors the server's criterion representation for display.
type criterionView struct {
	ID             string   `json:"id"`
	GateType       string   `json:"gateType"`
	Name           string   `json:"name"`
	Description    string   `json:"description,omitempty"`
	Kind           string   `json:"kind"`
	Operator       string   `json:"operator"`
	Threshold      float64  `json:"threshold"`
	SeverityFilter []string `json:"severityFilter,omitempty"`
	RequiredRoles  []string `json:"requiredRoles,omitempty"`
	Expression     string   `json:"expression,omitempty"`
	IsBlocking     bool     `json:"isBlocking"`
	Active         bool     `json:"active"`
}

// verdictView mirrors the server's gate verdict for display.
type verdictView struct {
	EntityType     string `json:"entityType"`
	EntityID       string `json:"entityId"`
	GateType       string `json:"gateType"`
	AllPassed      bool   `json:"allPassed"`
	BlockingFailed bool   `json:"blockingFailed"`
	CanProceed     bool   `json:"canProceed"`
	Criteria       []struct {
		Name        string  `json:"name"`
		Kind        string  `json:"kind"`
		Operator    string  `json:"operator"`
		Threshold   float64 `json:"threshold"`
		ActualValue float64 `json:"actualValue"`
		Passed      bool    `json:"passed"`
		IsBlocking  bool    `json:"isBlocking"`
		Error       string  `json:"error,omitempty"`
	} `json:"criteria"`
	BlockingDefects []struct {
		DefectID string `json:"defectId"`
		Title    string `json:"title"`
		Severity string `json:"severity"`
		Status   string `json:"status"`
	} `json:"blockingDefects,omitempty"`
	EvaluatedAt string `json:"evaluatedAt"`
}

var gatesCmd = &cobra.Command{
	Use:   "gates",
	Short: "Configure gate criteria and evaluate release gates",
}

var gatesCriteriaCmd = &cobra.Command{
	Use:   "criteria",
	Short: "Manage gate criteria",
}

func init() {
	gatesCriteriaCmd.AddCommand(newCriteriaCreateCmd())
	gatesCriteriaCmd.AddCommand(newCriteriaListCmd())
	gatesCriteriaCmd.AddCommand(newCriteriaGetCmd())
	gatesCriteriaCmd.AddCommand(newCriteriaUpdateCmd())
	gatesCriteriaCmd.AddCommand(newCriteriaDeleteCmd())

	gatesCmd.AddCommand(gatesCriteriaCmd)
	gatesCmd.AddCommand(newGatesEvaluateCmd())
	gatesCmd.AddCommand(newGatesVerdictCmd())
	gatesCmd.AddCommand(newGatesHistoryCmd())
	gatesCmd.AddCommand(newGatesSignoffCmd())
	gatesCmd.AddCommand(newGatesSignoffsCmd())
	gatesCmd.AddCommand(newGatesCoverCmd())
	gatesCmd.AddCommand(newGatesCoverageCmd())
}

func targetPath(entityType, entityID string) string {
	return gatesAPI + "/gates/targets/" + entityType + "/" + entityID
}

func newCriteriaCreateCmd() *cobra.Command {
	var (
		gateType   string
		name       string
		kind       string
		operator   string
		threshold  float64
		severities []string
		roles      []string
		expression string
		blocking   bool
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a gate criterion",
		Example: `  testhubctl gates criteria create --name "pass rate 95" --kind pass_rate \
      --threshold 95 --blocking`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" || kind == "" {
				return fmt.Errorf("--name and --kind are required")
			}
			body := map[string]any{
				"name":       name,
				"kind":       strings.ToLower(kind),
				"threshold":  threshold,
				"isBlocking": blocking,
			}
			if gateType != "" {
				body["gateType"] = strings.ToLower(gateType)
			}
			if operator != "" {
				body["operator"] = operator
			}
			if len(severities) > 0 {
				body["severityFilter"] = severities
			}
			if len(roles) > 0 {
				body["requiredRoles"] = roles
			}
			if expression != "" {
				body["expression"] = expression
			}

			var c criterionView
			if err := newClient().postJSON(gatesAPI+"/gates/criteria", body, &c); err != nil {
				return fmt.Errorf("failed to create criterion: %w", err)
			}

			if structured() {
				return printOutput(c)
			}
			fmt.Printf("Created criterion %s (%s %s %s %.2f)\n", c.ID, c.Name, c.Kind, c.Operator, c.Threshold)
			return nil
		},
	}

	cmd.Flags().StringVar(&gateType, "gate-type", "", "Gate type (cycle_exit, plan_exit, release)")
	cmd.Flags().StringVar(&name, "name", "", "Criterion name")
	cmd.Flags().StringVar(&kind, "kind", "", "Criterion kind (pass_rate, defect_count, coverage, execution_complete, approval_complete, custom)")
	cmd.Flags().StringVar(&operator, "operator", "", "Comparison operator (default >=)")
	cmd.Flags().Float64Var(&threshold, "threshold", 0, "Threshold value")
	cmd.Flags().StringSliceVar(&severities, "severity", nil, "Severity filter for defect_count (repeatable)")
	cmd.Flags().StringSliceVar(&roles, "required-role", nil, "Required sign-off roles for approval_complete (repeatable)")
	cmd.Flags().StringVar(&expression, "expression", "", "Expression for custom criteria")
	cmd.Flags().BoolVar(&blocking, "blocking", false, "Failing this criterion forces No-Go")

	return cmd
}

func newCriteriaListCmd() *cobra.Command {
	var gateType string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List gate criteria",
		RunE: func(cmd *cobra.Command, args []string) error {
			params := map[string]string{"gateType": strings.ToLower(gateType)}

			var resp struct {
				Items []criterionView `json:"items"`
			}
			if err := newClient().getJSON(gatesAPI+"/gates/criteria"+queryString(params), &resp); err != nil {
				return fmt.Errorf("failed to list criteria: %w", err)
			}

			if structured() {
				return printOutput(resp)
			}
			if len(resp.Items) == 0 {
				fmt.Println("No criteria configured.")
				return nil
			}

			headers := []string{"ID", "Gate", "Name", "Kind", "Rule", "Blocking", "Active"}
			rows := make([][]string, 0, len(resp.Items))
			for _, c := range resp.Items {
				rule := fmt.Sprintf("%s %g", c.Operator, c.Threshold)
				if c.Kind == "custom" {
					rule = truncate(c.Expression, 30)
				}
				rows = append(rows, []string{
					c.ID,
					c.GateType,
					truncate(c.Name, 30),
					c.Kind,
					rule,
					strconv.FormatBool(c.IsBlocking),
					strconv.FormatBool(c.Active),
				})
			}
			printTable(headers, rows)
			return nil
		},
	}

	cmd.Flags().StringVar(&gateType, "gate-type", "", "Filter by gate type")

	return cmd
}

func newCriteriaGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <criterion-id>",
		Short: "Show one criterion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var c criterionView
			if err := newClient().getJSON(gatesAPI+"/gates/criteria/"+args[0], &c); err != nil {
				return fmt.Errorf("failed to get criterion: %w", err)
			}
			return printJSON(c)
		},
	}
}

func newCriteriaUpdateCmd() *cobra.Command {
	var (
		name       string
		operator   string
		threshold  float64
		expression string
		blocking   bool
		active     bool
	)

	cmd := &cobra.Command{
		Use:   "update <criterion-id>",
		Short: "Update a criterion (only the flags you set change)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]any{}
			if cmd.Flags().Changed("name") {
				body["name"] = name
			}
			if cmd.Flags().Changed("operator") {
				body["operator"] = operator
			}
			if cmd.Flags().Changed("threshold") {
				body["threshold"] = threshold
			}
			if cmd.Flags().Changed("expression") {
				body["expression"] = expression
			}
			if cmd.Flags().Changed("blocking") {
				body["isBlocking"] = blocking
			}
			if cmd.Flags().Changed("active") {
				body["active"] = active
			}
			if len(body) == 0 {
				return fmt.Errorf("nothing to update: set at least one flag")
			}

			var c criterionView
			if err := newClient().putJSON(gatesAPI+"/gates/criteria/"+args[0], body, &c); err != nil {
				return fmt.Errorf("failed to update criterion: %w", err)
			}

			if structured() {
				return printOutput(c)
			}
			fmt.Printf("Updated criterion %s (%s %s %g, blocking=%t, active=%t)\n",
				c.ID, c.Name, c.Operator, c.Threshold, c.IsBlocking, c.Active)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "New name")
	cmd.Flags().StringVar(&operator, "operator", "", "New comparison operator")
	cmd.Flags().Float64Var(&threshold, "threshold", 0, "New threshold")
	cmd.Flags().StringVar(&expression, "expression", "", "New expression for custom criteria")
	cmd.Flags().BoolVar(&blocking, "blocking", false, "Whether failing forces No-Go")
	cmd.Flags().BoolVar(&active, "active", true, "Whether the criterion participates in evaluations")

	return cmd
}

func newCriteriaDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <criterion-id>",
		Short: "Deactivate a criterion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := newClient().deleteJSON(gatesAPI + "/gates/criteria/" + args[0]); err != nil {
				return fmt.Errorf("failed to delete criterion: %w", err)
			}
			fmt.Printf("Deleted criterion %s\n", args[0])
			return nil
		},
	}
}

func newGatesEvaluateCmd() *cobra.Command {
	var (
		gateType string
		runs     []string
	)

	cmd := &cobra.Command{
		Use:   "evaluate <entity-type> <entity-id>",
		Short: "Evaluate a gate target against the active criteria",
		Example: `  testhubctl gates evaluate release rel-2026.3 --runs run-41,run-42
  testhubctl gates evaluate cycle sit-cycle-2 --gate-type cycle_exit`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]any{}
			if gateType != "" {
				body["gateType"] = strings.ToLower(gateType)
			}
			if len(runs) > 0 {
				body["runs"] = runs
			}

			var verdict verdictView
			path := targetPath(args[0], args[1]) + "/evaluations"
			if err := newClient().postJSON(path, body, &verdict); err != nil {
				return fmt.Errorf("evaluation failed: %w", err)
			}

			if structured() {
				return printOutput(verdict)
			}
			printVerdict(verdict)
			return nil
		},
	}

	cmd.Flags().StringVar(&gateType, "gate-type", "", "Gate type (default release)")
	cmd.Flags().StringSliceVar(&runs, "runs", nil, "Run identifiers scoping pass-rate and completion criteria")

	return cmd
}

func newGatesVerdictCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verdict <entity-type> <entity-id>",
		Short: "Show the latest recorded verdict for a gate target",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var verdict verdictView
			path := targetPath(args[0], args[1]) + "/evaluations/latest"
			if err := newClient().getJSON(path, &verdict); err != nil {
				return fmt.Errorf("failed to fetch verdict: %w", err)
			}

			if structured() {
				return printOutput(verdict)
			}
			printVerdict(verdict)
			return nil
		},
	}
}

func newGatesHistoryCmd() *cobra.Command {
	var pageSize int

	cmd := &cobra.Command{
		Use:   "history <entity-type> <entity-id>",
		Short: "List past evaluations of a gate target",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			params := map[string]string{}
			if pageSize > 0 {
				params["pageSize"] = strconv.Itoa(pageSize)
			}

			var resp struct {
				Items []struct {
					EvaluationGroup string  `json:"evaluationGroup"`
					CriterionName   string  `json:"criterionName"`
					ActualValue     float64 `json:"actualValue"`
					Threshold       float64 `json:"threshold"`
					Operator        string  `json:"operator"`
					Passed          bool    `json:"passed"`
					EvaluatedAt     string  `json:"evaluatedAt"`
				} `json:"items"`
				TotalSize int64 `json:"totalSize"`
			}
			path := targetPath(args[0], args[1]) + "/evaluations" + queryString(params)
			if err := newClient().getJSON(path, &resp); err != nil {
				return fmt.Errorf("failed to fetch history: %w", err)
			}

			if structured() {
				return printOutput(resp)
			}
			if len(resp.Items) == 0 {
				fmt.Println("No evaluations recorded.")
				return nil
			}

			rows := make([][]string, 0, len(resp.Items))
			for _, e := range resp.Items {
				rows = append(rows, []string{
					formatTime(e.EvaluatedAt),
					truncate(e.CriterionName, 30),
					fmt.Sprintf("%.2f %s %g", e.ActualValue, e.Operator, e.Threshold),
					strconv.FormatBool(e.Passed),
				})
			}
			printTable([]string{"When", "Criterion", "Result", "Passed"}, rows)
			return nil
		},
	}

	cmd.Flags().IntVar(&pageSize, "page-size", 0, "Page size")

	return cmd
}

func newGatesSignoffCmd() *cobra.Command {
	var (
		role    string
		comment string
	)

	cmd := &cobra.Command{
		Use:   "signoff <entity-type> <entity-id>",
		Short: "Record a sign-off for a gate target",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if role == "" {
				return fmt.Errorf("--signoff-role is required")
			}
			body := map[string]any{"role": role}
			if comment != "" {
				body["comment"] = comment
			}

			var signoff struct {
				ID       string `json:"id"`
				Role     string `json:"role"`
				SignedBy string `json:"signedBy"`
			}
			path := targetPath(args[0], args[1]) + "/signoffs"
			if err := newClient().postJSON(path, body, &signoff); err != nil {
				return fmt.Errorf("failed to record sign-off: %w", err)
			}

			if structured() {
				return printOutput(signoff)
			}
			fmt.Printf("Recorded %s sign-off by %s\n", signoff.Role, signoff.SignedBy)
			return nil
		},
	}

	cmd.Flags().StringVar(&role, "signoff-role", "", "Approval role being exercised (e.g. qa_lead)")
	cmd.Flags().StringVar(&comment, "comment", "", "Optional comment")

	return cmd
}

func newGatesSignoffsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "signoffs <entity-type> <entity-id>",
		Short: "List sign-offs recorded for a gate target",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp struct {
				Items []struct {
					Role      string `json:"role"`
					SignedBy  string `json:"signedBy"`
					Comment   string `json:"comment,omitempty"`
					CreatedAt string `json:"createdAt"`
				} `json:"items"`
			}
			path := targetPath(args[0], args[1]) + "/signoffs"
			if err := newClient().getJSON(path, &resp); err != nil {
				return fmt.Errorf("failed to list sign-offs: %w", err)
			}

			if structured() {
				return printOutput(resp)
			}
			if len(resp.Items) == 0 {
				fmt.Println("No sign-offs recorded.")
				return nil
			}
			rows := make([][]string, 0, len(resp.Items))
			for _, s := range resp.Items {
				rows = append(rows, []string{s.Role, s.SignedBy, formatTime(s.CreatedAt), dash(truncate(s.Comment, 40))})
			}
			printTable([]string{"Role", "Signed by", "When", "Comment"}, rows)
			return nil
		},
	}
}

func newGatesCoverCmd() *cobra.Command {
	var (
		requirement string
		execution   string
	)

	cmd := &cobra.Command{
		Use:   "cover <entity-type> <entity-id>",
		Short: "Mark a requirement in scope for a target, optionally covered by an execution",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if requirement == "" {
				return fmt.Errorf("--requirement is required")
			}
			body := map[string]any{"requirementId": requirement}
			if execution != "" {
				body["executionId"] = execution
			}

			var mark struct {
				ID            string `json:"id"`
				RequirementID string `json:"requirementId"`
				ExecutionID   string `json:"executionId,omitempty"`
			}
			path := targetPath(args[0], args[1]) + "/coverage-marks"
			if err := newClient().postJSON(path, body, &mark); err != nil {
				return fmt.Errorf("failed to record coverage mark: %w", err)
			}

			if structured() {
				return printOutput(mark)
			}
			if mark.ExecutionID != "" {
				fmt.Printf("Requirement %s covered by execution %s\n", mark.RequirementID, mark.ExecutionID)
			} else {
				fmt.Printf("Requirement %s marked in scope (uncovered)\n", mark.RequirementID)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&requirement, "requirement", "", "Requirement identifier")
	cmd.Flags().StringVar(&execution, "execution", "", "Execution that covers the requirement")

	return cmd
}

func newGatesCoverageCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "coverage <entity-type> <entity-id>",
		Short: "List coverage marks for a gate target",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp struct {
				Items []struct {
					RequirementID string `json:"requirementId"`
					ExecutionID   string `json:"executionId,omitempty"`
					MarkedBy      string `json:"markedBy,omitempty"`
					CreatedAt     string `json:"createdAt"`
				} `json:"items"`
			}
			path := targetPath(args[0], args[1]) + "/coverage-marks"
			if err := newClient().getJSON(path, &resp); err != nil {
				return fmt.Errorf("failed to list coverage marks: %w", err)
			}

			if structured() {
				return printOutput(resp)
			}
			if len(resp.Items) == 0 {
				fmt.Println("No coverage marks recorded.")
				return nil
			}
			rows := make([][]string, 0, len(resp.Items))
			for _, m := range resp.Items {
				rows = append(rows, []string{m.RequirementID, dash(m.ExecutionID), dash(m.MarkedBy), formatTime(m.CreatedAt)})
			}
			printTable([]string{"Requirement", "Covered by", "Marked by", "When"}, rows)
			return nil
		},
	}
}

func printVerdict(v verdictView) {
	decision := "NO-GO"
	if v.CanProceed {
		decision = "GO"
	}
	fmt.Printf("Gate %s for %s/%s: %s\n\n", v.GateType, v.EntityType, v.EntityID, decision)

	if len(v.Criteria) > 0 {
		rows := make([][]string, 0, len(v.Criteria))
		for _, c := range v.Criteria {
			result := fmt.Sprintf("%.2f %s %g", c.ActualValue, c.Operator, c.Threshold)
			if c.Error != "" {
				result = "error: " + truncate(c.Error, 40)
			}
			rows = append(rows, []string{
				truncate(c.Name, 30),
				c.Kind,
				result,
				strconv.FormatBool(c.Passed),
				strconv.FormatBool(c.IsBlocking),
			})
		}
		printTable([]string{"Criterion", "Kind", "Result", "Passed", "Blocking"}, rows)
	}

	if len(v.BlockingDefects) > 0 {
		fmt.Println("\nBlocking defects:")
		rows := make([][]string, 0, len(v.BlockingDefects))
		for _, d := range v.BlockingDefects {
			rows = append(rows, []string{d.DefectID, d.Severity, d.Status, truncate(d.Title, 50)})
		}
		printTable([]string{"ID", "Sev", "Status", "Title"}, rows)
	}
}
