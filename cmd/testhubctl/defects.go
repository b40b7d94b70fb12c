package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

// defectView mirrors the server's defect representation for display.
type defectView struct {
	ID                string     `json:"id"`
	Title             string     `json:"title"`
	Description       string     `json:"description,omitempty"`
	Severity          string     `json:"severity"`
	Priority          string     `json:"priority"`
	Status            string     `json:"status"`
	Component         string     `json:"component,omitempty"`
	RaisedBy          string     `json:"raisedBy,omitempty"`
	AssignedTo        string     `json:"assignedTo,omitempty"`
	SLADeadline       string     `json:"slaDeadline,omitempty"`
	OriginExecutionID string     `json:"originExecutionId,omitempty"`
	TestCaseID        string     `json:"testCaseId,omitempty"`
	RunID             string     `json:"runId,omitempty"`
	ResolutionType    string     `json:"resolutionType,omitempty"`
	RootCause         string     `json:"rootCause,omitempty"`
	Links             []linkView `json:"links,omitempty"`
	Version           int        `json:"version"`
	CreatedAt         string     `json:"createdAt"`
}

type linkView struct {
	ID         string `json:"id"`
	SourceID   string `json:"sourceId"`
	Type       string `json:"type"`
	TargetType string `json:"targetType"`
	TargetID   string `json:"targetId"`
	CreatedAt  string `json:"createdAt"`
}

type defectListView struct {
	Items         []defectView `json:"items"`
	TotalSize     int64        `json:"totalSize"`
	NextPageToken string       `json:"nextPageToken,omitempty"`
}

var defectsCmd = &cobra.Command{
	Use:   "defects",
	Short: "Raise defects and walk them through their lifecycle",
}

func init() {
	defectsCmd.AddCommand(newDefectsCreateCmd())
	defectsCmd.AddCommand(newDefectsListCmd())
	defectsCmd.AddCommand(newDefectsGetCmd())
	defectsCmd.AddCommand(newDefectsUpdateCmd())
	defectsCmd.AddCommand(newDefectsTransitionCmd())
	defectsCmd.AddCommand(newDefectsTransitionsCmd())
	defectsCmd.AddCommand(newDefectsSLACmd())
	defectsCmd.AddCommand(newDefectsLinkCmd())
	defectsCmd.AddCommand(newDefectsLinksCmd())
}

func newDefectsCreateCmd() *cobra.Command {
	var (
		title       string
		description string
		severity    string
		priority    string
		component   string
		environment string
		execution   string
		testCaseID  string
		runID       string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Raise a defect",
		Example: `  testhubctl defects create --title "checkout returns 500" \
      --severity s2 --priority p2 --execution 7d0f...`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if title == "" {
				return fmt.Errorf("--title is required")
			}
			body := map[string]any{
				"title":    title,
				"severity": strings.ToUpper(severity),
				"priority": strings.ToUpper(priority),
			}
			if description != "" {
				body["description"] = description
			}
			if component != "" {
				body["component"] = component
			}
			if environment != "" {
				body["environment"] = environment
			}
			if execution != "" {
				body["originExecutionId"] = execution
			}
			if testCaseID != "" {
				body["testCaseId"] = testCaseID
			}
			if runID != "" {
				body["runId"] = runID
			}

			var d defectView
			if err := newClient().postJSON(defectsAPI+"/defects", body, &d); err != nil {
				return fmt.Errorf("failed to create defect: %w", err)
			}

			if structured() {
				return printOutput(d)
			}
			fmt.Printf("Created defect %s [%s/%s] %s\n", d.ID, d.Severity, d.Priority, d.Status)
			return nil
		},
	}

	cmd.Flags().StringVar(&title, "title", "", "Defect title")
	cmd.Flags().StringVar(&description, "description", "", "Defect description")
	cmd.Flags().StringVar(&severity, "severity", "S3", "Severity (s1..s4)")
	cmd.Flags().StringVar(&priority, "priority", "P3", "Priority (p1..p4)")
	cmd.Flags().StringVar(&component, "component", "", "Affected component")
	cmd.Flags().StringVar(&environment, "environment", "", "Environment the defect was observed in")
	cmd.Flags().StringVar(&execution, "execution", "", "Failed execution this defect originates from")
	cmd.Flags().StringVar(&testCaseID, "testcase", "", "Test case the defect was found by")
	cmd.Flags().StringVar(&runID, "run", "", "Run the defect was found in")

	return cmd
}

func newDefectsListCmd() *cobra.Command {
	var (
		status     string
		severity   string
		priority   string
		assignedTo string
		runID      string
		openOnly   bool
		pageSize   int
		pageToken  string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List defects",
		RunE: func(cmd *cobra.Command, args []string) error {
			params := map[string]string{
				"status":     strings.ToUpper(status),
				"severity":   strings.ToUpper(severity),
				"priority":   strings.ToUpper(priority),
				"assignedTo": assignedTo,
				"runId":      runID,
				"pageToken":  pageToken,
			}
			if openOnly {
				params["open"] = "true"
			}
			if pageSize > 0 {
				params["pageSize"] = strconv.Itoa(pageSize)
			}

			var list defectListView
			if err := newClient().getJSON(defectsAPI+"/defects"+queryString(params), &list); err != nil {
				return fmt.Errorf("failed to list defects: %w", err)
			}

			if structured() {
				return printOutput(list)
			}
			if len(list.Items) == 0 {
				fmt.Println("No defects found.")
				return nil
			}

			headers := []string{"ID", "Sev", "Pri", "Status", "Assignee", "Title"}
			rows := make([][]string, 0, len(list.Items))
			for _, d := range list.Items {
				rows = append(rows, []string{
					d.ID,
					d.Severity,
					d.Priority,
					d.Status,
					dash(d.AssignedTo),
					truncate(d.Title, 50),
				})
			}
			printTable(headers, rows)
			if list.NextPageToken != "" {
				fmt.Printf("\nMore results available. Use --page-token %s\n", list.NextPageToken)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "Filter by status")
	cmd.Flags().StringVar(&severity, "severity", "", "Filter by severity")
	cmd.Flags().StringVar(&priority, "priority", "", "Filter by priority")
	cmd.Flags().StringVar(&assignedTo, "assignee", "", "Filter by assignee")
	cmd.Flags().StringVar(&runID, "run", "", "Filter by run")
	cmd.Flags().BoolVar(&openOnly, "open", false, "Only defects in non-terminal states")
	cmd.Flags().IntVar(&pageSize, "page-size", 0, "Page size")
	cmd.Flags().StringVar(&pageToken, "page-token", "", "Page token from a previous response")

	return cmd
}

func newDefectsGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <defect-id>",
		Short: "Show one defect",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var d defectView
			if err := newClient().getJSON(defectsAPI+"/defects/"+args[0], &d); err != nil {
				return fmt.Errorf("failed to get defect: %w", err)
			}

			if structured() {
				return printOutput(d)
			}

			fmt.Printf("Defect:    %s (version %d)\n", d.ID, d.Version)
			fmt.Printf("Title:     %s\n", d.Title)
			fmt.Printf("Severity:  %s   Priority: %s   Status: %s\n", d.Severity, d.Priority, d.Status)
			if d.AssignedTo != "" {
				fmt.Printf("Assignee:  %s\n", d.AssignedTo)
			}
			if d.SLADeadline != "" {
				fmt.Printf("SLA due:   %s\n", formatTime(d.SLADeadline))
			}
			if d.OriginExecutionID != "" {
				fmt.Printf("Origin:    execution %s (%s in %s)\n", d.OriginExecutionID, d.TestCaseID, d.RunID)
			}
			if d.ResolutionType != "" {
				fmt.Printf("Resolved:  %s\n", d.ResolutionType)
			}
			if d.Description != "" {
				fmt.Printf("\n%s\n", d.Description)
			}
			if len(d.Links) > 0 {
				fmt.Println()
				rows := make([][]string, 0, len(d.Links))
				for _, l := range d.Links {
					rows = append(rows, []string{l.ID, l.Type, l.TargetType, l.TargetID})
				}
				printTable([]string{"Link", "Type", "Target type", "Target"}, rows)
			}
			return nil
		},
	}
}

func newDefectsUpdateCmd() *cobra.Command {
	var (
		title       string
		description string
		severity    string
		priority    string
		component   string
		rootCause   string
		version     int
	)

	cmd := &cobra.Command{
		Use:   "update <defect-id>",
		Short: "Re-triage a defect (only the flags you set change)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if version <= 0 {
				return fmt.Errorf("--version is required (read it from 'defects get')")
			}
			body := map[string]any{"version": version}
			if cmd.Flags().Changed("title") {
				body["title"] = title
			}
			if cmd.Flags().Changed("description") {
				body["description"] = description
			}
			if cmd.Flags().Changed("severity") {
				body["severity"] = strings.ToUpper(severity)
			}
			if cmd.Flags().Changed("priority") {
				body["priority"] = strings.ToUpper(priority)
			}
			if cmd.Flags().Changed("component") {
				body["component"] = component
			}
			if cmd.Flags().Changed("root-cause") {
				body["rootCause"] = rootCause
			}
			if len(body) == 1 {
				return fmt.Errorf("nothing to update: set at least one field flag")
			}

			var d defectView
			if err := newClient().patchJSON(defectsAPI+"/defects/"+args[0], body, &d); err != nil {
				return fmt.Errorf("failed to update defect: %w", err)
			}

			if structured() {
				return printOutput(d)
			}
			fmt.Printf("Updated defect %s [%s/%s] (version %d)\n", d.ID, d.Severity, d.Priority, d.Version)
			return nil
		},
	}

	cmd.Flags().StringVar(&title, "title", "", "New title")
	cmd.Flags().StringVar(&description, "description", "", "New description")
	cmd.Flags().StringVar(&severity, "severity", "", "New severity")
	cmd.Flags().StringVar(&priority, "priority", "", "New priority")
	cmd.Flags().StringVar(&component, "component", "", "New component")
	cmd.Flags().StringVar(&rootCause, "root-cause", "", "Root cause note")
	cmd.Flags().IntVar(&version, "version", 0, "Defect version you read (optimistic concurrency)")

	return cmd
}

func newDefectsTransitionCmd() *cobra.Command {
	var (
		target     string
		assignee   string
		reason     string
		resolution string
		rootCause  string
		retestExec string
		version    int
	)

	cmd := &cobra.Command{
		Use:   "transition <defect-id>",
		Short: "Move a defect to a new lifecycle state",
		Example: `  testhubctl defects transition d-123 --to assigned --assignee alice
  testhubctl defects transition d-123 --to resolved --resolution fixed
  testhubctl defects transition d-123 --to closed --retest-execution 7d0f...`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if target == "" {
				return fmt.Errorf("--to is required")
			}
			body := map[string]any{
				"targetStatus": strings.ToUpper(target),
			}
			if assignee != "" {
				body["assignedTo"] = assignee
			}
			if reason != "" {
				body["reason"] = reason
			}
			if resolution != "" {
				body["resolutionType"] = strings.ToLower(resolution)
			}
			if rootCause != "" {
				body["rootCause"] = rootCause
			}
			if retestExec != "" {
				body["retestExecutionId"] = retestExec
			}
			if version > 0 {
				body["version"] = version
			}

			var d defectView
			path := defectsAPI + "/defects/" + args[0] + "/transitions"
			if err := newClient().postJSON(path, body, &d); err != nil {
				return fmt.Errorf("transition failed: %w", err)
			}

			if structured() {
				return printOutput(d)
			}
			fmt.Printf("Defect %s is now %s\n", d.ID, d.Status)
			return nil
		},
	}

	cmd.Flags().StringVar(&target, "to", "", "Target status (assigned, in_progress, resolved, retest, closed, reopened, rejected, deferred)")
	cmd.Flags().StringVar(&assignee, "assignee", "", "Assignee (required when entering assigned)")
	cmd.Flags().StringVar(&reason, "reason", "", "Reason (required for rejected and deferred)")
	cmd.Flags().StringVar(&resolution, "resolution", "", "Resolution type (required for resolved)")
	cmd.Flags().StringVar(&rootCause, "root-cause", "", "Root cause note")
	cmd.Flags().StringVar(&retestExec, "retest-execution", "", "Retest execution reference (required for closed and reopened)")
	cmd.Flags().IntVar(&version, "version", 0, "Expected defect version for optimistic concurrency")

	return cmd
}

func newDefectsTransitionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "transitions <defect-id>",
		Short: "Show a defect's transition history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp struct {
				Items []struct {
					Action     string `json:"action"`
					FromStatus string `json:"fromStatus"`
					ToStatus   string `json:"toStatus"`
					Actor      string `json:"actor,omitempty"`
					Reason     string `json:"reason,omitempty"`
					CreatedAt  string `json:"createdAt"`
				} `json:"items"`
			}
			path := defectsAPI + "/defects/" + args[0] + "/transitions"
			if err := newClient().getJSON(path, &resp); err != nil {
				return fmt.Errorf("failed to fetch transitions: %w", err)
			}

			if structured() {
				return printOutput(resp)
			}
			if len(resp.Items) == 0 {
				fmt.Println("No transitions recorded.")
				return nil
			}

			rows := make([][]string, 0, len(resp.Items))
			for _, tr := range resp.Items {
				rows = append(rows, []string{
					formatTime(tr.CreatedAt),
					tr.FromStatus + " -> " + tr.ToStatus,
					dash(tr.Actor),
					dash(truncate(tr.Reason, 40)),
				})
			}
			printTable([]string{"When", "Transition", "Actor", "Reason"}, rows)
			return nil
		},
	}
}

func newDefectsSLACmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sla <defect-id>",
		Short: "Show a defect's SLA deadline and breach status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp struct {
				DefectID string `json:"defectId"`
				SLA      struct {
					Deadline        string  `json:"deadline"`
					ElapsedFraction float64 `json:"elapsedFraction"`
					Status          string  `json:"status"`
				} `json:"sla"`
			}
			if err := newClient().getJSON(defectsAPI+"/defects/"+args[0]+"/sla", &resp); err != nil {
				return fmt.Errorf("failed to fetch SLA status: %w", err)
			}

			if structured() {
				return printOutput(resp)
			}
			printTable([]string{"Defect", "Deadline", "Elapsed", "Status"}, [][]string{{
				resp.DefectID,
				formatTime(resp.SLA.Deadline),
				formatPct(resp.SLA.ElapsedFraction * 100),
				resp.SLA.Status,
			}})
			return nil
		},
	}
}

func newDefectsLinkCmd() *cobra.Command {
	var (
		linkType   string
		target     string
		entityType string
		entityID   string
	)

	cmd := &cobra.Command{
		Use:   "link <defect-id>",
		Short: "Link a defect to another defect or block a gate target",
		Example: `  testhubctl defects link d-123 --type duplicate_of --target d-100
  testhubctl defects link d-123 --type blocks --entity-type release --entity-id rel-2026.3`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if linkType == "" {
				return fmt.Errorf("--type is required")
			}
			body := map[string]any{"type": strings.ToLower(linkType)}
			if target != "" {
				body["targetDefectId"] = target
			}
			if entityType != "" {
				body["entityType"] = entityType
			}
			if entityID != "" {
				body["entityId"] = entityID
			}

			var link linkView
			path := defectsAPI + "/defects/" + args[0] + "/links"
			if err := newClient().postJSON(path, body, &link); err != nil {
				return fmt.Errorf("failed to create link: %w", err)
			}

			if structured() {
				return printOutput(link)
			}
			fmt.Printf("Linked %s %s %s/%s\n", link.SourceID, link.Type, link.TargetType, link.TargetID)
			return nil
		},
	}

	cmd.Flags().StringVar(&linkType, "type", "", "Link type (duplicate_of, related_to, caused_by, blocks)")
	cmd.Flags().StringVar(&target, "target", "", "Target defect for defect-to-defect links")
	cmd.Flags().StringVar(&entityType, "entity-type", "", "Gate target type for blocks links")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "Gate target identifier for blocks links")

	return cmd
}

func newDefectsLinksCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "links <defect-id>",
		Short: "List a defect's links",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp struct {
				Items []linkView `json:"items"`
			}
			if err := newClient().getJSON(defectsAPI+"/defects/"+args[0]+"/links", &resp); err != nil {
				return fmt.Errorf("failed to list links: %w", err)
			}

			if structured() {
				return printOutput(resp)
			}
			if len(resp.Items) == 0 {
				fmt.Println("No links.")
				return nil
			}
			rows := make([][]string, 0, len(resp.Items))
			for _, l := range resp.Items {
				rows = append(rows, []string{l.ID, l.Type, l.TargetType, l.TargetID, formatTime(l.CreatedAt)})
			}
			printTable([]string{"ID", "Type", "Target type", "Target", "Created"}, rows)
			return nil
		},
	}
}
