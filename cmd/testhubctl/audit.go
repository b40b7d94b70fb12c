package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect the audit trail",
}

func init() {
	auditCmd.AddCommand(newAuditEventsCmd())
	auditCmd.AddCommand(newAuditRetentionCmd())
}

func newAuditEventsCmd() *cobra.Command {
	var (
		actor        string
		eventType    string
		resourceType string
		resourceID   string
		outcome      string
		pageSize     int
		pageToken    string
	)

	cmd := &cobra.Command{
		Use:   "events",
		Short: "List audit events, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			params := map[string]string{
				"actor":        actor,
				"eventType":    eventType,
				"resourceType": resourceType,
				"resourceId":   resourceID,
				"outcome":      outcome,
				"pageToken":    pageToken,
			}
			if pageSize > 0 {
				params["pageSize"] = strconv.Itoa(pageSize)
			}

			var resp struct {
				Events []struct {
					ID           string `json:"id"`
					EventType    string `json:"eventType"`
					Actor        string `json:"actor"`
					ResourceType string `json:"resourceType"`
					ResourceID   string `json:"resourceId,omitempty"`
					Action       string `json:"action"`
					Outcome      string `json:"outcome"`
					CreatedAt    string `json:"createdAt"`
				} `json:"events"`
				NextPageToken string `json:"nextPageToken,omitempty"`
				TotalSize     int64  `json:"totalSize"`
			}
			if err := newClient().getJSON(auditAPI+"/events"+queryString(params), &resp); err != nil {
				return fmt.Errorf("failed to list audit events: %w", err)
			}

			if structured() {
				return printOutput(resp)
			}
			if len(resp.Events) == 0 {
				fmt.Println("No audit events found.")
				return nil
			}

			headers := []string{"When", "Actor", "Action", "Resource", "Outcome"}
			rows := make([][]string, 0, len(resp.Events))
			for _, e := range resp.Events {
				resource := e.ResourceType
				if e.ResourceID != "" {
					resource += "/" + e.ResourceID
				}
				rows = append(rows, []string{
					formatTime(e.CreatedAt),
					e.Actor,
					e.Action,
					truncate(resource, 50),
					e.Outcome,
				})
			}
			printTable(headers, rows)
			if resp.NextPageToken != "" {
				fmt.Printf("\nMore results available. Use --page-token %s\n", resp.NextPageToken)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&actor, "actor", "", "Filter by actor")
	cmd.Flags().StringVar(&eventType, "event-type", "", "Filter by event type")
	cmd.Flags().StringVar(&resourceType, "resource-type", "", "Filter by resource type")
	cmd.Flags().StringVar(&resourceID, "resource-id", "", "Filter by resource identifier")
	cmd.Flags().StringVar(&outcome, "outcome", "", "Filter by outcome (success, failure, denied)")
	cmd.Flags().IntVar(&pageSize, "page-size", 0, "Page size")
	cmd.Flags().StringVar(&pageToken, "page-token", "", "Page token from a previous response")

	return cmd
}

func newAuditRetentionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retention-run",
		Short: "Trigger an audit retention sweep immediately",
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp map[string]any
			if err := newClient().postJSON(auditAPI+"/retention:run", nil, &resp); err != nil {
				return fmt.Errorf("retention sweep failed: %w", err)
			}
			if structured() {
				return printOutput(resp)
			}
			fmt.Println("Retention sweep completed.")
			for k, v := range resp {
				fmt.Printf("  %s: %v\n", k, v)
			}
			return nil
		},
	}
}
