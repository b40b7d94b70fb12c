package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

// notificationView mirrors the server's notification representation.
type notificationView struct {
	ID           string `json:"id"`
	Kind         string `json:"kind"`
	Recipient    string `json:"recipient,omitempty"`
	Subject      string `json:"subject"`
	Body         string `json:"body,omitempty"`
	State        string `json:"state"`
	AttemptCount int    `json:"attemptCount"`
	LastError    string `json:"lastError,omitempty"`
	EnqueuedAt   string `json:"enqueuedAt"`
	DeliveredAt  string `json:"deliveredAt,omitempty"`
}

var notificationsCmd = &cobra.Command{
	Use:     "notifications",
	Aliases: []string{"notify"},
	Short:   "Inspect and manage the notification outbox",
}

func init() {
	notificationsCmd.AddCommand(newNotificationsListCmd())
	notificationsCmd.AddCommand(newNotificationsGetCmd())
	notificationsCmd.AddCommand(newNotificationsCancelCmd())
	notificationsCmd.AddCommand(newNotificationsRetryCmd())
}

func newNotificationsListCmd() *cobra.Command {
	var (
		kind      string
		state     string
		recipient string
		pageSize  int
		pageToken string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List notifications",
		RunE: func(cmd *cobra.Command, args []string) error {
			params := map[string]string{
				"kind":      strings.ToLower(kind),
				"state":     strings.ToLower(state),
				"recipient": recipient,
				"pageToken": pageToken,
			}
			if pageSize > 0 {
				params["pageSize"] = strconv.Itoa(pageSize)
			}

			var resp struct {
				Items         []notificationView `json:"items"`
				TotalSize     int64              `json:"totalSize"`
				NextPageToken string             `json:"nextPageToken,omitempty"`
			}
			if err := newClient().getJSON(notificationsAPI+"/notifications"+queryString(params), &resp); err != nil {
				return fmt.Errorf("failed to list notifications: %w", err)
			}

			if structured() {
				return printOutput(resp)
			}
			if len(resp.Items) == 0 {
				fmt.Println("No notifications found.")
				return nil
			}

			headers := []string{"ID", "Kind", "State", "Attempts", "Subject"}
			rows := make([][]string, 0, len(resp.Items))
			for _, n := range resp.Items {
				rows = append(rows, []string{
					n.ID,
					n.Kind,
					n.State,
					strconv.Itoa(n.AttemptCount),
					truncate(n.Subject, 60),
				})
			}
			printTable(headers, rows)
			if resp.NextPageToken != "" {
				fmt.Printf("\nMore results available. Use --page-token %s\n", resp.NextPageToken)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&kind, "kind", "", "Filter by kind (gate_verdict, sla_breach, defect_assigned)")
	cmd.Flags().StringVar(&state, "state", "", "Filter by state (queued, delivering, delivered, failed, cancelled)")
	cmd.Flags().StringVar(&recipient, "recipient", "", "Filter by recipient")
	cmd.Flags().IntVar(&pageSize, "page-size", 0, "Page size")
	cmd.Flags().StringVar(&pageToken, "page-token", "", "Page token from a previous response")

	return cmd
}

func newNotificationsGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <notification-id>",
		Short: "Show one notification",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var n notificationView
			if err := newClient().getJSON(notificationsAPI+"/notifications/"+args[0], &n); err != nil {
				return fmt.Errorf("failed to get notification: %w", err)
			}

			if structured() {
				return printOutput(n)
			}

			fmt.Printf("Notification: %s\n", n.ID)
			fmt.Printf("Kind:     %s\n", n.Kind)
			fmt.Printf("State:    %s (%d attempts)\n", n.State, n.AttemptCount)
			fmt.Printf("Subject:  %s\n", n.Subject)
			if n.Recipient != "" {
				fmt.Printf("To:       %s\n", n.Recipient)
			}
			if n.LastError != "" {
				fmt.Printf("Error:    %s\n", n.LastError)
			}
			fmt.Printf("Enqueued: %s\n", formatTime(n.EnqueuedAt))
			if n.DeliveredAt != "" {
				fmt.Printf("Delivered: %s\n", formatTime(n.DeliveredAt))
			}
			if n.Body != "" {
				fmt.Printf("\n%s\n", n.Body)
			}
			return nil
		},
	}
}

func newNotificationsCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <notification-id>",
		Short: "Cancel a queued notification",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var n notificationView
			path := notificationsAPI + "/notifications/" + args[0] + "/cancel"
			if err := newClient().postJSON(path, nil, &n); err != nil {
				return fmt.Errorf("failed to cancel notification: %w", err)
			}
			fmt.Printf("Notification %s is now %s\n", n.ID, n.State)
			return nil
		},
	}
}

func newNotificationsRetryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retry <notification-id>",
		Short: "Requeue a failed notification for delivery",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var n notificationView
			path := notificationsAPI + "/notifications/" + args[0] + "/retry"
			if err := newClient().postJSON(path, nil, &n); err != nil {
				return fmt.Errorf("failed to retry notification: %w", err)
			}
			fmt.Printf("Notification %s is now %s\n", n.ID, n.State)
			return nil
		},
	}
}
