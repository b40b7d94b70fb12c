package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var programsCmd = &cobra.Command{
	Use:   "programs",
	Short: "List programs available on the server",
	Long:  "List the programs the server accepts, along with its tenancy mode.",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newClient()

		var resp struct {
			Programs []string `json:"programs"`
			Mode     string   `json:"mode"`
		}
		if err := client.getJSON(tenancyAPI+"/programs", &resp); err != nil {
			return fmt.Errorf("failed to list programs: %w", err)
		}

		if structured() {
			return printOutput(resp)
		}

		fmt.Printf("Tenancy mode: %s\n\n", resp.Mode)

		rows := make([][]string, 0, len(resp.Programs))
		for _, p := range resp.Programs {
			rows = append(rows, []string{p})
		}
		printTable([]string{"Program"}, rows)

		return nil
	},
}
