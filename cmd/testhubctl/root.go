// Package main provides the testhubctl CLI for the testhub server. It
// records executions, walks defects through their lifecycle, evaluates
// release gates, and inspects notifications and the audit trail over the
// server's HTTP API.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	serverURL     string
	outputFmt     = outputTable
	programFlag   string
	principalFlag string
	roleFlag      string
)

var rootCmd = &cobra.Command{
	Use:   "testhubctl",
	Short: "CLI for the testhub server",
	Long: `testhubctl talks to a running testhub server.

It records test execution results, manages defects through their lifecycle,
configures and evaluates release gates, and inspects the notification outbox
and the audit trail.

Identity is passed through headers: --as sets the principal, --role the
role, and --program selects the program on multi-program servers.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server",
		envOr("TESTHUB_SERVER", "http://localhost:8080"), "Testhub server URL")
	rootCmd.PersistentFlags().VarP(&outputFmt, "output", "o",
		"Output format: table, json, yaml")
	rootCmd.PersistentFlags().StringVarP(&programFlag, "program", "p", "",
		"Program key for multi-program servers (default: from TESTHUB_PROGRAM env)")
	rootCmd.PersistentFlags().StringVar(&principalFlag, "as", "",
		"Principal sent with each request (default: from TESTHUB_USER env)")
	rootCmd.PersistentFlags().StringVar(&roleFlag, "role", "",
		"Role sent with each request (default: from TESTHUB_ROLE env)")

	rootCmd.AddCommand(executionsCmd)
	rootCmd.AddCommand(defectsCmd)
	rootCmd.AddCommand(gatesCmd)
	rootCmd.AddCommand(notificationsCmd)
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(programsCmd)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// resolvedProgram returns the effective program key.
// Priority: --program flag > TESTHUB_PROGRAM env var > none.
func resolvedProgram() string {
	if programFlag != "" {
		return programFlag
	}
	return os.Getenv("TESTHUB_PROGRAM")
}

func resolvedPrincipal() string {
	if principalFlag != "" {
		return principalFlag
	}
	return os.Getenv("TESTHUB_USER")
}

func resolvedRole() string {
	if roleFlag != "" {
		return roleFlag
	}
	return os.Getenv("TESTHUB_ROLE")
}
