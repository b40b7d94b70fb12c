package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// outputFormat is the --output flag. It validates on Set so bad values fail
// at flag-parse time instead of after the request.
type outputFormat string

const (
	outputTable outputFormat = "table"
	outputJSON  outputFormat = "json"
	outputYAML  outputFormat = "yaml"
)

var _ pflag.Value = (*outputFormat)(nil)

func (f *outputFormat) String() string { return string(*f) }

func (f *outputFormat) Set(v string) error {
	switch outputFormat(v) {
	case outputTable, outputJSON, outputYAML:
		*f = outputFormat(v)
		return nil
	}
	return fmt.Errorf("unsupported output format %q (use table, json, or yaml)", v)
}

func (f *outputFormat) Type() string { return "format" }

// structured reports whether the current output format bypasses tables.
func structured() bool {
	return outputFmt == outputJSON || outputFmt == outputYAML
}

func printOutput(v any) error {
	switch outputFmt {
	case outputJSON:
		return printJSON(v)
	case outputYAML:
		return printYAML(v)
	default:
		return fmt.Errorf("unsupported output format for structured data: %s (use json or yaml)", outputFmt)
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printYAML(v any) error {
	// Convert through JSON to get consistent keys (json tags).
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var m any
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	enc := yaml.NewEncoder(os.Stdout)
	enc.SetIndent(2)
	return enc.Encode(m)
}

func printTable(headers []string, rows [][]string) {
	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)

	upperHeaders := make([]string, len(headers))
	for i, h := range headers {
		upperHeaders[i] = strings.ToUpper(h)
	}
	fmt.Fprintln(w, strings.Join(upperHeaders, "\t"))

	for _, row := range rows {
		fmt.Fprintln(w, strings.Join(row, "\t"))
	}

	w.Flush()
}

// truncate shortens a string to max length, appending "..." if truncated.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}

// dash substitutes "-" for empty cell values.
func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// formatTime renders an RFC3339 timestamp string compactly for tables.
func formatTime(s string) string {
	if s == "" {
		return "-"
	}
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return s
	}
	return ts.Local().Format("2006-01-02 15:04")
}

// formatPct renders a float as a percentage with one decimal.
func formatPct(v float64) string {
	return fmt.Sprintf("%.1f%%", v)
}
