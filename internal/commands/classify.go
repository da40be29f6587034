package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/dwsmith1983/pipemedic/internal/classifier"
	"github.com/dwsmith1983/pipemedic/pkg/types"
)

// NewClassifyCmd creates the classify command.
func NewClassifyCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "classify [file|-]",
		Short: "Classify a failure log",
		Long:  "Classifies one CI failure log read from a file, or from stdin when the argument is '-' or omitted.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "-"
			if len(args) > 0 {
				path = args[0]
			}
			log, err := readInput(path, cmd.InOrStdin())
			if err != nil {
				return err
			}
			cl := classifier.Classify(log)
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), cl)
			}
			printClassification(cmd.OutOrStdout(), cl)
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the classification as JSON")
	return cmd
}

// NewAnalyzeCmd creates the analyze command.
func NewAnalyzeCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "analyze <file>...",
		Short: "Report the failure category distribution of several logs",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logs := make([]string, 0, len(args))
			for _, path := range args {
				log, err := readInput(path, cmd.InOrStdin())
				if err != nil {
					return err
				}
				logs = append(logs, log)
			}
			report := classifier.AnalyzeBatch(logs)
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), report)
			}
			printReport(cmd.OutOrStdout(), report)
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the report as JSON")
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func severityString(s types.Severity) string {
	switch s {
	case types.SeverityCritical:
		return color.RedString(string(s))
	case types.SeverityHigh:
		return color.YellowString(string(s))
	default:
		return string(s)
	}
}

func printClassification(w io.Writer, cl types.Classification) {
	bold := color.New(color.Bold)
	_, _ = bold.Fprintf(w, "Category:   %s\n", cl.Category)
	fmt.Fprintf(w, "Severity:   %s\n", severityString(cl.Severity))
	fixable := color.RedString("no")
	if cl.Fixable {
		fixable = color.GreenString("yes")
	}
	fmt.Fprintf(w, "Fixable:    %s (%s, %s)\n", fixable, cl.Difficulty, cl.Strategy)
	fmt.Fprintf(w, "Message:    %s\n", cl.Message)
	if cl.Package != "" {
		fmt.Fprintf(w, "Package:    %s\n", cl.Package)
	}
	if cl.TestName != "" {
		fmt.Fprintf(w, "Test:       %s\n", cl.TestName)
	}
	if cl.Line != "" {
		fmt.Fprintf(w, "Line:       %s\n", cl.Line)
	}
}

func printReport(w io.Writer, report classifier.BatchReport) {
	bold := color.New(color.Bold)
	_, _ = bold.Fprintf(w, "Analyzed %d logs\n\n", report.Total)

	categories := make([]types.FailureCategory, 0, len(report.Distribution))
	for c := range report.Distribution {
		categories = append(categories, c)
	}
	sort.Slice(categories, func(i, j int) bool {
		ci, cj := report.Distribution[categories[i]], report.Distribution[categories[j]]
		if ci.Count != cj.Count {
			return ci.Count > cj.Count
		}
		return categories[i] < categories[j]
	})

	for _, c := range categories {
		st := report.Distribution[c]
		fmt.Fprintf(w, "  %-20s %4d  %6.2f%%  %s\n", c, st.Count, st.Percentage, st.Difficulty)
	}
}
