package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/dwsmith1983/pipemedic/internal/config"
	"github.com/dwsmith1983/pipemedic/internal/engine"
	"github.com/dwsmith1983/pipemedic/internal/metrics"
	"github.com/dwsmith1983/pipemedic/pkg/types"
)

const healTimeout = 5 * time.Minute

// NewHealCmd creates the heal command.
func NewHealCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "heal <run-id>",
		Short: "Remediate a failed run regardless of its healing probability",
		Long:  "Classifies the failed run and dispatches its remediation strategy without applying the probability gate. Unfixable categories still escalate.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configDir(cmd))
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), healTimeout)
			defer cancel()

			logger := newLogger(os.Stderr, os.Getenv("LOG_LEVEL"))
			a, err := newApp(ctx, cfg, metrics.Nop{}, logger)
			if err != nil {
				return err
			}
			defer a.close(context.Background())

			res, err := a.engine.Heal(ctx, args[0])
			if errors.Is(err, engine.ErrNotFailed) {
				return fmt.Errorf("run %s did not fail, nothing to heal", args[0])
			}
			if err != nil {
				return fmt.Errorf("healing run %s: %w", args[0], err)
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), res)
			}
			printResult(cmd.OutOrStdout(), res)
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the healing result as JSON")
	return cmd
}

func stateString(s types.HealingState) string {
	switch s {
	case types.StateSucceeded:
		return color.GreenString(string(s))
	case types.StateFailed:
		return color.RedString(string(s))
	case types.StateSkipped:
		return color.YellowString(string(s))
	default:
		return string(s)
	}
}

func printResult(w io.Writer, res engine.Result) {
	bold := color.New(color.Bold)
	_, _ = bold.Fprintf(w, "Run %s: %s\n", res.RunID, stateString(res.State))
	if res.Classification != nil {
		fmt.Fprintf(w, "  Category:  %s (%s)\n", res.Classification.Category, severityString(res.Classification.Severity))
	}
	if res.Outcome != nil {
		fmt.Fprintf(w, "  Strategy:  %s\n", res.Outcome.Strategy)
		fmt.Fprintf(w, "  Details:   %s\n", res.Outcome.Details)
		for _, c := range res.Outcome.Changes {
			fmt.Fprintf(w, "    - %s\n", c)
		}
	}
	if res.IssueURL != "" {
		fmt.Fprintf(w, "  Issue:     %s\n", res.IssueURL)
	}
}
