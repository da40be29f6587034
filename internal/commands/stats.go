package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/dwsmith1983/pipemedic/internal/config"
	"github.com/dwsmith1983/pipemedic/internal/store"
	"github.com/dwsmith1983/pipemedic/pkg/types"
)

// NewStatsCmd creates the stats command.
func NewStatsCmd() *cobra.Command {
	var (
		days   int
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show healing statistics from the configured store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if days < 1 {
				return fmt.Errorf("--days must be at least 1")
			}
			cfg, err := config.Load(configDir(cmd))
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			st, err := newStore(ctx, cfg, newLogger(os.Stderr, os.Getenv("LOG_LEVEL")))
			if err != nil {
				return fmt.Errorf("creating store: %w", err)
			}
			if err := st.Start(ctx); err != nil {
				return fmt.Errorf("starting store: %w", err)
			}
			defer func() { _ = st.Stop(context.Background()) }()

			stats, err := st.GetAggregateStatistics(ctx, days)
			if err != nil {
				return fmt.Errorf("reading statistics: %w", err)
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), stats)
			}
			printStats(cmd.OutOrStdout(), stats)
			return nil
		},
	}

	cmd.Flags().IntVar(&days, "days", store.DefaultWindowDays, "Statistics window in days")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the statistics as JSON")
	return cmd
}

func printStats(w io.Writer, s types.AggregateStatistics) {
	bold := color.New(color.Bold)
	_, _ = bold.Fprintf(w, "Healing statistics (last %d days)\n\n", s.WindowDays)
	fmt.Fprintf(w, "  Failures:   %d\n", s.TotalFailures)
	fmt.Fprintf(w, "  Attempted:  %d\n", s.Attempted)
	fmt.Fprintf(w, "  Succeeded:  %d\n", s.Succeeded)

	rate := fmt.Sprintf("%.2f%%", s.SuccessRate)
	switch {
	case s.Attempted == 0:
	case s.SuccessRate >= 50:
		rate = color.GreenString(rate)
	default:
		rate = color.RedString(rate)
	}
	fmt.Fprintf(w, "  Success:    %s\n", rate)
}
