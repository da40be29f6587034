package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dwsmith1983/pipemedic/internal/commands"
)

var version = "dev"

func main() {
	root := &cobra.Command{
		Use:   "pipemedic",
		Short: "Self-healing for CI pipelines",
		Long: `pipemedic watches CI workflow runs, classifies failure logs, estimates
how likely an automated fix is to work, and applies the matching remediation
when that probability is high enough. Everything else is escalated to a human.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("config", ".", "Directory containing pipemedic.yaml")

	root.AddCommand(
		commands.NewInitCmd(),
		commands.NewClassifyCmd(),
		commands.NewAnalyzeCmd(),
		commands.NewStatsCmd(),
		commands.NewHealCmd(),
		commands.NewServeCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
