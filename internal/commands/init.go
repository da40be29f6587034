package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/dwsmith1983/pipemedic/internal/config"
)

const (
	valkeyContainer = "pipemedic-valkey"
	valkeyTimeout   = 60 * time.Second
)

// NewInitCmd creates the init command.
func NewInitCmd() *cobra.Command {
	var (
		repository string
		withValkey bool
		force      bool
	)

	cmd := &cobra.Command{
		Use:   "init [dir]",
		Short: "Write a starter pipemedic.yaml",
		Long:  "Writes a starter configuration and optionally starts a local Valkey container for shared run dedup.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) > 0 {
				dir = args[0]
			}
			return runInit(cmd.OutOrStdout(), dir, repository, withValkey, force)
		},
	}

	cmd.Flags().StringVar(&repository, "repo", "owner/name", "Repository to watch (owner/name)")
	cmd.Flags().BoolVar(&withValkey, "valkey", false, "Start a local Valkey container and use it for dedup")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing configuration")
	return cmd
}

func runInit(w io.Writer, dir, repository string, withValkey, force bool) error {
	bold := color.New(color.Bold)
	_, _ = bold.Fprintf(w, "Initializing pipemedic in %s\n", dir)

	if err := os.MkdirAll(filepath.Join(dir, config.DefaultArtifactDir), 0o755); err != nil {
		return fmt.Errorf("creating model directory: %w", err)
	}

	path := filepath.Join(dir, config.FileName)
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}
	if err := os.WriteFile(path, []byte(starterConfig(repository, withValkey)), 0o644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	_, _ = fmt.Fprintln(w, color.GreenString("  ✓ Wrote %s", path))

	if withValkey {
		if err := startValkey(); err != nil {
			_, _ = fmt.Fprintln(w, color.YellowString("  ⚠ Valkey setup skipped: %v", err))
			_, _ = fmt.Fprintln(w, color.YellowString("    Run manually: docker run -d --name %s -p 6379:6379 valkey/valkey:8", valkeyContainer))
		} else {
			_, _ = fmt.Fprintln(w, color.GreenString("  ✓ Valkey container started"))
		}
	}

	_, _ = fmt.Fprintln(w)
	_, _ = bold.Fprintln(w, "Next steps:")
	_, _ = fmt.Fprintln(w, "  export GITHUB_TOKEN=...")
	_, _ = fmt.Fprintf(w, "  copy trained model artifacts into %s/ (optional)\n", filepath.Join(dir, config.DefaultArtifactDir))
	_, _ = fmt.Fprintln(w, "  pipemedic serve")
	return nil
}

func starterConfig(repository string, withValkey bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "repository: %s\n", repository)
	b.WriteString(`tracker:
  pollInterval: 20s
  pageSize: 30
`)
	if withValkey {
		b.WriteString(`  dedup: redis
redis:
  addr: localhost:6379
  keyPrefix: "pipemedic:"
`)
	}
	b.WriteString(`predictor:
  artifactDir: ./models
  threshold: 0.70
remediation:
  manifestPath: requirements.txt
  testConfigPath: pytest.ini
  workflowPath: .github/workflows/main.yml
  openIssues: true
store:
  type: memory
server:
  addr: ":8080"
alerts:
  - type: console
`)
	return b.String()
}

func startValkey() error {
	if _, err := exec.LookPath("docker"); err != nil {
		return fmt.Errorf("docker not found in PATH")
	}

	ctx, cancel := context.WithTimeout(context.Background(), valkeyTimeout)
	defer cancel()

	// Reuse an existing container.
	if exec.CommandContext(ctx, "docker", "inspect", valkeyContainer).Run() == nil {
		if err := exec.CommandContext(ctx, "docker", "start", valkeyContainer).Run(); err != nil {
			return fmt.Errorf("starting existing container: %w", err)
		}
		return nil
	}

	cmd := exec.CommandContext(ctx, "docker", "run", "-d",
		"--name", valkeyContainer,
		"-p", "6379:6379",
		"valkey/valkey:8",
	)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}
