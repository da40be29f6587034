// Package commands implements the CLI subcommands for the pipemedic binary.
package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dwsmith1983/pipemedic/internal/alert"
	"github.com/dwsmith1983/pipemedic/internal/classifier"
	"github.com/dwsmith1983/pipemedic/internal/config"
	"github.com/dwsmith1983/pipemedic/internal/engine"
	"github.com/dwsmith1983/pipemedic/internal/metrics"
	"github.com/dwsmith1983/pipemedic/internal/predictor"
	"github.com/dwsmith1983/pipemedic/internal/remediation"
	"github.com/dwsmith1983/pipemedic/internal/scm"
	"github.com/dwsmith1983/pipemedic/internal/store"
	ddbstore "github.com/dwsmith1983/pipemedic/internal/store/dynamodb"
	"github.com/dwsmith1983/pipemedic/internal/store/memory"
	pgstore "github.com/dwsmith1983/pipemedic/internal/store/postgres"
	"github.com/dwsmith1983/pipemedic/internal/tracker"
	"github.com/dwsmith1983/pipemedic/pkg/types"
)

// flakyNames bounds how many workflow and test names keep a flaky history.
const flakyNames = 1000

// newLogger builds the JSON logger used by long-running commands.
func newLogger(w io.Writer, level string) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: parseLevel(level)}))
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// newStore creates the configured outcome store. The caller starts it.
func newStore(ctx context.Context, cfg *types.ProjectConfig, logger *slog.Logger) (store.OutcomeStore, error) {
	switch cfg.Store.Type {
	case config.StoreMemory, "":
		return memory.New(), nil
	case config.StorePostgres:
		st, err := pgstore.New(ctx, cfg.Store.Postgres.DSN)
		if err != nil {
			return nil, err
		}
		return st, nil
	case config.StoreDynamoDB:
		st, err := ddbstore.New(ctx, cfg.Store.DynamoDB, logger)
		if err != nil {
			return nil, err
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unsupported store: %s", cfg.Store.Type)
	}
}

// newDeduper creates the tracker's recency set. A shared Redis set must be
// reachable at startup.
func newDeduper(ctx context.Context, cfg *types.ProjectConfig) (tracker.Deduper, error) {
	switch cfg.Tracker.Dedup {
	case config.DedupRedis:
		ttl, err := config.DedupTTL(cfg)
		if err != nil {
			return nil, err
		}
		d := tracker.NewRedisDeduper(cfg.Redis, ttl)
		if err := d.Ping(ctx); err != nil {
			_ = d.Close()
			return nil, err
		}
		return d, nil
	default:
		return tracker.NewLocalDeduper(cfg.Tracker.RecentCapacity)
	}
}

// newGitHub resolves the API token and builds the GitHub Actions client.
func newGitHub(ctx context.Context, cfg *types.ProjectConfig, logger *slog.Logger) (*scm.GitHub, error) {
	token, err := config.ResolveToken(ctx, cfg.GitHub)
	if err != nil {
		return nil, err
	}
	call, err := config.CallTimeout(cfg)
	if err != nil {
		return nil, err
	}
	opts := []scm.GitHubOption{
		scm.WithRequestsPerSecond(cfg.GitHub.RequestsPerSecond),
		scm.WithCallTimeout(call),
		scm.WithLogger(logger),
	}
	if cfg.GitHub.BaseURL != "" {
		opts = append(opts, scm.WithBaseURL(cfg.GitHub.BaseURL))
	}
	return scm.NewGitHub(ctx, cfg.Repository, token, opts...)
}

// remediationConfig maps the yaml section onto dispatcher settings. Zero
// values fall back to the dispatcher defaults.
func remediationConfig(cfg *types.ProjectConfig) (remediation.Config, error) {
	timeout, err := config.StrategyTimeout(cfg)
	if err != nil {
		return remediation.Config{}, err
	}
	rc := cfg.Remediation
	if rc == nil {
		rc = &types.RemediationConfig{}
	}
	return remediation.Config{
		ManifestPath:       rc.ManifestPath,
		TestConfigPath:     rc.TestConfigPath,
		WorkflowPath:       rc.WorkflowPath,
		DefaultBranch:      rc.DefaultBranch,
		TestTimeoutSeconds: rc.TestTimeoutSeconds,
		JobTimeoutMinutes:  rc.JobTimeoutMinutes,
		Reruns:             rc.Reruns,
		RerunDelaySeconds:  rc.RerunDelaySeconds,
		RetryPlugin:        rc.RetryPlugin,
		RetryPackages:      rc.RetryPackages,
		StrategyTimeout:    timeout,
	}, nil
}

// app holds the components shared by serve and heal.
type app struct {
	cfg    *types.ProjectConfig
	logger *slog.Logger
	github *scm.GitHub
	store  store.OutcomeStore
	pred   *predictor.Predictor
	engine *engine.Engine
	alerts *alert.Dispatcher
}

// newApp wires the processing pipeline from configuration and starts the store.
func newApp(ctx context.Context, cfg *types.ProjectConfig, sink metrics.Sink, logger *slog.Logger) (*app, error) {
	gh, err := newGitHub(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("creating GitHub client: %w", err)
	}

	st, err := newStore(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("creating store: %w", err)
	}
	if err := st.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting store: %w", err)
	}

	pred, err := predictor.Load(cfg.Predictor.ArtifactDir, logger)
	if err != nil {
		_ = st.Stop(ctx)
		return nil, fmt.Errorf("loading models: %w", err)
	}

	dispatcher, err := alert.NewDispatcher(ctx, cfg.Alerts, logger)
	if err != nil {
		_ = st.Stop(ctx)
		return nil, fmt.Errorf("creating alert dispatcher: %w", err)
	}

	flaky, err := classifier.NewFlakyDetector(cfg.Tracker.FlakyHistory, flakyNames)
	if err != nil {
		_ = st.Stop(ctx)
		return nil, fmt.Errorf("creating flaky detector: %w", err)
	}

	rc, err := remediationConfig(cfg)
	if err != nil {
		_ = st.Stop(ctx)
		return nil, err
	}
	remed := remediation.New(gh, rc, logger)
	eng := engine.New(gh, st, pred, remed, engine.Options{
		Threshold:   cfg.Predictor.Threshold,
		OpenIssues:  config.OpenIssues(cfg),
		IssueLabels: cfg.Remediation.IssueLabels,
		Flaky:       flaky,
		Metrics:     sink,
		AlertFn:     dispatcher.AlertFunc(),
		Logger:      logger,
	})

	return &app{
		cfg:    cfg,
		logger: logger,
		github: gh,
		store:  st,
		pred:   pred,
		engine: eng,
		alerts: dispatcher,
	}, nil
}

// close releases the store.
func (a *app) close(ctx context.Context) {
	if err := a.store.Stop(ctx); err != nil {
		a.logger.Warn("stopping store", "error", err)
	}
}

// readInput reads a log file, or stdin when path is "-" or empty.
func readInput(path string, stdin io.Reader) (string, error) {
	if path == "" || path == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("reading stdin: %w", err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", path, err)
	}
	return string(data), nil
}

// configDir returns the --config directory, defaulting to the working directory.
func configDir(cmd *cobra.Command) string {
	dir, err := cmd.Flags().GetString("config")
	if err != nil || dir == "" {
		return "."
	}
	return dir
}
