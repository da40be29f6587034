// Package remediation applies automated fixes for classified pipeline
// failures against the source-control collaborator.
package remediation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dwsmith1983/pipemedic/internal/scm"
	"github.com/dwsmith1983/pipemedic/pkg/types"
)

// CommitPrefix marks every commit the dispatcher makes.
const CommitPrefix = "[AUTO-HEAL]"

// Config controls strategy targets and tuning.
type Config struct {
	ManifestPath       string
	TestConfigPath     string
	WorkflowPath       string
	DefaultBranch      string
	TestTimeoutSeconds int
	JobTimeoutMinutes  int
	Reruns             int
	RerunDelaySeconds  int
	RetryPlugin        string
	RetryPackages      []string
	// StrategyTimeout bounds one whole strategy, all collaborator calls included.
	StrategyTimeout time.Duration
}

// DefaultConfig returns the default strategy configuration.
func DefaultConfig() Config {
	return Config{
		ManifestPath:       "requirements.txt",
		TestConfigPath:     "pytest.ini",
		WorkflowPath:       ".github/workflows/main.yml",
		DefaultBranch:      "main",
		TestTimeoutSeconds: 300,
		JobTimeoutMinutes:  60,
		Reruns:             3,
		RerunDelaySeconds:  1,
		RetryPlugin:        "pytest-rerunfailures",
		RetryPackages:      []string{"requests", "urllib3"},
		StrategyTimeout:    time.Minute,
	}
}

type strategyFunc func(ctx context.Context, d *Dispatcher, run types.RunSummary, f Failure) (types.Outcome, error)

// strategies is the dispatch table. Every Failure variant's Strategy() has an entry.
var strategies = map[types.StrategyID]strategyFunc{
	types.StrategyAddToManifest:  addToManifest,
	types.StrategyRaiseTimeout:   raiseTimeout,
	types.StrategyAddRetryPolicy: addRetryPolicy,
	types.StrategyCacheOrManual:  cacheOrManual,
	types.StrategyRollback:       rollback,
	types.StrategyRaiseLimits:    raiseLimits,
	types.StrategyAddRetryDeps:   addRetryDeps,
	types.StrategyNone:           noStrategy,
}

// Dispatcher runs remediation strategies. Strategies touching the same
// branch run one at a time.
type Dispatcher struct {
	client scm.Client
	cfg    Config
	locks  branchLocks
	logger *slog.Logger
}

// New creates a Dispatcher. Zero-valued config fields take their defaults.
func New(client scm.Client, cfg Config, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{client: client, cfg: withDefaults(cfg), logger: logger}
}

func withDefaults(cfg Config) Config {
	def := DefaultConfig()
	if cfg.ManifestPath == "" {
		cfg.ManifestPath = def.ManifestPath
	}
	if cfg.TestConfigPath == "" {
		cfg.TestConfigPath = def.TestConfigPath
	}
	if cfg.WorkflowPath == "" {
		cfg.WorkflowPath = def.WorkflowPath
	}
	if cfg.DefaultBranch == "" {
		cfg.DefaultBranch = def.DefaultBranch
	}
	if cfg.TestTimeoutSeconds <= 0 {
		cfg.TestTimeoutSeconds = def.TestTimeoutSeconds
	}
	if cfg.JobTimeoutMinutes <= 0 {
		cfg.JobTimeoutMinutes = def.JobTimeoutMinutes
	}
	if cfg.Reruns <= 0 {
		cfg.Reruns = def.Reruns
	}
	if cfg.RerunDelaySeconds <= 0 {
		cfg.RerunDelaySeconds = def.RerunDelaySeconds
	}
	if cfg.RetryPlugin == "" {
		cfg.RetryPlugin = def.RetryPlugin
	}
	if len(cfg.RetryPackages) == 0 {
		cfg.RetryPackages = def.RetryPackages
	}
	if cfg.StrategyTimeout <= 0 {
		cfg.StrategyTimeout = def.StrategyTimeout
	}
	return cfg
}

// Heal applies the strategy for a classification to the run's branch.
func (d *Dispatcher) Heal(ctx context.Context, run types.RunSummary, cl types.Classification) types.Outcome {
	return d.Apply(ctx, run, FailureFrom(cl))
}

// Apply runs the strategy registered for f. It never returns an error: any
// collaborator failure or panic becomes an unsuccessful Outcome. Strategy
// calls are detached from ctx cancellation so a shutdown does not abandon a
// half-finished commit; StrategyTimeout still bounds them.
func (d *Dispatcher) Apply(ctx context.Context, run types.RunSummary, f Failure) (out types.Outcome) {
	id := f.Strategy()
	fn, ok := strategies[id]
	if !ok {
		return types.Outcome{Strategy: id, Details: fmt.Sprintf("no handler registered for strategy %s", id)}
	}
	if run.Branch == "" {
		run.Branch = d.cfg.DefaultBranch
	}

	unlock := d.locks.lock(run.Branch)
	defer unlock()

	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.cfg.StrategyTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("remediation strategy panicked", "runID", run.ID, "strategy", id, "panic", r)
			out = types.Outcome{Strategy: id, Details: fmt.Sprintf("Error during healing: %v", r)}
		}
	}()

	d.logger.Info("applying remediation", "runID", run.ID, "branch", run.Branch, "strategy", id)
	out, err := fn(sctx, d, run, f)
	out.Strategy = id
	if err != nil {
		d.logger.Error("remediation failed", "runID", run.ID, "strategy", id, "error", err)
		out.Success = false
		out.Details = fmt.Sprintf("Error during healing: %v", err)
	}
	return out
}

// readFile returns a file's content and blob SHA, or empty values when the
// file does not exist yet.
func (d *Dispatcher) readFile(ctx context.Context, path, branch string) (string, string, error) {
	f, err := d.client.GetFile(ctx, path, branch)
	if errors.Is(err, scm.ErrNotFound) {
		return "", "", nil
	}
	if err != nil {
		return "", "", fmt.Errorf("reading %s: %w", path, err)
	}
	return f.Content, f.SHA, nil
}

func (d *Dispatcher) commit(ctx context.Context, branch, path, content, sha, message string) error {
	err := d.client.CommitFile(ctx, scm.CommitRequest{
		Path:        path,
		Content:     content,
		Message:     CommitPrefix + " " + message,
		Branch:      branch,
		ExpectedSHA: sha,
	})
	if err != nil {
		return fmt.Errorf("committing %s: %w", path, err)
	}
	return nil
}

// branchLocks is a keyed mutex; entries are dropped when no longer referenced.
type branchLocks struct {
	mu    sync.Mutex
	locks map[string]*branchLock
}

type branchLock struct {
	mu   sync.Mutex
	refs int
}

func (b *branchLocks) lock(branch string) func() {
	b.mu.Lock()
	if b.locks == nil {
		b.locks = make(map[string]*branchLock)
	}
	l, ok := b.locks[branch]
	if !ok {
		l = &branchLock{}
		b.locks[branch] = l
	}
	l.refs++
	b.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		b.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(b.locks, branch)
		}
		b.mu.Unlock()
	}
}
