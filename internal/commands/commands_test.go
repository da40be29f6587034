package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dwsmith1983/pipemedic/internal/classifier"
	"github.com/dwsmith1983/pipemedic/internal/config"
	"github.com/dwsmith1983/pipemedic/internal/store/memory"
	"github.com/dwsmith1983/pipemedic/internal/tracker"
	"github.com/dwsmith1983/pipemedic/pkg/types"
)

func isolateEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"GITHUB_TOKEN", "GITHUB_TOKEN_SECRET_ID", "GITHUB_REPO", "POLL_INTERVAL", "HEALING_THRESHOLD",
		"MODEL_PATH", "MIN_HEALING_SAMPLES", "DATABASE_URL", "REDIS_ADDR", "OTEL_EXPORTER_OTLP_ENDPOINT",
		"PIPEMEDIC_API_KEY",
	} {
		t.Setenv(k, "")
	}
}

// execute runs sub under a root carrying the persistent --config flag.
func execute(t *testing.T, sub *cobra.Command, stdin string, args ...string) (string, error) {
	t.Helper()
	root := &cobra.Command{Use: "pipemedic", SilenceUsage: true, SilenceErrors: true}
	root.PersistentFlags().String("config", ".", "")
	root.AddCommand(sub)

	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"":        slog.LevelInfo,
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		" error ": slog.LevelError,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestReadInput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "build.log")
	require.NoError(t, os.WriteFile(path, []byte("from file"), 0o644))

	got, err := readInput(path, strings.NewReader("ignored"))
	require.NoError(t, err)
	assert.Equal(t, "from file", got)

	got, err = readInput("-", strings.NewReader("from stdin"))
	require.NoError(t, err)
	assert.Equal(t, "from stdin", got)

	_, err = readInput(filepath.Join(t.TempDir(), "missing.log"), nil)
	assert.Error(t, err)
}

func TestNewStore(t *testing.T) {
	cfg := &types.ProjectConfig{Store: &types.StoreConfig{Type: config.StoreMemory}}
	st, err := newStore(context.Background(), cfg, nil)
	require.NoError(t, err)
	assert.IsType(t, &memory.Store{}, st)

	cfg.Store.Type = "mongo"
	_, err = newStore(context.Background(), cfg, nil)
	assert.ErrorContains(t, err, "unsupported store")
}

func TestNewDeduper_Local(t *testing.T) {
	cfg := &types.ProjectConfig{Tracker: &types.TrackerConfig{Dedup: config.DedupLocal, RecentCapacity: 3}}
	d, err := newDeduper(context.Background(), cfg)
	require.NoError(t, err)
	local, ok := d.(*tracker.LocalDeduper)
	require.True(t, ok)

	for _, key := range []string{"1:pending", "2:pending", "3:pending", "4:pending"} {
		_, err := local.MarkSeen(context.Background(), key)
		require.NoError(t, err)
	}
	assert.Equal(t, 3, local.Len())
}

func TestRemediationConfig(t *testing.T) {
	rc, err := remediationConfig(&types.ProjectConfig{Remediation: &types.RemediationConfig{
		ManifestPath:       "deps/requirements.txt",
		WorkflowPath:       ".github/workflows/ci.yml",
		DefaultBranch:      "trunk",
		TestTimeoutSeconds: 600,
		Reruns:             5,
		RetryPlugin:        "flaky",
		RetryPackages:      []string{"httpx"},
		StrategyTimeout:    "90s",
	}})
	require.NoError(t, err)
	assert.Equal(t, "deps/requirements.txt", rc.ManifestPath)
	assert.Equal(t, ".github/workflows/ci.yml", rc.WorkflowPath)
	assert.Equal(t, "trunk", rc.DefaultBranch)
	assert.Equal(t, 600, rc.TestTimeoutSeconds)
	assert.Equal(t, 5, rc.Reruns)
	assert.Equal(t, "flaky", rc.RetryPlugin)
	assert.Equal(t, []string{"httpx"}, rc.RetryPackages)
	assert.Equal(t, 90*time.Second, rc.StrategyTimeout)
	assert.Empty(t, rc.TestConfigPath)

	rc, err = remediationConfig(&types.ProjectConfig{})
	require.NoError(t, err)
	assert.Zero(t, rc.StrategyTimeout)

	_, err = remediationConfig(&types.ProjectConfig{Remediation: &types.RemediationConfig{StrategyTimeout: "soon"}})
	assert.Error(t, err)
}

func TestClassifyCmd(t *testing.T) {
	out, err := execute(t, NewClassifyCmd(), "ModuleNotFoundError: No module named 'pandas'\n", "classify", "--json")
	require.NoError(t, err)

	var cl types.Classification
	require.NoError(t, json.Unmarshal([]byte(out), &cl))
	assert.Equal(t, types.CategoryMissingDependency, cl.Category)
	assert.Equal(t, "pandas", cl.Package)
	assert.True(t, cl.Fixable)
}

func TestClassifyCmd_Text(t *testing.T) {
	path := filepath.Join(t.TempDir(), "job.log")
	require.NoError(t, os.WriteFile(path, []byte("OOMKilled: Container exceeded memory limit (512Mi)"), 0o644))

	out, err := execute(t, NewClassifyCmd(), "", "classify", path)
	require.NoError(t, err)
	assert.Contains(t, out, string(types.CategoryResourceLimit))
	assert.Contains(t, out, string(types.StrategyRaiseLimits))
}

func TestAnalyzeCmd(t *testing.T) {
	dir := t.TempDir()
	logs := map[string]string{
		"a.log": "ModuleNotFoundError: No module named 'numpy'",
		"b.log": "ModuleNotFoundError: No module named 'scipy'",
		"c.log": "nothing recognisable here",
	}
	var args []string
	for name, content := range logs {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
		args = append(args, path)
	}

	out, err := execute(t, NewAnalyzeCmd(), "", append([]string{"analyze", "--json"}, args...)...)
	require.NoError(t, err)

	var report classifier.BatchReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, 3, report.Total)
	assert.Equal(t, 2, report.Distribution[types.CategoryMissingDependency].Count)
	require.NotEmpty(t, report.MostCommon)
	assert.Equal(t, types.CategoryMissingDependency, report.MostCommon[0].Category)
}

func TestAnalyzeCmd_RequiresFiles(t *testing.T) {
	_, err := execute(t, NewAnalyzeCmd(), "", "analyze")
	assert.Error(t, err)
}

func TestStatsCmd_MemoryStore(t *testing.T) {
	isolateEnv(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, config.FileName), []byte("repository: acme/shop\n"), 0o644))

	out, err := execute(t, NewStatsCmd(), "", "stats", "--config", dir, "--days", "7", "--json")
	require.NoError(t, err)

	var stats types.AggregateStatistics
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	assert.Equal(t, 7, stats.WindowDays)
	assert.Zero(t, stats.TotalFailures)
}

func TestStatsCmd_RejectsBadDays(t *testing.T) {
	_, err := execute(t, NewStatsCmd(), "", "stats", "--days", "0")
	assert.ErrorContains(t, err, "--days")
}

func TestHealCmd_ConfigError(t *testing.T) {
	isolateEnv(t)
	_, err := execute(t, NewHealCmd(), "", "heal", "--config", t.TempDir(), "42")
	assert.ErrorContains(t, err, "loading config")
}

func TestInitCmd(t *testing.T) {
	isolateEnv(t)
	dir := t.TempDir()

	out, err := execute(t, NewInitCmd(), "", "init", dir, "--repo", "acme/shop")
	require.NoError(t, err)
	assert.Contains(t, out, config.FileName)
	assert.DirExists(t, filepath.Join(dir, config.DefaultArtifactDir))

	cfg, err := config.Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "acme/shop", cfg.Repository)
	assert.Equal(t, config.StoreMemory, cfg.Store.Type)
	assert.Equal(t, config.DedupLocal, cfg.Tracker.Dedup)
	require.Len(t, cfg.Alerts, 1)
	assert.Equal(t, types.AlertConsole, cfg.Alerts[0].Type)

	_, err = execute(t, NewInitCmd(), "", "init", dir)
	assert.ErrorContains(t, err, "already exists")

	_, err = execute(t, NewInitCmd(), "", "init", dir, "--force", "--repo", "acme/web")
	require.NoError(t, err)
	cfg, err = config.Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "acme/web", cfg.Repository)
}

func TestStarterConfig_Valkey(t *testing.T) {
	isolateEnv(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, config.FileName), []byte(starterConfig("acme/shop", true)), 0o644))

	cfg, err := config.Load(dir)
	require.NoError(t, err)
	assert.Equal(t, config.DedupRedis, cfg.Tracker.Dedup)
	require.NotNil(t, cfg.Redis)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, "pipemedic:", cfg.Redis.KeyPrefix)
}
