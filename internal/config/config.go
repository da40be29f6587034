// Package config handles loading and validation of pipemedic.yaml project
// configuration and its environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dwsmith1983/pipemedic/internal/classifier"
	"github.com/dwsmith1983/pipemedic/pkg/types"
)

// FileName is the configuration file looked up in the config directory.
const FileName = "pipemedic.yaml"

// Defaults applied by Load.
const (
	DefaultPollInterval      = 20 * time.Second
	DefaultCallTimeout       = 10 * time.Second
	DefaultThreshold         = 0.70
	DefaultArtifactDir       = "models"
	DefaultMinHealingSamples = 50
	DefaultServerAddr        = ":8080"
	DefaultRequestsPerSecond = 5
	DefaultMaxRequestBody    = 1 << 20
	DefaultFlakyHistory      = 20
)

// Store and dedup backend names.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreDynamoDB = "dynamodb"
	DedupLocal    = "local"
	DedupRedis    = "redis"
)

var repoPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+/[A-Za-z0-9_.-]+$`)

// Load reads pipemedic.yaml from dir, applies environment overrides and
// defaults, and validates the result. A missing file is not an error when
// the environment supplies what is required.
func Load(dir string) (*types.ProjectConfig, error) {
	var cfg types.ProjectConfig

	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("reading config: %w", err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	}

	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return nil, fmt.Errorf("applying environment: %w", err)
	}
	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

func applyEnv(cfg *types.ProjectConfig, lookup func(string) (string, bool)) error {
	ensureSections(cfg)

	if v, ok := lookup("GITHUB_TOKEN"); ok && v != "" {
		cfg.GitHub.Token = v
	}
	if v, ok := lookup("GITHUB_TOKEN_SECRET_ID"); ok && v != "" {
		cfg.GitHub.TokenSecretID = v
	}
	if v, ok := lookup("GITHUB_REPO"); ok && v != "" {
		cfg.Repository = v
	}
	if v, ok := lookup("POLL_INTERVAL"); ok && v != "" {
		cfg.Tracker.PollInterval = v
	}
	if v, ok := lookup("HEALING_THRESHOLD"); ok && v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("HEALING_THRESHOLD: %w", err)
		}
		cfg.Predictor.Threshold = f
	}
	if v, ok := lookup("MODEL_PATH"); ok && v != "" {
		cfg.Predictor.ArtifactDir = v
	}
	if v, ok := lookup("MIN_HEALING_SAMPLES"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("MIN_HEALING_SAMPLES: %w", err)
		}
		cfg.Predictor.MinHealingSamples = n
	}
	if v, ok := lookup("DATABASE_URL"); ok && v != "" {
		if cfg.Store.Postgres == nil {
			cfg.Store.Postgres = &types.PostgresConfig{}
		}
		cfg.Store.Postgres.DSN = v
		if cfg.Store.Type == "" {
			cfg.Store.Type = StorePostgres
		}
	}
	if v, ok := lookup("REDIS_ADDR"); ok && v != "" {
		if cfg.Redis == nil {
			cfg.Redis = &types.RedisConfig{}
		}
		cfg.Redis.Addr = v
		if cfg.Tracker.Dedup == "" {
			cfg.Tracker.Dedup = DedupRedis
		}
	}
	if v, ok := lookup("OTEL_EXPORTER_OTLP_ENDPOINT"); ok && v != "" {
		cfg.Telemetry.OTLPEndpoint = v
	}
	if v, ok := lookup("PIPEMEDIC_API_KEY"); ok && v != "" {
		cfg.Server.APIKey = v
	}
	return nil
}

func ensureSections(cfg *types.ProjectConfig) {
	if cfg.GitHub == nil {
		cfg.GitHub = &types.GitHubConfig{}
	}
	if cfg.Tracker == nil {
		cfg.Tracker = &types.TrackerConfig{}
	}
	if cfg.Predictor == nil {
		cfg.Predictor = &types.PredictorConfig{}
	}
	if cfg.Remediation == nil {
		cfg.Remediation = &types.RemediationConfig{}
	}
	if cfg.Store == nil {
		cfg.Store = &types.StoreConfig{}
	}
	if cfg.Server == nil {
		cfg.Server = &types.ServerConfig{}
	}
	if cfg.Telemetry == nil {
		cfg.Telemetry = &types.TelemetryConfig{}
	}
}

func applyDefaults(cfg *types.ProjectConfig) {
	ensureSections(cfg)
	if cfg.GitHub.RequestsPerSecond == 0 {
		cfg.GitHub.RequestsPerSecond = DefaultRequestsPerSecond
	}
	if cfg.Tracker.PollInterval == "" {
		cfg.Tracker.PollInterval = DefaultPollInterval.String()
	}
	if cfg.GitHub.CallTimeout == "" {
		call := DefaultCallTimeout
		if poll, err := PollInterval(cfg); err == nil && call >= poll {
			call = poll / 2
		}
		cfg.GitHub.CallTimeout = call.String()
	}
	if cfg.Tracker.FlakyHistory == 0 {
		cfg.Tracker.FlakyHistory = DefaultFlakyHistory
	}
	if cfg.Tracker.Dedup == "" {
		cfg.Tracker.Dedup = DedupLocal
	}
	if cfg.Predictor.Threshold == 0 {
		cfg.Predictor.Threshold = DefaultThreshold
	}
	if cfg.Predictor.ArtifactDir == "" {
		cfg.Predictor.ArtifactDir = DefaultArtifactDir
	}
	if cfg.Predictor.MinHealingSamples == 0 {
		cfg.Predictor.MinHealingSamples = DefaultMinHealingSamples
	}
	if cfg.Remediation.OpenIssues == nil {
		on := true
		cfg.Remediation.OpenIssues = &on
	}
	if cfg.Store.Type == "" {
		cfg.Store.Type = StoreMemory
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = DefaultServerAddr
	}
	if cfg.Server.MaxRequestBody == 0 {
		cfg.Server.MaxRequestBody = DefaultMaxRequestBody
	}
}

func validate(cfg *types.ProjectConfig) error {
	if cfg.Repository == "" {
		return fmt.Errorf("repository is required (owner/name)")
	}
	if !repoPattern.MatchString(cfg.Repository) {
		return fmt.Errorf("repository %q must be in owner/name form", cfg.Repository)
	}
	if t := cfg.Predictor.Threshold; t < 0 || t > 1 {
		return fmt.Errorf("predictor.threshold %v must be within [0, 1]", t)
	}
	if cfg.GitHub.RequestsPerSecond < 0 {
		return fmt.Errorf("github.requestsPerSecond must not be negative")
	}

	poll, err := PollInterval(cfg)
	if err != nil {
		return err
	}
	call, err := CallTimeout(cfg)
	if err != nil {
		return err
	}
	if call >= poll {
		return fmt.Errorf("github.callTimeout %s must be shorter than tracker.pollInterval %s", call, poll)
	}
	if _, err := DedupTTL(cfg); err != nil {
		return err
	}
	if _, err := StrategyTimeout(cfg); err != nil {
		return err
	}
	if cfg.Tracker.Workers < 0 || cfg.Tracker.PageSize < 0 || cfg.Tracker.RecentCapacity < 0 {
		return fmt.Errorf("tracker sizes must not be negative")
	}
	if cfg.Tracker.FlakyHistory < classifier.FlakyMinSamples {
		return fmt.Errorf("tracker.flakyHistory must be at least %d", classifier.FlakyMinSamples)
	}

	switch cfg.Store.Type {
	case StoreMemory:
	case StorePostgres:
		if cfg.Store.Postgres == nil || cfg.Store.Postgres.DSN == "" {
			return fmt.Errorf("store.postgres.dsn is required when store type is postgres")
		}
	case StoreDynamoDB:
		if cfg.Store.DynamoDB == nil || cfg.Store.DynamoDB.TableName == "" {
			return fmt.Errorf("store.dynamodb.tableName is required when store type is dynamodb")
		}
	default:
		return fmt.Errorf("unknown store type %q", cfg.Store.Type)
	}

	switch cfg.Tracker.Dedup {
	case DedupLocal:
	case DedupRedis:
		if cfg.Redis == nil || cfg.Redis.Addr == "" {
			return fmt.Errorf("redis.addr is required when tracker dedup is redis")
		}
	default:
		return fmt.Errorf("unknown tracker dedup %q", cfg.Tracker.Dedup)
	}

	for i, a := range cfg.Alerts {
		switch a.Type {
		case types.AlertConsole, types.AlertEventBridge:
		case types.AlertWebhook:
			if a.URL == "" {
				return fmt.Errorf("alerts[%d]: webhook url is required", i)
			}
		case types.AlertFile:
			if a.Path == "" {
				return fmt.Errorf("alerts[%d]: file path is required", i)
			}
		case types.AlertSQS:
			if a.QueueURL == "" {
				return fmt.Errorf("alerts[%d]: sqs queueUrl is required", i)
			}
		default:
			return fmt.Errorf("alerts[%d]: unknown alert type %q", i, a.Type)
		}
	}
	return nil
}

// PollInterval parses tracker.pollInterval, which is either a Go duration or
// a plain number of seconds.
func PollInterval(cfg *types.ProjectConfig) (time.Duration, error) {
	if cfg.Tracker == nil || cfg.Tracker.PollInterval == "" {
		return DefaultPollInterval, nil
	}
	d, err := parseDuration(cfg.Tracker.PollInterval)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("tracker.pollInterval %q must be a positive duration", cfg.Tracker.PollInterval)
	}
	return d, nil
}

// CallTimeout parses github.callTimeout.
func CallTimeout(cfg *types.ProjectConfig) (time.Duration, error) {
	if cfg.GitHub == nil || cfg.GitHub.CallTimeout == "" {
		return DefaultCallTimeout, nil
	}
	d, err := parseDuration(cfg.GitHub.CallTimeout)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("github.callTimeout %q must be a positive duration", cfg.GitHub.CallTimeout)
	}
	return d, nil
}

// DedupTTL parses tracker.dedupTtl; zero means the deduper's default.
func DedupTTL(cfg *types.ProjectConfig) (time.Duration, error) {
	if cfg.Tracker == nil || cfg.Tracker.DedupTTL == "" {
		return 0, nil
	}
	d, err := parseDuration(cfg.Tracker.DedupTTL)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("tracker.dedupTtl %q must be a duration", cfg.Tracker.DedupTTL)
	}
	return d, nil
}

// StrategyTimeout parses remediation.strategyTimeout; zero means the
// dispatcher's default.
func StrategyTimeout(cfg *types.ProjectConfig) (time.Duration, error) {
	if cfg.Remediation == nil || cfg.Remediation.StrategyTimeout == "" {
		return 0, nil
	}
	d, err := parseDuration(cfg.Remediation.StrategyTimeout)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("remediation.strategyTimeout %q must be a positive duration", cfg.Remediation.StrategyTimeout)
	}
	return d, nil
}

func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	return time.ParseDuration(s)
}

// OpenIssues reports whether escalation issues are enabled.
func OpenIssues(cfg *types.ProjectConfig) bool {
	return cfg.Remediation == nil || cfg.Remediation.OpenIssues == nil || *cfg.Remediation.OpenIssues
}
