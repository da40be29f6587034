package types

// ProjectConfig represents the top-level pipemedic.yaml configuration.
type ProjectConfig struct {
	Repository  string             `yaml:"repository"`
	GitHub      *GitHubConfig      `yaml:"github,omitempty"`
	Tracker     *TrackerConfig     `yaml:"tracker,omitempty"`
	Predictor   *PredictorConfig   `yaml:"predictor,omitempty"`
	Remediation *RemediationConfig `yaml:"remediation,omitempty"`
	Store       *StoreConfig       `yaml:"store,omitempty"`
	Redis       *RedisConfig       `yaml:"redis,omitempty"`
	Server      *ServerConfig      `yaml:"server,omitempty"`
	Telemetry   *TelemetryConfig   `yaml:"telemetry,omitempty"`
	Alerts      []AlertConfig      `yaml:"alerts,omitempty"`
}

// GitHubConfig holds GitHub API access settings.
type GitHubConfig struct {
	Token             string  `yaml:"token,omitempty" json:"-"`
	TokenSecretID     string  `yaml:"tokenSecretId,omitempty" json:"tokenSecretId,omitempty"`
	Region            string  `yaml:"region,omitempty" json:"region,omitempty"`
	BaseURL           string  `yaml:"baseUrl,omitempty" json:"baseUrl,omitempty"`
	RequestsPerSecond float64 `yaml:"requestsPerSecond,omitempty" json:"requestsPerSecond,omitempty"`
	CallTimeout       string  `yaml:"callTimeout,omitempty" json:"callTimeout,omitempty"` // e.g. "10s"
}

// TrackerConfig configures the run polling loop.
type TrackerConfig struct {
	PollInterval   string `yaml:"pollInterval,omitempty" json:"pollInterval,omitempty"` // e.g. "20s"
	PageSize       int    `yaml:"pageSize,omitempty" json:"pageSize,omitempty"`
	RecentCapacity int    `yaml:"recentCapacity,omitempty" json:"recentCapacity,omitempty"`
	Workers        int    `yaml:"workers,omitempty" json:"workers,omitempty"`
	Dedup          string `yaml:"dedup,omitempty" json:"dedup,omitempty"` // "local" or "redis"
	DedupTTL       string `yaml:"dedupTtl,omitempty" json:"dedupTtl,omitempty"`
	FlakyHistory   int    `yaml:"flakyHistory,omitempty" json:"flakyHistory,omitempty"`
}

// PredictorConfig configures scoring artifacts and the healing gate.
type PredictorConfig struct {
	ArtifactDir       string  `yaml:"artifactDir,omitempty" json:"artifactDir,omitempty"`
	Threshold         float64 `yaml:"threshold,omitempty" json:"threshold,omitempty"`
	MinHealingSamples int     `yaml:"minHealingSamples,omitempty" json:"minHealingSamples,omitempty"`
}

// RemediationConfig configures strategy targets and escalation.
type RemediationConfig struct {
	ManifestPath       string   `yaml:"manifestPath,omitempty" json:"manifestPath,omitempty"`
	TestConfigPath     string   `yaml:"testConfigPath,omitempty" json:"testConfigPath,omitempty"`
	WorkflowPath       string   `yaml:"workflowPath,omitempty" json:"workflowPath,omitempty"`
	TestTimeoutSeconds int      `yaml:"testTimeoutSeconds,omitempty" json:"testTimeoutSeconds,omitempty"`
	JobTimeoutMinutes  int      `yaml:"jobTimeoutMinutes,omitempty" json:"jobTimeoutMinutes,omitempty"`
	Reruns             int      `yaml:"reruns,omitempty" json:"reruns,omitempty"`
	RerunDelaySeconds  int      `yaml:"rerunDelaySeconds,omitempty" json:"rerunDelaySeconds,omitempty"`
	OpenIssues         *bool    `yaml:"openIssues,omitempty" json:"openIssues,omitempty"`
	IssueLabels        []string `yaml:"issueLabels,omitempty" json:"issueLabels,omitempty"`
	DefaultBranch      string   `yaml:"defaultBranch,omitempty" json:"defaultBranch,omitempty"`
	RetryPlugin        string   `yaml:"retryPlugin,omitempty" json:"retryPlugin,omitempty"`
	RetryPackages      []string `yaml:"retryPackages,omitempty" json:"retryPackages,omitempty"`
	StrategyTimeout    string   `yaml:"strategyTimeout,omitempty" json:"strategyTimeout,omitempty"`
}

// StoreConfig selects and configures the outcome store backend.
type StoreConfig struct {
	Type     string          `yaml:"type,omitempty" json:"type,omitempty"` // "memory", "postgres" or "dynamodb"
	Postgres *PostgresConfig `yaml:"postgres,omitempty" json:"postgres,omitempty"`
	DynamoDB *DynamoDBConfig `yaml:"dynamodb,omitempty" json:"dynamodb,omitempty"`
}

// PostgresConfig holds Postgres connection settings.
type PostgresConfig struct {
	DSN string `yaml:"dsn" json:"-"`
}

// DynamoDBConfig holds DynamoDB connection and table settings.
type DynamoDBConfig struct {
	TableName     string `yaml:"tableName" json:"tableName"`
	Region        string `yaml:"region" json:"region"`
	Endpoint      string `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
	RetentionDays int    `yaml:"retentionDays,omitempty" json:"retentionDays,omitempty"`
	CreateTable   bool   `yaml:"createTable,omitempty" json:"createTable,omitempty"`
}

// RedisConfig holds Redis/Valkey connection settings for shared dedup.
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password,omitempty" json:"-"`
	DB        int    `yaml:"db,omitempty"`
	KeyPrefix string `yaml:"keyPrefix,omitempty"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr           string `yaml:"addr"`
	APIKey         string `yaml:"apiKey,omitempty" json:"-"`
	MaxRequestBody int64  `yaml:"maxRequestBody,omitempty" json:"maxRequestBody,omitempty"`
}

// TelemetryConfig configures trace export.
type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlpEndpoint,omitempty" json:"otlpEndpoint,omitempty"`
	ServiceName  string `yaml:"serviceName,omitempty" json:"serviceName,omitempty"`
	Insecure     bool   `yaml:"insecure,omitempty" json:"insecure,omitempty"`
}

// AlertConfig defines an alert sink configuration.
type AlertConfig struct {
	Type     AlertType `yaml:"type" json:"type"`
	URL      string    `yaml:"url,omitempty" json:"url,omitempty"`
	Path     string    `yaml:"path,omitempty" json:"path,omitempty"`
	EventBus string    `yaml:"eventBus,omitempty" json:"eventBus,omitempty"`
	QueueURL string    `yaml:"queueUrl,omitempty" json:"queueUrl,omitempty"`
	Source   string    `yaml:"source,omitempty" json:"source,omitempty"`
	Region   string    `yaml:"region,omitempty" json:"region,omitempty"`
}
