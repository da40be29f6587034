// Package types defines the public domain types for the pipemedic pipeline healing engine.
package types

// FailureCategory is the closed set of failure classes a log can be mapped to.
type FailureCategory string

// FailureCategory values in rule-table declaration order. CategoryUnknown is
// returned when no rule matches.
const (
	CategoryMissingDependency  FailureCategory = "missing_dependency"
	CategoryTestTimeout        FailureCategory = "test_timeout"
	CategoryTestFailure        FailureCategory = "test_failure"
	CategoryBuildFailure       FailureCategory = "build_failure"
	CategoryDeploymentCrash    FailureCategory = "deployment_crash"
	CategoryResourceLimit      FailureCategory = "resource_limit"
	CategoryNetworkTimeout     FailureCategory = "network_timeout"
	CategorySyntaxError        FailureCategory = "syntax_error"
	CategoryPermissionError    FailureCategory = "permission_error"
	CategoryConfigurationError FailureCategory = "configuration_error"
	CategoryUnknown            FailureCategory = "unknown"
)

// Categories lists every category in declaration order, unknown last.
var Categories = []FailureCategory{
	CategoryMissingDependency,
	CategoryTestTimeout,
	CategoryTestFailure,
	CategoryBuildFailure,
	CategoryDeploymentCrash,
	CategoryResourceLimit,
	CategoryNetworkTimeout,
	CategorySyntaxError,
	CategoryPermissionError,
	CategoryConfigurationError,
	CategoryUnknown,
}

// Severity ranks how urgently a failure needs attention.
type Severity string

// Severity values.
const (
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Weight maps a severity onto the numeric scale used by healing-success features.
func (s Severity) Weight() float64 {
	switch s {
	case SeverityCritical:
		return 1.0
	case SeverityHigh:
		return 0.8
	case SeverityMedium:
		return 0.5
	default:
		return 0.3
	}
}

// Difficulty is an advisory estimate of how hard a category is to heal.
type Difficulty string

// Difficulty values.
const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// StrategyID names a remediation strategy.
type StrategyID string

// StrategyID values, one per remediable failure variant.
const (
	StrategyAddToManifest  StrategyID = "add-to-manifest"
	StrategyRaiseTimeout   StrategyID = "raise-timeout"
	StrategyAddRetryPolicy StrategyID = "add-retry-policy"
	StrategyCacheOrManual  StrategyID = "cache-or-manual"
	StrategyRollback       StrategyID = "rollback"
	StrategyRaiseLimits    StrategyID = "raise-limits"
	StrategyAddRetryDeps   StrategyID = "add-retry-deps"
	StrategyNone           StrategyID = "none"
)

// RunStatus is the lifecycle status reported by the CI provider.
type RunStatus string

// RunStatus values.
const (
	RunQueued     RunStatus = "queued"
	RunInProgress RunStatus = "in_progress"
	RunCompleted  RunStatus = "completed"
)

// RunConclusion is the terminal outcome of a completed run. Empty while the
// run is still going.
type RunConclusion string

// RunConclusion values.
const (
	ConclusionNone      RunConclusion = ""
	ConclusionSuccess   RunConclusion = "success"
	ConclusionFailure   RunConclusion = "failure"
	ConclusionCancelled RunConclusion = "cancelled"
)

// HealingState is a node of the per-failure healing state machine.
type HealingState string

// HealingState values.
const (
	StateDetected   HealingState = "DETECTED"
	StateClassified HealingState = "CLASSIFIED"
	StateScored     HealingState = "SCORED"
	StateDispatched HealingState = "DISPATCHED"
	StateSucceeded  HealingState = "SUCCEEDED"
	StateFailed     HealingState = "FAILED"
	StateSkipped    HealingState = "SKIPPED"
)

// RiskBand buckets a run-failure probability.
type RiskBand string

// RiskBand values.
const (
	RiskVeryHigh RiskBand = "very_high"
	RiskHigh     RiskBand = "high"
	RiskMedium   RiskBand = "medium"
	RiskLow      RiskBand = "low"
	RiskVeryLow  RiskBand = "very_low"
)

// AlertType defines the alert sink type.
type AlertType string

// AlertType values enumerate the supported alert sink backends.
const (
	AlertConsole     AlertType = "console"
	AlertWebhook     AlertType = "webhook"
	AlertFile        AlertType = "file"
	AlertEventBridge AlertType = "eventbridge"
	AlertSQS         AlertType = "sqs"
)

// AlertLevel replaces string-typed alert levels with a proper enum.
type AlertLevel string

// AlertLevel values.
const (
	AlertLevelError   AlertLevel = "error"
	AlertLevelWarning AlertLevel = "warning"
	AlertLevelInfo    AlertLevel = "info"
)
