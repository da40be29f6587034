package types

import "time"

// PipelineRun is one observed execution of a CI workflow. Upserts are keyed by ID.
type PipelineRun struct {
	ID         string        `json:"id"`
	Repository string        `json:"repository"`
	Workflow   string        `json:"workflow"`
	Branch     string        `json:"branch"`
	CommitSHA  string        `json:"commitSha"`
	Status     RunStatus     `json:"status"`
	Conclusion RunConclusion `json:"conclusion,omitempty"`
	StartedAt  time.Time     `json:"startedAt"`
	EndedAt    *time.Time    `json:"endedAt,omitempty"`
	UpdatedAt  time.Time     `json:"updatedAt"`
}

// RunSummary is the collaborator's view of a run as returned by a listing.
type RunSummary struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	Status     RunStatus     `json:"status"`
	Conclusion RunConclusion `json:"conclusion,omitempty"`
	CreatedAt  time.Time     `json:"createdAt"`
	UpdatedAt  time.Time     `json:"updatedAt"`
	Branch     string        `json:"branch"`
	CommitSHA  string        `json:"commitSha"`
	Event      string        `json:"event,omitempty"`
	RunNumber  int           `json:"runNumber,omitempty"`
	RunAttempt int           `json:"runAttempt,omitempty"`
}

// Failed reports whether the run completed with a failure conclusion.
func (r RunSummary) Failed() bool {
	return r.Status == RunCompleted && r.Conclusion == ConclusionFailure
}

// Classification is the structured result of classifying a failure log.
type Classification struct {
	Category            FailureCategory `json:"category"`
	Message             string          `json:"message"`
	MatchedText         string          `json:"matchedText,omitempty"`
	Line                string          `json:"line,omitempty"`
	Groups              []string        `json:"groups,omitempty"`
	Severity            Severity        `json:"severity"`
	Fixable             bool            `json:"fixable"`
	Difficulty          Difficulty      `json:"difficulty"`
	Strategy            StrategyID      `json:"strategy"`
	EstimatedFixSeconds int             `json:"estimatedFixSeconds"`
	Package             string          `json:"package,omitempty"`
	TestName            string          `json:"testName,omitempty"`
	StackTrace          string          `json:"stackTrace,omitempty"`
	RuleIndex           int             `json:"ruleIndex"`
}

// FailureRecord is the persisted classification of one failed run. Never mutated.
type FailureRecord struct {
	ID         string            `json:"id"`
	RunID      string            `json:"runId"`
	Category   FailureCategory   `json:"category"`
	Message    string            `json:"message"`
	StackTrace string            `json:"stackTrace,omitempty"`
	Severity   Severity          `json:"severity"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	CreatedAt  time.Time         `json:"createdAt"`
}

// RemediationAttempt records one dispatched remediation for a FailureRecord.
type RemediationAttempt struct {
	ID              string     `json:"id"`
	RunID           string     `json:"runId"`
	FailureRecordID string     `json:"failureRecordId"`
	Strategy        StrategyID `json:"strategy"`
	Success         bool       `json:"success"`
	Details         string     `json:"details"`
	Changes         []string   `json:"changes,omitempty"`
	Probability     float64    `json:"probability"`
	Override        bool       `json:"override,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
}

// Outcome is what a remediation strategy reports back to the dispatcher.
type Outcome struct {
	Success  bool       `json:"success"`
	Strategy StrategyID `json:"strategy"`
	Details  string     `json:"details"`
	Changes  []string   `json:"changes,omitempty"`
}

// RunHistory collects everything stored for a single run.
type RunHistory struct {
	Run      PipelineRun          `json:"run"`
	Failures []FailureRecord      `json:"failures"`
	Attempts []RemediationAttempt `json:"attempts"`
}

// AggregateStatistics summarises healing activity over a window of days.
// SuccessRate is a percentage rounded to two decimals.
type AggregateStatistics struct {
	WindowDays    int     `json:"windowDays"`
	TotalFailures int     `json:"totalFailures"`
	Attempted     int     `json:"attempted"`
	Succeeded     int     `json:"succeeded"`
	SuccessRate   float64 `json:"successRate"`
}
