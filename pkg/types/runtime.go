package types

import "time"

// Alert represents an alert event to be dispatched.
type Alert struct {
	AlertID   string                 `json:"alertId,omitempty"`
	Level     AlertLevel             `json:"level"`
	RunID     string                 `json:"runId,omitempty"`
	Workflow  string                 `json:"workflow,omitempty"`
	Category  FailureCategory        `json:"category,omitempty"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// RunPrediction is the run-failure forecast for a pipeline run.
type RunPrediction struct {
	WillFail    bool     `json:"willFail"`
	Probability float64  `json:"probability"`
	Confidence  float64  `json:"confidence"`
	RiskBand    RiskBand `json:"riskBand"`
	Factors     []string `json:"factors"`
}

// HealingScore is the predicted chance that remediating a failure succeeds.
// Fallback is set when the neutral constant was used instead of a model.
type HealingScore struct {
	Probability float64   `json:"probability"`
	Features    []float64 `json:"features"`
	Fallback    bool      `json:"fallback"`
	Reason      string    `json:"reason,omitempty"`
}
