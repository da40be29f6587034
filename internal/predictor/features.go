package predictor

import (
	"time"

	"github.com/dwsmith1983/pipemedic/pkg/types"
)

// Run-failure feature names, in vector order.
const (
	FeatureBuildDuration     = "build_duration_avg"
	FeatureTestCount         = "test_count"
	FeatureChangedFiles      = "changed_files"
	FeatureCommitSize        = "commit_size"
	FeatureHour              = "hour"
	FeatureWeekday           = "weekday"
	FeaturePreviousFailures  = "previous_failures"
	FeatureDependencyChanges = "dependency_changes"
	FeatureCodeComplexity    = "code_complexity"
	FeatureTestCoverage      = "test_coverage"
	FeatureAuthorFailureRate = "author_failure_rate"
	FeatureBranchAgeDays     = "branch_age_days"
)

// RunFeatureNames is the fixed order of the 12-dimensional run-failure vector.
var RunFeatureNames = []string{
	FeatureBuildDuration,
	FeatureTestCount,
	FeatureChangedFiles,
	FeatureCommitSize,
	FeatureHour,
	FeatureWeekday,
	FeaturePreviousFailures,
	FeatureDependencyChanges,
	FeatureCodeComplexity,
	FeatureTestCoverage,
	FeatureAuthorFailureRate,
	FeatureBranchAgeDays,
}

// RunFeatureDefaults supplies values for features missing from RunMetadata.
// Hour, weekday and branch age are derived from the run's creation time instead.
var RunFeatureDefaults = map[string]float64{
	FeatureBuildDuration:     300,
	FeatureTestCount:         50,
	FeatureChangedFiles:      5,
	FeatureCommitSize:        120,
	FeaturePreviousFailures:  0,
	FeatureDependencyChanges: 0,
	FeatureCodeComplexity:    10,
	FeatureTestCoverage:      80,
	FeatureAuthorFailureRate: 0.10,
	FeatureBranchAgeDays:     0,
}

// healingBias is the constant last element of every healing feature vector.
const healingBias = 0.8

// RunMetadata is the input to run-failure scoring. Values is keyed by the
// Feature* names; anything absent takes its default.
type RunMetadata struct {
	CreatedAt time.Time          `json:"createdAt"`
	Values    map[string]float64 `json:"values,omitempty"`
}

func (m RunMetadata) value(name string) float64 {
	if v, ok := m.Values[name]; ok {
		return v
	}
	return RunFeatureDefaults[name]
}

// RunFeatures builds the 12-dimensional run-failure vector. Weekday counts
// from Monday = 0.
func RunFeatures(meta RunMetadata, now time.Time) []float64 {
	created := meta.CreatedAt
	if created.IsZero() {
		created = now
	}
	out := make([]float64, len(RunFeatureNames))
	for i, name := range RunFeatureNames {
		switch name {
		case FeatureHour:
			if v, ok := meta.Values[name]; ok {
				out[i] = v
			} else {
				out[i] = float64(created.Hour())
			}
		case FeatureWeekday:
			if v, ok := meta.Values[name]; ok {
				out[i] = v
			} else {
				out[i] = float64((int(created.Weekday()) + 6) % 7)
			}
		case FeatureBranchAgeDays:
			if v, ok := meta.Values[name]; ok {
				out[i] = v
			} else if age := now.Sub(created); age > 0 {
				out[i] = float64(int(age.Hours() / 24))
			}
		default:
			out[i] = meta.value(name)
		}
	}
	return out
}

// HealingFeatures builds the 5-dimensional healing-success vector: fixable,
// stack-trace length, package identified, severity weight, bias.
func HealingFeatures(cl types.Classification) []float64 {
	return []float64{
		boolFloat(cl.Fixable),
		float64(len(cl.StackTrace)),
		boolFloat(cl.Package != ""),
		cl.Severity.Weight(),
		healingBias,
	}
}

func boolFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
