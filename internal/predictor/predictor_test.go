package predictor

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dwsmith1983/pipemedic/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeJSON(t *testing.T, path string, v interface{}) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

func constantModel(n int, intercept float64) *LogisticModel {
	return &LogisticModel{Version: 1, Kind: ArtifactKindLogistic, Weights: make([]float64, n), Intercept: intercept}
}

type panicModel struct{}

func (panicModel) PredictProbability([]float64) (float64, error) { panic("boom") }

type fixedModel float64

func (f fixedModel) PredictProbability([]float64) (float64, error) { return float64(f), nil }

func TestScoreHealing_FallbackWithoutArtifact(t *testing.T) {
	p, err := Load(t.TempDir(), nil)
	require.NoError(t, err)

	score := p.ScoreHealing(types.Classification{Category: types.CategoryMissingDependency, Fixable: true})
	assert.Equal(t, 0.5, score.Probability)
	assert.True(t, score.Fallback)
	assert.False(t, p.HealingModelLoaded())
}

func TestScoreRun_UnavailableWithoutArtifact(t *testing.T) {
	p, err := Load(t.TempDir(), nil)
	require.NoError(t, err)

	assert.False(t, p.Available())
	_, err = p.ScoreRun(RunMetadata{})
	assert.ErrorIs(t, err, ErrScoringUnavailable)
}

func TestLoad_BothArtifacts(t *testing.T) {
	dir := t.TempDir()
	writeJSON(t, filepath.Join(dir, FailureArtifactFile), constantModel(12, 2))
	writeJSON(t, filepath.Join(dir, HealingArtifactFile), constantModel(5, 0))

	p, err := Load(dir, nil)
	require.NoError(t, err)
	require.True(t, p.Available())
	require.True(t, p.HealingModelLoaded())

	pred, err := p.ScoreRun(RunMetadata{})
	require.NoError(t, err)
	assert.InDelta(t, 0.8808, pred.Probability, 1e-4)
	assert.True(t, pred.WillFail)
	assert.Equal(t, types.RiskVeryHigh, pred.RiskBand)
	assert.InDelta(t, pred.Probability, pred.Confidence, 1e-12)
	assert.Equal(t, []string{"No major risk factors"}, pred.Factors)

	score := p.ScoreHealing(types.Classification{})
	assert.False(t, score.Fallback)
	assert.InDelta(t, 0.5, score.Probability, 1e-12)
}

func TestLoad_MalformedArtifact(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FailureArtifactFile), []byte("{not json"), 0o644))

	_, err := Load(dir, nil)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrArtifactNotFound))
}

func TestLoad_UnsupportedKind(t *testing.T) {
	dir := t.TempDir()
	m := constantModel(5, 0)
	m.Kind = "forest"
	writeJSON(t, filepath.Join(dir, HealingArtifactFile), m)

	_, err := Load(dir, nil)
	assert.ErrorContains(t, err, "unsupported artifact kind")
}

func TestLoad_StandaloneScaler(t *testing.T) {
	dir := t.TempDir()
	m := constantModel(12, 0)
	m.Weights[0] = 1
	writeJSON(t, filepath.Join(dir, FailureArtifactFile), m)

	mean := make([]float64, 12)
	scale := make([]float64, 12)
	for i := range scale {
		scale[i] = 1
	}
	mean[0] = 300
	writeJSON(t, filepath.Join(dir, ScalerFile), Scaler{Mean: mean, Scale: scale})

	p, err := Load(dir, nil)
	require.NoError(t, err)

	// build_duration_avg defaults to 300, which the scaler centres on zero.
	pred, err := p.ScoreRun(RunMetadata{})
	require.NoError(t, err)
	assert.InDelta(t, 0.5, pred.Probability, 1e-12)
	assert.False(t, pred.WillFail)
}

func TestLoadArtifact_NotFound(t *testing.T) {
	_, err := LoadArtifact(filepath.Join(t.TempDir(), "missing.json"))
	assert.ErrorIs(t, err, ErrArtifactNotFound)
}

func TestScoreHealing_DimensionMismatchFallsBack(t *testing.T) {
	p := New(nil, constantModel(12, 3), nil)

	score := p.ScoreHealing(types.Classification{Fixable: true})
	assert.Equal(t, NeutralProbability, score.Probability)
	assert.True(t, score.Fallback)
	assert.Contains(t, score.Reason, "expects 12 features")
}

func TestScoreHealing_PanicFallsBack(t *testing.T) {
	p := New(panicModel{}, panicModel{}, nil)

	score := p.ScoreHealing(types.Classification{})
	assert.Equal(t, NeutralProbability, score.Probability)
	assert.True(t, score.Fallback)

	_, err := p.ScoreRun(RunMetadata{})
	assert.ErrorContains(t, err, "panicked")
}

func TestScore_ClampsModelOutput(t *testing.T) {
	p := New(nil, fixedModel(1.7), nil)
	assert.Equal(t, 1.0, p.Score([]float64{1, 2, 3, 4, 5}).Probability)
}

func TestRiskBandFor(t *testing.T) {
	tests := []struct {
		p    float64
		want types.RiskBand
	}{
		{0.95, types.RiskVeryHigh},
		{0.8, types.RiskVeryHigh},
		{0.79, types.RiskHigh},
		{0.6, types.RiskHigh},
		{0.4, types.RiskMedium},
		{0.2, types.RiskLow},
		{0.19, types.RiskVeryLow},
		{0, types.RiskVeryLow},
	}
	for _, tt := range tests {
		if got := RiskBandFor(tt.p); got != tt.want {
			t.Errorf("RiskBandFor(%v) = %s, want %s", tt.p, got, tt.want)
		}
	}
}

func TestRiskFactors(t *testing.T) {
	meta := RunMetadata{Values: map[string]float64{
		FeaturePreviousFailures:  3,
		FeatureDependencyChanges: 1,
		FeatureCommitSize:        450,
		FeatureTestCoverage:      55,
	}}
	assert.Equal(t, []string{
		"High recent failure rate",
		"Dependency changes",
		"Large commit size",
		"Low test coverage",
	}, RiskFactors(meta))

	assert.Equal(t, []string{"No major risk factors"}, RiskFactors(RunMetadata{}))
}

func TestRunFeatures_Defaults(t *testing.T) {
	created := time.Date(2024, 1, 1, 14, 30, 0, 0, time.UTC) // a Monday
	got := RunFeatures(RunMetadata{CreatedAt: created}, created.Add(3*24*time.Hour+5*time.Hour))

	assert.Equal(t, []float64{300, 50, 5, 120, 14, 0, 0, 0, 10, 80, 0.10, 3}, got)
}

func TestRunFeatures_BranchAge(t *testing.T) {
	created := time.Date(2024, 1, 1, 14, 30, 0, 0, time.UTC)

	got := RunFeatures(RunMetadata{CreatedAt: created}, created.Add(10*time.Hour))
	assert.Equal(t, 0.0, got[11], "under a day")

	got = RunFeatures(RunMetadata{}, time.Now())
	assert.Equal(t, 0.0, got[11], "missing creation time")

	got = RunFeatures(RunMetadata{CreatedAt: created, Values: map[string]float64{FeatureBranchAgeDays: 12}}, created.Add(48*time.Hour))
	assert.Equal(t, 12.0, got[11])
}

func TestRunFeatures_Overrides(t *testing.T) {
	created := time.Date(2024, 1, 7, 9, 0, 0, 0, time.UTC) // a Sunday
	got := RunFeatures(RunMetadata{CreatedAt: created, Values: map[string]float64{
		FeatureTestCoverage: 42,
		FeatureHour:         3,
	}}, time.Now())

	require.Len(t, got, 12)
	assert.Equal(t, 3.0, got[4])
	assert.Equal(t, 6.0, got[5])
	assert.Equal(t, 42.0, got[9])
}

func TestHealingFeatures(t *testing.T) {
	cl := types.Classification{
		Fixable:    true,
		StackTrace: "Traceback",
		Package:    "pandas",
		Severity:   types.SeverityHigh,
	}
	assert.Equal(t, []float64{1, 9, 1, 0.8, 0.8}, HealingFeatures(cl))

	assert.Equal(t, []float64{0, 0, 0, 0.3, 0.8}, HealingFeatures(types.Classification{}))
}
