// Package predictor scores how likely a pipeline run is to fail and how
// likely an automated remediation is to succeed.
package predictor

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"path/filepath"
	"time"

	"github.com/dwsmith1983/pipemedic/pkg/types"
)

// ErrScoringUnavailable is returned by ScoreRun when no run-failure model is loaded.
var ErrScoringUnavailable = errors.New("run-failure scoring unavailable")

// NeutralProbability is the healing-success fallback when no usable model exists.
const NeutralProbability = 0.5

// Artifact file names inside the artifact directory.
const (
	FailureArtifactFile = "failure_predictor.json"
	HealingArtifactFile = "healing_predictor.json"
	ScalerFile          = "scaler.json"
)

// Predictor wraps the run-failure and healing-success models. Either may be nil.
type Predictor struct {
	failure Model
	healing Model
	logger  *slog.Logger
	now     func() time.Time
}

// New creates a Predictor from already loaded models.
func New(failure, healing Model, logger *slog.Logger) *Predictor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Predictor{failure: failure, healing: healing, logger: logger, now: time.Now}
}

// Load reads both artifacts from dir. Missing artifacts leave the matching
// model unset; malformed ones are errors.
func Load(dir string, logger *slog.Logger) (*Predictor, error) {
	if logger == nil {
		logger = slog.Default()
	}

	failure, err := LoadArtifact(filepath.Join(dir, FailureArtifactFile))
	switch {
	case errors.Is(err, ErrArtifactNotFound):
		logger.Warn("run-failure model not found, run predictions disabled", "dir", dir)
	case err != nil:
		return nil, err
	case failure.Scaler == nil:
		scaler, serr := LoadScaler(filepath.Join(dir, ScalerFile))
		switch {
		case errors.Is(serr, ErrArtifactNotFound):
		case serr != nil:
			return nil, serr
		default:
			failure.Scaler = scaler
			if verr := failure.validate(); verr != nil {
				return nil, fmt.Errorf("scaler does not fit run-failure model: %w", verr)
			}
		}
	}

	healing, err := LoadArtifact(filepath.Join(dir, HealingArtifactFile))
	switch {
	case errors.Is(err, ErrArtifactNotFound):
		logger.Warn("healing model not found, using neutral probability", "dir", dir)
	case err != nil:
		return nil, err
	}

	p := &Predictor{logger: logger, now: time.Now}
	if failure != nil {
		p.failure = failure
	}
	if healing != nil {
		p.healing = healing
	}
	return p, nil
}

// Available reports whether run-failure scoring is possible.
func (p *Predictor) Available() bool {
	return p.failure != nil
}

// HealingModelLoaded reports whether healing scores come from a model.
func (p *Predictor) HealingModelLoaded() bool {
	return p.healing != nil
}

// ScoreRun predicts whether a run will fail. Without a run-failure model it
// returns ErrScoringUnavailable rather than a default.
func (p *Predictor) ScoreRun(meta RunMetadata) (pred types.RunPrediction, err error) {
	if p.failure == nil {
		return types.RunPrediction{}, ErrScoringUnavailable
	}
	defer func() {
		if r := recover(); r != nil {
			pred, err = types.RunPrediction{}, fmt.Errorf("run-failure model panicked: %v", r)
		}
	}()

	prob, err := p.failure.PredictProbability(RunFeatures(meta, p.now()))
	if err != nil {
		return types.RunPrediction{}, fmt.Errorf("scoring run: %w", err)
	}
	if math.IsNaN(prob) {
		return types.RunPrediction{}, errors.New("scoring run: model returned NaN")
	}
	prob = clamp(prob)
	return types.RunPrediction{
		WillFail:    prob > 0.5,
		Probability: prob,
		Confidence:  math.Max(prob, 1-prob),
		RiskBand:    RiskBandFor(prob),
		Factors:     RiskFactors(meta),
	}, nil
}

// ScoreHealing scores the chance that remediating cl succeeds. It never fails:
// any problem yields NeutralProbability with Fallback set.
func (p *Predictor) ScoreHealing(cl types.Classification) types.HealingScore {
	return p.Score(HealingFeatures(cl))
}

// Score runs the healing model over a raw feature vector with the same
// fallback behaviour as ScoreHealing.
func (p *Predictor) Score(features []float64) (score types.HealingScore) {
	score = types.HealingScore{Probability: NeutralProbability, Features: features, Fallback: true}
	if p.healing == nil {
		score.Reason = "healing model not loaded"
		return score
	}
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("healing model panicked", "panic", r)
			score = types.HealingScore{Probability: NeutralProbability, Features: features, Fallback: true, Reason: fmt.Sprint(r)}
		}
	}()

	prob, err := p.healing.PredictProbability(features)
	if err != nil {
		p.logger.Warn("healing prediction failed, using neutral probability", "error", err)
		score.Reason = err.Error()
		return score
	}
	if math.IsNaN(prob) {
		score.Reason = "model returned NaN"
		return score
	}
	return types.HealingScore{Probability: clamp(prob), Features: features}
}

// RiskBandFor buckets a run-failure probability.
func RiskBandFor(prob float64) types.RiskBand {
	switch {
	case prob >= 0.8:
		return types.RiskVeryHigh
	case prob >= 0.6:
		return types.RiskHigh
	case prob >= 0.4:
		return types.RiskMedium
	case prob >= 0.2:
		return types.RiskLow
	default:
		return types.RiskVeryLow
	}
}

// RiskFactors explains a run's risk from simple feature thresholds. Advisory only.
func RiskFactors(meta RunMetadata) []string {
	var factors []string
	if meta.value(FeaturePreviousFailures) > 2 {
		factors = append(factors, "High recent failure rate")
	}
	if meta.value(FeatureDependencyChanges) > 0 {
		factors = append(factors, "Dependency changes")
	}
	if meta.value(FeatureCommitSize) > 300 {
		factors = append(factors, "Large commit size")
	}
	if meta.value(FeatureTestCoverage) < 70 {
		factors = append(factors, "Low test coverage")
	}
	if len(factors) == 0 {
		factors = []string{"No major risk factors"}
	}
	return factors
}

func clamp(p float64) float64 {
	return math.Min(1, math.Max(0, p))
}
