package predictor

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
)

// ErrArtifactNotFound is returned by LoadArtifact when the file does not exist.
var ErrArtifactNotFound = errors.New("scoring artifact not found")

// ArtifactKindLogistic is the only artifact kind currently understood.
const ArtifactKindLogistic = "logistic"

// Model is the inference contract of a trained scoring artifact.
type Model interface {
	PredictProbability(features []float64) (float64, error)
}

// Scaler standardises a feature vector as (x - mean) / scale.
type Scaler struct {
	Mean  []float64 `json:"mean"`
	Scale []float64 `json:"scale"`
}

// Transform returns the standardised copy of features.
func (s *Scaler) Transform(features []float64) ([]float64, error) {
	if len(features) != len(s.Mean) || len(features) != len(s.Scale) {
		return nil, fmt.Errorf("scaler expects %d features, got %d", len(s.Mean), len(features))
	}
	out := make([]float64, len(features))
	for i, x := range features {
		scale := s.Scale[i]
		if scale == 0 {
			scale = 1
		}
		out[i] = (x - s.Mean[i]) / scale
	}
	return out, nil
}

// LogisticModel is a logistic-regression artifact produced by the offline trainer.
type LogisticModel struct {
	Version   int       `json:"version"`
	Kind      string    `json:"kind"`
	Features  []string  `json:"features,omitempty"`
	Weights   []float64 `json:"weights"`
	Intercept float64   `json:"intercept"`
	Scaler    *Scaler   `json:"scaler,omitempty"`
}

// PredictProbability returns sigmoid(w·scale(x) + b).
func (m *LogisticModel) PredictProbability(features []float64) (float64, error) {
	x := features
	if m.Scaler != nil {
		var err error
		if x, err = m.Scaler.Transform(features); err != nil {
			return 0, err
		}
	}
	if len(x) != len(m.Weights) {
		return 0, fmt.Errorf("model expects %d features, got %d", len(m.Weights), len(x))
	}
	z := m.Intercept
	for i, w := range m.Weights {
		z += w * x[i]
	}
	return 1 / (1 + math.Exp(-z)), nil
}

func (m *LogisticModel) validate() error {
	if m.Kind != ArtifactKindLogistic {
		return fmt.Errorf("unsupported artifact kind %q", m.Kind)
	}
	if len(m.Weights) == 0 {
		return errors.New("artifact has no weights")
	}
	if len(m.Features) > 0 && len(m.Features) != len(m.Weights) {
		return fmt.Errorf("artifact lists %d features for %d weights", len(m.Features), len(m.Weights))
	}
	if m.Scaler != nil && (len(m.Scaler.Mean) != len(m.Weights) || len(m.Scaler.Scale) != len(m.Weights)) {
		return errors.New("artifact scaler does not match weight count")
	}
	return nil
}

// LoadArtifact reads a JSON scoring artifact. A missing file yields an error
// wrapping ErrArtifactNotFound; a malformed one a plain error.
func LoadArtifact(path string) (*LogisticModel, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrArtifactNotFound, path)
		}
		return nil, fmt.Errorf("reading artifact %s: %w", path, err)
	}
	var m LogisticModel
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing artifact %s: %w", path, err)
	}
	if err := m.validate(); err != nil {
		return nil, fmt.Errorf("artifact %s: %w", path, err)
	}
	return &m, nil
}

// LoadScaler reads a standalone JSON scaler, returning ErrArtifactNotFound
// when the file does not exist.
func LoadScaler(path string) (*Scaler, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrArtifactNotFound, path)
		}
		return nil, fmt.Errorf("reading scaler %s: %w", path, err)
	}
	var s Scaler
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parsing scaler %s: %w", path, err)
	}
	if len(s.Mean) != len(s.Scale) {
		return nil, fmt.Errorf("scaler %s: mean and scale lengths differ", path)
	}
	return &s, nil
}
