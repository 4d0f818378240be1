package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gonum.org/v1/gonum/floats"

	"FinCast/internal/domain/models"
	domsvc "FinCast/internal/domain/service"
)

// Linear is a fitted linear regressor over lag features. It is the on-disk
// model artifact: one JSON file per target.
type Linear struct {
	Target       models.Target `json:"target"`
	Lags         int           `json:"lags"`
	Features     []string      `json:"features"`
	Intercept    float64       `json:"intercept"`
	Coefficients []float64     `json:"coefficients"`
	TrainedAt    time.Time     `json:"trained_at"`
	TrainRows    int           `json:"train_rows"`
	HoldoutMSE   float64       `json:"holdout_mse"`
}

var _ domsvc.Model = (*Linear)(nil)

// Predict evaluates intercept + coefficients . features. Every feature the
// model was trained on must be present.
func (m *Linear) Predict(f domsvc.LagFeatures) (float64, error) {
	if len(m.Features) != len(m.Coefficients) {
		return 0, fmt.Errorf("model %s: %d features but %d coefficients", m.Target, len(m.Features), len(m.Coefficients))
	}
	x := make([]float64, len(m.Features))
	for i, name := range m.Features {
		v, ok := f[name]
		if !ok {
			return 0, fmt.Errorf("model %s: missing feature %q", m.Target, name)
		}
		x[i] = v
	}
	return m.Intercept + floats.Dot(m.Coefficients, x), nil
}

// ArtifactPath is where the artifact for target t lives under dir.
func ArtifactPath(dir string, t models.Target) string {
	return filepath.Join(dir, fmt.Sprintf("model_%s.json", t))
}

// Save writes the artifact under dir.
func (m *Linear) Save(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create model dir: %w", err)
	}
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal model %s: %w", m.Target, err)
	}
	return os.WriteFile(ArtifactPath(dir, m.Target), b, 0o644)
}

// LoadLinear reads one artifact.
func LoadLinear(path string) (*Linear, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m Linear
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if len(m.Features) != len(m.Coefficients) {
		return nil, fmt.Errorf("%s: %d features but %d coefficients", path, len(m.Features), len(m.Coefficients))
	}
	return &m, nil
}

// LoadDir loads every target's artifact found in dir. Targets without an
// artifact are left out of the set; the forecaster reports them as
// unavailable. The returned lag depth is the one shared by all artifacts.
func LoadDir(dir string) (domsvc.ModelSet, int, error) {
	set := make(domsvc.ModelSet, len(models.Targets))
	lags := 0
	for _, t := range models.Targets {
		m, err := LoadLinear(ArtifactPath(dir, t))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, 0, err
		}
		if lags != 0 && m.Lags != lags {
			return nil, 0, fmt.Errorf("model %s trained with %d lags, others with %d", t, m.Lags, lags)
		}
		lags = m.Lags
		set[t] = m
	}
	return set, lags, nil
}
