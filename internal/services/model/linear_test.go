package model

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FinCast/internal/domain/models"
	domsvc "FinCast/internal/domain/service"
	"FinCast/internal/services/features"
	"FinCast/internal/services/forecast"
)

func TestLinearPredict(t *testing.T) {
	m := &Linear{
		Target:       models.Close,
		Lags:         1,
		Features:     []string{"close_lag_1", "open_lag_1"},
		Intercept:    1,
		Coefficients: []float64{2, 0.5},
	}
	got, err := m.Predict(domsvc.LagFeatures{"close_lag_1": 10, "open_lag_1": 4, "extra": 99})
	require.NoError(t, err)
	assert.Equal(t, 23.0, got)

	_, err = m.Predict(domsvc.LagFeatures{"close_lag_1": 10})
	assert.ErrorContains(t, err, "open_lag_1")
}

func TestSaveAndLoadDir(t *testing.T) {
	dir := t.TempDir()
	for _, tg := range []models.Target{models.Open, models.Close} {
		m := &Linear{Target: tg, Lags: 2, Features: features.LagKeys(2), Coefficients: make([]float64, 8), Intercept: 3}
		require.NoError(t, m.Save(dir))
	}

	set, lags, err := LoadDir(dir)
	require.NoError(t, err)
	assert.Equal(t, 2, lags)
	assert.Len(t, set, 2)
	assert.Nil(t, set[models.High])

	got, err := set[models.Close].Predict(domsvc.LagFeatures{})
	assert.Error(t, err)
	assert.Zero(t, got)
}

func TestLoadDirLagMismatch(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, (&Linear{Target: models.Open, Lags: 2, Features: features.LagKeys(2), Coefficients: make([]float64, 8)}).Save(dir))
	require.NoError(t, (&Linear{Target: models.High, Lags: 3, Features: features.LagKeys(3), Coefficients: make([]float64, 12)}).Save(dir))
	_, _, err := LoadDir(dir)
	assert.Error(t, err)
}

func TestLoadLinearRejectsBadArtifact(t *testing.T) {
	dir := t.TempDir()
	path := ArtifactPath(dir, models.Low)
	require.NoError(t, os.WriteFile(path, []byte(`{"target":"low","features":["a"],"coefficients":[]}`), 0o644))
	_, err := LoadLinear(path)
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte(`not json`), 0o644))
	_, err = LoadLinear(path)
	assert.Error(t, err)
}

// Trains on an autoregressive series with a periodic perturbation.
func TestTrainOnAutoregressiveSeries(t *testing.T) {
	start := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	rows := make([]models.Tick, 60)
	v := 5.0
	for i := range rows {
		// perturb so the four series are not collinear
		o, h, l := v+float64(i%3), v+2+float64(i%5), v-1-float64(i%7)
		rows[i] = models.Tick{Timestamp: start.AddDate(0, 0, i), Open: o, High: h, Low: l, Close: v}
		v = 0.5*v + 10 + float64(i%4)
	}

	ms, reports, err := Train(rows, TrainConfig{Lags: 1, TestFrac: 0.2})
	require.NoError(t, err)
	require.Len(t, ms, 4)
	require.Len(t, reports, 4)
	for _, r := range reports {
		assert.Equal(t, 48, r.TrainRows)
		assert.Equal(t, 11, r.TestRows)
		assert.GreaterOrEqual(t, r.HoldoutMSE, 0.0)
	}

	set := domsvc.ModelSet{}
	for tg, m := range ms {
		set[tg] = m
		assert.Equal(t, features.LagKeys(1), m.Features)
	}
	out, err := forecast.Recursive(set, rows[:10], forecast.Params{Lags: 1, Horizon: 1, Step: 24 * time.Hour})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.True(t, out[0].Timestamp.Equal(rows[10].Timestamp))
}

func TestTrainValidation(t *testing.T) {
	rows := make([]models.Tick, 5)
	_, _, err := Train(rows, TrainConfig{Lags: 0, TestFrac: 0.2})
	assert.Error(t, err)
	_, _, err = Train(rows, TrainConfig{Lags: 1, TestFrac: 1})
	assert.Error(t, err)
	_, _, err = Train(rows, TrainConfig{Lags: 2, TestFrac: 0.2})
	assert.Error(t, err)
}
