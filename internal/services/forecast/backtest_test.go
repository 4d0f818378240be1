package forecast

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FinCast/internal/domain/models"
	domsvc "FinCast/internal/domain/service"
)

func nan() float64 { return math.NaN() }

// lastModel repeats lag_1: a persistence forecast.
type lastModel struct{ target models.Target }

func (m lastModel) Predict(f domsvc.LagFeatures) (float64, error) {
	return f[string(m.target)+"_lag_1"], nil
}

func TestBacktestConstantSeriesHasZeroError(t *testing.T) {
	hist := dailyCloses(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), 5, 5, 5, 5, 5, 5, 5, 5)
	errs, err := Backtest(context.Background(), meanSet(2), hist, Params{Lags: 2, Horizon: 3, Step: 24 * time.Hour}, 1)
	require.NoError(t, err)
	require.Len(t, errs, 3)
	for _, se := range errs {
		assert.Equal(t, 4, se.Samples)
		for _, tg := range models.Targets {
			assert.InDelta(t, 0, se.RMSE[tg], 1e-12)
			assert.InDelta(t, 0, se.MAE[tg], 1e-12)
		}
	}
}

func TestBacktestErrorGrowsWithStep(t *testing.T) {
	ms := domsvc.ModelSet{}
	for _, tg := range models.Targets {
		ms[tg] = lastModel{target: tg}
	}
	// linear trend: persistence is off by h at step h
	hist := dailyCloses(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), 1, 2, 3, 4, 5, 6, 7, 8, 9, 10)
	errs, err := Backtest(context.Background(), ms, hist, Params{Lags: 1, Horizon: 3, Step: 24 * time.Hour}, 2)
	require.NoError(t, err)
	require.Len(t, errs, 3)
	for i, se := range errs {
		assert.Equal(t, i+1, se.Step)
		assert.InDelta(t, float64(i+1), se.RMSE[models.Close], 1e-9)
		assert.InDelta(t, float64(i+1), se.MAE[models.Close], 1e-9)
	}
}

func TestBacktestTooShort(t *testing.T) {
	hist := dailyCloses(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), 1, 2, 3)
	_, err := Backtest(context.Background(), meanSet(2), hist, Params{Lags: 2, Horizon: 2, Step: time.Hour}, 1)
	assert.ErrorIs(t, err, ErrInsufficientHistory)
}

func TestBacktestStopsOnCancel(t *testing.T) {
	hist := dailyCloses(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), 1, 2, 3, 4, 5, 6)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Backtest(ctx, meanSet(2), hist, Params{Lags: 2, Horizon: 2, Step: time.Hour}, 1)
	assert.ErrorIs(t, err, context.Canceled)
}
