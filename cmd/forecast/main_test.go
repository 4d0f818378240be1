package main

import (
	"bytes"
	"context"
	"math"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"FinCast/internal/domain/models"
	"FinCast/internal/repository"
	"FinCast/internal/services/forecast"
	"FinCast/internal/services/model"
	applogger "FinCast/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var day0 = time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)

func fixture(t *testing.T, n int) (hist, modelDir string) {
	t.Helper()
	dir := t.TempDir()
	rows := make([]models.Tick, n)
	for i := range rows {
		c := 100 + float64(i) + 3*math.Sin(float64(i))
		o := c - 0.5*math.Cos(float64(i)*0.7)
		rows[i] = models.Tick{
			Timestamp: day0.AddDate(0, 0, i),
			Open:      o,
			High:      math.Max(o, c) + 1 + 0.1*math.Sin(float64(i)*1.3),
			Low:       math.Min(o, c) - 1,
			Close:     c,
		}
	}
	hist = filepath.Join(dir, "daily.csv")
	require.NoError(t, repository.NewCSVTable(hist, repository.LayoutCandles).Save(context.Background(), rows))

	fitted, _, err := model.Train(rows, model.TrainConfig{Lags: 3, TestFrac: 0.2})
	require.NoError(t, err)
	modelDir = filepath.Join(dir, "models")
	for _, m := range fitted {
		require.NoError(t, m.Save(modelDir))
	}
	return hist, modelDir
}

func TestRunWritesForecastCSV(t *testing.T) {
	hist, dir := fixture(t, 60)
	var out bytes.Buffer
	err := run(context.Background(), options{
		history: hist, models: dir, out: "-", days: 3, step: 24 * time.Hour,
	}, &out, applogger.Nop())
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "Date,Open,High,Low,Close", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "2023-03-02,"), lines[1])
	assert.True(t, strings.HasPrefix(lines[3], "2023-03-04,"), lines[3])
}

func TestRunUntilCutsHistory(t *testing.T) {
	hist, dir := fixture(t, 60)
	var out bytes.Buffer
	err := run(context.Background(), options{
		history: hist, models: dir, out: "-", days: 1, step: 24 * time.Hour, until: "2023-01-10",
	}, &out, applogger.Nop())
	require.NoError(t, err)
	assert.Contains(t, out.String(), "2023-01-11,")
}

func TestRunBacktest(t *testing.T) {
	hist, dir := fixture(t, 60)
	var out bytes.Buffer
	err := run(context.Background(), options{
		history: hist, models: dir, days: 4, step: 24 * time.Hour, backtest: true, stride: 5,
	}, &out, applogger.Nop())
	require.NoError(t, err)
	assert.Contains(t, out.String(), "rmse_close")
	assert.Equal(t, 5, strings.Count(strings.TrimSpace(out.String()), "\n")+1)
}

func TestRunWithoutModels(t *testing.T) {
	hist, _ := fixture(t, 60)
	err := run(context.Background(), options{
		history: hist, models: t.TempDir(), out: "-", days: 1, step: 24 * time.Hour,
	}, &bytes.Buffer{}, applogger.Nop())
	assert.ErrorIs(t, err, forecast.ErrModelUnavailable)
}
