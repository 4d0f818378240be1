package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"FinCast/internal/domain/models"
	"FinCast/internal/services/forecast"
	"FinCast/internal/usecase"
	xlogger "FinCast/pkg/logger"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type fakeTracker struct {
	row models.Tick
	ok  bool
}

func (f fakeTracker) Snapshot() (models.Tick, bool) { return f.row, f.ok }

type fakePredictor struct {
	p  models.Prediction
	ok bool
}

func (f fakePredictor) Latest() (models.Prediction, bool) { return f.p, f.ok }

type fakeForecaster struct {
	gotHorizon int
	err        error
}

func (f *fakeForecaster) Forecast(_ context.Context, p usecase.ForecastParams) (*models.Forecast, error) {
	f.gotHorizon = p.Horizon
	if f.err != nil {
		return nil, f.err
	}
	rows := make([]models.Tick, p.Horizon)
	for i := range rows {
		rows[i] = models.Tick{Timestamp: t0.AddDate(0, 0, i+1), Open: 1, High: 2, Low: 0.5, Close: 1.5}
	}
	return &models.Forecast{Origin: t0, Horizon: p.Horizon, Lags: 5, Rows: rows}, nil
}

func (f *fakeForecaster) Backtest(_ context.Context, n, horizon, stride int) ([]models.StepError, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []models.StepError{{
		Step:    1,
		Samples: n - horizon,
		RMSE:    map[models.Target]float64{models.Close: 1.25},
		MAE:     map[models.Target]float64{models.Close: 1},
	}}, nil
}

type fakeHistory struct{ rows []models.Tick }

func (f fakeHistory) Latest(_ context.Context, limit int) (*usecase.GetHistoryResult, error) {
	rows := f.rows
	if len(rows) > limit {
		rows = rows[len(rows)-limit:]
	}
	return &usecase.GetHistoryResult{Count: len(rows), Rows: rows}, nil
}

type denyAll struct{}

func (denyAll) Allow(string) bool { return false }

type envelope struct {
	Status  int             `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func newEcho(d HandlerDeps) *echo.Echo {
	e := echo.New()
	NewForecastEchoHandler(xlogger.Nop(), d).RegisterRoutes(e)
	return e
}

func get(t *testing.T, e *echo.Echo, path string) (int, envelope) {
	t.Helper()
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	assert.Equal(t, rec.Code, env.Status)
	return rec.Code, env
}

func TestLatest(t *testing.T) {
	e := newEcho(HandlerDeps{Tracker: fakeTracker{}})
	code, _ := get(t, e, "/api/latest")
	assert.Equal(t, http.StatusNotFound, code)

	row := models.Tick{Timestamp: t0, Open: 100, High: 110, Low: 90, Close: 105}
	e = newEcho(HandlerDeps{Tracker: fakeTracker{row: row, ok: true}})
	code, env := get(t, e, "/api/latest")
	require.Equal(t, http.StatusOK, code)

	var dto TickDTO
	require.NoError(t, json.Unmarshal(env.Data, &dto))
	assert.Equal(t, TickDTO{Timestamp: "2024-05-01 12:00:00", Open: 100, High: 110, Low: 90, Close: 105}, dto)
}

func TestDisabledComponentsAnswer503(t *testing.T) {
	e := newEcho(HandlerDeps{})
	for _, p := range []string{"/api/latest", "/api/prediction/next", "/api/forecast", "/api/history", "/api/backtest"} {
		code, _ := get(t, e, p)
		assert.Equal(t, http.StatusServiceUnavailable, code, p)
	}
}

func TestNextPrediction(t *testing.T) {
	e := newEcho(HandlerDeps{Predictor: fakePredictor{}})
	code, _ := get(t, e, "/api/prediction/next")
	assert.Equal(t, http.StatusNotFound, code)

	p := models.Prediction{BasedOn: t0, Next: models.Tick{Timestamp: t0.Add(time.Minute), Close: 7}, CreatedAt: t0}
	e = newEcho(HandlerDeps{Predictor: fakePredictor{p: p, ok: true}})
	code, env := get(t, e, "/api/prediction/next")
	require.Equal(t, http.StatusOK, code)

	var dto PredictionDTO
	require.NoError(t, json.Unmarshal(env.Data, &dto))
	assert.Equal(t, "2024-05-01 12:00:00", dto.BasedOn)
	assert.Equal(t, "2024-05-01 12:01:00", dto.Next.Timestamp)
	assert.Equal(t, 7.0, dto.Next.Close)
}

func TestForecast(t *testing.T) {
	f := &fakeForecaster{}
	e := newEcho(HandlerDeps{Forecaster: f, DefaultHorizon: 30})

	code, env := get(t, e, "/api/forecast")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 30, f.gotHorizon)

	code, env = get(t, e, "/api/forecast?horizon=3")
	require.Equal(t, http.StatusOK, code)
	var dto ForecastDTO
	require.NoError(t, json.Unmarshal(env.Data, &dto))
	assert.Equal(t, "2024-05-01", dto.Origin)
	require.Len(t, dto.Rows, 3)
	assert.Equal(t, "2024-05-02", dto.Rows[0].Timestamp)
	assert.Equal(t, "2024-05-04", dto.Rows[2].Timestamp)
}

func TestForecastValidation(t *testing.T) {
	e := newEcho(HandlerDeps{Forecaster: &fakeForecaster{}})
	for _, q := range []string{"0", "366", "abc"} {
		code, _ := get(t, e, "/api/forecast?horizon="+q)
		assert.Equal(t, http.StatusBadRequest, code, q)
	}
}

func TestForecastErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("wrap: %w", forecast.ErrInsufficientHistory), http.StatusUnprocessableEntity},
		{fmt.Errorf("wrap: %w", forecast.ErrModelUnavailable), http.StatusServiceUnavailable},
		{fmt.Errorf("disk on fire"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		e := newEcho(HandlerDeps{Forecaster: &fakeForecaster{err: tc.err}})
		code, _ := get(t, e, "/api/forecast?horizon=2")
		assert.Equal(t, tc.want, code, tc.err.Error())
	}
}

func TestForecastRateLimited(t *testing.T) {
	e := newEcho(HandlerDeps{Forecaster: &fakeForecaster{}, Limiter: denyAll{}})
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/forecast", nil))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	// cheap endpoints are not limited
	code, _ := get(t, e, "/healthz")
	assert.Equal(t, http.StatusOK, code)
}

func TestHistory(t *testing.T) {
	rows := make([]models.Tick, 50)
	for i := range rows {
		rows[i] = models.Tick{Timestamp: t0.AddDate(0, 0, i), Close: float64(i)}
	}
	e := newEcho(HandlerDeps{History: fakeHistory{rows: rows}})

	code, env := get(t, e, "/api/history")
	require.Equal(t, http.StatusOK, code)
	var list struct {
		Rows  []TickDTO `json:"rows"`
		Total int64     `json:"total"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &list))
	assert.Equal(t, int64(30), list.Total)
	assert.Equal(t, 49.0, list.Rows[29].Close)

	code, _ = get(t, e, "/api/history?limit=9999")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestBacktest(t *testing.T) {
	e := newEcho(HandlerDeps{Forecaster: &fakeForecaster{}})
	code, env := get(t, e, "/api/backtest?n=100&horizon=5")
	require.Equal(t, http.StatusOK, code)

	var dto []StepErrorDTO
	require.NoError(t, json.Unmarshal(env.Data, &dto))
	require.Len(t, dto, 1)
	assert.Equal(t, 95, dto[0].Samples)
	assert.Equal(t, 1.25, dto[0].RMSE["close"])

	code, env = get(t, e, "/api/backtest?n=5&horizon=5")
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, string(env.Data), "must be smaller than n")
}
