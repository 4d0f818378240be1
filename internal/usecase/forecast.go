package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"FinCast/internal/domain/models"
	domrepo "FinCast/internal/domain/repository"
	domsvc "FinCast/internal/domain/service"
	"FinCast/internal/service/cache"
	"FinCast/internal/services/forecast"
	applogger "FinCast/pkg/logger"
)

// ForecastUseCase runs recursive forecasts from the configured history.
type ForecastUseCase struct {
	history  domrepo.HistorySource
	models   domsvc.ModelSet
	lags     int
	step     time.Duration
	cache    cache.BytesCache
	cacheTTL time.Duration
	timeout  time.Duration
	metrics  domrepo.Metrics
	log      *applogger.Logger
}

// ForecastConfig holds the forecast defaults.
type ForecastConfig struct {
	Lags     int
	Step     time.Duration
	CacheTTL time.Duration
	Timeout  time.Duration
}

func NewForecastUseCase(history domrepo.HistorySource, ms domsvc.ModelSet, c cache.BytesCache, metrics domrepo.Metrics, log *applogger.Logger, cfg ForecastConfig) *ForecastUseCase {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &ForecastUseCase{
		history:  history,
		models:   ms,
		lags:     cfg.Lags,
		step:     cfg.Step,
		cache:    c,
		cacheTTL: cfg.CacheTTL,
		timeout:  cfg.Timeout,
		metrics:  metrics,
		log:      log,
	}
}

type ForecastParams struct {
	Horizon int
}

// Lags is the lag depth the loaded models were trained with.
func (uc *ForecastUseCase) Lags() int { return uc.lags }

// Forecast returns p.Horizon synthetic rows after the newest history row.
// Results are cached per horizon and newest history timestamp, so a new
// history row invalidates them.
func (uc *ForecastUseCase) Forecast(ctx context.Context, p ForecastParams) (*models.Forecast, error) {
	if err := uc.ready(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, uc.timeout)
	defer cancel()

	hist, err := uc.history.LatestN(ctx, uc.lags)
	if err != nil {
		uc.metrics.RecordError("history")
		return nil, fmt.Errorf("load history: %w", err)
	}
	if len(hist) < uc.lags {
		return nil, fmt.Errorf("%w: have %d rows, need %d", forecast.ErrInsufficientHistory, len(hist), uc.lags)
	}
	origin := hist[len(hist)-1].Timestamp

	key := fmt.Sprintf("forecast:%d:%d:%d", uc.lags, p.Horizon, origin.Unix())
	if fc, ok := uc.cached(ctx, key); ok {
		return fc, nil
	}

	start := time.Now()
	rows, err := forecast.Recursive(uc.models, hist, forecast.Params{Lags: uc.lags, Horizon: p.Horizon, Step: uc.step})
	if err != nil {
		uc.metrics.RecordError("forecast")
		return nil, err
	}
	uc.metrics.RecordLatency("forecast", time.Since(start).Seconds())

	fc := &models.Forecast{Origin: origin, Horizon: p.Horizon, Lags: uc.lags, Rows: rows}
	uc.store(ctx, key, fc)
	return fc, nil
}

func (uc *ForecastUseCase) cached(ctx context.Context, key string) (*models.Forecast, bool) {
	if uc.cache == nil {
		return nil, false
	}
	b, ok, err := uc.cache.GetBytes(ctx, key)
	if err != nil {
		uc.log.Warn("forecast cache get", applogger.String("key", key), applogger.Error(err))
		return nil, false
	}
	if !ok {
		return nil, false
	}
	var fc models.Forecast
	if err := json.Unmarshal(b, &fc); err != nil {
		return nil, false
	}
	return &fc, true
}

func (uc *ForecastUseCase) store(ctx context.Context, key string, fc *models.Forecast) {
	if uc.cache == nil {
		return
	}
	b, err := json.Marshal(fc)
	if err != nil {
		return
	}
	if err := uc.cache.SetBytes(ctx, key, b, uc.cacheTTL); err != nil {
		uc.log.Warn("forecast cache set", applogger.String("key", key), applogger.Error(err))
	}
}

// Backtest runs a walk-forward evaluation over the latest n history rows,
// bounded by the forecast timeout.
func (uc *ForecastUseCase) Backtest(ctx context.Context, n, horizon, stride int) ([]models.StepError, error) {
	if err := uc.ready(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, uc.timeout)
	defer cancel()

	hist, err := uc.history.LatestN(ctx, n)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	return forecast.Backtest(ctx, uc.models, hist, forecast.Params{Lags: uc.lags, Horizon: horizon, Step: uc.step}, stride)
}

func (uc *ForecastUseCase) ready() error {
	if uc.lags <= 0 || len(uc.models) == 0 {
		return fmt.Errorf("%w: no models loaded", forecast.ErrModelUnavailable)
	}
	return nil
}
