package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	"FinCast/internal/domain/models"
	domrepo "FinCast/internal/domain/repository"
	domsvc "FinCast/internal/domain/service"
	"FinCast/internal/services/forecast"
	applogger "FinCast/pkg/logger"
)

// RealtimePredictor keeps the last lags ticks seen on the stream and, once
// it has enough, predicts the next one after every message.
type RealtimePredictor struct {
	models  domsvc.ModelSet
	lags    int
	step    time.Duration
	metrics domrepo.Metrics
	log     *applogger.Logger
	now     func() time.Time

	window []models.Tick // owned by the consumer goroutine

	mu   sync.RWMutex
	last *models.Prediction
}

func NewRealtimePredictor(ms domsvc.ModelSet, lags int, step time.Duration, metrics domrepo.Metrics, log *applogger.Logger) *RealtimePredictor {
	if lags < 1 {
		lags = 1
	}
	return &RealtimePredictor{
		models:  ms,
		lags:    lags,
		step:    step,
		metrics: metrics,
		log:     log,
		now:     time.Now,
		window:  make([]models.Tick, 0, lags),
	}
}

// Consume records t and refreshes the prediction. Model problems are logged
// and never stop the stream.
func (p *RealtimePredictor) Consume(_ context.Context, t models.Tick) error {
	if len(p.window) == p.lags {
		copy(p.window, p.window[1:])
		p.window = p.window[:p.lags-1]
	}
	p.window = append(p.window, t)
	if len(p.window) < p.lags {
		return nil
	}

	start := time.Now()
	rows, err := forecast.Recursive(p.models, p.window, forecast.Params{Lags: p.lags, Horizon: 1, Step: p.step})
	if err != nil {
		kind := "predict"
		if errors.Is(err, forecast.ErrModelUnavailable) {
			kind = "predict_model"
		}
		p.metrics.RecordError(kind)
		p.log.Warn("realtime prediction failed", applogger.Error(err))
		return nil
	}
	p.metrics.RecordLatency("predict", time.Since(start).Seconds())

	pred := models.Prediction{BasedOn: t.Timestamp, Next: rows[0], CreatedAt: p.now().UTC()}
	p.mu.Lock()
	p.last = &pred
	p.mu.Unlock()

	p.log.Info("next tick predicted",
		applogger.Time("based_on", t.Timestamp),
		applogger.Float64("open", pred.Next.Open),
		applogger.Float64("high", pred.Next.High),
		applogger.Float64("low", pred.Next.Low),
		applogger.Float64("close", pred.Next.Close))
	return nil
}

// Latest returns a copy of the most recent prediction.
func (p *RealtimePredictor) Latest() (models.Prediction, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.last == nil {
		return models.Prediction{}, false
	}
	return *p.last, true
}
