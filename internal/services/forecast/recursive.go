package forecast

import (
	"errors"
	"fmt"
	"time"

	"FinCast/internal/domain/models"
	domsvc "FinCast/internal/domain/service"
	"FinCast/internal/services/features"
)

var (
	// ErrInsufficientHistory means fewer than lags complete real rows were supplied.
	ErrInsufficientHistory = errors.New("insufficient history")
	// ErrModelUnavailable means a target has no fitted model.
	ErrModelUnavailable = errors.New("model unavailable")
)

// Params configures one recursive forecast.
type Params struct {
	Lags    int
	Horizon int
	Step    time.Duration
}

// Recursive produces params.Horizon synthetic rows by feeding each step's
// prediction back into the lag window of the next step. It is a pure
// function of its inputs: history is not modified and either the full path
// or an error is returned.
func Recursive(ms domsvc.ModelSet, history []models.Tick, p Params) ([]models.Tick, error) {
	if p.Lags <= 0 {
		return nil, fmt.Errorf("lags must be positive, got %d", p.Lags)
	}
	if p.Horizon <= 0 {
		return nil, fmt.Errorf("horizon must be positive, got %d", p.Horizon)
	}
	if p.Step <= 0 {
		return nil, fmt.Errorf("step must be positive, got %s", p.Step)
	}
	for _, t := range models.Targets {
		if ms[t] == nil {
			return nil, fmt.Errorf("%w: %s", ErrModelUnavailable, t)
		}
	}
	if len(history) < p.Lags {
		return nil, fmt.Errorf("%w: have %d rows, need %d", ErrInsufficientHistory, len(history), p.Lags)
	}

	tail := make([]models.Tick, p.Lags, p.Lags+p.Horizon)
	copy(tail, history[len(history)-p.Lags:])
	for i, row := range tail {
		if !row.Complete() {
			return nil, fmt.Errorf("%w: seed row %d (%s) has missing values",
				ErrInsufficientHistory, i, row.Timestamp.Format(time.DateTime))
		}
	}

	for step := 1; step <= p.Horizon; step++ {
		f, err := features.BuildLagFeatures(tail, p.Lags)
		if err != nil {
			return nil, err
		}
		next := models.Tick{Timestamp: tail[len(tail)-1].Timestamp.Add(p.Step)}
		for _, t := range models.Targets {
			v, err := ms[t].Predict(f)
			if err != nil {
				return nil, fmt.Errorf("step %d predict %s: %w", step, t, err)
			}
			next = next.Set(t, v)
		}
		tail = append(tail, next)
	}

	out := make([]models.Tick, p.Horizon)
	copy(out, tail[p.Lags:])
	return out, nil
}
