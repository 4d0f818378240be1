package forecast

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"FinCast/internal/domain/models"
	domsvc "FinCast/internal/domain/service"
)

// Backtest runs Recursive from every origin in history (every stride rows)
// that leaves p.Horizon actual rows to compare against, and reports error per
// step. Rising error with step number is the compounding effect of feeding
// predictions back as inputs. ctx is checked between origins.
func Backtest(ctx context.Context, ms domsvc.ModelSet, history []models.Tick, p Params, stride int) ([]models.StepError, error) {
	if stride <= 0 {
		stride = 1
	}
	if len(history) < p.Lags+p.Horizon {
		return nil, fmt.Errorf("%w: backtest needs %d rows, have %d",
			ErrInsufficientHistory, p.Lags+p.Horizon, len(history))
	}

	sq := make([]map[models.Target][]float64, p.Horizon)
	abs := make([]map[models.Target][]float64, p.Horizon)
	for i := range sq {
		sq[i] = make(map[models.Target][]float64, len(models.Targets))
		abs[i] = make(map[models.Target][]float64, len(models.Targets))
	}

	for origin := p.Lags; origin+p.Horizon <= len(history); origin += stride {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("backtest stopped at origin %d: %w", origin, err)
		}
		path, err := Recursive(ms, history[:origin], p)
		if err != nil {
			return nil, fmt.Errorf("origin %d: %w", origin, err)
		}
		for i, pred := range path {
			actual := history[origin+i]
			for _, t := range models.Targets {
				d := pred.Value(t) - actual.Value(t)
				sq[i][t] = append(sq[i][t], d*d)
				abs[i][t] = append(abs[i][t], math.Abs(d))
			}
		}
	}

	out := make([]models.StepError, p.Horizon)
	for i := range out {
		se := models.StepError{
			Step:    i + 1,
			Samples: len(sq[i][models.Close]),
			RMSE:    make(map[models.Target]float64, len(models.Targets)),
			MAE:     make(map[models.Target]float64, len(models.Targets)),
		}
		for _, t := range models.Targets {
			se.RMSE[t] = math.Sqrt(stat.Mean(sq[i][t], nil))
			se.MAE[t] = stat.Mean(abs[i][t], nil)
		}
		out[i] = se
	}
	return out, nil
}
