package api

import (
	"time"

	"FinCast/internal/domain/models"
)

const (
	tickLayout = "2006-01-02 15:04:05"
	dateLayout = "2006-01-02"
)

type TickDTO struct {
	Timestamp string  `json:"timestamp"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
}

func toTickDTO(t models.Tick, layout string) TickDTO {
	return TickDTO{
		Timestamp: t.Timestamp.UTC().Format(layout),
		Open:      t.Open,
		High:      t.High,
		Low:       t.Low,
		Close:     t.Close,
	}
}

func toTickDTOs(rows []models.Tick, layout string) []TickDTO {
	out := make([]TickDTO, len(rows))
	for i, r := range rows {
		out[i] = toTickDTO(r, layout)
	}
	return out
}

// layoutFor picks the date-only layout for daily or wider steps.
func layoutFor(step time.Duration) string {
	if step >= 24*time.Hour && step%(24*time.Hour) == 0 {
		return dateLayout
	}
	return tickLayout
}

type PredictionDTO struct {
	BasedOn   string  `json:"based_on"`
	Next      TickDTO `json:"next"`
	CreatedAt string  `json:"created_at"`
}

type ForecastDTO struct {
	Origin  string    `json:"origin"`
	Horizon int       `json:"horizon"`
	Lags    int       `json:"lags"`
	Rows    []TickDTO `json:"rows"`
}

type StepErrorDTO struct {
	Step    int                `json:"step"`
	Samples int                `json:"samples"`
	RMSE    map[string]float64 `json:"rmse"`
	MAE     map[string]float64 `json:"mae"`
}

func toStepErrorDTOs(errs []models.StepError) []StepErrorDTO {
	out := make([]StepErrorDTO, len(errs))
	for i, e := range errs {
		d := StepErrorDTO{Step: e.Step, Samples: e.Samples, RMSE: map[string]float64{}, MAE: map[string]float64{}}
		for t, v := range e.RMSE {
			d.RMSE[string(t)] = v
		}
		for t, v := range e.MAE {
			d.MAE[string(t)] = v
		}
		out[i] = d
	}
	return out
}

// ForecastRequest binds GET /api/forecast. Zero horizon is filled from config.
type ForecastRequest struct {
	Horizon int `query:"horizon" validate:"min=1,max=365"`
}

type HistoryRequest struct {
	Limit int `query:"limit" default:"30" validate:"min=1,max=5000"`
}

type BacktestRequest struct {
	N       int `query:"n" default:"365" validate:"min=1,max=5000"`
	Horizon int `query:"horizon" default:"7" validate:"min=1,max=365"`
	Stride  int `query:"stride" default:"1" validate:"min=1,max=365"`
}
