package models

import "time"

// Prediction is the latest one-step-ahead output of the realtime predictor.
type Prediction struct {
	BasedOn   time.Time // timestamp of the newest observed tick
	Next      Tick
	CreatedAt time.Time
}

// Forecast is a complete multi-step forecast path.
// Note: no transport (json/http) concerns here.
type Forecast struct {
	Origin  time.Time // timestamp of the last real history row
	Horizon int
	Lags    int
	Rows    []Tick
}

// StepError holds per-step backtest error for each target.
type StepError struct {
	Step    int
	Samples int
	RMSE    map[Target]float64
	MAE     map[Target]float64
}
