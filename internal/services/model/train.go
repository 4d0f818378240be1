package model

import (
	"errors"
	"fmt"
	"time"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"FinCast/internal/domain/models"
	"FinCast/internal/services/features"
)

// TrainConfig controls the offline fit.
type TrainConfig struct {
	Lags     int
	TestFrac float64 // chronological hold-out share, e.g. 0.2
	Ridge    float64 // L2 penalty; 0 solves plain least squares via QR
}

// Report summarises one target's fit.
type Report struct {
	Target     models.Target
	TrainRows  int
	TestRows   int
	HoldoutMSE float64
}

// Train fits one linear model per target on lag features built from rows
// (oldest first). The last TestFrac of samples is held out, never shuffled.
func Train(rows []models.Tick, cfg TrainConfig) (map[models.Target]*Linear, []Report, error) {
	if cfg.Lags <= 0 {
		return nil, nil, fmt.Errorf("lags must be positive, got %d", cfg.Lags)
	}
	if cfg.TestFrac < 0 || cfg.TestFrac >= 1 {
		return nil, nil, fmt.Errorf("test fraction must be in [0,1), got %v", cfg.TestFrac)
	}
	x, y := features.LagMatrix(rows, cfg.Lags)
	nFeat := cfg.Lags * len(models.Targets)
	nTest := int(float64(len(x)) * cfg.TestFrac)
	nTrain := len(x) - nTest
	if nTrain <= nFeat {
		return nil, nil, fmt.Errorf("need more than %d training samples, have %d", nFeat, nTrain)
	}

	keys := features.LagKeys(cfg.Lags)
	now := time.Now().UTC()
	out := make(map[models.Target]*Linear, len(models.Targets))
	reports := make([]Report, 0, len(models.Targets))
	for _, t := range models.Targets {
		intercept, coef, err := fitOLS(x[:nTrain], y[t][:nTrain], cfg.Ridge)
		if err != nil {
			return nil, nil, fmt.Errorf("fit %s: %w", t, err)
		}
		m := &Linear{
			Target:       t,
			Lags:         cfg.Lags,
			Features:     keys,
			Intercept:    intercept,
			Coefficients: coef,
			TrainedAt:    now,
			TrainRows:    nTrain,
		}
		if nTest > 0 {
			m.HoldoutMSE = mse(m, x[nTrain:], y[t][nTrain:], keys)
		}
		out[t] = m
		reports = append(reports, Report{Target: t, TrainRows: nTrain, TestRows: nTest, HoldoutMSE: m.HoldoutMSE})
	}
	return out, reports, nil
}

func fitOLS(x [][]float64, y []float64, ridge float64) (float64, []float64, error) {
	n, p := len(x), len(x[0])
	design := mat.NewDense(n, p+1, nil)
	for i, row := range x {
		design.Set(i, 0, 1)
		for j, v := range row {
			design.Set(i, j+1, v)
		}
	}
	target := mat.NewVecDense(n, append([]float64(nil), y...))

	var beta mat.VecDense
	var err error
	if ridge > 0 {
		var xtx mat.Dense
		xtx.Mul(design.T(), design)
		for j := 1; j <= p; j++ {
			xtx.Set(j, j, xtx.At(j, j)+ridge)
		}
		var xty mat.VecDense
		xty.MulVec(design.T(), target)
		err = beta.SolveVec(&xtx, &xty)
	} else {
		err = beta.SolveVec(design, target)
	}
	var cond mat.Condition
	if err != nil && !errors.As(err, &cond) {
		return 0, nil, err
	}

	coef := make([]float64, p)
	for j := range coef {
		coef[j] = beta.AtVec(j + 1)
	}
	return beta.AtVec(0), coef, nil
}

func mse(m *Linear, x [][]float64, y []float64, keys []string) float64 {
	sq := make([]float64, len(x))
	for i, row := range x {
		f := make(map[string]float64, len(keys))
		for j, k := range keys {
			f[k] = row[j]
		}
		pred, _ := m.Predict(f)
		d := pred - y[i]
		sq[i] = d * d
	}
	return stat.Mean(sq, nil)
}
