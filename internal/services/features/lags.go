package features

import (
	"fmt"
	"sort"
	"time"

	"FinCast/internal/domain/models"
	domsvc "FinCast/internal/domain/service"
)

// LagKey returns the feature name for target t lagged k steps, e.g. "close_lag_3".
func LagKey(t models.Target, k int) string {
	return fmt.Sprintf("%s_lag_%d", t, k)
}

// LagKeys lists every feature name for depth lags in a stable order:
// lag-major, then target in canonical order.
func LagKeys(lags int) []string {
	keys := make([]string, 0, lags*len(models.Targets))
	for k := 1; k <= lags; k++ {
		for _, t := range models.Targets {
			keys = append(keys, LagKey(t, k))
		}
	}
	return keys
}

// BuildLagFeatures reads tail[len(tail)-k] for k = 1..lags.
// It requires len(tail) >= lags.
func BuildLagFeatures(tail []models.Tick, lags int) (domsvc.LagFeatures, error) {
	if lags <= 0 {
		return nil, fmt.Errorf("lags must be positive, got %d", lags)
	}
	if len(tail) < lags {
		return nil, fmt.Errorf("tail has %d rows, need %d", len(tail), lags)
	}
	f := make(domsvc.LagFeatures, lags*len(models.Targets))
	for k := 1; k <= lags; k++ {
		row := tail[len(tail)-k]
		for _, t := range models.Targets {
			f[LagKey(t, k)] = row.Value(t)
		}
	}
	return f, nil
}

// LagMatrix turns an ordered series into supervised samples: for each row i
// with at least lags predecessors, X[i] holds the lag features in LagKeys
// order and Y[target][i] the row's own value. Rows without a full lag window
// are dropped, as the trainer does with shifted NaNs.
func LagMatrix(rows []models.Tick, lags int) (x [][]float64, y map[models.Target][]float64) {
	keys := LagKeys(lags)
	y = make(map[models.Target][]float64, len(models.Targets))
	for i := lags; i < len(rows); i++ {
		f, _ := BuildLagFeatures(rows[:i], lags)
		vec := make([]float64, len(keys))
		for j, key := range keys {
			vec[j] = f[key]
		}
		x = append(x, vec)
		for _, t := range models.Targets {
			y[t] = append(y[t], rows[i].Value(t))
		}
	}
	return x, y
}

// Resample folds ticks into fixed-width candles: first open, max high,
// min low, last close. Buckets are aligned with time.Truncate and returned in
// time order. Input order within a bucket is taken as arrival order.
func Resample(ticks []models.Tick, width time.Duration) []models.Tick {
	if len(ticks) == 0 || width <= 0 {
		return nil
	}
	buckets := make(map[time.Time]*models.Tick)
	for _, tk := range ticks {
		b := tk.Timestamp.Truncate(width)
		c, ok := buckets[b]
		if !ok {
			row := tk
			row.Timestamp = b
			buckets[b] = &row
			continue
		}
		if tk.High > c.High {
			c.High = tk.High
		}
		if tk.Low < c.Low {
			c.Low = tk.Low
		}
		c.Close = tk.Close
	}
	out := make([]models.Tick, 0, len(buckets))
	for _, c := range buckets {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}
