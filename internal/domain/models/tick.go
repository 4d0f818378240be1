package models

import (
	"math"
	"time"
)

// Target names one of the four forecast series.
type Target string

const (
	Open  Target = "open"
	High  Target = "high"
	Low   Target = "low"
	Close Target = "close"
)

// Targets lists the series in their canonical order.
var Targets = []Target{Open, High, Low, Close}

// Tick is one timestamped OHLC observation. Forecast steps reuse it for
// synthetic rows.
type Tick struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
}

// Value returns the series value for target t.
func (k Tick) Value(t Target) float64 {
	switch t {
	case Open:
		return k.Open
	case High:
		return k.High
	case Low:
		return k.Low
	case Close:
		return k.Close
	default:
		return math.NaN()
	}
}

// Set returns a copy of k with target t replaced by v.
func (k Tick) Set(t Target, v float64) Tick {
	switch t {
	case Open:
		k.Open = v
	case High:
		k.High = v
	case Low:
		k.Low = v
	case Close:
		k.Close = v
	}
	return k
}

// Complete reports whether all four values are populated.
func (k Tick) Complete() bool {
	for _, t := range Targets {
		if v := k.Value(t); math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
