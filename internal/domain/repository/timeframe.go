package repository

import (
	"fmt"
	"time"
)

// Timeframe names a candle width as the exchange spells it.
type Timeframe string

const (
	TF1m  Timeframe = "1m"
	TF30m Timeframe = "30m"
	TF1h  Timeframe = "1h"
	TF1d  Timeframe = "1d"
)

// Duration returns the wall-clock width of tf.
func (tf Timeframe) Duration() (time.Duration, error) {
	switch tf {
	case TF1m:
		return time.Minute, nil
	case TF30m:
		return 30 * time.Minute, nil
	case TF1h:
		return time.Hour, nil
	case TF1d:
		return 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("unsupported timeframe: %s", tf)
	}
}
