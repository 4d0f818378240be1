package stream

import (
	"encoding/json"
	"fmt"
	"time"

	"FinCast/internal/domain/models"
	pkgkafka "FinCast/pkg/kafka"
)

// TimeLayout is the wire format of message timestamps, always UTC.
const TimeLayout = time.DateTime

type wireTick struct {
	Timestamp *string  `json:"timestamp"`
	Open      *float64 `json:"open"`
	High      *float64 `json:"high"`
	Low       *float64 `json:"low"`
	Close     *float64 `json:"close"`
}

// Encode renders t as a stream message.
func Encode(t models.Tick) ([]byte, error) {
	ts := t.Timestamp.UTC().Format(TimeLayout)
	return json.Marshal(wireTick{
		Timestamp: &ts,
		Open:      &t.Open,
		High:      &t.High,
		Low:       &t.Low,
		Close:     &t.Close,
	})
}

// Decode parses a stream message. Every field is required; failures wrap
// pkgkafka.ErrMalformed so the consumer skips the message.
func Decode(b []byte) (models.Tick, error) {
	var w wireTick
	if err := json.Unmarshal(b, &w); err != nil {
		return models.Tick{}, fmt.Errorf("%w: %v", pkgkafka.ErrMalformed, err)
	}
	if w.Timestamp == nil || w.Open == nil || w.High == nil || w.Low == nil || w.Close == nil {
		return models.Tick{}, fmt.Errorf("%w: missing field", pkgkafka.ErrMalformed)
	}
	ts, err := time.ParseInLocation(TimeLayout, *w.Timestamp, time.UTC)
	if err != nil {
		return models.Tick{}, fmt.Errorf("%w: timestamp: %v", pkgkafka.ErrMalformed, err)
	}
	return models.Tick{Timestamp: ts, Open: *w.Open, High: *w.High, Low: *w.Low, Close: *w.Close}, nil
}
