package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FinCast/internal/domain/models"
)

type capturePublisher struct {
	topic  string
	key    []byte
	value  interface{}
	closed bool
}

func (c *capturePublisher) Publish(_ context.Context, topic string, key []byte, value interface{}) error {
	c.topic, c.key, c.value = topic, key, value
	return nil
}

func (c *capturePublisher) Close() error {
	c.closed = true
	return nil
}

func TestKafkaPublisherEncodesWireFormat(t *testing.T) {
	cp := &capturePublisher{}
	p := NewKafkaPublisher(cp, "btc_ohlc", "BTCUSDT")
	tick := models.Tick{Timestamp: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC), Open: 1, High: 2, Low: 0.5, Close: 1.5}
	require.NoError(t, p.Publish(context.Background(), tick))

	assert.Equal(t, "btc_ohlc", cp.topic)
	assert.Equal(t, "BTCUSDT", string(cp.key))
	b, ok := cp.value.([]byte)
	require.True(t, ok)
	assert.JSONEq(t, `{"timestamp":"2024-06-01 12:00:00","open":1,"high":2,"low":0.5,"close":1.5}`, string(b))

	require.NoError(t, p.Close())
	assert.True(t, cp.closed)
}
