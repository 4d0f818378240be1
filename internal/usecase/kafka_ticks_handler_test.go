package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FinCast/internal/domain/models"
	pkgkafka "FinCast/pkg/kafka"
	applogger "FinCast/pkg/logger"

	"github.com/segmentio/kafka-go"
)

type sliceSink struct {
	got   []models.Tick
	idles int
}

func (s *sliceSink) Consume(_ context.Context, t models.Tick) error {
	s.got = append(s.got, t)
	return nil
}

func (s *sliceSink) OnIdle(context.Context) { s.idles++ }

func TestKafkaTicksHandlerDecodesAndForwards(t *testing.T) {
	sink := &sliceSink{}
	m := newMetrics()
	h := NewKafkaTicksHandler("btc_ohlc", "buffer", sink, m)
	assert.Equal(t, "btc_ohlc", h.Topic())

	err := h.Handle(context.Background(), []byte(`{"timestamp":"2024-06-01 12:30:00","open":1,"high":2,"low":0.5,"close":1.5}`))
	require.NoError(t, err)
	require.Len(t, sink.got, 1)
	assert.Equal(t, time.Date(2024, 6, 1, 12, 30, 0, 0, time.UTC), sink.got[0].Timestamp)
	assert.Equal(t, 1.5, sink.got[0].Close)

	err = h.Handle(context.Background(), []byte(`{"timestamp":"nope"}`))
	assert.ErrorIs(t, err, pkgkafka.ErrMalformed)
	assert.Len(t, sink.got, 1)
	assert.Equal(t, 1, m.errorCount("buffer_decode"))

	h.OnIdle(context.Background())
	assert.Equal(t, 1, sink.idles)
}

func TestKafkaTicksHandlerIdleWithoutIdleSink(t *testing.T) {
	tr := NewTracker(time.Minute, nil)
	h := NewKafkaTicksHandler("btc_ohlc", "tracker", tr, newMetrics())
	assert.NotPanics(t, func() { h.OnIdle(context.Background()) })
}

func TestStageMetricsHookInChain(t *testing.T) {
	m := newMetrics()
	chain := pkgkafka.NewHookChain(
		pkgkafka.LoggingHook{Log: applogger.Nop()},
		StageMetricsHook{Stage: "buffer", Metrics: m},
	)
	msg := kafka.Message{Offset: 4, Value: []byte("{}")}

	ctx, km, data, err := chain.BeforeHandle(context.Background(), "btc_ohlc", msg, msg.Value)
	require.NoError(t, err)
	assert.Equal(t, msg.Offset, km.Offset)
	chain.AfterHandle(ctx, "btc_ohlc", km, data, nil)
	assert.Equal(t, 1, m.latencyCount("buffer_handle"))

	chain.OnError(context.Background(), "btc_ohlc", msg, msg.Value, assert.AnError)
	assert.Equal(t, 1, m.errorCount("buffer_unhandled"))
}
