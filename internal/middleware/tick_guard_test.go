package middleware

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"FinCast/internal/domain/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flakyPub struct {
	fail bool
	sent []models.Tick
}

func (p *flakyPub) Publish(_ context.Context, t models.Tick) error {
	if p.fail {
		return errors.New("broker down")
	}
	p.sent = append(p.sent, t)
	return nil
}

func (p *flakyPub) Close() error { return nil }

type countMetrics struct{ errs map[string]int }

func (m *countMetrics) RecordTick(string) {}
func (m *countMetrics) RecordError(kind string) {
	if m.errs == nil {
		m.errs = map[string]int{}
	}
	m.errs[kind]++
}
func (m *countMetrics) RecordLastPrice(float64) {}
func (m *countMetrics) RecordLatency(string, float64) {}
func (m *countMetrics) RecordBufferSize(int) {}

func tick(min int, close float64) models.Tick {
	ts := time.Date(2024, 1, 1, 0, min, 0, 0, time.UTC)
	return models.Tick{Timestamp: ts, Open: close, High: close + 1, Low: close - 1, Close: close}
}

func TestTickGuardRejectsInvalid(t *testing.T) {
	pub := &flakyPub{}
	m := &countMetrics{}
	g := NewTickGuard(pub, m)

	bad := []models.Tick{
		{},
		{Timestamp: time.Now(), Open: 1, High: 1, Low: 1, Close: math.NaN()},
		{Timestamp: time.Now(), Open: 1, High: 1, Low: 2, Close: 1},
		{Timestamp: time.Now(), Open: 0, High: 1, Low: 1, Close: 1},
	}
	for _, b := range bad {
		assert.ErrorIs(t, g.Publish(context.Background(), b), ErrInvalidTick)
	}
	assert.Empty(t, pub.sent)
	assert.Equal(t, len(bad), m.errs["guard_validate"])
}

func TestTickGuardWithoutBacklogSkips(t *testing.T) {
	pub := &flakyPub{fail: true}
	g := NewTickGuard(pub, &countMetrics{})

	assert.Error(t, g.Publish(context.Background(), tick(0, 100)))
	pub.fail = false
	require.NoError(t, g.Publish(context.Background(), tick(1, 101)))
	assert.Equal(t, []models.Tick{tick(1, 101)}, pub.sent)
	assert.Zero(t, g.Pending())
}

func TestTickGuardBacklogResendsInOrder(t *testing.T) {
	pub := &flakyPub{fail: true}
	m := &countMetrics{}
	g := NewTickGuard(pub, m, WithBacklog(2))
	ctx := context.Background()

	assert.Error(t, g.Publish(ctx, tick(0, 100)))
	assert.Error(t, g.Publish(ctx, tick(1, 101)))
	assert.Error(t, g.Publish(ctx, tick(2, 102)))
	assert.Equal(t, 2, g.Pending())
	assert.Equal(t, 1, m.errs["guard_backlog_drop"])

	pub.fail = false
	require.NoError(t, g.Publish(ctx, tick(3, 103)))
	assert.Equal(t, []models.Tick{tick(1, 101), tick(2, 102), tick(3, 103)}, pub.sent)
	assert.Zero(t, g.Pending())
}
