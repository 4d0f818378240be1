package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FinCast/internal/domain/models"
	applogger "FinCast/pkg/logger"
)

type scriptedSource struct {
	mu    sync.Mutex
	calls int
	fail  bool
	panic bool
}

func (s *scriptedSource) Fetch(context.Context) (models.Tick, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.panic {
		panic("boom")
	}
	if s.fail {
		return models.Tick{}, errors.New("upstream 503")
	}
	return tickAt(time.Now().UTC(), float64(s.calls)), nil
}

func (s *scriptedSource) Close() error { return nil }

func (s *scriptedSource) n() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type countingPublisher struct {
	mu   sync.Mutex
	sent []models.Tick
	err  error
}

func (p *countingPublisher) Publish(_ context.Context, t models.Tick) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.sent = append(p.sent, t)
	return nil
}

func (p *countingPublisher) Close() error { return nil }

func (p *countingPublisher) n() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sent)
}

func TestPublisherKeepsRunningThroughFetchFailures(t *testing.T) {
	src := &scriptedSource{fail: true}
	pub := &countingPublisher{}
	m := newMetrics()
	p := NewPublisher(src, pub, m, applogger.Nop(), 5*time.Millisecond, 0)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	require.Eventually(t, func() bool { return src.n() >= 3 }, time.Second, time.Millisecond)
	assert.Zero(t, pub.n())
	select {
	case <-done:
		t.Fatal("publisher stopped after fetch failures")
	default:
	}
	assert.GreaterOrEqual(t, m.errorCount("fetch"), 3)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("publisher did not stop")
	}
}

func TestPublisherPublishesOncePerCycle(t *testing.T) {
	src := &scriptedSource{}
	pub := &countingPublisher{}
	p := NewPublisher(src, pub, newMetrics(), applogger.Nop(), time.Minute, time.Second)

	require.NoError(t, p.Cycle(context.Background()))
	require.NoError(t, p.Cycle(context.Background()))
	assert.Equal(t, 2, pub.n())

	pub.err = errors.New("broker down")
	assert.Error(t, p.Cycle(context.Background()))
	assert.Equal(t, 2, pub.n())
}

func TestPublisherRecoversPanickingCycle(t *testing.T) {
	src := &scriptedSource{panic: true}
	m := newMetrics()
	p := NewPublisher(src, &countingPublisher{}, m, applogger.Nop(), time.Minute, 0)
	assert.Error(t, p.Cycle(context.Background()))
	assert.Equal(t, 1, m.errorCount("publish_panic"))
}

func TestPublisherRejectsZeroInterval(t *testing.T) {
	p := NewPublisher(&scriptedSource{}, &countingPublisher{}, newMetrics(), applogger.Nop(), 0, 0)
	assert.Error(t, p.Run(context.Background()))
}
