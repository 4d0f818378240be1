package middleware

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"FinCast/internal/domain/models"
	domrepo "FinCast/internal/domain/repository"
)

// ErrInvalidTick marks a tick rejected before it reached the stream.
var ErrInvalidTick = errors.New("invalid tick")

// TickGuard sits between the publisher loop and the stream writer. It drops
// malformed ticks and, when a backlog is configured, keeps ticks whose
// publish failed and re-sends them, oldest first, ahead of the next tick.
type TickGuard struct {
	next    domrepo.Publisher
	metrics domrepo.Metrics
	max     int

	mu      sync.Mutex
	backlog []models.Tick
}

type GuardOption func(*TickGuard)

// WithBacklog keeps up to n failed ticks for resend. Zero disables it.
func WithBacklog(n int) GuardOption {
	return func(g *TickGuard) {
		if n > 0 {
			g.max = n
		}
	}
}

var _ domrepo.Publisher = (*TickGuard)(nil)

func NewTickGuard(next domrepo.Publisher, metrics domrepo.Metrics, opts ...GuardOption) *TickGuard {
	g := &TickGuard{next: next, metrics: metrics}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Publish validates t, drains the backlog and forwards t. On a downstream
// failure t joins the backlog (evicting the oldest when full) and the error
// is returned.
func (g *TickGuard) Publish(ctx context.Context, t models.Tick) error {
	if err := validateTick(t); err != nil {
		g.metrics.RecordError("guard_validate")
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.drainLocked(ctx); err != nil {
		g.enqueueLocked(t)
		return fmt.Errorf("guard backlog: %w", err)
	}
	if err := g.next.Publish(ctx, t); err != nil {
		g.enqueueLocked(t)
		return err
	}
	return nil
}

// Pending is the number of ticks waiting for resend.
func (g *TickGuard) Pending() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.backlog)
}

func (g *TickGuard) drainLocked(ctx context.Context) error {
	for len(g.backlog) > 0 {
		if err := g.next.Publish(ctx, g.backlog[0]); err != nil {
			return err
		}
		g.backlog = g.backlog[1:]
		g.metrics.RecordTick("resent")
	}
	return nil
}

func (g *TickGuard) enqueueLocked(t models.Tick) {
	if g.max == 0 {
		return
	}
	if len(g.backlog) == g.max {
		g.backlog = g.backlog[1:]
		g.metrics.RecordError("guard_backlog_drop")
	}
	g.backlog = append(g.backlog, t)
}

func (g *TickGuard) Close() error { return g.next.Close() }

func validateTick(t models.Tick) error {
	if t.Timestamp.IsZero() {
		return fmt.Errorf("%w: zero timestamp", ErrInvalidTick)
	}
	if t.Timestamp.After(time.Now().Add(time.Hour)) {
		return fmt.Errorf("%w: timestamp %s is in the future", ErrInvalidTick, t.Timestamp)
	}
	for _, tg := range models.Targets {
		v := t.Value(tg)
		if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
			return fmt.Errorf("%w: %s=%v", ErrInvalidTick, tg, v)
		}
	}
	if t.High < t.Low {
		return fmt.Errorf("%w: high %v below low %v", ErrInvalidTick, t.High, t.Low)
	}
	return nil
}
