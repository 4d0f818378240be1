package usecase

import (
	"context"

	"FinCast/internal/domain/models"
)

// TickSink receives decoded ticks from one consumer group.
type TickSink interface {
	Consume(ctx context.Context, t models.Tick) error
}

// IdleSink is implemented by sinks with time-based work that must also run
// while no messages arrive.
type IdleSink interface {
	OnIdle(ctx context.Context)
}
