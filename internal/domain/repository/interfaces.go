package repository

import (
	"context"

	"FinCast/internal/domain/models"
)

// TickSource fetches the latest candle from the upstream price API.
type TickSource interface {
	Fetch(ctx context.Context) (models.Tick, error)
	Close() error
}

// Publisher writes ticks to the stream.
type Publisher interface {
	Publish(ctx context.Context, t models.Tick) error
	Close() error
}

// TableStore is the durable tick table. Save replaces the whole table.
type TableStore interface {
	Load(ctx context.Context) ([]models.Tick, error)
	Save(ctx context.Context, rows []models.Tick) error
	Path() string
}

// HistorySource supplies real rows, oldest first, for forecasting.
type HistorySource interface {
	LatestN(ctx context.Context, n int) ([]models.Tick, error)
}

type Metrics interface {
	RecordTick(stage string)
	RecordError(kind string)
	RecordLastPrice(price float64)
	RecordLatency(op string, seconds float64)
	RecordBufferSize(n int)
}
