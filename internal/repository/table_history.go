package repository

import (
	"context"
	"fmt"
	"time"

	"FinCast/internal/domain/models"
	domrepo "FinCast/internal/domain/repository"
	"FinCast/internal/services/features"
)

// TableHistory serves forecast history from a durable table. With a
// positive width the table is resampled into candles of that width first,
// which turns the minute tick table into daily rows. The bucket that has
// not closed yet is left out.
type TableHistory struct {
	store domrepo.TableStore
	width time.Duration
	now   func() time.Time
}

var _ domrepo.HistorySource = (*TableHistory)(nil)

type TableHistoryOption func(*TableHistory)

// WithHistoryClock replaces time.Now when deciding which bucket is still open.
func WithHistoryClock(now func() time.Time) TableHistoryOption {
	return func(h *TableHistory) { h.now = now }
}

func NewTableHistory(store domrepo.TableStore, width time.Duration, opts ...TableHistoryOption) *TableHistory {
	h := &TableHistory{store: store, width: width, now: time.Now}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *TableHistory) LatestN(ctx context.Context, n int) ([]models.Tick, error) {
	if n <= 0 {
		return nil, fmt.Errorf("n must be positive, got %d", n)
	}
	rows, err := h.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	if h.width > 0 {
		rows = h.closed(features.Resample(rows, h.width))
	}
	if len(rows) > n {
		rows = rows[len(rows)-n:]
	}
	return rows, nil
}

// closed trims trailing buckets whose end lies after now.
func (h *TableHistory) closed(rows []models.Tick) []models.Tick {
	now := h.now()
	for len(rows) > 0 && rows[len(rows)-1].Timestamp.Add(h.width).After(now) {
		rows = rows[:len(rows)-1]
	}
	return rows
}
