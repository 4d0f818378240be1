package usecase

import (
	"context"
	"sync"
	"time"

	"FinCast/internal/domain/models"
	applogger "FinCast/pkg/logger"
)

// Tracker keeps the single most recent row admitted per bucket. A tick is
// admitted when nothing is tracked yet or at least one bucket width has
// passed since the tracked row. Older ticks have negative elapsed time and
// are discarded.
type Tracker struct {
	mu    sync.RWMutex
	width time.Duration
	row   models.Tick
	has   bool
	log   *applogger.Logger
}

func NewTracker(width time.Duration, log *applogger.Logger) *Tracker {
	return &Tracker{width: width, log: log}
}

// TryReplace admits t if its bucket rule allows and reports whether it did.
func (tr *Tracker) TryReplace(t models.Tick) bool {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if tr.has && t.Timestamp.Sub(tr.row.Timestamp) < tr.width {
		return false
	}
	tr.row = t
	tr.has = true
	return true
}

// Snapshot returns a copy of the tracked row.
func (tr *Tracker) Snapshot() (models.Tick, bool) {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	return tr.row, tr.has
}

func (tr *Tracker) Consume(_ context.Context, t models.Tick) error {
	if tr.TryReplace(t) {
		tr.log.Info("tracked row replaced", applogger.Time("timestamp", t.Timestamp))
	}
	return nil
}
