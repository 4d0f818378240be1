package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"FinCast/internal/domain/models"
	domrepo "FinCast/internal/domain/repository"
	applogger "FinCast/pkg/logger"
)

// Checkpointer buffers ticks in memory and, once the interval has elapsed,
// merges them into the durable table: load, append, rewrite. Rows are kept
// in arrival order and never deduplicated.
type Checkpointer struct {
	mu       sync.Mutex
	store    domrepo.TableStore
	metrics  domrepo.Metrics
	log      *applogger.Logger
	interval time.Duration
	now      func() time.Time

	buf  []models.Tick
	next time.Time
}

// NewCheckpointer creates a Checkpointer whose first flush is due one
// interval from now.
func NewCheckpointer(store domrepo.TableStore, metrics domrepo.Metrics, log *applogger.Logger, interval time.Duration) *Checkpointer {
	return newCheckpointer(store, metrics, log, interval, time.Now)
}

func newCheckpointer(store domrepo.TableStore, metrics domrepo.Metrics, log *applogger.Logger, interval time.Duration, now func() time.Time) *Checkpointer {
	return &Checkpointer{
		store:    store,
		metrics:  metrics,
		log:      log.With(applogger.String("table", store.Path())),
		interval: interval,
		now:      now,
		next:     now().Add(interval),
	}
}

// Consume appends t and flushes if the trigger time has passed. Flush
// errors are logged and absorbed; the batch stays buffered for the next try.
func (c *Checkpointer) Consume(ctx context.Context, t models.Tick) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.buf = append(c.buf, t)
	c.metrics.RecordBufferSize(len(c.buf))
	c.maybeFlushLocked(ctx)
	return nil
}

// OnIdle checks the trigger without a new tick.
func (c *Checkpointer) OnIdle(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.maybeFlushLocked(ctx)
}

func (c *Checkpointer) maybeFlushLocked(ctx context.Context) {
	if c.now().Before(c.next) {
		return
	}
	_ = c.flushLocked(ctx)
}

// Flush merges the buffer into the table now, regardless of the trigger.
// An empty buffer still writes the table, producing a header-only file
// when none exists.
func (c *Checkpointer) Flush(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.flushLocked(ctx)
}

func (c *Checkpointer) flushLocked(ctx context.Context) error {
	start := time.Now()
	existing, err := c.store.Load(ctx)
	if err != nil {
		c.fail("load", err)
		return fmt.Errorf("load table: %w", err)
	}
	merged := make([]models.Tick, 0, len(existing)+len(c.buf))
	merged = append(merged, existing...)
	merged = append(merged, c.buf...)
	if err := c.store.Save(ctx, merged); err != nil {
		c.fail("save", err)
		return fmt.Errorf("save table: %w", err)
	}

	c.log.Info("checkpoint written",
		applogger.Int("appended", len(c.buf)),
		applogger.Int("rows", len(merged)),
		applogger.Duration("took", time.Since(start)))
	c.buf = c.buf[:0]
	c.next = c.now().Add(c.interval)
	c.metrics.RecordBufferSize(0)
	c.metrics.RecordLatency("checkpoint", time.Since(start).Seconds())
	return nil
}

func (c *Checkpointer) fail(op string, err error) {
	c.metrics.RecordError("checkpoint_" + op)
	c.log.Error("checkpoint failed, keeping buffer",
		applogger.String("op", op),
		applogger.Int("buffered", len(c.buf)),
		applogger.Error(err))
}

// Pending returns the number of buffered ticks.
func (c *Checkpointer) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.buf)
}

// Close attempts a final flush of anything still buffered.
func (c *Checkpointer) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.buf) == 0 {
		return nil
	}
	return c.flushLocked(ctx)
}

var _ IdleSink = (*Checkpointer)(nil)
