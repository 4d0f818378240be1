package usecase

import (
	"context"
	"fmt"
	"time"

	domrepo "FinCast/internal/domain/repository"
	applogger "FinCast/pkg/logger"
)

// Publisher fetches one tick per interval and publishes it to the stream.
// A failed cycle is logged and skipped; the loop only ends with ctx.
type Publisher struct {
	source   domrepo.TickSource
	pub      domrepo.Publisher
	metrics  domrepo.Metrics
	log      *applogger.Logger
	interval time.Duration
	timeout  time.Duration
}

// NewPublisher creates a Publisher. timeout bounds one fetch+publish cycle
// and defaults to the interval.
func NewPublisher(source domrepo.TickSource, pub domrepo.Publisher, metrics domrepo.Metrics, log *applogger.Logger, interval, timeout time.Duration) *Publisher {
	if timeout <= 0 || timeout > interval {
		timeout = interval
	}
	return &Publisher{
		source:   source,
		pub:      pub,
		metrics:  metrics,
		log:      log,
		interval: interval,
		timeout:  timeout,
	}
}

// Run publishes immediately, then once per interval until ctx is done.
func (p *Publisher) Run(ctx context.Context) error {
	if p.interval <= 0 {
		return fmt.Errorf("publish interval must be positive, got %s", p.interval)
	}
	p.log.Info("publisher started", applogger.Duration("interval", p.interval))
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		_ = p.Cycle(ctx)
		select {
		case <-ctx.Done():
			p.log.Info("publisher stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Cycle performs one fetch and publish.
func (p *Publisher) Cycle(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in publish cycle: %v", r)
			p.metrics.RecordError("publish_panic")
			p.log.Error("publish cycle panicked", applogger.Error(err))
		}
	}()

	cctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	start := time.Now()

	t, err := p.source.Fetch(cctx)
	if err != nil {
		p.metrics.RecordError("fetch")
		p.log.Warn("fetch failed, skipping cycle", applogger.Error(err))
		return err
	}
	p.metrics.RecordTick("fetched")
	p.metrics.RecordLastPrice(t.Close)

	if err := p.pub.Publish(cctx, t); err != nil {
		p.metrics.RecordError("publish")
		p.log.Warn("publish failed, skipping cycle",
			applogger.Time("timestamp", t.Timestamp),
			applogger.Error(err))
		return err
	}
	p.metrics.RecordTick("published")
	p.metrics.RecordLatency("publish_cycle", time.Since(start).Seconds())
	p.log.Debug("tick published",
		applogger.Time("timestamp", t.Timestamp),
		applogger.Float64("close", t.Close))
	return nil
}

// Close releases the source and the stream writer.
func (p *Publisher) Close() error {
	var first error
	if err := p.source.Close(); err != nil {
		first = err
	}
	if err := p.pub.Close(); err != nil && first == nil {
		first = err
	}
	return first
}
