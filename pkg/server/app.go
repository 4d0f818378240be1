package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"FinCast/internal/service/binance"
	"FinCast/internal/usecase"
	"FinCast/pkg/config"
	xhttp "FinCast/pkg/http"
	pkgkafka "FinCast/pkg/kafka"
	applogger "FinCast/pkg/logger"
)

// App encapsulates the entire application lifecycle.
type App struct {
	cfg          *config.Config
	log          *applogger.Logger
	publisher    *usecase.Publisher
	stream       *binance.StreamSource
	consumers    []*pkgkafka.Consumer
	checkpointer *usecase.Checkpointer
	httpServer   *xhttp.Server

	wg sync.WaitGroup
}

type Option func(*App)

func WithPublisher(p *usecase.Publisher) Option { return func(a *App) { a.publisher = p } }

// WithStream runs the websocket source's connection loop alongside the publisher.
func WithStream(s *binance.StreamSource) Option { return func(a *App) { a.stream = s } }

func WithConsumers(cs ...*pkgkafka.Consumer) Option {
	return func(a *App) { a.consumers = append(a.consumers, cs...) }
}

// WithCheckpointer makes shutdown flush the pending buffer after the
// consumers have stopped.
func WithCheckpointer(c *usecase.Checkpointer) Option { return func(a *App) { a.checkpointer = c } }

func WithHTTPServer(s *xhttp.Server) Option { return func(a *App) { a.httpServer = s } }

// New creates a new App instance with all dependencies.
func New(cfg *config.Config, l *applogger.Logger, opts ...Option) *App {
	a := &App{cfg: cfg, log: l}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run starts every configured component and blocks until ctx is cancelled
// or the HTTP listener fails, then shuts down.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if a.stream != nil {
		a.stream.Start(ctx)
	}

	if a.publisher != nil {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			if err := a.publisher.Run(ctx); err != nil {
				a.log.Error("publisher error", applogger.Error(err))
			}
		}()
	}

	for _, c := range a.consumers {
		if err := c.Start(); err != nil {
			cancel()
			_ = a.shutdown()
			return fmt.Errorf("start consumer %s: %w", c.GroupID(), err)
		}
		a.log.Info("kafka consumer started", applogger.String("group", c.GroupID()))
	}

	var httpErr <-chan error
	if a.httpServer != nil {
		if err := a.httpServer.Start(); err != nil {
			cancel()
			_ = a.shutdown()
			return fmt.Errorf("start http server: %w", err)
		}
		httpErr = a.httpServer.Err()
	}

	var runErr error
	select {
	case <-ctx.Done():
		a.log.Info("shutdown signal received")
	case err := <-httpErr:
		runErr = err
	}
	cancel()
	if err := a.shutdown(); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// shutdown stops the API first, then the consumers, flushes the buffer and
// finally waits for the publisher and stream loops.
func (a *App) shutdown() error {
	timeout := a.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var errs []error
	if a.httpServer != nil {
		if err := a.httpServer.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	for _, c := range a.consumers {
		if err := c.Stop(ctx); err != nil {
			a.log.Warn("kafka consumer stop error", applogger.String("group", c.GroupID()), applogger.Error(err))
			errs = append(errs, err)
		}
	}
	if a.checkpointer != nil {
		if err := a.checkpointer.Close(ctx); err != nil {
			a.log.Error("final checkpoint failed", applogger.Error(err))
			errs = append(errs, err)
		}
	}

	a.wg.Wait()
	if a.publisher != nil {
		// closes the tick source (and the stream) plus the producer
		if err := a.publisher.Close(); err != nil {
			a.log.Warn("publisher close error", applogger.Error(err))
		}
	} else if a.stream != nil {
		_ = a.stream.Close()
	}

	a.log.Info("shutdown complete")
	return errors.Join(errs...)
}
