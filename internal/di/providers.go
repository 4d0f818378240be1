package di

import (
	"context"
	"fmt"
	"time"

	domrepo "FinCast/internal/domain/repository"
	domsvc "FinCast/internal/domain/service"
	"FinCast/internal/handler/api"
	"FinCast/internal/middleware"
	internalrepo "FinCast/internal/repository"
	"FinCast/internal/service/binance"
	icache "FinCast/internal/service/cache"
	"FinCast/internal/service/ratelimit"
	"FinCast/internal/services/model"
	"FinCast/internal/usecase"
	pkgch "FinCast/pkg/clickhouse"
	"FinCast/pkg/config"
	xhttp "FinCast/pkg/http"
	pkgkafka "FinCast/pkg/kafka"
	applogger "FinCast/pkg/logger"
	"FinCast/pkg/metrics"
	"FinCast/pkg/server"

	"github.com/segmentio/kafka-go"
)

// LoadedModels is the model set read from the artifacts directory and the
// lag depth it was trained with. Lags is zero when no artifact was found.
type LoadedModels struct {
	Set  domsvc.ModelSet
	Lags int
}

// Consumers holds one consumer per enabled stream listener group.
type Consumers []*pkgkafka.Consumer

// ProvideLogger builds the process logger and, when log.error_topic is set,
// ships aggregated error lines through the producer.
func ProvideLogger(cfg *config.Config, producer *pkgkafka.Producer) (*applogger.Logger, func(), error) {
	l, err := applogger.New(&applogger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("logger: %w", err)
	}
	l = l.With(applogger.String("env", cfg.Environment))
	if cfg.Log.ErrorTopic == "" {
		return l, func() {}, nil
	}
	l.AttachCollector(&applogger.CollectorConfig{
		Interval:  cfg.Log.ErrorInterval,
		Topic:     cfg.Log.ErrorTopic,
		Publisher: producer,
	})
	return l, l.DetachCollector, nil
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() domrepo.Metrics {
	return metrics.New()
}

// ProvideKafkaProducer creates a Kafka producer. Delivery reports only feed
// metrics.
func ProvideKafkaProducer(cfg *config.Config, m domrepo.Metrics) (*pkgkafka.Producer, func(), error) {
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithCompletion(func(msgs []kafka.Message, err error) {
			if err != nil {
				m.RecordError("delivery")
				return
			}
			for range msgs {
				m.RecordTick("delivered")
			}
		}),
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatch(cfg.Kafka.Producer.BatchSize, cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, func() { _ = producer.Close() }, nil
}

// ProvideTickPublisher writes validated ticks to the stream topic keyed by symbol.
func ProvideTickPublisher(producer *pkgkafka.Producer, m domrepo.Metrics, cfg *config.Config) domrepo.Publisher {
	kp := internalrepo.NewKafkaPublisher(producer, cfg.Kafka.Topic, cfg.Source.Symbol)
	return middleware.NewTickGuard(kp, m, middleware.WithBacklog(cfg.Publisher.Backlog))
}

// ProvideBinanceClient creates the REST klines client.
func ProvideBinanceClient(cfg *config.Config) *binance.Client {
	hc := xhttp.NewClient(xhttp.WithTimeout(cfg.Source.Timeout), xhttp.WithUserAgent(cfg.Source.UserAgent))
	return binance.NewClient(hc, cfg.Source.BaseURL, cfg.Source.Symbol)
}

// ProvideStreamSource creates the websocket source when source.kind is ws.
func ProvideStreamSource(cfg *config.Config, l *applogger.Logger) *binance.StreamSource {
	if cfg.Source.Kind != "ws" {
		return nil
	}
	return binance.NewStreamSource(cfg.Source.StreamURL, cfg.Source.Symbol,
		cfg.Source.ReconnectDelay, cfg.Source.PingInterval, cfg.Source.MaxAge,
		l.With(applogger.String("component", "binance_ws")))
}

// ProvideTickSource picks the tick source for the publisher loop.
func ProvideTickSource(client *binance.Client, stream *binance.StreamSource) domrepo.TickSource {
	if stream != nil {
		return stream
	}
	return binance.NewRESTSource(client)
}

// ProvidePublisher creates the fetch-and-publish loop, or nil when disabled.
func ProvidePublisher(
	cfg *config.Config,
	source domrepo.TickSource,
	pub domrepo.Publisher,
	m domrepo.Metrics,
	l *applogger.Logger,
) *usecase.Publisher {
	if !cfg.Components.Publisher {
		return nil
	}
	return usecase.NewPublisher(source, pub, m, l.With(applogger.String("component", "publisher")),
		cfg.Publisher.Interval, cfg.Publisher.Timeout)
}

// ProvideTableStore opens the durable tick table.
func ProvideTableStore(cfg *config.Config) (domrepo.TableStore, error) {
	layout, err := internalrepo.ParseLayout(cfg.Buffer.Layout)
	if err != nil {
		return nil, fmt.Errorf("buffer layout: %w", err)
	}
	return internalrepo.NewTableStore(cfg.Buffer.Path, layout), nil
}

// ProvideCheckpointer creates the windowed buffer, or nil when disabled.
func ProvideCheckpointer(cfg *config.Config, store domrepo.TableStore, m domrepo.Metrics, l *applogger.Logger) *usecase.Checkpointer {
	if !cfg.Components.Buffer {
		return nil
	}
	return usecase.NewCheckpointer(store, m, l.With(applogger.String("component", "buffer")), cfg.Buffer.Interval)
}

// ProvideTracker creates the latest-row tracker, or nil when disabled.
func ProvideTracker(cfg *config.Config, l *applogger.Logger) *usecase.Tracker {
	if !cfg.Components.Tracker {
		return nil
	}
	return usecase.NewTracker(cfg.Tracker.Width, l.With(applogger.String("component", "tracker")))
}

// ProvideModels loads the per-target artifacts. A missing directory leaves
// the set empty; forecasts then answer ErrModelUnavailable.
func ProvideModels(cfg *config.Config, l *applogger.Logger) (LoadedModels, error) {
	set, lags, err := model.LoadDir(cfg.Forecast.ModelsDir)
	if err != nil {
		return LoadedModels{}, fmt.Errorf("load models: %w", err)
	}
	if lags == 0 {
		l.Warn("no model artifacts found", applogger.String("dir", cfg.Forecast.ModelsDir))
	} else {
		l.Info("models loaded", applogger.String("dir", cfg.Forecast.ModelsDir),
			applogger.Int("targets", len(set)), applogger.Int("lags", lags))
	}
	return LoadedModels{Set: set, Lags: lags}, nil
}

// ProvidePredictor creates the realtime predictor, or nil when disabled or
// no model is loaded.
func ProvidePredictor(cfg *config.Config, lm LoadedModels, m domrepo.Metrics, l *applogger.Logger) *usecase.RealtimePredictor {
	if !cfg.Components.Predictor || lm.Lags == 0 {
		return nil
	}
	// the stream carries minute ticks
	return usecase.NewRealtimePredictor(lm.Set, lm.Lags, time.Minute, m, l.With(applogger.String("component", "predictor")))
}

// ProvideClickHouseClient connects only when ClickHouse serves forecast history.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, func(), error) {
	if cfg.Forecast.History != "clickhouse" {
		return nil, func() {}, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ClickHouse.DialTimeout+5*time.Second)
	defer cancel()
	client, err := pkgch.NewClient(ctx,
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(4, 2),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("clickhouse client: %w", err)
	}
	return client, func() { _ = client.Close() }, nil
}

// ProvideHistorySource selects where forecasts read real rows from.
func ProvideHistorySource(
	cfg *config.Config,
	store domrepo.TableStore,
	ch *pkgch.Client,
	client *binance.Client,
	l *applogger.Logger,
) (domrepo.HistorySource, error) {
	switch cfg.Forecast.History {
	case "table":
		return internalrepo.NewTableHistory(store, cfg.Forecast.ResampleWidth), nil
	case "csv":
		return internalrepo.NewTableHistory(
			internalrepo.NewTableStore(cfg.Forecast.HistoryPath, internalrepo.LayoutCandles), 0), nil
	case "clickhouse":
		return internalrepo.NewCHHistory(ch, cfg.Forecast.ClickHouseTable, l)
	case "binance":
		tf := domrepo.Timeframe(cfg.Forecast.KlineInterval)
		width, err := tf.Duration()
		if err != nil {
			return nil, err
		}
		if width != cfg.Forecast.Step {
			l.Warn("kline interval differs from forecast step",
				applogger.String("interval", string(tf)),
				applogger.Duration("step", cfg.Forecast.Step))
		}
		return binance.NewKlineHistory(client, string(tf)), nil
	default:
		return nil, fmt.Errorf("unknown history source %q", cfg.Forecast.History)
	}
}

// ProvideCache returns the forecast response cache.
func ProvideCache(cfg *config.Config) (icache.BytesCache, func(), error) {
	if cfg.Cache.Kind != "redis" {
		return icache.NewTTLCache(), func() {}, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	rc, err := icache.NewRedisCache(ctx, icache.RedisConfig{
		Addr:     cfg.Cache.Addr,
		Password: cfg.Cache.Password,
		DB:       cfg.Cache.DB,
		Prefix:   cfg.Cache.Prefix,
	})
	if err != nil {
		return nil, nil, err
	}
	return rc, func() { _ = rc.Close() }, nil
}

func ProvideForecastUseCase(
	cfg *config.Config,
	history domrepo.HistorySource,
	lm LoadedModels,
	c icache.BytesCache,
	m domrepo.Metrics,
	l *applogger.Logger,
) *usecase.ForecastUseCase {
	return usecase.NewForecastUseCase(history, lm.Set, c, m, l.With(applogger.String("component", "forecast")),
		usecase.ForecastConfig{
			Lags:     lm.Lags,
			Step:     cfg.Forecast.Step,
			CacheTTL: cfg.Forecast.CacheTTL,
			Timeout:  cfg.Forecast.Timeout,
		})
}

func ProvideHistoryUseCase(history domrepo.HistorySource) *usecase.HistoryUseCase {
	return usecase.NewHistoryUseCase(history)
}

// ProvideConsumers builds one consumer group per enabled listener.
func ProvideConsumers(
	cfg *config.Config,
	m domrepo.Metrics,
	l *applogger.Logger,
	cp *usecase.Checkpointer,
	tr *usecase.Tracker,
	pr *usecase.RealtimePredictor,
) (Consumers, error) {
	type listener struct {
		group config.Group
		stage string
		sink  usecase.TickSink
	}
	var ls []listener
	if cp != nil {
		ls = append(ls, listener{cfg.Kafka.Groups.Buffer, "buffer", cp})
	}
	if tr != nil {
		ls = append(ls, listener{cfg.Kafka.Groups.Tracker, "tracker", tr})
	}
	if pr != nil {
		ls = append(ls, listener{cfg.Kafka.Groups.Predictor, "predictor", pr})
	}

	out := make(Consumers, 0, len(ls))
	for _, li := range ls {
		c, err := pkgkafka.NewConsumer(
			pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
			pkgkafka.WithConsumerGroupID(li.group.ID),
			pkgkafka.WithConsumerAutoOffsetReset(li.group.AutoOffsetReset),
			pkgkafka.WithConsumerPollTimeout(cfg.Kafka.Consumer.PollTimeout),
			pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
			pkgkafka.WithConsumerDLQ(cfg.Kafka.Consumer.DLQTopic),
			pkgkafka.WithConsumerFetch(cfg.Kafka.Consumer.MinBytes, cfg.Kafka.Consumer.MaxBytes),
			pkgkafka.WithConsumerLogger(l),
		)
		if err != nil {
			return nil, fmt.Errorf("kafka consumer %s: %w", li.group.ID, err)
		}
		c.RegisterHandler(usecase.NewKafkaTicksHandler(cfg.Kafka.Topic, li.stage, li.sink, m))
		c.WithConsumerHook(pkgkafka.NewHookChain(
			pkgkafka.LoggingHook{Log: l.With(applogger.String("stage", li.stage))},
			usecase.StageMetricsHook{Stage: li.stage, Metrics: m},
		))
		out = append(out, c)
	}
	return out, nil
}

// ProvideHTTPServer registers the API, or returns nil when disabled.
func ProvideHTTPServer(
	cfg *config.Config,
	l *applogger.Logger,
	tr *usecase.Tracker,
	pr *usecase.RealtimePredictor,
	fc *usecase.ForecastUseCase,
	hist *usecase.HistoryUseCase,
) *xhttp.Server {
	if !cfg.Components.API {
		return nil
	}
	deps := api.HandlerDeps{
		Forecaster:     fc,
		History:        hist,
		DefaultHorizon: cfg.Forecast.Horizon,
		Step:           cfg.Forecast.Step,
	}
	// typed nils must not reach the interfaces
	if tr != nil {
		deps.Tracker = tr
	}
	if pr != nil {
		deps.Predictor = pr
	}
	if cfg.Server.RateLimit > 0 {
		deps.Limiter = ratelimit.New(cfg.Server.RateBurst, cfg.Server.RateLimit)
	}
	metricsPath := ""
	if cfg.Metrics.Enabled {
		metricsPath = cfg.Metrics.Path
	}
	h := api.NewForecastEchoHandler(l.With(applogger.String("component", "api")), deps)
	return xhttp.NewServer(h,
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithMetricsPath(metricsPath),
		xhttp.WithLogger(l.With(applogger.String("component", "http"))),
	)
}

// ProvideApp assembles the process.
func ProvideApp(
	cfg *config.Config,
	l *applogger.Logger,
	pub *usecase.Publisher,
	stream *binance.StreamSource,
	consumers Consumers,
	cp *usecase.Checkpointer,
	srv *xhttp.Server,
) *server.App {
	opts := []server.Option{server.WithConsumers(consumers...)}
	if pub != nil {
		opts = append(opts, server.WithPublisher(pub))
	}
	if stream != nil {
		opts = append(opts, server.WithStream(stream))
	}
	if cp != nil {
		opts = append(opts, server.WithCheckpointer(cp))
	}
	if srv != nil {
		opts = append(opts, server.WithHTTPServer(srv))
	}
	return server.New(cfg, l, opts...)
}
