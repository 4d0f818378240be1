package kafka

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/segmentio/kafka-go"

	applogger "FinCast/pkg/logger"
)

// ErrMalformed marks a payload that can never be handled. The consumer does
// not retry it; it is forwarded to the DLQ when one is configured and its
// offset is committed.
var ErrMalformed = errors.New("malformed message")

// MessageHandler handles messages from a specific topic.
type MessageHandler interface {
	Topic() string
	Handle(context.Context, []byte) error
}

// IdleHandler is implemented by handlers with time-based work. OnIdle runs
// on the consumer goroutine whenever a poll times out without a message.
type IdleHandler interface {
	OnIdle(context.Context)
}

// MessageReader is the subset of kafka.Reader the consumer drives.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// ReaderFactory builds the reader for one topic.
type ReaderFactory func(cfg *ConsumerConfig, topic string) MessageReader

// ConsumerOption configures Consumer.
type ConsumerOption func(*ConsumerConfig)

// ConsumerConfig holds consumer configuration.
type ConsumerConfig struct {
	Brokers         []string
	GroupID         string
	AutoOffsetReset string
	PollTimeout     time.Duration
	RetryMax        int
	BackoffMin      time.Duration
	BackoffMax      time.Duration
	DLQTopic        string
	MinBytes        int
	MaxBytes        int
	Logger          *applogger.Logger
	NewReader       ReaderFactory
	DLQWriter       MessageWriter
}

// WithConsumerBrokers sets Kafka brokers.
func WithConsumerBrokers(brokers []string) ConsumerOption {
	return func(c *ConsumerConfig) {
		c.Brokers = brokers
	}
}

// WithConsumerGroupID sets consumer group ID.
func WithConsumerGroupID(groupID string) ConsumerOption {
	return func(c *ConsumerConfig) {
		c.GroupID = groupID
	}
}

// WithConsumerAutoOffsetReset sets where a group without a committed offset
// starts: "earliest" or "latest".
func WithConsumerAutoOffsetReset(autoOffsetReset string) ConsumerOption {
	return func(c *ConsumerConfig) {
		c.AutoOffsetReset = autoOffsetReset
	}
}

// WithConsumerPollTimeout bounds each fetch so the loop notices Stop.
func WithConsumerPollTimeout(d time.Duration) ConsumerOption {
	return func(c *ConsumerConfig) {
		if d > 0 {
			c.PollTimeout = d
		}
	}
}

// WithConsumerRetry configures retry attempts and backoff range.
func WithConsumerRetry(max int, backoffMin, backoffMax time.Duration) ConsumerOption {
	return func(c *ConsumerConfig) {
		c.RetryMax = max
		c.BackoffMin = backoffMin
		c.BackoffMax = backoffMax
	}
}

// WithConsumerDLQ sets a Kafka topic name for DLQ.
func WithConsumerDLQ(topic string) ConsumerOption {
	return func(c *ConsumerConfig) {
		c.DLQTopic = topic
	}
}

// WithConsumerFetch sets fetch min/max bytes.
func WithConsumerFetch(minBytes, maxBytes int) ConsumerOption {
	return func(c *ConsumerConfig) {
		c.MinBytes = minBytes
		c.MaxBytes = maxBytes
	}
}

// WithConsumerLogger sets the logger.
func WithConsumerLogger(l *applogger.Logger) ConsumerOption {
	return func(c *ConsumerConfig) {
		if l != nil {
			c.Logger = l
		}
	}
}

// WithConsumerReader replaces the kafka.Reader constructor, e.g. in tests.
func WithConsumerReader(f ReaderFactory) ConsumerOption {
	return func(c *ConsumerConfig) {
		c.NewReader = f
	}
}

// WithConsumerDLQWriter replaces the DLQ writer.
func WithConsumerDLQWriter(w MessageWriter) ConsumerOption {
	return func(c *ConsumerConfig) {
		c.DLQWriter = w
	}
}

// Consumer runs one consumer group. Each registered topic gets its own
// reader and goroutine; messages of a topic are handled inline, in order.
type Consumer struct {
	cfg      *ConsumerConfig
	log      *applogger.Logger
	mu       sync.Mutex
	readers  map[string]MessageReader
	handlers map[string]MessageHandler
	stopChan chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
	dlq      MessageWriter
	hook     ConsumerHook
}

// NewConsumer creates a new Kafka consumer.
func NewConsumer(opts ...ConsumerOption) (*Consumer, error) {
	cfg := &ConsumerConfig{
		GroupID:         "default",
		AutoOffsetReset: "earliest",
		PollTimeout:     time.Second,
		RetryMax:        3,
		BackoffMin:      50 * time.Millisecond,
		BackoffMax:      2 * time.Second,
		MinBytes:        1,
		MaxBytes:        10e6, // 10MB
		Logger:          applogger.Nop(),
		NewReader:       newKafkaReader,
	}

	for _, opt := range opts {
		opt(cfg)
	}

	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("brokers are required")
	}
	if cfg.GroupID == "" {
		return nil, fmt.Errorf("group id is required")
	}
	if cfg.AutoOffsetReset != "earliest" && cfg.AutoOffsetReset != "latest" {
		return nil, fmt.Errorf("auto offset reset must be earliest or latest, got %q", cfg.AutoOffsetReset)
	}

	c := &Consumer{
		cfg:      cfg,
		log:      cfg.Logger.With(applogger.String("group", cfg.GroupID)),
		readers:  make(map[string]MessageReader),
		handlers: make(map[string]MessageHandler),
		stopChan: make(chan struct{}),
		hook:     NoopHook{},
	}

	initConsumerMetricsOnce()

	if cfg.DLQTopic != "" {
		c.dlq = cfg.DLQWriter
		if c.dlq == nil {
			c.dlq = &kafka.Writer{Addr: kafka.TCP(cfg.Brokers...), Balancer: &kafka.LeastBytes{}}
		}
	}

	return c, nil
}

func newKafkaReader(cfg *ConsumerConfig, topic string) MessageReader {
	start := kafka.FirstOffset
	if cfg.AutoOffsetReset == "latest" {
		start = kafka.LastOffset
	}
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       topic,
		GroupID:     cfg.GroupID,
		StartOffset: start,
		MinBytes:    cfg.MinBytes,
		MaxBytes:    cfg.MaxBytes,
		MaxWait:     cfg.PollTimeout,
	})
}

// GroupID returns the consumer group this consumer joins.
func (c *Consumer) GroupID() string { return c.cfg.GroupID }

// RegisterHandler registers a message handler for a specific topic.
func (c *Consumer) RegisterHandler(handler MessageHandler) {
	topic := handler.Topic()
	if _, ok := c.handlers[topic]; ok {
		c.log.Warn("kafka consumer: handler already registered", applogger.String("topic", topic))
		return
	}
	c.handlers[topic] = handler
}

// WithConsumerHook sets a hook implementation for lifecycle events.
func (c *Consumer) WithConsumerHook(h ConsumerHook) {
	if h != nil {
		c.hook = h
	}
}

// Start creates the readers and starts one goroutine per topic.
func (c *Consumer) Start() error {
	if len(c.handlers) == 0 {
		return fmt.Errorf("no handlers registered for group %s", c.cfg.GroupID)
	}
	c.mu.Lock()
	for topic := range c.handlers {
		c.readers[topic] = c.cfg.NewReader(c.cfg, topic)
		c.log.Info("kafka consumer: subscribed",
			applogger.String("topic", topic),
			applogger.String("auto_offset_reset", c.cfg.AutoOffsetReset))
	}
	readers := make(map[string]MessageReader, len(c.readers))
	for topic, reader := range c.readers {
		readers[topic] = reader
	}
	c.mu.Unlock()

	for topic, reader := range readers {
		c.wg.Add(1)
		go c.consume(topic, reader, c.handlers[topic])
	}
	return nil
}

// Stop signals the loops, waits for the in-flight message, then closes readers.
func (c *Consumer) Stop(ctx context.Context) error {
	var stopErr error

	c.stopOnce.Do(func() {
		close(c.stopChan)
		stopErr = c.waitForWg(ctx)

		c.mu.Lock()
		defer c.mu.Unlock()
		for topic, reader := range c.readers {
			if err := reader.Close(); err != nil {
				c.log.Error("kafka consumer: close reader", applogger.String("topic", topic), applogger.Error(err))
			}
		}
		if c.dlq != nil {
			if err := c.dlq.Close(); err != nil {
				c.log.Error("kafka consumer: close dlq writer", applogger.Error(err))
			}
		}
		if stopErr == nil {
			c.log.Info("kafka consumer: stopped")
		}
	})

	return stopErr
}

func (c *Consumer) waitForWg(ctx context.Context) error {
	doneChan := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(doneChan)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("timeout waiting for consumer to stop: %w", ctx.Err())
	case <-doneChan:
		return nil
	}
}

func (c *Consumer) consume(topic string, reader MessageReader, handler MessageHandler) {
	defer c.wg.Done()
	idle, _ := handler.(IdleHandler)

	for {
		select {
		case <-c.stopChan:
			return
		default:
		}

		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.PollTimeout)
		msg, err := reader.FetchMessage(ctx)
		cancel()

		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				consumerIdleTotal.WithLabelValues(topic, c.cfg.GroupID).Inc()
				if idle != nil {
					c.safeIdle(topic, idle)
				}
				continue
			}
			c.log.Error("kafka consumer: fetch", applogger.String("topic", topic), applogger.Error(err))
			c.sleep(backoffWithJitter(c.cfg.BackoffMin, c.cfg.BackoffMax, 1))
			continue
		}

		if !c.process(topic, reader, handler, msg) {
			if reader = c.rejoin(topic, reader); reader == nil {
				return
			}
		}
	}
}

// rejoin replaces the reader after a message that could be neither handled
// nor parked. The new group session resumes from the last committed offset,
// so the message is fetched again instead of being passed by a later commit.
// It returns nil when the consumer is stopping.
func (c *Consumer) rejoin(topic string, old MessageReader) MessageReader {
	if err := old.Close(); err != nil {
		c.log.Warn("kafka consumer: close reader for rejoin", applogger.String("topic", topic), applogger.Error(err))
	}
	c.mu.Lock()
	delete(c.readers, topic)
	c.mu.Unlock()
	if !c.sleep(c.cfg.BackoffMax) {
		return nil
	}
	reader := c.cfg.NewReader(c.cfg, topic)
	c.mu.Lock()
	c.readers[topic] = reader
	c.mu.Unlock()
	c.log.Warn("kafka consumer: rejoined after unhandled message", applogger.String("topic", topic))
	return reader
}

func (c *Consumer) safeIdle(topic string, idle IdleHandler) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("kafka consumer: panic in idle handler", applogger.String("topic", topic), applogger.Any("panic", r))
		}
	}()
	idle.OnIdle(context.Background())
}

// process runs the handler with retries and commits the offset on success,
// on a malformed payload, or once the payload has been parked in the DLQ.
// It reports whether the offset was committed.
func (c *Consumer) process(topic string, reader MessageReader, handler MessageHandler, msg kafka.Message) bool {
	start := time.Now()
	err := c.handleWithRetry(topic, handler, msg)

	result := "ok"
	commit := err == nil
	if err != nil {
		result = "error"
		if errors.Is(err, ErrMalformed) {
			result = "malformed"
			commit = true
		}
		c.hook.OnError(context.Background(), topic, msg, msg.Value, err)
		if c.dlq != nil {
			if dlqErr := c.toDLQ(topic, msg, err); dlqErr != nil {
				c.log.Error("kafka consumer: write dlq",
					applogger.String("dlq_topic", c.cfg.DLQTopic), applogger.Error(dlqErr))
			} else {
				commit = true
			}
		}
	}

	if commit {
		_ = c.commitWithRetry(reader, msg, 3)
	}
	consumerMsgsTotal.WithLabelValues(topic, c.cfg.GroupID, result).Inc()
	consumerHandleLatency.WithLabelValues(topic, c.cfg.GroupID).Observe(time.Since(start).Seconds())
	return commit
}

func (c *Consumer) handleWithRetry(topic string, handler MessageHandler, msg kafka.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in handler: %v", r)
		}
	}()

	attempts := 0
	for {
		attempts++
		hctx, hmsg, hdata, berr := c.hook.BeforeHandle(context.Background(), topic, msg, msg.Value)
		if berr != nil {
			return berr
		}
		err = handler.Handle(hctx, hdata)
		c.hook.AfterHandle(hctx, topic, hmsg, hdata, err)
		if err == nil || errors.Is(err, ErrMalformed) || attempts > c.cfg.RetryMax {
			return err
		}
		if !c.sleep(backoffWithJitter(c.cfg.BackoffMin, c.cfg.BackoffMax, attempts)) {
			return err
		}
	}
}

func (c *Consumer) toDLQ(topic string, msg kafka.Message, cause error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return c.dlq.WriteMessages(ctx, kafka.Message{
		Topic: c.cfg.DLQTopic,
		Key:   msg.Key,
		Value: msg.Value,
		Time:  time.Now(),
		Headers: []kafka.Header{
			{Key: "source_topic", Value: []byte(topic)},
			{Key: "group_id", Value: []byte(c.cfg.GroupID)},
			{Key: "error", Value: []byte(cause.Error())},
		},
	})
}

// sleep waits d or until Stop; it reports whether the full wait elapsed.
func (c *Consumer) sleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-c.stopChan:
		return false
	}
}

// commitWithRetry commits a single message offset with bounded retries.
func (c *Consumer) commitWithRetry(reader MessageReader, km kafka.Message, max int) error {
	if max <= 0 {
		max = 1
	}
	var err error
	for attempt := 1; attempt <= max; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err = reader.CommitMessages(ctx, km)
		cancel()
		if err == nil {
			return nil
		}
		time.Sleep(backoffWithJitter(50*time.Millisecond, 500*time.Millisecond, attempt))
	}
	c.log.Error("kafka consumer: commit",
		applogger.Int("attempts", max),
		applogger.Int64("offset", km.Offset),
		applogger.Error(err))
	return err
}

func backoffWithJitter(min, max time.Duration, attempt int) time.Duration {
	if min <= 0 {
		min = 50 * time.Millisecond
	}
	if max < min {
		max = min
	}
	exp := min * time.Duration(1<<uint(attempt-1))
	if exp > max || exp <= 0 {
		exp = max
	}
	// jitter up to 50%
	half := int64(exp) / 2
	if half <= 0 {
		return exp
	}
	return exp - time.Duration(rand.Int63n(half))
}

var (
	consumerMsgsTotal     *prometheus.CounterVec
	consumerIdleTotal     *prometheus.CounterVec
	consumerHandleLatency *prometheus.HistogramVec
	consumerOnce          = make(chan struct{}, 1)
	consumerRegisterer    prometheus.Registerer
)

// SetConsumerMetricsRegisterer sets a custom Prometheus registerer for consumer metrics (useful for testing).
func SetConsumerMetricsRegisterer(reg prometheus.Registerer) { consumerRegisterer = reg }

func initConsumerMetricsOnce() {
	select {
	case consumerOnce <- struct{}{}:
		factory := promauto.With(prometheus.DefaultRegisterer)
		if consumerRegisterer != nil {
			factory = promauto.With(consumerRegisterer)
		}
		consumerMsgsTotal = factory.NewCounterVec(
			prometheus.CounterOpts{Name: "fincast_kafka_consumer_messages_total", Help: "Messages handled by result"},
			[]string{"topic", "group", "result"},
		)
		consumerIdleTotal = factory.NewCounterVec(
			prometheus.CounterOpts{Name: "fincast_kafka_consumer_idle_polls_total", Help: "Polls that timed out without a message"},
			[]string{"topic", "group"},
		)
		consumerHandleLatency = factory.NewHistogramVec(
			prometheus.HistogramOpts{Name: "fincast_kafka_consumer_handle_seconds", Help: "Handling time per message"},
			[]string{"topic", "group"},
		)
	default:
		// already initialized
	}
}
