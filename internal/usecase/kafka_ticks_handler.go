package usecase

import (
	"context"
	"time"

	domrepo "FinCast/internal/domain/repository"
	"FinCast/internal/services/stream"
	pkgkafka "FinCast/pkg/kafka"

	"github.com/segmentio/kafka-go"
)

// KafkaTicksHandler decodes stream messages and hands them to a sink.
type KafkaTicksHandler struct {
	topic   string
	stage   string
	sink    TickSink
	metrics domrepo.Metrics
}

// NewKafkaTicksHandler builds a handler; stage labels its metrics
// (e.g. "buffer", "tracker", "predictor").
func NewKafkaTicksHandler(topic, stage string, sink TickSink, metrics domrepo.Metrics) *KafkaTicksHandler {
	return &KafkaTicksHandler{topic: topic, stage: stage, sink: sink, metrics: metrics}
}

func (h *KafkaTicksHandler) Topic() string { return h.topic }

func (h *KafkaTicksHandler) Handle(ctx context.Context, b []byte) error {
	t, err := stream.Decode(b)
	if err != nil {
		h.metrics.RecordError(h.stage + "_decode")
		return err
	}
	// event time to now
	h.metrics.RecordLatency(h.stage+"_e2e", time.Since(t.Timestamp).Seconds())

	start := time.Now()
	err = h.sink.Consume(ctx, t)
	h.metrics.RecordLatency(h.stage+"_consume", time.Since(start).Seconds())
	if err != nil {
		h.metrics.RecordError(h.stage + "_consume")
		return err
	}
	h.metrics.RecordTick(h.stage)
	return nil
}

// OnIdle forwards poll timeouts to sinks that care about wall-clock time.
func (h *KafkaTicksHandler) OnIdle(ctx context.Context) {
	if s, ok := h.sink.(IdleSink); ok {
		s.OnIdle(ctx)
	}
}

var (
	_ pkgkafka.MessageHandler = (*KafkaTicksHandler)(nil)
	_ pkgkafka.IdleHandler    = (*KafkaTicksHandler)(nil)
)

// StageMetricsHook times every handler attempt of one stage and counts the
// messages the consumer gave up on.
type StageMetricsHook struct {
	Stage   string
	Metrics domrepo.Metrics
}

type stageStartKey struct{}

var _ pkgkafka.ConsumerHook = StageMetricsHook{}

func (h StageMetricsHook) BeforeHandle(ctx context.Context, _ string, km kafka.Message, data []byte) (context.Context, kafka.Message, []byte, error) {
	return context.WithValue(ctx, stageStartKey{}, time.Now()), km, data, nil
}

func (h StageMetricsHook) AfterHandle(ctx context.Context, _ string, _ kafka.Message, _ []byte, _ error) {
	if start, ok := ctx.Value(stageStartKey{}).(time.Time); ok {
		h.Metrics.RecordLatency(h.Stage+"_handle", time.Since(start).Seconds())
	}
}

func (h StageMetricsHook) OnError(context.Context, string, kafka.Message, []byte, error) {
	h.Metrics.RecordError(h.Stage + "_unhandled")
}
