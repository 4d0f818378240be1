package repository

import (
	"context"

	"FinCast/internal/domain/models"
	"FinCast/internal/domain/repository"
	"FinCast/internal/services/stream"
	pkgkafka "FinCast/pkg/kafka"
)

// TopicPublisher is the producer surface KafkaPublisher needs.
type TopicPublisher interface {
	Publish(ctx context.Context, topic string, key []byte, value interface{}) error
	Close() error
}

// KafkaPublisher writes ticks to the stream topic in the wire format.
type KafkaPublisher struct {
	producer TopicPublisher
	topic    string
	key      []byte
}

var _ TopicPublisher = (*pkgkafka.Producer)(nil)

// NewKafkaPublisher creates Kafka publisher. key is the message key
// (the symbol), so every tick lands on the same partition.
func NewKafkaPublisher(producer TopicPublisher, topic, key string) repository.Publisher {
	return &KafkaPublisher{producer: producer, topic: topic, key: []byte(key)}
}

func (p *KafkaPublisher) Publish(ctx context.Context, t models.Tick) error {
	b, err := stream.Encode(t)
	if err != nil {
		return err
	}
	return p.producer.Publish(ctx, p.topic, p.key, b)
}

func (p *KafkaPublisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}
