package kafka

import (
	"context"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProducerPublishEncodesValues(t *testing.T) {
	w := &fakeWriter{}
	p := NewProducerWithWriter(w, "gzip")

	require.NoError(t, p.Publish(context.Background(), "ticks", []byte("k"), []byte("raw")))
	require.NoError(t, p.Publish(context.Background(), "ticks", nil, "text"))
	require.NoError(t, p.Publish(context.Background(), "ticks", nil, map[string]int{"a": 1}))

	require.Equal(t, 3, w.count())
	assert.Equal(t, "raw", string(w.msgs[0].Value))
	assert.Equal(t, "k", string(w.msgs[0].Key))
	assert.Equal(t, "text", string(w.msgs[1].Value))
	assert.JSONEq(t, `{"a":1}`, string(w.msgs[2].Value))
	assert.Equal(t, "ticks", w.msgs[2].Topic)
}

func TestNewProducerRequiresBrokers(t *testing.T) {
	_, err := NewProducer()
	assert.Error(t, err)

	p, err := NewProducer(WithBrokers([]string{"localhost:9092"}), WithCompletion(nil))
	require.NoError(t, err)
	w, ok := p.writer.(*kafka.Writer)
	require.True(t, ok)
	assert.IsType(t, &kafka.Hash{}, w.Balancer, "ticks keyed by symbol must map to one partition")
	assert.NoError(t, p.Close())
	assert.NoError(t, p.Close(), "second close is a no-op")
}
