package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewWith(reg)

	r.RecordTick("published")
	r.RecordTick("published")
	r.RecordError("fetch")
	r.RecordLastPrice(67000.5)
	r.RecordBufferSize(12)
	r.RecordLatency("forecast", 0.02)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.ticks.WithLabelValues("published")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.errorsTot.WithLabelValues("fetch")))
	assert.Equal(t, 67000.5, testutil.ToFloat64(r.lastPrice))
	assert.Equal(t, 12.0, testutil.ToFloat64(r.bufferSize))
	assert.Equal(t, 1, testutil.CollectAndCount(r.latency))
}
