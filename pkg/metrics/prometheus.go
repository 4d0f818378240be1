package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	ticks      *prometheus.CounterVec
	errorsTot  *prometheus.CounterVec
	lastPrice  prometheus.Gauge
	latency    *prometheus.HistogramVec
	bufferSize prometheus.Gauge
}

// New creates a recorder registered on the default registry.
func New() *Recorder { return NewWith(prometheus.DefaultRegisterer) }

// NewWith creates a recorder registered on reg.
func NewWith(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		ticks: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fincast_ticks_total",
				Help: "Ticks processed per pipeline stage",
			},
			[]string{"stage"},
		),
		errorsTot: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fincast_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		lastPrice: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "fincast_last_close",
				Help: "Close price of the last fetched tick",
			},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fincast_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		bufferSize: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "fincast_buffer_ticks",
				Help: "Ticks waiting for the next checkpoint",
			},
		),
	}
}

// RecordTick counts a tick passing stage.
func (r *Recorder) RecordTick(stage string) {
	r.ticks.WithLabelValues(stage).Inc()
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTot.WithLabelValues(kind).Inc()
}

func (r *Recorder) RecordLastPrice(price float64) {
	r.lastPrice.Set(price)
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

func (r *Recorder) RecordBufferSize(n int) {
	r.bufferSize.Set(float64(n))
}
