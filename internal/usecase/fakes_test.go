package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	"FinCast/internal/domain/models"
	domsvc "FinCast/internal/domain/service"
	"FinCast/internal/services/features"
)

type nopMetrics struct {
	mu     sync.Mutex
	errors  map[string]int
	ticks   map[string]int
	latency map[string]int
}

func newMetrics() *nopMetrics {
	return &nopMetrics{errors: map[string]int{}, ticks: map[string]int{}, latency: map[string]int{}}
}

func (m *nopMetrics) RecordTick(stage string) {
	m.mu.Lock()
	m.ticks[stage]++
	m.mu.Unlock()
}

func (m *nopMetrics) RecordError(kind string) {
	m.mu.Lock()
	m.errors[kind]++
	m.mu.Unlock()
}

func (m *nopMetrics) errorCount(kind string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.errors[kind]
}

func (m *nopMetrics) RecordLatency(op string, _ float64) {
	m.mu.Lock()
	m.latency[op]++
	m.mu.Unlock()
}

func (m *nopMetrics) latencyCount(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.latency[op]
}

func (m *nopMetrics) RecordLastPrice(float64) {}
func (m *nopMetrics) RecordBufferSize(int)    {}

// memTable is an in-memory TableStore. exists=false models a missing file.
type memTable struct {
	rows    []models.Tick
	exists  bool
	saveErr error
	saves   int
}

func (t *memTable) Load(context.Context) ([]models.Tick, error) {
	if !t.exists {
		return nil, nil
	}
	return append([]models.Tick(nil), t.rows...), nil
}

func (t *memTable) Save(_ context.Context, rows []models.Tick) error {
	if t.saveErr != nil {
		return t.saveErr
	}
	t.saves++
	t.exists = true
	t.rows = append([]models.Tick(nil), rows...)
	return nil
}

func (t *memTable) Path() string { return "mem.csv" }

type meanModel struct {
	target models.Target
	lags   int
}

func (m meanModel) Predict(f domsvc.LagFeatures) (float64, error) {
	sum := 0.0
	for k := 1; k <= m.lags; k++ {
		v, ok := f[features.LagKey(m.target, k)]
		if !ok {
			return 0, errors.New("missing lag")
		}
		sum += v
	}
	return sum / float64(m.lags), nil
}

func meanSet(lags int) domsvc.ModelSet {
	ms := domsvc.ModelSet{}
	for _, t := range models.Targets {
		ms[t] = meanModel{target: t, lags: lags}
	}
	return ms
}

func tickAt(ts time.Time, v float64) models.Tick {
	return models.Tick{Timestamp: ts, Open: v, High: v, Low: v, Close: v}
}

type staticHistory struct {
	rows  []models.Tick
	err   error
	calls int
}

func (h *staticHistory) LatestN(_ context.Context, n int) ([]models.Tick, error) {
	h.calls++
	if h.err != nil {
		return nil, h.err
	}
	if n >= len(h.rows) {
		return h.rows, nil
	}
	return h.rows[len(h.rows)-n:], nil
}
