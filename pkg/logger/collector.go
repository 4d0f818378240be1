package logger

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// Publisher ships aggregated error batches somewhere (a Kafka topic in production).
type Publisher interface {
	Publish(ctx context.Context, topic string, key []byte, value interface{}) error
}

type CollectorConfig struct {
	Interval  time.Duration // flush cadence
	MaxUnique int           // flush early once this many distinct errors are pending
	Topic     string
	Publisher Publisher
}

// AggregatedError is one distinct error line with its repeat count.
type AggregatedError struct {
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields"`
	Caller    string                 `json:"caller"`
	Count     int                    `json:"count"`
	FirstSeen time.Time              `json:"first_seen"`
	LastSeen  time.Time              `json:"last_seen"`
}

// ErrorCollector folds repeated error lines (a publisher failing every
// cycle, say) into one counted entry per interval.
type ErrorCollector struct {
	cfg     *CollectorConfig
	mu      sync.Mutex
	pending map[string]*AggregatedError
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewErrorCollector(cfg *CollectorConfig) *ErrorCollector {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.MaxUnique <= 0 {
		cfg.MaxUnique = 100
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &ErrorCollector{
		cfg:     cfg,
		pending: make(map[string]*AggregatedError),
		cancel:  cancel,
	}
	c.wg.Add(1)
	go c.loop(ctx)
	return c
}

func (c *ErrorCollector) Add(level, msg string, fields map[string]interface{}, caller string) {
	now := time.Now()
	key := fingerprint(level, msg, fields, caller)

	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.pending[key]; ok {
		e.Count++
		e.LastSeen = now
	} else {
		c.pending[key] = &AggregatedError{
			Level:     level,
			Message:   msg,
			Fields:    fields,
			Caller:    caller,
			Count:     1,
			FirstSeen: now,
			LastSeen:  now,
		}
	}
	if len(c.pending) >= c.cfg.MaxUnique {
		c.flushLocked()
	}
}

// Pending reports how many distinct entries wait for the next flush.
func (c *ErrorCollector) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *ErrorCollector) loop(ctx context.Context) {
	defer c.wg.Done()
	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.mu.Lock()
			c.flushLocked()
			c.mu.Unlock()
		case <-ctx.Done():
			c.mu.Lock()
			c.flushLocked()
			c.mu.Unlock()
			return
		}
	}
}

func (c *ErrorCollector) flushLocked() {
	if len(c.pending) == 0 {
		return
	}
	batch := make([]AggregatedError, 0, len(c.pending))
	for _, e := range c.pending {
		batch = append(batch, *e)
	}
	c.pending = make(map[string]*AggregatedError)

	if c.cfg.Publisher == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := c.cfg.Publisher.Publish(ctx, c.cfg.Topic, nil, batch); err != nil {
			fmt.Fprintf(os.Stderr, "error collector: publish failed: %v\n", err)
		}
	}()
}

func (c *ErrorCollector) Close() {
	c.cancel()
	c.wg.Wait()
}

func fingerprint(level, msg string, fields map[string]interface{}, caller string) string {
	b, _ := json.Marshal(struct {
		L string                 `json:"l"`
		M string                 `json:"m"`
		F map[string]interface{} `json:"f"`
		C string                 `json:"c"`
	}{level, msg, fields, caller})
	sum := sha256.Sum256(b)
	return fmt.Sprintf("%x", sum)
}
