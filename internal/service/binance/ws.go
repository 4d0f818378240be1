package binance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"FinCast/internal/domain/models"
	drepo "FinCast/internal/domain/repository"
	applogger "FinCast/pkg/logger"
)

const DefaultStreamURL = "wss://stream.binance.us:9443/ws"

// ErrNoCandle means the stream has not delivered a usable candle yet.
var ErrNoCandle = errors.New("no candle received")

// StreamSource subscribes to the kline stream and caches the most recent
// candle. Fetch never blocks on the network.
type StreamSource struct {
	url            string
	reconnectDelay time.Duration
	pingInterval   time.Duration
	maxAge         time.Duration
	log            *applogger.Logger

	mu       sync.RWMutex
	latest   models.Tick
	received time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

var _ drepo.TickSource = (*StreamSource)(nil)

// NewStreamSource builds a source for symbol's 1m klines. maxAge bounds how
// old the cached candle may be before Fetch reports it stale.
func NewStreamSource(baseURL, symbol string, reconnectDelay, pingInterval, maxAge time.Duration, log *applogger.Logger) *StreamSource {
	if baseURL == "" {
		baseURL = DefaultStreamURL
	}
	return &StreamSource{
		url:            fmt.Sprintf("%s/%s@kline_1m", strings.TrimRight(baseURL, "/"), strings.ToLower(symbol)),
		reconnectDelay: reconnectDelay,
		pingInterval:   pingInterval,
		maxAge:         maxAge,
		log:            log,
	}
}

type wsKlineEvent struct {
	Event string `json:"e"`
	Kline struct {
		Start  int64  `json:"t"`
		Open   string `json:"o"`
		High   string `json:"h"`
		Low    string `json:"l"`
		Close  string `json:"c"`
		Closed bool   `json:"x"`
	} `json:"k"`
}

// Start runs the read loop until ctx is done or Close is called,
// reconnecting after errors.
func (s *StreamSource) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go func() {
		defer close(s.done)
		for {
			err := s.session(ctx)
			if ctx.Err() != nil {
				return
			}
			s.log.Warn("binance stream disconnected", applogger.String("url", s.url), applogger.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.reconnectDelay):
			}
		}
	}()
}

func (s *StreamSource) session(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("binance connect: %w", err)
	}
	s.log.Info("binance stream connected", applogger.String("url", s.url))

	stop := make(chan struct{})
	defer func() {
		close(stop)
		_ = conn.Close()
	}()

	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-stop:
		}
	}()

	if s.pingInterval > 0 {
		go func() {
			ticker := time.NewTicker(s.pingInterval)
			defer ticker.Stop()
			for {
				select {
				case <-stop:
					return
				case <-ticker.C:
					_ = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
				}
			}
		}()
	}

	for {
		_, b, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("binance read: %w", err)
		}
		t, ok, err := parseStreamKline(b)
		if err != nil {
			s.log.Debug("binance stream: skip frame", applogger.Error(err))
			continue
		}
		if !ok {
			continue
		}
		s.mu.Lock()
		s.latest = t
		s.received = time.Now()
		s.mu.Unlock()
	}
}

func parseStreamKline(b []byte) (models.Tick, bool, error) {
	var ev wsKlineEvent
	if err := json.Unmarshal(b, &ev); err != nil {
		return models.Tick{}, false, err
	}
	if ev.Event != "kline" {
		return models.Tick{}, false, nil
	}
	t := models.Tick{Timestamp: time.UnixMilli(ev.Kline.Start).UTC()}
	for target, s := range map[models.Target]string{
		models.Open: ev.Kline.Open, models.High: ev.Kline.High,
		models.Low: ev.Kline.Low, models.Close: ev.Kline.Close,
	} {
		v, err := parsePrice(s)
		if err != nil {
			return models.Tick{}, false, fmt.Errorf("%s: %w", target, err)
		}
		t = t.Set(target, v)
	}
	return t, true, nil
}

// Fetch returns the cached candle.
func (s *StreamSource) Fetch(_ context.Context) (models.Tick, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.received.IsZero() {
		return models.Tick{}, ErrNoCandle
	}
	if s.maxAge > 0 && time.Since(s.received) > s.maxAge {
		return models.Tick{}, fmt.Errorf("%w: last update %s ago", ErrNoCandle, time.Since(s.received).Round(time.Second))
	}
	return s.latest, nil
}

// Close stops the read loop and waits for it.
func (s *StreamSource) Close() error {
	if s.cancel == nil {
		return nil
	}
	s.cancel()
	<-s.done
	return nil
}
