package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"FinCast/internal/domain/models"
	drepo "FinCast/internal/domain/repository"
	pkghttp "FinCast/pkg/http"
)

const DefaultBaseURL = "https://api.binance.us"

// Kline is one candle as returned by the klines endpoint.
type Kline struct {
	OpenTime  time.Time
	CloseTime time.Time
	Tick      models.Tick
}

// Client calls the public klines endpoint.
type Client struct {
	http    *pkghttp.Client
	baseURL string
	symbol  string
	now     func() time.Time
}

func NewClient(http *pkghttp.Client, baseURL, symbol string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		http:    http,
		baseURL: strings.TrimRight(baseURL, "/"),
		symbol:  strings.ToUpper(symbol),
		now:     time.Now,
	}
}

// Klines fetches the latest limit candles of interval, oldest first.
func (c *Client) Klines(ctx context.Context, interval string, limit int) ([]Kline, error) {
	var raw [][]json.RawMessage
	err := c.http.SendAndParse(ctx, &pkghttp.RequestOptions{
		Method: pkghttp.MethodGet,
		URL:    c.baseURL + "/api/v3/klines",
		QueryParams: map[string][]string{
			"symbol":   {c.symbol},
			"interval": {interval},
			"limit":    {strconv.Itoa(limit)},
		},
	}, &raw)
	if err != nil {
		return nil, fmt.Errorf("binance klines %s %s: %w", c.symbol, interval, err)
	}
	out := make([]Kline, 0, len(raw))
	for i, row := range raw {
		k, err := parseKline(row)
		if err != nil {
			return nil, fmt.Errorf("binance kline %d: %w", i, err)
		}
		out = append(out, k)
	}
	return out, nil
}

// parseKline reads [openTime, open, high, low, close, volume, closeTime, ...].
func parseKline(row []json.RawMessage) (Kline, error) {
	if len(row) < 7 {
		return Kline{}, fmt.Errorf("want at least 7 fields, got %d", len(row))
	}
	var openMs, closeMs int64
	if err := json.Unmarshal(row[0], &openMs); err != nil {
		return Kline{}, fmt.Errorf("open time: %w", err)
	}
	if err := json.Unmarshal(row[6], &closeMs); err != nil {
		return Kline{}, fmt.Errorf("close time: %w", err)
	}
	k := Kline{
		OpenTime:  time.UnixMilli(openMs).UTC(),
		CloseTime: time.UnixMilli(closeMs).UTC(),
	}
	k.Tick.Timestamp = k.OpenTime
	for i, t := range models.Targets {
		var s string
		if err := json.Unmarshal(row[i+1], &s); err != nil {
			return Kline{}, fmt.Errorf("%s: %w", t, err)
		}
		v, err := parsePrice(s)
		if err != nil {
			return Kline{}, fmt.Errorf("%s: %w", t, err)
		}
		k.Tick = k.Tick.Set(t, v)
	}
	return k, nil
}

func parsePrice(s string) (float64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, err
	}
	f, _ := d.Float64()
	return f, nil
}

// RESTSource is the default tick source: the latest 1m candle per fetch.
type RESTSource struct {
	client *Client
}

var _ drepo.TickSource = (*RESTSource)(nil)

func NewRESTSource(c *Client) *RESTSource { return &RESTSource{client: c} }

func (s *RESTSource) Fetch(ctx context.Context) (models.Tick, error) {
	ks, err := s.client.Klines(ctx, "1m", 1)
	if err != nil {
		return models.Tick{}, err
	}
	if len(ks) == 0 {
		return models.Tick{}, fmt.Errorf("binance returned no klines")
	}
	return ks[len(ks)-1].Tick, nil
}

func (s *RESTSource) Close() error { return nil }

// KlineHistory serves closed daily candles straight from the exchange.
type KlineHistory struct {
	client   *Client
	interval string
}

var _ drepo.HistorySource = (*KlineHistory)(nil)

func NewKlineHistory(c *Client, interval string) *KlineHistory {
	if interval == "" {
		interval = "1d"
	}
	return &KlineHistory{client: c, interval: interval}
}

// maxKlineRows leaves room for the open candle within the endpoint's limit of 1000.
const maxKlineRows = 999

// LatestN returns up to n closed candles; the still-open candle is dropped.
// Larger n is clamped to the most the endpoint serves in one call.
func (h *KlineHistory) LatestN(ctx context.Context, n int) ([]models.Tick, error) {
	if n <= 0 {
		return nil, fmt.Errorf("n must be positive, got %d", n)
	}
	if n > maxKlineRows {
		n = maxKlineRows
	}
	ks, err := h.client.Klines(ctx, h.interval, n+1)
	if err != nil {
		return nil, err
	}
	now := h.client.now()
	out := make([]models.Tick, 0, len(ks))
	for _, k := range ks {
		if k.CloseTime.After(now) {
			continue
		}
		out = append(out, k.Tick)
	}
	if len(out) > n {
		out = out[len(out)-n:]
	}
	return out, nil
}
