package repository

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FinCast/internal/domain/models"
)

func sampleTicks() []models.Tick {
	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	return []models.Tick{
		{Timestamp: base, Open: 67000.5, High: 67100, Low: 66900, Close: 67050.25},
		{Timestamp: base.Add(time.Minute), Open: 67050.25, High: 67200, Low: 67000, Close: 67150},
		{Timestamp: base.Add(time.Minute), Open: 67050.25, High: 67200, Low: 67000, Close: 67150},
	}
}

func TestCSVTableMissingFileIsEmpty(t *testing.T) {
	tbl := NewCSVTable(filepath.Join(t.TempDir(), "nope.csv"), LayoutTicks)
	rows, err := tbl.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestCSVTableRoundTripKeepsDuplicates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "btc.csv")
	tbl := NewCSVTable(path, LayoutTicks)
	ctx := context.Background()

	require.NoError(t, tbl.Save(ctx, sampleTicks()))
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	assert.Equal(t, "timestamp,open,high,low,close", lines[0])
	assert.Equal(t, "2024-06-01 12:00:00,67000.5,67100,66900,67050.25", lines[1])
	assert.Len(t, lines, 4)

	rows, err := tbl.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, sampleTicks(), rows)
}

func TestCSVTableHeaderOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "btc.csv")
	tbl := NewCSVTable(path, LayoutTicks)
	require.NoError(t, tbl.Save(context.Background(), nil))
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "timestamp,open,high,low,close\n", string(raw))

	rows, err := tbl.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestReadCSVCandleLayoutAndMissingValues(t *testing.T) {
	in := "Date,Open,High,Low,Close\n2024-01-01,100,110,90,105\n2024-01-02,105,,95,100\n"
	rows, err := ReadCSV(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), rows[1].Timestamp)
	assert.True(t, math.IsNaN(rows[1].High))
	assert.False(t, rows[1].Complete())

	var sb strings.Builder
	require.NoError(t, WriteCSV(&sb, LayoutCandles, rows))
	assert.Equal(t, in, sb.String())
}

func TestReadCSVRejectsBadInput(t *testing.T) {
	for name, in := range map[string]string{
		"unknown header": "a,b,c,d,e\n",
		"bad number":     "timestamp,open,high,low,close\n2024-01-01 00:00:00,x,1,1,1\n",
		"bad time":       "timestamp,open,high,low,close\n2024-01-01,1,1,1,1\n",
		"short row":      "timestamp,open,high,low,close\n2024-01-01 00:00:00,1,1\n",
	} {
		_, err := ReadCSV(strings.NewReader(in))
		assert.Error(t, err, name)
	}
}

func TestParquetTableRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "btc.parquet")
	store := NewTableStore(path, LayoutTicks)
	require.IsType(t, &ParquetTable{}, store)
	ctx := context.Background()

	rows, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, rows)

	require.NoError(t, store.Save(ctx, sampleTicks()))
	rows, err = store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, sampleTicks(), rows)
}

func TestNewTableStoreDefaultsToCSV(t *testing.T) {
	assert.IsType(t, &CSVTable{}, NewTableStore("x/btc_ohlc_data.csv", LayoutTicks))
	assert.IsType(t, &CSVTable{}, NewTableStore("x/plain", LayoutCandles))
}

func TestParseLayout(t *testing.T) {
	l, err := ParseLayout("candles")
	require.NoError(t, err)
	assert.Equal(t, LayoutCandles, l)
	l, err = ParseLayout("")
	require.NoError(t, err)
	assert.Equal(t, LayoutTicks, l)
	_, err = ParseLayout("json")
	assert.Error(t, err)
}

func TestTableHistoryResamplesToDaily(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ticks.csv")
	tbl := NewCSVTable(path, LayoutTicks)
	day := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var ticks []models.Tick
	for d := 0; d < 4; d++ {
		for h := 0; h < 3; h++ {
			v := float64(d*10 + h)
			ticks = append(ticks, models.Tick{Timestamp: day.AddDate(0, 0, d).Add(time.Duration(h) * time.Hour), Open: v, High: v + 1, Low: v - 1, Close: v})
		}
	}
	require.NoError(t, tbl.Save(context.Background(), ticks))

	h := NewTableHistory(tbl, 24*time.Hour)
	rows, err := h.LatestN(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, models.Tick{Timestamp: day.AddDate(0, 0, 3), Open: 30, High: 33, Low: 29, Close: 32}, rows[1])
	assert.Equal(t, day.AddDate(0, 0, 2), rows[0].Timestamp)

	_, err = h.LatestN(context.Background(), 0)
	assert.Error(t, err)
}

func TestTableHistoryDropsOpenDay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ticks.csv")
	tbl := NewCSVTable(path, LayoutTicks)
	day := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var ticks []models.Tick
	for d := 0; d < 3; d++ {
		for h := 0; h < 24; h++ {
			ticks = append(ticks, models.Tick{Timestamp: day.AddDate(0, 0, d).Add(time.Duration(h) * time.Hour), Open: 100, High: 110, Low: 90, Close: 100})
		}
	}
	open := day.AddDate(0, 0, 3)
	ticks = append(ticks,
		models.Tick{Timestamp: open, Open: 100, High: 100.1, Low: 99.9, Close: 100},
		models.Tick{Timestamp: open.Add(time.Minute), Open: 100, High: 100.1, Low: 99.9, Close: 100},
	)
	require.NoError(t, tbl.Save(context.Background(), ticks))

	now := open.Add(2 * time.Minute)
	h := NewTableHistory(tbl, 24*time.Hour, WithHistoryClock(func() time.Time { return now }))
	rows, err := h.LatestN(context.Background(), 3)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, day, rows[0].Timestamp)
	assert.Equal(t, day.AddDate(0, 0, 2), rows[2].Timestamp)
	assert.Equal(t, 110.0, rows[2].High)

	// once the day has ended it is served
	now = open.Add(24 * time.Hour)
	rows, err = h.LatestN(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, open, rows[2].Timestamp)
}

func TestLatestNQueryNamesTable(t *testing.T) {
	assert.Contains(t, latestNQuery("fincast.candles_1d"), "FROM fincast.candles_1d")
	assert.True(t, tableName.MatchString("fincast.candles_1d"))
	assert.False(t, tableName.MatchString("x; DROP TABLE y"))
}
