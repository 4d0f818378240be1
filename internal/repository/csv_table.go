package repository

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"FinCast/internal/domain/models"
	domrepo "FinCast/internal/domain/repository"
)

// Layout selects the CSV header and timestamp format.
type Layout int

const (
	// LayoutTicks is timestamp,open,high,low,close with "YYYY-MM-DD HH:MM:SS".
	LayoutTicks Layout = iota
	// LayoutCandles is Date,Open,High,Low,Close with "YYYY-MM-DD".
	LayoutCandles
)

func (l Layout) header() []string {
	if l == LayoutCandles {
		return []string{"Date", "Open", "High", "Low", "Close"}
	}
	return []string{"timestamp", "open", "high", "low", "close"}
}

func (l Layout) timeLayout() string {
	if l == LayoutCandles {
		return time.DateOnly
	}
	return time.DateTime
}

// ParseLayout maps "ticks" or "candles" to a Layout.
func ParseLayout(s string) (Layout, error) {
	switch strings.ToLower(s) {
	case "", "ticks":
		return LayoutTicks, nil
	case "candles":
		return LayoutCandles, nil
	default:
		return 0, fmt.Errorf("unknown csv layout %q", s)
	}
}

// CSVTable is a durable table stored as one CSV file. Load accepts either
// header; Save writes the configured layout.
type CSVTable struct {
	path   string
	layout Layout
}

var _ domrepo.TableStore = (*CSVTable)(nil)

func NewCSVTable(path string, layout Layout) *CSVTable {
	return &CSVTable{path: path, layout: layout}
}

func (t *CSVTable) Path() string { return t.path }

// Load returns all rows in file order. A missing file is an empty table.
func (t *CSVTable) Load(_ context.Context) ([]models.Tick, error) {
	f, err := os.Open(t.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", t.path, err)
	}
	defer f.Close()
	return ReadCSV(f)
}

// Save replaces the file atomically with rows.
func (t *CSVTable) Save(_ context.Context, rows []models.Tick) error {
	return writeAtomic(t.path, func(w io.Writer) error {
		return WriteCSV(w, t.layout, rows)
	})
}

// ReadCSV parses a table in either layout, detected from the header.
// Empty value cells load as NaN.
func ReadCSV(r io.Reader) ([]models.Tick, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = 5
	cr.TrimLeadingSpace = true

	head, err := cr.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	layout, err := detectLayout(head)
	if err != nil {
		return nil, err
	}

	var out []models.Tick
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		row, err := parseRow(rec, layout)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, row)
	}
}

func detectLayout(head []string) (Layout, error) {
	for _, l := range []Layout{LayoutTicks, LayoutCandles} {
		want := l.header()
		match := true
		for i := range want {
			if strings.TrimPrefix(head[i], "\ufeff") != want[i] {
				match = false
				break
			}
		}
		if match {
			return l, nil
		}
	}
	return 0, fmt.Errorf("unrecognised header %v", head)
}

func parseRow(rec []string, l Layout) (models.Tick, error) {
	ts, err := time.ParseInLocation(l.timeLayout(), rec[0], time.UTC)
	if err != nil {
		return models.Tick{}, fmt.Errorf("timestamp %q: %w", rec[0], err)
	}
	row := models.Tick{Timestamp: ts}
	for i, target := range models.Targets {
		cell := strings.TrimSpace(rec[i+1])
		v := math.NaN()
		if cell != "" {
			v, err = strconv.ParseFloat(cell, 64)
			if err != nil {
				return models.Tick{}, fmt.Errorf("%s %q: %w", target, cell, err)
			}
		}
		row = row.Set(target, v)
	}
	return row, nil
}

// WriteCSV writes the header followed by rows.
func WriteCSV(w io.Writer, l Layout, rows []models.Tick) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(l.header()); err != nil {
		return err
	}
	rec := make([]string, 5)
	for _, r := range rows {
		rec[0] = r.Timestamp.UTC().Format(l.timeLayout())
		for i, target := range models.Targets {
			v := r.Value(target)
			if math.IsNaN(v) {
				rec[i+1] = ""
				continue
			}
			rec[i+1] = strconv.FormatFloat(v, 'f', -1, 64)
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// writeAtomic writes to a temp file next to path and renames it over path.
func writeAtomic(path string, write func(io.Writer) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := write(tmp); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}
