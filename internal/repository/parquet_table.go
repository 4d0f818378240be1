package repository

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"time"

	"github.com/parquet-go/parquet-go"

	"FinCast/internal/domain/models"
	domrepo "FinCast/internal/domain/repository"
)

// TickRecord is the Parquet schema of the durable table.
type TickRecord struct {
	Timestamp int64   `parquet:"timestamp,timestamp(millisecond)"` // Unix ms, UTC
	Open      float64 `parquet:"open"`
	High      float64 `parquet:"high"`
	Low       float64 `parquet:"low"`
	Close     float64 `parquet:"close"`
}

// ParquetTable is the durable table stored as a single Parquet file.
type ParquetTable struct {
	path string
}

var _ domrepo.TableStore = (*ParquetTable)(nil)

func NewParquetTable(path string) *ParquetTable {
	return &ParquetTable{path: path}
}

func (t *ParquetTable) Path() string { return t.path }

func (t *ParquetTable) Load(_ context.Context) ([]models.Tick, error) {
	if _, err := os.Stat(t.path); errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	recs, err := parquet.ReadFile[TickRecord](t.path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", t.path, err)
	}
	out := make([]models.Tick, len(recs))
	for i, r := range recs {
		out[i] = models.Tick{
			Timestamp: time.UnixMilli(r.Timestamp).UTC(),
			Open:      r.Open,
			High:      r.High,
			Low:       r.Low,
			Close:     r.Close,
		}
	}
	return out, nil
}

func (t *ParquetTable) Save(_ context.Context, rows []models.Tick) error {
	recs := make([]TickRecord, len(rows))
	for i, r := range rows {
		recs[i] = TickRecord{
			Timestamp: r.Timestamp.UnixMilli(),
			Open:      r.Open,
			High:      r.High,
			Low:       r.Low,
			Close:     r.Close,
		}
	}
	return writeAtomic(t.path, func(w io.Writer) error {
		return parquet.Write(w, recs)
	})
}
