package repository

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"time"

	"FinCast/internal/domain/models"
	domrepo "FinCast/internal/domain/repository"
	pkgch "FinCast/pkg/clickhouse"
	applogger "FinCast/pkg/logger"
)

// CHHistory reads daily candles from a ClickHouse table with columns
// (day Date, open, high, low, close Float64).
type CHHistory struct {
	db    *sql.DB
	table string
	l     *applogger.Logger
}

var _ domrepo.HistorySource = (*CHHistory)(nil)

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

func NewCHHistory(ch *pkgch.Client, table string, l *applogger.Logger) (*CHHistory, error) {
	if !tableName.MatchString(table) {
		return nil, fmt.Errorf("invalid clickhouse table name %q", table)
	}
	if l == nil {
		l = applogger.Nop()
	}
	return &CHHistory{db: ch.DB(), table: table, l: l}, nil
}

func latestNQuery(table string) string {
	return fmt.Sprintf(`
        SELECT day, open, high, low, close
        FROM %s
        ORDER BY day DESC
        LIMIT ?
    `, table)
}

func (s *CHHistory) LatestN(ctx context.Context, n int) ([]models.Tick, error) {
	start := time.Now()
	rows, err := s.db.QueryContext(ctx, latestNQuery(s.table), n)
	if err != nil {
		s.l.Error("clickhouse latest_candles query error",
			applogger.String("table", s.table),
			applogger.Int("limit", n),
			applogger.Error(err),
		)
		return nil, fmt.Errorf("get latest candles: %w", err)
	}
	defer rows.Close()

	tmp := make([]models.Tick, 0, n)
	for rows.Next() {
		var t models.Tick
		if err := rows.Scan(&t.Timestamp, &t.Open, &t.High, &t.Low, &t.Close); err != nil {
			return nil, fmt.Errorf("scan candle: %w", err)
		}
		t.Timestamp = t.Timestamp.UTC()
		tmp = append(tmp, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	// reverse to ASC
	for i, j := 0, len(tmp)-1; i < j; i, j = i+1, j-1 {
		tmp[i], tmp[j] = tmp[j], tmp[i]
	}
	s.l.Debug("clickhouse latest_candles ok",
		applogger.String("table", s.table),
		applogger.Int("limit", n),
		applogger.Int("rows", len(tmp)),
		applogger.Duration("duration_ms", time.Since(start)),
	)
	return tmp, nil
}
