// Command train fits one linear lag model per OHLC target and writes the
// JSON artifacts the forecaster loads.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"FinCast/internal/repository"
	"FinCast/internal/services/features"
	"FinCast/internal/services/model"
	applogger "FinCast/pkg/logger"
)

type options struct {
	history  string
	out      string
	resample time.Duration
	cfg      model.TrainConfig
}

func main() {
	var o options
	flag.StringVar(&o.history, "history", "data/btc_daily.csv", "history table (.csv or .parquet)")
	flag.StringVar(&o.out, "out", "models", "artifact output directory")
	flag.DurationVar(&o.resample, "resample", 0, "resample history into candles of this width first")
	flag.IntVar(&o.cfg.Lags, "lags", 5, "lag depth")
	flag.Float64Var(&o.cfg.TestFrac, "test", 0.2, "chronological hold-out fraction")
	flag.Float64Var(&o.cfg.Ridge, "ridge", 0, "L2 penalty (0 = ordinary least squares)")
	flag.Parse()

	l, _ := applogger.New(&applogger.Config{Level: "info", Format: "console", Output: "stderr"})
	if err := run(context.Background(), o, l); err != nil {
		l.Error("training failed", applogger.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, o options, l *applogger.Logger) error {
	rows, err := repository.NewTableStore(o.history, repository.LayoutCandles).Load(ctx)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}
	if o.resample > 0 {
		rows = features.Resample(rows, o.resample)
	}
	complete := rows[:0:0]
	for _, r := range rows {
		if r.Complete() {
			complete = append(complete, r)
		}
	}
	if dropped := len(rows) - len(complete); dropped > 0 {
		l.Warn("skipping incomplete rows", applogger.Int("rows", dropped))
	}

	fitted, reports, err := model.Train(complete, o.cfg)
	if err != nil {
		return err
	}
	for _, r := range reports {
		l.Info("model fitted",
			applogger.String("target", string(r.Target)),
			applogger.Int("train_rows", r.TrainRows),
			applogger.Int("test_rows", r.TestRows),
			applogger.Float64("holdout_mse", r.HoldoutMSE))
		if err := fitted[r.Target].Save(o.out); err != nil {
			return err
		}
	}
	l.Info("artifacts written", applogger.String("dir", o.out))
	return nil
}
