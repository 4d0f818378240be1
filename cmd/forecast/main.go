// Command forecast writes an N-step OHLC forecast from a history table and
// the trained model artifacts.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"FinCast/internal/domain/models"
	"FinCast/internal/repository"
	"FinCast/internal/services/features"
	"FinCast/internal/services/forecast"
	"FinCast/internal/services/model"
	applogger "FinCast/pkg/logger"
	"FinCast/pkg/util"
)

type options struct {
	history  string
	models   string
	out      string
	days     int
	step     time.Duration
	resample time.Duration
	until    string
	backtest bool
	stride   int
}

func main() {
	var o options
	flag.StringVar(&o.history, "history", "data/btc_daily.csv", "history table (.csv or .parquet)")
	flag.StringVar(&o.models, "models", "models", "model artifacts directory")
	flag.StringVar(&o.out, "out", "forecast.csv", "output CSV, - for stdout")
	flag.IntVar(&o.days, "days", 30, "forecast horizon in steps")
	flag.DurationVar(&o.step, "step", 24*time.Hour, "time between forecast rows")
	flag.DurationVar(&o.resample, "resample", 0, "resample history into candles of this width first")
	flag.StringVar(&o.until, "until", "", "ignore history after this date")
	flag.BoolVar(&o.backtest, "backtest", false, "report walk-forward error per step instead of forecasting")
	flag.IntVar(&o.stride, "stride", 1, "backtest origin stride")
	flag.Parse()

	l, _ := applogger.New(&applogger.Config{Level: "info", Format: "console", Output: "stderr"})
	if err := run(context.Background(), o, os.Stdout, l); err != nil {
		l.Error("forecast failed", applogger.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, o options, stdout io.Writer, l *applogger.Logger) error {
	ms, lags, err := model.LoadDir(o.models)
	if err != nil {
		return err
	}
	if lags == 0 {
		return fmt.Errorf("%w: no artifacts in %s", forecast.ErrModelUnavailable, o.models)
	}

	rows, err := repository.NewTableStore(o.history, repository.LayoutCandles).Load(ctx)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}
	if o.resample > 0 {
		rows = features.Resample(rows, o.resample)
	}
	if o.until != "" {
		cut, ok := util.ParseTime(o.until)
		if !ok {
			return fmt.Errorf("bad -until %q", o.until)
		}
		rows = before(rows, cut)
	}
	l.Info("history loaded", applogger.Int("rows", len(rows)), applogger.Int("lags", lags))

	p := forecast.Params{Lags: lags, Horizon: o.days, Step: o.step}
	if o.backtest {
		errs, err := forecast.Backtest(ctx, ms, rows, p, o.stride)
		if err != nil {
			return err
		}
		return printBacktest(stdout, errs)
	}

	if len(rows) > lags {
		rows = rows[len(rows)-lags:]
	}
	path, err := forecast.Recursive(ms, rows, p)
	if err != nil {
		return err
	}
	if o.out == "-" {
		return repository.WriteCSV(stdout, repository.LayoutCandles, path)
	}
	if err := repository.NewCSVTable(o.out, repository.LayoutCandles).Save(ctx, path); err != nil {
		return err
	}
	l.Info("forecast written", applogger.String("path", o.out), applogger.Int("rows", len(path)))
	return nil
}

func before(rows []models.Tick, cut time.Time) []models.Tick {
	for i, r := range rows {
		if r.Timestamp.After(cut) {
			return rows[:i]
		}
	}
	return rows
}

func printBacktest(w io.Writer, errs []models.StepError) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "step\tsamples\trmse_open\trmse_high\trmse_low\trmse_close\tmae_close")
	for _, e := range errs {
		fmt.Fprintf(tw, "%d\t%d\t%.4f\t%.4f\t%.4f\t%.4f\t%.4f\n", e.Step, e.Samples,
			e.RMSE[models.Open], e.RMSE[models.High], e.RMSE[models.Low], e.RMSE[models.Close], e.MAE[models.Close])
	}
	return tw.Flush()
}
