package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"FinCast/internal/domain/models"
	"FinCast/internal/service/metrics"
	"FinCast/internal/services/forecast"
	"FinCast/internal/usecase"
	xhttp "FinCast/pkg/http"
	"FinCast/pkg/http/middleware"
	xlogger "FinCast/pkg/logger"

	"github.com/labstack/echo/v4"
)

type LatestReader interface {
	Snapshot() (models.Tick, bool)
}

type PredictionReader interface {
	Latest() (models.Prediction, bool)
}

type Forecaster interface {
	Forecast(ctx context.Context, p usecase.ForecastParams) (*models.Forecast, error)
	Backtest(ctx context.Context, n, horizon, stride int) ([]models.StepError, error)
}

type HistoryReader interface {
	Latest(ctx context.Context, limit int) (*usecase.GetHistoryResult, error)
}

// ForecastEchoHandler serves the tracker, predictor and forecaster over HTTP.
// Any dependency may be nil when its component is disabled; its routes then
// answer 503.
type ForecastEchoHandler struct {
	logger         *xlogger.Logger
	tracker        LatestReader
	predictor      PredictionReader
	forecaster     Forecaster
	history        HistoryReader
	limiter        middleware.Allower
	defaultHorizon int
	step           time.Duration
}

type HandlerDeps struct {
	Tracker        LatestReader
	Predictor      PredictionReader
	Forecaster     Forecaster
	History        HistoryReader
	Limiter        middleware.Allower // nil disables rate limiting
	DefaultHorizon int
	Step           time.Duration
}

func NewForecastEchoHandler(logger *xlogger.Logger, d HandlerDeps) *ForecastEchoHandler {
	metrics.Register()
	if d.DefaultHorizon <= 0 {
		d.DefaultHorizon = 30
	}
	if d.Step <= 0 {
		d.Step = 24 * time.Hour
	}
	return &ForecastEchoHandler{
		logger:         logger,
		tracker:        d.Tracker,
		predictor:      d.Predictor,
		forecaster:     d.Forecaster,
		history:        d.History,
		limiter:        d.Limiter,
		defaultHorizon: d.DefaultHorizon,
		step:           d.Step,
	}
}

func (h *ForecastEchoHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", h.Health)

	g := e.Group("/api")
	g.GET("/latest", h.Latest)
	g.GET("/prediction/next", h.NextPrediction)
	g.GET("/history", h.History)

	heavy := []echo.MiddlewareFunc{}
	if h.limiter != nil {
		heavy = append(heavy, middleware.RateLimit(h.limiter))
	}
	g.GET("/forecast", h.Forecast, heavy...)
	g.GET("/backtest", h.Backtest, heavy...)
}

func (h *ForecastEchoHandler) Health(c echo.Context) error {
	return xhttp.SuccessResponse(c, "ok")
}

func (h *ForecastEchoHandler) Latest(c echo.Context) error {
	if h.tracker == nil {
		return h.fail(c, "latest", xhttp.UnavailableError("tracker is not running"))
	}
	row, ok := h.tracker.Snapshot()
	if !ok {
		return h.fail(c, "latest", xhttp.NotFoundError("no tick tracked yet"))
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "no-store")
	return xhttp.SuccessResponse(c, toTickDTO(row, tickLayout))
}

func (h *ForecastEchoHandler) NextPrediction(c echo.Context) error {
	if h.predictor == nil {
		return h.fail(c, "prediction", xhttp.UnavailableError("predictor is not running"))
	}
	p, ok := h.predictor.Latest()
	if !ok {
		return h.fail(c, "prediction", xhttp.NotFoundError("no prediction yet"))
	}
	return xhttp.SuccessResponse(c, PredictionDTO{
		BasedOn:   p.BasedOn.UTC().Format(tickLayout),
		Next:      toTickDTO(p.Next, tickLayout),
		CreatedAt: p.CreatedAt.UTC().Format(time.RFC3339),
	})
}

func (h *ForecastEchoHandler) Forecast(c echo.Context) error {
	start := time.Now()
	defer observe("forecast", start)

	if h.forecaster == nil {
		return h.fail(c, "forecast", xhttp.UnavailableError("forecaster is not configured"))
	}
	req := &ForecastRequest{Horizon: h.defaultHorizon}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		metrics.APIErrors.WithLabelValues("forecast", strconv.Itoa(http.StatusBadRequest)).Inc()
		return xhttp.BadRequestResponse(c, verr)
	}

	fc, err := h.forecaster.Forecast(c.Request().Context(), usecase.ForecastParams{Horizon: req.Horizon})
	if err != nil {
		return h.fail(c, "forecast", h.mapError(err))
	}
	layout := layoutFor(h.step)
	return xhttp.SuccessResponse(c, ForecastDTO{
		Origin:  fc.Origin.UTC().Format(layout),
		Horizon: fc.Horizon,
		Lags:    fc.Lags,
		Rows:    toTickDTOs(fc.Rows, layout),
	})
}

func (h *ForecastEchoHandler) History(c echo.Context) error {
	start := time.Now()
	defer observe("history", start)

	if h.history == nil {
		return h.fail(c, "history", xhttp.UnavailableError("history source is not configured"))
	}
	req := &HistoryRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	res, err := h.history.Latest(c.Request().Context(), req.Limit)
	if err != nil {
		return h.fail(c, "history", h.mapError(err))
	}
	return xhttp.ListResponse(c, toTickDTOs(res.Rows, layoutFor(h.step)), int64(res.Count))
}

func (h *ForecastEchoHandler) Backtest(c echo.Context) error {
	start := time.Now()
	defer observe("backtest", start)

	if h.forecaster == nil {
		return h.fail(c, "backtest", xhttp.UnavailableError("forecaster is not configured"))
	}
	req := &BacktestRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if req.Horizon >= req.N {
		return h.fail(c, "backtest", xhttp.BadRequestErrorf("horizon %d must be smaller than n %d", req.Horizon, req.N))
	}
	errs, err := h.forecaster.Backtest(c.Request().Context(), req.N, req.Horizon, req.Stride)
	if err != nil {
		return h.fail(c, "backtest", h.mapError(err))
	}
	return xhttp.SuccessResponse(c, toStepErrorDTOs(errs))
}

// mapError turns forecaster preconditions into client-visible statuses.
func (h *ForecastEchoHandler) mapError(err error) *xhttp.AppError {
	switch {
	case errors.Is(err, forecast.ErrInsufficientHistory):
		return xhttp.UnprocessableError("not enough history to forecast").WithError(err)
	case errors.Is(err, forecast.ErrModelUnavailable):
		return xhttp.UnavailableError("forecast model unavailable").WithError(err)
	case errors.Is(err, context.DeadlineExceeded):
		return xhttp.UnavailableError("forecast timed out").WithError(err)
	default:
		return xhttp.InternalError("forecast failed").WithError(err)
	}
}

func (h *ForecastEchoHandler) fail(c echo.Context, endpoint string, appErr *xhttp.AppError) error {
	metrics.APIErrors.WithLabelValues(endpoint, strconv.Itoa(appErr.Status)).Inc()
	if appErr.Status >= http.StatusInternalServerError {
		h.logger.Error("api request failed", xlogger.String("endpoint", endpoint), xlogger.Error(appErr))
	}
	return xhttp.AppErrorResponse(c, appErr)
}

func observe(endpoint string, start time.Time) {
	metrics.APILatency.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
}
