package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"MarketPulse/internal/domain/models"
	"MarketPulse/internal/service/broadcast"
	svcmetrics "MarketPulse/internal/service/metrics"
	"MarketPulse/internal/service/ratelimit"
	"MarketPulse/internal/usecase"
	xhttp "MarketPulse/pkg/http"
	xlogger "MarketPulse/pkg/logger"
)

// MarketDataService is the on-demand lookup surface behind the quote and search endpoints.
type MarketDataService interface {
	Quote(ctx context.Context, symbol string) (map[string]any, error)
	Summary(ctx context.Context, symbol string) (map[string]any, error)
	History(ctx context.Context, symbol, rng string) ([]models.Bar, error)
	Search(ctx context.Context, q string) ([]models.SearchResult, error)
	StoredHistory(ctx context.Context, symbol string, from, to time.Time, limit int) ([]models.QuoteUpdate, error)
}

// RateLimit is a per-client token bucket for the upstream-backed endpoints.
type RateLimit struct {
	Capacity     float64
	RefillPerSec float64
}

// MarketEchoHandler serves the snapshot endpoint and the on-demand market data API.
type MarketEchoHandler struct {
	logger  *xlogger.Logger
	hub     *broadcast.Hub
	market  MarketDataService
	limiter *ratelimit.Limiter
	limit   RateLimit
	now     func() time.Time
}

func NewMarketEchoHandler(logger *xlogger.Logger, hub *broadcast.Hub, market MarketDataService, limiter *ratelimit.Limiter, limit RateLimit) *MarketEchoHandler {
	return &MarketEchoHandler{
		logger:  logger,
		hub:     hub,
		market:  market,
		limiter: limiter,
		limit:   limit,
		now:     time.Now,
	}
}

func (h *MarketEchoHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", h.Health)

	g := e.Group("/api")
	g.GET("/stocks/realtime", h.Snapshot)
	g.GET("/quote", h.Quote, h.rateLimited("quote"))
	g.GET("/search", h.Search, h.rateLimited("search"))
	g.GET("/quotes/history", h.StoredHistory)
}

// Snapshot returns the replay cache in the pull format used by degraded viewers.
func (h *MarketEchoHandler) Snapshot(c echo.Context) error {
	c.Response().Header().Set(echo.HeaderCacheControl, "no-store")
	return c.JSON(http.StatusOK, models.NewSnapshotResponse(h.hub.Snapshot(), h.now()))
}

func (h *MarketEchoHandler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":      "ok",
		"symbols":     h.hub.Len(),
		"subscribers": h.hub.Subscribers(),
		"timestamp":   h.now().UnixMilli(),
	})
}

func (h *MarketEchoHandler) Quote(c echo.Context) error {
	start := time.Now()
	req := &models.QuoteRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	ctx := c.Request().Context()
	var (
		res  any
		err  error
		kind string
	)
	switch req.Type {
	case "historical":
		kind = "historical"
		res, err = h.market.History(ctx, req.Symbol, req.Range)
	case "summary":
		kind = "summary"
		res, err = h.market.Summary(ctx, req.Symbol)
	default:
		kind = "quote"
		res, err = h.market.Quote(ctx, req.Symbol)
	}
	h.observe("quote_"+kind, start, err)
	if err != nil {
		return h.fail(c, "quote", err)
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "private, max-age=15")
	return xhttp.SuccessResponse(c, res)
}

func (h *MarketEchoHandler) Search(c echo.Context) error {
	start := time.Now()
	req := &models.SearchRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	res, err := h.market.Search(c.Request().Context(), req.Q)
	h.observe("search", start, err)
	if err != nil {
		return h.fail(c, "search", err)
	}
	return xhttp.SuccessResponse(c, res)
}

func (h *MarketEchoHandler) StoredHistory(c echo.Context) error {
	start := time.Now()
	req := &models.HistoryRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	from, okFrom := xhttp.ParseTime(req.From)
	to, okTo := xhttp.ParseTime(req.To)
	if (req.From != "" && !okFrom) || (req.To != "" && !okTo) {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError("from/to must be RFC3339, a date or a unix timestamp"))
	}

	rows, err := h.market.StoredHistory(c.Request().Context(), req.Symbol, from, to, req.Limit)
	h.observe("history", start, err)
	if err != nil {
		return h.fail(c, "history", err)
	}
	return xhttp.ListResponse(c, models.NewHistoryRows(rows), int64(len(rows)))
}

func (h *MarketEchoHandler) rateLimited(endpoint string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if h.limiter == nil || h.limit.Capacity <= 0 {
				return next(c)
			}
			if !h.limiter.Allow("api:"+c.RealIP(), h.limit.Capacity, h.limit.RefillPerSec) {
				svcmetrics.APIRateLimited.WithLabelValues(endpoint).Inc()
				return xhttp.AppErrorResponse(c, xhttp.TooManyRequestsError("too many requests"))
			}
			return next(c)
		}
	}
}

func (h *MarketEchoHandler) observe(endpoint string, start time.Time, err error) {
	svcmetrics.APILatency.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	if err != nil {
		svcmetrics.APIErrors.WithLabelValues(endpoint).Inc()
	}
}

func (h *MarketEchoHandler) fail(c echo.Context, endpoint string, err error) error {
	switch {
	case errors.Is(err, usecase.ErrNoQuote):
		return xhttp.AppErrorResponse(c, xhttp.NotFoundError(err.Error()).WithError(err))
	case errors.Is(err, usecase.ErrInvalidRange):
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError(err.Error()).WithError(err))
	case errors.Is(err, usecase.ErrHistoryDisabled):
		return xhttp.AppErrorResponse(c, xhttp.ServiceUnavailableError(err.Error()).WithError(err))
	case xhttp.IsStatus(err, http.StatusTooManyRequests):
		h.logger.Warn("upstream rate limited", xlogger.String("endpoint", endpoint))
		return xhttp.AppErrorResponse(c, xhttp.ServiceUnavailableError("upstream is rate limiting, retry shortly").WithError(err).WithRetryAfter(5*time.Second))
	}
	var appErr *xhttp.AppError
	if errors.As(err, &appErr) {
		return xhttp.AppErrorResponse(c, appErr)
	}
	h.logger.Error(endpoint+" usecase error", xlogger.Error(err))
	return xhttp.AppErrorResponse(c, xhttp.InternalError("failed to fetch "+endpoint+" data").WithError(err))
}
