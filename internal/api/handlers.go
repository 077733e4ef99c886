package api

import (
	"bytes"
	"context"
	"errors"
	"image"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"ecomdash/internal/engine"
	"ecomdash/internal/geo"
	"ecomdash/internal/metrics"
	"ecomdash/internal/models"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const dateLayout = "2006-01-02"

// Dataset is one loaded generation of input tables.
type Dataset struct {
	Orders  *engine.ColumnStore
	Points  []models.GeoPoint
	Version string
}

type ReportCache interface {
	Get(ctx context.Context, version string, r models.DateRange) (*models.DashboardData, bool, error)
	Set(ctx context.Context, version string, r models.DateRange, data *models.DashboardData) error
}

type MapRenderer interface {
	Render(ctx context.Context, points []models.GeoPoint) (*image.RGBA, error)
	RenderBlank(points []models.GeoPoint) *image.RGBA
}

// Deps are the optional collaborators of a Handler. Nil members disable the
// matching feature.
type Deps struct {
	Renderer   MapRenderer
	Cache      ReportCache
	Metrics    *metrics.Metrics
	Gatherer   prometheus.Gatherer
	Logger     *zap.Logger
	AllowBlank bool
}

type Handler struct {
	data atomic.Pointer[Dataset]
	deps Deps
	log  *zap.Logger
}

// NewHandler creates a handler. With a nil dataset the API is live but
// answers 503 until SetData is called.
func NewHandler(ds *Dataset, deps Deps) *Handler {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	h := &Handler{deps: deps, log: log}
	if ds != nil {
		h.SetData(ds)
	}
	return h
}

func (h *Handler) SetData(ds *Dataset) {
	h.data.Store(ds)
	h.deps.Metrics.SetRows(ds.Orders.Len())
}

func (h *Handler) RegisterRoutes(e *echo.Echo) {
	api := e.Group("/api")
	api.GET("/range", h.GetRange)
	api.GET("/dashboard", h.GetDashboard)
	api.GET("/orders/daily", h.GetDailyOrders)
	api.GET("/orders/monthly", h.GetMonthlyOrders)
	api.GET("/orders/status", h.GetOrderStatus)
	api.GET("/orders.arrow", h.GetOrdersArrow)
	api.GET("/spend/daily", h.GetDailySpend)
	api.GET("/spend/monthly", h.GetMonthlySpend)
	api.GET("/products/sales", h.GetProductSales)
	api.GET("/reviews/scores", h.GetReviewScores)
	api.GET("/reviews/distribution", h.GetReviewDistribution)
	api.GET("/customers/states", h.GetCustomersByState)
	api.GET("/customers/cities", h.GetCustomersByCity)
	api.GET("/geo/map.png", h.GetMap)

	if h.deps.Gatherer != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(h.deps.Gatherer, promhttp.HandlerOpts{})))
	}
}

// --- RENDER PASS ---

// renderPass is one request's view of the data: the date range it asked
// for and an aggregator over the filtered rows.
type renderPass struct {
	id    string
	ds    *Dataset
	rng   models.DateRange
	store *engine.ColumnStore
	agg   *engine.Aggregator
	log   *zap.Logger
}

type errorResponse struct {
	Aggregation string `json:"aggregation,omitempty"`
	Error       string `json:"error"`
}

func (h *Handler) pass(c echo.Context) (*renderPass, error) {
	ds := h.data.Load()
	if ds == nil {
		return nil, echo.NewHTTPError(http.StatusServiceUnavailable, "data is still loading")
	}

	id := uuid.NewString()
	c.Response().Header().Set("X-Render-Pass", id)
	p := &renderPass{id: id, ds: ds, store: ds.Orders, log: h.log.With(zap.String("pass", id))}

	lo, hi, ok := ds.Orders.Bounds()
	if ok {
		p.rng = models.DateRange{Start: truncateDay(lo), End: truncateDay(hi)}
	}
	startSet, endSet := false, false
	if s := c.QueryParam("start"); s != "" {
		t, err := time.Parse(dateLayout, s)
		if err != nil {
			return nil, echo.NewHTTPError(http.StatusBadRequest, "start must be YYYY-MM-DD")
		}
		p.rng.Start, startSet = t, true
	}
	if s := c.QueryParam("end"); s != "" {
		t, err := time.Parse(dateLayout, s)
		if err != nil {
			return nil, echo.NewHTTPError(http.StatusBadRequest, "end must be YYYY-MM-DD")
		}
		p.rng.End, endSet = t, true
	}
	// An empty table has no bounds to fill in an omitted side.
	if (ok || (startSet && endSet)) && p.rng.End.Before(p.rng.Start) {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "end is before start")
	}

	if ok {
		p.store = ds.Orders.Filter(p.rng.Start, p.rng.End)
	}
	p.agg = engine.NewAggregator(p.store)
	return p, nil
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// respond runs one named query, records it and writes the JSON result.
func (h *Handler) respond(c echo.Context, p *renderPass, query string, fn func() (any, error)) error {
	start := time.Now()
	v, err := fn()
	h.deps.Metrics.ObserveQuery(query, start, err)
	if err != nil {
		return h.fail(c, p, query, err)
	}
	p.log.Debug("aggregation served",
		zap.String("query", query),
		zap.Int("rows", p.store.Len()),
		zap.Duration("took", time.Since(start)),
	)
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) fail(c echo.Context, p *renderPass, query string, err error) error {
	var noData *engine.NoDataError
	var aggErr *engine.AggregationError
	if errors.As(err, &aggErr) {
		query = aggErr.Query
	}
	if errors.As(err, &noData) {
		p.log.Info("aggregation has no data", zap.String("query", query))
		return c.JSON(http.StatusUnprocessableEntity, errorResponse{Aggregation: query, Error: err.Error()})
	}
	p.log.Error("aggregation failed", zap.String("query", query), zap.Error(err))
	return c.JSON(http.StatusInternalServerError, errorResponse{Aggregation: query, Error: err.Error()})
}

// --- HANDLERS ---
func getPaginationParams(c echo.Context, defaultLimit int) (int, int) {
	limit, err := strconv.Atoi(c.QueryParam("limit"))
	if err != nil || limit <= 0 {
		limit = defaultLimit
	}
	offset, err := strconv.Atoi(c.QueryParam("offset"))
	if err != nil || offset < 0 {
		offset = 0
	}
	return limit, offset
}

type page[T any] struct {
	Data   []T `json:"data"`
	Total  int `json:"total"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

func paginate[T any](c echo.Context, rows []T) page[T] {
	total := len(rows)
	limit, offset := getPaginationParams(c, total)
	if offset >= total {
		return page[T]{Data: []T{}, Total: total, Limit: limit, Offset: offset}
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return page[T]{Data: rows[offset:end], Total: total, Limit: limit, Offset: offset}
}

type rangeResponse struct {
	Min  *time.Time `json:"min"`
	Max  *time.Time `json:"max"`
	Rows int        `json:"rows"`
}

// GetRange reports the approval date bounds of the loaded table, the
// default window of every other endpoint.
func (h *Handler) GetRange(c echo.Context) error {
	ds := h.data.Load()
	if ds == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "data is still loading")
	}
	resp := rangeResponse{Rows: ds.Orders.Len()}
	if lo, hi, ok := ds.Orders.Bounds(); ok {
		resp.Min, resp.Max = &lo, &hi
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) GetDailyOrders(c echo.Context) error {
	p, err := h.pass(c)
	if err != nil {
		return err
	}
	return h.respond(c, p, engine.QueryDailyOrders, func() (any, error) {
		return p.agg.DailyOrders(), nil
	})
}

func (h *Handler) GetDailySpend(c echo.Context) error {
	p, err := h.pass(c)
	if err != nil {
		return err
	}
	return h.respond(c, p, engine.QueryDailySpend, func() (any, error) {
		return p.agg.DailySpend(), nil
	})
}

func (h *Handler) GetMonthlyOrders(c echo.Context) error {
	p, err := h.pass(c)
	if err != nil {
		return err
	}
	return h.respond(c, p, engine.QueryMonthlyOrders, func() (any, error) {
		return p.agg.MonthlyOrders(), nil
	})
}

func (h *Handler) GetMonthlySpend(c echo.Context) error {
	p, err := h.pass(c)
	if err != nil {
		return err
	}
	return h.respond(c, p, engine.QueryMonthlySpend, func() (any, error) {
		return p.agg.MonthlySpend(), nil
	})
}

// GetProductSales returns categories by items sold, paginated.
func (h *Handler) GetProductSales(c echo.Context) error {
	p, err := h.pass(c)
	if err != nil {
		return err
	}
	return h.respond(c, p, engine.QueryProductSales, func() (any, error) {
		return paginate(c, p.agg.ProductSalesCounts()), nil
	})
}

func (h *Handler) GetReviewScores(c echo.Context) error {
	p, err := h.pass(c)
	if err != nil {
		return err
	}
	return h.respond(c, p, engine.QueryReviewScores, func() (any, error) {
		score, err := p.agg.MostCommonReviewScore()
		if err != nil {
			return nil, err
		}
		return models.ReviewSummary{Counts: p.agg.ReviewScoreCounts(), MostCommon: score}, nil
	})
}

func (h *Handler) GetReviewDistribution(c echo.Context) error {
	p, err := h.pass(c)
	if err != nil {
		return err
	}
	return h.respond(c, p, engine.QueryReviewDistribution, func() (any, error) {
		return p.agg.ReviewScoreDistribution(), nil
	})
}

func (h *Handler) GetOrderStatus(c echo.Context) error {
	p, err := h.pass(c)
	if err != nil {
		return err
	}
	return h.respond(c, p, engine.QueryOrderStatus, func() (any, error) {
		status, err := p.agg.MostCommonStatus()
		if err != nil {
			return nil, err
		}
		return models.StatusSummary{Counts: p.agg.OrderStatusCounts(), MostCommon: status}, nil
	})
}

func (h *Handler) GetCustomersByState(c echo.Context) error {
	p, err := h.pass(c)
	if err != nil {
		return err
	}
	return h.respond(c, p, engine.QueryCustomersByState, func() (any, error) {
		top, err := p.agg.TopState()
		if err != nil {
			return nil, err
		}
		return models.StateSummary{Counts: p.agg.CustomersByState(), Top: top}, nil
	})
}

// GetCustomersByCity returns cities by distinct customers, paginated.
func (h *Handler) GetCustomersByCity(c echo.Context) error {
	p, err := h.pass(c)
	if err != nil {
		return err
	}
	return h.respond(c, p, engine.QueryCustomersByCity, func() (any, error) {
		return paginate(c, p.agg.CustomersByCity()), nil
	})
}

// GetDashboard returns every aggregation for the range in one bundle,
// served from the cache when one is configured.
func (h *Handler) GetDashboard(c echo.Context) error {
	p, err := h.pass(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()

	if h.deps.Cache != nil {
		cached, ok, err := h.deps.Cache.Get(ctx, p.ds.Version, p.rng)
		switch {
		case err != nil:
			h.deps.Metrics.CacheResult("error")
			p.log.Warn("dashboard cache read failed", zap.Error(err))
		case ok:
			h.deps.Metrics.CacheResult("hit")
			return c.JSON(http.StatusOK, cached)
		default:
			h.deps.Metrics.CacheResult("miss")
		}
	}

	return h.respond(c, p, engine.QueryDashboard, func() (any, error) {
		data, err := p.agg.Dashboard()
		if err != nil {
			return nil, err
		}
		if h.deps.Cache != nil {
			if err := h.deps.Cache.Set(ctx, p.ds.Version, p.rng, data); err != nil {
				p.log.Warn("dashboard cache write failed", zap.Error(err))
			}
		}
		return data, nil
	})
}

// GetOrdersArrow streams the filtered order table as Arrow IPC.
func (h *Handler) GetOrdersArrow(c echo.Context) error {
	p, err := h.pass(c)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := p.store.WriteIPC(&buf); err != nil {
		p.log.Error("arrow export failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "arrow export failed")
	}
	return c.Blob(http.StatusOK, "application/vnd.apache.arrow.stream", buf.Bytes())
}

// GetMap renders the customer scatter over the background map.
func (h *Handler) GetMap(c echo.Context) error {
	ds := h.data.Load()
	if ds == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "data is still loading")
	}
	if h.deps.Renderer == nil {
		return echo.NewHTTPError(http.StatusNotFound, "map rendering is not configured")
	}

	img, err := h.deps.Renderer.Render(c.Request().Context(), ds.Points)
	if err != nil {
		var loadErr *geo.ImageLoadError
		if !errors.As(err, &loadErr) {
			h.log.Error("map render failed", zap.Error(err))
			return echo.NewHTTPError(http.StatusInternalServerError, "map render failed")
		}
		h.deps.Metrics.ImageFetchFailed()
		if !h.deps.AllowBlank {
			return c.JSON(http.StatusBadGateway, errorResponse{Aggregation: "geo_map", Error: err.Error()})
		}
		img = h.deps.Renderer.RenderBlank(ds.Points)
	}

	var buf bytes.Buffer
	if err := geo.EncodePNG(&buf, img); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "map encode failed")
	}
	return c.Blob(http.StatusOK, "image/png", buf.Bytes())
}
