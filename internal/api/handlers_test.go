package api

import (
	"context"
	"encoding/json"
	"errors"
	"image"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"ecomdash/internal/cache"
	"ecomdash/internal/engine"
	"ecomdash/internal/geo"
	"ecomdash/internal/metrics"
	"ecomdash/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func at(y int, m time.Month, d, h int) time.Time {
	return time.Date(y, m, d, h, 0, 0, 0, time.UTC)
}

func testDataset() *Dataset {
	rec := func(id, customer, category, status, state string, ts time.Time, pay float64, score int) models.OrderRecord {
		return models.OrderRecord{
			OrderID: id, CustomerID: customer, ApprovedAt: ts, PaymentValue: pay,
			ProductID: "p-" + id, Category: category, Status: status, ReviewScore: score,
			CustomerState: state, CustomerCity: strings.ToLower(state) + "-city",
		}
	}
	return &Dataset{
		Orders: engine.FromRecords([]models.OrderRecord{
			rec("o1", "c1", "toys", "delivered", "SP", at(2018, 1, 1, 10), 10, 5),
			rec("o1", "c1", "toys", "delivered", "SP", at(2018, 1, 1, 10), 20, 5),
			rec("o2", "c2", "auto", "delivered", "RJ", at(2018, 1, 3, 9), 30, 1),
			rec("o3", "c3", "toys", "shipped", "SP", at(2018, 2, 14, 18), 40, 4),
		}),
		Points:  []models.GeoPoint{{CustomerUniqueID: "u1", Lng: -46.6, Lat: -23.5}},
		Version: "test",
	}
}

func newTestServer(t *testing.T, ds *Dataset, deps Deps) (*echo.Echo, *Handler) {
	t.Helper()
	e := echo.New()
	h := NewHandler(ds, deps)
	h.RegisterRoutes(e)
	return e, h
}

func get(e *echo.Echo, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestUnavailableUntilDataLoaded(t *testing.T) {
	e, h := newTestServer(t, nil, Deps{})

	for _, path := range []string{"/api/range", "/api/dashboard", "/api/orders/daily", "/api/geo/map.png"} {
		assert.Equal(t, http.StatusServiceUnavailable, get(e, path).Code, path)
	}

	h.SetData(testDataset())
	assert.Equal(t, http.StatusOK, get(e, "/api/orders/daily").Code)
}

func TestGetRange(t *testing.T) {
	e, _ := newTestServer(t, testDataset(), Deps{})

	rec := get(e, "/api/range")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[rangeResponse](t, rec)
	assert.Equal(t, 4, resp.Rows)
	require.NotNil(t, resp.Min)
	assert.True(t, at(2018, 1, 1, 10).Equal(*resp.Min))
	assert.True(t, at(2018, 2, 14, 18).Equal(*resp.Max))
}

func TestGetDailyOrders(t *testing.T) {
	e, _ := newTestServer(t, testDataset(), Deps{})

	rec := get(e, "/api/orders/daily?start=2018-01-01&end=2018-01-31")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Render-Pass"))

	days := decode[[]models.DailyOrders](t, rec)
	require.Len(t, days, 3)
	assert.Equal(t, 1, days[0].OrderCount)
	assert.True(t, days[0].Revenue.Equal(decimal.NewFromInt(30)))
	assert.Equal(t, 0, days[1].OrderCount)
	assert.Equal(t, 1, days[2].OrderCount)
}

func TestDefaultRangeCoversWholeTable(t *testing.T) {
	e, _ := newTestServer(t, testDataset(), Deps{})

	months := decode[[]models.MonthlySpend](t, get(e, "/api/spend/monthly"))
	require.Len(t, months, 2)
	assert.True(t, months[0].TotalSpend.Equal(decimal.NewFromInt(60)))
	assert.True(t, months[1].TotalSpend.Equal(decimal.NewFromInt(40)))
}

func TestBadRange(t *testing.T) {
	e, _ := newTestServer(t, testDataset(), Deps{})

	for _, q := range []string{"start=01-01-2018", "end=yesterday", "start=2018-02-01&end=2018-01-01"} {
		assert.Equal(t, http.StatusBadRequest, get(e, "/api/orders/daily?"+q).Code, q)
	}
}

func TestEmptyTableWithOneSidedRange(t *testing.T) {
	e, _ := newTestServer(t, &Dataset{Orders: engine.FromRecords(nil), Version: "empty"}, Deps{})

	for _, q := range []string{"?start=2018-01-01", "?end=2018-01-31"} {
		rec := get(e, "/api/orders/daily"+q)
		require.Equal(t, http.StatusOK, rec.Code, q)
		assert.Empty(t, decode[[]models.DailyOrders](t, rec))

		rec = get(e, "/api/orders/status"+q)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, q)
	}

	assert.Equal(t, http.StatusBadRequest, get(e, "/api/orders/daily?start=2018-02-01&end=2018-01-01").Code)
}

func TestEmptyRange(t *testing.T) {
	e, _ := newTestServer(t, testDataset(), Deps{})
	const q = "?start=2019-01-01&end=2019-01-31"

	rec := get(e, "/api/dashboard"+q)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	resp := decode[errorResponse](t, rec)
	assert.Equal(t, engine.QueryReviewScores, resp.Aggregation)

	rec = get(e, "/api/orders/status"+q)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, engine.QueryOrderStatus, decode[errorResponse](t, rec).Aggregation)

	// Series just come back empty.
	rec = get(e, "/api/orders/daily"+q)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]models.DailyOrders](t, rec))
}

func TestRankings(t *testing.T) {
	e, _ := newTestServer(t, testDataset(), Deps{})

	states := decode[models.StateSummary](t, get(e, "/api/customers/states"))
	assert.Equal(t, "SP", states.Top)
	assert.Equal(t, []models.KeyCount{{Key: "SP", Count: 2}, {Key: "RJ", Count: 1}}, states.Counts)

	status := decode[models.StatusSummary](t, get(e, "/api/orders/status"))
	assert.Equal(t, "delivered", status.MostCommon)

	reviews := decode[models.ReviewSummary](t, get(e, "/api/reviews/scores"))
	assert.Equal(t, 5, reviews.MostCommon)

	dist := decode[[]models.ScoreShare](t, get(e, "/api/reviews/distribution"))
	require.Len(t, dist, 3)
	assert.InDelta(t, 50.0, dist[0].Percent, 1e-9)
}

func TestPagination(t *testing.T) {
	e, _ := newTestServer(t, testDataset(), Deps{})

	p := decode[page[models.CategoryCount]](t, get(e, "/api/products/sales?limit=1&offset=1"))
	assert.Equal(t, 2, p.Total)
	assert.Equal(t, []models.CategoryCount{{Category: "auto", ProductCount: 1}}, p.Data)

	p = decode[page[models.CategoryCount]](t, get(e, "/api/products/sales"))
	assert.Len(t, p.Data, 2)
	assert.Equal(t, "toys", p.Data[0].Category)

	cities := decode[page[models.KeyCount]](t, get(e, "/api/customers/cities?offset=10"))
	assert.Equal(t, 2, cities.Total)
	assert.Empty(t, cities.Data)
}

func TestDashboardCache(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	e, _ := newTestServer(t, testDataset(), Deps{Cache: cache.New(rdb, "ecomdash", time.Minute), Metrics: m, Gatherer: reg})

	first := get(e, "/api/dashboard")
	require.Equal(t, http.StatusOK, first.Code)
	assert.True(t, mr.Exists("ecomdash:test:dashboard:2018-01-01:2018-02-14"))

	second := get(e, "/api/dashboard")
	require.Equal(t, http.StatusOK, second.Code)

	data := decode[models.DashboardData](t, second)
	assert.Equal(t, 4, data.Rows)
	assert.True(t, data.TotalSpend.Equal(decimal.NewFromInt(100)))

	body := get(e, "/metrics").Body.String()
	assert.Contains(t, body, `dashboard_cache_lookups_total{result="hit"} 1`)
	assert.Contains(t, body, `dashboard_cache_lookups_total{result="miss"} 1`)
	assert.Contains(t, body, "dashboard_order_rows_loaded 4")
}

func TestGetOrdersArrow(t *testing.T) {
	e, _ := newTestServer(t, testDataset(), Deps{})

	rec := get(e, "/api/orders.arrow?start=2018-02-01")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/vnd.apache.arrow.stream", rec.Header().Get(echo.HeaderContentType))
	assert.NotZero(t, rec.Body.Len())
}

type fakeRenderer struct {
	err    error
	blanks int
}

func (f *fakeRenderer) Render(context.Context, []models.GeoPoint) (*image.RGBA, error) {
	if f.err != nil {
		return nil, f.err
	}
	return image.NewRGBA(image.Rect(0, 0, 4, 4)), nil
}

func (f *fakeRenderer) RenderBlank([]models.GeoPoint) *image.RGBA {
	f.blanks++
	return image.NewRGBA(image.Rect(0, 0, 2, 2))
}

func TestGetMap(t *testing.T) {
	loadErr := &geo.ImageLoadError{Source: "http://maps.invalid/br.jpg", Err: errors.New("404 Not Found")}

	t.Run("renders png", func(t *testing.T) {
		e, _ := newTestServer(t, testDataset(), Deps{Renderer: &fakeRenderer{}})
		rec := get(e, "/api/geo/map.png")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "image/png", rec.Header().Get(echo.HeaderContentType))
	})

	t.Run("image unavailable", func(t *testing.T) {
		reg := prometheus.NewRegistry()
		e, _ := newTestServer(t, testDataset(), Deps{Renderer: &fakeRenderer{err: loadErr}, Metrics: metrics.New(reg), Gatherer: reg})
		rec := get(e, "/api/geo/map.png")
		require.Equal(t, http.StatusBadGateway, rec.Code)
		assert.Contains(t, decode[errorResponse](t, rec).Error, "maps.invalid")
		assert.Contains(t, get(e, "/metrics").Body.String(), "dashboard_map_image_fetch_failures_total 1")
	})

	t.Run("blank fallback", func(t *testing.T) {
		r := &fakeRenderer{err: loadErr}
		e, _ := newTestServer(t, testDataset(), Deps{Renderer: r, AllowBlank: true})
		rec := get(e, "/api/geo/map.png")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, 1, r.blanks)
	})

	t.Run("other errors", func(t *testing.T) {
		e, _ := newTestServer(t, testDataset(), Deps{Renderer: &fakeRenderer{err: errors.New("boom")}, AllowBlank: true})
		assert.Equal(t, http.StatusInternalServerError, get(e, "/api/geo/map.png").Code)
	})

	t.Run("not configured", func(t *testing.T) {
		e, _ := newTestServer(t, testDataset(), Deps{})
		assert.Equal(t, http.StatusNotFound, get(e, "/api/geo/map.png").Code)
	})
}

func TestGetPaginationParams(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/?limit=-1&offset=abc", nil), httptest.NewRecorder())
	limit, offset := getPaginationParams(c, 50)
	assert.Equal(t, 50, limit)
	assert.Equal(t, 0, offset)
}
