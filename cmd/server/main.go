package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ecomdash/internal/api"
	"ecomdash/internal/cache"
	"ecomdash/internal/config"
	"ecomdash/internal/engine"
	"ecomdash/internal/geo"
	"ecomdash/internal/logger"
	"ecomdash/internal/metrics"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "path to the config file (default ./dashboard.yaml)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	zl, err := logger.New(cfg.Log.Level)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer zl.Sync()

	// Chart clients want money as JSON numbers.
	decimal.MarshalJSONWithoutQuotes = true

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	pointColor, _ := config.ParseHexColor(cfg.Map.Color) // validated by config.Load
	renderer := geo.NewRenderer(
		&geo.HTTPFetcher{Client: &http.Client{Timeout: cfg.Map.FetchTimeout}},
		geo.Options{
			Source:      cfg.Map.ImageURL,
			Width:       cfg.Map.Width,
			PointRadius: cfg.Map.PointRadius,
			Alpha:       cfg.Map.Alpha,
			Color:       pointColor,
			Extent:      geo.BrazilExtent,
		},
		zl,
	)

	deps := api.Deps{
		Renderer:   renderer,
		Metrics:    m,
		Gatherer:   reg,
		Logger:     zl,
		AllowBlank: cfg.Map.AllowBlank,
	}
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		deps.Cache = cache.New(rdb, "ecomdash", cfg.Redis.TTL)
		zl.Info("dashboard cache enabled", zap.String("addr", cfg.Redis.Addr), zap.Duration("ttl", cfg.Redis.TTL))
	}

	// 1. Initialize Echo
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.CORS())
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			zl.Info("request",
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
			)
			return nil
		},
	}))

	// 2. Handler starts without data and answers 503 until the load finishes
	h := api.NewHandler(nil, deps)
	h.RegisterRoutes(e)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Load tables in the background
	go func() {
		zl.Info("loading dataset", zap.String("source", cfg.Data.Source))
		t0 := time.Now()

		ds, err := loadDataset(ctx, cfg, zl)
		if err != nil {
			zl.Error("dataset load failed", zap.Error(err))
			stop()
			return
		}
		h.SetData(ds)

		zl.Info("dataset ready",
			zap.String("version", ds.Version),
			zap.Int("orders", ds.Orders.Len()),
			zap.Int("points", len(ds.Points)),
			zap.Duration("took", time.Since(t0)),
		)
	}()

	// 4. Serve until interrupted
	go func() {
		zl.Info("server listening", zap.String("addr", cfg.Server.Addr))
		if err := e.Start(cfg.Server.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zl.Error("server stopped", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		zl.Error("shutdown", zap.Error(err))
	}
}

func loadDataset(ctx context.Context, cfg config.Config, zl *zap.Logger) (*api.Dataset, error) {
	opts := engine.LoadOptions{SkipMalformed: cfg.Data.SkipMalformed, Logger: zl}

	var orders *engine.ColumnStore
	switch cfg.Data.Source {
	case config.SourceSQLite:
		db, err := engine.OpenSQLite(cfg.Data.SQLitePath)
		if err != nil {
			return nil, err
		}
		defer db.Close()
		orders, err = engine.LoadSQLite(ctx, db, cfg.Data.SQLiteTable, opts)
		if err != nil {
			return nil, err
		}
	default:
		var err error
		orders, err = engine.LoadCSV(cfg.Data.OrdersPath, opts)
		if err != nil {
			return nil, err
		}
	}

	points, err := engine.LoadGeoCSV(cfg.Data.GeoPath, opts)
	if err != nil {
		// The map is context only; the rest of the dashboard still works.
		zl.Warn("geolocation not loaded", zap.String("path", cfg.Data.GeoPath), zap.Error(err))
	}

	return &api.Dataset{Orders: orders, Points: points, Version: uuid.NewString()}, nil
}
