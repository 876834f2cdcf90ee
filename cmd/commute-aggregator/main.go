package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/kelvins/geocoder"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	httpapi "github.com/ucommute/commute-data-aggregation/internal/api/http"
	"github.com/ucommute/commute-data-aggregation/internal/cache"
	"github.com/ucommute/commute-data-aggregation/internal/commute"
	"github.com/ucommute/commute-data-aggregation/internal/commute/sources"
	"github.com/ucommute/commute-data-aggregation/internal/config"
	"github.com/ucommute/commute-data-aggregation/internal/logger"
	"github.com/ucommute/commute-data-aggregation/internal/metrics"
	"github.com/ucommute/commute-data-aggregation/internal/ratelimit"
	"github.com/ucommute/commute-data-aggregation/internal/scheduler"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	zlog := logger.New(cfg.LogLevel, cfg.LogFormat)
	defer zlog.Sync()

	if err := cache.ValidateTiers(); err != nil {
		zlog.Fatal("invalid cache tier table", zap.Error(err))
	}

	// Shared HTTP client for outbound upstream calls.
	httpClient := &http.Client{
		Timeout: cfg.HTTPTimeout,
	}

	// Cache and rate limiter: Redis when configured, in-memory otherwise.
	var (
		dataCache cache.Cache
		limiter   ratelimit.Limiter
		sweeper   scheduler.Sweeper
	)
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(context.Background()).Err(); err != nil {
			zlog.Fatal("redis unreachable", zap.String("addr", cfg.RedisAddr), zap.Error(err))
		}
		dataCache = cache.NewRedis(client, zlog)
		limiter = ratelimit.NewRedis(client, ratelimit.DefaultBudgets)
		zlog.Info("using redis backend", zap.String("addr", cfg.RedisAddr))
	} else {
		memCache := cache.NewMemory()
		dataCache = memCache
		sweeper = memCache
		limiter = ratelimit.NewMemory(ratelimit.DefaultBudgets)
		zlog.Info("using in-memory backend")
	}

	collector := metrics.NewCollector()

	deps := sources.Deps{
		Client:  httpClient,
		Cache:   dataCache,
		Limiter: limiter,
		Metrics: collector,
		Log:     zlog,
	}

	srcs := httpapi.Sources{
		Weather: sources.NewWeatherAdapter(cfg.WeatherBaseURL, cfg.OpenWeatherAPIKey, deps),
		Traffic: sources.NewTrafficAdapter(cfg.TrafficFlowURL, cfg.TrafficIncidentsURL, cfg.TomTomAPIKey, deps),
		Transit: sources.NewTransitAdapter(cfg.TransitAlertsURL, cfg.TransitVehiclesURL, cfg.TransitUpdatesURL, deps),
	}

	opts := []commute.ServiceOption{
		commute.WithLocations(cfg.Locations, cfg.DefaultLocation),
		commute.WithTrafficRadius(cfg.TrafficRadius),
	}
	if cfg.GeocoderAPIKey != "" {
		geocoder.ApiKey = cfg.GeocoderAPIKey
		opts = append(opts, commute.WithGeocoder(func(name string) (commute.Coordinates, error) {
			loc, err := geocoder.Geocoding(geocoder.Address{City: name})
			if err != nil {
				return commute.Coordinates{}, err
			}
			return commute.Coordinates{Lat: loc.Latitude, Lon: loc.Longitude}, nil
		}))
	}

	service := commute.NewService(srcs.Weather, srcs.Traffic, srcs.Transit, dataCache, zlog, opts...)

	// Background cache warming for the configured locations.
	sched := scheduler.New(service.Locations(), cfg.RefreshInterval, service, sweeper, zlog)
	if err := sched.Start(); err != nil {
		zlog.Fatal("failed to start scheduler", zap.Error(err))
	}
	defer sched.Stop()

	app := fiber.New(fiber.Config{
		AppName:               "commute-data-aggregation",
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          30 * time.Second,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"error":   true,
				"message": err.Error(),
			})
		},
	})

	app.Use(fiberlogger.New())
	app.Use(recover.New())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"service": "commute-data-aggregation",
			"sources": fiber.Map{
				"weather": srcs.Weather.HealthCheck(c.Context()),
				"traffic": srcs.Traffic.HealthCheck(c.Context()),
				"transit": srcs.Transit.HealthCheck(c.Context()),
			},
		})
	})

	httpapi.RegisterRoutes(app, service, srcs, dataCache, limiter, collector)

	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			zlog.Error("fiber server stopped", zap.Error(err))
		}
	}()
	zlog.Info("server started", zap.String("port", cfg.Port))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		zlog.Error("error during shutdown", zap.Error(err))
	}
}
