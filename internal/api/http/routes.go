package httpapi

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/ucommute/commute-data-aggregation/internal/breaker"
	"github.com/ucommute/commute-data-aggregation/internal/cache"
	"github.com/ucommute/commute-data-aggregation/internal/commute"
	"github.com/ucommute/commute-data-aggregation/internal/commute/sources"
	"github.com/ucommute/commute-data-aggregation/internal/metrics"
	"github.com/ucommute/commute-data-aggregation/internal/ratelimit"
)

// Sources bundles the concrete adapters so the direct per-source endpoints
// and the diagnostics route can reach them.
type Sources struct {
	Weather *sources.WeatherAdapter
	Traffic *sources.TrafficAdapter
	Transit *sources.TransitAdapter
}

// RegisterRoutes wires the HTTP handlers into the Fiber app.
func RegisterRoutes(app *fiber.App, svc *commute.Service, srcs Sources, c cache.Cache, limiter ratelimit.Limiter, collector *metrics.Collector) {
	v1 := app.Group("/api/v1")

	v1.Get("/commute", func(ctx *fiber.Ctx) error {
		include := commute.IncludeOptions{
			Weather: ctx.QueryBool("include_weather", true),
			Traffic: ctx.QueryBool("include_traffic", true),
			Transit: ctx.QueryBool("include_transit", true),
		}

		result, err := svc.GetAggregateData(ctx.Context(), ctx.Query("location"), include)
		if err != nil {
			if errors.Is(err, commute.ErrUnknownLocation) {
				return fiber.NewError(fiber.StatusNotFound, err.Error())
			}
			return fiber.NewError(fiber.StatusInternalServerError, "failed to aggregate commute data")
		}

		return ctx.JSON(result)
	})

	v1.Get("/weather", func(ctx *fiber.Ctx) error {
		params := commute.WeatherParams{
			Lat:   ctx.QueryFloat("lat"),
			Lon:   ctx.QueryFloat("lon"),
			Units: ctx.Query("units"),
		}
		out, err := srcs.Weather.FetchData(ctx.Context(), params)
		if err != nil {
			return sourceError(err)
		}
		return ctx.JSON(fiber.Map{"status": out.Status, "data": out.Record})
	})

	v1.Get("/traffic", func(ctx *fiber.Ctx) error {
		params := commute.TrafficParams{
			Lat:    ctx.QueryFloat("lat"),
			Lon:    ctx.QueryFloat("lon"),
			Radius: ctx.QueryInt("radius", 5000),
		}
		out, err := srcs.Traffic.FetchData(ctx.Context(), params)
		if err != nil {
			return sourceError(err)
		}
		return ctx.JSON(fiber.Map{"status": out.Status, "data": out.Record})
	})

	v1.Get("/transit", func(ctx *fiber.Ctx) error {
		params := commute.TransitParams{
			Location:        ctx.Query("location"),
			RouteID:         ctx.Query("route_id"),
			StopID:          ctx.Query("stop_id"),
			IncludeRealtime: ctx.QueryBool("include_realtime", true),
		}
		out, err := srcs.Transit.FetchData(ctx.Context(), params)
		if err != nil {
			return sourceError(err)
		}
		return ctx.JSON(fiber.Map{"status": out.Status, "data": out.Record})
	})

	v1.Get("/diagnostics", func(ctx *fiber.Ctx) error {
		stats, err := c.Stats(ctx.Context())
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "failed to read cache stats")
		}

		usage := fiber.Map{}
		for _, api := range []string{"weather", "traffic", "transit"} {
			u, err := limiter.Usage(ctx.Context(), api)
			if err != nil {
				continue
			}
			usage[api] = u
		}

		return ctx.JSON(fiber.Map{
			"cache":       stats,
			"rate_limits": usage,
			"metrics":     collector.Snapshot(),
			"breakers": fiber.Map{
				srcs.Weather.Breaker().Name(): srcs.Weather.Breaker().State(),
				srcs.Traffic.Breaker().Name(): srcs.Traffic.Breaker().State(),
				srcs.Transit.Breaker().Name(): srcs.Transit.Breaker().State(),
			},
			"sources": fiber.Map{
				"weather": srcs.Weather.HealthCheck(ctx.Context()),
				"traffic": srcs.Traffic.HealthCheck(ctx.Context()),
				"transit": srcs.Transit.HealthCheck(ctx.Context()),
			},
		})
	})
}

// sourceError maps an adapter error onto an HTTP status: invalid parameters
// are the caller's fault, everything else means the source is out.
func sourceError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	if breaker.IsOpen(err) {
		return fiber.NewError(fiber.StatusServiceUnavailable, "source temporarily unavailable")
	}
	return fiber.NewError(fiber.StatusBadGateway, err.Error())
}
