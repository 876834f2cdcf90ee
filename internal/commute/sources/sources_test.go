package sources

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ucommute/commute-data-aggregation/internal/breaker"
	"github.com/ucommute/commute-data-aggregation/internal/cache"
	"github.com/ucommute/commute-data-aggregation/internal/commute"
	"github.com/ucommute/commute-data-aggregation/internal/metrics"
	"github.com/ucommute/commute-data-aggregation/internal/ratelimit"
)

const weatherPayload = `{
	"weather": [{"main": "Rain", "description": "light rain"}],
	"main": {"temp": 293.15, "feels_like": 291.15, "humidity": 80},
	"wind": {"speed": 5.0, "deg": 180},
	"dt": 1712000000
}`

func testDeps(t *testing.T, budgets map[string]ratelimit.Budget) Deps {
	t.Helper()
	if budgets == nil {
		budgets = ratelimit.DefaultBudgets
	}
	return Deps{
		Client:  &http.Client{Timeout: 5 * time.Second},
		Cache:   cache.NewMemory(),
		Limiter: ratelimit.NewMemory(budgets),
		Metrics: metrics.NewCollector(),
		Log:     zap.NewNop(),
	}
}

func TestWeatherAdapterLiveThenCached(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.Write([]byte(weatherPayload))
	}))
	defer srv.Close()

	deps := testDeps(t, nil)
	adapter := NewWeatherAdapter(srv.URL, "test-key", deps)
	params := commute.WeatherParams{Lat: 47.6062, Lon: -122.3321}

	out, err := adapter.FetchData(context.Background(), params)
	require.NoError(t, err)
	assert.Equal(t, commute.StatusLive, out.Status)
	assert.True(t, out.Record.DataAvailable)
	assert.Equal(t, "Rain", out.Record.Condition)
	require.NotNil(t, out.Record.Temperature)
	assert.InDelta(t, 68.0, *out.Record.Temperature, 0.2)
	assert.Equal(t, "openweathermap", out.Record.Source)

	out, err = adapter.FetchData(context.Background(), params)
	require.NoError(t, err)
	assert.Equal(t, commute.StatusCached, out.Status)
	assert.True(t, out.Record.Cached)
	assert.Equal(t, int32(1), hits.Load())

	snap := deps.Metrics.Snapshot()
	assert.Equal(t, int64(1), snap["weather"].Calls)
	assert.Equal(t, int64(1), snap["weather"].CacheMisses)
	assert.Equal(t, int64(1), snap["weather"].CacheHits)
}

func TestWeatherAdapterBudgetExhaustedServesCachedFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(weatherPayload))
	}))
	defer srv.Close()

	deps := testDeps(t, map[string]ratelimit.Budget{
		"weather": {Daily: 1, Hourly: 1},
	})
	adapter := NewWeatherAdapter(srv.URL, "test-key", deps)

	out, err := adapter.FetchData(context.Background(), commute.WeatherParams{Lat: 47.6062, Lon: -122.3321})
	require.NoError(t, err)
	require.Equal(t, commute.StatusLive, out.Status)

	// Different coordinates miss the parameter cache, and the budget is gone.
	out, err = adapter.FetchData(context.Background(), commute.WeatherParams{Lat: 47.2529, Lon: -122.4443})
	require.NoError(t, err)
	assert.Equal(t, commute.StatusFallback, out.Status)
	assert.Equal(t, "cached_fallback", out.Record.Source)
	assert.True(t, out.Record.Cached)
	assert.True(t, errors.Is(out.Err, ErrBudgetExhausted))
}

func TestWeatherAdapterUpstreamErrorDefaultFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	adapter := NewWeatherAdapter(srv.URL, "test-key", testDeps(t, nil))

	out, err := adapter.FetchData(context.Background(), commute.WeatherParams{Lat: 47.6062, Lon: -122.3321})
	require.NoError(t, err)
	assert.Equal(t, commute.StatusFallback, out.Status)
	assert.Equal(t, "default_fallback", out.Record.Source)
	assert.False(t, out.Record.DataAvailable)
	assert.True(t, errors.Is(out.Err, ErrUpstreamStatus))
}

func TestWeatherAdapterErrorPayloadNotCached(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.Write([]byte(`{"error": "invalid API key"}`))
	}))
	defer srv.Close()

	adapter := NewWeatherAdapter(srv.URL, "test-key", testDeps(t, nil))
	params := commute.WeatherParams{Lat: 47.6062, Lon: -122.3321}

	out, err := adapter.FetchData(context.Background(), params)
	require.NoError(t, err)
	assert.Equal(t, commute.StatusFallback, out.Status)
	assert.Equal(t, "default_fallback", out.Record.Source)
	assert.False(t, out.Record.DataAvailable)
	assert.True(t, errors.Is(out.Err, ErrUpstreamPayload))

	// Nothing was cached, so the next call reaches the upstream again
	// instead of serving the error record for the rest of the TTL.
	out, err = adapter.FetchData(context.Background(), params)
	require.NoError(t, err)
	assert.Equal(t, commute.StatusFallback, out.Status)
	assert.False(t, out.Record.DataAvailable)
	assert.Equal(t, int32(2), hits.Load())
}

func TestWeatherAdapterBreakerOpensAndPropagates(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	adapter := NewWeatherAdapter(srv.URL, "test-key", testDeps(t, nil))
	params := commute.WeatherParams{Lat: 47.6062, Lon: -122.3321}

	for i := 0; i < 3; i++ {
		out, err := adapter.FetchData(context.Background(), params)
		require.NoError(t, err)
		assert.Equal(t, commute.StatusFallback, out.Status)
	}
	assert.Equal(t, int32(3), hits.Load())
	assert.Equal(t, "OPEN", adapter.Breaker().State())
	assert.False(t, adapter.HealthCheck(context.Background()))

	// With the breaker open and no cached fallback, the outage surfaces.
	out, err := adapter.FetchData(context.Background(), params)
	require.Error(t, err)
	assert.True(t, breaker.IsOpen(err))
	assert.Equal(t, commute.StatusUnavailable, out.Status)
	assert.Equal(t, int32(3), hits.Load())
}

func TestWeatherAdapterRejectsInvalidParams(t *testing.T) {
	adapter := NewWeatherAdapter("http://unused", "test-key", testDeps(t, nil))

	out, err := adapter.FetchData(context.Background(), commute.WeatherParams{Lat: 123, Lon: 0})
	require.Error(t, err)
	assert.Equal(t, commute.StatusUnavailable, out.Status)
}

func TestTrafficAdapterLive(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/flow", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"flowSegmentData": {"currentSpeed": 35, "freeFlowSpeed": 60, "currentTravelTime": 300, "freeFlowTravelTime": 175}}`))
	})
	mux.HandleFunc("/incidents", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"incidents": [{"type": "ACCIDENT", "geometry": {"type": "Point", "coordinates": [-122.33, 47.61]}, "properties": {"description": "Collision", "magnitudeOfDelay": 3, "startTime": "2026-08-30T07:00:00Z", "endTime": "2026-08-30T08:00:00Z"}}]}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	adapter := NewTrafficAdapter(srv.URL+"/flow", srv.URL+"/incidents", "test-key", testDeps(t, nil))

	out, err := adapter.FetchData(context.Background(), commute.TrafficParams{Lat: 47.6062, Lon: -122.3321, Radius: 5000})
	require.NoError(t, err)
	assert.Equal(t, commute.StatusLive, out.Status)
	require.NotNil(t, out.Record.Flow)
	require.NotNil(t, out.Record.Flow.CongestionLevel)
	assert.Equal(t, "high", *out.Record.Flow.CongestionLevel)
	require.Len(t, out.Record.Incidents, 1)
	require.NotNil(t, out.Record.Incidents[0].DurationMinutes)
	assert.Equal(t, 60, *out.Record.Incidents[0].DurationMinutes)
}

func TestTrafficAdapterIncidentsFailureDegrades(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/flow", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"flowSegmentData": {"currentSpeed": 55, "freeFlowSpeed": 60}}`))
	})
	mux.HandleFunc("/incidents", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	adapter := NewTrafficAdapter(srv.URL+"/flow", srv.URL+"/incidents", "test-key", testDeps(t, nil))

	out, err := adapter.FetchData(context.Background(), commute.TrafficParams{Lat: 47.6062, Lon: -122.3321, Radius: 5000})
	require.NoError(t, err)
	assert.Equal(t, commute.StatusLive, out.Status)
	require.NotNil(t, out.Record.Flow)
	assert.Empty(t, out.Record.Incidents)
}

const transitAlertsPayload = `{
	"entity": [
		{
			"id": "alert-1",
			"alert": {
				"cause": "CONSTRUCTION",
				"effect": "NO_SERVICE",
				"informed_entity": [{"route_id": "40"}],
				"header_text": {"translation": [{"text": "Route 40 suspended", "language": "en"}]}
			}
		},
		{
			"id": "alert-2",
			"alert": {
				"cause": "WEATHER",
				"effect": "DETOUR",
				"informed_entity": [{"route_id": "8"}],
				"header_text": {"translation": [{"text": "Route 8 detoured", "language": "en"}]}
			}
		},
		{
			"id": "alert-3",
			"alert": {
				"effect": "OTHER_EFFECT",
				"header_text": {"translation": [{"text": "System notice", "language": "en"}]}
			}
		}
	]
}`

func TestTransitAdapterFiltersAlertsByRoute(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(transitAlertsPayload))
	}))
	defer srv.Close()

	adapter := NewTransitAdapter(srv.URL, srv.URL, srv.URL, testDeps(t, nil))

	out, err := adapter.FetchData(context.Background(), commute.TransitParams{Location: "seattle", RouteID: "40"})
	require.NoError(t, err)
	assert.Equal(t, commute.StatusLive, out.Status)
	require.Len(t, out.Record.Alerts, 2)
	assert.Equal(t, "alert-1", out.Record.Alerts[0].ID)
	assert.Equal(t, "high", out.Record.Alerts[0].Severity)
	assert.Equal(t, "alert-3", out.Record.Alerts[1].ID)
	assert.Empty(t, out.Record.VehiclePositions)
}

func TestTransitAdapterFallbackOutlivesRealtimeTier(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(transitAlertsPayload))
	}))
	defer srv.Close()

	now := time.Date(2026, 8, 30, 7, 0, 0, 0, time.UTC)
	deps := Deps{
		Client:  &http.Client{Timeout: 5 * time.Second},
		Cache:   cache.NewMemory(cache.WithNow(func() time.Time { return now })),
		Limiter: ratelimit.NewMemory(map[string]ratelimit.Budget{"transit": {Daily: 1, Hourly: 1}}),
		Metrics: metrics.NewCollector(),
		Log:     zap.NewNop(),
	}
	adapter := NewTransitAdapter(srv.URL, srv.URL, srv.URL, deps)

	out, err := adapter.FetchData(context.Background(), commute.TransitParams{Location: "seattle"})
	require.NoError(t, err)
	require.Equal(t, commute.StatusLive, out.Status)

	// Two hours later the 60s realtime entries are long gone, but the
	// last-known-good record sits on the schedule tier and still serves.
	now = now.Add(2 * time.Hour)

	out, err = adapter.FetchData(context.Background(), commute.TransitParams{Location: "tacoma"})
	require.NoError(t, err)
	assert.Equal(t, commute.StatusFallback, out.Status)
	assert.Equal(t, "cached_fallback", out.Record.Source)
	assert.True(t, out.Record.Cached)
}

func TestTransitAdapterRealtimeFeeds(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/alerts", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"entity": []}`))
	})
	mux.HandleFunc("/vehicles", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"entity": [{"id": "v1", "vehicle": {"vehicle": {"id": "bus-88"}, "trip": {"route_id": "40"}, "position": {"latitude": 47.62, "longitude": -122.34}, "timestamp": 1712000100}}]}`))
	})
	mux.HandleFunc("/updates", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"entity": [{"id": "u1", "trip_update": {"trip": {"trip_id": "trip-9", "route_id": "40"}, "delay": 180}}]}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	adapter := NewTransitAdapter(srv.URL+"/alerts", srv.URL+"/vehicles", srv.URL+"/updates", testDeps(t, nil))

	out, err := adapter.FetchData(context.Background(), commute.TransitParams{Location: "seattle", IncludeRealtime: true})
	require.NoError(t, err)
	assert.Equal(t, commute.StatusLive, out.Status)
	require.Len(t, out.Record.VehiclePositions, 1)
	assert.Equal(t, "bus-88", out.Record.VehiclePositions[0].VehicleID)
	require.Len(t, out.Record.TripUpdates, 1)
	assert.Equal(t, 180, out.Record.TripUpdates[0].DelaySeconds)
}
