package sources

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/ucommute/commute-data-aggregation/internal/breaker"
	"github.com/ucommute/commute-data-aggregation/internal/cache"
	"github.com/ucommute/commute-data-aggregation/internal/commute"
)

const (
	weatherAPIName     = "weather"
	weatherFallbackKey = "weather:fallback"
	defaultUnits       = "imperial"
)

// WeatherAdapter fetches current conditions from an OpenWeatherMap-style
// endpoint.
type WeatherAdapter struct {
	baseURL string
	apiKey  string
	deps    Deps
	cb      *breaker.Breaker
}

func NewWeatherAdapter(baseURL, apiKey string, deps Deps) *WeatherAdapter {
	return &WeatherAdapter{
		baseURL: baseURL,
		apiKey:  apiKey,
		deps:    deps,
		cb:      breaker.New("openweathermap", 3, time.Minute, deps.Log),
	}
}

func (a *WeatherAdapter) CacheKey(p commute.WeatherParams) string {
	units := p.Units
	if units == "" {
		units = defaultUnits
	}
	return fmt.Sprintf("weather:%.4f:%.4f:%s", p.Lat, p.Lon, units)
}

func (a *WeatherAdapter) CacheTTL() time.Duration {
	return cache.TTLFor("weather", "current")
}

// HealthCheck reports whether the upstream is currently callable. It reads
// the breaker state instead of probing the API so health polls never burn
// budget.
func (a *WeatherAdapter) HealthCheck(_ context.Context) bool {
	return a.cb.State() != "OPEN"
}

// Breaker exposes the adapter's circuit breaker for diagnostics.
func (a *WeatherAdapter) Breaker() *breaker.Breaker {
	return a.cb
}

// FetchData resolves one weather lookup: parameter cache first, then a
// budget-gated live call, then the fallback chain.
func (a *WeatherAdapter) FetchData(ctx context.Context, p commute.WeatherParams) (commute.Outcome[commute.WeatherRecord], error) {
	if err := validate.Struct(p); err != nil {
		return commute.Outcome[commute.WeatherRecord]{Status: commute.StatusUnavailable, Err: err}, err
	}

	key := a.CacheKey(p)
	if rec, ok := cachedRecord[commute.WeatherRecord](ctx, a.deps.Cache, key); ok {
		a.deps.Metrics.RecordCacheHit(weatherAPIName)
		rec.Cached = true
		return commute.Outcome[commute.WeatherRecord]{Status: commute.StatusCached, Record: rec}, nil
	}
	a.deps.Metrics.RecordCacheMiss(weatherAPIName)

	if !allowCall(ctx, a.deps.Limiter, weatherAPIName, a.deps.Log) {
		return a.fallback(ctx, fmt.Errorf("%w: %s", ErrBudgetExhausted, weatherAPIName))
	}

	var raw commute.RawWeather
	if err := fetchJSON(ctx, a.deps, a.cb, weatherAPIName, a.requestURL(p), &raw); err != nil {
		return a.fallback(ctx, err)
	}

	rec := commute.NormalizeWeather(raw)
	// An upstream error payload arrives with a 2xx status; it must never be
	// cached as a valid record, or it would mask retries for the full TTL.
	if !rec.DataAvailable {
		return a.fallback(ctx, fmt.Errorf("%w: %s", ErrUpstreamPayload, rec.Error))
	}
	rec.Source = "openweathermap"
	storeRecord(ctx, a.deps.Cache, a.deps.Log, key, rec, "weather", "current")
	storeRecord(ctx, a.deps.Cache, a.deps.Log, weatherFallbackKey, rec, "weather", "historical")

	return commute.Outcome[commute.WeatherRecord]{Status: commute.StatusLive, Record: rec}, nil
}

// fallback resolves the degraded path: last-known-good from the cache if
// present, a minimal default record otherwise. An open breaker with no
// cached fallback is surfaced as unavailable so callers see the outage.
func (a *WeatherAdapter) fallback(ctx context.Context, cause error) (commute.Outcome[commute.WeatherRecord], error) {
	if rec, ok := cachedRecord[commute.WeatherRecord](ctx, a.deps.Cache, weatherFallbackKey); ok {
		rec.Cached = true
		rec.Source = sourceCachedFallback
		a.deps.Log.Info("serving cached weather fallback", zap.Error(cause))
		return commute.Outcome[commute.WeatherRecord]{Status: commute.StatusFallback, Record: rec, Err: cause}, nil
	}

	if breaker.IsOpen(cause) {
		return commute.Outcome[commute.WeatherRecord]{Status: commute.StatusUnavailable, Err: cause}, cause
	}

	a.deps.Log.Warn("serving default weather fallback", zap.Error(cause))
	rec := commute.WeatherRecord{
		DataAvailable: false,
		Error:         cause.Error(),
		Source:        sourceDefaultFallback,
		Timestamp:     time.Now().UTC(),
	}
	return commute.Outcome[commute.WeatherRecord]{Status: commute.StatusFallback, Record: rec, Err: cause}, nil
}

func (a *WeatherAdapter) requestURL(p commute.WeatherParams) string {
	units := p.Units
	if units == "" {
		units = defaultUnits
	}
	q := url.Values{}
	q.Set("lat", strconv.FormatFloat(p.Lat, 'f', 4, 64))
	q.Set("lon", strconv.FormatFloat(p.Lon, 'f', 4, 64))
	q.Set("units", units)
	q.Set("appid", a.apiKey)
	return a.baseURL + "?" + q.Encode()
}
