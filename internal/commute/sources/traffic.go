package sources

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ucommute/commute-data-aggregation/internal/breaker"
	"github.com/ucommute/commute-data-aggregation/internal/cache"
	"github.com/ucommute/commute-data-aggregation/internal/commute"
)

const (
	trafficAPIName     = "traffic"
	trafficFallbackKey = "traffic:fallback"
)

// TrafficAdapter fetches flow and incident data from a TomTom-style pair of
// endpoints. Both sub-requests run concurrently and share one breaker; flow
// is required while an incidents failure degrades to an empty list.
type TrafficAdapter struct {
	flowURL      string
	incidentsURL string
	apiKey       string
	deps         Deps
	cb           *breaker.Breaker
}

func NewTrafficAdapter(flowURL, incidentsURL, apiKey string, deps Deps) *TrafficAdapter {
	return &TrafficAdapter{
		flowURL:      flowURL,
		incidentsURL: incidentsURL,
		apiKey:       apiKey,
		deps:         deps,
		cb:           breaker.New("tomtom", 3, 30*time.Second, deps.Log),
	}
}

func (a *TrafficAdapter) CacheKey(p commute.TrafficParams) string {
	return fmt.Sprintf("traffic:%.4f:%.4f:%d", p.Lat, p.Lon, p.Radius)
}

func (a *TrafficAdapter) CacheTTL() time.Duration {
	return cache.TTLFor("traffic", "flow")
}

func (a *TrafficAdapter) HealthCheck(_ context.Context) bool {
	return a.cb.State() != "OPEN"
}

func (a *TrafficAdapter) Breaker() *breaker.Breaker {
	return a.cb
}

func (a *TrafficAdapter) FetchData(ctx context.Context, p commute.TrafficParams) (commute.Outcome[commute.TrafficRecord], error) {
	if err := validate.Struct(p); err != nil {
		return commute.Outcome[commute.TrafficRecord]{Status: commute.StatusUnavailable, Err: err}, err
	}

	key := a.CacheKey(p)
	if rec, ok := cachedRecord[commute.TrafficRecord](ctx, a.deps.Cache, key); ok {
		a.deps.Metrics.RecordCacheHit(trafficAPIName)
		rec.Cached = true
		return commute.Outcome[commute.TrafficRecord]{Status: commute.StatusCached, Record: rec}, nil
	}
	a.deps.Metrics.RecordCacheMiss(trafficAPIName)

	if !allowCall(ctx, a.deps.Limiter, trafficAPIName, a.deps.Log) {
		return a.fallback(ctx, fmt.Errorf("%w: %s", ErrBudgetExhausted, trafficAPIName))
	}

	var (
		wg           sync.WaitGroup
		rawFlow      commute.RawTrafficFlow
		rawIncidents commute.RawTrafficIncidents
		flowErr      error
		incidentsErr error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		flowErr = fetchJSON(ctx, a.deps, a.cb, trafficAPIName, a.flowRequestURL(p), &rawFlow)
	}()
	go func() {
		defer wg.Done()
		incidentsErr = fetchJSON(ctx, a.deps, a.cb, trafficAPIName, a.incidentsRequestURL(p), &rawIncidents)
	}()
	wg.Wait()

	if flowErr != nil {
		return a.fallback(ctx, flowErr)
	}
	if incidentsErr != nil {
		a.deps.Log.Warn("traffic incidents fetch failed, serving flow only", zap.Error(incidentsErr))
		rawIncidents = commute.RawTrafficIncidents{}
	}

	rec := commute.NormalizeTraffic(rawFlow, rawIncidents)
	rec.Source = "tomtom"
	storeRecord(ctx, a.deps.Cache, a.deps.Log, key, rec, "traffic", "flow")
	storeRecord(ctx, a.deps.Cache, a.deps.Log, trafficFallbackKey, rec, "traffic", "incidents")

	return commute.Outcome[commute.TrafficRecord]{Status: commute.StatusLive, Record: rec}, nil
}

func (a *TrafficAdapter) fallback(ctx context.Context, cause error) (commute.Outcome[commute.TrafficRecord], error) {
	if rec, ok := cachedRecord[commute.TrafficRecord](ctx, a.deps.Cache, trafficFallbackKey); ok {
		rec.Cached = true
		rec.Source = sourceCachedFallback
		a.deps.Log.Info("serving cached traffic fallback", zap.Error(cause))
		return commute.Outcome[commute.TrafficRecord]{Status: commute.StatusFallback, Record: rec, Err: cause}, nil
	}

	if breaker.IsOpen(cause) {
		return commute.Outcome[commute.TrafficRecord]{Status: commute.StatusUnavailable, Err: cause}, cause
	}

	a.deps.Log.Warn("serving default traffic fallback", zap.Error(cause))
	rec := commute.TrafficRecord{
		DataAvailable: false,
		Error:         cause.Error(),
		Incidents:     []commute.TrafficIncident{},
		Source:        sourceDefaultFallback,
		Timestamp:     time.Now().UTC(),
	}
	return commute.Outcome[commute.TrafficRecord]{Status: commute.StatusFallback, Record: rec, Err: cause}, nil
}

func (a *TrafficAdapter) flowRequestURL(p commute.TrafficParams) string {
	q := url.Values{}
	q.Set("point", fmt.Sprintf("%.4f,%.4f", p.Lat, p.Lon))
	q.Set("key", a.apiKey)
	return a.flowURL + "?" + q.Encode()
}

func (a *TrafficAdapter) incidentsRequestURL(p commute.TrafficParams) string {
	// Approximate meters-to-degrees bounding box around the point.
	delta := float64(p.Radius) / 111320.0
	q := url.Values{}
	q.Set("bbox", fmt.Sprintf("%.4f,%.4f,%.4f,%.4f",
		p.Lon-delta, p.Lat-delta, p.Lon+delta, p.Lat+delta))
	q.Set("key", a.apiKey)
	return a.incidentsURL + "?" + q.Encode()
}
