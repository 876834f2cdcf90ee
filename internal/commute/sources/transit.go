package sources

import (
	"context"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ucommute/commute-data-aggregation/internal/breaker"
	"github.com/ucommute/commute-data-aggregation/internal/cache"
	"github.com/ucommute/commute-data-aggregation/internal/commute"
)

const (
	transitAPIName     = "transit"
	transitFallbackKey = "transit:fallback"
)

// TransitAdapter fetches GTFS-RT JSON feeds for one transit system. The
// alerts feed is required; vehicle positions and trip updates are fetched
// only when the caller asks for realtime data, and their failures degrade to
// empty slices.
type TransitAdapter struct {
	alertsURL   string
	vehiclesURL string
	updatesURL  string
	deps        Deps
	cb          *breaker.Breaker
}

func NewTransitAdapter(alertsURL, vehiclesURL, updatesURL string, deps Deps) *TransitAdapter {
	return &TransitAdapter{
		alertsURL:   alertsURL,
		vehiclesURL: vehiclesURL,
		updatesURL:  updatesURL,
		deps:        deps,
		cb:          breaker.New("transit-feed", 3, 5*time.Minute, deps.Log),
	}
}

// CacheKey builds "transit:{location}[:route:{id}][:stop:{id}]". Requests
// with realtime feeds get an extra ":rt" segment so they never collide with
// the alerts-only entry for the same location.
func (a *TransitAdapter) CacheKey(p commute.TransitParams) string {
	var b strings.Builder
	b.WriteString("transit:")
	b.WriteString(p.Location)
	if p.RouteID != "" {
		b.WriteString(":route:")
		b.WriteString(p.RouteID)
	}
	if p.StopID != "" {
		b.WriteString(":stop:")
		b.WriteString(p.StopID)
	}
	if p.IncludeRealtime {
		b.WriteString(":rt")
	}
	return b.String()
}

func (a *TransitAdapter) CacheTTL() time.Duration {
	return cache.TTLFor("transit", "realtime")
}

func (a *TransitAdapter) HealthCheck(_ context.Context) bool {
	return a.cb.State() != "OPEN"
}

func (a *TransitAdapter) Breaker() *breaker.Breaker {
	return a.cb
}

func (a *TransitAdapter) FetchData(ctx context.Context, p commute.TransitParams) (commute.Outcome[commute.TransitRecord], error) {
	if err := validate.Struct(p); err != nil {
		return commute.Outcome[commute.TransitRecord]{Status: commute.StatusUnavailable, Err: err}, err
	}

	key := a.CacheKey(p)
	if rec, ok := cachedRecord[commute.TransitRecord](ctx, a.deps.Cache, key); ok {
		a.deps.Metrics.RecordCacheHit(transitAPIName)
		rec.Cached = true
		return commute.Outcome[commute.TransitRecord]{Status: commute.StatusCached, Record: rec}, nil
	}
	a.deps.Metrics.RecordCacheMiss(transitAPIName)

	if !allowCall(ctx, a.deps.Limiter, transitAPIName, a.deps.Log) {
		return a.fallback(ctx, fmt.Errorf("%w: %s", ErrBudgetExhausted, transitAPIName))
	}

	var (
		wg        sync.WaitGroup
		alerts    commute.RawTransitFeed
		vehicles  commute.RawTransitFeed
		updates   commute.RawTransitFeed
		alertsErr error
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		alertsErr = fetchJSON(ctx, a.deps, a.cb, transitAPIName, a.feedURL(a.alertsURL, p.Location), &alerts)
	}()

	if p.IncludeRealtime {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if err := fetchJSON(ctx, a.deps, a.cb, transitAPIName, a.feedURL(a.vehiclesURL, p.Location), &vehicles); err != nil {
				a.deps.Log.Warn("vehicle positions fetch failed", zap.Error(err))
				vehicles = commute.RawTransitFeed{}
			}
		}()
		go func() {
			defer wg.Done()
			if err := fetchJSON(ctx, a.deps, a.cb, transitAPIName, a.feedURL(a.updatesURL, p.Location), &updates); err != nil {
				a.deps.Log.Warn("trip updates fetch failed", zap.Error(err))
				updates = commute.RawTransitFeed{}
			}
		}()
	}

	wg.Wait()

	if alertsErr != nil {
		return a.fallback(ctx, alertsErr)
	}

	rec := commute.NormalizeTransit(alerts, vehicles, updates)
	rec.Alerts = filterAlerts(rec.Alerts, p.RouteID, p.StopID)
	rec.Source = "gtfs-rt"
	storeRecord(ctx, a.deps.Cache, a.deps.Log, key, rec, "transit", "realtime")
	// Last-known-good lives on the long schedule tier, not the 60s realtime
	// tier, so it still exists when the feed has been down for a while.
	storeRecord(ctx, a.deps.Cache, a.deps.Log, transitFallbackKey, rec, "transit", "schedule")

	return commute.Outcome[commute.TransitRecord]{Status: commute.StatusLive, Record: rec}, nil
}

func (a *TransitAdapter) fallback(ctx context.Context, cause error) (commute.Outcome[commute.TransitRecord], error) {
	if rec, ok := cachedRecord[commute.TransitRecord](ctx, a.deps.Cache, transitFallbackKey); ok {
		rec.Cached = true
		rec.Source = sourceCachedFallback
		a.deps.Log.Info("serving cached transit fallback", zap.Error(cause))
		return commute.Outcome[commute.TransitRecord]{Status: commute.StatusFallback, Record: rec, Err: cause}, nil
	}

	if breaker.IsOpen(cause) {
		return commute.Outcome[commute.TransitRecord]{Status: commute.StatusUnavailable, Err: cause}, cause
	}

	a.deps.Log.Warn("serving default transit fallback", zap.Error(cause))
	rec := commute.TransitRecord{
		DataAvailable: false,
		Error:         cause.Error(),
		Alerts:        []commute.TransitAlert{},
		Source:        sourceDefaultFallback,
		Timestamp:     time.Now().UTC(),
	}
	return commute.Outcome[commute.TransitRecord]{Status: commute.StatusFallback, Record: rec, Err: cause}, nil
}

// filterAlerts keeps alerts affecting the requested route or stop. Alerts
// with no informed entities are system-wide and always kept.
func filterAlerts(alerts []commute.TransitAlert, routeID, stopID string) []commute.TransitAlert {
	if routeID == "" && stopID == "" {
		return alerts
	}
	kept := make([]commute.TransitAlert, 0, len(alerts))
	for _, alert := range alerts {
		if len(alert.AffectedRoutes) == 0 && len(alert.AffectedStops) == 0 {
			kept = append(kept, alert)
			continue
		}
		if routeID != "" && slices.Contains(alert.AffectedRoutes, routeID) {
			kept = append(kept, alert)
			continue
		}
		if stopID != "" && slices.Contains(alert.AffectedStops, stopID) {
			kept = append(kept, alert)
		}
	}
	return kept
}

func (a *TransitAdapter) feedURL(base, location string) string {
	q := url.Values{}
	q.Set("region", location)
	return base + "?" + q.Encode()
}
