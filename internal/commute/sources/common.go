// Package sources contains the upstream adapters. Each adapter wraps one
// third-party API behind the commute.SourceAdapter contract: parameter cache
// in front, rate-limit budget and circuit breaker around the HTTP call, and a
// last-known-good fallback behind it.
package sources

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/ucommute/commute-data-aggregation/internal/breaker"
	"github.com/ucommute/commute-data-aggregation/internal/cache"
	"github.com/ucommute/commute-data-aggregation/internal/metrics"
	"github.com/ucommute/commute-data-aggregation/internal/ratelimit"
)

// Source labels recorded on outgoing records.
const (
	sourceCachedFallback  = "cached_fallback"
	sourceDefaultFallback = "default_fallback"
)

var (
	// ErrUpstreamStatus marks a non-2xx upstream response.
	ErrUpstreamStatus = errors.New("unexpected upstream status")
	// ErrBudgetExhausted marks a call blocked by the rate limiter.
	ErrBudgetExhausted = errors.New("api budget exhausted")
	// ErrUpstreamPayload marks a 2xx response whose body is an error payload.
	ErrUpstreamPayload = errors.New("upstream error payload")
)

var validate = validator.New()

// Deps bundles the shared infrastructure every adapter needs. Metrics may
// be nil; the collector discards on a nil receiver.
type Deps struct {
	Client  *http.Client
	Cache   cache.Cache
	Limiter ratelimit.Limiter
	Metrics *metrics.Collector
	Log     *zap.Logger
}

// fetchJSON performs one GET through the circuit breaker and decodes the
// body into out, recording the call and its latency under api. There is no
// retry: a failed request counts against the breaker and the caller falls
// back.
func fetchJSON(ctx context.Context, deps Deps, cb *breaker.Breaker, api, url string, out interface{}) error {
	start := time.Now()
	_, err := cb.Run(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		resp, err := deps.Client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, fmt.Errorf("%w: %d from %s", ErrUpstreamStatus, resp.StatusCode, cb.Name())
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return nil, fmt.Errorf("decode %s response: %w", cb.Name(), err)
		}
		return nil, nil
	})
	deps.Metrics.RecordCall(api, time.Since(start), err)
	return err
}

// allowCall consumes one unit of the named API's budget. A limiter backend
// error fails open so a Redis outage cannot take the whole service down.
func allowCall(ctx context.Context, limiter ratelimit.Limiter, apiName string, log *zap.Logger) bool {
	ok, err := limiter.Allow(ctx, apiName)
	if err != nil {
		log.Warn("rate limiter unavailable, allowing call",
			zap.String("api", apiName), zap.Error(err))
		return true
	}
	return ok
}

// cachedRecord loads and decodes a cached record. A corrupt payload is
// treated as a miss.
func cachedRecord[R any](ctx context.Context, c cache.Cache, key string) (R, bool) {
	var zero R
	payload, ok := c.Get(ctx, key)
	if !ok {
		return zero, false
	}
	var rec R
	if err := json.Unmarshal(payload, &rec); err != nil {
		return zero, false
	}
	return rec, true
}

// storeRecord encodes and writes a record under the tier for its data type.
// Cache write failures are logged, never surfaced: a fetch that produced a
// record must not fail because the cache did.
func storeRecord(ctx context.Context, c cache.Cache, log *zap.Logger, key string, rec interface{}, dataType, subtype string) {
	payload, err := json.Marshal(rec)
	if err != nil {
		log.Warn("cache encode failed", zap.String("key", key), zap.Error(err))
		return
	}
	if err := c.Set(ctx, key, payload, dataType, subtype); err != nil {
		log.Warn("cache write failed", zap.String("key", key), zap.Error(err))
	}
}
