// Package metrics collects per-upstream operational counters: call and error
// counts, cumulative latency, and parameter-cache hits and misses. The
// collector is explicitly constructed and injected into the adapters; there
// is no package-level state.
package metrics

import (
	"sync"
	"time"
)

// Stats is a point-in-time view of one API's counters.
type Stats struct {
	Calls        int64   `json:"calls"`
	Errors       int64   `json:"errors"`
	AvgLatencyMS float64 `json:"avg_latency_ms"`
	CacheHits    int64   `json:"cache_hits"`
	CacheMisses  int64   `json:"cache_misses"`
}

type counters struct {
	calls        int64
	errors       int64
	totalLatency time.Duration
	cacheHits    int64
	cacheMisses  int64
}

// Collector accumulates counters keyed by API name. Methods are safe on a
// nil receiver and discard their input, so optional wiring never needs a
// guard at the call site.
type Collector struct {
	mu   sync.Mutex
	apis map[string]*counters
}

func NewCollector() *Collector {
	return &Collector{apis: make(map[string]*counters)}
}

// RecordCall counts one upstream request with its latency; a non-nil err
// also counts as an error.
func (c *Collector) RecordCall(api string, latency time.Duration, err error) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.bucket(api)
	s.calls++
	s.totalLatency += latency
	if err != nil {
		s.errors++
	}
}

// RecordCacheHit counts one parameter-cache hit.
func (c *Collector) RecordCacheHit(api string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bucket(api).cacheHits++
}

// RecordCacheMiss counts one parameter-cache miss.
func (c *Collector) RecordCacheMiss(api string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bucket(api).cacheMisses++
}

// Snapshot returns a copy of every API's counters for the diagnostics route.
func (c *Collector) Snapshot() map[string]Stats {
	if c == nil {
		return map[string]Stats{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := make(map[string]Stats, len(c.apis))
	for api, s := range c.apis {
		stats := Stats{
			Calls:       s.calls,
			Errors:      s.errors,
			CacheHits:   s.cacheHits,
			CacheMisses: s.cacheMisses,
		}
		if s.calls > 0 {
			stats.AvgLatencyMS = float64(s.totalLatency.Microseconds()) / 1000 / float64(s.calls)
		}
		snap[api] = stats
	}
	return snap
}

// bucket returns the counters for api; callers hold the mutex.
func (c *Collector) bucket(api string) *counters {
	s, ok := c.apis[api]
	if !ok {
		s = &counters{}
		c.apis[api] = s
	}
	return s
}
