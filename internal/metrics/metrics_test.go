package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorRecordsCallsAndErrors(t *testing.T) {
	c := NewCollector()

	c.RecordCall("weather", 40*time.Millisecond, nil)
	c.RecordCall("weather", 60*time.Millisecond, errors.New("boom"))
	c.RecordCall("traffic", 10*time.Millisecond, nil)

	snap := c.Snapshot()
	require.Contains(t, snap, "weather")
	assert.Equal(t, int64(2), snap["weather"].Calls)
	assert.Equal(t, int64(1), snap["weather"].Errors)
	assert.InDelta(t, 50.0, snap["weather"].AvgLatencyMS, 0.01)

	assert.Equal(t, int64(1), snap["traffic"].Calls)
	assert.Equal(t, int64(0), snap["traffic"].Errors)
}

func TestCollectorRecordsCacheCounters(t *testing.T) {
	c := NewCollector()

	c.RecordCacheMiss("transit")
	c.RecordCacheHit("transit")
	c.RecordCacheHit("transit")

	snap := c.Snapshot()
	assert.Equal(t, int64(2), snap["transit"].CacheHits)
	assert.Equal(t, int64(1), snap["transit"].CacheMisses)
	assert.Equal(t, int64(0), snap["transit"].Calls)
}

func TestNilCollectorIsSafe(t *testing.T) {
	var c *Collector

	c.RecordCall("weather", time.Millisecond, nil)
	c.RecordCacheHit("weather")
	c.RecordCacheMiss("weather")

	assert.Empty(t, c.Snapshot())
}
