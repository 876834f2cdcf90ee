package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTTLForKnownAndUnknownTiers(t *testing.T) {
	assert.Equal(t, 30*time.Minute, TTLFor("weather", "current"))
	assert.Equal(t, 10*time.Minute, TTLFor("traffic", "incidents"))
	assert.Equal(t, time.Minute, TTLFor("transit", "realtime"))
	assert.Equal(t, 2*time.Minute, TTLFor("composite", "comprehensive"))

	// Unknown pairs fail closed to the default.
	assert.Equal(t, DefaultTTL, TTLFor("weather", "bogus"))
	assert.Equal(t, DefaultTTL, TTLFor("nope", "nope"))
}

func TestValidateTiers(t *testing.T) {
	require.NoError(t, ValidateTiers())
}

func TestMemorySetThenGet(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	require.NoError(t, m.Set(ctx, "weather:1:2:metric", []byte(`{"a":1}`), "weather", "current"))

	payload, ok := m.Get(ctx, "weather:1:2:metric")
	require.True(t, ok)
	assert.Equal(t, []byte(`{"a":1}`), payload)

	_, ok = m.Get(ctx, "missing")
	assert.False(t, ok)
}

func TestMemoryExpiryWithSimulatedClock(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	m := NewMemory(WithNow(func() time.Time { return now }))

	require.NoError(t, m.Set(ctx, "transit:seattle", []byte("x"), "transit", "realtime"))

	_, ok := m.Get(ctx, "transit:seattle")
	require.True(t, ok)

	// Just inside the 60s realtime TTL.
	now = now.Add(59 * time.Second)
	_, ok = m.Get(ctx, "transit:seattle")
	assert.True(t, ok)

	// Past it: treated as absent.
	now = now.Add(2 * time.Second)
	_, ok = m.Get(ctx, "transit:seattle")
	assert.False(t, ok)
}

func TestMemoryOverwrite(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	require.NoError(t, m.Set(ctx, "k", []byte("old"), "weather", "current"))
	require.NoError(t, m.Set(ctx, "k", []byte("new"), "weather", "current"))

	payload, ok := m.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, []byte("new"), payload)
}

func TestMemoryInvalidateByTagPrefix(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	m.Set(ctx, "weather:1", []byte("a"), "weather", "current")
	m.Set(ctx, "weather:2", []byte("b"), "weather", "forecast")
	m.Set(ctx, "traffic:1", []byte("c"), "traffic", "flow")

	removed, err := m.Invalidate(ctx, "weather:")
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	_, ok := m.Get(ctx, "weather:1")
	assert.False(t, ok)
	_, ok = m.Get(ctx, "traffic:1")
	assert.True(t, ok)

	// Full tag match removes only that subtype.
	m.Set(ctx, "weather:1", []byte("a"), "weather", "current")
	m.Set(ctx, "weather:2", []byte("b"), "weather", "forecast")

	removed, err = m.Invalidate(ctx, "weather:forecast")
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
}

func TestMemorySweepDropsExpiredOnly(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	m := NewMemory(WithNow(func() time.Time { return now }))

	m.Set(ctx, "transit:a", []byte("x"), "transit", "realtime") // 60s TTL
	m.Set(ctx, "weather:a", []byte("y"), "weather", "current")  // 30m TTL

	now = now.Add(5 * time.Minute)
	assert.Equal(t, 1, m.Sweep())

	stats, err := m.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalEntries)
	assert.Equal(t, 1, stats.BySource["weather"])
}
