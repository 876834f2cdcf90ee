package cache

import (
	"context"
	"strings"
	"sync"
	"time"
)

// entry is a stored payload plus the metadata needed for expiry and
// tag-based invalidation.
type entry struct {
	payload  []byte
	typeTag  string
	storedAt time.Time
	ttl      time.Duration
}

// Memory is a concurrency-safe in-memory Cache. It is the default backend
// when no Redis address is configured, and the backend unit tests run
// against. Expiry is enforced at read time; Sweep exists for memory hygiene
// only and is not required for correctness.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]entry

	// now is replaceable in tests to simulate TTL expiry without sleeping.
	now func() time.Time
}

// MemoryOption configures a Memory cache.
type MemoryOption func(*Memory)

// WithNow overrides the clock used for expiry checks. Intended for tests.
func WithNow(now func() time.Time) MemoryOption {
	return func(m *Memory) {
		m.now = now
	}
}

// NewMemory creates an empty in-memory cache.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		entries: make(map[string]entry),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool) {
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()

	if !ok || m.expired(e) {
		return nil, false
	}

	// Copy so callers cannot mutate the stored payload.
	payload := make([]byte, len(e.payload))
	copy(payload, e.payload)
	return payload, true
}

func (m *Memory) Set(_ context.Context, key string, payload []byte, dataType, subtype string) error {
	stored := make([]byte, len(payload))
	copy(stored, payload)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[key] = entry{
		payload:  stored,
		typeTag:  TypeTag(dataType, subtype),
		storedAt: m.now(),
		ttl:      TTLFor(dataType, subtype),
	}
	return nil
}

func (m *Memory) Invalidate(_ context.Context, tagPrefix string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for key, e := range m.entries {
		if strings.HasPrefix(e.typeTag, tagPrefix) {
			delete(m.entries, key)
			removed++
		}
	}
	return removed, nil
}

func (m *Memory) Stats(_ context.Context) (Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := Stats{BySource: make(map[string]int)}
	for _, e := range m.entries {
		if m.expired(e) {
			continue
		}
		stats.TotalEntries++
		source, _, _ := strings.Cut(e.typeTag, ":")
		stats.BySource[source]++
	}
	return stats, nil
}

// Sweep drops expired entries and returns how many were removed. The
// background refresh job calls this periodically.
func (m *Memory) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for key, e := range m.entries {
		if m.expired(e) {
			delete(m.entries, key)
			removed++
		}
	}
	return removed
}

func (m *Memory) expired(e entry) bool {
	return m.now().After(e.storedAt.Add(e.ttl))
}
