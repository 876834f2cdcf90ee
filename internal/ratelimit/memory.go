package ratelimit

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Memory is the in-process Limiter used when no Redis address is configured.
// Counters are mutex-guarded so the increment-and-check is atomic.
type Memory struct {
	mu      sync.Mutex
	counts  map[string]int
	budgets map[string]Budget
	now     func() time.Time
}

// MemoryOption configures a Memory limiter.
type MemoryOption func(*Memory)

// WithNow overrides the clock used for bucketing. Intended for tests.
func WithNow(now func() time.Time) MemoryOption {
	return func(m *Memory) {
		m.now = now
	}
}

// NewMemory creates a limiter with the given budgets; nil selects
// DefaultBudgets.
func NewMemory(budgets map[string]Budget, opts ...MemoryOption) *Memory {
	if budgets == nil {
		budgets = DefaultBudgets
	}
	m := &Memory{
		counts:  make(map[string]int),
		budgets: budgets,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Memory) Allow(_ context.Context, apiName string) (bool, error) {
	budget := budgetFor(m.budgets, apiName)

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.prune(now)

	dk, hk := dailyKey(apiName, now), hourlyKey(apiName, now)
	m.counts[dk]++
	m.counts[hk]++

	return m.counts[dk] <= budget.Daily && m.counts[hk] <= budget.Hourly, nil
}

func (m *Memory) Usage(_ context.Context, apiName string) (Usage, error) {
	budget := budgetFor(m.budgets, apiName)

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	return usageOf(apiName, budget, m.counts[dailyKey(apiName, now)], m.counts[hourlyKey(apiName, now)]), nil
}

// prune drops buckets from past days/hours; the live buckets all embed the
// current timestamps, so anything else is stale.
func (m *Memory) prune(now time.Time) {
	day := now.UTC().Format("2006-01-02")
	hour := now.UTC().Format("2006-01-02-15")
	for key := range m.counts {
		switch {
		case strings.Contains(key, ":daily:") && !strings.HasSuffix(key, day):
			delete(m.counts, key)
		case strings.Contains(key, ":hourly:") && !strings.HasSuffix(key, hour):
			delete(m.counts, key)
		}
	}
}
