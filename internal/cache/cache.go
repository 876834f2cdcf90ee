// Package cache provides the shared tiered cache for normalized upstream
// records. TTLs are resolved from a static (data type, subtype) table so that
// expiry behavior is reproducible; entries carry a type tag used for
// prefix-based invalidation.
package cache

import "context"

// Cache is the store contract shared by all source adapters and the
// aggregator. Payloads are opaque JSON of previously valid, fully normalized
// records; a present non-expired entry is never a partial result.
type Cache interface {
	// Get returns the stored payload if present and not expired. Expired
	// entries are treated as absent.
	Get(ctx context.Context, key string) ([]byte, bool)

	// Set stores payload under key, overwriting any prior entry. The TTL is
	// resolved from the tier table for (dataType, subtype); unknown pairs
	// fall back to DefaultTTL.
	Set(ctx context.Context, key string, payload []byte, dataType, subtype string) error

	// Invalidate removes every entry whose type tag starts with tagPrefix
	// and returns the number of entries removed.
	Invalidate(ctx context.Context, tagPrefix string) (int, error)

	// Stats reports entry counts per source for the diagnostics endpoint.
	Stats(ctx context.Context) (Stats, error)
}

// Stats summarizes cache occupancy.
type Stats struct {
	TotalEntries int            `json:"total_entries"`
	BySource     map[string]int `json:"by_source"`
}
