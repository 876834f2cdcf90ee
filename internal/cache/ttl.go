package cache

import (
	"fmt"
	"time"
)

// DefaultTTL applies to any (data type, subtype) pair missing from the tier
// table. Absent entries fail closed to this value rather than guessing.
const DefaultTTL = time.Hour

// tiers maps data type and subtype to the cache TTL for that class of data.
// TTL selection is a pure function of this table, never of wall-clock
// heuristics.
var tiers = map[string]time.Duration{
	"weather:current":         30 * time.Minute,
	"weather:forecast":        2 * time.Hour,
	"weather:historical":      24 * time.Hour,
	"traffic:flow":            5 * time.Minute,
	"traffic:incidents":       10 * time.Minute,
	"traffic:historical":      12 * time.Hour,
	"transit:schedule":        24 * time.Hour,
	"transit:realtime":        time.Minute,
	"transit:alerts":          5 * time.Minute,
	"composite:comprehensive": 2 * time.Minute,
	"composite:dashboard":     2 * time.Minute,
}

// TypeTag builds the tag stored with each entry, "source:subtype".
func TypeTag(dataType, subtype string) string {
	return dataType + ":" + subtype
}

// TTLFor resolves the TTL for a data type and subtype.
func TTLFor(dataType, subtype string) time.Duration {
	if ttl, ok := tiers[TypeTag(dataType, subtype)]; ok {
		return ttl
	}
	return DefaultTTL
}

// ValidateTiers checks the tier table at startup so a bad edit cannot produce
// non-expiring or instantly expiring entries at runtime.
func ValidateTiers() error {
	for tag, ttl := range tiers {
		if ttl <= 0 {
			return fmt.Errorf("cache tier %q has non-positive ttl %s", tag, ttl)
		}
	}
	return nil
}
