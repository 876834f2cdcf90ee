package cache

import (
	"context"
	"errors"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// tagSeparator joins the type tag and the cache key in the companion tag key.
// Both tags and keys use ':' internally, so a distinct separator keeps the
// key recoverable.
const tagSeparator = "|"

// Redis is the production Cache backend. Expiry is delegated to Redis TTLs.
// Each entry gets a companion "tag:{typeTag}|{key}" key with the same TTL so
// Invalidate can match on type-tag prefixes.
type Redis struct {
	client *redis.Client
	log    *zap.Logger
}

// NewRedis wraps an already-connected client.
func NewRedis(client *redis.Client, log *zap.Logger) *Redis {
	return &Redis{client: client, log: log}
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool) {
	payload, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			r.log.Warn("cache get failed", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}
	return payload, true
}

func (r *Redis) Set(ctx context.Context, key string, payload []byte, dataType, subtype string) error {
	tag := TypeTag(dataType, subtype)
	ttl := TTLFor(dataType, subtype)

	pipe := r.client.Pipeline()
	pipe.Set(ctx, key, payload, ttl)
	pipe.Set(ctx, tagKey(tag, key), "", ttl)
	_, err := pipe.Exec(ctx)
	return err
}

func (r *Redis) Invalidate(ctx context.Context, tagPrefix string) (int, error) {
	tagKeys, err := r.client.Keys(ctx, "tag:"+tagPrefix+"*").Result()
	if err != nil {
		return 0, err
	}
	if len(tagKeys) == 0 {
		return 0, nil
	}

	toDelete := make([]string, 0, len(tagKeys)*2)
	removed := 0
	for _, tk := range tagKeys {
		if key, ok := keyFromTagKey(tk); ok {
			toDelete = append(toDelete, key)
			removed++
		}
		toDelete = append(toDelete, tk)
	}

	if err := r.client.Del(ctx, toDelete...).Err(); err != nil {
		return 0, err
	}
	return removed, nil
}

func (r *Redis) Stats(ctx context.Context) (Stats, error) {
	tagKeys, err := r.client.Keys(ctx, "tag:*").Result()
	if err != nil {
		return Stats{}, err
	}

	stats := Stats{BySource: make(map[string]int)}
	for _, tk := range tagKeys {
		tag := strings.TrimPrefix(tk, "tag:")
		if i := strings.Index(tag, tagSeparator); i >= 0 {
			tag = tag[:i]
		}
		source, _, _ := strings.Cut(tag, ":")
		stats.TotalEntries++
		stats.BySource[source]++
	}
	return stats, nil
}

func tagKey(tag, key string) string {
	return "tag:" + tag + tagSeparator + key
}

// keyFromTagKey recovers the cache key from a companion tag key.
func keyFromTagKey(tk string) (string, bool) {
	rest := strings.TrimPrefix(tk, "tag:")
	_, key, found := strings.Cut(rest, tagSeparator)
	return key, found
}
