package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/switchyard-pay/switchyard/internal/observability"
	"github.com/switchyard-pay/switchyard/internal/ruleengine"
)

// KeyPrefix is the namespace used for tenant snapshots in Redis.
// Example: "rules:acme"
const KeyPrefix = "rules"

// GenerationPrefix namespaces the per-tenant invalidation counters.
// Example: "rulegen:acme"
const GenerationPrefix = "rulegen"

const redisBackend = "redis"

var _ RuleCache = (*RedisCache)(nil)

// RedisCache stores tenant snapshots as JSON strings with a Redis TTL.
// Being shared by every replica, an invalidation is visible cluster-wide.
// Snapshot writes WATCH the tenant generation key, so a refill that raced an
// invalidation on any replica is discarded.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache wraps an already connected client (see NewRedisClient).
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	if client == nil {
		panic("cache: redis client cannot be nil")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisCache{client: client, ttl: ttl}
}

func snapshotKey(companyID string) string {
	return fmt.Sprintf("%s:%s", KeyPrefix, companyID)
}

func generationKey(companyID string) string {
	return fmt.Sprintf("%s:%s", GenerationPrefix, companyID)
}

func (c *RedisCache) Get(ctx context.Context, companyID string) ([]ruleengine.Rule, bool, error) {
	data, err := c.client.Get(ctx, snapshotKey(companyID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			observability.CacheMisses.WithLabelValues(redisBackend).Inc()
			return nil, false, nil
		}
		observability.CacheErrors.WithLabelValues(redisBackend, "get").Inc()
		return nil, false, fmt.Errorf("failed to read rules of %q from cache: %w", companyID, err)
	}

	var rules []ruleengine.Rule
	if err := json.Unmarshal(data, &rules); err != nil {
		// A corrupted snapshot behaves like a miss; the caller repopulates it.
		observability.CacheErrors.WithLabelValues(redisBackend, "decode").Inc()
		return nil, false, fmt.Errorf("failed to decode rules of %q: %w", companyID, err)
	}

	observability.CacheHits.WithLabelValues(redisBackend).Inc()
	return rules, true, nil
}

func (c *RedisCache) Generation(ctx context.Context, companyID string) (uint64, error) {
	gen, err := c.client.Get(ctx, generationKey(companyID)).Uint64()
	if err != nil && !errors.Is(err, redis.Nil) {
		observability.CacheErrors.WithLabelValues(redisBackend, "generation").Inc()
		return 0, fmt.Errorf("failed to read cache generation of %q: %w", companyID, err)
	}
	return gen, nil
}

func (c *RedisCache) Set(ctx context.Context, companyID string, generation uint64, rules []ruleengine.Rule) (bool, error) {
	if rules == nil {
		rules = []ruleengine.Rule{}
	}
	data, err := json.Marshal(rules)
	if err != nil {
		return false, fmt.Errorf("failed to encode rules of %q: %w", companyID, err)
	}

	genKey := generationKey(companyID)
	stored := false
	err = c.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, genKey).Uint64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if current != generation {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, snapshotKey(companyID), data, c.ttl)
			return nil
		})
		if err == nil {
			stored = true
		}
		return err
	}, genKey)

	switch {
	case errors.Is(err, redis.TxFailedErr):
		// the generation moved between WATCH and EXEC
	case err != nil:
		observability.CacheErrors.WithLabelValues(redisBackend, "set").Inc()
		return false, fmt.Errorf("failed to write rules of %q to cache: %w", companyID, err)
	}
	if !stored {
		observability.CacheStaleWrites.WithLabelValues(redisBackend).Inc()
	}
	return stored, nil
}

func (c *RedisCache) Invalidate(ctx context.Context, companyID string) error {
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, generationKey(companyID))
		pipe.Del(ctx, snapshotKey(companyID))
		return nil
	})
	if err != nil {
		observability.CacheErrors.WithLabelValues(redisBackend, "invalidate").Inc()
		return fmt.Errorf("failed to invalidate rules of %q: %w", companyID, err)
	}
	observability.CacheInvalidations.WithLabelValues(redisBackend).Inc()
	return nil
}
