package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// probeKey lives outside the tenant snapshot keyspace.
const probeKey = KeyPrefix + ":__probe"

// HealthChecker reports Redis ready when it accepts writes. Snapshot
// invalidation is a DEL, so a read-only replica is not good enough.
type HealthChecker struct {
	client *redis.Client
}

func NewHealthChecker(client *redis.Client) *HealthChecker {
	return &HealthChecker{client: client}
}

func (h *HealthChecker) Name() string {
	return "redis"
}

func (h *HealthChecker) Check(ctx context.Context) error {
	if h.client == nil {
		return errors.New("redis client is nil")
	}
	if err := h.client.Set(ctx, probeKey, time.Now().UTC().Unix(), 5*time.Second).Err(); err != nil {
		return fmt.Errorf("redis write probe failed: %w", err)
	}
	return nil
}
