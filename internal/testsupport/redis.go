package testsupport

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/redis"

	"github.com/switchyard-pay/switchyard/internal/cache"
	"github.com/switchyard-pay/switchyard/internal/config"
)

// RedisContainer is a throwaway Redis with a client and a rule cache on top.
type RedisContainer struct {
	Container testcontainers.Container
	Client    *goredis.Client
	Cache     *cache.RedisCache
	URL       string
}

// Terminate closes the client and removes the container.
func (c *RedisContainer) Terminate(ctx context.Context) error {
	_ = c.Client.Close()
	return c.Container.Terminate(ctx)
}

// Reset drops every key, for suites that share one container.
func (c *RedisContainer) Reset(ctx context.Context) error {
	return c.Client.FlushDB(ctx).Err()
}

// StartRedisContainer runs redis:7-alpine and connects through the
// production client factory using the container's redis:// URL.
func StartRedisContainer(ctx context.Context) (*RedisContainer, error) {
	ctr, err := redis.Run(ctx, "redis:7-alpine")
	if err != nil {
		return nil, fmt.Errorf("failed to start redis container: %w", err)
	}

	url, err := ctr.ConnectionString(ctx)
	if err != nil {
		_ = ctr.Terminate(ctx)
		return nil, fmt.Errorf("failed to get redis connection string: %w", err)
	}

	client, err := cache.NewRedisClient(ctx, &config.RedisConfig{
		URL:            url,
		PoolSize:       10,
		DialTimeout:    5 * time.Second,
		ReadTimeout:    3 * time.Second,
		WriteTimeout:   3 * time.Second,
		PingMaxRetries: 5,
		PingBackoff:    time.Second,
	})
	if err != nil {
		_ = ctr.Terminate(ctx)
		return nil, fmt.Errorf("failed to create redis client: %w", err)
	}

	return &RedisContainer{
		Container: ctr,
		Client:    client,
		Cache:     cache.NewRedisCache(client, cache.DefaultTTL),
		URL:       url,
	}, nil
}
