//go:build integration

package cache_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/switchyard-pay/switchyard/internal/cache"
	"github.com/switchyard-pay/switchyard/internal/ruleengine"
	"github.com/switchyard-pay/switchyard/internal/testsupport"
)

func TestRedisCache_Integration(t *testing.T) {
	ctx := context.Background()

	rc, err := testsupport.StartRedisContainer(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rc.Terminate(ctx) })

	t.Run("Should report a healthy connection", func(t *testing.T) {
		checker := cache.NewHealthChecker(rc.Client)
		assert.Equal(t, "redis", checker.Name())
		assert.NoError(t, checker.Check(ctx))
	})

	t.Run("Should store snapshots per tenant with a TTL", func(t *testing.T) {
		rules := []ruleengine.Rule{{
			ID:        "r1",
			CompanyID: "acme",
			Name:      "eu",
			Status:    ruleengine.StatusActive,
			Actions:   ruleengine.Actions{ruleengine.RouteToPool{PoolID: "eu-pool"}, ruleengine.Require3DS{}},
		}}
		_, err := rc.Cache.Set(ctx, "acme", 0, rules)
		require.NoError(t, err)

		got, ok, err := rc.Cache.Get(ctx, "acme")
		require.NoError(t, err)
		require.True(t, ok)
		require.Len(t, got, 1)
		assert.Equal(t, rules[0].Actions, got[0].Actions)

		_, ok, err = rc.Cache.Get(ctx, "globex")
		require.NoError(t, err)
		assert.False(t, ok)

		keys, err := rc.Client.Keys(ctx, cache.KeyPrefix+":acme*").Result()
		require.NoError(t, err)
		require.Len(t, keys, 1)
		ttl, err := rc.Client.TTL(ctx, keys[0]).Result()
		require.NoError(t, err)
		assert.Positive(t, ttl)
		assert.LessOrEqual(t, ttl, cache.DefaultTTL)
	})

	t.Run("Should drop the snapshot on invalidation", func(t *testing.T) {
		_, err := rc.Cache.Set(ctx, "initech", 0, []ruleengine.Rule{})
		require.NoError(t, err)
		require.NoError(t, rc.Cache.Invalidate(ctx, "initech"))

		_, ok, err := rc.Cache.Get(ctx, "initech")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("Should forget every tenant after a reset", func(t *testing.T) {
		_, err := rc.Cache.Set(ctx, "acme", 0, []ruleengine.Rule{})
		require.NoError(t, err)
		require.NoError(t, rc.Reset(ctx))

		_, ok, err := rc.Cache.Get(ctx, "acme")
		require.NoError(t, err)
		assert.False(t, ok)
	})
}
