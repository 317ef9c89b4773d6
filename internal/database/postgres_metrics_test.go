//go:build integration

package database_test

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/switchyard-pay/switchyard/internal/database"
	"github.com/switchyard-pay/switchyard/internal/testsupport"
)

func poolGauge(t *testing.T, state string) float64 {
	return testsupport.GetMetricValue(t, "switchyard_database_pool_connections", map[string]string{"state": state})
}

func TestDatabase_Integration(t *testing.T) {
	ctx := context.Background()
	pg, err := testsupport.StartPostgresContainer(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pg.Terminate(context.Background()) })

	// The shared pool is capped at MaxConns=5.
	pool := pg.DB

	monitorCtx, stopMonitor := context.WithCancel(ctx)
	t.Cleanup(stopMonitor)
	go database.RunPoolMonitor(monitorCtx, pool, 10*time.Millisecond)

	t.Run("Should apply session settings to pooled connections", func(t *testing.T) {
		var app, timeout string
		require.NoError(t, pool.QueryRow(ctx, "SHOW application_name").Scan(&app))
		require.NoError(t, pool.QueryRow(ctx, "SHOW statement_timeout").Scan(&timeout))
		assert.Equal(t, "switchyard-test", app)
		assert.Equal(t, "10s", timeout)
	})

	t.Run("Should report the schema checker ready once migrations ran", func(t *testing.T) {
		checker := database.NewSchemaChecker(pool)
		assert.Equal(t, "postgres", checker.Name())
		assert.NoError(t, checker.Check(ctx))
	})

	t.Run("Should name the missing routing tables", func(t *testing.T) {
		_, err := pool.Exec(ctx, "ALTER TABLE routing_decision_logs RENAME TO routing_decision_logs_old")
		require.NoError(t, err)
		defer func() {
			_, err := pool.Exec(ctx, "ALTER TABLE routing_decision_logs_old RENAME TO routing_decision_logs")
			require.NoError(t, err)
		}()

		err = database.NewSchemaChecker(pool).Check(ctx)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "routing_decision_logs")
		assert.NotContains(t, err.Error(), "routing_rules")
	})

	t.Run("Should fail the schema check on a closed pool", func(t *testing.T) {
		cfg, err := pgxpool.ParseConfig(pg.ConnectionString)
		require.NoError(t, err)
		closed, err := pgxpool.NewWithConfig(ctx, cfg)
		require.NoError(t, err)
		closed.Close()

		assert.Error(t, database.NewSchemaChecker(closed).Check(ctx))
	})

	t.Run("Should publish the configured pool size", func(t *testing.T) {
		require.Eventually(t, func() bool {
			return poolGauge(t, "max") == 5
		}, 2*time.Second, 10*time.Millisecond)
	})

	t.Run("Should track connections held by rule queries", func(t *testing.T) {
		held := make([]*pgxpool.Conn, 0, 2)
		for range 2 {
			c, err := pool.Acquire(ctx)
			require.NoError(t, err)
			held = append(held, c)
		}

		require.Eventually(t, func() bool {
			return poolGauge(t, "in_use") == 2
		}, 2*time.Second, 10*time.Millisecond, "in_use gauge did not follow acquisitions")

		for _, c := range held {
			c.Release()
		}

		require.Eventually(t, func() bool {
			return poolGauge(t, "in_use") == 0 && poolGauge(t, "idle") <= poolGauge(t, "total")
		}, 2*time.Second, 10*time.Millisecond, "in_use gauge did not drop after release")
	})

	t.Run("Should count acquisitions as monotonic deltas", func(t *testing.T) {
		before := testsupport.GetMetricValue(t, "switchyard_database_pool_acquire_count_total", nil)

		for range 3 {
			var n int
			require.NoError(t, pool.QueryRow(ctx, "SELECT count(*) FROM routing_rules").Scan(&n))
		}

		require.Eventually(t, func() bool {
			return testsupport.GetMetricValue(t, "switchyard_database_pool_acquire_count_total", nil) >= before+3
		}, 2*time.Second, 10*time.Millisecond)
		assert.Greater(t, testsupport.GetMetricValue(t, "switchyard_database_pool_acquire_duration_seconds_total", nil), 0.0)
	})

	t.Run("Should count waits when the pool is exhausted", func(t *testing.T) {
		held := make([]*pgxpool.Conn, 0, 5)
		for range 5 {
			c, err := pool.Acquire(ctx)
			require.NoError(t, err)
			held = append(held, c)
		}

		shortCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
		defer cancel()
		_, err := pool.Acquire(shortCtx)
		require.Error(t, err, "a sixth acquisition must block past MaxConns")

		waiter := make(chan struct{})
		go func() {
			defer close(waiter)
			if c, err := pool.Acquire(ctx); err == nil {
				c.Release()
			}
		}()
		time.Sleep(50 * time.Millisecond)
		held[0].Release()

		select {
		case <-waiter:
		case <-time.After(5 * time.Second):
			t.Fatal("blocked acquisition never completed")
		}
		for _, c := range held[1:] {
			c.Release()
		}

		require.Eventually(t, func() bool {
			return testsupport.GetMetricValue(t, "switchyard_database_pool_wait_count_total", nil) >= 1
		}, 2*time.Second, 10*time.Millisecond)
	})

	t.Run("Should empty the routing tables on reset", func(t *testing.T) {
		require.NoError(t, pg.Reset(ctx))

		var n int
		require.NoError(t, pool.QueryRow(ctx, "SELECT count(*) FROM routing_decision_logs").Scan(&n))
		assert.Zero(t, n)
	})
}
