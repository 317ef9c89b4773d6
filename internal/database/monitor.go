package database

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/switchyard-pay/switchyard/internal/observability"
)

// RunPoolMonitor publishes pgxpool statistics every interval until ctx is done.
// Cumulative pgx counters are exported as deltas so the Prometheus counters stay monotonic.
func RunPoolMonitor(ctx context.Context, pool *pgxpool.Pool, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last poolTotals
	for {
		last = publishPoolStats(pool.Stat(), last)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

type poolTotals struct {
	acquireCount    int64
	acquireDuration time.Duration
	waitCount       int64
}

func publishPoolStats(stat *pgxpool.Stat, last poolTotals) poolTotals {
	observability.DBPoolConnections.WithLabelValues("idle").Set(float64(stat.IdleConns()))
	observability.DBPoolConnections.WithLabelValues("in_use").Set(float64(stat.AcquiredConns()))
	observability.DBPoolConnections.WithLabelValues("total").Set(float64(stat.TotalConns()))
	observability.DBPoolConnections.WithLabelValues("max").Set(float64(stat.MaxConns()))

	current := poolTotals{
		acquireCount:    stat.AcquireCount(),
		acquireDuration: stat.AcquireDuration(),
		waitCount:       stat.EmptyAcquireCount(),
	}
	if d := current.acquireCount - last.acquireCount; d > 0 {
		observability.DBPoolAcquireCount.Add(float64(d))
	}
	if d := current.acquireDuration - last.acquireDuration; d > 0 {
		observability.DBPoolAcquireDuration.Add(d.Seconds())
	}
	if d := current.waitCount - last.waitCount; d > 0 {
		observability.DBPoolWaitCount.Add(float64(d))
	}
	return current
}
