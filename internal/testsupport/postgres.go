// Package testsupport starts throwaway PostgreSQL and Redis containers for
// integration tests and reads Prometheus metrics for metric assertions.
package testsupport

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"
	"sort"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/switchyard-pay/switchyard/internal/config"
	"github.com/switchyard-pay/switchyard/internal/database"
)

// PostgresContainer is a migrated routing database.
type PostgresContainer struct {
	Container        testcontainers.Container
	DB               *pgxpool.Pool
	ConnectionString string
}

// Terminate closes the pool and removes the container.
func (c *PostgresContainer) Terminate(ctx context.Context) error {
	c.DB.Close()
	return c.Container.Terminate(ctx)
}

// Reset empties every routing table, for suites that share one container.
func (c *PostgresContainer) Reset(ctx context.Context) error {
	_, err := c.DB.Exec(ctx, "TRUNCATE routing_rules, routing_decision_logs")
	return err
}

// StartPostgresContainer runs postgres:15-alpine with every migration
// applied in file name order and connects through the production pool factory.
func StartPostgresContainer(ctx context.Context) (*PostgresContainer, error) {
	migrations, err := MigrationFiles()
	if err != nil {
		return nil, err
	}

	ctr, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("switchyard_test"),
		postgres.WithUsername("switchyard"),
		postgres.WithPassword("switchyard"),
		postgres.WithInitScripts(migrations...),
		testcontainers.WithWaitStrategy(
			// The server restarts once after the init scripts run.
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start postgres container: %w", err)
	}

	connStr, err := ctr.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = ctr.Terminate(ctx)
		return nil, fmt.Errorf("failed to get connection string: %w", err)
	}

	pool, err := database.NewPostgresPool(ctx, &config.DatabaseConfig{
		URL:              connStr,
		ApplicationName:  "switchyard-test",
		StatementTimeout: 10 * time.Second,
		MaxConns:         5,
		MinConns:         1,
		MaxConnLifetime:  30 * time.Minute,
		MaxConnIdleTime:  5 * time.Minute,
		ConnectTimeout:   5 * time.Second,
		PingMaxRetries:   5,
		PingBackoff:      time.Second,
		StatsInterval:    time.Second,
	})
	if err != nil {
		_ = ctr.Terminate(ctx)
		return nil, fmt.Errorf("failed to create pgx pool: %w", err)
	}

	return &PostgresContainer{Container: ctr, DB: pool, ConnectionString: connStr}, nil
}

// MigrationFiles lists the repository's migrations/*.sql in apply order.
// The directory is located from this source file, so callers in any package
// get the same result.
func MigrationFiles() ([]string, error) {
	_, self, _, ok := runtime.Caller(0)
	if !ok {
		return nil, fmt.Errorf("cannot locate testsupport source file")
	}
	dir := filepath.Join(filepath.Dir(self), "..", "..", "migrations")

	files, err := filepath.Glob(filepath.Join(dir, "*.sql"))
	if err != nil {
		return nil, fmt.Errorf("failed to list migrations: %w", err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no migration files found in %s", dir)
	}
	sort.Strings(files)
	return files, nil
}
