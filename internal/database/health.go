package database

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

// RequiredTables are the relations the routing store reads and writes.
var RequiredTables = []string{"routing_rules", "routing_decision_logs"}

// SchemaChecker reports the database ready only when it answers and the
// routing schema has been migrated. A reachable but empty database would
// otherwise pass readiness and fail every request.
type SchemaChecker struct {
	pool   *pgxpool.Pool
	tables []string
}

func NewSchemaChecker(pool *pgxpool.Pool) *SchemaChecker {
	return &SchemaChecker{pool: pool, tables: RequiredTables}
}

func (h *SchemaChecker) Name() string {
	return "postgres"
}

func (h *SchemaChecker) Check(ctx context.Context) error {
	if h.pool == nil {
		return errors.New("database pool is nil")
	}

	// to_regclass returns NULL for relations that do not exist.
	var missing []string
	for _, table := range h.tables {
		var found *string
		if err := h.pool.QueryRow(ctx, "SELECT to_regclass($1)::text", table).Scan(&found); err != nil {
			return fmt.Errorf("schema probe failed: %w", err)
		}
		if found == nil {
			missing = append(missing, table)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing tables: %s", strings.Join(missing, ", "))
	}
	return nil
}
