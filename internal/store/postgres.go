package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/switchyard-pay/switchyard/internal/ruleengine"
	"github.com/switchyard-pay/switchyard/internal/validation"
)

// Compile-time checks to verify that PostgresStore implements both repositories.
var (
	_ RuleRepository        = (*PostgresStore)(nil)
	_ DecisionLogRepository = (*PostgresStore)(nil)
)

const uniqueViolation = "23505"

// ruleColumns is the projection shared by every rule query; scanRule reads it.
const ruleColumns = `
	id, company_id, name, description, color, tags, status, priority,
	conditions, actions, fallback, ab_test, schedule,
	match_count, last_matched_at, avg_processing_time_ms,
	version, created_at, updated_at, created_by`

// PostgresStore is the implementation of the repositories backed by PostgreSQL.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore creates a new repository instance with the given connection pool.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	validation.AssertNotNil(db, "database pool")
	return &PostgresStore{db: db}
}

// CreateRule inserts a new rule.
// It uses the RETURNING clause to get the server-generated version and timestamps.
func (s *PostgresStore) CreateRule(ctx context.Context, r *ruleengine.Rule) error {
	query := `
		INSERT INTO routing_rules (
			id, company_id, name, description, color, tags, status, priority,
			conditions, actions, fallback, ab_test, schedule, created_by
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING version, created_at, updated_at
	`

	err := s.db.QueryRow(ctx, query,
		r.ID,
		r.CompanyID,
		r.Name,
		r.Description,
		r.Color,
		nonNilTags(r.Tags),
		r.Status,
		r.Priority,
		r.Conditions,
		nonNilActions(r.Actions),
		r.Fallback,
		r.ABTest,
		r.Schedule,
		r.CreatedBy,
	).Scan(&r.Version, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("rule named %q already exists: %w", r.Name, ErrConflict)
		}
		return fmt.Errorf("failed to insert rule: %w", err)
	}

	r.Stats = ruleengine.Statistics{}
	return nil
}

// GetRule retrieves a live rule by id.
func (s *PostgresStore) GetRule(ctx context.Context, id string) (*ruleengine.Rule, error) {
	query := `SELECT ` + ruleColumns + ` FROM routing_rules WHERE id = $1 AND is_deleted = FALSE`

	r, err := scanRule(s.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("rule %q: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get rule: %w", err)
	}
	return r, nil
}

// ListRules returns the tenant's live rules in evaluation order.
func (s *PostgresStore) ListRules(ctx context.Context, companyID string, statuses ...ruleengine.Status) ([]ruleengine.Rule, error) {
	query := `
		SELECT ` + ruleColumns + `
		FROM routing_rules
		WHERE company_id = $1
		  AND is_deleted = FALSE
		  AND (cardinality($2::text[]) = 0 OR status = ANY($2::text[]))
		ORDER BY priority ASC, name ASC
	`

	filter := make([]string, len(statuses))
	for i, st := range statuses {
		filter[i] = string(st)
	}

	rows, err := s.db.Query(ctx, query, companyID, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	return collectRules(rows)
}

// UpdateRule overwrites the definition fields of a live rule.
// Statistics, audit fields and the tenant are never written here.
func (s *PostgresStore) UpdateRule(ctx context.Context, r *ruleengine.Rule, expectedVersion int64) error {
	query := `
		UPDATE routing_rules
		SET name = $2,
		    description = $3,
		    color = $4,
		    tags = $5,
		    status = $6,
		    priority = $7,
		    conditions = $8,
		    actions = $9,
		    fallback = $10,
		    ab_test = $11,
		    schedule = $12,
		    version = version + 1,
		    updated_at = NOW()
		WHERE id = $1
		  AND is_deleted = FALSE
		  AND ($13::bigint = 0 OR version = $13::bigint)
		RETURNING version, updated_at
	`

	err := s.db.QueryRow(ctx, query,
		r.ID,
		r.Name,
		r.Description,
		r.Color,
		nonNilTags(r.Tags),
		r.Status,
		r.Priority,
		r.Conditions,
		nonNilActions(r.Actions),
		r.Fallback,
		r.ABTest,
		r.Schedule,
		expectedVersion,
	).Scan(&r.Version, &r.UpdatedAt)
	if err == nil {
		return nil
	}
	if isUniqueViolation(err) {
		return fmt.Errorf("rule named %q already exists: %w", r.Name, ErrConflict)
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("failed to update rule: %w", err)
	}

	// No row updated: tell a missing rule apart from a stale version.
	var exists bool
	if err := s.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM routing_rules WHERE id = $1 AND is_deleted = FALSE)`, r.ID,
	).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check rule existence: %w", err)
	}
	if !exists {
		return fmt.Errorf("rule %q: %w", r.ID, ErrNotFound)
	}
	return fmt.Errorf("rule %q expected version %d: %w", r.ID, expectedVersion, ErrVersionConflict)
}

// DeleteRule performs a soft delete, freeing the name for reuse.
func (s *PostgresStore) DeleteRule(ctx context.Context, id, deletedBy string) error {
	query := `
		UPDATE routing_rules
		SET is_deleted = TRUE,
		    deleted_at = NOW(),
		    deleted_by = $2,
		    version = version + 1,
		    updated_at = NOW()
		WHERE id = $1 AND is_deleted = FALSE
	`

	tag, err := s.db.Exec(ctx, query, id, deletedBy)
	if err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("rule %q: %w", id, ErrNotFound)
	}
	return nil
}

// ReorderRules applies all priority updates in a single transaction.
// Any rule that is missing, deleted or owned by another tenant rolls the batch back.
func (s *PostgresStore) ReorderRules(ctx context.Context, companyID string, updates []PriorityUpdate) error {
	if len(updates) == 0 {
		return nil
	}

	query := `
		UPDATE routing_rules
		SET priority = $3,
		    version = version + 1,
		    updated_at = NOW()
		WHERE id = $1 AND company_id = $2 AND is_deleted = FALSE
	`

	return pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		for _, u := range updates {
			tag, err := tx.Exec(ctx, query, u.RuleID, companyID, u.Priority)
			if err != nil {
				return fmt.Errorf("failed to reorder rule %q: %w", u.RuleID, err)
			}
			if tag.RowsAffected() == 0 {
				return fmt.Errorf("rule %q: %w", u.RuleID, ErrNotFound)
			}
		}
		return nil
	})
}

// RecordMatch updates the running statistics of a rule. Deleted rules are
// still counted so that in-flight evaluations are not lost.
func (s *PostgresStore) RecordMatch(ctx context.Context, id string, matchedAt time.Time, processingTimeMs float64) error {
	query := `
		UPDATE routing_rules
		SET match_count = match_count + 1,
		    last_matched_at = $2,
		    avg_processing_time_ms = $3
		WHERE id = $1
	`

	tag, err := s.db.Exec(ctx, query, id, matchedAt, processingTimeMs)
	if err != nil {
		return fmt.Errorf("failed to record match: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("rule %q: %w", id, ErrNotFound)
	}
	return nil
}

// GetRuleStats reads the statistics columns regardless of the tombstone.
func (s *PostgresStore) GetRuleStats(ctx context.Context, companyID, id string) (*ruleengine.Statistics, error) {
	query := `
		SELECT match_count, last_matched_at, avg_processing_time_ms
		FROM routing_rules
		WHERE id = $1 AND company_id = $2
	`

	var st ruleengine.Statistics
	err := s.db.QueryRow(ctx, query, id, companyID).Scan(&st.MatchCount, &st.LastMatchedAt, &st.AvgProcessingTimeMs)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("rule %q: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get rule statistics: %w", err)
	}
	return &st, nil
}

// ListDueTransitions finds the rules whose schedule requires a status change.
func (s *PostgresStore) ListDueTransitions(ctx context.Context, now time.Time) ([]ruleengine.Rule, error) {
	query := `
		SELECT ` + ruleColumns + `
		FROM routing_rules
		WHERE is_deleted = FALSE
		  AND schedule IS NOT NULL
		  AND (
		        (status = 'SCHEDULED'
		         AND (schedule->>'activate_at') IS NOT NULL
		         AND (schedule->>'activate_at')::timestamptz <= $1)
		     OR (status IN ('ACTIVE', 'TESTING')
		         AND (schedule->>'deactivate_at') IS NOT NULL
		         AND (schedule->>'deactivate_at')::timestamptz <= $1)
		  )
		ORDER BY company_id, priority, name
	`

	rows, err := s.db.Query(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list due transitions: %w", err)
	}
	return collectRules(rows)
}

// AppendDecision inserts an audit entry.
func (s *PostgresStore) AppendDecision(ctx context.Context, d *DecisionLog) error {
	query := `
		INSERT INTO routing_decision_logs (
			id, company_id, transaction_id,
			pool_id, account_id, fallback_account_ids, ab_test_variant,
			blocked, block_reason, block_code,
			flagged_for_review, review_reason, review_priority, require_3ds,
			original_amount, surcharge, discount, final_amount,
			applied_rule_ids, applied_rule_names,
			evaluation_time_ms, rules_evaluated, conditions_checked,
			context
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
		        $15, $16, $17, $18, $19, $20, $21, $22, $23, $24)
		RETURNING created_at
	`

	err := s.db.QueryRow(ctx, query,
		d.ID, d.CompanyID, d.TransactionID,
		d.PoolID, d.AccountID, nonNilTags(d.FallbackAccountIDs), d.ABTestVariant,
		d.Blocked, d.BlockReason, d.BlockCode,
		d.FlaggedForReview, d.ReviewReason, string(d.ReviewPriority), d.Require3DS,
		d.OriginalAmount, d.Surcharge, d.Discount, d.FinalAmount,
		nonNilTags(d.AppliedRuleIDs), nonNilTags(d.AppliedRuleNames),
		d.EvaluationTimeMs, d.RulesEvaluated, d.ConditionsChecked,
		d.Context,
	).Scan(&d.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert decision log: %w", err)
	}
	return nil
}

// ListDecisions returns the newest entries of a tenant.
func (s *PostgresStore) ListDecisions(ctx context.Context, companyID string, limit int) ([]DecisionLog, error) {
	query := `
		SELECT id, company_id, transaction_id,
		       pool_id, account_id, fallback_account_ids, ab_test_variant,
		       blocked, block_reason, block_code,
		       flagged_for_review, review_reason, review_priority, require_3ds,
		       original_amount, surcharge, discount, final_amount,
		       applied_rule_ids, applied_rule_names,
		       evaluation_time_ms, rules_evaluated, conditions_checked,
		       context, created_at
		FROM routing_decision_logs
		WHERE company_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`

	rows, err := s.db.Query(ctx, query, companyID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list decision logs: %w", err)
	}
	// Ensure rows are closed to prevent connection leaks in the pool.
	defer rows.Close()

	logs := make([]DecisionLog, 0, limit)
	for rows.Next() {
		var (
			d              DecisionLog
			reviewPriority string
		)
		if err := rows.Scan(
			&d.ID, &d.CompanyID, &d.TransactionID,
			&d.PoolID, &d.AccountID, &d.FallbackAccountIDs, &d.ABTestVariant,
			&d.Blocked, &d.BlockReason, &d.BlockCode,
			&d.FlaggedForReview, &d.ReviewReason, &reviewPriority, &d.Require3DS,
			&d.OriginalAmount, &d.Surcharge, &d.Discount, &d.FinalAmount,
			&d.AppliedRuleIDs, &d.AppliedRuleNames,
			&d.EvaluationTimeMs, &d.RulesEvaluated, &d.ConditionsChecked,
			&d.Context, &d.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan decision log row: %w", err)
		}
		d.ReviewPriority = ruleengine.ReviewPriority(reviewPriority)
		logs = append(logs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return logs, nil
}

// scanRule reads one row projected with ruleColumns.
func scanRule(row pgx.Row) (*ruleengine.Rule, error) {
	var (
		r      ruleengine.Rule
		status string
	)
	err := row.Scan(
		&r.ID,
		&r.CompanyID,
		&r.Name,
		&r.Description,
		&r.Color,
		&r.Tags,
		&status,
		&r.Priority,
		&r.Conditions,
		&r.Actions,
		&r.Fallback,
		&r.ABTest,
		&r.Schedule,
		&r.Stats.MatchCount,
		&r.Stats.LastMatchedAt,
		&r.Stats.AvgProcessingTimeMs,
		&r.Version,
		&r.CreatedAt,
		&r.UpdatedAt,
		&r.CreatedBy,
	)
	if err != nil {
		return nil, err
	}
	r.Status = ruleengine.Status(status)
	return &r, nil
}

func collectRules(rows pgx.Rows) ([]ruleengine.Rule, error) {
	defer rows.Close()

	rules := []ruleengine.Rule{}
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule row: %w", err)
		}
		rules = append(rules, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return rules, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// The columns are NOT NULL; nil slices would be encoded as SQL NULL.
func nonNilTags(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}

func nonNilActions(actions ruleengine.Actions) ruleengine.Actions {
	if actions == nil {
		return ruleengine.Actions{}
	}
	return actions
}
