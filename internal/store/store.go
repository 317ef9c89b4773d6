// Package store provides the Data Access Layer (Repository) for Switchyard.
// The PostgreSQL implementation uses the pgx driver; the memory implementation
// backs tests and single-process development setups.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/switchyard-pay/switchyard/internal/ruleengine"
)

var (
	// ErrNotFound is returned when a rule is absent or soft-deleted.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when a live rule with the same name already
	// exists for the tenant.
	ErrConflict = errors.New("conflict")

	// ErrVersionConflict is returned when a compare-and-set update observes
	// a different version than the caller expected.
	ErrVersionConflict = errors.New("version conflict")
)

// PriorityUpdate is one entry of a reorder batch.
type PriorityUpdate struct {
	RuleID   string `json:"rule_id"`
	Priority int    `json:"priority"`
}

// RuleRepository defines the persistence operations for routing rules.
// Soft-deleted rules are invisible to every method except GetRuleStats.
type RuleRepository interface {
	// CreateRule inserts r, assigning Version 1 and the timestamps.
	// Returns ErrConflict when the name is taken by a live rule of the tenant.
	CreateRule(ctx context.Context, r *ruleengine.Rule) error

	GetRule(ctx context.Context, id string) (*ruleengine.Rule, error)

	// ListRules returns the tenant's rules ordered by priority asc, name asc.
	// An empty statuses list means all statuses.
	ListRules(ctx context.Context, companyID string, statuses ...ruleengine.Status) ([]ruleengine.Rule, error)

	// UpdateRule writes the definition fields of r and increments its version.
	// When expectedVersion is non-zero the write only happens if the stored
	// version matches, otherwise ErrVersionConflict is returned.
	// r.Version and r.UpdatedAt are refreshed on success.
	UpdateRule(ctx context.Context, r *ruleengine.Rule, expectedVersion int64) error

	// DeleteRule tombstones the rule. Statistics are preserved.
	DeleteRule(ctx context.Context, id, deletedBy string) error

	// ReorderRules applies every priority update or none of them.
	ReorderRules(ctx context.Context, companyID string, updates []PriorityUpdate) error

	// RecordMatch bumps the match counter and overwrites the processing time.
	RecordMatch(ctx context.Context, id string, matchedAt time.Time, processingTimeMs float64) error

	// GetRuleStats returns the statistics of a tenant's rule, including
	// soft-deleted ones. A rule owned by another company is ErrNotFound.
	GetRuleStats(ctx context.Context, companyID, id string) (*ruleengine.Statistics, error)

	// ListDueTransitions returns, across all tenants, the SCHEDULED rules whose
	// activation instant has passed and the ACTIVE or TESTING rules whose
	// deactivation instant has passed.
	ListDueTransitions(ctx context.Context, now time.Time) ([]ruleengine.Rule, error)
}

// DecisionLogRepository is the append-only audit trail of evaluations.
type DecisionLogRepository interface {
	AppendDecision(ctx context.Context, d *DecisionLog) error

	// ListDecisions returns the tenant's most recent entries, newest first.
	ListDecisions(ctx context.Context, companyID string, limit int) ([]DecisionLog, error)
}
