// Package routing implements Rule Management and the evaluation entry points.
// It sits between the transport layer and the store: it validates rule
// definitions, keeps the per-tenant rule cache coherent, publishes lifecycle
// events, and hands post-evaluation work to the Decision Recorder.
package routing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/switchyard-pay/switchyard/internal/cache"
	"github.com/switchyard-pay/switchyard/internal/notify"
	"github.com/switchyard-pay/switchyard/internal/observability"
	"github.com/switchyard-pay/switchyard/internal/recorder"
	"github.com/switchyard-pay/switchyard/internal/ruleengine"
	"github.com/switchyard-pay/switchyard/internal/store"
	"github.com/switchyard-pay/switchyard/internal/validation"
)

const (
	modeLive = "live"
	modeTest = "test"

	// MaxDecisionPage bounds ListDecisions.
	MaxDecisionPage = 500
)

// Notifier receives rule lifecycle events. Errors are logged, never returned.
type Notifier interface {
	Notify(ctx context.Context, e notify.Event) error
}

// Recorder accepts post-evaluation work without blocking.
type Recorder interface {
	Submit(job recorder.Job) bool
}

// Service is the Rule Management facade. It is safe for concurrent use.
type Service struct {
	logger    *slog.Logger
	rules     store.RuleRepository
	decisions store.DecisionLogRepository
	cache     cache.RuleCache
	engine    *ruleengine.Engine
	recorder  Recorder
	notifier  Notifier
	now       func() time.Time
	newID     func() string
}

// Option customizes a Service.
type Option func(*Service)

// WithNotifier replaces the default log notifier.
func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithClock replaces time.Now for audit timestamps and match instants.
func WithClock(fn func() time.Time) Option {
	return func(s *Service) { s.now = fn }
}

// WithIDGenerator replaces the UUID rule id generator.
func WithIDGenerator(fn func() string) Option {
	return func(s *Service) { s.newID = fn }
}

// NewService wires the service. Every dependency except the logger is mandatory.
func NewService(
	logger *slog.Logger,
	rules store.RuleRepository,
	decisions store.DecisionLogRepository,
	ruleCache cache.RuleCache,
	engine *ruleengine.Engine,
	rec Recorder,
	opts ...Option,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	validation.AssertPresent(rules, "rule repository")
	validation.AssertPresent(decisions, "decision log repository")
	validation.AssertPresent(ruleCache, "rule cache")
	validation.AssertNotNil(engine, "rule engine")
	validation.AssertPresent(rec, "decision recorder")

	s := &Service{
		logger:    logger,
		rules:     rules,
		decisions: decisions,
		cache:     ruleCache,
		engine:    engine,
		recorder:  rec,
		notifier:  notify.NewLogNotifier(logger),
		now:       time.Now,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// -----------------------------------------------------------------------------
// Rule Management
// -----------------------------------------------------------------------------

// CreateRule validates and persists a new rule owned by companyID.
// Returns *ValidationError or store.ErrConflict on a duplicate live name.
func (s *Service) CreateRule(ctx context.Context, companyID, actor string, draft RuleDraft) (*ruleengine.Rule, error) {
	if strings.TrimSpace(companyID) == "" {
		return nil, invalid("company_id", "is required")
	}

	status := draft.Status
	if status == "" {
		status = ruleengine.StatusInactive
	}
	if status != ruleengine.StatusInactive && status != ruleengine.StatusScheduled {
		return nil, invalid("status", "new rules must be INACTIVE or SCHEDULED")
	}

	priority := ruleengine.DefaultPriority
	if draft.Priority != nil {
		priority = *draft.Priority
	}

	rule := &ruleengine.Rule{
		ID:          s.newID(),
		CompanyID:   companyID,
		Name:        strings.TrimSpace(draft.Name),
		Description: strings.TrimSpace(draft.Description),
		Color:       draft.Color,
		Tags:        draft.Tags,
		Status:      status,
		Priority:    priority,
		Conditions:  draft.Conditions,
		Actions:     draft.Actions,
		Fallback:    draft.Fallback,
		ABTest:      draft.ABTest,
		Schedule:    draft.Schedule,
		CreatedBy:   actor,
	}
	if err := validateRule(rule); err != nil {
		return nil, err
	}

	if err := s.rules.CreateRule(ctx, rule); err != nil {
		return nil, fmt.Errorf("failed to create rule: %w", err)
	}

	s.invalidate(ctx, companyID)
	s.publish(ctx, notify.RuleEvent(notify.RuleCreated, rule, actor, s.now()))

	s.logger.Info("rule created",
		slog.String("company_id", companyID),
		slog.String("rule_id", rule.ID),
		slog.String("rule_name", rule.Name),
	)
	return rule, nil
}

// ListRules returns the tenant's non-deleted rules, optionally filtered by
// status, priority asc then name asc.
func (s *Service) ListRules(ctx context.Context, companyID string, statuses ...ruleengine.Status) ([]ruleengine.Rule, error) {
	for _, st := range statuses {
		if !st.Valid() {
			return nil, invalid("status", fmt.Sprintf("unknown status %q", st))
		}
	}
	rules, err := s.rules.ListRules(ctx, companyID, statuses...)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	return rules, nil
}

// GetRule returns store.ErrNotFound for absent or soft-deleted rules.
func (s *Service) GetRule(ctx context.Context, id string) (*ruleengine.Rule, error) {
	rule, err := s.rules.GetRule(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get rule %s: %w", id, err)
	}
	return rule, nil
}

// UpdateRule applies a partial update and bumps the version.
// Returns store.ErrNotFound, store.ErrConflict, store.ErrVersionConflict or *ValidationError.
func (s *Service) UpdateRule(ctx context.Context, id string, patch RulePatch) (*ruleengine.Rule, error) {
	if patch.IsEmpty() {
		return nil, invalid("patch", "at least one field must be set")
	}

	rule, err := s.rules.GetRule(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get rule %s: %w", id, err)
	}

	patch.apply(rule)
	if err := validateRule(rule); err != nil {
		return nil, err
	}

	if err := s.rules.UpdateRule(ctx, rule, patch.ExpectedVersion); err != nil {
		return nil, fmt.Errorf("failed to update rule %s: %w", id, err)
	}

	s.invalidate(ctx, rule.CompanyID)
	s.publish(ctx, notify.RuleEvent(notify.RuleUpdated, rule, patch.UpdatedBy, s.now()))

	s.logger.Info("rule updated",
		slog.String("company_id", rule.CompanyID),
		slog.String("rule_id", rule.ID),
		slog.Int64("version", rule.Version),
	)
	return rule, nil
}

// DeleteRule soft-deletes a rule. Its statistics stay queryable.
func (s *Service) DeleteRule(ctx context.Context, id, actor string) error {
	rule, err := s.rules.GetRule(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to get rule %s: %w", id, err)
	}

	if err := s.rules.DeleteRule(ctx, id, actor); err != nil {
		return fmt.Errorf("failed to delete rule %s: %w", id, err)
	}

	s.invalidate(ctx, rule.CompanyID)
	s.publish(ctx, notify.RuleEvent(notify.RuleDeleted, rule, actor, s.now()))

	s.logger.Info("rule deleted",
		slog.String("company_id", rule.CompanyID),
		slog.String("rule_id", id),
		slog.String("deleted_by", actor),
	)
	return nil
}

// ReorderRules applies a batch of priority changes atomically.
func (s *Service) ReorderRules(ctx context.Context, companyID, actor string, updates []store.PriorityUpdate) error {
	if len(updates) == 0 {
		return invalid("rules", "at least one priority update is required")
	}

	var issues []ruleengine.Issue
	seen := make(map[string]struct{}, len(updates))
	ids := make([]string, 0, len(updates))
	for i, u := range updates {
		field := fmt.Sprintf("rules[%d]", i)
		if u.RuleID == "" {
			issues = append(issues, ruleengine.Issue{Field: field + ".rule_id", Issue: "is required"})
		}
		if u.Priority < 0 {
			issues = append(issues, ruleengine.Issue{Field: field + ".priority", Issue: "must be zero or greater"})
		}
		if _, dup := seen[u.RuleID]; dup {
			issues = append(issues, ruleengine.Issue{Field: field + ".rule_id", Issue: "appears more than once"})
		}
		seen[u.RuleID] = struct{}{}
		ids = append(ids, u.RuleID)
	}
	if len(issues) > 0 {
		return &ValidationError{Issues: issues}
	}

	if err := s.rules.ReorderRules(ctx, companyID, updates); err != nil {
		return fmt.Errorf("failed to reorder rules: %w", err)
	}

	s.invalidate(ctx, companyID)
	s.publish(ctx, notify.Event{
		Type:       notify.RulesReordered,
		CompanyID:  companyID,
		RuleIDs:    ids,
		Actor:      actor,
		OccurredAt: s.now(),
	})
	return nil
}

// GetRuleStatistics returns the counters of a tenant's rule, soft-deleted or not.
func (s *Service) GetRuleStatistics(ctx context.Context, companyID, id string) (*ruleengine.Statistics, error) {
	stats, err := s.rules.GetRuleStats(ctx, companyID, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get statistics for rule %s: %w", id, err)
	}
	return stats, nil
}

// ListDecisions returns the tenant's most recent audit entries, newest first.
// limit is clamped to [1, MaxDecisionPage].
func (s *Service) ListDecisions(ctx context.Context, companyID string, limit int) ([]store.DecisionLog, error) {
	limit = min(max(limit, 1), MaxDecisionPage)
	logs, err := s.decisions.ListDecisions(ctx, companyID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list decisions: %w", err)
	}
	return logs, nil
}

// DueTransitions lists the rules whose schedule calls for a status change at now.
func (s *Service) DueTransitions(ctx context.Context, now time.Time) ([]ruleengine.Rule, error) {
	rules, err := s.rules.ListDueTransitions(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list due transitions: %w", err)
	}
	return rules, nil
}

// TransitionStatus moves rule to status through the regular update path.
// The write is guarded by rule.Version, so a rule edited since it was read
// fails with store.ErrVersionConflict instead of being overwritten.
func (s *Service) TransitionStatus(ctx context.Context, rule ruleengine.Rule, status ruleengine.Status, actor string) (*ruleengine.Rule, error) {
	return s.UpdateRule(ctx, rule.ID, RulePatch{
		Status:          &status,
		ExpectedVersion: rule.Version,
		UpdatedBy:       actor,
	})
}

// -----------------------------------------------------------------------------
// Evaluation
// -----------------------------------------------------------------------------

// EvaluateTransaction routes one transaction with the tenant's live rules.
// Match statistics and the audit entry are recorded asynchronously; their
// failure never affects the returned decision. The only error is a store
// failure while loading rules.
func (s *Service) EvaluateTransaction(ctx context.Context, companyID string, tx ruleengine.TransactionContext) (ruleengine.Decision, error) {
	if tx.Timestamp.IsZero() {
		tx.Timestamp = s.now()
	}

	decision, err := s.evaluate(ctx, companyID, tx, modeLive)
	if err != nil {
		return ruleengine.Decision{}, err
	}

	if len(decision.AppliedRules) > 0 {
		ids := make([]string, len(decision.AppliedRules))
		for i, ar := range decision.AppliedRules {
			ids[i] = ar.RuleID
		}
		s.recorder.Submit(recorder.StatsJob(ids, s.now(), decision.EvaluationTimeMs))
	}

	s.recorder.Submit(recorder.AuditJob(store.NewDecisionLog(companyID, tx, decision)))

	return decision, nil
}

// TestRules runs the same evaluation as EvaluateTransaction but records
// neither statistics nor an audit entry.
func (s *Service) TestRules(ctx context.Context, companyID string, tx ruleengine.TransactionContext) (ruleengine.Decision, error) {
	if tx.Timestamp.IsZero() {
		tx.Timestamp = s.now()
	}
	return s.evaluate(ctx, companyID, tx, modeTest)
}

func (s *Service) evaluate(ctx context.Context, companyID string, tx ruleengine.TransactionContext, mode string) (ruleengine.Decision, error) {
	if strings.TrimSpace(companyID) == "" {
		return ruleengine.Decision{}, invalid("company_id", "is required")
	}

	rules, err := s.activeRules(ctx, companyID)
	if err != nil {
		return ruleengine.Decision{}, err
	}

	start := time.Now()
	decision := s.engine.Evaluate(rules, tx)

	observability.EvaluationDuration.WithLabelValues(mode).Observe(time.Since(start).Seconds())
	observability.EvaluationsTotal.WithLabelValues(mode, outcome(&decision)).Inc()
	observability.RulesEvaluated.Observe(float64(decision.RulesEvaluated))

	return decision, nil
}

// activeRules serves the tenant snapshot from the cache, refilling it from
// the store on a miss. Cache failures degrade to a store read.
// A snapshot loaded across a concurrent mutation is returned to this caller
// but never cached.
func (s *Service) activeRules(ctx context.Context, companyID string) ([]ruleengine.Rule, error) {
	rules, ok, err := s.cache.Get(ctx, companyID)
	if err != nil {
		s.logger.Warn("rule cache read failed, falling back to store",
			slog.String("company_id", companyID),
			slog.String("error", err.Error()),
		)
	}
	if ok {
		return rules, nil
	}

	// The generation is read before the store so that an invalidation landing
	// during the load makes the refill a no-op.
	gen, genErr := s.cache.Generation(ctx, companyID)
	if genErr != nil {
		s.logger.Warn("rule cache generation read failed, skipping refill",
			slog.String("company_id", companyID),
			slog.String("error", genErr.Error()),
		)
	}

	rules, err = s.rules.ListRules(ctx, companyID, ruleengine.StatusActive, ruleengine.StatusTesting)
	if err != nil {
		return nil, fmt.Errorf("failed to load active rules: %w", err)
	}
	if genErr != nil {
		return rules, nil
	}

	stored, err := s.cache.Set(ctx, companyID, gen, rules)
	if err != nil {
		s.logger.Warn("rule cache write failed",
			slog.String("company_id", companyID),
			slog.String("error", err.Error()),
		)
	} else if !stored {
		s.logger.Debug("discarded stale rule snapshot", slog.String("company_id", companyID))
	}
	return rules, nil
}

// invalidate evicts the tenant snapshot. A failed eviction is logged; the
// entry then expires on its own within one TTL.
func (s *Service) invalidate(ctx context.Context, companyID string) {
	if err := s.cache.Invalidate(ctx, companyID); err != nil {
		s.logger.Error("failed to invalidate rule cache",
			slog.String("company_id", companyID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *Service) publish(ctx context.Context, e notify.Event) {
	if err := s.notifier.Notify(ctx, e); err != nil {
		s.logger.Warn("failed to publish rule event",
			slog.String("event", string(e.Type)),
			slog.String("company_id", e.CompanyID),
			slog.String("error", err.Error()),
		)
	}
}

func outcome(d *ruleengine.Decision) string {
	switch {
	case d.Blocked:
		return "blocked"
	case d.Routed():
		return "routed"
	}
	return "unrouted"
}

// validateRule runs the definition checks plus the ones that depend on the
// management boundary (tenant ownership, scheduling prerequisites).
func validateRule(r *ruleengine.Rule) error {
	issues := ruleengine.Validate(r)
	if r.Status == ruleengine.StatusScheduled && (r.Schedule == nil || r.Schedule.ActivateAt == nil) {
		issues = append(issues, ruleengine.Issue{Field: "schedule.activate_at", Issue: "is required for SCHEDULED rules"})
	}
	if len(issues) > 0 {
		return &ValidationError{Issues: issues}
	}
	return nil
}

// IsNotFound reports whether err means the rule is absent or soft-deleted.
func IsNotFound(err error) bool { return errors.Is(err, store.ErrNotFound) }

// IsConflict covers both duplicate names and stale expected versions.
func IsConflict(err error) bool {
	return errors.Is(err, store.ErrConflict) || errors.Is(err, store.ErrVersionConflict)
}

// AsValidation unwraps a *ValidationError.
func AsValidation(err error) (*ValidationError, bool) {
	var ve *ValidationError
	ok := errors.As(err, &ve)
	return ve, ok
}
