package ruleengine

import (
	"log/slog"
	"math/rand/v2"
	"sort"
	"time"
)

// Engine is the orchestrator for transaction evaluation.
// It holds no per-call state and is safe for concurrent use.
type Engine struct {
	logger  *slog.Logger // Dedicated logger instance (DI)
	matcher *Matcher
	random  func() float64 // uniform in [0, 1)
	now     func() time.Time
}

// Option customizes an Engine.
type Option func(*Engine)

// WithJurisdictions sets the merchant jurisdiction inputs of the geo predicates.
func WithJurisdictions(j Jurisdictions) Option {
	return func(e *Engine) { e.matcher = NewMatcher(j) }
}

// WithRandom replaces the A/B draw source. fn must return values in [0, 1).
func WithRandom(fn func() float64) Option {
	return func(e *Engine) { e.random = fn }
}

// WithClock replaces the clock used when a context carries no timestamp.
func WithClock(fn func() time.Time) Option {
	return func(e *Engine) { e.now = fn }
}

// New creates a new Engine.
// If logger is nil, it defaults to slog.Default().
func New(logger *slog.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = slog.Default()
	}

	e := &Engine{
		logger:  logger,
		matcher: NewMatcher(DefaultJurisdictions()),
		random:  rand.Float64,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate runs the rule list against tx and returns a fresh Decision.
//
// rules is expected in (priority asc, name asc) order, which is how the store
// returns them. The stable sort below keeps that name order among equal
// priorities. Rules are never mutated.
func (e *Engine) Evaluate(rules []Rule, tx TransactionContext) Decision {
	start := time.Now()

	if tx.Timestamp.IsZero() {
		tx.Timestamp = e.now()
	}

	decision := Decision{
		Success:        true,
		OriginalAmount: tx.Amount,
		AppliedRules:   []AppliedRule{},
	}

	// 1. Filter to live rules (status + schedule window)
	live := make([]*Rule, 0, len(rules))
	for i := range rules {
		if rules[i].LiveAt(tx.Timestamp) {
			live = append(live, &rules[i])
		}
	}

	// 2. Order by priority, keeping the incoming order on ties
	sort.SliceStable(live, func(a, b int) bool {
		return live[a].Priority < live[b].Priority
	})

	// 3. Walk the rules
	for _, rule := range live {
		decision.RulesEvaluated++

		matched, checked := e.matcher.Match(&rule.Conditions, &tx)
		decision.ConditionsChecked += checked
		if !matched {
			continue
		}

		if rule.ABTest != nil && rule.ABTest.Enabled {
			pool, variant := e.splitTraffic(rule, &tx)
			if pool != "" {
				decision.PoolID = pool
				decision.ABTestVariant = variant
			}
		}

		for _, action := range rule.Actions {
			ApplyAction(&decision, action, tx.Amount)
			e.observe(rule, action, &tx)
		}

		decision.AppliedRules = append(decision.AppliedRules, AppliedRule{
			RuleID:      rule.ID,
			RuleName:    rule.Name,
			ActionTypes: rule.Actions.Types(),
		})

		// Terminal outcomes stop the walk; adjustments, review flags and
		// metadata from earlier rules are kept.
		if decision.Blocked || decision.Routed() {
			break
		}
	}

	// 4. Finalize
	decision.FinalAmount = tx.Amount.Add(decision.Surcharge).Sub(decision.Discount)
	decision.EvaluationTimeMs = float64(time.Since(start).Microseconds()) / 1000

	return decision
}

// observe emits the log line requested by observability-only actions.
func (e *Engine) observe(rule *Rule, action Action, tx *TransactionContext) {
	switch a := action.(type) {
	case LogOnly:
		e.logger.Info("routing rule matched",
			slog.String("rule_id", rule.ID),
			slog.String("rule_name", rule.Name),
			slog.String("transaction_id", tx.TransactionID()),
			slog.String("message", a.Message),
		)
	case Notify:
		e.logger.Info("routing rule notification requested",
			slog.String("rule_id", rule.ID),
			slog.String("channel", a.Channel),
			slog.String("recipient", a.Recipient),
			slog.String("transaction_id", tx.TransactionID()),
			slog.String("message", a.Message),
		)
	}
}
