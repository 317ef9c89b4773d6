package store

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/switchyard-pay/switchyard/internal/ruleengine"
)

// DecisionLog mirrors the 'routing_decision_logs' table.
type DecisionLog struct {
	ID            string `json:"id"`
	CompanyID     string `json:"company_id"`
	TransactionID string `json:"transaction_id"`

	PoolID             string   `json:"pool_id,omitempty"`
	AccountID          string   `json:"account_id,omitempty"`
	FallbackAccountIDs []string `json:"fallback_account_ids,omitempty"`
	ABTestVariant      string   `json:"ab_test_variant,omitempty"`

	Blocked          bool                      `json:"blocked"`
	BlockReason      string                    `json:"block_reason,omitempty"`
	BlockCode        string                    `json:"block_code,omitempty"`
	FlaggedForReview bool                      `json:"flagged_for_review"`
	ReviewReason     string                    `json:"review_reason,omitempty"`
	ReviewPriority   ruleengine.ReviewPriority `json:"review_priority,omitempty"`
	Require3DS       bool                      `json:"require_3ds"`

	OriginalAmount decimal.Decimal `json:"original_amount"`
	Surcharge      decimal.Decimal `json:"surcharge"`
	Discount       decimal.Decimal `json:"discount"`
	FinalAmount    decimal.Decimal `json:"final_amount"`

	AppliedRuleIDs   []string `json:"applied_rule_ids"`
	AppliedRuleNames []string `json:"applied_rule_names"`

	EvaluationTimeMs  float64 `json:"evaluation_time_ms"`
	RulesEvaluated    int     `json:"rules_evaluated"`
	ConditionsChecked int     `json:"conditions_checked"`

	// Context is the full transaction snapshot, stored as JSONB.
	Context ruleengine.TransactionContext `json:"context"`

	CreatedAt time.Time `json:"created_at"`
}

// NewDecisionLog flattens an evaluation into an audit entry with a fresh id.
func NewDecisionLog(companyID string, tx ruleengine.TransactionContext, d ruleengine.Decision) *DecisionLog {
	ids := make([]string, len(d.AppliedRules))
	names := make([]string, len(d.AppliedRules))
	for i, ar := range d.AppliedRules {
		ids[i] = ar.RuleID
		names[i] = ar.RuleName
	}

	return &DecisionLog{
		ID:                 uuid.NewString(),
		CompanyID:          companyID,
		TransactionID:      tx.TransactionID(),
		PoolID:             d.PoolID,
		AccountID:          d.AccountID,
		FallbackAccountIDs: d.FallbackAccountIDs,
		ABTestVariant:      d.ABTestVariant,
		Blocked:            d.Blocked,
		BlockReason:        d.BlockReason,
		BlockCode:          d.BlockCode,
		FlaggedForReview:   d.FlaggedForReview,
		ReviewReason:       d.ReviewReason,
		ReviewPriority:     d.ReviewPriority,
		Require3DS:         d.Require3DS,
		OriginalAmount:     d.OriginalAmount,
		Surcharge:          d.Surcharge,
		Discount:           d.Discount,
		FinalAmount:        d.FinalAmount,
		AppliedRuleIDs:     ids,
		AppliedRuleNames:   names,
		EvaluationTimeMs:   d.EvaluationTimeMs,
		RulesEvaluated:     d.RulesEvaluated,
		ConditionsChecked:  d.ConditionsChecked,
		Context:            tx,
	}
}
