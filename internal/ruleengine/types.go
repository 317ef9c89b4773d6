// Package ruleengine provides the core logic for transaction routing.
// A tenant owns a prioritized list of rules; each rule pairs a set of
// conditions with an ordered list of actions. The Engine walks the rules
// against a TransactionContext and produces a Decision.
package ruleengine

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of a rule.
type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusInactive  Status = "INACTIVE"
	StatusTesting   Status = "TESTING"
	StatusScheduled Status = "SCHEDULED"
	StatusExpired   Status = "EXPIRED"
)

// DefaultPriority is assigned to new rules that do not specify one.
const DefaultPriority = 100

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusInactive, StatusTesting, StatusScheduled, StatusExpired:
		return true
	}
	return false
}

// Evaluable reports whether rules in this status take part in evaluation.
func (s Status) Evaluable() bool {
	return s == StatusActive || s == StatusTesting
}

// Rule is a tenant-scoped routing policy.
// This struct mirrors the 'routing_rules' table; the nested structures are
// stored as JSONB and cached as JSON snapshots.
type Rule struct {
	ID          string   `json:"id"`
	CompanyID   string   `json:"company_id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Color       string   `json:"color,omitempty"`
	Tags        []string `json:"tags,omitempty"`

	Status Status `json:"status"`

	// Priority orders evaluation: lower values are evaluated first.
	Priority int `json:"priority"`

	Conditions RuleConditions `json:"conditions"`
	Actions    Actions        `json:"actions"`

	// Fallback is stored with the rule but is not consulted by the Engine.
	Fallback *Fallback     `json:"fallback,omitempty"`
	ABTest   *ABTestConfig `json:"ab_test,omitempty"`
	Schedule *Schedule     `json:"schedule,omitempty"`

	Stats Statistics `json:"stats"`

	// Version is the monotonic counter for optimistic locking.
	Version int64 `json:"version"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	CreatedBy string    `json:"created_by,omitempty"`
}

// LiveAt reports whether the rule participates in an evaluation happening at t:
// its status must be ACTIVE or TESTING and its schedule window must contain t.
func (r *Rule) LiveAt(t time.Time) bool {
	if !r.Status.Evaluable() {
		return false
	}
	return r.Schedule.Contains(t)
}

// Statistics are the running counters maintained for each rule.
type Statistics struct {
	MatchCount    int64      `json:"match_count"`
	LastMatchedAt *time.Time `json:"last_matched_at,omitempty"`

	// AvgProcessingTimeMs holds the latency of the most recent matching
	// evaluation. It is overwritten, not averaged.
	AvgProcessingTimeMs float64 `json:"avg_processing_time_ms"`
}

// FallbackBehavior enumerates what a rule author wants to happen when routing fails.
type FallbackBehavior string

const (
	FallbackContinue       FallbackBehavior = "CONTINUE"
	FallbackBlock          FallbackBehavior = "BLOCK"
	FallbackRouteToDefault FallbackBehavior = "ROUTE_TO_DEFAULT"
)

// Fallback is persisted as authored. The evaluation path does not act on it.
type Fallback struct {
	Behavior      FallbackBehavior `json:"behavior"`
	DefaultPoolID string           `json:"default_pool_id,omitempty"`
}

// ABTestConfig splits matching traffic between a control and a test pool.
type ABTestConfig struct {
	Enabled bool `json:"enabled"`

	// TrafficPercentage is the share (0-100) of matching transactions sent to TestPoolID.
	TrafficPercentage float64 `json:"traffic_percentage"`

	ControlPoolID string `json:"control_pool_id,omitempty"`
	TestPoolID    string `json:"test_pool_id,omitempty"`

	// StickyAttribute, when set, replaces the random draw with a hash bucket of
	// the named context attribute ("customer_id", "email" or a metadata key),
	// so the same customer always lands in the same group for this rule.
	StickyAttribute string `json:"sticky_attribute,omitempty"`
}

// Schedule bounds the window in which a rule is live.
type Schedule struct {
	ActivateAt   *time.Time `json:"activate_at,omitempty"`
	DeactivateAt *time.Time `json:"deactivate_at,omitempty"`
	Timezone     string     `json:"timezone,omitempty"`

	// Recurring is a standard five-field cron expression. It is validated and
	// stored; the window check only uses ActivateAt and DeactivateAt.
	Recurring string `json:"recurring,omitempty"`
}

// Contains reports whether t falls inside [ActivateAt, DeactivateAt).
// A nil schedule or a missing bound imposes no constraint on that side.
func (s *Schedule) Contains(t time.Time) bool {
	if s == nil {
		return true
	}
	if s.ActivateAt != nil && t.Before(*s.ActivateAt) {
		return false
	}
	if s.DeactivateAt != nil && !t.Before(*s.DeactivateAt) {
		return false
	}
	return true
}

// TransactionContext is the immutable input of an evaluation.
type TransactionContext struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`

	Customer      CustomerInfo      `json:"customer"`
	Geo           GeoInfo           `json:"geo"`
	Product       ProductInfo       `json:"product"`
	PaymentMethod PaymentMethodInfo `json:"payment_method"`

	Metadata map[string]any `json:"metadata,omitempty"`

	// Timestamp is the evaluation instant. The zero value means "now".
	Timestamp time.Time `json:"timestamp"`
}

// TransactionID returns the caller supplied transaction id from metadata, or "unknown".
func (c *TransactionContext) TransactionID() string {
	for _, key := range []string{"transaction_id", "transactionId"} {
		if v, ok := c.Metadata[key]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s
			}
		}
	}
	return "unknown"
}

type CustomerInfo struct {
	ID             string          `json:"id,omitempty"`
	Email          string          `json:"email,omitempty"`
	Type           string          `json:"type,omitempty"`
	AccountAgeDays int             `json:"account_age_days"`
	LifetimeValue  decimal.Decimal `json:"lifetime_value"`
	RiskScore      float64         `json:"risk_score"`
	Segments       []string        `json:"segments,omitempty"`
}

type GeoInfo struct {
	BillingCountry  string `json:"billing_country,omitempty"`
	BillingState    string `json:"billing_state,omitempty"`
	ShippingCountry string `json:"shipping_country,omitempty"`
	ShippingState   string `json:"shipping_state,omitempty"`
	IPAddress       string `json:"ip_address,omitempty"`
	IPCountry       string `json:"ip_country,omitempty"`
}

type ProductInfo struct {
	SKUs           []string `json:"skus,omitempty"`
	Categories     []string `json:"categories,omitempty"`
	IsSubscription bool     `json:"is_subscription"`
}

type PaymentMethodInfo struct {
	Type          string `json:"type,omitempty"` // card, bank_transfer, wallet...
	CardBrand     string `json:"card_brand,omitempty"`
	CardType      string `json:"card_type,omitempty"` // credit, debit, prepaid
	BIN           string `json:"bin,omitempty"`
	IsTokenized   bool   `json:"is_tokenized"`
	Is3DSEnrolled bool   `json:"is_3ds_enrolled"`
	WalletType    string `json:"wallet_type,omitempty"`
}

// ReviewPriority grades how urgently a flagged transaction should be reviewed.
type ReviewPriority string

const (
	ReviewLow      ReviewPriority = "LOW"
	ReviewMedium   ReviewPriority = "MEDIUM"
	ReviewHigh     ReviewPriority = "HIGH"
	ReviewCritical ReviewPriority = "CRITICAL"
)

// Valid reports whether p is a known priority. The empty value is accepted.
func (p ReviewPriority) Valid() bool {
	switch p {
	case "", ReviewLow, ReviewMedium, ReviewHigh, ReviewCritical:
		return true
	}
	return false
}

// Decision is the outcome of one evaluation. A fresh value is built per call.
type Decision struct {
	Success bool `json:"success"`

	PoolID             string   `json:"pool_id,omitempty"`
	AccountID          string   `json:"account_id,omitempty"`
	FallbackAccountIDs []string `json:"fallback_account_ids,omitempty"`

	// ABTestVariant is "control" or "test" when an A/B split assigned the pool.
	ABTestVariant string `json:"ab_test_variant,omitempty"`

	Blocked     bool   `json:"blocked"`
	BlockReason string `json:"block_reason,omitempty"`
	BlockCode   string `json:"block_code,omitempty"`

	FlaggedForReview bool           `json:"flagged_for_review"`
	ReviewReason     string         `json:"review_reason,omitempty"`
	ReviewPriority   ReviewPriority `json:"review_priority,omitempty"`

	Require3DS bool `json:"require_3ds"`

	OriginalAmount decimal.Decimal `json:"original_amount"`
	Surcharge      decimal.Decimal `json:"surcharge"`
	Discount       decimal.Decimal `json:"discount"`
	FinalAmount    decimal.Decimal `json:"final_amount"`

	Metadata map[string]any `json:"metadata,omitempty"`

	AppliedRules []AppliedRule `json:"applied_rules"`

	EvaluationTimeMs  float64 `json:"evaluation_time_ms"`
	RulesEvaluated    int     `json:"rules_evaluated"`
	ConditionsChecked int     `json:"conditions_checked"`
}

// Routed reports whether a pool or account target has been set.
func (d *Decision) Routed() bool {
	return d.PoolID != "" || d.AccountID != ""
}

// AppliedRule records one matching rule in evaluation order.
type AppliedRule struct {
	RuleID      string       `json:"rule_id"`
	RuleName    string       `json:"rule_name"`
	ActionTypes []ActionType `json:"action_types"`
}
