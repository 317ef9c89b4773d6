package ruleengine

import (
	"fmt"
	"regexp"
	"time"

	"github.com/robfig/cron/v3"
)

const (
	// MaxActionsPerRule bounds the action list of a single rule.
	MaxActionsPerRule = 50

	// MaxListSize bounds every include/exclude list. Larger lists belong in
	// customer segments rather than inline rule data.
	MaxListSize = 10_000
)

var colorRegex = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

// Issue describes one invalid field of a rule definition.
type Issue struct {
	Field string `json:"field"`
	Issue string `json:"issue"`
}

// Validate checks a rule definition and returns every problem found.
// It never inspects runtime statistics or audit fields.
func Validate(r *Rule) []Issue {
	var issues []Issue
	add := func(field, format string, args ...any) {
		issues = append(issues, Issue{Field: field, Issue: fmt.Sprintf(format, args...)})
	}

	if r.Name == "" {
		add("name", "is required")
	} else if len(r.Name) > 255 {
		add("name", "must be at most 255 characters")
	}
	if r.Priority < 0 {
		add("priority", "must be zero or greater")
	}
	if r.Color != "" && !colorRegex.MatchString(r.Color) {
		add("color", "must be a hex color like #1A2B3C")
	}
	if !r.Status.Valid() {
		add("status", "unknown status %q", r.Status)
	}

	if len(r.Actions) > MaxActionsPerRule {
		add("actions", "must contain at most %d actions", MaxActionsPerRule)
	}
	for i, a := range r.Actions {
		if msg := validateAction(a); msg != "" {
			add(fmt.Sprintf("actions[%d]", i), "%s", msg)
		}
	}

	issues = append(issues, validateConditions(&r.Conditions)...)

	if ab := r.ABTest; ab != nil {
		if ab.TrafficPercentage < 0 || ab.TrafficPercentage > 100 {
			add("ab_test.traffic_percentage", "must be between 0 and 100, got %v", ab.TrafficPercentage)
		}
		if ab.Enabled && ab.ControlPoolID == "" && ab.TestPoolID == "" {
			add("ab_test", "an enabled test needs a control or test pool")
		}
	}

	if s := r.Schedule; s != nil {
		if s.Timezone != "" {
			if _, err := time.LoadLocation(s.Timezone); err != nil {
				add("schedule.timezone", "unknown timezone %q", s.Timezone)
			}
		}
		if s.ActivateAt != nil && s.DeactivateAt != nil && !s.ActivateAt.Before(*s.DeactivateAt) {
			add("schedule", "activate_at must be before deactivate_at")
		}
		if s.Recurring != "" {
			if _, err := cron.ParseStandard(s.Recurring); err != nil {
				add("schedule.recurring", "invalid cron expression: %v", err)
			}
		}
	}

	if f := r.Fallback; f != nil {
		switch f.Behavior {
		case FallbackContinue, FallbackBlock:
		case FallbackRouteToDefault:
			if f.DefaultPoolID == "" {
				add("fallback.default_pool_id", "is required for %s", f.Behavior)
			}
		default:
			add("fallback.behavior", "unknown behavior %q", f.Behavior)
		}
	}

	return issues
}

func validateAction(a Action) string {
	switch v := a.(type) {
	case nil:
		return "action is empty"
	case RouteToPool:
		if v.PoolID == "" {
			return "pool_id is required"
		}
	case RouteToAccount:
		if len(v.AccountIDs) == 0 {
			return "account_ids must contain at least one account"
		}
	case FlagForReview:
		if !v.Priority.Valid() {
			return fmt.Sprintf("unknown review priority %q", v.Priority)
		}
	case ApplySurcharge:
		return validateAdjustment(v.Adjustment)
	case ApplyDiscount:
		return validateAdjustment(v.Adjustment)
	}
	return ""
}

func validateAdjustment(a Adjustment) string {
	if a.Value.IsNegative() {
		return "value must not be negative"
	}
	switch a.Mode {
	case AdjustmentPercentage:
		if a.Value.GreaterThan(hundred) {
			return "percentage must be between 0 and 100"
		}
	case AdjustmentFixed:
	default:
		return fmt.Sprintf("unknown adjustment mode %q", a.Mode)
	}
	return ""
}

func validateConditions(c *RuleConditions) []Issue {
	var issues []Issue
	checkList := func(field string, list []string) {
		if len(list) > MaxListSize {
			issues = append(issues, Issue{Field: field, Issue: fmt.Sprintf("must contain at most %d entries", MaxListSize)})
		}
	}

	if g := c.Geo; g != nil {
		checkList("conditions.geo.countries", g.Countries)
		checkList("conditions.geo.exclude_countries", g.ExcludeCountries)
		checkList("conditions.geo.states", g.States)
		checkList("conditions.geo.exclude_states", g.ExcludeStates)
	}
	if a := c.Amount; a != nil && a.Min != nil && a.Max != nil && a.Min.GreaterThan(*a.Max) {
		issues = append(issues, Issue{Field: "conditions.amount", Issue: "min must not exceed max"})
	}
	if t := c.Time; t != nil {
		if t.Timezone != "" {
			if _, err := time.LoadLocation(t.Timezone); err != nil {
				issues = append(issues, Issue{Field: "conditions.time.timezone", Issue: fmt.Sprintf("unknown timezone %q", t.Timezone)})
			}
		}
		for _, h := range []*int{t.HourStart, t.HourEnd} {
			if h != nil && (*h < 0 || *h > 23) {
				issues = append(issues, Issue{Field: "conditions.time", Issue: "hours must be between 0 and 23"})
				break
			}
		}
		if (t.HourStart == nil) != (t.HourEnd == nil) {
			issues = append(issues, Issue{Field: "conditions.time", Issue: "hour_start and hour_end must be set together"})
		}
		for _, d := range t.DaysOfWeek {
			if d < 0 || d > 6 {
				issues = append(issues, Issue{Field: "conditions.time.days_of_week", Issue: "days must be between 0 (Sunday) and 6"})
				break
			}
		}
		for _, d := range t.DaysOfMonth {
			if d < 1 || d > 31 {
				issues = append(issues, Issue{Field: "conditions.time.days_of_month", Issue: "days must be between 1 and 31"})
				break
			}
		}
	}
	if cu := c.Customer; cu != nil {
		checkList("conditions.customer.segments", cu.Segments)
		if cu.MinRiskScore != nil && cu.MaxRiskScore != nil && *cu.MinRiskScore > *cu.MaxRiskScore {
			issues = append(issues, Issue{Field: "conditions.customer", Issue: "min_risk_score must not exceed max_risk_score"})
		}
		if cu.MinAccountAgeDays != nil && cu.MaxAccountAgeDays != nil && *cu.MinAccountAgeDays > *cu.MaxAccountAgeDays {
			issues = append(issues, Issue{Field: "conditions.customer", Issue: "min_account_age_days must not exceed max_account_age_days"})
		}
	}
	if p := c.Product; p != nil {
		checkList("conditions.product.skus", p.SKUs)
		checkList("conditions.product.exclude_skus", p.ExcludeSKUs)
	}
	if pm := c.PaymentMethod; pm != nil {
		checkList("conditions.payment_method.bins", pm.BINs)
		checkList("conditions.payment_method.exclude_bins", pm.ExcludeBINs)
	}
	return issues
}
