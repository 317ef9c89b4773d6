package routing

import (
	"strings"

	"github.com/switchyard-pay/switchyard/internal/ruleengine"
)

// RuleDraft is the input of CreateRule.
// Status may be INACTIVE (the default) or SCHEDULED; a rule only becomes
// ACTIVE or TESTING through an explicit update or the lifecycle sweeper.
type RuleDraft struct {
	Name        string                    `json:"name"`
	Description string                    `json:"description,omitempty"`
	Color       string                    `json:"color,omitempty"`
	Tags        []string                  `json:"tags,omitempty"`
	Status      ruleengine.Status         `json:"status,omitempty"`
	Priority    *int                      `json:"priority,omitempty"`
	Conditions  ruleengine.RuleConditions `json:"conditions"`
	Actions     ruleengine.Actions        `json:"actions"`
	Fallback    *ruleengine.Fallback      `json:"fallback,omitempty"`
	ABTest      *ruleengine.ABTestConfig  `json:"ab_test,omitempty"`
	Schedule    *ruleengine.Schedule      `json:"schedule,omitempty"`
}

// RulePatch is a partial update. Nil fields are left untouched.
// ExpectedVersion, when non-zero, turns the update into a compare-and-set.
type RulePatch struct {
	Name        *string                    `json:"name,omitempty"`
	Description *string                    `json:"description,omitempty"`
	Color       *string                    `json:"color,omitempty"`
	Tags        *[]string                  `json:"tags,omitempty"`
	Status      *ruleengine.Status         `json:"status,omitempty"`
	Priority    *int                       `json:"priority,omitempty"`
	Conditions  *ruleengine.RuleConditions `json:"conditions,omitempty"`
	Actions     *ruleengine.Actions        `json:"actions,omitempty"`
	Fallback    *ruleengine.Fallback       `json:"fallback,omitempty"`
	ABTest      *ruleengine.ABTestConfig   `json:"ab_test,omitempty"`
	Schedule    *ruleengine.Schedule       `json:"schedule,omitempty"`

	ExpectedVersion int64 `json:"expected_version,omitempty"`

	// UpdatedBy is recorded on the lifecycle event.
	UpdatedBy string `json:"-"`
}

// IsEmpty reports whether the patch changes nothing.
func (p *RulePatch) IsEmpty() bool {
	return p.Name == nil && p.Description == nil && p.Color == nil && p.Tags == nil &&
		p.Status == nil && p.Priority == nil && p.Conditions == nil && p.Actions == nil &&
		p.Fallback == nil && p.ABTest == nil && p.Schedule == nil
}

// apply writes the patch onto r.
func (p *RulePatch) apply(r *ruleengine.Rule) {
	if p.Name != nil {
		r.Name = strings.TrimSpace(*p.Name)
	}
	if p.Description != nil {
		r.Description = strings.TrimSpace(*p.Description)
	}
	if p.Color != nil {
		r.Color = *p.Color
	}
	if p.Tags != nil {
		r.Tags = *p.Tags
	}
	if p.Status != nil {
		r.Status = *p.Status
	}
	if p.Priority != nil {
		r.Priority = *p.Priority
	}
	if p.Conditions != nil {
		r.Conditions = *p.Conditions
	}
	if p.Actions != nil {
		r.Actions = *p.Actions
	}
	if p.Fallback != nil {
		r.Fallback = p.Fallback
	}
	if p.ABTest != nil {
		r.ABTest = p.ABTest
	}
	if p.Schedule != nil {
		r.Schedule = p.Schedule
	}
}
