package controlapi

import (
	"github.com/switchyard-pay/switchyard/internal/ruleengine"
	"github.com/switchyard-pay/switchyard/internal/store"
)

// ReorderRequest is the body of POST /rules/reorder.
type ReorderRequest struct {
	Rules []store.PriorityUpdate `json:"rules"`
}

// ListResponse wraps list endpoints.
type ListResponse[T any] struct {
	Data  []T `json:"data"`
	Count int `json:"count"`
}

func newListResponse[T any](items []T) ListResponse[T] {
	if items == nil {
		items = []T{}
	}
	return ListResponse[T]{Data: items, Count: len(items)}
}

// RuleStatsResponse is the body of GET /rules/{id}/stats.
type RuleStatsResponse struct {
	RuleID string `json:"rule_id"`
	ruleengine.Statistics
}

// ErrorResponse represents a standard structured API error.
type ErrorResponse struct {
	// Code is a machine-readable error code (e.g., "ERR_INVALID_INPUT").
	Code string `json:"code"`

	// Message is a human-readable description of the error.
	Message string `json:"message"`

	// Details lists field-level validation failures.
	Details []ErrorDetail `json:"details,omitempty"`
}

// ErrorDetail provides context about specific field validation failures.
type ErrorDetail struct {
	Field string `json:"field"`
	Issue string `json:"issue"`
}
