package routing

import (
	"fmt"
	"strings"

	"github.com/switchyard-pay/switchyard/internal/ruleengine"
)

// ValidationError lists every field-level problem found in a request.
type ValidationError struct {
	Issues []ruleengine.Issue
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Issues))
	for i, issue := range e.Issues {
		parts[i] = fmt.Sprintf("%s %s", issue.Field, issue.Issue)
	}
	return "invalid rule: " + strings.Join(parts, "; ")
}

func invalid(field, issue string) *ValidationError {
	return &ValidationError{Issues: []ruleengine.Issue{{Field: field, Issue: issue}}}
}
