package ruleengine

// Matcher evaluates a rule's conditions against a transaction.
// It is stateless after construction and safe for concurrent use.
type Matcher struct {
	env *environment
}

// NewMatcher pre-processes the jurisdiction lists into O(1) lookup sets.
func NewMatcher(j Jurisdictions) *Matcher {
	return &Matcher{env: newEnvironment(j)}
}

// Match reports whether all present categories hold for tx, and how many
// categories were inspected. Evaluation stops at the first failing category,
// which is included in the count. tx.Timestamp must already be resolved.
func (m *Matcher) Match(c *RuleConditions, tx *TransactionContext) (bool, int) {
	checked := 0
	for _, cat := range c.categories() {
		checked++
		if !cat.matches(tx, m.env) {
			return false, checked
		}
	}
	return true, checked
}
