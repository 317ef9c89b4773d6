package ruleengine

import (
	"fmt"

	"github.com/spaolacci/murmur3"
)

const (
	VariantControl = "control"
	VariantTest    = "test"
)

// splitTraffic picks the A/B group for a matching transaction.
//
// The draw is a value in [0, 100). It comes from the engine's random source,
// or, when the config names a StickyAttribute that is present on the
// transaction, from a Murmur3 bucket of "value:ruleID". The rule ID salts the
// hash so a customer in the test group of one rule is not necessarily in the
// test group of another.
//
// The returned pool is empty when the chosen group has no pool configured.
func (e *Engine) splitTraffic(rule *Rule, tx *TransactionContext) (pool, variant string) {
	cfg := rule.ABTest

	draw := e.random() * 100
	if subject, ok := stickySubject(cfg.StickyAttribute, tx); ok {
		draw = stickyBucket(subject, rule.ID)
	}

	if draw < cfg.TrafficPercentage {
		return cfg.TestPoolID, VariantTest
	}
	return cfg.ControlPoolID, VariantControl
}

// stickySubject resolves the hashing subject. Empty values cannot be hashed
// reliably, so they fall back to the random draw.
func stickySubject(attribute string, tx *TransactionContext) (string, bool) {
	var value string
	switch attribute {
	case "":
		return "", false
	case "customer_id":
		value = tx.Customer.ID
	case "email":
		value = tx.Customer.Email
	default:
		v, ok := tx.Metadata[attribute]
		if !ok || v == nil {
			return "", false
		}
		value = fmt.Sprint(v)
	}
	return value, value != ""
}

// stickyBucket maps subject+salt into [0, 100) with 0.01 granularity.
func stickyBucket(subject, salt string) float64 {
	hasher := murmur3.New32()
	_, _ = hasher.Write([]byte(subject + ":" + salt)) // Write never returns error in this implementation
	return float64(hasher.Sum32()%10_000) / 100
}
