// Package cache provides the per-tenant active-rule cache of Switchyard.
// A tenant entry is the full list of evaluable rules of one company, stored
// with a short TTL and evicted synchronously by every rule mutation.
package cache

import (
	"context"
	"time"

	"github.com/switchyard-pay/switchyard/internal/ruleengine"
)

// DefaultTTL bounds how stale a tenant snapshot may become.
const DefaultTTL = time.Minute

// RuleCache defines the contract shared by the cache backends.
// Implementations must be safe for concurrent use. Callers must not mutate
// the returned slice.
type RuleCache interface {
	// Get returns the cached rule list of a tenant. The boolean is false when
	// the entry is absent or expired.
	Get(ctx context.Context, companyID string) ([]ruleengine.Rule, bool, error)

	// Generation returns the invalidation counter of a tenant. A refill reads
	// it before loading rules from the store and hands it back to Set.
	Generation(ctx context.Context, companyID string) (uint64, error)

	// Set stores a fresh snapshot, expiring one TTL from now, unless the
	// tenant was invalidated since generation was read. The boolean reports
	// whether the snapshot was stored.
	Set(ctx context.Context, companyID string, generation uint64, rules []ruleengine.Rule) (bool, error)

	// Invalidate evicts the tenant entry and advances its generation.
	Invalidate(ctx context.Context, companyID string) error
}
