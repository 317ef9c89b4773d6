package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/maypok86/otter"

	"github.com/switchyard-pay/switchyard/internal/observability"
	"github.com/switchyard-pay/switchyard/internal/ruleengine"
)

const memoryBackend = "memory"

var _ RuleCache = (*MemoryCache)(nil)

type memoryEntry struct {
	rules     []ruleengine.Rule
	expiresAt time.Time
}

// MemoryCache is the in-process backend, using the contention-free S3-FIFO
// algorithm provided by the 'otter' library.
//
// Entries carry their own expiry instant, checked against the injected clock
// on every read. The otter TTL is only a memory safety net.
// There is no cross-instance invalidation: other replicas see a change after
// at most one TTL.
//
// Generations live outside otter so that eviction never rewinds them.
type MemoryCache struct {
	store otter.Cache[string, memoryEntry]
	ttl   time.Duration
	now   func() time.Time

	mu          sync.Mutex
	generations map[string]uint64
}

// MemoryOption customizes a MemoryCache.
type MemoryOption func(*MemoryCache)

// WithClock replaces the clock used for entry expiry.
func WithClock(fn func() time.Time) MemoryOption {
	return func(c *MemoryCache) { c.now = fn }
}

// NewMemoryCache initializes the in-memory cache with strict limits.
// capacity: Max number of tenants (Hard Cap to prevent OOM).
// ttl: lifetime of a tenant snapshot.
func NewMemoryCache(capacity int, ttl time.Duration, opts ...MemoryOption) (*MemoryCache, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	// The otter TTL is doubled so that expiry is always decided by our clock.
	store, err := otter.MustBuilder[string, memoryEntry](capacity).
		WithTTL(2 * ttl).
		Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build memory cache: %w", err)
	}

	c := &MemoryCache{store: store, ttl: ttl, now: time.Now, generations: make(map[string]uint64)}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Get is virtually lock-free and never returns an error.
func (c *MemoryCache) Get(_ context.Context, companyID string) ([]ruleengine.Rule, bool, error) {
	entry, ok := c.store.Get(companyID)
	if !ok || !c.now().Before(entry.expiresAt) {
		observability.CacheMisses.WithLabelValues(memoryBackend).Inc()
		return nil, false, nil
	}
	observability.CacheHits.WithLabelValues(memoryBackend).Inc()
	return entry.rules, true, nil
}

func (c *MemoryCache) Generation(_ context.Context, companyID string) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generations[companyID], nil
}

func (c *MemoryCache) Set(_ context.Context, companyID string, generation uint64, rules []ruleengine.Rule) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.generations[companyID] != generation {
		observability.CacheStaleWrites.WithLabelValues(memoryBackend).Inc()
		return false, nil
	}
	c.store.Set(companyID, memoryEntry{rules: rules, expiresAt: c.now().Add(c.ttl)})
	return true, nil
}

func (c *MemoryCache) Invalidate(_ context.Context, companyID string) error {
	c.mu.Lock()
	c.generations[companyID]++
	c.store.Delete(companyID)
	c.mu.Unlock()

	observability.CacheInvalidations.WithLabelValues(memoryBackend).Inc()
	return nil
}

// RunMetricsCollector periodically publishes the entry count until ctx is done.
func (c *MemoryCache) RunMetricsCollector(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			observability.CacheItems.Set(float64(c.store.Size()))
		}
	}
}

// Close gracefully shuts down the cache and its background cleanup goroutines.
func (c *MemoryCache) Close() {
	c.store.Close()
}
