package routing

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/switchyard-pay/switchyard/internal/cache"
	"github.com/switchyard-pay/switchyard/internal/notify"
	"github.com/switchyard-pay/switchyard/internal/recorder"
	"github.com/switchyard-pay/switchyard/internal/ruleengine"
	"github.com/switchyard-pay/switchyard/internal/store"
)

var fixedNow = time.Date(2025, 3, 12, 14, 30, 0, 0, time.UTC)

// countingStore counts the store reads made on the evaluation path.
type countingStore struct {
	*store.MemoryStore
	listCalls atomic.Int32

	// afterList, when set, runs between loading the rules and returning them.
	afterList func()
}

func (c *countingStore) ListRules(ctx context.Context, companyID string, statuses ...ruleengine.Status) ([]ruleengine.Rule, error) {
	c.listCalls.Add(1)
	rules, err := c.MemoryStore.ListRules(ctx, companyID, statuses...)
	if c.afterList != nil {
		c.afterList()
	}
	return rules, err
}

type fakeRecorder struct {
	mu   sync.Mutex
	jobs []recorder.Job
}

func (f *fakeRecorder) Submit(job recorder.Job) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs = append(f.jobs, job)
	return true
}

func (f *fakeRecorder) byKind(kind recorder.Kind) []recorder.Job {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []recorder.Job
	for _, j := range f.jobs {
		if j.Kind == kind {
			out = append(out, j)
		}
	}
	return out
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []notify.Event
	err    error
}

func (f *fakeNotifier) Notify(_ context.Context, e notify.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, e)
	return f.err
}

func (f *fakeNotifier) types() []notify.EventType {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]notify.EventType, len(f.events))
	for i, e := range f.events {
		out[i] = e.Type
	}
	return out
}

type brokenCache struct{}

func (brokenCache) Get(context.Context, string) ([]ruleengine.Rule, bool, error) {
	return nil, false, errors.New("cache down")
}
func (brokenCache) Generation(context.Context, string) (uint64, error) {
	return 0, errors.New("cache down")
}
func (brokenCache) Set(context.Context, string, uint64, []ruleengine.Rule) (bool, error) {
	return false, errors.New("cache down")
}
func (brokenCache) Invalidate(context.Context, string) error { return errors.New("cache down") }

type fixture struct {
	svc      *Service
	store    *countingStore
	recorder *fakeRecorder
	notifier *fakeNotifier
}

func newFixture(t *testing.T, ruleCache cache.RuleCache) *fixture {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := &countingStore{MemoryStore: store.NewMemoryStore()}
	if ruleCache == nil {
		mc, err := cache.NewMemoryCache(100, time.Minute)
		require.NoError(t, err)
		t.Cleanup(mc.Close)
		ruleCache = mc
	}
	rec := &fakeRecorder{}
	n := &fakeNotifier{}

	var seq atomic.Int32
	svc := NewService(log, st, st, ruleCache,
		ruleengine.New(log, ruleengine.WithRandom(func() float64 { return 0.5 })),
		rec,
		WithNotifier(n),
		WithClock(func() time.Time { return fixedNow }),
		WithIDGenerator(func() string { return fmt.Sprintf("rule-%d", seq.Add(1)) }),
	)
	return &fixture{svc: svc, store: st, recorder: rec, notifier: n}
}

func routeDraft(name, pool string, countries ...string) RuleDraft {
	d := RuleDraft{
		Name:    name,
		Actions: ruleengine.Actions{ruleengine.RouteToPool{PoolID: pool}},
	}
	if len(countries) > 0 {
		d.Conditions.Geo = &ruleengine.GeoConditions{Countries: countries}
	}
	return d
}

func activate(t *testing.T, f *fixture, id string) {
	t.Helper()
	active := ruleengine.StatusActive
	_, err := f.svc.UpdateRule(context.Background(), id, RulePatch{Status: &active})
	require.NoError(t, err)
}

func deTransaction() ruleengine.TransactionContext {
	return ruleengine.TransactionContext{
		Amount:   decimal.NewFromInt(100),
		Currency: "EUR",
		Geo:      ruleengine.GeoInfo{BillingCountry: "DE"},
		Metadata: map[string]any{"transactionId": "tx-42"},
	}
}

func TestService_CreateRule(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("Should apply defaults and publish a created event", func(t *testing.T) {
		f := newFixture(t, nil)

		rule, err := f.svc.CreateRule(ctx, "acme", "alice", routeDraft("  EU traffic  ", "eu-pool", "DE"))
		require.NoError(t, err)

		assert.Equal(t, "rule-1", rule.ID)
		assert.Equal(t, "acme", rule.CompanyID)
		assert.Equal(t, "EU traffic", rule.Name)
		assert.Equal(t, ruleengine.StatusInactive, rule.Status)
		assert.Equal(t, ruleengine.DefaultPriority, rule.Priority)
		assert.Equal(t, int64(1), rule.Version)
		assert.Equal(t, "alice", rule.CreatedBy)
		assert.Zero(t, rule.Stats.MatchCount)
		assert.Equal(t, []notify.EventType{notify.RuleCreated}, f.notifier.types())
	})

	t.Run("Should reject a duplicate live name as conflict", func(t *testing.T) {
		f := newFixture(t, nil)
		_, err := f.svc.CreateRule(ctx, "acme", "alice", routeDraft("dup", "p1"))
		require.NoError(t, err)

		_, err = f.svc.CreateRule(ctx, "acme", "alice", routeDraft("dup", "p2"))
		assert.True(t, IsConflict(err))

		// Same name in another tenant is fine
		_, err = f.svc.CreateRule(ctx, "globex", "bob", routeDraft("dup", "p2"))
		assert.NoError(t, err)
	})

	t.Run("Should allow reusing the name of a deleted rule", func(t *testing.T) {
		f := newFixture(t, nil)
		first, err := f.svc.CreateRule(ctx, "acme", "alice", routeDraft("reuse", "p1"))
		require.NoError(t, err)
		require.NoError(t, f.svc.DeleteRule(ctx, first.ID, "alice"))

		_, err = f.svc.CreateRule(ctx, "acme", "alice", routeDraft("reuse", "p1"))
		assert.NoError(t, err)
	})

	tests := []struct {
		name      string
		companyID string
		draft     RuleDraft
		wantField string
	}{
		{
			name:      "Should require a tenant",
			companyID: " ",
			draft:     routeDraft("x", "p"),
			wantField: "company_id",
		},
		{
			name:      "Should require a name",
			companyID: "acme",
			draft:     routeDraft("", "p"),
			wantField: "name",
		},
		{
			name:      "Should refuse to create an ACTIVE rule",
			companyID: "acme",
			draft: func() RuleDraft {
				d := routeDraft("x", "p")
				d.Status = ruleengine.StatusActive
				return d
			}(),
			wantField: "status",
		},
		{
			name:      "Should require an activation instant for SCHEDULED rules",
			companyID: "acme",
			draft: func() RuleDraft {
				d := routeDraft("x", "p")
				d.Status = ruleengine.StatusScheduled
				return d
			}(),
			wantField: "schedule.activate_at",
		},
		{
			name:      "Should reject a route action without a pool",
			companyID: "acme",
			draft:     routeDraft("x", ""),
			wantField: "actions[0]",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)

			_, err := f.svc.CreateRule(ctx, tt.companyID, "alice", tt.draft)

			ve, ok := AsValidation(err)
			require.True(t, ok, "expected a validation error, got %v", err)
			fields := make([]string, len(ve.Issues))
			for i, issue := range ve.Issues {
				fields[i] = issue.Field
			}
			assert.Contains(t, fields, tt.wantField)
			assert.Empty(t, f.notifier.types())
		})
	}
}

func TestService_UpdateRule(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("Should apply only the provided fields and bump the version", func(t *testing.T) {
		f := newFixture(t, nil)
		created, err := f.svc.CreateRule(ctx, "acme", "alice", routeDraft("r", "p", "DE"))
		require.NoError(t, err)

		desc := "routes German traffic"
		active := ruleengine.StatusActive
		updated, err := f.svc.UpdateRule(ctx, created.ID, RulePatch{Description: &desc, Status: &active, UpdatedBy: "bob"})
		require.NoError(t, err)

		assert.Equal(t, "r", updated.Name)
		assert.Equal(t, desc, updated.Description)
		assert.Equal(t, ruleengine.StatusActive, updated.Status)
		assert.Equal(t, int64(2), updated.Version)
		assert.Equal(t, []string{"DE"}, updated.Conditions.Geo.Countries)

		require.Len(t, f.notifier.events, 2)
		assert.Equal(t, notify.RuleUpdated, f.notifier.events[1].Type)
		assert.Equal(t, "bob", f.notifier.events[1].Actor)
	})

	t.Run("Should return not found for unknown rules", func(t *testing.T) {
		f := newFixture(t, nil)
		name := "x"
		_, err := f.svc.UpdateRule(ctx, "missing", RulePatch{Name: &name})
		assert.True(t, IsNotFound(err))
	})

	t.Run("Should reject a stale expected version", func(t *testing.T) {
		f := newFixture(t, nil)
		created, err := f.svc.CreateRule(ctx, "acme", "alice", routeDraft("r", "p"))
		require.NoError(t, err)
		activate(t, f, created.ID) // version 2

		name := "renamed"
		_, err = f.svc.UpdateRule(ctx, created.ID, RulePatch{Name: &name, ExpectedVersion: 1})
		assert.True(t, IsConflict(err))

		_, err = f.svc.UpdateRule(ctx, created.ID, RulePatch{Name: &name, ExpectedVersion: 2})
		assert.NoError(t, err)
	})

	t.Run("Should validate the merged rule", func(t *testing.T) {
		f := newFixture(t, nil)
		created, err := f.svc.CreateRule(ctx, "acme", "alice", routeDraft("r", "p"))
		require.NoError(t, err)

		negative := -1
		_, err = f.svc.UpdateRule(ctx, created.ID, RulePatch{Priority: &negative})
		_, ok := AsValidation(err)
		assert.True(t, ok)

		stored, err := f.svc.GetRule(ctx, created.ID)
		require.NoError(t, err)
		assert.Equal(t, ruleengine.DefaultPriority, stored.Priority)
	})

	t.Run("Should reject a patch that changes nothing", func(t *testing.T) {
		f := newFixture(t, nil)
		created, err := f.svc.CreateRule(ctx, "acme", "alice", routeDraft("eu", "eu-pool", "DE"))
		require.NoError(t, err)

		_, err = f.svc.UpdateRule(ctx, created.ID, RulePatch{ExpectedVersion: created.Version})
		ve, ok := AsValidation(err)
		require.True(t, ok)
		assert.Equal(t, "patch", ve.Issues[0].Field)
	})
}

func TestService_DeleteRule(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, nil)

	created, err := f.svc.CreateRule(ctx, "acme", "alice", routeDraft("r", "p", "DE"))
	require.NoError(t, err)
	activate(t, f, created.ID)

	_, err = f.svc.EvaluateTransaction(ctx, "acme", deTransaction())
	require.NoError(t, err)
	require.NoError(t, f.store.RecordMatch(ctx, created.ID, fixedNow, 1.5))

	require.NoError(t, f.svc.DeleteRule(ctx, created.ID, "bob"))

	_, err = f.svc.GetRule(ctx, created.ID)
	assert.True(t, IsNotFound(err), "deleted rules are invisible to lookups")

	rules, err := f.svc.ListRules(ctx, "acme")
	require.NoError(t, err)
	assert.Empty(t, rules)

	stats, err := f.svc.GetRuleStatistics(ctx, "acme", created.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.MatchCount, "statistics survive soft deletion")

	_, err = f.svc.GetRuleStatistics(ctx, "globex", created.ID)
	assert.True(t, IsNotFound(err), "a tombstoned rule stays scoped to its company")

	decision, err := f.svc.EvaluateTransaction(ctx, "acme", deTransaction())
	require.NoError(t, err)
	assert.Empty(t, decision.PoolID, "deleted rules no longer route")

	assert.True(t, IsNotFound(f.svc.DeleteRule(ctx, created.ID, "bob")))
	assert.Contains(t, f.notifier.types(), notify.RuleDeleted)
}

func TestService_ReorderRules(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	setup := func(t *testing.T) (*fixture, string, string) {
		f := newFixture(t, nil)
		a, err := f.svc.CreateRule(ctx, "acme", "alice", routeDraft("a", "pool-a", "DE"))
		require.NoError(t, err)
		b, err := f.svc.CreateRule(ctx, "acme", "alice", routeDraft("b", "pool-b", "DE"))
		require.NoError(t, err)
		activate(t, f, a.ID)
		activate(t, f, b.ID)
		return f, a.ID, b.ID
	}

	t.Run("Should change which rule wins", func(t *testing.T) {
		f, a, b := setup(t)

		decision, err := f.svc.EvaluateTransaction(ctx, "acme", deTransaction())
		require.NoError(t, err)
		assert.Equal(t, "pool-a", decision.PoolID, "equal priorities fall back to name order")

		require.NoError(t, f.svc.ReorderRules(ctx, "acme", "alice", []store.PriorityUpdate{
			{RuleID: a, Priority: 20},
			{RuleID: b, Priority: 10},
		}))

		decision, err = f.svc.EvaluateTransaction(ctx, "acme", deTransaction())
		require.NoError(t, err)
		assert.Equal(t, "pool-b", decision.PoolID)
		assert.Contains(t, f.notifier.types(), notify.RulesReordered)
	})

	t.Run("Should leave priorities untouched when one rule is unknown", func(t *testing.T) {
		f, a, _ := setup(t)

		err := f.svc.ReorderRules(ctx, "acme", "alice", []store.PriorityUpdate{
			{RuleID: a, Priority: 1},
			{RuleID: "missing", Priority: 2},
		})
		assert.True(t, IsNotFound(err))

		rule, err := f.svc.GetRule(ctx, a)
		require.NoError(t, err)
		assert.Equal(t, ruleengine.DefaultPriority, rule.Priority)
	})

	t.Run("Should reject malformed batches", func(t *testing.T) {
		f, a, _ := setup(t)

		for _, updates := range [][]store.PriorityUpdate{
			nil,
			{{RuleID: a, Priority: -1}},
			{{RuleID: a, Priority: 1}, {RuleID: a, Priority: 2}},
			{{RuleID: "", Priority: 1}},
		} {
			_, ok := AsValidation(f.svc.ReorderRules(ctx, "acme", "alice", updates))
			assert.True(t, ok, "updates %v", updates)
		}
	})
}

func TestService_EvaluateTransaction(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("Should route and hand statistics and audit work to the recorder", func(t *testing.T) {
		f := newFixture(t, nil)
		rule, err := f.svc.CreateRule(ctx, "acme", "alice", routeDraft("eu", "eu-pool", "DE", "FR"))
		require.NoError(t, err)
		activate(t, f, rule.ID)

		decision, err := f.svc.EvaluateTransaction(ctx, "acme", deTransaction())
		require.NoError(t, err)

		assert.Equal(t, "eu-pool", decision.PoolID)
		require.Len(t, decision.AppliedRules, 1)

		stats := f.recorder.byKind(recorder.KindStats)
		require.Len(t, stats, 1)
		assert.Equal(t, []string{rule.ID}, stats[0].RuleIDs)
		assert.Equal(t, fixedNow, stats[0].MatchedAt)

		audits := f.recorder.byKind(recorder.KindAudit)
		require.Len(t, audits, 1)
		entry := audits[0].Log
		assert.Equal(t, "acme", entry.CompanyID)
		assert.Equal(t, "tx-42", entry.TransactionID)
		assert.Equal(t, "eu-pool", entry.PoolID)
		assert.Equal(t, []string{rule.ID}, entry.AppliedRuleIDs)
		assert.Equal(t, fixedNow, entry.Context.Timestamp, "the snapshot carries the evaluation instant")
	})

	t.Run("Should audit unmatched evaluations without statistics", func(t *testing.T) {
		f := newFixture(t, nil)

		decision, err := f.svc.EvaluateTransaction(ctx, "acme", deTransaction())
		require.NoError(t, err)

		assert.True(t, decision.Success)
		assert.Empty(t, decision.AppliedRules)
		assert.True(t, decision.FinalAmount.Equal(decimal.NewFromInt(100)))
		assert.Empty(t, f.recorder.byKind(recorder.KindStats))
		assert.Len(t, f.recorder.byKind(recorder.KindAudit), 1)
	})

	t.Run("Should serve repeated evaluations from the cache", func(t *testing.T) {
		f := newFixture(t, nil)
		rule, err := f.svc.CreateRule(ctx, "acme", "alice", routeDraft("eu", "eu-pool", "DE"))
		require.NoError(t, err)
		activate(t, f, rule.ID)

		for range 3 {
			_, err := f.svc.EvaluateTransaction(ctx, "acme", deTransaction())
			require.NoError(t, err)
		}
		assert.Equal(t, int32(1), f.store.listCalls.Load())
	})

	t.Run("Should see rule changes immediately after a mutation", func(t *testing.T) {
		f := newFixture(t, nil)
		rule, err := f.svc.CreateRule(ctx, "acme", "alice", routeDraft("eu", "eu-pool", "DE"))
		require.NoError(t, err)
		activate(t, f, rule.ID)

		decision, err := f.svc.EvaluateTransaction(ctx, "acme", deTransaction())
		require.NoError(t, err)
		require.Equal(t, "eu-pool", decision.PoolID)

		inactive := ruleengine.StatusInactive
		_, err = f.svc.UpdateRule(ctx, rule.ID, RulePatch{Status: &inactive})
		require.NoError(t, err)

		decision, err = f.svc.EvaluateTransaction(ctx, "acme", deTransaction())
		require.NoError(t, err)
		assert.Empty(t, decision.PoolID)
	})

	t.Run("Should not cache rules loaded across a concurrent deletion", func(t *testing.T) {
		f := newFixture(t, nil)
		rule, err := f.svc.CreateRule(ctx, "acme", "alice", routeDraft("eu", "eu-pool", "DE"))
		require.NoError(t, err)
		activate(t, f, rule.ID)

		loaded := make(chan struct{})
		release := make(chan struct{})
		var once sync.Once
		f.store.afterList = func() {
			once.Do(func() {
				close(loaded)
				<-release
			})
		}

		done := make(chan error, 1)
		go func() {
			_, err := f.svc.EvaluateTransaction(ctx, "acme", deTransaction())
			done <- err
		}()

		<-loaded
		require.NoError(t, f.svc.DeleteRule(ctx, rule.ID, "bob"))
		close(release)
		require.NoError(t, <-done)

		decision, err := f.svc.TestRules(ctx, "acme", deTransaction())
		require.NoError(t, err)
		assert.Empty(t, decision.PoolID, "the snapshot read before the deletion must not be served")
		assert.Equal(t, int32(2), f.store.listCalls.Load())
	})

	t.Run("Should fall back to the store when the cache fails", func(t *testing.T) {
		f := newFixture(t, brokenCache{})
		rule, err := f.svc.CreateRule(ctx, "acme", "alice", routeDraft("eu", "eu-pool", "DE"))
		require.NoError(t, err)
		activate(t, f, rule.ID)

		decision, err := f.svc.EvaluateTransaction(ctx, "acme", deTransaction())
		require.NoError(t, err)
		assert.Equal(t, "eu-pool", decision.PoolID)
	})

	t.Run("Should keep tenants isolated", func(t *testing.T) {
		f := newFixture(t, nil)
		rule, err := f.svc.CreateRule(ctx, "acme", "alice", routeDraft("eu", "eu-pool", "DE"))
		require.NoError(t, err)
		activate(t, f, rule.ID)

		decision, err := f.svc.EvaluateTransaction(ctx, "globex", deTransaction())
		require.NoError(t, err)
		assert.Empty(t, decision.PoolID)
	})

	t.Run("Should ignore notifier failures", func(t *testing.T) {
		f := newFixture(t, nil)
		f.notifier.err = errors.New("broker down")

		_, err := f.svc.CreateRule(ctx, "acme", "alice", routeDraft("eu", "eu-pool"))
		assert.NoError(t, err)
	})
}

func TestService_TestRules(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, nil)

	rule, err := f.svc.CreateRule(ctx, "acme", "alice", routeDraft("eu", "eu-pool", "DE"))
	require.NoError(t, err)
	activate(t, f, rule.ID)

	decision, err := f.svc.TestRules(ctx, "acme", deTransaction())
	require.NoError(t, err)

	assert.Equal(t, "eu-pool", decision.PoolID)
	assert.Empty(t, f.recorder.jobs, "dry runs record nothing")
}

func TestService_ListRules(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, nil)

	a, err := f.svc.CreateRule(ctx, "acme", "alice", routeDraft("a", "p"))
	require.NoError(t, err)
	_, err = f.svc.CreateRule(ctx, "acme", "alice", routeDraft("b", "p"))
	require.NoError(t, err)
	activate(t, f, a.ID)

	all, err := f.svc.ListRules(ctx, "acme")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	active, err := f.svc.ListRules(ctx, "acme", ruleengine.StatusActive)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, a.ID, active[0].ID)

	_, err = f.svc.ListRules(ctx, "acme", ruleengine.Status("PAUSED"))
	_, ok := AsValidation(err)
	assert.True(t, ok)
}

func TestService_ListDecisions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, nil)

	var ids []string
	for range 3 {
		entry := store.NewDecisionLog("acme", deTransaction(), ruleengine.Decision{})
		require.NoError(t, f.store.AppendDecision(ctx, entry))
		ids = append(ids, entry.ID)
	}

	logs, err := f.svc.ListDecisions(ctx, "acme", 2)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, ids[2], logs[0].ID, "newest first")
	assert.Equal(t, ids[1], logs[1].ID)

	logs, err = f.svc.ListDecisions(ctx, "acme", 0)
	require.NoError(t, err)
	assert.Len(t, logs, 1, "non-positive limits are clamped to one")
}

func TestNewService_PanicsOnMissingDependencies(t *testing.T) {
	t.Parallel()

	st := store.NewMemoryStore()
	assert.Panics(t, func() {
		NewService(nil, st, st, nil, ruleengine.New(nil), &fakeRecorder{})
	})
}
