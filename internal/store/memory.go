package store

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/switchyard-pay/switchyard/internal/ruleengine"
)

var (
	_ RuleRepository        = (*MemoryStore)(nil)
	_ DecisionLogRepository = (*MemoryStore)(nil)
)

type memoryRecord struct {
	rule      ruleengine.Rule
	deleted   bool
	deletedAt time.Time
	deletedBy string
}

// MemoryStore keeps rules and decision logs in process memory.
// Returned rules are copies; nested condition and action values are shared
// and must be treated as immutable.
type MemoryStore struct {
	mu        sync.RWMutex
	rules     map[string]*memoryRecord
	decisions []DecisionLog
	now       func() time.Time
}

// NewMemoryStore creates an empty in-memory repository.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rules: make(map[string]*memoryRecord),
		now:   time.Now,
	}
}

func (s *MemoryStore) CreateRule(_ context.Context, r *ruleengine.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.rules[r.ID]; exists {
		return fmt.Errorf("rule id %q already exists: %w", r.ID, ErrConflict)
	}
	if s.nameTakenLocked(r.CompanyID, r.Name, "") {
		return fmt.Errorf("rule named %q already exists: %w", r.Name, ErrConflict)
	}

	now := s.now()
	r.Version = 1
	r.CreatedAt = now
	r.UpdatedAt = now
	r.Stats = ruleengine.Statistics{}

	s.rules[r.ID] = &memoryRecord{rule: *r}
	return nil
}

func (s *MemoryStore) GetRule(_ context.Context, id string) (*ruleengine.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.rules[id]
	if !ok || rec.deleted {
		return nil, fmt.Errorf("rule %q: %w", id, ErrNotFound)
	}
	r := rec.rule
	return &r, nil
}

func (s *MemoryStore) ListRules(_ context.Context, companyID string, statuses ...ruleengine.Status) ([]ruleengine.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rules := []ruleengine.Rule{}
	for _, rec := range s.rules {
		if rec.deleted || rec.rule.CompanyID != companyID {
			continue
		}
		if len(statuses) > 0 && !slices.Contains(statuses, rec.rule.Status) {
			continue
		}
		rules = append(rules, rec.rule)
	}
	sortRules(rules)
	return rules, nil
}

func (s *MemoryStore) UpdateRule(_ context.Context, r *ruleengine.Rule, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.rules[r.ID]
	if !ok || rec.deleted {
		return fmt.Errorf("rule %q: %w", r.ID, ErrNotFound)
	}
	if expectedVersion != 0 && rec.rule.Version != expectedVersion {
		return fmt.Errorf("rule %q expected version %d: %w", r.ID, expectedVersion, ErrVersionConflict)
	}
	if s.nameTakenLocked(rec.rule.CompanyID, r.Name, r.ID) {
		return fmt.Errorf("rule named %q already exists: %w", r.Name, ErrConflict)
	}

	updated := *r
	// Fields owned by the store.
	updated.CompanyID = rec.rule.CompanyID
	updated.Stats = rec.rule.Stats
	updated.CreatedAt = rec.rule.CreatedAt
	updated.CreatedBy = rec.rule.CreatedBy
	updated.Version = rec.rule.Version + 1
	updated.UpdatedAt = s.now()

	rec.rule = updated
	r.Version = updated.Version
	r.UpdatedAt = updated.UpdatedAt
	return nil
}

func (s *MemoryStore) DeleteRule(_ context.Context, id, deletedBy string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.rules[id]
	if !ok || rec.deleted {
		return fmt.Errorf("rule %q: %w", id, ErrNotFound)
	}
	now := s.now()
	rec.deleted = true
	rec.deletedAt = now
	rec.deletedBy = deletedBy
	rec.rule.Version++
	rec.rule.UpdatedAt = now
	return nil
}

// ReorderRules validates the whole batch before touching any rule.
func (s *MemoryStore) ReorderRules(_ context.Context, companyID string, updates []PriorityUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range updates {
		rec, ok := s.rules[u.RuleID]
		if !ok || rec.deleted || rec.rule.CompanyID != companyID {
			return fmt.Errorf("rule %q: %w", u.RuleID, ErrNotFound)
		}
	}

	now := s.now()
	for _, u := range updates {
		rec := s.rules[u.RuleID]
		rec.rule.Priority = u.Priority
		rec.rule.Version++
		rec.rule.UpdatedAt = now
	}
	return nil
}

func (s *MemoryStore) RecordMatch(_ context.Context, id string, matchedAt time.Time, processingTimeMs float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.rules[id]
	if !ok {
		return fmt.Errorf("rule %q: %w", id, ErrNotFound)
	}
	at := matchedAt
	rec.rule.Stats.MatchCount++
	rec.rule.Stats.LastMatchedAt = &at
	rec.rule.Stats.AvgProcessingTimeMs = processingTimeMs
	return nil
}

func (s *MemoryStore) GetRuleStats(_ context.Context, companyID, id string) (*ruleengine.Statistics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.rules[id]
	if !ok || rec.rule.CompanyID != companyID {
		return nil, fmt.Errorf("rule %q: %w", id, ErrNotFound)
	}
	st := rec.rule.Stats
	return &st, nil
}

func (s *MemoryStore) ListDueTransitions(_ context.Context, now time.Time) ([]ruleengine.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	due := []ruleengine.Rule{}
	for _, rec := range s.rules {
		if rec.deleted || rec.rule.Schedule == nil {
			continue
		}
		sch := rec.rule.Schedule
		switch rec.rule.Status {
		case ruleengine.StatusScheduled:
			if sch.ActivateAt != nil && !sch.ActivateAt.After(now) {
				due = append(due, rec.rule)
			}
		case ruleengine.StatusActive, ruleengine.StatusTesting:
			if sch.DeactivateAt != nil && !sch.DeactivateAt.After(now) {
				due = append(due, rec.rule)
			}
		}
	}
	sort.SliceStable(due, func(i, j int) bool {
		if due[i].CompanyID != due[j].CompanyID {
			return due[i].CompanyID < due[j].CompanyID
		}
		return lessRule(&due[i], &due[j])
	})
	return due, nil
}

func (s *MemoryStore) AppendDecision(_ context.Context, d *DecisionLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d.CreatedAt = s.now()
	s.decisions = append(s.decisions, *d)
	return nil
}

func (s *MemoryStore) ListDecisions(_ context.Context, companyID string, limit int) ([]DecisionLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	logs := []DecisionLog{}
	for i := len(s.decisions) - 1; i >= 0 && len(logs) < limit; i-- {
		if s.decisions[i].CompanyID == companyID {
			logs = append(logs, s.decisions[i])
		}
	}
	return logs, nil
}

// nameTakenLocked reports whether a live rule other than exceptID uses name.
// Callers must hold s.mu.
func (s *MemoryStore) nameTakenLocked(companyID, name, exceptID string) bool {
	for id, rec := range s.rules {
		if id == exceptID || rec.deleted || rec.rule.CompanyID != companyID {
			continue
		}
		if rec.rule.Name == name {
			return true
		}
	}
	return false
}

func sortRules(rules []ruleengine.Rule) {
	sort.SliceStable(rules, func(i, j int) bool { return lessRule(&rules[i], &rules[j]) })
}

// lessRule is the (priority asc, name asc) evaluation order.
func lessRule(a, b *ruleengine.Rule) bool {
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	return strings.Compare(a.Name, b.Name) < 0
}
