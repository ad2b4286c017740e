package transition

import (
	"context"
	"slices"
	"sync"
)

// MemoryRuleStore is a concurrency-safe in-memory RuleStore.
type MemoryRuleStore struct {
	mu    sync.RWMutex
	rules []Rule
	index map[RuleKey]int
}

func NewMemoryRuleStore() *MemoryRuleStore {
	return &MemoryRuleStore{index: make(map[RuleKey]int)}
}

func (s *MemoryRuleStore) Insert(_ context.Context, rule Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := rule.Key()
	if _, ok := s.index[key]; ok {
		return &DuplicateRuleError{Key: key}
	}
	s.index[key] = len(s.rules)
	s.rules = append(s.rules, rule)
	return nil
}

func (s *MemoryRuleStore) List(_ context.Context, filter RuleFilter) ([]Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Rule, 0)
	for _, r := range s.rules {
		if filter.Match(r) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *MemoryRuleStore) Delete(_ context.Context, filter RuleFilter) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.rules[:0]
	var removed int64
	for _, r := range s.rules {
		if filter.Match(r) {
			removed++
			continue
		}
		kept = append(kept, r)
	}
	s.rules = slices.Clip(kept)

	clear(s.index)
	for i, r := range s.rules {
		s.index[r.Key()] = i
	}
	return removed, nil
}

// MemoryAuditLog is a concurrency-safe in-memory AuditLog.
// Records keep their append order.
type MemoryAuditLog struct {
	mu      sync.RWMutex
	records []Record
}

func NewMemoryAuditLog() *MemoryAuditLog {
	return &MemoryAuditLog{}
}

func (l *MemoryAuditLog) Append(_ context.Context, record Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, record)
	return nil
}

func (l *MemoryAuditLog) For(_ context.Context, query HistoryQuery) ([]Record, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Record, 0)
	for _, r := range l.records {
		if query.Match(r) {
			out = append(out, r)
		}
	}
	// Stable sort keeps append order for equal timestamps.
	slices.SortStableFunc(out, func(a, b Record) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return out, nil
}

// Len returns the number of stored records.
func (l *MemoryAuditLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.records)
}
