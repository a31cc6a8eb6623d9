package execution

import (
	"context"
	"sort"
	"sync"
	"time"
)

// InMemoryStore implements Store and Auditor with a mutex-guarded map. It
// backs tests and single-process development setups.
type InMemoryStore struct {
	mu      sync.Mutex
	records map[Key]*Record
}

// NewInMemoryStore creates an empty in-memory execution store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{records: make(map[Key]*Record)}
}

func (s *InMemoryStore) HasSucceeded(_ context.Context, key Key) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	return ok && rec.Status == StatusSucceeded, nil
}

func (s *InMemoryStore) RecordAttempt(_ context.Context, key Key) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	if !ok {
		rec = &Record{Key: key, Status: StatusPending, Attempts: 1}
		s.records[key] = rec
		return 1, nil
	}
	if rec.Status == StatusSucceeded || rec.Status == StatusFailed {
		return rec.Attempts, nil
	}
	rec.Attempts++
	rec.Status = StatusRetrying
	return rec.Attempts, nil
}

func (s *InMemoryStore) RecordOutcome(_ context.Context, key Key, status Status, lastErr string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	if !ok {
		// An outcome without a prior attempt still reflects one execution.
		rec = &Record{Key: key, Attempts: 1}
		s.records[key] = rec
	}
	if rec.Status == StatusSucceeded {
		return false, nil
	}
	rec.Status = status
	rec.LastError = lastErr
	rec.ExecutedAt = time.Now()
	return true, nil
}

func (s *InMemoryStore) ListByEvent(_ context.Context, eventID string) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var list []Record
	for key, rec := range s.records {
		if key.EventID == eventID {
			list = append(list, *rec)
		}
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].Key.RuleID != list[j].Key.RuleID {
			return list[i].Key.RuleID < list[j].Key.RuleID
		}
		return list[i].Key.ActionIndex < list[j].Key.ActionIndex
	})
	return list, nil
}

// Get returns a copy of the record for key, if present. Used by tests.
func (s *InMemoryStore) Get(key Key) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}
