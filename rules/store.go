package rules

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/forumkit/automation/event"
)

// Store manages rule persistence and retrieval. Mutations come from the
// administration surface; the engine only calls RulesFor.
type Store interface {
	// Add a new rule, assigning its ID.
	Add(ctx context.Context, rule *Rule) error

	// Get a rule by ID.
	Get(ctx context.Context, id int64) (*Rule, error)

	// RulesFor lists enabled rules for an event type, ordered by priority
	// ascending with ID ascending as the tie-break.
	RulesFor(ctx context.Context, t event.Type) ([]*Rule, error)

	// Update an existing rule, bumping its version.
	Update(ctx context.Context, rule *Rule) error

	// SetEnabled toggles a rule without touching its definition.
	SetEnabled(ctx context.Context, id int64, enabled bool) error

	// Delete a rule.
	Delete(ctx context.Context, id int64) error

	// Reorder assigns priorities 1..n following the given ID order.
	Reorder(ctx context.Context, ids []int64) error
}

// SortForEvaluation orders rules the way the bus evaluates them: priority
// ascending, then ID ascending for determinism.
func SortForEvaluation(list []*Rule) {
	sort.Slice(list, func(i, j int) bool {
		if list[i].Priority != list[j].Priority {
			return list[i].Priority < list[j].Priority
		}
		return list[i].ID < list[j].ID
	})
}

// InMemoryStore implements Store using a map. It backs tests and local
// development; production uses PostgresStore.
type InMemoryStore struct {
	mu     sync.RWMutex
	rules  map[int64]*Rule
	nextID int64
}

// NewInMemoryStore creates an empty in-memory rule store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{rules: make(map[int64]*Rule)}
}

func (s *InMemoryStore) Add(_ context.Context, rule *Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rule.ID == 0 {
		s.nextID++
		rule.ID = s.nextID
	} else if _, exists := s.rules[rule.ID]; exists {
		return fmt.Errorf("rule with ID %d already exists", rule.ID)
	} else if rule.ID > s.nextID {
		s.nextID = rule.ID
	}

	now := time.Now()
	rule.Version = 1
	rule.CreatedAt = now
	rule.UpdatedAt = now
	cp := *rule
	s.rules[rule.ID] = &cp
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, id int64) (*Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rule, exists := s.rules[id]
	if !exists {
		return nil, fmt.Errorf("rule with ID %d not found", id)
	}
	cp := *rule
	return &cp, nil
}

func (s *InMemoryStore) RulesFor(_ context.Context, t event.Type) ([]*Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*Rule
	for _, rule := range s.rules {
		if rule.Enabled && rule.EventType == t {
			cp := *rule
			matched = append(matched, &cp)
		}
	}
	SortForEvaluation(matched)
	return matched, nil
}

// List returns every rule, enabled or not, ordered for display. Not part of
// the Store interface; only the administration surface needs it.
func (s *InMemoryStore) List(_ context.Context) ([]*Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := make([]*Rule, 0, len(s.rules))
	for _, rule := range s.rules {
		cp := *rule
		list = append(list, &cp)
	}
	SortForEvaluation(list)
	return list, nil
}

func (s *InMemoryStore) Update(_ context.Context, rule *Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.rules[rule.ID]
	if !exists {
		return fmt.Errorf("rule with ID %d not found", rule.ID)
	}

	rule.CreatedAt = existing.CreatedAt
	rule.Version = existing.Version + 1
	rule.UpdatedAt = time.Now()
	cp := *rule
	s.rules[rule.ID] = &cp
	return nil
}

func (s *InMemoryStore) SetEnabled(_ context.Context, id int64, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rule, exists := s.rules[id]
	if !exists {
		return fmt.Errorf("rule with ID %d not found", id)
	}
	rule.Enabled = enabled
	rule.Version++
	rule.UpdatedAt = time.Now()
	return nil
}

func (s *InMemoryStore) Delete(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.rules[id]; !exists {
		return fmt.Errorf("rule with ID %d not found", id)
	}
	delete(s.rules, id)
	return nil
}

func (s *InMemoryStore) Reorder(_ context.Context, ids []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range ids {
		if _, exists := s.rules[id]; !exists {
			return fmt.Errorf("rule with ID %d not found", id)
		}
	}
	now := time.Now()
	for i, id := range ids {
		rule := s.rules[id]
		rule.Priority = i + 1
		rule.Version++
		rule.UpdatedAt = now
	}
	return nil
}
