package rules

import (
	"context"
	"testing"

	"github.com/forumkit/automation/event"
)

func TestInMemoryStoreImplementsStore(t *testing.T) {
	var _ Store = (*InMemoryStore)(nil)
	var _ Store = (*PostgresStore)(nil)
	var _ Store = (*CachedStore)(nil)
}

func addRule(t *testing.T, store *InMemoryStore, rule *Rule) *Rule {
	t.Helper()
	if err := store.Add(context.Background(), rule); err != nil {
		t.Fatalf("Add() failed: %v", err)
	}
	return rule
}

func TestInMemoryStoreAddAssignsID(t *testing.T) {
	store := NewInMemoryStore()
	rule := addRule(t, store, validDonationRule())

	if rule.ID == 0 {
		t.Error("Add() should assign a rule ID")
	}
	if rule.Version != 1 {
		t.Errorf("new rule version = %d, want 1", rule.Version)
	}

	got, err := store.Get(context.Background(), rule.ID)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got.Name != rule.Name {
		t.Errorf("Get() name = %q, want %q", got.Name, rule.Name)
	}
}

func TestInMemoryStoreGetMissing(t *testing.T) {
	store := NewInMemoryStore()
	if _, err := store.Get(context.Background(), 99); err == nil {
		t.Error("Get() should fail for a missing rule")
	}
}

func TestInMemoryStoreRulesForFiltersAndOrders(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()

	second := validDonationRule()
	second.Priority = 2
	addRule(t, store, second)

	first := validDonationRule()
	first.Priority = 1
	addRule(t, store, first)

	disabled := validDonationRule()
	disabled.Priority = 0
	disabled.Enabled = false
	addRule(t, store, disabled)

	other := validDonationRule()
	other.EventType = event.TypeCheckin
	other.Condition = Cmp("consecutiveDays", OpGte, 1)
	addRule(t, store, other)

	list, err := store.RulesFor(ctx, event.TypeDonation)
	if err != nil {
		t.Fatalf("RulesFor() failed: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("RulesFor() returned %d rules, want 2", len(list))
	}
	if list[0].ID != first.ID || list[1].ID != second.ID {
		t.Errorf("RulesFor() order = [%d %d], want [%d %d]",
			list[0].ID, list[1].ID, first.ID, second.ID)
	}
}

func TestSortForEvaluationTieBreaksOnID(t *testing.T) {
	list := []*Rule{
		{ID: 3, Priority: 1},
		{ID: 1, Priority: 1},
		{ID: 2, Priority: 0},
	}
	SortForEvaluation(list)

	want := []int64{2, 1, 3}
	for i, rule := range list {
		if rule.ID != want[i] {
			t.Fatalf("position %d has rule %d, want %d", i, rule.ID, want[i])
		}
	}
}

func TestInMemoryStoreUpdateBumpsVersion(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	rule := addRule(t, store, validDonationRule())

	rule.Name = "renamed"
	if err := store.Update(ctx, rule); err != nil {
		t.Fatalf("Update() failed: %v", err)
	}
	got, _ := store.Get(ctx, rule.ID)
	if got.Version != 2 {
		t.Errorf("updated version = %d, want 2", got.Version)
	}
	if got.Name != "renamed" {
		t.Errorf("updated name = %q, want %q", got.Name, "renamed")
	}
}

func TestInMemoryStoreSetEnabled(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	rule := addRule(t, store, validDonationRule())

	if err := store.SetEnabled(ctx, rule.ID, false); err != nil {
		t.Fatalf("SetEnabled() failed: %v", err)
	}
	list, _ := store.RulesFor(ctx, event.TypeDonation)
	if len(list) != 0 {
		t.Errorf("disabled rule still returned by RulesFor: %d rules", len(list))
	}
}

func TestInMemoryStoreDelete(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	rule := addRule(t, store, validDonationRule())

	if err := store.Delete(ctx, rule.ID); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	if _, err := store.Get(ctx, rule.ID); err == nil {
		t.Error("Get() should fail after Delete()")
	}
	if err := store.Delete(ctx, rule.ID); err == nil {
		t.Error("Delete() should fail for a missing rule")
	}
}

func TestInMemoryStoreReorder(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	a := addRule(t, store, validDonationRule())
	b := addRule(t, store, validDonationRule())
	c := addRule(t, store, validDonationRule())

	if err := store.Reorder(ctx, []int64{c.ID, a.ID, b.ID}); err != nil {
		t.Fatalf("Reorder() failed: %v", err)
	}

	list, _ := store.RulesFor(ctx, event.TypeDonation)
	want := []int64{c.ID, a.ID, b.ID}
	for i, rule := range list {
		if rule.ID != want[i] {
			t.Fatalf("position %d has rule %d, want %d", i, rule.ID, want[i])
		}
		if rule.Priority != i+1 {
			t.Errorf("rule %d priority = %d, want %d", rule.ID, rule.Priority, i+1)
		}
	}

	if err := store.Reorder(ctx, []int64{999}); err == nil {
		t.Error("Reorder() should fail for unknown IDs")
	}
}
