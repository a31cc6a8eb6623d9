package execution

import (
	"context"
	"sync"
	"testing"
)

func testKey() Key {
	return Key{EventID: "evt-1", RuleID: 7, ActionIndex: 0}
}

func TestRecordAttemptLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	key := testKey()

	attempts, err := store.RecordAttempt(ctx, key)
	if err != nil {
		t.Fatalf("RecordAttempt() failed: %v", err)
	}
	if attempts != 1 {
		t.Errorf("first attempt = %d, want 1", attempts)
	}
	rec, _ := store.Get(key)
	if rec.Status != StatusPending {
		t.Errorf("status after first attempt = %s, want %s", rec.Status, StatusPending)
	}

	for want := 2; want <= 4; want++ {
		attempts, err = store.RecordAttempt(ctx, key)
		if err != nil {
			t.Fatalf("RecordAttempt() failed: %v", err)
		}
		if attempts != want {
			t.Errorf("attempt = %d, want %d", attempts, want)
		}
	}
	rec, _ = store.Get(key)
	if rec.Status != StatusRetrying {
		t.Errorf("status after retries = %s, want %s", rec.Status, StatusRetrying)
	}
}

func TestRecordOutcomeSucceededIsTerminal(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	key := testKey()

	store.RecordAttempt(ctx, key)
	won, err := store.RecordOutcome(ctx, key, StatusSucceeded, "")
	if err != nil {
		t.Fatalf("RecordOutcome() failed: %v", err)
	}
	if !won {
		t.Error("first SUCCEEDED transition should win")
	}

	succeeded, err := store.HasSucceeded(ctx, key)
	if err != nil {
		t.Fatalf("HasSucceeded() failed: %v", err)
	}
	if !succeeded {
		t.Error("HasSucceeded() = false after success")
	}

	// A terminal record never changes again.
	won, _ = store.RecordOutcome(ctx, key, StatusFailed, "late failure")
	if won {
		t.Error("FAILED should not overwrite SUCCEEDED")
	}
	attempts, _ := store.RecordAttempt(ctx, key)
	if attempts != 1 {
		t.Errorf("attempts after terminal = %d, want unchanged 1", attempts)
	}
	rec, _ := store.Get(key)
	if rec.Status != StatusSucceeded {
		t.Errorf("status = %s, want %s", rec.Status, StatusSucceeded)
	}
}

func TestRecordOutcomeSingleWinner(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	key := testKey()
	store.RecordAttempt(ctx, key)

	const writers = 16
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	wg.Add(writers)
	for i := 0; i < writers; i++ {
		go func() {
			defer wg.Done()
			won, err := store.RecordOutcome(ctx, key, StatusSucceeded, "")
			if err != nil {
				t.Errorf("RecordOutcome() failed: %v", err)
				return
			}
			if won {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("%d writers won the SUCCEEDED transition, want exactly 1", wins)
	}
}

func TestRecordOutcomeFailed(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	key := testKey()

	store.RecordAttempt(ctx, key)
	won, err := store.RecordOutcome(ctx, key, StatusFailed, "sink unavailable")
	if err != nil {
		t.Fatalf("RecordOutcome() failed: %v", err)
	}
	if !won {
		t.Error("failure transition should apply")
	}

	rec, ok := store.Get(key)
	if !ok {
		t.Fatal("record not found")
	}
	if rec.Status != StatusFailed {
		t.Errorf("status = %s, want %s", rec.Status, StatusFailed)
	}
	if rec.LastError != "sink unavailable" {
		t.Errorf("lastError = %q, want %q", rec.LastError, "sink unavailable")
	}
	if succeeded, _ := store.HasSucceeded(ctx, key); succeeded {
		t.Error("HasSucceeded() = true for a FAILED record")
	}
}

func TestRecordOutcomeWithoutAttempt(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	key := testKey()

	won, err := store.RecordOutcome(ctx, key, StatusSucceeded, "")
	if err != nil {
		t.Fatalf("RecordOutcome() failed: %v", err)
	}
	if !won {
		t.Error("outcome on a fresh key should win")
	}

	rec, ok := store.Get(key)
	if !ok {
		t.Fatal("record not found")
	}
	if rec.Attempts != 1 {
		t.Errorf("attempts = %d, want 1 for an outcome without a prior attempt", rec.Attempts)
	}
}

func TestListByEvent(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()

	keys := []Key{
		{EventID: "evt-1", RuleID: 2, ActionIndex: 0},
		{EventID: "evt-1", RuleID: 1, ActionIndex: 1},
		{EventID: "evt-1", RuleID: 1, ActionIndex: 0},
		{EventID: "evt-2", RuleID: 1, ActionIndex: 0},
	}
	for _, key := range keys {
		store.RecordAttempt(ctx, key)
		store.RecordOutcome(ctx, key, StatusSucceeded, "")
	}

	list, err := store.ListByEvent(ctx, "evt-1")
	if err != nil {
		t.Fatalf("ListByEvent() failed: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("ListByEvent() returned %d records, want 3", len(list))
	}
	want := []Key{
		{EventID: "evt-1", RuleID: 1, ActionIndex: 0},
		{EventID: "evt-1", RuleID: 1, ActionIndex: 1},
		{EventID: "evt-1", RuleID: 2, ActionIndex: 0},
	}
	for i, rec := range list {
		if rec.Key != want[i] {
			t.Errorf("position %d = %+v, want %+v", i, rec.Key, want[i])
		}
	}
}
