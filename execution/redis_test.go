package execution

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStore(client, time.Hour), mr
}

func TestRedisRecordAttempt(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestRedisStore(t)
	key := testKey()

	for want := 1; want <= 3; want++ {
		attempts, err := store.RecordAttempt(ctx, key)
		if err != nil {
			t.Fatalf("RecordAttempt() failed: %v", err)
		}
		if attempts != want {
			t.Errorf("attempt = %d, want %d", attempts, want)
		}
	}
}

func TestRedisSucceededIsTerminal(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestRedisStore(t)
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

	// Second winner attempt loses, and a late failure does not demote.
	won, _ = store.RecordOutcome(ctx, key, StatusSucceeded, "")
	if won {
		t.Error("second SUCCEEDED transition should not win")
	}
	won, _ = store.RecordOutcome(ctx, key, StatusFailed, "late failure")
	if won {
		t.Error("FAILED should not overwrite SUCCEEDED")
	}
	if succeeded, _ = store.HasSucceeded(ctx, key); !succeeded {
		t.Error("success marker lost after late failure")
	}

	// Attempts stop incrementing once the record is terminal.
	before, _ := store.RecordAttempt(ctx, key)
	after, _ := store.RecordAttempt(ctx, key)
	if after != before {
		t.Errorf("attempts moved from %d to %d after success", before, after)
	}
}

func TestRedisLateAttemptKeepsSuccessStatus(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestRedisStore(t)
	key := testKey()

	store.RecordAttempt(ctx, key)
	if _, err := store.RecordOutcome(ctx, key, StatusSucceeded, ""); err != nil {
		t.Fatalf("RecordOutcome() failed: %v", err)
	}

	// A replica that checked HasSucceeded before the winner committed still
	// calls RecordAttempt. The stored status must not fall back to PENDING
	// or RETRYING.
	if _, err := store.RecordAttempt(ctx, key); err != nil {
		t.Fatalf("RecordAttempt() failed: %v", err)
	}
	if got := mr.HGet(store.recordKey(key), "status"); got != string(StatusSucceeded) {
		t.Errorf("status = %q after late attempt, want %q", got, StatusSucceeded)
	}

	// Same for a loser reporting its failure after the fact.
	if _, err := store.RecordOutcome(ctx, key, StatusFailed, "lost the race"); err != nil {
		t.Fatalf("RecordOutcome() failed: %v", err)
	}
	if got := mr.HGet(store.recordKey(key), "status"); got != string(StatusSucceeded) {
		t.Errorf("status = %q after late failure, want %q", got, StatusSucceeded)
	}
	if got := mr.HGet(store.recordKey(key), "last_error"); got != "" {
		t.Errorf("last_error = %q after late failure, want empty", got)
	}
}

func TestRedisFailedOutcome(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestRedisStore(t)
	key := testKey()

	store.RecordAttempt(ctx, key)
	won, err := store.RecordOutcome(ctx, key, StatusFailed, "sink unavailable")
	if err != nil {
		t.Fatalf("RecordOutcome() failed: %v", err)
	}
	if !won {
		t.Error("failure transition should apply")
	}
	if succeeded, _ := store.HasSucceeded(ctx, key); succeeded {
		t.Error("HasSucceeded() = true for a FAILED record")
	}
}

func TestRedisKeysAreIndependent(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestRedisStore(t)

	first := Key{EventID: "evt-1", RuleID: 1, ActionIndex: 0}
	second := Key{EventID: "evt-1", RuleID: 1, ActionIndex: 1}

	store.RecordAttempt(ctx, first)
	store.RecordOutcome(ctx, first, StatusSucceeded, "")

	if succeeded, _ := store.HasSucceeded(ctx, second); succeeded {
		t.Error("success of one action leaked to a sibling action key")
	}
	attempts, err := store.RecordAttempt(ctx, second)
	if err != nil {
		t.Fatalf("RecordAttempt() failed: %v", err)
	}
	if attempts != 1 {
		t.Errorf("sibling attempt = %d, want 1", attempts)
	}
}
