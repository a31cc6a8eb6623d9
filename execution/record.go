// Package execution tracks the outcome of every (event, rule, action) triple
// the engine attempts. Records double as the audit trail administrators read
// and as the idempotency guard: a SUCCEEDED record means the action is never
// re-executed, even across process replicas sharing one store.
package execution

import (
	"context"
	"fmt"
	"time"
)

// Status is the lifecycle state of one action execution.
// PENDING -> RETRYING* -> SUCCEEDED | FAILED; the last two are terminal.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRetrying  Status = "RETRYING"
	StatusSucceeded Status = "SUCCEEDED"
	StatusFailed    Status = "FAILED"
)

// Key identifies one action execution: the idempotency key.
type Key struct {
	EventID     string
	RuleID      int64
	ActionIndex int
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%d/%d", k.EventID, k.RuleID, k.ActionIndex)
}

// Record is the durable audit/idempotency entry for one action execution.
// Immutable once SUCCEEDED.
type Record struct {
	Key        Key
	Status     Status
	Attempts   int
	LastError  string
	ExecutedAt time.Time
}

// Store persists execution records. Implementations must tolerate concurrent
// writers racing on the same key: RecordOutcome with StatusSucceeded is an
// atomic conditional transition, so at most one writer wins it.
type Store interface {
	// HasSucceeded reports whether the key already has a SUCCEEDED record.
	HasSucceeded(ctx context.Context, key Key) (bool, error)

	// RecordAttempt creates the record on the first attempt and increments
	// the attempt counter on retries, moving the status to RETRYING. It
	// returns the attempt number just recorded. A terminal record is left
	// untouched.
	RecordAttempt(ctx context.Context, key Key) (int, error)

	// RecordOutcome transitions the record to a terminal status. It returns
	// true when this caller performed the transition; false when another
	// writer already finished the key.
	RecordOutcome(ctx context.Context, key Key, status Status, lastErr string) (bool, error)
}

// Auditor exposes records for the administrative audit trail. Stores that
// cannot enumerate by event (e.g. Redis) implement only Store.
type Auditor interface {
	ListByEvent(ctx context.Context, eventID string) ([]Record, error)
}
