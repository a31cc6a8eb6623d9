// Package sinks defines the external collaborators the engine mutates
// through matched-rule actions, and the error classification the executor's
// retry policy keys on. The engine never touches these systems' persistence
// directly; it only calls the interfaces here.
package sinks

import (
	"context"
	"errors"
)

// CreditsLedger grants credits to a user's balance. Grant must be an atomic
// increment on the ledger side: concurrent events for the same user may
// interleave and a read-modify-write would lose updates.
type CreditsLedger interface {
	GrantCredits(ctx context.Context, userID, amount int64, reason string) (balance int64, err error)
}

// BadgeStore awards badges. AwardBadge returns false without error when the
// user already holds the badge.
type BadgeStore interface {
	AwardBadge(ctx context.Context, userID, badgeID int64, awardedBy string) (awarded bool, err error)
}

// Notifier delivers a templated notification to a user.
type Notifier interface {
	Notify(ctx context.Context, userID int64, template string, params map[string]string) error
}

// permanentError marks a failure that retrying cannot fix: bad action
// configuration, a referenced entity that no longer exists.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so the executor fails the action immediately instead
// of retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err (or anything it wraps) was marked
// permanent. Everything else is treated as transient and retried: the
// failure taxonomy defaults unknown infrastructure errors to retryable,
// bounded by the executor's attempt budget.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}
