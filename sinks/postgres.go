package sinks

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/lib/pq"
)

// PostgresCreditsLedger implements CreditsLedger on a credit_balances table.
// The grant is a single upsert that increments in the database, so it stays
// correct when actions for near-simultaneous events interleave.
type PostgresCreditsLedger struct {
	db *sql.DB
}

// NewPostgresCreditsLedger creates a PostgreSQL-backed credits ledger.
func NewPostgresCreditsLedger(db *sql.DB) *PostgresCreditsLedger {
	return &PostgresCreditsLedger{db: db}
}

func (l *PostgresCreditsLedger) GrantCredits(ctx context.Context, userID, amount int64, reason string) (int64, error) {
	// The increment and the ledger entry commit together: a partial grant
	// would double-increment the balance under the executor's retry.
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin grant: %w", err)
	}
	defer tx.Rollback()

	var balance int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO credit_balances (user_id, balance, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (user_id) DO UPDATE
		SET balance = credit_balances.balance + EXCLUDED.balance,
		    updated_at = NOW()
		RETURNING balance
	`, userID, amount).Scan(&balance)
	if err != nil {
		return 0, fmt.Errorf("failed to grant credits: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO credit_ledger (user_id, amount, reason, created_at)
		VALUES ($1, $2, $3, NOW())
	`, userID, amount, reason)
	if err != nil {
		return 0, fmt.Errorf("failed to append ledger entry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit grant: %w", err)
	}
	return balance, nil
}

// PostgresBadgeStore implements BadgeStore on a user_badges table. The award
// is insert-if-absent, so a duplicate award is reported rather than repeated.
type PostgresBadgeStore struct {
	db *sql.DB
}

// NewPostgresBadgeStore creates a PostgreSQL-backed badge store.
func NewPostgresBadgeStore(db *sql.DB) *PostgresBadgeStore {
	return &PostgresBadgeStore{db: db}
}

func (s *PostgresBadgeStore) AwardBadge(ctx context.Context, userID, badgeID int64, awardedBy string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM badges WHERE id = $1)
	`, badgeID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check badge: %w", err)
	}
	if !exists {
		return false, Permanent(fmt.Errorf("badge %d does not exist", badgeID))
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO user_badges (user_id, badge_id, awarded_by, awarded_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (user_id, badge_id) DO NOTHING
	`, userID, badgeID, awardedBy)
	if err != nil {
		return false, fmt.Errorf("failed to award badge: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected == 1, nil
}

// PostgresNotifier implements Notifier by queueing rows in a notifications
// table the forum's delivery pipeline drains.
type PostgresNotifier struct {
	db *sql.DB
}

// NewPostgresNotifier creates a PostgreSQL-backed notifier.
func NewPostgresNotifier(db *sql.DB) *PostgresNotifier {
	return &PostgresNotifier{db: db}
}

func (n *PostgresNotifier) Notify(ctx context.Context, userID int64, template string, params map[string]string) error {
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return Permanent(fmt.Errorf("failed to marshal notification params: %w", err))
	}

	_, err = n.db.ExecContext(ctx, `
		INSERT INTO notifications (user_id, template, params, created_at)
		VALUES ($1, $2, $3, NOW())
	`, userID, template, paramsJSON)
	if err != nil {
		return fmt.Errorf("failed to queue notification: %w", err)
	}
	return nil
}
