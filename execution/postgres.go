package execution

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
)

// PostgresStore implements Store and Auditor on an execution_records table
// keyed by (event_id, rule_id, action_index). The SUCCEEDED transition is a
// conditional UPDATE, so two replicas racing the same duplicate event agree
// on a single winner without any advisory locking.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed execution store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) HasSucceeded(ctx context.Context, key Key) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM execution_records
			WHERE event_id = $1 AND rule_id = $2 AND action_index = $3 AND status = $4
		)
	`, key.EventID, key.RuleID, key.ActionIndex, string(StatusSucceeded)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check execution record: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) RecordAttempt(ctx context.Context, key Key) (int, error) {
	var attempts int
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO execution_records (event_id, rule_id, action_index, status, attempts)
		VALUES ($1, $2, $3, $4, 1)
		ON CONFLICT (event_id, rule_id, action_index) DO UPDATE
		SET attempts = execution_records.attempts + 1,
		    status   = $5
		WHERE execution_records.status NOT IN ($6, $7)
		RETURNING attempts
	`, key.EventID, key.RuleID, key.ActionIndex,
		string(StatusPending), string(StatusRetrying),
		string(StatusSucceeded), string(StatusFailed)).Scan(&attempts)

	if err == sql.ErrNoRows {
		// Record is already terminal; report its attempt count unchanged.
		err = s.db.QueryRowContext(ctx, `
			SELECT attempts FROM execution_records
			WHERE event_id = $1 AND rule_id = $2 AND action_index = $3
		`, key.EventID, key.RuleID, key.ActionIndex).Scan(&attempts)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to record attempt: %w", err)
	}
	return attempts, nil
}

func (s *PostgresStore) RecordOutcome(ctx context.Context, key Key, status Status, lastErr string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO execution_records (event_id, rule_id, action_index, status, attempts, last_error, executed_at)
		VALUES ($1, $2, $3, $4, 1, NULLIF($5, ''), NOW())
		ON CONFLICT (event_id, rule_id, action_index) DO UPDATE
		SET status      = $4,
		    last_error  = NULLIF($5, ''),
		    executed_at = NOW()
		WHERE execution_records.status <> $6
	`, key.EventID, key.RuleID, key.ActionIndex, string(status), lastErr, string(StatusSucceeded))
	if err != nil {
		return false, fmt.Errorf("failed to record outcome: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected == 1, nil
}

func (s *PostgresStore) ListByEvent(ctx context.Context, eventID string) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT event_id, rule_id, action_index, status, attempts, COALESCE(last_error, ''), COALESCE(executed_at, 'epoch'::timestamptz)
		FROM execution_records
		WHERE event_id = $1
		ORDER BY rule_id ASC, action_index ASC
	`, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to list execution records: %w", err)
	}
	defer rows.Close()

	var list []Record
	for rows.Next() {
		var (
			rec    Record
			status string
		)
		if err := rows.Scan(&rec.Key.EventID, &rec.Key.RuleID, &rec.Key.ActionIndex,
			&status, &rec.Attempts, &rec.LastError, &rec.ExecutedAt); err != nil {
			return nil, fmt.Errorf("failed to scan execution record: %w", err)
		}
		rec.Status = Status(status)
		list = append(list, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating execution records: %w", err)
	}
	return list, nil
}
