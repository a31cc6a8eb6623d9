package rules

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/forumkit/automation/event"
)

// PostgresStore implements Store backed by PostgreSQL. Condition trees and
// action lists are persisted as jsonb.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed rule store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Add(ctx context.Context, rule *Rule) error {
	condJSON, actionsJSON, err := marshalRule(rule)
	if err != nil {
		return err
	}

	err = s.db.QueryRowContext(ctx, `
		INSERT INTO rules (name, event_type, enabled, priority, condition, actions, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 1, NOW(), NOW())
		RETURNING id, version, created_at, updated_at
	`, rule.Name, string(rule.EventType), rule.Enabled, rule.Priority, condJSON, actionsJSON).
		Scan(&rule.ID, &rule.Version, &rule.CreatedAt, &rule.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert rule: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id int64) (*Rule, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, event_type, enabled, priority, condition, actions, version, created_at, updated_at
		FROM rules
		WHERE id = $1
	`, id)

	rule, err := scanRule(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("rule %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rule: %w", err)
	}
	return rule, nil
}

func (s *PostgresStore) RulesFor(ctx context.Context, t event.Type) ([]*Rule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, event_type, enabled, priority, condition, actions, version, created_at, updated_at
		FROM rules
		WHERE event_type = $1 AND enabled = true
		ORDER BY priority ASC, id ASC
	`, string(t))
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	defer rows.Close()

	var list []*Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		list = append(list, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rules: %w", err)
	}
	return list, nil
}

// List returns every rule, enabled or not, for the administration surface.
func (s *PostgresStore) List(ctx context.Context) ([]*Rule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, event_type, enabled, priority, condition, actions, version, created_at, updated_at
		FROM rules
		ORDER BY event_type ASC, priority ASC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	defer rows.Close()

	var list []*Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		list = append(list, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rules: %w", err)
	}
	return list, nil
}

func (s *PostgresStore) Update(ctx context.Context, rule *Rule) error {
	condJSON, actionsJSON, err := marshalRule(rule)
	if err != nil {
		return err
	}

	err = s.db.QueryRowContext(ctx, `
		UPDATE rules
		SET name = $1, event_type = $2, enabled = $3, priority = $4,
		    condition = $5, actions = $6, version = version + 1, updated_at = NOW()
		WHERE id = $7
		RETURNING version, created_at, updated_at
	`, rule.Name, string(rule.EventType), rule.Enabled, rule.Priority,
		condJSON, actionsJSON, rule.ID).
		Scan(&rule.Version, &rule.CreatedAt, &rule.UpdatedAt)
	if err == sql.ErrNoRows {
		return fmt.Errorf("rule %d not found", rule.ID)
	}
	if err != nil {
		return fmt.Errorf("failed to update rule: %w", err)
	}
	return nil
}

func (s *PostgresStore) SetEnabled(ctx context.Context, id int64, enabled bool) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE rules
		SET enabled = $1, version = version + 1, updated_at = NOW()
		WHERE id = $2
	`, enabled, id)
	if err != nil {
		return fmt.Errorf("failed to toggle rule: %w", err)
	}
	return requireRow(result, id)
}

func (s *PostgresStore) Delete(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM rules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}
	return requireRow(result, id)
}

func (s *PostgresStore) Reorder(ctx context.Context, ids []int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin reorder: %w", err)
	}
	defer tx.Rollback()

	for i, id := range ids {
		result, err := tx.ExecContext(ctx, `
			UPDATE rules
			SET priority = $1, version = version + 1, updated_at = NOW()
			WHERE id = $2
		`, i+1, id)
		if err != nil {
			return fmt.Errorf("failed to reorder rule %d: %w", id, err)
		}
		if err := requireRow(result, id); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit reorder: %w", err)
	}
	return nil
}

func requireRow(result sql.Result, id int64) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("rule %d not found", id)
	}
	return nil
}

func marshalRule(rule *Rule) (condJSON, actionsJSON []byte, err error) {
	condJSON, err = json.Marshal(rule.Condition)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal condition: %w", err)
	}
	actionsJSON, err = json.Marshal(rule.Actions)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal actions: %w", err)
	}
	return condJSON, actionsJSON, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (*Rule, error) {
	var (
		rule        Rule
		eventType   string
		condJSON    []byte
		actionsJSON []byte
	)
	err := row.Scan(
		&rule.ID,
		&rule.Name,
		&eventType,
		&rule.Enabled,
		&rule.Priority,
		&condJSON,
		&actionsJSON,
		&rule.Version,
		&rule.CreatedAt,
		&rule.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	rule.EventType = event.Type(eventType)
	if err := json.Unmarshal(condJSON, &rule.Condition); err != nil {
		return nil, fmt.Errorf("failed to unmarshal condition: %w", err)
	}
	if err := json.Unmarshal(actionsJSON, &rule.Actions); err != nil {
		return nil, fmt.Errorf("failed to unmarshal actions: %w", err)
	}
	return &rule, nil
}
