package settings

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PostgresStore implements MutableStore backed by PostgreSQL
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed settings store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// List returns every entry ordered by key
func (s *PostgresStore) List(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT key, name, variables, created_at, updated_at
		FROM rule_set_variables
		ORDER BY key ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list settings: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var variables []byte
		if err := rows.Scan(&e.Key, &e.Name, &variables, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan settings entry: %w", err)
		}
		e.Variables = json.RawMessage(variables)
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating settings: %w", err)
	}

	return entries, nil
}

// Get retrieves an entry by key
func (s *PostgresStore) Get(ctx context.Context, key string) (*Entry, error) {
	var e Entry
	var variables []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT key, name, variables, created_at, updated_at
		FROM rule_set_variables
		WHERE key = $1
	`, key).Scan(&e.Key, &e.Name, &variables, &e.CreatedAt, &e.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get settings entry: %w", err)
	}

	e.Variables = json.RawMessage(variables)
	return &e, nil
}

// Put inserts or replaces an entry
func (s *PostgresStore) Put(ctx context.Context, entry *Entry) error {
	if entry.Key == "" {
		return fmt.Errorf("settings entry key is required")
	}
	if !json.Valid(entry.Variables) {
		return fmt.Errorf("variables for %s are not valid JSON", entry.Key)
	}

	now := time.Now()
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO rule_set_variables (key, name, variables, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (key) DO UPDATE
		SET name = EXCLUDED.name, variables = EXCLUDED.variables, updated_at = EXCLUDED.updated_at
		RETURNING created_at, updated_at
	`, entry.Key, entry.Name, []byte(entry.Variables), now).Scan(&entry.CreatedAt, &entry.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to store settings entry: %w", err)
	}

	return nil
}

// Delete removes an entry
func (s *PostgresStore) Delete(ctx context.Context, key string) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM rule_set_variables
		WHERE key = $1
	`, key)
	if err != nil {
		return fmt.Errorf("failed to delete settings entry: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}

	return nil
}
