package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// GetState reads a replica_state value. ok is false when the key is unset.
func (s queries) GetState(ctx context.Context, key string) (value string, ok bool, err error) {
	err = s.q.QueryRowContext(ctx, `SELECT value FROM replica_state WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read state %q: %w", key, err)
	}
	return value, true, nil
}

// SetState writes a replica_state value.
func (s queries) SetState(ctx context.Context, key, value string) error {
	if _, err := s.q.ExecContext(ctx, `
	INSERT INTO replica_state (key, value) VALUES (?, ?)
	ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value); err != nil {
		return fmt.Errorf("failed to write state %q: %w", key, err)
	}
	return nil
}
