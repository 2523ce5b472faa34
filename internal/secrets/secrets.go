// Package secrets is the key-value credential store consulted by identifier.
// The coordinator side only reads; provisioning happens through the CLI.
package secrets

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when no secret exists for an identifier.
var ErrNotFound = errors.New("secret not found")

// Store resolves credential bytes by identifier.
type Store interface {
	Get(ctx context.Context, id string) ([]byte, error)
}

// SQLStore is the SQLite-backed Store.
type SQLStore struct {
	db *sql.DB
}

var _ Store = (*SQLStore)(nil)

func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

func (s *SQLStore) Get(ctx context.Context, id string) ([]byte, error) {
	if id == "" {
		return nil, fmt.Errorf("secret id is empty")
	}

	var value []byte
	err := s.db.QueryRowContext(ctx, "SELECT value FROM secret WHERE id = ?;", id).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read secret: %w", err)
	}
	return value, nil
}

// Put upserts a secret. Used by provisioning tooling, not by the coordinator.
func (s *SQLStore) Put(ctx context.Context, id string, value []byte) error {
	if id == "" {
		return fmt.Errorf("secret id is empty")
	}
	if len(value) == 0 {
		return fmt.Errorf("secret value is empty")
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx, `
INSERT INTO secret(id, value, updated_at)
VALUES(?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
  value = excluded.value,
  updated_at = excluded.updated_at;
`, id, value, now)
	if err != nil {
		return fmt.Errorf("write secret: %w", err)
	}
	return nil
}
