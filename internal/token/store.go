package token

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned by Lookup when no token is persisted for a path.
var ErrNotFound = errors.New("token not found")

// Store persists capability tokens between runs so durable access to a path
// survives process restarts.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Save upserts the token for its path.
func (s *Store) Save(ctx context.Context, t Token) error {
	if t.Path == "" {
		return fmt.Errorf("token path is empty")
	}
	if len(t.Payload) == 0 {
		return fmt.Errorf("token payload is empty")
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	createdAt := now
	if !t.CreatedAt.IsZero() {
		createdAt = t.CreatedAt.UTC().Format(time.RFC3339Nano)
	}

	stale := 0
	if t.Stale {
		stale = 1
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO capability_token(path, payload, fingerprint, stale, created_at, resolved_at)
VALUES(?, ?, ?, ?, ?, ?)
ON CONFLICT(path) DO UPDATE SET
  payload = excluded.payload,
  fingerprint = excluded.fingerprint,
  stale = excluded.stale,
  resolved_at = excluded.resolved_at;
`, t.Path, t.Payload, Fingerprint(t), stale, createdAt, now)
	if err != nil {
		return fmt.Errorf("save token: %w", err)
	}
	return nil
}

// Lookup returns the persisted token for path, or ErrNotFound.
func (s *Store) Lookup(ctx context.Context, path string) (Token, error) {
	if path == "" {
		return Token{}, fmt.Errorf("path is empty")
	}

	var (
		t          Token
		stale      int
		createdAtS string
	)
	err := s.db.QueryRowContext(ctx, `
SELECT payload, stale, created_at FROM capability_token WHERE path = ?;
`, path).Scan(&t.Payload, &stale, &createdAtS)
	if errors.Is(err, sql.ErrNoRows) {
		return Token{}, ErrNotFound
	}
	if err != nil {
		return Token{}, fmt.Errorf("lookup token: %w", err)
	}

	t.Path = path
	t.Stale = stale != 0
	if ts, err := time.Parse(time.RFC3339Nano, createdAtS); err == nil {
		t.CreatedAt = ts
	}
	return t, nil
}

// MarkStale flags the persisted token for path as needing re-issue. Marking
// an unknown path is a no-op.
func (s *Store) MarkStale(ctx context.Context, path string) error {
	if path == "" {
		return fmt.Errorf("path is empty")
	}
	_, err := s.db.ExecContext(ctx, `UPDATE capability_token SET stale = 1 WHERE path = ?;`, path)
	if err != nil {
		return fmt.Errorf("mark token stale: %w", err)
	}
	return nil
}

// All returns every persisted token, for inspection tooling.
func (s *Store) All(ctx context.Context) ([]Token, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT path, payload, stale, created_at FROM capability_token ORDER BY path ASC;
`)
	if err != nil {
		return nil, fmt.Errorf("list tokens: %w", err)
	}
	defer rows.Close()

	var out []Token
	for rows.Next() {
		var (
			t          Token
			stale      int
			createdAtS string
		)
		if err := rows.Scan(&t.Path, &t.Payload, &stale, &createdAtS); err != nil {
			return nil, fmt.Errorf("scan token row: %w", err)
		}
		t.Stale = stale != 0
		if ts, err := time.Parse(time.RFC3339Nano, createdAtS); err == nil {
			t.CreatedAt = ts
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate token rows: %w", err)
	}
	return out, nil
}
