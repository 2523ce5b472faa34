// Package journal appends terminal command outcomes to SQLite so operators
// can audit what crossed the privilege boundary after the in-memory queue has
// been cleaned up.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/mpy-dev-ml/scopegate/internal/queue"
)

const maxErrorBytes = 4 * 1024

type Journal struct {
	db *sql.DB
}

func New(db *sql.DB) *Journal {
	return &Journal{db: db}
}

// Record appends one terminal outcome. fingerprints identifies the capability
// tokens of the paths the command touched; the opaque payloads themselves are
// never journaled.
func (j *Journal) Record(ctx context.Context, cmd *queue.Command, fingerprints []string) error {
	if cmd == nil {
		return fmt.Errorf("command is nil")
	}
	if !cmd.Status.Terminal() {
		return fmt.Errorf("command %s is not terminal (%s)", cmd.ID, cmd.Status)
	}

	var lastError any
	if cmd.LastError != nil {
		s := cmd.LastError.Error()
		if len(s) > maxErrorBytes {
			s = s[:maxErrorBytes]
		}
		lastError = s
	}

	var paths any
	if len(fingerprints) > 0 {
		paths = strings.Join(fingerprints, ",")
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := j.db.ExecContext(ctx, `
INSERT INTO command_log(id, status, retries, last_error, paths, created_at, completed_at)
VALUES(?, ?, ?, ?, ?, ?, ?);
`, cmd.ID, string(cmd.Status), cmd.RetryCount, lastError, paths,
		cmd.CreatedAt.UTC().Format(time.RFC3339Nano), now)
	if err != nil {
		return fmt.Errorf("insert command_log: %w", err)
	}
	return nil
}

// Entry is one journaled outcome.
type Entry struct {
	ID          string
	Status      string
	Retries     int
	LastError   *string
	CompletedAt time.Time
}

// Recent returns the most recent terminal outcomes, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := j.db.QueryContext(ctx, `
SELECT id, status, retries, last_error, completed_at
FROM command_log
ORDER BY completed_at DESC
LIMIT ?;
`, limit)
	if err != nil {
		return nil, fmt.Errorf("query command_log: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e            Entry
			lastError    sql.NullString
			completedAtS string
		)
		if err := rows.Scan(&e.ID, &e.Status, &e.Retries, &lastError, &completedAtS); err != nil {
			return nil, fmt.Errorf("scan command_log row: %w", err)
		}
		if lastError.Valid {
			e.LastError = &lastError.String
		}
		if t, err := time.Parse(time.RFC3339Nano, completedAtS); err == nil {
			e.CompletedAt = t
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate command_log rows: %w", err)
	}
	return out, nil
}
