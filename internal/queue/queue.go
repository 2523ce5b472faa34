package queue

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mpy-dev-ml/scopegate/internal/log"
)

// Queue tracks commands addressed to the privileged process and applies a
// bounded-retry policy. All mutating operations serialize on one mutex;
// Counts snapshots take the same lock so they never observe torn state.
//
// Commands keep their insertion rank across retries: a retried command goes
// back to pending in place, so newer submissions cannot starve it.
type Queue struct {
	mu       sync.Mutex
	cfg      Config
	order    []*Command
	commands map[string]*Command
	now      func() time.Time
	logger   *slog.Logger
}

func New(cfg Config) *Queue {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return &Queue{
		cfg:      cfg,
		commands: make(map[string]*Command),
		now:      time.Now,
		logger:   log.WithComponent("queue"),
	}
}

// Enqueue registers a new pending command and returns its id immediately.
func (q *Queue) Enqueue(payload json.RawMessage) string {
	q.mu.Lock()
	defer q.mu.Unlock()

	cmd := &Command{
		ID:        uuid.NewString(),
		Payload:   payload,
		Status:    StatusPending,
		CreatedAt: q.now().UTC(),
	}
	q.order = append(q.order, cmd)
	q.commands[cmd.ID] = cmd

	q.logger.Info("command enqueued", "command_id", cmd.ID)
	return cmd.ID
}

// NextPending claims the oldest pending command, marks it in_progress, stamps
// the attempt time, and returns a copy for dispatch. Returns nil when nothing
// is pending.
func (q *Queue) NextPending() *Command {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, cmd := range q.order {
		if cmd.Status != StatusPending {
			continue
		}

		now := q.now().UTC()
		cmd.Status = StatusInProgress
		cmd.LastAttempt = &now

		q.logger.Debug("command dispatched", "command_id", cmd.ID, "attempt", cmd.RetryCount+1)
		c := *cmd
		return &c
	}
	return nil
}

// Complete records the outcome of a dispatch attempt. A nil err completes
// the command; otherwise it goes back to pending until maxRetries retries
// have been spent, at which point it fails terminally. Terminal errors carry
// the retry count so operators can tell "failed immediately" from "failed
// after N retries".
func (q *Queue) Complete(id string, dispatchErr error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	cmd, ok := q.commands[id]
	if !ok {
		return ErrCommandNotFound
	}
	if cmd.Status != StatusInProgress {
		q.logger.Warn("completion for command not in progress",
			"command_id", id, "status", cmd.Status)
		return fmt.Errorf("command %s is %s, not in progress", id, cmd.Status)
	}

	if dispatchErr == nil {
		cmd.Status = StatusCompleted
		cmd.LastError = nil
		q.logger.Info("command completed", "command_id", id, "retries", cmd.RetryCount)
		return nil
	}

	if cmd.RetryCount >= q.cfg.MaxRetries {
		cmd.Status = StatusFailed
		cmd.LastError = fmt.Errorf("terminal after %d retries: %w", cmd.RetryCount, dispatchErr)
		q.logger.Error("command failed terminally",
			"command_id", id, "retries", cmd.RetryCount, "error", dispatchErr)
		return nil
	}

	cmd.RetryCount++
	cmd.Status = StatusPending
	cmd.LastError = dispatchErr
	q.logger.Warn("command will retry",
		"command_id", id, "retry", cmd.RetryCount, "max_retries", q.cfg.MaxRetries, "error", dispatchErr)
	return nil
}

// Abort forces a non-terminal command into the failed state. Used only by
// the submit driver's timeout path, so a command is never left in progress
// with no driver polling it. Aborting a terminal command is a no-op.
func (q *Queue) Abort(id string, reason error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	cmd, ok := q.commands[id]
	if !ok || cmd.Status.Terminal() {
		return
	}

	cmd.Status = StatusFailed
	cmd.LastError = fmt.Errorf("aborted after %d retries: %w", cmd.RetryCount, reason)
	q.logger.Error("command aborted", "command_id", id, "retries", cmd.RetryCount, "reason", reason)
}

// Get returns a copy of the tracked command, or ErrCommandNotFound.
func (q *Queue) Get(id string) (*Command, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	cmd, ok := q.commands[id]
	if !ok {
		return nil, ErrCommandNotFound
	}
	c := *cmd
	return &c, nil
}

// RetryDelay exposes the configured fixed retry interval for the dispatch
// driver.
func (q *Queue) RetryDelay() time.Duration {
	return q.cfg.RetryDelay
}

// Cleanup removes every terminal command from the tracked set. Idempotent.
func (q *Queue) Cleanup() {
	q.mu.Lock()
	defer q.mu.Unlock()

	kept := q.order[:0]
	removed := 0
	for _, cmd := range q.order {
		if cmd.Status.Terminal() {
			delete(q.commands, cmd.ID)
			removed++
			continue
		}
		kept = append(kept, cmd)
	}
	q.order = kept

	if removed > 0 {
		q.logger.Info("terminal commands removed", "count", removed)
	}
}

// Status returns a snapshot of per-status counts.
func (q *Queue) Status() Counts {
	q.mu.Lock()
	defer q.mu.Unlock()

	var c Counts
	for _, cmd := range q.order {
		switch cmd.Status {
		case StatusPending:
			c.Pending++
		case StatusInProgress:
			c.InProgress++
		case StatusCompleted:
			c.Completed++
		case StatusFailed:
			c.Failed++
		}
	}
	return c
}
