package queue

import (
	"encoding/json"
	"errors"
	"time"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further transition can happen from s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Command is one unit of work addressed to the privileged process.
type Command struct {
	ID          string
	Payload     json.RawMessage
	Status      Status
	RetryCount  int
	CreatedAt   time.Time
	LastAttempt *time.Time
	LastError   error
}

var ErrCommandNotFound = errors.New("command not found")

// Config bounds the queue's retry policy. RetryDelay is a fixed interval by
// design; the dispatch driver honors it, the queue only records timestamps.
type Config struct {
	MaxRetries int
	RetryDelay time.Duration
}

// Counts is a point-in-time status snapshot, for observability only. It must
// never drive control flow: the queue may have moved on by the time the
// caller reads it.
type Counts struct {
	Pending    int `json:"pending"`
	InProgress int `json:"in_progress"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}
