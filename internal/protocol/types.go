package protocol

import "time"

// Version is the only protocol revision the helper understands.
const Version = 1

// Response status values.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Request is the envelope the coordinator writes to the privileged helper's
// stdin. Args and Env are opaque to the transport; the helper hands them to
// the backup engine as-is.
type Request struct {
	Protocol   int               `json:"protocol"`
	CommandID  string            `json:"command_id"`
	Op         string            `json:"op"` // backup | restore | check
	Args       []string          `json:"args,omitempty"`
	Env        map[string]string `json:"env,omitempty"`
	DeadlineAt time.Time         `json:"deadline_at"`
}

// Response is the envelope the helper writes to stdout.
type Response struct {
	Status   string `json:"status"` // ok | error
	Error    string `json:"error,omitempty"`
	ExitCode int    `json:"exit_code"`
	Stdout   string `json:"stdout,omitempty"`
	Stderr   string `json:"stderr,omitempty"`
}
