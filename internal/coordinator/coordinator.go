// Package coordinator composes the resource access ledger and the command
// queue into one submission API. Before a command crosses the privilege
// boundary every path it needs is access-started; after it reaches a terminal
// state (success, terminal failure, timeout) access is stopped again.
package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mpy-dev-ml/scopegate/internal/ledger"
	"github.com/mpy-dev-ml/scopegate/internal/log"
	"github.com/mpy-dev-ml/scopegate/internal/metrics"
	"github.com/mpy-dev-ml/scopegate/internal/protocol"
	"github.com/mpy-dev-ml/scopegate/internal/queue"
)

// Dispatcher carries one command across the privilege boundary. It makes no
// retry attempts of its own; retry policy lives entirely in the queue.
type Dispatcher interface {
	Dispatch(ctx context.Context, req *protocol.Request) (*protocol.Response, error)
}

// Journal records terminal outcomes. Satisfied by *journal.Journal.
type Journal interface {
	Record(ctx context.Context, cmd *queue.Command, fingerprints []string) error
}

type Config struct {
	// PollInterval paces the dispatch loop when another driver holds the
	// next pending command.
	PollInterval time.Duration
}

// CommandSpec is what a caller submits.
type CommandSpec struct {
	Op   string            `json:"op"`
	Args []string          `json:"args,omitempty"`
	Env  map[string]string `json:"env,omitempty"`
}

// Result is the terminal outcome of one submission.
type Result struct {
	CommandID string
	Status    queue.Status
	Retries   int
	Response  *protocol.Response
}

// Coordinator owns the dispatch loop for every command it accepts. Each
// Submit call drives the loop itself, so a command can never be left in
// progress with nothing polling it.
type Coordinator struct {
	ledger     *ledger.Ledger
	queue      *queue.Queue
	dispatcher Dispatcher
	journal    Journal
	metrics    *metrics.Collector
	logger     *slog.Logger
	cfg        Config

	mu        sync.Mutex
	responses map[string]*protocol.Response
}

func New(l *ledger.Ledger, q *queue.Queue, d Dispatcher, j Journal, m *metrics.Collector, cfg Config) *Coordinator {
	return &Coordinator{
		ledger:     l,
		queue:      q,
		dispatcher: d,
		journal:    j,
		metrics:    m,
		logger:     log.WithComponent("coordinator"),
		responses:  make(map[string]*protocol.Response),
		cfg:        cfg,
	}
}

// Submit runs spec across the privilege boundary while holding access to
// requiredPaths. It blocks until the command reaches a terminal state or ctx
// expires; either way every grant acquired here is released before it
// returns. On terminal failure the returned error is the command's last
// error, which carries the retry count attempted.
func (c *Coordinator) Submit(ctx context.Context, spec CommandSpec, requiredPaths []string) (Result, error) {
	// Start access to every required path, rolling back on first failure.
	var acquired []string
	for _, path := range requiredPaths {
		if err := c.ledger.StartAccess(ctx, path); err != nil {
			for _, p := range acquired {
				c.ledger.StopAccess(p)
			}
			c.updateGrantGauge()
			return Result{}, err
		}
		acquired = append(acquired, path)
	}
	c.updateGrantGauge()

	// Token fingerprints are captured while the grants are live; by journal
	// time the deferred stops may already have run.
	var fingerprints []string
	for _, path := range acquired {
		if fp, ok := c.ledger.Fingerprint(path); ok {
			fingerprints = append(fingerprints, fp)
		}
	}

	defer func() {
		for _, p := range acquired {
			c.ledger.StopAccess(p)
		}
		c.updateGrantGauge()
	}()

	payload, err := json.Marshal(spec)
	if err != nil {
		return Result{}, fmt.Errorf("encode command spec: %w", err)
	}

	id := c.queue.Enqueue(payload)
	if c.metrics != nil {
		c.metrics.RecordEnqueue()
	}

	c.driveUntilTerminal(ctx, id)

	cmd, err := c.queue.Get(id)
	if err != nil {
		return Result{}, fmt.Errorf("load command %s: %w", id, err)
	}

	c.recordTerminal(cmd, fingerprints)

	res := Result{
		CommandID: id,
		Status:    cmd.Status,
		Retries:   cmd.RetryCount,
		Response:  c.takeResponse(id),
	}
	if cmd.Status == queue.StatusFailed {
		return res, cmd.LastError
	}
	return res, nil
}

// driveUntilTerminal dispatches pending commands (not necessarily only id:
// with overlapping submissions each driver works the head of the queue, which
// preserves insertion order) until id is terminal or ctx expires. On expiry
// the command is force-failed so it cannot linger in a non-terminal state.
func (c *Coordinator) driveUntilTerminal(ctx context.Context, id string) {
	for {
		cmd, err := c.queue.Get(id)
		if err != nil || cmd.Status.Terminal() {
			return
		}

		if ctx.Err() != nil {
			c.queue.Abort(id, ctx.Err())
			if c.metrics != nil {
				c.metrics.RecordFailed()
			}
			return
		}

		next := c.queue.NextPending()
		if next == nil {
			// Our command is in progress under another driver; wait.
			// The loop re-checks ctx on wake, so cancellation mid-sleep
			// still reaches the abort path.
			c.sleep(ctx, c.pollInterval())
			continue
		}

		c.dispatchOne(ctx, next)
	}
}

// dispatchOne performs a single attempt for cmd and records the outcome.
// Cancellation mid-dispatch still reaches Complete so the queue never loses
// track of the attempt.
func (c *Coordinator) dispatchOne(ctx context.Context, cmd *queue.Command) {
	if c.metrics != nil {
		c.metrics.RecordDispatch()
	}

	var spec CommandSpec
	if err := json.Unmarshal(cmd.Payload, &spec); err != nil {
		c.completeAttempt(cmd.ID, fmt.Errorf("decode command spec: %w", err))
		return
	}

	req := &protocol.Request{
		Protocol:  protocol.Version,
		CommandID: cmd.ID,
		Op:        spec.Op,
		Args:      spec.Args,
		Env:       spec.Env,
	}
	if deadline, ok := ctx.Deadline(); ok {
		req.DeadlineAt = deadline
	}

	started := time.Now()
	resp, err := c.dispatcher.Dispatch(ctx, req)
	latency := time.Since(started)

	switch {
	case err != nil:
		c.completeAttempt(cmd.ID, fmt.Errorf("dispatch failed: %w", err))
	case resp.Status == protocol.StatusError:
		c.setResponse(cmd.ID, resp)
		c.completeAttempt(cmd.ID, fmt.Errorf("dispatch failed: %s", resp.Error))
	default:
		c.setResponse(cmd.ID, resp)
		c.completeAttempt(cmd.ID, nil)
		if c.metrics != nil {
			c.metrics.RecordCompleted(latency.Seconds())
		}
		return
	}

	// Failed attempt: pace the retry. The delay is a fixed interval on
	// purpose; switching to exponential backoff would change observable
	// timing semantics.
	if after, err := c.queue.Get(cmd.ID); err == nil {
		switch after.Status {
		case queue.StatusPending:
			if c.metrics != nil {
				c.metrics.RecordRetry()
			}
			c.sleep(ctx, c.queue.RetryDelay())
		case queue.StatusFailed:
			if c.metrics != nil {
				c.metrics.RecordFailed()
			}
		}
	}
}

func (c *Coordinator) completeAttempt(id string, dispatchErr error) {
	if err := c.queue.Complete(id, dispatchErr); err != nil {
		c.logger.Error("failed to record attempt outcome", "command_id", id, "error", err)
	}
}

func (c *Coordinator) recordTerminal(cmd *queue.Command, fingerprints []string) {
	if c.journal == nil || !cmd.Status.Terminal() {
		return
	}
	// Journaling uses a fresh context: the submit ctx may already be done,
	// and the audit row must still be written.
	jctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.journal.Record(jctx, cmd, fingerprints); err != nil {
		c.logger.Error("failed to journal terminal command", "command_id", cmd.ID, "error", err)
	}
}

// sleep waits for d or ctx, reporting whether the full duration elapsed.
func (c *Coordinator) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (c *Coordinator) pollInterval() time.Duration {
	if c.cfg.PollInterval > 0 {
		return c.cfg.PollInterval
	}
	return 50 * time.Millisecond
}

func (c *Coordinator) setResponse(id string, resp *protocol.Response) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.responses[id] = resp
}

func (c *Coordinator) takeResponse(id string) *protocol.Response {
	c.mu.Lock()
	defer c.mu.Unlock()
	resp := c.responses[id]
	delete(c.responses, id)
	return resp
}

func (c *Coordinator) updateGrantGauge() {
	if c.metrics != nil {
		c.metrics.SetActiveGrants(len(c.ledger.Grants()))
	}
}

// Close clears terminal commands and force-releases every grant. Intended
// for shutdown: outstanding reference counts are deliberately ignored so no
// platform grant outlives the process.
func (c *Coordinator) Close() {
	c.queue.Cleanup()
	c.ledger.StopAll()
	c.updateGrantGauge()
}

// IsAccessDenied reports whether err is (or wraps) an access denial.
func IsAccessDenied(err error) bool {
	var denied *ledger.AccessDeniedError
	return errors.As(err, &denied)
}
