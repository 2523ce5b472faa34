// Package helper dispatches commands to the privileged helper process. Each
// dispatch spawns the helper binary, writes one protocol request to its
// stdin, and reads one response from its stdout. All retry policy lives in
// the command queue; this client makes exactly one attempt per call.
package helper

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"syscall"
	"time"

	"github.com/mpy-dev-ml/scopegate/internal/log"
	"github.com/mpy-dev-ml/scopegate/internal/protocol"
)

const (
	defaultTimeout = 10 * time.Minute

	// terminationGrace is the time we wait after SIGTERM before SIGKILL.
	defaultTerminationGrace = 5 * time.Second
)

type Config struct {
	// Binary is the path to the privileged helper executable.
	Binary string

	// Timeout bounds one helper invocation.
	Timeout time.Duration

	// TerminationGrace is the SIGTERM-to-SIGKILL window.
	TerminationGrace time.Duration
}

// Client spawns the helper for each dispatched command.
type Client struct {
	cfg    Config
	logger *slog.Logger
}

func New(cfg Config) (*Client, error) {
	if cfg.Binary == "" {
		return nil, fmt.Errorf("helper binary path is empty")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.TerminationGrace <= 0 {
		cfg.TerminationGrace = defaultTerminationGrace
	}
	return &Client{
		cfg:    cfg,
		logger: log.WithComponent("helper"),
	}, nil
}

// Dispatch sends req across the privilege boundary and waits for the
// response, the configured timeout, or ctx cancellation, whichever comes
// first. On timeout or cancellation the helper is terminated (SIGTERM, then
// SIGKILL after the grace window) and the context error is returned.
func (c *Client) Dispatch(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
	logger := c.logger.With("command_id", req.CommandID, "op", req.Op)

	timeoutTimer := time.NewTimer(c.cfg.Timeout)
	defer timeoutTimer.Stop()

	cmd := exec.Command(c.cfg.Binary)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdin pipe: %w", err)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	logger.Debug("spawning helper", "binary", c.cfg.Binary, "timeout", c.cfg.Timeout)

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start helper: %w", err)
	}

	writeErr := make(chan error, 1)
	go func() {
		defer stdin.Close()
		writeErr <- protocol.EncodeRequest(stdin, req)
	}()

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
	}()

	select {
	case <-ctx.Done():
		logger.Warn("dispatch cancelled, terminating helper")
		c.terminate(cmd, waitErr, logger)
		return nil, ctx.Err()

	case <-timeoutTimer.C:
		logger.Warn("helper timed out, terminating", "timeout", c.cfg.Timeout)
		c.terminate(cmd, waitErr, logger)
		return nil, context.DeadlineExceeded

	case err := <-waitErr:
		if werr := <-writeErr; werr != nil {
			return nil, fmt.Errorf("write request: %w", werr)
		}

		if err != nil {
			if exitErr, ok := err.(*exec.ExitError); ok {
				logger.Warn("helper exited with non-zero status", "exit_code", exitErr.ExitCode())
			} else {
				return nil, fmt.Errorf("wait for helper: %w", err)
			}
		}

		resp, raw, err := protocol.DecodeResponseLenient(bytes.NewReader(stdout.Bytes()))
		if err != nil {
			logger.Error("failed to decode helper response",
				"error", err, "stdout", string(raw), "stderr", stderr.String())
			return nil, fmt.Errorf("decode response: %w", err)
		}
		return resp, nil
	}
}

// terminate sends SIGTERM, waits out the grace window, then SIGKILLs.
func (c *Client) terminate(cmd *exec.Cmd, waitErr <-chan error, logger *slog.Logger) {
	if cmd.Process != nil {
		if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
			logger.Error("failed to send SIGTERM", "error", err)
		}
	}

	grace := time.NewTimer(c.cfg.TerminationGrace)
	defer grace.Stop()

	select {
	case <-waitErr:
		logger.Info("helper exited after SIGTERM")
	case <-grace.C:
		logger.Warn("helper did not exit after SIGTERM, sending SIGKILL")
		if cmd.Process != nil {
			if err := cmd.Process.Kill(); err != nil {
				logger.Error("failed to send SIGKILL", "error", err)
			}
		}
		<-waitErr
	}
}
