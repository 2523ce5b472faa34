// scopegate-helper is the privileged side of the dispatch boundary. It reads
// exactly one request from stdin, runs the backup engine, and writes one
// response to stdout. It is meant to be spawned by scopegate, never run
// interactively.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/mpy-dev-ml/scopegate/internal/engine"
	"github.com/mpy-dev-ml/scopegate/internal/log"
	"github.com/mpy-dev-ml/scopegate/internal/protocol"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("scopegate-helper", flag.ContinueOnError)
	engineBinary := fs.String("engine", "restic", "Backup engine binary")
	repo := fs.String("repo", "", "Repository the engine operates on")
	logLevel := fs.String("log-level", "WARN", "Log level")
	var extra stringList
	fs.Var(&extra, "extra-arg", "Extra engine argument (repeatable)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	log.Setup(*logLevel)
	logger := log.WithComponent("helper")

	if *repo == "" {
		logger.Error("missing -repo")
		writeFailure("helper misconfigured: missing -repo")
		return 1
	}

	req, err := protocol.DecodeRequest(os.Stdin)
	if err != nil {
		logger.Error("invalid request", "error", err)
		writeFailure(fmt.Sprintf("invalid request: %v", err))
		return 1
	}
	logger = log.WithCommand(req.CommandID)

	engineArgs, err := engine.BuildArgs(req.Op, *repo, req.Args, extra)
	if err != nil {
		logger.Error("rejected operation", "op", req.Op, "error", err)
		writeFailure(err.Error())
		return 1
	}

	ctx := context.Background()
	if !req.DeadlineAt.IsZero() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, req.DeadlineAt)
		defer cancel()
	}

	start := time.Now()
	result, err := engine.Run(ctx, *engineBinary, engineArgs, req.Env)
	if err != nil {
		logger.Error("engine run failed", "error", err)
		writeFailure(fmt.Sprintf("engine run failed: %v", err))
		return 1
	}
	logger.Info("engine finished",
		"op", req.Op,
		"exit_code", result.ExitCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	resp := &protocol.Response{
		Status:   protocol.StatusOK,
		ExitCode: result.ExitCode,
		Stdout:   result.Stdout,
		Stderr:   result.Stderr,
	}
	if result.ExitCode != 0 {
		resp.Status = protocol.StatusError
		resp.Error = fmt.Sprintf("engine exited with status %d", result.ExitCode)
	}

	// A non-zero engine exit travels inside the response; the helper itself
	// exits clean so the gateway can tell transport failures apart.
	if err := protocol.EncodeResponse(os.Stdout, resp); err != nil {
		logger.Error("failed to write response", "error", err)
		return 1
	}
	return 0
}

func writeFailure(msg string) {
	_ = protocol.EncodeResponse(os.Stdout, &protocol.Response{
		Status: protocol.StatusError,
		Error:  msg,
	})
}

// stringList is a repeatable string flag.
type stringList []string

func (s *stringList) String() string { return "" }

func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}
