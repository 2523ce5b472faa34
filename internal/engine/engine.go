// Package engine builds and runs invocations of the external backup tool.
// The tool itself is an external collaborator: it receives an argument list
// and environment map and returns an exit code plus captured output.
package engine

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"sort"
)

const maxCapturedBytes = 64 * 1024

// Known operation verbs accepted across the privilege boundary.
const (
	OpBackup  = "backup"
	OpRestore = "restore"
	OpCheck   = "check"
)

// PasswordEnvVar is the environment variable the backup tool reads its
// repository password from.
const PasswordEnvVar = "RESTIC_PASSWORD"

// BuildArgs constructs the tool's argument list for op against repo. paths
// are the source paths for backup, or the restore target for restore.
func BuildArgs(op, repo string, paths []string, extra []string) ([]string, error) {
	if repo == "" {
		return nil, fmt.Errorf("repository path is empty")
	}

	args := []string{"--repo", repo, "--json"}
	switch op {
	case OpBackup:
		if len(paths) == 0 {
			return nil, fmt.Errorf("backup requires at least one source path")
		}
		args = append(args, "backup")
		args = append(args, paths...)
	case OpRestore:
		if len(paths) != 1 {
			return nil, fmt.Errorf("restore requires exactly one target path")
		}
		args = append(args, "restore", "latest", "--target", paths[0])
	case OpCheck:
		if len(paths) != 0 {
			return nil, fmt.Errorf("check takes no paths")
		}
		args = append(args, "check")
	default:
		return nil, fmt.Errorf("unknown operation %q", op)
	}

	args = append(args, extra...)
	return args, nil
}

// Result captures one tool invocation's outcome.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Run executes the tool and captures its output. A non-zero exit is not an
// error here; the caller decides what exit codes mean. env entries are
// KEY=value pairs appended to an empty environment so the tool sees only what
// the request granted it.
func Run(ctx context.Context, binary string, args []string, env map[string]string) (Result, error) {
	if binary == "" {
		return Result{}, fmt.Errorf("tool binary is empty")
	}

	cmd := exec.CommandContext(ctx, binary, args...)
	cmd.Env = flattenEnv(env)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := Result{
		Stdout: truncate(stdout.String()),
		Stderr: truncate(stderr.String()),
	}

	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			res.ExitCode = exitErr.ExitCode()
			return res, nil
		}
		return res, fmt.Errorf("run %s: %w", binary, err)
	}
	return res, nil
}

func flattenEnv(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}

func truncate(s string) string {
	if len(s) > maxCapturedBytes {
		return s[:maxCapturedBytes]
	}
	return s
}
