// Package subproc runs workspace tooling (linters, type checkers, test
// runners) as subprocesses with bounded lifetimes.
package subproc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/forgeline/forgeline/internal/domain"
)

// sigtermExitCode is what a process killed by SIGTERM reports. Commands that
// exit with it after a deadline are classified as timeouts, not failures.
const sigtermExitCode = 143

// Result captures a finished subprocess.
type Result struct {
	Command  string
	ExitCode int
	Output   string
	Duration time.Duration
	TimedOut bool
}

// Runner executes shell commands inside a working directory.
type Runner struct {
	// execCommand is swappable for testing.
	execCommand func(ctx context.Context, name string, args ...string) *exec.Cmd

	maxOutput int
}

// NewRunner returns a Runner with real process execution.
func NewRunner() *Runner {
	return &Runner{
		execCommand: exec.CommandContext,
		maxOutput:   64 * 1024,
	}
}

// Run executes command through the shell in dir, applying timeout. The
// returned Result is non-nil whenever the process started; a non-zero exit
// code yields both a Result and an error.
func (r *Runner) Run(ctx context.Context, dir, command string, timeout time.Duration) (*Result, error) {
	if command == "" {
		return nil, errors.New("subproc: empty command")
	}

	runCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := r.execCommand(runCtx, "sh", "-c", command)
	cmd.Dir = dir

	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	start := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(start)

	res := &Result{
		Command:  command,
		Output:   truncate(buf.String(), r.maxOutput),
		Duration: elapsed,
	}

	if runErr == nil {
		return res, nil
	}

	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
	} else {
		res.ExitCode = -1
	}

	if runCtx.Err() != nil || res.ExitCode == sigtermExitCode {
		res.TimedOut = true
		return res, fmt.Errorf("%w: %q after %s", domain.ErrTimeout, command, elapsed.Round(time.Millisecond))
	}
	return res, fmt.Errorf("subproc: %q exited %d", command, res.ExitCode)
}

// InstallCommand picks the dependency installer matching the lockfile in dir.
// Defaults to npm when no lockfile is found.
func InstallCommand(dir string) string {
	switch {
	case fileExists(filepath.Join(dir, "pnpm-lock.yaml")):
		return "pnpm install --frozen-lockfile"
	case fileExists(filepath.Join(dir, "yarn.lock")):
		return "yarn install --frozen-lockfile"
	case fileExists(filepath.Join(dir, "package-lock.json")):
		return "npm ci"
	default:
		return "npm install"
	}
}

func fileExists(p string) bool {
	st, err := os.Stat(p)
	return err == nil && !st.IsDir()
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(s[:max]) + "\n... (output truncated)"
}
