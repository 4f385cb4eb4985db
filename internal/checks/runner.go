// Package checks runs external tool processes (interpreters, compilers,
// probes, proposer commands) under a hard wall-clock budget and parses
// their output.
package checks

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// DefaultTimeout applies when a Command carries no timeout of its own.
const DefaultTimeout = 2 * time.Minute

// Command describes a single process invocation. Name is looked up on PATH;
// no shell is involved.
type Command struct {
	Name    string
	Args    []string
	Dir     string
	Stdin   []byte
	Env     []string
	Timeout time.Duration
}

// String renders the command line for logs.
func (c Command) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// Result holds the captured output of one command run.
type Result struct {
	Command    string `json:"command"`
	ExitCode   int    `json:"exit_code"`
	DurationMs int    `json:"duration_ms"`
	TimedOut   bool   `json:"timed_out"`
	Summary    string `json:"summary"`
	Stdout     string `json:"stdout,omitempty"`
	Stderr     string `json:"stderr,omitempty"`
}

// Passed reports whether the process exited zero within its budget.
func (r *Result) Passed() bool {
	return !r.TimedOut && r.ExitCode == 0
}

// CommandRunner abstracts process execution for testability.
type CommandRunner interface {
	Run(ctx context.Context, cmd Command) (stdout string, stderr string, exitCode int, err error)
}

// ExecRunner implements CommandRunner with os/exec. The child runs in its own
// process group and the whole group is killed when ctx is done.
type ExecRunner struct{}

func (e *ExecRunner) Run(ctx context.Context, c Command) (string, string, int, error) {
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = c.Env
	}
	if c.Stdin != nil {
		cmd.Stdin = bytes.NewReader(c.Stdin)
	}
	configureKill(cmd)

	var stdoutBuf, stderrBuf strings.Builder
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	err := cmd.Run()
	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			return stdoutBuf.String(), stderrBuf.String(), -1, fmt.Errorf("exec: %w", err)
		}
	}
	return stdoutBuf.String(), stderrBuf.String(), exitCode, nil
}

// Runner executes commands with a timeout and normalizes the outcome.
type Runner struct {
	cmd CommandRunner
}

// NewRunner creates a Runner with the given command runner.
func NewRunner(cmd CommandRunner) *Runner {
	if cmd == nil {
		cmd = &ExecRunner{}
	}
	return &Runner{cmd: cmd}
}

// Run executes c once. A deadline overrun is reported as a Result with
// TimedOut set, never as an error; launch failures (missing binary, bad
// working directory) are returned as errors.
func (r *Runner) Run(ctx context.Context, c Command) (*Result, error) {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	stdout, stderr, exitCode, err := r.cmd.Run(ctx, c)
	durationMs := int(time.Since(start).Milliseconds())

	if ctx.Err() == context.DeadlineExceeded {
		return &Result{
			Command:    c.String(),
			ExitCode:   -1,
			DurationMs: durationMs,
			TimedOut:   true,
			Summary:    fmt.Sprintf("timeout after %s", timeout),
			Stdout:     stdout,
			Stderr:     stderr,
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("run %q: %w", c.Name, err)
	}

	summary := fmt.Sprintf("exit code %d", exitCode)
	return &Result{
		Command:    c.String(),
		ExitCode:   exitCode,
		DurationMs: durationMs,
		Summary:    summary,
		Stdout:     stdout,
		Stderr:     stderr,
	}, nil
}
