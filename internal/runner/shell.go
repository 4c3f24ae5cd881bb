package runner

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"time"
)

// ShellResult holds the output of a shell command.
type ShellResult struct {
	Stdout   string        `json:"stdout"`
	Stderr   string        `json:"stderr"`
	ExitCode int           `json:"exit_code"`
	Elapsed  time.Duration `json:"elapsed_ns"`
	TimedOut bool          `json:"timed_out,omitempty"`
}

// Options tune a single command.
type Options struct {
	WorkDir string
	Env     []string
	Timeout time.Duration
}

// Run executes a command via sh -c and captures output. Cancelling ctx or
// exceeding opts.Timeout kills the process.
func Run(ctx context.Context, command string, opts Options) *ShellResult {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	// Orphaned children can hold the output pipes open after sh is killed.
	cmd.WaitDelay = time.Second
	if opts.WorkDir != "" {
		cmd.Dir = opts.WorkDir
	}
	if len(opts.Env) > 0 {
		cmd.Env = append(cmd.Environ(), opts.Env...)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	res := &ShellResult{
		Stdout:  stdout.String(),
		Stderr:  stderr.String(),
		Elapsed: time.Since(start),
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
		} else {
			res.ExitCode = 1
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			res.TimedOut = true
		}
	}
	return res
}
