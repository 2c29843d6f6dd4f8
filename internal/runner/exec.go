package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"time"
)

// ErrCommandNotFound is returned when a step's executable is not on PATH.
var ErrCommandNotFound = errors.New("command not found")

// exitCodeNotFound matches the shell convention for a missing executable.
const exitCodeNotFound = 127

// ExecResult holds the result of executing a step command.
type ExecResult struct {
	ExitCode  int
	Combined  string
	Truncated bool
	Duration  time.Duration
}

// Executor runs step commands somewhere: on the host or inside a container.
type Executor interface {
	// Exec runs args and streams combined output to out. A non-zero exit
	// code is not an error; errors report that the command could not be
	// run to completion.
	Exec(ctx context.Context, args []string, out io.Writer, timeout time.Duration) (*ExecResult, error)
	Close() error
}

// HostExecutor runs commands directly on the host in the workspace root.
type HostExecutor struct {
	Dir            string
	Env            []string
	MaxOutputBytes int
}

// Exec implements Executor.
func (h *HostExecutor) Exec(ctx context.Context, args []string, out io.Writer, timeout time.Duration) (*ExecResult, error) {
	if len(args) == 0 {
		return nil, errors.New("empty command")
	}

	if h.Dir != "" {
		info, err := os.Stat(h.Dir)
		if err != nil {
			return nil, fmt.Errorf("working directory: %w", err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("working directory %s is not a directory", h.Dir)
		}
	}

	start := time.Now()
	execCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	capture := newTailBuffer(h.MaxOutputBytes)
	var w io.Writer = capture
	if out != nil {
		w = io.MultiWriter(out, capture)
	}

	cmd := exec.CommandContext(execCtx, args[0], args[1:]...)
	cmd.Dir = h.Dir
	cmd.Env = append(os.Environ(), h.Env...)
	cmd.Stdout = w
	cmd.Stderr = w
	cmd.WaitDelay = 5 * time.Second
	setupProcessGroup(cmd)

	err := cmd.Run()
	res := &ExecResult{
		Combined:  capture.String(),
		Truncated: capture.Truncated(),
		Duration:  time.Since(start),
	}
	if err == nil {
		return res, nil
	}

	var exitErr *exec.ExitError
	switch {
	case errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist):
		res.ExitCode = exitCodeNotFound
		return res, fmt.Errorf("%w: %s", ErrCommandNotFound, args[0])
	case ctx.Err() != nil:
		res.ExitCode = -1
		return res, ctx.Err()
	case execCtx.Err() != nil:
		res.ExitCode = -1
		return res, fmt.Errorf("step timed out after %v", timeout)
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitCode()
		return res, nil
	default:
		res.ExitCode = -1
		return res, fmt.Errorf("running %s: %w", args[0], err)
	}
}

// Close implements Executor.
func (h *HostExecutor) Close() error { return nil }

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	buf       []byte
	max       int
	truncated bool
}

func newTailBuffer(limit int) *tailBuffer {
	if limit <= 0 {
		limit = 1 << 20
	}
	return &tailBuffer{max: limit}
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.buf = append(b.buf, p...)
	if len(b.buf) > 2*b.max {
		b.buf = append(b.buf[:0:0], b.buf[len(b.buf)-b.max:]...)
		b.truncated = true
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	if len(b.buf) > b.max {
		return string(b.buf[len(b.buf)-b.max:])
	}
	return string(b.buf)
}

func (b *tailBuffer) Truncated() bool {
	return b.truncated || len(b.buf) > b.max
}
