// Package procexec runs one child process under a wall-clock bound.
//
// Children are started in their own process group so that a timeout or a
// cancelled context kills the whole tree, not just the direct child. Run never
// returns before the child has been reaped.
package procexec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"
)

// ErrStart is wrapped by Run when the executable could not be launched.
var ErrStart = errors.New("failed to start process")

// waitDelay bounds how long Wait may block on output pipes held open by
// orphaned grandchildren after the group was killed.
const waitDelay = 2 * time.Second

// Spec describes one invocation.
type Spec struct {
	Path    string
	Args    []string
	Env     []string // appended to the current environment
	Stdin   []byte   // nil leaves stdin attached to the null device
	Stdout  io.Writer
	Stderr  io.Writer
	Timeout time.Duration // zero disables the bound
}

// Result is what the caller needs to classify the run.
type Result struct {
	ExitCode int
	TimedOut bool
	Duration time.Duration
}

// Run starts spec and waits for it to exit, time out or be cancelled.
// The returned error is non-nil only if the process could not be started
// (wrapping ErrStart) or ctx was cancelled (wrapping ctx.Err()).
func Run(ctx context.Context, spec Spec) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{ExitCode: -1}, err
	}

	cmd := exec.Command(spec.Path, spec.Args...)
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}
	if spec.Stdin != nil {
		cmd.Stdin = bytes.NewReader(spec.Stdin)
	}
	cmd.Stdout = spec.Stdout
	cmd.Stderr = spec.Stderr
	cmd.WaitDelay = waitDelay
	configureProcess(cmd)

	started := time.Now()
	if err := cmd.Start(); err != nil {
		return Result{ExitCode: -1}, fmt.Errorf("%w: %s: %w", ErrStart, spec.Path, err)
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	var deadline <-chan time.Time
	if spec.Timeout > 0 {
		timer := time.NewTimer(spec.Timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	var (
		res     Result
		waitErr error
		ctxErr  error
	)
	select {
	case waitErr = <-done:
	case <-deadline:
		terminateProcess(cmd)
		waitErr = <-done
		res.TimedOut = true
	case <-ctx.Done():
		terminateProcess(cmd)
		waitErr = <-done
		ctxErr = ctx.Err()
	}
	res.Duration = time.Since(started)
	res.ExitCode = exitCode(waitErr)
	if ctxErr != nil {
		return res, fmt.Errorf("%s interrupted: %w", spec.Path, ctxErr)
	}
	return res, nil
}

func exitCode(waitErr error) int {
	if waitErr == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		// -1 when the process was terminated by a signal
		return exitErr.ExitCode()
	}
	return -1
}

// TailBuffer keeps the last Max bytes written to it.
// It is used to attach a bounded stderr excerpt to tool errors.
type TailBuffer struct {
	Max int
	buf []byte
}

func (b *TailBuffer) Write(p []byte) (int, error) {
	n := len(p)
	limit := b.Max
	if limit <= 0 {
		limit = 4 << 10
	}
	if len(p) >= limit {
		b.buf = append(b.buf[:0], p[len(p)-limit:]...)
		return n, nil
	}
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - limit; over > 0 {
		b.buf = append(b.buf[:0], b.buf[over:]...)
	}
	return n, nil
}

// String returns the retained bytes.
func (b *TailBuffer) String() string {
	return string(b.buf)
}
