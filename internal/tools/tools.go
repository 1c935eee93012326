// Package tools invokes the external collaborators of a fuzzing run: the
// input generator, the target under test and the shrink tool.
package tools

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"difffuzz/internal/outcome"
	"difffuzz/internal/procexec"
)

// FlagsV1 is the fixed wasm-smith feature set every generated module uses.
// Bump the version when changing it: archived seeds only reproduce with the
// flags they were generated with.
var FlagsV1 = []string{
	"--ensure-termination",
	"--bulk-memory-enabled=true",
	"--saturating-float-to-int-enabled=true",
	"--sign-extension-ops-enabled=true",
	"--min-funcs=1",
	"--min-memories=1",
	"--max-imports=0",
	"--export-everything=true",
	"--max-memories=1",
	"--max-memory32-bytes=65536",
	"--memory-max-size-required=true",
}

// ShrinkingEnv tells the target it is being re-invoked as a shrink predicate.
const ShrinkingEnv = "SHRINKING=1"

// ToolError reports a tool that ran but exited unsuccessfully.
type ToolError struct {
	Tool     string
	ExitCode int
	TimedOut bool
	Stderr   string
}

func (e *ToolError) Error() string {
	msg := fmt.Sprintf("%s exited with status %d", e.Tool, e.ExitCode)
	if e.TimedOut {
		msg = e.Tool + " timed out"
	}
	if tail := strings.TrimSpace(e.Stderr); tail != "" {
		msg += ": " + tail
	}
	return msg
}

func splitCommand(command []string) (string, []string, error) {
	if len(command) == 0 || strings.TrimSpace(command[0]) == "" {
		return "", nil, errors.New("empty tool command")
	}
	return command[0], append([]string(nil), command[1:]...), nil
}

// Generator turns a random seed into an input file.
type Generator struct {
	Command []string // e.g. ["wasm-tools", "smith"]
	Flags   []string
	Timeout time.Duration
}

// Generate runs `Command... -o out Flags...` with seed on stdin.
func (g *Generator) Generate(ctx context.Context, seed []byte, out string) error {
	path, args, err := splitCommand(g.Command)
	if err != nil {
		return fmt.Errorf("generator: %w", err)
	}
	args = append(args, "-o", out)
	args = append(args, g.Flags...)

	tail := &procexec.TailBuffer{}
	res, err := procexec.Run(ctx, procexec.Spec{
		Path:    path,
		Args:    args,
		Stdin:   seed,
		Stderr:  tail,
		Timeout: g.Timeout,
	})
	if err != nil {
		return err
	}
	if res.TimedOut || res.ExitCode != 0 {
		return &ToolError{Tool: strings.Join(g.Command, " "), ExitCode: res.ExitCode, TimedOut: res.TimedOut, Stderr: tail.String()}
	}
	return nil
}

// Target is the program under test.
type Target struct {
	Path    string
	Timeout time.Duration
	Stdout  io.Writer
	Stderr  io.Writer
}

// Run executes the target on artifact and classifies the result.
// The error is non-nil only when the target could not be launched or ctx was
// cancelled.
func (t *Target) Run(ctx context.Context, artifact string) (outcome.Kind, error) {
	res, err := procexec.Run(ctx, procexec.Spec{
		Path:    t.Path,
		Args:    []string{artifact},
		Stdout:  t.Stdout,
		Stderr:  t.Stderr,
		Timeout: t.Timeout,
	})
	if err != nil {
		return outcome.Pass, err
	}
	return outcome.Classify(res.ExitCode, res.TimedOut), nil
}

// Shrinker minimizes a failing input while the target keeps failing on it.
type Shrinker struct {
	Command []string // e.g. ["wasm-tools", "shrink"]
	Target  string
	Env     []string // defaults to ShrinkingEnv
	Timeout time.Duration
}

// Shrink runs `Command... target input -o out`.
func (s *Shrinker) Shrink(ctx context.Context, input, out string) error {
	path, args, err := splitCommand(s.Command)
	if err != nil {
		return fmt.Errorf("shrink: %w", err)
	}
	args = append(args, s.Target, input, "-o", out)
	env := s.Env
	if env == nil {
		env = []string{ShrinkingEnv}
	}

	tail := &procexec.TailBuffer{}
	res, err := procexec.Run(ctx, procexec.Spec{
		Path:    path,
		Args:    args,
		Env:     env,
		Stderr:  tail,
		Timeout: s.Timeout,
	})
	if err != nil {
		return err
	}
	if res.TimedOut || res.ExitCode != 0 {
		return &ToolError{Tool: strings.Join(s.Command, " "), ExitCode: res.ExitCode, TimedOut: res.TimedOut, Stderr: tail.String()}
	}
	return nil
}
