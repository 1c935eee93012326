package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"difffuzz/internal/trace"
)

// setupTracing inspects trace-related flags and attaches a tracer to the
// returned context. The cleanup function flushes and closes it.
func setupTracing(ctx context.Context, cmd *cobra.Command) (context.Context, trace.Tracer, func(), error) {
	root := cmd.Root()

	traceOutput, err := root.PersistentFlags().GetString("trace")
	if err != nil {
		return ctx, nil, nil, fmt.Errorf("failed to get trace flag: %w", err)
	}
	levelStr, err := root.PersistentFlags().GetString("trace-level")
	if err != nil {
		return ctx, nil, nil, fmt.Errorf("failed to get trace-level flag: %w", err)
	}
	modeStr, err := root.PersistentFlags().GetString("trace-mode")
	if err != nil {
		return ctx, nil, nil, fmt.Errorf("failed to get trace-mode flag: %w", err)
	}
	ringSize, err := root.PersistentFlags().GetInt("trace-ring-size")
	if err != nil {
		return ctx, nil, nil, fmt.Errorf("failed to get trace-ring-size flag: %w", err)
	}

	level, err := trace.ParseLevel(levelStr)
	if err != nil {
		return ctx, nil, nil, fmt.Errorf("invalid trace level: %w", err)
	}
	// An output file without a level traces whole cycles.
	if level == trace.LevelOff && traceOutput != "" {
		level = trace.LevelCycle
	}
	if level == trace.LevelOff {
		return trace.WithTracer(ctx, trace.Nop), trace.Nop, func() {}, nil
	}

	mode, err := trace.ParseMode(modeStr)
	if err != nil {
		return ctx, nil, nil, fmt.Errorf("invalid trace mode: %w", err)
	}
	// Asking for an output file means the events should land there.
	if traceOutput != "" {
		mode = trace.ModeStream
	}

	tracer, err := trace.New(trace.Config{
		Level:      level,
		Mode:       mode,
		OutputPath: traceOutput,
		RingSize:   ringSize,
	})
	if err != nil {
		return ctx, nil, nil, fmt.Errorf("failed to create tracer: %w", err)
	}

	cleanup := func() {
		if err := tracer.Flush(); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "trace: flush error: %v\n", err)
		}
		if err := tracer.Close(); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "trace: close error: %v\n", err)
		}
	}
	return trace.WithTracer(ctx, tracer), tracer, cleanup, nil
}

// dumpTrace writes the buffered events of a ring tracer after a fatal fault.
func dumpTrace(cmd *cobra.Command, tracer trace.Tracer) {
	d, ok := tracer.(trace.Dumper)
	if !ok {
		return
	}
	out := cmd.ErrOrStderr()
	fmt.Fprintln(out, "trace: last events before the fault:")
	if err := d.Dump(out, trace.FormatText); err != nil {
		fmt.Fprintf(out, "trace: dump error: %v\n", err)
	}
}
