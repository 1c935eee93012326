package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"difffuzz/internal/outcome"
	"difffuzz/internal/tools"
)

var replayCmd = &cobra.Command{
	Use:   "replay <artifact>",
	Short: "Run the target on one archived input and classify the result",
	Args:  cobra.ExactArgs(1),
	RunE:  runReplay,
}

func init() {
	replayCmd.Flags().String("target", "", "target executable (default from config)")
	replayCmd.Flags().Duration("timeout", 0, "wall-clock bound for the execution (default from config)")
	replayCmd.Flags().Bool("quiet", false, "do not forward the target's output")
}

func runReplay(cmd *cobra.Command, args []string) error {
	var targetArgs []string
	if t, err := cmd.Flags().GetString("target"); err == nil && t != "" {
		targetArgs = []string{t}
	}
	cfg, err := loadSettings(cmd, targetArgs)
	if err != nil {
		return err
	}
	quiet, err := cmd.Flags().GetBool("quiet")
	if err != nil {
		return fmt.Errorf("failed to get quiet flag: %w", err)
	}
	artifact := args[0]
	if _, err := os.Stat(artifact); err != nil {
		return fmt.Errorf("failed to stat artifact: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	target := &tools.Target{Path: cfg.Target.Path, Timeout: cfg.Target.Timeout.Duration}
	if !quiet {
		target.Stdout = cmd.OutOrStdout()
		target.Stderr = cmd.ErrOrStderr()
	}
	start := time.Now()
	kind, err := target.Run(ctx, artifact)
	if err != nil {
		return err
	}
	printReplayResult(cmd, artifact, kind, time.Since(start))
	return nil
}

func printReplayResult(cmd *cobra.Command, artifact string, kind outcome.Kind, elapsed time.Duration) {
	c := color.New(color.FgGreen, color.Bold)
	switch kind {
	case outcome.Crash:
		c = color.New(color.FgRed, color.Bold)
	case outcome.Timeout:
		c = color.New(color.FgYellow, color.Bold)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %s (%s)\n", artifact, c.Sprint(kind), elapsed.Round(time.Millisecond))
}
