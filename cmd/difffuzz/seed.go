package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"difffuzz/internal/corpus"
	"difffuzz/internal/tools"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Generate a seed corpus for coverage-guided fuzzing",
	Long: `Generate a seed corpus: every file is produced by the generator from 1024
fresh random bytes, with the generator's default feature set.`,
	Args: cobra.NoArgs,
	RunE: runSeed,
}

func init() {
	seedCmd.Flags().IntP("count", "n", corpus.DefaultCount, "number of seed files")
	seedCmd.Flags().StringP("output", "o", corpus.DefaultDir, "output directory")
	seedCmd.Flags().IntP("jobs", "j", 0, "generators run in parallel (default: GOMAXPROCS)")
	seedCmd.Flags().String("progress", "auto", "progress display (auto|log|dashboard)")
}

func runSeed(cmd *cobra.Command, _ []string) error {
	cfg, err := loadSettings(cmd, nil)
	if err != nil {
		return err
	}
	count, err := cmd.Flags().GetInt("count")
	if err != nil {
		return fmt.Errorf("failed to get count flag: %w", err)
	}
	dir, err := cmd.Flags().GetString("output")
	if err != nil {
		return fmt.Errorf("failed to get output flag: %w", err)
	}
	mode, err := readProgressMode(cfg.Run.Progress)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Seeds use the generator without the fuzzing flag set.
	gen := &tools.Generator{Command: cfg.Generator.Command, Timeout: cfg.Generator.Timeout.Duration}
	opts := corpus.Options{
		Dir:   dir,
		Count: count,
		Ext:   cfg.Run.Ext,
		Jobs:  effectiveJobs(cfg),
	}

	var files []string
	if shouldUseTUI(mode, os.Stdout) {
		files, err = runSeedWithUI(ctx, "generating seed corpus", gen, opts)
	} else {
		files, err = generateSeedsPlain(ctx, cmd, gen, opts)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "generated %d seed files in %s\n", len(files), dir)
	return nil
}

func generateSeedsPlain(ctx context.Context, cmd *cobra.Command, gen corpus.Generator, opts corpus.Options) ([]string, error) {
	out := cmd.OutOrStdout()
	// Generate calls the sink from several goroutines.
	lines := make(chan string, 64)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for line := range lines {
			fmt.Fprintln(out, line)
		}
	}()
	opts.Progress = corpus.FuncSink(func(evt corpus.Event) {
		if evt.Status == corpus.StatusDone {
			lines <- "Generated seed corpus: " + evt.File
		}
	})
	files, err := corpus.Generate(ctx, gen, opts)
	close(lines)
	<-done
	return files, err
}
