// Package corpus generates a seed corpus: a directory of generator outputs,
// each derived from fresh random bytes, that coverage-guided fuzzers start from.
package corpus

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	// DefaultCount is the number of seeds generated when none is given.
	DefaultCount = 100
	// DefaultSeedBytes is the amount of randomness fed to each generation.
	DefaultSeedBytes = 1024
	// DefaultDir is where seeds go when no directory is given.
	DefaultDir = ".build/fuzz-corpus"
)

// Generator writes one input derived from seed to out.
type Generator interface {
	Generate(ctx context.Context, seed []byte, out string) error
}

// Options controls a Generate call.
type Options struct {
	Dir       string
	Count     int
	SeedBytes int
	Ext       string
	Jobs      int
	Rand      io.Reader // defaults to crypto/rand
	Progress  ProgressSink
}

// FileName returns the name of the i-th seed file.
func FileName(i int, ext string) string {
	return "corpus-" + strconv.Itoa(i) + ext
}

// Files lists the paths Generate will write, in index order.
func Files(opts Options) []string {
	opts = withDefaults(opts)
	files := make([]string, opts.Count)
	for i := range files {
		files[i] = filepath.Join(opts.Dir, FileName(i, opts.Ext))
	}
	return files
}

// Generate writes opts.Count seeds into opts.Dir using up to opts.Jobs
// concurrent generator processes. The first failure cancels the rest.
func Generate(ctx context.Context, gen Generator, opts Options) ([]string, error) {
	if gen == nil {
		return nil, errors.New("corpus: missing generator")
	}
	opts = withDefaults(opts)
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create corpus directory: %w", err)
	}

	files := Files(opts)
	for i, f := range files {
		emit(opts.Progress, Event{Index: i, File: f, Status: StatusQueued})
	}

	// crypto/rand is safe for concurrent use, arbitrary readers are not.
	var randMu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(min(opts.Jobs, len(files)))
	for i, path := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			seed := make([]byte, opts.SeedBytes)
			randMu.Lock()
			_, err := io.ReadFull(opts.Rand, seed)
			randMu.Unlock()
			if err != nil {
				return fmt.Errorf("failed to read seed: %w", err)
			}

			emit(opts.Progress, Event{Index: i, File: path, Status: StatusWorking})
			start := time.Now()
			if err := gen.Generate(gctx, seed, path); err != nil {
				emit(opts.Progress, Event{Index: i, File: path, Status: StatusError, Err: err, Elapsed: time.Since(start)})
				return fmt.Errorf("failed to generate seed corpus %s: %w", path, err)
			}
			emit(opts.Progress, Event{Index: i, File: path, Status: StatusDone, Elapsed: time.Since(start)})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return files, nil
}

func withDefaults(opts Options) Options {
	if opts.Dir == "" {
		opts.Dir = DefaultDir
	}
	if opts.Count <= 0 {
		opts.Count = DefaultCount
	}
	if opts.SeedBytes <= 0 {
		opts.SeedBytes = DefaultSeedBytes
	}
	if opts.Jobs <= 0 {
		opts.Jobs = runtime.GOMAXPROCS(0)
	}
	if opts.Rand == nil {
		opts.Rand = rand.Reader
	}
	return opts
}

func emit(sink ProgressSink, evt Event) {
	if sink != nil {
		sink.OnEvent(evt)
	}
}
