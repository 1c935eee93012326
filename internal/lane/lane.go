// Package lane runs one fuzzing cycle: generate an input, execute the target
// on it, classify the result and archive failing inputs (shrinking crashes
// first). A Lane runs its cycles strictly one after another; concurrency
// comes from running several lanes.
package lane

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"go.uber.org/zap"

	"difffuzz/internal/archive"
	"difffuzz/internal/observ"
	"difffuzz/internal/outcome"
	"difffuzz/internal/trace"
)

var (
	// ErrGeneratorFault aborts the run: a broken generator invalidates every
	// further result.
	ErrGeneratorFault = errors.New("generator fault")
	// ErrTargetFault aborts the run: the target could not be launched at all.
	ErrTargetFault = errors.New("target fault")
)

// DefaultSeedBytes is the length of the random seed fed to the generator.
const DefaultSeedBytes = 100

// Task is one cycle of one lane. IDs are unique across all lanes of a run.
type Task struct {
	ID   uint64
	Lane int
}

// Result is what a finished cycle yields to the scheduler.
type Result struct {
	Task    Task
	Outcome outcome.Outcome
}

// Generator writes a fresh input derived from seed to out.
type Generator interface {
	Generate(ctx context.Context, seed []byte, out string) error
}

// Target executes the program under test on an input.
type Target interface {
	Run(ctx context.Context, artifact string) (outcome.Kind, error)
}

// Shrinker minimizes a crashing input into out.
type Shrinker interface {
	Shrink(ctx context.Context, input, out string) error
}

// Archiver persists failing inputs.
type Archiver interface {
	Store(e archive.Entry) (archive.Record, bool, error)
	Path(rec archive.Record) string
}

// Config is shared by all lanes of a run.
type Config struct {
	WorkDir   string
	Ext       string // artifact extension, e.g. ".wasm"
	SeedBytes int
	Generator Generator
	Target    Target
	Shrinker  Shrinker // nil disables shrinking
	Archive   Archiver
	Logger    *zap.Logger
	Rand      io.Reader     // defaults to crypto/rand
	Timings   *observ.Timer // optional
}

// Lane owns one scratch input path, reused every cycle.
type Lane struct {
	id      int
	scratch string
	shrunk  string
	cfg     Config
	log     *zap.Logger
}

// New creates lane id. Its scratch files live in cfg.WorkDir.
func New(id int, cfg Config) *Lane {
	if cfg.SeedBytes <= 0 {
		cfg.SeedBytes = DefaultSeedBytes
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.Reader
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	name := "t" + strconv.Itoa(id)
	return &Lane{
		id:      id,
		scratch: filepath.Join(cfg.WorkDir, name+cfg.Ext),
		shrunk:  filepath.Join(cfg.WorkDir, name+".shrunk"+cfg.Ext),
		cfg:     cfg,
		log:     log.With(zap.Int("lane", id)),
	}
}

// ID returns the lane index.
func (l *Lane) ID() int { return l.id }

// Scratch returns the path the generator writes to.
func (l *Lane) Scratch() string { return l.scratch }

// Run executes one cycle for task. A non-nil error is either a fatal fault
// (ErrGeneratorFault, ErrTargetFault) or the cancellation of ctx.
func (l *Lane) Run(ctx context.Context, task Task) (Result, error) {
	res := Result{Task: task}

	span := trace.Begin(trace.FromContext(ctx), trace.ScopeLane, "cycle", trace.SpanFromContext(ctx))
	span.WithExtra("lane", strconv.Itoa(l.id)).WithExtra("task", strconv.FormatUint(task.ID, 10))
	ctx = trace.WithSpan(ctx, span.ID())
	defer func() {
		span.End(res.Outcome.Kind.String())
	}()

	seed := make([]byte, l.cfg.SeedBytes)
	if _, err := io.ReadFull(l.cfg.Rand, seed); err != nil {
		return res, fmt.Errorf("lane %d: failed to read seed: %w", l.id, err)
	}

	if err := l.generate(ctx, seed); err != nil {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		return res, fmt.Errorf("%w: lane %d task %d: %w", ErrGeneratorFault, l.id, task.ID, err)
	}

	kind, err := l.execute(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		return res, fmt.Errorf("%w: lane %d task %d: %w", ErrTargetFault, l.id, task.ID, err)
	}
	res.Outcome.Kind = kind

	switch kind {
	case outcome.Crash:
		l.archiveCrash(ctx, task, seed, &res.Outcome)
	case outcome.Timeout:
		l.archiveTimeout(task, seed, &res.Outcome)
	}
	return res, nil
}

func (l *Lane) generate(ctx context.Context, seed []byte) error {
	span := trace.Begin(trace.FromContext(ctx), trace.ScopeTool, "generate", trace.SpanFromContext(ctx))
	start := time.Now()
	err := l.cfg.Generator.Generate(ctx, seed, l.scratch)
	l.cfg.Timings.Observe("generate", time.Since(start))
	span.End(errDetail(err))
	return err
}

func (l *Lane) execute(ctx context.Context) (outcome.Kind, error) {
	span := trace.Begin(trace.FromContext(ctx), trace.ScopeTool, "execute", trace.SpanFromContext(ctx))
	start := time.Now()
	kind, err := l.cfg.Target.Run(ctx, l.scratch)
	l.cfg.Timings.Observe("execute", time.Since(start))
	if err != nil {
		span.End(errDetail(err))
		return kind, err
	}
	span.End(kind.String())
	return kind, nil
}

// archiveCrash shrinks the scratch input and stores the result, falling back
// to the unshrunk input whenever shrinking does not produce one. The crash is
// archived even when ctx is cancelled mid-shrink.
func (l *Lane) archiveCrash(ctx context.Context, task Task, seed []byte, out *outcome.Outcome) {
	data, shrunk := l.shrink(ctx)
	if data == nil {
		var err error
		data, err = os.ReadFile(l.scratch)
		if err != nil {
			l.log.Error("failed to read crashing input", zap.Uint64("task", task.ID), zap.Error(err))
			return
		}
	}

	rec, stored, err := l.cfg.Archive.Store(archive.Entry{
		Kind:   outcome.Crash,
		TaskID: task.ID,
		Data:   data,
		Seed:   seed,
		Shrunk: shrunk,
	})
	if err != nil {
		l.log.Error("failed to archive crash", zap.Uint64("task", task.ID), zap.Error(err))
		return
	}
	out.Artifact = l.cfg.Archive.Path(rec)
	out.Shrunk = shrunk
	out.Duplicate = !stored
	if stored {
		l.log.Info("archived crash", zap.Uint64("task", task.ID), zap.String("path", out.Artifact), zap.Bool("shrunk", shrunk))
	} else {
		l.log.Debug("duplicate crash", zap.Uint64("task", task.ID), zap.String("path", out.Artifact), zap.Uint64("hits", rec.Hits))
	}
}

// shrink returns the minimized input, or nil if there is none to use.
func (l *Lane) shrink(ctx context.Context) ([]byte, bool) {
	if l.cfg.Shrinker == nil {
		return nil, false
	}
	_ = os.Remove(l.shrunk)

	span := trace.Begin(trace.FromContext(ctx), trace.ScopeTool, "shrink", trace.SpanFromContext(ctx))
	start := time.Now()
	err := l.cfg.Shrinker.Shrink(ctx, l.scratch, l.shrunk)
	l.cfg.Timings.Observe("shrink", time.Since(start))
	span.End(errDetail(err))
	if err != nil {
		l.log.Warn("shrink failed, archiving original input", zap.Error(err))
		return nil, false
	}
	data, err := os.ReadFile(l.shrunk)
	if err != nil || len(data) == 0 {
		l.log.Warn("shrink produced no output, archiving original input", zap.String("path", l.shrunk), zap.Error(err))
		return nil, false
	}
	return data, true
}

func (l *Lane) archiveTimeout(task Task, seed []byte, out *outcome.Outcome) {
	data, err := os.ReadFile(l.scratch)
	if err != nil {
		l.log.Error("failed to read timed out input", zap.Uint64("task", task.ID), zap.Error(err))
		return
	}
	rec, _, err := l.cfg.Archive.Store(archive.Entry{
		Kind:   outcome.Timeout,
		TaskID: task.ID,
		Data:   data,
		Seed:   seed,
	})
	if err != nil {
		l.log.Error("failed to archive timeout", zap.Uint64("task", task.ID), zap.Error(err))
		return
	}
	out.Artifact = l.cfg.Archive.Path(rec)
	l.log.Info("archived timeout", zap.Uint64("task", task.ID), zap.String("path", out.Artifact))
}

func errDetail(err error) string {
	if err == nil {
		return "ok"
	}
	return err.Error()
}
