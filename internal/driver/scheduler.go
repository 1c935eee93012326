// Package driver keeps a fixed number of fuzzing lanes busy until the run is
// interrupted, a task limit is reached or a lane reports a fatal fault.
package driver

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"fortio.org/safecast"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"difffuzz/internal/lane"
	"difffuzz/internal/progress"
	"difffuzz/internal/trace"
)

// Runner is one lane as seen by the scheduler.
type Runner interface {
	ID() int
	Run(ctx context.Context, task lane.Task) (lane.Result, error)
}

// Options tune a Scheduler.
type Options struct {
	// Limit stops issuing tasks after this many ids. Zero runs until ctx is done.
	Limit int
	// FirstID is the id of the first task. Zero means 1.
	FirstID uint64
	Logger  *zap.Logger
}

// Scheduler owns the task counter for one run. It is not reusable.
type Scheduler struct {
	lanes    []Runner
	reporter progress.Reporter
	limit    uint64
	log      *zap.Logger

	base     uint64 // id before the first task
	next     uint64 // last issued task id
	inflight map[int]uint64

	finalize sync.Once
}

// New builds a scheduler over lanes. Lane ids must be distinct.
func New(lanes []Runner, reporter progress.Reporter, opts Options) *Scheduler {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	// Negative limits mean no limit, like zero.
	limit, err := safecast.Conv[uint64](opts.Limit)
	if err != nil {
		limit = 0
	}
	var base uint64
	if opts.FirstID > 0 {
		base = opts.FirstID - 1
	}
	return &Scheduler{
		lanes:    lanes,
		reporter: reporter,
		limit:    limit,
		log:      log,
		base:     base,
		next:     base,
		inflight: make(map[int]uint64, len(lanes)),
	}
}

// Issued returns how many task ids were handed out.
func (s *Scheduler) Issued() uint64 { return s.next - s.base }

type completion struct {
	runner Runner
	result lane.Result
}

// Run drives the lanes until ctx is cancelled, the limit is exhausted or a lane
// fails fatally. The reporter is finalized exactly once before Run returns.
// Interruption is not an error: Run returns nil unless a lane faulted.
func (s *Scheduler) Run(ctx context.Context) error {
	defer s.finalizeReporter()

	if len(s.lanes) == 0 {
		return errors.New("driver: no lanes")
	}

	tracer := trace.FromContext(ctx)
	span := trace.Begin(tracer, trace.ScopeDriver, "fuzz", 0).
		WithExtra("lanes", strconv.Itoa(len(s.lanes)))
	ctx = trace.WithSpan(ctx, span.ID())

	start := time.Now()
	s.log.Info("fuzzing started", zap.Int("lanes", len(s.lanes)), zap.Uint64("limit", s.limit))

	g, gctx := errgroup.WithContext(ctx)
	// Every lane has at most one completion pending, so sends never block.
	done := make(chan completion, len(s.lanes))

	launch := func(r Runner) bool {
		if gctx.Err() != nil {
			return false
		}
		if s.limit > 0 && s.Issued() >= s.limit {
			return false
		}
		s.next++
		task := lane.Task{ID: s.next, Lane: r.ID()}
		s.inflight[r.ID()] = task.ID
		s.reporter.OnStart(task.Lane, task.ID)
		g.Go(func() error {
			res, err := r.Run(gctx, task)
			if err != nil {
				if gctx.Err() != nil && errors.Is(err, gctx.Err()) {
					return nil
				}
				return err
			}
			done <- completion{runner: r, result: res}
			return nil
		})
		return true
	}

	running := 0
	for _, r := range s.lanes {
		if launch(r) {
			running++
		}
	}

loop:
	for running > 0 {
		select {
		case c := <-done:
			running--
			s.complete(c)
			if launch(c.runner) {
				running++
			}
		case <-gctx.Done():
			if len(s.inflight) > 0 {
				s.log.Debug("cancelling in-flight tasks", zap.Int("count", len(s.inflight)))
			}
			break loop
		}
	}

	// Lanes still running observe gctx and return promptly; their children are
	// killed by procexec.
	err := g.Wait()
	close(done)
	for c := range done {
		s.complete(c)
	}

	elapsed := time.Since(start)
	if err != nil {
		trace.Point(tracer, trace.ScopeDriver, "fault", err.Error())
		span.End("fault")
		s.log.Error("fuzzing aborted", zap.Uint64("tasks", s.Issued()), zap.Duration("elapsed", elapsed), zap.Error(err))
		return err
	}
	span.End("ok")
	s.log.Info("fuzzing stopped", zap.Uint64("tasks", s.Issued()), zap.Duration("elapsed", elapsed))
	return nil
}

func (s *Scheduler) complete(c completion) {
	delete(s.inflight, c.result.Task.Lane)
	s.reporter.OnComplete(c.result.Task.ID, c.result.Task.Lane, c.result.Outcome)
}

func (s *Scheduler) finalizeReporter() {
	s.finalize.Do(s.reporter.Finalize)
}
