package progress

import (
	"fmt"
	"io"
	"sync"
	"time"

	"fortio.org/safecast"
	"github.com/fatih/color"

	"difffuzz/internal/outcome"
)

// DefaultLogInterval is how many completions pass between two log lines.
const DefaultLogInterval = 100

// Log prints one throughput line every Interval completions and one line per
// archived failure.
type Log struct {
	mu       sync.Mutex
	out      io.Writer
	interval uint64
	state    *State
	now      func() time.Time

	crash   *color.Color
	timeout *color.Color
}

// NewLog writes to out. interval <= 0 selects DefaultLogInterval.
func NewLog(out io.Writer, interval int) *Log {
	every, err := safecast.Conv[uint64](interval)
	if err != nil || every == 0 {
		every = DefaultLogInterval
	}
	return &Log{
		out:      out,
		interval: every,
		state:    NewState(time.Now()),
		now:      time.Now,
		crash:    color.New(color.FgRed, color.Bold),
		timeout:  color.New(color.FgYellow),
	}
}

func (l *Log) OnStart(lane int, task uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state.Started(lane, task)
}

func (l *Log) OnComplete(task uint64, lane int, o outcome.Outcome) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state.Completed(lane, o)

	if o.Kind.Failed() && o.Artifact != "" {
		switch {
		case o.Duplicate:
			_, _ = fmt.Fprintf(l.out, "duplicate %s in task %d: %s\n", o.Kind, task, o.Artifact)
		case o.Kind == outcome.Crash:
			_, _ = l.crash.Fprintf(l.out, "found crash in task %d: %s\n", task, o.Artifact)
		default:
			_, _ = l.timeout.Fprintf(l.out, "found timeout in task %d: %s\n", task, o.Artifact)
		}
	}

	if n := l.state.Total; n%l.interval == 0 {
		_, _ = fmt.Fprintf(l.out, "#%d (iter/s: %.2f)\n", n, l.state.Rate(n, l.now()))
	}
}

// Finalize prints nothing; the last line is already on screen.
func (l *Log) Finalize() {}
