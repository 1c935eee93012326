// Package progress reports the live state of a fuzzing run.
//
// The scheduler is the only caller of a Reporter, so implementations never
// see concurrent OnStart/OnComplete calls. Reporting problems are swallowed:
// a broken display must never stop a run.
package progress

import (
	"time"

	"difffuzz/internal/outcome"
)

// Reporter receives the lifecycle of every task.
type Reporter interface {
	OnStart(lane int, task uint64)
	OnComplete(task uint64, lane int, o outcome.Outcome)
	// Finalize restores whatever the reporter changed. Called once at shutdown.
	Finalize()
}

// State holds the counters shared by all reporter variants.
type State struct {
	Start    time.Time
	Total    uint64
	Diffs    uint64 // crashes, i.e. behavioral differences
	Timeouts uint64
	PerLane  map[int]uint64
	LastTask map[int]uint64
}

// NewState starts the clock at now.
func NewState(now time.Time) *State {
	return &State{
		Start:    now,
		PerLane:  make(map[int]uint64),
		LastTask: make(map[int]uint64),
	}
}

// Started records that task began on lane.
func (s *State) Started(lane int, task uint64) {
	s.LastTask[lane] = task
}

// Completed counts o and returns the lane's completion count.
func (s *State) Completed(lane int, o outcome.Outcome) uint64 {
	s.Total++
	s.PerLane[lane]++
	switch o.Kind {
	case outcome.Crash:
		s.Diffs++
	case outcome.Timeout:
		s.Timeouts++
	}
	return s.PerLane[lane]
}

// Rate returns n completions per second of wall time since Start.
func (s *State) Rate(n uint64, now time.Time) float64 {
	elapsed := now.Sub(s.Start).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(n) / elapsed
}

// Nop discards everything.
type Nop struct{}

func (Nop) OnStart(int, uint64)                     {}
func (Nop) OnComplete(uint64, int, outcome.Outcome) {}
func (Nop) Finalize()                               {}
