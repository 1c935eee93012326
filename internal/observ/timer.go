package observ

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Phase accumulates the durations of one kind of tool invocation.
type Phase struct {
	Name  string
	Count uint64
	Total time.Duration
	Max   time.Duration
}

// Timer aggregates phase durations across all lanes of a run.
// It is safe for concurrent use; a nil *Timer ignores observations.
type Timer struct {
	mu     sync.Mutex
	phases map[string]*Phase
}

// NewTimer creates a new empty Timer.
func NewTimer() *Timer { return &Timer{phases: make(map[string]*Phase, 4)} }

// Observe adds one invocation of name that took d.
func (t *Timer) Observe(name string, d time.Duration) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.phases[name]
	if !ok {
		p = &Phase{Name: name}
		t.phases[name] = p
	}
	p.Count++
	p.Total += d
	p.Max = max(p.Max, d)
}

// Summary returns a human-readable table of all phases.
func (t *Timer) Summary() string {
	report := t.Report()
	var b strings.Builder
	b.WriteString("timings:\n")
	for _, p := range report.Phases {
		fmt.Fprintf(&b, "  %-10s %8d calls  avg %9.2f ms  max %9.2f ms\n", p.Name, p.Count, p.AvgMS, p.MaxMS)
	}
	fmt.Fprintf(&b, "  %-10s %8s        %13.2f ms\n", "total", "", report.TotalMS)
	return b.String()
}

// PhaseReport is the serializable view of a Phase.
type PhaseReport struct {
	Name  string  `json:"name"`
	Count uint64  `json:"count"`
	AvgMS float64 `json:"avg_ms"`
	MaxMS float64 `json:"max_ms"`
}

// Report aggregates all phases.
type Report struct {
	TotalMS float64       `json:"total_ms"`
	Phases  []PhaseReport `json:"phases"`
}

// Report returns the phases sorted by name.
func (t *Timer) Report() Report {
	if t == nil {
		return Report{}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	report := Report{Phases: make([]PhaseReport, 0, len(t.phases))}
	var total time.Duration
	for _, p := range t.phases {
		total += p.Total
		var avg time.Duration
		if p.Count > 0 {
			avg = p.Total / time.Duration(p.Count)
		}
		report.Phases = append(report.Phases, PhaseReport{
			Name:  p.Name,
			Count: p.Count,
			AvgMS: durationToMillis(avg),
			MaxMS: durationToMillis(p.Max),
		})
	}
	sort.Slice(report.Phases, func(i, j int) bool { return report.Phases[i].Name < report.Phases[j].Name })
	report.TotalMS = durationToMillis(total)
	return report
}

func durationToMillis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
