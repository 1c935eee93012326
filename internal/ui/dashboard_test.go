package ui

import (
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"difffuzz/internal/outcome"
	"difffuzz/internal/progress"
)

// returnsWithin fails the test when fn is still running after a few seconds.
func returnsWithin(t *testing.T, what string, fn func()) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn()
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("%s did not return", what)
	}
}

// startDashboard runs a dashboard drawing into a temp file and reading an
// idle pipe.
func startDashboard(t *testing.T) (*Dashboard, string) {
	t.Helper()
	out, err := os.CreateTemp(t.TempDir(), "dashboard-*")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = out.Close() })
	in, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		_ = w.Close()
		_ = in.Close()
	})
	d, err := StartDashboard(out, DashboardConfig{
		Title:        "FuzzDifferential",
		Lanes:        2,
		RefreshEvery: 4,
		Input:        in,
		StartTimeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("StartDashboard: %v", err)
	}
	return d, out.Name()
}

func crashAt(path string) outcome.Outcome {
	return outcome.Outcome{Kind: outcome.Crash, Artifact: path}
}

func TestDashboardEventsAfterKillReturn(t *testing.T) {
	d, _ := startDashboard(t)
	d.program.Kill()
	returnsWithin(t, "program shutdown", func() { <-d.done })

	returnsWithin(t, "OnComplete with a new crash", func() {
		d.OnComplete(1, 0, crashAt("fail/crash-aa.wasm"))
	})
	returnsWithin(t, "OnComplete with a timeout", func() {
		d.OnComplete(2, 1, outcome.Outcome{Kind: outcome.Timeout, Artifact: "fail/timeout-2.wasm"})
	})
	returnsWithin(t, "lane refreshes", func() {
		for task := uint64(3); task < 20; task++ {
			d.OnStart(0, task)
			d.OnComplete(task, 0, outcome.Outcome{Kind: outcome.Pass})
		}
	})
	returnsWithin(t, "Finalize", d.Finalize)
	if d.state.Diffs != 1 || d.state.Timeouts != 1 {
		t.Fatalf("counters not kept after exit: %+v", d.state)
	}
}

func TestDashboardFinalizeTwice(t *testing.T) {
	d, path := startDashboard(t)
	d.OnStart(0, 1)
	d.OnComplete(1, 0, crashAt("fail/crash-bb.wasm"))

	deadline := time.Now().Add(5 * time.Second)
	for {
		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatal(err)
		}
		if strings.Contains(string(data), "found crash in task 1: fail/crash-bb.wasm") {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("found line never printed:\n%s", data)
		}
		time.Sleep(10 * time.Millisecond)
	}

	returnsWithin(t, "first Finalize", d.Finalize)
	returnsWithin(t, "second Finalize", d.Finalize)
	if err := d.Err(); err != nil {
		t.Fatalf("Err = %v after a clean shutdown", err)
	}
	returnsWithin(t, "OnComplete after Finalize", func() {
		d.OnComplete(2, 1, crashAt("fail/crash-cc.wasm"))
	})
}

func TestDashboardFinalizeAfterKill(t *testing.T) {
	d, _ := startDashboard(t)
	d.OnStart(0, 1)
	d.program.Kill()
	returnsWithin(t, "Finalize after Kill", d.Finalize)
	returnsWithin(t, "second Finalize", d.Finalize)
	if err := d.Err(); !errors.Is(err, tea.ErrProgramKilled) {
		t.Fatalf("Err = %v, want %v", err, tea.ErrProgramKilled)
	}
}

func TestDashboardLaneShowsCurrentTask(t *testing.T) {
	var sent []tea.Msg
	d := &Dashboard{
		send:    func(msg tea.Msg) { sent = append(sent, msg) },
		state:   progress.NewState(time.Now().Add(-time.Second)),
		refresh: 2,
		due:     make(map[int]bool),
		done:    make(chan struct{}),
	}
	lanes := func() []laneMsg {
		var out []laneMsg
		for _, msg := range sent {
			if l, ok := msg.(laneMsg); ok {
				out = append(out, l)
			}
		}
		return out
	}

	d.OnStart(1, 10)
	d.OnComplete(10, 1, outcome.Outcome{Kind: outcome.Pass})
	d.OnStart(1, 12)
	d.OnComplete(12, 1, outcome.Outcome{Kind: outcome.Pass})
	if got := lanes(); len(got) != 0 {
		t.Fatalf("lane redrawn before its next task started: %+v", got)
	}
	d.OnStart(1, 15)
	got := lanes()
	if len(got) != 1 || got[0].lane != 1 || got[0].task != 15 || got[0].count != 2 {
		t.Fatalf("lane updates = %+v, want lane 1 on task 15 after 2 runs", got)
	}
	d.OnStart(1, 16)
	if len(lanes()) != 1 {
		t.Fatal("lane redrawn without reaching the refresh interval")
	}
}

func TestDashboardFoundLineIsPrinted(t *testing.T) {
	m := newDashboardModel(DashboardConfig{Lanes: 1})
	_, cmd := m.Update(foundMsg{text: "found crash in task 3: fail/crash-dd.wasm"})
	if cmd == nil {
		t.Fatal("found line produced no command")
	}
	if msg := cmd(); msg == nil {
		t.Fatal("found line command returned no message")
	}
}

func TestDashboardRendersLanesAndSummary(t *testing.T) {
	m := newDashboardModel(DashboardConfig{Title: "FuzzDifferential", Lanes: 2, Width: 120})
	m.Update(laneMsg{lane: 1, task: 1234, count: 40, rate: 3.5})
	m.Update(summaryMsg{total: 80, diffs: 2, timeouts: 1, rate: 7})
	m.Update(laneMsg{lane: 9, task: 1}) // unknown lanes are ignored

	view := m.View()
	for _, want := range []string{
		"FuzzDifferential",
		"lane  0  warming up",
		"lane  1  task 1,234  runs 40  (iter/s: 3.50)",
		"total 80  (iter/s: 7.00)",
		"diffs 2",
		"timeouts 1",
	} {
		if !strings.Contains(view, want) {
			t.Errorf("view misses %q:\n%s", want, view)
		}
	}
	if got := strings.Count(view, "\n"); got != 4 {
		t.Errorf("view has %d lines, want title, 2 lanes and summary", got)
	}
}

func TestDashboardCtrlCInterruptsOnce(t *testing.T) {
	calls := 0
	m := newDashboardModel(DashboardConfig{Lanes: 1, OnInterrupt: func() { calls++ }})
	m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if calls != 1 {
		t.Fatalf("OnInterrupt called %d times, want 1", calls)
	}
	if !strings.Contains(m.View(), "stopping") {
		t.Fatalf("view does not show shutdown:\n%s", m.View())
	}
}

func TestDashboardTruncatesToWidth(t *testing.T) {
	m := newDashboardModel(DashboardConfig{Title: strings.Repeat("x", 200), Lanes: 1, Width: 120})
	m.Update(tea.WindowSizeMsg{Width: 30, Height: 10})
	m.Update(laneMsg{lane: 0, task: 123456789, count: 40, rate: 1})
	lines := strings.Split(m.View(), "\n")
	if !strings.HasSuffix(lines[1], "...") {
		t.Fatalf("lane line not truncated: %q", lines[1])
	}
}

func TestInitSignalsReady(t *testing.T) {
	m := newDashboardModel(DashboardConfig{Lanes: 1})
	if m.Init() == nil {
		t.Fatal("Init must start the spinner")
	}
	m.Init()
	select {
	case <-m.ready:
	default:
		t.Fatal("ready not closed after Init")
	}
}
