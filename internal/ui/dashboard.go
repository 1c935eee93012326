package ui

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"difffuzz/internal/outcome"
	"difffuzz/internal/progress"
)

// DefaultRefreshEvery is how many completions of one lane pass between two
// redraws of that lane's line.
const DefaultRefreshEvery = 40

// DashboardConfig configures StartDashboard.
type DashboardConfig struct {
	Title        string
	Lanes        int
	RefreshEvery int
	Width        int
	// OnInterrupt runs on the UI goroutine when ctrl+c is pressed. The
	// terminal is in raw mode, so no SIGINT reaches the process.
	OnInterrupt func()
	Input       io.Reader // defaults to os.Stdin
	// StartTimeout bounds the wait for the terminal to be set up.
	StartTimeout time.Duration
}

// Dashboard is a progress.Reporter drawing one line per lane plus a summary.
type Dashboard struct {
	program *tea.Program
	send    func(tea.Msg)
	state   *progress.State
	refresh uint64
	due     map[int]bool // lanes whose line is redrawn at their next start
	done    chan struct{}

	finalize sync.Once
	errMu    sync.Mutex
	err      error
}

// StartDashboard runs the dashboard program on out and returns once the
// terminal is set up. An error means nothing was drawn and the caller should
// report some other way.
func StartDashboard(out *os.File, cfg DashboardConfig) (*Dashboard, error) {
	if cfg.RefreshEvery <= 0 {
		cfg.RefreshEvery = DefaultRefreshEvery
	}
	if cfg.Input == nil {
		cfg.Input = os.Stdin
	}
	if cfg.StartTimeout <= 0 {
		cfg.StartTimeout = 2 * time.Second
	}

	model := newDashboardModel(cfg)
	d := &Dashboard{
		program: tea.NewProgram(model,
			tea.WithOutput(out),
			tea.WithInput(cfg.Input),
			tea.WithoutSignalHandler(),
		),
		state:   progress.NewState(time.Now()),
		refresh: uint64(cfg.RefreshEvery),
		due:     make(map[int]bool),
		done:    make(chan struct{}),
	}
	d.send = d.program.Send
	go func() {
		defer close(d.done)
		if _, err := d.program.Run(); err != nil {
			d.setErr(err)
		}
	}()

	select {
	case <-model.ready:
		return d, nil
	case <-d.done:
		if err := d.Err(); err != nil {
			return nil, fmt.Errorf("dashboard: %w", err)
		}
		return nil, errors.New("dashboard: program exited during startup")
	case <-time.After(cfg.StartTimeout):
		d.program.Kill()
		<-d.done
		return nil, errors.New("dashboard: terminal setup timed out")
	}
}

// Err returns the error the program stopped with, if any.
func (d *Dashboard) Err() error {
	d.errMu.Lock()
	defer d.errMu.Unlock()
	return d.err
}

func (d *Dashboard) setErr(err error) {
	d.errMu.Lock()
	defer d.errMu.Unlock()
	d.err = err
}

// exited reports whether the program has stopped. Events arriving after that
// only update the counters.
func (d *Dashboard) exited() bool {
	select {
	case <-d.done:
		return true
	default:
		return false
	}
}

func (d *Dashboard) OnStart(lane int, task uint64) {
	d.state.Started(lane, task)
	if !d.due[lane] {
		return
	}
	delete(d.due, lane)
	if d.exited() {
		return
	}
	d.send(d.laneUpdate(lane, time.Now()))
}

func (d *Dashboard) OnComplete(task uint64, lane int, o outcome.Outcome) {
	n := d.state.Completed(lane, o)
	if n%d.refresh == 0 {
		d.due[lane] = true
	}
	if d.exited() {
		return
	}
	now := time.Now()

	if o.Kind.Failed() && o.Artifact != "" && !o.Duplicate {
		d.send(foundMsg{text: fmt.Sprintf("found %s in task %d: %s", o.Kind, task, o.Artifact)})
	}
	if o.Kind.Failed() || n%d.refresh == 0 {
		d.send(d.summary(now))
	}
}

// laneUpdate describes lane as of its most recently started task.
func (d *Dashboard) laneUpdate(lane int, now time.Time) laneMsg {
	n := d.state.PerLane[lane]
	return laneMsg{
		lane:  lane,
		task:  d.state.LastTask[lane],
		count: n,
		rate:  d.state.Rate(n, now),
	}
}

func (d *Dashboard) summary(now time.Time) summaryMsg {
	return summaryMsg{
		total:    d.state.Total,
		diffs:    d.state.Diffs,
		timeouts: d.state.Timeouts,
		rate:     d.state.Rate(d.state.Total, now),
	}
}

// Finalize draws the final state and gives the terminal back. Safe to call
// more than once and after the program failed.
func (d *Dashboard) Finalize() {
	d.finalize.Do(func() {
		if !d.exited() {
			now := time.Now()
			for lane, n := range d.state.PerLane {
				if n > 0 {
					d.send(d.laneUpdate(lane, now))
				}
			}
			d.send(d.summary(now))
			d.program.Quit()
		}
		<-d.done
	})
}

type laneMsg struct {
	lane  int
	task  uint64
	count uint64
	rate  float64
}

// foundMsg is printed above the dashboard and stays in the scrollback.
type foundMsg struct{ text string }

type summaryMsg struct {
	total    uint64
	diffs    uint64
	timeouts uint64
	rate     float64
}

type laneLine struct {
	task  uint64
	count uint64
	rate  float64
}

type dashboardModel struct {
	title       string
	spinner     spinner.Model
	lanes       []laneLine
	summary     summaryMsg
	width       int
	stopping    bool
	onInterrupt func()
	printer     *message.Printer

	ready     chan struct{}
	readyOnce *sync.Once
}

func newDashboardModel(cfg DashboardConfig) *dashboardModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	width := cfg.Width
	if width <= 0 {
		width = 80
	}
	return &dashboardModel{
		title:       cfg.Title,
		spinner:     sp,
		lanes:       make([]laneLine, max(cfg.Lanes, 0)),
		width:       width,
		onInterrupt: cfg.OnInterrupt,
		printer:     message.NewPrinter(language.English),
		ready:       make(chan struct{}),
		readyOnce:   &sync.Once{},
	}
}

func (m *dashboardModel) Init() tea.Cmd {
	m.readyOnce.Do(func() { close(m.ready) })
	return m.spinner.Tick
}

func (m *dashboardModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case laneMsg:
		if msg.lane >= 0 && msg.lane < len(m.lanes) {
			m.lanes[msg.lane] = laneLine{task: msg.task, count: msg.count, rate: msg.rate}
		}
		return m, nil
	case summaryMsg:
		m.summary = msg
		return m, nil
	case foundMsg:
		return m, tea.Println(msg.text)
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" && !m.stopping {
			m.stopping = true
			if m.onInterrupt != nil {
				m.onInterrupt()
			}
		}
		return m, nil
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case tea.WindowSizeMsg:
		if msg.Width > 0 {
			m.width = msg.Width
		}
		return m, nil
	}
	return m, nil
}

func (m *dashboardModel) View() string {
	titleStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("7"))
	dim := lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	diffStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("7"))
	if m.summary.diffs > 0 {
		diffStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("1"))
	}
	timeoutStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("7"))
	if m.summary.timeouts > 0 {
		timeoutStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	}

	header := m.title
	switch {
	case m.stopping:
		header = "stopping: " + header
	default:
		header = fmt.Sprintf("%s %s", m.spinner.View(), header)
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render(truncate(header, m.width)))
	b.WriteString("\n")

	for i, l := range m.lanes {
		var line string
		if l.count == 0 {
			line = fmt.Sprintf("  lane %2d  warming up", i)
			b.WriteString(dim.Render(truncate(line, m.width)))
		} else {
			line = m.printer.Sprintf("  lane %2d  task %d  runs %d  (iter/s: %.2f)", i, l.task, l.count, l.rate)
			b.WriteString(truncate(line, m.width))
		}
		b.WriteString("\n")
	}

	total := m.printer.Sprintf("  total %d  (iter/s: %.2f)  ", m.summary.total, m.summary.rate)
	diffs := m.printer.Sprintf("diffs %d", m.summary.diffs)
	timeouts := m.printer.Sprintf("timeouts %d", m.summary.timeouts)
	b.WriteString(total)
	b.WriteString(diffStyle.Render(diffs))
	b.WriteString("  ")
	b.WriteString(timeoutStyle.Render(timeouts))
	b.WriteString("\n")
	return b.String()
}
