package progress

import (
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// Mode selects the reporter variant.
type Mode uint8

const (
	ModeAuto Mode = iota
	ModeLog
	ModeDashboard
)

func (m Mode) String() string {
	switch m {
	case ModeLog:
		return "log"
	case ModeDashboard:
		return "dashboard"
	default:
		return "auto"
	}
}

// ParseMode accepts auto, log and dashboard (tui is an alias).
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return ModeAuto, nil
	case "log", "plain":
		return ModeLog, nil
	case "dashboard", "tui":
		return ModeDashboard, nil
	default:
		return ModeAuto, fmt.Errorf("invalid progress mode %q (want auto, log or dashboard)", s)
	}
}

// DashboardFactory starts a dashboard on out.
type DashboardFactory func(out *os.File, width, height int) (Reporter, error)

// SelectConfig configures Select.
type SelectConfig struct {
	LogInterval int
	Dashboard   DashboardFactory
	// OnFallback, if set, is told why the dashboard was not used.
	OnFallback func(reason string)
	// Getenv defaults to os.Getenv.
	Getenv func(string) string
}

// Select returns the dashboard when mode allows it and out can host it, and a
// Log reporter on out otherwise. It never fails.
func Select(mode Mode, out io.Writer, cfg SelectConfig) Reporter {
	fallback := func(reason string) Reporter {
		if cfg.OnFallback != nil && reason != "" {
			cfg.OnFallback(reason)
		}
		return NewLog(out, cfg.LogInterval)
	}
	if mode == ModeLog {
		return fallback("")
	}
	if cfg.Dashboard == nil {
		return fallback("dashboard unavailable")
	}
	f, ok := out.(*os.File)
	if !ok {
		return fallback("output is not a terminal")
	}
	fd := int(f.Fd())
	if !term.IsTerminal(fd) {
		return fallback("output is not a terminal")
	}
	getenv := cfg.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}
	if getenv("TERM") == "dumb" {
		return fallback("TERM=dumb")
	}
	width, height, err := term.GetSize(fd)
	if err != nil || width <= 0 {
		return fallback("terminal size unavailable")
	}
	r, err := cfg.Dashboard(f, width, height)
	if err != nil {
		return fallback("dashboard failed to start: " + err.Error())
	}
	return r
}
