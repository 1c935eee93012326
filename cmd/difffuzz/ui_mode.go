package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"

	"difffuzz/internal/progress"
)

func readProgressMode(value string) (progress.Mode, error) {
	mode, err := progress.ParseMode(value)
	if err != nil {
		return progress.ModeAuto, fmt.Errorf("invalid --progress value: %w", err)
	}
	return mode, nil
}

func applyColorMode(value string) error {
	switch strings.TrimSpace(strings.ToLower(value)) {
	case "", "auto":
		color.NoColor = os.Getenv("NO_COLOR") != "" || !isTerminal(os.Stdout)
	case "on":
		color.NoColor = false
	case "off":
		color.NoColor = true
	default:
		return fmt.Errorf("invalid --color value %q (expected auto|on|off)", value)
	}
	return nil
}

// shouldUseTUI decides whether a one-shot command draws a Bubble Tea view.
func shouldUseTUI(mode progress.Mode, f *os.File) bool {
	switch mode {
	case progress.ModeLog:
		return false
	default:
		return isTerminal(f) && os.Getenv("TERM") != "dumb"
	}
}
