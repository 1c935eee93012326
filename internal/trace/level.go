package trace

import (
	"fmt"
	"strings"
)

// Level controls tracing verbosity.
type Level uint8

const (
	LevelOff   Level = iota // no tracing
	LevelError              // keep events only for fault dumps
	LevelCycle              // driver + lane cycles
	LevelTool               // everything including tool invocations
)

// String returns the flag spelling of l.
func (l Level) String() string {
	switch l {
	case LevelOff:
		return "off"
	case LevelError:
		return "error"
	case LevelCycle:
		return "cycle"
	case LevelTool:
		return "tool"
	default:
		return "unknown"
	}
}

// ParseLevel converts a flag value to a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "off":
		return LevelOff, nil
	case "error":
		return LevelError, nil
	case "cycle":
		return LevelCycle, nil
	case "tool":
		return LevelTool, nil
	default:
		return LevelOff, fmt.Errorf("invalid trace level: %q (expected: off|error|cycle|tool)", s)
	}
}

// ShouldEmit reports whether events of scope are recorded at this level.
func (l Level) ShouldEmit(scope Scope) bool {
	switch l {
	case LevelError:
		// the ring keeps lane cycles so a fault dump shows what every lane was doing
		return scope <= ScopeLane
	case LevelCycle:
		return scope <= ScopeLane
	case LevelTool:
		return true
	default:
		return false
	}
}
