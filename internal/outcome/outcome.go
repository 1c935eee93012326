// Package outcome classifies a finished target execution.
package outcome

// Kind is the verdict for one execution.
type Kind uint8

const (
	// Pass means the target exited with status 0 within the timeout.
	Pass Kind = iota
	// Crash means the target exited with a non-zero status (or died on a signal).
	Crash
	// Timeout means the target exceeded the wall-clock bound and was killed.
	Timeout
)

// String returns the name used in archive file names and reports.
func (k Kind) String() string {
	switch k {
	case Pass:
		return "pass"
	case Crash:
		return "crash"
	case Timeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Failed reports whether the kind is archived.
func (k Kind) Failed() bool {
	return k == Crash || k == Timeout
}

// Outcome is the result of one lane cycle as seen by reporters.
type Outcome struct {
	Kind      Kind
	Artifact  string // archived path, empty for Pass or when archiving failed
	Shrunk    bool   // artifact is the shrink tool output
	Duplicate bool   // crash matched an already archived hash
}

// Classify maps an exit status and a timeout flag to a Kind.
// A timeout wins over whatever exit code the killed process reported.
func Classify(exitCode int, timedOut bool) Kind {
	if timedOut {
		return Timeout
	}
	if exitCode == 0 {
		return Pass
	}
	return Crash
}
