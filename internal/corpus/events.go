package corpus

import "time"

// Status captures the state of one seed file.
type Status string

const (
	// StatusQueued indicates the seed is waiting to be generated.
	StatusQueued Status = "queued"
	// StatusWorking indicates the generator is running.
	StatusWorking Status = "working"
	// StatusDone indicates the seed file was written.
	StatusDone Status = "done"
	// StatusError indicates the generator failed.
	StatusError Status = "error"
)

// Event reports progress for one seed file.
type Event struct {
	Index   int
	File    string
	Status  Status
	Err     error
	Elapsed time.Duration
}

// ProgressSink consumes progress events. Implementations must be safe for
// concurrent use.
type ProgressSink interface {
	OnEvent(Event)
}

// ChannelSink forwards events into a channel.
type ChannelSink struct {
	Ch chan<- Event
}

func (s ChannelSink) OnEvent(evt Event) {
	if s.Ch == nil {
		return
	}
	s.Ch <- evt
}

// FuncSink adapts a function.
type FuncSink func(Event)

func (f FuncSink) OnEvent(evt Event) { f(evt) }
