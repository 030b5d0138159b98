package bedrock

import "fmt"

// EventKind identifies an engine lifecycle event.
type EventKind uint8

const (
	EventContextStarted EventKind = iota // a context was pushed and started
	EventContextStopped                  // a context was stopped and removed
	EventStackChanged                    // the visible window was recomputed
	EventGroupOpened                     // a group became current
	EventGroupClosed                     // the current group was replaced
	EventPaused                          // the engine was paused
	EventResumed                         // the engine was resumed
	EventShutdown                        // the stack emptied or the run quit
)

var eventKindNames = [...]string{
	"context_started", "context_stopped", "stack_changed", "group_opened",
	"group_closed", "paused", "resumed", "shutdown",
}

func (k EventKind) String() string {
	if int(k) < len(eventKindNames) {
		return eventKindNames[k]
	}
	return fmt.Sprintf("EventKind(%d)", uint8(k))
}

// Event describes one lifecycle change. Fields not relevant to Kind are
// zero.
type Event struct {
	Kind    EventKind
	Context string
	Group   string
	Depth   int // stack size after the change
	Visible int // visible window size after the change
}

// EventSink receives engine lifecycle events on the update goroutine.
type EventSink interface {
	Emit(event Event)
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(Event)

func (f EventSinkFunc) Emit(e Event) { f(e) }
