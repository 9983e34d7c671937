package breakpoint

import (
	"github.com/dshills/jswat/internal/jdi"
)

// EventType identifies a registry notification.
type EventType int

const (
	EventAdded EventType = iota
	EventRemoved
	EventStopped
	EventResolved
	EventUnresolved
	EventChanged
	EventError
)

// String returns the event type name.
func (t EventType) String() string {
	switch t {
	case EventAdded:
		return "added"
	case EventRemoved:
		return "removed"
	case EventStopped:
		return "stopped"
	case EventResolved:
		return "resolved"
	case EventUnresolved:
		return "unresolved"
	case EventChanged:
		return "changed"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is a registry notification. VMEvent is set for EventStopped and
// for errors raised while handling a debuggee event; Err for EventError.
type Event struct {
	Type       EventType
	Breakpoint *Breakpoint
	VMEvent    *jdi.Event
	Err        error
}

// Listener receives registry notifications.
type Listener interface {
	BreakpointEvent(e Event)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(e Event)

// BreakpointEvent implements Listener.
func (f ListenerFunc) BreakpointEvent(e Event) { f(e) }
