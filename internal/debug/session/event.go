package session

import "github.com/dshills/jswat/internal/jdi"

// EventType identifies a session notification.
type EventType int

const (
	EventOpened EventType = iota
	EventConnected
	EventSuspended
	EventResuming
	EventDisconnected
	EventClosing
)

var eventTypeNames = [...]string{
	EventOpened:       "opened",
	EventConnected:    "connected",
	EventSuspended:    "suspended",
	EventResuming:     "resuming",
	EventDisconnected: "disconnected",
	EventClosing:      "closing",
}

// String returns the event type name.
func (t EventType) String() string {
	if t >= 0 && int(t) < len(eventTypeNames) {
		return eventTypeNames[t]
	}
	return "unknown"
}

// Event is a session notification. VMEvent is the debuggee event that
// caused a suspension; it is nil when the VM was suspended on request.
type Event struct {
	Type    EventType
	Session *Session
	VMEvent *jdi.Event
}

// Listener receives session notifications.
type Listener interface {
	SessionEvent(e Event)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(e Event)

// SessionEvent implements Listener.
func (f ListenerFunc) SessionEvent(e Event) { f(e) }
