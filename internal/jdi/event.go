package jdi

import "fmt"

// EventKind discriminates Event.
type EventKind int

const (
	EventVMStart EventKind = iota
	EventVMDeath
	EventVMDisconnect
	EventBreakpoint
	EventStep
	EventException
	EventThreadStart
	EventThreadDeath
	EventClassPrepare
	EventClassUnload
	EventAccessWatchpoint
	EventModificationWatchpoint
)

var eventKindNames = [...]string{
	EventVMStart:                "vm-start",
	EventVMDeath:                "vm-death",
	EventVMDisconnect:           "vm-disconnect",
	EventBreakpoint:             "breakpoint",
	EventStep:                   "step",
	EventException:              "exception",
	EventThreadStart:            "thread-start",
	EventThreadDeath:            "thread-death",
	EventClassPrepare:           "class-prepare",
	EventClassUnload:            "class-unload",
	EventAccessWatchpoint:       "access-watchpoint",
	EventModificationWatchpoint: "modification-watchpoint",
}

// String returns a short name for the kind.
func (k EventKind) String() string {
	if k >= 0 && int(k) < len(eventKindNames) {
		return eventKindNames[k]
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

// Locatable reports whether events of this kind carry a thread and location.
func (k EventKind) Locatable() bool {
	switch k {
	case EventBreakpoint, EventStep, EventException,
		EventAccessWatchpoint, EventModificationWatchpoint:
		return true
	}
	return false
}

// Event is a single debuggee event. Which fields are set depends on Kind:
//
//   - Locatable kinds: Thread, Location
//   - EventException: also ExceptionType and CatchLocation (nil if uncaught)
//   - Watchpoint kinds: also Field
//   - EventThreadStart, EventThreadDeath: Thread
//   - EventClassPrepare: Thread, Type
//   - EventClassUnload: ClassName
//   - VM kinds: Thread for EventVMStart, nothing otherwise
//
// Request is the request that produced the event, nil for VM lifecycle events.
type Event struct {
	Kind    EventKind
	Request EventRequest
	VM      VirtualMachine

	Thread        ThreadReference
	Location      Location
	Type          ReferenceType
	ClassName     string
	ExceptionType ReferenceType
	CatchLocation Location
	Field         Field
}

// String describes the event for logs.
func (e *Event) String() string {
	switch {
	case e.Kind.Locatable() && e.Location != nil:
		return fmt.Sprintf("%s at %s:%d", e.Kind, e.Location.DeclaringType().Name(), e.Location.LineNumber())
	case e.Kind == EventClassPrepare && e.Type != nil:
		return fmt.Sprintf("%s %s", e.Kind, e.Type.Name())
	case e.Kind == EventClassUnload:
		return fmt.Sprintf("%s %s", e.Kind, e.ClassName)
	case e.Thread != nil:
		return fmt.Sprintf("%s thread=%s", e.Kind, e.Thread.Name())
	}
	return e.Kind.String()
}
