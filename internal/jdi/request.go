package jdi

import "strings"

// RequestKind identifies what an EventRequest subscribes to.
type RequestKind int

const (
	RequestBreakpoint RequestKind = iota
	RequestException
	RequestThreadStart
	RequestThreadDeath
	RequestClassPrepare
	RequestClassUnload
	RequestAccessWatchpoint
	RequestModificationWatchpoint
)

// EventRequest is a subscription to a kind of debuggee event.
//
// Suspend policy and filters may only be changed while the request is
// disabled; implementations return ErrInvalidRequestState otherwise.
type EventRequest interface {
	Kind() RequestKind

	IsEnabled() bool
	SetEnabled(enabled bool) error

	SuspendPolicy() SuspendPolicy
	SetSuspendPolicy(policy SuspendPolicy) error

	// AddClassFilter restricts events to classes matching pattern, which
	// may begin or end with a single '*'.
	AddClassFilter(pattern string) error

	AddThreadFilter(thread ThreadReference) error

	// PutProperty attaches a client value to the request.
	PutProperty(key string, value any)

	// Property returns a value previously attached with PutProperty.
	Property(key string) any
}

// EventRequestManager creates and deletes event requests. New requests
// start disabled.
type EventRequestManager interface {
	CreateBreakpointRequest(loc Location) (EventRequest, error)

	// CreateExceptionRequest subscribes to exceptions of refType and its
	// subclasses, or to all exceptions when refType is nil.
	CreateExceptionRequest(refType ReferenceType, caught, uncaught bool) (EventRequest, error)

	CreateThreadStartRequest() (EventRequest, error)
	CreateThreadDeathRequest() (EventRequest, error)
	CreateClassPrepareRequest() (EventRequest, error)
	CreateClassUnloadRequest() (EventRequest, error)
	CreateAccessWatchpointRequest(field Field) (EventRequest, error)
	CreateModificationWatchpointRequest(field Field) (EventRequest, error)

	DeleteEventRequest(req EventRequest) error
}

// MatchClassPattern applies the class filter syntax accepted by
// EventRequest.AddClassFilter.
func MatchClassPattern(pattern, name string) bool {
	switch {
	case pattern == "*":
		return true
	case strings.HasPrefix(pattern, "*"):
		return strings.HasSuffix(name, pattern[1:])
	case strings.HasSuffix(pattern, "*"):
		return strings.HasPrefix(name, pattern[:len(pattern)-1])
	default:
		return pattern == name
	}
}
