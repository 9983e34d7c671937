package breakpoint

import (
	"errors"
	"fmt"
)

// Sentinel errors for the breakpoint package.
var (
	// ErrMalformedPattern is wrapped by PatternError.
	ErrMalformedPattern = errors.New("malformed class pattern")

	// ErrMalformedMember is returned for an invalid method or field name.
	ErrMalformedMember = errors.New("malformed member name")

	// ErrInvalidLine is returned for a line number below 1.
	ErrInvalidLine = errors.New("line number must be positive")

	// ErrLineNotFound means a candidate class has no code on the line.
	ErrLineNotFound = errors.New("line not found")

	// ErrMemberNotFound means a candidate class lacks the method or field.
	ErrMemberNotFound = errors.New("member not found")

	// ErrInvalidState is returned when an operation is not allowed in the
	// breakpoint's current state, such as changing the suspend policy of
	// an enabled breakpoint.
	ErrInvalidState = errors.New("invalid breakpoint state")

	// ErrUnsupportedFilter is returned when a kind cannot take a filter.
	ErrUnsupportedFilter = errors.New("filter not supported by breakpoint kind")

	// ErrInvalidPolicy is returned for an unknown suspend policy.
	ErrInvalidPolicy = errors.New("invalid suspend policy")

	// ErrInvalidSpec is returned for a spec with no events selected.
	ErrInvalidSpec = errors.New("invalid breakpoint spec")

	// ErrRootGroup is returned when removing the root group.
	ErrRootGroup = errors.New("root group cannot be removed")

	// ErrNotMember is returned for a breakpoint or group that belongs to
	// another registry, or to none.
	ErrNotMember = errors.New("not a member of this registry")

	// ErrRequiresThread is returned when a group monitor needs a thread.
	ErrRequiresThread = errors.New("group monitors cannot require a thread")

	// ErrThreadNotSuspended is reported when a thread-requiring monitor
	// is skipped because the event thread is running.
	ErrThreadNotSuspended = errors.New("event thread is not suspended")

	// ErrPanicked wraps the value of a condition or monitor that panicked.
	ErrPanicked = errors.New("panicked")
)

// PatternError reports an invalid class name pattern.
type PatternError struct {
	Pattern string
	Part    string
}

// Error implements error.
func (e *PatternError) Error() string {
	if e.Part == "" {
		return fmt.Sprintf("%v: %q", ErrMalformedPattern, e.Pattern)
	}
	return fmt.Sprintf("%v: %q has invalid identifier %q", ErrMalformedPattern, e.Pattern, e.Part)
}

// Unwrap returns ErrMalformedPattern.
func (e *PatternError) Unwrap() error {
	return ErrMalformedPattern
}

// ResolveError reports a resolution failure against a class.
type ResolveError struct {
	Pattern string
	Class   string
	Err     error
}

// Error implements error.
func (e *ResolveError) Error() string {
	if e.Class == "" {
		return fmt.Sprintf("resolve %s: %v", e.Pattern, e.Err)
	}
	return fmt.Sprintf("resolve %s in %s: %v", e.Pattern, e.Class, e.Err)
}

// Unwrap returns the underlying error.
func (e *ResolveError) Unwrap() error {
	return e.Err
}

// NotFound reports whether the failure only means "nothing matched here",
// as opposed to a malformed request or a broken class.
func (e *ResolveError) NotFound() bool {
	return errors.Is(e.Err, ErrLineNotFound) || errors.Is(e.Err, ErrMemberNotFound)
}
