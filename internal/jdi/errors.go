package jdi

import "errors"

// Sentinel errors returned by VM implementations.
var (
	// ErrVMDisconnected is returned when the VM is no longer reachable.
	ErrVMDisconnected = errors.New("vm disconnected")

	// ErrInvalidRequestState is returned when a request is modified while enabled.
	ErrInvalidRequestState = errors.New("invalid request state")

	// ErrIncompatibleThreadState is returned when stack access is attempted
	// on a thread that is not suspended.
	ErrIncompatibleThreadState = errors.New("thread not suspended")

	// ErrAbsentInformation is returned when a type lacks line number or
	// source information.
	ErrAbsentInformation = errors.New("absent debug information")

	// ErrClassNotPrepared is returned when a type has been loaded but not prepared.
	ErrClassNotPrepared = errors.New("class not prepared")

	// ErrObjectCollected is returned when a mirrored object has been garbage collected.
	ErrObjectCollected = errors.New("object collected")

	// ErrFrameIndex is returned for a stack frame index outside the thread's stack.
	ErrFrameIndex = errors.New("frame index out of range")
)

// IsDisconnected reports whether err indicates the VM went away.
func IsDisconnected(err error) bool {
	return errors.Is(err, ErrVMDisconnected)
}
