package dispatch

import (
	"errors"
	"fmt"
)

// Sentinel errors for the dispatch package.
var (
	// ErrAlreadyRunning is returned when Start is called twice.
	ErrAlreadyRunning = errors.New("dispatcher is already running")

	// ErrListenerPanic is wrapped by PanicError.
	ErrListenerPanic = errors.New("listener panicked")
)

// PanicError reports a recovered listener panic.
type PanicError struct {
	Value any
	Stack []byte
}

// Error implements error.
func (e *PanicError) Error() string {
	return fmt.Sprintf("%v: %v", ErrListenerPanic, e.Value)
}

// Unwrap returns ErrListenerPanic.
func (e *PanicError) Unwrap() error {
	return ErrListenerPanic
}
