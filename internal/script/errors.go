package script

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned when using a closed runtime.
	ErrClosed = errors.New("script runtime closed")

	// ErrTimeout is returned when a script runs past its deadline.
	ErrTimeout = errors.New("script timed out")
)

// CompileError reports a script that does not parse.
type CompileError struct {
	Name string
	Err  error
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("compiling %s: %v", e.Name, e.Err)
}

func (e *CompileError) Unwrap() error {
	return e.Err
}

// RuntimeError reports a script that failed while running.
type RuntimeError struct {
	Name string
	Err  error
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("running %s: %v", e.Name, e.Err)
}

func (e *RuntimeError) Unwrap() error {
	return e.Err
}
