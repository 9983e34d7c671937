package dispatch

import (
	"runtime/debug"
	"time"

	"github.com/dshills/jswat/internal/jdi"
)

// Executor invokes a single listener with panic recovery and timing.
type Executor struct {
	panicHandler PanicHandler
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithExecutorPanicHandler sets the panic handler for the executor.
func WithExecutorPanicHandler(h PanicHandler) ExecutorOption {
	return func(e *Executor) {
		e.panicHandler = h
	}
}

// NewExecutor creates a new executor with the given options.
func NewExecutor(opts ...ExecutorOption) *Executor {
	e := &Executor{}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs l against ev. A panic is recovered and recorded in the
// result with Resume left true, so a crashed listener never stops the
// debuggee on its own.
func (e *Executor) Execute(ev *jdi.Event, l Listener) (result Result) {
	start := time.Now()

	defer func() {
		result.Duration = time.Since(start)

		if r := recover(); r != nil {
			stack := debug.Stack()

			result.Resume = true
			result.Panicked = true
			result.PanicValue = r
			result.PanicStack = stack
			result.Err = &PanicError{Value: r, Stack: stack}

			if e.panicHandler != nil {
				func() {
					defer func() {
						_ = recover()
					}()
					e.panicHandler(ev, r, stack)
				}()
			}
		}
	}()

	resume, err := l.HandleEvent(ev)
	if err != nil {
		// The vote of a failed listener does not count.
		result.Resume = true
		result.Err = err
		return result
	}
	result.Resume = resume
	return result
}
