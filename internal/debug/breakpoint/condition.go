package breakpoint

import (
	"go.uber.org/zap"

	"github.com/dshills/jswat/internal/jdi"
	"github.com/dshills/jswat/internal/logging"
)

// Condition decides whether a hit should stop. An error counts as "not
// satisfied" and is reported through the registry's listeners.
type Condition interface {
	IsSatisfied(b *Breakpoint, ev *jdi.Event) (bool, error)
}

// ConditionFunc adapts a function to Condition.
type ConditionFunc func(b *Breakpoint, ev *jdi.Event) (bool, error)

// IsSatisfied implements Condition.
func (f ConditionFunc) IsSatisfied(b *Breakpoint, ev *jdi.Event) (bool, error) {
	return f(b, ev)
}

// Monitor is an action run after a breakpoint has decided to stop.
type Monitor interface {
	Perform(b *Breakpoint, ev *jdi.Event) error

	// RequiresThread reports whether Perform reads the event thread's
	// stack. Such monitors force the breakpoint's requests to suspend
	// all threads, and are skipped if the thread is running anyway.
	RequiresThread() bool
}

// MonitorFunc adapts a function to a Monitor that does not need a thread.
type MonitorFunc func(b *Breakpoint, ev *jdi.Event) error

// Perform implements Monitor.
func (f MonitorFunc) Perform(b *Breakpoint, ev *jdi.Event) error { return f(b, ev) }

// RequiresThread implements Monitor.
func (f MonitorFunc) RequiresThread() bool { return false }

// LogMonitor writes a line for every stop.
type LogMonitor struct {
	Log *logging.Logger
}

// Perform implements Monitor.
func (m LogMonitor) Perform(b *Breakpoint, ev *jdi.Event) error {
	fields := []zap.Field{
		zap.Int("breakpoint", b.Number()),
		zap.String("description", b.Description()),
		zap.Int("hits", b.HitCount()),
	}
	if ev.Thread != nil {
		fields = append(fields, zap.String("thread", ev.Thread.Name()))
	}
	m.Log.Info("breakpoint hit", fields...)
	return nil
}

// RequiresThread implements Monitor.
func (m LogMonitor) RequiresThread() bool { return false }

// StackMonitor passes the event thread's frames to Fn, top first.
type StackMonitor struct {
	Fn func(b *Breakpoint, frames []jdi.StackFrame) error
}

// Perform implements Monitor.
func (m StackMonitor) Perform(b *Breakpoint, ev *jdi.Event) error {
	n, err := ev.Thread.FrameCount()
	if err != nil {
		return err
	}
	frames := make([]jdi.StackFrame, 0, n)
	for i := 0; i < n; i++ {
		f, err := ev.Thread.Frame(i)
		if err != nil {
			return err
		}
		frames = append(frames, f)
	}
	return m.Fn(b, frames)
}

// RequiresThread implements Monitor.
func (m StackMonitor) RequiresThread() bool { return true }
