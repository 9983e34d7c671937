package jditest

import (
	"github.com/dshills/jswat/internal/jdi"
)

// Thread is a fake debuggee thread. Frames are ordered top first.
type Thread struct {
	vm      *VM
	id      uint64
	name    string
	suspend int
	frames  []*Location
	dead    bool
}

// ID implements jdi.ThreadReference.
func (t *Thread) ID() uint64 { return t.id }

// Name implements jdi.ThreadReference.
func (t *Thread) Name() string { return t.name }

// IsSuspended implements jdi.ThreadReference.
func (t *Thread) IsSuspended() bool {
	t.vm.mu.Lock()
	defer t.vm.mu.Unlock()
	return t.suspend > 0
}

// SuspendCount returns the thread's current suspend count.
func (t *Thread) SuspendCount() int {
	t.vm.mu.Lock()
	defer t.vm.mu.Unlock()
	return t.suspend
}

// FrameCount implements jdi.ThreadReference.
func (t *Thread) FrameCount() (int, error) {
	t.vm.mu.Lock()
	defer t.vm.mu.Unlock()
	if t.dead {
		return 0, jdi.ErrObjectCollected
	}
	if t.suspend == 0 {
		return 0, jdi.ErrIncompatibleThreadState
	}
	return len(t.frames), nil
}

// Frame implements jdi.ThreadReference.
func (t *Thread) Frame(index int) (jdi.StackFrame, error) {
	t.vm.mu.Lock()
	defer t.vm.mu.Unlock()
	if t.dead {
		return nil, jdi.ErrObjectCollected
	}
	if t.suspend == 0 {
		return nil, jdi.ErrIncompatibleThreadState
	}
	if index < 0 || index >= len(t.frames) {
		return nil, jdi.ErrFrameIndex
	}
	return &frame{thread: t, loc: t.frames[index]}, nil
}

// SetFrames replaces the thread's stack, top frame first.
func (t *Thread) SetFrames(locs ...*Location) {
	t.vm.mu.Lock()
	defer t.vm.mu.Unlock()
	t.frames = append([]*Location(nil), locs...)
}

// Suspend increments the thread's suspend count.
func (t *Thread) Suspend() {
	t.vm.mu.Lock()
	defer t.vm.mu.Unlock()
	t.suspend++
}

// Resume decrements the thread's suspend count.
func (t *Thread) Resume() {
	t.vm.mu.Lock()
	defer t.vm.mu.Unlock()
	if t.suspend > 0 {
		t.suspend--
	}
}

// enter makes loc the top frame, keeping the callers below it.
func (t *Thread) enter(loc *Location) {
	if len(t.frames) == 0 {
		t.frames = []*Location{loc}
		return
	}
	t.frames[0] = loc
}

type frame struct {
	thread *Thread
	loc    *Location
}

func (f *frame) Thread() jdi.ThreadReference { return f.thread }
func (f *frame) Location() jdi.Location      { return f.loc }
