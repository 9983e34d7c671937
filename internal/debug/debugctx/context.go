// Package debugctx tracks the debugger's current thread, stack frame and
// location, and tells listeners when any of them actually changes.
package debugctx

import (
	"errors"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/dshills/jswat/internal/jdi"
	"github.com/dshills/jswat/internal/logging"
)

var (
	// ErrNoThread is returned by SetFrame when no thread is current.
	ErrNoThread = errors.New("current thread not set")

	// ErrFrameOutOfRange is returned for a frame index outside the stack.
	ErrFrameOutOfRange = errors.New("frame index out of range")

	// ErrThreadNotSuspended is returned by SetFrame on a running thread.
	ErrThreadNotSuspended = errors.New("thread must be suspended")
)

// ChangeType is a bit set describing what changed.
type ChangeType uint8

const (
	TypeThread ChangeType = 1 << iota
	TypeLocation
	TypeFrame
)

// Has reports whether every bit of o is set in t.
func (t ChangeType) Has(o ChangeType) bool {
	return t&o == o
}

// String returns the set bits joined by '|'.
func (t ChangeType) String() string {
	var parts []string
	if t.Has(TypeThread) {
		parts = append(parts, "thread")
	}
	if t.Has(TypeLocation) {
		parts = append(parts, "location")
	}
	if t.Has(TypeFrame) {
		parts = append(parts, "frame")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// Change describes one coalesced context change. Brief changes are
// expected to be superseded shortly and may be ignored by listeners that
// only care about settled state.
type Change struct {
	Type     ChangeType
	Brief    bool
	Thread   jdi.ThreadReference
	Frame    int
	Location jdi.Location
}

// Listener is notified of context changes.
type Listener interface {
	ContextChanged(c Change)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(c Change)

// ContextChanged implements Listener.
func (f ListenerFunc) ContextChanged(c Change) { f(c) }

type listenerEntry struct {
	id       uint64
	listener Listener
}

// Manager holds the current debugging context of one session.
//
// The location handed out by Location is always recomputed from the
// thread's live stack: location handles go stale when the debuggee's code
// is redefined, so the manager only keeps the last one for change
// detection.
type Manager struct {
	log *logging.Logger

	mu         sync.Mutex
	thread     jdi.ThreadReference
	frame      int
	location   jdi.Location
	frameCount int

	lmu       sync.Mutex
	listeners []listenerEntry
	nextID    uint64
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(m *Manager) {
		m.log = l.WithComponent("context")
	}
}

// New creates an empty context.
func New(opts ...Option) *Manager {
	m := &Manager{log: logging.Nop()}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// AddListener registers l. Listeners are called in registration order on
// the goroutine that made the change. The returned function removes l.
func (m *Manager) AddListener(l Listener) (remove func()) {
	m.lmu.Lock()
	defer m.lmu.Unlock()
	m.nextID++
	id := m.nextID
	listeners := make([]listenerEntry, 0, len(m.listeners)+1)
	listeners = append(listeners, m.listeners...)
	m.listeners = append(listeners, listenerEntry{id: id, listener: l})
	return func() { m.removeListener(id) }
}

func (m *Manager) removeListener(id uint64) {
	m.lmu.Lock()
	defer m.lmu.Unlock()
	listeners := make([]listenerEntry, 0, len(m.listeners))
	for _, e := range m.listeners {
		if e.id != id {
			listeners = append(listeners, e)
		}
	}
	m.listeners = listeners
}

// Thread returns the current thread, or nil.
func (m *Manager) Thread() jdi.ThreadReference {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.thread
}

// Frame returns the current frame index.
func (m *Manager) Frame() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.frame
}

// Location returns the location of the current frame, read from the
// thread's live stack. It returns nil if there is no current thread or the
// thread is not suspended.
func (m *Manager) Location() jdi.Location {
	frame, err := m.StackFrame()
	if err != nil || frame == nil {
		return nil
	}
	return frame.Location()
}

// StackFrame returns the current stack frame, or nil without error if no
// thread is current.
func (m *Manager) StackFrame() (jdi.StackFrame, error) {
	m.mu.Lock()
	thread, frame := m.thread, m.frame
	m.mu.Unlock()
	if thread == nil {
		return nil, nil
	}
	return thread.Frame(frame)
}

// SetLocation makes thread and loc current and resets the frame to the
// top of the stack. Passing nil for both clears the context.
func (m *Manager) SetLocation(thread jdi.ThreadReference, loc jdi.Location, brief bool) {
	m.mu.Lock()
	oldThread, oldLoc, oldFrame := m.thread, m.location, m.frame
	m.thread = thread
	m.location = loc
	m.frame = 0
	if thread == nil {
		m.location = nil
	}
	change := m.diff(oldThread, oldLoc, oldFrame, brief)
	m.mu.Unlock()

	m.fire(change)
}

// SetThread makes thread current and resets the frame to the top of its
// stack.
func (m *Manager) SetThread(thread jdi.ThreadReference, brief bool) {
	m.mu.Lock()
	oldThread, oldLoc, oldFrame := m.thread, m.location, m.frame
	m.thread = thread
	m.frame = 0
	m.location = locationOf(thread, 0)
	change := m.diff(oldThread, oldLoc, oldFrame, brief)
	m.mu.Unlock()

	m.fire(change)
}

// SetFrame selects a frame of the current thread, which must be suspended.
func (m *Manager) SetFrame(frame int) error {
	if frame < 0 {
		return ErrFrameOutOfRange
	}

	m.mu.Lock()
	if m.thread == nil {
		m.mu.Unlock()
		return ErrNoThread
	}
	if !m.thread.IsSuspended() {
		m.mu.Unlock()
		return ErrThreadNotSuspended
	}
	count, err := m.thread.FrameCount()
	if err != nil {
		m.mu.Unlock()
		if errors.Is(err, jdi.ErrIncompatibleThreadState) {
			return ErrThreadNotSuspended
		}
		return err
	}
	if frame >= count {
		m.mu.Unlock()
		return ErrFrameOutOfRange
	}
	if frame == m.frame {
		m.mu.Unlock()
		return nil
	}

	oldLoc, oldFrame := m.location, m.frame
	m.location = locationOf(m.thread, frame)
	m.frame = frame
	change := m.diff(m.thread, oldLoc, oldFrame, false)
	m.mu.Unlock()

	m.fire(change)
	return nil
}

// Reset clears the context without notifying listeners.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.thread = nil
	m.location = nil
	m.frame = 0
	m.frameCount = 0
}

// diff computes what changed against the previous values. A change in the
// live frame count of the current thread counts as a frame change even
// when the frame index is unchanged, which also fires on most thread
// switches. Callers hold m.mu.
func (m *Manager) diff(oldThread jdi.ThreadReference, oldLoc jdi.Location, oldFrame int, brief bool) Change {
	var types ChangeType
	if m.thread != nil {
		if n, err := m.thread.FrameCount(); err == nil && n != m.frameCount {
			m.frameCount = n
			types |= TypeFrame
		}
	}
	if oldFrame != m.frame {
		types |= TypeFrame
	}
	if !jdi.SameLocation(oldLoc, m.location) {
		types |= TypeLocation
	}
	if !sameThread(oldThread, m.thread) {
		types |= TypeThread
	}
	return Change{
		Type:     types,
		Brief:    brief,
		Thread:   m.thread,
		Frame:    m.frame,
		Location: m.location,
	}
}

func (m *Manager) fire(c Change) {
	if c.Type == 0 {
		return
	}
	m.lmu.Lock()
	listeners := m.listeners
	m.lmu.Unlock()

	for _, e := range listeners {
		m.notify(e.listener, c)
	}
}

func (m *Manager) notify(l Listener, c Change) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Warn("context listener panicked", zap.Any("panic", r), zap.Stringer("change", c.Type))
		}
	}()
	l.ContextChanged(c)
}

func locationOf(thread jdi.ThreadReference, frame int) jdi.Location {
	if thread == nil {
		return nil
	}
	f, err := thread.Frame(frame)
	if err != nil || f == nil {
		return nil
	}
	return f.Location()
}

func sameThread(a, b jdi.ThreadReference) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.ID() == b.ID()
}
