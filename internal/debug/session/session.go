package session

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dshills/jswat/internal/debug/breakpoint"
	"github.com/dshills/jswat/internal/debug/debugctx"
	"github.com/dshills/jswat/internal/event/dispatch"
	"github.com/dshills/jswat/internal/jdi"
	"github.com/dshills/jswat/internal/logging"
	"github.com/dshills/jswat/internal/metrics"
)

// Well-known session property names.
const (
	PropName        = "sessionName"
	PropRuntimeID   = "RuntimeId"
	PropJavaParams  = "JavaParams"
	PropClassName   = "ClassName"
	PropClassParams = "ClassParams"
	PropSharedName  = "SharedName"
	PropSocketHost  = "SocketHost"
	PropSocketPort  = "SocketPort"
	PropConnector   = "Connector"
)

// State is the connection state of a session.
type State int

const (
	StateDisconnected State = iota
	StateRunning
	StateSuspended
	StateClosed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateRunning:
		return "running"
	case StateSuspended:
		return "suspended"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

type listenerEntry struct {
	id       uint64
	listener Listener
}

// Session is one debugging session. It holds at most one connection at a
// time.
//
// Connect, Disconnect, SuspendVM and ResumeVM must not be called
// concurrently for the same session. Reads are safe at any time.
type Session struct {
	id      string
	base    *logging.Logger
	log     *logging.Logger
	metrics *metrics.Metrics
	context *debugctx.Manager
	bps     *breakpoint.Registry

	mu         sync.Mutex
	conn       jdi.Connection
	disp       *dispatch.Dispatcher
	start      *startSignal
	unregister func()
	runID      string
	closed     bool
	props      map[string]string

	lmu       sync.Mutex
	listeners []listenerEntry
	nextID    uint64
}

// New creates a disconnected session with the given identifier.
func New(id string, opts ...Option) *Session {
	return newSession(id, newOptions(opts))
}

func newSession(id string, o options) *Session {
	log := o.log.WithComponent("session").With(zap.String("session", id))
	return &Session{
		id:      id,
		base:    o.log,
		log:     log,
		metrics: o.metrics,
		context: debugctx.New(debugctx.WithLogger(o.log)),
		bps:     breakpoint.NewRegistry(breakpoint.WithLogger(o.log), breakpoint.WithMetrics(o.metrics)),
		props:   make(map[string]string),
	}
}

// ID returns the immutable session identifier.
func (s *Session) ID() string {
	return s.id
}

// Name returns the session name property.
func (s *Session) Name() string {
	return s.Property(PropName)
}

// Context returns the current debugging context.
func (s *Session) Context() *debugctx.Manager {
	return s.context
}

// Breakpoints returns the breakpoint registry of the session.
func (s *Session) Breakpoints() *breakpoint.Registry {
	return s.bps
}

// Property returns the value of a property, or "" if it is not set.
func (s *Session) Property(name string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.props[name]
}

// SetProperty sets a property. The last write wins.
func (s *Session) SetProperty(name, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.props[name] = value
}

// RemoveProperty deletes a property.
func (s *Session) RemoveProperty(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.props, name)
}

// PropertyNames returns the names of all set properties, sorted.
func (s *Session) PropertyNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Sorted(maps.Keys(s.props))
}

// Properties returns a copy of the property map.
func (s *Session) Properties() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.props)
}

// Connection returns the active connection, or nil.
func (s *Session) Connection() jdi.Connection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

// IsConnected reports whether the session has an active connection.
func (s *Session) IsConnected() bool {
	return s.Connection() != nil
}

// RunID identifies the current connection, or the last one after a
// disconnect. It is empty for a session that never connected.
func (s *Session) RunID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runID
}

// IsSuspended reports whether any debuggee thread is suspended.
func (s *Session) IsSuspended() (bool, error) {
	conn := s.Connection()
	if conn == nil {
		return false, ErrNotConnected
	}
	threads, err := conn.VM().AllThreads()
	if err != nil {
		return false, fmt.Errorf("listing threads: %w", err)
	}
	for _, t := range threads {
		if t.IsSuspended() {
			return true, nil
		}
	}
	return false, nil
}

// State derives the connection state.
func (s *Session) State() State {
	s.mu.Lock()
	closed, conn := s.closed, s.conn
	s.mu.Unlock()

	switch {
	case closed:
		return StateClosed
	case conn == nil:
		return StateDisconnected
	}
	if suspended, err := s.IsSuspended(); err == nil && suspended {
		return StateSuspended
	}
	return StateRunning
}

// Connect binds the session to conn and starts dispatching its events.
//
// Listeners see CONNECTED before the dispatcher starts, so they may get
// it slightly before the debuggee runs. For a launched debuggee Connect
// then waits until the first event arrives; ctx bounds only that wait,
// and on expiry the session stays connected and ctx.Err() is returned.
// An attached debuggee may already be running, so there is nothing to
// wait for.
func (s *Session) Connect(ctx context.Context, conn jdi.Connection) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.conn != nil {
		s.mu.Unlock()
		return ErrAlreadyConnected
	}

	vm := conn.VM()
	sig := newStartSignal(!conn.IsRemote())
	d := dispatch.New(vm.EventQueue(),
		dispatch.WithLogger(s.base),
		dispatch.WithMetrics(s.metrics),
		dispatch.WithObserver(func(*jdi.Event) { sig.release() }),
		dispatch.WithSuspendHandler(func(ev *jdi.Event) { s.suspended(conn, ev) }),
		dispatch.WithDisconnectHandler(func() { s.disconnected(conn) }),
	)
	s.conn = conn
	s.disp = d
	s.start = sig
	s.runID = uuid.NewString()
	s.unregister = d.Register(dispatch.ListenerFunc(s.handleEvent), dispatch.PrioritySession, jdi.EventVMStart)
	runID := s.runID
	s.mu.Unlock()

	s.log.Info("session connected",
		zap.String("vm", vm.Name()),
		zap.Bool("remote", conn.IsRemote()),
		zap.String("run", runID))
	s.metrics.SessionsConnected.Inc()
	s.fire(Event{Type: EventConnected, Session: s})

	s.bps.Connected(vm, d)
	if err := d.Start(); err != nil {
		return fmt.Errorf("starting dispatcher: %w", err)
	}
	return sig.wait(ctx)
}

// handleEvent keeps a launched debuggee suspended at its start event.
func (s *Session) handleEvent(ev *jdi.Event) (bool, error) {
	return ev.Kind != jdi.EventVMStart, nil
}

// Disconnect ends the connection. A remote debuggee is released and keeps
// running unless forceExit is set; a launched one is terminated.
func (s *Session) Disconnect(forceExit bool) error {
	conn := s.Connection()
	if conn == nil {
		return ErrNotConnected
	}

	vm := conn.VM()
	var err error
	if conn.IsRemote() && !forceExit {
		err = vm.Dispose()
	} else {
		err = vm.Exit(0)
	}
	if err != nil && !jdi.IsDisconnected(err) {
		s.log.Warn("debuggee shutdown failed", zap.Error(err))
	}
	s.disconnected(conn)
	return nil
}

// disconnected tears down conn. The dispatcher and Disconnect both end up
// here; only the first call for a connection does anything.
func (s *Session) disconnected(conn jdi.Connection) {
	s.mu.Lock()
	if s.conn != conn {
		s.mu.Unlock()
		return
	}
	s.conn = nil
	s.disp = nil
	unregister := s.unregister
	s.unregister = nil
	sig := s.start
	s.start = nil
	s.mu.Unlock()

	if unregister != nil {
		unregister()
	}
	if err := conn.Disconnect(); err != nil && !jdi.IsDisconnected(err) {
		s.log.Debug("connection release failed", zap.Error(err))
	}
	// A debuggee that dies before its first event must not leave Connect
	// waiting.
	if sig != nil {
		sig.release()
	}
	s.bps.Disconnected()
	s.context.Reset()

	s.metrics.SessionsConnected.Dec()
	s.log.Info("session disconnected")
	s.fire(Event{Type: EventDisconnected, Session: s})
}

// suspended is called by the dispatcher when an event set stays
// suspended. Events of a connection that is already gone are dropped.
func (s *Session) suspended(conn jdi.Connection, ev *jdi.Event) {
	s.mu.Lock()
	live := s.conn == conn
	s.mu.Unlock()
	if !live {
		return
	}

	if ev != nil {
		switch {
		case ev.Kind.Locatable():
			s.context.SetLocation(ev.Thread, ev.Location, true)
		case ev.Kind == jdi.EventClassPrepare, ev.Kind == jdi.EventThreadStart, ev.Kind == jdi.EventThreadDeath:
			s.context.SetThread(ev.Thread, true)
		}
	}
	s.fire(Event{Type: EventSuspended, Session: s, VMEvent: ev})
}

// ResumeVM resumes every debuggee thread. The context is cleared before
// listeners hear RESUMING so none of them sees a stale location.
func (s *Session) ResumeVM() error {
	conn := s.Connection()
	if conn == nil {
		return ErrNotConnected
	}
	s.context.Reset()
	s.fire(Event{Type: EventResuming, Session: s})
	if err := conn.VM().Resume(); err != nil {
		return fmt.Errorf("resuming vm: %w", err)
	}
	return nil
}

// SuspendVM suspends every debuggee thread. The VM suspend count is kept
// apart from thread counts, so the call is made even when threads are
// already suspended.
func (s *Session) SuspendVM() error {
	conn := s.Connection()
	if conn == nil {
		return ErrNotConnected
	}
	if err := conn.VM().Suspend(); err != nil {
		return fmt.Errorf("suspending vm: %w", err)
	}
	s.fire(Event{Type: EventSuspended, Session: s})
	return nil
}

// Close ends the life of the session. A connected session cannot be
// closed.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.conn != nil {
		s.mu.Unlock()
		return ErrConnected
	}
	s.closed = true
	s.mu.Unlock()

	s.fire(Event{Type: EventClosing, Session: s})
	return nil
}

// IsClosed reports whether Close has been called.
func (s *Session) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// AddListener registers l and tells it about the current state: it gets
// OPENED, then CONNECTED if a debuggee is attached. The returned function
// removes l, which then gets DISCONNECTED if still connected and finally
// CLOSING.
func (s *Session) AddListener(l Listener) (remove func()) {
	s.lmu.Lock()
	s.nextID++
	id := s.nextID
	listeners := make([]listenerEntry, 0, len(s.listeners)+1)
	listeners = append(listeners, s.listeners...)
	s.listeners = append(listeners, listenerEntry{id: id, listener: l})
	s.lmu.Unlock()

	s.notify(l, Event{Type: EventOpened, Session: s})
	if s.IsConnected() {
		s.notify(l, Event{Type: EventConnected, Session: s})
	}

	var once sync.Once
	return func() {
		once.Do(func() { s.removeListener(id, l) })
	}
}

func (s *Session) removeListener(id uint64, l Listener) {
	s.lmu.Lock()
	listeners := make([]listenerEntry, 0, len(s.listeners))
	for _, e := range s.listeners {
		if e.id != id {
			listeners = append(listeners, e)
		}
	}
	s.listeners = listeners
	s.lmu.Unlock()

	if s.IsConnected() {
		s.notify(l, Event{Type: EventDisconnected, Session: s})
	}
	s.notify(l, Event{Type: EventClosing, Session: s})
}

func (s *Session) fire(e Event) {
	s.metrics.SessionEvents.WithLabelValues(e.Type.String()).Inc()

	s.lmu.Lock()
	listeners := s.listeners
	s.lmu.Unlock()

	for _, entry := range listeners {
		s.notify(entry.listener, e)
	}
}

func (s *Session) notify(l Listener, e Event) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Warn("session listener panicked", zap.Any("panic", r), zap.Stringer("event", e.Type))
		}
	}()
	l.SessionEvent(e)
}
