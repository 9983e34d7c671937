package dispatch

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/dshills/jswat/internal/jdi"
	"github.com/dshills/jswat/internal/logging"
	"github.com/dshills/jswat/internal/metrics"
)

// Priority orders listener tiers. Lower values run first.
type Priority int

const (
	// PriorityStepper is for single-step handling, which must see events
	// before breakpoints do.
	PriorityStepper Priority = iota
	// PriorityBreakpoint is for the breakpoint registry.
	PriorityBreakpoint
	// PrioritySession is for the session itself.
	PrioritySession
	// PriorityNormal is for everything else.
	PriorityNormal
)

// String returns the priority name.
func (p Priority) String() string {
	switch p {
	case PriorityStepper:
		return "stepper"
	case PriorityBreakpoint:
		return "breakpoint"
	case PrioritySession:
		return "session"
	case PriorityNormal:
		return "normal"
	default:
		return "unknown"
	}
}

// Listener receives debuggee events on the dispatcher goroutine.
type Listener interface {
	// HandleEvent returns false to keep the debuggee suspended.
	HandleEvent(ev *jdi.Event) (resume bool, err error)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(ev *jdi.Event) (bool, error)

// HandleEvent implements Listener.
func (f ListenerFunc) HandleEvent(ev *jdi.Event) (bool, error) {
	return f(ev)
}

// Result represents the outcome of one listener invocation.
type Result struct {
	// Resume is the listener's vote; true for failed listeners.
	Resume bool

	// Err is the error returned by the listener, or a *PanicError.
	Err error

	// Panicked is true if the listener panicked.
	Panicked bool

	// PanicValue is the value passed to panic(), if Panicked is true.
	PanicValue any

	// PanicStack is the stack trace at the point of panic.
	PanicStack []byte

	// Duration is how long the listener took.
	Duration time.Duration
}

// IsError returns true if the listener returned an error.
func (r Result) IsError() bool {
	return r.Err != nil && !r.Panicked
}

// IsPanic returns true if the listener panicked.
func (r Result) IsPanic() bool {
	return r.Panicked
}

// PanicHandler is called when a listener panics.
type PanicHandler func(ev *jdi.Event, panicValue any, stack []byte)

// ErrorHandler is called when a listener fails, with either its error or
// a *PanicError.
type ErrorHandler func(ev *jdi.Event, err error)

type entry struct {
	id       uint64
	priority Priority
	kinds    map[jdi.EventKind]bool
	listener Listener
}

func (e entry) accepts(kind jdi.EventKind) bool {
	return e.kinds == nil || e.kinds[kind]
}

// Dispatcher routes the events of one connection to its listeners.
type Dispatcher struct {
	queue        jdi.EventQueue
	exec         *Executor
	log          *logging.Logger
	metrics      *metrics.Metrics
	observer     func(*jdi.Event)
	onSuspend    func(*jdi.Event)
	onDisconnect func()
	onError      ErrorHandler
	panicHandler PanicHandler

	mu      sync.RWMutex
	entries []entry
	nextID  uint64

	running        atomic.Bool
	disconnectOnce sync.Once
	done           chan struct{}
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(d *Dispatcher) {
		d.log = l.WithComponent("dispatch")
	}
}

// WithMetrics sets the metrics collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

// WithObserver sets a hook called for every event before any listener.
func WithObserver(fn func(*jdi.Event)) Option {
	return func(d *Dispatcher) {
		d.observer = fn
	}
}

// WithSuspendHandler sets the callback receiving the first event of a set
// that a listener chose to keep suspended.
func WithSuspendHandler(fn func(*jdi.Event)) Option {
	return func(d *Dispatcher) {
		d.onSuspend = fn
	}
}

// WithDisconnectHandler sets the terminal callback. It runs exactly once.
func WithDisconnectHandler(fn func()) Option {
	return func(d *Dispatcher) {
		d.onDisconnect = fn
	}
}

// WithErrorHandler sets the callback for listener failures.
func WithErrorHandler(fn ErrorHandler) Option {
	return func(d *Dispatcher) {
		d.onError = fn
	}
}

// WithPanicHandler sets the callback for listener panics.
func WithPanicHandler(h PanicHandler) Option {
	return func(d *Dispatcher) {
		d.panicHandler = h
	}
}

// New creates a dispatcher reading from queue. It does not start reading
// until Start is called.
func New(queue jdi.EventQueue, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		queue: queue,
		log:   logging.Nop(),
		done:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.metrics == nil {
		d.metrics = metrics.New(nil)
	}
	d.exec = NewExecutor(WithExecutorPanicHandler(d.panicHandler))
	return d
}

// Register adds l to the chain at priority p. With no kinds, l sees every
// event. The returned function removes the registration.
func (d *Dispatcher) Register(l Listener, p Priority, kinds ...jdi.EventKind) (unregister func()) {
	var filter map[jdi.EventKind]bool
	if len(kinds) > 0 {
		filter = make(map[jdi.EventKind]bool, len(kinds))
		for _, k := range kinds {
			filter[k] = true
		}
	}

	d.mu.Lock()
	d.nextID++
	id := d.nextID
	entries := make([]entry, 0, len(d.entries)+1)
	entries = append(entries, d.entries...)
	entries = append(entries, entry{id: id, priority: p, kinds: filter, listener: l})
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].priority < entries[j].priority
	})
	d.entries = entries
	d.mu.Unlock()

	return func() { d.unregister(id) }
}

func (d *Dispatcher) unregister(id uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	entries := make([]entry, 0, len(d.entries))
	for _, e := range d.entries {
		if e.id != id {
			entries = append(entries, e)
		}
	}
	d.entries = entries
}

// ListenerCount returns the number of registered listeners.
func (d *Dispatcher) ListenerCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.entries)
}

// Start launches the dispatcher goroutine.
func (d *Dispatcher) Start() error {
	if !d.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	go d.run()
	return nil
}

// Done is closed once the dispatcher has stopped and the disconnect
// handler has returned.
func (d *Dispatcher) Done() <-chan struct{} {
	return d.done
}

func (d *Dispatcher) run() {
	defer close(d.done)
	defer d.disconnected()

	d.log.Debug("dispatcher started")
	for {
		set, err := d.queue.Remove()
		if err != nil {
			if !jdi.IsDisconnected(err) {
				d.log.Warn("event queue read failed", zap.Error(err))
			}
			return
		}
		if d.process(set) {
			return
		}
	}
}

func (d *Dispatcher) disconnected() {
	d.disconnectOnce.Do(func() {
		d.log.Debug("dispatcher stopped")
		if d.onDisconnect != nil {
			d.onDisconnect()
		}
	})
}

// process routes one event set and reports whether it was terminal.
func (d *Dispatcher) process(set jdi.EventSet) (terminal bool) {
	start := time.Now()
	defer metrics.ObserveSince(d.metrics.EventSetDuration, start)

	resume := true
	var stopped *jdi.Event
	for _, ev := range set.Events() {
		if d.observer != nil {
			d.observer(ev)
		}
		d.metrics.EventsDispatched.WithLabelValues(ev.Kind.String()).Inc()
		if !d.deliver(ev) {
			resume = false
			if stopped == nil {
				stopped = ev
			}
		}
		if ev.Kind == jdi.EventVMDisconnect {
			terminal = true
		}
	}
	if terminal {
		return true
	}

	if resume {
		if err := set.Resume(); err != nil && !jdi.IsDisconnected(err) {
			d.log.Warn("resume event set failed", zap.Error(err))
		}
		return false
	}
	if d.onSuspend != nil {
		d.onSuspend(stopped)
	}
	return false
}

// deliver runs the listener chain for ev and returns the resume vote.
func (d *Dispatcher) deliver(ev *jdi.Event) bool {
	d.mu.RLock()
	entries := d.entries
	d.mu.RUnlock()

	for _, e := range entries {
		if !e.accepts(ev.Kind) {
			continue
		}
		res := d.exec.Execute(ev, e.listener)
		switch {
		case res.Panicked:
			d.metrics.ListenerFailures.WithLabelValues("panic").Inc()
			d.log.Error("listener panicked",
				zap.Stringer("event", ev),
				zap.Stringer("priority", e.priority),
				zap.Any("panic", res.PanicValue),
				zap.ByteString("stack", res.PanicStack))
			d.report(ev, res.Err)
		case res.Err != nil:
			if jdi.IsDisconnected(res.Err) {
				d.log.Debug("vm disconnected during delivery", zap.Stringer("event", ev))
				return true
			}
			d.metrics.ListenerFailures.WithLabelValues("error").Inc()
			d.log.Warn("listener failed",
				zap.Stringer("event", ev),
				zap.Stringer("priority", e.priority),
				zap.Error(res.Err))
			d.report(ev, res.Err)
		case !res.Resume:
			return false
		}
	}
	return true
}

func (d *Dispatcher) report(ev *jdi.Event, err error) {
	if d.onError == nil {
		return
	}
	defer func() {
		_ = recover()
	}()
	d.onError(ev, err)
}
