package jditest

import (
	"sync"
	"time"

	"github.com/dshills/jswat/internal/jdi"
)

// VM is an in-memory jdi.VirtualMachine.
type VM struct {
	name string

	mu       sync.Mutex
	cond     *sync.Cond
	classes  []*Class
	threads  []*Thread
	requests []*Request
	pending  []*EventSet
	current  *EventSet
	inflight int
	closed   bool
	drained  bool
	nextID   uint64

	suspendCalls int
	resumeCalls  int
	disposed     bool
	exited       bool
	exitCode     int
}

// NewVM creates an empty running VM.
func NewVM(name string) *VM {
	vm := &VM{name: name}
	vm.cond = sync.NewCond(&vm.mu)
	return vm
}

// Name implements jdi.VirtualMachine.
func (vm *VM) Name() string { return vm.name }

// Suspend implements jdi.VirtualMachine.
func (vm *VM) Suspend() error {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	if vm.closed {
		return jdi.ErrVMDisconnected
	}
	vm.suspendCalls++
	for _, t := range vm.threads {
		t.suspend++
	}
	return nil
}

// Resume implements jdi.VirtualMachine.
func (vm *VM) Resume() error {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	if vm.closed {
		return jdi.ErrVMDisconnected
	}
	vm.resumeCalls++
	for _, t := range vm.threads {
		if t.suspend > 0 {
			t.suspend--
		}
	}
	return nil
}

// AllThreads implements jdi.VirtualMachine.
func (vm *VM) AllThreads() ([]jdi.ThreadReference, error) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	if vm.closed {
		return nil, jdi.ErrVMDisconnected
	}
	out := make([]jdi.ThreadReference, 0, len(vm.threads))
	for _, t := range vm.threads {
		out = append(out, t)
	}
	return out, nil
}

// ClassesByName implements jdi.VirtualMachine.
func (vm *VM) ClassesByName(name string) ([]jdi.ReferenceType, error) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	if vm.closed {
		return nil, jdi.ErrVMDisconnected
	}
	var out []jdi.ReferenceType
	for _, c := range vm.classes {
		if c.name == name {
			out = append(out, c)
		}
	}
	return out, nil
}

// AllClasses implements jdi.VirtualMachine.
func (vm *VM) AllClasses() ([]jdi.ReferenceType, error) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	if vm.closed {
		return nil, jdi.ErrVMDisconnected
	}
	out := make([]jdi.ReferenceType, 0, len(vm.classes))
	for _, c := range vm.classes {
		out = append(out, c)
	}
	return out, nil
}

// EventQueue implements jdi.VirtualMachine.
func (vm *VM) EventQueue() jdi.EventQueue { return queue{vm} }

// EventRequestManager implements jdi.VirtualMachine.
func (vm *VM) EventRequestManager() jdi.EventRequestManager { return requestManager{vm} }

// Dispose implements jdi.VirtualMachine.
func (vm *VM) Dispose() error {
	vm.mu.Lock()
	if vm.closed {
		vm.mu.Unlock()
		return jdi.ErrVMDisconnected
	}
	vm.disposed = true
	vm.mu.Unlock()
	vm.Disconnect()
	return nil
}

// Exit implements jdi.VirtualMachine.
func (vm *VM) Exit(code int) error {
	vm.mu.Lock()
	if vm.closed {
		vm.mu.Unlock()
		return jdi.ErrVMDisconnected
	}
	vm.exited = true
	vm.exitCode = code
	vm.mu.Unlock()
	vm.Disconnect()
	return nil
}

// Disposed reports whether Dispose was called.
func (vm *VM) Disposed() bool {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return vm.disposed
}

// Exited reports whether Exit was called, and with which code.
func (vm *VM) Exited() (bool, int) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return vm.exited, vm.exitCode
}

// SuspendCalls returns how many times Suspend succeeded.
func (vm *VM) SuspendCalls() int {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return vm.suspendCalls
}

// ResumeCalls returns how many times Resume succeeded.
func (vm *VM) ResumeCalls() int {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return vm.resumeCalls
}

// Requests returns the live requests of the given kind.
func (vm *VM) Requests(kind jdi.RequestKind) []*Request {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	var out []*Request
	for _, r := range vm.requests {
		if r.kind == kind {
			out = append(out, r)
		}
	}
	return out
}

// RequestCount returns the number of live requests of every kind.
func (vm *VM) RequestCount() int {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return len(vm.requests)
}

// AddThread creates a running thread without posting an event.
func (vm *VM) AddThread(name string) *Thread {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return vm.addThread(name)
}

func (vm *VM) addThread(name string) *Thread {
	vm.nextID++
	t := &Thread{vm: vm, id: vm.nextID, name: name}
	vm.threads = append(vm.threads, t)
	return t
}

// StartThread creates a thread and reports it to thread-start requests.
func (vm *VM) StartThread(name string) (*Thread, *EventSet) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	t := vm.addThread(name)
	var events []*jdi.Event
	for _, r := range vm.requests {
		if r.kind == jdi.RequestThreadStart && r.accepts(t, "") {
			events = append(events, &jdi.Event{Kind: jdi.EventThreadStart, Request: r, VM: vm, Thread: t})
		}
	}
	return t, vm.post(events, t)
}

// EndThread kills t and reports it to thread-death requests.
func (vm *VM) EndThread(t *Thread) *EventSet {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	var events []*jdi.Event
	for _, r := range vm.requests {
		if r.kind == jdi.RequestThreadDeath && r.accepts(t, "") {
			events = append(events, &jdi.Event{Kind: jdi.EventThreadDeath, Request: r, VM: vm, Thread: t})
		}
	}
	set := vm.post(events, t)
	for i, live := range vm.threads {
		if live == t {
			vm.threads = append(vm.threads[:i], vm.threads[i+1:]...)
			break
		}
	}
	t.dead = true
	return set
}

// DefineClass loads c without preparing it.
func (vm *VM) DefineClass(c *Class) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	vm.define(c)
}

func (vm *VM) define(c *Class) {
	if c.vm == nil {
		c.vm = vm
		c.loaded = true
		vm.classes = append(vm.classes, c)
	}
}

// LoadClass loads and prepares c, reporting it to class-prepare requests.
// The event thread is the first live thread, if any.
func (vm *VM) LoadClass(c *Class) *EventSet {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	vm.define(c)
	c.prepared = true
	var thread *Thread
	if len(vm.threads) > 0 {
		thread = vm.threads[0]
	}
	var events []*jdi.Event
	for _, r := range vm.requests {
		if r.kind == jdi.RequestClassPrepare && r.accepts(thread, c.name) {
			events = append(events, &jdi.Event{Kind: jdi.EventClassPrepare, Request: r, VM: vm, Thread: thread, Type: c})
		}
	}
	return vm.post(events, thread)
}

// UnloadClass removes c and reports it to class-unload requests.
func (vm *VM) UnloadClass(c *Class) *EventSet {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	for i, live := range vm.classes {
		if live == c {
			vm.classes = append(vm.classes[:i], vm.classes[i+1:]...)
			break
		}
	}
	c.loaded = false
	var events []*jdi.Event
	for _, r := range vm.requests {
		if r.kind == jdi.RequestClassUnload && r.accepts(nil, c.name) {
			events = append(events, &jdi.Event{Kind: jdi.EventClassUnload, Request: r, VM: vm, ClassName: c.name})
		}
	}
	return vm.post(events, nil)
}

// HitLine moves t to the first location on line in c and reports it to
// matching breakpoint requests. It returns nil when nothing matched.
func (vm *VM) HitLine(t *Thread, c *Class, line int) *EventSet {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	loc := c.Location(line)
	if loc == nil {
		return nil
	}
	t.enter(loc)
	var events []*jdi.Event
	for _, r := range vm.requests {
		if r.kind == jdi.RequestBreakpoint && r.loc == loc && r.accepts(t, c.name) {
			events = append(events, &jdi.Event{Kind: jdi.EventBreakpoint, Request: r, VM: vm, Thread: t, Location: loc})
		}
	}
	return vm.post(events, t)
}

// Throw reports an exception of type exc raised by t at loc.
func (vm *VM) Throw(t *Thread, exc *Class, loc *Location, caught bool) *EventSet {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	t.enter(loc)
	var catchLoc jdi.Location
	if caught {
		catchLoc = loc
	}
	var events []*jdi.Event
	for _, r := range vm.requests {
		if r.kind != jdi.RequestException || !r.accepts(t, loc.class.name) {
			continue
		}
		if (caught && !r.caught) || (!caught && !r.uncaught) {
			continue
		}
		if r.refType != nil && !vm.isSubclass(exc, r.refType.name) {
			continue
		}
		events = append(events, &jdi.Event{
			Kind: jdi.EventException, Request: r, VM: vm, Thread: t,
			Location: loc, ExceptionType: exc, CatchLocation: catchLoc,
		})
	}
	return vm.post(events, t)
}

func (vm *VM) isSubclass(c *Class, name string) bool {
	seen := make(map[string]bool)
	for c != nil && !seen[c.name] {
		if c.name == name {
			return true
		}
		seen[c.name] = true
		var next *Class
		for _, live := range vm.classes {
			if live.name == c.super {
				next = live
				break
			}
		}
		c = next
	}
	return false
}

// AccessField reports a read of field in c by t at loc.
func (vm *VM) AccessField(t *Thread, c *Class, field string, loc *Location) *EventSet {
	return vm.touchField(jdi.RequestAccessWatchpoint, jdi.EventAccessWatchpoint, t, c, field, loc)
}

// ModifyField reports a write of field in c by t at loc.
func (vm *VM) ModifyField(t *Thread, c *Class, field string, loc *Location) *EventSet {
	return vm.touchField(jdi.RequestModificationWatchpoint, jdi.EventModificationWatchpoint, t, c, field, loc)
}

func (vm *VM) touchField(kind jdi.RequestKind, evKind jdi.EventKind, t *Thread, c *Class, field string, loc *Location) *EventSet {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	t.enter(loc)
	var events []*jdi.Event
	for _, r := range vm.requests {
		if r.kind == kind && r.field != nil && r.field.class == c && r.field.name == field && r.accepts(t, c.name) {
			events = append(events, &jdi.Event{Kind: evKind, Request: r, VM: vm, Thread: t, Location: loc, Field: r.field})
		}
	}
	return vm.post(events, t)
}

// Start posts the VM start event with every thread suspended, the way a
// launched VM reports itself.
func (vm *VM) Start(t *Thread) *EventSet {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return vm.postSet(&EventSet{
		vm:     vm,
		events: []*jdi.Event{{Kind: jdi.EventVMStart, VM: vm, Thread: t}},
		policy: jdi.SuspendAll,
		thread: t,
	})
}

// Post queues an arbitrary event set.
func (vm *VM) Post(policy jdi.SuspendPolicy, events ...*jdi.Event) *EventSet {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	var t *Thread
	for _, ev := range events {
		if ev.VM == nil {
			ev.VM = vm
		}
		if th, ok := ev.Thread.(*Thread); ok && t == nil {
			t = th
		}
	}
	return vm.postSet(&EventSet{vm: vm, events: events, policy: policy, thread: t})
}

// Disconnect closes the VM. A disconnect event is queued, after which the
// queue reports jdi.ErrVMDisconnected.
func (vm *VM) Disconnect() {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	if vm.closed {
		return
	}
	set := &EventSet{
		vm:     vm,
		events: []*jdi.Event{{Kind: jdi.EventVMDisconnect, VM: vm}},
		policy: jdi.SuspendNone,
	}
	vm.postSet(set)
	vm.closed = true
}

// Closed reports whether the VM has disconnected.
func (vm *VM) Closed() bool {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return vm.closed
}

// WaitIdle blocks until every posted event set has been consumed and the
// consumer is back waiting on the queue. It reports false on timeout.
func (vm *VM) WaitIdle(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		vm.mu.Lock()
		idle := vm.inflight == 0
		vm.mu.Unlock()
		if idle {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(time.Millisecond)
	}
}

// post suspends according to the strictest request policy and queues the
// events. Callers hold vm.mu.
func (vm *VM) post(events []*jdi.Event, t *Thread) *EventSet {
	if len(events) == 0 {
		return nil
	}
	policy := jdi.SuspendNone
	for _, ev := range events {
		if r, ok := ev.Request.(*Request); ok && r.policy < policy {
			policy = r.policy
		}
	}
	return vm.postSet(&EventSet{vm: vm, events: events, policy: policy, thread: t})
}

func (vm *VM) postSet(set *EventSet) *EventSet {
	if vm.closed {
		return nil
	}
	set.resumed = make(chan struct{})
	switch set.policy {
	case jdi.SuspendAll:
		for _, t := range vm.threads {
			t.suspend++
		}
	case jdi.SuspendEventThread:
		if set.thread != nil {
			set.thread.suspend++
		}
	}
	vm.pending = append(vm.pending, set)
	vm.inflight++
	vm.cond.Broadcast()
	return set
}

type queue struct {
	vm *VM
}

func (q queue) Remove() (jdi.EventSet, error) {
	vm := q.vm
	vm.mu.Lock()
	defer vm.mu.Unlock()
	if vm.current != nil {
		vm.current = nil
		vm.inflight--
	}
	for len(vm.pending) == 0 {
		if vm.drained {
			return nil, jdi.ErrVMDisconnected
		}
		vm.cond.Wait()
	}
	set := vm.pending[0]
	vm.pending = vm.pending[1:]
	vm.current = set
	for _, ev := range set.events {
		if ev.Kind == jdi.EventVMDisconnect {
			vm.drained = true
		}
	}
	return set, nil
}

// EventSet is a fake event set.
type EventSet struct {
	vm      *VM
	events  []*jdi.Event
	policy  jdi.SuspendPolicy
	thread  *Thread
	once    sync.Once
	resumed chan struct{}
}

// Events implements jdi.EventSet.
func (s *EventSet) Events() []*jdi.Event { return s.events }

// SuspendPolicy implements jdi.EventSet.
func (s *EventSet) SuspendPolicy() jdi.SuspendPolicy { return s.policy }

// Resume implements jdi.EventSet.
func (s *EventSet) Resume() error {
	s.vm.mu.Lock()
	defer s.vm.mu.Unlock()
	if s.vm.closed {
		return jdi.ErrVMDisconnected
	}
	s.once.Do(func() {
		switch s.policy {
		case jdi.SuspendAll:
			for _, t := range s.vm.threads {
				if t.suspend > 0 {
					t.suspend--
				}
			}
		case jdi.SuspendEventThread:
			if s.thread != nil && s.thread.suspend > 0 {
				s.thread.suspend--
			}
		}
		close(s.resumed)
	})
	return nil
}

// Resumed reports whether Resume was called on the set.
func (s *EventSet) Resumed() bool {
	select {
	case <-s.resumed:
		return true
	default:
		return false
	}
}

// Connection is a fake jdi.Connection.
type Connection struct {
	vm     *VM
	remote bool

	mu     sync.Mutex
	closed bool
}

// NewConnection wraps vm. A remote connection models an attached debuggee.
func NewConnection(vm *VM, remote bool) *Connection {
	return &Connection{vm: vm, remote: remote}
}

// VM implements jdi.Connection.
func (c *Connection) VM() jdi.VirtualMachine { return c.vm }

// IsRemote implements jdi.Connection.
func (c *Connection) IsRemote() bool { return c.remote }

// IsConnected implements jdi.Connection.
func (c *Connection) IsConnected() bool {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	return !closed && !c.vm.Closed()
}

// Disconnect implements jdi.Connection.
func (c *Connection) Disconnect() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}
