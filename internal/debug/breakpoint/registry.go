package breakpoint

import (
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/dshills/jswat/internal/event/dispatch"
	"github.com/dshills/jswat/internal/jdi"
	"github.com/dshills/jswat/internal/logging"
	"github.com/dshills/jswat/internal/metrics"
)

// Registry owns the breakpoints of one session. It numbers them, keeps
// them in a group tree, resolves them against the connected debuggee and
// decides, for each debuggee event they requested, whether to stop.
type Registry struct {
	log     *logging.Logger
	metrics *metrics.Metrics
	root    *Group

	mu         sync.Mutex
	vm         jdi.VirtualMachine
	unregister func()
	next       int
	byNumber   map[int]*Breakpoint
	listeners  []listenerEntry
	nextID     uint64
}

type listenerEntry struct {
	id uint64
	l  Listener
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the registry logger.
func WithLogger(l *logging.Logger) Option {
	return func(r *Registry) {
		r.log = l.WithComponent("breakpoints")
	}
}

// WithMetrics sets the collectors updated by the registry.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Registry) {
		r.metrics = m
	}
}

// NewRegistry creates an empty registry with a root group named "Default".
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		log:      logging.Nop(),
		metrics:  metrics.New(nil),
		byNumber: make(map[int]*Breakpoint),
	}
	r.root = newGroup(r, "Default", nil)
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Root returns the root group.
func (r *Registry) Root() *Group {
	return r.root
}

// AddListener registers l for registry notifications. The returned
// function removes it.
func (r *Registry) AddListener(l Listener) (remove func()) {
	r.mu.Lock()
	r.nextID++
	id := r.nextID
	r.listeners = append(r.listeners, listenerEntry{id: id, l: l})
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		for i, e := range r.listeners {
			if e.id == id {
				r.listeners = append(r.listeners[:i:i], r.listeners[i+1:]...)
				return
			}
		}
	}
}

// Add registers b in group g, or in the root group when g is nil, and
// resolves it if a debuggee is connected. Resolution failures are
// reported to listeners as EventError.
func (r *Registry) Add(b *Breakpoint, g *Group) error {
	if g == nil {
		g = r.root
	}
	if g.registry() != r {
		return fmt.Errorf("group %q: %w", g.Name(), ErrNotMember)
	}

	b.mu.Lock()
	if b.reg != nil {
		b.mu.Unlock()
		return fmt.Errorf("%w: breakpoint already registered", ErrInvalidState)
	}
	r.mu.Lock()
	r.next++
	n := r.next
	r.byNumber[n] = b
	r.mu.Unlock()
	b.reg, b.group, b.number = r, g, n
	b.mu.Unlock()

	g.addBreakpoint(b)
	r.log.Debug("breakpoint added", zap.Int("number", n), zap.String("description", b.Description()))
	r.fire(Event{Type: EventAdded, Breakpoint: b})

	if err := r.resolve(b); err != nil {
		r.fire(Event{Type: EventError, Breakpoint: b, Err: err})
	}
	return nil
}

// Remove deletes b's requests and drops it from the registry.
func (r *Registry) Remove(b *Breakpoint) error {
	b.mu.Lock()
	if b.reg != r {
		b.mu.Unlock()
		return ErrNotMember
	}
	was := b.live != nil
	b.deleteAllLocked()
	g, n := b.group, b.number
	b.reg, b.group = nil, nil
	b.mu.Unlock()

	g.removeBreakpoint(b)
	r.mu.Lock()
	delete(r.byNumber, n)
	r.mu.Unlock()

	if was {
		r.resolvedGauge(-1)
	}
	r.log.Debug("breakpoint removed", zap.Int("number", n))
	r.fire(Event{Type: EventRemoved, Breakpoint: b})
	return nil
}

// AddGroup creates a group under parent, or under the root when parent
// is nil.
func (r *Registry) AddGroup(name string, parent *Group) (*Group, error) {
	if parent == nil {
		parent = r.root
	}
	if parent.registry() != r {
		return nil, fmt.Errorf("group %q: %w", parent.Name(), ErrNotMember)
	}
	g := newGroup(r, name, parent)
	parent.addGroup(g)
	return g, nil
}

// RemoveGroup removes g with every group and breakpoint beneath it. A
// breakpoint that cannot be removed does not stop the others; the
// failures are returned together.
func (r *Registry) RemoveGroup(g *Group) error {
	if g == r.root {
		return ErrRootGroup
	}
	if g.registry() != r {
		return fmt.Errorf("group %q: %w", g.Name(), ErrNotMember)
	}
	var result *multierror.Error
	for _, b := range g.descendants() {
		if err := r.Remove(b); err != nil {
			result = multierror.Append(result, fmt.Errorf("breakpoint %d: %w", b.Number(), err))
		}
	}
	g.Parent().removeGroup(g)
	for _, sub := range allGroups(g) {
		sub.mu.Lock()
		sub.reg = nil
		sub.mu.Unlock()
	}
	return result.ErrorOrNil()
}

// Breakpoints returns every breakpoint, walking groups breadth first.
func (r *Registry) Breakpoints() []*Breakpoint {
	return r.root.descendants()
}

// Groups returns every group, the root first.
func (r *Registry) Groups() []*Group {
	return allGroups(r.root)
}

// Lookup finds a breakpoint by number.
func (r *Registry) Lookup(number int) (*Breakpoint, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.byNumber[number]
	return b, ok
}

// EnsureDefaultUncaught returns the breakpoint that stops on any uncaught
// exception, creating it in the root group if there is none.
func (r *Registry) EnsureDefaultUncaught() (*Breakpoint, error) {
	for _, b := range r.Breakpoints() {
		if s, ok := b.Spec().(ExceptionSpec); ok && s.Class.IsZero() && s.Uncaught {
			return b, nil
		}
	}
	b := newBreakpoint(ExceptionSpec{Uncaught: true})
	if err := r.Add(b, nil); err != nil {
		return nil, err
	}
	return b, nil
}

// IsConnected reports whether a debuggee is attached to the registry.
func (r *Registry) IsConnected() bool {
	return r.currentVM() != nil
}

// Connected attaches the registry to vm. It registers with d, if given,
// at breakpoint priority and resolves every enabled breakpoint.
func (r *Registry) Connected(vm jdi.VirtualMachine, d *dispatch.Dispatcher) {
	r.mu.Lock()
	r.vm = vm
	if d != nil {
		r.unregister = d.Register(r, dispatch.PriorityBreakpoint)
	}
	r.mu.Unlock()

	r.log.Debug("resolving breakpoints", zap.String("vm", vm.Name()))
	for _, b := range r.Breakpoints() {
		if err := r.resolve(b); err != nil {
			r.fire(Event{Type: EventError, Breakpoint: b, Err: err})
		}
	}
}

// Disconnected detaches the registry. Requests died with the debuggee,
// so every breakpoint simply forgets them.
func (r *Registry) Disconnected() {
	r.mu.Lock()
	r.vm = nil
	unregister := r.unregister
	r.unregister = nil
	r.mu.Unlock()

	if unregister != nil {
		unregister()
	}
	for _, b := range r.Breakpoints() {
		b.mu.Lock()
		was := b.live != nil
		b.forgetLocked()
		b.mu.Unlock()
		if was {
			r.resolvedGauge(-1)
			r.fire(Event{Type: EventUnresolved, Breakpoint: b})
		}
	}
}

// Resolve tries to resolve b against the connected debuggee.
func (r *Registry) Resolve(b *Breakpoint) error {
	b.mu.Lock()
	member := b.reg == r
	b.mu.Unlock()
	if !member {
		return ErrNotMember
	}
	return r.resolve(b)
}

// HandleEvent implements dispatch.Listener. Events for requests that no
// breakpoint owns are passed over with a resume vote.
func (r *Registry) HandleEvent(ev *jdi.Event) (bool, error) {
	if ev.Request == nil {
		return true, nil
	}
	b, ok := ev.Request.Property(requestProperty).(*Breakpoint)
	if !ok {
		return true, nil
	}

	b.mu.Lock()
	member := b.reg == r
	prepare := b.isPrepareRequestLocked(ev.Request)
	b.mu.Unlock()
	if !member {
		return true, nil
	}
	if prepare {
		return r.prepared(b, ev), nil
	}
	return r.hit(b, ev), nil
}

// prepared resolves b against a class it was waiting for. A failed
// resolution votes to keep the debuggee suspended so the error is seen
// where the class loaded.
func (r *Registry) prepared(b *Breakpoint, ev *jdi.Event) bool {
	if !b.IsEnabled() || ev.Type == nil {
		return true
	}
	ok, replaced, err := b.resolvePrepared(ev.VM, ev.Type)
	switch {
	case err != nil:
		r.metrics.Resolutions.WithLabelValues("error").Inc()
		r.fire(Event{Type: EventError, Breakpoint: b, VMEvent: ev, Err: err})
		return false
	case ok:
		r.metrics.Resolutions.WithLabelValues("resolved").Inc()
		if !replaced {
			r.resolvedGauge(1)
		}
		r.log.Debug("breakpoint resolved",
			zap.Int("number", b.Number()),
			zap.String("class", ev.Type.Name()),
			zap.Bool("replaced", replaced))
		r.fire(Event{Type: EventResolved, Breakpoint: b, VMEvent: ev})
	}
	return true
}

// hit counts a hit on b and reports whether the debuggee may resume.
func (r *Registry) hit(b *Breakpoint, ev *jdi.Event) bool {
	if !b.IsEnabled() {
		return true
	}

	b.mu.Lock()
	if !b.ownsLocked(ev.Request) || b.expiredLocked() || !b.threadMatchesLocked(ev) || b.ignoresLocked(ev) {
		b.mu.Unlock()
		return true
	}
	kind := b.spec.Kind().String()
	b.hitCount++
	r.metrics.BreakpointHits.WithLabelValues(kind).Inc()
	if b.skipCount > 0 && b.hitCount <= b.skipCount {
		b.mu.Unlock()
		return true
	}
	conditions := append([]Condition(nil), b.conditions...)
	monitors := append([]Monitor(nil), b.monitors...)
	group := b.group
	policy := b.policy
	b.mu.Unlock()

	if !r.satisfied(b, ev, conditions, group) {
		return true
	}

	r.metrics.BreakpointStops.WithLabelValues(kind).Inc()
	r.fire(Event{Type: EventStopped, Breakpoint: b, VMEvent: ev})
	r.perform(b, ev, monitors, group)

	if b.DeleteOnExpire() && b.IsExpired() {
		if err := r.Remove(b); err != nil {
			r.log.Debug("expired breakpoint already removed", zap.Error(err))
		}
	}
	return policy == jdi.SuspendNone
}

// satisfied evaluates b's conditions and then those of each enclosing
// group. A failing or panicking condition counts as unsatisfied.
func (r *Registry) satisfied(b *Breakpoint, ev *jdi.Event, conditions []Condition, g *Group) bool {
	for cur := g; cur != nil; cur = cur.Parent() {
		conditions = append(conditions, cur.Conditions()...)
	}
	for _, c := range conditions {
		ok, err := checkCondition(c, b, ev)
		if err != nil {
			r.fire(Event{Type: EventError, Breakpoint: b, VMEvent: ev, Err: fmt.Errorf("condition: %w", err)})
			return false
		}
		if !ok {
			return false
		}
	}
	return true
}

// perform runs b's monitors and then those of each enclosing group. A
// monitor that fails is reported and the rest still run.
func (r *Registry) perform(b *Breakpoint, ev *jdi.Event, monitors []Monitor, g *Group) {
	for cur := g; cur != nil; cur = cur.Parent() {
		monitors = append(monitors, cur.Monitors()...)
	}
	for _, m := range monitors {
		if m.RequiresThread() && (ev.Thread == nil || !ev.Thread.IsSuspended()) {
			r.fire(Event{Type: EventError, Breakpoint: b, VMEvent: ev, Err: ErrThreadNotSuspended})
			continue
		}
		if err := runMonitor(m, b, ev); err != nil {
			r.fire(Event{Type: EventError, Breakpoint: b, VMEvent: ev, Err: fmt.Errorf("monitor: %w", err)})
		}
	}
}

func checkCondition(c Condition, b *Breakpoint, ev *jdi.Event) (ok bool, err error) {
	defer func() {
		if p := recover(); p != nil {
			ok, err = false, fmt.Errorf("%w: %v", ErrPanicked, p)
		}
	}()
	return c.IsSatisfied(b, ev)
}

func runMonitor(m Monitor, b *Breakpoint, ev *jdi.Event) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: %v", ErrPanicked, p)
		}
	}()
	return m.Perform(b, ev)
}

func (b *Breakpoint) threadMatchesLocked(ev *jdi.Event) bool {
	if b.threadFilter == "" {
		return true
	}
	return ev.Thread != nil && ev.Thread.Name() == b.threadFilter
}

// ignoresLocked filters events the breakpoint never stops for. A thread
// being killed throws ThreadDeath, which is not worth an uncaught stop.
func (b *Breakpoint) ignoresLocked(ev *jdi.Event) bool {
	s, ok := b.spec.(ExceptionSpec)
	if !ok || !s.Class.IsZero() || !s.Uncaught || ev.ExceptionType == nil {
		return false
	}
	return ev.CatchLocation == nil && ev.ExceptionType.Name() == "java.lang.ThreadDeath"
}

// resolve installs b's requests if a debuggee is connected and b is
// effectively enabled.
func (r *Registry) resolve(b *Breakpoint) error {
	vm := r.currentVM()
	if vm == nil || !b.IsEnabled() {
		return nil
	}
	resolvedNow, err := b.resolveEagerly(vm)
	if err != nil {
		if jdi.IsDisconnected(err) {
			r.log.Debug("vm gone during resolution", zap.Int("number", b.Number()))
			return nil
		}
		r.metrics.Resolutions.WithLabelValues("error").Inc()
		return err
	}
	if !resolvedNow {
		if b.State() == PendingPrepare {
			r.metrics.Resolutions.WithLabelValues("pending").Inc()
		}
		return nil
	}
	r.metrics.Resolutions.WithLabelValues("resolved").Inc()
	r.resolvedGauge(1)
	r.fire(Event{Type: EventResolved, Breakpoint: b})
	return nil
}

// unresolve deletes every request of b.
func (r *Registry) unresolve(b *Breakpoint) {
	b.mu.Lock()
	was := b.live != nil
	b.deleteAllLocked()
	b.mu.Unlock()
	if was {
		r.resolvedGauge(-1)
		r.fire(Event{Type: EventUnresolved, Breakpoint: b})
	}
}

func (r *Registry) groupToggled(g *Group, enabled bool) {
	for _, b := range g.descendants() {
		if !enabled {
			r.unresolve(b)
			continue
		}
		if err := r.resolve(b); err != nil {
			r.fire(Event{Type: EventError, Breakpoint: b, Err: err})
		}
	}
}

func (r *Registry) currentVM() jdi.VirtualMachine {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.vm
}

func (r *Registry) resolvedGauge(delta float64) {
	r.metrics.BreakpointsActive.Add(delta)
}

// fire delivers e to every listener outside the registry lock. A
// panicking listener is logged and skipped.
func (r *Registry) fire(e Event) {
	r.mu.Lock()
	listeners := make([]Listener, len(r.listeners))
	for i, entry := range r.listeners {
		listeners[i] = entry.l
	}
	r.mu.Unlock()

	for _, l := range listeners {
		r.notify(l, e)
	}
}

func (r *Registry) notify(l Listener, e Event) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Error("breakpoint listener panicked",
				zap.Stringer("event", e.Type),
				zap.Any("panic", p))
		}
	}()
	l.BreakpointEvent(e)
}

func allGroups(g *Group) []*Group {
	var out []*Group
	queue := []*Group{g}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		out = append(out, cur)
		queue = append(queue, cur.Groups()...)
	}
	return out
}
