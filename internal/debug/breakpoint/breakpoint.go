package breakpoint

import (
	"fmt"
	"sync"

	"github.com/dshills/jswat/internal/jdi"
)

// requestProperty is the request property holding the owning breakpoint.
const requestProperty = "breakpoint"

// ResolutionState tracks whether a breakpoint has live requests.
type ResolutionState int

const (
	// Unresolved holds no requests.
	Unresolved ResolutionState = iota
	// PendingPrepare waits for a matching class to be prepared.
	PendingPrepare
	// Resolved holds one live subscription.
	Resolved
)

// String returns the state name.
func (s ResolutionState) String() string {
	switch s {
	case Unresolved:
		return "unresolved"
	case PendingPrepare:
		return "pending"
	case Resolved:
		return "resolved"
	default:
		return "unknown"
	}
}

// Breakpoint is a single breakpoint of any kind. The kind-specific data
// lives in Spec; everything else is shared.
//
// A breakpoint is created detached, configured, then added to a Registry,
// which numbers it and resolves it whenever a debuggee is connected.
type Breakpoint struct {
	mu sync.Mutex

	reg    *Registry
	group  *Group
	number int
	spec   Spec

	enabled        bool
	policy         jdi.SuspendPolicy
	classFilter    string
	threadFilter   string
	skipCount      int
	expireCount    int
	deleteOnExpire bool
	hitCount       int
	conditions     []Condition
	monitors       []Monitor

	// erm owns prepare and live. live is the single resolved subscription;
	// it may hold more than one request, such as both sides of a watch.
	erm     jdi.EventRequestManager
	prepare []jdi.EventRequest
	live    []jdi.EventRequest
}

func newBreakpoint(spec Spec) *Breakpoint {
	return &Breakpoint{spec: spec, enabled: true, policy: jdi.SuspendAll}
}

// Number returns the number assigned by the registry, 0 if detached.
func (b *Breakpoint) Number() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.number
}

// Kind returns the variant of the breakpoint.
func (b *Breakpoint) Kind() Kind {
	return b.spec.Kind()
}

// Spec returns the kind-specific payload.
func (b *Breakpoint) Spec() Spec {
	return b.spec
}

// Locatable returns the source position queries, for kinds that have one.
func (b *Breakpoint) Locatable() (Locatable, bool) {
	l, ok := b.spec.(Locatable)
	return l, ok
}

// Group returns the owning group, nil if detached.
func (b *Breakpoint) Group() *Group {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.group
}

// Description summarizes the breakpoint for display.
func (b *Breakpoint) Description() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	desc := b.spec.Describe()
	if b.classFilter != "" {
		desc += ", class " + b.classFilter
	}
	if b.threadFilter != "" {
		desc += ", thread " + b.threadFilter
	}
	return desc
}

// String implements fmt.Stringer.
func (b *Breakpoint) String() string {
	return fmt.Sprintf("#%d %s %s", b.Number(), b.Kind(), b.Description())
}

// Enabled returns the breakpoint's own enabled flag.
func (b *Breakpoint) Enabled() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.enabled
}

// IsEnabled reports whether the breakpoint and every ancestor group are
// enabled.
func (b *Breakpoint) IsEnabled() bool {
	b.mu.Lock()
	enabled, g := b.enabled, b.group
	b.mu.Unlock()
	return enabled && (g == nil || g.IsEnabled())
}

// SetEnabled changes the breakpoint's own flag. Disabling deletes every
// request. Enabling resolves again against a connected debuggee and
// returns the resolution error, if any.
func (b *Breakpoint) SetEnabled(enabled bool) error {
	b.mu.Lock()
	if b.enabled == enabled {
		b.mu.Unlock()
		return nil
	}
	b.enabled = enabled
	reg := b.reg
	b.mu.Unlock()

	if reg == nil {
		return nil
	}
	reg.fire(Event{Type: EventChanged, Breakpoint: b})
	if !enabled {
		reg.unresolve(b)
		return nil
	}
	if b.IsEnabled() {
		return reg.resolve(b)
	}
	return nil
}

// SuspendPolicy returns the user-selected suspend policy.
func (b *Breakpoint) SuspendPolicy() jdi.SuspendPolicy {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.policy
}

// SetSuspendPolicy changes the policy. The policy is baked into live
// requests, so the breakpoint must be disabled.
func (b *Breakpoint) SetSuspendPolicy(p jdi.SuspendPolicy) error {
	if p < jdi.SuspendAll || p > jdi.SuspendNone {
		return fmt.Errorf("%w: %d", ErrInvalidPolicy, int(p))
	}
	return b.update(true, func() { b.policy = p })
}

// ClassFilter returns the class filter pattern, or "".
func (b *Breakpoint) ClassFilter() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.classFilter
}

// SetClassFilter restricts events to classes matching pattern. Only
// exception, class and watch breakpoints accept a class filter, and the
// breakpoint must be disabled.
func (b *Breakpoint) SetClassFilter(pattern string) error {
	if pattern != "" && !supportsClassFilter(b.Kind()) {
		return fmt.Errorf("%w: class filter on %s breakpoint", ErrUnsupportedFilter, b.Kind())
	}
	if pattern != "" {
		if _, err := ParseReferenceSpec(pattern); err != nil {
			return err
		}
	}
	return b.update(true, func() { b.classFilter = pattern })
}

// ThreadFilter returns the thread name filter, or "".
func (b *Breakpoint) ThreadFilter() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.threadFilter
}

// SetThreadFilter restricts stops to threads with the given name. It is
// checked on every hit and may change at any time.
func (b *Breakpoint) SetThreadFilter(name string) error {
	if name != "" && !supportsThreadFilter(b.Kind()) {
		return fmt.Errorf("%w: thread filter on %s breakpoint", ErrUnsupportedFilter, b.Kind())
	}
	return b.update(false, func() { b.threadFilter = name })
}

// SkipCount returns the number of initial hits that do not stop.
func (b *Breakpoint) SkipCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.skipCount
}

// SetSkipCount sets the number of initial hits that do not stop.
func (b *Breakpoint) SetSkipCount(n int) error {
	if n < 0 {
		return fmt.Errorf("%w: negative skip count", ErrInvalidSpec)
	}
	return b.update(false, func() { b.skipCount = n })
}

// ExpireCount returns the hit count at which the breakpoint expires, 0
// for never.
func (b *Breakpoint) ExpireCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.expireCount
}

// SetExpireCount sets the hit count at which the breakpoint expires.
func (b *Breakpoint) SetExpireCount(n int) error {
	if n < 0 {
		return fmt.Errorf("%w: negative expire count", ErrInvalidSpec)
	}
	return b.update(false, func() { b.expireCount = n })
}

// DeleteOnExpire reports whether expiry removes the breakpoint.
func (b *Breakpoint) DeleteOnExpire() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.deleteOnExpire
}

// SetDeleteOnExpire sets whether expiry removes the breakpoint.
func (b *Breakpoint) SetDeleteOnExpire(del bool) {
	_ = b.update(false, func() { b.deleteOnExpire = del })
}

// HitCount returns the number of hits since creation or the last Reset.
func (b *Breakpoint) HitCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.hitCount
}

// IsExpired reports whether the breakpoint has reached its expire count.
func (b *Breakpoint) IsExpired() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.expiredLocked()
}

func (b *Breakpoint) expiredLocked() bool {
	return b.expireCount > 0 && b.hitCount >= b.expireCount
}

// IsSkipping reports whether the next hit would still be skipped.
func (b *Breakpoint) IsSkipping() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.skipCount > 0 && b.hitCount < b.skipCount
}

// Reset zeroes the hit count and deletes every request, leaving the
// breakpoint Unresolved until it is enabled or reconnected.
func (b *Breakpoint) Reset() {
	b.mu.Lock()
	b.hitCount = 0
	was := b.live != nil
	b.deleteAllLocked()
	reg := b.reg
	b.mu.Unlock()

	if reg != nil && was {
		reg.resolvedGauge(-1)
		reg.fire(Event{Type: EventUnresolved, Breakpoint: b})
	}
}

// AddCondition appends c to the conditions that must all hold to stop.
func (b *Breakpoint) AddCondition(c Condition) {
	b.mu.Lock()
	b.conditions = append(b.conditions, c)
	b.mu.Unlock()
}

// Conditions returns the conditions in evaluation order.
func (b *Breakpoint) Conditions() []Condition {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Condition(nil), b.conditions...)
}

// ClearConditions removes every condition.
func (b *Breakpoint) ClearConditions() {
	b.mu.Lock()
	b.conditions = nil
	b.mu.Unlock()
}

// AddMonitor appends m to the actions run on every stop. A monitor that
// requires a thread switches live requests to suspend all threads.
func (b *Breakpoint) AddMonitor(m Monitor) error {
	return b.changeMonitors(func() { b.monitors = append(b.monitors, m) })
}

// Monitors returns the monitors in run order.
func (b *Breakpoint) Monitors() []Monitor {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Monitor(nil), b.monitors...)
}

// ClearMonitors removes every monitor, dropping any forced suspension.
func (b *Breakpoint) ClearMonitors() error {
	return b.changeMonitors(func() { b.monitors = nil })
}

func (b *Breakpoint) changeMonitors(fn func()) error {
	b.mu.Lock()
	before := b.requestPolicyLocked()
	was := b.live != nil
	fn()
	err := b.reapplyPolicyLocked(before)
	dropped := was && b.live == nil
	reg := b.reg
	b.mu.Unlock()

	if reg != nil && dropped {
		reg.resolvedGauge(-1)
		reg.fire(Event{Type: EventUnresolved, Breakpoint: b})
		if err != nil {
			reg.fire(Event{Type: EventError, Breakpoint: b, Err: err})
		}
	}
	return err
}

// State returns the resolution state.
func (b *Breakpoint) State() ResolutionState {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch {
	case b.live != nil:
		return Resolved
	case len(b.prepare) > 0:
		return PendingPrepare
	default:
		return Unresolved
	}
}

// IsResolved reports whether the breakpoint holds a live subscription.
func (b *Breakpoint) IsResolved() bool {
	return b.State() == Resolved
}

// PendingPrepareCount returns the number of class-prepare subscriptions.
func (b *Breakpoint) PendingPrepareCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.prepare)
}

// RequestCount returns the number of requests in the live subscription.
func (b *Breakpoint) RequestCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.live)
}

// forcesSuspendLocked reports whether a monitor needs the thread stopped.
func (b *Breakpoint) forcesSuspendLocked() bool {
	for _, m := range b.monitors {
		if m.RequiresThread() {
			return true
		}
	}
	return false
}

// requestPolicyLocked is the policy given to live requests.
func (b *Breakpoint) requestPolicyLocked() jdi.SuspendPolicy {
	if b.forcesSuspendLocked() {
		return jdi.SuspendAll
	}
	return b.policy
}

// reapplyPolicyLocked updates live requests when the request policy
// changed. A request the VM no longer accepts is dropped.
func (b *Breakpoint) reapplyPolicyLocked(before jdi.SuspendPolicy) error {
	after := b.requestPolicyLocked()
	if after == before || b.live == nil {
		return nil
	}
	for _, r := range b.live {
		err := r.SetEnabled(false)
		if err == nil {
			err = r.SetSuspendPolicy(after)
		}
		if err == nil {
			err = r.SetEnabled(true)
		}
		if err != nil {
			b.deleteLiveLocked()
			if jdi.IsDisconnected(err) {
				return nil
			}
			return fmt.Errorf("apply suspend policy: %w", err)
		}
	}
	return nil
}

// update applies fn under the lock and fires EventChanged. When
// requiresDisabled is set, fn only runs on a disabled breakpoint.
func (b *Breakpoint) update(requiresDisabled bool, fn func()) error {
	b.mu.Lock()
	if requiresDisabled && b.enabled {
		b.mu.Unlock()
		return fmt.Errorf("%w: breakpoint must be disabled", ErrInvalidState)
	}
	fn()
	reg := b.reg
	b.mu.Unlock()

	if reg != nil {
		reg.fire(Event{Type: EventChanged, Breakpoint: b})
	}
	return nil
}
