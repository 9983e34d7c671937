package breakpoint

import (
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/jswat/internal/jdi"
	"github.com/dshills/jswat/internal/jdi/jditest"
	"github.com/dshills/jswat/internal/metrics"
)

// recorder collects registry notifications.
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) BreakpointEvent(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventType, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

func (r *recorder) errors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []error
	for _, e := range r.events {
		if e.Type == EventError {
			out = append(out, e.Err)
		}
	}
	return out
}

func (r *recorder) reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}

type fixture struct {
	vm   *jditest.VM
	main *jditest.Thread
	reg  *Registry
	rec  *recorder
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		vm:  jditest.NewVM("test"),
		reg: NewRegistry(opts...),
		rec: &recorder{},
	}
	f.main = f.vm.AddThread("main")
	f.reg.AddListener(f.rec)
	f.reg.Connected(f.vm, nil)
	return f
}

// deliver hands every event of set to the registry, as the dispatcher
// would, and returns the combined resume vote.
func (f *fixture) deliver(t *testing.T, set *jditest.EventSet) bool {
	t.Helper()
	require.NotNil(t, set, "no request matched")
	resume := true
	for _, ev := range set.Events() {
		ok, err := f.reg.HandleEvent(ev)
		require.NoError(t, err)
		resume = resume && ok
	}
	return resume
}

// add returns a function that registers a freshly built breakpoint,
// so a factory call can feed it directly.
func (f *fixture) add(t *testing.T) func(*Breakpoint, error) *Breakpoint {
	t.Helper()
	return func(b *Breakpoint, err error) *Breakpoint {
		t.Helper()
		require.NoError(t, err)
		require.NoError(t, f.reg.Add(b, nil))
		return b
	}
}

func fooClass(opts ...jditest.ClassOption) *jditest.Class {
	opts = append([]jditest.ClassOption{jditest.Lines("run", 40, 41, 42)}, opts...)
	return jditest.NewClass("pkg.Foo", opts...)
}

func TestRegistry_LineResolvesOnClassPrepare(t *testing.T) {
	f := newFixture(t)
	b := f.add(t)(Factory{}.NewLine("pkg.Foo", 42))

	assert.Equal(t, PendingPrepare, b.State())
	assert.GreaterOrEqual(t, b.PendingPrepareCount(), 1)
	assert.Len(t, f.vm.Requests(jdi.RequestClassPrepare), 3)
	assert.False(t, b.IsResolved())

	foo := fooClass()
	assert.True(t, f.deliver(t, f.vm.LoadClass(foo)))
	assert.Equal(t, Resolved, b.State())
	assert.Equal(t, 1, b.RequestCount())

	reqs := f.vm.Requests(jdi.RequestBreakpoint)
	require.Len(t, reqs, 1)
	assert.Equal(t, 42, reqs[0].Location().LineNumber())
	assert.Equal(t, jdi.SuspendAll, reqs[0].SuspendPolicy())
	assert.True(t, reqs[0].IsEnabled())

	assert.False(t, f.deliver(t, f.vm.HitLine(f.main, foo, 42)))
	assert.Equal(t, 1, b.HitCount())
	assert.Equal(t, []EventType{EventAdded, EventResolved, EventStopped}, f.rec.types())
}

func TestRegistry_EagerResolutionAcrossClassLoaders(t *testing.T) {
	f := newFixture(t)
	first := jditest.NewClass("pkg.Foo", jditest.Loader(1), jditest.Lines("run", 10))
	second := jditest.NewClass("pkg.Foo", jditest.Loader(2), jditest.Lines("run", 42))
	f.vm.LoadClass(first)
	f.vm.LoadClass(second)

	b := f.add(t)(Factory{}.NewLine("pkg.Foo", 43))
	assert.Equal(t, PendingPrepare, b.State())
	errs := f.rec.errors()
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], ErrLineNotFound)

	b2 := f.add(t)(Factory{}.NewLine("pkg.Foo", 42))
	assert.True(t, b2.IsResolved())
	reqs := f.vm.Requests(jdi.RequestBreakpoint)
	require.Len(t, reqs, 1)
	assert.Same(t, second, reqs[0].Location().DeclaringType())
	assert.Len(t, f.rec.errors(), 1)
}

func TestRegistry_LaterClassLoaderCopyReplacesSubscription(t *testing.T) {
	m := metrics.New(nil)
	f := newFixture(t, WithMetrics(m))
	b := f.add(t)(Factory{}.NewLine("pkg.Foo", 42))
	first := fooClass(jditest.Loader(1))
	second := fooClass(jditest.Loader(2))

	assert.True(t, f.deliver(t, f.vm.LoadClass(first)))
	require.True(t, b.IsResolved())
	f.rec.reset()

	assert.True(t, f.deliver(t, f.vm.LoadClass(second)))
	assert.Equal(t, []EventType{EventResolved}, f.rec.types())
	assert.Equal(t, 1, b.RequestCount())
	reqs := f.vm.Requests(jdi.RequestBreakpoint)
	require.Len(t, reqs, 1)
	assert.Same(t, second, reqs[0].Location().DeclaringType())
	assert.Len(t, f.vm.Requests(jdi.RequestClassPrepare), 3, "still listening for other copies")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BreakpointsActive))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Resolutions.WithLabelValues("resolved")))

	assert.False(t, f.deliver(t, f.vm.HitLine(f.main, second, 42)))
	assert.Equal(t, 1, b.HitCount())
	assert.Nil(t, f.vm.HitLine(f.main, first, 42), "most recent copy wins")
}

func TestRegistry_FailedPrepareResolutionKeepsSuspended(t *testing.T) {
	f := newFixture(t)
	b := f.add(t)(Factory{}.NewLine("pkg.Foo", 99))
	f.rec.reset()

	assert.False(t, f.deliver(t, f.vm.LoadClass(fooClass())))
	assert.Equal(t, PendingPrepare, b.State())
	errs := f.rec.errors()
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], ErrLineNotFound)

	assert.True(t, f.deliver(t, f.vm.LoadClass(jditest.NewClass("pkg.Foo$Inner", jditest.Lines("call", 50)))),
		"nested misses stay silent and resume")
	assert.Len(t, f.rec.errors(), 1)
}

func TestRegistry_WildcardPrepareReportsEachDirectMatch(t *testing.T) {
	f := newFixture(t)
	b := f.add(t)(Factory{}.NewLine("pkg.*", 42))
	f.rec.reset()

	assert.False(t, f.deliver(t, f.vm.LoadClass(jditest.NewClass("pkg.Bar", jditest.Lines("go", 10)))))
	errs := f.rec.errors()
	require.Len(t, errs, 1)
	var re *ResolveError
	require.True(t, errors.As(errs[0], &re))
	assert.Equal(t, "pkg.Bar", re.Class)
	assert.Equal(t, PendingPrepare, b.State())

	assert.True(t, f.deliver(t, f.vm.LoadClass(fooClass())))
	assert.True(t, b.IsResolved())
}

func TestRegistry_ResolveReportsNotFoundOnlyWhenNothingResolves(t *testing.T) {
	f := newFixture(t)
	f.vm.LoadClass(fooClass(jditest.Loader(1)))
	f.vm.LoadClass(jditest.NewClass("pkg.Foo", jditest.Loader(2), jditest.Lines("run", 99)))

	b, err := Factory{}.NewLine("pkg.Foo", 99, Disabled())
	require.NoError(t, err)
	require.NoError(t, f.reg.Add(b, nil))
	require.NoError(t, b.SetEnabled(true))
	assert.True(t, b.IsResolved())

	missing, err := Factory{}.NewLine("pkg.Foo", 7, Disabled())
	require.NoError(t, err)
	require.NoError(t, f.reg.Add(missing, nil))
	err = missing.SetEnabled(true)
	require.Error(t, err)
	var re *ResolveError
	require.True(t, errors.As(err, &re))
	assert.True(t, re.NotFound())
	assert.Equal(t, "pkg.Foo", re.Class)
}

func TestRegistry_AbsentLineInfoAbortsScan(t *testing.T) {
	f := newFixture(t)
	f.vm.LoadClass(jditest.NewClass("pkg.Foo", jditest.NoLineInfo()))

	b, err := Factory{}.NewLine("pkg.Foo", 42, Disabled())
	require.NoError(t, err)
	require.NoError(t, f.reg.Add(b, nil))

	err = b.SetEnabled(true)
	require.Error(t, err)
	assert.ErrorIs(t, err, jdi.ErrAbsentInformation)
	var re *ResolveError
	require.True(t, errors.As(err, &re))
	assert.False(t, re.NotFound())
	assert.False(t, b.IsResolved())
}

func TestRegistry_WildcardScanSuspendsVM(t *testing.T) {
	f := newFixture(t)
	f.vm.LoadClass(fooClass())
	f.vm.LoadClass(jditest.NewClass("pkg.Bar", jditest.Lines("go", 42)))
	f.vm.LoadClass(jditest.NewClass("other.Baz", jditest.Lines("go", 42)))

	b := f.add(t)(Factory{}.NewLine("pkg.*", 42))
	assert.True(t, b.IsResolved())
	assert.Equal(t, 1, b.RequestCount(), "most recent resolution wins")
	assert.Len(t, f.vm.Requests(jdi.RequestBreakpoint), 1)
	assert.Equal(t, 1, f.vm.SuspendCalls())
	assert.Equal(t, 1, f.vm.ResumeCalls())
}

func TestRegistry_NestedClasses(t *testing.T) {
	t.Run("eager", func(t *testing.T) {
		f := newFixture(t)
		inner := jditest.NewClass("pkg.Foo$Inner", jditest.Lines("call", 50))
		f.vm.LoadClass(inner)
		f.vm.LoadClass(fooClass(jditest.Nested(inner)))

		b := f.add(t)(Factory{}.NewLine("pkg.Foo", 50))
		require.True(t, b.IsResolved())
		reqs := f.vm.Requests(jdi.RequestBreakpoint)
		require.Len(t, reqs, 1)
		assert.Same(t, inner, reqs[0].Location().DeclaringType())
	})

	t.Run("lazy", func(t *testing.T) {
		f := newFixture(t)
		inner := jditest.NewClass("pkg.Foo$Inner", jditest.Lines("call", 50))
		f.vm.LoadClass(fooClass(jditest.Nested(inner)))

		b := f.add(t)(Factory{}.NewLine("pkg.Foo", 50))
		assert.Equal(t, PendingPrepare, b.State())

		f.rec.reset()
		assert.True(t, f.deliver(t, f.vm.LoadClass(inner)))
		assert.True(t, b.IsResolved())
		assert.Equal(t, []EventType{EventResolved}, f.rec.types())
	})

	t.Run("nested miss is silent", func(t *testing.T) {
		f := newFixture(t)
		b := f.add(t)(Factory{}.NewLine("pkg.Foo", 77))
		f.rec.reset()

		f.deliver(t, f.vm.LoadClass(jditest.NewClass("pkg.Foo$Inner", jditest.Lines("call", 50))))
		assert.Equal(t, PendingPrepare, b.State())
		assert.Empty(t, f.rec.types())

		f.deliver(t, f.vm.LoadClass(fooClass()))
		assert.Equal(t, PendingPrepare, b.State())
		errs := f.rec.errors()
		require.Len(t, errs, 1)
		assert.ErrorIs(t, errs[0], ErrLineNotFound)
	})
}

func TestRegistry_SkipCount(t *testing.T) {
	f := newFixture(t)
	foo := fooClass()
	f.vm.LoadClass(foo)
	b := f.add(t)(Factory{}.NewLine("pkg.Foo", 42, WithSkipCount(2)))

	assert.True(t, f.deliver(t, f.vm.HitLine(f.main, foo, 42)))
	assert.True(t, f.deliver(t, f.vm.HitLine(f.main, foo, 42)))
	assert.False(t, f.deliver(t, f.vm.HitLine(f.main, foo, 42)))
	assert.Equal(t, 3, b.HitCount())
	assert.False(t, b.IsSkipping())
}

func TestRegistry_ExpireAndDelete(t *testing.T) {
	f := newFixture(t)
	foo := fooClass()
	f.vm.LoadClass(foo)
	b := f.add(t)(Factory{}.NewLine("pkg.Foo", 42, WithExpireCount(1), WithDeleteOnExpire()))
	require.True(t, b.IsResolved())

	assert.False(t, f.deliver(t, f.vm.HitLine(f.main, foo, 42)))
	assert.Nil(t, b.Group())
	assert.Empty(t, f.reg.Breakpoints())
	assert.Empty(t, f.vm.Requests(jdi.RequestBreakpoint))
	assert.Empty(t, f.vm.Requests(jdi.RequestClassPrepare))
	assert.False(t, b.IsResolved())
	assert.Contains(t, f.rec.types(), EventRemoved)

	_, ok := f.reg.Lookup(b.Number())
	assert.False(t, ok)
}

func TestRegistry_ExpireWithoutDelete(t *testing.T) {
	f := newFixture(t)
	foo := fooClass()
	f.vm.LoadClass(foo)
	b := f.add(t)(Factory{}.NewLine("pkg.Foo", 42, WithExpireCount(2)))

	assert.False(t, f.deliver(t, f.vm.HitLine(f.main, foo, 42)))
	assert.False(t, f.deliver(t, f.vm.HitLine(f.main, foo, 42)))
	assert.True(t, b.IsExpired())
	assert.True(t, f.deliver(t, f.vm.HitLine(f.main, foo, 42)))
	assert.Equal(t, 2, b.HitCount())
	assert.Len(t, f.reg.Breakpoints(), 1)
}

func TestBreakpoint_ResetIsIdempotent(t *testing.T) {
	f := newFixture(t)
	foo := fooClass()
	f.vm.LoadClass(foo)
	b := f.add(t)(Factory{}.NewLine("pkg.Foo", 42))
	f.deliver(t, f.vm.HitLine(f.main, foo, 42))
	require.Equal(t, 1, b.HitCount())
	f.rec.reset()

	for i := 0; i < 2; i++ {
		b.Reset()
		assert.Equal(t, 0, b.HitCount())
		assert.Equal(t, Unresolved, b.State())
		assert.Equal(t, 0, b.RequestCount())
		assert.Equal(t, 0, b.PendingPrepareCount())
		assert.Equal(t, 0, f.vm.RequestCount())
	}
	assert.Equal(t, []EventType{EventUnresolved}, f.rec.types())
}

func TestBreakpoint_ResolvedHoldsExactlyOneSubscription(t *testing.T) {
	f := newFixture(t)
	foo := fooClass()
	b := f.add(t)(Factory{}.NewLine("pkg.Foo", 42))

	check := func() {
		t.Helper()
		if b.IsResolved() {
			assert.Equal(t, 1, b.RequestCount())
			assert.Len(t, f.vm.Requests(jdi.RequestBreakpoint), 1)
		} else {
			assert.Equal(t, 0, b.RequestCount())
			assert.Empty(t, f.vm.Requests(jdi.RequestBreakpoint))
		}
	}

	check()
	f.deliver(t, f.vm.LoadClass(foo))
	check()
	require.NoError(t, f.reg.Resolve(b))
	check()
	require.NoError(t, b.SetEnabled(false))
	check()
	require.NoError(t, b.SetEnabled(true))
	assert.True(t, b.IsResolved())
	check()
	b.Reset()
	check()
}

func TestBreakpoint_SuspendPolicyRequiresDisabled(t *testing.T) {
	f := newFixture(t)
	foo := fooClass()
	f.vm.LoadClass(foo)
	b := f.add(t)(Factory{}.NewLine("pkg.Foo", 42))

	err := b.SetSuspendPolicy(jdi.SuspendNone)
	assert.ErrorIs(t, err, ErrInvalidState)

	require.NoError(t, b.SetEnabled(false))
	require.NoError(t, b.SetSuspendPolicy(jdi.SuspendNone))
	require.NoError(t, b.SetEnabled(true))

	reqs := f.vm.Requests(jdi.RequestBreakpoint)
	require.Len(t, reqs, 1)
	assert.Equal(t, jdi.SuspendNone, reqs[0].SuspendPolicy())

	f.rec.reset()
	assert.True(t, f.deliver(t, f.vm.HitLine(f.main, foo, 42)))
	assert.Equal(t, []EventType{EventStopped}, f.rec.types())

	require.NoError(t, b.SetEnabled(false))
	assert.ErrorIs(t, b.SetSuspendPolicy(jdi.SuspendPolicy(9)), ErrInvalidPolicy)
}

func TestBreakpoint_ThreadFilter(t *testing.T) {
	f := newFixture(t)
	foo := fooClass()
	f.vm.LoadClass(foo)
	worker := f.vm.AddThread("worker")
	b := f.add(t)(Factory{}.NewLine("pkg.Foo", 42, WithThreadFilter("worker")))

	assert.True(t, f.deliver(t, f.vm.HitLine(f.main, foo, 42)))
	assert.Equal(t, 0, b.HitCount())
	assert.False(t, f.deliver(t, f.vm.HitLine(worker, foo, 42)))
	assert.Equal(t, 1, b.HitCount())

	require.NoError(t, b.SetThreadFilter(""))
	assert.False(t, f.deliver(t, f.vm.HitLine(f.main, foo, 42)))
}

func TestBreakpoint_Conditions(t *testing.T) {
	f := newFixture(t)
	foo := fooClass()
	f.vm.LoadClass(foo)

	var seenHits []int
	b := f.add(t)(Factory{}.NewLine("pkg.Foo", 42, WithCondition(ConditionFunc(func(b *Breakpoint, ev *jdi.Event) (bool, error) {
		seenHits = append(seenHits, b.HitCount())
		return b.HitCount()%2 == 0, nil
	}))))

	assert.True(t, f.deliver(t, f.vm.HitLine(f.main, foo, 42)))
	assert.False(t, f.deliver(t, f.vm.HitLine(f.main, foo, 42)))
	assert.Equal(t, []int{1, 2}, seenHits, "hit count increments before conditions run")

	boom := errors.New("boom")
	b.AddCondition(ConditionFunc(func(*Breakpoint, *jdi.Event) (bool, error) { return false, boom }))
	require.Len(t, b.Conditions(), 2)
	f.rec.reset()
	f.deliver(t, f.vm.HitLine(f.main, foo, 42))
	f.deliver(t, f.vm.HitLine(f.main, foo, 42))
	errs := f.rec.errors()
	require.NotEmpty(t, errs)
	assert.ErrorIs(t, errs[0], boom)
	assert.NotContains(t, f.rec.types(), EventStopped)

	b.ClearConditions()
	assert.False(t, f.deliver(t, f.vm.HitLine(f.main, foo, 42)))
}

func TestGroup_EnableAndConditions(t *testing.T) {
	f := newFixture(t)
	foo := fooClass()
	f.vm.LoadClass(foo)

	outer, err := f.reg.AddGroup("outer", nil)
	require.NoError(t, err)
	inner, err := f.reg.AddGroup("inner", outer)
	require.NoError(t, err)

	b, err := Factory{}.NewLine("pkg.Foo", 42)
	require.NoError(t, err)
	require.NoError(t, f.reg.Add(b, inner))
	require.True(t, b.IsResolved())

	outer.SetEnabled(false)
	assert.True(t, b.Enabled())
	assert.False(t, b.IsEnabled())
	assert.False(t, b.IsResolved())
	assert.Empty(t, f.vm.Requests(jdi.RequestBreakpoint))

	outer.SetEnabled(true)
	assert.True(t, b.IsEnabled())
	assert.True(t, b.IsResolved())

	allow := false
	outer.AddCondition(ConditionFunc(func(*Breakpoint, *jdi.Event) (bool, error) { return allow, nil }))
	assert.True(t, f.deliver(t, f.vm.HitLine(f.main, foo, 42)))
	allow = true
	assert.False(t, f.deliver(t, f.vm.HitLine(f.main, foo, 42)))
	assert.Equal(t, 2, b.HitCount())

	assert.Equal(t, []*Group{f.reg.Root(), outer, inner}, f.reg.Groups())
	assert.Same(t, outer, inner.Parent())
}

func TestMonitors_RunOwnThenGroups(t *testing.T) {
	f := newFixture(t)
	foo := fooClass()
	f.vm.LoadClass(foo)
	g, err := f.reg.AddGroup("g", nil)
	require.NoError(t, err)

	var order []string
	record := func(name string) Monitor {
		return MonitorFunc(func(*Breakpoint, *jdi.Event) error {
			order = append(order, name)
			return nil
		})
	}
	require.NoError(t, f.reg.Root().AddMonitor(record("root")))
	require.NoError(t, g.AddMonitor(record("group")))

	b, err := Factory{}.NewLine("pkg.Foo", 42, WithMonitor(record("own")))
	require.NoError(t, err)
	require.NoError(t, f.reg.Add(b, g))

	f.deliver(t, f.vm.HitLine(f.main, foo, 42))
	assert.Equal(t, []string{"own", "group", "root"}, order)

	err = g.AddMonitor(StackMonitor{Fn: func(*Breakpoint, []jdi.StackFrame) error { return nil }})
	assert.ErrorIs(t, err, ErrRequiresThread)
}

func TestMonitors_PanicIsIsolated(t *testing.T) {
	f := newFixture(t)
	foo := fooClass()
	f.vm.LoadClass(foo)

	ran := false
	b := f.add(t)(Factory{}.NewLine("pkg.Foo", 42,
		WithExpireCount(1),
		WithDeleteOnExpire(),
		WithMonitor(MonitorFunc(func(*Breakpoint, *jdi.Event) error { panic("boom") })),
		WithMonitor(MonitorFunc(func(*Breakpoint, *jdi.Event) error {
			ran = true
			return nil
		}))))
	f.rec.reset()

	assert.False(t, f.deliver(t, f.vm.HitLine(f.main, foo, 42)))
	assert.True(t, ran)
	_, ok := f.reg.Lookup(b.Number())
	assert.False(t, ok)
	assert.Contains(t, f.rec.types(), EventRemoved)

	errs := f.rec.errors()
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], ErrPanicked)
	assert.Contains(t, errs[0].Error(), "boom")
}

func TestConditions_PanicCountsAsUnsatisfied(t *testing.T) {
	f := newFixture(t)
	foo := fooClass()
	f.vm.LoadClass(foo)

	performed := false
	b := f.add(t)(Factory{}.NewLine("pkg.Foo", 42,
		WithCondition(ConditionFunc(func(*Breakpoint, *jdi.Event) (bool, error) { panic("bad condition") })),
		WithMonitor(MonitorFunc(func(*Breakpoint, *jdi.Event) error {
			performed = true
			return nil
		}))))
	f.rec.reset()

	assert.True(t, f.deliver(t, f.vm.HitLine(f.main, foo, 42)))
	assert.False(t, performed)
	assert.Equal(t, 1, b.HitCount())
	assert.NotContains(t, f.rec.types(), EventStopped)

	errs := f.rec.errors()
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], ErrPanicked)
}

func TestMonitors_ThreadMonitorForcesSuspension(t *testing.T) {
	f := newFixture(t)
	foo := fooClass()
	f.vm.LoadClass(foo)
	b := f.add(t)(Factory{}.NewLine("pkg.Foo", 42, WithSuspendPolicy(jdi.SuspendNone)))

	reqs := f.vm.Requests(jdi.RequestBreakpoint)
	require.Len(t, reqs, 1)
	assert.Equal(t, jdi.SuspendNone, reqs[0].SuspendPolicy())

	var lines []int
	require.NoError(t, b.AddMonitor(StackMonitor{Fn: func(_ *Breakpoint, frames []jdi.StackFrame) error {
		for _, fr := range frames {
			lines = append(lines, fr.Location().LineNumber())
		}
		return nil
	}}))
	assert.Equal(t, jdi.SuspendAll, reqs[0].SuspendPolicy())
	assert.True(t, b.IsResolved())

	assert.True(t, f.deliver(t, f.vm.HitLine(f.main, foo, 42)), "user policy still resumes")
	assert.Equal(t, []int{42}, lines)

	require.NoError(t, b.ClearMonitors())
	assert.Equal(t, jdi.SuspendNone, reqs[0].SuspendPolicy())
}

func TestMonitors_ThreadMonitorSkippedWhenRunning(t *testing.T) {
	f := newFixture(t)
	foo := fooClass()
	f.vm.LoadClass(foo)

	called := false
	b := f.add(t)(Factory{}.NewLine("pkg.Foo", 42, WithMonitor(StackMonitor{Fn: func(*Breakpoint, []jdi.StackFrame) error {
		called = true
		return nil
	}})))
	require.True(t, b.IsResolved())

	reqs := f.vm.Requests(jdi.RequestBreakpoint)
	require.Len(t, reqs, 1)
	ev := &jdi.Event{Kind: jdi.EventBreakpoint, Request: reqs[0], VM: f.vm, Thread: f.main, Location: foo.Location(42)}
	require.False(t, f.main.IsSuspended())

	resume, err := f.reg.HandleEvent(ev)
	require.NoError(t, err)
	assert.False(t, resume)
	assert.False(t, called)
	errs := f.rec.errors()
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], ErrThreadNotSuspended)
}

func TestRegistry_MethodBreakpoints(t *testing.T) {
	f := newFixture(t)
	foo := jditest.NewClass("pkg.Foo",
		jditest.WithMethod("run", 10),
		jditest.WithMethod("run", 20, "int"),
		jditest.WithMethod("abstractRun", 0))
	f.vm.LoadClass(foo)

	tests := []struct {
		name   string
		params []string
		want   []int
	}{
		{"any overload", nil, []int{10, 20}},
		{"int overload", []string{"int"}, []int{20}},
		{"no-arg overload", []string{}, []int{10}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := f.add(t)(Factory{}.NewMethod("pkg.Foo", "run", tt.params))
			defer func() { require.NoError(t, f.reg.Remove(b)) }()

			require.True(t, b.IsResolved())
			var lines []int
			for _, r := range f.vm.Requests(jdi.RequestBreakpoint) {
				lines = append(lines, r.Location().LineNumber())
			}
			assert.ElementsMatch(t, tt.want, lines)
			assert.Equal(t, len(tt.want), b.RequestCount())
		})
	}

	missing, err := Factory{}.NewMethod("pkg.Foo", "walk", nil, Disabled())
	require.NoError(t, err)
	require.NoError(t, f.reg.Add(missing, nil))
	assert.ErrorIs(t, missing.SetEnabled(true), ErrMemberNotFound)
}

func TestRegistry_WatchBreakpoint(t *testing.T) {
	f := newFixture(t)
	foo := fooClass(jditest.WithField("count"))
	f.vm.LoadClass(foo)

	b := f.add(t)(Factory{}.NewWatch("pkg.Foo", "count", true, true))
	require.True(t, b.IsResolved())
	assert.Equal(t, 2, b.RequestCount())

	loc := foo.Location(41)
	assert.False(t, f.deliver(t, f.vm.AccessField(f.main, foo, "count", loc)))
	assert.False(t, f.deliver(t, f.vm.ModifyField(f.main, foo, "count", loc)))
	assert.Equal(t, 2, b.HitCount())

	missing, err := Factory{}.NewWatch("pkg.Foo", "total", true, false, Disabled())
	require.NoError(t, err)
	require.NoError(t, f.reg.Add(missing, nil))
	assert.ErrorIs(t, missing.SetEnabled(true), ErrMemberNotFound)
}

func TestRegistry_ExceptionBreakpoints(t *testing.T) {
	f := newFixture(t)
	foo := fooClass()
	ioe := jditest.NewClass("java.io.IOException", jditest.Extends("java.lang.Exception"))
	fnf := jditest.NewClass("java.io.FileNotFoundException", jditest.Extends("java.io.IOException"))
	npe := jditest.NewClass("java.lang.NullPointerException", jditest.Extends("java.lang.Exception"))
	death := jditest.NewClass("java.lang.ThreadDeath")
	for _, c := range []*jditest.Class{foo, ioe, fnf, npe, death} {
		f.vm.LoadClass(c)
	}
	loc := foo.Location(42)

	io := f.add(t)(Factory{}.NewException("java.io.IOException", false, true))
	require.True(t, io.IsResolved())
	assert.False(t, f.deliver(t, f.vm.Throw(f.main, fnf, loc, false)))
	assert.Equal(t, 1, io.HitCount())
	assert.Nil(t, f.vm.Throw(f.main, fnf, loc, true), "caught exceptions are not requested")

	uncaught, err := f.reg.EnsureDefaultUncaught()
	require.NoError(t, err)
	again, err := f.reg.EnsureDefaultUncaught()
	require.NoError(t, err)
	assert.Same(t, uncaught, again)
	require.True(t, uncaught.IsResolved())

	assert.False(t, f.deliver(t, f.vm.Throw(f.main, npe, loc, false)))
	assert.Equal(t, 1, uncaught.HitCount())
	assert.True(t, f.deliver(t, f.vm.Throw(f.main, death, loc, false)), "thread death is ignored")
	assert.Equal(t, 1, uncaught.HitCount())
}

func TestRegistry_ThreadAndClassBreakpoints(t *testing.T) {
	f := newFixture(t)

	threads := f.add(t)(Factory{}.NewThread(true, false))
	require.True(t, threads.IsResolved())
	_, set := f.vm.StartThread("worker")
	assert.False(t, f.deliver(t, set))
	assert.Equal(t, 1, threads.HitCount())

	classes := f.add(t)(Factory{}.NewClass(true, false, WithClassFilter("pkg.*")))
	require.True(t, classes.IsResolved())
	live := f.vm.Requests(jdi.RequestClassPrepare)
	require.Len(t, live, 1)
	assert.Equal(t, []string{"pkg.*"}, live[0].ClassFilters())

	assert.False(t, f.deliver(t, f.vm.LoadClass(fooClass())))
	assert.Equal(t, 1, classes.HitCount())
	assert.Nil(t, f.vm.LoadClass(jditest.NewClass("other.Baz")))

	_, err := Factory{}.NewLine("pkg.Foo", 1, WithClassFilter("pkg.*"))
	assert.ErrorIs(t, err, ErrUnsupportedFilter)
	_, err = Factory{}.NewClass(true, false, WithThreadFilter("main"))
	assert.ErrorIs(t, err, ErrUnsupportedFilter)
}

func TestRegistry_DisconnectAndReconnect(t *testing.T) {
	f := newFixture(t)
	f.vm.LoadClass(fooClass())
	b := f.add(t)(Factory{}.NewLine("pkg.Foo", 42))
	require.True(t, b.IsResolved())

	f.vm.Disconnect()
	f.reg.Disconnected()
	assert.False(t, f.reg.IsConnected())
	assert.Equal(t, Unresolved, b.State())

	vm2 := jditest.NewVM("second")
	foo2 := fooClass()
	vm2.LoadClass(foo2)
	f.reg.Connected(vm2, nil)
	assert.True(t, b.IsResolved())
	assert.Len(t, vm2.Requests(jdi.RequestBreakpoint), 1)
}

func TestRegistry_Membership(t *testing.T) {
	f := newFixture(t)
	b1 := f.add(t)(Factory{}.NewLine("pkg.Foo", 1))
	b2 := f.add(t)(Factory{}.NewLine("pkg.Foo", 2))
	assert.Equal(t, 1, b1.Number())
	assert.Equal(t, 2, b2.Number())

	got, ok := f.reg.Lookup(2)
	require.True(t, ok)
	assert.Same(t, b2, got)

	assert.ErrorIs(t, f.reg.Add(b1, nil), ErrInvalidState)
	assert.ErrorIs(t, f.reg.RemoveGroup(f.reg.Root()), ErrRootGroup)

	other := NewRegistry()
	assert.ErrorIs(t, other.Remove(b1), ErrNotMember)
	_, err := f.reg.AddGroup("x", other.Root())
	assert.ErrorIs(t, err, ErrNotMember)

	g, err := f.reg.AddGroup("g", nil)
	require.NoError(t, err)
	b3, err := Factory{}.NewLine("pkg.Foo", 3)
	require.NoError(t, err)
	require.NoError(t, f.reg.Add(b3, g))
	assert.Equal(t, []*Breakpoint{b1, b2, b3}, f.reg.Breakpoints())

	require.NoError(t, f.reg.RemoveGroup(g))
	assert.Equal(t, []*Breakpoint{b1, b2}, f.reg.Breakpoints())
	assert.Nil(t, b3.Group())
	assert.ErrorIs(t, f.reg.RemoveGroup(g), ErrNotMember)
}

func TestRegistry_IgnoresForeignRequests(t *testing.T) {
	f := newFixture(t)
	req, err := f.vm.EventRequestManager().CreateThreadStartRequest()
	require.NoError(t, err)

	resume, err := f.reg.HandleEvent(&jdi.Event{Kind: jdi.EventThreadStart, Request: req, Thread: f.main})
	require.NoError(t, err)
	assert.True(t, resume)

	resume, err = f.reg.HandleEvent(&jdi.Event{Kind: jdi.EventVMStart})
	require.NoError(t, err)
	assert.True(t, resume)
}

func TestRegistry_Metrics(t *testing.T) {
	m := metrics.New(nil)
	f := newFixture(t, WithMetrics(m))
	foo := fooClass()
	f.vm.LoadClass(foo)

	b := f.add(t)(Factory{}.NewLine("pkg.Foo", 42, WithSkipCount(1)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BreakpointsActive))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Resolutions.WithLabelValues("resolved")))

	f.deliver(t, f.vm.HitLine(f.main, foo, 42))
	f.deliver(t, f.vm.HitLine(f.main, foo, 42))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.BreakpointHits.WithLabelValues("line")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BreakpointStops.WithLabelValues("line")))

	b.Reset()
	assert.Equal(t, 0.0, testutil.ToFloat64(m.BreakpointsActive))
}

func TestRegistry_ListenerPanicIsContained(t *testing.T) {
	reg := NewRegistry()
	reg.AddListener(ListenerFunc(func(Event) { panic("bad listener") }))
	rec := &recorder{}
	remove := reg.AddListener(rec)

	b, err := Factory{}.NewThread(true, true)
	require.NoError(t, err)
	require.NoError(t, reg.Add(b, nil))
	assert.Equal(t, []EventType{EventAdded}, rec.types())

	remove()
	require.NoError(t, reg.Remove(b))
	assert.Equal(t, []EventType{EventAdded}, rec.types())
}
