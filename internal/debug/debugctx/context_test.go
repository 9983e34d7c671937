package debugctx

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/jswat/internal/jdi"
	"github.com/dshills/jswat/internal/jdi/jditest"
)

type fixture struct {
	vm     *jditest.VM
	main   *jditest.Thread
	worker *jditest.Thread
	foo    *jditest.Class
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	vm := jditest.NewVM("test")
	f := &fixture{
		vm:     vm,
		main:   vm.AddThread("main"),
		worker: vm.AddThread("worker"),
		foo:    jditest.NewClass("pkg.Foo", jditest.Lines("run", 10, 11, 12), jditest.Lines("helper", 20)),
	}
	vm.LoadClass(f.foo)
	f.main.SetFrames(f.foo.Location(10), f.foo.Location(20))
	f.worker.SetFrames(f.foo.Location(12))
	require.NoError(t, vm.Suspend())
	return f
}

type changes struct {
	got []Change
}

func (c *changes) ContextChanged(ch Change) { c.got = append(c.got, ch) }

func (c *changes) types() []ChangeType {
	out := make([]ChangeType, len(c.got))
	for i, ch := range c.got {
		out[i] = ch.Type
	}
	return out
}

func TestManager_SetLocation(t *testing.T) {
	f := newFixture(t)
	m := New()
	rec := &changes{}
	m.AddListener(rec)

	m.SetLocation(f.main, f.foo.Location(10), true)

	require.Len(t, rec.got, 1)
	c := rec.got[0]
	assert.Equal(t, TypeThread|TypeLocation|TypeFrame, c.Type)
	assert.True(t, c.Brief)
	assert.Equal(t, 0, c.Frame)
	assert.Equal(t, f.main.ID(), m.Thread().ID())
	assert.True(t, jdi.SameLocation(f.foo.Location(10), m.Location()))
}

func TestManager_NoOpChangeIsCoalesced(t *testing.T) {
	f := newFixture(t)
	m := New()
	rec := &changes{}
	m.AddListener(rec)

	m.SetLocation(f.main, f.foo.Location(10), false)
	m.SetLocation(f.main, f.foo.Location(10), false)
	m.SetThread(f.main, false)

	assert.Len(t, rec.got, 1)
}

func TestManager_LocationChangeOnly(t *testing.T) {
	f := newFixture(t)
	m := New()
	rec := &changes{}
	m.AddListener(rec)

	m.SetLocation(f.main, f.foo.Location(10), false)
	m.SetLocation(f.main, f.foo.Location(11), false)

	assert.Equal(t, []ChangeType{TypeThread | TypeLocation | TypeFrame, TypeLocation}, rec.types())
}

func TestManager_FrameCountChangeCountsAsFrameChange(t *testing.T) {
	f := newFixture(t)
	m := New()
	rec := &changes{}
	m.AddListener(rec)

	m.SetLocation(f.main, f.foo.Location(10), false)
	// Recursion deepens the stack without an explicit frame selection.
	f.main.SetFrames(f.foo.Location(10), f.foo.Location(10), f.foo.Location(20))
	m.SetLocation(f.main, f.foo.Location(10), false)

	require.Len(t, rec.got, 2)
	assert.Equal(t, TypeFrame, rec.got[1].Type)
	assert.Equal(t, 0, rec.got[1].Frame)
}

func TestManager_ThreadSwitchFiresExtraFrameBit(t *testing.T) {
	f := newFixture(t)
	m := New()
	rec := &changes{}
	m.AddListener(rec)

	m.SetThread(f.main, false)
	m.SetThread(f.worker, false)

	// main has two frames, worker one: the frame-count heuristic adds
	// TypeFrame on the switch even though the index stays 0.
	assert.Equal(t, []ChangeType{
		TypeThread | TypeLocation | TypeFrame,
		TypeThread | TypeLocation | TypeFrame,
	}, rec.types())
	assert.Equal(t, 0, m.Frame())
	assert.True(t, jdi.SameLocation(f.foo.Location(12), m.Location()))
}

func TestManager_SetFrame(t *testing.T) {
	f := newFixture(t)
	m := New()
	rec := &changes{}
	m.AddListener(rec)
	m.SetThread(f.main, false)

	require.NoError(t, m.SetFrame(1))
	assert.Equal(t, 1, m.Frame())
	assert.True(t, jdi.SameLocation(f.foo.Location(20), m.Location()))
	assert.Equal(t, TypeLocation|TypeFrame, rec.got[len(rec.got)-1].Type)

	n := len(rec.got)
	require.NoError(t, m.SetFrame(1))
	assert.Len(t, rec.got, n, "same frame fires nothing")
}

func TestManager_SetFrameErrors(t *testing.T) {
	f := newFixture(t)
	m := New()

	assert.ErrorIs(t, m.SetFrame(-1), ErrFrameOutOfRange)
	assert.ErrorIs(t, m.SetFrame(0), ErrNoThread)

	m.SetThread(f.main, false)
	assert.ErrorIs(t, m.SetFrame(2), ErrFrameOutOfRange)

	require.NoError(t, f.vm.Resume())
	assert.ErrorIs(t, m.SetFrame(1), ErrThreadNotSuspended)
	assert.Equal(t, 0, m.Frame())
}

func TestManager_LocationIsRecomputed(t *testing.T) {
	f := newFixture(t)
	m := New()
	m.SetLocation(f.main, f.foo.Location(10), false)

	redefined := jditest.NewClass("pkg.Foo", jditest.Lines("run", 10))
	f.main.SetFrames(redefined.Location(10), f.foo.Location(20))

	loc := m.Location()
	require.NotNil(t, loc)
	assert.Same(t, redefined.Location(10), loc)

	require.NoError(t, f.vm.Resume())
	assert.Nil(t, m.Location(), "running thread has no readable frame")
}

func TestManager_ResetIsSilent(t *testing.T) {
	f := newFixture(t)
	m := New()
	rec := &changes{}
	m.AddListener(rec)
	m.SetLocation(f.main, f.foo.Location(10), false)

	m.Reset()

	assert.Len(t, rec.got, 1)
	assert.Nil(t, m.Thread())
	assert.Nil(t, m.Location())
	assert.Equal(t, 0, m.Frame())
}

func TestManager_ClearFiresChange(t *testing.T) {
	f := newFixture(t)
	m := New()
	rec := &changes{}
	m.AddListener(rec)
	m.SetLocation(f.main, f.foo.Location(10), false)

	m.SetLocation(nil, nil, false)

	require.Len(t, rec.got, 2)
	assert.Equal(t, TypeThread|TypeLocation, rec.got[1].Type)
}

func TestManager_ListenersSeeUpdatedState(t *testing.T) {
	f := newFixture(t)
	m := New()
	var order []string
	var seen int
	m.AddListener(ListenerFunc(func(c Change) {
		order = append(order, "first")
		seen = m.Frame()
	}))
	remove := m.AddListener(ListenerFunc(func(c Change) {
		order = append(order, "second")
	}))
	m.AddListener(ListenerFunc(func(c Change) {
		panic("listener bug")
	}))

	m.SetThread(f.main, false)
	require.NoError(t, m.SetFrame(1))
	assert.Equal(t, 1, seen)
	assert.Equal(t, []string{"first", "second", "first", "second"}, order)

	remove()
	m.SetThread(f.worker, false)
	assert.Equal(t, []string{"first", "second", "first", "second", "first"}, order)
}

func TestChangeType_String(t *testing.T) {
	tests := []struct {
		t    ChangeType
		want string
	}{
		{0, "none"},
		{TypeThread, "thread"},
		{TypeLocation | TypeFrame, "location|frame"},
		{TypeThread | TypeLocation | TypeFrame, "thread|location|frame"},
	}
	for _, tt := range tests {
		if got := tt.t.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}
