package script

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/dshills/jswat/internal/debug/breakpoint"
	"github.com/dshills/jswat/internal/jdi"
	"github.com/dshills/jswat/internal/jdi/jditest"
	"github.com/dshills/jswat/internal/logging"
)

type scene struct {
	vm   *jditest.VM
	main *jditest.Thread
	foo  *jditest.Class
	bp   *breakpoint.Breakpoint
}

func newScene(t *testing.T) *scene {
	t.Helper()
	vm := jditest.NewVM("test")
	foo := jditest.NewClass("pkg.Foo", jditest.Lines("run", 40, 41, 42))
	bp, err := breakpoint.Factory{}.NewLine("pkg.Foo", 42)
	require.NoError(t, err)
	return &scene{vm: vm, main: vm.AddThread("main"), foo: foo, bp: bp}
}

func (s *scene) hit() *jdi.Event {
	return &jdi.Event{Kind: jdi.EventBreakpoint, VM: s.vm, Thread: s.main, Location: s.foo.Location(42)}
}

func TestCondition_Expressions(t *testing.T) {
	s := newScene(t)
	rt := NewRuntime()
	defer rt.Close()

	tests := []struct {
		name string
		src  string
		want bool
	}{
		{"thread name", `event.thread == "main"`, true},
		{"other thread", `event.thread == "worker"`, false},
		{"location", `event.class == "pkg.Foo" and event.line == 42 and event.method == "run"`, true},
		{"kind", `event.kind == "breakpoint"`, true},
		{"hit count", `bp.hits > 0`, false},
		{"breakpoint kind", `bp.kind == "line"`, true},
		{"nil is false", `nil`, false},
		{"zero is true", `0`, true},
		{"chunk", "local n = 0\nfor i = 1, 3 do n = n + i end\nreturn n == 6", true},
		{"string library", `string.find(event.class, "Foo") ~= nil`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewCondition(rt, tt.src)
			require.NoError(t, err)
			got, err := c.IsSatisfied(s.bp, s.hit())
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.src, c.Source())
		})
	}
}

func TestCondition_CompileError(t *testing.T) {
	rt := NewRuntime()
	defer rt.Close()

	_, err := NewCondition(rt, "event.thread ==")
	require.Error(t, err)
	var ce *CompileError
	assert.True(t, errors.As(err, &ce))
}

func TestCondition_RuntimeErrorIsNotSatisfied(t *testing.T) {
	s := newScene(t)
	rt := NewRuntime()
	defer rt.Close()

	c, err := NewCondition(rt, `event.missing.field == 1`)
	require.NoError(t, err)

	ok, err := c.IsSatisfied(s.bp, s.hit())
	assert.False(t, ok)
	var re *RuntimeError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, "condition", re.Name)
}

func TestRuntime_Sandbox(t *testing.T) {
	s := newScene(t)
	rt := NewRuntime()
	defer rt.Close()

	for _, src := range []string{
		`os.exit(1)`,
		`io.open("/etc/passwd")`,
		`dofile("x.lua")`,
		`loadstring("return 1")()`,
		`require("os")`,
	} {
		t.Run(src, func(t *testing.T) {
			m, err := NewMonitor(rt, src, false)
			require.NoError(t, err)
			assert.Error(t, m.Perform(s.bp, s.hit()))
		})
	}
}

func TestRuntime_Timeout(t *testing.T) {
	s := newScene(t)
	rt := NewRuntime(WithTimeout(20 * time.Millisecond))
	defer rt.Close()

	m, err := NewMonitor(rt, `while true do end`, false)
	require.NoError(t, err)

	err = m.Perform(s.bp, s.hit())
	assert.ErrorIs(t, err, ErrTimeout)
	var re *RuntimeError
	assert.True(t, errors.As(err, &re))
}

func TestRuntime_Closed(t *testing.T) {
	s := newScene(t)
	rt := NewRuntime()
	c, err := NewCondition(rt, `true`)
	require.NoError(t, err)

	require.NoError(t, rt.Close())
	require.NoError(t, rt.Close())

	_, err = c.IsSatisfied(s.bp, s.hit())
	assert.ErrorIs(t, err, ErrClosed)
	_, err = NewCondition(rt, `true`)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestMonitor_PrintGoesToLog(t *testing.T) {
	s := newScene(t)
	core, logs := observer.New(zap.InfoLevel)
	rt := NewRuntime(WithLogger(logging.FromZap(zap.New(core))))
	defer rt.Close()

	m, err := NewMonitor(rt, `print("hit", bp.kind, event.line)`, false)
	require.NoError(t, err)
	require.NoError(t, m.Perform(s.bp, s.hit()))
	assert.False(t, m.RequiresThread())

	entries := logs.FilterMessage("script output").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "hit\tline\t42", entries[0].ContextMap()["text"])
}

func TestMonitor_StackNeedsSuspendedThread(t *testing.T) {
	s := newScene(t)
	rt := NewRuntime()
	defer rt.Close()

	var seen string
	rt.L.SetGlobal("record", rt.L.NewFunction(func(L *lua.LState) int {
		seen = L.CheckString(1)
		return 0
	}))

	m, err := NewMonitor(rt, `record(stack[1] .. " / " .. #stack)`, true)
	require.NoError(t, err)
	assert.True(t, m.RequiresThread())

	s.main.SetFrames(s.foo.Location(42), s.foo.Location(40))
	assert.Error(t, m.Perform(s.bp, s.hit()), "a running thread has no stack")

	s.main.Suspend()
	require.NoError(t, m.Perform(s.bp, s.hit()))
	assert.Equal(t, "pkg.Foo.run:42 / 2", seen)
}

func TestScript_DrivesBreakpointStops(t *testing.T) {
	s := newScene(t)
	rt := NewRuntime()
	defer rt.Close()

	reg := breakpoint.NewRegistry()
	reg.Connected(s.vm, nil)
	defer reg.Disconnected()

	cond, err := NewCondition(rt, `bp.hits % 2 == 0`)
	require.NoError(t, err)
	s.bp.AddCondition(cond)
	require.NoError(t, reg.Add(s.bp, nil))

	var stops int
	reg.AddListener(breakpoint.ListenerFunc(func(e breakpoint.Event) {
		if e.Type == breakpoint.EventStopped {
			stops++
		}
	}))

	deliver := func(set *jditest.EventSet) bool {
		require.NotNil(t, set)
		resume := true
		for _, ev := range set.Events() {
			ok, err := reg.HandleEvent(ev)
			require.NoError(t, err)
			resume = resume && ok
		}
		return resume
	}

	deliver(s.vm.LoadClass(s.foo))
	require.True(t, s.bp.IsResolved())

	assert.True(t, deliver(s.vm.HitLine(s.main, s.foo, 42)), "odd hits resume")
	assert.False(t, deliver(s.vm.HitLine(s.main, s.foo, 42)), "even hits stop")
	assert.Equal(t, 1, stops)
	assert.Equal(t, 2, s.bp.HitCount())
}
