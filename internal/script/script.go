package script

import (
	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/jswat/internal/debug/breakpoint"
	"github.com/dshills/jswat/internal/jdi"
)

// Condition is a breakpoint condition written in Lua.
type Condition struct {
	rt     *Runtime
	source string
	fn     *lua.LFunction
}

// NewCondition compiles src in rt.
func NewCondition(rt *Runtime, src string) (*Condition, error) {
	fn, err := rt.compile("condition", src, true)
	if err != nil {
		return nil, err
	}
	return &Condition{rt: rt, source: src, fn: fn}, nil
}

// IsSatisfied implements breakpoint.Condition.
func (c *Condition) IsSatisfied(b *breakpoint.Breakpoint, ev *jdi.Event) (bool, error) {
	ret, err := c.rt.call("condition", c.fn, map[string]any{
		"event": eventTable(ev),
		"bp":    breakpointTable(b),
	})
	if err != nil {
		return false, err
	}
	return lua.LVAsBool(ret), nil
}

// Source returns the script text.
func (c *Condition) Source() string {
	return c.source
}

func (c *Condition) String() string {
	return "lua: " + c.source
}

// Monitor is a breakpoint monitor written in Lua.
type Monitor struct {
	rt          *Runtime
	source      string
	fn          *lua.LFunction
	needsThread bool
}

// NewMonitor compiles src in rt. With needsThread the script gets the
// event thread's stack, which forces the breakpoint to suspend.
func NewMonitor(rt *Runtime, src string, needsThread bool) (*Monitor, error) {
	fn, err := rt.compile("monitor", src, false)
	if err != nil {
		return nil, err
	}
	return &Monitor{rt: rt, source: src, fn: fn, needsThread: needsThread}, nil
}

// Perform implements breakpoint.Monitor.
func (m *Monitor) Perform(b *breakpoint.Breakpoint, ev *jdi.Event) error {
	globals := map[string]any{
		"event": eventTable(ev),
		"bp":    breakpointTable(b),
	}
	if m.needsThread && ev != nil && ev.Thread != nil {
		stack, err := stackList(ev.Thread)
		if err != nil {
			return err
		}
		globals["stack"] = stack
	}
	_, err := m.rt.call("monitor", m.fn, globals)
	return err
}

// RequiresThread implements breakpoint.Monitor.
func (m *Monitor) RequiresThread() bool {
	return m.needsThread
}

// Source returns the script text.
func (m *Monitor) Source() string {
	return m.source
}

func (m *Monitor) String() string {
	return "lua: " + m.source
}
