package breakpoint

import (
	"slices"
	"strings"
	"sync"
)

// GroupPathSeparator joins group names in a group path.
const GroupPathSeparator = "/"

// Group is a named collection of breakpoints and subgroups. Disabling a
// group disables everything beneath it without touching their own
// flags. Group conditions and monitors apply to every member.
type Group struct {
	mu sync.RWMutex

	reg     *Registry
	parent  *Group
	name    string
	enabled bool

	groups      []*Group
	breakpoints []*Breakpoint
	conditions  []Condition
	monitors    []Monitor
}

func newGroup(reg *Registry, name string, parent *Group) *Group {
	return &Group{reg: reg, name: name, parent: parent, enabled: true}
}

// Name returns the group name.
func (g *Group) Name() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.name
}

// SetName renames the group.
func (g *Group) SetName(name string) {
	g.mu.Lock()
	g.name = name
	g.mu.Unlock()
}

// Parent returns the enclosing group, nil for the root.
func (g *Group) Parent() *Group {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.parent
}

// Path returns the names from below the root down to g, joined by
// GroupPathSeparator. The root's path is empty.
func (g *Group) Path() string {
	var names []string
	for cur := g; cur != nil && cur.Parent() != nil; cur = cur.Parent() {
		names = append(names, cur.Name())
	}
	slices.Reverse(names)
	return strings.Join(names, GroupPathSeparator)
}

// Groups returns the direct subgroups.
func (g *Group) Groups() []*Group {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return slices.Clone(g.groups)
}

// Breakpoints returns the breakpoints directly in g.
func (g *Group) Breakpoints() []*Breakpoint {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return slices.Clone(g.breakpoints)
}

// Enabled returns the group's own flag.
func (g *Group) Enabled() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.enabled
}

// IsEnabled reports whether g and all of its ancestors are enabled.
func (g *Group) IsEnabled() bool {
	for cur := g; cur != nil; cur = cur.Parent() {
		if !cur.Enabled() {
			return false
		}
	}
	return true
}

// SetEnabled changes the group's own flag. Breakpoints beneath it are
// unresolved when it is disabled and resolved again when enabled.
func (g *Group) SetEnabled(enabled bool) {
	g.mu.Lock()
	if g.enabled == enabled {
		g.mu.Unlock()
		return
	}
	g.enabled = enabled
	reg := g.reg
	g.mu.Unlock()

	if reg != nil {
		reg.groupToggled(g, enabled)
	}
}

// AddCondition appends a condition checked after each member's own.
func (g *Group) AddCondition(c Condition) {
	g.mu.Lock()
	g.conditions = append(g.conditions, c)
	g.mu.Unlock()
}

// Conditions returns the group's conditions.
func (g *Group) Conditions() []Condition {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return slices.Clone(g.conditions)
}

// ClearConditions removes the group's conditions.
func (g *Group) ClearConditions() {
	g.mu.Lock()
	g.conditions = nil
	g.mu.Unlock()
}

// AddMonitor appends a monitor run after each member's own. Group
// monitors cannot require a thread, since members do not know to suspend
// for them.
func (g *Group) AddMonitor(m Monitor) error {
	if m.RequiresThread() {
		return ErrRequiresThread
	}
	g.mu.Lock()
	g.monitors = append(g.monitors, m)
	g.mu.Unlock()
	return nil
}

// Monitors returns the group's monitors.
func (g *Group) Monitors() []Monitor {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return slices.Clone(g.monitors)
}

// ClearMonitors removes the group's monitors.
func (g *Group) ClearMonitors() {
	g.mu.Lock()
	g.monitors = nil
	g.mu.Unlock()
}

// descendants returns every breakpoint beneath g, breadth first.
func (g *Group) descendants() []*Breakpoint {
	var out []*Breakpoint
	queue := []*Group{g}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		out = append(out, cur.Breakpoints()...)
		queue = append(queue, cur.Groups()...)
	}
	return out
}

func (g *Group) addBreakpoint(b *Breakpoint) {
	g.mu.Lock()
	g.breakpoints = append(g.breakpoints, b)
	g.mu.Unlock()
}

func (g *Group) removeBreakpoint(b *Breakpoint) {
	g.mu.Lock()
	g.breakpoints = slices.DeleteFunc(g.breakpoints, func(x *Breakpoint) bool { return x == b })
	g.mu.Unlock()
}

func (g *Group) addGroup(child *Group) {
	g.mu.Lock()
	g.groups = append(g.groups, child)
	g.mu.Unlock()
}

func (g *Group) removeGroup(child *Group) {
	g.mu.Lock()
	g.groups = slices.DeleteFunc(g.groups, func(x *Group) bool { return x == child })
	g.mu.Unlock()
}

func (g *Group) registry() *Registry {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.reg
}
