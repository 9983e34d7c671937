package persist

import "slices"

// Document is the persisted form of a session manager.
type Document struct {
	// Current is the identifier of the current session, if any.
	Current  string          `toml:"current,omitempty" yaml:"current,omitempty"`
	Sessions []SessionRecord `toml:"sessions" yaml:"sessions"`
}

// SessionRecord is the persisted form of one session.
type SessionRecord struct {
	ID          string              `toml:"id" yaml:"id"`
	Properties  map[string]string   `toml:"properties" yaml:"properties"`
	Groups      []GroupRecord       `toml:"groups,omitempty" yaml:"groups,omitempty"`
	Breakpoints []map[string]string `toml:"breakpoints,omitempty" yaml:"breakpoints,omitempty"`
}

// GroupRecord is the persisted form of one breakpoint group below the
// root. Parents are recorded before their children.
type GroupRecord struct {
	Name string `toml:"name" yaml:"name"`
	// Parent is the path of the enclosing group, empty for the root.
	Parent  string `toml:"parent,omitempty" yaml:"parent,omitempty"`
	Enabled bool   `toml:"enabled" yaml:"enabled"`
}

// Path returns the group path of r, with names joined by "/".
func (r GroupRecord) Path() string {
	if r.Parent == "" {
		return r.Name
	}
	return r.Parent + "/" + r.Name
}

// Session returns the record with the given identifier.
func (d *Document) Session(id string) (SessionRecord, bool) {
	i := slices.IndexFunc(d.Sessions, func(r SessionRecord) bool { return r.ID == id })
	if i < 0 {
		return SessionRecord{}, false
	}
	return d.Sessions[i], true
}

// BreakpointCount returns the number of breakpoints across all sessions.
func (d *Document) BreakpointCount() int {
	n := 0
	for _, s := range d.Sessions {
		n += len(s.Breakpoints)
	}
	return n
}
