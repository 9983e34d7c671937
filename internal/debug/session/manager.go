package session

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/dshills/jswat/internal/debug/breakpoint"
	"github.com/dshills/jswat/internal/logging"
	"github.com/dshills/jswat/internal/persist"
)

// ManagerEventType identifies a manager notification.
type ManagerEventType int

const (
	ManagerAdded ManagerEventType = iota
	ManagerRemoved
	ManagerCurrent
)

// String returns the event type name.
func (t ManagerEventType) String() string {
	switch t {
	case ManagerAdded:
		return "added"
	case ManagerRemoved:
		return "removed"
	case ManagerCurrent:
		return "current"
	default:
		return "unknown"
	}
}

// ManagerEvent is a manager notification.
type ManagerEvent struct {
	Type    ManagerEventType
	Session *Session
}

// ManagerListener receives manager notifications.
type ManagerListener interface {
	ManagerEvent(e ManagerEvent)
}

// ManagerListenerFunc adapts a function to ManagerListener.
type ManagerListenerFunc func(e ManagerEvent)

// ManagerEvent implements ManagerListener.
func (f ManagerListenerFunc) ManagerEvent(e ManagerEvent) { f(e) }

type managerListenerEntry struct {
	id       uint64
	listener ManagerListener
}

// Manager owns a set of sessions and tracks the current one.
type Manager struct {
	opts options
	log  *logging.Logger

	mu       sync.Mutex
	sessions []*Session
	current  *Session

	lmu       sync.Mutex
	listeners []managerListenerEntry
	nextID    uint64
}

// NewManager creates an empty manager. Sessions it creates share its
// options.
func NewManager(opts ...Option) *Manager {
	o := newOptions(opts)
	return &Manager{
		opts: o,
		log:  o.log.WithComponent("session"),
	}
}

// AddListener registers l. The returned function removes it.
func (m *Manager) AddListener(l ManagerListener) (remove func()) {
	m.lmu.Lock()
	defer m.lmu.Unlock()
	m.nextID++
	id := m.nextID
	listeners := make([]managerListenerEntry, 0, len(m.listeners)+1)
	listeners = append(listeners, m.listeners...)
	m.listeners = append(listeners, managerListenerEntry{id: id, listener: l})
	return func() { m.removeListener(id) }
}

func (m *Manager) removeListener(id uint64) {
	m.lmu.Lock()
	defer m.lmu.Unlock()
	listeners := make([]managerListenerEntry, 0, len(m.listeners))
	for _, e := range m.listeners {
		if e.id != id {
			listeners = append(listeners, e)
		}
	}
	m.listeners = listeners
}

// Create makes a session with a generated identifier and adds it. The
// identifier is generated and claimed under one lock, so concurrent
// calls never collide.
func (m *Manager) Create() (*Session, error) {
	m.mu.Lock()
	s := newSession(m.generateIDLocked(), m.opts)
	becameCurrent := m.addLocked(s)
	m.mu.Unlock()

	m.added(s, becameCurrent)
	return s, nil
}

// Add takes ownership of s. A session without a name gets a generated
// one, and the first session added becomes current.
func (m *Manager) Add(s *Session) error {
	m.mu.Lock()
	if m.lookupLocked(s.ID()) != nil {
		m.mu.Unlock()
		return fmt.Errorf("session %s already added", s.ID())
	}
	becameCurrent := m.addLocked(s)
	m.mu.Unlock()

	m.added(s, becameCurrent)
	return nil
}

// addLocked appends s and reports whether it became current.
func (m *Manager) addLocked(s *Session) bool {
	if s.Name() == "" {
		s.SetProperty(PropName, m.generateNameLocked())
	}
	m.sessions = append(m.sessions, s)
	becameCurrent := m.current == nil
	if becameCurrent {
		m.current = s
	}
	return becameCurrent
}

func (m *Manager) added(s *Session, becameCurrent bool) {
	m.log.Debug("session added", zap.String("session", s.ID()), zap.String("name", s.Name()))
	if becameCurrent {
		m.fire(ManagerEvent{Type: ManagerCurrent, Session: s})
	}
	m.fire(ManagerEvent{Type: ManagerAdded, Session: s})
}

// Copy creates a new session carrying the properties of s under a new
// identifier and the given name, and adds it.
func (m *Manager) Copy(s *Session, name string) (*Session, error) {
	props := s.Properties()
	props[PropName] = name

	m.mu.Lock()
	dup := newSession(m.generateIDLocked(), m.opts)
	for k, v := range props {
		dup.SetProperty(k, v)
	}
	becameCurrent := m.addLocked(dup)
	m.mu.Unlock()

	m.added(dup, becameCurrent)
	return dup, nil
}

// Remove drops s from the manager. The current session cannot be
// removed.
func (m *Manager) Remove(s *Session) error {
	m.mu.Lock()
	if m.current == s {
		m.mu.Unlock()
		return ErrCurrentSession
	}
	i := m.indexLocked(s)
	if i < 0 {
		m.mu.Unlock()
		return ErrSessionNotFound
	}
	m.sessions = append(m.sessions[:i:i], m.sessions[i+1:]...)
	m.mu.Unlock()

	m.log.Debug("session removed", zap.String("session", s.ID()))
	m.fire(ManagerEvent{Type: ManagerRemoved, Session: s})
	return nil
}

// Current returns the current session, or nil when there is none.
func (m *Manager) Current() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// SetCurrent makes s the current session.
func (m *Manager) SetCurrent(s *Session) error {
	m.mu.Lock()
	if m.indexLocked(s) < 0 {
		m.mu.Unlock()
		return ErrSessionNotFound
	}
	m.current = s
	m.mu.Unlock()

	m.fire(ManagerEvent{Type: ManagerCurrent, Session: s})
	return nil
}

// Sessions returns the sessions in the order they were added.
func (m *Manager) Sessions() []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*Session(nil), m.sessions...)
}

// Lookup finds a session by identifier.
func (m *Manager) Lookup(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.lookupLocked(id)
	return s, s != nil
}

// CloseAll disconnects every connected session and closes every session.
// It keeps going past failures and returns all of them.
func (m *Manager) CloseAll() error {
	var result *multierror.Error
	for _, s := range m.Sessions() {
		if s.IsConnected() {
			if err := s.Disconnect(false); err != nil && !errors.Is(err, ErrNotConnected) {
				result = multierror.Append(result, fmt.Errorf("disconnecting %s: %w", s.ID(), err))
			}
		}
		if err := s.Close(); err != nil && !errors.Is(err, ErrClosed) {
			result = multierror.Append(result, fmt.Errorf("closing %s: %w", s.ID(), err))
		}
	}
	return result.ErrorOrNil()
}

// SaveTo writes every session, its breakpoints and the current session
// identifier to store.
func (m *Manager) SaveTo(store persist.Store) error {
	m.mu.Lock()
	sessions := append([]*Session(nil), m.sessions...)
	current := m.current
	m.mu.Unlock()

	doc := &persist.Document{}
	if current != nil {
		doc.Current = current.ID()
	}
	for _, s := range sessions {
		rec := persist.SessionRecord{ID: s.ID(), Properties: s.Properties()}
		for _, g := range s.Breakpoints().Groups() {
			parent := g.Parent()
			if parent == nil {
				continue
			}
			rec.Groups = append(rec.Groups, persist.GroupRecord{
				Name:    g.Name(),
				Parent:  parent.Path(),
				Enabled: g.Enabled(),
			})
		}
		for _, b := range s.Breakpoints().Breakpoints() {
			rec.Breakpoints = append(rec.Breakpoints, b.WriteProperties())
		}
		doc.Sessions = append(doc.Sessions, rec)
	}

	if err := store.Save(doc); err != nil {
		return fmt.Errorf("saving sessions: %w", err)
	}
	m.log.Info("sessions saved", zap.Int("sessions", len(doc.Sessions)), zap.Int("breakpoints", doc.BreakpointCount()))
	return nil
}

// LoadFrom adds the sessions stored in store and restores the current
// session. Sessions whose identifier is already taken are skipped, and a
// breakpoint that cannot be restored does not stop the others; all such
// failures are returned together.
func (m *Manager) LoadFrom(store persist.Store) error {
	doc, err := store.Load()
	if err != nil {
		return fmt.Errorf("loading sessions: %w", err)
	}

	var result *multierror.Error
	for _, rec := range doc.Sessions {
		if _, ok := m.Lookup(rec.ID); ok {
			result = multierror.Append(result, fmt.Errorf("session %s already exists", rec.ID))
			continue
		}
		s := newSession(rec.ID, m.opts)
		for k, v := range rec.Properties {
			s.SetProperty(k, v)
		}
		groups, err := restoreGroups(s.Breakpoints(), rec.Groups)
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("session %s: %w", rec.ID, err))
		}
		for i, props := range rec.Breakpoints {
			if err := restoreBreakpoint(m.opts.factory, s, groups, props); err != nil {
				result = multierror.Append(result, fmt.Errorf("session %s breakpoint %d: %w", rec.ID, i+1, err))
			}
		}
		if m.opts.defaultUncaught {
			if _, err := s.Breakpoints().EnsureDefaultUncaught(); err != nil {
				result = multierror.Append(result, fmt.Errorf("session %s: %w", rec.ID, err))
			}
		}
		if err := m.Add(s); err != nil {
			result = multierror.Append(result, err)
		}
	}

	if doc.Current != "" {
		if s, ok := m.Lookup(doc.Current); ok {
			if err := m.SetCurrent(s); err != nil {
				result = multierror.Append(result, err)
			}
		}
	}
	m.log.Info("sessions loaded", zap.Int("sessions", len(doc.Sessions)), zap.Int("breakpoints", doc.BreakpointCount()))
	return result.ErrorOrNil()
}

// restoreGroups rebuilds the saved group tree and returns it keyed by
// path. Flags are applied before any breakpoint joins a group.
func restoreGroups(reg *breakpoint.Registry, records []persist.GroupRecord) (map[string]*breakpoint.Group, error) {
	groups := map[string]*breakpoint.Group{"": reg.Root()}
	var result *multierror.Error
	for _, rec := range records {
		g, err := groupAt(reg, groups, rec.Path())
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("group %s: %w", rec.Path(), err))
			continue
		}
		g.SetEnabled(rec.Enabled)
	}
	return groups, result.ErrorOrNil()
}

func restoreBreakpoint(f breakpoint.Factory, s *Session, groups map[string]*breakpoint.Group, props map[string]string) error {
	b, err := f.FromProperties(props)
	if err != nil {
		return err
	}
	reg := s.Breakpoints()
	group, err := groupAt(reg, groups, props[breakpoint.PropGroup])
	if err != nil {
		return err
	}
	return reg.Add(b, group)
}

// groupAt returns the group at path, creating it and any missing
// ancestors beneath the root.
func groupAt(reg *breakpoint.Registry, groups map[string]*breakpoint.Group, path string) (*breakpoint.Group, error) {
	if g, ok := groups[path]; ok {
		return g, nil
	}
	parent, name := reg.Root(), path
	if i := strings.LastIndex(path, breakpoint.GroupPathSeparator); i >= 0 {
		var err error
		if parent, err = groupAt(reg, groups, path[:i]); err != nil {
			return nil, err
		}
		name = path[i+len(breakpoint.GroupPathSeparator):]
	}
	g, err := reg.AddGroup(name, parent)
	if err != nil {
		return nil, err
	}
	groups[path] = g
	return g, nil
}

// generateIDLocked returns the prefix followed by one more than the
// largest numeric suffix in use.
func (m *Manager) generateIDLocked() string {
	highest := 0
	for _, s := range m.sessions {
		suffix, ok := strings.CutPrefix(s.ID(), m.opts.idPrefix)
		if !ok {
			continue
		}
		if n, err := strconv.Atoi(suffix); err == nil && n > highest {
			highest = n
		}
	}
	return m.opts.idPrefix + strconv.Itoa(highest+1)
}

// generateNameLocked returns the first "<prefix> <n>" not used by any
// session.
func (m *Manager) generateNameLocked() string {
	used := make(map[string]bool, len(m.sessions))
	for _, s := range m.sessions {
		used[s.Name()] = true
	}
	for n := 1; ; n++ {
		name := m.opts.namePrefix + " " + strconv.Itoa(n)
		if !used[name] {
			return name
		}
	}
}

func (m *Manager) lookupLocked(id string) *Session {
	for _, s := range m.sessions {
		if s.ID() == id {
			return s
		}
	}
	return nil
}

func (m *Manager) indexLocked(s *Session) int {
	for i, live := range m.sessions {
		if live == s {
			return i
		}
	}
	return -1
}

func (m *Manager) fire(e ManagerEvent) {
	m.lmu.Lock()
	listeners := m.listeners
	m.lmu.Unlock()

	for _, entry := range listeners {
		m.notify(entry.listener, e)
	}
}

func (m *Manager) notify(l ManagerListener, e ManagerEvent) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Warn("manager listener panicked", zap.Any("panic", r), zap.Stringer("event", e.Type))
		}
	}()
	l.ManagerEvent(e)
}
