package session

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/jswat/internal/debug/breakpoint"
	"github.com/dshills/jswat/internal/jdi"
	"github.com/dshills/jswat/internal/jdi/jditest"
	"github.com/dshills/jswat/internal/persist"
)

type managerRecorder struct {
	mu     sync.Mutex
	events []ManagerEvent
}

func (r *managerRecorder) ManagerEvent(e ManagerEvent) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *managerRecorder) types() []ManagerEventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ManagerEventType, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

func TestManager_CreateGeneratesIdentifiersAndNames(t *testing.T) {
	m := NewManager()
	rec := &managerRecorder{}
	m.AddListener(rec)

	first, err := m.Create()
	require.NoError(t, err)
	second, err := m.Create()
	require.NoError(t, err)

	assert.Equal(t, "SID_1", first.ID())
	assert.Equal(t, "SID_2", second.ID())
	assert.Equal(t, "Session 1", first.Name())
	assert.Equal(t, "Session 2", second.Name())
	assert.Same(t, first, m.Current(), "the first session becomes current")
	assert.Equal(t, []ManagerEventType{ManagerCurrent, ManagerAdded, ManagerAdded}, rec.types())
}

func TestManager_ConcurrentCreateClaimsDistinctIdentifiers(t *testing.T) {
	m := NewManager()
	const n = 32

	var wg sync.WaitGroup
	ids := make([]string, n)
	errs := make([]error, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := m.Create()
			errs[i] = err
			if s != nil {
				ids[i] = s.ID()
			}
		}()
	}
	wg.Wait()

	seen := make(map[string]bool, n)
	for i := range n {
		require.NoError(t, errs[i])
		assert.False(t, seen[ids[i]], "duplicate id %s", ids[i])
		seen[ids[i]] = true
	}
	assert.Len(t, m.Sessions(), n)
	assert.True(t, seen["SID_1"])
	assert.True(t, seen["SID_32"])
}

func TestManager_GeneratedIdentifierFollowsHighestSuffix(t *testing.T) {
	m := NewManager(WithIDPrefix("S-"), WithNamePrefix("Debug"))
	require.NoError(t, m.Add(New("S-7")))
	require.NoError(t, m.Add(New("S-x")))
	require.NoError(t, m.Add(New("other")))

	s, err := m.Create()
	require.NoError(t, err)
	assert.Equal(t, "S-8", s.ID())
	assert.Equal(t, "Debug 4", s.Name())
}

func TestManager_GeneratedNameSkipsUsedNames(t *testing.T) {
	m := NewManager()
	named := New("A")
	named.SetProperty(PropName, "Session 1")
	require.NoError(t, m.Add(named))
	assert.Equal(t, "Session 1", named.Name(), "an existing name is kept")

	s, err := m.Create()
	require.NoError(t, err)
	assert.Equal(t, "Session 2", s.Name())
}

func TestManager_AddRejectsDuplicateIdentifier(t *testing.T) {
	m := NewManager()
	require.NoError(t, m.Add(New("SID_1")))
	assert.Error(t, m.Add(New("SID_1")))
	assert.Len(t, m.Sessions(), 1)
}

func TestManager_Copy(t *testing.T) {
	m := NewManager()
	src, err := m.Create()
	require.NoError(t, err)
	src.SetProperty(PropClassName, "app.Main")
	src.SetProperty(PropClassParams, "-v")

	dup, err := m.Copy(src, "Copy of Session 1")
	require.NoError(t, err)
	assert.Equal(t, "SID_2", dup.ID())
	assert.Equal(t, "Copy of Session 1", dup.Name())
	assert.Equal(t, "app.Main", dup.Property(PropClassName))
	assert.Equal(t, "-v", dup.Property(PropClassParams))
	assert.Equal(t, "Session 1", src.Name())
	assert.Len(t, m.Sessions(), 2)
}

func TestManager_RemoveAndCurrent(t *testing.T) {
	m := NewManager()
	rec := &managerRecorder{}
	first, err := m.Create()
	require.NoError(t, err)
	second, err := m.Create()
	require.NoError(t, err)
	m.AddListener(rec)

	assert.ErrorIs(t, m.Remove(first), ErrCurrentSession)
	assert.ErrorIs(t, m.SetCurrent(New("stranger")), ErrSessionNotFound)
	assert.ErrorIs(t, m.Remove(New("stranger")), ErrSessionNotFound)

	require.NoError(t, m.SetCurrent(second))
	require.NoError(t, m.Remove(first))
	assert.Equal(t, []*Session{second}, m.Sessions())
	assert.Equal(t, []ManagerEventType{ManagerCurrent, ManagerRemoved}, rec.types())

	got, ok := m.Lookup(second.ID())
	require.True(t, ok)
	assert.Same(t, second, got)
	_, ok = m.Lookup(first.ID())
	assert.False(t, ok)
}

func TestManager_CloseAll(t *testing.T) {
	m := NewManager()
	idle, err := m.Create()
	require.NoError(t, err)
	live, err := m.Create()
	require.NoError(t, err)

	vm := jditest.NewVM("attached")
	require.NoError(t, live.Connect(context.Background(), jditest.NewConnection(vm, true)))

	require.NoError(t, m.CloseAll())
	assert.True(t, vm.Disposed())
	assert.True(t, idle.IsClosed())
	assert.True(t, live.IsClosed())
	assert.False(t, live.IsConnected())

	require.NoError(t, m.CloseAll(), "closing twice is harmless")
}

func TestManager_SaveAndLoad(t *testing.T) {
	m := NewManager()
	first, err := m.Create()
	require.NoError(t, err)
	first.SetProperty(PropClassName, "app.Main")
	second, err := m.Create()
	require.NoError(t, err)
	require.NoError(t, m.SetCurrent(second))

	var f breakpoint.Factory
	line, err := f.NewLine("app.Main", 42, breakpoint.WithSkipCount(2))
	require.NoError(t, err)
	require.NoError(t, first.Breakpoints().Add(line, nil))

	grp, err := first.Breakpoints().AddGroup("io", nil)
	require.NoError(t, err)
	method, err := f.NewMethod("app.Reader", "read", []string{"byte[]", "int"},
		breakpoint.WithSuspendPolicy(jdi.SuspendEventThread))
	require.NoError(t, err)
	require.NoError(t, first.Breakpoints().Add(method, grp))

	outer, err := first.Breakpoints().AddGroup("outer", nil)
	require.NoError(t, err)
	inner, err := first.Breakpoints().AddGroup("inner", outer)
	require.NoError(t, err)
	nested, err := f.NewLine("app.Util", 7)
	require.NoError(t, err)
	require.NoError(t, first.Breakpoints().Add(nested, inner))
	outer.SetEnabled(false)
	require.False(t, nested.IsEnabled())

	for _, format := range []persist.Format{persist.FormatTOML, persist.FormatYAML} {
		t.Run(string(format), func(t *testing.T) {
			store, err := persist.NewStore(filepath.Join(t.TempDir(), "sessions"), format)
			require.NoError(t, err)
			require.NoError(t, m.SaveTo(store))

			loaded := NewManager()
			require.NoError(t, loaded.LoadFrom(store))

			sessions := loaded.Sessions()
			require.Len(t, sessions, 2)
			assert.Equal(t, "SID_2", loaded.Current().ID())

			restored, ok := loaded.Lookup("SID_1")
			require.True(t, ok)
			assert.Equal(t, "Session 1", restored.Name())
			assert.Equal(t, "app.Main", restored.Property(PropClassName))

			bps := restored.Breakpoints().Breakpoints()
			require.Len(t, bps, 3)
			assert.Equal(t, line.WriteProperties(), bps[0].WriteProperties())
			assert.Equal(t, 2, bps[0].SkipCount())
			assert.Equal(t, method.WriteProperties(), bps[1].WriteProperties())
			assert.Equal(t, jdi.SuspendEventThread, bps[1].SuspendPolicy())
			assert.Equal(t, "io", bps[1].Group().Name())

			assert.Equal(t, "outer/inner", bps[2].Group().Path())
			assert.Equal(t, "inner", bps[2].Group().Name())
			assert.True(t, bps[2].Group().Enabled())
			restoredOuter := bps[2].Group().Parent()
			require.NotNil(t, restoredOuter)
			assert.Equal(t, "outer", restoredOuter.Name())
			assert.False(t, restoredOuter.Enabled())
			assert.Same(t, restored.Breakpoints().Root(), restoredOuter.Parent())
			assert.True(t, bps[2].Enabled(), "own flag survives")
			assert.False(t, bps[2].IsEnabled(), "disabled through its group")

			next, err := loaded.Create()
			require.NoError(t, err)
			assert.Equal(t, "SID_3", next.ID())
		})
	}
}

func TestManager_LoadInstallsDefaultUncaught(t *testing.T) {
	store := &persist.MemoryStore{}
	require.NoError(t, store.Save(&persist.Document{
		Sessions: []persist.SessionRecord{{ID: "SID_1", Properties: map[string]string{PropName: "Main"}}},
	}))

	m := NewManager(WithDefaultUncaught(true))
	require.NoError(t, m.LoadFrom(store))

	s, ok := m.Lookup("SID_1")
	require.True(t, ok)
	assert.Same(t, s, m.Current())
	bps := s.Breakpoints().Breakpoints()
	require.Len(t, bps, 1)
	spec, ok := bps[0].Spec().(breakpoint.ExceptionSpec)
	require.True(t, ok)
	assert.True(t, spec.Uncaught)
	assert.True(t, spec.Class.IsZero())
}

func TestManager_LoadReportsBadEntriesAndKeepsTheRest(t *testing.T) {
	store := &persist.MemoryStore{}
	require.NoError(t, store.Save(&persist.Document{
		Current: "SID_1",
		Sessions: []persist.SessionRecord{
			{
				ID:         "SID_1",
				Properties: map[string]string{PropName: "Main"},
				Breakpoints: []map[string]string{
					{"kind": "line", "class": "app..Main", "line": "3"},
					{"kind": "line", "class": "app.Main", "line": "3"},
				},
			},
		},
	}))

	m := NewManager()
	require.NoError(t, m.Add(New("SID_9")))

	err := m.LoadFrom(store)
	require.Error(t, err)
	var merr *multierror.Error
	require.True(t, errors.As(err, &merr))
	assert.Len(t, merr.Errors, 1)
	assert.ErrorIs(t, err, breakpoint.ErrMalformedPattern)

	s, ok := m.Lookup("SID_1")
	require.True(t, ok)
	assert.Len(t, s.Breakpoints().Breakpoints(), 1)
	assert.Same(t, s, m.Current())

	err = m.LoadFrom(store)
	assert.Error(t, err, "loading the same sessions twice reports the clash")
	assert.Len(t, m.Sessions(), 2)
}
