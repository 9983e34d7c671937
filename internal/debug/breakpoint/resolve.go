package breakpoint

import (
	"errors"
	"fmt"
	"slices"

	"github.com/dshills/jswat/internal/jdi"
)

// resolveEagerly installs the breakpoint's requests against vm. It first
// subscribes to class-prepare events for the pattern, then tries every
// matching class already loaded. Line and member lookups that fail in one
// class are reported only if no class resolved. It reports whether the
// breakpoint went from not resolved to Resolved.
func (b *Breakpoint) resolveEagerly(vm jdi.VirtualMachine) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	erm := vm.EventRequestManager()
	was := b.live != nil

	ref, ok := referenceOf(b.spec)
	if !ok {
		reqs, err := b.createDirectLocked(erm)
		if err != nil {
			return false, err
		}
		b.installLocked(erm, reqs)
		return !was, nil
	}

	b.deletePrepareLocked()
	if err := b.subscribePrepareLocked(erm, ref); err != nil {
		return false, err
	}

	classes, err := candidateClasses(vm, ref)
	if err != nil {
		return false, err
	}

	var notFound error
	resolved := false
	for _, c := range classes {
		if !c.IsPrepared() || !ref.Matches(c.Name()) {
			continue
		}
		ok, err := b.resolveInLocked(erm, c)
		if err != nil {
			var re *ResolveError
			if errors.As(err, &re) && re.NotFound() {
				if notFound == nil {
					notFound = err
				}
				continue
			}
			return false, err
		}
		resolved = resolved || ok
	}
	if !resolved && notFound != nil {
		return false, notFound
	}
	return !was && b.live != nil, nil
}

// resolvePrepared tries to resolve against a class that was just
// prepared. A later copy of the class, loaded by another classloader,
// replaces the current requests; replaced reports that case. Lookups that
// fail in a nested class of the pattern are not errors; the enclosing
// class is the one the user named.
func (b *Breakpoint) resolvePrepared(vm jdi.VirtualMachine, c jdi.ReferenceType) (resolved, replaced bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ref, ok := referenceOf(b.spec)
	if !ok || len(b.prepare) == 0 {
		return false, false, nil
	}
	name := c.Name()
	direct := ref.Matches(name)
	if !direct && (b.Kind() != KindLine || !ref.MatchesNested(name)) {
		return false, false, nil
	}

	was := b.live != nil
	ok, err = b.resolveInLocked(vm.EventRequestManager(), c)
	if err != nil {
		var re *ResolveError
		if errors.As(err, &re) && re.NotFound() && !direct {
			return false, false, nil
		}
		return false, false, err
	}
	return ok, ok && was, nil
}

// candidateClasses lists loaded classes that may match ref. Scanning all
// classes happens with the VM suspended so the set cannot change under us.
func candidateClasses(vm jdi.VirtualMachine, ref ReferenceSpec) ([]jdi.ReferenceType, error) {
	if ref.IsExact() {
		return vm.ClassesByName(ref.Pattern())
	}
	if err := vm.Suspend(); err != nil {
		return nil, err
	}
	defer func() { _ = vm.Resume() }()
	return vm.AllClasses()
}

// resolveInLocked creates the requests for class c and installs them as
// the live subscription, replacing any previous one.
func (b *Breakpoint) resolveInLocked(erm jdi.EventRequestManager, c jdi.ReferenceType) (bool, error) {
	reqs, err := b.requestsForLocked(erm, c)
	if err != nil || len(reqs) == 0 {
		return false, err
	}
	b.installLocked(erm, reqs)
	return true, nil
}

func (b *Breakpoint) requestsForLocked(erm jdi.EventRequestManager, c jdi.ReferenceType) ([]jdi.EventRequest, error) {
	fail := func(err error) ([]jdi.EventRequest, error) {
		if jdi.IsDisconnected(err) {
			return nil, err
		}
		return nil, &ResolveError{Pattern: b.spec.Describe(), Class: c.Name(), Err: err}
	}

	var reqs []jdi.EventRequest
	create := func(r jdi.EventRequest, err error) error {
		if err == nil {
			err = b.configureLocked(r)
		}
		if err != nil {
			deleteRequests(erm, reqs)
			if r != nil {
				_ = erm.DeleteEventRequest(r)
			}
			return err
		}
		reqs = append(reqs, r)
		return nil
	}

	switch s := b.spec.(type) {
	case LineSpec:
		loc, err := lineLocation(c, s.Line)
		if err != nil {
			if errors.Is(err, jdi.ErrClassNotPrepared) {
				return nil, nil
			}
			return fail(err)
		}
		if err := create(erm.CreateBreakpointRequest(loc)); err != nil {
			return fail(err)
		}

	case MethodSpec:
		methods, err := c.MethodsByName(s.Method)
		if err != nil {
			return fail(err)
		}
		found := false
		for _, m := range methods {
			if s.Params != nil && !slices.Equal(m.ArgumentTypeNames(), s.Params) {
				continue
			}
			found = true
			loc := m.Location()
			if loc == nil {
				continue
			}
			if err := create(erm.CreateBreakpointRequest(loc)); err != nil {
				return fail(err)
			}
		}
		if !found {
			return fail(ErrMemberNotFound)
		}

	case WatchSpec:
		f, err := c.FieldByName(s.Field)
		if err != nil {
			return fail(err)
		}
		if f == nil {
			return fail(ErrMemberNotFound)
		}
		if s.OnAccess {
			if err := create(erm.CreateAccessWatchpointRequest(f)); err != nil {
				return fail(err)
			}
		}
		if s.OnModify {
			if err := create(erm.CreateModificationWatchpointRequest(f)); err != nil {
				return fail(err)
			}
		}

	case ExceptionSpec:
		if err := create(erm.CreateExceptionRequest(c, s.Caught, s.Uncaught)); err != nil {
			return fail(err)
		}

	default:
		return nil, fmt.Errorf("%w: %s breakpoint does not resolve against classes", ErrInvalidSpec, b.Kind())
	}
	return reqs, nil
}

// lineLocation finds the first executable location on line in c or, if c
// has none, in its nested types.
func lineLocation(c jdi.ReferenceType, line int) (jdi.Location, error) {
	locs, err := c.LocationsOfLine(line)
	if err != nil {
		return nil, err
	}
	if len(locs) > 0 {
		return locs[0], nil
	}
	nested, err := c.NestedTypes()
	if err != nil {
		return nil, err
	}
	for _, n := range nested {
		locs, err := n.LocationsOfLine(line)
		if err != nil {
			continue
		}
		if len(locs) > 0 {
			return locs[0], nil
		}
	}
	return nil, fmt.Errorf("%w: line %d", ErrLineNotFound, line)
}

// createDirectLocked builds the requests for kinds that need no class.
func (b *Breakpoint) createDirectLocked(erm jdi.EventRequestManager) ([]jdi.EventRequest, error) {
	type ctor func() (jdi.EventRequest, error)
	var ctors []ctor

	switch s := b.spec.(type) {
	case ThreadSpec:
		if s.OnStart {
			ctors = append(ctors, erm.CreateThreadStartRequest)
		}
		if s.OnDeath {
			ctors = append(ctors, erm.CreateThreadDeathRequest)
		}
	case ClassSpec:
		if s.OnPrepare {
			ctors = append(ctors, erm.CreateClassPrepareRequest)
		}
		if s.OnUnload {
			ctors = append(ctors, erm.CreateClassUnloadRequest)
		}
	case ExceptionSpec:
		ctors = append(ctors, func() (jdi.EventRequest, error) {
			return erm.CreateExceptionRequest(nil, s.Caught, s.Uncaught)
		})
	default:
		return nil, fmt.Errorf("%w: %s breakpoint needs a class", ErrInvalidSpec, b.Kind())
	}

	reqs := make([]jdi.EventRequest, 0, len(ctors))
	for _, newReq := range ctors {
		r, err := newReq()
		if err == nil {
			err = b.configureLocked(r)
		}
		if err != nil {
			if r != nil {
				_ = erm.DeleteEventRequest(r)
			}
			deleteRequests(erm, reqs)
			return nil, err
		}
		reqs = append(reqs, r)
	}
	return reqs, nil
}

// configureLocked applies the breakpoint's settings to a new request and
// enables it.
func (b *Breakpoint) configureLocked(r jdi.EventRequest) error {
	if err := r.SetSuspendPolicy(b.requestPolicyLocked()); err != nil {
		return err
	}
	if b.classFilter != "" && supportsClassFilter(b.Kind()) {
		if err := r.AddClassFilter(b.classFilter); err != nil {
			return err
		}
	}
	r.PutProperty(requestProperty, b)
	return r.SetEnabled(true)
}

// subscribePrepareLocked creates the class-prepare requests for ref.
// They suspend all threads so that the breakpoint is in place before the
// class runs.
func (b *Breakpoint) subscribePrepareLocked(erm jdi.EventRequestManager, ref ReferenceSpec) error {
	b.erm = erm
	for _, filter := range ref.PrepareFilters() {
		r, err := erm.CreateClassPrepareRequest()
		if err != nil {
			b.deletePrepareLocked()
			return err
		}
		if filter != "" {
			err = r.AddClassFilter(filter)
		}
		if err == nil {
			err = r.SetSuspendPolicy(jdi.SuspendAll)
		}
		if err == nil {
			r.PutProperty(requestProperty, b)
			err = r.SetEnabled(true)
		}
		b.prepare = append(b.prepare, r)
		if err != nil {
			b.deletePrepareLocked()
			return err
		}
	}
	return nil
}

// installLocked makes reqs the live subscription. The previous one is
// deleted first so only the most recent resolution stays active.
func (b *Breakpoint) installLocked(erm jdi.EventRequestManager, reqs []jdi.EventRequest) {
	b.deleteLiveLocked()
	b.erm = erm
	b.live = reqs
}

func (b *Breakpoint) deleteLiveLocked() {
	if b.erm != nil {
		deleteRequests(b.erm, b.live)
	}
	b.live = nil
}

func (b *Breakpoint) deletePrepareLocked() {
	if b.erm != nil {
		deleteRequests(b.erm, b.prepare)
	}
	b.prepare = nil
}

func (b *Breakpoint) deleteAllLocked() {
	b.deleteLiveLocked()
	b.deletePrepareLocked()
}

// forgetLocked drops every request without talking to the VM, for use
// once the debuggee is gone.
func (b *Breakpoint) forgetLocked() {
	b.live = nil
	b.prepare = nil
	b.erm = nil
}

// deleteRequests deletes reqs, ignoring failures. A disconnected VM has
// already dropped them.
func deleteRequests(erm jdi.EventRequestManager, reqs []jdi.EventRequest) {
	for _, r := range reqs {
		_ = erm.DeleteEventRequest(r)
	}
}

// ownsLocked reports whether r belongs to b's live subscription.
func (b *Breakpoint) ownsLocked(r jdi.EventRequest) bool {
	return slices.Contains(b.live, r)
}

// isPrepareRequestLocked reports whether r is one of b's prepare requests.
func (b *Breakpoint) isPrepareRequestLocked(r jdi.EventRequest) bool {
	return slices.Contains(b.prepare, r)
}
