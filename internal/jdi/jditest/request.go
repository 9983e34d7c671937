package jditest

import (
	"github.com/dshills/jswat/internal/jdi"
)

// Request is a fake event request.
type Request struct {
	vm       *VM
	kind     jdi.RequestKind
	enabled  bool
	deleted  bool
	policy   jdi.SuspendPolicy
	classes  []string
	threads  []*Thread
	props    map[string]any
	loc      *Location
	refType  *Class
	caught   bool
	uncaught bool
	field    *Field
}

// Kind implements jdi.EventRequest.
func (r *Request) Kind() jdi.RequestKind { return r.kind }

// IsEnabled implements jdi.EventRequest.
func (r *Request) IsEnabled() bool {
	r.vm.mu.Lock()
	defer r.vm.mu.Unlock()
	return r.enabled
}

// SetEnabled implements jdi.EventRequest.
func (r *Request) SetEnabled(enabled bool) error {
	r.vm.mu.Lock()
	defer r.vm.mu.Unlock()
	if r.vm.closed {
		return jdi.ErrVMDisconnected
	}
	if r.deleted {
		return jdi.ErrInvalidRequestState
	}
	r.enabled = enabled
	return nil
}

// SuspendPolicy implements jdi.EventRequest.
func (r *Request) SuspendPolicy() jdi.SuspendPolicy {
	r.vm.mu.Lock()
	defer r.vm.mu.Unlock()
	return r.policy
}

// SetSuspendPolicy implements jdi.EventRequest.
func (r *Request) SetSuspendPolicy(policy jdi.SuspendPolicy) error {
	r.vm.mu.Lock()
	defer r.vm.mu.Unlock()
	if err := r.checkMutable(); err != nil {
		return err
	}
	r.policy = policy
	return nil
}

// AddClassFilter implements jdi.EventRequest.
func (r *Request) AddClassFilter(pattern string) error {
	r.vm.mu.Lock()
	defer r.vm.mu.Unlock()
	if err := r.checkMutable(); err != nil {
		return err
	}
	r.classes = append(r.classes, pattern)
	return nil
}

// AddThreadFilter implements jdi.EventRequest.
func (r *Request) AddThreadFilter(thread jdi.ThreadReference) error {
	r.vm.mu.Lock()
	defer r.vm.mu.Unlock()
	if err := r.checkMutable(); err != nil {
		return err
	}
	t, ok := thread.(*Thread)
	if !ok {
		return jdi.ErrInvalidRequestState
	}
	r.threads = append(r.threads, t)
	return nil
}

// PutProperty implements jdi.EventRequest.
func (r *Request) PutProperty(key string, value any) {
	r.vm.mu.Lock()
	defer r.vm.mu.Unlock()
	if r.props == nil {
		r.props = make(map[string]any)
	}
	r.props[key] = value
}

// Property implements jdi.EventRequest.
func (r *Request) Property(key string) any {
	r.vm.mu.Lock()
	defer r.vm.mu.Unlock()
	return r.props[key]
}

// ClassFilters returns the class filters added to the request.
func (r *Request) ClassFilters() []string {
	r.vm.mu.Lock()
	defer r.vm.mu.Unlock()
	return append([]string(nil), r.classes...)
}

// Location returns the breakpoint location, if any.
func (r *Request) Location() *Location { return r.loc }

// Deleted reports whether the request was deleted.
func (r *Request) Deleted() bool {
	r.vm.mu.Lock()
	defer r.vm.mu.Unlock()
	return r.deleted
}

func (r *Request) checkMutable() error {
	if r.vm.closed {
		return jdi.ErrVMDisconnected
	}
	if r.enabled || r.deleted {
		return jdi.ErrInvalidRequestState
	}
	return nil
}

// accepts applies the thread and class filters. Callers hold vm.mu.
func (r *Request) accepts(thread *Thread, className string) bool {
	if !r.enabled || r.deleted {
		return false
	}
	if len(r.threads) > 0 {
		found := false
		for _, t := range r.threads {
			if t == thread {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	for _, pattern := range r.classes {
		if !jdi.MatchClassPattern(pattern, className) {
			return false
		}
	}
	return true
}

type requestManager struct {
	vm *VM
}

func (m requestManager) create(r *Request) (jdi.EventRequest, error) {
	m.vm.mu.Lock()
	defer m.vm.mu.Unlock()
	if m.vm.closed {
		return nil, jdi.ErrVMDisconnected
	}
	r.vm = m.vm
	m.vm.requests = append(m.vm.requests, r)
	return r, nil
}

func (m requestManager) CreateBreakpointRequest(loc jdi.Location) (jdi.EventRequest, error) {
	l, ok := loc.(*Location)
	if !ok || l == nil {
		return nil, jdi.ErrInvalidRequestState
	}
	return m.create(&Request{kind: jdi.RequestBreakpoint, loc: l})
}

func (m requestManager) CreateExceptionRequest(refType jdi.ReferenceType, caught, uncaught bool) (jdi.EventRequest, error) {
	r := &Request{kind: jdi.RequestException, caught: caught, uncaught: uncaught}
	if refType != nil {
		c, ok := refType.(*Class)
		if !ok {
			return nil, jdi.ErrInvalidRequestState
		}
		r.refType = c
	}
	return m.create(r)
}

func (m requestManager) CreateThreadStartRequest() (jdi.EventRequest, error) {
	return m.create(&Request{kind: jdi.RequestThreadStart})
}

func (m requestManager) CreateThreadDeathRequest() (jdi.EventRequest, error) {
	return m.create(&Request{kind: jdi.RequestThreadDeath})
}

func (m requestManager) CreateClassPrepareRequest() (jdi.EventRequest, error) {
	return m.create(&Request{kind: jdi.RequestClassPrepare})
}

func (m requestManager) CreateClassUnloadRequest() (jdi.EventRequest, error) {
	return m.create(&Request{kind: jdi.RequestClassUnload})
}

func (m requestManager) CreateAccessWatchpointRequest(field jdi.Field) (jdi.EventRequest, error) {
	return m.watch(jdi.RequestAccessWatchpoint, field)
}

func (m requestManager) CreateModificationWatchpointRequest(field jdi.Field) (jdi.EventRequest, error) {
	return m.watch(jdi.RequestModificationWatchpoint, field)
}

func (m requestManager) watch(kind jdi.RequestKind, field jdi.Field) (jdi.EventRequest, error) {
	f, ok := field.(*Field)
	if !ok || f == nil {
		return nil, jdi.ErrInvalidRequestState
	}
	return m.create(&Request{kind: kind, field: f})
}

func (m requestManager) DeleteEventRequest(req jdi.EventRequest) error {
	r, ok := req.(*Request)
	if !ok {
		return jdi.ErrInvalidRequestState
	}
	m.vm.mu.Lock()
	defer m.vm.mu.Unlock()
	if m.vm.closed {
		return jdi.ErrVMDisconnected
	}
	for i, live := range m.vm.requests {
		if live == r {
			m.vm.requests = append(m.vm.requests[:i], m.vm.requests[i+1:]...)
			break
		}
	}
	r.deleted = true
	r.enabled = false
	return nil
}
