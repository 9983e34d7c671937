package breakpoint

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dshills/jswat/internal/jdi"
)

// Properties is the flat string bag a breakpoint is persisted as.
type Properties map[string]string

// Property keys.
const (
	PropKind           = "kind"
	PropEnabled        = "enabled"
	PropSuspendPolicy  = "suspendPolicy"
	PropClass          = "class"
	PropSource         = "source"
	PropLine           = "line"
	PropMethod         = "method"
	PropParams         = "params"
	PropField          = "field"
	PropOnAccess       = "onAccess"
	PropOnModify       = "onModify"
	PropCaught         = "caught"
	PropUncaught       = "uncaught"
	PropOnStart        = "onStart"
	PropOnDeath        = "onDeath"
	PropOnPrepare      = "onPrepare"
	PropOnUnload       = "onUnload"
	PropSkipCount      = "skipCount"
	PropExpireCount    = "expireCount"
	PropDeleteOnExpire = "deleteOnExpire"
	PropClassFilter    = "classFilter"
	PropThreadFilter   = "threadFilter"
	PropGroup          = "group"
)

// WriteProperties returns the persistent form of b. Conditions and
// monitors are runtime objects and are not persisted.
func (b *Breakpoint) WriteProperties() Properties {
	b.mu.Lock()
	defer b.mu.Unlock()

	p := Properties{
		PropKind:          b.spec.Kind().String(),
		PropEnabled:       strconv.FormatBool(b.enabled),
		PropSuspendPolicy: b.policy.String(),
	}
	if b.skipCount > 0 {
		p[PropSkipCount] = strconv.Itoa(b.skipCount)
	}
	if b.expireCount > 0 {
		p[PropExpireCount] = strconv.Itoa(b.expireCount)
	}
	if b.deleteOnExpire {
		p[PropDeleteOnExpire] = "true"
	}
	if b.classFilter != "" {
		p[PropClassFilter] = b.classFilter
	}
	if b.threadFilter != "" {
		p[PropThreadFilter] = b.threadFilter
	}
	if b.group != nil && b.group.Parent() != nil {
		p[PropGroup] = b.group.Path()
	}

	switch s := b.spec.(type) {
	case LineSpec:
		p[PropClass] = s.Class.Pattern()
		p[PropLine] = strconv.Itoa(s.Line)
		if s.Source != "" {
			p[PropSource] = s.Source
		}
	case MethodSpec:
		p[PropClass] = s.Class.Pattern()
		p[PropMethod] = s.Method
		if s.Params != nil {
			p[PropParams] = strings.Join(s.Params, ",")
		}
	case ExceptionSpec:
		if !s.Class.IsZero() {
			p[PropClass] = s.Class.Pattern()
		}
		p[PropCaught] = strconv.FormatBool(s.Caught)
		p[PropUncaught] = strconv.FormatBool(s.Uncaught)
	case ThreadSpec:
		p[PropOnStart] = strconv.FormatBool(s.OnStart)
		p[PropOnDeath] = strconv.FormatBool(s.OnDeath)
	case ClassSpec:
		p[PropOnPrepare] = strconv.FormatBool(s.OnPrepare)
		p[PropOnUnload] = strconv.FormatBool(s.OnUnload)
	case WatchSpec:
		p[PropClass] = s.Class.Pattern()
		p[PropField] = s.Field
		p[PropOnAccess] = strconv.FormatBool(s.OnAccess)
		p[PropOnModify] = strconv.FormatBool(s.OnModify)
	}
	return p
}

// ReadProperties restores the common attributes of b from p. The kind in
// p must match, and b must not be registered yet.
func (b *Breakpoint) ReadProperties(p Properties) error {
	kind, err := ParseKind(p[PropKind])
	if err != nil {
		return err
	}
	if kind != b.Kind() {
		return fmt.Errorf("%w: properties describe a %s breakpoint, not %s", ErrInvalidSpec, kind, b.Kind())
	}

	r := propReader{p: p}
	enabled := r.boolean(PropEnabled, true)
	skip := r.count(PropSkipCount)
	expire := r.count(PropExpireCount)
	del := r.boolean(PropDeleteOnExpire, false)
	policy, perr := jdi.ParseSuspendPolicy(p[PropSuspendPolicy])
	if perr != nil {
		r.fail(fmt.Errorf("%w: %v", ErrInvalidPolicy, perr))
	}
	classFilter := p[PropClassFilter]
	if classFilter != "" {
		if !supportsClassFilter(kind) {
			r.fail(fmt.Errorf("%w: class filter on %s breakpoint", ErrUnsupportedFilter, kind))
		} else if _, err := ParseReferenceSpec(classFilter); err != nil {
			r.fail(err)
		}
	}
	threadFilter := p[PropThreadFilter]
	if threadFilter != "" && !supportsThreadFilter(kind) {
		r.fail(fmt.Errorf("%w: thread filter on %s breakpoint", ErrUnsupportedFilter, kind))
	}
	if r.err != nil {
		return r.err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.reg != nil {
		return fmt.Errorf("%w: cannot read properties into a registered breakpoint", ErrInvalidState)
	}
	b.enabled = enabled
	b.policy = policy
	b.skipCount = skip
	b.expireCount = expire
	b.deleteOnExpire = del
	b.classFilter = classFilter
	b.threadFilter = threadFilter
	return nil
}

// FromProperties builds a detached breakpoint from its persistent form.
func (f Factory) FromProperties(p Properties) (*Breakpoint, error) {
	kind, err := ParseKind(p[PropKind])
	if err != nil {
		return nil, err
	}

	r := propReader{p: p}
	var spec Spec
	switch kind {
	case KindLine:
		spec = LineSpec{Class: r.reference(PropClass), Source: p[PropSource], Line: r.integer(PropLine)}
	case KindMethod:
		var params []string
		if list, ok := p[PropParams]; ok {
			params = []string{}
			if list != "" {
				params = strings.Split(list, ",")
			}
		}
		spec = MethodSpec{Class: r.reference(PropClass), Method: p[PropMethod], Params: params}
	case KindException:
		var ref ReferenceSpec
		if p[PropClass] != "" {
			ref = r.reference(PropClass)
		}
		spec = ExceptionSpec{Class: ref, Caught: r.boolean(PropCaught, false), Uncaught: r.boolean(PropUncaught, false)}
	case KindThread:
		spec = ThreadSpec{OnStart: r.boolean(PropOnStart, false), OnDeath: r.boolean(PropOnDeath, false)}
	case KindClass:
		spec = ClassSpec{OnPrepare: r.boolean(PropOnPrepare, false), OnUnload: r.boolean(PropOnUnload, false)}
	case KindWatch:
		spec = WatchSpec{
			Class:    r.reference(PropClass),
			Field:    p[PropField],
			OnAccess: r.boolean(PropOnAccess, false),
			OnModify: r.boolean(PropOnModify, false),
		}
	}
	if r.err != nil {
		return nil, r.err
	}

	b, err := f.New(spec)
	if err != nil {
		return nil, err
	}
	if err := b.ReadProperties(p); err != nil {
		return nil, err
	}
	return b, nil
}

// propReader parses typed values out of a bag, keeping the first error.
type propReader struct {
	p   Properties
	err error
}

func (r *propReader) fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

func (r *propReader) boolean(key string, def bool) bool {
	v, ok := r.p[key]
	if !ok || v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.fail(fmt.Errorf("%w: %s=%q", ErrInvalidSpec, key, v))
		return def
	}
	return b
}

func (r *propReader) integer(key string) int {
	v := r.p[key]
	n, err := strconv.Atoi(v)
	if err != nil {
		r.fail(fmt.Errorf("%w: %s=%q", ErrInvalidSpec, key, v))
	}
	return n
}

func (r *propReader) count(key string) int {
	if _, ok := r.p[key]; !ok {
		return 0
	}
	n := r.integer(key)
	if n < 0 {
		r.fail(fmt.Errorf("%w: negative %s", ErrInvalidSpec, key))
		return 0
	}
	return n
}

func (r *propReader) reference(key string) ReferenceSpec {
	ref, err := ParseReferenceSpec(r.p[key])
	if err != nil {
		r.fail(err)
	}
	return ref
}
