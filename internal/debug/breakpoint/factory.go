package breakpoint

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dshills/jswat/internal/jdi"
)

// Factory builds validated breakpoints. The zero value is usable.
type Factory struct {
	// DefaultPolicy is the suspend policy given to new breakpoints.
	DefaultPolicy jdi.SuspendPolicy
}

// BreakpointOption adjusts a new breakpoint before it is returned.
type BreakpointOption func(*Breakpoint) error

// WithSuspendPolicy overrides the factory's default policy.
func WithSuspendPolicy(p jdi.SuspendPolicy) BreakpointOption {
	return func(b *Breakpoint) error {
		if p < jdi.SuspendAll || p > jdi.SuspendNone {
			return fmt.Errorf("%w: %d", ErrInvalidPolicy, int(p))
		}
		b.policy = p
		return nil
	}
}

// WithClassFilter sets the class filter.
func WithClassFilter(pattern string) BreakpointOption {
	return func(b *Breakpoint) error {
		if !supportsClassFilter(b.Kind()) {
			return fmt.Errorf("%w: class filter on %s breakpoint", ErrUnsupportedFilter, b.Kind())
		}
		if _, err := ParseReferenceSpec(pattern); err != nil {
			return err
		}
		b.classFilter = pattern
		return nil
	}
}

// WithThreadFilter sets the thread name filter.
func WithThreadFilter(name string) BreakpointOption {
	return func(b *Breakpoint) error {
		if !supportsThreadFilter(b.Kind()) {
			return fmt.Errorf("%w: thread filter on %s breakpoint", ErrUnsupportedFilter, b.Kind())
		}
		b.threadFilter = name
		return nil
	}
}

// WithSkipCount sets the number of hits to skip.
func WithSkipCount(n int) BreakpointOption {
	return func(b *Breakpoint) error {
		if n < 0 {
			return fmt.Errorf("%w: negative skip count", ErrInvalidSpec)
		}
		b.skipCount = n
		return nil
	}
}

// WithExpireCount sets the hit count at which the breakpoint expires.
func WithExpireCount(n int) BreakpointOption {
	return func(b *Breakpoint) error {
		if n < 0 {
			return fmt.Errorf("%w: negative expire count", ErrInvalidSpec)
		}
		b.expireCount = n
		return nil
	}
}

// WithDeleteOnExpire removes the breakpoint once it expires.
func WithDeleteOnExpire() BreakpointOption {
	return func(b *Breakpoint) error {
		b.deleteOnExpire = true
		return nil
	}
}

// WithCondition adds a condition.
func WithCondition(c Condition) BreakpointOption {
	return func(b *Breakpoint) error {
		b.conditions = append(b.conditions, c)
		return nil
	}
}

// WithMonitor adds a monitor.
func WithMonitor(m Monitor) BreakpointOption {
	return func(b *Breakpoint) error {
		b.monitors = append(b.monitors, m)
		return nil
	}
}

// Disabled creates the breakpoint with its own flag cleared.
func Disabled() BreakpointOption {
	return func(b *Breakpoint) error {
		b.enabled = false
		return nil
	}
}

// New validates spec and builds a detached breakpoint.
func (f Factory) New(spec Spec, opts ...BreakpointOption) (*Breakpoint, error) {
	if spec == nil {
		return nil, fmt.Errorf("%w: nil spec", ErrInvalidSpec)
	}
	if err := spec.validate(); err != nil {
		return nil, err
	}
	b := newBreakpoint(spec)
	b.policy = f.DefaultPolicy
	for _, opt := range opts {
		if err := opt(b); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// NewLine builds a line breakpoint on class pattern at line.
func (f Factory) NewLine(class string, line int, opts ...BreakpointOption) (*Breakpoint, error) {
	ref, err := ParseReferenceSpec(class)
	if err != nil {
		return nil, err
	}
	return f.New(LineSpec{Class: ref, Line: line}, opts...)
}

// NewLineInSource builds a line breakpoint for a source file, deriving
// the class pattern from the package and file name. Classes compiled
// from the file but named differently are missed.
func (f Factory) NewLineInSource(pkg, source string, line int, opts ...BreakpointOption) (*Breakpoint, error) {
	base := source
	if i := strings.LastIndexAny(base, `/\`); i >= 0 {
		base = base[i+1:]
	}
	class := strings.TrimSuffix(base, ".java")
	if pkg != "" {
		class = pkg + "." + class
	}
	ref, err := ParseReferenceSpec(class)
	if err != nil {
		return nil, err
	}
	return f.New(LineSpec{Class: ref, Source: base, Line: line}, opts...)
}

// NewMethod builds a method entry breakpoint. With params nil every
// overload matches.
func (f Factory) NewMethod(class, method string, params []string, opts ...BreakpointOption) (*Breakpoint, error) {
	ref, err := ParseReferenceSpec(class)
	if err != nil {
		return nil, err
	}
	return f.New(MethodSpec{Class: ref, Method: method, Params: params}, opts...)
}

// NewException builds an exception breakpoint on class and subclasses.
func (f Factory) NewException(class string, caught, uncaught bool, opts ...BreakpointOption) (*Breakpoint, error) {
	ref, err := ParseReferenceSpec(class)
	if err != nil {
		return nil, err
	}
	return f.New(ExceptionSpec{Class: ref, Caught: caught, Uncaught: uncaught}, opts...)
}

// NewUncaughtException builds a breakpoint on every uncaught exception.
func (f Factory) NewUncaughtException(opts ...BreakpointOption) (*Breakpoint, error) {
	return f.New(ExceptionSpec{Uncaught: true}, opts...)
}

// NewThread builds a thread start/death breakpoint.
func (f Factory) NewThread(onStart, onDeath bool, opts ...BreakpointOption) (*Breakpoint, error) {
	return f.New(ThreadSpec{OnStart: onStart, OnDeath: onDeath}, opts...)
}

// NewClass builds a class prepare/unload breakpoint.
func (f Factory) NewClass(onPrepare, onUnload bool, opts ...BreakpointOption) (*Breakpoint, error) {
	return f.New(ClassSpec{OnPrepare: onPrepare, OnUnload: onUnload}, opts...)
}

// NewWatch builds a field watchpoint.
func (f Factory) NewWatch(class, field string, onAccess, onModify bool, opts ...BreakpointOption) (*Breakpoint, error) {
	ref, err := ParseReferenceSpec(class)
	if err != nil {
		return nil, err
	}
	return f.New(WatchSpec{Class: ref, Field: field, OnAccess: onAccess, OnModify: onModify}, opts...)
}

// Parse builds a breakpoint from the command line syntax:
//
//	pkg.Class:42               line
//	pkg.Class.method           method, any overload
//	pkg.Class.method(int,String) method with exact parameters
func (f Factory) Parse(text string, opts ...BreakpointOption) (*Breakpoint, error) {
	text = strings.TrimSpace(text)
	if class, line, ok := strings.Cut(text, ":"); ok {
		n, err := strconv.Atoi(line)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidLine, line)
		}
		return f.NewLine(class, n, opts...)
	}

	var params []string
	if open := strings.IndexByte(text, '('); open >= 0 {
		if !strings.HasSuffix(text, ")") {
			return nil, fmt.Errorf("%w: unbalanced parameter list in %q", ErrMalformedMember, text)
		}
		list := text[open+1 : len(text)-1]
		text = text[:open]
		params = []string{}
		if strings.TrimSpace(list) != "" {
			for _, p := range strings.Split(list, ",") {
				params = append(params, strings.TrimSpace(p))
			}
		}
	}
	dot := strings.LastIndexByte(text, '.')
	if dot <= 0 {
		return nil, fmt.Errorf("%w: %q needs Class.method or Class:line", ErrMalformedMember, text)
	}
	return f.NewMethod(text[:dot], text[dot+1:], params, opts...)
}
