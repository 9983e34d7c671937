package breakpoint

import (
	"fmt"
	"strings"
)

// Kind discriminates the breakpoint variants.
type Kind int

const (
	KindLine Kind = iota
	KindMethod
	KindException
	KindThread
	KindClass
	KindWatch
)

var kindNames = [...]string{
	KindLine:      "line",
	KindMethod:    "method",
	KindException: "exception",
	KindThread:    "thread",
	KindClass:     "class",
	KindWatch:     "watch",
}

// String returns the persisted name of the kind.
func (k Kind) String() string {
	if k >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// ParseKind converts a persisted kind name.
func ParseKind(s string) (Kind, error) {
	for k, name := range kindNames {
		if name == s {
			return Kind(k), nil
		}
	}
	return 0, fmt.Errorf("%w: unknown kind %q", ErrInvalidSpec, s)
}

// Spec is the kind-specific payload of a breakpoint. It is one of
// LineSpec, MethodSpec, ExceptionSpec, ThreadSpec, ClassSpec or WatchSpec.
type Spec interface {
	Kind() Kind
	Describe() string
	validate() error
}

// Locatable is implemented by specs that denote a place in source.
type Locatable interface {
	ClassName() string
	SourceName() string
	LineNumber() int
}

// LineSpec stops at a line of a class.
type LineSpec struct {
	Class ReferenceSpec
	// Source is the source file name, informational only.
	Source string
	Line   int
}

func (s LineSpec) Kind() Kind               { return KindLine }
func (s LineSpec) ClassName() string        { return s.Class.Pattern() }
func (s LineSpec) SourceName() string       { return s.Source }
func (s LineSpec) LineNumber() int          { return s.Line }
func (s LineSpec) Describe() string         { return fmt.Sprintf("%s:%d", s.Class, s.Line) }
func (s LineSpec) reference() ReferenceSpec { return s.Class }

func (s LineSpec) validate() error {
	if s.Class.IsZero() {
		return &PatternError{}
	}
	if s.Line < 1 {
		return fmt.Errorf("%w: %d", ErrInvalidLine, s.Line)
	}
	return nil
}

// MethodSpec stops on entry to a method. With nil Params every overload
// matches; an empty non-nil list selects the no-argument overload.
type MethodSpec struct {
	Class  ReferenceSpec
	Method string
	Params []string
}

func (s MethodSpec) Kind() Kind               { return KindMethod }
func (s MethodSpec) ClassName() string        { return s.Class.Pattern() }
func (s MethodSpec) SourceName() string       { return "" }
func (s MethodSpec) LineNumber() int          { return 0 }
func (s MethodSpec) reference() ReferenceSpec { return s.Class }

func (s MethodSpec) Describe() string {
	if s.Params == nil {
		return fmt.Sprintf("%s.%s", s.Class, s.Method)
	}
	return fmt.Sprintf("%s.%s(%s)", s.Class, s.Method, strings.Join(s.Params, ","))
}

func (s MethodSpec) validate() error {
	if s.Class.IsZero() {
		return &PatternError{}
	}
	if !isMethodName(s.Method) {
		return fmt.Errorf("%w: method %q", ErrMalformedMember, s.Method)
	}
	for _, p := range s.Params {
		if !isTypeName(p) {
			return fmt.Errorf("%w: parameter type %q", ErrMalformedMember, p)
		}
	}
	return nil
}

// ExceptionSpec stops when an exception is thrown. A zero Class matches
// every exception type without waiting for a class to load.
type ExceptionSpec struct {
	Class    ReferenceSpec
	Caught   bool
	Uncaught bool
}

func (s ExceptionSpec) Kind() Kind               { return KindException }
func (s ExceptionSpec) reference() ReferenceSpec { return s.Class }

func (s ExceptionSpec) Describe() string {
	name := s.Class.Pattern()
	if name == "" {
		name = "any exception"
	}
	switch {
	case s.Caught && s.Uncaught:
		return name
	case s.Caught:
		return name + " (caught)"
	default:
		return name + " (uncaught)"
	}
}

func (s ExceptionSpec) validate() error {
	if !s.Caught && !s.Uncaught {
		return fmt.Errorf("%w: exception breakpoint needs caught or uncaught", ErrInvalidSpec)
	}
	return nil
}

// ThreadSpec stops when threads start or die.
type ThreadSpec struct {
	OnStart bool
	OnDeath bool
}

func (s ThreadSpec) Kind() Kind { return KindThread }

func (s ThreadSpec) Describe() string {
	switch {
	case s.OnStart && s.OnDeath:
		return "thread start/death"
	case s.OnStart:
		return "thread start"
	default:
		return "thread death"
	}
}

func (s ThreadSpec) validate() error {
	if !s.OnStart && !s.OnDeath {
		return fmt.Errorf("%w: thread breakpoint needs start or death", ErrInvalidSpec)
	}
	return nil
}

// ClassSpec stops when classes are prepared or unloaded. The breakpoint's
// class filter selects which classes.
type ClassSpec struct {
	OnPrepare bool
	OnUnload  bool
}

func (s ClassSpec) Kind() Kind { return KindClass }

func (s ClassSpec) Describe() string {
	switch {
	case s.OnPrepare && s.OnUnload:
		return "class prepare/unload"
	case s.OnPrepare:
		return "class prepare"
	default:
		return "class unload"
	}
}

func (s ClassSpec) validate() error {
	if !s.OnPrepare && !s.OnUnload {
		return fmt.Errorf("%w: class breakpoint needs prepare or unload", ErrInvalidSpec)
	}
	return nil
}

// WatchSpec stops when a field is read or written.
type WatchSpec struct {
	Class    ReferenceSpec
	Field    string
	OnAccess bool
	OnModify bool
}

func (s WatchSpec) Kind() Kind               { return KindWatch }
func (s WatchSpec) reference() ReferenceSpec { return s.Class }

func (s WatchSpec) Describe() string {
	switch {
	case s.OnAccess && s.OnModify:
		return fmt.Sprintf("%s.%s access/modify", s.Class, s.Field)
	case s.OnAccess:
		return fmt.Sprintf("%s.%s access", s.Class, s.Field)
	default:
		return fmt.Sprintf("%s.%s modify", s.Class, s.Field)
	}
}

func (s WatchSpec) validate() error {
	if s.Class.IsZero() {
		return &PatternError{}
	}
	if !isJavaIdentifier(s.Field) {
		return fmt.Errorf("%w: field %q", ErrMalformedMember, s.Field)
	}
	if !s.OnAccess && !s.OnModify {
		return fmt.Errorf("%w: watch breakpoint needs access or modify", ErrInvalidSpec)
	}
	return nil
}

// resolvable is implemented by specs that must find a loaded class
// before they can install requests.
type resolvable interface {
	reference() ReferenceSpec
}

// referenceOf returns the class pattern a spec resolves against, if any.
func referenceOf(s Spec) (ReferenceSpec, bool) {
	r, ok := s.(resolvable)
	if !ok {
		return ReferenceSpec{}, false
	}
	ref := r.reference()
	return ref, !ref.IsZero()
}

// supportsClassFilter reports whether a kind's requests accept a class filter.
func supportsClassFilter(k Kind) bool {
	switch k {
	case KindException, KindClass, KindWatch:
		return true
	}
	return false
}

// supportsThreadFilter reports whether a kind's events carry a thread.
func supportsThreadFilter(k Kind) bool {
	return k != KindClass
}
