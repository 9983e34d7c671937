package jditest

import (
	"fmt"

	"github.com/dshills/jswat/internal/jdi"
)

// Class is a fake reference type.
type Class struct {
	vm       *VM
	name     string
	loader   uint64
	source   string
	super    string
	absent   bool
	loaded   bool
	prepared bool
	lines    []*Location
	methods  []*Method
	fields   []*Field
	nested   []*Class
}

// ClassOption configures a Class.
type ClassOption func(*Class)

// Loader sets the defining class loader identifier.
func Loader(id uint64) ClassOption {
	return func(c *Class) { c.loader = id }
}

// Source sets the source file name.
func Source(name string) ClassOption {
	return func(c *Class) { c.source = name }
}

// Extends sets the superclass name, used for exception matching.
func Extends(name string) ClassOption {
	return func(c *Class) { c.super = name }
}

// NoLineInfo makes line queries fail with jdi.ErrAbsentInformation.
func NoLineInfo() ClassOption {
	return func(c *Class) { c.absent = true }
}

// Lines adds executable lines to method, creating the method if needed.
func Lines(method string, lines ...int) ClassOption {
	return func(c *Class) {
		m := c.method(method)
		for _, line := range lines {
			c.addLine(m, line)
		}
	}
}

// WithMethod declares a method whose first executable line is line.
// A line of 0 declares an abstract method.
func WithMethod(name string, line int, args ...string) ClassOption {
	return func(c *Class) {
		m := &Method{class: c, name: name, args: args}
		c.methods = append(c.methods, m)
		if line > 0 {
			m.loc = c.addLine(m, line)
		}
	}
}

// WithField declares a field.
func WithField(name string) ClassOption {
	return func(c *Class) {
		c.fields = append(c.fields, &Field{class: c, name: name})
	}
}

// Nested records inner as a nested type of the class.
func Nested(inner *Class) ClassOption {
	return func(c *Class) { c.nested = append(c.nested, inner) }
}

// NewClass builds a class that is not yet loaded into any VM.
func NewClass(name string, opts ...ClassOption) *Class {
	c := &Class{name: name}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Class) method(name string) *Method {
	for _, m := range c.methods {
		if m.name == name {
			return m
		}
	}
	m := &Method{class: c, name: name}
	c.methods = append(c.methods, m)
	return m
}

func (c *Class) addLine(m *Method, line int) *Location {
	loc := &Location{class: c, method: m.name, line: line, index: int64(len(c.lines))}
	c.lines = append(c.lines, loc)
	if m.loc == nil {
		m.loc = loc
	}
	return loc
}

// Location returns the first location on line, or nil.
func (c *Class) Location(line int) *Location {
	for _, loc := range c.lines {
		if loc.line == line {
			return loc
		}
	}
	return nil
}

// String implements fmt.Stringer.
func (c *Class) String() string {
	return fmt.Sprintf("%s@%d", c.name, c.loader)
}

// Name implements jdi.ReferenceType.
func (c *Class) Name() string { return c.name }

// ClassLoader implements jdi.ReferenceType.
func (c *Class) ClassLoader() uint64 { return c.loader }

// IsPrepared implements jdi.ReferenceType.
func (c *Class) IsPrepared() bool {
	if c.vm == nil {
		return c.prepared
	}
	c.vm.mu.Lock()
	defer c.vm.mu.Unlock()
	return c.prepared
}

// SourceName implements jdi.ReferenceType.
func (c *Class) SourceName() (string, error) {
	if c.absent || c.source == "" {
		return "", jdi.ErrAbsentInformation
	}
	return c.source, nil
}

// LocationsOfLine implements jdi.ReferenceType.
func (c *Class) LocationsOfLine(line int) ([]jdi.Location, error) {
	if c.absent {
		return nil, jdi.ErrAbsentInformation
	}
	var out []jdi.Location
	for _, loc := range c.lines {
		if loc.line == line {
			out = append(out, loc)
		}
	}
	return out, nil
}

// MethodsByName implements jdi.ReferenceType.
func (c *Class) MethodsByName(name string) ([]jdi.Method, error) {
	var out []jdi.Method
	for _, m := range c.methods {
		if m.name == name {
			out = append(out, m)
		}
	}
	return out, nil
}

// FieldByName implements jdi.ReferenceType.
func (c *Class) FieldByName(name string) (jdi.Field, error) {
	for _, f := range c.fields {
		if f.name == name {
			return f, nil
		}
	}
	return nil, nil
}

// NestedTypes implements jdi.ReferenceType. Only loaded nested types are
// reported.
func (c *Class) NestedTypes() ([]jdi.ReferenceType, error) {
	var out []jdi.ReferenceType
	for _, n := range c.nested {
		if n.vm != nil && n.loaded {
			out = append(out, n)
		}
	}
	return out, nil
}

// Method is a fake method.
type Method struct {
	class *Class
	name  string
	args  []string
	loc   *Location
}

// Name implements jdi.Method.
func (m *Method) Name() string { return m.name }

// DeclaringType implements jdi.Method.
func (m *Method) DeclaringType() jdi.ReferenceType { return m.class }

// ArgumentTypeNames implements jdi.Method.
func (m *Method) ArgumentTypeNames() []string { return m.args }

// Location implements jdi.Method.
func (m *Method) Location() jdi.Location {
	if m.loc == nil {
		return nil
	}
	return m.loc
}

// Field is a fake field.
type Field struct {
	class *Class
	name  string
}

// Name implements jdi.Field.
func (f *Field) Name() string { return f.name }

// DeclaringType implements jdi.Field.
func (f *Field) DeclaringType() jdi.ReferenceType { return f.class }

// Location is a fake code position.
type Location struct {
	class  *Class
	method string
	line   int
	index  int64
}

// DeclaringType implements jdi.Location.
func (l *Location) DeclaringType() jdi.ReferenceType { return l.class }

// MethodName implements jdi.Location.
func (l *Location) MethodName() string { return l.method }

// LineNumber implements jdi.Location.
func (l *Location) LineNumber() int { return l.line }

// CodeIndex implements jdi.Location.
func (l *Location) CodeIndex() int64 { return l.index }

// String implements fmt.Stringer.
func (l *Location) String() string {
	return fmt.Sprintf("%s.%s:%d", l.class.name, l.method, l.line)
}
