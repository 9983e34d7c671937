package breakpoint

import (
	"strings"
	"unicode"
)

// ReferenceSpec matches class names against a pattern: an exact name, a
// name with one leading '*' (suffix match) or one trailing '*' (prefix
// match). A lone "*" matches every class.
type ReferenceSpec struct {
	pattern string
	tame    string
	suffix  bool
	prefix  bool
}

// ParseReferenceSpec validates pattern as dot-separated Java identifiers
// with at most one wildcard at either end.
func ParseReferenceSpec(pattern string) (ReferenceSpec, error) {
	s := ReferenceSpec{pattern: pattern}
	switch {
	case pattern == "":
		return ReferenceSpec{}, &PatternError{Pattern: pattern}
	case pattern == "*":
		s.prefix = true
		return s, nil
	case strings.HasPrefix(pattern, "*"):
		s.suffix = true
		s.tame = pattern[1:]
	case strings.HasSuffix(pattern, "*"):
		s.prefix = true
		s.tame = pattern[:len(pattern)-1]
	default:
		s.tame = pattern
	}
	if strings.Contains(s.tame, "*") {
		return ReferenceSpec{}, &PatternError{Pattern: pattern, Part: "*"}
	}

	parts := strings.Split(s.tame, ".")
	for i, part := range parts {
		if part == "" {
			// "*.Foo" and "pkg.*" leave an empty token next to the wildcard.
			if (i == 0 && s.suffix) || (i == len(parts)-1 && s.prefix) {
				continue
			}
			return ReferenceSpec{}, &PatternError{Pattern: pattern, Part: part}
		}
		if !isJavaIdentifier(part) {
			return ReferenceSpec{}, &PatternError{Pattern: pattern, Part: part}
		}
	}
	return s, nil
}

// MustReferenceSpec is like ParseReferenceSpec but panics on error.
func MustReferenceSpec(pattern string) ReferenceSpec {
	s, err := ParseReferenceSpec(pattern)
	if err != nil {
		panic(err)
	}
	return s
}

// Pattern returns the pattern as given.
func (s ReferenceSpec) Pattern() string { return s.pattern }

// String implements fmt.Stringer.
func (s ReferenceSpec) String() string { return s.pattern }

// IsZero reports whether s was never set.
func (s ReferenceSpec) IsZero() bool { return s.pattern == "" }

// IsExact reports whether the pattern has no wildcard.
func (s ReferenceSpec) IsExact() bool {
	return s.pattern != "" && !s.prefix && !s.suffix
}

// Matches reports whether name satisfies the pattern.
func (s ReferenceSpec) Matches(name string) bool {
	switch {
	case s.suffix:
		return strings.HasSuffix(name, s.tame)
	case s.prefix:
		return strings.HasPrefix(name, s.tame)
	default:
		return s.pattern != "" && name == s.tame
	}
}

// MatchesNested reports whether name is the pattern's class or, for an
// exact pattern, one of its nested classes.
func (s ReferenceSpec) MatchesNested(name string) bool {
	if s.Matches(name) {
		return true
	}
	if !s.IsExact() {
		return false
	}
	return strings.HasPrefix(name, s.tame+"$") || strings.HasPrefix(name, s.tame+".")
}

// PrepareFilters returns the class filters of the class-prepare
// subscriptions needed to learn about matching classes. An exact pattern
// also listens for its nested classes. An empty filter means no filter.
func (s ReferenceSpec) PrepareFilters() []string {
	switch {
	case s.tame == "" && s.prefix:
		return []string{""}
	case s.IsExact():
		return []string{s.tame, s.tame + ".*", s.tame + "$*"}
	default:
		return []string{s.pattern}
	}
}

func isJavaIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_' || r == '$' || unicode.IsLetter(r):
		case i > 0 && unicode.IsDigit(r):
		default:
			return false
		}
	}
	return true
}

// isMethodName accepts identifiers plus the constructor and static
// initializer names.
func isMethodName(s string) bool {
	return s == "<init>" || s == "<clinit>" || isJavaIdentifier(s)
}

// isTypeName accepts a dotted identifier with optional array brackets,
// such as "int", "java.lang.String" or "byte[][]".
func isTypeName(s string) bool {
	for strings.HasSuffix(s, "[]") {
		s = s[:len(s)-2]
	}
	if s == "" {
		return false
	}
	for _, part := range strings.Split(s, ".") {
		if !isJavaIdentifier(part) {
			return false
		}
	}
	return true
}
