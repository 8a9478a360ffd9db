// Package matcher evaluates route match criteria against a request.
// Matchers are pure values, safe for concurrent use.
package matcher

import (
	"fmt"
	"regexp"
	"strings"
)

// Kind is the path matching strategy. The set is closed: call sites switch
// exhaustively, so a new kind is a compile-visible change.
type Kind int

const (
	Exact Kind = iota
	Prefix
	Regex
)

func (k Kind) String() string {
	switch k {
	case Exact:
		return "exact"
	case Prefix:
		return "prefix"
	case Regex:
		return "regex"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseKind maps the configuration spelling to a Kind.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(s) {
	case "exact":
		return Exact, nil
	case "prefix":
		return Prefix, nil
	case "regex":
		return Regex, nil
	}
	return 0, fmt.Errorf("unknown path match type %q", s)
}

// PathMatch tests a request path. Regex values are compiled once at
// construction and anchored at the start of the path, so a pattern never
// matches mid-path.
type PathMatch struct {
	Kind  Kind
	Value string
	re    *regexp.Regexp
}

// NewPathMatch builds a PathMatch, compiling regex values. An unparsable
// pattern is a configuration error: construction fails, matching never does.
func NewPathMatch(kind Kind, value string) (PathMatch, error) {
	m := PathMatch{Kind: kind, Value: value}
	if kind == Regex {
		re, err := regexp.Compile("^(?:" + value + ")")
		if err != nil {
			return PathMatch{}, fmt.Errorf("path regex %q: %w", value, err)
		}
		m.re = re
	}
	return m, nil
}

func (m PathMatch) matches(path string) bool {
	switch m.Kind {
	case Exact:
		return path == m.Value
	case Prefix:
		return strings.HasPrefix(path, m.Value)
	case Regex:
		return m.re.MatchString(path)
	}
	return false
}

// Match is one rule criterion: a path matcher plus an optional method
// constraint. Methods compare case-sensitively in uppercase canonical form;
// an empty Method matches any method.
type Match struct {
	Path   PathMatch
	Method string
}

// Matches reports whether the request satisfies this criterion.
func (m Match) Matches(method, path string) bool {
	if m.Method != "" && m.Method != method {
		return false
	}
	return m.Path.matches(path)
}
