// Package hostspec parses and matches RFC 1123 hostnames with optional
// single-label wildcards ("*.example.com").
package hostspec

import (
	"errors"
	"net"
	"regexp"
	"strings"
)

var (
	ErrEmpty           = errors.New("hostname is empty")
	ErrEmptyLabel      = errors.New("hostname has an empty label")
	ErrInvalidLabel    = errors.New("hostname label is not RFC 1123")
	ErrInvalidWildcard = errors.New("wildcard must be the sole first label")
	ErrUnexpectedIP    = errors.New("IP addresses are not valid hostnames")
	ErrWildcardHost    = errors.New("a concrete hostname cannot be a wildcard")
)

var labelRe = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]*[a-z0-9])?$`)

// Spec is a hostname pattern from configuration: either a precise hostname
// ("foo.example.com") or a wildcard one ("*.example.com"). The wildcard
// stands for exactly one label; it does not match the bare domain.
type Spec struct {
	// labels are stored reversed (TLD first): matching walks from the end.
	labels   []string
	wildcard bool
}

// Parse validates value as a hostname spec.
//
// This matches the RFC 1123 definition of a hostname with two exceptions:
// IPs are rejected, and the spec may be prefixed with a single wildcard
// label. Labels are lower-case alphanumerics or '-', and must start and end
// with an alphanumeric.
func Parse(value string) (Spec, error) {
	if value == "" {
		return Spec{}, ErrEmpty
	}
	if net.ParseIP(value) != nil {
		return Spec{}, ErrUnexpectedIP
	}

	parts := strings.Split(value, ".")
	var s Spec
	for i := len(parts) - 1; i >= 0; i-- {
		label := parts[i]
		if label == "" {
			return Spec{}, ErrEmptyLabel
		}
		// Anything to the left of a wildcard is invalid.
		if s.wildcard {
			return Spec{}, ErrInvalidWildcard
		}
		if label == "*" {
			s.wildcard = true
			continue
		}
		if !labelRe.MatchString(label) {
			return Spec{}, ErrInvalidLabel
		}
		s.labels = append(s.labels, label)
	}
	return s, nil
}

// MustParse is Parse for static specs in tests.
func MustParse(value string) Spec {
	s, err := Parse(value)
	if err != nil {
		panic(err)
	}
	return s
}

// Wildcard reports whether the spec has a wildcard first label.
func (s Spec) Wildcard() bool { return s.wildcard }

// Labels returns the number of literal labels in the spec.
func (s Spec) Labels() int { return len(s.labels) }

// Matches reports whether the spec covers hostname h. A wildcard spec
// requires exactly one extra label on the host side.
func (s Spec) Matches(h Hostname) bool {
	want := len(s.labels)
	if s.wildcard {
		want++
	}
	if len(h.labels) != want {
		return false
	}
	for i, label := range s.labels {
		if h.labels[i] != label {
			return false
		}
	}
	return true
}

// String reassembles the spec in its configuration form.
func (s Spec) String() string {
	parts := make([]string, 0, len(s.labels)+1)
	if s.wildcard {
		parts = append(parts, "*")
	}
	for i := len(s.labels) - 1; i >= 0; i-- {
		parts = append(parts, s.labels[i])
	}
	return strings.Join(parts, ".")
}

// Hostname is a concrete (wildcard-free) host, e.g. an HTTP Host header
// value with any port already stripped.
type Hostname struct {
	labels []string
}

// ParseHost validates a concrete hostname. Wildcards are rejected.
func ParseHost(value string) (Hostname, error) {
	s, err := Parse(value)
	if err != nil {
		return Hostname{}, err
	}
	if s.wildcard {
		return Hostname{}, ErrWildcardHost
	}
	return Hostname{labels: s.labels}, nil
}
