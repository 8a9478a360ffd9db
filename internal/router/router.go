// Package router holds the immutable HTTP route table. A table is built once
// from validated configuration and only ever read; reload builds a new one.
package router

import (
	"strings"

	"github.com/lanegate/lanegate/internal/hostspec"
	"github.com/lanegate/lanegate/internal/model"
)

// Hostname precedence classes, best first. Two distinct specs of the same
// class can never both match one host (label counts must agree exactly), so
// declaration order settles everything within a class.
const (
	classLiteral = iota
	classWildcard
	classAny
	classNone
)

// Resolution names what matched: the route, the winning rule's position in
// it, and the service that rule selects.
type Resolution struct {
	Route   *model.Route
	Rule    int
	Service string
}

// Table resolves (server, host, request) to a service. Read-only after New.
type Table struct {
	byServer map[string][]model.Route
}

func New(routes []model.Route) *Table {
	t := &Table{byServer: make(map[string][]model.Route)}
	for _, r := range routes {
		t.byServer[r.Server] = append(t.byServer[r.Server], r)
	}
	return t
}

// Resolve picks the route with the most specific hostname match (literal
// over wildcard, hostless routes last, declaration order breaking ties),
// then scans its rules in declaration order for the first whose matches all
// pass. A selected route whose rules all fail resolves to nothing; there is
// no fallthrough to a less specific route.
func (t *Table) Resolve(server, host, method, path string) (Resolution, bool) {
	routes, ok := t.byServer[server]
	if !ok {
		return Resolution{}, false
	}

	hostname, haveHost := parseHost(host)

	best := classNone
	var selected *model.Route
	for i := range routes {
		r := &routes[i]
		c := hostClass(r, hostname, haveHost)
		if c < best {
			best = c
			selected = r
		}
	}
	if selected == nil {
		return Resolution{}, false
	}

	for i, rule := range selected.Rules {
		if ruleMatches(rule, method, path) {
			return Resolution{Route: selected, Rule: i, Service: rule.Service}, true
		}
	}
	return Resolution{}, false
}

func hostClass(r *model.Route, h hostspec.Hostname, haveHost bool) int {
	if len(r.Hostnames) == 0 {
		return classAny
	}
	if !haveHost {
		return classNone
	}
	c := classNone
	for _, spec := range r.Hostnames {
		if !spec.Matches(h) {
			continue
		}
		if !spec.Wildcard() {
			return classLiteral
		}
		c = classWildcard
	}
	return c
}

func ruleMatches(rule model.Rule, method, path string) bool {
	for _, m := range rule.Matches {
		if !m.Matches(method, path) {
			return false
		}
	}
	// an empty match list matches everything
	return true
}

// parseHost normalizes an HTTP Host header value: port stripped, lowercased,
// then validated as a concrete hostname.
func parseHost(host string) (hostspec.Hostname, bool) {
	if i := strings.IndexByte(host, ':'); i >= 0 {
		host = host[:i]
	}
	h, err := hostspec.ParseHost(strings.ToLower(host))
	if err != nil {
		return hostspec.Hostname{}, false
	}
	return h, true
}
