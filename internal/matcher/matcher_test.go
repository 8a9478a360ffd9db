package matcher

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustPath(t *testing.T, kind Kind, value string) PathMatch {
	t.Helper()
	m, err := NewPathMatch(kind, value)
	require.NoError(t, err)
	return m
}

func TestExact(t *testing.T) {
	m := Match{Path: mustPath(t, Exact, "/exact")}

	assert.True(t, m.Matches("GET", "/exact"))
	assert.False(t, m.Matches("GET", "/exact/"))
	assert.False(t, m.Matches("GET", "/exactly"))
}

func TestPrefix(t *testing.T) {
	m := Match{Path: mustPath(t, Prefix, "/prefix")}

	assert.True(t, m.Matches("GET", "/prefix"))
	assert.True(t, m.Matches("GET", "/prefix/x"))
	// plain string prefix: no segment boundary
	assert.True(t, m.Matches("GET", "/prefixabc"))
	assert.False(t, m.Matches("GET", "/pref"))
}

func TestRegex(t *testing.T) {
	m := Match{Path: mustPath(t, Regex, "/regex/[a-z]+")}

	assert.True(t, m.Matches("GET", "/regex/abc"))
	assert.False(t, m.Matches("GET", "/regex/123"))
	assert.False(t, m.Matches("GET", "/regex/"))
}

func TestRegex_AnchoredAtStart(t *testing.T) {
	m := Match{Path: mustPath(t, Regex, "/v[0-9]+")}

	assert.True(t, m.Matches("GET", "/v1/items"))
	assert.False(t, m.Matches("GET", "/api/v1/items"))
}

func TestRegex_InvalidPatternFailsConstruction(t *testing.T) {
	_, err := NewPathMatch(Regex, "/bad[")
	assert.Error(t, err)
}

func TestMethodConstraint(t *testing.T) {
	m := Match{Path: mustPath(t, Exact, "/method"), Method: "POST"}

	assert.True(t, m.Matches("POST", "/method"))
	assert.False(t, m.Matches("GET", "/method"))
	// case-sensitive, uppercase canonical
	assert.False(t, m.Matches("post", "/method"))

	any := Match{Path: mustPath(t, Exact, "/method")}
	assert.True(t, any.Matches("DELETE", "/method"))
}

func TestParseKind(t *testing.T) {
	for in, want := range map[string]Kind{"Exact": Exact, "prefix": Prefix, "Regex": Regex} {
		got, err := ParseKind(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseKind("glob")
	assert.Error(t, err)
}
