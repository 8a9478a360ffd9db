package lb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanegate/lanegate/internal/model"
)

func TestRoundRobin_Cycles(t *testing.T) {
	svc := model.Service{
		Policy: model.PolicyRoundRobin,
		Backends: []model.Backend{
			{IP: "10.0.0.1", Port: 80},
			{IP: "10.0.0.2", Port: 80},
			{IP: "10.0.0.3", Port: 80},
		},
	}
	b := New(svc)

	want := []string{"10.0.0.1", "10.0.0.2", "10.0.0.3", "10.0.0.1", "10.0.0.2"}
	for i, ip := range want {
		got, ok := b.Pick()
		require.True(t, ok)
		assert.Equal(t, ip, got.IP, "pick %d", i)
	}
}

func TestRandom_StaysInSet(t *testing.T) {
	svc := model.Service{
		Policy: model.PolicyRandom,
		Backends: []model.Backend{
			{IP: "10.0.0.1", Port: 80},
			{IP: "10.0.0.2", Port: 80},
		},
	}
	b := New(svc)

	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		got, ok := b.Pick()
		require.True(t, ok)
		seen[got.IP] = true
		assert.Contains(t, []string{"10.0.0.1", "10.0.0.2"}, got.IP)
	}
	// with 100 draws over 2 backends both should appear
	assert.Len(t, seen, 2)
}

func TestPick_EmptySet(t *testing.T) {
	b := New(model.Service{Policy: model.PolicyRoundRobin})
	_, ok := b.Pick()
	assert.False(t, ok)
}
