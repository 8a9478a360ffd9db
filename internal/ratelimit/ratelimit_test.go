package ratelimit

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAllow_BurstThenReject(t *testing.T) {
	l := NewLimiter()

	// 1 rps with burst 3: first three pass, fourth rejected
	for i := 0; i < 3; i++ {
		assert.True(t, l.Allow("route-a", 1, 3), "burst request %d", i)
	}
	assert.False(t, l.Allow("route-a", 1, 3))
}

func TestAllow_KeysAreIndependent(t *testing.T) {
	l := NewLimiter()

	assert.True(t, l.Allow("route-a", 1, 1))
	assert.False(t, l.Allow("route-a", 1, 1))
	assert.True(t, l.Allow("route-b", 1, 1), "another route has its own bucket")
}

func TestAllow_ReconfiguresOnChange(t *testing.T) {
	l := NewLimiter()

	assert.True(t, l.Allow("route-a", 1, 1))
	assert.False(t, l.Allow("route-a", 1, 1))

	// a reload raising the burst takes effect on the existing bucket
	assert.True(t, l.Allow("route-a", 100, 50))
}

func TestRemove(t *testing.T) {
	l := NewLimiter()

	assert.True(t, l.Allow("route-a", 1, 1))
	assert.False(t, l.Allow("route-a", 1, 1))
	l.Remove("route-a")
	// fresh bucket after removal
	assert.True(t, l.Allow("route-a", 1, 1))
}
