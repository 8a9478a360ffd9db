package session

import (
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanegate/lanegate/internal/lb"
	"github.com/lanegate/lanegate/internal/model"
)

func testBindings(ttl time.Duration, backends ...model.Backend) map[string]Binding {
	svc := model.Service{Name: "dns", Protocol: model.ProtoUDP, Backends: backends, Policy: model.PolicyRoundRobin}
	return map[string]Binding{
		"udp-in": {Service: "dns", TTL: ttl, Balancer: lb.New(svc)},
	}
}

var (
	src1 = netip.MustParseAddrPort("203.0.113.7:5353")
	src2 = netip.MustParseAddrPort("203.0.113.8:5353")
)

func TestRoute_AffinityWithinTTL(t *testing.T) {
	r := NewRegistry(testBindings(10*time.Second,
		model.Backend{IP: "10.0.0.1", Port: 53},
		model.Backend{IP: "10.0.0.2", Port: 53},
	))

	now := time.Now()
	first, svc, err := r.Route("udp-in", src1, now)
	require.NoError(t, err)
	assert.Equal(t, "dns", svc)

	// follow-up packets within TTL stick to the first backend
	for i := 1; i <= 5; i++ {
		got, _, err := r.Route("udp-in", src1, now.Add(time.Duration(i)*time.Second))
		require.NoError(t, err)
		assert.Equal(t, first, got)
	}

	// a different source is an independent session
	other, _, err := r.Route("udp-in", src2, now)
	require.NoError(t, err)
	assert.NotEqual(t, first, other, "round-robin hands the second source the next backend")
}

func TestRoute_RefreshSlidesTheDeadline(t *testing.T) {
	r := NewRegistry(testBindings(10*time.Second, model.Backend{IP: "10.0.0.1", Port: 53}))

	now := time.Now()
	_, _, err := r.Route("udp-in", src1, now)
	require.NoError(t, err)

	// activity at t+8s keeps the session alive at t+16s
	_, _, err = r.Route("udp-in", src1, now.Add(8*time.Second))
	require.NoError(t, err)
	assert.Equal(t, 1, r.Len())
	assert.Equal(t, 0, r.ExpireIdle(now.Add(16*time.Second)))
}

func TestRoute_ExpiredEntryIsReplaced(t *testing.T) {
	r := NewRegistry(testBindings(10*time.Second,
		model.Backend{IP: "10.0.0.1", Port: 53},
		model.Backend{IP: "10.0.0.2", Port: 53},
	))

	now := time.Now()
	_, _, err := r.Route("udp-in", src1, now)
	require.NoError(t, err)

	// beyond TTL the stale entry must not be reused
	got, _, err := r.Route("udp-in", src1, now.Add(11*time.Second))
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.2", got.IP, "round-robin advanced past the dropped assignment")
	assert.Equal(t, 1, r.Len())
}

func TestExpireIdle(t *testing.T) {
	r := NewRegistry(testBindings(10*time.Second, model.Backend{IP: "10.0.0.1", Port: 53}))

	now := time.Now()
	_, _, err := r.Route("udp-in", src1, now)
	require.NoError(t, err)
	_, _, err = r.Route("udp-in", src2, now.Add(5*time.Second))
	require.NoError(t, err)

	assert.Equal(t, 0, r.ExpireIdle(now.Add(9*time.Second)))
	assert.Equal(t, 1, r.ExpireIdle(now.Add(10*time.Second)), "exactly TTL idle expires")
	assert.Equal(t, 1, r.Len())
}

func TestRoute_NoBinding(t *testing.T) {
	r := NewRegistry(nil)
	_, _, err := r.Route("nope", src1, time.Now())
	assert.ErrorIs(t, err, ErrNoBinding)
}

func TestRebind(t *testing.T) {
	r := NewRegistry(testBindings(10*time.Second,
		model.Backend{IP: "10.0.0.1", Port: 53},
		model.Backend{IP: "10.0.0.2", Port: 53},
	))

	now := time.Now()
	first, _, err := r.Route("udp-in", src1, now)
	require.NoError(t, err)

	// surviving server: session keeps its backend even though the service's
	// backend set changed
	svc := model.Service{Name: "dns", Backends: []model.Backend{{IP: "10.9.9.9", Port: 53}}}
	r.Rebind(map[string]Binding{
		"udp-in": {Service: "dns", TTL: 10 * time.Second, Balancer: lb.New(svc)},
	})
	got, _, err := r.Route("udp-in", src1, now.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, first, got)

	// removed server: sessions dropped, next packet resolves to nothing
	r.Rebind(map[string]Binding{})
	assert.Equal(t, 0, r.Len())
	_, _, err = r.Route("udp-in", src1, now.Add(2*time.Second))
	assert.ErrorIs(t, err, ErrNoBinding)
}

func TestRoute_ConcurrentSameSourceSingleAssignment(t *testing.T) {
	r := NewRegistry(testBindings(10*time.Second,
		model.Backend{IP: "10.0.0.1", Port: 53},
		model.Backend{IP: "10.0.0.2", Port: 53},
		model.Backend{IP: "10.0.0.3", Port: 53},
	))

	now := time.Now()
	results := make([]model.Backend, 32)
	var wg sync.WaitGroup
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			b, _, err := r.Route("udp-in", src1, now)
			assert.NoError(t, err)
			results[i] = b
		}(i)
	}
	wg.Wait()

	for _, b := range results[1:] {
		assert.Equal(t, results[0], b, "one source must never see divergent assignments")
	}
	assert.Equal(t, 1, r.Len())
}
