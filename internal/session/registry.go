// Package session tracks UDP pseudo-connections: TTL-bounded affinity
// records binding a source endpoint to a chosen backend. A record is not a
// socket; it only pins routing decisions so follow-up packets and return
// traffic land on the same backend.
package session

import (
	"errors"
	"net/netip"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/lanegate/lanegate/internal/lb"
	"github.com/lanegate/lanegate/internal/model"
)

var (
	// ErrNoBinding means the server has no (or no longer a) bound service.
	ErrNoBinding = errors.New("no service bound for server")
	// ErrNoBackend means the bound service's balancer produced no backend.
	ErrNoBackend = errors.New("no backend available")
)

const shardCount = 64

// Binding is the per-server routing material the registry consults: the
// bound service, its balancer, and the session TTL.
type Binding struct {
	Service  string
	TTL      time.Duration
	Balancer lb.Balancer
}

type key struct {
	server string
	src    netip.AddrPort
}

type entry struct {
	backend      model.Backend
	created      time.Time
	lastActivity time.Time
}

type shard struct {
	mu      sync.Mutex
	entries map[key]*entry
}

// Registry resolves (server, source endpoint) to a backend for UDP traffic.
// Entries for different sources proceed on independent shards; calls for the
// same source serialize on their shard lock, so two packets can never race
// to divergent backend assignments for one session.
type Registry struct {
	mu       sync.RWMutex
	bindings map[string]Binding
	shards   [shardCount]shard
}

func NewRegistry(bindings map[string]Binding) *Registry {
	r := &Registry{bindings: bindings}
	for i := range r.shards {
		r.shards[i].entries = make(map[key]*entry)
	}
	return r
}

func (r *Registry) shardFor(k key) *shard {
	h := xxhash.New()
	_, _ = h.WriteString(k.server)
	_, _ = h.WriteString(k.src.String())
	return &r.shards[h.Sum64()%shardCount]
}

func (r *Registry) binding(server string) (Binding, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.bindings[server]
	return b, ok
}

// Route returns the backend for a packet from src on the named server,
// along with the bound service name. An existing unexpired session keeps its
// backend and is refreshed; an absent or expired one gets a fresh backend
// from the service's balancer.
func (r *Registry) Route(server string, src netip.AddrPort, now time.Time) (model.Backend, string, error) {
	b, ok := r.binding(server)
	if !ok {
		return model.Backend{}, "", ErrNoBinding
	}

	k := key{server: server, src: src}
	s := r.shardFor(k)
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[k]; ok {
		if now.Sub(e.lastActivity) < b.TTL {
			e.lastActivity = now
			return e.backend, b.Service, nil
		}
		// expired but not yet swept
		delete(s.entries, k)
	}

	backend, ok := b.Balancer.Pick()
	if !ok {
		return model.Backend{}, "", ErrNoBackend
	}
	s.entries[k] = &entry{backend: backend, created: now, lastActivity: now}
	return backend, b.Service, nil
}

// ExpireIdle removes every session idle for at least its server's TTL and
// reports how many were dropped. Meant to be driven by a caller-owned
// ticker; Route also checks staleness itself, so sweeping is about keeping
// the map bounded, not about correctness.
func (r *Registry) ExpireIdle(now time.Time) int {
	r.mu.RLock()
	bindings := r.bindings
	r.mu.RUnlock()

	expired := 0
	for i := range r.shards {
		s := &r.shards[i]
		s.mu.Lock()
		for k, e := range s.entries {
			b, ok := bindings[k.server]
			if !ok || now.Sub(e.lastActivity) >= b.TTL {
				delete(s.entries, k)
				expired++
			}
		}
		s.mu.Unlock()
	}
	return expired
}

// Rebind swaps the server bindings on reload. Sessions for servers that
// survive keep their backend assignment even if the service's backend set
// changed; sessions for removed servers are dropped, so their next packet
// resolves to nothing.
func (r *Registry) Rebind(bindings map[string]Binding) {
	r.mu.Lock()
	r.bindings = bindings
	r.mu.Unlock()

	for i := range r.shards {
		s := &r.shards[i]
		s.mu.Lock()
		for k := range s.entries {
			if _, ok := bindings[k.server]; !ok {
				delete(s.entries, k)
			}
		}
		s.mu.Unlock()
	}
}

// Len reports the number of live sessions across all shards.
func (r *Registry) Len() int {
	n := 0
	for i := range r.shards {
		s := &r.shards[i]
		s.mu.Lock()
		n += len(s.entries)
		s.mu.Unlock()
	}
	return n
}
