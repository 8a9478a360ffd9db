// Package lb provides backend selection policies for services.
package lb

import (
	"math/rand"
	"sync"

	"github.com/lanegate/lanegate/internal/model"
)

// Balancer picks one backend among a service's set. Implementations are safe
// for concurrent use. Pick returns false only when the balancer has no
// candidates, which the dispatcher surfaces as backend-unavailable rather
// than a routing failure.
type Balancer interface {
	Pick() (model.Backend, bool)
}

// New builds the balancer for a service according to its policy.
func New(svc model.Service) Balancer {
	switch svc.Policy {
	case model.PolicyRandom:
		return &random{backends: svc.Backends}
	default:
		return &roundRobin{backends: svc.Backends}
	}
}

type roundRobin struct {
	mu       sync.Mutex
	next     int
	backends []model.Backend
}

func (b *roundRobin) Pick() (model.Backend, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.backends) == 0 {
		return model.Backend{}, false
	}
	picked := b.backends[b.next%len(b.backends)]
	b.next++
	return picked, true
}

type random struct {
	backends []model.Backend
}

func (b *random) Pick() (model.Backend, bool) {
	if len(b.backends) == 0 {
		return model.Backend{}, false
	}
	return b.backends[rand.Intn(len(b.backends))], true
}
