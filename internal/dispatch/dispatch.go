// Package dispatch is the entry point of the routing engine. Given a server
// identity and a traffic event it branches to the HTTP route table or the
// stream session registry and returns a normalized backend decision. It owns
// no mutable state beyond the current table (swapped atomically on reload)
// and the session registry.
package dispatch

import (
	"errors"
	"fmt"
	"net/netip"
	"sync/atomic"
	"time"

	"github.com/lanegate/lanegate/internal/lb"
	"github.com/lanegate/lanegate/internal/model"
	"github.com/lanegate/lanegate/internal/router"
	"github.com/lanegate/lanegate/internal/session"
)

var (
	// ErrNotFound means no route, rule or binding resolves the event. The
	// caller maps it to a protocol-appropriate rejection (404, packet drop).
	ErrNotFound = errors.New("no route")
	// ErrBackendUnavailable means resolution succeeded but the service's
	// balancer had no backend to offer.
	ErrBackendUnavailable = errors.New("no backend available")
	// ErrProtocol means the event kind does not match the server's protocol
	// family, e.g. an HTTP resolve against a stream server.
	ErrProtocol = errors.New("event does not match server protocol")
)

// Decision is a resolved dispatch: the backend to forward to plus the
// routing metadata that produced it. Rule is meaningful for HTTP only.
type Decision struct {
	Backend   model.Backend
	Service   string
	Route     string
	Rule      int
	RateLimit *model.RateLimit
}

type streamBinding struct {
	service  string
	balancer lb.Balancer
}

// state is everything derived from one config generation. Immutable; reload
// builds a fresh one and swaps the pointer.
type state struct {
	table       *router.Table
	balancers   map[string]lb.Balancer // service name -> balancer
	tcpBindings map[string]streamBinding
	protoByName map[string]model.Protocol // every server's family
}

// Dispatcher routes traffic events to backends.
type Dispatcher struct {
	state    atomic.Pointer[state]
	registry *session.Registry
}

// New builds a dispatcher from validated configuration.
func New(cfg *model.Config) *Dispatcher {
	d := &Dispatcher{}
	st, bindings := build(cfg)
	d.state.Store(st)
	d.registry = session.NewRegistry(bindings)
	return d
}

// Rebuild derives a new state from cfg and swaps it in. Readers keep using
// the old table until the swap; in-flight UDP sessions survive for servers
// that still exist.
func (d *Dispatcher) Rebuild(cfg *model.Config) {
	st, bindings := build(cfg)
	d.state.Store(st)
	d.registry.Rebind(bindings)
}

func build(cfg *model.Config) (*state, map[string]session.Binding) {
	st := &state{
		table:       router.New(cfg.Routes),
		balancers:   make(map[string]lb.Balancer, len(cfg.Services)),
		tcpBindings: make(map[string]streamBinding),
		protoByName: make(map[string]model.Protocol),
	}
	// one balancer per service: rules and servers sharing a service share
	// its selection state
	for name, svc := range cfg.Services {
		st.balancers[name] = lb.New(svc)
	}
	for _, s := range cfg.HTTPServers {
		st.protoByName[s.Name] = model.ProtoHTTP
	}
	udpBindings := make(map[string]session.Binding)
	for _, s := range cfg.StreamServers {
		st.protoByName[s.Name] = s.Protocol
		switch s.Protocol {
		case model.ProtoTCP:
			st.tcpBindings[s.Name] = streamBinding{service: s.Service, balancer: st.balancers[s.Service]}
		case model.ProtoUDP:
			udpBindings[s.Name] = session.Binding{
				Service:  s.Service,
				TTL:      s.TTL,
				Balancer: st.balancers[s.Service],
			}
		}
	}
	return st, udpBindings
}

// ResolveHTTP resolves one HTTP request against the current route table and
// picks a backend from the matched service.
func (d *Dispatcher) ResolveHTTP(server, host, method, path string) (Decision, error) {
	st := d.state.Load()
	if proto, ok := st.protoByName[server]; ok && proto != model.ProtoHTTP {
		return Decision{}, fmt.Errorf("server %q is %s: %w", server, proto, ErrProtocol)
	}
	res, ok := st.table.Resolve(server, host, method, path)
	if !ok {
		return Decision{}, ErrNotFound
	}
	backend, ok := st.balancers[res.Service].Pick()
	if !ok {
		return Decision{}, fmt.Errorf("service %q: %w", res.Service, ErrBackendUnavailable)
	}
	return Decision{
		Backend:   backend,
		Service:   res.Service,
		Route:     res.Route.Name,
		Rule:      res.Rule,
		RateLimit: res.Route.RateLimit,
	}, nil
}

// RouteTCP picks a backend for one accepted TCP connection. Called once per
// connection; the caller holds the backend for the connection's lifetime.
// No session state is involved.
func (d *Dispatcher) RouteTCP(server string) (Decision, error) {
	st := d.state.Load()
	b, ok := st.tcpBindings[server]
	if !ok {
		if proto, known := st.protoByName[server]; known {
			return Decision{}, fmt.Errorf("server %q is %s: %w", server, proto, ErrProtocol)
		}
		return Decision{}, ErrNotFound
	}
	backend, ok := b.balancer.Pick()
	if !ok {
		return Decision{}, fmt.Errorf("service %q: %w", b.service, ErrBackendUnavailable)
	}
	return Decision{Backend: backend, Service: b.service}, nil
}

// RouteUDP resolves one packet from src through the session registry,
// creating or refreshing the pseudo-connection.
func (d *Dispatcher) RouteUDP(server string, src netip.AddrPort) (Decision, error) {
	st := d.state.Load()
	if proto, ok := st.protoByName[server]; ok && proto != model.ProtoUDP {
		return Decision{}, fmt.Errorf("server %q is %s: %w", server, proto, ErrProtocol)
	}
	backend, svc, err := d.registry.Route(server, src, time.Now())
	switch {
	case errors.Is(err, session.ErrNoBinding):
		return Decision{}, ErrNotFound
	case errors.Is(err, session.ErrNoBackend):
		return Decision{}, fmt.Errorf("server %q: %w", server, ErrBackendUnavailable)
	case err != nil:
		return Decision{}, err
	}
	return Decision{Backend: backend, Service: svc}, nil
}

// ExpireIdle sweeps idle UDP sessions. The caller owns the schedule.
func (d *Dispatcher) ExpireIdle(now time.Time) int {
	return d.registry.ExpireIdle(now)
}

// Sessions reports the number of live UDP pseudo-connections.
func (d *Dispatcher) Sessions() int {
	return d.registry.Len()
}
