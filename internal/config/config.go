// Package config loads and validates gateway configuration. Every
// constraint the engine relies on is checked here, at load time; routing
// code never revalidates.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lanegate/lanegate/internal/hostspec"
	"github.com/lanegate/lanegate/internal/matcher"
	"github.com/lanegate/lanegate/internal/model"
)

// DefaultSessionTTL bounds idle UDP sessions when a server sets none.
const DefaultSessionTTL = 10 * time.Second

// Error marks a configuration problem. All of them are fatal for the load
// (or reload) as a whole; a reload that fails keeps the old config live.
type Error struct {
	msg string
}

func (e *Error) Error() string { return e.msg }

func errf(format string, args ...any) *Error {
	return &Error{msg: fmt.Sprintf(format, args...)}
}

// Settings carries the process-level knobs next to the routing config.
type Settings struct {
	AdminAddress string
	LogLevel     string
}

// Load reads and validates a YAML config file.
func Load(path string) (*model.Config, Settings, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, Settings{}, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

// Parse validates raw YAML bytes into the typed config.
func Parse(b []byte) (*model.Config, Settings, error) {
	var rc rawConfig
	if err := yaml.Unmarshal(b, &rc); err != nil {
		return nil, Settings{}, errf("yaml: %v", err)
	}

	settings := Settings{
		AdminAddress: strings.TrimSpace(rc.Admin.Address),
		LogLevel:     strings.TrimSpace(rc.Admin.LogLevel),
	}

	cfg := &model.Config{Services: make(map[string]model.Service)}
	// port uniqueness is per protocol family
	ports := map[model.Protocol]map[uint16]string{
		model.ProtoHTTP: {},
		model.ProtoTCP:  {},
		model.ProtoUDP:  {},
	}

	if rc.HTTP != nil {
		if err := loadHTTP(rc.HTTP, cfg, ports); err != nil {
			return nil, Settings{}, err
		}
	}
	if rc.Stream != nil {
		if err := loadStream(rc.Stream, cfg, ports); err != nil {
			return nil, Settings{}, err
		}
	}
	return cfg, settings, nil
}

func loadHTTP(rh *rawHTTP, cfg *model.Config, ports map[model.Protocol]map[uint16]string) error {
	seen := map[string]bool{}
	for i, s := range rh.Servers {
		name := strings.TrimSpace(s.Name)
		if name == "" {
			return errf("http.servers[%d]: name is required", i)
		}
		if seen[name] {
			return errf("http.servers: duplicate name %q", name)
		}
		seen[name] = true
		if s.Port == 0 {
			return errf("http.servers[%d]: port is required", i)
		}
		if other, dup := ports[model.ProtoHTTP][s.Port]; dup {
			return errf("http.servers[%d]: port %d already used by %q", i, s.Port, other)
		}
		ports[model.ProtoHTTP][s.Port] = name
		version := s.Version
		if version == "" {
			version = "1"
		}
		if version != "1" && version != "2" {
			return errf("http.servers[%d]: unknown version %q", i, s.Version)
		}
		cfg.HTTPServers = append(cfg.HTTPServers, model.HTTPServer{Name: name, Port: s.Port, Version: version})
	}

	for name, rs := range rh.Services {
		if rs.Protocol != "" && rs.Protocol != "http" {
			return errf("http.services[%s]: protocol must be http, got %q", name, rs.Protocol)
		}
		svc, err := loadService(name, rs, model.ProtoHTTP)
		if err != nil {
			return err
		}
		if _, dup := cfg.Services[name]; dup {
			return errf("services: duplicate name %q", name)
		}
		cfg.Services[name] = svc
	}

	for i, rr := range rh.Routes {
		name := strings.TrimSpace(rr.Name)
		if name == "" {
			name = fmt.Sprintf("route-%d", i)
		}
		if !seen[rr.Server] {
			return errf("http.routes[%d]: server %q not found", i, rr.Server)
		}
		route := model.Route{Name: name, Server: rr.Server}
		for _, h := range rr.Hostnames {
			spec, err := hostspec.Parse(strings.ToLower(strings.TrimSpace(h)))
			if err != nil {
				return errf("http.routes[%d]: hostname %q: %v", i, h, err)
			}
			route.Hostnames = append(route.Hostnames, spec)
		}
		if len(rr.Rules) == 0 {
			return errf("http.routes[%d]: at least one rule is required", i)
		}
		for j, rule := range rr.Rules {
			m, err := loadRule(rule, cfg.Services)
			if err != nil {
				return errf("http.routes[%d].rules[%d]: %v", i, j, err)
			}
			route.Rules = append(route.Rules, m)
		}
		if rl := rr.RateLimit; rl != nil {
			if rl.RequestsPerSecond <= 0 {
				return errf("http.routes[%d]: rate-limit requests-per-second must be positive", i)
			}
			burst := rl.Burst
			if burst <= 0 {
				burst = 1
			}
			route.RateLimit = &model.RateLimit{RequestsPerSecond: rl.RequestsPerSecond, Burst: burst}
		}
		cfg.Routes = append(cfg.Routes, route)
	}
	return nil
}

func loadRule(rr rawRule, services map[string]model.Service) (model.Rule, error) {
	backend := strings.TrimSpace(rr.Backend)
	if backend == "" {
		return model.Rule{}, errf("backend is required")
	}
	svc, ok := services[backend]
	if !ok {
		return model.Rule{}, errf("backend %q not found in services", backend)
	}
	if svc.Protocol != model.ProtoHTTP {
		return model.Rule{}, errf("backend %q is not an http service", backend)
	}
	rule := model.Rule{Service: backend}
	for k, rm := range rr.Matches {
		kind, err := matcher.ParseKind(rm.Path.Type)
		if err != nil {
			return model.Rule{}, errf("matches[%d]: %v", k, err)
		}
		if rm.Path.Value == "" {
			return model.Rule{}, errf("matches[%d]: path value is required", k)
		}
		pm, err := matcher.NewPathMatch(kind, rm.Path.Value)
		if err != nil {
			return model.Rule{}, errf("matches[%d]: %v", k, err)
		}
		method := strings.TrimSpace(rm.Method)
		if method != "" && method != strings.ToUpper(method) {
			return model.Rule{}, errf("matches[%d]: method %q must be uppercase", k, method)
		}
		rule.Matches = append(rule.Matches, matcher.Match{Path: pm, Method: method})
	}
	return rule, nil
}

func loadStream(rs *rawStream, cfg *model.Config, ports map[model.Protocol]map[uint16]string) error {
	for name, raw := range rs.Services {
		proto := model.Protocol(strings.ToLower(strings.TrimSpace(raw.Protocol)))
		if proto != model.ProtoTCP && proto != model.ProtoUDP {
			return errf("stream.services[%s]: protocol must be tcp or udp, got %q", name, raw.Protocol)
		}
		svc, err := loadService(name, raw, proto)
		if err != nil {
			return err
		}
		if _, dup := cfg.Services[name]; dup {
			return errf("services: duplicate name %q", name)
		}
		cfg.Services[name] = svc
	}

	seen := map[string]bool{}
	for i, s := range rs.Servers {
		name := strings.TrimSpace(s.Name)
		if name == "" {
			return errf("stream.servers[%d]: name is required", i)
		}
		if seen[name] {
			return errf("stream.servers: duplicate name %q", name)
		}
		seen[name] = true
		proto := model.Protocol(strings.ToLower(strings.TrimSpace(s.Protocol)))
		if proto != model.ProtoTCP && proto != model.ProtoUDP {
			return errf("stream.servers[%d]: protocol must be tcp or udp, got %q", i, s.Protocol)
		}
		if s.Port == 0 {
			return errf("stream.servers[%d]: port is required", i)
		}
		if other, dup := ports[proto][s.Port]; dup {
			return errf("stream.servers[%d]: %s port %d already used by %q", i, proto, s.Port, other)
		}
		ports[proto][s.Port] = name

		svc, ok := cfg.Services[s.Service]
		if !ok {
			return errf("stream.servers[%d]: service %q not found", i, s.Service)
		}
		if svc.Protocol != proto {
			return errf("stream.servers[%d]: server is %s but service %q is %s", i, proto, s.Service, svc.Protocol)
		}

		ttl := DefaultSessionTTL
		if s.TTL != "" {
			d, err := time.ParseDuration(s.TTL)
			if err != nil {
				return errf("stream.servers[%d]: time-to-live: %v", i, err)
			}
			if d <= 0 {
				return errf("stream.servers[%d]: time-to-live must be positive", i)
			}
			ttl = d
		}

		cfg.StreamServers = append(cfg.StreamServers, model.StreamServer{
			Name:     name,
			Port:     s.Port,
			Protocol: proto,
			Service:  s.Service,
			TTL:      ttl,
		})
	}
	return nil
}

func loadService(name string, rs rawService, proto model.Protocol) (model.Service, error) {
	if strings.TrimSpace(name) == "" {
		return model.Service{}, errf("services: name is required")
	}
	if len(rs.Backends) == 0 {
		return model.Service{}, errf("services[%s]: at least one backend is required", name)
	}
	policy := model.PolicyRoundRobin
	switch strings.ToLower(strings.TrimSpace(rs.Policy)) {
	case "", "round-robin":
	case "random":
		policy = model.PolicyRandom
	default:
		return model.Service{}, errf("services[%s]: unknown load-balancing-algorithm %q", name, rs.Policy)
	}
	svc := model.Service{Name: name, Protocol: proto, Policy: policy}
	for j, b := range rs.Backends {
		if strings.TrimSpace(b.IP) == "" {
			return model.Service{}, errf("services[%s].backends[%d]: ip is required", name, j)
		}
		if b.Port == 0 {
			return model.Service{}, errf("services[%s].backends[%d]: port is required", name, j)
		}
		svc.Backends = append(svc.Backends, model.Backend{IP: strings.TrimSpace(b.IP), Port: b.Port})
	}
	return svc, nil
}
