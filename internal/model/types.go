package model

import (
	"strconv"
	"time"

	"github.com/lanegate/lanegate/internal/hostspec"
	"github.com/lanegate/lanegate/internal/matcher"
)

// Protocol is the family a server or service speaks.
type Protocol string

const (
	ProtoHTTP Protocol = "http"
	ProtoTCP  Protocol = "tcp"
	ProtoUDP  Protocol = "udp"
)

// Policy selects among a service's backends.
type Policy string

const (
	PolicyRoundRobin Policy = "round-robin"
	PolicyRandom     Policy = "random"
)

// Backend is a single upstream endpoint. Immutable value; identity only
// through its service membership.
type Backend struct {
	IP   string
	Port uint16
}

func (b Backend) Addr() string {
	return b.IP + ":" + strconv.Itoa(int(b.Port))
}

// Service is a named, reusable backend group. Rules and stream servers hold
// the service name, not the struct; the catalog owns the definition.
type Service struct {
	Name     string
	Protocol Protocol // http for L7 services, tcp/udp for stream
	Backends []Backend
	Policy   Policy
}

// HTTPServer is a virtual HTTP entrypoint.
type HTTPServer struct {
	Name    string
	Port    uint16
	Version string // API version tag, "1" or "2"
}

// StreamServer is a TCP or UDP entrypoint bound to exactly one service.
type StreamServer struct {
	Name     string
	Port     uint16
	Protocol Protocol // tcp or udp
	Service  string
	TTL      time.Duration // UDP session idle timeout
}

// Rule guards one service selection. All matches must pass (AND); rules in a
// route are tried in declaration order (OR), first hit wins.
type Rule struct {
	Service string
	Matches []matcher.Match
}

// Route binds a server and a hostname set to an ordered rule list.
// An empty hostname set matches any host, at lowest precedence.
type Route struct {
	Name      string
	Server    string
	Hostnames []hostspec.Spec
	Rules     []Rule
	RateLimit *RateLimit
}

// RateLimit is an optional per-route token bucket.
type RateLimit struct {
	RequestsPerSecond float64
	Burst             int
}

// Config is the validated, immutable configuration the engine is built from.
type Config struct {
	HTTPServers   []HTTPServer
	StreamServers []StreamServer
	Services      map[string]Service
	Routes        []Route
}
