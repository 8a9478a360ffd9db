package config

// Raw YAML shapes. These stay private to the loader; validation turns them
// into the typed model the engine consumes.

type rawConfig struct {
	Admin  rawAdmin   `yaml:"admin"`
	HTTP   *rawHTTP   `yaml:"http"`
	Stream *rawStream `yaml:"stream"`
}

type rawAdmin struct {
	Address  string `yaml:"address"`
	LogLevel string `yaml:"log-level"`
}

type rawHTTP struct {
	Servers  []rawHTTPServer       `yaml:"servers"`
	Services map[string]rawService `yaml:"services"`
	Routes   []rawRoute            `yaml:"routes"`
}

type rawHTTPServer struct {
	Name    string `yaml:"name"`
	Port    uint16 `yaml:"port"`
	Version string `yaml:"version"`
}

type rawService struct {
	Protocol string       `yaml:"protocol"`
	Policy   string       `yaml:"load-balancing-algorithm"`
	Backends []rawBackend `yaml:"backends"`
}

type rawBackend struct {
	IP   string `yaml:"ip"`
	Port uint16 `yaml:"port"`
}

type rawRoute struct {
	Name      string        `yaml:"name"`
	Server    string        `yaml:"server"`
	Hostnames []string      `yaml:"hostnames"`
	Rules     []rawRule     `yaml:"rules"`
	RateLimit *rawRateLimit `yaml:"rate-limit"`
}

type rawRule struct {
	Backend string     `yaml:"backend"`
	Matches []rawMatch `yaml:"matches"`
}

type rawMatch struct {
	Path struct {
		Type  string `yaml:"type"`
		Value string `yaml:"value"`
	} `yaml:"path"`
	Method string `yaml:"method"`
}

type rawRateLimit struct {
	RequestsPerSecond float64 `yaml:"requests-per-second"`
	Burst             int     `yaml:"burst"`
}

type rawStream struct {
	Servers  []rawStreamServer     `yaml:"servers"`
	Services map[string]rawService `yaml:"services"`
}

type rawStreamServer struct {
	Name     string `yaml:"name"`
	Port     uint16 `yaml:"port"`
	Protocol string `yaml:"protocol"`
	Service  string `yaml:"service"`
	TTL      string `yaml:"time-to-live"`
}
