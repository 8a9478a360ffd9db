// Package forward owns the upstream HTTP transports: pooled, named
// RoundTrippers shared by every proxied request.
package forward

import (
	"net"
	"net/http"
	"sync"
	"time"
)

const (
	// ProtoHTTP1 forces HTTP/1.1 to the upstream.
	ProtoHTTP1 = "http1"
	// ProtoAuto negotiates h2 over TLS via ALPN when the upstream offers it.
	ProtoAuto = "auto"
)

// Options tunes the shared transports.
type Options struct {
	DialTimeout         time.Duration
	DialKeepAlive       time.Duration
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	IdleConnTimeout     time.Duration
	TLSHandshakeTimeout time.Duration
}

func DefaultOptions() Options {
	return Options{
		DialTimeout:         5 * time.Second,
		DialKeepAlive:       60 * time.Second,
		MaxIdleConns:        512,
		MaxIdleConnsPerHost: 128,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 5 * time.Second,
	}
}

// Registry is a threadsafe map of named RoundTrippers, pre-seeded with the
// http1 and auto defaults. Unknown names fall back to http1.
type Registry struct {
	mu    sync.RWMutex
	store map[string]http.RoundTripper
}

func NewRegistry(opts Options) *Registry {
	return &Registry{store: map[string]http.RoundTripper{
		ProtoHTTP1: newTransport(opts, false),
		ProtoAuto:  newTransport(opts, true),
	}}
}

func (r *Registry) Get(name string) http.RoundTripper {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if rt, ok := r.store[name]; ok && rt != nil {
		return rt
	}
	return r.store[ProtoHTTP1]
}

func (r *Registry) Register(name string, rt http.RoundTripper) {
	if name == "" || rt == nil {
		return
	}
	r.mu.Lock()
	r.store[name] = rt
	r.mu.Unlock()
}

// CloseIdle releases pooled connections on every registered transport.
func (r *Registry) CloseIdle() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, rt := range r.store {
		if t, ok := rt.(*http.Transport); ok {
			t.CloseIdleConnections()
		}
	}
}

func newTransport(opts Options, h2 bool) *http.Transport {
	dialer := &net.Dialer{Timeout: opts.DialTimeout, KeepAlive: opts.DialKeepAlive}
	return &http.Transport{
		DialContext:         dialer.DialContext,
		ForceAttemptHTTP2:   h2,
		MaxIdleConns:        opts.MaxIdleConns,
		MaxIdleConnsPerHost: opts.MaxIdleConnsPerHost,
		IdleConnTimeout:     opts.IdleConnTimeout,
		TLSHandshakeTimeout: opts.TLSHandshakeTimeout,
	}
}
