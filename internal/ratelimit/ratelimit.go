// Package ratelimit applies per-route token buckets.
package ratelimit

import (
	"sync"

	ratelib "golang.org/x/time/rate"
)

// Limiter keeps one token bucket per key (route name).
type Limiter struct {
	mu       sync.RWMutex
	limiters map[string]*ratelib.Limiter
}

func NewLimiter() *Limiter {
	return &Limiter{limiters: make(map[string]*ratelib.Limiter)}
}

// Allow reports whether a request under key fits the bucket, creating it on
// first use and resyncing rps/burst when they changed (hot reload).
func (l *Limiter) Allow(key string, rps float64, burst int) bool {
	l.mu.RLock()
	lim, ok := l.limiters[key]
	l.mu.RUnlock()

	if !ok {
		l.mu.Lock()
		lim, ok = l.limiters[key]
		if !ok {
			lim = ratelib.NewLimiter(ratelib.Limit(rps), burst)
			l.limiters[key] = lim
		}
		l.mu.Unlock()
	}

	if lim.Limit() != ratelib.Limit(rps) {
		lim.SetLimit(ratelib.Limit(rps))
	}
	if lim.Burst() != burst {
		lim.SetBurst(burst)
	}
	return lim.Allow()
}

// Remove drops the bucket for key, e.g. when its route went away on reload.
func (l *Limiter) Remove(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.limiters, key)
}
