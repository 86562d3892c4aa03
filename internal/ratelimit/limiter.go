// Package ratelimit provides a per-key token-bucket limiter, adapted from
// the teacher's per-project request limiter (internal/ratelimit/limiter.go)
// and repurposed here to guard a NewSession request's source IP (flood
// protection, since the spec's Non-goals exclude authentication but not
// basic abuse limiting).
package ratelimit

import (
	"sync"

	"golang.org/x/time/rate"
)

// Limiter manages an independent token bucket per key.
type Limiter struct {
	limiters map[string]*rate.Limiter
	mu       sync.RWMutex
	rate     rate.Limit
	burst    int
}

// NewLimiter creates a limiter where each key is allowed requestsPerSecond
// sustained, with the given burst allowance.
func NewLimiter(requestsPerSecond float64, burst int) *Limiter {
	return &Limiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     rate.Limit(requestsPerSecond),
		burst:    burst,
	}
}

// GetLimiter returns the token bucket for a specific key, creating it on
// first use.
func (l *Limiter) GetLimiter(key string) *rate.Limiter {
	l.mu.RLock()
	limiter, exists := l.limiters[key]
	l.mu.RUnlock()
	if exists {
		return limiter
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	limiter, exists = l.limiters[key]
	if !exists {
		limiter = rate.NewLimiter(l.rate, l.burst)
		l.limiters[key] = limiter
	}
	return limiter
}

// Allow reports whether a request for the given key may proceed right now.
func (l *Limiter) Allow(key string) bool {
	return l.GetLimiter(key).Allow()
}

// Tokens returns the current number of available tokens for a key.
func (l *Limiter) Tokens(key string) float64 {
	return l.GetLimiter(key).Tokens()
}
