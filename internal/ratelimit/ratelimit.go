// Package ratelimit implements the per-endpoint admission check for
// Endpoint.rate_limit_per_second (supplemented feature 4 in
// SPEC_FULL.md): a small token bucket, hand-rolled rather than a
// second dependency since golang.org/x/time/rate would be the only
// caller of it in the whole module.
package ratelimit

import (
	"sync"
	"time"
)

type bucket struct {
	tokens     float64
	ratePerSec float64
	updatedAt  time.Time
}

// Registry holds one token bucket per endpoint, keyed by id. Zero
// RatePerSecond means "unlimited" and always admits.
type Registry struct {
	mu      sync.Mutex
	buckets map[string]*bucket
}

func NewRegistry() *Registry {
	return &Registry{buckets: make(map[string]*bucket)}
}

// Allow reports whether a delivery attempt against endpointID may
// proceed now, given its configured rate limit. Burst capacity equals
// one second's worth of tokens.
func (r *Registry) Allow(endpointID string, ratePerSecond int, now time.Time) bool {
	if ratePerSecond <= 0 {
		return true
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.buckets[endpointID]
	if !ok {
		b = &bucket{tokens: float64(ratePerSecond), ratePerSec: float64(ratePerSecond), updatedAt: now}
		r.buckets[endpointID] = b
	}

	elapsed := now.Sub(b.updatedAt).Seconds()
	if elapsed > 0 {
		b.tokens += elapsed * b.ratePerSec
		if b.tokens > b.ratePerSec {
			b.tokens = b.ratePerSec
		}
		b.updatedAt = now
	}

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}
