// Package ratelimit implements the per-tenant rate limiter spec §5/§9
// calls out as a shared mutable singleton, built on golang.org/x/time/rate
// (a teacher direct dependency).
package ratelimit

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// Registry holds one token-bucket limiter per tenant.
type Registry struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
}

// NewRegistry builds a registry where each tenant gets its own limiter
// allowing rps requests/sec with the given burst.
func NewRegistry(rps float64, burst int) *Registry {
	return &Registry{
		limiters: make(map[string]*rate.Limiter),
		rps:      rate.Limit(rps),
		burst:    burst,
	}
}

func (r *Registry) limiterFor(tenantID string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.limiters[tenantID]
	if !ok {
		l = rate.NewLimiter(r.rps, r.burst)
		r.limiters[tenantID] = l
	}
	return l
}

// Wait blocks until tenantID's limiter admits one request or ctx is done.
func (r *Registry) Wait(ctx context.Context, tenantID string) error {
	return r.limiterFor(tenantID).Wait(ctx)
}

// Allow reports whether tenantID may proceed immediately, without blocking.
func (r *Registry) Allow(tenantID string) bool {
	return r.limiterFor(tenantID).Allow()
}
