package ailog

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// TenantLimiter rate-limits provider calls per tenant so one tenant's
// backlog cannot starve the provider quota for everyone.
type TenantLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
}

func NewTenantLimiter(rps float64, burst int) *TenantLimiter {
	return &TenantLimiter{
		limiters: map[string]*rate.Limiter{},
		rps:      rate.Limit(rps),
		burst:    burst,
	}
}

func (l *TenantLimiter) limiter(tenantID string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limiters[tenantID]
	if !ok {
		lim = rate.NewLimiter(l.rps, l.burst)
		l.limiters[tenantID] = lim
	}
	return lim
}

// Wait blocks until the tenant may dispatch a call or the context ends.
func (l *TenantLimiter) Wait(ctx context.Context, tenantID string) error {
	return l.limiter(tenantID).Wait(ctx)
}
