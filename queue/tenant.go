package queue

// TenantConfig limits the jobs of one tenant. An empty HandlerType applies
// the limits to all of the tenant's jobs; a handler-specific entry takes
// precedence over it.
type TenantConfig struct {
	TenantID    string
	HandlerType string

	// RateLimit is the sustained jobs per second for this tenant.
	RateLimit float64

	// RateBurst is the burst size for the tenant's rate limiter.
	RateBurst int

	// MaxConcurrency limits simultaneous jobs for this tenant. Zero means
	// no tenant-specific concurrency limit.
	MaxConcurrency int
}

func tenantKey(handlerType, tenantID string) string {
	return handlerType + "\x00" + tenantID
}

// tenantGate returns the most specific gate for the pair. The caller holds
// l.mu.
func (l *Limiter) tenantGate(handlerType, tenantID string) *gate {
	if tenantID == "" {
		return nil
	}
	if g := l.tenants[tenantKey(handlerType, tenantID)]; g != nil {
		return g
	}
	return l.tenants[tenantKey("", tenantID)]
}

// SetTenantConfig configures limits for a tenant. Calling it again for the
// same tenant and handler type replaces the limits but keeps the active
// count.
func (l *Limiter) SetTenantConfig(cfg TenantConfig) {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := tenantKey(cfg.HandlerType, cfg.TenantID)
	g := newGate(cfg.RateLimit, cfg.RateBurst, cfg.MaxConcurrency)
	if existing := l.tenants[key]; existing != nil {
		g.active = existing.active
	}
	l.tenants[key] = g
}

// TenantActiveCount returns the number of running jobs counted against the
// tenant's gate for handlerType.
func (l *Limiter) TenantActiveCount(handlerType, tenantID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if g := l.tenantGate(handlerType, tenantID); g != nil {
		return g.active
	}
	return 0
}
