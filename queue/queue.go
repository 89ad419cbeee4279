package queue

import (
	"sync"

	"golang.org/x/time/rate"
)

// Config limits the jobs of one handler type.
type Config struct {
	// HandlerType is the job handler type the limits apply to.
	HandlerType string

	// MaxConcurrency limits how many jobs of this handler type may run at
	// once on the local dispatcher. Zero means no handler-specific limit;
	// the pool size still applies.
	MaxConcurrency int

	// RateLimit is the maximum sustained number of jobs per second. Zero
	// disables rate limiting.
	RateLimit float64

	// RateBurst is the token-bucket burst size. Defaults to 1 when
	// RateLimit is set.
	RateBurst int
}

// gate is the runtime state behind a Config or TenantConfig.
type gate struct {
	limiter        *rate.Limiter
	maxConcurrency int
	active         int
}

func newGate(rateLimit float64, burst, maxConcurrency int) *gate {
	g := &gate{maxConcurrency: maxConcurrency}
	if rateLimit > 0 {
		if burst <= 0 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(rateLimit), burst)
	}
	return g
}

// full reports whether the gate has no free concurrency slot.
func (g *gate) full() bool {
	return g.maxConcurrency > 0 && g.active >= g.maxConcurrency
}

// Limiter enforces per-handler-type and per-tenant rate limits and
// concurrency caps in front of job execution. It is safe for concurrent
// use.
type Limiter struct {
	mu       sync.Mutex
	handlers map[string]*gate
	tenants  map[string]*gate
}

// NewLimiter creates a Limiter with the given handler-type limits.
// Handler types not listed are unlimited.
func NewLimiter(configs ...Config) *Limiter {
	l := &Limiter{
		handlers: make(map[string]*gate, len(configs)),
		tenants:  make(map[string]*gate),
	}
	for _, cfg := range configs {
		l.handlers[cfg.HandlerType] = newGate(cfg.RateLimit, cfg.RateBurst, cfg.MaxConcurrency)
	}
	return l
}

// Acquire reports whether a job of handlerType for tenantID may run now.
// On true the active counters are incremented and the caller MUST call
// Release when the job finishes. Concurrency is checked before any rate
// token is taken, so a refused job never consumes a token.
func (l *Limiter) Acquire(handlerType, tenantID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	hg := l.handlers[handlerType]
	tg := l.tenantGate(handlerType, tenantID)

	if (hg != nil && hg.full()) || (tg != nil && tg.full()) {
		return false
	}
	if hg != nil && hg.limiter != nil && !hg.limiter.Allow() {
		return false
	}
	if tg != nil && tg.limiter != nil && !tg.limiter.Allow() {
		return false
	}

	if hg != nil {
		hg.active++
	}
	if tg != nil {
		tg.active++
	}
	return true
}

// Release frees the slots taken by a successful Acquire.
func (l *Limiter) Release(handlerType, tenantID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if hg := l.handlers[handlerType]; hg != nil && hg.active > 0 {
		hg.active--
	}
	if tg := l.tenantGate(handlerType, tenantID); tg != nil && tg.active > 0 {
		tg.active--
	}
}

// SetConfig updates or adds the limits of a handler type. The current
// active count is preserved.
func (l *Limiter) SetConfig(cfg Config) {
	l.mu.Lock()
	defer l.mu.Unlock()

	g := newGate(cfg.RateLimit, cfg.RateBurst, cfg.MaxConcurrency)
	if existing := l.handlers[cfg.HandlerType]; existing != nil {
		g.active = existing.active
	}
	l.handlers[cfg.HandlerType] = g
}

// ActiveCount returns the number of running jobs of a limited handler
// type.
func (l *Limiter) ActiveCount(handlerType string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if g := l.handlers[handlerType]; g != nil {
		return g.active
	}
	return 0
}
