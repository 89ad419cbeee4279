// Package queue limits how fast and how many jobs of a handler type, or
// of a tenant, the local dispatcher runs at once.
//
// Use [Config] for handler-type limits and [TenantConfig] for tenant
// limits:
//
//	l := queue.NewLimiter(
//	    queue.Config{HandlerType: "send-mail", MaxConcurrency: 5, RateLimit: 10},
//	)
//	l.SetTenantConfig(queue.TenantConfig{TenantID: "acme", MaxConcurrency: 2})
//
// The dispatcher calls [Limiter.Acquire] before running a job and
// [Limiter.Release] afterwards. A job that is refused is unacquired and
// picked up again by a later acquisition cycle. Rate limiting uses a
// token bucket from golang.org/x/time/rate.
package queue
