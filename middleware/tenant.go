package middleware

import (
	"context"

	"github.com/xraph/asyncexec/job"
)

type tenantKey struct{}

// WithTenant returns a copy of ctx carrying tenantID.
func WithTenant(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantKey{}, tenantID)
}

// TenantFrom returns the tenant attached by WithTenant or Tenant.
func TenantFrom(ctx context.Context) (string, bool) {
	t, ok := ctx.Value(tenantKey{}).(string)
	return t, ok && t != ""
}

// Tenant returns middleware that attaches the job's tenant to the context
// so handlers see the tenant of the execution that created the job.
func Tenant() Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		if j.TenantID == "" {
			return next(ctx)
		}
		return next(WithTenant(ctx, j.TenantID))
	}
}
