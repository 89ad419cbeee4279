package manager

import (
	"context"
	"time"

	"github.com/xraph/asyncexec/job"
	"github.com/xraph/asyncexec/middleware"
)

// AsyncHinter is the part of the dispatcher the manager talks to. A job
// created while the dispatcher is active is pre-locked and handed over
// right after its transaction commits, skipping the acquisition round
// trip.
type AsyncHinter interface {
	IsActive() bool
	Submit(ctx context.Context, j *job.Job) bool
}

// ExecutionResolver loads the variable scope of the execution a job
// belongs to. found is false when the execution no longer exists.
type ExecutionResolver interface {
	ResolveExecution(ctx context.Context, tx job.Tx, executionID string) (scope job.VariableScope, found bool, err error)
}

// ExecutionResolverFunc adapts a function to ExecutionResolver.
type ExecutionResolverFunc func(ctx context.Context, tx job.Tx, executionID string) (job.VariableScope, bool, error)

// ResolveExecution implements ExecutionResolver.
func (f ExecutionResolverFunc) ResolveExecution(ctx context.Context, tx job.Tx, executionID string) (job.VariableScope, bool, error) {
	return f(ctx, tx, executionID)
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock replaces time.Now. Tests use it to pin due dates.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithMiddleware sets the middleware wrapped around every handler call.
// The first middleware is the outermost.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(m *Manager) { m.mw = middleware.Chain(mws...) }
}

// WithExecutionResolver sets how handler variable scopes are loaded.
// Without one every handler sees job.NoScope.
func WithExecutionResolver(r ExecutionResolver) Option {
	return func(m *Manager) { m.resolver = r }
}

// WithDispatcher sets the dispatcher hinted after commits.
func WithDispatcher(d AsyncHinter) Option {
	return func(m *Manager) { m.dispatcher = d }
}
