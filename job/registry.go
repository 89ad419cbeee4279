package job

import (
	"context"
	"sync"
)

// Well-known handler types. The timer start and boundary handlers are the
// only ones whose timers may carry an end-date expression that is
// re-evaluated when the timer fires.
const (
	HandlerAsyncContinuation  = "async-continuation"
	HandlerTriggerTimer       = "trigger-timer"
	HandlerTimerStartEvent    = "timer-start-event"
	HandlerTimerBoundaryEvent = "timer-boundary-event"
)

// VariableScope exposes the variables of the execution a job belongs to.
type VariableScope interface {
	Variable(name string) (any, bool)
}

// NoScope is the empty variable scope used when a job's execution no
// longer exists.
var NoScope VariableScope = noScope{}

type noScope struct{}

func (noScope) Variable(string) (any, bool) { return nil, false }

// MapScope is a VariableScope backed by a map.
type MapScope map[string]any

// Variable implements VariableScope.
func (m MapScope) Variable(name string) (any, bool) {
	v, ok := m[name]
	return v, ok
}

// Handler runs the business logic behind a handler type. It executes
// inside tx; returning an error rolls tx back and charges a retry.
type Handler func(ctx context.Context, tx Tx, j *Job, scope VariableScope) error

// Registry maps handler types to handlers.
// It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
	}
}

// Register binds h to handlerType, replacing any previous binding.
func (r *Registry) Register(handlerType string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[handlerType] = h
}

// Get returns the handler for the given handler type.
// Returns false if no handler is registered.
func (r *Registry) Get(handlerType string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[handlerType]
	return h, ok
}

// Types returns all registered handler types.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	return types
}
