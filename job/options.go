package job

import "time"

// ExecutionContext carries the identity of the execution a new job is
// created for.
type ExecutionContext struct {
	ExecutionID         string
	ProcessInstanceID   string
	ProcessDefinitionID string
	ElementID           string
	TenantID            string
}

// Options configures a newly created job.
type Options struct {
	// HandlerType defaults to HandlerAsyncContinuation for async jobs.
	HandlerType string

	// HandlerConfig is the opaque configuration passed to the handler.
	HandlerConfig string

	// Retries overrides the configured default retry budget when positive.
	Retries int

	// DueDate delays an async job. Zero means ready immediately.
	DueDate time.Time
}

// Option is a functional option for configuring a new job.
type Option func(*Options)

// WithHandler sets the handler type and configuration.
func WithHandler(handlerType, config string) Option {
	return func(o *Options) {
		o.HandlerType = handlerType
		o.HandlerConfig = config
	}
}

// WithRetries sets the retry budget of the new job.
func WithRetries(n int) Option {
	return func(o *Options) {
		o.Retries = n
	}
}

// WithDueDate sets the due date of the new job.
func WithDueDate(t time.Time) Option {
	return func(o *Options) {
		o.DueDate = t
	}
}
