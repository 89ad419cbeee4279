// Package engine is the lifecycle controller of an asyncexec node. It wires
// the job manager, the worker pool and the three background loops around
// a store and starts and stops them in dependency order.
//
// The engine package sits above every subsystem package and below the
// application layer, so subsystems never import each other through it.
//
// # Building an Engine
//
//	eng, err := engine.New(asyncexec.DefaultConfig(), store,
//	    engine.WithLogger(logger),
//	    engine.WithExtension(audit),
//	    engine.WithMiddleware(middleware.Timeout(30*time.Second)),
//	    engine.WithTenantConfig(queue.TenantConfig{TenantID: "acme", MaxConcurrency: 4}),
//	)
//
// # Registering Handlers
//
//	eng.Register(job.HandlerAsyncContinuation, continueExecution)
//
// # Running
//
// Start launches the worker pool, the async-due loop, the timer loop and
// the reset-expired loop. In message queue mode only the timer and reset
// loops run. Shutdown stops the loops, waits for them and then drains the
// pool for at most Config.ShutdownTimeout; jobs still running after that
// keep their locks and are healed by the reset loop of a live node.
//
//	if err := eng.Start(ctx); err != nil { ... }
//	defer eng.Shutdown(context.Background())
//
// # Options
//
//   - [WithLogger]: structured logger for every component
//   - [WithExtension]: register a lifecycle extension
//   - [WithMiddleware]: add a middleware to the handler chain
//   - [WithExecutionResolver]: resolve variable scopes of executions
//   - [WithBackoff]: override the retry delay strategy
//   - [WithFailedJobCommandFactory]: replace the retry policy
//   - [WithQueueConfig] / [WithTenantConfig]: execution limits
//   - [WithTracerProvider] / [WithMeterProvider]: OpenTelemetry providers
package engine
