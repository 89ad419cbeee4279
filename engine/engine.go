package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/xraph/asyncexec"
	"github.com/xraph/asyncexec/acquire"
	"github.com/xraph/asyncexec/backoff"
	"github.com/xraph/asyncexec/calendar"
	"github.com/xraph/asyncexec/ext"
	"github.com/xraph/asyncexec/id"
	"github.com/xraph/asyncexec/job"
	"github.com/xraph/asyncexec/manager"
	mw "github.com/xraph/asyncexec/middleware"
	"github.com/xraph/asyncexec/observability"
	"github.com/xraph/asyncexec/queue"
	"github.com/xraph/asyncexec/worker"
)

// instrumentationName scopes the tracer and meters the engine creates.
const instrumentationName = "github.com/xraph/asyncexec"

// Engine owns the acquisition loops and the worker pool of one node.
type Engine struct {
	cfg        asyncexec.Config
	store      job.Store
	logger     *slog.Logger
	registry   *job.Registry
	calendar   calendar.Calendar
	extensions *ext.Registry
	manager    *manager.Manager

	exts     []ext.Extension
	mws      []mw.Middleware
	resolver manager.ExecutionResolver
	strategy backoff.Strategy
	failures worker.FailedJobCommandFactory
	clock    func() time.Time

	queueConfigs  []queue.Config
	tenantConfigs []queue.TenantConfig
	limiter       *queue.Limiter

	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider

	mu         sync.Mutex
	active     bool
	dispatcher *worker.Dispatcher
	timerLoop  *acquire.TimerAcquirer
	asyncLoop  *acquire.AsyncAcquirer
	resetLoop  *acquire.ExpiredResetter
	group      *errgroup.Group
	cancel     context.CancelFunc
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger shared by every component.
func WithLogger(l *slog.Logger) Option {
	return func(eng *Engine) { eng.logger = l }
}

// WithExtension registers a lifecycle extension.
func WithExtension(e ext.Extension) Option {
	return func(eng *Engine) { eng.exts = append(eng.exts, e) }
}

// WithMiddleware appends middleware after the default handler chain.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) { eng.mws = append(eng.mws, m) }
}

// WithCalendar replaces the standard business calendar.
func WithCalendar(c calendar.Calendar) Option {
	return func(eng *Engine) { eng.calendar = c }
}

// WithExecutionResolver sets the collaborator that resolves variable
// scopes for timer expressions and handlers.
func WithExecutionResolver(r manager.ExecutionResolver) Option {
	return func(eng *Engine) { eng.resolver = r }
}

// WithBackoff overrides the retry delay strategy named by
// Config.RetryBackoff.
func WithBackoff(s backoff.Strategy) Option {
	return func(eng *Engine) { eng.strategy = s }
}

// WithFailedJobCommandFactory replaces the default retry policy.
func WithFailedJobCommandFactory(f worker.FailedJobCommandFactory) Option {
	return func(eng *Engine) { eng.failures = f }
}

// WithQueueConfig limits execution per handler type.
func WithQueueConfig(configs ...queue.Config) Option {
	return func(eng *Engine) { eng.queueConfigs = append(eng.queueConfigs, configs...) }
}

// WithTenantConfig limits execution per tenant. A throttled job is
// unacquired like a queue-full rejection.
func WithTenantConfig(configs ...queue.TenantConfig) Option {
	return func(eng *Engine) { eng.tenantConfigs = append(eng.tenantConfigs, configs...) }
}

// WithClock sets the time source of the manager and the loops.
func WithClock(now func() time.Time) Option {
	return func(eng *Engine) { eng.clock = now }
}

// WithTracerProvider sets the OTel TracerProvider of the tracing
// middleware. The global provider is used otherwise.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) { eng.tracerProvider = tp }
}

// WithMeterProvider sets the OTel MeterProvider of the metrics middleware
// and the observability extension. The global provider is used otherwise.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) { eng.meterProvider = mp }
}

// New validates cfg and wires the manager around s. An empty
// Config.LockOwner is replaced by a fresh node ID.
func New(cfg asyncexec.Config, s job.Store, opts ...Option) (*Engine, error) {
	if s == nil {
		return nil, asyncexec.ErrNoStore
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.LockOwner == "" {
		cfg.LockOwner = id.NewNodeID().String()
	}

	eng := &Engine{
		cfg:      cfg,
		store:    s,
		logger:   slog.Default(),
		registry: job.NewRegistry(),
		calendar: calendar.New(),
	}
	for _, opt := range opts {
		opt(eng)
	}
	if eng.logger == nil {
		eng.logger = slog.Default()
	}

	eng.extensions = ext.NewRegistry(eng.logger)
	for _, e := range eng.exts {
		eng.extensions.Register(e)
	}

	if eng.strategy == nil {
		strategy, err := backoff.Parse(cfg.RetryBackoff, cfg.RetryWait, cfg.RetryMaxWait)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", asyncexec.ErrInvalidConfig, err)
		}
		eng.strategy = strategy
	}

	// Build tracing middleware (custom provider or global).
	tracingMw := mw.Tracing()
	if eng.tracerProvider != nil {
		tracingMw = mw.TracingWithTracer(eng.tracerProvider.Tracer(instrumentationName))
	}

	// Build metrics middleware and the lifecycle counters extension.
	metricsMw := mw.Metrics()
	obsExt := observability.NewMetricsExtension()
	if eng.meterProvider != nil {
		metricsMw = mw.MetricsWithMeter(eng.meterProvider.Meter(instrumentationName))
		obsExt = observability.NewMetricsExtensionWithMeter(eng.meterProvider.Meter(instrumentationName + "/observability"))
	}
	eng.extensions.Register(obsExt)

	// Default chain: recover → tracing → metrics → logging → tenant.
	chain := make([]mw.Middleware, 0, 5+len(eng.mws))
	chain = append(chain,
		mw.Recover(eng.logger),
		tracingMw,
		metricsMw,
		mw.Logging(eng.logger),
		mw.Tenant(),
	)
	chain = append(chain, eng.mws...)

	mopts := []manager.Option{manager.WithMiddleware(chain...)}
	if eng.resolver != nil {
		mopts = append(mopts, manager.WithExecutionResolver(eng.resolver))
	}
	if eng.clock != nil {
		mopts = append(mopts, manager.WithClock(eng.clock))
	}
	eng.manager = manager.New(cfg, s, eng.registry, eng.calendar, eng.extensions, eng.logger, mopts...)

	if len(eng.queueConfigs) > 0 || len(eng.tenantConfigs) > 0 {
		eng.limiter = queue.NewLimiter(eng.queueConfigs...)
		for _, tc := range eng.tenantConfigs {
			eng.limiter.SetTenantConfig(tc)
		}
	}

	return eng, nil
}

// Register adds a handler for a handler type.
func (eng *Engine) Register(handlerType string, h job.Handler) {
	eng.registry.Register(handlerType, h)
}

// Start launches the worker pool and the loops. Calling Start on a running
// engine does nothing. The timer and reset loops always run; the async
// loop and the pool are skipped in message queue mode.
//
// The manager only sees the dispatcher once it is active, so jobs
// scheduled before Start are never pre-locked or buffered in the pool.
// They stay unlocked in the store and the async loop picks them up on its
// first pass.
func (eng *Engine) Start(ctx context.Context) error {
	eng.mu.Lock()
	defer eng.mu.Unlock()
	if eng.active {
		return nil
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	g, runCtx := errgroup.WithContext(runCtx)

	eng.timerLoop = acquire.NewTimerAcquirer(eng.manager, eng.logger)
	eng.resetLoop = acquire.NewExpiredResetter(eng.manager, eng.logger)

	if !eng.cfg.MessageQueueMode {
		opts := []worker.Option{worker.WithBackoff(eng.strategy)}
		if eng.failures != nil {
			opts = append(opts, worker.WithFailedJobCommandFactory(eng.failures))
		}
		if eng.limiter != nil {
			opts = append(opts, worker.WithLimiter(eng.limiter))
		}
		eng.dispatcher = worker.New(eng.manager, eng.logger, opts...)
		if err := eng.dispatcher.Start(ctx); err != nil {
			cancel()
			eng.reset()
			return fmt.Errorf("start dispatcher: %w", err)
		}
		eng.manager.SetDispatcher(eng.dispatcher)
		eng.asyncLoop = acquire.NewAsyncAcquirer(eng.manager, eng.dispatcher, eng.logger)
		g.Go(func() error { return eng.asyncLoop.Run(runCtx) })
	}

	g.Go(func() error { return eng.timerLoop.Run(runCtx) })
	g.Go(func() error { return eng.resetLoop.Run(runCtx) })

	eng.group = g
	eng.cancel = cancel
	eng.active = true

	eng.logger.Info("async executor started",
		slog.String("lock_owner", eng.cfg.LockOwner),
		slog.Bool("message_queue_mode", eng.cfg.MessageQueueMode),
	)
	return nil
}

// Shutdown stops the loops, waits for them, then drains the worker pool
// for at most Config.ShutdownTimeout. A later Start builds fresh loops and
// a fresh pool. Calling Shutdown on a stopped engine does nothing.
func (eng *Engine) Shutdown(ctx context.Context) error {
	eng.mu.Lock()
	defer eng.mu.Unlock()
	if !eng.active {
		return nil
	}

	eng.timerLoop.Stop()
	eng.resetLoop.Stop()
	if eng.asyncLoop != nil {
		eng.asyncLoop.Stop()
	}
	loopErr := eng.group.Wait()
	eng.cancel()

	var poolErr error
	if eng.dispatcher != nil {
		eng.manager.SetDispatcher(nil)
		poolErr = eng.dispatcher.Shutdown(ctx)
		if poolErr != nil {
			eng.logger.Error("dispatcher shutdown error", slog.String("error", poolErr.Error()))
		}
	}

	eng.extensions.EmitShutdown(ctx)
	eng.reset()
	eng.logger.Info("async executor stopped", slog.String("lock_owner", eng.cfg.LockOwner))

	if poolErr != nil {
		return poolErr
	}
	return loopErr
}

// reset clears the per-run components. Callers hold eng.mu.
func (eng *Engine) reset() {
	eng.active = false
	eng.dispatcher = nil
	eng.timerLoop = nil
	eng.asyncLoop = nil
	eng.resetLoop = nil
	eng.group = nil
	eng.cancel = nil
}

// IsActive reports whether Start has run without a matching Shutdown.
func (eng *Engine) IsActive() bool {
	eng.mu.Lock()
	defer eng.mu.Unlock()
	return eng.active
}

// Config returns the effective configuration, including the generated
// lock owner.
func (eng *Engine) Config() asyncexec.Config { return eng.cfg }

// Manager returns the job manager.
func (eng *Engine) Manager() *manager.Manager { return eng.manager }

// Dispatcher returns the worker pool of the current run, or nil when the
// engine is stopped or runs in message queue mode.
func (eng *Engine) Dispatcher() *worker.Dispatcher {
	eng.mu.Lock()
	defer eng.mu.Unlock()
	return eng.dispatcher
}

// Registry returns the handler registry.
func (eng *Engine) Registry() *job.Registry { return eng.registry }

// Extensions returns the extension registry.
func (eng *Engine) Extensions() *ext.Registry { return eng.extensions }

// Store returns the job store.
func (eng *Engine) Store() job.Store { return eng.store }

// Limiter returns the handler-type and tenant limiter, or nil if no
// limits were configured.
func (eng *Engine) Limiter() *queue.Limiter { return eng.limiter }
