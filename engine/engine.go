package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/tidemark/orderflow"
	"github.com/tidemark/orderflow/dlq"
	"github.com/tidemark/orderflow/hook"
	"github.com/tidemark/orderflow/id"
	"github.com/tidemark/orderflow/janitor"
	mw "github.com/tidemark/orderflow/middleware"
	"github.com/tidemark/orderflow/notify"
	"github.com/tidemark/orderflow/observability"
	"github.com/tidemark/orderflow/orchestrator"
	"github.com/tidemark/orderflow/order"
	"github.com/tidemark/orderflow/payment"
	"github.com/tidemark/orderflow/processor"
	"github.com/tidemark/orderflow/retry"
	"github.com/tidemark/orderflow/stage"
	"github.com/tidemark/orderflow/store"
	"github.com/tidemark/orderflow/stream"
)

// Engine is the assembled orchestration core: store, change log, stage
// workers, orchestrator, and processor pool, wired and ready to start.
type Engine struct {
	c          *orderflow.Coordinator
	store      store.Store
	log        stream.Log
	registry   *stage.Registry
	policies   *retry.Policies
	hooks      *hook.Registry
	dlqService *dlq.Service
	orch       *orchestrator.Orchestrator
	pool       *processor.Pool
	capturer   payment.Capturer
	sender     notify.Sender
	jan        *janitor.Janitor
	logger     *slog.Logger

	mws            []mw.Middleware
	extensions     []hook.Extension
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
	rateLimit      rate.Limit
	rateBurst      int
	deliveryBound  int
	enableJanitor  bool
	janitorOpts    []janitor.Option
}

// Option configures the Engine during Build.
type Option func(*Engine)

// WithCapturer sets the payment processor integration. When not set the
// in-memory fake is used, which is only suitable for development and
// tests.
func WithCapturer(c payment.Capturer) Option {
	return func(eng *Engine) {
		eng.capturer = c
	}
}

// WithSender sets the notification delivery integration. When not set
// the in-memory fake is used.
func WithSender(s notify.Sender) Option {
	return func(eng *Engine) {
		eng.sender = s
	}
}

// WithExtension registers a lifecycle extension with the engine.
func WithExtension(e hook.Extension) Option {
	return func(eng *Engine) {
		eng.extensions = append(eng.extensions, e)
	}
}

// WithMiddleware appends a middleware to the stage execution chain,
// after the built-in stack.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) {
		eng.mws = append(eng.mws, m)
	}
}

// WithPolicies replaces the default per-stage retry policies.
func WithPolicies(p *retry.Policies) Option {
	return func(eng *Engine) {
		eng.policies = p
	}
}

// WithChangeLog uses an external change log instead of the default
// in-memory partitioned log. The log's partition count overrides the
// configured one.
func WithChangeLog(l stream.Log) Option {
	return func(eng *Engine) {
		eng.log = l
	}
}

// WithRateLimit throttles event processing across the whole pool.
func WithRateLimit(r rate.Limit, burst int) Option {
	return func(eng *Engine) {
		eng.rateLimit = r
		eng.rateBurst = burst
	}
}

// WithDeliveryBound overrides the per-event delivery cap past which an
// event is parked in the DLQ.
func WithDeliveryBound(n int) Option {
	return func(eng *Engine) {
		eng.deliveryBound = n
	}
}

// WithJanitor enables the background maintenance sweeps: expired
// inventory holds are released back to stock and old dead letter
// entries are purged. Options control the sweep schedules and the DLQ
// retention window.
func WithJanitor(opts ...janitor.Option) Option {
	return func(eng *Engine) {
		eng.enableJanitor = true
		eng.janitorOpts = append(eng.janitorOpts, opts...)
	}
}

// WithTracerProvider sets a custom OTel TracerProvider for the engine.
// When set, the tracing middleware uses this provider instead of the
// global one.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) {
		eng.tracerProvider = tp
	}
}

// WithMeterProvider sets a custom OTel MeterProvider for the engine.
// When set, both the metrics middleware and the observability extension
// use this provider instead of the global one.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) {
		eng.meterProvider = mp
	}
}

// Build assembles an Engine from an existing Coordinator.
// The Coordinator's store must implement store.Store.
func Build(c *orderflow.Coordinator, opts ...Option) (*Engine, error) {
	logger := c.Logger()

	st := c.Store()
	if st == nil {
		return nil, orderflow.ErrNoStore
	}
	ss, ok := st.(store.Store)
	if !ok {
		return nil, fmt.Errorf("orderflow: store does not implement store.Store")
	}

	eng := &Engine{
		c:      c,
		store:  ss,
		logger: logger,
	}

	for _, opt := range opts {
		opt(eng)
	}

	cfg := c.Config()

	// Default integrations are the in-memory fakes.
	if eng.capturer == nil {
		eng.capturer = payment.NewFake()
	}
	if eng.sender == nil {
		eng.sender = notify.NewFake()
	}

	// Default retry policies: three attempts per stage, full-jitter
	// exponential backoff; the notifier is relaxed so its exhaustion
	// completes the order instead of failing it.
	if eng.policies == nil {
		eng.policies = retry.NewPolicies(retry.Policy{MaxAttempts: 3}).
			Set(stage.Notify, retry.Policy{MaxAttempts: 3, Relaxed: true})
	}

	// Default change log: in-memory, partitioned, with checkpoints
	// persisted through the store.
	if eng.log == nil {
		eng.log = stream.NewMemoryLog(cfg.Partitions, stream.WithCheckpointStore(ss))
	}

	// Every accepted order write emits its change event into the log.
	ss.SetChangeLog(eng.log)

	// Hook registry with the observability extension first, then any
	// user-registered extensions in order.
	eng.hooks = hook.NewRegistry(logger)
	var obsExt *observability.MetricsExtension
	if eng.meterProvider != nil {
		meter := eng.meterProvider.Meter("github.com/tidemark/orderflow/observability")
		obsExt = observability.NewMetricsExtensionWithMeter(meter)
	} else {
		obsExt = observability.NewMetricsExtension()
	}
	eng.hooks.Register(obsExt)
	for _, e := range eng.extensions {
		eng.hooks.Register(e)
	}

	// Register the five pipeline workers against the states they serve.
	eng.registry = stage.NewRegistry()
	eng.registry.Register(order.StatusValidating, stage.NewValidator())
	eng.registry.Register(order.StatusCheckingInventory, stage.NewInventoryWorker(ss))
	eng.registry.Register(order.StatusProcessingPayment, stage.NewPaymentWorker(eng.capturer))
	eng.registry.Register(order.StatusFulfilling, stage.NewFulfillmentWorker(ss))
	eng.registry.Register(order.StatusNotifying, stage.NewNotifierWorker(eng.sender))

	// Build tracing middleware (custom provider or global).
	var tracingMw mw.Middleware
	if eng.tracerProvider != nil {
		tracer := eng.tracerProvider.Tracer("github.com/tidemark/orderflow")
		tracingMw = mw.TracingWithTracer(tracer)
	} else {
		tracingMw = mw.Tracing()
	}

	// Build metrics middleware (custom provider or global).
	var metricsMw mw.Middleware
	if eng.meterProvider != nil {
		meter := eng.meterProvider.Meter("github.com/tidemark/orderflow")
		metricsMw = mw.MetricsWithMeter(meter)
	} else {
		metricsMw = mw.Metrics()
	}

	// Default middleware stack: recover → tracing → metrics → logging →
	// timeout, then user middleware innermost.
	defaultMws := []mw.Middleware{
		mw.Recover(logger),
		tracingMw,
		metricsMw,
		mw.Logging(logger),
		mw.Timeout(cfg.StageTimeout),
	}
	allMws := make([]mw.Middleware, 0, len(defaultMws)+len(eng.mws))
	allMws = append(allMws, defaultMws...)
	allMws = append(allMws, eng.mws...)

	eng.dlqService = dlq.NewService(ss, eng.log)

	eng.orch = orchestrator.New(
		ss,
		ss,
		eng.capturer,
		eng.registry,
		eng.policies,
		eng.dlqService,
		eng.hooks,
		logger,
		cfg.MaxCASRetries,
		allMws...,
	)
	if eng.deliveryBound > 0 {
		eng.orch.SetDeliveryBound(eng.deliveryBound)
	}

	poolOpts := []processor.PoolOption{
		processor.WithPoolConcurrency(cfg.Concurrency),
		processor.WithPollInterval(cfg.PollInterval),
	}
	if eng.rateLimit > 0 {
		poolOpts = append(poolOpts, processor.WithRateLimit(eng.rateLimit, eng.rateBurst))
	}
	eng.pool = processor.NewPool(eng.log, eng.orch, eng.hooks, logger, poolOpts...)

	if eng.enableJanitor {
		jan, err := janitor.New(ss, logger, eng.janitorOpts...)
		if err != nil {
			return nil, err
		}
		eng.jan = jan
	}

	// Wire back into the Coordinator.
	c.SetPool(eng.pool)
	c.SetHooks(eng.hooks)

	return eng, nil
}

// ── Front door ───────────────────────────────────────────────────────

// CreateOrder validates nothing beyond construction, persists the order
// in CREATED state, and seeds its first change event through the store's
// change log. From there the processor pool drives the order on its own.
func (eng *Engine) CreateOrder(ctx context.Context, customer order.Customer, items []order.Item, addr order.Address, method string) (*order.Order, error) {
	o := order.New(customer, items, addr, method, eng.c.Config().OrderTTL)

	if err := eng.store.CreateOrder(ctx, o); err != nil {
		return nil, err
	}

	eng.hooks.EmitOrderCreated(ctx, o)
	eng.logger.Info("order created",
		slog.String("order_id", o.ID.String()),
		slog.String("customer", customer.Email),
		slog.Float64("total", o.Total),
	)
	return o, nil
}

// GetOrder retrieves an order by ID.
func (eng *Engine) GetOrder(ctx context.Context, orderID id.OrderID) (*order.Order, error) {
	return eng.store.GetOrder(ctx, orderID)
}

// ListOrders returns orders matching the given options, newest first.
func (eng *Engine) ListOrders(ctx context.Context, opts order.ListOpts) ([]*order.Order, error) {
	return eng.store.ListOrders(ctx, opts)
}

// ListDeadLetters returns dead-lettered events matching the options.
func (eng *Engine) ListDeadLetters(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	return eng.store.ListDLQ(ctx, opts)
}

// ReplayDeadLetter re-appends a dead-lettered event to the change log
// with a fresh identity and marks the entry replayed.
func (eng *Engine) ReplayDeadLetter(ctx context.Context, entryID id.DLQID) (*stream.ChangeEvent, error) {
	return eng.dlqService.Replay(ctx, entryID)
}

// PurgeDeadLetters removes entries dead-lettered before the given time
// and returns how many were removed.
func (eng *Engine) PurgeDeadLetters(ctx context.Context, before time.Time) (int64, error) {
	return eng.store.PurgeDLQ(ctx, before)
}

// ── Lifecycle ────────────────────────────────────────────────────────

// Start begins change event processing and, when enabled, the janitor
// sweeps.
func (eng *Engine) Start(ctx context.Context) error {
	if err := eng.c.Start(ctx); err != nil {
		return err
	}
	if eng.jan != nil {
		return eng.jan.Start(ctx)
	}
	return nil
}

// Stop gracefully shuts down the engine within the configured shutdown
// timeout (or the caller's earlier deadline).
func (eng *Engine) Stop(ctx context.Context) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, eng.c.Config().ShutdownTimeout)
		defer cancel()
	}
	if eng.jan != nil {
		if err := eng.jan.Stop(ctx); err != nil {
			return err
		}
	}
	return eng.c.Stop(ctx)
}

// ── Accessors ────────────────────────────────────────────────────────

// Coordinator returns the underlying Coordinator.
func (eng *Engine) Coordinator() *orderflow.Coordinator { return eng.c }

// Hooks returns the lifecycle hook registry.
func (eng *Engine) Hooks() *hook.Registry { return eng.hooks }

// Stages returns the stage worker registry.
func (eng *Engine) Stages() *stage.Registry { return eng.registry }

// Policies returns the per-stage retry policies.
func (eng *Engine) Policies() *retry.Policies { return eng.policies }

// DLQService returns the DLQ service for replay and inspection.
func (eng *Engine) DLQService() *dlq.Service { return eng.dlqService }

// Janitor returns the maintenance sweeper, or nil when not enabled.
func (eng *Engine) Janitor() *janitor.Janitor { return eng.jan }

// ChangeLog returns the change log the engine consumes.
func (eng *Engine) ChangeLog() stream.Log { return eng.log }
