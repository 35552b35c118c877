// Package processor provides the partitioned worker pool that pumps the
// change log through the orchestrator. Each partition is owned by exactly
// one worker goroutine, so per-order event ordering is preserved while
// separate partitions progress concurrently.
package processor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/tidemark/orderflow/hook"
	"github.com/tidemark/orderflow/id"
	"github.com/tidemark/orderflow/orchestrator"
	"github.com/tidemark/orderflow/stream"
)

// Pool manages worker goroutines that poll the change log. Partition p is
// always served by worker p mod concurrency, so no partition is ever
// drained by two goroutines at once.
type Pool struct {
	log          stream.Log
	orch         *orchestrator.Orchestrator
	hooks        *hook.Registry
	concurrency  int
	pollInterval time.Duration
	errorDelay   time.Duration
	limiter      *rate.Limiter
	workerID     id.WorkerID
	logger       *slog.Logger

	stopCh  chan struct{}
	group   *errgroup.Group
	mu      sync.Mutex
	running bool
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithPoolConcurrency sets the number of worker goroutines. Concurrency
// above the partition count buys nothing; extra workers own no partition.
func WithPoolConcurrency(n int) PoolOption {
	return func(p *Pool) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

// WithPollInterval sets how long an idle worker sleeps before re-polling
// its partitions.
func WithPollInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.pollInterval = d }
}

// WithErrorDelay sets the redelivery delay applied when handling returns
// an error.
func WithErrorDelay(d time.Duration) PoolOption {
	return func(p *Pool) { p.errorDelay = d }
}

// WithRateLimit caps event handling across the whole pool at r events
// per second with the given burst. Useful when downstream processors
// throttle hard.
func WithRateLimit(r rate.Limit, burst int) PoolOption {
	return func(p *Pool) { p.limiter = rate.NewLimiter(r, burst) }
}

// NewPool creates a processor pool.
func NewPool(
	log stream.Log,
	orch *orchestrator.Orchestrator,
	hooks *hook.Registry,
	logger *slog.Logger,
	opts ...PoolOption,
) *Pool {
	p := &Pool{
		log:          log,
		orch:         orch,
		hooks:        hooks,
		concurrency:  4,
		pollInterval: 100 * time.Millisecond,
		errorDelay:   time.Second,
		workerID:     id.NewWorkerID(),
		logger:       logger,
		stopCh:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.concurrency > log.Partitions() {
		p.concurrency = log.Partitions()
	}
	return p
}

// WorkerID returns the pool's unique worker identifier.
func (p *Pool) WorkerID() id.WorkerID { return p.workerID }

// Start launches the worker goroutines. It returns immediately.
func (p *Pool) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}
	p.running = true

	p.logger.Info("processor pool starting",
		slog.String("worker_id", p.workerID.String()),
		slog.Int("concurrency", p.concurrency),
		slog.Int("partitions", p.log.Partitions()),
	)

	p.group = &errgroup.Group{}
	for w := range p.concurrency {
		p.group.Go(func() error {
			p.drainLoop(w)
			return nil
		})
	}

	return nil
}

// Stop signals all workers to stop and waits for them to finish or for
// the context deadline, then emits the shutdown hook.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.mu.Unlock()

	p.logger.Info("processor pool stopping", slog.String("worker_id", p.workerID.String()))
	close(p.stopCh)

	done := make(chan struct{})
	go func() {
		p.group.Wait() //nolint:errcheck // workers never return errors
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("processor pool stopped gracefully")
	case <-ctx.Done():
		p.logger.Warn("processor pool shutdown timed out")
	}

	p.hooks.EmitShutdown(ctx)
	return nil
}

// drainLoop is run by each worker goroutine over its owned partitions.
func (p *Pool) drainLoop(worker int) {
	for {
		select {
		case <-p.stopCh:
			return
		default:
		}

		progressed := false
		for part := worker; part < p.log.Partitions(); part += p.concurrency {
			if p.drainOne(part) {
				progressed = true
			}
		}

		if !progressed {
			p.sleep()
		}
	}
}

// drainOne pulls and handles at most one event from the partition.
// Reports whether an event was processed.
func (p *Pool) drainOne(partition int) bool {
	ctx := context.Background()

	evt, err := p.log.Pull(ctx, partition)
	if err != nil {
		p.logger.Error("pull error",
			slog.Int("partition", partition),
			slog.String("error", err.Error()),
		)
		return false
	}
	if evt == nil {
		return false
	}

	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			p.nack(ctx, evt, 0)
			return true
		}
	}

	out, err := p.orch.Handle(ctx, evt, partition)
	switch {
	case err != nil:
		p.logger.Warn("event handling failed",
			slog.String("event_id", evt.ID.String()),
			slog.String("order_id", evt.OrderID.String()),
			slog.Int("partition", partition),
			slog.String("error", err.Error()),
		)
		p.nack(ctx, evt, p.errorDelay)
	case out.Redeliver():
		p.nack(ctx, evt, out.Delay)
	default:
		if ackErr := p.log.Ack(ctx, evt); ackErr != nil {
			p.logger.Error("ack failed",
				slog.String("event_id", evt.ID.String()),
				slog.String("error", ackErr.Error()),
			)
		}
	}
	return true
}

func (p *Pool) nack(ctx context.Context, evt *stream.ChangeEvent, delay time.Duration) {
	if err := p.log.Nack(ctx, evt, delay); err != nil {
		p.logger.Error("nack failed",
			slog.String("event_id", evt.ID.String()),
			slog.String("error", err.Error()),
		)
	}
}

func (p *Pool) sleep() {
	select {
	case <-time.After(p.pollInterval):
	case <-p.stopCh:
	}
}
