// Package janitor runs background maintenance sweeps: releasing expired
// inventory holds back to stock and purging old dead letter entries.
//
// Schedules are cron expressions (standard 5-field or descriptors like
// "@every 1m") evaluated on a tick loop. The janitor is optional; wire it
// with engine.WithJanitor or run it standalone against any store that
// implements [Store].
package janitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"
)

// Store is the slice of the persistence layer the janitor sweeps.
// store.Store satisfies it.
type Store interface {
	// ReleaseExpiredHolds returns every HELD reservation past its expiry
	// to available stock and reports how many were released.
	ReleaseExpiredHolds(ctx context.Context, now time.Time) (int, error)

	// PurgeDLQ removes dead letter entries parked before the given time
	// and reports how many were removed.
	PurgeDLQ(ctx context.Context, before time.Time) (int64, error)
}

// cronParser supports standard 5-field cron and descriptors like "@every 30s".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// Option configures a Janitor.
type Option func(*Janitor)

// WithTickInterval sets how often the janitor checks for due sweeps.
func WithTickInterval(d time.Duration) Option {
	return func(j *Janitor) { j.tickInterval = d }
}

// WithHoldSweepSchedule sets the cron expression for the expired-hold
// sweep. Defaults to "@every 1m".
func WithHoldSweepSchedule(expr string) Option {
	return func(j *Janitor) { j.holdExpr = expr }
}

// WithDLQPurgeSchedule sets the cron expression for the dead letter
// purge. Defaults to "@every 1h".
func WithDLQPurgeSchedule(expr string) Option {
	return func(j *Janitor) { j.dlqExpr = expr }
}

// WithDLQRetention sets how long dead letter entries are kept before the
// purge sweep removes them. Defaults to 7 days.
func WithDLQRetention(d time.Duration) Option {
	return func(j *Janitor) { j.dlqRetention = d }
}

// Janitor evaluates due sweeps on a tick loop and runs them against the
// store. Sweeps are idempotent store operations, so running multiple
// janitors against the same store is safe, just wasteful.
type Janitor struct {
	store  Store
	logger *slog.Logger

	tickInterval time.Duration
	holdExpr     string
	dlqExpr      string
	dlqRetention time.Duration

	holdSched cronlib.Schedule
	dlqSched  cronlib.Schedule

	// next due times, owned by the tick goroutine after Start.
	nextHoldRun time.Time
	nextDLQRun  time.Time

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a Janitor. Returns an error if a sweep schedule does not
// parse.
func New(store Store, logger *slog.Logger, opts ...Option) (*Janitor, error) {
	if logger == nil {
		logger = slog.Default()
	}
	j := &Janitor{
		store:        store,
		logger:       logger,
		tickInterval: 1 * time.Second,
		holdExpr:     "@every 1m",
		dlqExpr:      "@every 1h",
		dlqRetention: 7 * 24 * time.Hour,
		stopCh:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(j)
	}

	var err error
	if j.holdSched, err = cronParser.Parse(j.holdExpr); err != nil {
		return nil, fmt.Errorf("janitor: parse hold sweep schedule %q: %w", j.holdExpr, err)
	}
	if j.dlqSched, err = cronParser.Parse(j.dlqExpr); err != nil {
		return nil, fmt.Errorf("janitor: parse dlq purge schedule %q: %w", j.dlqExpr, err)
	}
	return j, nil
}

// Start launches the tick goroutine.
func (j *Janitor) Start(_ context.Context) error {
	now := time.Now().UTC()
	j.nextHoldRun = j.holdSched.Next(now)
	j.nextDLQRun = j.dlqSched.Next(now)

	j.wg.Add(1)
	go j.tickLoop()
	j.logger.Info("janitor started",
		slog.String("hold_sweep", j.holdExpr),
		slog.String("dlq_purge", j.dlqExpr),
		slog.Duration("dlq_retention", j.dlqRetention),
	)
	return nil
}

// Stop signals the janitor to stop and waits for the tick goroutine.
func (j *Janitor) Stop(_ context.Context) error {
	close(j.stopCh)
	j.wg.Wait()
	j.logger.Info("janitor stopped")
	return nil
}

func (j *Janitor) tickLoop() {
	defer j.wg.Done()

	ticker := time.NewTicker(j.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-j.stopCh:
			return
		case <-ticker.C:
			j.tick(time.Now().UTC())
		}
	}
}

func (j *Janitor) tick(now time.Time) {
	if !now.Before(j.nextHoldRun) {
		j.sweepHolds(now)
		j.nextHoldRun = j.holdSched.Next(now)
	}
	if !now.Before(j.nextDLQRun) {
		j.purgeDLQ(now)
		j.nextDLQRun = j.dlqSched.Next(now)
	}
}

func (j *Janitor) sweepHolds(now time.Time) {
	ctx := context.Background()

	released, err := j.store.ReleaseExpiredHolds(ctx, now)
	if err != nil {
		j.logger.Error("expired hold sweep error", slog.String("error", err.Error()))
		return
	}
	if released > 0 {
		j.logger.Info("released expired holds", slog.Int("count", released))
	}
}

func (j *Janitor) purgeDLQ(now time.Time) {
	ctx := context.Background()

	purged, err := j.store.PurgeDLQ(ctx, now.Add(-j.dlqRetention))
	if err != nil {
		j.logger.Error("dlq purge error", slog.String("error", err.Error()))
		return
	}
	if purged > 0 {
		j.logger.Info("purged dead letters", slog.Int64("count", purged))
	}
}
