package ingest

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/shoplytics/pulse/errs"
	"github.com/shoplytics/pulse/internal/observability"
)

const (
	flushMaxRetryInterval = 10 * time.Second
	flushMaxElapsed       = 60 * time.Second
	finalFlushTimeout     = 5 * time.Second
)

// Flusher periodically drains the aggregates buffer and writes the batch to
// the store. Runs concurrently with the processor loop; the buffer's own lock
// is the only shared state between them.
type Flusher struct {
	store      Store
	aggregates *Aggregates
	interval   time.Duration
	log        observability.Logger
	metrics    *Metrics
	clock      func() time.Time
}

// NewFlusher wires a Flusher. metrics may be nil.
func NewFlusher(store Store, aggregates *Aggregates, interval time.Duration, logger observability.Logger, metrics *Metrics) *Flusher {
	if logger == nil {
		logger = observability.Log()
	}
	return &Flusher{
		store:      store,
		aggregates: aggregates,
		interval:   interval,
		log:        logger,
		metrics:    metrics,
		clock:      time.Now,
	}
}

// Run flushes on every interval tick until ctx is cancelled, then performs one
// best-effort final flush so a graceful shutdown does not discard the buffer.
// Fatal store errors propagate; transient exhaustion restores the batch and
// keeps the loop alive.
func (f *Flusher) Run(ctx context.Context) error {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			f.finalFlush()
			return nil
		case <-ticker.C:
			if err := f.flushOnce(ctx); err != nil {
				return err
			}
		}
	}
}

// flushOnce drains and writes one batch, retrying transient failures with
// exponential backoff. On exhausted retries the batch is merged back into the
// buffer for the next tick.
func (f *Flusher) flushOnce(ctx context.Context) error {
	minute, hour := f.aggregates.Drain()
	if len(minute) == 0 && len(hour) == 0 {
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxInterval = flushMaxRetryInterval
	deadline := f.clock().Add(flushMaxElapsed)

	for {
		err := f.store.FlushKPIs(ctx, minute, hour)
		if err == nil {
			f.metrics.RecordFlush(ctx, len(minute), len(hour))
			f.log.Debug("aggregates flushed",
				observability.F("minute_buckets", len(minute)),
				observability.F("hour_buckets", len(hour)))
			return nil
		}
		if !errs.IsTransient(err) {
			f.aggregates.Restore(minute, hour)
			return err
		}
		if ctx.Err() != nil || !f.clock().Before(deadline) {
			f.aggregates.Restore(minute, hour)
			f.metrics.RecordFlushFailure(ctx)
			f.log.Error("flush retries exhausted, batch restored",
				observability.F("minute_buckets", len(minute)),
				observability.F("hour_buckets", len(hour)),
				observability.F("err", err))
			return nil
		}
		sleep := bo.NextBackOff()
		if sleep == backoff.Stop {
			sleep = flushMaxRetryInterval
		}
		select {
		case <-ctx.Done():
			f.aggregates.Restore(minute, hour)
			f.metrics.RecordFlushFailure(ctx)
			return nil
		case <-time.After(sleep):
		}
	}
}

// finalFlush makes a single bounded attempt to persist whatever remains in the
// buffer. Failures are logged only; crash-loss of buffered deltas is an
// accepted property of the design.
func (f *Flusher) finalFlush() {
	minute, hour := f.aggregates.Drain()
	if len(minute) == 0 && len(hour) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), finalFlushTimeout)
	defer cancel()

	if err := f.store.FlushKPIs(ctx, minute, hour); err != nil {
		f.log.Error("final flush failed, buffered aggregates lost",
			observability.F("minute_buckets", len(minute)),
			observability.F("hour_buckets", len(hour)),
			observability.F("err", err))
		return
	}
	f.metrics.RecordFlush(ctx, len(minute), len(hour))
	f.log.Info("final flush completed",
		observability.F("minute_buckets", len(minute)),
		observability.F("hour_buckets", len(hour)))
}
