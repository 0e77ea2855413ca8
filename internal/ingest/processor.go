package ingest

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/segmentio/kafka-go"
	"golang.org/x/time/rate"

	"github.com/shoplytics/pulse/errs"
	"github.com/shoplytics/pulse/internal/observability"
	"github.com/shoplytics/pulse/internal/schema"
)

const (
	insertMaxRetryInterval = 5 * time.Second
	insertMaxElapsed       = 30 * time.Second
	// dedupeCleanupFactor times LogEveryN events between cleanup sweeps.
	dedupeCleanupFactor = 5
	// decodeWarnRate bounds warning volume when a topic carries poisoned payloads.
	decodeWarnRate  = rate.Limit(10)
	decodeWarnBurst = 20
)

// Fetcher is the broker surface the processor consumes from. *kafka.Reader
// satisfies it.
type Fetcher interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Store is the persistence surface the processor writes through. The booleans
// report whether a row was newly written; they gate aggregate contributions.
type Store interface {
	InsertOrder(ctx context.Context, event schema.OrderEvent) (bool, error)
	InsertSession(ctx context.Context, event schema.SessionEvent) (bool, error)
	FlushKPIs(ctx context.Context, minute, hour map[time.Time]schema.BucketMetrics) error
}

// ProcessorConfig carries the loop's tunables.
type ProcessorConfig struct {
	OrdersTopic   string
	SessionsTopic string
	LogEveryN     int
}

// Processor runs the ingest side of the pipeline: fetch, decode, dedupe,
// idempotent persist, and conditional aggregate contribution, in that order
// for every message.
type Processor struct {
	fetcher    Fetcher
	store      Store
	dedupe     *DedupeCache
	aggregates *Aggregates
	cfg        ProcessorConfig
	log        observability.Logger
	metrics    *Metrics
	clock      func() time.Time
	warnLimit  *rate.Limiter

	processed uint64
}

// NewProcessor wires a Processor. metrics may be nil.
func NewProcessor(fetcher Fetcher, store Store, dedupe *DedupeCache, aggregates *Aggregates, cfg ProcessorConfig, logger observability.Logger, metrics *Metrics) *Processor {
	if logger == nil {
		logger = observability.Log()
	}
	return &Processor{
		fetcher:    fetcher,
		store:      store,
		dedupe:     dedupe,
		aggregates: aggregates,
		cfg:        cfg,
		log:        logger,
		metrics:    metrics,
		clock:      time.Now,
		warnLimit:  rate.NewLimiter(decodeWarnRate, decodeWarnBurst),
	}
}

// WithClock overrides the internal clock, primarily for testing.
func (p *Processor) WithClock(clock func() time.Time) *Processor {
	if clock != nil {
		p.clock = clock
	}
	return p
}

// Run consumes messages until ctx is cancelled or an infrastructure error
// occurs. Per-message errors never terminate the loop; broker and fatal store
// errors propagate.
func (p *Processor) Run(ctx context.Context) error {
	for {
		msg, err := p.fetcher.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
				return nil
			}
			return errs.New(errs.CodeBroker, errs.WithOp("ingest.fetch"),
				errs.WithMessage("broker fetch failed"), errs.WithCause(err))
		}

		commit, err := p.handle(ctx, msg)
		if err != nil {
			if errs.IsTransient(err) {
				// Skip the commit. Redelivery is best-effort: it happens only
				// on a rebalance or restart before a later commit on the same
				// partition advances past this offset. The unique constraints
				// keep any redelivery idempotent.
				p.log.Error("store unavailable, leaving offset uncommitted",
					observability.F("topic", msg.Topic),
					observability.F("offset", msg.Offset),
					observability.F("err", err))
				continue
			}
			return err
		}
		if !commit {
			continue
		}

		if err := p.fetcher.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			p.log.Error("offset commit failed", observability.F("err", err))
		}
	}
}

// handle processes one delivery. The boolean reports whether the offset should
// be committed; errors carry the taxonomy codes.
func (p *Processor) handle(ctx context.Context, msg kafka.Message) (bool, error) {
	topic := schema.Topic(msg.Topic)

	event, err := ParseEvent(topic, msg.Value)
	if err != nil {
		p.metrics.RecordDropped(ctx, msg.Topic, string(errs.CodeOf(err)))
		if p.warnLimit.Allow() {
			p.log.Warn("dropping payload",
				observability.F("topic", msg.Topic),
				observability.F("offset", msg.Offset),
				observability.F("err", err))
		}
		return true, nil
	}

	now := p.clock().UTC()
	if p.dedupe.Seen(event.Key(), now) {
		p.metrics.RecordDuplicate(ctx, msg.Topic, "cache")
		return true, nil
	}

	inserted, receivedAt, err := p.persist(ctx, event, now)
	if err != nil {
		return false, err
	}
	if !inserted {
		// Redelivery past the cache TTL; the constraint suppressed the row.
		p.metrics.RecordDuplicate(ctx, msg.Topic, "constraint")
		return true, nil
	}

	p.aggregates.Add(event.OccurredAt(), event.Delta())

	p.processed++
	p.metrics.RecordProcessed(ctx, msg.Topic, now.Sub(receivedAt))
	if p.cfg.LogEveryN > 0 {
		if p.processed%uint64(p.cfg.LogEveryN) == 0 {
			p.log.Info("events processed",
				observability.F("count", p.processed),
				observability.F("last_id", event.Key()),
				observability.F("event_time", event.OccurredAt().Format(time.RFC3339)),
				observability.F("processing_ms", now.Sub(receivedAt).Milliseconds()))
		}
		if p.processed%uint64(p.cfg.LogEveryN*dedupeCleanupFactor) == 0 {
			p.dedupe.Cleanup(p.clock().UTC())
		}
	}
	return true, nil
}

// persist stamps processed_at and writes the raw row, retrying transient store
// failures with exponential backoff until insertMaxElapsed.
func (p *Processor) persist(ctx context.Context, event schema.Event, now time.Time) (bool, time.Time, error) {
	var insert func(context.Context) (bool, error)
	var receivedAt time.Time

	switch e := event.(type) {
	case schema.OrderEvent:
		e.ProcessedAt = now
		receivedAt = e.ReceivedAt
		insert = func(ctx context.Context) (bool, error) { return p.store.InsertOrder(ctx, e) }
	case schema.SessionEvent:
		e.ProcessedAt = now
		receivedAt = e.ReceivedAt
		insert = func(ctx context.Context) (bool, error) { return p.store.InsertSession(ctx, e) }
	default:
		return false, time.Time{}, errs.New(errs.CodeMalformedPayload, errs.WithOp("ingest.persist"),
			errs.WithMessage("unhandled event variant"))
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxInterval = insertMaxRetryInterval
	deadline := p.clock().Add(insertMaxElapsed)

	for {
		inserted, err := insert(ctx)
		if err == nil {
			return inserted, receivedAt, nil
		}
		if !errs.IsTransient(err) {
			return false, receivedAt, err
		}
		p.metrics.RecordStoreRetry(ctx)
		if !p.clock().Before(deadline) {
			return false, receivedAt, err
		}
		sleep := bo.NextBackOff()
		if sleep == backoff.Stop {
			sleep = insertMaxRetryInterval
		}
		select {
		case <-ctx.Done():
			return false, receivedAt, err
		case <-time.After(sleep):
		}
	}
}
