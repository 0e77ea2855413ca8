package ingest

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics instruments the stream processor. A nil *Metrics disables recording.
type Metrics struct {
	processed     metric.Int64Counter
	duplicates    metric.Int64Counter
	dropped       metric.Int64Counter
	storeRetries  metric.Int64Counter
	processingMS  metric.Float64Histogram
	flushBuckets  metric.Int64Counter
	flushFailures metric.Int64Counter
}

// NewMetrics registers the processor instruments on the global meter provider.
func NewMetrics() *Metrics {
	meter := otel.Meter("pulse.ingest")

	m := &Metrics{
		processed:     nil,
		duplicates:    nil,
		dropped:       nil,
		storeRetries:  nil,
		processingMS:  nil,
		flushBuckets:  nil,
		flushFailures: nil,
	}

	m.processed, _ = meter.Int64Counter("pulse_ingest_events_processed",
		metric.WithDescription("Events newly persisted by the stream processor"),
		metric.WithUnit("{event}"))

	m.duplicates, _ = meter.Int64Counter("pulse_ingest_events_duplicate",
		metric.WithDescription("Events suppressed by the dedupe cache or store constraints"),
		metric.WithUnit("{event}"))

	m.dropped, _ = meter.Int64Counter("pulse_ingest_events_dropped",
		metric.WithDescription("Undecodable or invalid payloads dropped"),
		metric.WithUnit("{event}"))

	m.storeRetries, _ = meter.Int64Counter("pulse_ingest_store_retries",
		metric.WithDescription("Transient store failures that triggered a retry"),
		metric.WithUnit("{retry}"))

	m.processingMS, _ = meter.Float64Histogram("pulse_ingest_processing_ms",
		metric.WithDescription("Latency between ingestion-edge receipt and processing"),
		metric.WithUnit("ms"))

	m.flushBuckets, _ = meter.Int64Counter("pulse_ingest_flush_buckets",
		metric.WithDescription("Aggregate buckets written per flush"),
		metric.WithUnit("{bucket}"))

	m.flushFailures, _ = meter.Int64Counter("pulse_ingest_flush_failures",
		metric.WithDescription("Flush attempts that exhausted their retries"),
		metric.WithUnit("{flush}"))

	return m
}

func topicAttr(topic string) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("topic", topic))
}

// RecordProcessed counts a newly persisted event and its edge-to-processor latency.
func (m *Metrics) RecordProcessed(ctx context.Context, topic string, latency time.Duration) {
	if m == nil {
		return
	}
	if m.processed != nil {
		m.processed.Add(ctx, 1, topicAttr(topic))
	}
	if m.processingMS != nil && latency >= 0 {
		m.processingMS.Record(ctx, float64(latency)/float64(time.Millisecond), topicAttr(topic))
	}
}

// RecordDuplicate counts a suppressed redelivery.
func (m *Metrics) RecordDuplicate(ctx context.Context, topic, source string) {
	if m == nil || m.duplicates == nil {
		return
	}
	m.duplicates.Add(ctx, 1, metric.WithAttributes(
		attribute.String("topic", topic),
		attribute.String("source", source),
	))
}

// RecordDropped counts a dropped payload by error code.
func (m *Metrics) RecordDropped(ctx context.Context, topic, code string) {
	if m == nil || m.dropped == nil {
		return
	}
	m.dropped.Add(ctx, 1, metric.WithAttributes(
		attribute.String("topic", topic),
		attribute.String("code", code),
	))
}

// RecordStoreRetry counts one transient-store retry.
func (m *Metrics) RecordStoreRetry(ctx context.Context) {
	if m == nil || m.storeRetries == nil {
		return
	}
	m.storeRetries.Add(ctx, 1)
}

// RecordFlush counts the buckets written by a successful flush.
func (m *Metrics) RecordFlush(ctx context.Context, minuteBuckets, hourBuckets int) {
	if m == nil || m.flushBuckets == nil {
		return
	}
	m.flushBuckets.Add(ctx, int64(minuteBuckets), metric.WithAttributes(attribute.String("granularity", "minute")))
	m.flushBuckets.Add(ctx, int64(hourBuckets), metric.WithAttributes(attribute.String("granularity", "hour")))
}

// RecordFlushFailure counts a flush whose retries were exhausted.
func (m *Metrics) RecordFlushFailure(ctx context.Context) {
	if m == nil || m.flushFailures == nil {
		return
	}
	m.flushFailures.Add(ctx, 1)
}
