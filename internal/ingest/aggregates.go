package ingest

import (
	"sync"
	"time"

	"github.com/shoplytics/pulse/internal/schema"
)

// Aggregates owns the in-memory minute and hour KPI maps shared between the
// processor loop and the flush task. All mutation happens under one mutex, so
// a drain never splits a single add across two batches.
type Aggregates struct {
	mu     sync.Mutex
	minute map[time.Time]schema.BucketMetrics
	hour   map[time.Time]schema.BucketMetrics
}

// NewAggregates returns an empty buffer.
func NewAggregates() *Aggregates {
	return &Aggregates{
		minute: make(map[time.Time]schema.BucketMetrics),
		hour:   make(map[time.Time]schema.BucketMetrics),
	}
}

// Add folds delta into the minute and hour buckets of eventTime.
func (a *Aggregates) Add(eventTime time.Time, delta schema.BucketMetrics) {
	minuteKey := schema.MinuteBucket(eventTime)
	hourKey := schema.HourBucket(eventTime)

	a.mu.Lock()
	a.minute[minuteKey] = a.minute[minuteKey].Add(delta)
	a.hour[hourKey] = a.hour[hourKey].Add(delta)
	a.mu.Unlock()
}

// Drain swaps the internal maps for fresh ones and returns the previous
// contents, transferring ownership to the caller.
func (a *Aggregates) Drain() (minute, hour map[time.Time]schema.BucketMetrics) {
	a.mu.Lock()
	minute, hour = a.minute, a.hour
	a.minute = make(map[time.Time]schema.BucketMetrics)
	a.hour = make(map[time.Time]schema.BucketMetrics)
	a.mu.Unlock()
	return minute, hour
}

// Restore merges a previously drained batch back into the buffer. Used when a
// flush exhausts its retries so the deltas are carried into the next flush
// instead of being dropped.
func (a *Aggregates) Restore(minute, hour map[time.Time]schema.BucketMetrics) {
	a.mu.Lock()
	for bucket, m := range minute {
		a.minute[bucket] = a.minute[bucket].Add(m)
	}
	for bucket, m := range hour {
		a.hour[bucket] = a.hour[bucket].Add(m)
	}
	a.mu.Unlock()
}

// Len returns the current number of minute and hour buckets.
func (a *Aggregates) Len() (minuteBuckets, hourBuckets int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.minute), len(a.hour)
}
