package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shoplytics/pulse/internal/detect"
	"github.com/shoplytics/pulse/internal/schema"
)

// AlertStore reads minute aggregates for anomaly evaluation and records
// fired alerts. Queries that interpolate the KPI column name validate it
// against the whitelist before any SQL is built.
type AlertStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewAlertStore constructs an AlertStore backed by the provided pool.
func NewAlertStore(pool *pgxpool.Pool) *AlertStore {
	return &AlertStore{pool: pool, now: time.Now}
}

// WithClock overrides the reference clock, primarily for testing.
func (s *AlertStore) WithClock(now func() time.Time) *AlertStore {
	if now != nil {
		s.now = now
	}
	return s
}

const (
	latestBucketsSQL = `
SELECT bucket
FROM kpi_minute
WHERE bucket >= $1
ORDER BY bucket DESC
LIMIT $2;
`

	smoothedCurrentSQL = `
SELECT COUNT(*), COALESCE(AVG(%s), 0)
FROM kpi_minute
WHERE bucket > $1 AND bucket <= $2;
`

	baselineSQL = `
SELECT AVG(%s)
FROM kpi_minute
WHERE bucket >= $1 AND bucket < $2
  AND EXTRACT(HOUR FROM bucket AT TIME ZONE 'UTC') = $3
  AND EXTRACT(MINUTE FROM bucket AT TIME ZONE 'UTC') = $4;
`

	baselineDOWSQL = `
SELECT AVG(%s)
FROM kpi_minute
WHERE bucket >= $1 AND bucket < $2
  AND EXTRACT(HOUR FROM bucket AT TIME ZONE 'UTC') = $3
  AND EXTRACT(MINUTE FROM bucket AT TIME ZONE 'UTC') = $4
  AND EXTRACT(DOW FROM bucket AT TIME ZONE 'UTC') = $5;
`

	alertInsertSQL = `
INSERT INTO alerts (bucket, kpi, current_value, baseline_value, delta_pct, direction, fired_at)
VALUES (@bucket, @kpi, @current_value, @baseline_value, @delta_pct, @direction, NOW())
ON CONFLICT (bucket, kpi) DO NOTHING;
`
)

// LatestBuckets returns the most recent minute buckets inside the lookback
// window in ascending bucket order.
func (s *AlertStore) LatestBuckets(ctx context.Context, lookback time.Duration, count int) ([]time.Time, error) {
	since := s.now().UTC().Add(-lookback)

	rows, err := s.pool.Query(ctx, latestBucketsSQL, since, count)
	if err != nil {
		return nil, classify("alerts.latest_buckets", err)
	}
	defer rows.Close()

	var out []time.Time
	for rows.Next() {
		var bucket time.Time
		if err := rows.Scan(&bucket); err != nil {
			return nil, classify("alerts.latest_buckets", err)
		}
		out = append(out, bucket)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("alerts.latest_buckets", err)
	}

	// Query returns newest first so LIMIT keeps the tail; callers want
	// oldest first.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// SmoothedCurrent averages the KPI over the trailing window ending at bucket
// inclusive. The boolean is false when any window minute is missing, which
// keeps sparse data from diluting the comparison.
func (s *AlertStore) SmoothedCurrent(ctx context.Context, kpi string, bucket time.Time, window int) (float64, bool, error) {
	if err := schema.ValidateKPI(kpi); err != nil {
		return 0, false, err
	}
	if window <= 0 {
		return 0, false, nil
	}
	from := bucket.Add(-time.Duration(window) * time.Minute)

	var count int64
	var avg float64
	row := s.pool.QueryRow(ctx, fmt.Sprintf(smoothedCurrentSQL, kpi), from, bucket)
	if err := row.Scan(&count, &avg); err != nil {
		return 0, false, classify("alerts.smoothed_current", err)
	}
	return avg, count == int64(window), nil
}

// Baseline averages the KPI for the same minute-of-day across the preceding
// days. With a week or more of history the same weekday is required, which
// keeps weekend traffic from skewing weekday baselines.
func (s *AlertStore) Baseline(ctx context.Context, kpi string, bucket time.Time, days int) (float64, bool, error) {
	if err := schema.ValidateKPI(kpi); err != nil {
		return 0, false, err
	}
	at := bucket.UTC()
	from := at.AddDate(0, 0, -days)

	var row pgx.Row
	if days >= 7 {
		row = s.pool.QueryRow(ctx, fmt.Sprintf(baselineDOWSQL, kpi),
			from, at, at.Hour(), at.Minute(), int(at.Weekday()))
	} else {
		row = s.pool.QueryRow(ctx, fmt.Sprintf(baselineSQL, kpi),
			from, at, at.Hour(), at.Minute())
	}

	var avg *float64
	if err := row.Scan(&avg); err != nil {
		return 0, false, classify("alerts.baseline", err)
	}
	if avg == nil {
		return 0, false, nil
	}
	return *avg, true, nil
}

// InsertAlert records a fired alert. The (bucket, kpi) uniqueness constraint
// makes re-evaluation of the same bucket a no-op; the boolean reports whether
// the alert was newly written.
func (s *AlertStore) InsertAlert(ctx context.Context, alert detect.Alert) (bool, error) {
	if err := schema.ValidateKPI(alert.KPI); err != nil {
		return false, err
	}
	tag, err := s.pool.Exec(ctx, alertInsertSQL, pgx.NamedArgs{
		"bucket":         alert.Bucket,
		"kpi":            alert.KPI,
		"current_value":  alert.Current,
		"baseline_value": alert.Baseline,
		"delta_pct":      alert.DeltaPct,
		"direction":      alert.Direction,
	})
	if err != nil {
		return false, classify("alerts.insert", err)
	}
	return tag.RowsAffected() > 0, nil
}
