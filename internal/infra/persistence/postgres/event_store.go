package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shoplytics/pulse/internal/schema"
)

// EventStore persists raw events idempotently and flushes additive KPI
// aggregates. The conflict-do-nothing inserts are the system's deduplication
// authority: their return value gates aggregate contributions.
type EventStore struct {
	pool *pgxpool.Pool
}

// NewEventStore constructs an EventStore backed by the provided pool.
func NewEventStore(pool *pgxpool.Pool) *EventStore {
	return &EventStore{pool: pool}
}

const (
	orderInsertSQL = `
INSERT INTO orders (
    order_id,
    customer_id,
    amount,
    currency,
    channel,
    event_time,
    received_at,
    processed_at
)
VALUES (
    @order_id,
    @customer_id,
    @amount,
    @currency,
    @channel,
    @event_time,
    @received_at,
    @processed_at
)
ON CONFLICT (order_id) DO NOTHING;
`

	sessionInsertSQL = `
INSERT INTO sessions (
    event_id,
    session_id,
    event_type,
    user_id,
    channel,
    event_time,
    received_at,
    processed_at
)
VALUES (
    @event_id,
    @session_id,
    @event_type,
    @user_id,
    @channel,
    @event_time,
    @received_at,
    @processed_at
)
ON CONFLICT (event_id) DO NOTHING;
`

	kpiUpsertSQL = `
INSERT INTO %[1]s (
    bucket,
    revenue,
    order_count,
    session_count,
    checkout_count,
    purchase_count,
    updated_at
)
VALUES ($1, $2, $3, $4, $5, $6, NOW())
ON CONFLICT (bucket) DO UPDATE SET
    revenue = %[1]s.revenue + EXCLUDED.revenue,
    order_count = %[1]s.order_count + EXCLUDED.order_count,
    session_count = %[1]s.session_count + EXCLUDED.session_count,
    checkout_count = %[1]s.checkout_count + EXCLUDED.checkout_count,
    purchase_count = %[1]s.purchase_count + EXCLUDED.purchase_count,
    updated_at = NOW();
`
)

// InsertOrder writes an order row unless its primary key already exists. The
// boolean reports whether a row was newly written.
func (s *EventStore) InsertOrder(ctx context.Context, event schema.OrderEvent) (bool, error) {
	amount, err := numericFromDecimal(event.Amount)
	if err != nil {
		return false, err
	}
	tag, err := s.pool.Exec(ctx, orderInsertSQL, pgx.NamedArgs{
		"order_id":     event.OrderID,
		"customer_id":  textOrNull(event.CustomerID),
		"amount":       amount,
		"currency":     event.Currency,
		"channel":      textOrNull(event.Channel),
		"event_time":   event.EventTime,
		"received_at":  event.ReceivedAt,
		"processed_at": event.ProcessedAt,
	})
	if err != nil {
		return false, classify("store.insert_order", err)
	}
	return tag.RowsAffected() > 0, nil
}

// InsertSession writes a session row unless its primary key already exists.
func (s *EventStore) InsertSession(ctx context.Context, event schema.SessionEvent) (bool, error) {
	tag, err := s.pool.Exec(ctx, sessionInsertSQL, pgx.NamedArgs{
		"event_id":     event.EventID,
		"session_id":   event.SessionID,
		"event_type":   string(event.Type),
		"user_id":      textOrNull(event.UserID),
		"channel":      textOrNull(event.Channel),
		"event_time":   event.EventTime,
		"received_at":  event.ReceivedAt,
		"processed_at": event.ProcessedAt,
	})
	if err != nil {
		return false, classify("store.insert_session", err)
	}
	return tag.RowsAffected() > 0, nil
}

// FlushKPIs upserts both aggregate batches over a single pooled connection.
// Each table's batch runs in its own transaction, so a batch is applied
// entirely or not at all.
func (s *EventStore) FlushKPIs(ctx context.Context, minute, hour map[time.Time]schema.BucketMetrics) error {
	if len(minute) == 0 && len(hour) == 0 {
		return nil
	}

	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return classify("store.flush", err)
	}
	defer conn.Release()

	if err := flushTable(ctx, conn, "kpi_minute", minute); err != nil {
		return err
	}
	return flushTable(ctx, conn, "kpi_hour", hour)
}

func flushTable(ctx context.Context, conn *pgxpool.Conn, table string, buckets map[time.Time]schema.BucketMetrics) error {
	if len(buckets) == 0 {
		return nil
	}
	op := "store.flush_" + table

	batch := &pgx.Batch{}
	sql := fmt.Sprintf(kpiUpsertSQL, table)
	for bucket, m := range buckets {
		revenue, err := numericFromDecimal(m.Revenue)
		if err != nil {
			return err
		}
		batch.Queue(sql, bucket, revenue, m.OrderCount, m.SessionCount, m.CheckoutCount, m.PurchaseCount)
	}

	tx, err := conn.Begin(ctx)
	if err != nil {
		return classify(op, err)
	}

	results := tx.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			_ = tx.Rollback(ctx)
			return classify(op, err)
		}
	}
	if err := results.Close(); err != nil {
		_ = tx.Rollback(ctx)
		return classify(op, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return classify(op, err)
	}
	return nil
}
