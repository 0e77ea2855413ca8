// Package schema defines the canonical event and aggregate types shared across
// the pulse pipeline.
package schema

import (
	"time"

	"github.com/shopspring/decimal"
)

// Topic tags the broker stream an event was consumed from.
type Topic string

const (
	// TopicOrders carries order events.
	TopicOrders Topic = "orders"
	// TopicSessions carries session events.
	TopicSessions Topic = "sessions"
)

// SessionType enumerates the recognised session event kinds.
type SessionType string

const (
	// SessionView marks a product or page view.
	SessionView SessionType = "view"
	// SessionCheckout marks a checkout start.
	SessionCheckout SessionType = "checkout"
	// SessionPurchase marks a completed purchase.
	SessionPurchase SessionType = "purchase"
)

// Valid reports whether t is a recognised session type.
func (t SessionType) Valid() bool {
	switch t {
	case SessionView, SessionCheckout, SessionPurchase:
		return true
	default:
		return false
	}
}

// Event is the closed sum of payload variants produced by the ingestion edge.
// The two implementations are OrderEvent and SessionEvent.
type Event interface {
	// Key returns the globally unique event identifier.
	Key() string
	// OccurredAt returns the UTC business time of the event.
	OccurredAt() time.Time
	// Delta returns the event's additive contribution to its time buckets.
	Delta() BucketMetrics
}

// OrderEvent records a placed order.
type OrderEvent struct {
	EventID     string
	OrderID     string
	CustomerID  string
	Amount      decimal.Decimal
	Currency    string
	Channel     string
	EventTime   time.Time
	ReceivedAt  time.Time
	ProcessedAt time.Time
}

// Key implements Event.
func (e OrderEvent) Key() string { return e.EventID }

// OccurredAt implements Event.
func (e OrderEvent) OccurredAt() time.Time { return e.EventTime }

// Delta implements Event.
func (e OrderEvent) Delta() BucketMetrics {
	return BucketMetrics{Revenue: e.Amount, OrderCount: 1}
}

// SessionEvent records a browsing session interaction.
type SessionEvent struct {
	EventID     string
	SessionID   string
	Type        SessionType
	UserID      string
	Channel     string
	EventTime   time.Time
	ReceivedAt  time.Time
	ProcessedAt time.Time
}

// Key implements Event.
func (e SessionEvent) Key() string { return e.EventID }

// OccurredAt implements Event.
func (e SessionEvent) OccurredAt() time.Time { return e.EventTime }

// Delta implements Event.
func (e SessionEvent) Delta() BucketMetrics {
	switch e.Type {
	case SessionView:
		return BucketMetrics{SessionCount: 1}
	case SessionCheckout:
		return BucketMetrics{CheckoutCount: 1}
	case SessionPurchase:
		return BucketMetrics{PurchaseCount: 1}
	default:
		return BucketMetrics{}
	}
}

// BucketMetrics is the additive tuple of KPI counters for one time bucket.
// The zero value is the additive identity.
type BucketMetrics struct {
	Revenue       decimal.Decimal
	OrderCount    int64
	SessionCount  int64
	CheckoutCount int64
	PurchaseCount int64
}

// Add returns the componentwise sum of m and delta.
func (m BucketMetrics) Add(delta BucketMetrics) BucketMetrics {
	return BucketMetrics{
		Revenue:       m.Revenue.Add(delta.Revenue),
		OrderCount:    m.OrderCount + delta.OrderCount,
		SessionCount:  m.SessionCount + delta.SessionCount,
		CheckoutCount: m.CheckoutCount + delta.CheckoutCount,
		PurchaseCount: m.PurchaseCount + delta.PurchaseCount,
	}
}

// IsZero reports whether every counter equals the identity.
func (m BucketMetrics) IsZero() bool {
	return m.Revenue.IsZero() &&
		m.OrderCount == 0 &&
		m.SessionCount == 0 &&
		m.CheckoutCount == 0 &&
		m.PurchaseCount == 0
}

// MinuteBucket truncates t to its UTC minute.
func MinuteBucket(t time.Time) time.Time {
	return t.UTC().Truncate(time.Minute)
}

// HourBucket truncates t to its UTC hour.
func HourBucket(t time.Time) time.Time {
	return t.UTC().Truncate(time.Hour)
}
