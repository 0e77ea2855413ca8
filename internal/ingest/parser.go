// Package ingest implements the stream processor: payload decoding, dedupe,
// in-memory aggregation, and the broker consumption loop.
package ingest

import (
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"github.com/shoplytics/pulse/errs"
	"github.com/shoplytics/pulse/internal/schema"
)

// envelope mirrors the self-describing JSON payload written by the ingestion
// edge. Unknown fields are ignored; variant selection is by topic.
type envelope struct {
	EventID    string           `json:"event_id"`
	OrderID    string           `json:"order_id"`
	CustomerID string           `json:"customer_id"`
	Amount     *decimal.Decimal `json:"amount"`
	Currency   string           `json:"currency"`
	SessionID  string           `json:"session_id"`
	EventType  string           `json:"event_type"`
	UserID     string           `json:"user_id"`
	Channel    string           `json:"channel"`
	EventTime  string           `json:"event_time"`
	ReceivedAt string           `json:"received_at"`
}

const defaultCurrency = "USD"

// naive layouts accepted for timestamps lacking an explicit offset; they are
// interpreted as UTC.
var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// ParseEvent decodes a broker payload into the Event variant selected by topic.
func ParseEvent(topic schema.Topic, payload []byte) (schema.Event, error) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, errs.New(errs.CodeMalformedPayload, errs.WithOp("ingest.parse"),
			errs.WithMessage(fmt.Sprintf("decode %s payload", topic)), errs.WithCause(err))
	}

	if env.EventID == "" {
		return nil, missingField("event_id")
	}
	eventTime, err := parseTimestamp("event_time", env.EventTime)
	if err != nil {
		return nil, err
	}
	receivedAt, err := parseTimestamp("received_at", env.ReceivedAt)
	if err != nil {
		return nil, err
	}

	switch topic {
	case schema.TopicOrders:
		return parseOrder(env, eventTime, receivedAt)
	case schema.TopicSessions:
		return parseSession(env, eventTime, receivedAt)
	default:
		return nil, errs.New(errs.CodeMalformedPayload, errs.WithOp("ingest.parse"),
			errs.WithMessage(fmt.Sprintf("unknown topic %s", topic)))
	}
}

func parseOrder(env envelope, eventTime, receivedAt time.Time) (schema.Event, error) {
	if env.OrderID == "" {
		return nil, missingField("order_id")
	}
	if env.Amount == nil {
		return nil, missingField("amount")
	}
	if env.Amount.Sign() <= 0 {
		return nil, errs.New(errs.CodeMalformedPayload, errs.WithOp("ingest.parse"),
			errs.WithMessage("amount must be positive"))
	}
	currency := env.Currency
	if currency == "" {
		currency = defaultCurrency
	}
	return schema.OrderEvent{
		EventID:    env.EventID,
		OrderID:    env.OrderID,
		CustomerID: env.CustomerID,
		Amount:     *env.Amount,
		Currency:   currency,
		Channel:    env.Channel,
		EventTime:  eventTime,
		ReceivedAt: receivedAt,
	}, nil
}

func parseSession(env envelope, eventTime, receivedAt time.Time) (schema.Event, error) {
	if env.SessionID == "" {
		return nil, missingField("session_id")
	}
	if env.EventType == "" {
		return nil, missingField("event_type")
	}
	kind := schema.SessionType(env.EventType)
	if !kind.Valid() {
		return nil, errs.New(errs.CodeBadEnum, errs.WithOp("ingest.parse"),
			errs.WithMessage(fmt.Sprintf("unknown session event_type %q", env.EventType)))
	}
	return schema.SessionEvent{
		EventID:    env.EventID,
		SessionID:  env.SessionID,
		Type:       kind,
		UserID:     env.UserID,
		Channel:    env.Channel,
		EventTime:  eventTime,
		ReceivedAt: receivedAt,
	}, nil
}

// parseTimestamp accepts RFC 3339 with "Z" or an explicit offset, plus naive
// timestamps which are treated as UTC. The result always carries the UTC offset.
func parseTimestamp(field, value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, missingField(field)
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t.UTC(), nil
	}
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, value, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, errs.New(errs.CodeMalformedPayload, errs.WithOp("ingest.parse"),
		errs.WithMessage(fmt.Sprintf("unparseable %s %q", field, value)))
}

func missingField(field string) error {
	return errs.New(errs.CodeMissingField, errs.WithOp("ingest.parse"),
		errs.WithMessage("missing required field "+field))
}
