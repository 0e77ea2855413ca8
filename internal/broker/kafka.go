// Package broker constructs log broker clients for the pipeline.
package broker

import (
	"strings"

	"github.com/segmentio/kafka-go"

	"github.com/shoplytics/pulse/errs"
)

const (
	minFetchBytes = 1
	maxFetchBytes = 10e6
)

// Config binds a consumer-group reader to the broker.
type Config struct {
	Brokers     []string
	Topics      []string
	GroupID     string
	OffsetReset string
}

// NewReader builds a consumer-group reader over the configured topics.
// Offsets are committed explicitly by the caller after successful handling,
// giving at-least-once delivery.
func NewReader(cfg Config) (*kafka.Reader, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errs.New(errs.CodeConfig, errs.WithOp("broker.reader"),
			errs.WithMessage("no brokers configured"))
	}
	if len(cfg.Topics) == 0 {
		return nil, errs.New(errs.CodeConfig, errs.WithOp("broker.reader"),
			errs.WithMessage("no topics configured"))
	}
	if strings.TrimSpace(cfg.GroupID) == "" {
		return nil, errs.New(errs.CodeConfig, errs.WithOp("broker.reader"),
			errs.WithMessage("consumer group required"))
	}

	start, err := startOffset(cfg.OffsetReset)
	if err != nil {
		return nil, err
	}

	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		GroupID:     cfg.GroupID,
		GroupTopics: cfg.Topics,
		StartOffset: start,
		MinBytes:    minFetchBytes,
		MaxBytes:    maxFetchBytes,
	}), nil
}

func startOffset(reset string) (int64, error) {
	switch strings.ToLower(strings.TrimSpace(reset)) {
	case "", "earliest":
		return kafka.FirstOffset, nil
	case "latest":
		return kafka.LastOffset, nil
	default:
		return 0, errs.New(errs.CodeConfig, errs.WithOp("broker.reader"),
			errs.WithMessage("offset reset must be earliest or latest, got "+reset))
	}
}
