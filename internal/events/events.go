// Package events delivers order lifecycle events to a broker
package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/kkkkikiki/adledger/internal/config"
	"github.com/kkkkikiki/adledger/internal/ledger"
	"github.com/kkkkikiki/adledger/internal/observability"
)

// Publisher is a ledger.Publisher that owns a broker connection
type Publisher interface {
	ledger.Publisher
	Close() error
}

// New builds the publisher selected by EVENTS_BACKEND
func New(ctx context.Context, cfg config.EventsConfig, logger *observability.Logger) (Publisher, error) {
	switch cfg.Backend {
	case "log":
		return NewLogPublisher(logger), nil
	case "nats":
		return NewNATSPublisher(ctx, cfg.NATSURL, cfg.SubjectPrefix, logger)
	case "kafka":
		return NewKafkaPublisher(KafkaConfig{
			Brokers: cfg.Brokers(),
			Topic:   cfg.KafkaTopic,
		}, logger), nil
	}
	return nil, fmt.Errorf("unsupported events backend %q", cfg.Backend)
}

func encode(event ledger.Event) ([]byte, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event %s: %w", event.Type, err)
	}
	return data, nil
}

// LogPublisher writes events to the structured log
type LogPublisher struct {
	logger *observability.Logger
}

// NewLogPublisher creates a publisher backed by the logger
func NewLogPublisher(logger *observability.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(ctx context.Context, event ledger.Event) error {
	fields := []observability.Field{
		{Key: "event_id", Value: event.ID.String()},
		{Key: "event_type", Value: string(event.Type)},
		{Key: "order_id", Value: event.OrderID},
		{Key: "state", Value: string(event.State)},
		{Key: "remaining_views", Value: event.RemainingViews},
	}
	if event.Amount != nil {
		fields = append(fields, observability.Field{Key: "amount", Value: event.Amount.String()})
	}
	p.logger.Info(ctx, "order event", fields...)
	return nil
}

func (p *LogPublisher) Close() error { return nil }
