package events

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/kkkkikiki/adledger/internal/ledger"
	"github.com/kkkkikiki/adledger/internal/observability"
)

// KafkaConfig holds producer settings
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	BatchTimeout time.Duration
}

// KafkaPublisher writes events keyed by order id so one order's events stay
// on one partition in order
type KafkaPublisher struct {
	writer *kafka.Writer
	logger *observability.Logger
}

// NewKafkaPublisher creates a synchronous producer
func NewKafkaPublisher(cfg KafkaConfig, logger *observability.Logger) *KafkaPublisher {
	batchTimeout := cfg.BatchTimeout
	if batchTimeout == 0 {
		batchTimeout = 10 * time.Millisecond
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           batchTimeout,
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}

	return &KafkaPublisher{writer: writer, logger: logger}
}

func (p *KafkaPublisher) Publish(ctx context.Context, event ledger.Event) error {
	data, err := encode(event)
	if err != nil {
		return err
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(strconv.FormatInt(event.OrderID, 10)),
		Value: data,
		Time:  event.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.Type)},
			{Key: "event_id", Value: []byte(event.ID.String())},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to write %s to kafka: %w", event.Type, err)
	}

	p.logger.Debug(ctx, "event written to kafka",
		observability.Field{Key: "topic", Value: p.writer.Topic},
		observability.Field{Key: "event_type", Value: string(event.Type)},
	)
	return nil
}

// Close flushes and closes the writer
func (p *KafkaPublisher) Close() error {
	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("failed to close kafka writer: %w", err)
	}
	return nil
}
