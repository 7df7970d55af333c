package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/kkkkikiki/adledger/internal/config"
	"github.com/kkkkikiki/adledger/internal/ledger"
	"github.com/kkkkikiki/adledger/internal/model"
	"github.com/kkkkikiki/adledger/internal/observability"
)

func sampleEvent() ledger.Event {
	refund := decimal.RequireFromString("2.50")
	return ledger.Event{
		ID:             uuid.New(),
		Type:           ledger.EventOrderCancelled,
		OrderID:        42,
		UserID:         uuid.New(),
		ChannelID:      "ch",
		State:          model.OrderStateCancelled,
		TotalViews:     300,
		ShownViews:     50,
		RemainingViews: 0,
		Amount:         &refund,
		OccurredAt:     time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestLogPublisher(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	p := NewLogPublisher(observability.NewFromZap(zap.New(core)))

	require.NoError(t, p.Publish(context.Background(), sampleEvent()))
	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "order.cancelled", fields["event_type"])
	assert.Equal(t, "2.5", fields["amount"])
	assert.NoError(t, p.Close())
}

func TestEncode_DecimalsAsStrings(t *testing.T) {
	data, err := encode(sampleEvent())
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "order.cancelled", decoded["type"])
	assert.Equal(t, "2.5", decoded["amount"])
	assert.Equal(t, float64(42), decoded["order_id"])
}

func TestNATSSubject(t *testing.T) {
	p := &NATSPublisher{prefix: "adledger"}
	assert.Equal(t, "adledger.order.completed", p.Subject(ledger.EventOrderCompleted))
}

func TestNew_SelectsBackend(t *testing.T) {
	logger := observability.NewNop()

	p, err := New(context.Background(), config.EventsConfig{Backend: "log"}, logger)
	require.NoError(t, err)
	assert.IsType(t, &LogPublisher{}, p)

	p, err = New(context.Background(), config.EventsConfig{
		Backend:      "kafka",
		KafkaBrokers: "localhost:9092",
		KafkaTopic:   "orders",
	}, logger)
	require.NoError(t, err)
	kp, ok := p.(*KafkaPublisher)
	require.True(t, ok)
	assert.Equal(t, "orders", kp.writer.Topic)
	assert.NoError(t, p.Close())

	_, err = New(context.Background(), config.EventsConfig{Backend: "carrier-pigeon"}, logger)
	assert.Error(t, err)
}
