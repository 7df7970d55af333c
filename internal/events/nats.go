package events

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kkkkikiki/adledger/internal/ledger"
	"github.com/kkkkikiki/adledger/internal/observability"
)

// NATSPublisher publishes each event on <prefix>.<event type>
type NATSPublisher struct {
	conn   *nats.Conn
	prefix string
}

// NewNATSPublisher connects to NATS with reconnect handling
func NewNATSPublisher(ctx context.Context, url, prefix string, logger *observability.Logger) (*NATSPublisher, error) {
	logger.Info(ctx, "connecting to NATS", observability.Field{Key: "address", Value: url})

	nc, err := nats.Connect(
		url,
		nats.Name("adledger"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(50),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(10*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.WarnWithError(ctx, "NATS disconnected", err)
			} else {
				logger.Warn(ctx, "NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info(ctx, "NATS reconnected", observability.Field{Key: "url", Value: nc.ConnectedUrl()})
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			logger.Warn(ctx, "NATS connection closed")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}

	return &NATSPublisher{conn: nc, prefix: prefix}, nil
}

// Subject returns the subject an event type is published on
func (p *NATSPublisher) Subject(t ledger.EventType) string {
	return p.prefix + "." + string(t)
}

func (p *NATSPublisher) Publish(ctx context.Context, event ledger.Event) error {
	data, err := encode(event)
	if err != nil {
		return err
	}
	msg := nats.NewMsg(p.Subject(event.Type))
	msg.Data = data
	msg.Header.Set(nats.MsgIdHdr, event.ID.String())
	if err := p.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("failed to publish %s: %w", msg.Subject, err)
	}
	return nil
}

// Close flushes pending messages and closes the connection
func (p *NATSPublisher) Close() error {
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
		return fmt.Errorf("failed to drain NATS connection: %w", err)
	}
	return nil
}
