package ledger

//go:generate go run go.uber.org/mock/mockgen@latest -source=events.go -destination=mocks_test.go -package=ledger_test

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/kkkkikiki/adledger/internal/model"
)

// EventType names an order lifecycle event
type EventType string

const (
	EventOrderCreated     EventType = "order.created"
	EventOrderCompleted   EventType = "order.completed"
	EventOrderCancelled   EventType = "order.cancelled"
	EventOrderActivated   EventType = "order.activated"
	EventOrderDeactivated EventType = "order.deactivated"
)

// Event is published after the transaction that caused it commits
type Event struct {
	ID             uuid.UUID        `json:"id"`
	Type           EventType        `json:"type"`
	OrderID        int64            `json:"order_id"`
	UserID         uuid.UUID        `json:"user_id"`
	ChannelID      string           `json:"channel_id,omitempty"`
	State          model.OrderState `json:"state"`
	TotalViews     int64            `json:"total_views"`
	ShownViews     int64            `json:"shown_views"`
	RemainingViews int64            `json:"remaining_views"`
	Amount         *decimal.Decimal `json:"amount,omitempty"`
	OccurredAt     time.Time        `json:"occurred_at"`
}

// Publisher delivers lifecycle events to subscribers
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

func newOrderEvent(t EventType, o model.Order, now time.Time) Event {
	return Event{
		ID:             uuid.New(),
		Type:           t,
		OrderID:        o.ID,
		UserID:         o.UserID,
		ChannelID:      o.ChannelID,
		State:          o.State,
		TotalViews:     o.TotalViews,
		ShownViews:     o.ShownViews,
		RemainingViews: o.RemainingViews,
		OccurredAt:     now,
	}
}
