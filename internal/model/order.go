package model

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderState is the lifecycle state of an order
type OrderState string

const (
	OrderStateActive    OrderState = "active"
	OrderStateInactive  OrderState = "inactive"
	OrderStateCompleted OrderState = "completed"
	OrderStateCancelled OrderState = "cancelled"
)

var (
	// ErrInvalidTransition is returned when a state change is not in the transition table
	ErrInvalidTransition = errors.New("invalid order state transition")
	// ErrNotServable is returned when an impression is recorded on an order that cannot serve it
	ErrNotServable = errors.New("order cannot serve impressions")
)

// orderTransitions lists the allowed next states for every non-terminal state.
// Completed and cancelled are terminal.
var orderTransitions = map[OrderState][]OrderState{
	OrderStateActive:   {OrderStateInactive, OrderStateCompleted, OrderStateCancelled},
	OrderStateInactive: {OrderStateActive, OrderStateCancelled},
}

// Valid reports whether s is a known state
func (s OrderState) Valid() bool {
	switch s {
	case OrderStateActive, OrderStateInactive, OrderStateCompleted, OrderStateCancelled:
		return true
	}
	return false
}

// Terminal reports whether no transition leaves s
func (s OrderState) Terminal() bool {
	return s == OrderStateCompleted || s == OrderStateCancelled
}

// CanTransitionTo reports whether next is reachable from s in one step
func (s OrderState) CanTransitionTo(next OrderState) bool {
	for _, allowed := range orderTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Order represents an ad campaign purchasing a fixed pool of impressions
type Order struct {
	ID              int64           `db:"id" json:"id"`
	ChannelPK       int64           `db:"channel_pk" json:"-"`
	ChannelID       string          `db:"channel_id" json:"channel_id"`
	ChannelName     string          `db:"channel_name" json:"channel_name"`
	UserID          uuid.UUID       `db:"user_id" json:"user_id"`
	OrderName       string          `db:"order_name" json:"order_name"`
	SPM             decimal.Decimal `db:"spm" json:"spm"`
	Budget          decimal.Decimal `db:"budget" json:"budget"`
	TotalViews      int64           `db:"total_views" json:"total_views"`
	ShownViews      int64           `db:"shown_views" json:"shown_views"`
	RemainingViews  int64           `db:"remaining_views" json:"remaining_views"`
	MaxViewsPerUser int64           `db:"max_views_per_user" json:"max_views_per_user"`
	State           OrderState      `db:"state" json:"state"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at" json:"updated_at"`

	Tags        []string `db:"-" json:"tags"`
	ChannelTags []string `db:"-" json:"channel_tags"`
}

// IsActive mirrors the legacy is_active flag
func (o *Order) IsActive() bool { return o.State == OrderStateActive }

// Completed mirrors the legacy completed flag
func (o *Order) Completed() bool { return o.State == OrderStateCompleted }

// Cancelled mirrors the legacy cancelled flag
func (o *Order) Cancelled() bool { return o.State == OrderStateCancelled }

// Servable reports whether the order may receive another impression
func (o *Order) Servable() bool {
	return o.State == OrderStateActive && o.RemainingViews > 0
}

// Transition moves the order to next if the transition table allows it
func (o *Order) Transition(next OrderState, now time.Time) error {
	if !o.State.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.State, next)
	}
	o.State = next
	o.UpdatedAt = now
	return nil
}

// RecordImpression consumes one view from the pool and completes the order
// when the pool reaches zero. Callers must hold the order's row lock.
func (o *Order) RecordImpression(now time.Time) error {
	if !o.Servable() {
		return ErrNotServable
	}
	o.ShownViews++
	o.RemainingViews--
	o.UpdatedAt = now
	if o.RemainingViews == 0 {
		return o.Transition(OrderStateCompleted, now)
	}
	return nil
}

// Cancel moves the order to cancelled, zeroes the pool and returns the refund
// owed for the views that were never shown.
func (o *Order) Cancel(now time.Time) (decimal.Decimal, error) {
	if err := o.Transition(OrderStateCancelled, now); err != nil {
		return decimal.Zero, err
	}
	refund := RefundAmount(o.RemainingViews, o.SPM)
	o.RemainingViews = 0
	return refund, nil
}

// RefundPreview is the amount a cancel would return right now
func (o *Order) RefundPreview() decimal.Decimal {
	if o.State.Terminal() || o.RemainingViews <= 0 {
		return decimal.Zero
	}
	return RefundAmount(o.RemainingViews, o.SPM)
}

// CheckInvariants verifies the counter and state invariants of the order
func (o *Order) CheckInvariants() error {
	if o.ShownViews < 0 || o.RemainingViews < 0 {
		return fmt.Errorf("order %d: negative counters shown=%d remaining=%d", o.ID, o.ShownViews, o.RemainingViews)
	}
	switch o.State {
	case OrderStateCancelled:
		if o.RemainingViews != 0 {
			return fmt.Errorf("order %d: cancelled with %d remaining views", o.ID, o.RemainingViews)
		}
		if o.ShownViews > o.TotalViews {
			return fmt.Errorf("order %d: shown %d exceeds total %d", o.ID, o.ShownViews, o.TotalViews)
		}
		return nil
	case OrderStateCompleted:
		if o.RemainingViews != 0 {
			return fmt.Errorf("order %d: completed with %d remaining views", o.ID, o.RemainingViews)
		}
	case OrderStateActive, OrderStateInactive:
		if o.RemainingViews == 0 {
			return fmt.Errorf("order %d: %s with an empty pool", o.ID, o.State)
		}
	default:
		return fmt.Errorf("order %d: unknown state %q", o.ID, o.State)
	}
	if o.ShownViews+o.RemainingViews != o.TotalViews {
		return fmt.Errorf("order %d: shown %d + remaining %d != total %d",
			o.ID, o.ShownViews, o.RemainingViews, o.TotalViews)
	}
	return nil
}
