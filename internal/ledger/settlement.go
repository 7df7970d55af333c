package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/kkkkikiki/adledger/internal/metrics"
	"github.com/kkkkikiki/adledger/internal/model"
	"github.com/kkkkikiki/adledger/internal/observability"
)

const (
	maxNameLength = 255
	maxTagLength  = 100
)

// CreateOrderRequest carries everything needed to open an order: the order
// fields and the tag names are applied as one explicit sequence
type CreateOrderRequest struct {
	UserID          uuid.UUID
	ChannelID       string
	ChannelName     string
	OrderName       string
	SPM             decimal.Decimal
	Budget          decimal.Decimal
	MaxViewsPerUser int64
	Tags            []string
}

// normalize trims string fields, defaults the per-viewer cap and validates
func (r *CreateOrderRequest) normalize() error {
	r.ChannelID = strings.TrimSpace(r.ChannelID)
	r.ChannelName = strings.TrimSpace(r.ChannelName)
	r.OrderName = strings.TrimSpace(r.OrderName)
	r.Tags = model.NormalizeTags(r.Tags)
	if r.MaxViewsPerUser == 0 {
		r.MaxViewsPerUser = 1
	}

	switch {
	case r.UserID == uuid.Nil:
		return fmt.Errorf("%w: user id is required", ErrInvalidParameter)
	case r.ChannelID == "" || len(r.ChannelID) > maxNameLength:
		return fmt.Errorf("%w: channel id must be 1-%d characters", ErrInvalidParameter, maxNameLength)
	case r.ChannelName == "" || len(r.ChannelName) > maxNameLength:
		return fmt.Errorf("%w: channel name must be 1-%d characters", ErrInvalidParameter, maxNameLength)
	case len(r.OrderName) > maxNameLength:
		return fmt.Errorf("%w: order name exceeds %d characters", ErrInvalidParameter, maxNameLength)
	case !model.ValidMoney(r.SPM):
		return fmt.Errorf("%w: spm must be positive with at most %d decimal places", ErrInvalidParameter, model.MoneyScale)
	case !model.ValidMoney(r.Budget):
		return fmt.Errorf("%w: budget must be positive with at most %d decimal places", ErrInvalidParameter, model.MoneyScale)
	case r.MaxViewsPerUser < 1:
		return fmt.Errorf("%w: max views per user must be at least 1", ErrInvalidParameter)
	}
	for _, t := range r.Tags {
		if len(t) > maxTagLength {
			return fmt.Errorf("%w: tag %q exceeds %d characters", ErrInvalidParameter, t, maxTagLength)
		}
	}
	if r.OrderName == "" {
		r.OrderName = r.ChannelName
	}
	return nil
}

// CreateOrderResult is the outcome of CreateOrder
type CreateOrderResult struct {
	Order      model.Order
	Channel    model.Channel
	NewBalance decimal.Decimal
}

// CreateOrder debits the budget, derives the view pool, upserts the channel and
// persists the order with its tags, all in one transaction
func (l *Ledger) CreateOrder(ctx context.Context, req CreateOrderRequest) (CreateOrderResult, error) {
	if err := req.normalize(); err != nil {
		return CreateOrderResult{}, err
	}
	totalViews, err := model.TotalViews(req.Budget, req.SPM)
	if err != nil {
		return CreateOrderResult{}, fmt.Errorf("%w: %v", ErrInvalidParameter, err)
	}
	if totalViews < 1 {
		return CreateOrderResult{}, fmt.Errorf("%w: budget %s buys no views at spm %s",
			ErrInvalidParameter, req.Budget, req.SPM)
	}

	ctx = observability.WithFields(ctx,
		observability.Field{Key: "user_id", Value: req.UserID.String()},
		observability.Field{Key: "channel_id", Value: req.ChannelID},
	)

	var result CreateOrderResult
	err = l.store.InTx(ctx, func(tx Tx) error {
		now := l.now()

		balance, err := tx.LockBalance(ctx, req.UserID)
		if err != nil {
			return err
		}
		if !balance.CanWithdraw(req.Budget) {
			return fmt.Errorf("%w: available %s", ErrInsufficientFunds, balance.Amount.StringFixed(model.MoneyScale))
		}
		// conditional update; trusts the row, not the read above
		newBalance, err := tx.Withdraw(ctx, req.UserID, req.Budget)
		if err != nil {
			return err
		}

		channel := model.Channel{
			ChannelID:   req.ChannelID,
			UserID:      req.UserID,
			ChannelName: req.ChannelName,
		}
		if err := tx.UpsertChannel(ctx, &channel); err != nil {
			if errors.Is(err, ErrChannelConflict) {
				return fmt.Errorf("%w: %w", ErrInvalidParameter, err)
			}
			return err
		}

		tags, err := tx.GetOrCreateTags(ctx, req.Tags)
		if err != nil {
			return err
		}
		tagIDs := make([]int64, len(tags))
		tagNames := make([]string, len(tags))
		for i, t := range tags {
			tagIDs[i] = t.ID
			tagNames[i] = t.Name
		}
		channel.Tags, err = tx.AddChannelTags(ctx, channel.ID, tagIDs)
		if err != nil {
			return err
		}

		order := model.Order{
			ChannelPK:       channel.ID,
			ChannelID:       channel.ChannelID,
			ChannelName:     channel.ChannelName,
			UserID:          req.UserID,
			OrderName:       req.OrderName,
			SPM:             req.SPM,
			Budget:          req.Budget,
			TotalViews:      totalViews,
			ShownViews:      0,
			RemainingViews:  totalViews,
			MaxViewsPerUser: req.MaxViewsPerUser,
			State:           model.OrderStateActive,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if err := tx.InsertOrder(ctx, &order); err != nil {
			return err
		}
		if err := tx.AddOrderTags(ctx, order.ID, tagIDs); err != nil {
			return err
		}
		order.Tags = tagNames
		order.ChannelTags = channel.Tags

		if err := tx.AppendLedgerEntry(ctx, &model.LedgerEntry{
			UserID:       req.UserID,
			Kind:         model.EntryOrderDebit,
			Amount:       req.Budget,
			BalanceAfter: newBalance,
			OrderID:      &order.ID,
			CreatedAt:    now,
		}); err != nil {
			return err
		}

		result = CreateOrderResult{Order: order, Channel: channel, NewBalance: newBalance}
		return nil
	})
	if err != nil {
		return CreateOrderResult{}, fmt.Errorf("create order: %w", err)
	}

	l.logger.Info(ctx, "order created",
		observability.Field{Key: "order_id", Value: result.Order.ID},
		observability.Field{Key: "total_views", Value: result.Order.TotalViews},
	)
	ev := newOrderEvent(EventOrderCreated, result.Order, result.Order.CreatedAt)
	budget := result.Order.Budget
	ev.Amount = &budget
	l.publish(ctx, ev)
	return result, nil
}

// CancelResult is the outcome of CancelOrder
type CancelResult struct {
	RefundAmount decimal.Decimal
	NewBalance   decimal.Decimal
	Order        model.Order
}

// CancelOrder refunds the unshown views of an order to its owner and moves it
// to cancelled. Refund, deposit and order writes share one transaction so a
// second cancel can never refund again.
func (l *Ledger) CancelOrder(ctx context.Context, userID uuid.UUID, orderID int64) (CancelResult, error) {
	if userID == uuid.Nil || orderID <= 0 {
		return CancelResult{}, fmt.Errorf("%w: user id and order id are required", ErrInvalidParameter)
	}
	ctx = observability.WithFields(ctx,
		observability.Field{Key: "user_id", Value: userID.String()},
		observability.Field{Key: "order_id", Value: orderID},
	)

	var result CancelResult
	err := l.store.InTx(ctx, func(tx Tx) error {
		order, err := l.lockOwnedOrder(ctx, tx, userID, orderID)
		if err != nil {
			return err
		}
		if err := guardTerminal(order); err != nil {
			return err
		}

		refund, err := order.Cancel(l.now())
		if err != nil {
			return err
		}
		if err := tx.UpdateOrder(ctx, &order); err != nil {
			return err
		}

		// balance lock follows the order lock
		balance, err := tx.LockBalance(ctx, userID)
		if err != nil {
			return err
		}
		newBalance := balance.Amount
		if refund.IsPositive() {
			newBalance, err = tx.Deposit(ctx, userID, refund)
			if err != nil {
				return err
			}
			if err := tx.AppendLedgerEntry(ctx, &model.LedgerEntry{
				UserID:       userID,
				Kind:         model.EntryOrderRefund,
				Amount:       refund,
				BalanceAfter: newBalance,
				OrderID:      &order.ID,
				CreatedAt:    order.UpdatedAt,
			}); err != nil {
				return err
			}
		}

		result = CancelResult{RefundAmount: refund, NewBalance: newBalance, Order: order}
		return nil
	})
	if err != nil {
		return CancelResult{}, fmt.Errorf("cancel order: %w", err)
	}

	refundFloat, _ := result.RefundAmount.Float64()
	metrics.RecordRefund(refundFloat)
	l.logger.Info(ctx, "order cancelled",
		observability.Field{Key: "refund", Value: result.RefundAmount.String()},
	)
	ev := newOrderEvent(EventOrderCancelled, result.Order, result.Order.UpdatedAt)
	refund := result.RefundAmount
	ev.Amount = &refund
	l.publish(ctx, ev)
	return result, nil
}

// ActivationResult is the outcome of SetOrderActive
type ActivationResult struct {
	Order    model.Order
	Previous model.OrderState
	// Changed is false when the order already had the requested status
	Changed bool
}

// SetOrderActive toggles an order between active and inactive. Terminal orders
// are rejected and re-setting the current value is a reported no-op.
func (l *Ledger) SetOrderActive(ctx context.Context, userID uuid.UUID, orderID int64, active bool) (ActivationResult, error) {
	if userID == uuid.Nil || orderID <= 0 {
		return ActivationResult{}, fmt.Errorf("%w: user id and order id are required", ErrInvalidParameter)
	}

	var result ActivationResult
	err := l.store.InTx(ctx, func(tx Tx) error {
		order, err := l.lockOwnedOrder(ctx, tx, userID, orderID)
		if err != nil {
			return err
		}
		if err := guardTerminal(order); err != nil {
			return err
		}

		result.Previous = order.State
		if order.IsActive() == active {
			result.Order = order
			return nil
		}
		if active && order.RemainingViews <= 0 {
			return ErrViewsExhausted
		}

		next := model.OrderStateInactive
		if active {
			next = model.OrderStateActive
		}
		if err := order.Transition(next, l.now()); err != nil {
			return err
		}
		if err := tx.UpdateOrder(ctx, &order); err != nil {
			return err
		}
		result.Order = order
		result.Changed = true
		return nil
	})
	if err != nil {
		return ActivationResult{}, fmt.Errorf("set order active: %w", err)
	}

	if result.Changed {
		t := EventOrderDeactivated
		if active {
			t = EventOrderActivated
		}
		l.publish(ctx, newOrderEvent(t, result.Order, result.Order.UpdatedAt))
	}
	return result, nil
}

// GetOrder returns one of the user's orders
func (l *Ledger) GetOrder(ctx context.Context, userID uuid.UUID, orderID int64) (model.Order, error) {
	if userID == uuid.Nil || orderID <= 0 {
		return model.Order{}, fmt.Errorf("%w: user id and order id are required", ErrInvalidParameter)
	}
	order, err := l.store.GetOrder(ctx, orderID)
	if err != nil {
		return model.Order{}, err
	}
	if order.UserID != userID {
		return model.Order{}, fmt.Errorf("order %d: %w", orderID, ErrNotFound)
	}
	return order, nil
}

// ListOrders returns a page of the user's orders and the total count
func (l *Ledger) ListOrders(ctx context.Context, userID uuid.UUID, filter OrderFilter) ([]model.Order, int, error) {
	if userID == uuid.Nil {
		return nil, 0, fmt.Errorf("%w: user id is required", ErrInvalidParameter)
	}
	filter.Limit, filter.Offset = l.page(filter.Limit, filter.Offset)
	return l.store.ListOrders(ctx, userID, filter)
}

// lockOwnedOrder locks an order and hides it from anyone but its owner
func (l *Ledger) lockOwnedOrder(ctx context.Context, tx Tx, userID uuid.UUID, orderID int64) (model.Order, error) {
	order, err := tx.LockOrder(ctx, orderID)
	if err != nil {
		return model.Order{}, err
	}
	if order.UserID != userID {
		return model.Order{}, fmt.Errorf("order %d: %w", orderID, ErrNotFound)
	}
	return order, nil
}

func guardTerminal(order model.Order) error {
	switch order.State {
	case model.OrderStateCancelled:
		return ErrAlreadyCancelled
	case model.OrderStateCompleted:
		return ErrAlreadyCompleted
	}
	return nil
}
