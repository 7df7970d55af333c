package memory

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/kkkkikiki/adledger/internal/ledger"
	"github.com/kkkkikiki/adledger/internal/model"
)

// tx records the row locks it holds and how to undo each write
type tx struct {
	s        *Store
	orders   map[int64]struct{}
	balances map[uuid.UUID]struct{}
	held     []rowLock
	undo     []func()
}

func (t *tx) release() {
	for i := len(t.held) - 1; i >= 0; i-- {
		t.held[i].release()
	}
	t.held = nil
}

func (t *tx) rollback() {
	t.s.mu.Lock()
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.s.mu.Unlock()
	t.undo = nil
	t.release()
}

func (t *tx) lockOrder(ctx context.Context, orderID int64) error {
	if _, ok := t.orders[orderID]; ok {
		return nil
	}
	l := t.s.orderLock(orderID)
	if err := l.acquire(ctx, t.s.lockTimeout); err != nil {
		return fmt.Errorf("lock order %d: %w", orderID, err)
	}
	t.held = append(t.held, l)
	t.orders[orderID] = struct{}{}
	return nil
}

func (t *tx) lockBalance(ctx context.Context, userID uuid.UUID) error {
	if _, ok := t.balances[userID]; ok {
		return nil
	}
	l := t.s.balanceLock(userID)
	if err := l.acquire(ctx, t.s.lockTimeout); err != nil {
		return fmt.Errorf("lock balance: %w", err)
	}
	t.held = append(t.held, l)
	t.balances[userID] = struct{}{}
	return nil
}

func (t *tx) LockOrder(ctx context.Context, orderID int64) (model.Order, error) {
	t.s.mu.Lock()
	_, exists := t.s.orders[orderID]
	t.s.mu.Unlock()
	if !exists {
		return model.Order{}, fmt.Errorf("order %d: %w", orderID, ledger.ErrNotFound)
	}

	if err := t.lockOrder(ctx, orderID); err != nil {
		return model.Order{}, err
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	return t.s.order(orderID)
}

func (t *tx) UpdateOrder(ctx context.Context, order *model.Order) error {
	if _, ok := t.orders[order.ID]; !ok {
		return fmt.Errorf("update order %d: row lock not held", order.ID)
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()

	prev, ok := t.s.orders[order.ID]
	if !ok {
		return fmt.Errorf("order %d: %w", order.ID, ledger.ErrNotFound)
	}
	next := prev
	next.ShownViews = order.ShownViews
	next.RemainingViews = order.RemainingViews
	next.State = order.State
	next.UpdatedAt = order.UpdatedAt
	t.s.orders[order.ID] = next
	t.undo = append(t.undo, func() { t.s.orders[order.ID] = prev })
	return nil
}

func (t *tx) InsertOrder(ctx context.Context, order *model.Order) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()

	if _, ok := t.s.channels[order.ChannelPK]; !ok {
		return fmt.Errorf("insert order: channel %d: %w", order.ChannelPK, ledger.ErrNotFound)
	}
	t.s.nextOrderID++
	order.ID = t.s.nextOrderID
	if order.CreatedAt.IsZero() {
		order.CreatedAt = t.s.now()
		order.UpdatedAt = order.CreatedAt
	}
	stored := *order
	stored.Tags, stored.ChannelTags = nil, nil
	t.s.orders[order.ID] = stored

	// the new row stays locked until commit
	id := order.ID
	l := newRowLock()
	l <- struct{}{}
	t.s.orderLocks[id] = l
	t.held = append(t.held, l)
	t.orders[id] = struct{}{}

	t.undo = append(t.undo, func() {
		delete(t.s.orders, id)
		delete(t.s.orderTags, id)
		delete(t.s.orderLocks, id)
	})
	return nil
}

func (t *tx) AddOrderTags(ctx context.Context, orderID int64, tagIDs []int64) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()

	prev := t.s.orderTags[orderID]
	next := append([]int64(nil), prev...)
	for _, id := range tagIDs {
		if !containsID(next, id) {
			next = append(next, id)
		}
	}
	t.s.orderTags[orderID] = next
	t.undo = append(t.undo, func() { t.s.orderTags[orderID] = prev })
	return nil
}

func (t *tx) GetOrCreateAdView(ctx context.Context, orderID int64, viewerID string) (model.AdView, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()

	key := viewKey{orderID: orderID, viewerID: viewerID}
	if v, ok := t.s.adViews[key]; ok {
		return v, nil
	}
	now := t.s.now()
	v := model.AdView{OrderID: orderID, ViewerID: viewerID, LastViewedAt: now, CreatedAt: now}
	t.s.adViews[key] = v
	t.undo = append(t.undo, func() { delete(t.s.adViews, key) })
	return v, nil
}

func (t *tx) IncrementAdView(ctx context.Context, orderID int64, viewerID string) (model.AdView, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()

	key := viewKey{orderID: orderID, viewerID: viewerID}
	prev, ok := t.s.adViews[key]
	if !ok {
		return model.AdView{}, fmt.Errorf("ad view %d/%s: %w", orderID, viewerID, ledger.ErrNotFound)
	}
	next := prev
	next.ViewCount++
	next.LastViewedAt = t.s.now()
	t.s.adViews[key] = next
	t.undo = append(t.undo, func() { t.s.adViews[key] = prev })
	return next, nil
}

func (t *tx) LockBalance(ctx context.Context, userID uuid.UUID) (model.Balance, error) {
	if err := t.lockBalance(ctx, userID); err != nil {
		return model.Balance{}, err
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()

	b, created := t.s.balance(userID)
	if created {
		t.undo = append(t.undo, func() { delete(t.s.balances, userID) })
	}
	return b, nil
}

func (t *tx) Deposit(ctx context.Context, userID uuid.UUID, amount decimal.Decimal) (decimal.Decimal, error) {
	return t.adjustBalance(ctx, userID, amount)
}

func (t *tx) Withdraw(ctx context.Context, userID uuid.UUID, amount decimal.Decimal) (decimal.Decimal, error) {
	return t.adjustBalance(ctx, userID, amount.Neg())
}

func (t *tx) adjustBalance(ctx context.Context, userID uuid.UUID, delta decimal.Decimal) (decimal.Decimal, error) {
	if _, err := t.LockBalance(ctx, userID); err != nil {
		return decimal.Zero, err
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()

	prev := t.s.balances[userID]
	next := prev
	next.Amount = prev.Amount.Add(delta)
	if next.Amount.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: available %s", ledger.ErrInsufficientFunds, prev.Amount.StringFixed(model.MoneyScale))
	}
	next.UpdatedAt = t.s.now()
	t.s.balances[userID] = next
	t.undo = append(t.undo, func() { t.s.balances[userID] = prev })
	return next.Amount, nil
}

func (t *tx) AppendLedgerEntry(ctx context.Context, entry *model.LedgerEntry) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()

	t.s.nextEntryID++
	entry.ID = t.s.nextEntryID
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = t.s.now()
	}
	t.s.entries = append(t.s.entries, *entry)
	id := entry.ID
	t.undo = append(t.undo, func() {
		for i := len(t.s.entries) - 1; i >= 0; i-- {
			if t.s.entries[i].ID == id {
				t.s.entries = append(t.s.entries[:i], t.s.entries[i+1:]...)
				return
			}
		}
	})
	return nil
}

func (t *tx) UpsertChannel(ctx context.Context, channel *model.Channel) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()

	now := t.s.now()
	if pk, ok := t.s.channelsBy[channel.ChannelID]; ok {
		prev := t.s.channels[pk]
		if prev.UserID != channel.UserID {
			return fmt.Errorf("channel %q: %w", channel.ChannelID, ledger.ErrChannelConflict)
		}
		next := prev
		next.ChannelName = channel.ChannelName
		next.UpdatedAt = now
		t.s.channels[pk] = next
		t.undo = append(t.undo, func() { t.s.channels[pk] = prev })
		*channel = next
		channel.Tags = nil
		return nil
	}

	t.s.nextChannelID++
	channel.ID = t.s.nextChannelID
	channel.CreatedAt, channel.UpdatedAt = now, now
	stored := *channel
	stored.Tags = nil
	t.s.channels[channel.ID] = stored
	t.s.channelsBy[channel.ChannelID] = channel.ID
	pk, channelID := channel.ID, channel.ChannelID
	t.undo = append(t.undo, func() {
		delete(t.s.channels, pk)
		delete(t.s.channelsBy, channelID)
		delete(t.s.channelTags, pk)
	})
	return nil
}

func (t *tx) AddChannelTags(ctx context.Context, channelPK int64, tagIDs []int64) ([]string, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()

	if _, ok := t.s.channels[channelPK]; !ok {
		return nil, fmt.Errorf("channel %d: %w", channelPK, ledger.ErrNotFound)
	}
	prev := t.s.channelTags[channelPK]
	next := append([]int64(nil), prev...)
	for _, id := range tagIDs {
		if !containsID(next, id) {
			next = append(next, id)
		}
	}
	t.s.channelTags[channelPK] = next
	t.undo = append(t.undo, func() { t.s.channelTags[channelPK] = prev })
	return t.s.tagNames(next), nil
}

func (t *tx) GetOrCreateTags(ctx context.Context, names []string) ([]model.Tag, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()

	tags := make([]model.Tag, 0, len(names))
	for _, name := range names {
		if id, ok := t.s.tagsByName[name]; ok {
			tags = append(tags, t.s.tags[id])
			continue
		}
		t.s.nextTagID++
		tag := model.Tag{ID: t.s.nextTagID, Name: name, CreatedAt: t.s.now()}
		t.s.tags[tag.ID] = tag
		t.s.tagsByName[name] = tag.ID
		// kept on rollback: a concurrent transaction may already hold its id
		tags = append(tags, tag)
	}
	return tags, nil
}
