package ledger_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/kkkkikiki/adledger/internal/ledger"
	"github.com/kkkkikiki/adledger/internal/model"
)

func TestCancelOrder_RefundsRemainingOnce(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger(t, nil)
	user := uuid.New()
	fund(t, l, user, "10.00")

	o := placeOrder(t, l, user, "ch", "10.00", "3.00", 1, "refund")
	require.Equal(t, int64(300), o.TotalViews)
	for i := 0; i < 50; i++ {
		_, err := l.Search(ctx, "refund", fmt.Sprintf("viewer-%d", i))
		require.NoError(t, err)
	}

	res, err := l.CancelOrder(ctx, user, o.ID)
	require.NoError(t, err)
	assert.True(t, res.RefundAmount.Equal(dec("2.50")), "refund %s", res.RefundAmount)
	assert.True(t, res.NewBalance.Equal(dec("9.50")), "balance %s", res.NewBalance)
	assert.Equal(t, model.OrderStateCancelled, res.Order.State)
	assert.Equal(t, int64(50), res.Order.ShownViews)
	assert.Equal(t, int64(0), res.Order.RemainingViews)
	require.NoError(t, res.Order.CheckInvariants())

	_, err = l.CancelOrder(ctx, user, o.ID)
	assert.ErrorIs(t, err, ledger.ErrAlreadyCancelled)

	b, err := l.GetBalance(ctx, user)
	require.NoError(t, err)
	assert.True(t, b.Amount.Equal(dec("9.50")), "second cancel must not refund again")

	entries, err := l.ListEntries(ctx, user, 10, 0)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, model.EntryOrderRefund, entries[0].Kind)
	assert.True(t, entries[0].Amount.Equal(dec("2.50")))
}

func TestCancelOrder_ConservesMoney(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger(t, nil)
	user := uuid.New()
	fund(t, l, user, "20.00")

	o := placeOrder(t, l, user, "ch", "7.77", "13.13", 1, "odd")
	for i := 0; i < 3; i++ {
		_, err := l.Search(ctx, "odd", fmt.Sprintf("viewer-%d", i))
		require.NoError(t, err)
	}
	res, err := l.CancelOrder(ctx, user, o.ID)
	require.NoError(t, err)

	// balance = deposits - budget + refund, exactly
	want := dec("20.00").Sub(dec("13.13")).Add(model.RefundAmount(o.TotalViews-3, dec("7.77")))
	assert.True(t, res.NewBalance.Equal(want), "got %s want %s", res.NewBalance, want)
}

func TestCancelOrder_ConcurrentWithSearch(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger(t, nil)
	user := uuid.New()
	fund(t, l, user, "10.00")
	o := placeOrder(t, l, user, "ch", "10.00", "3.00", 1, "contended")
	require.Equal(t, int64(300), o.TotalViews)

	const cancellers, viewers = 10, 100
	var cancelled, already, served atomic.Int64
	var refund atomic.Value
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < cancellers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			res, err := l.CancelOrder(ctx, user, o.ID)
			switch {
			case err == nil:
				cancelled.Add(1)
				refund.Store(res.RefundAmount)
			case errors.Is(err, ledger.ErrAlreadyCancelled):
				already.Add(1)
			default:
				t.Errorf("unexpected cancel error: %v", err)
			}
		}()
	}
	for i := 0; i < viewers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, err := l.Search(ctx, "contended", fmt.Sprintf("viewer-%d", i))
			switch {
			case err == nil:
				served.Add(1)
			case errors.Is(err, ledger.ErrNotFound):
			default:
				t.Errorf("unexpected search error: %v", err)
			}
		}(i)
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int64(1), cancelled.Load())
	assert.Equal(t, int64(cancellers-1), already.Load())

	got, err := l.GetOrder(ctx, user, o.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStateCancelled, got.State)
	assert.Equal(t, served.Load(), got.ShownViews, "every served search is counted exactly once")
	require.NoError(t, got.CheckInvariants())

	// balance = funded - budget + (total - shown) * spm / 1000
	want := dec("10.00").Sub(dec("3.00")).Add(model.RefundAmount(o.TotalViews-got.ShownViews, dec("10.00")))
	paid, ok := refund.Load().(decimal.Decimal)
	require.True(t, ok)
	assert.True(t, paid.Equal(model.RefundAmount(o.TotalViews-got.ShownViews, dec("10.00"))), "refund %s", paid)

	b, err := l.GetBalance(ctx, user)
	require.NoError(t, err)
	assert.True(t, b.Amount.Equal(want), "got %s want %s", b.Amount, want)
}

func TestCancelOrder_Guards(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger(t, nil)
	user := uuid.New()
	fund(t, l, user, "10.00")

	t.Run("other user", func(t *testing.T) {
		o := placeOrder(t, l, user, "ch", "1.00", "1.00", 1, "g1")
		_, err := l.CancelOrder(ctx, uuid.New(), o.ID)
		assert.ErrorIs(t, err, ledger.ErrNotFound)
	})

	t.Run("missing order", func(t *testing.T) {
		_, err := l.CancelOrder(ctx, user, 9999)
		assert.ErrorIs(t, err, ledger.ErrNotFound)
	})

	t.Run("completed", func(t *testing.T) {
		o := placeOrder(t, l, user, "ch", "10.00", "0.01", 1, "g2")
		_, err := l.Search(ctx, "g2", "viewer")
		require.NoError(t, err)

		_, err = l.CancelOrder(ctx, user, o.ID)
		assert.ErrorIs(t, err, ledger.ErrAlreadyCompleted)
	})

	t.Run("inactive is cancellable", func(t *testing.T) {
		o := placeOrder(t, l, user, "ch", "1.00", "1.00", 1, "g3")
		_, err := l.SetOrderActive(ctx, user, o.ID, false)
		require.NoError(t, err)

		res, err := l.CancelOrder(ctx, user, o.ID)
		require.NoError(t, err)
		assert.True(t, res.RefundAmount.Equal(dec("1.00")))
	})

	t.Run("invalid input", func(t *testing.T) {
		_, err := l.CancelOrder(ctx, uuid.Nil, 1)
		assert.ErrorIs(t, err, ledger.ErrInvalidParameter)
		_, err = l.CancelOrder(ctx, user, 0)
		assert.ErrorIs(t, err, ledger.ErrInvalidParameter)
	})
}

func TestSetOrderActive(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger(t, nil)
	user := uuid.New()
	fund(t, l, user, "10.00")
	o := placeOrder(t, l, user, "ch", "1.00", "1.00", 1, "toggle")

	res, err := l.SetOrderActive(ctx, user, o.ID, false)
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Equal(t, model.OrderStateActive, res.Previous)
	assert.Equal(t, model.OrderStateInactive, res.Order.State)

	res, err = l.SetOrderActive(ctx, user, o.ID, false)
	require.NoError(t, err)
	assert.False(t, res.Changed)

	res, err = l.SetOrderActive(ctx, user, o.ID, true)
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Equal(t, model.OrderStateActive, res.Order.State)

	_, err = l.SetOrderActive(ctx, uuid.New(), o.ID, false)
	assert.ErrorIs(t, err, ledger.ErrNotFound)

	_, err = l.CancelOrder(ctx, user, o.ID)
	require.NoError(t, err)
	_, err = l.SetOrderActive(ctx, user, o.ID, true)
	assert.ErrorIs(t, err, ledger.ErrAlreadyCancelled)
}

func TestSetOrderActive_Completed(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger(t, nil)
	user := uuid.New()
	fund(t, l, user, "1.00")
	o := placeOrder(t, l, user, "ch", "10.00", "0.01", 1, "done")
	_, err := l.Search(ctx, "done", "viewer")
	require.NoError(t, err)

	_, err = l.SetOrderActive(ctx, user, o.ID, true)
	assert.ErrorIs(t, err, ledger.ErrAlreadyCompleted)
}

func TestPublishFailureDoesNotFailOperation(t *testing.T) {
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	publisher := NewMockPublisher(ctrl)
	publisher.EXPECT().Publish(gomock.Any(), gomock.Any()).
		Return(errors.New("broker down")).AnyTimes()

	l, _ := newTestLedger(t, publisher)
	user := uuid.New()
	fund(t, l, user, "5.00")

	o := placeOrder(t, l, user, "ch", "1.00", "1.00", 1, "flaky")
	res, err := l.CancelOrder(ctx, user, o.ID)
	require.NoError(t, err)
	assert.True(t, res.NewBalance.Equal(dec("5.00")))
}

func TestCancelOrder_PublishesRefund(t *testing.T) {
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	publisher := NewMockPublisher(ctrl)
	publisher.EXPECT().Publish(gomock.Any(), gomock.Any()).Return(nil)
	publisher.EXPECT().Publish(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, ev ledger.Event) error {
			assert.Equal(t, ledger.EventOrderCancelled, ev.Type)
			require.NotNil(t, ev.Amount)
			assert.True(t, ev.Amount.Equal(dec("2.00")))
			return nil
		})

	l, _ := newTestLedger(t, publisher)
	user := uuid.New()
	fund(t, l, user, "2.00")
	o := placeOrder(t, l, user, "ch", "1.00", "2.00", 1, "evt")

	_, err := l.CancelOrder(ctx, user, o.ID)
	require.NoError(t, err)
}
