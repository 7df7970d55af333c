package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kkkkikiki/adledger/internal/ledger"
	"github.com/kkkkikiki/adledger/internal/model"
)

func TestSimilarity(t *testing.T) {
	tests := []struct {
		a, b string
		want float64
	}{
		{"football", "football", 1},
		{"footbal", "football", 0.7},
		{"news", "sports", 0},
		{"", "news", 0},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, similarity(tt.a, tt.b), 1e-9, "%q vs %q", tt.a, tt.b)
	}
}

func TestFindSimilarTags_Ordering(t *testing.T) {
	ctx := context.Background()
	s := New(time.Second)
	require.NoError(t, s.InTx(ctx, func(tx ledger.Tx) error {
		_, err := tx.GetOrCreateTags(ctx, []string{"football club", "football", "cooking"})
		return err
	}))

	matches, err := s.FindSimilarTags(ctx, "footbal", 0.3)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "football", matches[0].Name)
	assert.Equal(t, "football club", matches[1].Name)
	assert.Greater(t, matches[0].Similarity, matches[1].Similarity)
}

func TestInTx_RollbackUndoesWrites(t *testing.T) {
	ctx := context.Background()
	s := New(time.Second)
	user := uuid.New()
	boom := errors.New("boom")

	err := s.InTx(ctx, func(tx ledger.Tx) error {
		if _, err := tx.Deposit(ctx, user, decimal.NewFromInt(10)); err != nil {
			return err
		}
		ch := model.Channel{ChannelID: "ch", UserID: user, ChannelName: "name"}
		if err := tx.UpsertChannel(ctx, &ch); err != nil {
			return err
		}
		tags, err := tx.GetOrCreateTags(ctx, []string{"gone"})
		if err != nil {
			return err
		}
		if _, err := tx.AddChannelTags(ctx, ch.ID, []int64{tags[0].ID}); err != nil {
			return err
		}
		if err := tx.AppendLedgerEntry(ctx, &model.LedgerEntry{UserID: user, Kind: model.EntryDeposit, Amount: decimal.NewFromInt(10)}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	b, err := s.GetBalance(ctx, user)
	require.NoError(t, err)
	assert.True(t, b.Amount.IsZero())

	// tags are dictionary rows and outlive the rollback
	_, err = s.FindTagByName(ctx, "gone")
	assert.NoError(t, err)

	entries, err := s.ListLedgerEntries(ctx, user, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, entries)

	// the channel id is free again
	other := uuid.New()
	require.NoError(t, s.InTx(ctx, func(tx ledger.Tx) error {
		return tx.UpsertChannel(ctx, &model.Channel{ChannelID: "ch", UserID: other, ChannelName: "x"})
	}))
}

func TestWithdraw_Insufficient(t *testing.T) {
	ctx := context.Background()
	s := New(time.Second)
	user := uuid.New()

	err := s.InTx(ctx, func(tx ledger.Tx) error {
		_, err := tx.Withdraw(ctx, user, decimal.NewFromInt(1))
		return err
	})
	assert.ErrorIs(t, err, ledger.ErrInsufficientFunds)
}

func TestLockOrder_Timeout(t *testing.T) {
	ctx := context.Background()
	s := New(50 * time.Millisecond)
	user := uuid.New()

	var orderID int64
	require.NoError(t, s.InTx(ctx, func(tx ledger.Tx) error {
		ch := model.Channel{ChannelID: "ch", UserID: user, ChannelName: "name"}
		if err := tx.UpsertChannel(ctx, &ch); err != nil {
			return err
		}
		o := model.Order{ChannelPK: ch.ID, UserID: user, SPM: decimal.NewFromInt(1), Budget: decimal.NewFromInt(1),
			TotalViews: 1000, RemainingViews: 1000, MaxViewsPerUser: 1, State: model.OrderStateActive}
		if err := tx.InsertOrder(ctx, &o); err != nil {
			return err
		}
		orderID = o.ID
		return nil
	}))

	held := make(chan struct{})
	done := make(chan struct{})
	go func() {
		_ = s.InTx(ctx, func(tx ledger.Tx) error {
			if _, err := tx.LockOrder(ctx, orderID); err != nil {
				return err
			}
			close(held)
			<-done
			return nil
		})
	}()
	<-held

	err := s.InTx(ctx, func(tx ledger.Tx) error {
		_, err := tx.LockOrder(ctx, orderID)
		return err
	})
	assert.ErrorIs(t, err, ledger.ErrLockTimeout)
	close(done)
}

func TestUpdateOrder_RequiresLock(t *testing.T) {
	ctx := context.Background()
	s := New(time.Second)

	err := s.InTx(ctx, func(tx ledger.Tx) error {
		return tx.UpdateOrder(ctx, &model.Order{ID: 1})
	})
	assert.Error(t, err)
}

func TestGetOrCreateTags_RollbackKeepsTagSeenByOthers(t *testing.T) {
	ctx := context.Background()
	s := New(time.Second)
	user := uuid.New()
	boom := errors.New("boom")

	created := make(chan struct{})
	attached := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		err := s.InTx(ctx, func(tx ledger.Tx) error {
			if _, err := tx.GetOrCreateTags(ctx, []string{"news"}); err != nil {
				return err
			}
			close(created)
			<-attached
			return boom
		})
		assert.ErrorIs(t, err, boom)
	}()
	<-created

	// a second transaction reuses the uncommitted tag and commits after the
	// creator rolls back
	require.NoError(t, s.InTx(ctx, func(tx ledger.Tx) error {
		tags, err := tx.GetOrCreateTags(ctx, []string{"news"})
		if err != nil {
			return err
		}
		close(attached)
		wg.Wait()

		ch := model.Channel{ChannelID: "ch", UserID: user, ChannelName: "name"}
		if err := tx.UpsertChannel(ctx, &ch); err != nil {
			return err
		}
		names, err := tx.AddChannelTags(ctx, ch.ID, []int64{tags[0].ID})
		if err != nil {
			return err
		}
		assert.Equal(t, []string{"news"}, names)
		return nil
	}))

	tag, err := s.FindTagByName(ctx, "news")
	require.NoError(t, err)
	assert.Equal(t, "news", tag.Name)
}

func TestInsertOrder_LocksNewRowUntilCommit(t *testing.T) {
	ctx := context.Background()
	s := New(50 * time.Millisecond)
	user := uuid.New()

	inserted := make(chan int64)
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = s.InTx(ctx, func(tx ledger.Tx) error {
			ch := model.Channel{ChannelID: "ch", UserID: user, ChannelName: "name"}
			if err := tx.UpsertChannel(ctx, &ch); err != nil {
				return err
			}
			o := model.Order{ChannelPK: ch.ID, UserID: user, SPM: decimal.NewFromInt(1), Budget: decimal.NewFromInt(1),
				TotalViews: 1000, RemainingViews: 1000, MaxViewsPerUser: 1, State: model.OrderStateActive}
			if err := tx.InsertOrder(ctx, &o); err != nil {
				return err
			}
			// the creator can still lock its own row
			if _, err := tx.LockOrder(ctx, o.ID); err != nil {
				return err
			}
			inserted <- o.ID
			<-done
			return nil
		})
	}()
	orderID := <-inserted

	err := s.InTx(ctx, func(tx ledger.Tx) error {
		_, err := tx.LockOrder(ctx, orderID)
		return err
	})
	assert.ErrorIs(t, err, ledger.ErrLockTimeout)

	close(done)
	wg.Wait()
	require.NoError(t, s.InTx(ctx, func(tx ledger.Tx) error {
		_, err := tx.LockOrder(ctx, orderID)
		return err
	}))
}

func TestInsertOrder_RollbackLeavesWaiterNotFound(t *testing.T) {
	ctx := context.Background()
	s := New(time.Second)
	user := uuid.New()
	boom := errors.New("boom")

	inserted := make(chan int64)
	abort := make(chan struct{})
	go func() {
		_ = s.InTx(ctx, func(tx ledger.Tx) error {
			ch := model.Channel{ChannelID: "ch", UserID: user, ChannelName: "name"}
			if err := tx.UpsertChannel(ctx, &ch); err != nil {
				return err
			}
			o := model.Order{ChannelPK: ch.ID, UserID: user, SPM: decimal.NewFromInt(1), Budget: decimal.NewFromInt(1),
				TotalViews: 1000, RemainingViews: 1000, MaxViewsPerUser: 1, State: model.OrderStateActive}
			if err := tx.InsertOrder(ctx, &o); err != nil {
				return err
			}
			inserted <- o.ID
			<-abort
			return boom
		})
	}()
	orderID := <-inserted

	// the waiter blocks on the uncommitted row and finds it gone after rollback
	time.AfterFunc(20*time.Millisecond, func() { close(abort) })
	err := s.InTx(ctx, func(tx ledger.Tx) error {
		_, err := tx.LockOrder(ctx, orderID)
		return err
	})
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}
