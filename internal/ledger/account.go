package ledger

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/kkkkikiki/adledger/internal/model"
)

// GetBalance returns the user's balance, creating an empty one on first access
func (l *Ledger) GetBalance(ctx context.Context, userID uuid.UUID) (model.Balance, error) {
	if userID == uuid.Nil {
		return model.Balance{}, fmt.Errorf("%w: user id is required", ErrInvalidParameter)
	}
	return l.store.GetBalance(ctx, userID)
}

// Deposit credits amount to the user's balance and returns the new amount
func (l *Ledger) Deposit(ctx context.Context, userID uuid.UUID, amount decimal.Decimal) (decimal.Decimal, error) {
	if err := validateMovement(userID, amount); err != nil {
		return decimal.Zero, err
	}

	var newBalance decimal.Decimal
	err := l.store.InTx(ctx, func(tx Tx) error {
		if _, err := tx.LockBalance(ctx, userID); err != nil {
			return err
		}
		var err error
		newBalance, err = tx.Deposit(ctx, userID, amount)
		if err != nil {
			return err
		}
		return tx.AppendLedgerEntry(ctx, &model.LedgerEntry{
			UserID:       userID,
			Kind:         model.EntryDeposit,
			Amount:       amount,
			BalanceAfter: newBalance,
			CreatedAt:    l.now(),
		})
	})
	if err != nil {
		return decimal.Zero, fmt.Errorf("deposit: %w", err)
	}
	return newBalance, nil
}

// Withdraw debits amount if the balance covers it. On ErrInsufficientFunds
// nothing is mutated. Amounts take at most MoneyScale places, except that the
// exact whole balance may be withdrawn so sub-cent refund remainders can leave.
func (l *Ledger) Withdraw(ctx context.Context, userID uuid.UUID, amount decimal.Decimal) (decimal.Decimal, error) {
	if userID == uuid.Nil {
		return decimal.Zero, fmt.Errorf("%w: user id is required", ErrInvalidParameter)
	}
	if !amount.IsPositive() || !model.HasBalanceScale(amount) {
		return decimal.Zero, fmt.Errorf("%w: amount must be positive with at most %d decimal places", ErrInvalidParameter, model.MoneyScale)
	}

	var newBalance decimal.Decimal
	err := l.store.InTx(ctx, func(tx Tx) error {
		balance, err := tx.LockBalance(ctx, userID)
		if err != nil {
			return err
		}
		if !model.HasMoneyScale(amount) && !amount.Equal(balance.Amount) {
			return fmt.Errorf("%w: amount must have at most %d decimal places unless it is the whole balance",
				ErrInvalidParameter, model.MoneyScale)
		}
		if !balance.CanWithdraw(amount) {
			return fmt.Errorf("%w: available %s", ErrInsufficientFunds, balance.Amount.StringFixed(model.MoneyScale))
		}
		newBalance, err = tx.Withdraw(ctx, userID, amount)
		if err != nil {
			return err
		}
		return tx.AppendLedgerEntry(ctx, &model.LedgerEntry{
			UserID:       userID,
			Kind:         model.EntryWithdraw,
			Amount:       amount,
			BalanceAfter: newBalance,
			CreatedAt:    l.now(),
		})
	})
	if err != nil {
		return decimal.Zero, fmt.Errorf("withdraw: %w", err)
	}
	return newBalance, nil
}

// ListEntries returns a page of the user's spending history
func (l *Ledger) ListEntries(ctx context.Context, userID uuid.UUID, limit, offset int) ([]model.LedgerEntry, error) {
	if userID == uuid.Nil {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidParameter)
	}
	limit, offset = l.page(limit, offset)
	return l.store.ListLedgerEntries(ctx, userID, limit, offset)
}

func validateMovement(userID uuid.UUID, amount decimal.Decimal) error {
	if userID == uuid.Nil {
		return fmt.Errorf("%w: user id is required", ErrInvalidParameter)
	}
	if !model.ValidMoney(amount) {
		return fmt.Errorf("%w: amount must be positive with at most %d decimal places", ErrInvalidParameter, model.MoneyScale)
	}
	return nil
}
