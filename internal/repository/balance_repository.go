package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/kkkkikiki/adledger/internal/ledger"
	"github.com/kkkkikiki/adledger/internal/model"
)

// BalanceRepository handles balances and their journal
type BalanceRepository struct{}

// NewBalanceRepository creates a new balance repository
func NewBalanceRepository() *BalanceRepository {
	return &BalanceRepository{}
}

// ensure creates an empty balance unless one exists
func (r *BalanceRepository) ensure(ctx context.Context, db DBExecutor, userID uuid.UUID) error {
	query := `
		INSERT INTO balances (user_id, amount, created_at, updated_at)
		VALUES ($1, 0, $2, $2)
		ON CONFLICT (user_id) DO NOTHING
	`
	if _, err := db.ExecContext(ctx, query, userID, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to create balance: %w", mapError(err))
	}
	return nil
}

// GetOrCreate returns the user's balance, creating an empty one
func (r *BalanceRepository) GetOrCreate(ctx context.Context, db DBExecutor, userID uuid.UUID) (model.Balance, error) {
	if err := r.ensure(ctx, db, userID); err != nil {
		return model.Balance{}, err
	}

	var balance model.Balance
	query := `SELECT user_id, amount, created_at, updated_at FROM balances WHERE user_id = $1`
	if err := db.GetContext(ctx, &balance, query, userID); err != nil {
		return model.Balance{}, fmt.Errorf("failed to get balance: %w", mapError(err))
	}

	return balance, nil
}

// Lock selects the user's balance FOR UPDATE, creating it first if needed
func (r *BalanceRepository) Lock(ctx context.Context, db DBExecutor, userID uuid.UUID) (model.Balance, error) {
	if err := r.ensure(ctx, db, userID); err != nil {
		return model.Balance{}, err
	}

	var balance model.Balance
	query := `SELECT user_id, amount, created_at, updated_at FROM balances WHERE user_id = $1 FOR UPDATE`
	if err := db.GetContext(ctx, &balance, query, userID); err != nil {
		return model.Balance{}, fmt.Errorf("failed to lock balance: %w", mapError(err))
	}

	return balance, nil
}

// Deposit adds amount and returns the new balance
func (r *BalanceRepository) Deposit(ctx context.Context, db DBExecutor, userID uuid.UUID, amount decimal.Decimal) (decimal.Decimal, error) {
	query := `
		UPDATE balances
		SET amount = amount + $1, updated_at = $2
		WHERE user_id = $3
		RETURNING amount
	`

	var newAmount decimal.Decimal
	if err := db.GetContext(ctx, &newAmount, query, amount, time.Now().UTC(), userID); err != nil {
		return decimal.Zero, fmt.Errorf("failed to deposit: %w", mapError(err))
	}

	return newAmount, nil
}

// Withdraw subtracts amount only when the balance covers it
func (r *BalanceRepository) Withdraw(ctx context.Context, db DBExecutor, userID uuid.UUID, amount decimal.Decimal) (decimal.Decimal, error) {
	query := `
		UPDATE balances
		SET amount = amount - $1, updated_at = $2
		WHERE user_id = $3 AND amount >= $1
		RETURNING amount
	`

	var newAmount decimal.Decimal
	err := db.GetContext(ctx, &newAmount, query, amount, time.Now().UTC(), userID)
	if err != nil {
		if errors.Is(mapError(err), ledger.ErrNotFound) {
			return decimal.Zero, ledger.ErrInsufficientFunds
		}
		return decimal.Zero, fmt.Errorf("failed to withdraw: %w", mapError(err))
	}

	return newAmount, nil
}

// AppendEntry journals a money movement
func (r *BalanceRepository) AppendEntry(ctx context.Context, db DBExecutor, entry *model.LedgerEntry) error {
	query := `
		INSERT INTO ledger_entries (user_id, kind, amount, balance_after, order_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`

	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	err := db.GetContext(ctx, &entry.ID, query,
		entry.UserID, entry.Kind, entry.Amount, entry.BalanceAfter, entry.OrderID, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append ledger entry: %w", mapError(err))
	}

	return nil
}

// ListEntries returns a page of the user's journal, newest first
func (r *BalanceRepository) ListEntries(ctx context.Context, db DBExecutor, userID uuid.UUID, limit, offset int) ([]model.LedgerEntry, error) {
	query := `
		SELECT id, user_id, kind, amount, balance_after, order_id, created_at
		FROM ledger_entries
		WHERE user_id = $1
		ORDER BY id DESC
		LIMIT $2 OFFSET $3
	`

	entries := []model.LedgerEntry{}
	if err := db.SelectContext(ctx, &entries, query, userID, limit, offset); err != nil {
		return nil, fmt.Errorf("failed to list ledger entries: %w", err)
	}

	return entries, nil
}
