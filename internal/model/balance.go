package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Balance is the prepaid account of a user
type Balance struct {
	UserID    uuid.UUID       `db:"user_id" json:"user_id"`
	Amount    decimal.Decimal `db:"amount" json:"amount"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt time.Time       `db:"updated_at" json:"updated_at"`
}

// CanWithdraw reports whether amount can be taken without going negative
func (b *Balance) CanWithdraw(amount decimal.Decimal) bool {
	return b.Amount.GreaterThanOrEqual(amount)
}

// EntryKind classifies a ledger entry
type EntryKind string

const (
	EntryDeposit     EntryKind = "deposit"
	EntryWithdraw    EntryKind = "withdraw"
	EntryOrderDebit  EntryKind = "order_debit"
	EntryOrderRefund EntryKind = "order_refund"
)

// Credit reports whether the entry adds money to the balance
func (k EntryKind) Credit() bool {
	return k == EntryDeposit || k == EntryOrderRefund
}

// LedgerEntry is one line of a user's spending history
type LedgerEntry struct {
	ID           int64           `db:"id" json:"id"`
	UserID       uuid.UUID       `db:"user_id" json:"user_id"`
	Kind         EntryKind       `db:"kind" json:"kind"`
	Amount       decimal.Decimal `db:"amount" json:"amount"`
	BalanceAfter decimal.Decimal `db:"balance_after" json:"balance_after"`
	OrderID      *int64          `db:"order_id" json:"order_id,omitempty"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
}
