package ledger

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/kkkkikiki/adledger/internal/model"
)

// Store is the transactional persistence the ledger runs against.
// Reads outside InTx see committed data only and take no locks.
type Store interface {
	// InTx runs fn in one transaction. A non-nil error from fn rolls it back.
	InTx(ctx context.Context, fn func(tx Tx) error) error

	// FindTagByName returns the tag with exactly this normalized name or ErrNotFound
	FindTagByName(ctx context.Context, name string) (model.Tag, error)
	// FindSimilarTags returns tags with similarity >= threshold, most similar first
	FindSimilarTags(ctx context.Context, name string, threshold float64) ([]model.TagMatch, error)
	// ListServableOrders returns active orders with remaining views carrying the tag,
	// highest spm first
	ListServableOrders(ctx context.Context, tagID int64) ([]model.Order, error)

	// GetOrder returns an order with its tags and channel tags, or ErrNotFound
	GetOrder(ctx context.Context, orderID int64) (model.Order, error)
	// ListOrders returns a page of a user's orders, newest first, and the total count
	ListOrders(ctx context.Context, userID uuid.UUID, filter OrderFilter) ([]model.Order, int, error)

	// GetBalance returns the user's balance, creating an empty one on first access
	GetBalance(ctx context.Context, userID uuid.UUID) (model.Balance, error)
	// ListLedgerEntries returns a page of a user's money movements, newest first
	ListLedgerEntries(ctx context.Context, userID uuid.UUID, limit, offset int) ([]model.LedgerEntry, error)
}

// Tx is the set of operations available inside a transaction
type Tx interface {
	// LockOrder takes the exclusive row lock on an order until the transaction ends
	LockOrder(ctx context.Context, orderID int64) (model.Order, error)
	// UpdateOrder writes counters and state of a locked order
	UpdateOrder(ctx context.Context, order *model.Order) error
	// InsertOrder persists a new order and sets its ID and timestamps
	InsertOrder(ctx context.Context, order *model.Order) error
	// AddOrderTags attaches tags to an order, ignoring ones already attached
	AddOrderTags(ctx context.Context, orderID int64, tagIDs []int64) error

	// GetOrCreateAdView returns the exposure record of a viewer for an order
	GetOrCreateAdView(ctx context.Context, orderID int64, viewerID string) (model.AdView, error)
	// IncrementAdView adds one view to the exposure record
	IncrementAdView(ctx context.Context, orderID int64, viewerID string) (model.AdView, error)

	// LockBalance takes the row lock on a balance, creating it if needed
	LockBalance(ctx context.Context, userID uuid.UUID) (model.Balance, error)
	// Deposit adds amount and returns the new balance
	Deposit(ctx context.Context, userID uuid.UUID, amount decimal.Decimal) (decimal.Decimal, error)
	// Withdraw subtracts amount only if the balance covers it, else ErrInsufficientFunds
	Withdraw(ctx context.Context, userID uuid.UUID, amount decimal.Decimal) (decimal.Decimal, error)
	// AppendLedgerEntry journals a money movement and sets its ID
	AppendLedgerEntry(ctx context.Context, entry *model.LedgerEntry) error

	// UpsertChannel creates the channel or refreshes its name; ErrChannelConflict
	// if the channel id is owned by another user
	UpsertChannel(ctx context.Context, channel *model.Channel) error
	// AddChannelTags unions tags into a channel and returns all its tag names
	AddChannelTags(ctx context.Context, channelPK int64, tagIDs []int64) ([]string, error)
	// GetOrCreateTags returns tags for the normalized names, creating missing ones
	GetOrCreateTags(ctx context.Context, names []string) ([]model.Tag, error)
}

// OrderFilter narrows ListOrders
type OrderFilter struct {
	ActiveOnly bool
	Limit      int
	Offset     int
}
