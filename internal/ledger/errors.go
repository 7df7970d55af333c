package ledger

import "errors"

var (
	// ErrInsufficientFunds is returned when a balance cannot cover a withdrawal or budget
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrInvalidParameter is returned for rejected input, before any mutation
	ErrInvalidParameter = errors.New("invalid parameter")
	// ErrAlreadyCancelled guards against reprocessing a cancelled order
	ErrAlreadyCancelled = errors.New("order already cancelled")
	// ErrAlreadyCompleted guards against reprocessing a completed order
	ErrAlreadyCompleted = errors.New("order already completed")
	// ErrViewsExhausted is returned when activating an order with an empty pool
	ErrViewsExhausted = errors.New("order has no remaining views")
	// ErrNotFound is returned for lookup misses and when no order can serve a search
	ErrNotFound = errors.New("not found")
	// ErrConcurrencyConflict signals a failed re-check after the row lock was taken.
	// It never leaves the allocation engine.
	ErrConcurrencyConflict = errors.New("order state changed before commit")
	// ErrLockTimeout is returned by stores when a row lock could not be taken in time
	ErrLockTimeout = errors.New("lock wait timed out")
	// ErrChannelConflict is returned by stores when a channel id belongs to another user
	ErrChannelConflict = errors.New("channel belongs to another user")
	// ErrPersistence wraps store failures inside a locked commit
	ErrPersistence = errors.New("persistence fault")
)

// errViewerCapReached rejects a candidate whose per-viewer cap is exhausted
var errViewerCapReached = errors.New("viewer reached the per-viewer cap")
