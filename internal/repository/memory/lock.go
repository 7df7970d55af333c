package memory

import (
	"context"
	"time"

	"github.com/kkkkikiki/adledger/internal/ledger"
)

// rowLock is an exclusive lock that a waiter can abandon on context
// cancellation or after the store's lock timeout
type rowLock chan struct{}

func newRowLock() rowLock { return make(rowLock, 1) }

func (l rowLock) acquire(ctx context.Context, timeout time.Duration) error {
	select {
	case l <- struct{}{}:
		return nil
	default:
	}

	var expired <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}
	select {
	case l <- struct{}{}:
		return nil
	case <-expired:
		return ledger.ErrLockTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l rowLock) release() { <-l }
