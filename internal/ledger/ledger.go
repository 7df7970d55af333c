package ledger

import (
	"context"
	"time"

	"github.com/kkkkikiki/adledger/internal/observability"
)

// Options tunes the ledger
type Options struct {
	// SimilarityThreshold is the minimum similarity for the tag fallback lookup
	SimilarityThreshold float64
	// DefaultPageSize applies when a list request asks for no limit
	DefaultPageSize int
	// MaxPageSize caps list requests
	MaxPageSize int
}

// DefaultOptions returns the defaults used when no configuration is given
func DefaultOptions() Options {
	return Options{
		SimilarityThreshold: 0.3,
		DefaultPageSize:     5,
		MaxPageSize:         100,
	}
}

// Ledger implements the balance ledger, settlement operations and the
// allocation engine on top of a transactional Store
type Ledger struct {
	store     Store
	publisher Publisher
	logger    *observability.Logger
	opts      Options
	now       func() time.Time
}

// New creates a Ledger. A nil publisher disables lifecycle events.
func New(store Store, publisher Publisher, logger *observability.Logger, opts Options) *Ledger {
	if opts.SimilarityThreshold <= 0 {
		opts.SimilarityThreshold = DefaultOptions().SimilarityThreshold
	}
	if opts.DefaultPageSize <= 0 {
		opts.DefaultPageSize = DefaultOptions().DefaultPageSize
	}
	if opts.MaxPageSize < opts.DefaultPageSize {
		opts.MaxPageSize = opts.DefaultPageSize
	}
	if logger == nil {
		logger = observability.NewNop()
	}
	return &Ledger{
		store:     store,
		publisher: publisher,
		logger:    logger,
		opts:      opts,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// page clamps a requested limit and offset
func (l *Ledger) page(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = l.opts.DefaultPageSize
	}
	if limit > l.opts.MaxPageSize {
		limit = l.opts.MaxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// publish delivers events after commit. Delivery failures are logged, never
// returned: the money and view movements are already durable.
func (l *Ledger) publish(ctx context.Context, events ...Event) {
	if l.publisher == nil {
		return
	}
	for _, ev := range events {
		if err := l.publisher.Publish(ctx, ev); err != nil {
			l.logger.WarnWithError(ctx, "failed to publish order event", err,
				observability.Field{Key: "event_type", Value: string(ev.Type)},
				observability.Field{Key: "order_id", Value: ev.OrderID},
			)
		}
	}
}
