package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kkkkikiki/adledger/internal/metrics"
	"github.com/kkkkikiki/adledger/internal/model"
	"github.com/kkkkikiki/adledger/internal/observability"
)

const maxViewerIDLength = 255

// SearchResult identifies the order that won a viewer match
type SearchResult struct {
	ChannelID   string
	ChannelName string
	OrderID     int64
	// MatchedTag is the tag the order was found under
	MatchedTag string
	// Similar is true when MatchedTag came from the similarity fallback
	Similar bool
}

// Search matches a viewer to the highest-paying eligible order for tag and
// commits one impression against it. ErrNotFound means no order could serve.
func (l *Ledger) Search(ctx context.Context, tag, viewerID string) (SearchResult, error) {
	start := time.Now()
	status := "failed"
	defer func() {
		metrics.RecordSearchDuration(status, time.Since(start).Seconds())
	}()

	tag = model.NormalizeTag(tag)
	viewerID = strings.TrimSpace(viewerID)
	if tag == "" || len(tag) > maxTagLength {
		return SearchResult{}, fmt.Errorf("%w: tag must be 1-%d characters", ErrInvalidParameter, maxTagLength)
	}
	if viewerID == "" || len(viewerID) > maxViewerIDLength {
		return SearchResult{}, fmt.Errorf("%w: viewer id must be 1-%d characters", ErrInvalidParameter, maxViewerIDLength)
	}
	ctx = observability.WithFields(ctx,
		observability.Field{Key: "tag", Value: tag},
		observability.Field{Key: "viewer_id", Value: viewerID},
	)

	result, err := l.search(ctx, tag, viewerID)
	switch {
	case err == nil:
		status = "served"
	case errors.Is(err, ErrNotFound):
		status = "not_found"
	}
	return result, err
}

func (l *Ledger) search(ctx context.Context, tag, viewerID string) (SearchResult, error) {
	exact, err := l.store.FindTagByName(ctx, tag)
	switch {
	case err == nil:
		// a resolved exact tag never falls through to the similarity lookup
		result, served, err := l.serveTag(ctx, exact, viewerID, make(map[int64]struct{}))
		if err != nil {
			return SearchResult{}, err
		}
		if !served {
			metrics.RecordSearchOutcome("exhausted")
			return SearchResult{}, fmt.Errorf("no order can serve tag %q: %w", tag, ErrNotFound)
		}
		metrics.RecordSearchOutcome("exact")
		return result, nil
	case !errors.Is(err, ErrNotFound):
		return SearchResult{}, fmt.Errorf("resolve tag: %w", err)
	}

	matches, err := l.store.FindSimilarTags(ctx, tag, l.opts.SimilarityThreshold)
	if err != nil {
		return SearchResult{}, fmt.Errorf("find similar tags: %w", err)
	}
	if len(matches) == 0 {
		metrics.RecordSearchOutcome("no_tag")
		return SearchResult{}, fmt.Errorf("tag %q: %w", tag, ErrNotFound)
	}

	// an order carrying several similar tags is tried once per request
	tried := make(map[int64]struct{})
	for _, m := range matches {
		result, served, err := l.serveTag(ctx, m.Tag, viewerID, tried)
		if err != nil {
			return SearchResult{}, err
		}
		if served {
			result.Similar = true
			metrics.RecordSearchOutcome("similar")
			l.logger.Debug(ctx, "served through similar tag",
				observability.Field{Key: "matched_tag", Value: m.Name},
				observability.Field{Key: "similarity", Value: m.Similarity},
			)
			return result, nil
		}
	}
	metrics.RecordSearchOutcome("exhausted")
	return SearchResult{}, fmt.Errorf("no order can serve tag %q: %w", tag, ErrNotFound)
}

// serveTag walks the candidates of one tag in priority order. served is false
// when every candidate was skipped.
func (l *Ledger) serveTag(ctx context.Context, tag model.Tag, viewerID string, tried map[int64]struct{}) (SearchResult, bool, error) {
	candidates, err := l.store.ListServableOrders(ctx, tag.ID)
	if err != nil {
		return SearchResult{}, false, fmt.Errorf("list candidates for tag %q: %w", tag.Name, err)
	}

	for _, c := range candidates {
		if _, ok := tried[c.ID]; ok {
			continue
		}
		tried[c.ID] = struct{}{}

		order, err := l.commitImpression(ctx, c.ID, viewerID)
		if err != nil {
			if reason, skip := skipReason(err); skip {
				metrics.RecordCandidateSkip(reason)
				l.logger.Debug(ctx, "candidate skipped",
					observability.Field{Key: "order_id", Value: c.ID},
					observability.Field{Key: "reason", Value: reason},
				)
				continue
			}
			return SearchResult{}, false, err
		}

		if order.Completed() {
			metrics.RecordOrderCompleted()
			l.logger.Info(ctx, "order completed",
				observability.Field{Key: "order_id", Value: order.ID},
				observability.Field{Key: "total_views", Value: order.TotalViews},
			)
			l.publish(ctx, newOrderEvent(EventOrderCompleted, order, order.UpdatedAt))
		}
		return SearchResult{
			ChannelID:   order.ChannelID,
			ChannelName: order.ChannelName,
			OrderID:     order.ID,
			MatchedTag:  tag.Name,
		}, true, nil
	}
	return SearchResult{}, false, nil
}

// commitImpression consumes one view of an order for a viewer inside a single
// transaction holding the order's row lock
func (l *Ledger) commitImpression(ctx context.Context, orderID int64, viewerID string) (model.Order, error) {
	var committed model.Order
	err := l.store.InTx(ctx, func(tx Tx) error {
		order, err := tx.LockOrder(ctx, orderID)
		if errors.Is(err, ErrNotFound) {
			// the candidate vanished with a rolled back creator
			return fmt.Errorf("%w: order %d", ErrConcurrencyConflict, orderID)
		}
		if err != nil {
			return err
		}
		// the candidate list was read without the lock
		if !order.Servable() {
			return ErrConcurrencyConflict
		}

		view, err := tx.GetOrCreateAdView(ctx, orderID, viewerID)
		if err != nil {
			return err
		}
		if !view.CanViewMore(order.MaxViewsPerUser) {
			return errViewerCapReached
		}

		if err := order.RecordImpression(l.now()); err != nil {
			return err
		}
		if err := tx.UpdateOrder(ctx, &order); err != nil {
			return err
		}
		if _, err := tx.IncrementAdView(ctx, orderID, viewerID); err != nil {
			return err
		}
		committed = order
		return nil
	})
	if err != nil {
		if _, skip := skipReason(err); skip {
			return model.Order{}, err
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return model.Order{}, err
		}
		return model.Order{}, fmt.Errorf("%w: commit impression on order %d: %v", ErrPersistence, orderID, err)
	}
	return committed, nil
}

// skipReason classifies errors that move allocation on to the next candidate
func skipReason(err error) (string, bool) {
	switch {
	case errors.Is(err, ErrConcurrencyConflict), errors.Is(err, model.ErrNotServable):
		return "conflict", true
	case errors.Is(err, errViewerCapReached):
		return "viewer_cap", true
	case errors.Is(err, ErrLockTimeout):
		return "lock_timeout", true
	}
	return "", false
}
