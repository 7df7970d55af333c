package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kkkkikiki/adledger/internal/ledger"
	"github.com/kkkkikiki/adledger/internal/model"
)

// AdViewRepository handles viewer exposure records
type AdViewRepository struct{}

// NewAdViewRepository creates a new ad view repository
func NewAdViewRepository() *AdViewRepository {
	return &AdViewRepository{}
}

// GetOrCreate returns the exposure record of a viewer, inserting a zero count
// on first contact
func (r *AdViewRepository) GetOrCreate(ctx context.Context, db DBExecutor, orderID int64, viewerID string) (model.AdView, error) {
	insert := `
		INSERT INTO ad_views (order_id, viewer_id, view_count, last_viewed_at, created_at)
		VALUES ($1, $2, 0, $3, $3)
		ON CONFLICT (order_id, viewer_id) DO NOTHING
	`
	if _, err := db.ExecContext(ctx, insert, orderID, viewerID, time.Now().UTC()); err != nil {
		return model.AdView{}, fmt.Errorf("failed to create ad view: %w", mapError(err))
	}

	query := `
		SELECT order_id, viewer_id, view_count, last_viewed_at, created_at
		FROM ad_views
		WHERE order_id = $1 AND viewer_id = $2
	`
	var view model.AdView
	if err := db.GetContext(ctx, &view, query, orderID, viewerID); err != nil {
		return model.AdView{}, fmt.Errorf("failed to get ad view: %w", mapError(err))
	}

	return view, nil
}

// Increment adds one view to the exposure record
func (r *AdViewRepository) Increment(ctx context.Context, db DBExecutor, orderID int64, viewerID string) (model.AdView, error) {
	query := `
		UPDATE ad_views
		SET view_count = view_count + 1, last_viewed_at = $1
		WHERE order_id = $2 AND viewer_id = $3
		RETURNING order_id, viewer_id, view_count, last_viewed_at, created_at
	`

	var view model.AdView
	err := db.GetContext(ctx, &view, query, time.Now().UTC(), orderID, viewerID)
	if err != nil {
		if errors.Is(mapError(err), ledger.ErrNotFound) {
			return model.AdView{}, fmt.Errorf("ad view %d/%s: %w", orderID, viewerID, ledger.ErrNotFound)
		}
		return model.AdView{}, fmt.Errorf("failed to increment ad view: %w", mapError(err))
	}

	return view, nil
}
