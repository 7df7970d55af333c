package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/kkkkikiki/adledger/internal/ledger"
	"github.com/kkkkikiki/adledger/internal/model"
)

const orderColumns = `
	o.id, o.channel_pk, c.channel_id, c.channel_name, o.user_id, o.order_name,
	o.spm, o.budget, o.total_views, o.shown_views, o.remaining_views,
	o.max_views_per_user, o.state, o.created_at, o.updated_at`

// OrderRepository handles order data operations
type OrderRepository struct{}

// NewOrderRepository creates a new order repository
func NewOrderRepository() *OrderRepository {
	return &OrderRepository{}
}

// CreateOrder inserts a new order and sets its ID
func (r *OrderRepository) CreateOrder(ctx context.Context, db DBExecutor, order *model.Order) error {
	query := `
		INSERT INTO orders (channel_pk, user_id, order_name, spm, budget, total_views,
			shown_views, remaining_views, max_views_per_user, state, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id
	`

	err := db.GetContext(ctx, &order.ID, query,
		order.ChannelPK, order.UserID, order.OrderName, order.SPM, order.Budget, order.TotalViews,
		order.ShownViews, order.RemainingViews, order.MaxViewsPerUser, order.State,
		order.CreatedAt, order.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create order: %w", mapError(err))
	}

	return nil
}

// GetOrder retrieves an order by ID without tags
func (r *OrderRepository) GetOrder(ctx context.Context, db DBExecutor, id int64) (model.Order, error) {
	query := `SELECT ` + orderColumns + `
		FROM orders o
		JOIN channels c ON c.id = o.channel_pk
		WHERE o.id = $1
	`

	var order model.Order
	if err := db.GetContext(ctx, &order, query, id); err != nil {
		return model.Order{}, fmt.Errorf("order %d: %w", id, mapError(err))
	}

	return order, nil
}

// LockOrder selects an order with FOR UPDATE, holding its row lock until the
// transaction ends. The channel row is not locked.
func (r *OrderRepository) LockOrder(ctx context.Context, db DBExecutor, id int64) (model.Order, error) {
	query := `SELECT ` + orderColumns + `
		FROM orders o
		JOIN channels c ON c.id = o.channel_pk
		WHERE o.id = $1
		FOR UPDATE OF o
	`

	var order model.Order
	if err := db.GetContext(ctx, &order, query, id); err != nil {
		return model.Order{}, fmt.Errorf("lock order %d: %w", id, mapError(err))
	}

	return order, nil
}

// UpdateOrder writes the counters and state of a locked order
func (r *OrderRepository) UpdateOrder(ctx context.Context, db DBExecutor, order *model.Order) error {
	query := `
		UPDATE orders
		SET shown_views = $1, remaining_views = $2, state = $3, updated_at = $4
		WHERE id = $5
	`

	result, err := db.ExecContext(ctx, query,
		order.ShownViews, order.RemainingViews, order.State, order.UpdatedAt, order.ID)
	if err != nil {
		return fmt.Errorf("failed to update order %d: %w", order.ID, mapError(err))
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("order %d: %w", order.ID, ledger.ErrNotFound)
	}

	return nil
}

// ListServableOrders returns active orders with views left carrying the tag,
// highest spm first
func (r *OrderRepository) ListServableOrders(ctx context.Context, db DBExecutor, tagID int64) ([]model.Order, error) {
	query := `SELECT ` + orderColumns + `
		FROM orders o
		JOIN channels c ON c.id = o.channel_pk
		JOIN order_tags ot ON ot.order_id = o.id
		WHERE ot.tag_id = $1 AND o.state = 'active' AND o.remaining_views > 0
		ORDER BY o.spm DESC, o.id ASC
	`

	var orders []model.Order
	if err := db.SelectContext(ctx, &orders, query, tagID); err != nil {
		return nil, fmt.Errorf("failed to list servable orders: %w", err)
	}

	return orders, nil
}

// ListOrders returns a page of a user's orders, newest first
func (r *OrderRepository) ListOrders(ctx context.Context, db DBExecutor, userID uuid.UUID, filter ledger.OrderFilter) ([]model.Order, error) {
	query := `SELECT ` + orderColumns + `
		FROM orders o
		JOIN channels c ON c.id = o.channel_pk
		WHERE o.user_id = $1 AND ($2 = false OR o.state = 'active')
		ORDER BY o.created_at DESC, o.id DESC
		LIMIT $3 OFFSET $4
	`

	var orders []model.Order
	if err := db.SelectContext(ctx, &orders, query, userID, filter.ActiveOnly, filter.Limit, filter.Offset); err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}

	return orders, nil
}

// CountOrders counts the orders ListOrders pages over
func (r *OrderRepository) CountOrders(ctx context.Context, db DBExecutor, userID uuid.UUID, activeOnly bool) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM orders
		WHERE user_id = $1 AND ($2 = false OR state = 'active')
	`

	var total int
	if err := db.GetContext(ctx, &total, query, userID, activeOnly); err != nil {
		return 0, fmt.Errorf("failed to count orders: %w", err)
	}

	return total, nil
}

// AddOrderTags attaches tags to an order in one batch
func (r *OrderRepository) AddOrderTags(ctx context.Context, db DBExecutor, orderID int64, tagIDs []int64) error {
	if len(tagIDs) == 0 {
		return nil
	}

	args := make([]interface{}, 0, len(tagIDs)*2)
	for _, id := range tagIDs {
		args = append(args, orderID, id)
	}
	query := fmt.Sprintf(`
		INSERT INTO order_tags (order_id, tag_id)
		VALUES %s
		ON CONFLICT DO NOTHING
	`, valuesClause(len(tagIDs), 2))

	if _, err := db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to attach order tags: %w", mapError(err))
	}

	return nil
}

// OrderTagNames returns tag names per order for the given orders
func (r *OrderRepository) OrderTagNames(ctx context.Context, db DBExecutor, orderIDs []int64) (map[int64][]string, error) {
	out := make(map[int64][]string, len(orderIDs))
	if len(orderIDs) == 0 {
		return out, nil
	}

	query, args, err := inQuery(db, `
		SELECT ot.order_id, t.name
		FROM order_tags ot
		JOIN tags t ON t.id = ot.tag_id
		WHERE ot.order_id IN (?)
		ORDER BY t.id
	`, orderIDs)
	if err != nil {
		return nil, err
	}

	var rows []struct {
		OrderID int64  `db:"order_id"`
		Name    string `db:"name"`
	}
	if err := db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to get order tags: %w", err)
	}
	for _, row := range rows {
		out[row.OrderID] = append(out[row.OrderID], row.Name)
	}

	return out, nil
}
