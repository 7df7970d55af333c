package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/kkkkikiki/adledger/internal/ledger"
	"github.com/kkkkikiki/adledger/internal/model"
)

var _ ledger.Store = (*PostgresStore)(nil)

// PostgresStore implements ledger.Store on PostgreSQL row locks
type PostgresStore struct {
	postgres    *sqlx.DB
	lockTimeout time.Duration

	orders   *OrderRepository
	tags     *TagRepository
	channels *ChannelRepository
	adViews  *AdViewRepository
	balances *BalanceRepository
}

// NewPostgresStore creates a store. lockTimeout bounds every row lock wait
// inside a transaction; zero waits indefinitely.
func NewPostgresStore(postgres *sqlx.DB, lockTimeout time.Duration) *PostgresStore {
	return &PostgresStore{
		postgres:    postgres,
		lockTimeout: lockTimeout,
		orders:      NewOrderRepository(),
		tags:        NewTagRepository(),
		channels:    NewChannelRepository(),
		adViews:     NewAdViewRepository(),
		balances:    NewBalanceRepository(),
	}
}

// Ping checks the connection
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.postgres.PingContext(ctx)
}

// InTx runs fn inside a database transaction
func (s *PostgresStore) InTx(ctx context.Context, fn func(tx ledger.Tx) error) error {
	// Start transaction
	tx, err := s.postgres.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if s.lockTimeout > 0 {
		setTimeout := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockTimeout.Milliseconds())
		if _, err := tx.ExecContext(ctx, setTimeout); err != nil {
			return fmt.Errorf("failed to set lock timeout: %w", err)
		}
	}

	if err := fn(&pgTx{s: s, tx: tx}); err != nil {
		return err
	}

	// Commit transaction
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", mapError(err))
	}
	return nil
}

func (s *PostgresStore) FindTagByName(ctx context.Context, name string) (model.Tag, error) {
	return s.tags.FindByName(ctx, s.postgres, name)
}

func (s *PostgresStore) FindSimilarTags(ctx context.Context, name string, threshold float64) ([]model.TagMatch, error) {
	return s.tags.FindSimilar(ctx, s.postgres, name, threshold)
}

func (s *PostgresStore) ListServableOrders(ctx context.Context, tagID int64) ([]model.Order, error) {
	return s.orders.ListServableOrders(ctx, s.postgres, tagID)
}

func (s *PostgresStore) GetOrder(ctx context.Context, orderID int64) (model.Order, error) {
	order, err := s.orders.GetOrder(ctx, s.postgres, orderID)
	if err != nil {
		return model.Order{}, err
	}
	orders := []model.Order{order}
	if err := s.attachTags(ctx, orders); err != nil {
		return model.Order{}, err
	}
	return orders[0], nil
}

func (s *PostgresStore) ListOrders(ctx context.Context, userID uuid.UUID, filter ledger.OrderFilter) ([]model.Order, int, error) {
	total, err := s.orders.CountOrders(ctx, s.postgres, userID, filter.ActiveOnly)
	if err != nil {
		return nil, 0, err
	}
	orders, err := s.orders.ListOrders(ctx, s.postgres, userID, filter)
	if err != nil {
		return nil, 0, err
	}
	if err := s.attachTags(ctx, orders); err != nil {
		return nil, 0, err
	}
	return orders, total, nil
}

func (s *PostgresStore) GetBalance(ctx context.Context, userID uuid.UUID) (model.Balance, error) {
	return s.balances.GetOrCreate(ctx, s.postgres, userID)
}

func (s *PostgresStore) ListLedgerEntries(ctx context.Context, userID uuid.UUID, limit, offset int) ([]model.LedgerEntry, error) {
	return s.balances.ListEntries(ctx, s.postgres, userID, limit, offset)
}

// attachTags fills order and channel tag names in place
func (s *PostgresStore) attachTags(ctx context.Context, orders []model.Order) error {
	ids := make([]int64, len(orders))
	for i, o := range orders {
		ids[i] = o.ID
	}
	byOrder, err := s.orders.OrderTagNames(ctx, s.postgres, ids)
	if err != nil {
		return err
	}

	byChannel := make(map[int64][]string)
	for i := range orders {
		orders[i].Tags = byOrder[orders[i].ID]
		if orders[i].Tags == nil {
			orders[i].Tags = []string{}
		}
		pk := orders[i].ChannelPK
		names, ok := byChannel[pk]
		if !ok {
			names, err = s.channels.TagNames(ctx, s.postgres, pk)
			if err != nil {
				return err
			}
			byChannel[pk] = names
		}
		orders[i].ChannelTags = names
	}
	return nil
}

// pgTx runs the repositories against one sqlx transaction
type pgTx struct {
	s  *PostgresStore
	tx *sqlx.Tx
}

func (t *pgTx) LockOrder(ctx context.Context, orderID int64) (model.Order, error) {
	return t.s.orders.LockOrder(ctx, t.tx, orderID)
}

func (t *pgTx) UpdateOrder(ctx context.Context, order *model.Order) error {
	return t.s.orders.UpdateOrder(ctx, t.tx, order)
}

func (t *pgTx) InsertOrder(ctx context.Context, order *model.Order) error {
	return t.s.orders.CreateOrder(ctx, t.tx, order)
}

func (t *pgTx) AddOrderTags(ctx context.Context, orderID int64, tagIDs []int64) error {
	return t.s.orders.AddOrderTags(ctx, t.tx, orderID, tagIDs)
}

func (t *pgTx) GetOrCreateAdView(ctx context.Context, orderID int64, viewerID string) (model.AdView, error) {
	return t.s.adViews.GetOrCreate(ctx, t.tx, orderID, viewerID)
}

func (t *pgTx) IncrementAdView(ctx context.Context, orderID int64, viewerID string) (model.AdView, error) {
	return t.s.adViews.Increment(ctx, t.tx, orderID, viewerID)
}

func (t *pgTx) LockBalance(ctx context.Context, userID uuid.UUID) (model.Balance, error) {
	return t.s.balances.Lock(ctx, t.tx, userID)
}

func (t *pgTx) Deposit(ctx context.Context, userID uuid.UUID, amount decimal.Decimal) (decimal.Decimal, error) {
	return t.s.balances.Deposit(ctx, t.tx, userID, amount)
}

func (t *pgTx) Withdraw(ctx context.Context, userID uuid.UUID, amount decimal.Decimal) (decimal.Decimal, error) {
	return t.s.balances.Withdraw(ctx, t.tx, userID, amount)
}

func (t *pgTx) AppendLedgerEntry(ctx context.Context, entry *model.LedgerEntry) error {
	return t.s.balances.AppendEntry(ctx, t.tx, entry)
}

func (t *pgTx) UpsertChannel(ctx context.Context, channel *model.Channel) error {
	return t.s.channels.Upsert(ctx, t.tx, channel)
}

func (t *pgTx) AddChannelTags(ctx context.Context, channelPK int64, tagIDs []int64) ([]string, error) {
	return t.s.channels.AddTags(ctx, t.tx, channelPK, tagIDs)
}

func (t *pgTx) GetOrCreateTags(ctx context.Context, names []string) ([]model.Tag, error) {
	return t.s.tags.GetOrCreate(ctx, t.tx, names)
}
