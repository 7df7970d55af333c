// Package memory is an in-process ledger.Store for tests and local runs.
// Row locks are held for the lifetime of a transaction and writes are undone
// on rollback. Reads outside a transaction may observe in-flight writes, so
// eligibility decisions must be re-checked under a row lock, as with any
// stale read.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/kkkkikiki/adledger/internal/ledger"
	"github.com/kkkkikiki/adledger/internal/model"
)

var _ ledger.Store = (*Store)(nil)

type viewKey struct {
	orderID  int64
	viewerID string
}

// Store keeps all ledger state in maps guarded by one mutex
type Store struct {
	mu sync.Mutex

	orders      map[int64]model.Order
	orderTags   map[int64][]int64
	tags        map[int64]model.Tag
	tagsByName  map[string]int64
	channels    map[int64]model.Channel
	channelsBy  map[string]int64
	channelTags map[int64][]int64
	adViews     map[viewKey]model.AdView
	balances    map[uuid.UUID]model.Balance
	entries     []model.LedgerEntry

	nextOrderID, nextTagID, nextChannelID, nextEntryID int64

	orderLocks   map[int64]rowLock
	balanceLocks map[uuid.UUID]rowLock
	lockTimeout  time.Duration
	now          func() time.Time
}

// New creates an empty store. A zero lockTimeout waits until the context ends.
func New(lockTimeout time.Duration) *Store {
	return &Store{
		orders:       make(map[int64]model.Order),
		orderTags:    make(map[int64][]int64),
		tags:         make(map[int64]model.Tag),
		tagsByName:   make(map[string]int64),
		channels:     make(map[int64]model.Channel),
		channelsBy:   make(map[string]int64),
		channelTags:  make(map[int64][]int64),
		adViews:      make(map[viewKey]model.AdView),
		balances:     make(map[uuid.UUID]model.Balance),
		orderLocks:   make(map[int64]rowLock),
		balanceLocks: make(map[uuid.UUID]rowLock),
		lockTimeout:  lockTimeout,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Ping always succeeds
func (s *Store) Ping(ctx context.Context) error { return ctx.Err() }

// InTx runs fn with a transaction that releases its row locks when fn returns
func (s *Store) InTx(ctx context.Context, fn func(tx ledger.Tx) error) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	t := &tx{
		s:        s,
		orders:   make(map[int64]struct{}),
		balances: make(map[uuid.UUID]struct{}),
	}
	defer func() {
		if p := recover(); p != nil {
			t.rollback()
			panic(p)
		}
		if err != nil {
			t.rollback()
			return
		}
		t.release()
	}()
	return fn(t)
}

// FindTagByName returns the tag with exactly this name
func (s *Store) FindTagByName(ctx context.Context, name string) (model.Tag, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.tagsByName[name]
	if !ok {
		return model.Tag{}, fmt.Errorf("tag %q: %w", name, ledger.ErrNotFound)
	}
	return s.tags[id], nil
}

// FindSimilarTags ranks every tag by trigram similarity to name
func (s *Store) FindSimilarTags(ctx context.Context, name string, threshold float64) ([]model.TagMatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matches []model.TagMatch
	for _, t := range s.tags {
		if sim := similarity(name, t.Name); sim >= threshold {
			matches = append(matches, model.TagMatch{Tag: t, Similarity: sim})
		}
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}
		return matches[i].Name < matches[j].Name
	})
	return matches, nil
}

// ListServableOrders returns servable orders carrying the tag, highest spm first
func (s *Store) ListServableOrders(ctx context.Context, tagID int64) ([]model.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.Order
	for id, tagIDs := range s.orderTags {
		if !containsID(tagIDs, tagID) {
			continue
		}
		o := s.orders[id]
		if o.Servable() {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].SPM.Equal(out[j].SPM) {
			return out[i].SPM.GreaterThan(out[j].SPM)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// GetOrder returns an order with its tag names
func (s *Store) GetOrder(ctx context.Context, orderID int64) (model.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.order(orderID)
}

// ListOrders returns a page of the user's orders, newest first
func (s *Store) ListOrders(ctx context.Context, userID uuid.UUID, filter ledger.OrderFilter) ([]model.Order, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var all []model.Order
	for _, o := range s.orders {
		if o.UserID != userID || (filter.ActiveOnly && !o.IsActive()) {
			continue
		}
		all = append(all, o)
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].ID > all[j].ID
	})

	total := len(all)
	page := make([]model.Order, 0, filter.Limit)
	for i := filter.Offset; i < total && len(page) < filter.Limit; i++ {
		o, err := s.order(all[i].ID)
		if err != nil {
			return nil, 0, err
		}
		page = append(page, o)
	}
	return page, total, nil
}

// GetBalance returns the user's balance, creating an empty one
func (s *Store) GetBalance(ctx context.Context, userID uuid.UUID) (model.Balance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, _ := s.balance(userID)
	return b, nil
}

// ListLedgerEntries returns a page of the user's entries, newest first
func (s *Store) ListLedgerEntries(ctx context.Context, userID uuid.UUID, limit, offset int) ([]model.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.LedgerEntry, 0, limit)
	skipped := 0
	for i := len(s.entries) - 1; i >= 0 && len(out) < limit; i-- {
		e := s.entries[i]
		if e.UserID != userID {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// order assembles an order with its tags. Callers hold s.mu.
func (s *Store) order(orderID int64) (model.Order, error) {
	o, ok := s.orders[orderID]
	if !ok {
		return model.Order{}, fmt.Errorf("order %d: %w", orderID, ledger.ErrNotFound)
	}
	o.Tags = s.tagNames(s.orderTags[orderID])
	o.ChannelTags = s.tagNames(s.channelTags[o.ChannelPK])
	if c, ok := s.channels[o.ChannelPK]; ok {
		o.ChannelName = c.ChannelName
	}
	return o, nil
}

// balance returns the user's balance and whether it was just created.
// Callers hold s.mu.
func (s *Store) balance(userID uuid.UUID) (model.Balance, bool) {
	if b, ok := s.balances[userID]; ok {
		return b, false
	}
	now := s.now()
	b := model.Balance{UserID: userID, Amount: decimal.Zero, CreatedAt: now, UpdatedAt: now}
	s.balances[userID] = b
	return b, true
}

func (s *Store) tagNames(ids []int64) []string {
	names := make([]string, 0, len(ids))
	for _, id := range ids {
		names = append(names, s.tags[id].Name)
	}
	return names
}

func (s *Store) orderLock(orderID int64) rowLock {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.orderLocks[orderID]
	if !ok {
		l = newRowLock()
		s.orderLocks[orderID] = l
	}
	return l
}

func (s *Store) balanceLock(userID uuid.UUID) rowLock {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.balanceLocks[userID]
	if !ok {
		l = newRowLock()
		s.balanceLocks[userID] = l
	}
	return l
}

func containsID(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
