package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"connectrpc.com/connect"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	adledgerv1 "github.com/kkkkikiki/adledger/internal/api/adledgerv1"
	"github.com/kkkkikiki/adledger/internal/auth"
	"github.com/kkkkikiki/adledger/internal/ledger"
	"github.com/kkkkikiki/adledger/internal/metrics"
	"github.com/kkkkikiki/adledger/internal/observability"
	"github.com/kkkkikiki/adledger/internal/ratelimit"
)

// LedgerServer implements the ledger service
type LedgerServer struct {
	ledger   *ledger.Ledger
	limiter  *ratelimit.Service
	validate *validator.Validate
	logger   *observability.Logger
}

var _ adledgerv1.LedgerServiceHandler = (*LedgerServer)(nil)

// NewLedgerServer creates a new LedgerServer instance. A nil limiter disables
// search rate limiting.
func NewLedgerServer(l *ledger.Ledger, limiter *ratelimit.Service, logger *observability.Logger) *LedgerServer {
	if logger == nil {
		logger = observability.NewNop()
	}
	return &LedgerServer{
		ledger:   l,
		limiter:  limiter,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger,
	}
}

// Search serves one impression for a viewer
func (s *LedgerServer) Search(
	ctx context.Context,
	req *connect.Request[adledgerv1.SearchRequest],
) (*connect.Response[adledgerv1.SearchResponse], error) {
	if err := s.validate.Struct(req.Msg); err != nil {
		return nil, s.toConnectError(ctx, "search", err)
	}

	if s.limiter != nil {
		limit := s.limiter.Allow(ctx, "search:"+req.Msg.ViewerID)
		if !limit.Allowed {
			cerr := connect.NewError(connect.CodeResourceExhausted, fmt.Errorf("rate limit of %d searches per minute exceeded", limit.Limit))
			cerr.Meta().Set("Retry-After", strconv.Itoa(int(limit.RetryAfter.Seconds())+1))
			return nil, cerr
		}
	}

	result, err := s.ledger.Search(ctx, req.Msg.Tag, req.Msg.ViewerID)
	if err != nil {
		return nil, s.toConnectError(ctx, "search", err)
	}

	return connect.NewResponse(&adledgerv1.SearchResponse{
		ChannelID:   result.ChannelID,
		ChannelName: result.ChannelName,
		OrderID:     result.OrderID,
		MatchedTag:  result.MatchedTag,
		Similar:     result.Similar,
	}), nil
}

// CreateOrder debits the caller's balance and opens an order
func (s *LedgerServer) CreateOrder(
	ctx context.Context,
	req *connect.Request[adledgerv1.CreateOrderRequest],
) (_ *connect.Response[adledgerv1.CreateOrderResponse], err error) {
	defer s.observe("create_order", time.Now(), &err)

	userID, err := s.caller(ctx, req.Msg)
	if err != nil {
		return nil, s.toConnectError(ctx, "create order", err)
	}

	result, err := s.ledger.CreateOrder(ctx, ledger.CreateOrderRequest{
		UserID:          userID,
		ChannelID:       req.Msg.ChannelID,
		ChannelName:     req.Msg.ChannelName,
		OrderName:       req.Msg.OrderName,
		SPM:             req.Msg.SPM,
		Budget:          req.Msg.Budget,
		MaxViewsPerUser: req.Msg.MaxViewsPerUser,
		Tags:            req.Msg.Tags,
	})
	if err != nil {
		return nil, s.toConnectError(ctx, "create order", err)
	}

	return connect.NewResponse(&adledgerv1.CreateOrderResponse{
		Order:      toOrder(result.Order),
		Channel:    toChannel(result.Channel),
		NewBalance: result.NewBalance,
	}), nil
}

// CancelOrder refunds the unserved views of an order
func (s *LedgerServer) CancelOrder(
	ctx context.Context,
	req *connect.Request[adledgerv1.CancelOrderRequest],
) (_ *connect.Response[adledgerv1.CancelOrderResponse], err error) {
	defer s.observe("cancel_order", time.Now(), &err)

	userID, err := s.caller(ctx, req.Msg)
	if err != nil {
		return nil, s.toConnectError(ctx, "cancel order", err)
	}

	result, err := s.ledger.CancelOrder(ctx, userID, req.Msg.OrderID)
	if err != nil {
		return nil, s.toConnectError(ctx, "cancel order", err)
	}

	return connect.NewResponse(&adledgerv1.CancelOrderResponse{
		RefundAmount: result.RefundAmount,
		NewBalance:   result.NewBalance,
		Order:        toOrder(result.Order),
	}), nil
}

// SetOrderActive pauses or resumes an order
func (s *LedgerServer) SetOrderActive(
	ctx context.Context,
	req *connect.Request[adledgerv1.SetOrderActiveRequest],
) (_ *connect.Response[adledgerv1.SetOrderActiveResponse], err error) {
	defer s.observe("set_order_active", time.Now(), &err)

	userID, err := s.caller(ctx, req.Msg)
	if err != nil {
		return nil, s.toConnectError(ctx, "set order active", err)
	}

	result, err := s.ledger.SetOrderActive(ctx, userID, req.Msg.OrderID, *req.Msg.IsActive)
	if err != nil {
		return nil, s.toConnectError(ctx, "set order active", err)
	}

	message := "order deactivated"
	switch {
	case !result.Changed && *req.Msg.IsActive:
		message = "order is already active"
	case !result.Changed:
		message = "order is already inactive"
	case *req.Msg.IsActive:
		message = "order activated"
	}

	return connect.NewResponse(&adledgerv1.SetOrderActiveResponse{
		Order:   toOrder(result.Order),
		Changed: result.Changed,
		Message: message,
	}), nil
}

// GetOrder returns one of the caller's orders
func (s *LedgerServer) GetOrder(
	ctx context.Context,
	req *connect.Request[adledgerv1.GetOrderRequest],
) (*connect.Response[adledgerv1.GetOrderResponse], error) {
	userID, err := s.caller(ctx, req.Msg)
	if err != nil {
		return nil, s.toConnectError(ctx, "get order", err)
	}

	order, err := s.ledger.GetOrder(ctx, userID, req.Msg.OrderID)
	if err != nil {
		return nil, s.toConnectError(ctx, "get order", err)
	}
	return connect.NewResponse(&adledgerv1.GetOrderResponse{Order: toOrder(order)}), nil
}

// ListOrders pages through the caller's orders, newest first
func (s *LedgerServer) ListOrders(
	ctx context.Context,
	req *connect.Request[adledgerv1.ListOrdersRequest],
) (*connect.Response[adledgerv1.ListOrdersResponse], error) {
	userID, err := s.caller(ctx, req.Msg)
	if err != nil {
		return nil, s.toConnectError(ctx, "list orders", err)
	}

	orders, total, err := s.ledger.ListOrders(ctx, userID, ledger.OrderFilter{
		ActiveOnly: req.Msg.ActiveOnly,
		Limit:      req.Msg.Limit,
		Offset:     req.Msg.Offset,
	})
	if err != nil {
		return nil, s.toConnectError(ctx, "list orders", err)
	}
	return connect.NewResponse(&adledgerv1.ListOrdersResponse{
		Orders: toOrders(orders),
		Total:  total,
	}), nil
}

func (s *LedgerServer) GetBalance(
	ctx context.Context,
	req *connect.Request[adledgerv1.GetBalanceRequest],
) (*connect.Response[adledgerv1.GetBalanceResponse], error) {
	userID, err := s.caller(ctx, req.Msg)
	if err != nil {
		return nil, s.toConnectError(ctx, "get balance", err)
	}

	balance, err := s.ledger.GetBalance(ctx, userID)
	if err != nil {
		return nil, s.toConnectError(ctx, "get balance", err)
	}
	return connect.NewResponse(&adledgerv1.GetBalanceResponse{Amount: balance.Amount}), nil
}

func (s *LedgerServer) Deposit(
	ctx context.Context,
	req *connect.Request[adledgerv1.AmountRequest],
) (_ *connect.Response[adledgerv1.BalanceResponse], err error) {
	defer s.observe("deposit", time.Now(), &err)

	userID, err := s.caller(ctx, req.Msg)
	if err != nil {
		return nil, s.toConnectError(ctx, "deposit", err)
	}

	balance, err := s.ledger.Deposit(ctx, userID, req.Msg.Amount)
	if err != nil {
		return nil, s.toConnectError(ctx, "deposit", err)
	}
	return connect.NewResponse(&adledgerv1.BalanceResponse{NewBalance: balance}), nil
}

func (s *LedgerServer) Withdraw(
	ctx context.Context,
	req *connect.Request[adledgerv1.AmountRequest],
) (_ *connect.Response[adledgerv1.BalanceResponse], err error) {
	defer s.observe("withdraw", time.Now(), &err)

	userID, err := s.caller(ctx, req.Msg)
	if err != nil {
		return nil, s.toConnectError(ctx, "withdraw", err)
	}

	balance, err := s.ledger.Withdraw(ctx, userID, req.Msg.Amount)
	if err != nil {
		return nil, s.toConnectError(ctx, "withdraw", err)
	}
	return connect.NewResponse(&adledgerv1.BalanceResponse{NewBalance: balance}), nil
}

// ListLedgerEntries returns the caller's spending history, newest first
func (s *LedgerServer) ListLedgerEntries(
	ctx context.Context,
	req *connect.Request[adledgerv1.ListLedgerEntriesRequest],
) (*connect.Response[adledgerv1.ListLedgerEntriesResponse], error) {
	userID, err := s.caller(ctx, req.Msg)
	if err != nil {
		return nil, s.toConnectError(ctx, "list ledger entries", err)
	}

	entries, err := s.ledger.ListEntries(ctx, userID, req.Msg.Limit, req.Msg.Offset)
	if err != nil {
		return nil, s.toConnectError(ctx, "list ledger entries", err)
	}
	return connect.NewResponse(&adledgerv1.ListLedgerEntriesResponse{Entries: toEntries(entries)}), nil
}

// caller validates msg and returns the authenticated user
func (s *LedgerServer) caller(ctx context.Context, msg any) (uuid.UUID, error) {
	if err := s.validate.Struct(msg); err != nil {
		return uuid.Nil, err
	}
	return auth.UserIDFromContext(ctx)
}

// observe records settlement latency; err is read after the handler returns
func (s *LedgerServer) observe(operation string, start time.Time, err *error) {
	status := "success"
	if *err != nil {
		status = connect.CodeOf(*err).String()
	}
	metrics.RecordSettlementDuration(operation, status, time.Since(start).Seconds())
}
