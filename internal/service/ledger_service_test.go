package service_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"connectrpc.com/connect"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	adledgerv1 "github.com/kkkkikiki/adledger/internal/api/adledgerv1"
	"github.com/kkkkikiki/adledger/internal/auth"
	"github.com/kkkkikiki/adledger/internal/ledger"
	"github.com/kkkkikiki/adledger/internal/observability"
	"github.com/kkkkikiki/adledger/internal/ratelimit"
	"github.com/kkkkikiki/adledger/internal/repository/memory"
	"github.com/kkkkikiki/adledger/internal/service"
)

type harness struct {
	client   *adledgerv1.LedgerServiceClient
	verifier *auth.Verifier
}

func newHarness(t *testing.T, searchLimit int) *harness {
	t.Helper()
	logger := observability.NewNop()
	l := ledger.New(memory.New(2*time.Second), nil, logger, ledger.DefaultOptions())

	var limiter *ratelimit.Service
	if searchLimit > 0 {
		limiter = ratelimit.NewService(nil, searchLimit, logger)
	}
	verifier, err := auth.NewVerifier("test-secret", "adledger")
	require.NoError(t, err)

	path, handler := adledgerv1.NewLedgerServiceHandler(
		service.NewLedgerServer(l, limiter, logger),
		connect.WithInterceptors(
			service.NewLoggingInterceptor(logger),
			auth.NewInterceptor(verifier, adledgerv1.LedgerServiceSearchProcedure),
		),
	)
	mux := http.NewServeMux()
	mux.Handle(path, handler)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return &harness{
		client:   adledgerv1.NewLedgerServiceClient(srv.Client(), srv.URL),
		verifier: verifier,
	}
}

func (h *harness) token(t *testing.T, user uuid.UUID) string {
	t.Helper()
	token, err := h.verifier.Sign(user, time.Minute)
	require.NoError(t, err)
	return token
}

func withToken[T any](msg *T, token string) *connect.Request[T] {
	req := connect.NewRequest(msg)
	req.Header().Set("Authorization", "Bearer "+token)
	return req
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func assertCode(t *testing.T, want connect.Code, err error) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, want, connect.CodeOf(err), err.Error())
}

func TestLedgerService_OrderLifecycle(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()
	token := h.token(t, uuid.New())

	dep, err := h.client.Deposit(ctx, withToken(&adledgerv1.AmountRequest{Amount: dec("100")}, token))
	require.NoError(t, err)
	assert.True(t, dep.Msg.NewBalance.Equal(dec("100")))

	created, err := h.client.CreateOrder(ctx, withToken(&adledgerv1.CreateOrderRequest{
		ChannelID:   "ch-news",
		ChannelName: "Daily News",
		SPM:         dec("10.00"),
		Budget:      dec("50.00"),
		Tags:        []string{"News", "news", "world"},
	}, token))
	require.NoError(t, err)
	order := created.Msg.Order
	assert.EqualValues(t, 5000, order.TotalViews)
	assert.Equal(t, "active", order.State)
	assert.True(t, order.IsActive)
	assert.ElementsMatch(t, []string{"news", "world"}, order.Tags)
	assert.True(t, created.Msg.NewBalance.Equal(dec("50")))

	found, err := h.client.Search(ctx, connect.NewRequest(&adledgerv1.SearchRequest{Tag: "news", ViewerID: "viewer-1"}))
	require.NoError(t, err)
	assert.Equal(t, order.ID, found.Msg.OrderID)
	assert.Equal(t, "ch-news", found.Msg.ChannelID)
	assert.Equal(t, "Daily News", found.Msg.ChannelName)
	assert.False(t, found.Msg.Similar)

	got, err := h.client.GetOrder(ctx, withToken(&adledgerv1.GetOrderRequest{OrderID: order.ID}, token))
	require.NoError(t, err)
	assert.EqualValues(t, 1, got.Msg.Order.ShownViews)
	assert.EqualValues(t, 4999, got.Msg.Order.RemainingViews)
	assert.True(t, got.Msg.Order.RefundPreview.Equal(dec("49.99")))

	cancelled, err := h.client.CancelOrder(ctx, withToken(&adledgerv1.CancelOrderRequest{OrderID: order.ID}, token))
	require.NoError(t, err)
	assert.True(t, cancelled.Msg.RefundAmount.Equal(dec("49.99")))
	assert.True(t, cancelled.Msg.NewBalance.Equal(dec("99.99")))
	assert.True(t, cancelled.Msg.Order.Cancelled)
	assert.False(t, cancelled.Msg.Order.IsActive)

	_, err = h.client.CancelOrder(ctx, withToken(&adledgerv1.CancelOrderRequest{OrderID: order.ID}, token))
	assertCode(t, connect.CodeFailedPrecondition, err)

	entries, err := h.client.ListLedgerEntries(ctx, withToken(&adledgerv1.ListLedgerEntriesRequest{Limit: 10}, token))
	require.NoError(t, err)
	require.Len(t, entries.Msg.Entries, 3)
	assert.Equal(t, "order_refund", entries.Msg.Entries[0].Kind)

	balance, err := h.client.GetBalance(ctx, withToken(&adledgerv1.GetBalanceRequest{}, token))
	require.NoError(t, err)
	assert.True(t, balance.Msg.Amount.Equal(dec("99.99")))
}

func TestLedgerService_SetOrderActive(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()
	token := h.token(t, uuid.New())

	_, err := h.client.Deposit(ctx, withToken(&adledgerv1.AmountRequest{Amount: dec("10")}, token))
	require.NoError(t, err)
	created, err := h.client.CreateOrder(ctx, withToken(&adledgerv1.CreateOrderRequest{
		ChannelID: "ch", ChannelName: "Channel", SPM: dec("1"), Budget: dec("10"), Tags: []string{"go"},
	}, token))
	require.NoError(t, err)
	id := created.Msg.Order.ID

	off := false
	res, err := h.client.SetOrderActive(ctx, withToken(&adledgerv1.SetOrderActiveRequest{OrderID: id, IsActive: &off}, token))
	require.NoError(t, err)
	assert.True(t, res.Msg.Changed)
	assert.Equal(t, "order deactivated", res.Msg.Message)
	assert.Equal(t, "inactive", res.Msg.Order.State)

	res, err = h.client.SetOrderActive(ctx, withToken(&adledgerv1.SetOrderActiveRequest{OrderID: id, IsActive: &off}, token))
	require.NoError(t, err)
	assert.False(t, res.Msg.Changed)

	_, err = h.client.Search(ctx, connect.NewRequest(&adledgerv1.SearchRequest{Tag: "go", ViewerID: "v"}))
	assertCode(t, connect.CodeNotFound, err)

	_, err = h.client.SetOrderActive(ctx, withToken(&adledgerv1.SetOrderActiveRequest{OrderID: id}, token))
	assertCode(t, connect.CodeInvalidArgument, err)

	listed, err := h.client.ListOrders(ctx, withToken(&adledgerv1.ListOrdersRequest{ActiveOnly: true}, token))
	require.NoError(t, err)
	assert.Empty(t, listed.Msg.Orders)
	assert.Zero(t, listed.Msg.Total)
}

func TestLedgerService_ErrorCodes(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()
	owner := h.token(t, uuid.New())
	stranger := h.token(t, uuid.New())

	_, err := h.client.Deposit(ctx, withToken(&adledgerv1.AmountRequest{Amount: dec("5")}, owner))
	require.NoError(t, err)
	created, err := h.client.CreateOrder(ctx, withToken(&adledgerv1.CreateOrderRequest{
		ChannelID: "ch", ChannelName: "Channel", SPM: dec("1"), Budget: dec("5"),
	}, owner))
	require.NoError(t, err)

	tests := []struct {
		name string
		call func() error
		want connect.Code
	}{
		{"missing token", func() error {
			_, err := h.client.GetBalance(ctx, connect.NewRequest(&adledgerv1.GetBalanceRequest{}))
			return err
		}, connect.CodeUnauthenticated},
		{"bad token", func() error {
			_, err := h.client.GetBalance(ctx, withToken(&adledgerv1.GetBalanceRequest{}, "not-a-jwt"))
			return err
		}, connect.CodeUnauthenticated},
		{"negative deposit", func() error {
			_, err := h.client.Deposit(ctx, withToken(&adledgerv1.AmountRequest{Amount: dec("-1")}, owner))
			return err
		}, connect.CodeInvalidArgument},
		{"three decimal places", func() error {
			_, err := h.client.Deposit(ctx, withToken(&adledgerv1.AmountRequest{Amount: dec("1.005")}, owner))
			return err
		}, connect.CodeInvalidArgument},
		{"overdraw", func() error {
			_, err := h.client.Withdraw(ctx, withToken(&adledgerv1.AmountRequest{Amount: dec("1")}, owner))
			return err
		}, connect.CodeFailedPrecondition},
		{"budget above balance", func() error {
			_, err := h.client.CreateOrder(ctx, withToken(&adledgerv1.CreateOrderRequest{
				ChannelID: "ch", ChannelName: "Channel", SPM: dec("1"), Budget: dec("1"),
			}, owner))
			return err
		}, connect.CodeFailedPrecondition},
		{"missing channel", func() error {
			_, err := h.client.CreateOrder(ctx, withToken(&adledgerv1.CreateOrderRequest{
				ChannelName: "Channel", SPM: dec("1"), Budget: dec("1"),
			}, owner))
			return err
		}, connect.CodeInvalidArgument},
		{"other user's order", func() error {
			_, err := h.client.GetOrder(ctx, withToken(&adledgerv1.GetOrderRequest{OrderID: created.Msg.Order.ID}, stranger))
			return err
		}, connect.CodeNotFound},
		{"cancel other user's order", func() error {
			_, err := h.client.CancelOrder(ctx, withToken(&adledgerv1.CancelOrderRequest{OrderID: created.Msg.Order.ID}, stranger))
			return err
		}, connect.CodeNotFound},
		{"zero order id", func() error {
			_, err := h.client.CancelOrder(ctx, withToken(&adledgerv1.CancelOrderRequest{}, owner))
			return err
		}, connect.CodeInvalidArgument},
		{"search without tag", func() error {
			_, err := h.client.Search(ctx, connect.NewRequest(&adledgerv1.SearchRequest{ViewerID: "v"}))
			return err
		}, connect.CodeInvalidArgument},
		{"search unknown tag", func() error {
			_, err := h.client.Search(ctx, connect.NewRequest(&adledgerv1.SearchRequest{Tag: "zzzz", ViewerID: "v"}))
			return err
		}, connect.CodeNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assertCode(t, tt.want, tt.call())
		})
	}
}

func TestLedgerService_SearchRateLimit(t *testing.T) {
	h := newHarness(t, 2)
	ctx := context.Background()
	search := func(viewer string) error {
		_, err := h.client.Search(ctx, connect.NewRequest(&adledgerv1.SearchRequest{Tag: "none", ViewerID: viewer}))
		return err
	}

	assertCode(t, connect.CodeNotFound, search("v1"))
	assertCode(t, connect.CodeNotFound, search("v1"))

	err := search("v1")
	assertCode(t, connect.CodeResourceExhausted, err)
	var cerr *connect.Error
	require.ErrorAs(t, err, &cerr)
	assert.NotEmpty(t, cerr.Meta().Get("Retry-After"))

	assertCode(t, connect.CodeNotFound, search("v2"))
}

func TestLoggingInterceptor_EchoesRequestID(t *testing.T) {
	h := newHarness(t, 0)
	token := h.token(t, uuid.New())

	req := withToken(&adledgerv1.GetBalanceRequest{}, token)
	req.Header().Set(service.RequestIDHeader, "req-123")
	res, err := h.client.GetBalance(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "req-123", res.Header().Get(service.RequestIDHeader))
	assert.True(t, res.Msg.Amount.IsZero())

	res, err = h.client.GetBalance(context.Background(), withToken(&adledgerv1.GetBalanceRequest{}, token))
	require.NoError(t, err)
	_, err = uuid.Parse(res.Header().Get(service.RequestIDHeader))
	assert.NoError(t, err)
}

func TestCodec_DecimalsAsStrings(t *testing.T) {
	data, err := adledgerv1.Codec{}.Marshal(&adledgerv1.AmountRequest{Amount: dec("12.50")})
	require.NoError(t, err)
	assert.JSONEq(t, `{"amount":"12.5"}`, string(data))

	var msg adledgerv1.AmountRequest
	require.NoError(t, adledgerv1.Codec{}.Unmarshal([]byte(`{"amount":"0.10"}`), &msg))
	assert.True(t, msg.Amount.Equal(dec("0.1")))
}
