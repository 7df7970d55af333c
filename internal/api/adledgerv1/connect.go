package adledgerv1

import (
	"context"
	"net/http"
	"strings"

	"connectrpc.com/connect"
)

// LedgerServiceName is the fully-qualified name of the LedgerService service.
const LedgerServiceName = "adledger.v1.LedgerService"

// Fully-qualified procedure names, used as HTTP routes and in interceptors.
const (
	LedgerServiceSearchProcedure            = "/adledger.v1.LedgerService/Search"
	LedgerServiceCreateOrderProcedure       = "/adledger.v1.LedgerService/CreateOrder"
	LedgerServiceCancelOrderProcedure       = "/adledger.v1.LedgerService/CancelOrder"
	LedgerServiceSetOrderActiveProcedure    = "/adledger.v1.LedgerService/SetOrderActive"
	LedgerServiceGetOrderProcedure          = "/adledger.v1.LedgerService/GetOrder"
	LedgerServiceListOrdersProcedure        = "/adledger.v1.LedgerService/ListOrders"
	LedgerServiceGetBalanceProcedure        = "/adledger.v1.LedgerService/GetBalance"
	LedgerServiceDepositProcedure           = "/adledger.v1.LedgerService/Deposit"
	LedgerServiceWithdrawProcedure          = "/adledger.v1.LedgerService/Withdraw"
	LedgerServiceListLedgerEntriesProcedure = "/adledger.v1.LedgerService/ListLedgerEntries"
)

// LedgerServiceHandler is implemented by the server
type LedgerServiceHandler interface {
	Search(context.Context, *connect.Request[SearchRequest]) (*connect.Response[SearchResponse], error)
	CreateOrder(context.Context, *connect.Request[CreateOrderRequest]) (*connect.Response[CreateOrderResponse], error)
	CancelOrder(context.Context, *connect.Request[CancelOrderRequest]) (*connect.Response[CancelOrderResponse], error)
	SetOrderActive(context.Context, *connect.Request[SetOrderActiveRequest]) (*connect.Response[SetOrderActiveResponse], error)
	GetOrder(context.Context, *connect.Request[GetOrderRequest]) (*connect.Response[GetOrderResponse], error)
	ListOrders(context.Context, *connect.Request[ListOrdersRequest]) (*connect.Response[ListOrdersResponse], error)
	GetBalance(context.Context, *connect.Request[GetBalanceRequest]) (*connect.Response[GetBalanceResponse], error)
	Deposit(context.Context, *connect.Request[AmountRequest]) (*connect.Response[BalanceResponse], error)
	Withdraw(context.Context, *connect.Request[AmountRequest]) (*connect.Response[BalanceResponse], error)
	ListLedgerEntries(context.Context, *connect.Request[ListLedgerEntriesRequest]) (*connect.Response[ListLedgerEntriesResponse], error)
}

// NewLedgerServiceHandler builds an HTTP handler from the service
// implementation. It returns the path on which to mount the handler and the
// handler itself.
func NewLedgerServiceHandler(svc LedgerServiceHandler, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{connect.WithCodec(Codec{})}, opts...)

	routes := map[string]http.Handler{
		LedgerServiceSearchProcedure:            connect.NewUnaryHandler(LedgerServiceSearchProcedure, svc.Search, opts...),
		LedgerServiceCreateOrderProcedure:       connect.NewUnaryHandler(LedgerServiceCreateOrderProcedure, svc.CreateOrder, opts...),
		LedgerServiceCancelOrderProcedure:       connect.NewUnaryHandler(LedgerServiceCancelOrderProcedure, svc.CancelOrder, opts...),
		LedgerServiceSetOrderActiveProcedure:    connect.NewUnaryHandler(LedgerServiceSetOrderActiveProcedure, svc.SetOrderActive, opts...),
		LedgerServiceGetOrderProcedure:          connect.NewUnaryHandler(LedgerServiceGetOrderProcedure, svc.GetOrder, opts...),
		LedgerServiceListOrdersProcedure:        connect.NewUnaryHandler(LedgerServiceListOrdersProcedure, svc.ListOrders, opts...),
		LedgerServiceGetBalanceProcedure:        connect.NewUnaryHandler(LedgerServiceGetBalanceProcedure, svc.GetBalance, opts...),
		LedgerServiceDepositProcedure:           connect.NewUnaryHandler(LedgerServiceDepositProcedure, svc.Deposit, opts...),
		LedgerServiceWithdrawProcedure:          connect.NewUnaryHandler(LedgerServiceWithdrawProcedure, svc.Withdraw, opts...),
		LedgerServiceListLedgerEntriesProcedure: connect.NewUnaryHandler(LedgerServiceListLedgerEntriesProcedure, svc.ListLedgerEntries, opts...),
	}

	return "/" + LedgerServiceName + "/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h, ok := routes[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		h.ServeHTTP(w, r)
	})
}

// LedgerServiceClient is a client for adledger.v1.LedgerService
type LedgerServiceClient struct {
	search            *connect.Client[SearchRequest, SearchResponse]
	createOrder       *connect.Client[CreateOrderRequest, CreateOrderResponse]
	cancelOrder       *connect.Client[CancelOrderRequest, CancelOrderResponse]
	setOrderActive    *connect.Client[SetOrderActiveRequest, SetOrderActiveResponse]
	getOrder          *connect.Client[GetOrderRequest, GetOrderResponse]
	listOrders        *connect.Client[ListOrdersRequest, ListOrdersResponse]
	getBalance        *connect.Client[GetBalanceRequest, GetBalanceResponse]
	deposit           *connect.Client[AmountRequest, BalanceResponse]
	withdraw          *connect.Client[AmountRequest, BalanceResponse]
	listLedgerEntries *connect.Client[ListLedgerEntriesRequest, ListLedgerEntriesResponse]
}

// NewLedgerServiceClient constructs a client. baseURL is the server root,
// for example http://localhost:8080.
func NewLedgerServiceClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *LedgerServiceClient {
	baseURL = strings.TrimRight(baseURL, "/")
	opts = append([]connect.ClientOption{connect.WithCodec(Codec{})}, opts...)
	return &LedgerServiceClient{
		search:            connect.NewClient[SearchRequest, SearchResponse](httpClient, baseURL+LedgerServiceSearchProcedure, opts...),
		createOrder:       connect.NewClient[CreateOrderRequest, CreateOrderResponse](httpClient, baseURL+LedgerServiceCreateOrderProcedure, opts...),
		cancelOrder:       connect.NewClient[CancelOrderRequest, CancelOrderResponse](httpClient, baseURL+LedgerServiceCancelOrderProcedure, opts...),
		setOrderActive:    connect.NewClient[SetOrderActiveRequest, SetOrderActiveResponse](httpClient, baseURL+LedgerServiceSetOrderActiveProcedure, opts...),
		getOrder:          connect.NewClient[GetOrderRequest, GetOrderResponse](httpClient, baseURL+LedgerServiceGetOrderProcedure, opts...),
		listOrders:        connect.NewClient[ListOrdersRequest, ListOrdersResponse](httpClient, baseURL+LedgerServiceListOrdersProcedure, opts...),
		getBalance:        connect.NewClient[GetBalanceRequest, GetBalanceResponse](httpClient, baseURL+LedgerServiceGetBalanceProcedure, opts...),
		deposit:           connect.NewClient[AmountRequest, BalanceResponse](httpClient, baseURL+LedgerServiceDepositProcedure, opts...),
		withdraw:          connect.NewClient[AmountRequest, BalanceResponse](httpClient, baseURL+LedgerServiceWithdrawProcedure, opts...),
		listLedgerEntries: connect.NewClient[ListLedgerEntriesRequest, ListLedgerEntriesResponse](httpClient, baseURL+LedgerServiceListLedgerEntriesProcedure, opts...),
	}
}

func (c *LedgerServiceClient) Search(ctx context.Context, req *connect.Request[SearchRequest]) (*connect.Response[SearchResponse], error) {
	return c.search.CallUnary(ctx, req)
}

func (c *LedgerServiceClient) CreateOrder(ctx context.Context, req *connect.Request[CreateOrderRequest]) (*connect.Response[CreateOrderResponse], error) {
	return c.createOrder.CallUnary(ctx, req)
}

func (c *LedgerServiceClient) CancelOrder(ctx context.Context, req *connect.Request[CancelOrderRequest]) (*connect.Response[CancelOrderResponse], error) {
	return c.cancelOrder.CallUnary(ctx, req)
}

func (c *LedgerServiceClient) SetOrderActive(ctx context.Context, req *connect.Request[SetOrderActiveRequest]) (*connect.Response[SetOrderActiveResponse], error) {
	return c.setOrderActive.CallUnary(ctx, req)
}

func (c *LedgerServiceClient) GetOrder(ctx context.Context, req *connect.Request[GetOrderRequest]) (*connect.Response[GetOrderResponse], error) {
	return c.getOrder.CallUnary(ctx, req)
}

func (c *LedgerServiceClient) ListOrders(ctx context.Context, req *connect.Request[ListOrdersRequest]) (*connect.Response[ListOrdersResponse], error) {
	return c.listOrders.CallUnary(ctx, req)
}

func (c *LedgerServiceClient) GetBalance(ctx context.Context, req *connect.Request[GetBalanceRequest]) (*connect.Response[GetBalanceResponse], error) {
	return c.getBalance.CallUnary(ctx, req)
}

func (c *LedgerServiceClient) Deposit(ctx context.Context, req *connect.Request[AmountRequest]) (*connect.Response[BalanceResponse], error) {
	return c.deposit.CallUnary(ctx, req)
}

func (c *LedgerServiceClient) Withdraw(ctx context.Context, req *connect.Request[AmountRequest]) (*connect.Response[BalanceResponse], error) {
	return c.withdraw.CallUnary(ctx, req)
}

func (c *LedgerServiceClient) ListLedgerEntries(ctx context.Context, req *connect.Request[ListLedgerEntriesRequest]) (*connect.Response[ListLedgerEntriesResponse], error) {
	return c.listLedgerEntries.CallUnary(ctx, req)
}
