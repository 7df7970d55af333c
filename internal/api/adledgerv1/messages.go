// Package adledgerv1 defines the adledger.v1.LedgerService wire messages and
// its connect handler and client. Messages are plain structs carried by a
// JSON codec; decimals travel as strings.
package adledgerv1

import (
	"time"

	"github.com/shopspring/decimal"
)

type SearchRequest struct {
	Tag      string `json:"tag" validate:"required,max=100"`
	ViewerID string `json:"viewer_id" validate:"required,max=255"`
}

type SearchResponse struct {
	ChannelID   string `json:"channel_id"`
	ChannelName string `json:"channel_name"`
	OrderID     int64  `json:"order_id"`
	MatchedTag  string `json:"matched_tag"`
	Similar     bool   `json:"similar"`
}

type CreateOrderRequest struct {
	ChannelID       string          `json:"channel_id" validate:"required,max=255"`
	ChannelName     string          `json:"channel_name" validate:"required,max=255"`
	OrderName       string          `json:"order_name" validate:"max=255"`
	SPM             decimal.Decimal `json:"spm"`
	Budget          decimal.Decimal `json:"budget"`
	MaxViewsPerUser int64           `json:"max_views_per_user" validate:"gte=0"`
	Tags            []string        `json:"tags" validate:"max=50,dive,max=100"`
}

type CreateOrderResponse struct {
	Order      Order           `json:"order"`
	Channel    Channel         `json:"channel"`
	NewBalance decimal.Decimal `json:"new_balance"`
}

type CancelOrderRequest struct {
	OrderID int64 `json:"order_id" validate:"required,gt=0"`
}

type CancelOrderResponse struct {
	RefundAmount decimal.Decimal `json:"refund_amount"`
	NewBalance   decimal.Decimal `json:"new_balance"`
	Order        Order           `json:"order"`
}

type SetOrderActiveRequest struct {
	OrderID  int64 `json:"order_id" validate:"required,gt=0"`
	IsActive *bool `json:"is_active" validate:"required"`
}

type SetOrderActiveResponse struct {
	Order   Order  `json:"order"`
	Changed bool   `json:"changed"`
	Message string `json:"message"`
}

type GetOrderRequest struct {
	OrderID int64 `json:"order_id" validate:"required,gt=0"`
}

type GetOrderResponse struct {
	Order Order `json:"order"`
}

type ListOrdersRequest struct {
	ActiveOnly bool `json:"active_only"`
	Limit      int  `json:"limit" validate:"gte=0,lte=100"`
	Offset     int  `json:"offset" validate:"gte=0"`
}

type ListOrdersResponse struct {
	Orders []Order `json:"orders"`
	Total  int     `json:"total"`
}

type GetBalanceRequest struct{}

type GetBalanceResponse struct {
	Amount decimal.Decimal `json:"amount"`
}

// AmountRequest is shared by Deposit and Withdraw
type AmountRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type BalanceResponse struct {
	NewBalance decimal.Decimal `json:"new_balance"`
}

type ListLedgerEntriesRequest struct {
	Limit  int `json:"limit" validate:"gte=0,lte=100"`
	Offset int `json:"offset" validate:"gte=0"`
}

type ListLedgerEntriesResponse struct {
	Entries []LedgerEntry `json:"entries"`
}

// Order is the client view of an order. IsActive, Completed and Cancelled are
// derived from State.
type Order struct {
	ID              int64           `json:"id"`
	ChannelID       string          `json:"channel_id"`
	ChannelName     string          `json:"channel_name"`
	OrderName       string          `json:"order_name"`
	SPM             decimal.Decimal `json:"spm"`
	Budget          decimal.Decimal `json:"budget"`
	TotalViews      int64           `json:"total_views"`
	ShownViews      int64           `json:"shown_views"`
	RemainingViews  int64           `json:"remaining_views"`
	MaxViewsPerUser int64           `json:"max_views_per_user"`
	State           string          `json:"state"`
	IsActive        bool            `json:"is_active"`
	Completed       bool            `json:"completed"`
	Cancelled       bool            `json:"cancelled"`
	RefundPreview   decimal.Decimal `json:"refund_preview"`
	Tags            []string        `json:"tags"`
	ChannelTags     []string        `json:"channel_tags"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

type Channel struct {
	ChannelID   string   `json:"channel_id"`
	ChannelName string   `json:"channel_name"`
	Tags        []string `json:"tags"`
}

type LedgerEntry struct {
	ID           int64           `json:"id"`
	Kind         string          `json:"kind"`
	Amount       decimal.Decimal `json:"amount"`
	BalanceAfter decimal.Decimal `json:"balance_after"`
	OrderID      *int64          `json:"order_id,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}
