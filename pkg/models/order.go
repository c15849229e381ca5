package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus is shared by both legs of a TradeOrder.
type OrderStatus string

const (
	OrderStatusWait        OrderStatus = "wait"
	OrderStatusWaitPartial OrderStatus = "wait_partial"
	OrderStatusFilled      OrderStatus = "filled"
	OrderStatusCancelled   OrderStatus = "cancelled"

	// OrderStatusAwaitingSell is valid on the sell leg only: the buy leg
	// filled but no sell order has been submitted yet.
	OrderStatusAwaitingSell OrderStatus = "awaiting_sell"
)

// Terminal reports whether a leg in this status is done transitioning.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusFilled || s == OrderStatusCancelled
}

type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// TradeOrder is one buy/sell pair managed by the engine. Rows are never
// deleted; they are the audit trail of everything the strategy did.
type TradeOrder struct {
	ID          string
	UserID      string
	Currency    string
	BuyOrderID  *string
	BuyPrice    decimal.Decimal
	BuyQuantity decimal.Decimal
	BuyStatus   OrderStatus
	BuyFees     decimal.Decimal
	SellOrderID *string
	SellPrice   decimal.Decimal
	SellStatus  OrderStatus
	SellFees    decimal.Decimal
	SellSpread  decimal.Decimal
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Open reports whether the order counts against the position cap: the buy
// leg is live or filled and the sell leg has not reached a terminal state.
func (o *TradeOrder) Open() bool {
	switch o.BuyStatus {
	case OrderStatusFilled, OrderStatusWait, OrderStatusWaitPartial:
	default:
		return false
	}
	return o.SellStatus != OrderStatusFilled && o.SellStatus != OrderStatusCancelled
}

// AwaitingSell reports whether the sell leg still needs to be placed.
func (o *TradeOrder) AwaitingSell() bool {
	return o.BuyStatus == OrderStatusFilled && o.SellStatus == OrderStatusAwaitingSell
}

// OrderRequest is a new order submission to the exchange.
type OrderRequest struct {
	ClientID string
	Currency string
	Side     OrderSide
	Price    decimal.Decimal
	Quantity decimal.Decimal
}

// OrderResult is the exchange's answer to an order submission.
type OrderResult struct {
	Accepted bool
	OrderID  string
	Message  string
}

// OrderState is the authoritative remote state of one order.
type OrderState struct {
	Status OrderStatus
	Fees   decimal.Decimal
}
