package core

import "github.com/shopspring/decimal"

// Request/response payloads carried over the bus. Values travel as JSON inside
// the binary envelope; the correlation id lives on the envelope, not here.

// PlaceOrderRequest asks the gateway to submit an order to the venue.
type PlaceOrderRequest struct {
	Symbol    string          `json:"symbol"`
	Side      Side            `json:"side"`
	OrderType OrderType       `json:"order_type"`
	Qty       decimal.Decimal `json:"qty"`
	Price     decimal.Decimal `json:"price"`
	StopPrice decimal.Decimal `json:"stop_price"`
	TIF       TimeInForce     `json:"time_in_force"`
}

// PlaceOrderResponse carries the venue ack or a flat error string.
type PlaceOrderResponse struct {
	OrderID       int64       `json:"order_id"`
	ClientOrderID string      `json:"client_order_id"`
	Status        OrderStatus `json:"status"`
	Err           string      `json:"err,omitempty"`
}

// PositionsRequest fetches open positions from the venue.
type PositionsRequest struct {
	Symbol string `json:"symbol"`
}

type PositionsResponse struct {
	Positions []ExchangePosition `json:"positions"`
	Err       string             `json:"err,omitempty"`
}

// AccountBalanceResponse reports the available quote balance.
type AccountBalanceResponse struct {
	Balance decimal.Decimal `json:"balance"`
	Err     string          `json:"err,omitempty"`
}

// ClosePositionRequest asks the gateway to flatten a symbol with a market order.
type ClosePositionRequest struct {
	Symbol string `json:"symbol"`
}

type ClosePositionResponse struct {
	Closed []ExchangePosition `json:"closed"`
	Err    string             `json:"err,omitempty"`
}

// StatsRequest fetches the portfolio manager's view of a symbol.
type StatsRequest struct {
	Symbol string `json:"symbol"`
}

// StatsResponse is the portfolio snapshot served over request/response.
type StatsResponse struct {
	Position         Position        `json:"position"`
	UnrealizedPnl    decimal.Decimal `json:"unrealized_pnl"`
	LastMarketPrice  *MarketPrice    `json:"last_market_price,omitempty"`
	RealizedPnl      decimal.Decimal `json:"realized_pnl"`
	TotalCommissions decimal.Decimal `json:"total_commissions"`
	TotalPnl         decimal.Decimal `json:"total_pnl"`
	CashBalance      decimal.Decimal `json:"cash_balance"`
	AveragePrice     decimal.Decimal `json:"average_price"`
}
