// Package core defines the domain types and interfaces shared by every worker.
package core

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Side is the order side in canonical form.
type Side string

const (
	SideBuy  Side = "Buy"
	SideSell Side = "Sell"
)

// Opposite returns the closing side for a position opened on s.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// PositionSide mirrors the venue's hedge-mode flag.
type PositionSide string

const (
	PositionLong  PositionSide = "Long"
	PositionShort PositionSide = "Short"
	PositionBoth  PositionSide = "Both"
)

// ExecutionType is the lifecycle step reported by a user-stream execution event.
type ExecutionType string

const (
	ExecNew        ExecutionType = "New"
	ExecTrade      ExecutionType = "Trade"
	ExecCanceled   ExecutionType = "Canceled"
	ExecExpired    ExecutionType = "Expired"
	ExecCalculated ExecutionType = "Calculated"
	ExecAmendment  ExecutionType = "Amendment"
)

// OrderStatus is the order state after the execution event was applied.
type OrderStatus string

const (
	StatusNew             OrderStatus = "New"
	StatusPartiallyFilled OrderStatus = "PartiallyFilled"
	StatusFilled          OrderStatus = "Filled"
	StatusCanceled        OrderStatus = "Canceled"
	StatusExpired         OrderStatus = "Expired"
)

// OrderType is the execution logic of an order.
type OrderType string

const (
	TypeLimit              OrderType = "Limit"
	TypeMarket             OrderType = "Market"
	TypeStopMarket         OrderType = "StopMarket"
	TypeTakeProfitMarket   OrderType = "TakeProfitMarket"
	TypeTrailingStopMarket OrderType = "TrailingStopMarket"
)

// TimeInForce is how long an order stays working.
type TimeInForce string

const (
	TIFGoodTillCancel TimeInForce = "GTC"
	TIFImmediate      TimeInForce = "IOC"
	TIFFillOrKill     TimeInForce = "FOK"
	TIFPostOnly       TimeInForce = "GTX"
	TIFGoodTillDate   TimeInForce = "GTD"
)

var (
	sideNames = map[string]Side{
		"BUY": SideBuy, "Buy": SideBuy,
		"SELL": SideSell, "Sell": SideSell,
	}
	positionSideNames = map[string]PositionSide{
		"LONG": PositionLong, "Long": PositionLong,
		"SHORT": PositionShort, "Short": PositionShort,
		"BOTH": PositionBoth, "Both": PositionBoth,
	}
	execTypeNames = map[string]ExecutionType{
		"NEW": ExecNew, "New": ExecNew,
		"TRADE": ExecTrade, "Trade": ExecTrade,
		"CANCELED": ExecCanceled, "Canceled": ExecCanceled,
		"EXPIRED": ExecExpired, "Expired": ExecExpired,
		"CALCULATED": ExecCalculated, "Calculated": ExecCalculated,
		"AMENDMENT": ExecAmendment, "Amendment": ExecAmendment,
	}
	orderStatusNames = map[string]OrderStatus{
		"NEW": StatusNew, "New": StatusNew,
		"PARTIALLY_FILLED": StatusPartiallyFilled, "PartiallyFilled": StatusPartiallyFilled,
		"FILLED": StatusFilled, "Filled": StatusFilled,
		"CANCELED": StatusCanceled, "Canceled": StatusCanceled,
		"EXPIRED": StatusExpired, "Expired": StatusExpired,
	}
	orderTypeNames = map[string]OrderType{
		"LIMIT": TypeLimit, "Limit": TypeLimit,
		"MARKET": TypeMarket, "Market": TypeMarket,
		"STOP_MARKET": TypeStopMarket, "StopMarket": TypeStopMarket,
		"TAKE_PROFIT_MARKET": TypeTakeProfitMarket, "TakeProfitMarket": TypeTakeProfitMarket,
		"TRAILING_STOP_MARKET": TypeTrailingStopMarket, "TrailingStopMarket": TypeTrailingStopMarket,
	}
	timeInForceNames = map[string]TimeInForce{
		"GTC": TIFGoodTillCancel,
		"IOC": TIFImmediate,
		"FOK": TIFFillOrKill,
		"GTX": TIFPostOnly,
		"GTD": TIFGoodTillDate,
	}
)

// ParseSide maps a wire string (venue or canonical spelling) to its canonical value.
func ParseSide(s string) (Side, error) {
	v, ok := sideNames[s]
	if !ok {
		return "", fmt.Errorf("%w: side %q", ErrUnknownEnum, s)
	}
	return v, nil
}

func ParsePositionSide(s string) (PositionSide, error) {
	v, ok := positionSideNames[s]
	if !ok {
		return "", fmt.Errorf("%w: position side %q", ErrUnknownEnum, s)
	}
	return v, nil
}

func ParseExecutionType(s string) (ExecutionType, error) {
	v, ok := execTypeNames[s]
	if !ok {
		return "", fmt.Errorf("%w: execution type %q", ErrUnknownEnum, s)
	}
	return v, nil
}

func ParseOrderStatus(s string) (OrderStatus, error) {
	v, ok := orderStatusNames[s]
	if !ok {
		return "", fmt.Errorf("%w: order status %q", ErrUnknownEnum, s)
	}
	return v, nil
}

func ParseOrderType(s string) (OrderType, error) {
	v, ok := orderTypeNames[s]
	if !ok {
		return "", fmt.Errorf("%w: order type %q", ErrUnknownEnum, s)
	}
	return v, nil
}

func ParseTimeInForce(s string) (TimeInForce, error) {
	v, ok := timeInForceNames[s]
	if !ok {
		return "", fmt.Errorf("%w: time in force %q", ErrUnknownEnum, s)
	}
	return v, nil
}

// PriceLevel is one tier of an order book side.
type PriceLevel struct {
	Price decimal.Decimal `json:"price"`
	Size  decimal.Decimal `json:"quantity"`
}

// OrderBook is a top-of-book snapshot published by the gateway.
// Bids are sorted by descending price, asks by ascending price.
type OrderBook struct {
	ContractName string       `json:"contract_name"`
	Timestamp    int64        `json:"timestamp"`
	Bids         []PriceLevel `json:"bids"`
	Asks         []PriceLevel `json:"asks"`
}

// BestBid returns the highest bid, or zero when the side is empty.
func (b *OrderBook) BestBid() (decimal.Decimal, bool) {
	if len(b.Bids) == 0 {
		return decimal.Zero, false
	}
	return b.Bids[0].Price, true
}

// BestAsk returns the lowest ask, or zero when the side is empty.
func (b *OrderBook) BestAsk() (decimal.Decimal, bool) {
	if len(b.Asks) == 0 {
		return decimal.Zero, false
	}
	return b.Asks[0].Price, true
}

// MidPrice is the arithmetic mean of the best bid and ask.
func (b *OrderBook) MidPrice() (float64, bool) {
	bid, okB := b.BestBid()
	ask, okA := b.BestAsk()
	if !okB || !okA {
		return 0, false
	}
	mid, _ := bid.Add(ask).Div(decimal.NewFromInt(2)).Float64()
	return mid, true
}

// Kline is a single candlestick. A closed candle is immutable.
type Kline struct {
	Symbol    string  `json:"symbol"`
	Interval  string  `json:"interval"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
	StartTime int64   `json:"start_time"`
	EndTime   int64   `json:"end_time"`
	IsClosed  bool    `json:"is_closed"`
}

// OrderEvent is a normalized execution update from the venue's user-data stream.
type OrderEvent struct {
	Symbol        string          `json:"symbol"`
	OrderID       int64           `json:"order_id"`
	ClientOrderID string          `json:"client_order_id"`
	Side          Side            `json:"side"`
	PositionSide  PositionSide    `json:"position_side"`
	ExecType      ExecutionType   `json:"exec_type"`
	Status        OrderStatus     `json:"status"`
	OrderType     OrderType       `json:"order_type"`
	TimeInForce   TimeInForce     `json:"time_in_force"`
	OrigQty       decimal.Decimal `json:"orig_qty"`
	CumFilledQty  decimal.Decimal `json:"cum_filled_qty"`
	AvgPrice      decimal.Decimal `json:"avg_price"`
	LastQty       decimal.Decimal `json:"last_qty"`
	LastPrice     decimal.Decimal `json:"last_price"`
	Commission    decimal.Decimal `json:"commission"`
	RealizedPnl   decimal.Decimal `json:"realized_pnl"`
	StopPrice     decimal.Decimal `json:"stop_price"`
	IsMaker       bool            `json:"is_maker"`
	EventTimeMs   int64           `json:"event_time_ms"`
	TradeTimeMs   int64           `json:"trade_time_ms"`
}

// IsFill reports whether the event is an executed trade that moves inventory.
func (e *OrderEvent) IsFill() bool {
	return e.ExecType == ExecTrade && (e.Status == StatusFilled || e.Status == StatusPartiallyFilled)
}

// Position is signed inventory with its weighted-average entry price.
// Qty is positive for longs, negative for shorts; AvgPrice is zero when flat.
type Position struct {
	Qty      decimal.Decimal `json:"qty"`
	AvgPrice decimal.Decimal `json:"average_price"`
}

// IsFlat reports whether the position holds no inventory.
func (p Position) IsFlat() bool { return p.Qty.IsZero() }

// Signal is a strategy decision.
type Signal int

const (
	SignalSell Signal = -1
	SignalHold Signal = 0
	SignalBuy  Signal = 1
)

func (s Signal) String() string {
	switch s {
	case SignalBuy:
		return "BUY"
	case SignalSell:
		return "SELL"
	default:
		return "HOLD"
	}
}

// SignalEvent is published on the signal channel.
type SignalEvent struct {
	Signal Signal `json:"signal"`
	Symbol string `json:"symbol"`
}

// MarketPrice is the last observed top of book for a symbol.
type MarketPrice struct {
	BestBid decimal.Decimal `json:"best_bid"`
	BestAsk decimal.Decimal `json:"best_ask"`
}
