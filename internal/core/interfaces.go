package core

import (
	"context"

	"github.com/shopspring/decimal"
)

// Logger is the structured logging interface every component receives.
type Logger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	Fatal(msg string, fields ...interface{})
	WithField(key string, value interface{}) Logger
}

// OrderAck is the venue's acknowledgment of a placed order.
type OrderAck struct {
	OrderID       int64
	ClientOrderID string
	Symbol        string
	Status        OrderStatus
}

// ExchangePosition is a position as reported by the venue's account endpoint.
type ExchangePosition struct {
	Symbol     string          `json:"symbol"`
	Qty        decimal.Decimal `json:"qty"`
	EntryPrice decimal.Decimal `json:"entry_price"`
	Unrealized decimal.Decimal `json:"unrealized"`
}

// Exchange is the outbound surface to the futures venue. Implementations are
// safe for concurrent use; all calls honor the context deadline.
type Exchange interface {
	PlaceMarketOrder(ctx context.Context, symbol string, side Side, qty decimal.Decimal) (*OrderAck, error)
	PlaceLimitOrder(ctx context.Context, symbol string, side Side, qty, price decimal.Decimal, tif TimeInForce) (*OrderAck, error)
	PlaceStopMarketOrder(ctx context.Context, symbol string, side Side, qty, stopPrice decimal.Decimal) (*OrderAck, error)
	PlaceTakeProfitMarketOrder(ctx context.Context, symbol string, side Side, qty, stopPrice decimal.Decimal) (*OrderAck, error)
	CancelOrder(ctx context.Context, symbol string, orderID int64) error

	Positions(ctx context.Context, symbol string) ([]ExchangePosition, error)
	AvailableBalance(ctx context.Context) (decimal.Decimal, error)
	HistoricalKlines(ctx context.Context, symbol, interval string, limit int) ([]Kline, error)

	StartUserStream(ctx context.Context) (string, error)
	KeepAliveUserStream(ctx context.Context, listenKey string) error
	CloseUserStream(ctx context.Context, listenKey string) error
}

// OrderStore persists execution updates, one transaction per event.
type OrderStore interface {
	Insert(ctx context.Context, evt *OrderEvent) error
	Update(ctx context.Context, evt *OrderEvent) error
	Get(ctx context.Context, orderID int64) (*OrderEvent, error)
	Close() error
}
