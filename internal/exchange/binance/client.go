// Package binance adapts the USDT-M futures REST API to the core.Exchange
// interface, with client-side rate limiting and retry around every call.
package binance

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"futuresbot/internal/core"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

const (
	baseURLProduction = "https://fapi.binance.com"
	baseURLTestnet    = "https://testnet.binancefuture.com"

	// requestsPerSecond keeps well under the venue's weight limits.
	requestsPerSecond = 8
	requestBurst      = 16
)

// Config holds the venue connection settings.
type Config struct {
	APIKey    string
	SecretKey string
	Testnet   bool
	BaseURL   string // optional override, wins over Testnet
}

// Client implements core.Exchange against Binance USDT-M futures.
type Client struct {
	futures  *futures.Client
	limiter  *rate.Limiter
	pipeline failsafe.Executor[any]
	logger   core.Logger
}

var _ core.Exchange = (*Client)(nil)

// New creates a venue client with rate limiting and a transient-error
// retry policy.
func New(cfg Config, logger core.Logger) (*Client, error) {
	if cfg.APIKey == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("%w: missing API credentials", core.ErrInvalidConfig)
	}

	fc := futures.NewClient(cfg.APIKey, cfg.SecretKey)
	switch {
	case cfg.BaseURL != "":
		fc.BaseURL = cfg.BaseURL
	case cfg.Testnet:
		fc.BaseURL = baseURLTestnet
	default:
		fc.BaseURL = baseURLProduction
	}

	retryPolicy := retrypolicy.NewBuilder[any]().
		HandleIf(func(_ any, err error) bool {
			return errors.Is(err, core.ErrNetwork) || errors.Is(err, core.ErrRateLimited)
		}).
		WithBackoff(250*time.Millisecond, 4*time.Second).
		WithMaxRetries(3).
		Build()

	return &Client{
		futures:  fc,
		limiter:  rate.NewLimiter(rate.Limit(requestsPerSecond), requestBurst),
		pipeline: failsafe.With[any](retryPolicy),
		logger:   logger.WithField("component", "binance_client"),
	}, nil
}

// StreamBaseURL returns the websocket endpoint matching the REST endpoint.
func StreamBaseURL(testnet bool) string {
	if testnet {
		return "wss://stream.binancefuture.com/ws"
	}
	return "wss://fstream.binance.com/ws"
}

// call runs fn through the rate limiter and retry pipeline.
func (c *Client) call(ctx context.Context, op string, fn func() (any, error)) (any, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	result, err := c.pipeline.GetWithExecution(func(_ failsafe.Execution[any]) (any, error) {
		res, err := fn()
		return res, c.mapError(op, err)
	})
	if err != nil {
		c.logger.Error("Venue call failed", "operation", op, "error", err)
	}
	return result, err
}

// mapError translates venue API errors into the core sentinels.
func (c *Client) mapError(op string, err error) error {
	if err == nil {
		return nil
	}

	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		var mapped error
		switch apiErr.Code {
		case -1003:
			mapped = core.ErrRateLimited
		case -2010, -2019, -2022, -3005, -4003, -4014:
			mapped = core.ErrOrderRejected
		case -2013:
			mapped = core.ErrOrderNotFound
		case -4044:
			mapped = core.ErrPositionMissing
		default:
			return fmt.Errorf("%s: %w", op, err)
		}
		return fmt.Errorf("%s: %w: %v", op, mapped, err)
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %v", op, core.ErrNetwork, err)
}

func sideType(side core.Side) futures.SideType {
	if side == core.SideBuy {
		return futures.SideTypeBuy
	}
	return futures.SideTypeSell
}

func tifType(tif core.TimeInForce) futures.TimeInForceType {
	switch tif {
	case core.TIFImmediate:
		return futures.TimeInForceTypeIOC
	case core.TIFFillOrKill:
		return futures.TimeInForceTypeFOK
	case core.TIFPostOnly:
		return futures.TimeInForceTypeGTX
	default:
		return futures.TimeInForceTypeGTC
	}
}

func ackFromResponse(resp *futures.CreateOrderResponse) (*core.OrderAck, error) {
	status, err := core.ParseOrderStatus(string(resp.Status))
	if err != nil {
		return nil, err
	}
	return &core.OrderAck{
		OrderID:       resp.OrderID,
		ClientOrderID: resp.ClientOrderID,
		Symbol:        resp.Symbol,
		Status:        status,
	}, nil
}

// PlaceMarketOrder submits a market order.
func (c *Client) PlaceMarketOrder(ctx context.Context, symbol string, side core.Side, qty decimal.Decimal) (*core.OrderAck, error) {
	result, err := c.call(ctx, "PlaceMarketOrder", func() (any, error) {
		return c.futures.NewCreateOrderService().
			Symbol(symbol).
			Side(sideType(side)).
			Type(futures.OrderTypeMarket).
			Quantity(qty.String()).
			Do(ctx)
	})
	if err != nil {
		return nil, err
	}
	return ackFromResponse(result.(*futures.CreateOrderResponse))
}

// PlaceLimitOrder submits a limit order.
func (c *Client) PlaceLimitOrder(ctx context.Context, symbol string, side core.Side, qty, price decimal.Decimal, tif core.TimeInForce) (*core.OrderAck, error) {
	result, err := c.call(ctx, "PlaceLimitOrder", func() (any, error) {
		return c.futures.NewCreateOrderService().
			Symbol(symbol).
			Side(sideType(side)).
			Type(futures.OrderTypeLimit).
			Quantity(qty.String()).
			Price(price.String()).
			TimeInForce(tifType(tif)).
			Do(ctx)
	})
	if err != nil {
		return nil, err
	}
	return ackFromResponse(result.(*futures.CreateOrderResponse))
}

// PlaceStopMarketOrder submits a stop-market order used as a protective stop.
func (c *Client) PlaceStopMarketOrder(ctx context.Context, symbol string, side core.Side, qty, stopPrice decimal.Decimal) (*core.OrderAck, error) {
	result, err := c.call(ctx, "PlaceStopMarketOrder", func() (any, error) {
		return c.futures.NewCreateOrderService().
			Symbol(symbol).
			Side(sideType(side)).
			Type(futures.OrderTypeStopMarket).
			Quantity(qty.String()).
			StopPrice(stopPrice.String()).
			Do(ctx)
	})
	if err != nil {
		return nil, err
	}
	return ackFromResponse(result.(*futures.CreateOrderResponse))
}

// PlaceTakeProfitMarketOrder submits a take-profit-market order.
func (c *Client) PlaceTakeProfitMarketOrder(ctx context.Context, symbol string, side core.Side, qty, stopPrice decimal.Decimal) (*core.OrderAck, error) {
	result, err := c.call(ctx, "PlaceTakeProfitMarketOrder", func() (any, error) {
		return c.futures.NewCreateOrderService().
			Symbol(symbol).
			Side(sideType(side)).
			Type(futures.OrderTypeTakeProfitMarket).
			Quantity(qty.String()).
			StopPrice(stopPrice.String()).
			Do(ctx)
	})
	if err != nil {
		return nil, err
	}
	return ackFromResponse(result.(*futures.CreateOrderResponse))
}

// CancelOrder cancels a working order by venue id.
func (c *Client) CancelOrder(ctx context.Context, symbol string, orderID int64) error {
	_, err := c.call(ctx, "CancelOrder", func() (any, error) {
		return c.futures.NewCancelOrderService().
			Symbol(symbol).
			OrderID(orderID).
			Do(ctx)
	})
	return err
}

// Positions returns the venue's open positions for the symbol. Flat
// entries are filtered out.
func (c *Client) Positions(ctx context.Context, symbol string) ([]core.ExchangePosition, error) {
	result, err := c.call(ctx, "Positions", func() (any, error) {
		return c.futures.NewGetPositionRiskService().Symbol(symbol).Do(ctx)
	})
	if err != nil {
		return nil, err
	}

	var positions []core.ExchangePosition
	for _, pos := range result.([]*futures.PositionRisk) {
		qty, err := decimal.NewFromString(pos.PositionAmt)
		if err != nil {
			return nil, fmt.Errorf("%w: position amount %q: %v", core.ErrDecode, pos.PositionAmt, err)
		}
		if qty.IsZero() {
			continue
		}
		entry, err := decimal.NewFromString(pos.EntryPrice)
		if err != nil {
			return nil, fmt.Errorf("%w: entry price %q: %v", core.ErrDecode, pos.EntryPrice, err)
		}
		unrealized, err := decimal.NewFromString(pos.UnRealizedProfit)
		if err != nil {
			return nil, fmt.Errorf("%w: unrealized profit %q: %v", core.ErrDecode, pos.UnRealizedProfit, err)
		}
		positions = append(positions, core.ExchangePosition{
			Symbol:     pos.Symbol,
			Qty:        qty,
			EntryPrice: entry,
			Unrealized: unrealized,
		})
	}
	return positions, nil
}

// AvailableBalance returns the free USDT margin balance.
func (c *Client) AvailableBalance(ctx context.Context) (decimal.Decimal, error) {
	result, err := c.call(ctx, "AvailableBalance", func() (any, error) {
		return c.futures.NewGetBalanceService().Do(ctx)
	})
	if err != nil {
		return decimal.Zero, err
	}

	for _, bal := range result.([]*futures.Balance) {
		if bal.Asset != "USDT" {
			continue
		}
		avail, err := decimal.NewFromString(bal.AvailableBalance)
		if err != nil {
			return decimal.Zero, fmt.Errorf("%w: balance %q: %v", core.ErrDecode, bal.AvailableBalance, err)
		}
		return avail, nil
	}
	return decimal.Zero, nil
}

// HistoricalKlines fetches up to limit closed candles, oldest first.
func (c *Client) HistoricalKlines(ctx context.Context, symbol, interval string, limit int) ([]core.Kline, error) {
	result, err := c.call(ctx, "HistoricalKlines", func() (any, error) {
		return c.futures.NewKlinesService().
			Symbol(symbol).
			Interval(interval).
			Limit(limit).
			Do(ctx)
	})
	if err != nil {
		return nil, err
	}

	raw := result.([]*futures.Kline)
	klines := make([]core.Kline, 0, len(raw))
	for _, k := range raw {
		kline, err := klineFromREST(k, symbol, interval)
		if err != nil {
			return nil, err
		}
		klines = append(klines, kline)
	}
	return klines, nil
}

func klineFromREST(k *futures.Kline, symbol, interval string) (core.Kline, error) {
	parse := func(name, s string) (float64, error) {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: kline %s %q: %v", core.ErrDecode, name, s, err)
		}
		return f, nil
	}

	var (
		kline = core.Kline{
			Symbol:    symbol,
			Interval:  interval,
			StartTime: k.OpenTime,
			EndTime:   k.CloseTime,
			IsClosed:  true,
		}
		err error
	)
	if kline.Open, err = parse("open", k.Open); err != nil {
		return core.Kline{}, err
	}
	if kline.High, err = parse("high", k.High); err != nil {
		return core.Kline{}, err
	}
	if kline.Low, err = parse("low", k.Low); err != nil {
		return core.Kline{}, err
	}
	if kline.Close, err = parse("close", k.Close); err != nil {
		return core.Kline{}, err
	}
	if kline.Volume, err = parse("volume", k.Volume); err != nil {
		return core.Kline{}, err
	}
	return kline, nil
}

// StartUserStream opens a user-data stream and returns its listen key.
func (c *Client) StartUserStream(ctx context.Context) (string, error) {
	result, err := c.call(ctx, "StartUserStream", func() (any, error) {
		return c.futures.NewStartUserStreamService().Do(ctx)
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

// KeepAliveUserStream extends the listen key's lifetime.
func (c *Client) KeepAliveUserStream(ctx context.Context, listenKey string) error {
	_, err := c.call(ctx, "KeepAliveUserStream", func() (any, error) {
		return nil, c.futures.NewKeepaliveUserStreamService().ListenKey(listenKey).Do(ctx)
	})
	return err
}

// CloseUserStream closes the user-data stream.
func (c *Client) CloseUserStream(ctx context.Context, listenKey string) error {
	_, err := c.call(ctx, "CloseUserStream", func() (any, error) {
		return nil, c.futures.NewCloseUserStreamService().ListenKey(listenKey).Do(ctx)
	})
	return err
}
