package gateway

import (
	"context"
	"encoding/json"
	"fmt"

	"futuresbot/internal/bus"
	"futuresbot/internal/core"
	"futuresbot/internal/telemetry"
)

// APIResponder serves venue commands sent over the bus. Other workers
// never talk to the venue directly; everything funnels through here.
type APIResponder struct {
	exchange core.Exchange
	logger   core.Logger
}

// NewAPIResponder creates the responder for the venue command topics.
func NewAPIResponder(exchange core.Exchange, logger core.Logger) *APIResponder {
	return &APIResponder{
		exchange: exchange,
		logger:   logger.WithField("component", "api_responder"),
	}
}

// Register binds all venue topics on the responder.
func (a *APIResponder) Register(ctx context.Context, responder *bus.Responder) error {
	handlers := map[string]bus.Handler{
		bus.TopicPlaceOrder:     a.handlePlaceOrder,
		bus.TopicPositions:      a.handlePositions,
		bus.TopicAccountBalance: a.handleAccountBalance,
		bus.TopicClosePosition:  a.handleClosePosition,
	}
	for topic, handler := range handlers {
		if err := responder.Handle(ctx, topic, handler); err != nil {
			return fmt.Errorf("register %s: %w", topic, err)
		}
	}
	return nil
}

func (a *APIResponder) handlePlaceOrder(ctx context.Context, env *bus.Envelope) (interface{}, error) {
	var req core.PlaceOrderRequest
	if err := json.Unmarshal(env.Value, &req); err != nil {
		return nil, fmt.Errorf("%w: place order request: %v", core.ErrDecode, err)
	}

	var (
		ack *core.OrderAck
		err error
	)
	switch req.OrderType {
	case core.TypeMarket:
		ack, err = a.exchange.PlaceMarketOrder(ctx, req.Symbol, req.Side, req.Qty)
	case core.TypeLimit:
		ack, err = a.exchange.PlaceLimitOrder(ctx, req.Symbol, req.Side, req.Qty, req.Price, req.TIF)
	case core.TypeStopMarket:
		ack, err = a.exchange.PlaceStopMarketOrder(ctx, req.Symbol, req.Side, req.Qty, req.StopPrice)
	case core.TypeTakeProfitMarket:
		ack, err = a.exchange.PlaceTakeProfitMarketOrder(ctx, req.Symbol, req.Side, req.Qty, req.StopPrice)
	default:
		err = fmt.Errorf("%w: order type %q", core.ErrUnknownEnum, req.OrderType)
	}

	if err != nil {
		a.logger.Error("Order placement failed", "symbol", req.Symbol, "side", req.Side, "error", err)
		return core.PlaceOrderResponse{Err: err.Error()}, nil
	}

	if c := telemetry.GetGlobalMetrics().OrdersPlacedTotal; c != nil {
		c.Add(ctx, 1)
	}
	a.logger.Info("Order placed",
		"symbol", ack.Symbol, "order_id", ack.OrderID, "side", req.Side,
		"type", req.OrderType, "qty", req.Qty, "status", ack.Status)

	return core.PlaceOrderResponse{
		OrderID:       ack.OrderID,
		ClientOrderID: ack.ClientOrderID,
		Status:        ack.Status,
	}, nil
}

func (a *APIResponder) handlePositions(ctx context.Context, env *bus.Envelope) (interface{}, error) {
	var req core.PositionsRequest
	if err := json.Unmarshal(env.Value, &req); err != nil {
		return nil, fmt.Errorf("%w: positions request: %v", core.ErrDecode, err)
	}

	positions, err := a.exchange.Positions(ctx, req.Symbol)
	if err != nil {
		return core.PositionsResponse{Err: err.Error()}, nil
	}
	return core.PositionsResponse{Positions: positions}, nil
}

func (a *APIResponder) handleAccountBalance(ctx context.Context, _ *bus.Envelope) (interface{}, error) {
	balance, err := a.exchange.AvailableBalance(ctx)
	if err != nil {
		return core.AccountBalanceResponse{Err: err.Error()}, nil
	}
	return core.AccountBalanceResponse{Balance: balance}, nil
}

// handleClosePosition flattens every open position on the symbol with
// opposing market orders.
func (a *APIResponder) handleClosePosition(ctx context.Context, env *bus.Envelope) (interface{}, error) {
	var req core.ClosePositionRequest
	if err := json.Unmarshal(env.Value, &req); err != nil {
		return nil, fmt.Errorf("%w: close position request: %v", core.ErrDecode, err)
	}

	positions, err := a.exchange.Positions(ctx, req.Symbol)
	if err != nil {
		return core.ClosePositionResponse{Err: err.Error()}, nil
	}

	var closed []core.ExchangePosition
	for _, pos := range positions {
		side := core.SideSell
		if pos.Qty.IsNegative() {
			side = core.SideBuy
		}
		if _, err := a.exchange.PlaceMarketOrder(ctx, pos.Symbol, side, pos.Qty.Abs()); err != nil {
			a.logger.Error("Failed to flatten position", "symbol", pos.Symbol, "qty", pos.Qty, "error", err)
			return core.ClosePositionResponse{Closed: closed, Err: err.Error()}, nil
		}
		a.logger.Warn("Position flattened", "symbol", pos.Symbol, "qty", pos.Qty)
		closed = append(closed, pos)
	}
	return core.ClosePositionResponse{Closed: closed}, nil
}
