// Package portfolio tracks positions, realized and unrealized PnL, and
// commissions from the execution stream.
package portfolio

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"futuresbot/internal/bus"
	"futuresbot/internal/core"
	"futuresbot/internal/telemetry"

	"github.com/shopspring/decimal"
)

// dedupCapacity bounds the fill-key memory. Old keys age out in
// insertion order.
const dedupCapacity = 10_000

type fillKey struct {
	OrderID     int64
	LastQty     string
	TradeTimeMs int64
}

// Manager is the portfolio bookkeeper. Fills and prices mutate state
// under one lock; the stats responder reads the same state.
type Manager struct {
	symbol   string
	broker   bus.Broker
	channels bus.Channels
	logger   core.Logger

	mu               sync.Mutex
	positions        map[string]core.Position
	unrealizedPnl    map[string]decimal.Decimal
	lastMarketPrice  map[string]*core.MarketPrice
	realizedPnl      decimal.Decimal
	totalCommissions decimal.Decimal
	initialCash      decimal.Decimal

	seen      map[fillKey]struct{}
	seenOrder []fillKey
}

// NewManager creates an empty portfolio for one deployment.
func NewManager(symbol string, broker bus.Broker, channels bus.Channels, logger core.Logger) *Manager {
	return &Manager{
		symbol:          symbol,
		broker:          broker,
		channels:        channels,
		logger:          logger.WithField("component", "portfolio_manager"),
		positions:       make(map[string]core.Position),
		unrealizedPnl:   make(map[string]decimal.Decimal),
		lastMarketPrice: make(map[string]*core.MarketPrice),
		seen:            make(map[fillKey]struct{}),
	}
}

// SetInitialCash seeds the cash balance, typically from the venue's
// available balance at startup.
func (m *Manager) SetInitialCash(cash decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.initialCash = cash
}

// Run consumes execution and order book updates and serves stats
// requests until ctx ends.
func (m *Manager) Run(ctx context.Context, responder *bus.Responder) error {
	fillSub, err := m.broker.Subscribe(ctx, m.channels.Execution(m.symbol))
	if err != nil {
		return err
	}
	defer fillSub.Close()

	bookSub, err := m.broker.Subscribe(ctx, m.channels.OrderBook(m.symbol))
	if err != nil {
		return err
	}
	defer bookSub.Close()

	if err := responder.Handle(ctx, bus.TopicPortfolioStats, m.handleStats); err != nil {
		return err
	}

	m.logger.Info("Portfolio manager started", "symbol", m.symbol)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case env, ok := <-fillSub.C():
			if !ok {
				return nil
			}
			m.onExecutionPayload(ctx, env.Value)
		case env, ok := <-bookSub.C():
			if !ok {
				return nil
			}
			m.onOrderBookPayload(env.Value)
		}
	}
}

func (m *Manager) onExecutionPayload(ctx context.Context, payload []byte) {
	var evt core.OrderEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		m.logger.Warn("Skipping undecodable execution update", "error", err)
		return
	}
	m.ApplyFill(ctx, &evt)
}

func (m *Manager) onOrderBookPayload(payload []byte) {
	var book core.OrderBook
	if err := json.Unmarshal(payload, &book); err != nil {
		m.logger.Warn("Skipping undecodable order book", "error", err)
		return
	}
	m.OnOrderBook(&book)
}

// ApplyFill applies one execution event to the portfolio. Non-fill
// events and duplicates are no-ops, so replaying the stream is safe.
func (m *Manager) ApplyFill(ctx context.Context, evt *core.OrderEvent) {
	if !evt.IsFill() {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := fillKey{OrderID: evt.OrderID, LastQty: evt.LastQty.String(), TradeTimeMs: evt.TradeTimeMs}
	if _, dup := m.seen[key]; dup {
		m.logger.Debug("Duplicate fill ignored", "order_id", evt.OrderID, "trade_time_ms", evt.TradeTimeMs)
		return
	}
	m.remember(key)

	m.totalCommissions = m.totalCommissions.Add(evt.Commission)

	filledQty := evt.LastQty
	if evt.Side == core.SideSell {
		filledQty = filledQty.Neg()
	}
	filledPrice := evt.LastPrice

	symbol := evt.Symbol
	position := m.applyToPosition(m.positions[symbol], filledQty, filledPrice)
	m.positions[symbol] = position

	m.logger.Info("Fill applied",
		"symbol", symbol, "order_id", evt.OrderID,
		"qty", filledQty, "price", filledPrice,
		"position_qty", position.Qty, "avg_price", position.AvgPrice,
		"realized_pnl", m.realizedPnl)

	if c := telemetry.GetGlobalMetrics().FillsAppliedTotal; c != nil {
		c.Add(ctx, 1)
	}
	m.publishGauges(symbol)
	m.recomputeUnrealized(symbol)
}

// applyToPosition folds a signed fill into the position and accrues
// realized PnL. Caller holds the lock.
func (m *Manager) applyToPosition(current core.Position, filledQty, filledPrice decimal.Decimal) core.Position {
	if current.Qty.IsZero() || current.AvgPrice.IsZero() {
		return core.Position{Qty: filledQty, AvgPrice: filledPrice}
	}

	sameSign := current.Qty.Sign() == filledQty.Sign()
	if sameSign {
		// scale in: size-weighted average entry
		absCur := current.Qty.Abs()
		absFill := filledQty.Abs()
		notional := absCur.Mul(current.AvgPrice).Add(absFill.Mul(filledPrice))
		newQty := current.Qty.Add(filledQty)
		return core.Position{
			Qty:      newQty,
			AvgPrice: notional.Div(newQty.Abs()),
		}
	}

	// closing trade: realize PnL on the overlap
	closeQty := decimal.Min(current.Qty.Abs(), filledQty.Abs())
	var perUnit decimal.Decimal
	if current.Qty.Sign() > 0 {
		perUnit = filledPrice.Sub(current.AvgPrice)
	} else {
		perUnit = current.AvgPrice.Sub(filledPrice)
	}
	m.realizedPnl = m.realizedPnl.Add(perUnit.Mul(closeQty))

	newQty := current.Qty.Add(filledQty)
	switch {
	case newQty.IsZero():
		return core.Position{}
	case filledQty.Abs().LessThan(current.Qty.Abs()):
		// partial close keeps the entry price
		return core.Position{Qty: newQty, AvgPrice: current.AvgPrice}
	default:
		// reversal: the residue was opened at the fill price
		return core.Position{Qty: newQty, AvgPrice: filledPrice}
	}
}

// OnOrderBook records the top of book and marks the position to market.
func (m *Manager) OnOrderBook(book *core.OrderBook) {
	symbol := book.ContractName
	if symbol == "" {
		m.logger.Warn("Order book without symbol ignored")
		return
	}

	bid, _ := book.BestBid()
	ask, _ := book.BestAsk()

	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastMarketPrice[symbol] = &core.MarketPrice{BestBid: bid, BestAsk: ask}
	m.recomputeUnrealized(symbol)
	m.publishGauges(symbol)
}

// recomputeUnrealized marks one symbol to market. Longs mark against
// the bid, shorts against the ask. Caller holds the lock.
func (m *Manager) recomputeUnrealized(symbol string) {
	position, ok := m.positions[symbol]
	if !ok {
		return
	}
	if position.IsFlat() {
		m.unrealizedPnl[symbol] = decimal.Zero
		return
	}

	price, ok := m.lastMarketPrice[symbol]
	if !ok {
		return
	}

	if position.Qty.Sign() > 0 {
		if !price.BestBid.IsZero() {
			m.unrealizedPnl[symbol] = position.Qty.Mul(price.BestBid.Sub(position.AvgPrice))
		}
		return
	}
	if !price.BestAsk.IsZero() {
		m.unrealizedPnl[symbol] = position.Qty.Abs().Mul(position.AvgPrice.Sub(price.BestAsk))
	}
}

func (m *Manager) publishGauges(symbol string) {
	metrics := telemetry.GetGlobalMetrics()
	if upnl, ok := m.unrealizedPnl[symbol]; ok {
		f, _ := upnl.Float64()
		metrics.SetUnrealizedPnL(symbol, f)
	}
	qty, _ := m.positions[symbol].Qty.Float64()
	metrics.SetPositionSize(symbol, qty)
}

func (m *Manager) remember(key fillKey) {
	m.seen[key] = struct{}{}
	m.seenOrder = append(m.seenOrder, key)
	if len(m.seenOrder) > dedupCapacity {
		oldest := m.seenOrder[0]
		m.seenOrder = m.seenOrder[1:]
		delete(m.seen, oldest)
	}
}

// Stats snapshots the portfolio view for one symbol.
func (m *Manager) Stats(symbol string) core.StatsResponse {
	m.mu.Lock()
	defer m.mu.Unlock()

	position := m.positions[symbol]
	unrealized := m.unrealizedPnl[symbol]

	totalUnrealized := decimal.Zero
	for _, v := range m.unrealizedPnl {
		totalUnrealized = totalUnrealized.Add(v)
	}

	return core.StatsResponse{
		Position:         position,
		UnrealizedPnl:    unrealized,
		LastMarketPrice:  m.lastMarketPrice[symbol],
		RealizedPnl:      m.realizedPnl,
		TotalCommissions: m.totalCommissions,
		TotalPnl:         m.realizedPnl.Add(totalUnrealized),
		CashBalance:      m.initialCash.Add(m.realizedPnl).Sub(m.totalCommissions),
		AveragePrice:     position.AvgPrice,
	}
}

// RealizedPnl returns the realized PnL accrued so far.
func (m *Manager) RealizedPnl() decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.realizedPnl
}

func (m *Manager) handleStats(_ context.Context, env *bus.Envelope) (interface{}, error) {
	var req core.StatsRequest
	if err := json.Unmarshal(env.Value, &req); err != nil {
		return nil, fmt.Errorf("%w: stats request: %v", core.ErrDecode, err)
	}
	if req.Symbol == "" {
		req.Symbol = m.symbol
	}
	return m.Stats(req.Symbol), nil
}
