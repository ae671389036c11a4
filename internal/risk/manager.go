package risk

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"futuresbot/internal/bus"
	"futuresbot/internal/core"

	"github.com/shopspring/decimal"
)

const (
	defaultWatchdogInterval = 30 * time.Second

	// midHistorySize bounds the mid-price memory.
	midHistorySize = 500

	// qtyPrecision is the venue's contract quantity step.
	qtyPrecision = 3
)

// Caller issues request/response calls over the bus.
type Caller interface {
	Call(ctx context.Context, topic string, request, out interface{}) error
}

// Guard is the circuit breaker surface the risk manager needs.
type Guard interface {
	AllowRequest(ctx context.Context) (bool, error)
	ForceOpen(ctx context.Context, reason string) error
}

// Config holds the risk manager's thresholds.
type Config struct {
	Symbol              string
	MaxRiskPerTradePct  float64
	MaxExposurePct      float64
	MaxRelativeDrawdown float64
	MaxAbsoluteDrawdown float64
	ATRPeriod           int
	Tiers               Tiers
	WatchdogInterval    time.Duration
}

// Manager accepts or rejects strategy signals, manages the TP/SL
// bracket, and watches portfolio drawdown. Orders go through the bus;
// the manager never talks to the venue directly.
type Manager struct {
	cfg      Config
	broker   bus.Broker
	channels bus.Channels
	caller   Caller
	guard    Guard
	logger   core.Logger

	atr     *ATR
	bracket *Bracket

	mu       sync.Mutex
	mids     []float64
	nextMid  int
	midCount int

	emergency atomic.Bool

	ddInitialized bool
	initialValue  float64
	peakValue     float64
}

// NewManager creates the risk manager worker.
func NewManager(cfg Config, broker bus.Broker, channels bus.Channels, caller Caller, guard Guard, logger core.Logger) *Manager {
	if cfg.WatchdogInterval <= 0 {
		cfg.WatchdogInterval = defaultWatchdogInterval
	}
	return &Manager{
		cfg:      cfg,
		broker:   broker,
		channels: channels,
		caller:   caller,
		guard:    guard,
		logger:   logger.WithField("component", "risk_manager").WithField("symbol", cfg.Symbol),
		atr:      NewATR(cfg.ATRPeriod),
		bracket:  NewBracket(cfg.Tiers),
		mids:     make([]float64, midHistorySize),
	}
}

// Run consumes market data and signals until ctx ends. The drawdown
// watchdog runs alongside and exits on its own after a breach.
func (m *Manager) Run(ctx context.Context) error {
	bookSub, err := m.broker.Subscribe(ctx, m.channels.OrderBook(m.cfg.Symbol))
	if err != nil {
		return err
	}
	defer bookSub.Close()

	candleSub, err := m.broker.Subscribe(ctx, m.channels.Candlestick(m.cfg.Symbol))
	if err != nil {
		return err
	}
	defer candleSub.Close()

	signalSub, err := m.broker.Subscribe(ctx, m.channels.Signal())
	if err != nil {
		return err
	}
	defer signalSub.Close()

	go m.watchdog(ctx)

	m.logger.Info("Risk manager started",
		"max_risk_per_trade_pct", m.cfg.MaxRiskPerTradePct,
		"max_exposure_pct", m.cfg.MaxExposurePct,
		"atr_period", m.cfg.ATRPeriod)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case env, ok := <-bookSub.C():
			if !ok {
				return nil
			}
			m.onOrderBookPayload(env.Value)
		case env, ok := <-candleSub.C():
			if !ok {
				return nil
			}
			m.onCandlePayload(env.Value)
		case env, ok := <-signalSub.C():
			if !ok {
				return nil
			}
			m.onSignalPayload(ctx, env.Value)
		}
	}
}

func (m *Manager) onOrderBookPayload(payload []byte) {
	var book core.OrderBook
	if err := json.Unmarshal(payload, &book); err != nil {
		m.logger.Warn("Skipping undecodable order book", "error", err)
		return
	}
	mid, ok := book.MidPrice()
	if !ok {
		return
	}
	m.mu.Lock()
	m.mids[m.nextMid] = mid
	m.nextMid = (m.nextMid + 1) % midHistorySize
	if m.midCount < midHistorySize {
		m.midCount++
	}
	m.mu.Unlock()
}

func (m *Manager) onCandlePayload(payload []byte) {
	var kline core.Kline
	if err := json.Unmarshal(payload, &kline); err != nil {
		m.logger.Warn("Skipping undecodable candle", "error", err)
		return
	}
	if !kline.IsClosed {
		return
	}
	m.atr.Update(kline.High, kline.Low, kline.Close)
}

func (m *Manager) onSignalPayload(ctx context.Context, payload []byte) {
	var evt core.SignalEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		m.logger.Warn("Skipping undecodable signal", "error", err)
		return
	}
	m.OnSignal(ctx, &evt)
}

// midPrice returns the most recent order book mid, or false before the
// first book arrives.
func (m *Manager) midPrice() (float64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.midCount == 0 {
		return 0, false
	}
	last := (m.nextMid - 1 + midHistorySize) % midHistorySize
	return m.mids[last], true
}

// OnSignal runs the acceptance decision for one strategy signal.
func (m *Manager) OnSignal(ctx context.Context, evt *core.SignalEvent) {
	if m.emergency.Load() {
		m.logger.Warn("Signal ignored, emergency shutdown active", "signal", evt.Signal)
		return
	}
	allowed, err := m.guard.AllowRequest(ctx)
	if err != nil {
		m.logger.Error("Breaker check failed", "error", err)
		return
	}
	if !allowed {
		m.logger.Warn("Signal ignored, circuit breaker open", "signal", evt.Signal)
		return
	}

	var stats core.StatsResponse
	if err := m.caller.Call(ctx, bus.TopicPortfolioStats, core.StatsRequest{Symbol: evt.Symbol}, &stats); err != nil {
		m.logger.Error("Failed to fetch portfolio stats", "error", err)
		return
	}
	mid, ok := m.midPrice()
	if !ok {
		m.logger.Warn("Signal ignored, mid price unknown", "signal", evt.Signal)
		return
	}

	qty, _ := stats.Position.Qty.Float64()
	entry, _ := stats.Position.AvgPrice.Float64()
	unrealized, _ := stats.UnrealizedPnl.Float64()
	atr, _ := m.atr.Value()

	report := m.bracket.Manage(qty, entry, mid, unrealized, atr)
	if report.Hit {
		m.logger.Info("Bracket level hit",
			"stop_loss", report.StopLoss, "take_profit", report.TakeProfit,
			"r_multiple", report.RMultiple, "pnl_pct", report.PnlPct)
	}

	cash, _ := stats.CashBalance.Float64()
	exposure := math.Abs(qty * mid)
	maxExposure := (cash + unrealized) * m.cfg.MaxExposurePct

	switch evt.Signal {
	case core.SignalBuy:
		m.onDirectionalSignal(ctx, evt.Symbol, core.SideBuy, qty, mid, atr, report, exposure, maxExposure)
	case core.SignalSell:
		m.onDirectionalSignal(ctx, evt.Symbol, core.SideSell, -qty, mid, atr, report, exposure, maxExposure)
	default:
		// Hold manages the bracket only
	}
}

// onDirectionalSignal handles Buy and Sell symmetrically: alignedQty is
// the position quantity signed so that positive means the position
// already agrees with the signal.
func (m *Manager) onDirectionalSignal(ctx context.Context, symbol string, side core.Side, alignedQty, mid, atr float64, report BracketReport, exposure, maxExposure float64) {
	switch {
	case alignedQty == 0:
		m.openPosition(ctx, symbol, side, mid, atr)
	case alignedQty > 0:
		// position agrees with the signal
		if report.Hit {
			m.flatten(ctx, symbol, alignedQty, side.Opposite())
			return
		}
		if exposure < maxExposure {
			m.openPosition(ctx, symbol, side, mid, atr)
			return
		}
		m.logger.Info("Signal ignored, exposure cap reached",
			"exposure", exposure, "max_exposure", maxExposure)
	default:
		// opposite position: close on a bracket hit, never auto-reverse
		if report.Hit {
			m.flatten(ctx, symbol, -alignedQty, side)
		}
	}
}

func (m *Manager) openPosition(ctx context.Context, symbol string, side core.Side, mid, atr float64) {
	size := PositionSize(mid, atr, m.cfg.MaxRiskPerTradePct)
	qty := decimal.NewFromFloat(size).Round(qtyPrecision)
	if qty.IsZero() {
		m.logger.Warn("Signal unsized, skipping order", "mid", mid, "atr", atr)
		return
	}
	m.placeMarket(ctx, symbol, side, qty)
}

func (m *Manager) flatten(ctx context.Context, symbol string, absQty float64, side core.Side) {
	qty := decimal.NewFromFloat(absQty).Abs().Round(qtyPrecision)
	if qty.IsZero() {
		return
	}
	m.bracket.Reset()
	m.placeMarket(ctx, symbol, side, qty)
}

func (m *Manager) placeMarket(ctx context.Context, symbol string, side core.Side, qty decimal.Decimal) {
	req := core.PlaceOrderRequest{
		Symbol:    symbol,
		Side:      side,
		OrderType: core.TypeMarket,
		Qty:       qty,
	}
	var resp core.PlaceOrderResponse
	if err := m.caller.Call(ctx, bus.TopicPlaceOrder, req, &resp); err != nil {
		m.logger.Error("Order request failed", "side", side, "qty", qty, "error", err)
		return
	}
	if resp.Err != "" {
		m.logger.Error("Order rejected", "side", side, "qty", qty, "error", resp.Err)
		return
	}
	m.logger.Info("Order submitted", "side", side, "qty", qty, "order_id", resp.OrderID)
}

// watchdog samples the portfolio value and trips the breaker on a
// drawdown breach. After a breach it liquidates and exits; the breaker
// callback is what brings the process down.
func (m *Manager) watchdog(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.WatchdogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			value, err := m.portfolioValue(ctx)
			if err != nil {
				m.logger.Warn("Drawdown check skipped", "error", err)
				continue
			}
			breached, reason := m.observeValue(value)
			if !breached {
				continue
			}
			m.logger.Error("Drawdown limit breached", "reason", reason)
			if err := m.EmergencyLiquidation(ctx, reason); err != nil {
				m.logger.Error("Emergency liquidation failed", "error", err)
			}
			if err := m.guard.ForceOpen(ctx, reason); err != nil {
				m.logger.Error("Failed to open circuit breaker", "error", err)
			}
			return
		}
	}
}

// observeValue folds one portfolio value sample into the drawdown
// state and reports a threshold breach. The first sample establishes
// the baseline.
func (m *Manager) observeValue(value float64) (bool, string) {
	if !m.ddInitialized {
		m.initialValue = value
		m.peakValue = value
		m.ddInitialized = true
		m.logger.Info("Drawdown baseline established", "portfolio_value", value)
		return false, ""
	}

	if value > m.peakValue {
		m.peakValue = value
	}

	if m.peakValue > 0 {
		relative := (m.peakValue - value) / m.peakValue
		if relative >= m.cfg.MaxRelativeDrawdown {
			return true, fmt.Sprintf("relative drawdown %.2f%% breached limit %.2f%%",
				relative*100, m.cfg.MaxRelativeDrawdown*100)
		}
	}
	if m.initialValue > 0 {
		absolute := (m.initialValue - value) / m.initialValue
		if absolute >= m.cfg.MaxAbsoluteDrawdown {
			return true, fmt.Sprintf("absolute drawdown %.2f%% breached limit %.2f%%",
				absolute*100, m.cfg.MaxAbsoluteDrawdown*100)
		}
	}
	return false, ""
}

// portfolioValue fetches cash plus unrealized PnL from the venue.
func (m *Manager) portfolioValue(ctx context.Context) (float64, error) {
	var balance core.AccountBalanceResponse
	if err := m.caller.Call(ctx, bus.TopicAccountBalance, struct{}{}, &balance); err != nil {
		return 0, err
	}
	if balance.Err != "" {
		return 0, fmt.Errorf("account balance: %s", balance.Err)
	}

	var positions core.PositionsResponse
	if err := m.caller.Call(ctx, bus.TopicPositions, core.PositionsRequest{Symbol: m.cfg.Symbol}, &positions); err != nil {
		return 0, err
	}
	if positions.Err != "" {
		return 0, fmt.Errorf("positions: %s", positions.Err)
	}

	value := balance.Balance
	for _, pos := range positions.Positions {
		value = value.Add(pos.Unrealized)
	}
	f, _ := value.Float64()
	return f, nil
}

// EmergencyLiquidation flattens every open position with market orders.
// Only the first call acts; repeats are no-ops. Failures are logged and
// do not clear the emergency flag.
func (m *Manager) EmergencyLiquidation(ctx context.Context, reason string) error {
	if !m.emergency.CompareAndSwap(false, true) {
		m.logger.Warn("Emergency liquidation already performed")
		return nil
	}
	m.logger.Error("EMERGENCY LIQUIDATION", "reason", reason)

	var positions core.PositionsResponse
	if err := m.caller.Call(ctx, bus.TopicPositions, core.PositionsRequest{Symbol: m.cfg.Symbol}, &positions); err != nil {
		return fmt.Errorf("fetch positions for liquidation: %w", err)
	}
	if positions.Err != "" {
		return fmt.Errorf("fetch positions for liquidation: %s", positions.Err)
	}

	for _, pos := range positions.Positions {
		if pos.Qty.IsZero() {
			continue
		}
		side := core.SideSell
		if pos.Qty.IsNegative() {
			side = core.SideBuy
		}
		req := core.PlaceOrderRequest{
			Symbol:    pos.Symbol,
			Side:      side,
			OrderType: core.TypeMarket,
			Qty:       pos.Qty.Abs(),
		}
		var resp core.PlaceOrderResponse
		if err := m.caller.Call(ctx, bus.TopicPlaceOrder, req, &resp); err != nil {
			m.logger.Error("Liquidation order failed", "symbol", pos.Symbol, "qty", pos.Qty, "error", err)
			continue
		}
		if resp.Err != "" {
			m.logger.Error("Liquidation order rejected", "symbol", pos.Symbol, "qty", pos.Qty, "error", resp.Err)
			continue
		}
		m.logger.Warn("Position liquidated", "symbol", pos.Symbol, "qty", pos.Qty, "order_id", resp.OrderID)
	}
	return nil
}

// EmergencyActive reports whether liquidation has run.
func (m *Manager) EmergencyActive() bool {
	return m.emergency.Load()
}
