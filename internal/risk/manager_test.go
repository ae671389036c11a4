package risk

import (
	"context"
	"sync"
	"testing"

	"futuresbot/internal/bus"
	"futuresbot/internal/core"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"futuresbot/pkg/logging"
)

// stubCaller answers bus requests from canned data and records orders.
type stubCaller struct {
	mu        sync.Mutex
	stats     core.StatsResponse
	positions []core.ExchangePosition
	balance   decimal.Decimal
	orders    []core.PlaceOrderRequest
	calls     []string
}

func (s *stubCaller) Call(_ context.Context, topic string, request, out interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, topic)

	switch topic {
	case bus.TopicPortfolioStats:
		*out.(*core.StatsResponse) = s.stats
	case bus.TopicPositions:
		*out.(*core.PositionsResponse) = core.PositionsResponse{Positions: s.positions}
	case bus.TopicAccountBalance:
		*out.(*core.AccountBalanceResponse) = core.AccountBalanceResponse{Balance: s.balance}
	case bus.TopicPlaceOrder:
		s.orders = append(s.orders, request.(core.PlaceOrderRequest))
		*out.(*core.PlaceOrderResponse) = core.PlaceOrderResponse{OrderID: int64(len(s.orders)), Status: core.StatusNew}
	}
	return nil
}

func (s *stubCaller) placedOrders() []core.PlaceOrderRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.PlaceOrderRequest(nil), s.orders...)
}

type stubGuard struct {
	allow  bool
	forced []string
}

func (g *stubGuard) AllowRequest(context.Context) (bool, error) { return g.allow, nil }
func (g *stubGuard) ForceOpen(_ context.Context, reason string) error {
	g.forced = append(g.forced, reason)
	return nil
}

func testRiskConfig() Config {
	return Config{
		Symbol:              "BTCUSDT",
		MaxRiskPerTradePct:  0.02,
		MaxExposurePct:      0.5,
		MaxRelativeDrawdown: 0.05,
		MaxAbsoluteDrawdown: 0.10,
		ATRPeriod:           2,
		Tiers:               testTiers(),
	}
}

func newTestManager(t *testing.T, cfg Config, caller *stubCaller, guard *stubGuard) *Manager {
	t.Helper()
	broker := bus.NewMemoryBroker()
	t.Cleanup(func() { broker.Close() })
	return NewManager(cfg, broker, bus.NewChannels("test"), caller, guard, logging.NewNop())
}

func flatStats(cash float64) core.StatsResponse {
	return core.StatsResponse{CashBalance: decimal.NewFromFloat(cash)}
}

// warm pushes two candles with range 2 so the ATR reads 2, and one
// order book with the given mid.
func warm(m *Manager, mid float64) {
	m.atr.Update(mid+1, mid-1, mid)
	m.atr.Update(mid+1, mid-1, mid)
	m.mids[0] = mid
	m.nextMid = 1
	m.midCount = 1
}

func TestBuySignalWhenFlatPlacesSizedMarketOrder(t *testing.T) {
	caller := &stubCaller{stats: flatStats(10000)}
	guard := &stubGuard{allow: true}
	m := newTestManager(t, testRiskConfig(), caller, guard)
	warm(m, 100)

	m.OnSignal(context.Background(), &core.SignalEvent{Signal: core.SignalBuy, Symbol: "BTCUSDT"})

	orders := caller.placedOrders()
	require.Len(t, orders, 1)
	assert.Equal(t, core.SideBuy, orders[0].Side)
	assert.Equal(t, core.TypeMarket, orders[0].OrderType)
	// (100 * 0.02 / 2) / 1000 = 0.001
	assert.True(t, orders[0].Qty.Equal(decimal.NewFromFloat(0.001)), "qty %s", orders[0].Qty)
}

func TestSignalIgnoredWhileBreakerOpen(t *testing.T) {
	caller := &stubCaller{stats: flatStats(10000)}
	guard := &stubGuard{allow: false}
	m := newTestManager(t, testRiskConfig(), caller, guard)
	warm(m, 100)

	m.OnSignal(context.Background(), &core.SignalEvent{Signal: core.SignalBuy, Symbol: "BTCUSDT"})
	assert.Empty(t, caller.placedOrders())
	assert.Empty(t, caller.calls, "no bus traffic while the breaker is open")
}

func TestSignalIgnoredWithoutMidPrice(t *testing.T) {
	caller := &stubCaller{stats: flatStats(10000)}
	m := newTestManager(t, testRiskConfig(), caller, &stubGuard{allow: true})
	m.atr.Update(101, 99, 100)
	m.atr.Update(101, 99, 100)

	m.OnSignal(context.Background(), &core.SignalEvent{Signal: core.SignalBuy, Symbol: "BTCUSDT"})
	assert.Empty(t, caller.placedOrders())
}

func TestBuySignalAtExposureCapIgnored(t *testing.T) {
	stats := core.StatsResponse{
		Position:    core.Position{Qty: decimal.NewFromInt(60), AvgPrice: decimal.NewFromInt(100)},
		CashBalance: decimal.NewFromFloat(10000),
	}
	caller := &stubCaller{stats: stats}
	m := newTestManager(t, testRiskConfig(), caller, &stubGuard{allow: true})
	warm(m, 100)

	// exposure 6000 >= (10000 + 0) * 0.5
	m.OnSignal(context.Background(), &core.SignalEvent{Signal: core.SignalBuy, Symbol: "BTCUSDT"})
	assert.Empty(t, caller.placedOrders())
}

func TestBuySignalBelowExposureCapScalesIn(t *testing.T) {
	stats := core.StatsResponse{
		Position:    core.Position{Qty: decimal.NewFromInt(10), AvgPrice: decimal.NewFromInt(100)},
		CashBalance: decimal.NewFromFloat(10000),
	}
	caller := &stubCaller{stats: stats}
	m := newTestManager(t, testRiskConfig(), caller, &stubGuard{allow: true})
	warm(m, 100)

	m.OnSignal(context.Background(), &core.SignalEvent{Signal: core.SignalBuy, Symbol: "BTCUSDT"})
	orders := caller.placedOrders()
	require.Len(t, orders, 1)
	assert.Equal(t, core.SideBuy, orders[0].Side)
}

func TestBuySignalAgainstShortNeverReverses(t *testing.T) {
	stats := core.StatsResponse{
		Position:    core.Position{Qty: decimal.NewFromInt(-1), AvgPrice: decimal.NewFromInt(100)},
		CashBalance: decimal.NewFromFloat(10000),
	}
	caller := &stubCaller{stats: stats}
	m := newTestManager(t, testRiskConfig(), caller, &stubGuard{allow: true})
	warm(m, 100)

	m.OnSignal(context.Background(), &core.SignalEvent{Signal: core.SignalBuy, Symbol: "BTCUSDT"})
	assert.Empty(t, caller.placedOrders())
}

func TestDrawdownStaysClosedBelowThreshold(t *testing.T) {
	cfg := testRiskConfig()
	cfg.MaxRelativeDrawdown = 0.10
	m := newTestManager(t, cfg, &stubCaller{}, &stubGuard{allow: true})

	breached, _ := m.observeValue(10000)
	assert.False(t, breached, "first sample sets the baseline")
	breached, _ = m.observeValue(12000)
	assert.False(t, breached)

	// relative drawdown 1/12 is about 8.33%, under the 10% limit
	breached, _ = m.observeValue(11000)
	assert.False(t, breached)
}

func TestDrawdownBreachesRelativeThreshold(t *testing.T) {
	m := newTestManager(t, testRiskConfig(), &stubCaller{}, &stubGuard{allow: true})

	m.observeValue(10000)
	m.observeValue(12000)

	// 15% off the peak crosses the 5% relative limit
	breached, reason := m.observeValue(10200)
	assert.True(t, breached)
	assert.Contains(t, reason, "relative drawdown")
}

func TestDrawdownBreachesAbsoluteThreshold(t *testing.T) {
	cfg := testRiskConfig()
	cfg.MaxRelativeDrawdown = 0.5
	m := newTestManager(t, cfg, &stubCaller{}, &stubGuard{allow: true})

	m.observeValue(10000)
	breached, reason := m.observeValue(8900)
	assert.True(t, breached)
	assert.Contains(t, reason, "absolute drawdown")
}

func TestEmergencyLiquidationFlattensAndIsIdempotent(t *testing.T) {
	caller := &stubCaller{
		positions: []core.ExchangePosition{
			{Symbol: "BTCUSDT", Qty: decimal.NewFromInt(2)},
			{Symbol: "ETHUSDT", Qty: decimal.NewFromInt(-3)},
			{Symbol: "SOLUSDT", Qty: decimal.Zero},
		},
	}
	m := newTestManager(t, testRiskConfig(), caller, &stubGuard{allow: true})

	require.NoError(t, m.EmergencyLiquidation(context.Background(), "test"))

	orders := caller.placedOrders()
	require.Len(t, orders, 2)
	assert.Equal(t, core.SideSell, orders[0].Side)
	assert.True(t, orders[0].Qty.Equal(decimal.NewFromInt(2)))
	assert.Equal(t, core.SideBuy, orders[1].Side)
	assert.True(t, orders[1].Qty.Equal(decimal.NewFromInt(3)))

	// second invocation is a no-op
	require.NoError(t, m.EmergencyLiquidation(context.Background(), "again"))
	assert.Len(t, caller.placedOrders(), 2)
	assert.True(t, m.EmergencyActive())
}

func TestSignalIgnoredAfterEmergency(t *testing.T) {
	caller := &stubCaller{stats: flatStats(10000)}
	m := newTestManager(t, testRiskConfig(), caller, &stubGuard{allow: true})
	warm(m, 100)

	require.NoError(t, m.EmergencyLiquidation(context.Background(), "test"))
	before := len(caller.placedOrders())

	m.OnSignal(context.Background(), &core.SignalEvent{Signal: core.SignalBuy, Symbol: "BTCUSDT"})
	assert.Len(t, caller.placedOrders(), before)
}
