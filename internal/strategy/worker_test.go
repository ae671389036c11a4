package strategy

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"futuresbot/internal/bus"
	"futuresbot/internal/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"futuresbot/pkg/logging"
)

// stubExchange serves canned historical candles; everything else is unused.
type stubExchange struct {
	core.Exchange
	klines []core.Kline
	err    error
}

func (s *stubExchange) HistoricalKlines(context.Context, string, string, int) ([]core.Kline, error) {
	return s.klines, s.err
}

func testConfig() Config {
	return Config{
		Symbol:        "BTCUSDT",
		KlineInterval: "1m",
		FastPeriod:    12,
		SlowPeriod:    26,
		SignalPeriod:  9,
		HistoryLimit:  200,
	}
}

func candle(startTime int64, close float64) *core.Kline {
	return &core.Kline{
		Symbol:    "BTCUSDT",
		Interval:  "1m",
		Close:     close,
		StartTime: startTime,
		EndTime:   startTime + 59_999,
		IsClosed:  true,
	}
}

func newTestWorker(t *testing.T, exchange core.Exchange) (*Worker, *bus.MemoryBroker, bus.Channels) {
	t.Helper()
	broker := bus.NewMemoryBroker()
	t.Cleanup(func() { broker.Close() })
	channels := bus.NewChannels("test")
	pub := bus.NewPublisher(broker, nil, logging.NewNop())
	return NewWorker(testConfig(), exchange, broker, pub, channels, logging.NewNop()), broker, channels
}

func receiveSignal(t *testing.T, sub *bus.Subscription) *core.SignalEvent {
	t.Helper()
	select {
	case env := <-sub.C():
		var evt core.SignalEvent
		require.NoError(t, json.Unmarshal(env.Value, &evt))
		return &evt
	case <-time.After(time.Second):
		return nil
	}
}

func TestWorkerPublishesBuyOnCrossing(t *testing.T) {
	ctx := context.Background()
	// downtrend seed leaves the hysteresis on Sell
	seed := []core.Kline{*candle(0, 46000), *candle(60_000, 45500), *candle(120_000, 45000)}
	w, broker, channels := newTestWorker(t, &stubExchange{klines: seed})
	w.seed(ctx)
	require.True(t, w.seeded)

	sub, err := broker.Subscribe(ctx, channels.Signal())
	require.NoError(t, err)

	// strong up candle crosses MACD above its signal line
	w.OnCandle(ctx, candle(180_000, 47000))

	evt := receiveSignal(t, sub)
	require.NotNil(t, evt, "expected a signal")
	assert.Equal(t, core.SignalBuy, evt.Signal)
	assert.Equal(t, "BTCUSDT", evt.Symbol)
}

func TestWorkerSeedPrimesHysteresis(t *testing.T) {
	ctx := context.Background()
	// uptrend seed: the live continuation must not re-fire Buy
	seed := []core.Kline{*candle(0, 45000), *candle(60_000, 45500), *candle(120_000, 46000)}
	w, broker, channels := newTestWorker(t, &stubExchange{klines: seed})
	w.seed(ctx)
	assert.Equal(t, core.SignalBuy, w.policy.LastAction())

	sub, err := broker.Subscribe(ctx, channels.Signal())
	require.NoError(t, err)

	w.OnCandle(ctx, candle(180_000, 46500))
	evt := receiveSignal(t, sub)
	require.NotNil(t, evt)
	assert.Equal(t, core.SignalHold, evt.Signal)
}

func TestWorkerEmitsEveryClosedCandle(t *testing.T) {
	ctx := context.Background()
	seed := []core.Kline{*candle(0, 45000), *candle(60_000, 45500), *candle(120_000, 46000)}
	w, broker, channels := newTestWorker(t, &stubExchange{klines: seed})
	w.seed(ctx)
	require.True(t, w.seeded)

	sub, err := broker.Subscribe(ctx, channels.Signal())
	require.NoError(t, err)

	// a persisting trend still emits one event per candle so position
	// management downstream keeps its cadence
	price := 46100.0
	for i := 0; i < 10; i++ {
		w.OnCandle(ctx, candle(int64(3+i)*60_000, price))
		price += 100
	}

	var holds int
	for i := 0; i < 10; i++ {
		evt := receiveSignal(t, sub)
		require.NotNil(t, evt, "candle %d produced no event", i)
		if evt.Signal == core.SignalHold {
			holds++
		}
	}
	assert.GreaterOrEqual(t, holds, 7)
}

func TestWorkerIgnoresOpenCandles(t *testing.T) {
	ctx := context.Background()
	w, _, _ := newTestWorker(t, &stubExchange{})
	w.seed(ctx)

	open := candle(0, 45000)
	open.IsClosed = false
	w.OnCandle(ctx, open)
	assert.Zero(t, w.macd.Count())
}

func TestWorkerDeduplicatesByStartTime(t *testing.T) {
	ctx := context.Background()
	w, _, _ := newTestWorker(t, &stubExchange{})
	w.seed(ctx)

	w.OnCandle(ctx, candle(60_000, 45000))
	w.OnCandle(ctx, candle(60_000, 46000))
	assert.Equal(t, 1, w.macd.Count())
}

func TestWorkerWarmupGateWithoutSeed(t *testing.T) {
	ctx := context.Background()
	w, broker, channels := newTestWorker(t, &stubExchange{err: core.ErrNetwork})
	w.seed(ctx)
	require.False(t, w.seeded)

	sub, err := broker.Subscribe(ctx, channels.Signal())
	require.NoError(t, err)

	// a rising tape would cross immediately, but the gate holds until
	// the slow period has data
	price := 45000.0
	for i := 0; i < 25; i++ {
		w.OnCandle(ctx, candle(int64(i)*60_000, price))
		price += 100
	}
	assert.Nil(t, receiveSignal(t, sub))

	w.OnCandle(ctx, candle(26*60_000, price))
	evt := receiveSignal(t, sub)
	require.NotNil(t, evt)
	assert.Equal(t, core.SignalBuy, evt.Signal)
}
