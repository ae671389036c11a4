package strategy

import (
	"context"
	"encoding/json"

	"futuresbot/internal/bus"
	"futuresbot/internal/core"
	"futuresbot/internal/telemetry"
)

// Config holds the strategy parameters.
type Config struct {
	Symbol        string
	KlineInterval string
	FastPeriod    int
	SlowPeriod    int
	SignalPeriod  int
	HistoryLimit  int
}

// Worker owns one MACD instance per symbol. It seeds the indicator from
// historical candles, then folds in live closed candles and publishes
// crossings on the signal channel.
type Worker struct {
	cfg       Config
	exchange  core.Exchange
	broker    bus.Broker
	publisher *bus.Publisher
	channels  bus.Channels
	logger    core.Logger

	macd   *MACD
	policy SignalPolicy
	seeded bool

	lastStartTime int64
}

// NewWorker creates the strategy worker.
func NewWorker(cfg Config, exchange core.Exchange, broker bus.Broker, publisher *bus.Publisher, channels bus.Channels, logger core.Logger) *Worker {
	return &Worker{
		cfg:       cfg,
		exchange:  exchange,
		broker:    broker,
		publisher: publisher,
		channels:  channels,
		logger:    logger.WithField("component", "strategy").WithField("symbol", cfg.Symbol),
		macd:      NewMACD(cfg.FastPeriod, cfg.SlowPeriod, cfg.SignalPeriod),
		// -1 so a genuine epoch-0 start time is not dropped as a duplicate
		lastStartTime: -1,
	}
}

// Run seeds the indicator and consumes the candlestick channel until
// ctx ends.
func (w *Worker) Run(ctx context.Context) error {
	w.seed(ctx)

	sub, err := w.broker.Subscribe(ctx, w.channels.Candlestick(w.cfg.Symbol))
	if err != nil {
		return err
	}
	defer sub.Close()

	w.logger.Info("Strategy started",
		"fast", w.cfg.FastPeriod, "slow", w.cfg.SlowPeriod, "signal", w.cfg.SignalPeriod,
		"seeded", w.seeded)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case env, ok := <-sub.C():
			if !ok {
				return nil
			}
			w.onCandlePayload(ctx, env.Value)
		}
	}
}

// seed warms the indicator from historical candles. A failed or empty
// fetch is not fatal; the indicator then warms up from live candles.
func (w *Worker) seed(ctx context.Context) {
	if w.cfg.HistoryLimit <= 0 {
		return
	}

	klines, err := w.exchange.HistoricalKlines(ctx, w.cfg.Symbol, w.cfg.KlineInterval, w.cfg.HistoryLimit)
	if err != nil {
		w.logger.Warn("Historical seed failed, warming up from live candles", "error", err)
		return
	}
	if len(klines) == 0 {
		w.logger.Warn("No historical candles, warming up from live candles")
		return
	}

	for _, k := range klines {
		macd, signal := w.macd.Update(k.Close)
		// prime the hysteresis so the first live candle does not
		// fire on a pre-existing trend
		w.policy.Evaluate(macd, signal)
		w.lastStartTime = k.StartTime
	}
	w.seeded = true

	macd, signal := w.macd.Values()
	w.logger.Info("Indicator seeded", "candles", len(klines), "macd", macd, "signal_line", signal)
}

func (w *Worker) onCandlePayload(ctx context.Context, payload []byte) {
	var kline core.Kline
	if err := json.Unmarshal(payload, &kline); err != nil {
		w.logger.Warn("Skipping undecodable candle", "error", err)
		return
	}
	w.OnCandle(ctx, &kline)
}

// OnCandle folds a closed candle into the indicator and publishes a
// signal when a crossing fires.
func (w *Worker) OnCandle(ctx context.Context, kline *core.Kline) {
	if !kline.IsClosed {
		return
	}
	if kline.StartTime == w.lastStartTime {
		w.logger.Debug("Candle already applied", "start_time", kline.StartTime)
		return
	}
	w.lastStartTime = kline.StartTime

	macd, signalLine := w.macd.Update(kline.Close)

	// without a historical seed, hold until the slow EMA has data
	if !w.seeded && w.macd.Count() < w.cfg.SlowPeriod {
		return
	}

	signal := w.policy.Evaluate(macd, signalLine)
	w.logger.Debug("Candle applied",
		"close", kline.Close, "macd", macd, "signal_line", signalLine, "signal", signal)

	// every admitted candle emits, Hold included: downstream position
	// management runs on the cadence of the candle stream
	event := core.SignalEvent{Signal: signal, Symbol: w.cfg.Symbol}
	channel := w.channels.Signal()
	if err := w.publisher.PublishJSON(ctx, channel, channel, event); err != nil {
		w.logger.Error("Failed to publish signal", "signal", signal, "error", err)
		return
	}

	if c := telemetry.GetGlobalMetrics().SignalsTotal; c != nil {
		c.Add(ctx, 1)
	}
	if signal == core.SignalHold {
		return
	}
	w.logger.Info("Signal published", "signal", signal, "macd", macd, "signal_line", signalLine)
}
