// Package gateway connects the venue's market data and user-data
// streams to the message bus.
package gateway

import (
	"context"
	"strings"
	"sync"
	"time"

	"futuresbot/internal/bus"
	"futuresbot/internal/core"
	"futuresbot/pkg/concurrency"
	"futuresbot/pkg/websocket"
)

// listenKeyKeepAlive is the venue-mandated keepalive cadence.
const listenKeyKeepAlive = 15 * time.Minute

// Config holds the gateway's stream settings.
type Config struct {
	Symbol        string
	KlineInterval string
	StreamBaseURL string
}

// Gateway subscribes to depth, kline, and execution streams and
// republishes each event on its bus channel. Each stream gets its own
// single-worker pool: a slow Redis round trip cannot stall the read
// loop, and events from one stream publish in arrival order.
type Gateway struct {
	cfg        Config
	exchange   core.Exchange
	publisher  *bus.Publisher
	channels   bus.Channels
	marketPool *concurrency.WorkerPool
	userPool   *concurrency.WorkerPool
	logger     core.Logger

	marketWS *websocket.Client
	userWS   *websocket.Client

	mu        sync.Mutex
	listenKey string
}

// New creates a gateway for one symbol.
func New(cfg Config, exchange core.Exchange, publisher *bus.Publisher, channels bus.Channels, logger core.Logger) *Gateway {
	g := &Gateway{
		cfg:       cfg,
		exchange:  exchange,
		publisher: publisher,
		channels:  channels,
		logger:    logger.WithField("component", "gateway").WithField("symbol", cfg.Symbol),
	}
	g.marketPool = concurrency.NewWorkerPool(concurrency.PoolConfig{
		Name:        "gateway_market",
		MaxWorkers:  1,
		MaxCapacity: 512,
		NonBlocking: true,
	}, logger)
	g.userPool = concurrency.NewWorkerPool(concurrency.PoolConfig{
		Name:        "gateway_user",
		MaxWorkers:  1,
		MaxCapacity: 512,
		NonBlocking: true,
	}, logger)
	return g
}

// Run starts both streams and blocks until ctx ends.
func (g *Gateway) Run(ctx context.Context) error {
	streamSymbol := strings.ToLower(g.cfg.Symbol)

	g.marketWS = websocket.NewClient(g.cfg.StreamBaseURL, func(msg []byte) {
		g.dispatchMarket(ctx, msg)
	}, g.logger)
	g.marketWS.SetOnConnected(func() {
		sub := map[string]interface{}{
			"method": "SUBSCRIBE",
			"params": []string{
				streamSymbol + "@depth5@100ms",
				streamSymbol + "@kline_" + g.cfg.KlineInterval,
			},
			"id": 1,
		}
		if err := g.marketWS.Send(sub); err != nil {
			g.logger.Error("Failed to send stream subscription", "error", err)
		}
	})
	g.marketWS.Start()

	if err := g.startUserStream(ctx); err != nil {
		g.marketWS.Stop()
		return err
	}

	ticker := time.NewTicker(listenKeyKeepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			g.shutdown()
			return ctx.Err()
		case <-ticker.C:
			g.keepAlive(ctx)
		}
	}
}

func (g *Gateway) startUserStream(ctx context.Context) error {
	key, err := g.exchange.StartUserStream(ctx)
	if err != nil {
		return err
	}
	g.mu.Lock()
	g.listenKey = key
	g.mu.Unlock()

	g.userWS = websocket.NewClient(g.cfg.StreamBaseURL+"/"+key, func(msg []byte) {
		g.dispatchUser(ctx, msg)
	}, g.logger)
	g.userWS.Start()
	g.logger.Info("User-data stream started")
	return nil
}

func (g *Gateway) keepAlive(ctx context.Context) {
	g.mu.Lock()
	key := g.listenKey
	g.mu.Unlock()
	if key == "" {
		return
	}
	if err := g.exchange.KeepAliveUserStream(ctx, key); err != nil {
		g.logger.Error("Listen key keepalive failed", "error", err)
	} else {
		g.logger.Debug("Listen key extended")
	}
}

// rotateListenKey handles listenKeyExpired by opening a fresh stream.
func (g *Gateway) rotateListenKey(ctx context.Context) {
	g.logger.Warn("Listen key expired, rotating")
	key, err := g.exchange.StartUserStream(ctx)
	if err != nil {
		g.logger.Error("Failed to rotate listen key", "error", err)
		return
	}
	g.mu.Lock()
	g.listenKey = key
	g.mu.Unlock()
	g.userWS.SetURL(g.cfg.StreamBaseURL + "/" + key)
}

func (g *Gateway) shutdown() {
	g.marketWS.Stop()
	if g.userWS != nil {
		g.userWS.Stop()
	}

	g.mu.Lock()
	key := g.listenKey
	g.mu.Unlock()
	if key != "" {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := g.exchange.CloseUserStream(closeCtx, key); err != nil {
			g.logger.Warn("Failed to close user stream", "error", err)
		}
	}
	g.marketPool.Stop()
	g.userPool.Stop()
}

func (g *Gateway) dispatchMarket(ctx context.Context, msg []byte) {
	data := make([]byte, len(msg))
	copy(data, msg)

	if err := g.marketPool.Submit(func() { g.handleMarket(ctx, data) }); err != nil {
		g.logger.Warn("Market event dropped", "error", err)
	}
}

func (g *Gateway) handleMarket(ctx context.Context, data []byte) {
	switch eventType(data) {
	case "depthUpdate":
		book, err := parseDepth(data)
		if err != nil {
			g.logger.Warn("Skipping bad depth event", "error", err)
			return
		}
		channel := g.channels.OrderBook(g.cfg.Symbol)
		if err := g.publisher.PublishJSON(ctx, channel, channel, book); err != nil {
			g.logger.Error("Failed to publish order book", "error", err)
		}
	case "kline":
		kline, err := parseKline(data)
		if err != nil {
			g.logger.Warn("Skipping bad kline event", "error", err)
			return
		}
		// open candles go out too, with is_closed false; consumers
		// decide whether they want intrabar updates
		channel := g.channels.Candlestick(g.cfg.Symbol)
		if err := g.publisher.PublishJSON(ctx, channel, channel, kline); err != nil {
			g.logger.Error("Failed to publish candlestick", "error", err)
		}
	default:
		// subscription acks and unknown stream events
		g.logger.Debug("Ignoring market stream message", "payload", string(data))
	}
}

func (g *Gateway) dispatchUser(ctx context.Context, msg []byte) {
	data := make([]byte, len(msg))
	copy(data, msg)

	if err := g.userPool.Submit(func() { g.handleUser(ctx, data) }); err != nil {
		g.logger.Warn("User event dropped", "error", err)
	}
}

func (g *Gateway) handleUser(ctx context.Context, data []byte) {
	switch eventType(data) {
	case "ORDER_TRADE_UPDATE":
		event, err := parseOrderTradeUpdate(data)
		if err != nil {
			g.logger.Warn("Skipping bad execution event", "error", err)
			return
		}
		channel := g.channels.Execution(g.cfg.Symbol)
		if err := g.publisher.PublishJSON(ctx, channel, channel, event); err != nil {
			g.logger.Error("Failed to publish execution event", "error", err)
		}
	case "listenKeyExpired":
		g.rotateListenKey(ctx)
	default:
		g.logger.Debug("Ignoring user stream message", "payload", string(data))
	}
}
