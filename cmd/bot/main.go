// Command bot runs the futures trading bot: one process hosting the
// gateway, order manager, portfolio manager, strategy, and risk
// manager as concurrent workers over a shared Redis bus.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"futuresbot/internal/breaker"
	"futuresbot/internal/bus"
	"futuresbot/internal/config"
	"futuresbot/internal/exchange/binance"
	"futuresbot/internal/gateway"
	"futuresbot/internal/orders"
	"futuresbot/internal/portfolio"
	"futuresbot/internal/risk"
	"futuresbot/internal/server"
	"futuresbot/internal/strategy"
	"futuresbot/internal/telemetry"
	"futuresbot/pkg/logging"
	"futuresbot/pkg/retry"
)

const shutdownGrace = 5 * time.Second

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}

	logger, err := logging.NewZapLogger(cfg.System.LogLevel)
	if err != nil {
		return err
	}
	logger.Info("Starting futures bot", "symbol", cfg.Trading.Symbol, "testnet", cfg.Exchange.Testnet)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var tel *telemetry.Telemetry
	if cfg.Telemetry.EnableMetrics {
		tel, err = telemetry.Setup(cfg.App.Name)
		if err != nil {
			return fmt.Errorf("telemetry setup: %w", err)
		}
		metricsServer := telemetry.NewServer(cfg.Telemetry.MetricsPort, logger)
		metricsServer.Start()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
			defer cancel()
			_ = metricsServer.Stop(shutdownCtx)
			_ = tel.Shutdown(shutdownCtx)
		}()
	}

	channels := bus.NewChannels(cfg.Redis.Prefix)
	var broker *bus.RedisBroker
	err = retry.Do(ctx, retry.Policy{
		MaxAttempts:    5,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
	}, func(error) bool { return true }, func() error {
		broker, err = bus.NewRedisBroker(ctx, cfg.Redis.Addr(), cfg.Redis.Password, cfg.Redis.DB, channels, logger)
		return err
	})
	if err != nil {
		return fmt.Errorf("connect to bus: %w", err)
	}
	defer broker.Close()

	brk, err := breaker.New(ctx, breaker.NewRedisKV(broker.Client()), breaker.Config{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		SuccessThreshold: cfg.Breaker.SuccessThreshold,
		ResetTimeout:     time.Duration(cfg.Breaker.ResetTimeoutSec) * time.Second,
	}, logger)
	if err != nil {
		return fmt.Errorf("init circuit breaker: %w", err)
	}

	publisher := bus.NewPublisher(broker, brk, logger)
	requester, err := bus.NewRequester(ctx, broker, publisher, channels, logger)
	if err != nil {
		return fmt.Errorf("init requester: %w", err)
	}
	defer requester.Close()
	responder := bus.NewResponder(broker, publisher, channels, logger)

	exchange, err := binance.New(binance.Config{
		APIKey:    cfg.Exchange.APIKey,
		SecretKey: cfg.Exchange.SecretKey,
		Testnet:   cfg.Exchange.Testnet,
		BaseURL:   cfg.Exchange.BaseURL,
	}, logger)
	if err != nil {
		return fmt.Errorf("init exchange client: %w", err)
	}

	store, err := orders.NewSQLiteStore(cfg.App.DatabasePath, logger)
	if err != nil {
		return fmt.Errorf("open order store: %w", err)
	}
	defer store.Close()

	symbol := cfg.Trading.Symbol

	portfolioMgr := portfolio.NewManager(symbol, broker, channels, logger)
	if cash, err := exchange.AvailableBalance(ctx); err != nil {
		logger.Warn("Could not fetch initial balance, cash starts at zero", "error", err)
	} else {
		portfolioMgr.SetInitialCash(cash)
	}

	orderMgr := orders.NewManager(symbol, broker, channels, store, logger)

	streamURL := cfg.Exchange.StreamURL
	if streamURL == "" {
		streamURL = binance.StreamBaseURL(cfg.Exchange.Testnet)
	}
	gw := gateway.New(gateway.Config{
		Symbol:        symbol,
		KlineInterval: cfg.Trading.KlineInterval,
		StreamBaseURL: streamURL,
	}, exchange, publisher, channels, logger)

	strategyWorker := strategy.NewWorker(strategy.Config{
		Symbol:        symbol,
		KlineInterval: cfg.Trading.KlineInterval,
		FastPeriod:    cfg.Strategy.FastPeriod,
		SlowPeriod:    cfg.Strategy.SlowPeriod,
		SignalPeriod:  cfg.Strategy.SignalPeriod,
		HistoryLimit:  cfg.Trading.HistoryLimit,
	}, exchange, broker, publisher, channels, logger)

	riskMgr := risk.NewManager(risk.Config{
		Symbol:              symbol,
		MaxRiskPerTradePct:  cfg.Risk.MaxRiskPerTradePct,
		MaxExposurePct:      cfg.Risk.MaxExposurePct,
		MaxRelativeDrawdown: cfg.Risk.MaxRelativeDrawdown,
		MaxAbsoluteDrawdown: cfg.Risk.MaxAbsoluteDrawdown,
		ATRPeriod:           cfg.Risk.ATRPeriod,
		Tiers: risk.Tiers{
			ATRMultiplier:    cfg.Risk.ATRMultiplier,
			TierOnePnlPct:    cfg.Risk.TierOnePnlPct,
			TierOneRMultiple: cfg.Risk.TierOneRMultiple,
			TierTwoPnlPct:    cfg.Risk.TierTwoPnlPct,
			TierTwoRMultiple: cfg.Risk.TierTwoRMultiple,
		},
	}, broker, channels, requester, brk, logger)

	// A tripped breaker flattens everything and brings the process down.
	brk.SetEmergencyCallback(func(reason string) {
		logger.Error("Emergency shutdown triggered", "reason", reason)
		liqCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := riskMgr.EmergencyLiquidation(liqCtx, reason); err != nil {
			logger.Error("Emergency liquidation failed", "error", err)
		}
		stop()
	})

	apiResponder := gateway.NewAPIResponder(exchange, logger)
	if err := apiResponder.Register(ctx, responder); err != nil {
		return fmt.Errorf("register api responder: %w", err)
	}

	adminServer := server.New(symbol, cfg.App.AdminPort, requester, exchange, logger)
	adminServer.Start()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		_ = adminServer.Stop(shutdownCtx)
	}()

	g, groupCtx := errgroup.WithContext(ctx)
	g.Go(func() error { return gw.Run(groupCtx) })
	g.Go(func() error { return orderMgr.Run(groupCtx) })
	g.Go(func() error { return portfolioMgr.Run(groupCtx, responder) })
	g.Go(func() error { return strategyWorker.Run(groupCtx) })
	g.Go(func() error { return riskMgr.Run(groupCtx) })

	logger.Info("All workers started")
	err = g.Wait()
	if errors.Is(err, context.Canceled) || ctx.Err() != nil {
		logger.Info("Shutdown complete")
		return nil
	}
	return err
}
