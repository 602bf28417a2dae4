// Command holdwatch tracks a wallet's holdings: it keeps a durable
// trade ledger with FIFO cost basis, reconciles live balances against
// it, caches USD prices and raises trailing-stop alerts.
//
// Usage:
//
//	holdwatch --config config.yaml
//
// Optional environment variables:
//
//	For the binance price source: BINANCE_API_KEY, BINANCE_API_SECRET
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/holdwatch/holdwatch/config"
	"github.com/holdwatch/holdwatch/internal/book"
	"github.com/holdwatch/holdwatch/internal/clients"
	"github.com/holdwatch/holdwatch/internal/costbasis"
	"github.com/holdwatch/holdwatch/internal/guard"
	"github.com/holdwatch/holdwatch/internal/holdings"
	"github.com/holdwatch/holdwatch/internal/ledger"
	"github.com/holdwatch/holdwatch/internal/monitor"
	"github.com/holdwatch/holdwatch/internal/pricecache"
)

func main() {
	cfg, err := config.Get()
	if err != nil {
		log.Fatal(err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	store, err := ledger.NewStore(cfg.LedgerDir)
	if err != nil {
		logger.Fatal("failed to open ledger store", zap.Error(err))
	}

	policy := costbasis.OversellClip
	if cfg.OversellPolicy == "reject" {
		policy = costbasis.OversellReject
	}
	b := book.New(store, costbasis.NewEngine(policy), logger)
	defer b.Close()

	var src pricecache.Source
	switch cfg.PriceSource {
	case "binance":
		src = clients.NewBinancePricer(os.Getenv("BINANCE_API_KEY"), os.Getenv("BINANCE_API_SECRET"))
	default:
		src = clients.NewDexscreenerClient()
	}

	cache := pricecache.New(src, pricecache.Config{
		MaxEntries:     cfg.PriceMaxCached,
		TTL:            cfg.PriceTTL,
		RefreshTimeout: cfg.RefreshTimeout,
	})

	guards, err := guard.NewManager(guard.Config{
		TrailingStopPct: cfg.TrailingStopPct,
		Cooldown:        cfg.GuardCooldown,
	})
	if err != nil {
		logger.Fatal("invalid guard config", zap.Error(err))
	}

	feed, err := clients.NewCronosClient(cfg.RPCURL, cfg.NativeSymbol, cfg.Tokens)
	if err != nil {
		logger.Fatal("failed to connect to rpc", zap.Error(err))
	}
	defer feed.Close()

	mon := monitor.New(monitor.Config{
		Wallet:              cfg.Wallet,
		BalancePollInterval: cfg.BalancePollInterval,
		PricePollInterval:   cfg.PricePollInterval,
	}, b, cache, guards, holdings.NewReconciler(cfg.Aliases), feed, monitor.LogSink{L: logger}, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := mon.Initialize(ctx); err != nil {
		logger.Fatal("failed to initialize monitor", zap.Error(err))
	}

	if err := mon.Run(ctx); err != nil {
		logger.Fatal("monitor stopped", zap.Error(err))
	}
}
