// Command exchange is the derivatives exchange core (§1): the order book
// and matching engine (C2), mark-price/funding loops (C3), instrument
// registry (C4), index bus (C5), account store (C6), margin engine (C7),
// and the exchange controller (C8) that ties them together behind a
// JSON-RPC-over-HTTP surface and a WebSocket fan-out.
//
// Architecture:
//
//	main.go                    — entry point: loads config, wires every
//	                              subsystem, starts background loops, waits
//	                              for SIGINT/SIGTERM.
//	internal/instrument        — static registry (currencies, instruments,
//	                              per-instrument books), seeded from a YAML
//	                              definitions file at startup.
//	internal/index             — the index-price bus the oracle ingester
//	                              writes to over RPC.
//	internal/book               — price-time priority matching per instrument.
//	internal/markprice          — per-instrument EMA/funding background loops.
//	internal/account            — per-address collateral/positions/orders.
//	internal/margin             — pre-trade gate and liquidation math.
//	internal/controller         — the exchange: validates, gates, matches,
//	                              applies fills, publishes events.
//	internal/broker             — in-process pub/sub fanning out to
//	                              internal/wsgateway.
//	internal/rpcserver          — JSON-RPC HTTP transport (:8081).
//	internal/wsgateway          — WebSocket fan-out (:8082).
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"derivex/internal/account"
	"derivex/internal/broker"
	"derivex/internal/config"
	"derivex/internal/controller"
	"derivex/internal/index"
	"derivex/internal/instrument"
	"derivex/internal/markprice"
	"derivex/internal/rpcserver"
	"derivex/internal/wsgateway"
)

func main() {
	cfgPath := "configs/exchange.yaml"
	if p := os.Getenv("DEREX_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate("exchange"); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Logging)

	registry, err := instrument.LoadDefinitions(cfg.Instrument.DefinitionsFile)
	if err != nil {
		logger.Error("failed to load instrument definitions", "error", err)
		os.Exit(1)
	}

	indexBus := index.New()
	accounts := account.NewStore()
	brk := broker.New()
	ctrl := controller.New(registry, accounts, indexBus, brk, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	startMarkPriceLoops(ctx, registry, indexBus, cfg.Exchange, logger)
	go runStatsScheduler(ctx, registry, logger)
	go ctrl.RunTickerPublisher(ctx)
	go ctrl.RunAccountBroadcaster(ctx)

	rpc := rpcserver.New(cfg.Exchange.RPCAddr, ctrl, logger)
	go func() {
		if err := rpc.ListenAndServe(); err != nil {
			logger.Error("rpc server failed", "error", err)
		}
	}()

	ws := wsgateway.New(cfg.Exchange.WSAddr, brk, logger)
	go func() {
		if err := ws.ListenAndServe(); err != nil {
			logger.Error("ws gateway failed", "error", err)
		}
	}()

	logger.Info("exchange started",
		"rpc_addr", cfg.Exchange.RPCAddr,
		"ws_addr", cfg.Exchange.WSAddr,
		"instruments", len(registry.Names()),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	cancel()
	if err := rpc.Shutdown(); err != nil {
		logger.Error("rpc server shutdown", "error", err)
	}
	if err := ws.Shutdown(); err != nil {
		logger.Error("ws gateway shutdown", "error", err)
	}
}

// startMarkPriceLoops starts one EMA loop per dated future and one EMA +
// funding-rate loop per perpetual (§5: "each instrument owns ... a 1-second
// EMA task ... (perp only) a 5-second funding-rate task").
func startMarkPriceLoops(ctx context.Context, registry *instrument.Registry, indexBus *index.Bus, cfg config.ExchangeConfig, logger *slog.Logger) {
	for _, inst := range registry.All() {
		inst := inst
		idx := indexFunc(indexBus, inst)

		switch {
		case inst.PerpBook != nil:
			go markprice.RunPerpEMA(ctx, inst.PerpBook, idx, logger)
			go markprice.RunFunding(ctx, inst.PerpBook, idx, logger)
		case inst.FuturesBook != nil:
			go markprice.RunFuturesEMA(ctx, inst.FuturesBook, idx, logger)
		}
	}
}

// indexFunc closes over an instrument's index pair so the mark-price loops
// never need to import internal/index directly (markprice.IndexFunc keeps
// those loops agnostic of how an index price is looked up).
func indexFunc(indexBus *index.Bus, inst *instrument.Instrument) markprice.IndexFunc {
	return func() decimal.Decimal { return indexBus.Price(inst.IndexBase, inst.IndexQuote) }
}

// runStatsScheduler rolls every instrument's 5-second stats window and,
// once per UTC day, resets the 24h window (§4.1 "Stats (5-second cadence,
// daily reset)").
func runStatsScheduler(ctx context.Context, registry *instrument.Registry, logger *slog.Logger) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	lastResetDay := time.Now().UTC().YearDay()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for _, inst := range registry.All() {
				inst.Book().RollStats()
			}

			day := now.UTC().YearDay()
			if day != lastResetDay {
				for _, inst := range registry.All() {
					inst.Book().ResetDailyWindow()
				}
				lastResetDay = day
			}
		}
	}
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Level)}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
