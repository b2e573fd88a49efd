// Command oracle is the index-price ingester: it polls an upstream price
// source for every configured index name and pushes updates into the
// exchange process's index bus over its JSON-RPC surface (§1 "external
// price oracles feed an index-price bus").
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"derivex/internal/config"
	"derivex/internal/oracleclient"
)

func main() {
	cfgPath := "configs/oracle.yaml"
	if p := os.Getenv("DEREX_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate("oracle"); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Logging)

	upstream := oracleclient.NewUpstreamClient(cfg.Oracle.UpstreamURL)
	exchange := oracleclient.NewExchangeClient(cfg.Oracle.ExchangeRPC)
	poller := oracleclient.NewPoller(upstream, exchange, cfg.Oracle.IndexNames)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go poller.Run(ctx, cfg.Oracle.PollInterval, func(name string, err error) {
		logger.Error("index poll failed", "index", name, "error", err)
	})

	logger.Info("oracle ingester started",
		"upstream", cfg.Oracle.UpstreamURL,
		"exchange_rpc", cfg.Oracle.ExchangeRPC,
		"indices", cfg.Oracle.IndexNames,
		"poll_interval", cfg.Oracle.PollInterval,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())
	cancel()
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
