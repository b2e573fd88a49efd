// Command chartagg is the OHLC aggregation engine (C9): it consumes every
// instrument's trade stream from the running exchange process over a
// WebSocket client connection, maintains 5-second base-resolution bars per
// instrument, and answers chart history queries over HTTP, resampling to
// whatever resolution the caller asks for.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-resty/resty/v2"

	"derivex/internal/config"
	"derivex/internal/feed"
	"derivex/internal/ohlc"
	"derivex/pkg/types"
)

func main() {
	cfgPath := "configs/chartagg.yaml"
	if p := os.Getenv("DEREX_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate("chartagg"); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Logging)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	instruments, err := fetchInstrumentNames(ctx, cfg.ChartAgg.ExchangeRPC)
	if err != nil {
		logger.Error("failed to fetch instrument list", "error", err)
		os.Exit(1)
	}

	agg := ohlc.New(nil)
	go agg.RunOnClose(ctx)

	for _, name := range instruments {
		name := name
		tf := feed.NewTradeFeed(cfg.ChartAgg.FeedURL, name, logger)
		go tf.Run(ctx)
		go consumeTrades(ctx, tf, agg, name)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/history", historyHandler(agg))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("ok")) })

	server := &http.Server{
		Addr:         cfg.ChartAgg.HTTPAddr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("chartagg http server starting", "addr", cfg.ChartAgg.HTTPAddr, "instruments", len(instruments))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("chartagg http server failed", "error", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	server.Shutdown(shutdownCtx)
}

// consumeTrades feeds one instrument's trade stream into the aggregator
// until ctx is cancelled or the feed's channel closes.
func consumeTrades(ctx context.Context, tf *feed.TradeFeed, agg *ohlc.Aggregator, instrumentName string) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-tf.Events():
			if !ok {
				return
			}
			agg.ProcessTrade(instrumentName, msg.Trade.Timestamp, msg.Trade.Price, msg.Trade.Size)
		}
	}
}

// historyHandler serves GET /history?instrument=X&from_ms=..&to_ms=..&resolution=..
// resampling the aggregator's base-resolution bars per §4.5 "History query".
func historyHandler(agg *ohlc.Aggregator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		instrumentName := q.Get("instrument")
		fromMs, _ := strconv.ParseInt(q.Get("from_ms"), 10, 64)
		toMs, _ := strconv.ParseInt(q.Get("to_ms"), 10, 64)

		resolution, ok := ohlc.ParseResolution(q.Get("resolution"))
		if instrumentName == "" || !ok {
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(types.Failure(types.KindInvalidArgument))
			return
		}

		bars := agg.Resample(instrumentName, fromMs, toMs, resolution)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(types.ChartResponse{RequestID: q.Get("request_id"), Bars: bars})
	}
}

type rpcEnvelope struct {
	JSONRPC string         `json:"jsonrpc"`
	ID      int            `json:"id"`
	Method  string         `json:"method"`
	Params  map[string]any `json:"params"`
}

type rpcNamesResult struct {
	Status   string   `json:"status"`
	Response []string `json:"response"`
}

// fetchInstrumentNames asks the exchange process for its full instrument
// list once at startup, the only way cmd/chartagg discovers what to
// subscribe to (it has no instrument registry of its own).
func fetchInstrumentNames(ctx context.Context, rpcURL string) ([]string, error) {
	client := resty.New().SetTimeout(5 * time.Second)

	var result rpcNamesResult
	resp, err := client.R().
		SetContext(ctx).
		SetBody(rpcEnvelope{JSONRPC: "2.0", ID: 1, Method: "public/get_all_instrument_names"}).
		SetResult(&result).
		Post(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("fetch instrument names: %w", err)
	}
	if resp.StatusCode() != http.StatusOK || result.Status != "success" {
		return nil, fmt.Errorf("fetch instrument names: status %d body %s", resp.StatusCode(), resp.String())
	}
	return result.Response, nil
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
