// streamtest connects to the price feed and streams merged series snapshots
// to the console.
// Usage: go run ./cmd/streamtest --config configs/pricesync.example.yaml --instrument ETH-USD
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pricesync/internal/api"
	"pricesync/internal/config"
	"pricesync/internal/feed"
	"pricesync/internal/model"
	"pricesync/internal/quote"
	"pricesync/internal/series"
	"pricesync/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/pricesync.example.yaml", "path to config file")
	instrument := flag.String("instrument", "", "instrument to stream (required)")
	windowName := flag.String("window", "", "chart window (day, week, month); defaults from config")
	quoteAmount := flag.Float64("quote-amount", 0, "if set, request a buy quote for this amount")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	if *instrument == "" {
		logger.Error("--instrument is required")
		os.Exit(1)
	}

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	window := model.Window(cfg.Series.DefaultWindow)
	if *windowName != "" {
		window = model.Window(*windowName)
	}
	if !window.Valid() {
		logger.Error("invalid window", "window", window)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	apiClient := api.NewClient(cfg.API.BaseURL, cfg.API.AuthToken,
		api.WithTimeout(cfg.API.Timeout),
		api.WithRetries(cfg.API.MaxRetries, cfg.API.RetryBackoff),
		api.WithLogger(logger),
	)

	mgrCfg := feed.ManagerConfig{
		URL:                  cfg.Feed.URL,
		AuthToken:            cfg.Feed.AuthToken,
		PingInterval:         cfg.Feed.PingInterval,
		PingTimeout:          cfg.Feed.PingTimeout,
		WriteTimeout:         cfg.Feed.WriteTimeout,
		ReconnectBaseDelay:   cfg.Feed.ReconnectBaseDelay,
		MaxReconnectAttempts: cfg.Feed.MaxReconnectAttempts,
		BufferSize:           cfg.Feed.BufferSize,
	}
	mgr := feed.NewManager(mgrCfg, logger)

	rec := series.NewReconciler(mgr, apiClient.History, cfg.Series.UpdateBufferSize, logger)

	coord := quote.NewCoordinator(func(ctx context.Context, req quote.Request) (model.Quote, error) {
		return apiClient.Quote(ctx, req.InstrumentID, req.Side, req.Amount)
	}, cfg.Quote.QuietPeriod, logger)

	logger.Info("connecting to feed", "url", cfg.Feed.URL)
	if err := mgr.Connect(ctx); err != nil {
		logger.Error("initial connect failed, retrying in background", "error", err)
	}

	if err := rec.Select(ctx, *instrument, window); err != nil {
		logger.Error("failed to select instrument", "error", err)
		os.Exit(1)
	}

	if *quoteAmount > 0 {
		if err := coord.SetInput(ctx, quote.Request{
			InstrumentID: *instrument,
			Side:         model.SideBuy,
			Amount:       *quoteAmount,
		}); err != nil {
			logger.Error("failed to request quote", "error", err)
		}
		go printQuotes(ctx, coord.Updates())
	}

	go printSnapshots(ctx, rec.Updates())

	// Stats printer
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				stats := mgr.Stats()
				logger.Info("stats",
					"state", stats.State,
					"instruments", stats.Instruments,
					"consumer_refs", stats.ConsumerRefs,
					"attempt", stats.Attempt,
				)
			}
		}
	}()

	logger.Info("streaming started - press Ctrl+C to stop",
		"instrument", *instrument,
		"window", window,
	)

	<-ctx.Done()

	logger.Info("shutting down...")
	coord.Close()
	rec.Close()
	mgr.Close()
	logger.Info("shutdown complete")
}

func printSnapshots(ctx context.Context, updates <-chan series.Snapshot) {
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-updates:
			if !ok {
				return
			}
			if snap.Err != nil {
				fmt.Printf("[SERIES] instrument=%s window=%s error=%v\n",
					snap.InstrumentID, snap.Window, snap.Err)
				continue
			}
			var last string
			if snap.Latest != nil {
				last = fmt.Sprintf("%.4f @ %d", snap.Latest.Price, snap.Latest.Timestamp)
			}
			fmt.Printf("[SERIES] instrument=%s window=%s points=%d latest=%s\n",
				snap.InstrumentID, snap.Window, len(snap.Points), last)
		}
	}
}

func printQuotes(ctx context.Context, updates <-chan quote.Snapshot) {
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-updates:
			if !ok {
				return
			}
			switch snap.Status {
			case quote.StatusDone:
				fmt.Printf("[QUOTE] %s %s %.4f -> out=%.4f price=%.4f spread_bps=%.1f fee=%.4f\n",
					snap.Input.Side, snap.Input.InstrumentID, snap.Input.Amount,
					snap.Result.OutputAmount, snap.Result.EffectivePrice,
					snap.Result.SpreadBps, snap.Result.Fee)
			case quote.StatusFailed:
				fmt.Printf("[QUOTE] %s %s %.4f failed: %v\n",
					snap.Input.Side, snap.Input.InstrumentID, snap.Input.Amount, snap.Err)
			}
		}
	}
}
