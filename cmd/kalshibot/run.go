package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/alejandrodnm/kalshibot/config"
	"github.com/alejandrodnm/kalshibot/internal/adapters/api"
	"github.com/alejandrodnm/kalshibot/internal/application/engine/portfolio"
	"github.com/alejandrodnm/kalshibot/internal/application/matchcache"
)

// run drives the cycle and odds tickers from one goroutine so the session
// has a single writer.
func run(ctx context.Context, eng *portfolio.Engine, cfg *config.Config, odds bool, stopFile string) {
	cycleTicker := time.NewTicker(cfg.CycleInterval())
	defer cycleTicker.Stop()

	var oddsC <-chan time.Time
	if odds {
		t := time.NewTicker(cfg.OddsInterval())
		defer t.Stop()
		oddsC = t.C
	}

	slog.Info("portfolio loop started, press Ctrl+C or create the stop file to exit", "stop_file", stopFile)

	cycle := 1
	runCycle(ctx, eng, cycle)
	if odds {
		runSignals(ctx, eng)
	}

	for {
		select {
		case <-ctx.Done():
			slog.Info("portfolio loop stopped (signal)", "total_cycles", cycle)
			return
		case <-cycleTicker.C:
			if _, err := os.Stat(stopFile); err == nil {
				slog.Info("stop file detected, shutting down", "file", stopFile, "total_cycles", cycle)
				os.Remove(stopFile)
				return
			}
			cycle++
			runCycle(ctx, eng, cycle)
		case <-oddsC:
			runSignals(ctx, eng)
		}
	}
}

func runCycle(ctx context.Context, eng *portfolio.Engine, cycle int) {
	res, err := eng.RunOnce(ctx)
	if err != nil {
		slog.Error("portfolio cycle failed", "cycle", cycle, "err", err)
		return
	}
	slog.Info("portfolio: cycle complete",
		"cycle", cycle,
		"open", len(res.Marks),
		"closed", len(res.Closed),
		"added", res.Added,
		"exits", res.ExitsPlaced,
		"exposure", fmt.Sprintf("$%.2f", res.Exposure),
		"equity", fmt.Sprintf("$%.2f", res.Equity),
	)
}

func runSignals(ctx context.Context, eng *portfolio.Engine) {
	signals, err := eng.EvaluateSignals(ctx)
	if err != nil {
		slog.Warn("signals: evaluation failed", "err", err)
		return
	}
	for _, s := range signals {
		slog.Info("signals: edge",
			"market", s.MarketID,
			"side", s.Side,
			"fair", fmt.Sprintf("%.3f", s.Fair),
			"ask", fmt.Sprintf("%.2f", s.Ask),
			"edge", fmt.Sprintf("%.3f", s.Edge),
			"qty", s.DesiredQty,
			"allowed", s.Decision.AllowedQty,
			"blocked", s.Blocked,
			"filled", s.Filled,
		)
	}
}

// serveAPI starts the status server and returns its shutdown func.
func serveAPI(addr string, eng *portfolio.Engine, cache *matchcache.Cache, metrics http.Handler) func() {
	srv := &http.Server{
		Addr:         addr,
		Handler:      api.NewServer(eng, cache, metrics).Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("api listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("api server error", "err", err)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		slog.Info("shutting down api...")
		if err := srv.Shutdown(ctx); err != nil {
			slog.Error("api shutdown error", "err", err)
		}
	}
}
