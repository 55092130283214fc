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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/alejandrodnm/kalshibot/config"
	"github.com/alejandrodnm/kalshibot/internal/adapters/kalshi"
	"github.com/alejandrodnm/kalshibot/internal/adapters/metrics"
	"github.com/alejandrodnm/kalshibot/internal/adapters/notify"
	"github.com/alejandrodnm/kalshibot/internal/adapters/oddsapi"
	"github.com/alejandrodnm/kalshibot/internal/adapters/sim"
	"github.com/alejandrodnm/kalshibot/internal/adapters/storage"
	"github.com/alejandrodnm/kalshibot/internal/application/engine"
	"github.com/alejandrodnm/kalshibot/internal/application/engine/portfolio"
	"github.com/alejandrodnm/kalshibot/internal/application/ledger"
	"github.com/alejandrodnm/kalshibot/internal/application/matchcache"
	"github.com/alejandrodnm/kalshibot/internal/application/risk"
	"github.com/alejandrodnm/kalshibot/internal/domain/fairprob"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	once := flag.Bool("once", false, "run one portfolio cycle and exit")
	verbose := flag.Bool("verbose", false, "set log level to debug")
	logFormat := flag.String("format", "", "log format: text|json (overrides config)")
	table := flag.Bool("table", false, "print full position tables (default: compact 1-line)")
	stopFile := flag.String("stop-file", "STOP", "graceful shutdown when this file appears")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err, "path", *configPath)
		os.Exit(1)
	}

	if *verbose {
		cfg.Log.Level = "debug"
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	setupLogger(cfg.Log)

	slog.Info("kalshibot starting",
		"config", *configPath,
		"mode", cfg.Session.Mode,
		"interval", cfg.CycleInterval(),
		"once", *once,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// --- Storage ---
	files := storage.NewFileStore(cfg.Storage.PositionsFile, cfg.Storage.StopOrdersFile)
	tradeLog, err := storage.NewSQLiteStorage(cfg.Storage.SQLiteDSN)
	if err != nil {
		slog.Error("failed to open trade log", "err", err, "dsn", cfg.Storage.SQLiteDSN)
		os.Exit(1)
	}
	defer tradeLog.Close()

	led := ledger.New(files)
	rep, err := led.Load(ctx)
	if err != nil {
		slog.Error("failed to load positions", "err", err, "file", cfg.Storage.PositionsFile)
		os.Exit(1)
	}
	slog.Info("ledger loaded", "positions", rep.Loaded, "dropped", rep.Dropped, "duplicates", rep.Duplicates)

	// --- Venue ---
	venueOpts := []kalshi.Option{
		kalshi.WithTimeout(cfg.VenueTimeout()),
		kalshi.WithRate(cfg.Venue.RatePerSec),
	}
	if cfg.Venue.KeyID != "" && cfg.Venue.KeyPath != "" {
		signer, err := kalshi.LoadRSASigner(cfg.Venue.KeyID, cfg.Venue.KeyPath)
		if err != nil {
			slog.Error("failed to load venue key", "err", err)
			os.Exit(1)
		}
		venueOpts = append(venueOpts, kalshi.WithSigner(signer))
	}
	client := kalshi.NewClient(cfg.Venue.BaseURL, venueOpts...)

	deps := portfolio.Deps{
		Quotes:   client,
		Stops:    files,
		Cooldown: files,
		Trades:   tradeLog,
		Notifier: notify.NewConsole(*table),
	}
	mode := portfolio.ModeSim
	if cfg.IsLive() {
		mode = portfolio.ModeLive
		if !confirmLive(ctx, cfg) {
			return
		}
		deps.Positions = client
		deps.Balance = kalshi.NewCachedBalance(client, cfg.BalanceCacheTTL())
		deps.Exits = client
		deps.Entries = client
		deps.Orders = client
	} else {
		venue := sim.NewVenue(cfg.Session.CapitalSim, client, sim.WithMakerEntries(cfg.Fees.EntryMaker))
		venue.Seed(led.Open())
		deps.Positions = venue
		deps.Balance = venue
		deps.Exits = venue
		deps.Entries = venue
	}

	// --- Odds ---
	if cfg.Odds.APIKey != "" && cfg.Odds.Sport != "" {
		method, err := fairprob.ParseMethod(cfg.Odds.Method)
		if err != nil {
			slog.Error("invalid de-vig method", "err", err)
			os.Exit(1)
		}
		deps.Odds = oddsapi.NewClient(cfg.Odds.BaseURL, cfg.Odds.APIKey, cfg.Odds.Sport)
		deps.Estimator = fairprob.NewEstimator(method, cfg.Odds.DefaultWeight, cfg.Odds.Weights)
		deps.Matcher = engine.StaticMatcher(cfg.Odds.Events)
	} else {
		slog.Info("odds source not configured, signal evaluation disabled")
	}

	// --- Metrics ---
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	prom := metrics.New(reg)
	deps.Metrics = prom

	// --- Session ---
	cache := matchcache.New(matchcache.WithTTL(cfg.MatchTTL()))
	cooldowns := risk.NewCooldowns(cfg.Cooldown(), *cfg.Risk.AllowRecovery)
	session := portfolio.NewSession(mode, led, cache, cooldowns)
	defer session.End()

	eng := portfolio.New(portfolio.Config{
		Mode:    mode,
		Capital: cfg.Session.CapitalSim,
		Limits: risk.Limits{
			CapPct:          cfg.Risk.CapPct,
			HedgeCapPct:     cfg.Risk.HedgeCapPct,
			MaxEventDollars: cfg.Risk.MaxEventDollars,
			MaxPortfolioPct: cfg.Risk.MaxPortfolioPct,
		},
		MinEdge:        cfg.Strategy.MinEdge,
		StakeDollars:   cfg.Strategy.StakeDollars,
		StopLossDrop:   cfg.Strategy.StopLossDrop,
		TakeProfitRise: cfg.Strategy.TakeProfitRise,
		PlaceEntries:   cfg.Strategy.PlaceEntries,
		Fees:           portfolio.FeeSchedule{EntryMaker: cfg.Fees.EntryMaker},
	}, session, deps)

	if err := eng.Restore(ctx); err != nil {
		slog.Error("failed to restore session state", "err", err)
		os.Exit(1)
	}

	if *once {
		runCycle(ctx, eng, 1)
		if deps.Odds != nil {
			runSignals(ctx, eng)
		}
		return
	}

	if cfg.API.Enabled {
		stopAPI := serveAPI(cfg.API.Listen, eng, cache, prom.Handler())
		defer stopAPI()
	}

	run(ctx, eng, cfg, deps.Odds != nil, *stopFile)
	slog.Info("kalshibot stopped cleanly",
		"session", session.ID,
		"realized", fmt.Sprintf("$%.2f", session.Realized),
		"wins", session.Wins,
		"losses", session.Losses)
}

// confirmLive gives the operator a few seconds to abort before real orders.
func confirmLive(ctx context.Context, cfg *config.Config) bool {
	fmt.Printf("\n⚠️  LIVE MODE: exits and entries are sent to the venue\n")
	fmt.Printf("   Cap per side/event: %.0f%% | Stop drop: %.2f | Entries: %v\n",
		cfg.Risk.CapPct*100, cfg.Strategy.StopLossDrop, cfg.Strategy.PlaceEntries)
	fmt.Printf("   Press Ctrl+C within 5 seconds to abort...\n\n")

	t := time.NewTimer(5 * time.Second)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		slog.Info("live mode aborted by user")
		return false
	}
}

func setupLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
