package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/bnzr-team/grinder-sub001/internal/budget"
	"github.com/bnzr-team/grinder-sub001/internal/config"
	"github.com/bnzr-team/grinder-sub001/internal/engine"
	"github.com/bnzr-team/grinder-sub001/internal/exchange"
	"github.com/bnzr-team/grinder-sub001/internal/feed"
	"github.com/bnzr-team/grinder-sub001/internal/fsm"
	"github.com/bnzr-team/grinder-sub001/internal/leader"
	"github.com/bnzr-team/grinder-sub001/internal/logger"
	"github.com/bnzr-team/grinder-sub001/internal/models"
	"github.com/bnzr-team/grinder-sub001/internal/persistence"
	"github.com/bnzr-team/grinder-sub001/internal/recon"
	"github.com/bnzr-team/grinder-sub001/internal/reporter"
	"github.com/bnzr-team/grinder-sub001/internal/router"
	"github.com/bnzr-team/grinder-sub001/internal/telemetry"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
)

const (
	liveWSBaseURL    = "wss://fstream.binance.com/ws"
	testnetWSBaseURL = "wss://stream.binancefuture.com/ws"
)

func main() {
	configPath := flag.String("config", "config.json", "path to the config file")
	mode := flag.String("mode", "replay", "running mode: replay or live")
	dataPath := flag.String("data", "", "path to an ndjson snapshot file for replay")
	instance := flag.String("instance", "grinder-0", "instance name for leader election")
	flag.Parse()

	logger.InitLogger(models.LogConfig{Level: "info", Output: "console"})

	if err := godotenv.Load(); err != nil {
		logger.S().Info("no .env file found, reading from process environment")
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.S().Fatalf("failed to load config: %v", err)
	}
	logger.InitLogger(cfg.Log)
	defer logger.S().Sync()

	var metrics *telemetry.Metrics
	if cfg.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		metrics = telemetry.New(reg)
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
			if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
				logger.S().Errorw("metrics endpoint failed", "error", err)
			}
		}()
	}

	var repo persistence.StateRepository
	if cfg.DBPath != "" {
		repo, err = persistence.NewBadgerRepository(cfg.DBPath)
		if err != nil {
			logger.S().Fatalf("failed to open state db: %v", err)
		}
	} else {
		repo = persistence.NewMemoryRepository()
	}
	defer repo.Close()

	var port exchange.Port
	var sim *exchange.SimExchange
	switch *mode {
	case "replay":
		sim = exchange.NewSimExchange(cfg.Rules)
		port = sim
	case "live":
		apiKey := os.Getenv("BINANCE_API_KEY")
		secretKey := os.Getenv("BINANCE_SECRET_KEY")
		if apiKey == "" || secretKey == "" {
			logger.S().Fatal("BINANCE_API_KEY and BINANCE_SECRET_KEY must be set for live mode")
		}
		port = exchange.NewRetryingPort(
			exchange.NewBinancePort(apiKey, secretKey, cfg.Live.UseTestnet, metrics, logger.S()),
			3, logger.S())
	default:
		logger.S().Fatalf("unknown mode %q, expected replay or live", *mode)
	}

	b, err := budget.NewBudget(cfg.Budget, repo, time.Now(), metrics, logger.S())
	if err != nil {
		logger.S().Fatalf("failed to restore budget state: %v", err)
	}
	breaker := budget.NewBreaker(cfg.Breaker, metrics, logger.S())
	orch := fsm.NewOrchestrator(repo, metrics, logger.S())
	coord := leader.NewCoordinator(cfg.Leader, *instance, leader.NewMemoryBackend(), repo, metrics, logger.S())
	if *mode == "live" {
		logger.S().Warn("leader lease backend is in-memory: mutual exclusion holds within this process only, " +
			"running a second live instance against the same account is unsafe")
	}
	r := router.New(cfg.Router, cfg.Rules, router.NewOpenOrderView(), metrics, logger.S())
	eng := engine.New(cfg, r, b, breaker, orch, coord, port, metrics, logger.S())
	if sim != nil {
		eng.SetFillSource(sim)
	} else {
		eng.SetFillSource(engine.NewPollingFills(port, r.View()))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go coord.Run(ctx)
	coord.Tick()

	if err := orch.Fire(fsm.EventStartupComplete, "startup checks passed", time.Now()); err != nil {
		logger.S().Fatalf("failed to enter READY: %v", err)
	}

	prices := &lastPrices{}
	reconEngine := recon.NewEngine(cfg.Recon, cfg.Rules, port, r.View(), eng.Trips(), eng, metrics, logger.S())
	go reconEngine.Run(ctx, cfg.Symbols, prices.get)

	switch *mode {
	case "replay":
		runReplay(ctx, cfg, eng, prices, *dataPath, metrics)
	case "live":
		runLive(ctx, cfg, eng, prices)
	}
}

// lastPrices tracks the most recent mid per symbol, pricing flatten orders
// planned by reconciliation.
type lastPrices struct {
	mu   sync.Mutex
	mids map[string]decimal.Decimal
}

func (p *lastPrices) set(snap models.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.mids == nil {
		p.mids = make(map[string]decimal.Decimal)
	}
	p.mids[snap.Symbol] = snap.Mid()
}

func (p *lastPrices) get(symbol string) decimal.Decimal {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mids[symbol]
}

func runReplay(ctx context.Context, cfg *models.Config, eng *engine.Engine, prices *lastPrices, dataPath string, metrics *telemetry.Metrics) {
	if dataPath == "" {
		logger.S().Fatal("replay mode requires -data")
	}
	f, err := os.Open(dataPath)
	if err != nil {
		logger.S().Fatalf("failed to open data file: %v", err)
	}
	defer f.Close()

	reader := feed.NewReader(f, metrics, logger.S())
	start := time.Now()
	var firstTS, lastTS time.Time

	digest, err := eng.Run(ctx, func() (models.Snapshot, error) {
		snap, err := reader.Next()
		if err == nil {
			prices.set(snap)
			if firstTS.IsZero() {
				firstTS = snap.TS
			}
			lastTS = snap.TS
		}
		return snap, err
	})
	if err != nil {
		logger.S().Fatalf("replay failed: %v", err)
	}
	logger.S().Infow("replay finished",
		"digest", digest,
		"elapsed", time.Since(start),
		"rejectedRecords", reader.ParseErrors())

	reporter.WriteSummary(os.Stdout, reporter.RunStats{
		DataPath:    dataPath,
		Symbols:     cfg.Symbols,
		StartTS:     firstTS,
		EndTS:       lastTS,
		Digest:      digest,
		ParseErrors: reader.ParseErrors(),
		Trips:       eng.Trips().Trips(),
	})
	reporter.WriteRoundTrips(os.Stdout, eng.Trips().Trips())
}

func runLive(ctx context.Context, cfg *models.Config, eng *engine.Engine, prices *lastPrices) {
	wsBase := liveWSBaseURL
	if cfg.Live.UseTestnet {
		wsBase = testnetWSBaseURL
	}

	merged := make(chan models.Snapshot, 1024)
	for _, sym := range cfg.Symbols {
		src := feed.NewWSSource(wsBase, sym, logger.S())
		go src.Run(ctx)
		go func() {
			for snap := range src.Out() {
				select {
				case merged <- snap:
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	logger.S().Infow("live mode started", "symbols", cfg.Symbols, "testnet", cfg.Live.UseTestnet)
	if _, err := eng.Run(ctx, func() (models.Snapshot, error) {
		select {
		case snap := <-merged:
			prices.set(snap)
			return snap, nil
		case <-ctx.Done():
			return models.Snapshot{}, ctx.Err()
		}
	}); err != nil && ctx.Err() == nil {
		logger.S().Fatalf("live run failed: %v", err)
	}
	logger.S().Info("shutdown complete")
}
