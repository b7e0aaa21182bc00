package main

import (
	"context"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"crossbot/config"
	"crossbot/internal/gateway"
	"crossbot/internal/gateway/bridge"
	"crossbot/internal/gateway/paper"
	"crossbot/internal/ledger"
	"crossbot/internal/logger"
	"crossbot/internal/loop"
	"crossbot/internal/metrics"
	"crossbot/internal/model"
	"crossbot/internal/sizing"
	redisstore "crossbot/internal/store/redis"
)

func main() {
	logger.Init("crossbot", slog.LevelInfo)
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	log.Println("[bot] starting...")

	// ---- Load & validate config ----
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("[bot] invalid configuration: %v", err)
	}
	if cfg.PaperMode {
		log.Println("[bot] *** PAPER MODE: simulated gateway, no broker calls ***")
	}

	// ---- Metrics & health ----
	prom := metrics.NewMetrics()
	health := metrics.NewHealthStatus()
	health.SetSymbol(cfg.Symbol)
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health)
	metricsSrv.Start()

	// ---- Graceful shutdown on SIGINT/SIGTERM ----
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("[bot] shutdown signal received")
		cancel()
	}()

	// ---- Trade ledger (CSV, source of truth) ----
	if dir := filepath.Dir(cfg.LedgerPath); dir != "." {
		os.MkdirAll(dir, 0o755)
	}
	// Resources closed on both the clean and the fatal exit path.
	var resources []io.Closer
	defer func() { closeAll(resources) }()

	csvLedger, err := ledger.Open(cfg.LedgerPath)
	if err != nil {
		log.Fatalf("[bot] ledger init failed: %v", err)
	}
	resources = append(resources, csvLedger)
	log.Printf("[bot] trade ledger ready at %s", cfg.LedgerPath)

	recorders := []loop.Recorder{timedRecorder{csvLedger, prom}}

	// ---- SQLite journal mirror (optional) ----
	var journal *ledger.Journal
	if cfg.JournalPath != "" {
		journal, err = ledger.OpenJournal(cfg.JournalPath)
		if err != nil {
			log.Printf("[bot] WARNING: journal init failed: %v (continuing without journal)", err)
		} else {
			resources = append(resources, journal)
			health.SetJournalOK(true)
			recorders = append(recorders, journalRecorder{journal})
		}
	}

	// ---- Redis evaluation publisher (optional) ----
	var publisher *redisstore.Publisher
	if cfg.RedisAddr != "" {
		publisher, err = redisstore.New(redisstore.PublisherConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		if err != nil {
			log.Printf("[bot] WARNING: redis init failed: %v (continuing without redis)", err)
			health.SetRedisConnected(false)
		} else {
			resources = append(resources, publisher)
			health.SetRedisConnected(true)
		}
	}

	// ---- Periodic liveness checks ----
	if publisher != nil && journal != nil {
		health.StartLivenessChecker(ctx, publisher.Client(), journal.DB(), 10*time.Second)
	} else if publisher != nil {
		health.StartLivenessChecker(ctx, publisher.Client(), nil, 10*time.Second)
	} else if journal != nil {
		health.StartLivenessChecker(ctx, nil, journal.DB(), 10*time.Second)
	}

	// ---- Gateway: paper or terminal bridge ----
	var gw gateway.Gateway
	if cfg.PaperMode {
		gw = paper.New(paper.Config{Symbol: cfg.Symbol, SlippageBps: 5, Seed: time.Now().UnixNano()})
	} else {
		gw, err = bridge.New(bridge.Config{
			BaseURL:      cfg.BridgeURL,
			Account:      cfg.BridgeAccount,
			TOTPSecret:   cfg.BridgeTOTPSecret,
			StreamQuotes: cfg.StreamQuotes,
		})
		if err != nil {
			log.Fatalf("[bot] bridge init failed: %v", err)
		}
	}
	gw = &gateway.Instrumented{Next: gw, Observe: func(call string, seconds float64) {
		prom.GatewayCallDur.WithLabelValues(call).Observe(seconds)
	}}

	// ---- Trading loop ----
	tradingLoop, err := loop.New(loop.Config{
		Symbol:         cfg.Symbol,
		Timeframe:      cfg.Timeframe,
		BarCount:       cfg.BarCount,
		ShortPeriod:    cfg.SMAShortPeriod,
		LongPeriod:     cfg.SMALongPeriod,
		StopLossPips:   cfg.StopLossPips,
		TakeProfitPips: cfg.TakeProfitPips,
		Deviation:      cfg.DeviationPts,
		PollInterval:   cfg.PollInterval,
		MaxReconnects:  cfg.MaxReconnects,
	}, gw, sizing.NewFixedLot(cfg.LotSize), recorders...)
	if err != nil {
		log.Fatalf("[bot] invalid configuration: %v", err)
	}

	tradingLoop.OnStateChange = func(s loop.State) {
		prom.LoopState.Set(metrics.StateValue(string(s)))
		if s == loop.StateShuttingDown {
			health.SetGatewayConnected(false)
		}
	}
	tradingLoop.OnReconnect = func(attempt int) {
		prom.Reconnects.Inc()
	}
	tradingLoop.OnEvaluation = func(eval loop.Evaluation) {
		prom.CyclesTotal.Inc()
		prom.CycleOutcomes.WithLabelValues(string(eval.Outcome)).Inc()
		prom.SignalsTotal.WithLabelValues(string(eval.Signal)).Inc()
		prom.SMAShort.Set(eval.Short)
		prom.SMALong.Set(eval.Long)
		prom.OpenPositions.Set(float64(eval.Open))
		switch eval.Outcome {
		case loop.OutcomeOrderPlaced:
			prom.OrdersPlaced.Inc()
		case loop.OutcomeOrderRejected:
			prom.OrdersRejected.Inc()
		}
		health.SetGatewayConnected(true)
		health.SetLastCycleTime(eval.CycleTS)
		if publisher != nil {
			pubCtx, pubCancel := context.WithTimeout(context.Background(), 2*time.Second)
			publisher.Publish(pubCtx, eval)
			pubCancel()
		}
	}

	log.Printf("[bot] %s %s SMA(%d/%d) lot=%v poll=%v",
		cfg.Symbol, cfg.Timeframe, cfg.SMAShortPeriod, cfg.SMALongPeriod, cfg.LotSize, cfg.PollInterval)

	// Blocks until ctx is cancelled or connectivity is exhausted.
	runErr := tradingLoop.Run(ctx)

	// ---- Shutdown ----
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	metricsSrv.Stop(shutdownCtx)

	if runErr != nil {
		log.Printf("[bot] fatal: %v", runErr)
		// os.Exit skips deferred closes; release resources here.
		closeAll(resources)
		os.Exit(1)
	}
	log.Println("[bot] shutdown complete.")
}

// closeAll releases resources in reverse acquisition order.
func closeAll(closers []io.Closer) {
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i].Close(); err != nil {
			log.Printf("[bot] close failed: %v", err)
		}
	}
}

// journalRecorder adapts the SQLite journal to the loop's Recorder interface.
type journalRecorder struct {
	j *ledger.Journal
}

func (r journalRecorder) Append(rec model.TradeRecord) error {
	return r.j.Record(rec)
}

// timedRecorder reports CSV append latency to the ledger histogram.
type timedRecorder struct {
	r    loop.Recorder
	prom *metrics.Metrics
}

func (t timedRecorder) Append(rec model.TradeRecord) error {
	start := time.Now()
	err := t.r.Append(rec)
	t.prom.LedgerAppendDur.Observe(time.Since(start).Seconds())
	return err
}
