package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the trading agent.
type Metrics struct {
	CyclesTotal    prometheus.Counter
	SignalsTotal   *prometheus.CounterVec // labels: signal
	CycleOutcomes  *prometheus.CounterVec // labels: outcome
	OrdersPlaced   prometheus.Counter
	OrdersRejected prometheus.Counter
	Reconnects     prometheus.Counter

	GatewayCallDur  *prometheus.HistogramVec // labels: call
	LedgerAppendDur prometheus.Histogram

	LoopState     prometheus.Gauge // enumerated cycle state
	OpenPositions prometheus.Gauge
	SMAShort      prometheus.Gauge
	SMALong       prometheus.Gauge
}

// NewMetrics registers and returns all Prometheus metrics.
func NewMetrics() *Metrics {
	m := &Metrics{
		CyclesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crossbot_cycles_total",
			Help: "Total polling cycles evaluated",
		}),
		SignalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crossbot_signals_total",
			Help: "Crossover signals by direction",
		}, []string{"signal"}),
		CycleOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crossbot_cycle_outcomes_total",
			Help: "Cycle outcomes (no_signal, order_placed, ...)",
		}, []string{"outcome"}),
		OrdersPlaced: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crossbot_orders_placed_total",
			Help: "Orders accepted by the broker",
		}),
		OrdersRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crossbot_orders_rejected_total",
			Help: "Orders declined by the broker",
		}),
		Reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crossbot_gateway_reconnects_total",
			Help: "Gateway reconnection attempts",
		}),
		GatewayCallDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "crossbot_gateway_call_duration_seconds",
			Help:    "Gateway call latency by call type",
			Buckets: prometheus.DefBuckets,
		}, []string{"call"}),
		LedgerAppendDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "crossbot_ledger_append_duration_seconds",
			Help:    "Trade ledger append latency",
			Buckets: prometheus.DefBuckets,
		}),
		LoopState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "crossbot_loop_state",
			Help: "Loop state (0=idle 1=fetch 2=compute 3=position 4=execute 5=log 6=sleep 7=shutdown)",
		}),
		OpenPositions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "crossbot_open_positions",
			Help: "Open positions for the traded symbol at last check",
		}),
		SMAShort: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "crossbot_sma_short",
			Help: "Short SMA at last evaluated bar",
		}),
		SMALong: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "crossbot_sma_long",
			Help: "Long SMA at last evaluated bar",
		}),
	}

	prometheus.MustRegister(
		m.CyclesTotal,
		m.SignalsTotal,
		m.CycleOutcomes,
		m.OrdersPlaced,
		m.OrdersRejected,
		m.Reconnects,
		m.GatewayCallDur,
		m.LedgerAppendDur,
		m.LoopState,
		m.OpenPositions,
		m.SMAShort,
		m.SMALong,
	)

	return m
}

// StateValue maps a loop state name onto the LoopState gauge scale.
func StateValue(state string) float64 {
	switch state {
	case "IDLE":
		return 0
	case "FETCHING_DATA":
		return 1
	case "COMPUTING_SIGNAL":
		return 2
	case "CHECKING_POSITION":
		return 3
	case "EXECUTING":
		return 4
	case "LOGGING":
		return 5
	case "SLEEPING":
		return 6
	case "SHUTTING_DOWN":
		return 7
	}
	return -1
}

// HealthStatus represents the agent health.
type HealthStatus struct {
	mu sync.RWMutex

	GatewayConnected bool      `json:"gateway_connected"`
	LastCycleTime    time.Time `json:"last_cycle_time"`
	RedisConnected   bool      `json:"redis_connected"`
	JournalOK        bool      `json:"journal_ok"`
	Symbol           string    `json:"symbol"`

	// Liveness probe results
	RedisLatencyMs   float64   `json:"redis_latency_ms"`
	JournalLatencyMs float64   `json:"journal_latency_ms"`
	LastCheckAt      time.Time `json:"last_check_at"`
	StartedAt        time.Time `json:"started_at"`
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{
		StartedAt: time.Now(),
	}
}

func (h *HealthStatus) SetGatewayConnected(v bool) {
	h.mu.Lock()
	h.GatewayConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastCycleTime(t time.Time) {
	h.mu.Lock()
	h.LastCycleTime = t
	h.mu.Unlock()
}

func (h *HealthStatus) SetRedisConnected(v bool) {
	h.mu.Lock()
	h.RedisConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetJournalOK(v bool) {
	h.mu.Lock()
	h.JournalOK = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetSymbol(s string) {
	h.mu.Lock()
	h.Symbol = s
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckJournal runs a trivial query and records latency + health.
func (h *HealthStatus) CheckJournal(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.JournalOK = err == nil
	h.JournalLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, journalDB *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if rdb != nil {
					h.CheckRedis(probeCtx, rdb)
				}
				if journalDB != nil {
					h.CheckJournal(probeCtx, journalDB)
				}
				cancel()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overallStatus := "healthy"
	httpCode := http.StatusOK
	if !h.GatewayConnected {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}

	cycleAge := ""
	if !h.LastCycleTime.IsZero() {
		cycleAge = time.Since(h.LastCycleTime).Round(time.Millisecond).String()
	}

	status := struct {
		Status           string  `json:"status"`
		Uptime           string  `json:"uptime"`
		Symbol           string  `json:"symbol"`
		GatewayConnected bool    `json:"gateway_connected"`
		LastCycleTime    string  `json:"last_cycle_time"`
		CycleAge         string  `json:"cycle_age"`
		RedisConnected   bool    `json:"redis_connected"`
		RedisLatencyMs   float64 `json:"redis_latency_ms"`
		JournalOK        bool    `json:"journal_ok"`
		JournalLatencyMs float64 `json:"journal_latency_ms"`
		LastCheckAt      string  `json:"last_check_at"`
	}{
		Status:           overallStatus,
		Uptime:           time.Since(h.StartedAt).Round(time.Second).String(),
		Symbol:           h.Symbol,
		GatewayConnected: h.GatewayConnected,
		LastCycleTime:    h.LastCycleTime.Format(time.RFC3339),
		CycleAge:         cycleAge,
		RedisConnected:   h.RedisConnected,
		JournalOK:        h.JournalOK,
		JournalLatencyMs: h.JournalLatencyMs,
		RedisLatencyMs:   h.RedisLatencyMs,
		LastCheckAt:      h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	health *HealthStatus
	addr   string
	srv    *http.Server
}

// NewServer creates a metrics and health server.
func NewServer(addr string, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		health: health,
		addr:   addr,
		srv: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
