package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration loaded from environment
// variables. Immutable after Load; every component receives what it needs
// at construction.
type Config struct {
	// Instrument & strategy
	Symbol         string
	Timeframe      string
	SMAShortPeriod int
	SMALongPeriod  int
	BarCount       int
	LotSize        float64
	StopLossPips   float64
	TakeProfitPips float64
	DeviationPts   int
	PollInterval   time.Duration
	MaxReconnects  int

	// Terminal bridge (live mode)
	PaperMode        bool
	BridgeURL        string
	BridgeAccount    string
	BridgeTOTPSecret string
	StreamQuotes     bool

	// Persistence & infrastructure
	LedgerPath    string
	JournalPath   string
	RedisAddr     string
	RedisPassword string
	MetricsAddr   string
}

// Load reads configuration from environment variables with sensible defaults.
// Bridge credentials are only required outside paper mode.
func Load() *Config {
	cfg := &Config{
		Symbol:         getEnv("SYMBOL", "EURUSD"),
		Timeframe:      getEnv("TIMEFRAME", "M1"),
		SMAShortPeriod: getEnvInt("SMA_SHORT_PERIOD", 20),
		SMALongPeriod:  getEnvInt("SMA_LONG_PERIOD", 50),
		BarCount:       getEnvInt("BAR_COUNT", 100),
		LotSize:        getEnvFloat("LOT_SIZE", 0.1),
		StopLossPips:   getEnvFloat("STOP_LOSS_PIPS", 50),
		TakeProfitPips: getEnvFloat("TAKE_PROFIT_PIPS", 100),
		DeviationPts:   getEnvInt("DEVIATION_POINTS", 20),
		PollInterval:   time.Duration(getEnvInt("POLL_INTERVAL_SECONDS", 60)) * time.Second,
		MaxReconnects:  getEnvInt("MAX_RECONNECTS", 5),

		PaperMode:    getEnvBool("PAPER_MODE", false),
		StreamQuotes: getEnvBool("STREAM_QUOTES", true),

		LedgerPath:    getEnv("LEDGER_PATH", "data/trades.csv"),
		JournalPath:   getEnv("JOURNAL_PATH", "data/trades.db"),
		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		MetricsAddr:   getEnv("METRICS_ADDR", ":9090"),
	}

	if !cfg.PaperMode {
		cfg.BridgeURL = mustEnv("BRIDGE_URL")
		cfg.BridgeAccount = mustEnv("BRIDGE_ACCOUNT")
		cfg.BridgeTOTPSecret = getEnv("BRIDGE_TOTP_SECRET", "")
	}

	return cfg
}

// Validate checks the invariants the loop depends on. Any violation is fatal
// at startup, before the first cycle.
func (c *Config) Validate() error {
	if c.Symbol == "" {
		return fmt.Errorf("SYMBOL must not be empty")
	}
	if c.Timeframe == "" {
		return fmt.Errorf("TIMEFRAME must not be empty")
	}
	if c.SMAShortPeriod <= 0 || c.SMALongPeriod <= 0 {
		return fmt.Errorf("SMA periods must be positive, got short=%d long=%d", c.SMAShortPeriod, c.SMALongPeriod)
	}
	if c.SMAShortPeriod >= c.SMALongPeriod {
		return fmt.Errorf("SMA_SHORT_PERIOD (%d) must be less than SMA_LONG_PERIOD (%d)", c.SMAShortPeriod, c.SMALongPeriod)
	}
	if c.BarCount < c.SMALongPeriod {
		return fmt.Errorf("BAR_COUNT (%d) must be at least SMA_LONG_PERIOD (%d)", c.BarCount, c.SMALongPeriod)
	}
	if c.LotSize <= 0 {
		return fmt.Errorf("LOT_SIZE must be positive, got %v", c.LotSize)
	}
	if c.StopLossPips < 0 || c.TakeProfitPips < 0 {
		return fmt.Errorf("STOP_LOSS_PIPS and TAKE_PROFIT_PIPS must be >= 0")
	}
	if c.DeviationPts < 0 {
		return fmt.Errorf("DEVIATION_POINTS must be >= 0, got %d", c.DeviationPts)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("POLL_INTERVAL_SECONDS must be positive")
	}
	if c.MaxReconnects <= 0 {
		return fmt.Errorf("MAX_RECONNECTS must be positive, got %d", c.MaxReconnects)
	}
	return nil
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		log.Fatalf("[config] required env var %s not set", key)
	}
	return v
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %d", key, v, fallback)
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %v", key, v, fallback)
		return fallback
	}
	return f
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %v", key, v, fallback)
		return fallback
	}
	return b
}
