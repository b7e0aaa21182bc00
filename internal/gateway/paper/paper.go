// Package paper simulates the execution gateway without broker calls.
// Bars come from a deterministic random walk; fills are immediate with
// configurable slippage. Useful for paper trading and loop tests.
package paper

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"crossbot/internal/gateway"
	"crossbot/internal/model"
)

// Config configures the paper gateway.
type Config struct {
	Symbol      string
	Point       float64 // default 0.0001
	StartPrice  float64 // default 1.1000
	Spread      float64 // bid/ask distance, default 2 points
	SlippageBps int64   // simulated slippage in basis points
	Seed        int64   // random walk seed; same seed, same series
}

// Gateway is an in-memory gateway.Gateway implementation.
type Gateway struct {
	cfg Config

	mu        sync.Mutex
	connected bool
	rng       *rand.Rand
	bars      []model.Bar
	last      float64
	open      int
	orderSeq  int64

	// RejectNext forces the next SubmitOrder to come back declined.
	RejectNext bool
}

// New creates a paper gateway.
func New(cfg Config) *Gateway {
	if cfg.Point == 0 {
		cfg.Point = 0.0001
	}
	if cfg.StartPrice == 0 {
		cfg.StartPrice = 1.1000
	}
	if cfg.Spread == 0 {
		cfg.Spread = 2 * cfg.Point
	}
	return &Gateway{
		cfg:  cfg,
		rng:  rand.New(rand.NewSource(cfg.Seed)),
		last: cfg.StartPrice,
	}
}

func (g *Gateway) Connect(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.connected = true
	return nil
}

func (g *Gateway) Disconnect() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.connected = false
}

// FetchBars extends the synthetic walk by one bar per call and returns the
// trailing count bars, mimicking a terminal polled once per closed bar.
func (g *Gateway) FetchBars(ctx context.Context, symbol, timeframe string, count int) (model.Series, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.connected {
		return model.Series{}, gateway.ErrConnectionLost
	}

	g.appendBar()
	if len(g.bars) == 0 {
		return model.Series{}, gateway.ErrNoData
	}

	start := 0
	if len(g.bars) > count {
		start = len(g.bars) - count
	}
	out := make([]model.Bar, len(g.bars)-start)
	copy(out, g.bars[start:])
	return model.Series{Symbol: symbol, Bars: out}, nil
}

func (g *Gateway) appendBar() {
	open := g.last
	// Walk a handful of points per bar
	step := float64(g.rng.Intn(11)-5) * g.cfg.Point
	closePx := open + step
	if closePx <= 0 {
		closePx = open
	}
	high, low := closePx, open
	if open > closePx {
		high, low = open, closePx
	}
	var ts time.Time
	if len(g.bars) == 0 {
		ts = time.Now().UTC().Truncate(time.Minute).Add(-time.Hour)
	} else {
		ts = g.bars[len(g.bars)-1].TS.Add(time.Minute)
	}
	g.bars = append(g.bars, model.Bar{TS: ts, Open: open, High: high, Low: low, Close: closePx})
	g.last = closePx
}

func (g *Gateway) Quote(ctx context.Context, symbol string) (model.Quote, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.connected {
		return model.Quote{}, gateway.ErrConnectionLost
	}
	mid := g.last
	return model.Quote{
		Symbol: symbol,
		Bid:    mid - g.cfg.Spread/2,
		Ask:    mid + g.cfg.Spread/2,
		TS:     time.Now().UTC(),
	}, nil
}

func (g *Gateway) SymbolInfo(ctx context.Context, symbol string) (model.SymbolInfo, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.connected {
		return model.SymbolInfo{}, gateway.ErrConnectionLost
	}
	return model.SymbolInfo{Symbol: symbol, Point: g.cfg.Point, Digits: 5, Tradable: true}, nil
}

func (g *Gateway) OpenPositions(ctx context.Context, symbol string) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.connected {
		return 0, gateway.ErrConnectionLost
	}
	return g.open, nil
}

// SubmitOrder fills at the requested price plus simulated slippage.
func (g *Gateway) SubmitOrder(ctx context.Context, req model.OrderRequest) (model.OrderResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.connected {
		return model.OrderResult{}, gateway.ErrConnectionLost
	}
	if g.RejectNext {
		g.RejectNext = false
		return model.OrderResult{OK: false, Reason: "rejected by simulator"}, nil
	}

	fillPrice := req.Price
	if g.cfg.SlippageBps > 0 {
		slip := fillPrice * float64(g.cfg.SlippageBps) / 10000
		if req.Side == model.SignalBuy {
			fillPrice += slip // buy higher
		} else {
			fillPrice -= slip // sell lower
		}
	}

	g.orderSeq++
	g.open++
	return model.OrderResult{
		OK:     true,
		Ticket: fmt.Sprintf("PAPER-%d", g.orderSeq),
		Price:  fillPrice,
	}, nil
}

// ClosePositions flattens the simulated book, as if stops or targets hit.
func (g *Gateway) ClosePositions() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.open = 0
}
