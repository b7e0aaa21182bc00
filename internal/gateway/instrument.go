package gateway

import (
	"context"
	"time"

	"crossbot/internal/model"
)

// Instrumented wraps a Gateway and reports the latency of every call.
// Observe receives the call name and the elapsed seconds.
type Instrumented struct {
	Next    Gateway
	Observe func(call string, seconds float64)
}

func (g *Instrumented) timed(call string, start time.Time) {
	if g.Observe != nil {
		g.Observe(call, time.Since(start).Seconds())
	}
}

func (g *Instrumented) Connect(ctx context.Context) error {
	defer g.timed("connect", time.Now())
	return g.Next.Connect(ctx)
}

func (g *Instrumented) Disconnect() {
	g.Next.Disconnect()
}

func (g *Instrumented) FetchBars(ctx context.Context, symbol, timeframe string, count int) (model.Series, error) {
	defer g.timed("fetch_bars", time.Now())
	return g.Next.FetchBars(ctx, symbol, timeframe, count)
}

func (g *Instrumented) Quote(ctx context.Context, symbol string) (model.Quote, error) {
	defer g.timed("quote", time.Now())
	return g.Next.Quote(ctx, symbol)
}

func (g *Instrumented) SymbolInfo(ctx context.Context, symbol string) (model.SymbolInfo, error) {
	defer g.timed("symbol_info", time.Now())
	return g.Next.SymbolInfo(ctx, symbol)
}

func (g *Instrumented) OpenPositions(ctx context.Context, symbol string) (int, error) {
	defer g.timed("open_positions", time.Now())
	return g.Next.OpenPositions(ctx, symbol)
}

func (g *Instrumented) SubmitOrder(ctx context.Context, req model.OrderRequest) (model.OrderResult, error) {
	defer g.timed("submit_order", time.Now())
	return g.Next.SubmitOrder(ctx, req)
}
