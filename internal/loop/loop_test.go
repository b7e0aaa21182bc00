package loop

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"crossbot/internal/gateway"
	"crossbot/internal/model"
	"crossbot/internal/sizing"
)

// fakeGateway scripts gateway behavior for loop tests.
type fakeGateway struct {
	mu sync.Mutex

	closes    []float64
	openCount int
	tradable  bool
	reject    bool

	connectErr   error
	fetchErr     error
	positionsErr error
	quoteErr     error
	submitErr    error

	connects    int
	disconnects int
	submits     []model.OrderRequest
}

func newFakeGateway(closes ...float64) *fakeGateway {
	return &fakeGateway{closes: closes, tradable: true}
}

func (g *fakeGateway) Connect(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.connects++
	return g.connectErr
}

func (g *fakeGateway) Disconnect() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.disconnects++
}

func (g *fakeGateway) FetchBars(ctx context.Context, symbol, timeframe string, count int) (model.Series, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.fetchErr != nil {
		return model.Series{}, g.fetchErr
	}
	base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	bars := make([]model.Bar, len(g.closes))
	for i, c := range g.closes {
		bars[i] = model.Bar{
			TS:    base.Add(time.Duration(i) * time.Minute),
			Open:  c,
			High:  c + 0.5,
			Low:   c - 0.5,
			Close: c,
		}
	}
	return model.Series{Symbol: symbol, Bars: bars}, nil
}

func (g *fakeGateway) Quote(ctx context.Context, symbol string) (model.Quote, error) {
	if g.quoteErr != nil {
		return model.Quote{}, g.quoteErr
	}
	return model.Quote{Symbol: symbol, Bid: 1.1000, Ask: 1.1002, TS: time.Now()}, nil
}

func (g *fakeGateway) SymbolInfo(ctx context.Context, symbol string) (model.SymbolInfo, error) {
	return model.SymbolInfo{Symbol: symbol, Point: 0.0001, Digits: 5, Tradable: g.tradable}, nil
}

func (g *fakeGateway) OpenPositions(ctx context.Context, symbol string) (int, error) {
	if g.positionsErr != nil {
		return 0, g.positionsErr
	}
	return g.openCount, nil
}

func (g *fakeGateway) SubmitOrder(ctx context.Context, req model.OrderRequest) (model.OrderResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.submitErr != nil {
		return model.OrderResult{}, g.submitErr
	}
	g.submits = append(g.submits, req)
	if g.reject {
		return model.OrderResult{OK: false, Reason: "insufficient margin"}, nil
	}
	return model.OrderResult{OK: true, Ticket: "T-1", Price: req.Price}, nil
}

// memRecorder collects appended trade records in memory.
type memRecorder struct {
	records []model.TradeRecord
	err     error
}

func (m *memRecorder) Append(rec model.TradeRecord) error {
	if m.err != nil {
		return m.err
	}
	m.records = append(m.records, rec)
	return nil
}

func testConfig() Config {
	return Config{
		Symbol:         "EURUSD",
		Timeframe:      "M1",
		BarCount:       8,
		ShortPeriod:    2,
		LongPeriod:     4,
		StopLossPips:   20,
		TakeProfitPips: 40,
		Deviation:      10,
		PollInterval:   5 * time.Millisecond,
		MaxReconnects:  2,
		ReconnectWait:  5 * time.Millisecond,
	}
}

// buyCloses produce a golden cross on the final bar with periods 2/4.
func buyCloses() []float64 { return []float64{10, 9, 8, 9, 11} }

// flatCloses keep the short average above the long with no crossing.
func flatCloses() []float64 { return []float64{1, 2, 3, 4, 5, 6} }

func newTestLoop(t *testing.T, gw *fakeGateway, recs ...Recorder) *Loop {
	t.Helper()
	l, err := New(testConfig(), gw, sizing.NewFixedLot(0.1), recs...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return l
}

func TestNew_InvalidConfig(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty symbol", func(c *Config) { c.Symbol = "" }},
		{"empty timeframe", func(c *Config) { c.Timeframe = "" }},
		{"short >= long", func(c *Config) { c.ShortPeriod = 4 }},
		{"bar count below long period", func(c *Config) { c.BarCount = 3 }},
		{"negative stop pips", func(c *Config) { c.StopLossPips = -1 }},
		{"negative deviation", func(c *Config) { c.Deviation = -1 }},
		{"zero poll interval", func(c *Config) { c.PollInterval = 0 }},
		{"zero max reconnects", func(c *Config) { c.MaxReconnects = 0 }},
		{"negative reconnect wait", func(c *Config) { c.ReconnectWait = -time.Second }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig()
			tc.mutate(&cfg)
			if _, err := New(cfg, newFakeGateway(), sizing.NewFixedLot(0.1)); err == nil {
				t.Error("expected config error")
			}
		})
	}
}

func TestCycle_PlacesOrderOnCrossover(t *testing.T) {
	gw := newFakeGateway(buyCloses()...)
	rec := &memRecorder{}
	l := newTestLoop(t, gw, rec)

	var eval Evaluation
	l.OnEvaluation = func(e Evaluation) { eval = e }

	if err := l.cycle(context.Background()); err != nil {
		t.Fatalf("cycle: %v", err)
	}

	if len(gw.submits) != 1 {
		t.Fatalf("expected 1 submit, got %d", len(gw.submits))
	}
	req := gw.submits[0]
	if req.Side != model.SignalBuy {
		t.Errorf("expected BUY, got %v", req.Side)
	}
	if req.Price != 1.1002 {
		t.Errorf("buy must fill at ask 1.1002, got %v", req.Price)
	}
	if want := 1.1002 - 20*0.0001; req.StopLoss != want {
		t.Errorf("stop loss %v, want %v", req.StopLoss, want)
	}
	if want := 1.1002 + 40*0.0001; req.TakeProfit != want {
		t.Errorf("take profit %v, want %v", req.TakeProfit, want)
	}
	if req.ClientTag == "" {
		t.Error("client tag must be set")
	}

	if len(rec.records) != 1 {
		t.Fatalf("expected 1 ledger record, got %d", len(rec.records))
	}
	if rec.records[0].Ticket != "T-1" {
		t.Errorf("record ticket %q, want T-1", rec.records[0].Ticket)
	}
	if eval.Outcome != OutcomeOrderPlaced {
		t.Errorf("outcome %v, want %v", eval.Outcome, OutcomeOrderPlaced)
	}
}

func TestCycle_SkipsWhenPositionOpen(t *testing.T) {
	gw := newFakeGateway(buyCloses()...)
	gw.openCount = 1
	rec := &memRecorder{}
	l := newTestLoop(t, gw, rec)

	var eval Evaluation
	l.OnEvaluation = func(e Evaluation) { eval = e }

	if err := l.cycle(context.Background()); err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if len(gw.submits) != 0 {
		t.Fatalf("must not submit with an open position, got %d submits", len(gw.submits))
	}
	if len(rec.records) != 0 {
		t.Errorf("no trade record expected, got %d", len(rec.records))
	}
	if eval.Outcome != OutcomePositionOpen {
		t.Errorf("outcome %v, want %v", eval.Outcome, OutcomePositionOpen)
	}
}

func TestCycle_NoSignalNoSubmit(t *testing.T) {
	gw := newFakeGateway(flatCloses()...)
	l := newTestLoop(t, gw)

	var eval Evaluation
	l.OnEvaluation = func(e Evaluation) { eval = e }

	if err := l.cycle(context.Background()); err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if len(gw.submits) != 0 {
		t.Fatalf("expected no submits, got %d", len(gw.submits))
	}
	if eval.Outcome != OutcomeNoSignal {
		t.Errorf("outcome %v, want %v", eval.Outcome, OutcomeNoSignal)
	}
	if eval.Signal != model.SignalNone {
		t.Errorf("signal %v, want NONE", eval.Signal)
	}
}

func TestCycle_ShortHistorySkipsQuietly(t *testing.T) {
	gw := newFakeGateway(10, 9) // fewer bars than the long period
	l := newTestLoop(t, gw)

	var eval Evaluation
	l.OnEvaluation = func(e Evaluation) { eval = e }

	if err := l.cycle(context.Background()); err != nil {
		t.Fatalf("short history must not fail the cycle: %v", err)
	}
	if len(gw.submits) != 0 {
		t.Fatalf("expected no submits, got %d", len(gw.submits))
	}
	if eval.Outcome != OutcomeShortHistory {
		t.Errorf("outcome %v, want %v", eval.Outcome, OutcomeShortHistory)
	}
}

func TestCycle_NoDataSkipsQuietly(t *testing.T) {
	gw := newFakeGateway()
	gw.fetchErr = gateway.ErrNoData
	l := newTestLoop(t, gw)

	var eval Evaluation
	l.OnEvaluation = func(e Evaluation) { eval = e }

	if err := l.cycle(context.Background()); err != nil {
		t.Fatalf("no data must not fail the cycle: %v", err)
	}
	if eval.Outcome != OutcomeNoData {
		t.Errorf("outcome %v, want %v", eval.Outcome, OutcomeNoData)
	}
}

func TestCycle_RejectionWritesNoRecord(t *testing.T) {
	gw := newFakeGateway(buyCloses()...)
	gw.reject = true
	rec := &memRecorder{}
	l := newTestLoop(t, gw, rec)

	var eval Evaluation
	l.OnEvaluation = func(e Evaluation) { eval = e }

	if err := l.cycle(context.Background()); err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if len(gw.submits) != 1 {
		t.Fatalf("expected 1 submit, got %d", len(gw.submits))
	}
	if len(rec.records) != 0 {
		t.Errorf("rejected order must not be recorded, got %d records", len(rec.records))
	}
	if eval.Outcome != OutcomeOrderRejected {
		t.Errorf("outcome %v, want %v", eval.Outcome, OutcomeOrderRejected)
	}
	if eval.Reason != "insufficient margin" {
		t.Errorf("reason %q, want broker reason", eval.Reason)
	}
}

func TestCycle_NotTradableSkips(t *testing.T) {
	gw := newFakeGateway(buyCloses()...)
	gw.tradable = false
	l := newTestLoop(t, gw)

	var eval Evaluation
	l.OnEvaluation = func(e Evaluation) { eval = e }

	if err := l.cycle(context.Background()); err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if len(gw.submits) != 0 {
		t.Fatalf("expected no submits, got %d", len(gw.submits))
	}
	if eval.Outcome != OutcomeNotTradable {
		t.Errorf("outcome %v, want %v", eval.Outcome, OutcomeNotTradable)
	}
}

func TestCycle_ConnectionLostPropagates(t *testing.T) {
	gw := newFakeGateway()
	gw.fetchErr = gateway.ErrConnectionLost
	l := newTestLoop(t, gw)

	if err := l.cycle(context.Background()); !errors.Is(err, gateway.ErrConnectionLost) {
		t.Fatalf("expected ErrConnectionLost, got %v", err)
	}
}

func TestCycle_SubmitConnectionLostStillEvaluated(t *testing.T) {
	gw := newFakeGateway(buyCloses()...)
	gw.submitErr = gateway.ErrConnectionLost
	rec := &memRecorder{}
	l := newTestLoop(t, gw, rec)

	var eval Evaluation
	l.OnEvaluation = func(e Evaluation) { eval = e }

	err := l.cycle(context.Background())
	if !errors.Is(err, gateway.ErrConnectionLost) {
		t.Fatalf("expected ErrConnectionLost, got %v", err)
	}
	// The submission outcome is recorded even when the connection drops.
	if eval.Outcome != OutcomeSubmitFailed {
		t.Errorf("outcome %v, want %v", eval.Outcome, OutcomeSubmitFailed)
	}
	if len(rec.records) != 0 {
		t.Errorf("unconfirmed order must not be recorded, got %d records", len(rec.records))
	}
}

func TestRun_StopsOnCancelAndDisconnects(t *testing.T) {
	gw := newFakeGateway(flatCloses()...)
	l := newTestLoop(t, gw)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("orderly shutdown must return nil, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}

	gw.mu.Lock()
	defer gw.mu.Unlock()
	if gw.disconnects == 0 {
		t.Error("gateway must be disconnected on shutdown")
	}
}

func TestRun_FatalWhenReconnectsExhausted(t *testing.T) {
	gw := newFakeGateway()
	gw.connectErr = errors.New("refused")
	l := newTestLoop(t, gw)

	var attempts []int
	l.OnReconnect = func(attempt int) { attempts = append(attempts, attempt) }

	start := time.Now()
	done := make(chan error, 1)
	go func() { done <- l.Run(context.Background()) }()

	select {
	case err := <-done:
		if !errors.Is(err, gateway.ErrConnectionLost) {
			t.Fatalf("expected ErrConnectionLost after exhaustion, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not give up after max reconnects")
	}
	// One wait between the two attempts, none after the last.
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("exhaustion took %v; final attempt must not wait before failing", elapsed)
	}

	gw.mu.Lock()
	defer gw.mu.Unlock()
	if gw.connects != 2 {
		t.Errorf("expected 2 connect attempts, got %d", gw.connects)
	}
	if len(attempts) != 2 || attempts[0] != 1 || attempts[1] != 2 {
		t.Errorf("reconnect hook saw %v, want [1 2]", attempts)
	}
}

func TestCycle_LogsCarryCycleID(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, nil)))
	defer slog.SetDefault(prev)

	gw := newFakeGateway(buyCloses()...)
	l := newTestLoop(t, gw)

	if err := l.cycle(context.Background()); err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if !strings.Contains(buf.String(), `"cycle_id":"EURUSD-`) {
		t.Errorf("cycle logs missing correlation id, got: %s", buf.String())
	}
}

func TestBuildOrder_SellAtBid(t *testing.T) {
	quote := model.Quote{Symbol: "EURUSD", Bid: 1.1000, Ask: 1.1002}
	info := model.SymbolInfo{Symbol: "EURUSD", Point: 0.0001, Tradable: true}

	req, err := buildOrder(model.SignalSell, quote, info, 0.1, 20, 40, 10, "tag")
	if err != nil {
		t.Fatalf("buildOrder: %v", err)
	}
	if req.Price != 1.1000 {
		t.Errorf("sell must fill at bid 1.1000, got %v", req.Price)
	}
	if want := 1.1000 + 20*0.0001; req.StopLoss != want {
		t.Errorf("stop loss %v, want %v", req.StopLoss, want)
	}
	if want := 1.1000 - 40*0.0001; req.TakeProfit != want {
		t.Errorf("take profit %v, want %v", req.TakeProfit, want)
	}
}

func TestBuildOrder_ZeroPipsLeaveLevelsUnset(t *testing.T) {
	quote := model.Quote{Symbol: "EURUSD", Bid: 1.1000, Ask: 1.1002}
	info := model.SymbolInfo{Symbol: "EURUSD", Point: 0.0001, Tradable: true}

	req, err := buildOrder(model.SignalBuy, quote, info, 0.1, 0, 0, 10, "tag")
	if err != nil {
		t.Fatalf("buildOrder: %v", err)
	}
	if req.StopLoss != 0 || req.TakeProfit != 0 {
		t.Errorf("expected unset levels, got sl=%v tp=%v", req.StopLoss, req.TakeProfit)
	}
}

func TestBuildOrder_RejectsNonDirectionalSignal(t *testing.T) {
	_, err := buildOrder(model.SignalNone, model.Quote{}, model.SymbolInfo{}, 0.1, 20, 40, 10, "tag")
	if !errors.Is(err, ErrInvalidSignal) {
		t.Fatalf("expected ErrInvalidSignal, got %v", err)
	}
}
