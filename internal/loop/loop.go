// Package loop runs the polling trading cycle: fetch bars, compute the
// crossover, gate on open positions, place the order, record the trade.
// One cycle runs to completion before the next begins; there are no
// overlapping fetches or concurrent order submissions.
package loop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"crossbot/internal/gateway"
	"crossbot/internal/indicator"
	"crossbot/internal/logger"
	"crossbot/internal/model"
	"crossbot/internal/sizing"
	"crossbot/internal/strategy"
)

// Config holds the immutable loop parameters, validated at construction.
type Config struct {
	Symbol         string
	Timeframe      string
	BarCount       int // bars requested per fetch, >= LongPeriod
	ShortPeriod    int
	LongPeriod     int
	StopLossPips   float64
	TakeProfitPips float64
	Deviation      int // max slippage in points
	PollInterval   time.Duration
	MaxReconnects  int           // consecutive failed reconnects before fatal
	ReconnectWait  time.Duration // wait between failed connect attempts, default 5s
}

func (c Config) validate() error {
	if c.Symbol == "" {
		return errors.New("symbol required")
	}
	if c.Timeframe == "" {
		return errors.New("timeframe required")
	}
	if c.ShortPeriod <= 0 || c.LongPeriod <= 0 || c.ShortPeriod >= c.LongPeriod {
		return fmt.Errorf("sma periods invalid: short=%d long=%d", c.ShortPeriod, c.LongPeriod)
	}
	if c.BarCount < c.LongPeriod {
		return fmt.Errorf("bar count %d below long period %d", c.BarCount, c.LongPeriod)
	}
	if c.StopLossPips < 0 || c.TakeProfitPips < 0 {
		return errors.New("stop/target pips must be >= 0")
	}
	if c.Deviation < 0 {
		return errors.New("deviation must be >= 0")
	}
	if c.PollInterval <= 0 {
		return errors.New("poll interval must be positive")
	}
	if c.MaxReconnects <= 0 {
		return errors.New("max reconnects must be positive")
	}
	if c.ReconnectWait < 0 {
		return errors.New("reconnect wait must be >= 0")
	}
	return nil
}

// Recorder persists one executed trade. The CSV ledger is the primary
// recorder; the SQLite journal is a mirror.
type Recorder interface {
	Append(model.TradeRecord) error
}

// Evaluation summarizes one completed cycle for metrics and publishers.
type Evaluation struct {
	CycleTS time.Time    `json:"cycle_ts"`
	Symbol  string       `json:"symbol"`
	BarTS   time.Time    `json:"bar_ts"`
	Close   float64      `json:"close"`
	Short   float64      `json:"sma_short"`
	Long    float64      `json:"sma_long"`
	Signal  model.Signal `json:"signal"`
	Outcome Outcome      `json:"outcome"`
	Open    int          `json:"open_positions"`
	Ticket  string       `json:"ticket,omitempty"`
	Reason  string       `json:"reason,omitempty"`
}

// Loop drives the cycle state machine against an execution gateway.
type Loop struct {
	cfg       Config
	gw        gateway.Gateway
	engine    *indicator.Engine
	sizer     sizing.Sizer
	recorders []Recorder

	state State
	log   *slog.Logger

	// OnEvaluation, when set, observes every completed cycle.
	OnEvaluation func(Evaluation)
	// OnStateChange, when set, observes every state transition.
	OnStateChange func(State)
	// OnReconnect, when set, observes every connect attempt.
	OnReconnect func(attempt int)
}

// New validates the configuration and builds a loop.
// Invalid configuration is fatal at startup, before any cycle runs.
func New(cfg Config, gw gateway.Gateway, sizer sizing.Sizer, recorders ...Recorder) (*Loop, error) {
	if cfg.ReconnectWait == 0 {
		cfg.ReconnectWait = 5 * time.Second
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("loop config: %w", err)
	}
	engine, err := indicator.NewEngine(cfg.ShortPeriod, cfg.LongPeriod)
	if err != nil {
		return nil, fmt.Errorf("loop config: %w", err)
	}
	return &Loop{
		cfg:       cfg,
		gw:        gw,
		engine:    engine,
		sizer:     sizer,
		recorders: recorders,
		state:     StateIdle,
		log:       slog.Default().With(slog.String("symbol", cfg.Symbol)),
	}, nil
}

// State returns the current loop state.
func (l *Loop) State() State { return l.state }

func (l *Loop) setState(s State) {
	l.state = s
	if l.OnStateChange != nil {
		l.OnStateChange(s)
	}
}

// Run connects the gateway and polls until ctx is cancelled. Returns nil on
// orderly shutdown and an error when connectivity is exhausted. The gateway
// connection is released before Run returns.
func (l *Loop) Run(ctx context.Context) error {
	if err := l.reconnect(ctx); err != nil {
		return err
	}
	defer func() {
		l.setState(StateShuttingDown)
		l.gw.Disconnect()
		l.log.Info("loop stopped, gateway released")
	}()

	for {
		if ctx.Err() != nil {
			return nil
		}

		err := l.cycle(ctx)
		if errors.Is(err, gateway.ErrConnectionLost) {
			l.log.Warn("connection lost", slog.String("error", err.Error()))
			l.gw.Disconnect()
			if rerr := l.reconnect(ctx); rerr != nil {
				return rerr
			}
		} else if err != nil {
			// Recoverable cycle errors are handled inside cycle; anything
			// else is logged and the next cycle starts from fresh data.
			l.log.Error("cycle failed", slog.String("error", err.Error()))
		}

		l.setState(StateSleeping)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(l.cfg.PollInterval):
		}
		l.setState(StateIdle)
	}
}

// reconnect attempts Connect up to MaxReconnects consecutive times with a
// fixed wait between attempts. Exhaustion is process-fatal.
func (l *Loop) reconnect(ctx context.Context) error {
	for attempt := 1; attempt <= l.cfg.MaxReconnects; attempt++ {
		if ctx.Err() != nil {
			return nil
		}
		if l.OnReconnect != nil {
			l.OnReconnect(attempt)
		}
		err := l.gw.Connect(ctx)
		if err == nil {
			l.log.Info("gateway connected", slog.Int("attempt", attempt))
			return nil
		}
		l.log.Warn("connect failed",
			slog.Int("attempt", attempt),
			slog.Int("max", l.cfg.MaxReconnects),
			slog.String("error", err.Error()))
		if attempt == l.cfg.MaxReconnects {
			break // no point waiting after the last attempt
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(l.cfg.ReconnectWait):
		}
	}
	return fmt.Errorf("gateway unreachable after %d attempts: %w", l.cfg.MaxReconnects, gateway.ErrConnectionLost)
}

// cycle runs one pass of the state machine. It returns an error only for
// connection loss; every recoverable condition ends the cycle quietly.
func (l *Loop) cycle(ctx context.Context) error {
	now := time.Now().UTC()
	ctx = logger.WithCycleID(ctx, logger.GenerateCycleID(l.cfg.Symbol, now))
	clog := l.log.With(logger.LogWithCycle(ctx)...)

	eval := Evaluation{CycleTS: now, Symbol: l.cfg.Symbol, Signal: model.SignalNone}
	defer func() {
		if l.OnEvaluation != nil {
			l.OnEvaluation(eval)
		}
	}()

	// fetch
	l.setState(StateFetchingData)
	series, err := l.gw.FetchBars(ctx, l.cfg.Symbol, l.cfg.Timeframe, l.cfg.BarCount)
	if err != nil {
		if errors.Is(err, gateway.ErrConnectionLost) {
			return err
		}
		eval.Outcome = OutcomeNoData
		eval.Reason = err.Error()
		clog.Warn("no bars this cycle", slog.String("error", err.Error()))
		return nil
	}
	if err := series.Validate(); err != nil {
		eval.Outcome = OutcomeBadSeries
		eval.Reason = err.Error()
		clog.Warn("series failed validation", slog.String("error", err.Error()))
		return nil
	}
	last := series.Bars[series.Len()-1]
	eval.BarTS = last.TS
	eval.Close = last.Close

	// compute
	l.setState(StateComputingSignal)
	states, err := l.engine.Compute(series)
	if err != nil {
		if errors.Is(err, indicator.ErrInsufficientHistory) {
			eval.Outcome = OutcomeShortHistory
			eval.Reason = err.Error()
			clog.Info("insufficient history", slog.Int("bars", series.Len()))
			return nil
		}
		return err
	}
	cur := states[len(states)-1]
	eval.Short = cur.Short
	eval.Long = cur.Long

	sig := strategy.DetectLast(states)
	eval.Signal = sig
	if sig == model.SignalNone {
		eval.Outcome = OutcomeNoSignal
		clog.Debug("no crossover",
			slog.Float64("sma_short", cur.Short),
			slog.Float64("sma_long", cur.Long))
		return nil
	}
	clog.Info("crossover detected",
		slog.String("signal", string(sig)),
		slog.Float64("sma_short", cur.Short),
		slog.Float64("sma_long", cur.Long))

	// position gate
	l.setState(StateCheckingPosition)
	open, err := l.gw.OpenPositions(ctx, l.cfg.Symbol)
	if err != nil {
		if errors.Is(err, gateway.ErrConnectionLost) {
			return err
		}
		eval.Outcome = OutcomePositionOpen
		eval.Reason = err.Error()
		clog.Warn("position check failed, not trading", slog.String("error", err.Error()))
		return nil
	}
	eval.Open = open
	if open > 0 {
		eval.Outcome = OutcomePositionOpen
		clog.Info("position already open, skipping", slog.Int("open", open))
		return nil
	}

	info, err := l.gw.SymbolInfo(ctx, l.cfg.Symbol)
	if err != nil {
		if errors.Is(err, gateway.ErrConnectionLost) {
			return err
		}
		eval.Outcome = OutcomeNotTradable
		eval.Reason = err.Error()
		clog.Warn("symbol metadata unavailable", slog.String("error", err.Error()))
		return nil
	}
	if !info.Tradable {
		eval.Outcome = OutcomeNotTradable
		clog.Warn("symbol not tradable this cycle")
		return nil
	}

	quote, err := l.gw.Quote(ctx, l.cfg.Symbol)
	if err != nil {
		if errors.Is(err, gateway.ErrConnectionLost) {
			return err
		}
		eval.Outcome = OutcomeQuoteUnavailable
		eval.Reason = err.Error()
		clog.Warn("quote unavailable", slog.String("error", err.Error()))
		return nil
	}

	volume, err := l.sizer.Volume()
	if err != nil {
		eval.Outcome = OutcomeSizingFailed
		eval.Reason = err.Error()
		clog.Error("sizing failed", slog.String("error", err.Error()))
		return nil
	}

	// execute
	l.setState(StateExecuting)
	tag := fmt.Sprintf("%s-%d", l.cfg.Symbol, last.TS.Unix())
	req, err := buildOrder(sig, quote, info, volume,
		l.cfg.StopLossPips, l.cfg.TakeProfitPips, l.cfg.Deviation, tag)
	if err != nil {
		eval.Outcome = OutcomeSubmitFailed
		eval.Reason = err.Error()
		clog.Error("order build failed", slog.String("error", err.Error()))
		return nil
	}

	result, err := l.gw.SubmitOrder(ctx, req)
	if err != nil {
		// The submission left the process; its fate must be logged before
		// anything else happens, connection loss included.
		eval.Outcome = OutcomeSubmitFailed
		eval.Reason = err.Error()
		clog.Error("order submission failed",
			slog.String("signal", string(sig)),
			slog.String("client_tag", tag),
			slog.String("error", err.Error()))
		if errors.Is(err, gateway.ErrConnectionLost) {
			return err
		}
		return nil
	}
	if !result.OK {
		// Broker declined. No retry this cycle; the next cycle re-evaluates
		// from fresh data. No ledger row is written.
		eval.Outcome = OutcomeOrderRejected
		eval.Reason = result.Reason
		clog.Warn("order rejected",
			slog.String("signal", string(sig)),
			slog.String("reason", result.Reason))
		return nil
	}
	eval.Ticket = result.Ticket
	clog.Info("order placed",
		slog.String("signal", string(sig)),
		slog.String("ticket", result.Ticket),
		slog.Float64("price", req.Price),
		slog.Float64("volume", volume))

	// record
	l.setState(StateLogging)
	rec := model.TradeRecord{
		TS:         now,
		Symbol:     l.cfg.Symbol,
		Signal:     sig,
		Price:      req.Price,
		StopLoss:   req.StopLoss,
		TakeProfit: req.TakeProfit,
		Volume:     volume,
		Ticket:     result.Ticket,
	}
	for _, r := range l.recorders {
		if err := r.Append(rec); err != nil {
			clog.Error("trade record failed",
				slog.String("ticket", result.Ticket),
				slog.String("error", err.Error()))
		}
	}

	eval.Outcome = OutcomeOrderPlaced
	return nil
}
