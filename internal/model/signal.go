package model

// Signal is the outcome of one crossover evaluation.
// It is derived per cycle and never persisted on its own.
type Signal string

const (
	SignalNone Signal = "NONE"
	SignalBuy  Signal = "BUY"
	SignalSell Signal = "SELL"
)
