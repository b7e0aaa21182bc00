// Package strategy classifies crossover events between the short and long
// moving averages of consecutive bars.
//
// Buy signal: short SMA crosses above long SMA (golden cross)
// Sell signal: short SMA crosses below long SMA (death cross)
package strategy

import (
	"crossbot/internal/indicator"
	"crossbot/internal/model"
)

// Detect classifies the transition between two consecutive indicator states.
// Equality counts toward the "not yet crossed" side, so a signal fires only on
// the bar where strict inequality first appears. While the averages sit exactly
// equal nothing fires.
func Detect(prev, cur indicator.State) model.Signal {
	// Golden cross: short crosses strictly above long
	if prev.Short <= prev.Long && cur.Short > cur.Long {
		return model.SignalBuy
	}

	// Death cross: short crosses strictly below long
	if prev.Short >= prev.Long && cur.Short < cur.Long {
		return model.SignalSell
	}

	return model.SignalNone
}

// DetectLast applies Detect to the last two states of a computed series.
// Fewer than two states yields SignalNone, not an error.
func DetectLast(states []indicator.State) model.Signal {
	if len(states) < 2 {
		return model.SignalNone
	}
	return Detect(states[len(states)-2], states[len(states)-1])
}
