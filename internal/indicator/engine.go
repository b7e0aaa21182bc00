package indicator

import (
	"errors"
	"fmt"
	"time"

	"crossbot/internal/model"
)

// ErrInsufficientHistory is returned when the series is shorter than the long
// period. Callers treat it as "no signal this cycle", not a fatal error.
var ErrInsufficientHistory = errors.New("insufficient history")

// State holds the short/long SMA pair computed at one bar.
// States exist only for bars where both averages have a full window.
type State struct {
	TS    time.Time
	Short float64
	Long  float64
}

// Engine computes a short/long SMA pair over a price series.
// Not safe for concurrent use.
type Engine struct {
	shortPeriod int
	longPeriod  int
}

// NewEngine creates an engine for the given periods, shortPeriod < longPeriod.
func NewEngine(shortPeriod, longPeriod int) (*Engine, error) {
	if shortPeriod <= 0 || longPeriod <= 0 {
		return nil, fmt.Errorf("periods must be positive, got short=%d long=%d", shortPeriod, longPeriod)
	}
	if shortPeriod >= longPeriod {
		return nil, fmt.Errorf("short period %d must be less than long period %d", shortPeriod, longPeriod)
	}
	return &Engine{shortPeriod: shortPeriod, longPeriod: longPeriod}, nil
}

// Compute produces one State per bar index i >= longPeriod-1, in bar order.
// For a series of N bars the result has length N - longPeriod + 1.
// Returns ErrInsufficientHistory when N < longPeriod.
func (e *Engine) Compute(series model.Series) ([]State, error) {
	n := series.Len()
	if n < e.longPeriod {
		return nil, fmt.Errorf("%w: %d bars, need %d", ErrInsufficientHistory, n, e.longPeriod)
	}

	short := NewSMA(e.shortPeriod)
	long := NewSMA(e.longPeriod)

	states := make([]State, 0, n-e.longPeriod+1)
	for _, bar := range series.Bars {
		short.Update(bar.Close)
		long.Update(bar.Close)
		if !long.Ready() {
			continue // short may be ready earlier; exclude until both are
		}
		states = append(states, State{
			TS:    bar.TS,
			Short: short.Value(),
			Long:  long.Value(),
		})
	}
	return states, nil
}
