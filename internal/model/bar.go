package model

import (
	"fmt"
	"math"
	"time"
)

// Bar represents one OHLC bar for a single instrument.
// Prices are quote-currency floats; bars are immutable once part of a Series.
type Bar struct {
	TS    time.Time `json:"ts"`
	Open  float64   `json:"open"`
	High  float64   `json:"high"`
	Low   float64   `json:"low"`
	Close float64   `json:"close"`
}

// Series is a time-ascending sequence of bars for one instrument.
// It is rebuilt from a fresh fetch every polling cycle and never mutated.
type Series struct {
	Symbol string `json:"symbol"`
	Bars   []Bar  `json:"bars"`
}

// Len returns the number of bars in the series.
func (s Series) Len() int { return len(s.Bars) }

// Closes returns the close prices in bar order.
func (s Series) Closes() []float64 {
	out := make([]float64, len(s.Bars))
	for i, b := range s.Bars {
		out[i] = b.Close
	}
	return out
}

// Validate checks the series invariants: every price positive and finite,
// timestamps strictly increasing with no duplicates.
func (s Series) Validate() error {
	var prev time.Time
	for i, b := range s.Bars {
		for _, p := range [4]float64{b.Open, b.High, b.Low, b.Close} {
			if p <= 0 || math.IsNaN(p) || math.IsInf(p, 0) {
				return fmt.Errorf("bar %d (%s): non-positive or non-finite price", i, b.TS.Format(time.RFC3339))
			}
		}
		if i > 0 && !b.TS.After(prev) {
			return fmt.Errorf("bar %d (%s): timestamp not after previous bar", i, b.TS.Format(time.RFC3339))
		}
		prev = b.TS
	}
	return nil
}
