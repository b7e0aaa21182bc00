package model

import "time"

// Quote is the current bid/ask for an instrument.
// Fetched fresh before every order build; never cached across cycles.
type Quote struct {
	Symbol string    `json:"symbol"`
	Bid    float64   `json:"bid"`
	Ask    float64   `json:"ask"`
	TS     time.Time `json:"ts"`
}

// SymbolInfo carries instrument metadata from the execution gateway.
type SymbolInfo struct {
	Symbol   string  `json:"symbol"`
	Point    float64 `json:"point"` // smallest price increment
	Digits   int     `json:"digits"`
	Tradable bool    `json:"tradable"`
}
