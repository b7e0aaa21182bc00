package model

import "time"

// TradeRecord is one executed order as persisted by the trade ledger.
// Append-only: rows are never updated or deleted.
type TradeRecord struct {
	TS         time.Time `json:"ts"`
	Symbol     string    `json:"symbol"`
	Signal     Signal    `json:"signal"`
	Price      float64   `json:"price"`
	StopLoss   float64   `json:"stop_loss"`
	TakeProfit float64   `json:"take_profit"`
	Volume     float64   `json:"volume"`
	Ticket     string    `json:"ticket"`
}
