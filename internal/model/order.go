package model

// OrderRequest is a market order intent handed to the execution gateway.
// Constructed fresh per signal and never mutated after submission.
type OrderRequest struct {
	Symbol     string  `json:"symbol"`
	Side       Signal  `json:"side"` // BUY or SELL
	Volume     float64 `json:"volume"`
	Price      float64 `json:"price"`       // ask for BUY, bid for SELL
	StopLoss   float64 `json:"stop_loss"`   // 0 = no stop
	TakeProfit float64 `json:"take_profit"` // 0 = no target
	Deviation  int     `json:"deviation"`   // max slippage in points
	ClientTag  string  `json:"client_tag"`  // idempotency tag
}

// OrderResult is the gateway's answer to a submission, consumed once.
type OrderResult struct {
	OK     bool    `json:"ok"`
	Ticket string  `json:"ticket"` // opaque broker id, empty on failure
	Price  float64 `json:"price"`  // fill price when known
	Reason string  `json:"reason"` // broker failure reason, empty on success
}
