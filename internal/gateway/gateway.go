// Package gateway defines the broker capability surface the trading loop
// depends on. The loop never sees a vendor API, only this contract.
package gateway

import (
	"context"
	"errors"

	"crossbot/internal/model"
)

// Sentinel errors for the recoverable and fatal failure classes.
// Implementations wrap these so callers can classify with errors.Is.
var (
	// ErrNoData: the data source returned no (or too few) bars this cycle.
	ErrNoData = errors.New("no bar data")

	// ErrQuoteUnavailable: no current bid/ask; skip execution this cycle.
	ErrQuoteUnavailable = errors.New("quote unavailable")

	// ErrSymbolNotFound: the instrument is unknown to the gateway.
	ErrSymbolNotFound = errors.New("symbol not found")

	// ErrConnectionLost: the terminal connection dropped; the loop attempts
	// a bounded number of reconnects before giving up.
	ErrConnectionLost = errors.New("connection lost")
)

// Gateway is the execution collaborator: market data in, orders out.
// All blocking calls take a context and observe its cancellation.
type Gateway interface {
	// Connect establishes the terminal session. Must be called before any
	// other method and is safe to call again after ErrConnectionLost.
	Connect(ctx context.Context) error

	// Disconnect releases the session. Idempotent.
	Disconnect()

	// FetchBars returns up to count most-recent bars for symbol at the given
	// timeframe, time-ascending. Returns ErrNoData when nothing is available.
	FetchBars(ctx context.Context, symbol, timeframe string, count int) (model.Series, error)

	// Quote returns the current bid/ask for symbol.
	Quote(ctx context.Context, symbol string) (model.Quote, error)

	// SymbolInfo returns instrument metadata (point size, tradability).
	SymbolInfo(ctx context.Context, symbol string) (model.SymbolInfo, error)

	// OpenPositions returns the number of open positions for symbol.
	// Read fresh every cycle; never cached by the loop.
	OpenPositions(ctx context.Context, symbol string) (int, error)

	// SubmitOrder places a market order. A broker-side decline comes back as
	// OrderResult{OK: false, Reason: ...} with a nil error; a non-nil error
	// means the submission itself could not be delivered.
	SubmitOrder(ctx context.Context, req model.OrderRequest) (model.OrderResult, error)
}
