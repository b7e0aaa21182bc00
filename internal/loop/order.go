package loop

import (
	"errors"
	"fmt"

	"crossbot/internal/model"
)

// ErrInvalidSignal is returned when an order is requested for a signal that
// is neither Buy nor Sell.
var ErrInvalidSignal = errors.New("invalid signal for order")

// buildOrder translates a signal into a market order request.
// Buy enters at ask, Sell at bid; stop and target are offset by pips×point.
func buildOrder(sig model.Signal, quote model.Quote, info model.SymbolInfo,
	volume, slPips, tpPips float64, deviation int, tag string) (model.OrderRequest, error) {

	req := model.OrderRequest{
		Symbol:    info.Symbol,
		Side:      sig,
		Volume:    volume,
		Deviation: deviation,
		ClientTag: tag,
	}

	switch sig {
	case model.SignalBuy:
		req.Price = quote.Ask
		if slPips > 0 {
			req.StopLoss = req.Price - slPips*info.Point
		}
		if tpPips > 0 {
			req.TakeProfit = req.Price + tpPips*info.Point
		}
	case model.SignalSell:
		req.Price = quote.Bid
		if slPips > 0 {
			req.StopLoss = req.Price + slPips*info.Point
		}
		if tpPips > 0 {
			req.TakeProfit = req.Price - tpPips*info.Point
		}
	default:
		return model.OrderRequest{}, fmt.Errorf("%w: %q", ErrInvalidSignal, sig)
	}

	return req, nil
}
