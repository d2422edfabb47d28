package engine

import (
	"fenrir/internal/catalog"
	"fenrir/internal/common"
)

// SubmitRequest is the validated-at-the-edge input to SubmitOrder, mirroring
// the request surface of spec §6's submit_order operation.
type SubmitRequest struct {
	Symbol        string
	User          string
	Side          common.Side
	Type          common.OrderType
	Price         common.Price // 0 for Market
	StopPrice     common.Price // only meaningful for StopLimit
	Qty           float64
	ReduceOnly    bool
	ClientOrderID string
}

// validateRequest implements spec §4.2's validation gate: everything here
// runs before any book mutation, order id allocation, or journal write.
func validateRequest(req SubmitRequest, prod catalog.Snapshot) error {
	if req.Qty < prod.MinSize || req.Qty > prod.MaxSize {
		return common.ErrInvalidSize
	}
	switch req.Type {
	case common.Market:
		// Market orders carry no limit price; nothing more to check.
	case common.StopLimit:
		if req.StopPrice <= 0 || req.Price <= 0 {
			return common.ErrInvalidPrice
		}
		if !req.Price.AlignedToTick(prod.Tick) {
			return common.ErrInvalidPrice
		}
	default: // Limit, IOC, FOK, PostOnly
		if req.Price <= 0 {
			return common.ErrInvalidPrice
		}
		if !req.Price.AlignedToTick(prod.Tick) {
			return common.ErrInvalidPrice
		}
	}
	return nil
}

// crosses reports whether a resting price on the opposite side would match
// taker immediately, used by the PostOnly pre-check.
func crosses(taker *common.Order, oppositeBestPrice common.Price) bool {
	if taker.Type == common.Market {
		return true
	}
	if taker.Side == common.Buy {
		return taker.Price >= oppositeBestPrice
	}
	return taker.Price <= oppositeBestPrice
}

// acceptablePrice reports whether levelPrice is still within taker's limit
// (always true for Market), per spec §4.2 step 1.
func acceptablePrice(taker *common.Order, levelPrice common.Price) bool {
	if taker.Type == common.Market {
		return true
	}
	if taker.Side == common.Buy {
		return levelPrice <= taker.Price
	}
	return levelPrice >= taker.Price
}
