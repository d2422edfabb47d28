package engine

import "fenrir/internal/common"

// selfTradeAction decides which side(s) of a would-be self-trade to cancel
// under policy, per spec §4.2's "Self-trade prevention" section. "Older" is
// determined by monotonic OrderID (lower id == created earlier), which holds
// because IDs are assigned from one strictly increasing generator.
func selfTradeAction(policy common.SelfTradePolicy, maker, taker *common.Order) (cancelMaker, cancelTaker bool) {
	switch policy {
	case common.CancelTaker:
		return false, true
	case common.CancelMaker:
		return true, false
	case common.CancelBoth:
		return true, true
	default: // CancelOldest
		if maker.ID < taker.ID {
			return true, false
		}
		return false, true
	}
}
