package position

import (
	"math"

	"fenrir/internal/common"
)

// Position is the leveraged PnL record for one (user, symbol) pair, per
// spec §3. Mutation always happens while the owning Account's mutex is
// held by the Manager method driving it; Position itself carries no lock.
//
// AvgEntryPrice, UnrealizedPnl and LiquidationPrice are derived quantities
// computed from integer trade prices and float quantities; spec §9 fixes
// integer representation for order/trade prices but these are weighted
// averages and projections, so they are carried as float64 rather than
// rounded back to a tick-aligned integer.
type Position struct {
	User             string
	Symbol           string
	Size             float64 // positive long, negative short
	AvgEntryPrice    float64
	MarginUsed       float64
	RealizedPnl      float64
	UnrealizedPnl    float64
	LiquidationPrice float64
	Leverage         float64
	OpenedAt         int64
	UpdatedAt        int64
}

// IsClosed reports whether the position's size has decayed to zero per
// spec §9's epsilon convention.
func (p *Position) IsClosed() bool {
	return common.QuantityIsZero(p.Size)
}

// applyFill implements spec §4.3's apply_fill state machine for an already
// -open position. signedQty is positive for a buy fill, negative for a
// sell fill. Returns the realized PnL booked by this fill (0 if none).
// The caller (Manager) is responsible for creating the position on first
// fill and deleting it once Size decays to zero.
func (p *Position) applyFill(signedQty float64, price common.Price, now int64) (realized float64) {
	fp := float64(price)
	sameSign := (p.Size >= 0 && signedQty >= 0) || (p.Size <= 0 && signedQty <= 0)

	if sameSign {
		// Increase: volume-weighted average entry price, margin grows
		// linearly with size.
		oldAbs := math.Abs(p.Size)
		addAbs := math.Abs(signedQty)
		newAbs := oldAbs + addAbs
		if newAbs > 0 {
			p.AvgEntryPrice = (oldAbs*p.AvgEntryPrice + addAbs*fp) / newAbs
		}
		p.Size += signedQty
		p.MarginUsed = math.Abs(p.Size) * p.AvgEntryPrice / p.Leverage
		p.UpdatedAt = now
		return 0
	}

	// Opposite sign: closing some or all of the position.
	closingAbs := math.Min(math.Abs(signedQty), math.Abs(p.Size))
	sign := 1.0
	if p.Size < 0 {
		sign = -1.0
	}
	realized = (fp - p.AvgEntryPrice) * closingAbs * sign
	p.RealizedPnl += realized

	if math.Abs(signedQty) <= math.Abs(p.Size) {
		// Partial (or exact) close: avg entry price unchanged, margin
		// shrinks proportionally.
		p.Size += signedQty
		if p.Leverage > 0 && p.AvgEntryPrice > 0 {
			p.MarginUsed = math.Abs(p.Size) * p.AvgEntryPrice / p.Leverage
		}
		p.UpdatedAt = now
		return realized
	}

	// Flip: fully close at avg (already booked above using the full
	// |p.Size|... but closingAbs was capped at |p.Size|, matching spec),
	// then open the residual at the fill price with the flipped sign.
	residual := signedQty + p.Size // remaining signed qty after closing |p.Size|
	p.Size = residual
	p.AvgEntryPrice = fp
	p.MarginUsed = math.Abs(p.Size) * fp / p.Leverage
	p.OpenedAt = now
	p.UpdatedAt = now
	return realized
}

// markToMarket recomputes UnrealizedPnl and LiquidationPrice from a new
// mark price, per spec §4.3.
func (p *Position) markToMarket(markPrice common.Price, maintenanceMarginRate float64) {
	fp := float64(markPrice)
	p.UnrealizedPnl = (fp - p.AvgEntryPrice) * p.Size
	p.LiquidationPrice = liquidationPrice(p.AvgEntryPrice, p.Leverage, maintenanceMarginRate, p.Size >= 0)
}

// liquidationPrice implements spec §4.3's exact formula:
//
//	long:  avg * (1 - 1/leverage + m)
//	short: avg * (1 + 1/leverage - m)
func liquidationPrice(avg, leverage, maintenanceMarginRate float64, isLong bool) float64 {
	if leverage <= 0 {
		return 0
	}
	if isLong {
		return avg * (1 - 1/leverage + maintenanceMarginRate)
	}
	return avg * (1 + 1/leverage - maintenanceMarginRate)
}

// equityContribution is the amount of account equity this position
// contributes at the given mark price: margin posted plus unrealized PnL.
func (p *Position) equityContribution(markPrice common.Price) float64 {
	fp := float64(markPrice)
	unrealized := (fp - p.AvgEntryPrice) * p.Size
	return p.MarginUsed + unrealized
}

// maintenanceMargin is the minimum equity contribution required to avoid
// liquidation at the given mark price.
func (p *Position) maintenanceMargin(markPrice common.Price, maintenanceMarginRate float64) float64 {
	notional := math.Abs(p.Size) * float64(markPrice)
	return notional * maintenanceMarginRate
}
