package engine

import (
	"context"
	"time"

	"fenrir/internal/common"

	"github.com/rs/zerolog/log"
)

// MarkToMarketSymbol implements the mark-price refresh spec §9 leaves as an
// injected oracle: absent an external price feed, the symbol's own last
// trade price is the mark. It drives MarkToMarket and then sweeps every
// open position in symbol through CheckLiquidation, per spec §1's core
// purpose of enforcing liquidation.
func (e *Engine) MarkToMarketSymbol(symbol string, now int64, replaying bool) {
	se := e.symbolEngine(symbol)
	se.mu.Lock()
	if !se.haveLastTrade {
		se.mu.Unlock()
		return
	}
	mark := se.lastTradePrice
	se.mu.Unlock()

	if e.Catalog != nil {
		e.Catalog.SetMarkPrice(symbol, mark)
	}
	if e.Positions == nil {
		return
	}
	e.Positions.MarkToMarket(symbol, mark)

	for _, user := range e.Positions.UsersWithPosition(symbol) {
		liquidated, result := e.Positions.CheckLiquidation(user, symbol, mark, now, replaying)
		if !liquidated {
			continue
		}
		if e.Metrics != nil {
			e.Metrics.LiquidationTriggered(symbol)
		}
		log.Warn().Str("symbol", symbol).Str("user", user).
			Float64("closed_size", result.ClosedSize).
			Int64("mark_price", int64(result.MarkPrice)).
			Msg("position liquidated")
		if e.Publisher != nil {
			e.Publisher.PublishReject(symbol, user, "liquidated")
		}
	}
}

// RunMarkToMarketLoop refreshes mark price and sweeps liquidation for every
// registered symbol every interval, until ctx is cancelled.
func (e *Engine) RunMarkToMarketLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if e.Catalog == nil {
				continue
			}
			for _, symbol := range e.Catalog.Symbols() {
				e.MarkToMarketSymbol(symbol, common.NowNanos(), false)
			}
		}
	}
}
