package engine

import (
	"math"

	"fenrir/internal/book"
	"fenrir/internal/catalog"
	"fenrir/internal/common"
	"fenrir/internal/journal"

	"github.com/rs/zerolog/log"
)

// submitLocked runs the full lifecycle of a newly-accepted Market/Limit/IOC/
// FOK/PostOnly order, or a StopLimit order that has just triggered, per spec
// §4.2. Caller must already hold se.mu; this method and everything it calls
// never acquires it again, which is what makes stop re-triggering safe to
// implement as a direct recursive call.
func (e *Engine) submitLocked(se *SymbolEngine, prod catalog.Snapshot, taker *common.Order, now int64, replaying bool) ([]common.Trade, error) {
	opp := taker.Side.Opposite()

	if taker.Type == common.PostOnly {
		if lvl := se.Book.BestLevel(opp); lvl != nil && crosses(taker, lvl.Price) {
			taker.Status = common.Rejected
			e.reject(taker.Symbol, taker.User, "post_only_cross")
			return nil, common.ErrPostOnlyCross
		}
	}

	if taker.Type == common.FOK {
		if !e.fokFillable(se, taker) {
			taker.Status = common.Rejected
			e.reject(taker.Symbol, taker.User, "fok_unfillable")
			return nil, common.ErrFokUnfillable
		}
	}

	trades, matchErr := e.matchLoop(se, prod, taker, now, replaying)

	if common.QuantityIsZero(taker.RemainingQty) {
		taker.RemainingQty = 0
		taker.Status = common.Filled
	} else if taker.Type == common.Limit || taker.Type == common.PostOnly {
		se.Book.Insert(taker)
		e.orderIndex.Store(taker.ID, taker.Symbol)
		if err := e.journalOrderNew(se, taker, now, replaying); err != nil {
			return trades, err
		}
	} else {
		// Market, IOC, and triggered-FOK (pre-checked fillable) all cancel
		// any remainder rather than resting it, per spec §4.2's order-type
		// table.
		taker.Status = common.Cancelled
	}

	if matchErr != nil {
		// A durability failure already halted se; don't arm/fire stops
		// against a symbol that's refusing new taker processing.
		return trades, matchErr
	}

	if se.Book.CrossedAtRest() {
		common.PanicInvariant(se.Symbol, "book crossed at rest after matching")
	}

	e.triggerStops(se, prod, now, replaying)
	return trades, nil
}

// fokFillable implements spec §4.2 step 2's FOK pre-scan: sum remaining
// liquidity at acceptable prices and require it to cover the full order
// before any fill is executed.
func (e *Engine) fokFillable(se *SymbolEngine, taker *common.Order) bool {
	opp := taker.Side.Opposite()
	levels := se.Book.Bids
	if opp == common.Sell {
		levels = se.Book.Asks
	}
	var avail float64
	levels.Scan(func(lvl *book.PriceLevel) bool {
		if !acceptablePrice(taker, lvl.Price) {
			return false
		}
		avail += lvl.Total
		return avail < taker.RemainingQty
	})
	return avail+common.QuantityEpsilon >= taker.RemainingQty
}

// matchLoop is the price-time-priority sweep of spec §4.2's matching
// algorithm. It mutates se.Book's levels directly (PriceLevel.Orders is
// exported precisely so this loop can pop filled heads without round-
// tripping through Book.Cancel).
func (e *Engine) matchLoop(se *SymbolEngine, prod catalog.Snapshot, taker *common.Order, now int64, replaying bool) ([]common.Trade, error) {
	opp := taker.Side.Opposite()
	var trades []common.Trade

	for !common.QuantityIsZero(taker.RemainingQty) {
		lvl := se.Book.BestLevel(opp)
		if lvl == nil {
			break
		}
		if !acceptablePrice(taker, lvl.Price) {
			break
		}

		for len(lvl.Orders) > 0 && !common.QuantityIsZero(taker.RemainingQty) {
			maker := lvl.Orders[0]

			if maker.User == taker.User {
				cancelMaker, cancelTaker := selfTradeAction(e.cfg.SelfTradePolicy, maker, taker)
				if cancelMaker {
					lvl.Total -= maker.RemainingQty
					lvl.Orders = lvl.Orders[1:]
					se.Book.ForgetIndex(maker.ID)
					maker.Status = common.Cancelled
					maker.UpdatedAt = now
					e.orderIndex.Delete(maker.ID)
					if err := e.journalCancel(se, maker, now, replaying); err != nil {
						return trades, err
					}
				}
				if cancelTaker {
					taker.Status = common.Cancelled
					taker.UpdatedAt = now
					if lvl.IsEmpty() {
						se.Book.DropEmptyLevel(opp, lvl)
					}
					return trades, nil
				}
				if lvl.IsEmpty() {
					se.Book.DropEmptyLevel(opp, lvl)
					break
				}
				continue
			}

			fillQty := math.Min(maker.RemainingQty, taker.RemainingQty)
			tradePrice := maker.Price

			maker.Fill(fillQty, now)
			taker.Fill(fillQty, now)
			lvl.Total -= fillQty

			trade := e.buildTrade(taker, maker, tradePrice, fillQty, now)

			if maker.RemainingQty == 0 {
				lvl.Orders = lvl.Orders[1:]
				se.Book.ForgetIndex(maker.ID)
				e.orderIndex.Delete(maker.ID)
			}

			// A journal failure here means this trade was never durably
			// recorded: per spec §7 it must not be treated as acknowledged,
			// so it's dropped from the returned fills and the symbol stops
			// taking taker flow rather than matching against a book state
			// replay can never reproduce.
			if err := e.applyTradeSideEffects(se, trade, now, replaying); err != nil {
				return trades, err
			}
			trades = append(trades, trade)

			se.lastTradePrice = tradePrice
			se.haveLastTrade = true
		}

		if lvl.IsEmpty() {
			se.Book.DropEmptyLevel(opp, lvl)
		}
	}
	return trades, nil
}

// buildTrade assembles the Trade record; maker sets price, per spec §4.2
// step 3 and spec §8's "maker_order.price == trade.price" property.
func (e *Engine) buildTrade(taker, maker *common.Order, price common.Price, qty float64, now int64) common.Trade {
	makerOrderID, takerOrderID := maker.ID, taker.ID
	makerUser, takerUser := maker.User, taker.User

	makerFee := qty * float64(price) * e.cfg.MakerFeeRate
	takerFee := qty * float64(price) * e.cfg.TakerFeeRate

	return common.Trade{
		ID:           common.TradeID(e.tradeIDs.Next()),
		Symbol:       taker.Symbol,
		MakerOrderID: makerOrderID,
		TakerOrderID: takerOrderID,
		MakerUser:    makerUser,
		TakerUser:    takerUser,
		TakerSide:    taker.Side,
		Price:        price,
		Quantity:     qty,
		MakerFee:     makerFee,
		TakerFee:     takerFee,
		Timestamp:    now,
	}
}

// applyTradeSideEffects runs spec §4.2's ordered per-trade side effects:
// (1) journal the trade, (2) apply_fill to both legs, (3) fee debit/credit,
// (4) publish. All four complete before the trade is considered emitted. A
// journal failure halts se per spec §7 and returns before any of the later
// steps run, so a trade that isn't durable is never applied to positions or
// published as acknowledged.
func (e *Engine) applyTradeSideEffects(se *SymbolEngine, trade common.Trade, now int64, replaying bool) error {
	if !replaying && e.Journal != nil {
		body := journal.TradeBody{
			TradeID: uint64(trade.ID), Symbol: trade.Symbol,
			MakerOrderID: uint64(trade.MakerOrderID), TakerOrderID: uint64(trade.TakerOrderID),
			MakerUser: trade.MakerUser, TakerUser: trade.TakerUser,
			TakerSide: trade.TakerSide, Price: int64(trade.Price), Quantity: trade.Quantity,
			MakerFee: trade.MakerFee, TakerFee: trade.TakerFee,
		}.Encode()
		if _, err := e.Journal.Append(journal.EventTrade, body, now); err != nil {
			return e.haltOnDurabilityFailure(se, "trade", err)
		}
	}

	takerSigned := trade.Quantity * trade.TakerSide.Sign()
	makerSigned := -takerSigned

	if e.Positions != nil {
		if _, err := e.Positions.ApplyFill(trade.TakerUser, trade.Symbol, takerSigned, trade.Price, now); err != nil {
			common.PanicInvariant(trade.Symbol, "apply_fill failed for taker "+trade.TakerUser+": "+err.Error())
		}
		if _, err := e.Positions.ApplyFill(trade.MakerUser, trade.Symbol, makerSigned, trade.Price, now); err != nil {
			common.PanicInvariant(trade.Symbol, "apply_fill failed for maker "+trade.MakerUser+": "+err.Error())
		}
		e.Positions.Account(trade.TakerUser).DebitFee(trade.TakerFee)
		e.Positions.Account(trade.MakerUser).DebitFee(trade.MakerFee) // a negative MakerFee is a rebate
	}

	if e.Metrics != nil {
		e.Metrics.TradeExecuted(trade.Symbol, trade.Quantity)
	}
	if e.Publisher != nil {
		e.Publisher.PublishTrade(trade)
	}
	return nil
}

// haltOnDurabilityFailure latches se's durability halt and surfaces the
// journal failure as a system-level alert, per spec §7: "the engine halts
// taker processing, refuses new orders for that symbol, and surfaces a
// system-level alert."
func (e *Engine) haltOnDurabilityFailure(se *SymbolEngine, what string, err error) error {
	se.durabilityHalted = true
	log.Error().Err(err).Str("symbol", se.Symbol).Str("record_type", what).
		Msg("FATAL: journal write failed, halting symbol for taker processing")
	return common.ErrJournalWriteFailed
}

// triggerStops implements spec §4.2.3: scan stops due at the symbol's last
// trade price, fire them in trigger-sequence order as Limit orders, and
// repeat until a round triggers nothing. A fired stop's own trade can move
// lastTradePrice and arm further stops, so looping to a fixpoint here is
// what makes triggering re-entrant.
func (e *Engine) triggerStops(se *SymbolEngine, prod catalog.Snapshot, now int64, replaying bool) {
	if !se.haveLastTrade {
		return
	}
	for {
		due := se.stops.due(se.lastTradePrice)
		if len(due) == 0 {
			return
		}
		for _, stopOrder := range due {
			stopOrder.Type = common.Limit
			stopOrder.Status = common.New
			e.orderIndex.Delete(stopOrder.ID)
			e.journalCancel(se, stopOrder, now, true) // suppress: reissued below as a fresh OrderNew
			e.submitLocked(se, prod, stopOrder, now, replaying)
		}
	}
}

func (e *Engine) journalOrderNew(se *SymbolEngine, o *common.Order, now int64, replaying bool) error {
	if replaying || e.Journal == nil {
		return nil
	}
	body := journal.OrderNewBody{
		OrderID: uint64(o.ID), Symbol: o.Symbol, User: o.User, Side: o.Side,
		OrderType: o.Type, Price: int64(o.Price), StopPrice: int64(o.StopPrice),
		Quantity: o.RemainingQty, ReduceOnly: o.ReduceOnly, ClientOrderID: o.ClientOrderID,
	}.Encode()
	if _, err := e.Journal.Append(journal.EventOrderNew, body, now); err != nil {
		return e.haltOnDurabilityFailure(se, "order_new", err)
	}
	return nil
}

func (e *Engine) journalCancel(se *SymbolEngine, o *common.Order, now int64, replaying bool) error {
	if replaying || e.Journal == nil {
		return nil
	}
	body := journal.CancelBody{OrderID: uint64(o.ID), Symbol: o.Symbol, User: o.User}.Encode()
	if _, err := e.Journal.Append(journal.EventCancel, body, now); err != nil {
		return e.haltOnDurabilityFailure(se, "cancel", err)
	}
	return nil
}

func (e *Engine) journalModify(se *SymbolEngine, id common.OrderID, symbol, user string, newPrice *common.Price, newQty *float64, now int64, replaying bool) error {
	if replaying || e.Journal == nil {
		return nil
	}
	b := journal.ModifyBody{OrderID: uint64(id), Symbol: symbol, User: user}
	if newPrice != nil {
		b.NewPrice, b.HasPrice = int64(*newPrice), true
	}
	if newQty != nil {
		b.NewQty, b.HasQty = *newQty, true
	}
	if _, err := e.Journal.Append(journal.EventModify, b.Encode(), now); err != nil {
		return e.haltOnDurabilityFailure(se, "modify", err)
	}
	return nil
}

// validateReduceOnly implements spec §4.2's reduce_only consistency check:
// the order must be capable of only shrinking an existing position, never
// opening or growing one.
func (e *Engine) validateReduceOnly(o *common.Order) error {
	pos := e.Positions.Position(o.User, o.Symbol)
	if pos == nil || common.QuantityIsZero(pos.Size) {
		return common.ErrReduceOnlyViolation
	}
	sameDirection := (pos.Size > 0 && o.Side == common.Buy) || (pos.Size < 0 && o.Side == common.Sell)
	if sameDirection {
		return common.ErrReduceOnlyViolation
	}
	return nil
}

// marginAvailable implements spec §4.2's "required margin computable" gate:
// a soft check against the account's currently-available equity. The
// authoritative margin_used figure is still computed by Position.apply_fill
// once a fill actually happens; this only blocks submission up front.
func (e *Engine) marginAvailable(o *common.Order, prod catalog.Snapshot) bool {
	if o.ReduceOnly {
		return true // reduce-only never increases margin usage
	}
	refPrice := o.Price
	if refPrice == 0 {
		refPrice = prod.MarkPrice
	}
	if refPrice == 0 || prod.Leverage <= 0 {
		return true // nothing sensible to check against (e.g. no mark price yet)
	}
	required := o.RemainingQty * float64(refPrice) / prod.Leverage
	return e.Positions.MarginAvailable(o.User, required)
}
