package engine

import (
	"fenrir/internal/common"
	"fenrir/internal/journal"
)

// ReplaySeedIDs resets the order/trade id generators to resume after the
// highest ids observed in the journal, per spec §4.5's "first new sequence
// = last_replayed + 1" applied to the id spaces too: freshly-submitted
// orders after recovery must never collide with a replayed one.
func (e *Engine) ReplaySeedIDs(lastOrderID, lastTradeID uint64) {
	e.orderIDs.Reset(lastOrderID)
	e.tradeIDs.Reset(lastTradeID)
}

// ReplayOrderNew reconstructs a resting or armed order from a journaled
// OrderNew record. Validation already happened on the live run that
// produced this record, so this only rebuilds book/stop-table state — it
// never calls validateRequest or journals anything.
func (e *Engine) ReplayOrderNew(b journal.OrderNewBody, now int64) {
	se := e.symbolEngine(b.Symbol)
	se.mu.Lock()
	defer se.mu.Unlock()

	order := &common.Order{
		ID:            common.OrderID(b.OrderID),
		Symbol:        b.Symbol,
		User:          b.User,
		Side:          b.Side,
		Type:          b.OrderType,
		Price:         common.Price(b.Price),
		StopPrice:     common.Price(b.StopPrice),
		OriginalQty:   b.Quantity,
		RemainingQty:  b.Quantity,
		Status:        common.New,
		CreatedAt:     now,
		UpdatedAt:     now,
		ReduceOnly:    b.ReduceOnly,
		ClientOrderID: b.ClientOrderID,
	}
	if order.Type == common.StopLimit {
		se.stops.add(order)
	} else {
		se.Book.Insert(order)
	}
	e.orderIndex.Store(order.ID, order.Symbol)
}

// ReplaySnapshotOrder restores a resting order captured in a snapshot,
// honoring a RemainingQty that may already be less than OriginalQty (the
// snapshot was taken mid-fill). Unlike ReplayOrderNew it never touches
// orderIDs/tradeIDs; the caller seeds those separately once the journal
// tail after the snapshot has also been scanned.
func (e *Engine) ReplaySnapshotOrder(o journal.SnapshotOrder, now int64) {
	se := e.symbolEngine(o.Symbol)
	se.mu.Lock()
	defer se.mu.Unlock()

	order := &common.Order{
		ID:            common.OrderID(o.ID),
		Symbol:        o.Symbol,
		User:          o.User,
		Side:          common.Side(o.Side),
		Type:          common.OrderType(o.Type),
		Price:         common.Price(o.Price),
		StopPrice:     common.Price(o.StopPrice),
		OriginalQty:   o.OriginalQty,
		FilledQty:     o.OriginalQty - o.RemainingQty,
		RemainingQty:  o.RemainingQty,
		Status:        common.New,
		CreatedAt:     now,
		UpdatedAt:     now,
		ReduceOnly:    o.ReduceOnly,
	}
	if order.RemainingQty != order.OriginalQty {
		order.Status = common.PartiallyFilled
	}
	if order.Type == common.StopLimit {
		se.stops.add(order)
	} else {
		se.Book.Insert(order)
	}
	e.orderIndex.Store(order.ID, order.Symbol)
}

// ReplayCancel removes an order from whichever of the book or stop table
// currently holds it.
func (e *Engine) ReplayCancel(b journal.CancelBody) {
	se := e.symbolEngine(b.Symbol)
	se.mu.Lock()
	defer se.mu.Unlock()

	id := common.OrderID(b.OrderID)
	if order := se.stops.remove(id); order != nil {
		e.orderIndex.Delete(id)
		return
	}
	if order := se.Book.Cancel(id); order != nil {
		e.orderIndex.Delete(id)
	}
}

// ReplayModify reapplies a price/quantity change to a still-resting order.
func (e *Engine) ReplayModify(b journal.ModifyBody, now int64) {
	se := e.symbolEngine(b.Symbol)
	se.mu.Lock()
	defer se.mu.Unlock()

	var newPrice *common.Price
	var newQty *float64
	if b.HasPrice {
		p := common.Price(b.NewPrice)
		newPrice = &p
	}
	if b.HasQty {
		q := b.NewQty
		newQty = &q
	}
	se.Book.Modify(common.OrderID(b.OrderID), newPrice, newQty, now)
}

// ReplayTrade reapplies a journaled fill: the maker leg is reduced or
// removed from the book via Book.ApplyReplayFill, both legs' positions are
// updated through Positions.ApplyFill, and the symbol's last-trade price is
// restored so stop-trigger reconstruction (driven by a later ReplayOrderNew
// or live trade) stays consistent with the run that produced this record.
func (e *Engine) ReplayTrade(b journal.TradeBody, now int64) {
	se := e.symbolEngine(b.Symbol)
	se.mu.Lock()
	makerID := common.OrderID(b.MakerOrderID)
	if se.Book.ApplyReplayFill(makerID, b.Quantity, now) {
		e.orderIndex.Delete(makerID)
	}
	se.lastTradePrice = common.Price(b.Price)
	se.haveLastTrade = true
	se.mu.Unlock()

	if e.Positions == nil {
		return
	}
	takerSigned := b.Quantity * b.TakerSide.Sign()
	makerSigned := -takerSigned
	e.Positions.ApplyFill(b.TakerUser, b.Symbol, takerSigned, common.Price(b.Price), now)
	e.Positions.ApplyFill(b.MakerUser, b.Symbol, makerSigned, common.Price(b.Price), now)
}
