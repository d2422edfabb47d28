// Package book implements the per-symbol two-sided price-level order book
// described in spec §4.1, generalizing the teacher's
// internal/engine/orderbook.go btree-backed implementation from float prices
// to common.Price (integer micro-units) and splitting pure book mechanics
// (insert/cancel/modify/depth) out from matching, which the engine package
// owns.
package book

import (
	"fenrir/internal/common"

	"github.com/tidwall/btree"
)

// PriceLevels is a btree of price levels ordered by the comparator passed to
// NewBook, exactly as the teacher's PriceLevels type aliases btree.BTreeG.
type PriceLevels = btree.BTreeG[*PriceLevel]

// Book is one symbol's two-sided book: Bids ordered highest-first, Asks
// ordered lowest-first (spec §3). It does not itself perform matching; it
// exposes the primitives (Insert/Cancel/Modify/BBO/Depth) the engine's
// matching loop composes.
type Book struct {
	Symbol string
	Bids   *PriceLevels
	Asks   *PriceLevels

	// index gives O(1) order lookup by id without scanning every level,
	// per the design notes' order_id -> (side, price) index strategy.
	index map[common.OrderID]indexEntry
}

type indexEntry struct {
	side  common.Side
	price common.Price
}

// New constructs an empty book for symbol.
func New(symbol string) *Book {
	bids := btree.NewBTreeG(func(a, b *PriceLevel) bool {
		return a.Price > b.Price // descending: highest bid first
	})
	asks := btree.NewBTreeG(func(a, b *PriceLevel) bool {
		return a.Price < b.Price // ascending: lowest ask first
	})
	return &Book{
		Symbol: symbol,
		Bids:   bids,
		Asks:   asks,
		index:  make(map[common.OrderID]indexEntry),
	}
}

func (b *Book) levels(side common.Side) *PriceLevels {
	if side == common.Buy {
		return b.Bids
	}
	return b.Asks
}

// Insert places a resting order at the tail of its price level, per spec
// §4.1. Callers are responsible for tick/size validation before calling
// Insert; Insert itself only performs the book mutation.
func (b *Book) Insert(order *common.Order) {
	levels := b.levels(order.Side)
	dummy := &PriceLevel{Price: order.Price}
	if lvl, ok := levels.GetMut(dummy); ok {
		lvl.append(order)
	} else {
		levels.Set(newPriceLevel(order.Price, order))
	}
	b.index[order.ID] = indexEntry{side: order.Side, price: order.Price}
}

// Cancel removes the order with id from its level and returns it, or nil if
// it is not resting in this book (already filled, never existed, or
// cancelled previously).
func (b *Book) Cancel(id common.OrderID) *common.Order {
	entry, ok := b.index[id]
	if !ok {
		return nil
	}
	levels := b.levels(entry.side)
	dummy := &PriceLevel{Price: entry.price}
	lvl, ok := levels.GetMut(dummy)
	if !ok {
		delete(b.index, id)
		return nil
	}
	i := lvl.indexOf(id)
	if i < 0 {
		delete(b.index, id)
		return nil
	}
	order := lvl.Orders[i]
	lvl.removeAt(i)
	if lvl.empty() {
		levels.Delete(lvl)
	}
	delete(b.index, id)
	return order
}

// Modify applies a price and/or quantity change to a resting order, per
// spec §4.1: a price change or a quantity increase loses time priority
// (cancel + reinsert at the tail of the new level); a pure quantity
// decrease preserves priority in place. Returns false if the order is not
// resting in this book.
func (b *Book) Modify(id common.OrderID, newPrice *common.Price, newQty *float64, now int64) bool {
	entry, ok := b.index[id]
	if !ok {
		return false
	}
	levels := b.levels(entry.side)
	dummy := &PriceLevel{Price: entry.price}
	lvl, ok := levels.GetMut(dummy)
	if !ok {
		return false
	}
	i := lvl.indexOf(id)
	if i < 0 {
		return false
	}
	order := lvl.Orders[i]

	priceChanged := newPrice != nil && *newPrice != order.Price
	qtyIncrease := newQty != nil && *newQty > order.RemainingQty

	if priceChanged || qtyIncrease {
		lvl.removeAt(i)
		if lvl.empty() {
			levels.Delete(lvl)
		}
		if newPrice != nil {
			order.Price = *newPrice
		}
		if newQty != nil {
			delta := *newQty - order.RemainingQty
			order.RemainingQty = *newQty
			order.OriginalQty += delta
		}
		order.UpdatedAt = now
		b.Insert(order)
		return true
	}

	// Pure quantity decrease: preserve FIFO priority in place.
	if newQty != nil {
		delta := order.RemainingQty - *newQty
		order.RemainingQty = *newQty
		order.OriginalQty -= delta
		lvl.Total -= delta
		order.UpdatedAt = now
	}
	return true
}

// BBO returns the best bid and best ask price, each ok=false if that side
// is empty.
func (b *Book) BBO() (bid common.Price, bidOK bool, ask common.Price, askOK bool) {
	if lvl, ok := b.Bids.Min(); ok {
		bid, bidOK = lvl.Price, true
	}
	if lvl, ok := b.Asks.Min(); ok {
		ask, askOK = lvl.Price, true
	}
	return
}

// DepthLevel is a read-only snapshot of one price level, safe to hand to a
// caller without holding the book's lock.
type DepthLevel struct {
	Price common.Price
	Total float64
}

// Depth returns up to n levels per side, best first. It copies out of the
// btree so callers never hold a live reference into the book, per spec §5's
// "read paths never block writers longer than O(levels)".
func (b *Book) Depth(n int) (bids []DepthLevel, asks []DepthLevel) {
	if n <= 0 {
		return
	}
	b.Bids.Scan(func(lvl *PriceLevel) bool {
		bids = append(bids, DepthLevel{Price: lvl.Price, Total: lvl.Total})
		return len(bids) < n
	})
	b.Asks.Scan(func(lvl *PriceLevel) bool {
		asks = append(asks, DepthLevel{Price: lvl.Price, Total: lvl.Total})
		return len(asks) < n
	})
	return
}

// Order returns the resting order with id, or nil.
func (b *Book) Order(id common.OrderID) *common.Order {
	entry, ok := b.index[id]
	if !ok {
		return nil
	}
	levels := b.levels(entry.side)
	lvl, ok := levels.GetMut(&PriceLevel{Price: entry.price})
	if !ok {
		return nil
	}
	if i := lvl.indexOf(id); i >= 0 {
		return lvl.Orders[i]
	}
	return nil
}

// BestLevel returns the best (head) price level on side, or nil if empty.
func (b *Book) BestLevel(side common.Side) *PriceLevel {
	lvl, ok := b.levels(side).MinMut()
	if !ok {
		return nil
	}
	return lvl
}

// DropEmptyLevel removes lvl from side's levels if it has become empty.
// Exposed for the engine's matching loop, which mutates levels' order
// slices directly while sweeping.
func (b *Book) DropEmptyLevel(side common.Side, lvl *PriceLevel) {
	if lvl.empty() {
		b.levels(side).Delete(lvl)
	}
}

// SyncIndex updates the index entry for id after the engine mutates a
// level's Orders slice directly (e.g. removing a fully filled head order
// during a sweep without going through Cancel).
func (b *Book) SyncIndex(id common.OrderID, side common.Side, price common.Price) {
	b.index[id] = indexEntry{side: side, price: price}
}

// ForgetIndex removes id from the lookup index once it is fully filled and
// removed from its level by the matching loop.
func (b *Book) ForgetIndex(id common.OrderID) {
	delete(b.index, id)
}

// ApplyReplayFill reduces a resting order's remaining quantity by qty and
// removes it from its level if the remainder reaches zero, mirroring what
// the live matching loop does to a maker leg. Used by the replay driver to
// reconstruct book state from journaled Trade records without rerunning the
// matching algorithm. Reports whether the order was fully filled and
// removed.
func (b *Book) ApplyReplayFill(id common.OrderID, qty float64, now int64) bool {
	entry, ok := b.index[id]
	if !ok {
		return false
	}
	levels := b.levels(entry.side)
	lvl, ok := levels.GetMut(&PriceLevel{Price: entry.price})
	if !ok {
		return false
	}
	i := lvl.indexOf(id)
	if i < 0 {
		return false
	}
	order := lvl.Orders[i]
	order.Fill(qty, now)
	lvl.Total -= qty
	if order.RemainingQty != 0 {
		return false
	}
	lvl.removeAt(i)
	if lvl.empty() {
		levels.Delete(lvl)
	}
	delete(b.index, id)
	return true
}

// AllOrders returns every resting order in the book, both sides, in no
// particular cross-level order. Used by introspection paths (get_user_orders)
// that do not need price-time ordering.
func (b *Book) AllOrders() []*common.Order {
	var out []*common.Order
	b.Bids.Scan(func(lvl *PriceLevel) bool {
		out = append(out, lvl.Orders...)
		return true
	})
	b.Asks.Scan(func(lvl *PriceLevel) bool {
		out = append(out, lvl.Orders...)
		return true
	})
	return out
}

// CrossedAtRest reports whether the book is crossed while no match is in
// flight — an invariant violation per spec §8.
func (b *Book) CrossedAtRest() bool {
	bid, bidOK, ask, askOK := b.BBO()
	return bidOK && askOK && bid >= ask
}
