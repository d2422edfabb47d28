package engine

import (
	"sync"

	"fenrir/internal/book"
	"fenrir/internal/common"
)

// SymbolEngine owns one symbol's book and stop-order table behind a single
// mutex, the "per-symbol lock" of spec §5. All book and stop-table mutation
// for a symbol happens while this lock is held; the lock is acquired once
// per public Engine call and never re-acquired by the internal recursive
// stop-triggering path.
type SymbolEngine struct {
	mu sync.Mutex

	Symbol         string
	Book           *book.Book
	stops          *stopTable
	lastTradePrice common.Price
	haveLastTrade  bool

	// durabilityHalted latches true the first time a journal write/fsync
	// fails for this symbol, per spec §7's FATAL-durability clause. It
	// never clears: recovery is restart + replay, not a live reset.
	durabilityHalted bool
}

func newSymbolEngine(symbol string) *SymbolEngine {
	return &SymbolEngine{
		Symbol: symbol,
		Book:   book.New(symbol),
		stops:  newStopTable(),
	}
}

// stopEntry is one armed StopLimit order waiting in the side-indexed trigger
// table described in spec §4.2.3.
type stopEntry struct {
	order *common.Order
	seq   uint64 // trigger sequence: creation order, for simultaneous triggers
}

// stopTable holds stop orders outside the book, per spec §4.2.3. It carries
// no lock of its own: callers always hold the owning SymbolEngine's mutex.
type stopTable struct {
	entries []*stopEntry
	nextSeq uint64
	index   map[common.OrderID]*stopEntry
}

func newStopTable() *stopTable {
	return &stopTable{index: make(map[common.OrderID]*stopEntry)}
}

func (t *stopTable) add(order *common.Order) {
	t.nextSeq++
	e := &stopEntry{order: order, seq: t.nextSeq}
	t.entries = append(t.entries, e)
	t.index[order.ID] = e
}

func (t *stopTable) remove(id common.OrderID) *common.Order {
	e, ok := t.index[id]
	if !ok {
		return nil
	}
	delete(t.index, id)
	for i, x := range t.entries {
		if x == e {
			t.entries = append(t.entries[:i], t.entries[i+1:]...)
			break
		}
	}
	return e.order
}

// due returns every stop order armed-side-triggered at lastPrice, removed
// from the table and ordered by trigger sequence (earlier-created stops fire
// first when multiple trigger simultaneously), per spec §4.2.3.
func (t *stopTable) due(lastPrice common.Price) []*common.Order {
	var triggered []*stopEntry
	var remaining []*stopEntry
	for _, e := range t.entries {
		o := e.order
		isTriggered := (o.Side == common.Buy && lastPrice >= o.StopPrice) ||
			(o.Side == common.Sell && lastPrice <= o.StopPrice)
		if isTriggered {
			triggered = append(triggered, e)
			delete(t.index, o.ID)
		} else {
			remaining = append(remaining, e)
		}
	}
	t.entries = remaining
	if len(triggered) == 0 {
		return nil
	}
	// Stable by seq (t.entries was already creation-ordered, so this is a
	// no-op sort in practice, but makes the tie-break explicit).
	for i := 1; i < len(triggered); i++ {
		for j := i; j > 0 && triggered[j-1].seq > triggered[j].seq; j-- {
			triggered[j-1], triggered[j] = triggered[j], triggered[j-1]
		}
	}
	out := make([]*common.Order, len(triggered))
	for i, e := range triggered {
		out[i] = e.order
	}
	return out
}
