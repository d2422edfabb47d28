package book

import "fenrir/internal/common"

// PriceLevel is a FIFO queue of resting orders at one price, per spec §3.
// Invariant: Total == sum of Orders[i].RemainingQty; a level with zero
// orders is removed from the book, never kept empty.
type PriceLevel struct {
	Price  common.Price
	Orders []*common.Order
	Total  float64
}

// newPriceLevel creates a level seeded with a single order.
func newPriceLevel(price common.Price, order *common.Order) *PriceLevel {
	return &PriceLevel{
		Price:  price,
		Orders: []*common.Order{order},
		Total:  order.RemainingQty,
	}
}

// append adds order to the tail of the level's FIFO queue.
func (lvl *PriceLevel) append(order *common.Order) {
	lvl.Orders = append(lvl.Orders, order)
	lvl.Total += order.RemainingQty
}

// removeAt removes the order at index i, preserving FIFO order of the rest.
func (lvl *PriceLevel) removeAt(i int) {
	lvl.Total -= lvl.Orders[i].RemainingQty
	lvl.Orders = append(lvl.Orders[:i], lvl.Orders[i+1:]...)
}

// empty reports whether the level has no resting orders left.
func (lvl *PriceLevel) empty() bool {
	return len(lvl.Orders) == 0
}

// IsEmpty is the exported form of empty, for callers outside this package
// (the engine's matching loop, which mutates Orders directly while sweeping
// and needs to know when to drop a level).
func (lvl *PriceLevel) IsEmpty() bool {
	return lvl.empty()
}

// indexOf returns the position of an order with the given ID, or -1.
func (lvl *PriceLevel) indexOf(id common.OrderID) int {
	for i, o := range lvl.Orders {
		if o.ID == id {
			return i
		}
	}
	return -1
}
