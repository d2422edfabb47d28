package common

import "fmt"

// Order is the system's order record, per spec §3. Invariants maintained
// by callers (book, engine, position manager), not by this struct itself:
//
//	FilledQty + RemainingQty == OriginalQuantity
//	Status == Filled  <=>  RemainingQty == 0
//	a resting order is in exactly one price level of exactly one book
type Order struct {
	ID            OrderID
	Symbol        string
	User          string
	Side          Side
	Type          OrderType
	Price         Price // 0 for Market
	StopPrice     Price // only meaningful for StopLimit
	OriginalQty   float64
	FilledQty     float64
	RemainingQty  float64
	Status        OrderStatus
	CreatedAt     int64
	UpdatedAt     int64
	ReduceOnly    bool
	ClientOrderID string
}

// String renders the order for logs, in the teacher's multi-line style
// (the original internal/common/order.go's String method).
func (o Order) String() string {
	return fmt.Sprintf(
		`ID:            %d
Symbol:        %s
User:          %s
Side:          %v
Type:          %v
Price:         %d
StopPrice:     %d
Quantity:      %f (Total: %f)
Status:        %v
ClientOrderID: %s`,
		o.ID, o.Symbol, o.User, o.Side, o.Type,
		o.Price, o.StopPrice, o.RemainingQty, o.OriginalQty, o.Status, o.ClientOrderID,
	)
}

// Fill reduces the order's remaining quantity by qty and updates filled
// quantity/status/timestamp accordingly. qty must not exceed RemainingQty.
func (o *Order) Fill(qty float64, now int64) {
	o.FilledQty += qty
	o.RemainingQty -= qty
	if QuantityIsZero(o.RemainingQty) {
		o.RemainingQty = 0
		o.Status = Filled
	} else {
		o.Status = PartiallyFilled
	}
	o.UpdatedAt = now
}

// IsBuy is a convenience accessor used throughout the matching algorithm.
func (o *Order) IsBuy() bool { return o.Side == Buy }
