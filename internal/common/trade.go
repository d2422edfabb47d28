package common

import "fmt"

// Trade is immutable once emitted, per spec §3. MakerOrderID/TakerOrderID
// identify the resting and incoming orders; TakerSide records which side
// initiated the cross since price is always the maker's.
type Trade struct {
	ID            TradeID
	Symbol        string
	MakerOrderID  OrderID
	TakerOrderID  OrderID
	MakerUser     string
	TakerUser     string
	TakerSide     Side
	Price         Price
	Quantity      float64
	MakerFee      float64
	TakerFee      float64
	Timestamp     int64
}

func (t Trade) String() string {
	return fmt.Sprintf(
		`Trade #%d [%s]
MakerOrder:  %d (%s)
TakerOrder:  %d (%s)
TakerSide:   %v
Price:       %d
Quantity:    %f
MakerFee:    %f
TakerFee:    %f`,
		t.ID, t.Symbol,
		t.MakerOrderID, t.MakerUser,
		t.TakerOrderID, t.TakerUser,
		t.TakerSide, t.Price, t.Quantity, t.MakerFee, t.TakerFee,
	)
}
