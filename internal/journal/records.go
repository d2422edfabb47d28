package journal

import (
	"encoding/binary"
	"math"

	"fenrir/internal/common"
)

// Each body type below has a fixed byte layout with no implicit padding,
// per spec §9 ("Implementations must preserve exact byte layout for
// compatibility"). Encode/Decode pairs are hand-written rather than using
// Go struct memory layout directly, so there is no host-alignment risk.

type OrderNewBody struct {
	OrderID       uint64
	Symbol        string
	User          string
	Side          common.Side
	OrderType     common.OrderType
	Price         int64
	StopPrice     int64
	Quantity      float64
	ReduceOnly    bool
	ClientOrderID string
}

func (b OrderNewBody) Encode() []byte {
	buf := make([]byte, 8+symbolFieldLen+userFieldLen+1+1+8+8+8+1+clientIDFieldLen)
	o := 0
	binary.LittleEndian.PutUint64(buf[o:o+8], b.OrderID)
	o += 8
	putFixedString(buf[o:o+symbolFieldLen], b.Symbol)
	o += symbolFieldLen
	putFixedString(buf[o:o+userFieldLen], b.User)
	o += userFieldLen
	buf[o] = byte(b.Side)
	o++
	buf[o] = byte(b.OrderType)
	o++
	binary.LittleEndian.PutUint64(buf[o:o+8], uint64(b.Price))
	o += 8
	binary.LittleEndian.PutUint64(buf[o:o+8], uint64(b.StopPrice))
	o += 8
	binary.LittleEndian.PutUint64(buf[o:o+8], math.Float64bits(b.Quantity))
	o += 8
	if b.ReduceOnly {
		buf[o] = 1
	}
	o++
	putFixedString(buf[o:o+clientIDFieldLen], b.ClientOrderID)
	return buf
}

func DecodeOrderNewBody(buf []byte) OrderNewBody {
	o := 0
	b := OrderNewBody{}
	b.OrderID = binary.LittleEndian.Uint64(buf[o : o+8])
	o += 8
	b.Symbol = getFixedString(buf[o : o+symbolFieldLen])
	o += symbolFieldLen
	b.User = getFixedString(buf[o : o+userFieldLen])
	o += userFieldLen
	b.Side = common.Side(buf[o])
	o++
	b.OrderType = common.OrderType(buf[o])
	o++
	b.Price = int64(binary.LittleEndian.Uint64(buf[o : o+8]))
	o += 8
	b.StopPrice = int64(binary.LittleEndian.Uint64(buf[o : o+8]))
	o += 8
	b.Quantity = math.Float64frombits(binary.LittleEndian.Uint64(buf[o : o+8]))
	o += 8
	b.ReduceOnly = buf[o] != 0
	o++
	b.ClientOrderID = getFixedString(buf[o : o+clientIDFieldLen])
	return b
}

type CancelBody struct {
	OrderID uint64
	Symbol  string
	User    string
}

func (b CancelBody) Encode() []byte {
	buf := make([]byte, 8+symbolFieldLen+userFieldLen)
	binary.LittleEndian.PutUint64(buf[0:8], b.OrderID)
	putFixedString(buf[8:8+symbolFieldLen], b.Symbol)
	putFixedString(buf[8+symbolFieldLen:], b.User)
	return buf
}

func DecodeCancelBody(buf []byte) CancelBody {
	return CancelBody{
		OrderID: binary.LittleEndian.Uint64(buf[0:8]),
		Symbol:  getFixedString(buf[8 : 8+symbolFieldLen]),
		User:    getFixedString(buf[8+symbolFieldLen:]),
	}
}

type ModifyBody struct {
	OrderID    uint64
	Symbol     string
	User       string
	NewPrice   int64
	HasPrice   bool
	NewQty     float64
	HasQty     bool
}

func (b ModifyBody) Encode() []byte {
	buf := make([]byte, 8+symbolFieldLen+userFieldLen+8+1+8+1)
	o := 0
	binary.LittleEndian.PutUint64(buf[o:o+8], b.OrderID)
	o += 8
	putFixedString(buf[o:o+symbolFieldLen], b.Symbol)
	o += symbolFieldLen
	putFixedString(buf[o:o+userFieldLen], b.User)
	o += userFieldLen
	binary.LittleEndian.PutUint64(buf[o:o+8], uint64(b.NewPrice))
	o += 8
	if b.HasPrice {
		buf[o] = 1
	}
	o++
	binary.LittleEndian.PutUint64(buf[o:o+8], math.Float64bits(b.NewQty))
	o += 8
	if b.HasQty {
		buf[o] = 1
	}
	return buf
}

func DecodeModifyBody(buf []byte) ModifyBody {
	o := 0
	b := ModifyBody{}
	b.OrderID = binary.LittleEndian.Uint64(buf[o : o+8])
	o += 8
	b.Symbol = getFixedString(buf[o : o+symbolFieldLen])
	o += symbolFieldLen
	b.User = getFixedString(buf[o : o+userFieldLen])
	o += userFieldLen
	b.NewPrice = int64(binary.LittleEndian.Uint64(buf[o : o+8]))
	o += 8
	b.HasPrice = buf[o] != 0
	o++
	b.NewQty = math.Float64frombits(binary.LittleEndian.Uint64(buf[o : o+8]))
	o += 8
	b.HasQty = buf[o] != 0
	return b
}

type TradeBody struct {
	TradeID      uint64
	Symbol       string
	MakerOrderID uint64
	TakerOrderID uint64
	MakerUser    string
	TakerUser    string
	TakerSide    common.Side
	Price        int64
	Quantity     float64
	MakerFee     float64
	TakerFee     float64
}

func (b TradeBody) Encode() []byte {
	buf := make([]byte, 8+symbolFieldLen+8+8+userFieldLen+userFieldLen+1+8+8+8+8)
	o := 0
	binary.LittleEndian.PutUint64(buf[o:o+8], b.TradeID)
	o += 8
	putFixedString(buf[o:o+symbolFieldLen], b.Symbol)
	o += symbolFieldLen
	binary.LittleEndian.PutUint64(buf[o:o+8], b.MakerOrderID)
	o += 8
	binary.LittleEndian.PutUint64(buf[o:o+8], b.TakerOrderID)
	o += 8
	putFixedString(buf[o:o+userFieldLen], b.MakerUser)
	o += userFieldLen
	putFixedString(buf[o:o+userFieldLen], b.TakerUser)
	o += userFieldLen
	buf[o] = byte(b.TakerSide)
	o++
	binary.LittleEndian.PutUint64(buf[o:o+8], uint64(b.Price))
	o += 8
	binary.LittleEndian.PutUint64(buf[o:o+8], math.Float64bits(b.Quantity))
	o += 8
	binary.LittleEndian.PutUint64(buf[o:o+8], math.Float64bits(b.MakerFee))
	o += 8
	binary.LittleEndian.PutUint64(buf[o:o+8], math.Float64bits(b.TakerFee))
	return buf
}

func DecodeTradeBody(buf []byte) TradeBody {
	o := 0
	b := TradeBody{}
	b.TradeID = binary.LittleEndian.Uint64(buf[o : o+8])
	o += 8
	b.Symbol = getFixedString(buf[o : o+symbolFieldLen])
	o += symbolFieldLen
	b.MakerOrderID = binary.LittleEndian.Uint64(buf[o : o+8])
	o += 8
	b.TakerOrderID = binary.LittleEndian.Uint64(buf[o : o+8])
	o += 8
	b.MakerUser = getFixedString(buf[o : o+userFieldLen])
	o += userFieldLen
	b.TakerUser = getFixedString(buf[o : o+userFieldLen])
	o += userFieldLen
	b.TakerSide = common.Side(buf[o])
	o++
	b.Price = int64(binary.LittleEndian.Uint64(buf[o : o+8]))
	o += 8
	b.Quantity = math.Float64frombits(binary.LittleEndian.Uint64(buf[o : o+8]))
	o += 8
	b.MakerFee = math.Float64frombits(binary.LittleEndian.Uint64(buf[o : o+8]))
	o += 8
	b.TakerFee = math.Float64frombits(binary.LittleEndian.Uint64(buf[o : o+8]))
	return b
}

// CashMovementBody covers both Deposit and Withdrawal events, which share a
// layout: user, currency, amount.
type CashMovementBody struct {
	User     string
	Currency string
	Amount   float64
}

func (b CashMovementBody) Encode() []byte {
	buf := make([]byte, userFieldLen+currencyFieldLen+8)
	putFixedString(buf[0:userFieldLen], b.User)
	putFixedString(buf[userFieldLen:userFieldLen+currencyFieldLen], b.Currency)
	binary.LittleEndian.PutUint64(buf[userFieldLen+currencyFieldLen:], math.Float64bits(b.Amount))
	return buf
}

func DecodeCashMovementBody(buf []byte) CashMovementBody {
	return CashMovementBody{
		User:     getFixedString(buf[0:userFieldLen]),
		Currency: getFixedString(buf[userFieldLen : userFieldLen+currencyFieldLen]),
		Amount:   math.Float64frombits(binary.LittleEndian.Uint64(buf[userFieldLen+currencyFieldLen:])),
	}
}

// MarginBody covers MarginLock and MarginRelease events.
type MarginBody struct {
	User   string
	Symbol string
	Amount float64
}

func (b MarginBody) Encode() []byte {
	buf := make([]byte, userFieldLen+symbolFieldLen+8)
	putFixedString(buf[0:userFieldLen], b.User)
	putFixedString(buf[userFieldLen:userFieldLen+symbolFieldLen], b.Symbol)
	binary.LittleEndian.PutUint64(buf[userFieldLen+symbolFieldLen:], math.Float64bits(b.Amount))
	return buf
}

func DecodeMarginBody(buf []byte) MarginBody {
	return MarginBody{
		User:   getFixedString(buf[0:userFieldLen]),
		Symbol: getFixedString(buf[userFieldLen : userFieldLen+symbolFieldLen]),
		Amount: math.Float64frombits(binary.LittleEndian.Uint64(buf[userFieldLen+symbolFieldLen:])),
	}
}

type LiquidationBody struct {
	User            string
	Symbol          string
	Size            float64
	MarkPrice       int64
	RealizedPnl     float64
	InsuranceDraw   float64
	Penalty         float64
	InsuranceCredit float64
}

func (b LiquidationBody) Encode() []byte {
	buf := make([]byte, userFieldLen+symbolFieldLen+8+8+8+8+8+8)
	o := 0
	putFixedString(buf[o:o+userFieldLen], b.User)
	o += userFieldLen
	putFixedString(buf[o:o+symbolFieldLen], b.Symbol)
	o += symbolFieldLen
	binary.LittleEndian.PutUint64(buf[o:o+8], math.Float64bits(b.Size))
	o += 8
	binary.LittleEndian.PutUint64(buf[o:o+8], uint64(b.MarkPrice))
	o += 8
	binary.LittleEndian.PutUint64(buf[o:o+8], math.Float64bits(b.RealizedPnl))
	o += 8
	binary.LittleEndian.PutUint64(buf[o:o+8], math.Float64bits(b.InsuranceDraw))
	o += 8
	binary.LittleEndian.PutUint64(buf[o:o+8], math.Float64bits(b.Penalty))
	o += 8
	binary.LittleEndian.PutUint64(buf[o:o+8], math.Float64bits(b.InsuranceCredit))
	return buf
}

func DecodeLiquidationBody(buf []byte) LiquidationBody {
	o := 0
	b := LiquidationBody{}
	b.User = getFixedString(buf[o : o+userFieldLen])
	o += userFieldLen
	b.Symbol = getFixedString(buf[o : o+symbolFieldLen])
	o += symbolFieldLen
	b.Size = math.Float64frombits(binary.LittleEndian.Uint64(buf[o : o+8]))
	o += 8
	b.MarkPrice = int64(binary.LittleEndian.Uint64(buf[o : o+8]))
	o += 8
	b.RealizedPnl = math.Float64frombits(binary.LittleEndian.Uint64(buf[o : o+8]))
	o += 8
	b.InsuranceDraw = math.Float64frombits(binary.LittleEndian.Uint64(buf[o : o+8]))
	o += 8
	b.Penalty = math.Float64frombits(binary.LittleEndian.Uint64(buf[o : o+8]))
	o += 8
	b.InsuranceCredit = math.Float64frombits(binary.LittleEndian.Uint64(buf[o : o+8]))
	return b
}

type FundingBody struct {
	Symbol    string
	Rate      float64
	MarkPrice int64
}

func (b FundingBody) Encode() []byte {
	buf := make([]byte, symbolFieldLen+8+8)
	putFixedString(buf[0:symbolFieldLen], b.Symbol)
	binary.LittleEndian.PutUint64(buf[symbolFieldLen:symbolFieldLen+8], math.Float64bits(b.Rate))
	binary.LittleEndian.PutUint64(buf[symbolFieldLen+8:], uint64(b.MarkPrice))
	return buf
}

func DecodeFundingBody(buf []byte) FundingBody {
	return FundingBody{
		Symbol:    getFixedString(buf[0:symbolFieldLen]),
		Rate:      math.Float64frombits(binary.LittleEndian.Uint64(buf[symbolFieldLen : symbolFieldLen+8])),
		MarkPrice: int64(binary.LittleEndian.Uint64(buf[symbolFieldLen+8:])),
	}
}

// PositionAdjustmentBody records a direct open_position/close_position
// operation (spec §6): a fill applied straight to one user's position
// outside the matching engine, with no counterparty order to replay
// through Book.ApplyReplayFill.
type PositionAdjustmentBody struct {
	User      string
	Symbol    string
	SignedQty float64
	Price     int64
}

func (b PositionAdjustmentBody) Encode() []byte {
	buf := make([]byte, userFieldLen+symbolFieldLen+8+8)
	o := 0
	putFixedString(buf[o:o+userFieldLen], b.User)
	o += userFieldLen
	putFixedString(buf[o:o+symbolFieldLen], b.Symbol)
	o += symbolFieldLen
	binary.LittleEndian.PutUint64(buf[o:o+8], math.Float64bits(b.SignedQty))
	o += 8
	binary.LittleEndian.PutUint64(buf[o:o+8], uint64(b.Price))
	return buf
}

func DecodePositionAdjustmentBody(buf []byte) PositionAdjustmentBody {
	o := 0
	b := PositionAdjustmentBody{}
	b.User = getFixedString(buf[o : o+userFieldLen])
	o += userFieldLen
	b.Symbol = getFixedString(buf[o : o+symbolFieldLen])
	o += symbolFieldLen
	b.SignedQty = math.Float64frombits(binary.LittleEndian.Uint64(buf[o : o+8]))
	o += 8
	b.Price = int64(binary.LittleEndian.Uint64(buf[o : o+8]))
	return b
}

type FeeBody struct {
	User   string
	Symbol string
	Amount float64
}

func (b FeeBody) Encode() []byte {
	buf := make([]byte, userFieldLen+symbolFieldLen+8)
	putFixedString(buf[0:userFieldLen], b.User)
	putFixedString(buf[userFieldLen:userFieldLen+symbolFieldLen], b.Symbol)
	binary.LittleEndian.PutUint64(buf[userFieldLen+symbolFieldLen:], math.Float64bits(b.Amount))
	return buf
}

func DecodeFeeBody(buf []byte) FeeBody {
	return FeeBody{
		User:   getFixedString(buf[0:userFieldLen]),
		Symbol: getFixedString(buf[userFieldLen : userFieldLen+symbolFieldLen]),
		Amount: math.Float64frombits(binary.LittleEndian.Uint64(buf[userFieldLen+symbolFieldLen:])),
	}
}

type InsuranceBody struct {
	Symbol string
	Amount float64
	Reason string
}

func (b InsuranceBody) Encode() []byte {
	buf := make([]byte, symbolFieldLen+8+reasonFieldLen)
	putFixedString(buf[0:symbolFieldLen], b.Symbol)
	binary.LittleEndian.PutUint64(buf[symbolFieldLen:symbolFieldLen+8], math.Float64bits(b.Amount))
	putFixedString(buf[symbolFieldLen+8:], b.Reason)
	return buf
}

func DecodeInsuranceBody(buf []byte) InsuranceBody {
	return InsuranceBody{
		Symbol: getFixedString(buf[0:symbolFieldLen]),
		Amount: math.Float64frombits(binary.LittleEndian.Uint64(buf[symbolFieldLen : symbolFieldLen+8])),
		Reason: getFixedString(buf[symbolFieldLen+8:]),
	}
}

type OrderRejectBody struct {
	User   string
	Symbol string
	Reason string
}

func (b OrderRejectBody) Encode() []byte {
	buf := make([]byte, userFieldLen+symbolFieldLen+reasonFieldLen)
	putFixedString(buf[0:userFieldLen], b.User)
	putFixedString(buf[userFieldLen:userFieldLen+symbolFieldLen], b.Symbol)
	putFixedString(buf[userFieldLen+symbolFieldLen:], b.Reason)
	return buf
}

func DecodeOrderRejectBody(buf []byte) OrderRejectBody {
	return OrderRejectBody{
		User:   getFixedString(buf[0:userFieldLen]),
		Symbol: getFixedString(buf[userFieldLen : userFieldLen+symbolFieldLen]),
		Reason: getFixedString(buf[userFieldLen+symbolFieldLen:]),
	}
}

// SnapshotBody references an external snapshot file, per spec §4.4.
type SnapshotBody struct {
	Sequence uint64
	Path     string
	Hash     [hashFieldLen]byte
}

func (b SnapshotBody) Encode() []byte {
	buf := make([]byte, 8+pathFieldLen+hashFieldLen)
	binary.LittleEndian.PutUint64(buf[0:8], b.Sequence)
	putFixedString(buf[8:8+pathFieldLen], b.Path)
	copy(buf[8+pathFieldLen:], b.Hash[:])
	return buf
}

func DecodeSnapshotBody(buf []byte) SnapshotBody {
	b := SnapshotBody{}
	b.Sequence = binary.LittleEndian.Uint64(buf[0:8])
	b.Path = getFixedString(buf[8 : 8+pathFieldLen])
	copy(b.Hash[:], buf[8+pathFieldLen:8+pathFieldLen+hashFieldLen])
	return b
}
