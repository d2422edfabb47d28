package net

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"fenrir/internal/common"
	"fenrir/internal/engine"

	"github.com/google/uuid"
)

var (
	ErrInvalidMessageType = errors.New("invalid message type")
	ErrMessageTooShort    = errors.New("message too short for specified field length")
)

type MessageType uint16

const (
	Heartbeat MessageType = iota
	NewOrder
	CancelOrder
	ModifyOrder
	LogBook
	OpenPosition
	ClosePosition
)

type ReportMessageType uint8

const (
	ExecutionReport ReportMessageType = iota
	AckReport
	ErrorReport
	PositionReport
)

type Message interface {
	GetType() MessageType
}

// Message format constants. Fixed-width fields (Symbol, ClientOrderID) are
// null-padded/truncated, matching the journal's putFixedString convention;
// Username stays a length-prefixed variable tail at the end of every
// message, as the teacher's NewOrderMessage already did.
const (
	BaseMessageHeaderLen = 2

	symbolFieldLen        = 16
	clientOrderIDFieldLen = 32

	// Fixed portion only; Username follows and is UsernameLen bytes long.
	NewOrderMessageHeaderLen      = symbolFieldLen + 1 + 1 + 8 + 8 + 8 + 1 + clientOrderIDFieldLen + 1
	CancelOrderMessageHeaderLen   = symbolFieldLen + 8 + 1
	ModifyOrderMessageHeaderLen   = symbolFieldLen + 8 + 1 + 8 + 1 + 8 + 1
	PositionMessageHeaderLen      = symbolFieldLen + 8 + 8 + 1
)

type BaseMessage struct {
	TypeOf MessageType
}

func (m BaseMessage) GetType() MessageType { return m.TypeOf }

func parseMessage(msg []byte) (Message, error) {
	if len(msg) < BaseMessageHeaderLen {
		return BaseMessage{}, ErrMessageTooShort
	}
	typeOf := MessageType(binary.BigEndian.Uint16(msg[0:2]))
	msg = msg[2:]
	switch typeOf {
	case NewOrder:
		return parseNewOrder(msg)
	case CancelOrder:
		return parseCancelOrder(msg)
	case ModifyOrder:
		return parseModifyOrder(msg)
	case LogBook:
		return BaseMessage{TypeOf: LogBook}, nil
	case OpenPosition:
		return parsePositionMessage(msg, OpenPosition)
	case ClosePosition:
		return parsePositionMessage(msg, ClosePosition)
	default:
		return BaseMessage{}, ErrInvalidMessageType
	}
}

// NewOrderMessage is the wire form of engine.SubmitRequest.
type NewOrderMessage struct {
	BaseMessage
	Symbol        string
	Side          common.Side
	OrderType     common.OrderType
	Price         common.Price
	StopPrice     common.Price
	Quantity      float64
	ReduceOnly    bool
	ClientOrderID string
	Username      string
}

// Request converts the wire message into an engine.SubmitRequest, filling
// in a generated ClientOrderID when the caller left it blank.
func (m *NewOrderMessage) Request() engine.SubmitRequest {
	cid := m.ClientOrderID
	if cid == "" {
		cid = uuid.NewString()
	}
	return engine.SubmitRequest{
		Symbol:        m.Symbol,
		User:          m.Username,
		Side:          m.Side,
		Type:          m.OrderType,
		Price:         m.Price,
		StopPrice:     m.StopPrice,
		Qty:           m.Quantity,
		ReduceOnly:    m.ReduceOnly,
		ClientOrderID: cid,
	}
}

func parseNewOrder(msg []byte) (NewOrderMessage, error) {
	if len(msg) < NewOrderMessageHeaderLen {
		return NewOrderMessage{}, ErrMessageTooShort
	}
	m := NewOrderMessage{BaseMessage: BaseMessage{TypeOf: NewOrder}}
	o := 0
	m.Symbol = getFixedString(msg[o : o+symbolFieldLen])
	o += symbolFieldLen
	m.Side = common.Side(msg[o])
	o++
	m.OrderType = common.OrderType(msg[o])
	o++
	m.Price = common.Price(binary.BigEndian.Uint64(msg[o : o+8]))
	o += 8
	m.StopPrice = common.Price(binary.BigEndian.Uint64(msg[o : o+8]))
	o += 8
	m.Quantity = math.Float64frombits(binary.BigEndian.Uint64(msg[o : o+8]))
	o += 8
	m.ReduceOnly = msg[o] != 0
	o++
	m.ClientOrderID = getFixedString(msg[o : o+clientOrderIDFieldLen])
	o += clientOrderIDFieldLen
	usernameLen := int(msg[o])
	o++
	if len(msg) < o+usernameLen {
		return NewOrderMessage{}, ErrMessageTooShort
	}
	m.Username = string(msg[o : o+usernameLen])
	return m, nil
}

type CancelOrderMessage struct {
	BaseMessage
	Symbol   string
	OrderID  common.OrderID
	Username string
}

func parseCancelOrder(msg []byte) (CancelOrderMessage, error) {
	if len(msg) < CancelOrderMessageHeaderLen {
		return CancelOrderMessage{}, ErrMessageTooShort
	}
	m := CancelOrderMessage{BaseMessage: BaseMessage{TypeOf: CancelOrder}}
	o := 0
	m.Symbol = getFixedString(msg[o : o+symbolFieldLen])
	o += symbolFieldLen
	m.OrderID = common.OrderID(binary.BigEndian.Uint64(msg[o : o+8]))
	o += 8
	usernameLen := int(msg[o])
	o++
	if len(msg) < o+usernameLen {
		return CancelOrderMessage{}, ErrMessageTooShort
	}
	m.Username = string(msg[o : o+usernameLen])
	return m, nil
}

type ModifyOrderMessage struct {
	BaseMessage
	Symbol   string
	OrderID  common.OrderID
	HasPrice bool
	NewPrice common.Price
	HasQty   bool
	NewQty   float64
	Username string
}

func parseModifyOrder(msg []byte) (ModifyOrderMessage, error) {
	if len(msg) < ModifyOrderMessageHeaderLen {
		return ModifyOrderMessage{}, ErrMessageTooShort
	}
	m := ModifyOrderMessage{BaseMessage: BaseMessage{TypeOf: ModifyOrder}}
	o := 0
	m.Symbol = getFixedString(msg[o : o+symbolFieldLen])
	o += symbolFieldLen
	m.OrderID = common.OrderID(binary.BigEndian.Uint64(msg[o : o+8]))
	o += 8
	m.HasPrice = msg[o] != 0
	o++
	m.NewPrice = common.Price(binary.BigEndian.Uint64(msg[o : o+8]))
	o += 8
	m.HasQty = msg[o] != 0
	o++
	m.NewQty = math.Float64frombits(binary.BigEndian.Uint64(msg[o : o+8]))
	o += 8
	usernameLen := int(msg[o])
	o++
	if len(msg) < o+usernameLen {
		return ModifyOrderMessage{}, ErrMessageTooShort
	}
	m.Username = string(msg[o : o+usernameLen])
	return m, nil
}

// PositionMessage is the wire form of spec §6's open_position/close_position
// operation: a direct position fill outside order-book matching. Size is
// unsigned for close_position (direction is inferred from the existing
// position) and signed for open_position (positive opens/grows long,
// negative opens/grows short).
type PositionMessage struct {
	BaseMessage
	Symbol   string
	Price    common.Price
	Size     float64
	Username string
}

func parsePositionMessage(msg []byte, typeOf MessageType) (PositionMessage, error) {
	if len(msg) < PositionMessageHeaderLen {
		return PositionMessage{}, ErrMessageTooShort
	}
	m := PositionMessage{BaseMessage: BaseMessage{TypeOf: typeOf}}
	o := 0
	m.Symbol = getFixedString(msg[o : o+symbolFieldLen])
	o += symbolFieldLen
	m.Price = common.Price(binary.BigEndian.Uint64(msg[o : o+8]))
	o += 8
	m.Size = math.Float64frombits(binary.BigEndian.Uint64(msg[o : o+8]))
	o += 8
	usernameLen := int(msg[o])
	o++
	if len(msg) < o+usernameLen {
		return PositionMessage{}, ErrMessageTooShort
	}
	m.Username = string(msg[o : o+usernameLen])
	return m, nil
}

// Report is the wire form of an execution/ack/error report sent back to a
// connected session.
type Report struct {
	MessageType     ReportMessageType
	Symbol          string
	Side            common.Side
	Timestamp       uint64
	Quantity        float64
	Price           common.Price
	OrderID         common.OrderID
	CounterpartyLen uint16
	ErrStrLen       uint32
	Err             string
	Counterparty    string
}

const reportFixedHeaderLen = 1 + symbolFieldLen + 1 + 8 + 8 + 8 + 8 + 2 + 4

// Serialize converts the report to its wire form.
func (r *Report) Serialize() []byte {
	totalSize := reportFixedHeaderLen + len(r.Err) + len(r.Counterparty)
	buf := make([]byte, totalSize)
	o := 0
	buf[o] = byte(r.MessageType)
	o++
	putFixedString(buf[o:o+symbolFieldLen], r.Symbol)
	o += symbolFieldLen
	buf[o] = byte(r.Side)
	o++
	binary.BigEndian.PutUint64(buf[o:o+8], r.Timestamp)
	o += 8
	binary.BigEndian.PutUint64(buf[o:o+8], math.Float64bits(r.Quantity))
	o += 8
	binary.BigEndian.PutUint64(buf[o:o+8], uint64(r.Price))
	o += 8
	binary.BigEndian.PutUint64(buf[o:o+8], uint64(r.OrderID))
	o += 8
	binary.BigEndian.PutUint16(buf[o:o+2], r.CounterpartyLen)
	o += 2
	binary.BigEndian.PutUint32(buf[o:o+4], r.ErrStrLen)
	o += 4
	copy(buf[o:], r.Err)
	o += int(r.ErrStrLen)
	copy(buf[o:], r.Counterparty)
	return buf
}

func tradeReport(trade common.Trade, side common.Side, orderID common.OrderID, counterparty string) []byte {
	r := Report{
		MessageType:     ExecutionReport,
		Symbol:          trade.Symbol,
		Side:            side,
		Timestamp:       uint64(trade.Timestamp),
		Quantity:        trade.Quantity,
		Price:           trade.Price,
		OrderID:         orderID,
		CounterpartyLen: uint16(len(counterparty)),
		Counterparty:    counterparty,
	}
	return r.Serialize()
}

func errorReport(symbol string, err error) []byte {
	errStr := fmt.Sprintf("%v", err)
	r := Report{
		MessageType: ErrorReport,
		Symbol:      symbol,
		Timestamp:   uint64(time.Now().UnixNano()),
		ErrStrLen:   uint32(len(errStr)),
		Err:         errStr,
	}
	return r.Serialize()
}

// positionReport acks an open_position/close_position operation. It reuses
// the fixed Report frame rather than inventing a shorter one: Quantity
// carries realized PnL and Price's bits are repurposed to carry marginUsed,
// since a position adjustment has no integer tick price of its own to put
// there.
func positionReport(symbol string, realized, marginUsed float64) []byte {
	r := Report{
		MessageType: PositionReport,
		Symbol:      symbol,
		Timestamp:   uint64(time.Now().UnixNano()),
		Quantity:    realized,
		Price:       common.Price(math.Float64bits(marginUsed)),
	}
	return r.Serialize()
}

func ackReport(symbol string, orderID common.OrderID) []byte {
	r := Report{
		MessageType: AckReport,
		Symbol:      symbol,
		OrderID:     orderID,
		Timestamp:   uint64(time.Now().UnixNano()),
	}
	return r.Serialize()
}

func putFixedString(dst []byte, s string) {
	n := copy(dst, s)
	for i := n; i < len(dst); i++ {
		dst[i] = 0
	}
}

func getFixedString(src []byte) string {
	n := 0
	for n < len(src) && src[n] != 0 {
		n++
	}
	return string(src[:n])
}
