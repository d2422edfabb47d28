package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"io"
	"log"
	"math"
	"net"
	"os"
	"strings"

	"fenrir/internal/common"
	fenrirNet "fenrir/internal/net"
)

func main() {
	serverAddr := flag.String("server", "127.0.0.1:9001", "Address of the exchange server")
	owner := flag.String("owner", "", "Owner username (compulsory)")
	action := flag.String("action", "place", "Action to perform: ['place', 'cancel', 'modify', 'log', 'open_position', 'close_position']")

	symbol := flag.String("symbol", "BTC-PERP", "Symbol to trade")
	sideStr := flag.String("side", "buy", "Order side: 'buy' or 'sell'")
	typeStr := flag.String("type", "limit", "Order type: 'market', 'limit', 'ioc', 'fok', 'post_only', 'stop_limit'")
	price := flag.Float64("price", 0, "Limit price (ticks are applied by the server)")
	stopPrice := flag.Float64("stop_price", 0, "Trigger price for stop_limit orders")
	qty := flag.Float64("qty", 1, "Quantity")
	reduceOnly := flag.Bool("reduce_only", false, "Mark the order reduce-only")
	clientOrderID := flag.String("client_order_id", "", "Idempotency key; server generates one if blank")

	orderID := flag.Uint64("order_id", 0, "Order id to cancel/modify")
	newPrice := flag.Float64("new_price", 0, "New price for modify (0 = unchanged)")
	newQty := flag.Float64("new_qty", 0, "New quantity for modify (0 = unchanged)")

	flag.Parse()

	if *owner == "" {
		fmt.Println("Error: -owner is compulsory.")
		flag.Usage()
		os.Exit(1)
	}

	conn, err := net.Dial("tcp", *serverAddr)
	if err != nil {
		log.Fatalf("Failed to connect to server at %s: %v", *serverAddr, err)
	}
	defer conn.Close()
	fmt.Printf("Connected to %s as '%s'\n", *serverAddr, *owner)

	go readReports(conn)

	side := common.Buy
	if strings.ToLower(*sideStr) == "sell" {
		side = common.Sell
	}

	switch strings.ToLower(*action) {
	case "place":
		orderType := parseOrderType(*typeStr)
		err := sendPlaceOrder(conn, *owner, *symbol, orderType, side, *price, *stopPrice, *qty, *reduceOnly, *clientOrderID)
		if err != nil {
			log.Printf("Failed to place order: %v", err)
		} else {
			fmt.Printf("-> Sent %s %s order: %s qty %.4f @ %.2f\n", strings.ToUpper(*sideStr), *typeStr, *symbol, *qty, *price)
		}

	case "cancel":
		if *orderID == 0 {
			log.Fatal("Error: -order_id is required for cancellation")
		}
		if err := sendCancelOrder(conn, *owner, *symbol, common.OrderID(*orderID)); err != nil {
			log.Printf("Failed to send cancel request: %v", err)
		} else {
			fmt.Printf("-> Sent Cancel Request for order %d\n", *orderID)
		}

	case "modify":
		if *orderID == 0 {
			log.Fatal("Error: -order_id is required for modify")
		}
		if err := sendModifyOrder(conn, *owner, *symbol, common.OrderID(*orderID), *newPrice, *newQty); err != nil {
			log.Printf("Failed to send modify request: %v", err)
		} else {
			fmt.Printf("-> Sent Modify Request for order %d\n", *orderID)
		}

	case "log":
		if err := sendLog(conn); err != nil {
			log.Printf("Failed to send log request: %v", err)
		} else {
			fmt.Println("-> Sent Log Request")
		}

	case "open_position":
		if err := sendPositionOp(conn, fenrirNet.OpenPosition, *owner, *symbol, *qty, *price); err != nil {
			log.Printf("Failed to send open_position request: %v", err)
		} else {
			fmt.Printf("-> Sent Open Position Request: %s size %.4f @ %.2f\n", *symbol, *qty, *price)
		}

	case "close_position":
		if err := sendPositionOp(conn, fenrirNet.ClosePosition, *owner, *symbol, *qty, *price); err != nil {
			log.Printf("Failed to send close_position request: %v", err)
		} else {
			fmt.Printf("-> Sent Close Position Request: %s size %.4f @ %.2f\n", *symbol, *qty, *price)
		}

	default:
		log.Fatalf("Unknown action: %s", *action)
	}

	fmt.Println("\nListening for reports... (Press Ctrl+C to exit)")
	select {}
}

func parseOrderType(s string) common.OrderType {
	switch strings.ToLower(s) {
	case "market":
		return common.Market
	case "ioc":
		return common.IOC
	case "fok":
		return common.FOK
	case "post_only":
		return common.PostOnly
	case "stop_limit":
		return common.StopLimit
	default:
		return common.Limit
	}
}

func toTicks(price float64) common.Price {
	return common.Price(math.Round(price))
}

func sendPlaceOrder(conn net.Conn, owner, symbol string, orderType common.OrderType, side common.Side, price, stopPrice, qty float64, reduceOnly bool, clientOrderID string) error {
	totalLen := fenrirNet.BaseMessageHeaderLen + fenrirNet.NewOrderMessageHeaderLen + len(owner)
	buf := make([]byte, totalLen)

	o := 0
	binary.BigEndian.PutUint16(buf[o:o+2], uint16(fenrirNet.NewOrder))
	o += 2

	putFixed(buf[o:o+16], symbol)
	o += 16
	buf[o] = byte(side)
	o++
	buf[o] = byte(orderType)
	o++
	binary.BigEndian.PutUint64(buf[o:o+8], uint64(toTicks(price)))
	o += 8
	binary.BigEndian.PutUint64(buf[o:o+8], uint64(toTicks(stopPrice)))
	o += 8
	binary.BigEndian.PutUint64(buf[o:o+8], math.Float64bits(qty))
	o += 8
	if reduceOnly {
		buf[o] = 1
	}
	o++
	putFixed(buf[o:o+32], clientOrderID)
	o += 32
	buf[o] = uint8(len(owner))
	o++
	copy(buf[o:], owner)

	_, err := conn.Write(buf)
	return err
}

func sendCancelOrder(conn net.Conn, owner, symbol string, orderID common.OrderID) error {
	totalLen := fenrirNet.BaseMessageHeaderLen + fenrirNet.CancelOrderMessageHeaderLen + len(owner)
	buf := make([]byte, totalLen)

	o := 0
	binary.BigEndian.PutUint16(buf[o:o+2], uint16(fenrirNet.CancelOrder))
	o += 2
	putFixed(buf[o:o+16], symbol)
	o += 16
	binary.BigEndian.PutUint64(buf[o:o+8], uint64(orderID))
	o += 8
	buf[o] = uint8(len(owner))
	o++
	copy(buf[o:], owner)

	_, err := conn.Write(buf)
	return err
}

func sendModifyOrder(conn net.Conn, owner, symbol string, orderID common.OrderID, newPrice, newQty float64) error {
	totalLen := fenrirNet.BaseMessageHeaderLen + fenrirNet.ModifyOrderMessageHeaderLen + len(owner)
	buf := make([]byte, totalLen)

	o := 0
	binary.BigEndian.PutUint16(buf[o:o+2], uint16(fenrirNet.ModifyOrder))
	o += 2
	putFixed(buf[o:o+16], symbol)
	o += 16
	binary.BigEndian.PutUint64(buf[o:o+8], uint64(orderID))
	o += 8
	if newPrice > 0 {
		buf[o] = 1
	}
	o++
	binary.BigEndian.PutUint64(buf[o:o+8], uint64(toTicks(newPrice)))
	o += 8
	if newQty > 0 {
		buf[o] = 1
	}
	o++
	binary.BigEndian.PutUint64(buf[o:o+8], math.Float64bits(newQty))
	o += 8
	buf[o] = uint8(len(owner))
	o++
	copy(buf[o:], owner)

	_, err := conn.Write(buf)
	return err
}

func sendPositionOp(conn net.Conn, typeOf fenrirNet.MessageType, owner, symbol string, size, price float64) error {
	totalLen := fenrirNet.BaseMessageHeaderLen + fenrirNet.PositionMessageHeaderLen + len(owner)
	buf := make([]byte, totalLen)

	o := 0
	binary.BigEndian.PutUint16(buf[o:o+2], uint16(typeOf))
	o += 2
	putFixed(buf[o:o+16], symbol)
	o += 16
	binary.BigEndian.PutUint64(buf[o:o+8], uint64(toTicks(price)))
	o += 8
	binary.BigEndian.PutUint64(buf[o:o+8], math.Float64bits(size))
	o += 8
	buf[o] = uint8(len(owner))
	o++
	copy(buf[o:], owner)

	_, err := conn.Write(buf)
	return err
}

func sendLog(conn net.Conn) error {
	buf := make([]byte, fenrirNet.BaseMessageHeaderLen)
	binary.BigEndian.PutUint16(buf[0:2], uint16(fenrirNet.LogBook))
	_, err := conn.Write(buf)
	return err
}

func putFixed(dst []byte, s string) {
	n := copy(dst, s)
	for i := n; i < len(dst); i++ {
		dst[i] = 0
	}
}

const symbolFieldLen = 16
const reportFixedHeaderLen = 1 + symbolFieldLen + 1 + 8 + 8 + 8 + 8 + 2 + 4

// readReports continuously reads and parses Report messages from the server.
func readReports(conn net.Conn) {
	for {
		headerBuf := make([]byte, reportFixedHeaderLen)
		if _, err := io.ReadFull(conn, headerBuf); err != nil {
			if err != io.EOF {
				log.Printf("Connection lost: %v", err)
			}
			os.Exit(0)
		}

		o := 0
		msgType := fenrirNet.ReportMessageType(headerBuf[o])
		o++
		symbol := strings.TrimRight(string(headerBuf[o:o+symbolFieldLen]), "\x00")
		o += symbolFieldLen
		side := common.Side(headerBuf[o])
		o++
		o += 8 // timestamp, unused for display
		qty := math.Float64frombits(binary.BigEndian.Uint64(headerBuf[o : o+8]))
		o += 8
		price := binary.BigEndian.Uint64(headerBuf[o : o+8])
		o += 8
		orderID := binary.BigEndian.Uint64(headerBuf[o : o+8])
		o += 8
		counterpartyLen := binary.BigEndian.Uint16(headerBuf[o : o+2])
		o += 2
		errStrLen := binary.BigEndian.Uint32(headerBuf[o : o+4])

		varLen := int(counterpartyLen) + int(errStrLen)
		varBuf := make([]byte, varLen)
		if varLen > 0 {
			if _, err := io.ReadFull(conn, varBuf); err != nil {
				log.Printf("Error reading report body: %v", err)
				return
			}
		}
		errStr := string(varBuf[:errStrLen])
		counterparty := string(varBuf[errStrLen:])

		switch msgType {
		case fenrirNet.ErrorReport:
			fmt.Printf("\n[SERVER ERROR] %s: %s\n", symbol, errStr)
		case fenrirNet.AckReport:
			fmt.Printf("\n[ACK] %s order %d\n", symbol, orderID)
		case fenrirNet.PositionReport:
			marginUsed := math.Float64frombits(price)
			fmt.Printf("\n[POSITION] %s | Realized: %.4f | Margin Used: %.4f\n", symbol, qty, marginUsed)
		default:
			sideStr := "BUY"
			if side == common.Sell {
				sideStr = "SELL"
			}
			fmt.Printf("\n[EXECUTION] %s %s | Qty: %.4f | Price: %d | vs: %s | OrderID: %d\n",
				sideStr, symbol, qty, price, counterparty, orderID)
		}
	}
}
