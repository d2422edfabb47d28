// Package feed implements the trade/report fan-out hub named in spec §4.2
// step "(4) publish trade to subscribers": a websocket broadcaster that the
// Matching Engine calls once per trade or rejection, decoupled from the TCP
// gateway so both can subscribe to the same stream.
//
// Grounded on
// _examples/VictorVVedtion-perp-dex/api/websocket/{hub.go,client.go}'s
// register/unregister/subscribe channel shape and Client readPump/writePump
// split, narrowed from that example's generic multi-channel ticker/depth/
// trade hub down to the two event types this core actually emits.
package feed

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"fenrir/internal/common"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Message is the JSON envelope sent to every subscriber.
type Message struct {
	Type string      `json:"type"` // "trade" or "reject"
	Data interface{} `json:"data"`
}

// TradeEvent is the wire shape of a published trade.
type TradeEvent struct {
	TradeID   uint64  `json:"trade_id"`
	Symbol    string  `json:"symbol"`
	Price     int64   `json:"price"`
	Quantity  float64 `json:"quantity"`
	TakerSide string  `json:"taker_side"`
	Timestamp int64   `json:"timestamp"`
}

// RejectEvent is the wire shape of a published order rejection.
type RejectEvent struct {
	Symbol string `json:"symbol"`
	User   string `json:"user"`
	Reason string `json:"reason"`
}

// Hub fans out trade and reject events to websocket subscribers, keyed by
// channel name ("trades:<symbol>" or "rejects:<user>"). It implements
// engine.Publisher without importing the engine package, so the dependency
// runs the idiomatic way round.
type Hub struct {
	mu            sync.RWMutex
	subscriptions map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	subscribe  chan subRequest
	broadcast  chan broadcastMsg

	done chan struct{}
}

type subRequest struct {
	client  *Client
	channel string
	sub     bool
}

type broadcastMsg struct {
	channel string
	payload []byte
}

// NewHub constructs an idle hub; call Run to start its event loop.
func NewHub() *Hub {
	return &Hub{
		subscriptions: make(map[string]map[*Client]bool),
		register:      make(chan *Client),
		unregister:    make(chan *Client),
		subscribe:     make(chan subRequest, 256),
		broadcast:     make(chan broadcastMsg, 256),
		done:          make(chan struct{}),
	}
}

// Run drives the hub's single-goroutine state machine until Stop is called.
func (h *Hub) Run() {
	for {
		select {
		case <-h.done:
			return
		case c := <-h.register:
			log.Debug().Str("client", c.id).Msg("feed: client connected")
		case c := <-h.unregister:
			h.removeClient(c)
		case req := <-h.subscribe:
			h.applySubscription(req)
		case msg := <-h.broadcast:
			h.deliver(msg)
		}
	}
}

// Stop ends the hub's event loop.
func (h *Hub) Stop() {
	close(h.done)
}

func (h *Hub) applySubscription(req subRequest) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.subscriptions[req.channel]
	if req.sub {
		if !ok {
			set = make(map[*Client]bool)
			h.subscriptions[req.channel] = set
		}
		set[req.client] = true
		return
	}
	if ok {
		delete(set, req.client)
	}
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, set := range h.subscriptions {
		delete(set, c)
	}
	close(c.send)
}

func (h *Hub) deliver(msg broadcastMsg) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.subscriptions[msg.channel] {
		c.Send(msg.payload)
	}
}

// PublishTrade implements engine.Publisher: broadcasts trade to every
// subscriber of "trades:<symbol>".
func (h *Hub) PublishTrade(trade common.Trade) {
	data, err := json.Marshal(Message{Type: "trade", Data: TradeEvent{
		TradeID:   uint64(trade.ID),
		Symbol:    trade.Symbol,
		Price:     int64(trade.Price),
		Quantity:  trade.Quantity,
		TakerSide: trade.TakerSide.String(),
		Timestamp: trade.Timestamp,
	}})
	if err != nil {
		log.Error().Err(err).Msg("feed: marshal trade event")
		return
	}
	select {
	case h.broadcast <- broadcastMsg{channel: "trades:" + trade.Symbol, payload: data}:
	case <-h.done:
	}
}

// PublishReject implements engine.Publisher: delivers a rejection to the
// rejected user's private channel only.
func (h *Hub) PublishReject(symbol, user, reason string) {
	data, err := json.Marshal(Message{Type: "reject", Data: RejectEvent{
		Symbol: symbol, User: user, Reason: reason,
	}})
	if err != nil {
		log.Error().Err(err).Msg("feed: marshal reject event")
		return
	}
	select {
	case h.broadcast <- broadcastMsg{channel: "rejects:" + user, payload: data}:
	case <-h.done:
	}
}

// ServeWS upgrades an HTTP request to a websocket connection and registers
// a Client for userID (empty for an unauthenticated market-data-only
// subscriber).
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, userID string) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	c := newClient(h, conn, userID)
	h.register <- c
	go c.writePump()
	go c.readPump()
	return nil
}
