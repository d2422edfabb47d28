package feed

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// clientRequest is the JSON shape a subscriber sends to manage channels.
type clientRequest struct {
	Action  string `json:"action"` // "subscribe" or "unsubscribe"
	Channel string `json:"channel"`
}

// Client is one websocket-connected subscriber, symmetrical to
// _examples/VictorVVedtion-perp-dex/api/websocket/client.go's readPump/
// writePump split: readPump only handles subscription management since
// this hub's subscribers are read-only consumers of trades/rejects.
type Client struct {
	id     string
	userID string
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
}

func newClient(hub *Hub, conn *websocket.Conn, userID string) *Client {
	return &Client{
		id:     uuid.NewString(),
		userID: userID,
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
	}
}

// Send enqueues payload for delivery, dropping it if the client's buffer is
// full rather than blocking the hub's single event-loop goroutine.
func (c *Client) Send(payload []byte) {
	select {
	case c.send <- payload:
	default:
		log.Warn().Str("client", c.id).Msg("feed: client send buffer full, dropping message")
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var req clientRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			continue
		}
		channel := req.Channel
		if channel == "rejects:me" && c.userID != "" {
			channel = "rejects:" + c.userID
		}
		switch req.Action {
		case "subscribe":
			c.hub.subscribe <- subRequest{client: c, channel: channel, sub: true}
		case "unsubscribe":
			c.hub.subscribe <- subRequest{client: c, channel: channel, sub: false}
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
