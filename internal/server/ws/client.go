package ws

import (
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 256
)

// subscribeMsg changes a client's topics:
//
//	{"action":"unsubscribe","topics":["pass_report"]}
type subscribeMsg struct {
	Action string   `json:"action"`
	Topics []string `json:"topics"`
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu     sync.RWMutex
	topics map[string]bool
}

func newClient(h *Hub, conn *websocket.Conn, topics []string) *client {
	c := &client{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		topics: make(map[string]bool),
	}
	c.apply(subscribeMsg{Action: "subscribe", Topics: topics})
	return c
}

func (c *client) wants(topic string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.topics[topic]
}

func (c *client) apply(msg subscribeMsg) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range msg.Topics {
		t = strings.TrimSpace(t)
		switch msg.Action {
		case "subscribe":
			c.topics[t] = true
		case "unsubscribe":
			delete(c.topics, t)
		}
	}
}

// readPump handles subscription changes until the connection drops.
func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("ws: unexpected close", slog.String("error", err.Error()))
			}
			return
		}
		var msg subscribeMsg
		if err := json.Unmarshal(data, &msg); err == nil && len(msg.Topics) > 0 {
			c.apply(msg)
		}
	}
}

// writePump sends queued frames and keepalive pings.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
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
