package websocket

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 512
	sendBuffer     = 256
)

// Client represents a WebSocket client connection
type Client struct {
	ID   string
	Conn *websocket.Conn
	Hub  *Hub
	Send chan []byte
}

// NewClient creates a new WebSocket client
func NewClient(conn *websocket.Conn, hub *Hub, id string) *Client {
	return &Client{
		ID:   id,
		Conn: conn,
		Hub:  hub,
		Send: make(chan []byte, sendBuffer),
	}
}

// ReadPump reads client requests until the connection fails
func (c *Client) ReadPump() {
	defer func() {
		request(c.Hub, c.Hub.Unregister, c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	_ = c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logrus.WithError(err).WithField("client_id", c.ID).Warn("WebSocket read error")
			}
			return
		}
		c.Hub.received()
		c.handleMessage(message)
	}
}

// WritePump writes queued messages and keepalive pings; it exits when the
// hub closes Send
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) handleMessage(raw []byte) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		c.sendError("Invalid message format", http.StatusBadRequest)
		return
	}

	switch msg.Type {
	case MessageTypeSubscribe:
		c.handleSubscription(msg, true)
	case MessageTypeUnsubscribe:
		c.handleSubscription(msg, false)
	case MessageTypePing:
		c.Hub.Reply(c, Message{Type: MessageTypePong, Timestamp: time.Now()})
	default:
		c.sendError("Unknown message type", http.StatusBadRequest)
	}
}

func (c *Client) handleSubscription(msg Message, subscribe bool) {
	topic := SubscriptionTopic(msg.Topic)
	var id string
	switch topic {
	case TopicPrices:
		id = strings.ToUpper(strings.TrimSpace(msg.Symbol))
		if id == "" {
			c.sendError("Symbol required for price subscription", http.StatusBadRequest)
			return
		}
		msg.Symbol = id
	case TopicPositions:
		id = strings.TrimSpace(msg.PositionID)
		if id == "" {
			c.sendError("Position ID required for position subscription", http.StatusBadRequest)
			return
		}
	default:
		c.sendError("Invalid subscription topic", http.StatusBadRequest)
		return
	}

	if subscribe && c.Hub.validate != nil {
		if err := c.Hub.validate(topic, id); err != nil {
			c.sendError(err.Error(), http.StatusNotFound)
			return
		}
	}

	reply := Message{
		Type:       MessageTypeSubscribed,
		Topic:      msg.Topic,
		Symbol:     msg.Symbol,
		PositionID: msg.PositionID,
		Timestamp:  time.Now(),
	}
	ch := c.Hub.Subscribe
	if !subscribe {
		reply.Type = MessageTypeUnsubscribed
		ch = c.Hub.Unsubscribe
	}
	data, err := json.Marshal(reply)
	if err != nil {
		return
	}
	request(c.Hub, ch, &Subscription{Client: c, Key: topic.Key(id), Reply: data})
}

func (c *Client) sendError(errorMsg string, code int) {
	c.Hub.Reply(c, Message{
		Type:      MessageTypeError,
		Error:     errorMsg,
		Code:      code,
		Timestamp: time.Now(),
	})
}
