package websocket

import (
	"time"

	"github.com/nebulalend/api/internal/position"
	"github.com/nebulalend/api/internal/price"
	"github.com/shopspring/decimal"
)

// MessageType represents different types of WebSocket messages
type MessageType string

const (
	MessageTypeSubscribe      MessageType = "subscribe"
	MessageTypeSubscribed     MessageType = "subscribed"
	MessageTypeUnsubscribe    MessageType = "unsubscribe"
	MessageTypeUnsubscribed   MessageType = "unsubscribed"
	MessageTypePriceUpdate    MessageType = "price_update"
	MessageTypePositionUpdate MessageType = "position_update"
	MessageTypeError          MessageType = "error"
	MessageTypePing           MessageType = "ping"
	MessageTypePong           MessageType = "pong"
)

// SubscriptionTopic represents different subscription topics
type SubscriptionTopic string

const (
	TopicPrices    SubscriptionTopic = "prices"
	TopicPositions SubscriptionTopic = "positions"
)

// Key returns the hub key for a topic entry, e.g. "prices:ETH"
func (t SubscriptionTopic) Key(id string) string {
	return string(t) + ":" + id
}

// Message represents a generic WebSocket message
type Message struct {
	Type       MessageType `json:"type"`
	Topic      string      `json:"topic,omitempty"`
	Symbol     string      `json:"symbol,omitempty"`
	PositionID string      `json:"position_id,omitempty"`
	Data       interface{} `json:"data,omitempty"`
	Timestamp  time.Time   `json:"timestamp"`
	Error      string      `json:"error,omitempty"`
	Code       int         `json:"code,omitempty"`
}

// PriceUpdate represents a price update message
type PriceUpdate struct {
	Symbol     string          `json:"symbol"`
	Price      decimal.Decimal `json:"price"`
	Change24h  decimal.Decimal `json:"change_24h"`
	Confidence decimal.Decimal `json:"confidence"`
	Timestamp  time.Time       `json:"timestamp"`
}

func priceUpdateFrom(q price.Quote) PriceUpdate {
	return PriceUpdate{
		Symbol:     q.Symbol,
		Price:      q.Price,
		Change24h:  q.Change24h,
		Confidence: q.Confidence,
		Timestamp:  q.ObservedAt,
	}
}

// PositionUpdate carries the latest snapshot of a position session
type PositionUpdate = position.Snapshot

// ConnectionStats represents WebSocket connection statistics
type ConnectionStats struct {
	TotalConnections   int       `json:"total_connections"`
	ActiveConnections  int       `json:"active_connections"`
	TotalSubscriptions int       `json:"total_subscriptions"`
	MessagesSent       int64     `json:"messages_sent"`
	MessagesReceived   int64     `json:"messages_received"`
	MessagesDropped    int64     `json:"messages_dropped"`
	LastUpdate         time.Time `json:"last_update"`
}
