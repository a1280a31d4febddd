package websocket

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Subscription represents a client subscription to a topic key
type Subscription struct {
	Client *Client
	Key    string
	// Reply is delivered once the hub has applied the change
	Reply []byte
}

// Validator rejects subscriptions to topic entries that do not exist
type Validator func(topic SubscriptionTopic, id string) error

// Hub maintains the set of active clients and fans messages out to them.
// Only the hub closes a client's Send channel, and only under mu.
type Hub struct {
	Clients       map[*Client]bool
	Register      chan *Client
	Unregister    chan *Client
	Subscribe     chan *Subscription
	Unsubscribe   chan *Subscription
	Subscriptions map[string]map[*Client]bool
	Stats         ConnectionStats

	validate Validator

	mu       sync.RWMutex
	stop     chan struct{}
	stopOnce sync.Once
}

// NewHub creates a new WebSocket hub; a nil validator accepts every topic
func NewHub(validate Validator) *Hub {
	return &Hub{
		Clients:       make(map[*Client]bool),
		Register:      make(chan *Client),
		Unregister:    make(chan *Client),
		Subscribe:     make(chan *Subscription),
		Unsubscribe:   make(chan *Subscription),
		Subscriptions: make(map[string]map[*Client]bool),
		validate:      validate,
		stop:          make(chan struct{}),
		Stats:         ConnectionStats{LastUpdate: time.Now()},
	}
}

// Run processes hub requests until Stop is called
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.Register:
			h.registerClient(client)
		case client := <-h.Unregister:
			h.unregisterClient(client)
		case sub := <-h.Subscribe:
			h.subscribeClient(sub)
		case sub := <-h.Unsubscribe:
			h.unsubscribeClient(sub)
		case <-h.stop:
			return
		}
	}
}

// request hands a value to the run loop unless the hub has stopped
func request[T any](h *Hub, ch chan T, v T) bool {
	select {
	case ch <- v:
		return true
	case <-h.stop:
		return false
	}
}

func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.Clients[client] = true
	h.Stats.TotalConnections++
	h.Stats.ActiveConnections++
	h.Stats.LastUpdate = time.Now()

	logrus.WithFields(logrus.Fields{
		"client_id":          client.ID,
		"active_connections": h.Stats.ActiveConnections,
	}).Debug("WebSocket client registered")
}

func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.removeLocked(client) {
		logrus.WithFields(logrus.Fields{
			"client_id":          client.ID,
			"active_connections": h.Stats.ActiveConnections,
		}).Debug("WebSocket client unregistered")
	}
}

// removeLocked drops a client from every topic and closes its Send channel
func (h *Hub) removeLocked(client *Client) bool {
	if !h.Clients[client] {
		return false
	}
	delete(h.Clients, client)
	close(client.Send)
	h.Stats.ActiveConnections--
	h.Stats.LastUpdate = time.Now()

	for key, clients := range h.Subscriptions {
		if clients[client] {
			delete(clients, client)
			h.Stats.TotalSubscriptions--
			if len(clients) == 0 {
				delete(h.Subscriptions, key)
			}
		}
	}
	return true
}

func (h *Hub) subscribeClient(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.Clients[sub.Client] {
		return
	}
	if h.Subscriptions[sub.Key] == nil {
		h.Subscriptions[sub.Key] = make(map[*Client]bool)
	}
	if !h.Subscriptions[sub.Key][sub.Client] {
		h.Subscriptions[sub.Key][sub.Client] = true
		h.Stats.TotalSubscriptions++
		h.Stats.LastUpdate = time.Now()
		logrus.WithFields(logrus.Fields{"client_id": sub.Client.ID, "topic": sub.Key}).Debug("WebSocket client subscribed")
	}
	h.deliverLocked(sub.Client, sub.Reply)
}

func (h *Hub) unsubscribeClient(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.Clients[sub.Client] {
		return
	}
	if clients, ok := h.Subscriptions[sub.Key]; ok && clients[sub.Client] {
		delete(clients, sub.Client)
		h.Stats.TotalSubscriptions--
		h.Stats.LastUpdate = time.Now()
		if len(clients) == 0 {
			delete(h.Subscriptions, sub.Key)
		}
	}
	h.deliverLocked(sub.Client, sub.Reply)
}

// deliverLocked queues data without blocking; the caller holds mu
func (h *Hub) deliverLocked(client *Client, data []byte) bool {
	if data == nil {
		return true
	}
	select {
	case client.Send <- data:
		return true
	default:
		h.Stats.MessagesDropped++
		return false
	}
}

// Reply sends a direct message to one client if it is still registered
func (h *Hub) Reply(client *Client, message interface{}) {
	data, err := json.Marshal(message)
	if err != nil {
		logrus.WithError(err).Error("Failed to marshal WebSocket reply")
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.Clients[client] {
		h.deliverLocked(client, data)
	}
}

// BroadcastToTopic sends a message to every client subscribed to key.
// Clients whose buffers are full are disconnected.
func (h *Hub) BroadcastToTopic(key string, message interface{}) {
	h.mu.RLock()
	if len(h.Subscriptions[key]) == 0 {
		h.mu.RUnlock()
		return
	}
	h.mu.RUnlock()

	data, err := json.Marshal(message)
	if err != nil {
		logrus.WithError(err).WithField("topic", key).Error("Failed to marshal WebSocket broadcast")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	var slow []*Client
	var sent int64
	for client := range h.Subscriptions[key] {
		select {
		case client.Send <- data:
			sent++
		default:
			slow = append(slow, client)
		}
	}
	for _, client := range slow {
		logrus.WithFields(logrus.Fields{"client_id": client.ID, "topic": key}).Warn("Dropping slow WebSocket client")
		h.removeLocked(client)
	}
	h.Stats.MessagesSent += sent
	h.Stats.LastUpdate = time.Now()
}

// BroadcastPriceUpdate sends a quote to subscribers of its symbol
func (h *Hub) BroadcastPriceUpdate(update PriceUpdate) {
	h.BroadcastToTopic(TopicPrices.Key(update.Symbol), Message{
		Type:      MessageTypePriceUpdate,
		Topic:     string(TopicPrices),
		Symbol:    update.Symbol,
		Data:      update,
		Timestamp: time.Now(),
	})
}

// BroadcastPositionUpdate sends a session snapshot to its subscribers
func (h *Hub) BroadcastPositionUpdate(update PositionUpdate) {
	h.BroadcastToTopic(TopicPositions.Key(update.ID), Message{
		Type:       MessageTypePositionUpdate,
		Topic:      string(TopicPositions),
		PositionID: update.ID,
		Data:       update,
		Timestamp:  time.Now(),
	})
}

// CloseTopic drops every subscription to key, e.g. when a session ends
func (h *Hub) CloseTopic(key string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if clients, ok := h.Subscriptions[key]; ok {
		h.Stats.TotalSubscriptions -= len(clients)
		delete(h.Subscriptions, key)
	}
}

func (h *Hub) received() {
	h.mu.Lock()
	h.Stats.MessagesReceived++
	h.mu.Unlock()
}

// GetStats returns current connection statistics
func (h *Hub) GetStats() ConnectionStats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.Stats
}

// GetClientCount returns the number of active clients
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.Clients)
}

// GetSubscriptionCount returns the total number of subscriptions
func (h *Hub) GetSubscriptionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	count := 0
	for _, clients := range h.Subscriptions {
		count += len(clients)
	}
	return count
}

// IsSubscribed reports whether the client receives messages for key
func (h *Hub) IsSubscribed(client *Client, key string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.Subscriptions[key][client]
}

// Stop stops the run loop and disconnects every client
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		close(h.stop)

		h.mu.Lock()
		defer h.mu.Unlock()
		for client := range h.Clients {
			h.removeLocked(client)
		}
	})
}
