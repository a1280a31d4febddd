package notify

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ErrNotificationNotFound is returned when dismissing an unknown or expired toast
var ErrNotificationNotFound = errors.New("notification not found")

// Variant selects how a toast is rendered
type Variant string

const (
	VariantDefault     Variant = "default"
	VariantDestructive Variant = "destructive"
)

// DefaultTTL is how long a toast stays visible unless dismissed
const DefaultTTL = 5 * time.Second

// Notification is a transient, dismissable message
type Notification struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Variant     Variant   `json:"variant"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Center keeps per-session toasts in a TTL cache
type Center struct {
	cache *ristretto.Cache
	ttl   time.Duration

	mu    sync.Mutex
	index map[string][]string // session id -> notification ids, oldest first
}

// NewCenter creates a notification center; ttl <= 0 uses DefaultTTL
func NewCenter(ttl time.Duration) (*Center, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e5,
		MaxCost:     1e4,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create notification cache: %w", err)
	}
	return &Center{cache: cache, ttl: ttl, index: make(map[string][]string)}, nil
}

// Push stores a toast for the session and returns it. A toast the cache
// refuses is logged and never indexed.
func (c *Center) Push(session, title, description string, variant Variant) Notification {
	if variant == "" {
		variant = VariantDefault
	}
	now := time.Now()
	n := Notification{
		ID:          uuid.NewString(),
		Title:       title,
		Description: description,
		Variant:     variant,
		CreatedAt:   now,
		ExpiresAt:   now.Add(c.ttl),
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.cache.SetWithTTL(c.key(session, n.ID), n, 1, c.ttl) {
		logrus.WithFields(logrus.Fields{
			"session_id": session,
			"title":      title,
		}).Warn("Notification dropped by cache")
		return n
	}
	c.cache.Wait()
	c.index[session] = append(c.index[session], n.ID)
	return n
}

// Info pushes a default toast
func (c *Center) Info(session, title, description string) Notification {
	return c.Push(session, title, description, VariantDefault)
}

// Error pushes a destructive toast describing err
func (c *Center) Error(session, title string, err error) Notification {
	return c.Push(session, title, err.Error(), VariantDestructive)
}

// List returns the live toasts of a session, oldest first. Expired ids are
// pruned from the index.
func (c *Center) List(session string) []Notification {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids := c.index[session]
	out := make([]Notification, 0, len(ids))
	live := ids[:0]
	for _, id := range ids {
		v, ok := c.cache.Get(c.key(session, id))
		if !ok {
			continue
		}
		live = append(live, id)
		out = append(out, v.(Notification))
	}
	if len(live) == 0 {
		delete(c.index, session)
	} else {
		c.index[session] = live
	}
	return out
}

// Dismiss removes one toast before it expires
func (c *Center) Dismiss(session, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids := c.index[session]
	for i, candidate := range ids {
		if candidate != id {
			continue
		}
		key := c.key(session, id)
		_, live := c.cache.Get(key)
		c.cache.Del(key)
		c.index[session] = append(ids[:i:i], ids[i+1:]...)
		if !live {
			return ErrNotificationNotFound
		}
		return nil
	}
	return ErrNotificationNotFound
}

// Clear drops every toast of a session
func (c *Center) Clear(session string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range c.index[session] {
		c.cache.Del(c.key(session, id))
	}
	delete(c.index, session)
}

// Close releases the cache goroutines
func (c *Center) Close() {
	c.cache.Close()
}

func (c *Center) key(session, id string) string {
	return session + "/" + id
}
