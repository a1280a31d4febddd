package price

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// RedisMirror copies every published quote into Redis so other processes
// can read the latest price without subscribing
type RedisMirror struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisMirror wraps an existing client; ttl 0 keeps keys forever
func NewRedisMirror(client *redis.Client, ttl time.Duration) *RedisMirror {
	return &RedisMirror{client: client, ttl: ttl}
}

func quoteKey(symbol string) string {
	return fmt.Sprintf("price:%s", normalize(symbol))
}

// Save stores q under price:<SYMBOL>
func (m *RedisMirror) Save(ctx context.Context, q Quote) error {
	data, err := json.Marshal(q)
	if err != nil {
		return fmt.Errorf("failed to marshal quote: %w", err)
	}
	return m.client.Set(ctx, quoteKey(q.Symbol), data, m.ttl).Err()
}

// Latest returns the mirrored quote, or nil when none was stored
func (m *RedisMirror) Latest(ctx context.Context, symbol string) (*Quote, error) {
	data, err := m.client.Get(ctx, quoteKey(symbol)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	var q Quote
	if err := json.Unmarshal([]byte(data), &q); err != nil {
		return nil, fmt.Errorf("failed to unmarshal quote: %w", err)
	}
	return &q, nil
}

// mirrorQueueSize bounds the quotes waiting for the redis writer
const mirrorQueueSize = 256

// Mirror subscribes to every symbol and hands each quote to a single
// writer goroutine, so a slow redis never delays price delivery. Quotes
// arriving while the queue is full are dropped. The returned function
// stops mirroring and waits for the writer to exit.
func (m *RedisMirror) Mirror(src Source, symbols []string) (func(), error) {
	queue := make(chan Quote, mirrorQueueSize)
	quit := make(chan struct{})
	done := make(chan struct{})

	var disposers []func()
	var once sync.Once
	stop := func() {
		once.Do(func() {
			for _, d := range disposers {
				d()
			}
			close(quit)
			<-done
		})
	}

	go m.write(queue, quit, done)

	for _, symbol := range symbols {
		dispose, err := src.Subscribe(symbol, func(q Quote) {
			select {
			case queue <- q:
			default:
				logrus.WithField("symbol", q.Symbol).Warn("Redis mirror queue full, dropping quote")
			}
		})
		if err != nil {
			stop()
			return nil, err
		}
		disposers = append(disposers, dispose)
	}
	return stop, nil
}

func (m *RedisMirror) write(queue <-chan Quote, quit, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-quit:
			return
		case q := <-queue:
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			if err := m.Save(ctx, q); err != nil {
				logrus.WithError(err).WithField("symbol", q.Symbol).Warn("Failed to mirror quote to redis")
			}
			cancel()
		}
	}
}
