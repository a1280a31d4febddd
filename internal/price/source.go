package price

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nebulalend/api/internal/risk"
	"github.com/shopspring/decimal"
)

// ErrUnknownSymbol is returned for symbols without a configured base price
var ErrUnknownSymbol = errors.New("unknown symbol")

// Quote is an immutable price observation for one symbol
type Quote struct {
	Symbol     string          `json:"symbol"`
	Price      decimal.Decimal `json:"price"`
	Change24h  decimal.Decimal `json:"change_24h"`
	Confidence decimal.Decimal `json:"confidence"`
	ObservedAt time.Time       `json:"observed_at"`
}

// Handler receives every new quote for a subscribed symbol
type Handler func(Quote)

// Source supplies current prices and pushes updates to subscribers
type Source interface {
	GetPrice(ctx context.Context, symbol string) (Quote, error)
	Subscribe(symbol string, handler Handler) (unsubscribe func(), err error)
}

// Lookup adapts a Source to the risk engine's price capability
func Lookup(ctx context.Context, src Source) risk.PriceFunc {
	return func(symbol string) (decimal.Decimal, error) {
		q, err := src.GetPrice(ctx, symbol)
		if err != nil {
			return decimal.Zero, err
		}
		return q.Price, nil
	}
}

func unknown(symbol string) error {
	return fmt.Errorf("%w: %q", ErrUnknownSymbol, symbol)
}

func normalize(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// subscribers tracks handlers per symbol; each handler has its own id so
// disposing one never touches another
type subscribers struct {
	mu       sync.RWMutex
	nextID   uint64
	handlers map[string]map[uint64]Handler
}

func newSubscribers() *subscribers {
	return &subscribers{handlers: make(map[string]map[uint64]Handler)}
}

func (s *subscribers) add(symbol string, h Handler) func() {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	if s.handlers[symbol] == nil {
		s.handlers[symbol] = make(map[uint64]Handler)
	}
	s.handlers[symbol][id] = h
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if hs, ok := s.handlers[symbol]; ok {
				delete(hs, id)
				if len(hs) == 0 {
					delete(s.handlers, symbol)
				}
			}
		})
	}
}

// snapshot copies the handlers so they can be invoked without the lock
func (s *subscribers) snapshot(symbol string) []Handler {
	s.mu.RLock()
	defer s.mu.RUnlock()
	hs := s.handlers[symbol]
	out := make([]Handler, 0, len(hs))
	for _, h := range hs {
		out = append(out, h)
	}
	return out
}

func (s *subscribers) count(symbol string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.handlers[symbol])
}

func (s *subscribers) publish(q Quote) {
	for _, h := range s.snapshot(q.Symbol) {
		h(q)
	}
}
