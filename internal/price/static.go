package price

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Static is a scripted source: prices change only through Set
type Static struct {
	subs *subscribers

	mu     sync.RWMutex
	quotes map[string]Quote
}

// NewStatic creates a source holding the given prices
func NewStatic(prices map[string]decimal.Decimal) *Static {
	s := &Static{subs: newSubscribers(), quotes: make(map[string]Quote, len(prices))}
	for symbol, p := range prices {
		symbol = normalize(symbol)
		s.quotes[symbol] = staticQuote(symbol, p)
	}
	return s
}

// GetPrice returns the scripted quote for symbol
func (s *Static) GetPrice(_ context.Context, symbol string) (Quote, error) {
	symbol = normalize(symbol)
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.quotes[symbol]
	if !ok {
		return Quote{}, unknown(symbol)
	}
	return q, nil
}

// Subscribe registers a handler for quotes published by Set
func (s *Static) Subscribe(symbol string, handler Handler) (func(), error) {
	symbol = normalize(symbol)
	s.mu.RLock()
	_, ok := s.quotes[symbol]
	s.mu.RUnlock()
	if !ok {
		return nil, unknown(symbol)
	}
	return s.subs.add(symbol, handler), nil
}

// Set publishes a new quote for symbol
func (s *Static) Set(symbol string, p decimal.Decimal) Quote {
	symbol = normalize(symbol)
	q := staticQuote(symbol, p)

	s.mu.Lock()
	s.quotes[symbol] = q
	s.mu.Unlock()

	s.subs.publish(q)
	return q
}

func staticQuote(symbol string, p decimal.Decimal) Quote {
	return Quote{
		Symbol:     symbol,
		Price:      p,
		Change24h:  decimal.Zero,
		Confidence: decimal.NewFromInt(100),
		ObservedAt: time.Now(),
	}
}
