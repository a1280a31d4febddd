package price

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// pricePrecision bounds the decimal places kept on simulated prices.
// Deltas are truncated toward zero so the tick bound still holds.
const pricePrecision = 12

// SimulatorConfig configures the random-walk price source
type SimulatorConfig struct {
	BasePrices       map[string]decimal.Decimal
	MaxTickVariation decimal.Decimal // fraction, e.g. 0.01 for ±1% per tick
	Interval         time.Duration
	FetchLatency     time.Duration // delay before the first quote of a symbol
	Rand             *rand.Rand
	Now              func() time.Time
}

// Simulator walks each configured price by at most MaxTickVariation per tick
type Simulator struct {
	cfg  SimulatorConfig
	subs *subscribers

	mu     sync.RWMutex
	quotes map[string]Quote
	rnd    *rand.Rand
}

// NewSimulator validates the config and builds a simulator
func NewSimulator(cfg SimulatorConfig) (*Simulator, error) {
	if len(cfg.BasePrices) == 0 {
		return nil, fmt.Errorf("simulator: no base prices configured")
	}
	if !cfg.MaxTickVariation.IsPositive() || cfg.MaxTickVariation.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return nil, fmt.Errorf("simulator: max tick variation %s outside (0, 1)", cfg.MaxTickVariation)
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	bases := make(map[string]decimal.Decimal, len(cfg.BasePrices))
	for symbol, p := range cfg.BasePrices {
		if !p.IsPositive() {
			return nil, fmt.Errorf("simulator: base price for %s must be positive", symbol)
		}
		bases[normalize(symbol)] = p
	}
	cfg.BasePrices = bases

	return &Simulator{
		cfg:    cfg,
		subs:   newSubscribers(),
		quotes: make(map[string]Quote),
		rnd:    cfg.Rand,
	}, nil
}

// Symbols returns the configured symbols in sorted order
func (s *Simulator) Symbols() []string {
	out := make([]string, 0, len(s.cfg.BasePrices))
	for symbol := range s.cfg.BasePrices {
		out = append(out, symbol)
	}
	sort.Strings(out)
	return out
}

// MaxTickVariation returns the configured per-tick bound
func (s *Simulator) MaxTickVariation() decimal.Decimal {
	return s.cfg.MaxTickVariation
}

// GetPrice returns the cached quote, fetching the first one after the
// simulated latency. Reads between ticks return the same quote.
func (s *Simulator) GetPrice(ctx context.Context, symbol string) (Quote, error) {
	symbol = normalize(symbol)
	base, ok := s.cfg.BasePrices[symbol]
	if !ok {
		return Quote{}, unknown(symbol)
	}

	s.mu.RLock()
	q, cached := s.quotes[symbol]
	s.mu.RUnlock()
	if cached {
		return q, nil
	}

	if s.cfg.FetchLatency > 0 {
		timer := time.NewTimer(s.cfg.FetchLatency)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return Quote{}, ctx.Err()
		case <-timer.C:
		}
	}

	s.mu.Lock()
	q, cached = s.quotes[symbol]
	if !cached {
		q = s.nextQuoteLocked(symbol, base)
		s.quotes[symbol] = q
	}
	s.mu.Unlock()

	if !cached {
		s.subs.publish(q)
	}
	return q, nil
}

// Subscribe registers a handler for every new quote of symbol
func (s *Simulator) Subscribe(symbol string, handler Handler) (func(), error) {
	symbol = normalize(symbol)
	if _, ok := s.cfg.BasePrices[symbol]; !ok {
		return nil, unknown(symbol)
	}
	if handler == nil {
		return nil, fmt.Errorf("simulator: nil handler for %s", symbol)
	}
	return s.subs.add(symbol, handler), nil
}

// Tick advances every tracked symbol (fetched or subscribed) by one step
// and notifies subscribers. It returns the new quotes.
func (s *Simulator) Tick() []Quote {
	s.mu.Lock()
	updates := make([]Quote, 0, len(s.cfg.BasePrices))
	for _, symbol := range s.Symbols() {
		prev, cached := s.quotes[symbol]
		if !cached && s.subs.count(symbol) == 0 {
			continue
		}
		from := s.cfg.BasePrices[symbol]
		if cached {
			from = prev.Price
		}
		q := s.nextQuoteLocked(symbol, from)
		s.quotes[symbol] = q
		updates = append(updates, q)
	}
	s.mu.Unlock()

	for _, q := range updates {
		s.subs.publish(q)
	}
	return updates
}

// Start ticks on the configured interval until ctx is cancelled
func (s *Simulator) Start(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				logrus.Info("Price simulator stopped")
				return
			case <-ticker.C:
				updates := s.Tick()
				logrus.WithField("quotes", len(updates)).Debug("Price simulator tick")
			}
		}
	}()
	logrus.WithFields(logrus.Fields{
		"interval":  s.cfg.Interval,
		"symbols":   s.Symbols(),
		"variation": s.cfg.MaxTickVariation,
	}).Info("Price simulator started")
}

// nextQuoteLocked must be called with s.mu held
func (s *Simulator) nextQuoteLocked(symbol string, from decimal.Decimal) Quote {
	u := decimal.NewFromFloat(s.rnd.Float64()*2 - 1).Mul(s.cfg.MaxTickVariation)
	delta := from.Mul(u).Truncate(pricePrecision)

	return Quote{
		Symbol:     symbol,
		Price:      from.Add(delta),
		Change24h:  decimal.NewFromFloat((s.rnd.Float64() - 0.5) * 10).Round(2),
		Confidence: decimal.NewFromFloat(95 + s.rnd.Float64()*5).Round(2),
		ObservedAt: s.cfg.Now(),
	}
}
