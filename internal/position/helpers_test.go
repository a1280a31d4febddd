package position

import (
	"context"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/nebulalend/api/internal/models"
	"github.com/nebulalend/api/internal/price"
	"github.com/nebulalend/api/internal/risk"
	"github.com/nebulalend/api/internal/token"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// memoryRepo is an in-memory token.TokenRepository
type memoryRepo struct {
	tokens []*models.Token
}

func (r *memoryRepo) Create(t *models.Token) error {
	r.tokens = append(r.tokens, t)
	return nil
}

func (r *memoryRepo) GetBySymbol(symbol string) (*models.Token, error) {
	for _, t := range r.tokens {
		if t.Symbol == strings.ToUpper(strings.TrimSpace(symbol)) {
			return t, nil
		}
	}
	return nil, nil
}

func (r *memoryRepo) Update(*models.Token) error { return nil }

func (r *memoryRepo) List(limit, offset int) ([]*models.Token, error) {
	return r.tokens, nil
}

func (r *memoryRepo) GetActiveTokens() ([]*models.Token, error) {
	return r.tokens, nil
}

func (r *memoryRepo) GetTokensBySymbols(symbols []string) ([]*models.Token, error) {
	return r.tokens, nil
}

func (r *memoryRepo) Count() (int64, error) {
	return int64(len(r.tokens)), nil
}

// catalogue lists the default markets plus XYZ, which has no price feed
func catalogue() token.Service {
	tokens := token.DefaultTokens()
	tokens = append(tokens, &models.Token{
		Symbol:    "XYZ",
		Name:      "Unpriced",
		Decimals:  18,
		LTV:       decimal.RequireFromString("0.5"),
		BasePrice: decimal.NewFromInt(1),
	})
	return token.NewService(&memoryRepo{tokens: tokens})
}

func marketPrices() *price.Static {
	return price.NewStatic(map[string]decimal.Decimal{
		"ETH":  decimal.NewFromInt(2450),
		"USDC": decimal.NewFromInt(1),
		"DAI":  decimal.NewFromInt(1),
		"WBTC": decimal.NewFromInt(45000),
	})
}

func newTestStore(t *testing.T, src price.Source) *Store {
	t.Helper()
	s := NewStore("test-position", Deps{
		Engine: risk.DefaultEngine(),
		Prices: src,
		Tokens: catalogue(),
	})
	t.Cleanup(s.Close)
	return s
}

func fill(t *testing.T, s *Store, collateral, collateralAmount, debt, debtAmount string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.SetCollateralToken(ctx, collateral))
	require.NoError(t, s.SetDebtToken(ctx, debt))
	require.NoError(t, s.SetCollateralAmount(collateralAmount))
	require.NoError(t, s.SetDebtAmount(debtAmount))
}

// silentSource changes prices without notifying subscribers
type silentSource struct {
	mu     sync.Mutex
	prices map[string]decimal.Decimal
}

func (s *silentSource) GetPrice(_ context.Context, symbol string) (price.Quote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.prices[symbol]
	if !ok {
		return price.Quote{}, price.ErrUnknownSymbol
	}
	return price.Quote{Symbol: symbol, Price: p}, nil
}

func (s *silentSource) Subscribe(string, price.Handler) (func(), error) {
	return func() {}, nil
}

func (s *silentSource) set(symbol string, p decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[symbol] = p
}

func sorted(in []string) []string {
	out := append([]string{}, in...)
	sort.Strings(out)
	return out
}

// racingSource publishes a queued tick from inside GetPrice, after the
// quote being returned was read
type racingSource struct {
	*price.Static

	mu   sync.Mutex
	next map[string]decimal.Decimal
}

func newRacingSource() *racingSource {
	return &racingSource{Static: marketPrices(), next: make(map[string]decimal.Decimal)}
}

func (r *racingSource) GetPrice(ctx context.Context, symbol string) (price.Quote, error) {
	q, err := r.Static.GetPrice(ctx, symbol)
	r.mu.Lock()
	p, ok := r.next[symbol]
	delete(r.next, symbol)
	r.mu.Unlock()
	if ok {
		r.Static.Set(symbol, p)
	}
	return q, err
}

func (r *racingSource) tickDuringRead(symbol string, p decimal.Decimal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next[symbol] = p
}
