package lending

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nebulalend/api/internal/models"
	"github.com/nebulalend/api/internal/notify"
	"github.com/nebulalend/api/internal/price"
	"github.com/nebulalend/api/internal/risk"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

var (
	// ErrAmountNotPositive is returned for zero or negative supply amounts
	ErrAmountNotPositive = errors.New("amount must be positive")
	// ErrPriceUnavailable is returned when the token cannot be priced
	ErrPriceUnavailable = errors.New("price unavailable")
)

var daysPerYear = decimal.NewFromInt(365)

// SupplyRequest represents a request to supply liquidity
type SupplyRequest struct {
	Token     string          `json:"token" binding:"required"`
	Amount    decimal.Decimal `json:"amount"`
	SessionID string          `json:"session_id,omitempty"` // Receives the confirmation toast
}

// SupplyQuote describes what supplying an amount would earn
type SupplyQuote struct {
	Token          string          `json:"token"`
	Amount         decimal.Decimal `json:"amount"`
	Price          decimal.Decimal `json:"price"`
	ValueUSD       decimal.Decimal `json:"value_usd"`
	APY            decimal.Decimal `json:"apy"` // Percent
	LPTokens       decimal.Decimal `json:"lp_tokens"`
	DailyEarnings  decimal.Decimal `json:"daily_earnings"`
	YearlyEarnings decimal.Decimal `json:"yearly_earnings"`
	HealthRatio    decimal.Decimal `json:"health_ratio"` // Supply carries no debt
}

// SupplyReceipt confirms a simulated supply
type SupplyReceipt struct {
	ID         string      `json:"id"`
	Quote      SupplyQuote `json:"quote"`
	SuppliedAt time.Time   `json:"supplied_at"`
}

// TokenLookup resolves listed tokens by symbol
type TokenLookup interface {
	GetTokenBySymbol(symbol string) (*models.Token, error)
}

// Sessions reports whether a position session is live
type Sessions interface {
	Exists(id string) bool
}

// Service defines lending operations
type Service interface {
	Quote(ctx context.Context, req *SupplyRequest) (*SupplyQuote, error)
	Supply(ctx context.Context, req *SupplyRequest) (*SupplyReceipt, error)
}

type service struct {
	tokens   TokenLookup
	prices   price.Source
	notices  *notify.Center
	sessions Sessions
	delay    time.Duration
}

// NewService creates a lending service; delay simulates transaction latency.
// Confirmation toasts go only to sessions that exist.
func NewService(tokens TokenLookup, prices price.Source, notices *notify.Center, sessions Sessions, delay time.Duration) Service {
	return &service{tokens: tokens, prices: prices, notices: notices, sessions: sessions, delay: delay}
}

// Quote values the supply at the current price and the token's APY
func (s *service) Quote(ctx context.Context, req *SupplyRequest) (*SupplyQuote, error) {
	if !req.Amount.IsPositive() {
		return nil, ErrAmountNotPositive
	}
	tok, err := s.tokens.GetTokenBySymbol(strings.ToUpper(strings.TrimSpace(req.Token)))
	if err != nil {
		return nil, err
	}

	q, err := s.prices.GetPrice(ctx, tok.Symbol)
	if err != nil {
		if errors.Is(err, price.ErrUnknownSymbol) {
			return nil, fmt.Errorf("%w: %s", ErrPriceUnavailable, tok.Symbol)
		}
		return nil, err
	}

	value := req.Amount.Mul(q.Price)
	yearly := value.Mul(tok.SupplyAPY).Div(decimal.NewFromInt(100))

	return &SupplyQuote{
		Token:          tok.Symbol,
		Amount:         req.Amount,
		Price:          q.Price,
		ValueUSD:       value.Round(2),
		APY:            tok.SupplyAPY,
		LPTokens:       req.Amount,
		DailyEarnings:  yearly.Div(daysPerYear).Round(4),
		YearlyEarnings: yearly.Round(2),
		HealthRatio:    risk.SentinelRatio,
	}, nil
}

// Supply waits out the simulated transaction, then confirms with a receipt
// and a toast. Nothing is recorded.
func (s *service) Supply(ctx context.Context, req *SupplyRequest) (*SupplyReceipt, error) {
	quote, err := s.Quote(ctx, req)
	if err != nil {
		return nil, err
	}

	if s.delay > 0 {
		timer := time.NewTimer(s.delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	receipt := &SupplyReceipt{ID: uuid.NewString(), Quote: *quote, SuppliedAt: time.Now()}
	if s.notify(req.SessionID) {
		s.notices.Info(req.SessionID, "Liquidity Added!",
			fmt.Sprintf("Successfully added %s %s to the pool", quote.Amount, quote.Token))
	}

	logrus.WithFields(logrus.Fields{
		"receipt_id": receipt.ID,
		"token":      quote.Token,
		"value_usd":  quote.ValueUSD,
	}).Info("Liquidity supplied")
	return receipt, nil
}

func (s *service) notify(session string) bool {
	if s.notices == nil || s.sessions == nil || session == "" {
		return false
	}
	if !s.sessions.Exists(session) {
		logrus.WithField("session_id", session).Debug("Skipping toast for unknown session")
		return false
	}
	return true
}
