package swap

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nebulalend/api/internal/models"
	"github.com/nebulalend/api/internal/price"
	"github.com/shopspring/decimal"
)

var (
	// ErrTokensRequired is returned when either side of the pair is missing
	ErrTokensRequired = errors.New("token symbols required")
	// ErrSameToken is returned when both sides of the pair are equal
	ErrSameToken = errors.New("cannot swap same token")
	// ErrAmountNotPositive is returned for zero or negative input amounts
	ErrAmountNotPositive = errors.New("amount must be positive")
	// ErrInvalidSlippage is returned for slippage outside [0, MaxSlippage]
	ErrInvalidSlippage = errors.New("slippage out of range")
	// ErrPriceUnavailable is returned when either token cannot be priced
	ErrPriceUnavailable = errors.New("price unavailable")
)

var (
	// FeeRate is the flat swap fee taken from the output
	FeeRate = decimal.RequireFromString("0.003")
	// DefaultSlippage is applied when the request leaves slippage unset
	DefaultSlippage = decimal.RequireFromString("0.005")
	// MaxSlippage bounds the tolerance a caller may request
	MaxSlippage = decimal.RequireFromString("0.5")
)

// SwapQuoteRequest represents a request for a swap quote
type SwapQuoteRequest struct {
	TokenIn  string          `json:"token_in" binding:"required"`
	TokenOut string          `json:"token_out" binding:"required"`
	AmountIn decimal.Decimal `json:"amount_in"`
	Slippage decimal.Decimal `json:"slippage"` // Optional, default 0.5%
}

// SwapQuoteResponse represents the response for a swap quote
type SwapQuoteResponse struct {
	AmountIn     decimal.Decimal `json:"amount_in"`
	AmountOut    decimal.Decimal `json:"amount_out"`
	MinAmountOut decimal.Decimal `json:"min_amount_out"`
	Rate         decimal.Decimal `json:"rate"`      // TokenOut per TokenIn before fees
	ValueUSD     decimal.Decimal `json:"value_usd"` // AmountIn at the input price
	Fee          decimal.Decimal `json:"fee"`       // In TokenOut units
	FeeRate      decimal.Decimal `json:"fee_rate"`
	Slippage     decimal.Decimal `json:"slippage"`
	TokenIn      TokenInfo       `json:"token_in"`
	TokenOut     TokenInfo       `json:"token_out"`
	QuotedAt     time.Time       `json:"quoted_at"`
}

// TokenInfo represents token information in the quote
type TokenInfo struct {
	Symbol   string          `json:"symbol"`
	Name     string          `json:"name"`
	Decimals uint8           `json:"decimals"`
	Price    decimal.Decimal `json:"price"`
}

// TokenLookup resolves listed tokens by symbol
type TokenLookup interface {
	GetTokenBySymbol(symbol string) (*models.Token, error)
}

// Service defines swap service operations
type Service interface {
	GetQuote(ctx context.Context, req *SwapQuoteRequest) (*SwapQuoteResponse, error)
}

type service struct {
	tokens TokenLookup
	prices price.Source
}

// NewService creates a new swap service
func NewService(tokens TokenLookup, prices price.Source) Service {
	return &service{tokens: tokens, prices: prices}
}

// GetQuote converts AmountIn at the current price ratio and deducts the fee:
// amountOut = amountIn * priceIn / priceOut * (1 - FeeRate)
func (s *service) GetQuote(ctx context.Context, req *SwapQuoteRequest) (*SwapQuoteResponse, error) {
	symbolIn := strings.ToUpper(strings.TrimSpace(req.TokenIn))
	symbolOut := strings.ToUpper(strings.TrimSpace(req.TokenOut))
	if symbolIn == "" || symbolOut == "" {
		return nil, ErrTokensRequired
	}
	if symbolIn == symbolOut {
		return nil, ErrSameToken
	}
	if !req.AmountIn.IsPositive() {
		return nil, ErrAmountNotPositive
	}

	slippage := req.Slippage
	if slippage.IsZero() {
		slippage = DefaultSlippage
	}
	if slippage.IsNegative() || slippage.GreaterThan(MaxSlippage) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidSlippage, slippage)
	}

	tokenIn, err := s.tokens.GetTokenBySymbol(symbolIn)
	if err != nil {
		return nil, err
	}
	tokenOut, err := s.tokens.GetTokenBySymbol(symbolOut)
	if err != nil {
		return nil, err
	}

	priceIn, err := s.priceOf(ctx, tokenIn.Symbol)
	if err != nil {
		return nil, err
	}
	priceOut, err := s.priceOf(ctx, tokenOut.Symbol)
	if err != nil {
		return nil, err
	}

	valueUSD := req.AmountIn.Mul(priceIn)
	rate := priceIn.Div(priceOut)
	grossOut := valueUSD.Div(priceOut)
	fee := grossOut.Mul(FeeRate)
	amountOut := grossOut.Sub(fee)
	minAmountOut := amountOut.Mul(decimal.NewFromInt(1).Sub(slippage))

	return &SwapQuoteResponse{
		AmountIn:     req.AmountIn,
		AmountOut:    amountOut.Round(18),
		MinAmountOut: minAmountOut.Round(18),
		Rate:         rate.Round(18),
		ValueUSD:     valueUSD.Round(2),
		Fee:          fee.Round(18),
		FeeRate:      FeeRate,
		Slippage:     slippage,
		TokenIn:      tokenInfo(tokenIn, priceIn),
		TokenOut:     tokenInfo(tokenOut, priceOut),
		QuotedAt:     time.Now(),
	}, nil
}

func (s *service) priceOf(ctx context.Context, symbol string) (decimal.Decimal, error) {
	q, err := s.prices.GetPrice(ctx, symbol)
	if err != nil {
		if errors.Is(err, price.ErrUnknownSymbol) {
			return decimal.Zero, fmt.Errorf("%w: %s", ErrPriceUnavailable, symbol)
		}
		return decimal.Zero, err
	}
	if !q.Price.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrPriceUnavailable, symbol)
	}
	return q.Price, nil
}

func tokenInfo(t *models.Token, p decimal.Decimal) TokenInfo {
	return TokenInfo{
		Symbol:   t.Symbol,
		Name:     t.Name,
		Decimals: t.Decimals,
		Price:    p,
	}
}
