package token

import (
	"github.com/nebulalend/api/internal/models"
	"github.com/shopspring/decimal"
)

// DefaultTokens returns the markets listed by the desk
func DefaultTokens() []*models.Token {
	return []*models.Token{
		{
			Symbol:               "ETH",
			Name:                 "Ethereum",
			Decimals:             18,
			LTV:                  decimal.RequireFromString("0.75"),
			LiquidationThreshold: decimal.RequireFromString("0.80"),
			BasePrice:            decimal.NewFromInt(2450),
			SupplyAPY:            decimal.RequireFromString("8.5"),
			PriceFeed:            "0x5f4eC3Df9cbd43714FE2740f5E3616155c5b8419",
		},
		{
			Symbol:               "WBTC",
			Name:                 "Wrapped Bitcoin",
			Decimals:             8,
			LTV:                  decimal.RequireFromString("0.70"),
			LiquidationThreshold: decimal.RequireFromString("0.75"),
			BasePrice:            decimal.NewFromInt(45000),
			SupplyAPY:            decimal.RequireFromString("6.2"),
			PriceFeed:            "0xF4030086522a5bEEa4988F8cA5B36dbC97BeE88c",
		},
		{
			Symbol:               "USDC",
			Name:                 "USD Coin",
			Decimals:             6,
			LTV:                  decimal.RequireFromString("0.85"),
			LiquidationThreshold: decimal.RequireFromString("0.90"),
			BasePrice:            decimal.NewFromInt(1),
			SupplyAPY:            decimal.RequireFromString("12.3"),
			PriceFeed:            "0x8fFfFfd4AfB6115b954Bd326cbe7B4BA576818f6",
		},
		{
			Symbol:               "DAI",
			Name:                 "Dai Stablecoin",
			Decimals:             18,
			LTV:                  decimal.RequireFromString("0.85"),
			LiquidationThreshold: decimal.RequireFromString("0.90"),
			BasePrice:            decimal.NewFromInt(1),
			SupplyAPY:            decimal.RequireFromString("9.8"),
			PriceFeed:            "0xAed0c38402a5d19df6E4c03F4E2DceD6e29c1ee9",
		},
	}
}

// BasePrices returns symbol to starting price for a token list
func BasePrices(tokens []*models.Token) map[string]decimal.Decimal {
	prices := make(map[string]decimal.Decimal, len(tokens))
	for _, t := range tokens {
		prices[t.Symbol] = t.BasePrice
	}
	return prices
}
