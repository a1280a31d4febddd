package models

import (
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/nebulalend/api/internal/risk"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Token represents a market listed on the lending desk
type Token struct {
	ID                   uint            `json:"id" gorm:"primaryKey"`
	Symbol               string          `json:"symbol" gorm:"uniqueIndex;not null;size:20"`
	Name                 string          `json:"name" gorm:"not null;size:100"`
	Decimals             uint8           `json:"decimals" gorm:"not null"`
	LTV                  decimal.Decimal `json:"ltv" gorm:"type:decimal(10,6);not null"`                   // Borrowable fraction of collateral value
	LiquidationThreshold decimal.Decimal `json:"liquidation_threshold" gorm:"type:decimal(10,6);not null"` // Per-token threshold, informational
	BasePrice            decimal.Decimal `json:"base_price" gorm:"type:decimal(36,18);not null"`           // Starting price for the simulated feed
	SupplyAPY            decimal.Decimal `json:"supply_apy" gorm:"type:decimal(10,4)"`                     // Percent, e.g. 8.5
	PriceFeed            string          `json:"price_feed" gorm:"size:42"`                                // Chainlink aggregator address
	IsActive             *bool           `json:"is_active" gorm:"default:true"`
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
}

// TableName returns the table name for Token model
func (Token) TableName() string {
	return "tokens"
}

// BeforeCreate hook to validate token data
func (t *Token) BeforeCreate(tx *gorm.DB) error {
	if strings.TrimSpace(t.Symbol) == "" || strings.TrimSpace(t.Name) == "" {
		return gorm.ErrInvalidData
	}
	if !t.LTV.IsPositive() || t.LTV.GreaterThan(decimal.NewFromInt(1)) {
		return gorm.ErrInvalidData
	}
	if !t.BasePrice.IsPositive() {
		return gorm.ErrInvalidData
	}
	if t.PriceFeed != "" && !common.IsHexAddress(t.PriceFeed) {
		return gorm.ErrInvalidData
	}
	return nil
}

// Active reports whether the token is listed; unset means active
func (t *Token) Active() bool {
	return t.IsActive == nil || *t.IsActive
}

// Asset returns the view of the token used by the risk engine
func (t *Token) Asset() *risk.Asset {
	if t == nil {
		return nil
	}
	return &risk.Asset{Symbol: t.Symbol, LTV: t.LTV}
}
