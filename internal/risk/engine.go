package risk

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidAmount is returned for negative or non-numeric amounts
	ErrInvalidAmount = errors.New("invalid amount")
	// ErrMalformedToken is returned for token references the engine cannot use
	ErrMalformedToken = errors.New("malformed token reference")
)

var hundred = decimal.NewFromInt(100)

// SentinelRatio is reported whenever a position cannot be evaluated
var SentinelRatio = decimal.NewFromInt(100)

// Asset is the slice of token metadata the engine needs
type Asset struct {
	Symbol string          `json:"symbol"`
	LTV    decimal.Decimal `json:"ltv"`
}

// Amounts are the user-entered quantities of a position. A zero-valued
// NullDecimal means the field has not been filled in.
type Amounts struct {
	Collateral decimal.NullDecimal `json:"collateral"`
	Debt       decimal.NullDecimal `json:"debt"`
}

// PriceFunc resolves the current price of a token symbol
type PriceFunc func(symbol string) (decimal.Decimal, error)

// HealthAssessment is derived from a position and a price snapshot; it is
// never stored.
type HealthAssessment struct {
	CollateralValue  decimal.Decimal `json:"collateral_value"`
	DebtValue        decimal.Decimal `json:"debt_value"`
	MaxDebtValue     decimal.Decimal `json:"max_debt_value"`
	HealthRatio      decimal.Decimal `json:"health_ratio"`
	Severity         Severity        `json:"severity"`
	Evaluable        bool            `json:"evaluable"`
	PriceUnavailable bool            `json:"price_unavailable,omitempty"`
}

// Decision is the outcome of gating a state-changing action
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// Alert is the severity-coloured warning shown next to a position
type Alert struct {
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
}

// Engine computes health assessments. It holds only immutable thresholds and
// is safe for concurrent use.
type Engine struct {
	thresholds Thresholds
}

// NewEngine creates an engine using the given thresholds
func NewEngine(thresholds Thresholds) (*Engine, error) {
	if err := thresholds.Validate(); err != nil {
		return nil, err
	}
	return &Engine{thresholds: thresholds}, nil
}

// DefaultEngine returns an engine with the 110/150 thresholds
func DefaultEngine() *Engine {
	return &Engine{thresholds: DefaultThresholds()}
}

// Thresholds returns the thresholds the engine classifies against
func (e *Engine) Thresholds() Thresholds {
	return e.thresholds
}

// ClassifySeverity maps a ratio onto its band using the engine thresholds
func (e *Engine) ClassifySeverity(healthRatio decimal.Decimal) Severity {
	return e.thresholds.Classify(healthRatio)
}

// ComputeHealth values the position and derives its health ratio.
//
// Missing tokens, missing or zero amounts and unresolvable prices yield the
// sentinel assessment instead of an error. Negative amounts and malformed
// tokens are rejected.
func (e *Engine) ComputeHealth(amounts Amounts, collateral, debt *Asset, priceOf PriceFunc) (HealthAssessment, error) {
	if amounts.Collateral.Valid && amounts.Collateral.Decimal.IsNegative() {
		return HealthAssessment{}, fmt.Errorf("%w: collateral amount %s", ErrInvalidAmount, amounts.Collateral.Decimal)
	}
	if amounts.Debt.Valid && amounts.Debt.Decimal.IsNegative() {
		return HealthAssessment{}, fmt.Errorf("%w: debt amount %s", ErrInvalidAmount, amounts.Debt.Decimal)
	}
	if err := validateAsset(collateral); err != nil {
		return HealthAssessment{}, err
	}
	if err := validateAsset(debt); err != nil {
		return HealthAssessment{}, err
	}

	if collateral == nil || debt == nil || priceOf == nil ||
		!isFilled(amounts.Collateral) || !isFilled(amounts.Debt) {
		return sentinel(false), nil
	}

	collateralPrice, err := priceOf(collateral.Symbol)
	if err != nil || !collateralPrice.IsPositive() {
		return sentinel(true), nil
	}
	debtPrice, err := priceOf(debt.Symbol)
	if err != nil || !debtPrice.IsPositive() {
		return sentinel(true), nil
	}

	collateralValue := amounts.Collateral.Decimal.Mul(collateralPrice)
	debtValue := amounts.Debt.Decimal.Mul(debtPrice)
	maxDebtValue := collateralValue.Mul(collateral.LTV)

	ratio := maxDebtValue.Div(debtValue).Mul(hundred)

	return HealthAssessment{
		CollateralValue: collateralValue,
		DebtValue:       debtValue,
		MaxDebtValue:    maxDebtValue,
		HealthRatio:     ratio,
		Severity:        e.thresholds.Classify(ratio),
		Evaluable:       true,
	}, nil
}

// Gate decides whether a submission backed by the assessment may proceed
func (e *Engine) Gate(a HealthAssessment) Decision {
	switch {
	case a.PriceUnavailable:
		return Decision{Reason: "price unavailable"}
	case !a.Evaluable:
		return Decision{Reason: "position is incomplete"}
	case a.HealthRatio.LessThanOrEqual(e.thresholds.LiquidationPercent):
		return Decision{Reason: fmt.Sprintf("health factor %s%% is at or below the %s%% liquidation threshold",
			a.HealthRatio.StringFixed(2), e.thresholds.LiquidationPercent)}
	}
	return Decision{Allowed: true}
}

// AlertFor returns the alert to show for an assessment, if any
func (e *Engine) AlertFor(a HealthAssessment) *Alert {
	if !a.Evaluable {
		return nil
	}
	switch a.Severity {
	case SeverityCritical:
		return &Alert{
			Severity: SeverityCritical,
			Message:  "Critical liquidation risk! Your position may be liquidated immediately.",
		}
	case SeverityWarning:
		return &Alert{
			Severity: SeverityWarning,
			Message:  fmt.Sprintf("Your health factor is below %s%%. Consider adding collateral or borrowing less.", e.thresholds.CautionPercent),
		}
	}
	return nil
}

func validateAsset(a *Asset) error {
	if a == nil {
		return nil
	}
	if strings.TrimSpace(a.Symbol) == "" {
		return fmt.Errorf("%w: empty symbol", ErrMalformedToken)
	}
	if !a.LTV.IsPositive() || a.LTV.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("%w: %s ltv %s outside (0, 1]", ErrMalformedToken, a.Symbol, a.LTV)
	}
	return nil
}

func isFilled(d decimal.NullDecimal) bool {
	return d.Valid && d.Decimal.IsPositive()
}

func sentinel(priceUnavailable bool) HealthAssessment {
	return HealthAssessment{
		CollateralValue:  decimal.Zero,
		DebtValue:        decimal.Zero,
		MaxDebtValue:     decimal.Zero,
		HealthRatio:      SentinelRatio,
		Severity:         SeveritySafe,
		PriceUnavailable: priceUnavailable,
	}
}
