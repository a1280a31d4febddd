package risk

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Severity is the risk band a health ratio falls into
type Severity string

const (
	SeveritySafe     Severity = "safe"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Thresholds holds the health-ratio lines (in percent) shared by every view.
// A ratio at or below LiquidationPercent is critical, a ratio at or below
// CautionPercent is a warning.
type Thresholds struct {
	LiquidationPercent decimal.Decimal `json:"liquidation_percent"`
	CautionPercent     decimal.Decimal `json:"caution_percent"`
}

// DefaultThresholds returns the 110% liquidation and 150% caution lines
func DefaultThresholds() Thresholds {
	return Thresholds{
		LiquidationPercent: decimal.NewFromInt(110),
		CautionPercent:     decimal.NewFromInt(150),
	}
}

// Validate checks that both lines are positive and ordered
func (t Thresholds) Validate() error {
	if !t.LiquidationPercent.IsPositive() {
		return fmt.Errorf("liquidation threshold must be positive, got %s", t.LiquidationPercent)
	}
	if t.CautionPercent.LessThanOrEqual(t.LiquidationPercent) {
		return fmt.Errorf("caution threshold %s must be above liquidation threshold %s",
			t.CautionPercent, t.LiquidationPercent)
	}
	return nil
}

// Classify maps a health ratio onto its severity band
func (t Thresholds) Classify(healthRatio decimal.Decimal) Severity {
	switch {
	case healthRatio.GreaterThan(t.CautionPercent):
		return SeveritySafe
	case healthRatio.GreaterThan(t.LiquidationPercent):
		return SeverityWarning
	default:
		return SeverityCritical
	}
}

// ClassifySeverity classifies a ratio against the default thresholds
func ClassifySeverity(healthRatio decimal.Decimal) Severity {
	return DefaultThresholds().Classify(healthRatio)
}
