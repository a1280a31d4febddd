package position

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nebulalend/api/internal/risk"
	"github.com/nebulalend/api/internal/wallet"
	"github.com/shopspring/decimal"
)

var (
	// ErrSessionNotFound is returned for unknown or closed position ids
	ErrSessionNotFound = errors.New("position not found")
	// ErrWalletNotConnected is returned when submitting without a wallet
	ErrWalletNotConnected = errors.New("wallet not connected")
	// ErrSubmissionBlocked is returned when the risk gate refuses a submission
	ErrSubmissionBlocked = errors.New("submission blocked")
	// ErrStoreClosed is returned for edits after Close
	ErrStoreClosed = errors.New("position closed")
)

// State is the lifecycle stage of a position
type State string

const (
	StateEmpty           State = "empty"
	StatePartiallyFilled State = "partially_filled"
	StateSafeToSubmit    State = "safe_to_submit"
	StateBlocked         State = "blocked"
)

// Position is the user's in-progress borrow. Amounts are optional; an
// invalid NullDecimal means the field is empty.
type Position struct {
	CollateralToken  string              `json:"collateral_token"`
	CollateralAmount decimal.NullDecimal `json:"collateral_amount"`
	DebtToken        string              `json:"debt_token"`
	DebtAmount       decimal.NullDecimal `json:"debt_amount"`
	Wallet           wallet.State        `json:"wallet"`
}

// Equal compares positions by value
func (p Position) Equal(o Position) bool {
	return p.CollateralToken == o.CollateralToken &&
		p.DebtToken == o.DebtToken &&
		nullEqual(p.CollateralAmount, o.CollateralAmount) &&
		nullEqual(p.DebtAmount, o.DebtAmount) &&
		p.Wallet.Equal(o.Wallet)
}

// IsEmpty reports whether no token or amount has been entered
func (p Position) IsEmpty() bool {
	return p.CollateralToken == "" && p.DebtToken == "" &&
		!p.CollateralAmount.Valid && !p.DebtAmount.Valid
}

// Complete reports whether every field the risk engine needs is filled
func (p Position) Complete() bool {
	return p.CollateralToken != "" && p.DebtToken != "" &&
		p.CollateralAmount.Valid && p.CollateralAmount.Decimal.IsPositive() &&
		p.DebtAmount.Valid && p.DebtAmount.Decimal.IsPositive()
}

// Amounts returns the engine view of the entered quantities
func (p Position) Amounts() risk.Amounts {
	return risk.Amounts{Collateral: p.CollateralAmount, Debt: p.DebtAmount}
}

func nullEqual(a, b decimal.NullDecimal) bool {
	if a.Valid != b.Valid {
		return false
	}
	return !a.Valid || a.Decimal.Equal(b.Decimal)
}

// ParseAmount parses a user-entered amount. Blank input is an empty field;
// non-numeric or negative input fails with risk.ErrInvalidAmount.
func ParseAmount(raw string) (decimal.NullDecimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.NullDecimal{}, fmt.Errorf("%w: %q is not a number", risk.ErrInvalidAmount, raw)
	}
	if d.IsNegative() {
		return decimal.NullDecimal{}, fmt.Errorf("%w: %q is negative", risk.ErrInvalidAmount, raw)
	}
	return decimal.NewNullDecimal(d), nil
}

// Patch is a partial edit; nil fields are left untouched and empty
// strings clear the field
type Patch struct {
	CollateralToken  *string `json:"collateral_token"`
	CollateralAmount *string `json:"collateral_amount"`
	DebtToken        *string `json:"debt_token"`
	DebtAmount       *string `json:"debt_amount"`
}

// Snapshot is a consistent read of a position and its latest assessment
type Snapshot struct {
	ID         string                `json:"id"`
	Position   Position              `json:"position"`
	State      State                 `json:"state"`
	Assessment risk.HealthAssessment `json:"assessment"`
	Decision   risk.Decision         `json:"decision"`
	Alert      *risk.Alert           `json:"alert,omitempty"`
	Version    uint64                `json:"version"`
	UpdatedAt  time.Time             `json:"updated_at"`
}

// Receipt confirms a simulated submission; nothing is persisted
type Receipt struct {
	ID          string                `json:"id"`
	PositionID  string                `json:"position_id"`
	Position    Position              `json:"position"`
	Assessment  risk.HealthAssessment `json:"assessment"`
	SubmittedAt time.Time             `json:"submitted_at"`
}
