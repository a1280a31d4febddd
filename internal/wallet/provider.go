package wallet

import (
	"context"
	"errors"
	"math/big"
	"time"
)

var (
	// ErrWalletUnavailable is returned when no provider can be reached
	ErrWalletUnavailable = errors.New("wallet unavailable")
	// ErrWalletRejected is returned when the user declines the connection
	ErrWalletRejected = errors.New("wallet connection rejected")
)

// MockAddress is the account reported by the simulated provider
const MockAddress = "0x742d35Cc6634C0532925a3b8D4C2C4e0C8b8E8E8"

// Provider is the injected wallet capability
type Provider interface {
	RequestAccounts(ctx context.Context) ([]string, error)
	GetBalance(ctx context.Context, address string) (*big.Int, error) // wei
}

// Simulated grants a fixed account after a delay
type Simulated struct {
	Accounts []string
	Wei      *big.Int
	Delay    time.Duration
	Reject   bool
}

// NewSimulated returns a provider granting MockAddress with the given balance
func NewSimulated(delay time.Duration, wei *big.Int) *Simulated {
	return &Simulated{Accounts: []string{MockAddress}, Wei: wei, Delay: delay}
}

func (s *Simulated) wait(ctx context.Context) error {
	if s.Delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(s.Delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// RequestAccounts waits for the configured delay then grants the accounts
func (s *Simulated) RequestAccounts(ctx context.Context) ([]string, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	if s.Reject {
		return nil, ErrWalletRejected
	}
	out := make([]string, len(s.Accounts))
	copy(out, s.Accounts)
	return out, nil
}

// GetBalance returns the configured balance for any granted account
func (s *Simulated) GetBalance(ctx context.Context, address string) (*big.Int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.Wei == nil {
		return new(big.Int), nil
	}
	return new(big.Int).Set(s.Wei), nil
}

// Unavailable models a browser without an injected provider
type Unavailable struct{}

// RequestAccounts always fails with ErrWalletUnavailable
func (Unavailable) RequestAccounts(context.Context) ([]string, error) {
	return nil, ErrWalletUnavailable
}

// GetBalance always fails with ErrWalletUnavailable
func (Unavailable) GetBalance(context.Context, string) (*big.Int, error) {
	return nil, ErrWalletUnavailable
}
