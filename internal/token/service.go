package token

import (
	"errors"
	"fmt"

	"github.com/nebulalend/api/internal/models"
	"github.com/sirupsen/logrus"
)

var (
	// ErrTokenNotFound is returned when no listed token has the symbol
	ErrTokenNotFound = errors.New("token not found")
	// ErrSameToken is returned when the debt token equals the collateral token
	ErrSameToken = errors.New("debt token must differ from collateral token")
)

// Service defines token service operations
type Service interface {
	ListTokens(limit, offset int) ([]*models.Token, error)
	GetActiveTokens() ([]*models.Token, error)
	GetTokenBySymbol(symbol string) (*models.Token, error)
	DebtCandidates(collateralSymbol string) ([]*models.Token, error)
	ResolveDebtToken(collateralSymbol, debtSymbol string) (*models.Token, error)
	Seed(tokens []*models.Token) error
}

type service struct {
	repo TokenRepository
}

// NewService creates a new token service
func NewService(repo TokenRepository) Service {
	return &service{repo: repo}
}

func (s *service) ListTokens(limit, offset int) ([]*models.Token, error) {
	if limit <= 0 {
		limit = 10
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.List(limit, offset)
}

func (s *service) GetActiveTokens() ([]*models.Token, error) {
	return s.repo.GetActiveTokens()
}

// GetTokenBySymbol returns the token or ErrTokenNotFound
func (s *service) GetTokenBySymbol(symbol string) (*models.Token, error) {
	token, err := s.repo.GetBySymbol(symbol)
	if err != nil {
		return nil, err
	}
	if token == nil || !token.Active() {
		return nil, fmt.Errorf("%w: %s", ErrTokenNotFound, symbol)
	}
	return token, nil
}

// DebtCandidates lists the tokens that may be borrowed against the given
// collateral. The collateral token itself is never part of the set.
func (s *service) DebtCandidates(collateralSymbol string) ([]*models.Token, error) {
	tokens, err := s.repo.GetActiveTokens()
	if err != nil {
		return nil, err
	}
	collateral := normalizeSymbol(collateralSymbol)

	candidates := make([]*models.Token, 0, len(tokens))
	for _, t := range tokens {
		if t.Symbol == collateral {
			continue
		}
		candidates = append(candidates, t)
	}
	return candidates, nil
}

// ResolveDebtToken picks debtSymbol out of the candidate set for the collateral
func (s *service) ResolveDebtToken(collateralSymbol, debtSymbol string) (*models.Token, error) {
	if collateralSymbol != "" && normalizeSymbol(collateralSymbol) == normalizeSymbol(debtSymbol) {
		return nil, ErrSameToken
	}
	candidates, err := s.DebtCandidates(collateralSymbol)
	if err != nil {
		return nil, err
	}
	want := normalizeSymbol(debtSymbol)
	for _, t := range candidates {
		if t.Symbol == want {
			return t, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrTokenNotFound, debtSymbol)
}

// Seed stores the given tokens when the catalogue is empty
func (s *service) Seed(tokens []*models.Token) error {
	count, err := s.repo.Count()
	if err != nil {
		return err
	}
	if count > 0 {
		logrus.WithField("tokens", count).Debug("Token catalogue already seeded")
		return nil
	}
	for _, t := range tokens {
		if err := s.repo.Create(t); err != nil {
			return fmt.Errorf("seed token %s: %w", t.Symbol, err)
		}
	}
	logrus.WithField("tokens", len(tokens)).Info("Seeded token catalogue")
	return nil
}
