package token

import (
	"errors"
	"testing"

	"github.com/nebulalend/api/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockTokenRepository is a mock implementation of TokenRepository
type MockTokenRepository struct {
	mock.Mock
}

func (m *MockTokenRepository) Create(token *models.Token) error {
	args := m.Called(token)
	return args.Error(0)
}

func (m *MockTokenRepository) GetBySymbol(symbol string) (*models.Token, error) {
	args := m.Called(symbol)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Token), args.Error(1)
}

func (m *MockTokenRepository) Update(token *models.Token) error {
	args := m.Called(token)
	return args.Error(0)
}

func (m *MockTokenRepository) List(limit, offset int) ([]*models.Token, error) {
	args := m.Called(limit, offset)
	return args.Get(0).([]*models.Token), args.Error(1)
}

func (m *MockTokenRepository) GetActiveTokens() ([]*models.Token, error) {
	args := m.Called()
	return args.Get(0).([]*models.Token), args.Error(1)
}

func (m *MockTokenRepository) GetTokensBySymbols(symbols []string) ([]*models.Token, error) {
	args := m.Called(symbols)
	return args.Get(0).([]*models.Token), args.Error(1)
}

func (m *MockTokenRepository) Count() (int64, error) {
	args := m.Called()
	return args.Get(0).(int64), args.Error(1)
}

func catalogue() []*models.Token {
	return []*models.Token{
		{ID: 1, Symbol: "ETH", Name: "Ethereum", LTV: decimal.RequireFromString("0.75"), BasePrice: decimal.NewFromInt(2450)},
		{ID: 2, Symbol: "USDC", Name: "USD Coin", LTV: decimal.RequireFromString("0.85"), BasePrice: decimal.NewFromInt(1)},
		{ID: 3, Symbol: "DAI", Name: "Dai Stablecoin", LTV: decimal.RequireFromString("0.85"), BasePrice: decimal.NewFromInt(1)},
	}
}

func TestListTokens(t *testing.T) {
	mockRepo := new(MockTokenRepository)
	service := NewService(mockRepo)

	mockRepo.On("List", 10, 0).Return(catalogue(), nil)
	mockRepo.On("List", 100, 0).Return(catalogue(), nil)

	tokens, err := service.ListTokens(0, -5)
	assert.NoError(t, err)
	assert.Len(t, tokens, 3)

	_, err = service.ListTokens(1000, 0)
	assert.NoError(t, err)
	mockRepo.AssertExpectations(t)
}

func TestGetTokenBySymbol(t *testing.T) {
	t.Run("Found", func(t *testing.T) {
		mockRepo := new(MockTokenRepository)
		service := NewService(mockRepo)
		mockRepo.On("GetBySymbol", "ETH").Return(catalogue()[0], nil)

		token, err := service.GetTokenBySymbol("ETH")
		require.NoError(t, err)
		assert.Equal(t, "Ethereum", token.Name)
	})

	t.Run("NotFound", func(t *testing.T) {
		mockRepo := new(MockTokenRepository)
		service := NewService(mockRepo)
		mockRepo.On("GetBySymbol", "XYZ").Return(nil, nil)

		_, err := service.GetTokenBySymbol("XYZ")
		assert.ErrorIs(t, err, ErrTokenNotFound)
	})

	t.Run("Inactive", func(t *testing.T) {
		mockRepo := new(MockTokenRepository)
		service := NewService(mockRepo)
		inactive := false
		token := catalogue()[0]
		token.IsActive = &inactive
		mockRepo.On("GetBySymbol", "ETH").Return(token, nil)

		_, err := service.GetTokenBySymbol("ETH")
		assert.ErrorIs(t, err, ErrTokenNotFound)
	})

	t.Run("RepositoryError", func(t *testing.T) {
		mockRepo := new(MockTokenRepository)
		service := NewService(mockRepo)
		mockRepo.On("GetBySymbol", "ETH").Return(nil, errors.New("db down"))

		_, err := service.GetTokenBySymbol("ETH")
		assert.EqualError(t, err, "db down")
	})
}

func TestDebtCandidates_ExcludesCollateral(t *testing.T) {
	mockRepo := new(MockTokenRepository)
	service := NewService(mockRepo)
	mockRepo.On("GetActiveTokens").Return(catalogue(), nil)

	candidates, err := service.DebtCandidates("eth")
	require.NoError(t, err)

	symbols := make([]string, 0, len(candidates))
	for _, c := range candidates {
		symbols = append(symbols, c.Symbol)
	}
	assert.Equal(t, []string{"USDC", "DAI"}, symbols)
}

func TestResolveDebtToken(t *testing.T) {
	mockRepo := new(MockTokenRepository)
	service := NewService(mockRepo)
	mockRepo.On("GetActiveTokens").Return(catalogue(), nil)

	token, err := service.ResolveDebtToken("ETH", "usdc")
	require.NoError(t, err)
	assert.Equal(t, "USDC", token.Symbol)

	_, err = service.ResolveDebtToken("ETH", "ETH")
	assert.ErrorIs(t, err, ErrSameToken)

	_, err = service.ResolveDebtToken("ETH", "XYZ")
	assert.ErrorIs(t, err, ErrTokenNotFound)

	// no collateral chosen yet: every active token is a candidate
	token, err = service.ResolveDebtToken("", "ETH")
	require.NoError(t, err)
	assert.Equal(t, "ETH", token.Symbol)
}

func TestSeed(t *testing.T) {
	t.Run("EmptyCatalogue", func(t *testing.T) {
		mockRepo := new(MockTokenRepository)
		service := NewService(mockRepo)
		tokens := DefaultTokens()

		mockRepo.On("Count").Return(int64(0), nil)
		mockRepo.On("Create", mock.AnythingOfType("*models.Token")).Return(nil).Times(len(tokens))

		assert.NoError(t, service.Seed(tokens))
		mockRepo.AssertExpectations(t)
	})

	t.Run("AlreadySeeded", func(t *testing.T) {
		mockRepo := new(MockTokenRepository)
		service := NewService(mockRepo)

		mockRepo.On("Count").Return(int64(4), nil)

		assert.NoError(t, service.Seed(DefaultTokens()))
		mockRepo.AssertNotCalled(t, "Create", mock.Anything)
	})

	t.Run("CreateFails", func(t *testing.T) {
		mockRepo := new(MockTokenRepository)
		service := NewService(mockRepo)

		mockRepo.On("Count").Return(int64(0), nil)
		mockRepo.On("Create", mock.Anything).Return(errors.New("constraint"))

		err := service.Seed(DefaultTokens())
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "seed token ETH")
	})
}

func TestBasePrices(t *testing.T) {
	prices := BasePrices(DefaultTokens())
	assert.True(t, prices["ETH"].Equal(decimal.NewFromInt(2450)))
	assert.True(t, prices["WBTC"].Equal(decimal.NewFromInt(45000)))
	assert.True(t, prices["USDC"].Equal(decimal.NewFromInt(1)))
	assert.Len(t, prices, 4)
}
