package token

import (
	"errors"
	"strings"

	"github.com/nebulalend/api/internal/models"
	"gorm.io/gorm"
)

// TokenRepository defines the interface for token data operations
type TokenRepository interface {
	Create(token *models.Token) error
	GetBySymbol(symbol string) (*models.Token, error)
	Update(token *models.Token) error
	List(limit, offset int) ([]*models.Token, error)
	GetActiveTokens() ([]*models.Token, error)
	GetTokensBySymbols(symbols []string) ([]*models.Token, error)
	Count() (int64, error)
}

// tokenRepository implements TokenRepository interface
type tokenRepository struct {
	db *gorm.DB
}

// NewTokenRepository creates a new token repository instance
func NewTokenRepository(db *gorm.DB) TokenRepository {
	return &tokenRepository{db: db}
}

// Create creates a new token
func (r *tokenRepository) Create(token *models.Token) error {
	if token == nil {
		return errors.New("token cannot be nil")
	}
	token.Symbol = normalizeSymbol(token.Symbol)
	return r.db.Create(token).Error
}

// GetBySymbol retrieves a token by symbol, nil when absent
func (r *tokenRepository) GetBySymbol(symbol string) (*models.Token, error) {
	symbol = normalizeSymbol(symbol)
	if symbol == "" {
		return nil, errors.New("symbol cannot be empty")
	}

	var token models.Token
	err := r.db.Where("symbol = ?", symbol).First(&token).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &token, nil
}

// Update updates an existing token
func (r *tokenRepository) Update(token *models.Token) error {
	if token == nil {
		return errors.New("token cannot be nil")
	}
	return r.db.Save(token).Error
}

// List retrieves tokens with pagination
func (r *tokenRepository) List(limit, offset int) ([]*models.Token, error) {
	var tokens []*models.Token
	err := r.db.Order("id ASC").Limit(limit).Offset(offset).Find(&tokens).Error
	return tokens, err
}

// GetActiveTokens retrieves every listed token
func (r *tokenRepository) GetActiveTokens() ([]*models.Token, error) {
	var tokens []*models.Token
	err := r.db.Where("is_active = ?", true).Order("id ASC").Find(&tokens).Error
	return tokens, err
}

// GetTokensBySymbols retrieves active tokens by multiple symbols
func (r *tokenRepository) GetTokensBySymbols(symbols []string) ([]*models.Token, error) {
	if len(symbols) == 0 {
		return []*models.Token{}, nil
	}

	normalized := make([]string, 0, len(symbols))
	for _, s := range symbols {
		normalized = append(normalized, normalizeSymbol(s))
	}

	var tokens []*models.Token
	err := r.db.Where("symbol IN ? AND is_active = ?", normalized, true).Order("id ASC").Find(&tokens).Error
	return tokens, err
}

// Count returns the number of stored tokens
func (r *tokenRepository) Count() (int64, error) {
	var count int64
	err := r.db.Model(&models.Token{}).Count(&count).Error
	return count, err
}

func normalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
