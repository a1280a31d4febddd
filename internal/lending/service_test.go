package lending

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nebulalend/api/internal/models"
	"github.com/nebulalend/api/internal/notify"
	"github.com/nebulalend/api/internal/price"
	"github.com/nebulalend/api/internal/risk"
	"github.com/nebulalend/api/internal/token"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockTokenLookup is a mock implementation of TokenLookup
type MockTokenLookup struct {
	mock.Mock
}

func (m *MockTokenLookup) GetTokenBySymbol(symbol string) (*models.Token, error) {
	args := m.Called(symbol)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Token), args.Error(1)
}

// knownSessions is a fixed set of live session ids
type knownSessions map[string]bool

func (k knownSessions) Exists(id string) bool {
	return k[id]
}

var usdc = &models.Token{Symbol: "USDC", Name: "USD Coin", SupplyAPY: decimal.RequireFromString("12.3")}

func newService(t *testing.T, delay time.Duration) (Service, *notify.Center, *MockTokenLookup) {
	t.Helper()
	tokens := new(MockTokenLookup)
	tokens.On("GetTokenBySymbol", "USDC").Return(usdc, nil).Maybe()
	tokens.On("GetTokenBySymbol", "DOGE").Return(nil, fmt.Errorf("%w: DOGE", token.ErrTokenNotFound)).Maybe()

	notices, err := notify.NewCenter(time.Minute)
	require.NoError(t, err)
	t.Cleanup(notices.Close)

	src := price.NewStatic(map[string]decimal.Decimal{"USDC": decimal.NewFromInt(1)})
	sessions := knownSessions{"session-1": true, "s": true}
	return NewService(tokens, src, notices, sessions, delay), notices, tokens
}

func TestQuote(t *testing.T) {
	svc, _, _ := newService(t, 0)

	quote, err := svc.Quote(context.Background(), &SupplyRequest{Token: "usdc", Amount: decimal.NewFromInt(1000)})
	require.NoError(t, err)

	assert.Equal(t, "USDC", quote.Token)
	assert.True(t, quote.ValueUSD.Equal(decimal.NewFromInt(1000)))
	assert.True(t, quote.YearlyEarnings.Equal(decimal.NewFromInt(123)))
	assert.True(t, quote.DailyEarnings.Equal(decimal.RequireFromString("0.337")), quote.DailyEarnings.String())
	assert.True(t, quote.LPTokens.Equal(decimal.NewFromInt(1000)))
	assert.True(t, quote.HealthRatio.Equal(risk.SentinelRatio))
}

func TestQuote_Errors(t *testing.T) {
	svc, _, _ := newService(t, 0)
	ctx := context.Background()

	_, err := svc.Quote(ctx, &SupplyRequest{Token: "USDC"})
	assert.ErrorIs(t, err, ErrAmountNotPositive)

	_, err = svc.Quote(ctx, &SupplyRequest{Token: "DOGE", Amount: decimal.NewFromInt(1)})
	assert.ErrorIs(t, err, token.ErrTokenNotFound)
}

func TestSupply(t *testing.T) {
	svc, notices, _ := newService(t, 0)

	receipt, err := svc.Supply(context.Background(), &SupplyRequest{
		Token:     "USDC",
		Amount:    decimal.NewFromInt(50),
		SessionID: "session-1",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, receipt.ID)

	list := notices.List("session-1")
	require.Len(t, list, 1)
	assert.Equal(t, "Liquidity Added!", list[0].Title)
	assert.Equal(t, "Successfully added 50 USDC to the pool", list[0].Description)
}

func TestSupply_UnknownSessionGetsNoToast(t *testing.T) {
	svc, notices, _ := newService(t, 0)

	receipt, err := svc.Supply(context.Background(), &SupplyRequest{
		Token:     "USDC",
		Amount:    decimal.NewFromInt(50),
		SessionID: "made-up",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, receipt.ID)
	assert.Empty(t, notices.List("made-up"))
	assert.Empty(t, notices.List("session-1"))
}

func TestSupply_HonoursContext(t *testing.T) {
	svc, notices, _ := newService(t, time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := svc.Supply(ctx, &SupplyRequest{Token: "USDC", Amount: decimal.NewFromInt(1), SessionID: "s"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, notices.List("s"))
}

func TestHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc, _, _ := newService(t, 0)
	router := gin.New()
	NewHandler(svc).RegisterRoutes(router.Group("/api/v1"))

	post := func(path string, body interface{}) *httptest.ResponseRecorder {
		data, _ := json.Marshal(body)
		req, _ := http.NewRequest(http.MethodPost, path, bytes.NewReader(data))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	w := post("/api/v1/lending/quote", SupplyRequest{Token: "USDC", Amount: decimal.NewFromInt(10)})
	assert.Equal(t, http.StatusOK, w.Code)

	w = post("/api/v1/lending/quote", SupplyRequest{Token: "DOGE", Amount: decimal.NewFromInt(10)})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = post("/api/v1/lending/supply", SupplyRequest{Token: "USDC"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = post("/api/v1/lending/supply", SupplyRequest{Token: "USDC", Amount: decimal.NewFromInt(10)})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"health_ratio":"100"`)
}
