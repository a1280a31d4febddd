package swap

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/nebulalend/api/internal/token"
)

// Handler handles HTTP requests for swap operations
type Handler struct {
	service Service
}

// NewHandler creates a new swap handler
func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// GetQuote handles POST /swap/quote requests
func (h *Handler) GetQuote(c *gin.Context) {
	var req SwapQuoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid request",
			"details": err.Error(),
		})
		return
	}

	quote, err := h.service.GetQuote(c.Request.Context(), &req)
	if err != nil {
		statusCode := http.StatusInternalServerError
		switch {
		case errors.Is(err, token.ErrTokenNotFound):
			statusCode = http.StatusNotFound
		case errors.Is(err, ErrTokensRequired), errors.Is(err, ErrSameToken),
			errors.Is(err, ErrAmountNotPositive), errors.Is(err, ErrInvalidSlippage):
			statusCode = http.StatusBadRequest
		case errors.Is(err, ErrPriceUnavailable):
			statusCode = http.StatusServiceUnavailable
		}

		c.JSON(statusCode, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, quote)
}

// RegisterRoutes registers swap routes on the given router group
func (h *Handler) RegisterRoutes(router *gin.RouterGroup) {
	swap := router.Group("/swap")
	{
		swap.POST("/quote", h.GetQuote)
	}
}
