package lending

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/nebulalend/api/internal/token"
)

// Handler handles HTTP requests for lending operations
type Handler struct {
	service Service
}

// NewHandler creates a new lending handler
func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, token.ErrTokenNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrAmountNotPositive):
		return http.StatusBadRequest
	case errors.Is(err, ErrPriceUnavailable), errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// GetQuote handles POST /lending/quote
func (h *Handler) GetQuote(c *gin.Context) {
	var req SupplyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "details": err.Error()})
		return
	}

	quote, err := h.service.Quote(c.Request.Context(), &req)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, quote)
}

// Supply handles POST /lending/supply
func (h *Handler) Supply(c *gin.Context) {
	var req SupplyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "details": err.Error()})
		return
	}

	receipt, err := h.service.Supply(c.Request.Context(), &req)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, receipt)
}

// RegisterRoutes registers lending routes
func (h *Handler) RegisterRoutes(router *gin.RouterGroup) {
	lending := router.Group("/lending")
	{
		lending.POST("/quote", h.GetQuote)
		lending.POST("/supply", h.Supply)
	}
}
