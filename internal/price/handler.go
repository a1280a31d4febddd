package price

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

// HTTPHandler serves current quotes over HTTP
type HTTPHandler struct {
	source  Source
	symbols []string
}

// NewHandler creates a price handler listing the given symbols
func NewHandler(source Source, symbols []string) *HTTPHandler {
	return &HTTPHandler{source: source, symbols: symbols}
}

// ListPrices handles GET /prices
func (h *HTTPHandler) ListPrices(c *gin.Context) {
	quotes := make([]Quote, 0, len(h.symbols))
	for _, symbol := range h.symbols {
		q, err := h.source.GetPrice(c.Request.Context(), symbol)
		if err != nil {
			continue
		}
		quotes = append(quotes, q)
	}
	c.JSON(http.StatusOK, gin.H{"prices": quotes})
}

// GetPrice handles GET /prices/:symbol
func (h *HTTPHandler) GetPrice(c *gin.Context) {
	q, err := h.source.GetPrice(c.Request.Context(), c.Param("symbol"))
	if err != nil {
		if errors.Is(err, ErrUnknownSymbol) {
			c.JSON(http.StatusNotFound, gin.H{"error": "price unavailable"})
			return
		}
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, q)
}

// RegisterRoutes registers price routes
func (h *HTTPHandler) RegisterRoutes(router *gin.RouterGroup) {
	prices := router.Group("/prices")
	{
		prices.GET("", h.ListPrices)
		prices.GET("/:symbol", h.GetPrice)
	}
}
