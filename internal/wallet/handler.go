package wallet

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Handler exposes the wallet options
type Handler struct {
	connector *Connector
}

// NewHandler creates a wallet handler
func NewHandler(connector *Connector) *Handler {
	return &Handler{connector: connector}
}

// ListOptions handles GET /wallets
func (h *Handler) ListOptions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"wallets": h.connector.Options()})
}

// RegisterRoutes registers wallet routes
func (h *Handler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/wallets", h.ListOptions)
}
