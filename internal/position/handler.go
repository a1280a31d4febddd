package position

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/nebulalend/api/internal/notify"
	"github.com/nebulalend/api/internal/price"
	"github.com/nebulalend/api/internal/risk"
	"github.com/nebulalend/api/internal/token"
	"github.com/nebulalend/api/internal/wallet"
)

// Handler handles HTTP requests for position sessions
type Handler struct {
	manager      *Manager
	connector    *wallet.Connector
	notices      *notify.Center
	submitGuards []gin.HandlerFunc
}

// NewHandler creates a position handler. submitGuards run before the
// submit route, e.g. signature authentication.
func NewHandler(manager *Manager, connector *wallet.Connector, notices *notify.Center, submitGuards ...gin.HandlerFunc) *Handler {
	return &Handler{
		manager:      manager,
		connector:    connector,
		notices:      notices,
		submitGuards: submitGuards,
	}
}

// ConnectWalletRequest selects a wallet option by name
type ConnectWalletRequest struct {
	Provider string `json:"provider" binding:"required"`
}

// statusFor maps domain errors onto HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrSessionNotFound), errors.Is(err, token.ErrTokenNotFound),
		errors.Is(err, notify.ErrNotificationNotFound):
		return http.StatusNotFound
	case errors.Is(err, risk.ErrInvalidAmount), errors.Is(err, ErrSubmissionBlocked):
		return http.StatusUnprocessableEntity
	case errors.Is(err, token.ErrSameToken), errors.Is(err, risk.ErrMalformedToken),
		errors.Is(err, wallet.ErrWalletUnavailable):
		return http.StatusBadRequest
	case errors.Is(err, ErrWalletNotConnected), errors.Is(err, ErrStoreClosed):
		return http.StatusConflict
	case errors.Is(err, price.ErrUnknownSymbol), errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (h *Handler) store(c *gin.Context) (*Store, bool) {
	store, err := h.manager.Get(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return nil, false
	}
	return store, true
}

func (h *Handler) notifyError(session, title string, err error) {
	if h.notices != nil {
		h.notices.Error(session, title, err)
	}
}

func (h *Handler) notifyInfo(session, title, description string) {
	if h.notices != nil {
		h.notices.Info(session, title, description)
	}
}

// CreatePosition handles POST /positions; an optional patch body
// pre-fills the new position
func (h *Handler) CreatePosition(c *gin.Context) {
	var patch Patch
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&patch); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "details": err.Error()})
			return
		}
	}

	store := h.manager.Create()
	snap, err := store.Apply(c.Request.Context(), patch)
	if err != nil {
		h.notifyError(store.ID(), "Invalid input", err)
		c.JSON(statusFor(err), gin.H{"error": err.Error(), "position": snap})
		return
	}
	c.JSON(http.StatusCreated, snap)
}

// GetPosition handles GET /positions/:id
func (h *Handler) GetPosition(c *gin.Context) {
	store, ok := h.store(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, store.Snapshot())
}

// UpdatePosition handles PATCH /positions/:id
func (h *Handler) UpdatePosition(c *gin.Context) {
	store, ok := h.store(c)
	if !ok {
		return
	}

	var patch Patch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "details": err.Error()})
		return
	}

	snap, err := store.Apply(c.Request.Context(), patch)
	if err != nil {
		h.notifyError(store.ID(), "Invalid input", err)
		c.JSON(statusFor(err), gin.H{"error": err.Error(), "position": snap})
		return
	}
	c.JSON(http.StatusOK, snap)
}

// RestorePosition handles PUT /positions/:id with a serialized Position
func (h *Handler) RestorePosition(c *gin.Context) {
	store, ok := h.store(c)
	if !ok {
		return
	}

	var pos Position
	if err := c.ShouldBindJSON(&pos); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "details": err.Error()})
		return
	}

	snap, err := store.Restore(c.Request.Context(), pos)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error(), "position": snap})
		return
	}
	c.JSON(http.StatusOK, snap)
}

// GetDebtTokens handles GET /positions/:id/debt-tokens
func (h *Handler) GetDebtTokens(c *gin.Context) {
	store, ok := h.store(c)
	if !ok {
		return
	}

	tokens, err := store.DebtCandidates()
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tokens": tokens})
}

// ConnectWallet handles POST /positions/:id/wallet. A failed connection
// leaves the wallet disconnected and raises a notification.
func (h *Handler) ConnectWallet(c *gin.Context) {
	store, ok := h.store(c)
	if !ok {
		return
	}

	var req ConnectWalletRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "details": err.Error()})
		return
	}

	state, err := h.connector.Connect(c.Request.Context(), req.Provider)
	if serr := store.SetWallet(state); serr != nil {
		c.JSON(statusFor(serr), gin.H{"error": serr.Error()})
		return
	}
	if err != nil {
		h.notifyError(store.ID(), "Connection Failed", err)
		c.JSON(http.StatusOK, gin.H{"position": store.Snapshot(), "error": err.Error()})
		return
	}

	h.notifyInfo(store.ID(), "Wallet Connected", "Connected to "+state.Address)
	c.JSON(http.StatusOK, gin.H{"position": store.Snapshot()})
}

// DisconnectWallet handles DELETE /positions/:id/wallet
func (h *Handler) DisconnectWallet(c *gin.Context) {
	store, ok := h.store(c)
	if !ok {
		return
	}
	if err := store.DisconnectWallet(); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, store.Snapshot())
}

// SubmitPosition handles POST /positions/:id/submit. When an auth guard
// has identified the caller, the connected wallet must match.
func (h *Handler) SubmitPosition(c *gin.Context) {
	store, ok := h.store(c)
	if !ok {
		return
	}

	if caller := c.GetString("user_address"); caller != "" {
		connected := store.Position().Wallet
		if !connected.Connected || !strings.EqualFold(connected.Address, caller) {
			c.JSON(http.StatusForbidden, gin.H{
				"error": "Signer does not own the connected wallet",
				"code":  "WALLET_MISMATCH",
			})
			return
		}
	}

	receipt, err := store.Submit(c.Request.Context())
	if err != nil {
		h.notifyError(store.ID(), "Submission Failed", err)
		c.JSON(statusFor(err), gin.H{"error": err.Error(), "position": store.Snapshot()})
		return
	}

	h.notifyInfo(store.ID(), "Borrow Submitted", "Health factor "+receipt.Assessment.HealthRatio.StringFixed(2)+"%")
	c.JSON(http.StatusOK, receipt)
}

// DeletePosition handles DELETE /positions/:id
func (h *Handler) DeletePosition(c *gin.Context) {
	if err := h.manager.Close(c.Param("id")); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

// ListNotifications handles GET /positions/:id/notifications
func (h *Handler) ListNotifications(c *gin.Context) {
	store, ok := h.store(c)
	if !ok {
		return
	}
	notifications := []notify.Notification{}
	if h.notices != nil {
		notifications = h.notices.List(store.ID())
	}
	c.JSON(http.StatusOK, gin.H{"notifications": notifications})
}

// DismissNotification handles DELETE /positions/:id/notifications/:nid
func (h *Handler) DismissNotification(c *gin.Context) {
	store, ok := h.store(c)
	if !ok {
		return
	}
	if h.notices == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": notify.ErrNotificationNotFound.Error()})
		return
	}
	if err := h.notices.Dismiss(store.ID(), c.Param("nid")); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

// RegisterRoutes registers position routes on the given router group
func (h *Handler) RegisterRoutes(router *gin.RouterGroup) {
	positions := router.Group("/positions")
	{
		positions.POST("", h.CreatePosition)
		positions.GET("/:id", h.GetPosition)
		positions.PATCH("/:id", h.UpdatePosition)
		positions.PUT("/:id", h.RestorePosition)
		positions.DELETE("/:id", h.DeletePosition)
		positions.GET("/:id/debt-tokens", h.GetDebtTokens)
		positions.POST("/:id/wallet", h.ConnectWallet)
		positions.DELETE("/:id/wallet", h.DisconnectWallet)
		submit := append(append([]gin.HandlerFunc{}, h.submitGuards...), h.SubmitPosition)
		positions.POST("/:id/submit", submit...)
		positions.GET("/:id/notifications", h.ListNotifications)
		positions.DELETE("/:id/notifications/:nid", h.DismissNotification)
	}
}
