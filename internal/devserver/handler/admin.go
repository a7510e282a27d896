package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"storefront-live/internal/devserver/socket"
	"storefront-live/internal/devserver/store"
	"storefront-live/internal/realtime/wire"
)

type AdminHandler struct {
	Store  *store.Store
	Socket *socket.Server
}

// VerifySeller approves a seller and tells them over their user channel.
func (h *AdminHandler) VerifySeller(c *gin.Context) {
	acc, err := h.Store.VerifySeller(c.Param("id"))
	switch {
	case errors.Is(err, store.ErrUserNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		return
	case errors.Is(err, store.ErrNotSeller):
		c.JSON(http.StatusConflict, gin.H{"error": "Account is not a seller"})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Verification failed"})
		return
	}

	data, _ := json.Marshal(gin.H{
		"title":     "Seller account verified",
		"message":   "Your seller account has been approved.",
		"actionUrl": "/seller/dashboard",
	})
	_, _, _ = h.Socket.Publish(wire.UserChannel(acc.ID), "seller-verified", data, "")
	c.JSON(http.StatusOK, gin.H{"user": acc.Identity()})
}

func (h *AdminHandler) ListAccounts(c *gin.Context) {
	accounts := h.Store.List()
	users := make([]any, 0, len(accounts))
	for _, a := range accounts {
		users = append(users, a.Identity())
	}
	c.JSON(http.StatusOK, gin.H{"users": users})
}
