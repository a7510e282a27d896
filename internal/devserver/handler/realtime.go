package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"storefront-live/internal/auth"
	"storefront-live/internal/devserver/middleware"
	"storefront-live/internal/devserver/socket"
	"storefront-live/internal/realtime/wire"
)

type RealtimeHandler struct {
	Socket *socket.Server
	Key    string
	Secret string
}

// Auth signs a private channel subscription for the caller's own channels.
func (h *RealtimeHandler) Auth(c *gin.Context) {
	var body wire.ChannelAuthRequest
	if err := c.ShouldBindJSON(&body); err != nil || body.SocketID == "" || body.ChannelName == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "socket_id and channel_name are required"})
		return
	}
	claims, ok := middleware.ClaimsFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Not authenticated"})
		return
	}
	if !mayJoin(claims, body.ChannelName) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Forbidden"})
		return
	}
	c.JSON(http.StatusOK, wire.ChannelAuthReply{
		Auth: auth.SignChannel(h.Key, h.Secret, body.SocketID, body.ChannelName),
	})
}

func mayJoin(claims *auth.Claims, channel string) bool {
	if id, ok := wire.ChannelUser(channel); ok {
		return id == claims.UserID
	}
	if role, ok := wire.ChannelRole(channel); ok {
		return strings.EqualFold(role, claims.Role)
	}
	return false
}

type publishBody struct {
	Channel string          `json:"channel"`
	Event   string          `json:"event"`
	Data    json.RawMessage `json:"data"`
	ID      string          `json:"id"`
}

func (h *RealtimeHandler) Publish(c *gin.Context) {
	var body publishBody
	if err := c.ShouldBindJSON(&body); err != nil || body.Event == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "channel and event are required"})
		return
	}
	id, delivered, err := h.Socket.Publish(body.Channel, body.Event, body.Data, body.ID)
	if errors.Is(err, socket.ErrMissingChannel) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "channel and event are required"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Publish failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "delivered": delivered})
}

// Disconnect drops every realtime socket, for exercising client reconnects.
func (h *RealtimeHandler) Disconnect(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"disconnected": h.Socket.DisconnectAll()})
}

func (h *RealtimeHandler) Serve(c *gin.Context) {
	h.Socket.ServeHTTP(c.Writer, c.Request)
}
