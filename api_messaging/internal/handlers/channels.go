package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"frameworks/api_messaging/internal/channels"
	"frameworks/pkg/logging"
)

type registerChannelRequest struct {
	TenantID      string `json:"tenant_id"`
	Platform      string `json:"platform"`
	RoutingKey    string `json:"routing_key"`
	DisplayNumber string `json:"display_number"`
	Credentials   string `json:"credentials"`
	Status        string `json:"status"`
}

// RegisterChannel handles POST /channels. Registering a routing key the same
// tenant already owns refreshes that channel.
func RegisterChannel(c *gin.Context) {
	var req registerChannelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	ch, err := registry.Register(c.Request.Context(), channels.Channel{
		TenantID:      req.TenantID,
		Platform:      req.Platform,
		RoutingKey:    req.RoutingKey,
		DisplayNumber: req.DisplayNumber,
		Credentials:   req.Credentials,
		Status:        channels.Status(req.Status),
	})
	if err != nil {
		respondError(c, err, nil)
		return
	}
	logger.WithFields(logging.Fields{
		"tenant_id":  ch.TenantID,
		"channel_id": ch.ID,
		"platform":   ch.Platform,
		"status":     ch.Status,
	}).Info("Channel registered")
	c.JSON(http.StatusOK, ch)
}

// ListChannels handles GET /tenants/:tenant_id/channels.
func ListChannels(c *gin.Context) {
	list, err := registry.ListByTenant(c.Request.Context(), c.Param("tenant_id"))
	if err != nil {
		respondError(c, err, nil)
		return
	}
	if list == nil {
		list = []channels.Channel{}
	}
	c.JSON(http.StatusOK, gin.H{"channels": list})
}

type statusRequest struct {
	Status string `json:"status" binding:"required"`
}

// SetChannelStatus handles PUT /channels/:id/status.
func SetChannelStatus(c *gin.Context) {
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "status is required")
		return
	}
	ch, err := registry.SetStatus(c.Request.Context(), c.Param("id"), channels.Status(req.Status))
	if err != nil {
		respondError(c, err, nil)
		return
	}
	logger.WithFields(logging.Fields{
		"tenant_id":  ch.TenantID,
		"channel_id": ch.ID,
		"status":     ch.Status,
	}).Info("Channel status changed")
	c.JSON(http.StatusOK, ch)
}

// DisconnectSiblings handles POST /channels/:id/disconnect-siblings.
func DisconnectSiblings(c *gin.Context) {
	n, err := registry.DisconnectSiblings(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"disconnected": n})
}

// DeleteChannel handles DELETE /channels/:id.
func DeleteChannel(c *gin.Context) {
	if err := registry.Delete(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err, nil)
		return
	}
	c.Status(http.StatusNoContent)
}
