package handlers

import (
	"github.com/gin-gonic/gin"

	"frameworks/pkg/auth"
)

// RegisterRoutes mounts the API on r. Everything except the provider
// webhooks requires the service token.
func RegisterRoutes(r gin.IRouter, serviceToken string) {
	webhooks := r.Group("/webhooks")
	{
		webhooks.GET("/:platform", VerifyWebhook)
		webhooks.POST("/:platform", HandleWebhook)
	}

	api := r.Group("/")
	api.Use(auth.ServiceAuthMiddleware(serviceToken))
	{
		api.POST("/wallets", CreateWallet)
		api.GET("/wallets/:tenant_id", GetWallet)
		api.POST("/wallets/:tenant_id/recharge", Recharge)
		api.PUT("/wallets/:tenant_id/lock", SetLock)
		api.GET("/wallets/:tenant_id/transactions", ListTransactions)
		api.GET("/wallets/:tenant_id/audit", AuditWallet)

		api.POST("/channels", RegisterChannel)
		api.PUT("/channels/:id/status", SetChannelStatus)
		api.POST("/channels/:id/disconnect-siblings", DisconnectSiblings)
		api.DELETE("/channels/:id", DeleteChannel)
		api.GET("/tenants/:tenant_id/channels", ListChannels)

		api.POST("/messages/dispatch", DispatchMessage)
	}
}
