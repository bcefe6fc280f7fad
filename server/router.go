package server

import (
	"time"

	httpHandler "crm-sync/interfaces/http"
	"crm-sync/interfaces/middleware"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

type RouterConfig struct {
	Auth           middleware.AuthConfig
	AllowedOrigins []string
}

func InitiateRouter(
	cfg RouterConfig,
	healthHandler httpHandler.IHealthHandler,
	integrationHandler httpHandler.IIntegrationHandler,
	webhookHandler httpHandler.IWebhookHandler,
	recipientHandler httpHandler.IRecipientHandler,
) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	if len(cfg.AllowedOrigins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Requested-With"},
			ExposeHeaders:    []string{"Content-Length"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}

	router.GET("/healthz", healthHandler.Healthz)
	router.GET("/readyz", healthHandler.Readyz)

	// Browser OAuth flow. The callback carries its organization in the
	// signed state.
	integrations := router.Group("/integrations")
	integrations.GET("/:provider/authorize", middleware.BrowserAuth(cfg.Auth), integrationHandler.Authorize)
	integrations.GET("/:provider/callback", integrationHandler.Callback)
	integrations.POST("/demo/:provider", middleware.Auth(cfg.Auth), integrationHandler.ConnectDemo)

	// Providers authenticate with signatures, not sessions.
	router.POST("/webhooks/:provider", webhookHandler.Receive)

	api := router.Group("/api")
	api.Use(middleware.Auth(cfg.Auth))
	api.GET("/integrations", integrationHandler.Status)
	api.POST("/integrations/sync", integrationHandler.TriggerSync)
	api.DELETE("/integrations", integrationHandler.Disconnect)
	api.PATCH("/recipients/:id", recipientHandler.Update)

	return router
}
