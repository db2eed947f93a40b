package http

import (
	"github.com/gin-gonic/gin"

	"github.com/layer-3/ferryman/registry"
	"github.com/layer-3/ferryman/service"
)

// RouterConfig carries the wiring for the HTTP surface. AuthToken is optional;
// when empty the settlement endpoints are open.
type RouterConfig struct {
	VerifyService *service.VerifyService
	SettleService *service.SettleService
	QuoteService  *service.QuoteService
	Registry      *registry.Registry
	AuthToken     string
}

// SetupRouter sets up the Gin router
func SetupRouter(cfg RouterConfig) *gin.Engine {
	router := gin.Default()

	handlers := NewFacilitatorHandlers(cfg.VerifyService, cfg.SettleService, cfg.QuoteService, cfg.Registry)

	// Discovery and verification are read-only and open
	router.GET("/supported", handlers.Supported)
	router.POST("/verify", handlers.Verify)
	router.GET("/settlements/:paymentKey", handlers.Attempt)

	// Settlement moves funds; protect it when a token is configured
	settle := router.Group("/")
	if cfg.AuthToken != "" {
		settle.Use(BearerAuthMiddleware(cfg.AuthToken))
	}
	{
		settle.POST("/settle", handlers.Settle)
		if cfg.QuoteService != nil {
			settle.POST("/quotes", handlers.Quote)
		}
	}

	return router
}
