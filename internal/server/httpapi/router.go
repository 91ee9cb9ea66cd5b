// Package httpapi exposes the key registry and share endpoints over HTTP.
// Handlers translate service errors into generic JSON bodies with the
// appropriate status; internals are logged, never echoed to clients.
package httpapi

import (
	"github.com/dkarpov/calvault/internal/logging"
	"github.com/dkarpov/calvault/internal/server/services"
	"github.com/gin-gonic/gin"
)

// NewRouter assembles the gin engine with all routes registered.
//
// The key registry and owner share endpoints require the opaque user id
// injected by the upstream identity provider; share read endpoints are
// reachable by anyone holding the link.
func NewRouter(logger logging.Logger, keys *services.KeyRegistryService, shareSvc *services.ShareService) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	keyHandler := NewKeyRecordHandler(logger, keys)
	shareHandler := NewShareHandler(logger, shareSvc)

	api := router.Group("/api")

	authed := api.Group("")
	authed.Use(RequireUserID())
	{
		authed.GET("/keyrecord", keyHandler.Get)
		authed.PUT("/keyrecord", keyHandler.Put)
		authed.POST("/shares", shareHandler.Create)
		authed.DELETE("/shares/:id", shareHandler.Delete)
	}

	api.POST("/shares/:id/access", shareHandler.Access)
	api.GET("/shares/:id/content", shareHandler.Content)

	return router
}
