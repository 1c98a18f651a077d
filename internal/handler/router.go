package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/xxxsen/notevault/internal/middleware"
)

type RouterDeps struct {
	Documents          *DocumentHandler
	Shares             *ShareHandler
	JWTSecret          []byte
	ShareRatePerMinute int
	ShareRateBurst     int
	EnableMetrics      bool
}

func RegisterRoutes(api *gin.RouterGroup, deps RouterDeps) {
	authGroup := api.Group("")
	authGroup.Use(middleware.JWTAuth(deps.JWTSecret))
	authGroup.POST("/documents", deps.Documents.Create)
	authGroup.GET("/documents/:id", deps.Documents.Get)
	authGroup.PUT("/documents/:id", deps.Documents.Write)
	authGroup.PATCH("/documents/:id/title", deps.Documents.UpdateTitle)
	authGroup.GET("/documents/:id/access", deps.Documents.Access)
	authGroup.POST("/documents/:id/migrate", deps.Documents.Migrate)
	authGroup.GET("/documents/:id/events", deps.Documents.Events)
	authGroup.PUT("/documents/:id/public", deps.Documents.SetPublic)
	authGroup.PUT("/documents/:id/collaborators/:user", deps.Documents.SetCollaborator)
	authGroup.DELETE("/documents/:id/collaborators/:user", deps.Documents.RemoveCollaborator)

	authGroup.POST("/documents/:id/shares", deps.Shares.Issue)
	authGroup.GET("/documents/:id/shares", deps.Shares.List)
	authGroup.DELETE("/shares/:token", deps.Shares.Revoke)

	publicGroup := api.Group("/public")
	publicGroup.Use(
		middleware.OptionalJWT(deps.JWTSecret),
		middleware.RateLimit(deps.ShareRatePerMinute, deps.ShareRateBurst),
	)
	publicGroup.GET("/share/:token", deps.Shares.PublicGet)
	publicGroup.PUT("/share/:token", deps.Shares.PublicWrite)
	publicGroup.GET("/share/:token/status", deps.Shares.PublicStatus)

	if deps.EnableMetrics {
		api.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}
}
