package httpserver

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Router struct {
	Engine *gin.Engine
}

func NewRouter(handler *NotificationHandler, db *pgxpool.Pool, jwtSecret string) *Router {
	r := gin.Default()

	r.Use(TraceMiddleware())
	r.Use(MetricsMiddleware())

	// Health endpoints
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	r.HEAD("/healthz", func(c *gin.Context) {
		c.Status(200)
	})

	r.GET("/readyz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c, 1*time.Second)
		defer cancel()

		if err := db.Ping(ctx); err != nil {
			c.JSON(500, gin.H{"status": "db_not_ready", "error": err.Error()})
			return
		}

		c.JSON(200, gin.H{"status": "ready"})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Protected
	api := r.Group("/api/v1")
	api.Use(AuthMiddleware(jwtSecret))
	{
		api.POST("/session/login", handler.Login)
		api.POST("/session/logout", handler.Logout)
		api.POST("/app-state", handler.AppState)
		api.POST("/push/token", handler.RegisterPushToken)

		api.GET("/notifications", handler.List)
		api.GET("/notifications/unread-count", handler.UnreadCount)
		api.POST("/notifications/refresh", handler.Refresh)
		api.POST("/notifications/:id/read", handler.MarkRead)
		api.POST("/notifications/read-all", handler.MarkAllRead)
		api.DELETE("/notifications/:id", handler.Delete)
		api.DELETE("/notifications", handler.ClearAll)
	}

	return &Router{Engine: r}
}

func (r *Router) Run(port string) error {
	return r.Engine.Run(port)
}
