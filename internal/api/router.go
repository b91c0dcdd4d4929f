package api

import (
	"log/slog"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/eujuliu/email-serverless/internal/ratelimit"
)

// NewRouter wires the middleware chain: CORS, then the rate limiter in
// front of every email route, then JWT claims, then the handler.
func NewRouter(h *Handlers, limiter *ratelimit.Limiter, jwtSecret string, logger *slog.Logger) *gin.Engine {
	router := gin.Default()
	router.Use(cors.Default())

	router.GET("/ping", func(c *gin.Context) {
		c.String(200, "pong")
	})

	authed := router.Group("/")
	authed.Use(ratelimit.Middleware(limiter, logger))
	authed.Use(Auth(jwtSecret))
	{
		authed.POST("/email", h.CreateEmail)
		authed.GET("/email/:id", h.GetEmail)
		authed.PUT("/email/:id", h.UpdateEmail)
		authed.DELETE("/email/:id", h.DeleteEmail)
		authed.POST("/email/:id/send", h.SendEmail)
		authed.GET("/emails", h.ListEmails)
	}

	return router
}
