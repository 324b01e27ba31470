// Package router 设置 HTTP 路由
package router

import (
	"github.com/gin-gonic/gin"

	"github.com/ashwinyue/claude-relay/internal/handler"
	"github.com/ashwinyue/claude-relay/internal/middleware"
	"github.com/ashwinyue/claude-relay/internal/service"
	"github.com/ashwinyue/claude-relay/internal/ws"
)

// SetupRouter 设置路由
func SetupRouter(svc *service.Services, h *handler.Handlers, wsServer *ws.Server) *gin.Engine {
	r := gin.New()

	// 中间件
	r.Use(middleware.RecoveryMiddleware())
	r.Use(middleware.LoggingMiddleware())
	r.Use(middleware.CORSMiddleware(svc.Config.Server.CORSOrigins))

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// API v1
	v1 := r.Group("/api/v1")
	{
		// Auth 认证
		authGroup := v1.Group("/auth")
		authGroup.Use(middleware.RateLimitMiddleware(svc.Limiter))
		{
			authGroup.POST("/register", h.Auth.Register)
			authGroup.POST("/login", h.Auth.Login)
			authGroup.POST("/refresh", h.Auth.RefreshToken)
		}

		authed := v1.Group("/auth")
		authed.Use(middleware.RequireAuth(svc))
		{
			authed.POST("/logout", h.Auth.Logout)
			authed.POST("/logout-all", h.Auth.LogoutAll)
			authed.GET("/me", h.Auth.GetCurrentUser)
			authed.PUT("/me", h.Auth.UpdateCurrentUser)
		}

		// Chat 聊天
		chatGroup := v1.Group("/chat")
		chatGroup.Use(middleware.RequireAuth(svc))
		chatGroup.Use(middleware.RateLimitMiddleware(svc.Limiter))
		{
			chatGroup.GET("/history", h.Chat.GetHistory)
			chatGroup.POST("/message", h.Chat.SendMessage)
			chatGroup.POST("/sessions", h.Chat.CreateSession)
			chatGroup.GET("/sessions/:id", h.Chat.GetSession)
			chatGroup.PUT("/sessions/:id", h.Chat.UpdateSession)
			chatGroup.DELETE("/sessions/:id", h.Chat.DeleteSession)
		}

		// WebSocket 聊天，令牌走路径参数
		v1.GET("/chat/ws/:token", wsServer.Handle)
	}

	return r
}
