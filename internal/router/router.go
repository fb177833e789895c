package router

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"sudooom.im.realtime/internal/config"
	"sudooom.im.realtime/internal/handler"
	"sudooom.im.realtime/internal/health"
	"sudooom.im.realtime/internal/middleware"
)

// Handlers 路由依赖的处理器
type Handlers struct {
	Conversation *handler.ConversationHandler
	Message      *handler.MessageHandler
	Notification *handler.NotificationHandler
	Presence     *handler.PresenceHandler
	Health       *health.Checker
	WebSocket    http.Handler
}

// SetupRouter 设置路由
func SetupRouter(cfg *config.Config, validator middleware.TokenValidator, h *Handlers, logger *slog.Logger) *gin.Engine {
	// 设置 Gin 模式
	gin.SetMode(cfg.App.Mode)

	r := gin.New()

	// 全局中间件
	r.Use(gin.Recovery())
	r.Use(middleware.Logger(logger))
	r.Use(middleware.CORS(
		cfg.CORS.AllowedOrigins,
		cfg.CORS.AllowedMethods,
		cfg.CORS.AllowCredentials,
	))

	// 运维接口
	if h.Health != nil {
		r.GET("/health", h.Health.Live)
		r.GET("/ready", h.Health.Ready)
	}
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// WebSocket 在首帧完成认证
	if h.WebSocket != nil {
		r.GET("/ws", gin.WrapH(h.WebSocket))
	}

	// API v1
	v1 := r.Group("/api/v1")
	v1.Use(middleware.JWTAuth(validator))
	if cfg.RateLimit.Enabled {
		v1.Use(middleware.NewRateLimiter(cfg.RateLimit.RequestsPerMinute).Middleware())
	}
	{
		// 会话接口
		conversations := v1.Group("/conversations")
		{
			conversations.GET("", h.Conversation.List)
			conversations.POST("/direct", h.Conversation.Direct)
			conversations.GET("/:id", h.Conversation.Get)
			conversations.POST("/:id/read", h.Conversation.MarkRead)
			conversations.POST("/:id/typing", h.Conversation.Typing)
		}

		// 群聊接口
		groups := v1.Group("/groups")
		{
			groups.POST("", h.Conversation.CreateGroup)
			groups.PATCH("/:id", h.Conversation.UpdateGroup)
			groups.POST("/:id/leave", h.Conversation.Leave)
		}

		// 消息接口
		messages := v1.Group("/messages")
		{
			messages.POST("", h.Message.Send)
			messages.GET("/search", h.Message.Search)
			messages.PUT("/:id", h.Message.Edit)
			messages.DELETE("/:id", h.Message.Delete)
			messages.POST("/:id/reactions", h.Message.React)
			messages.POST("/:id/pin", h.Message.Pin)
			messages.POST("/:id/read", h.Message.MarkRead)
		}

		// 通知接口
		notifications := v1.Group("/notifications")
		{
			notifications.GET("", h.Notification.List)
			notifications.GET("/unread-count", h.Notification.UnreadCount)
			notifications.POST("/read", h.Notification.MarkRead)
			notifications.POST("/read-all", h.Notification.MarkAllRead)
		}

		// 在线状态接口
		presence := v1.Group("/presence")
		{
			presence.GET("", h.Presence.Query)
			presence.POST("/online", h.Presence.Online)
			presence.POST("/offline", h.Presence.Offline)
		}
	}

	return r
}
