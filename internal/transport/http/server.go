package http

import (
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/pairchat/pairchat-server/internal/auth"
	"github.com/pairchat/pairchat-server/internal/chat"
	"github.com/pairchat/pairchat-server/internal/config"
	"github.com/pairchat/pairchat-server/internal/core"
	"github.com/pairchat/pairchat-server/internal/store"
)

// NewServer builds the HTTP server with the REST API, the WebSocket
// endpoint and the operational routes.
func NewServer(
	hub *core.Hub,
	registry *core.Registry,
	authService *auth.Service,
	chatService *chat.Service,
	st store.UserStore,
	cfg config.Config,
	logger *zerolog.Logger,
) *stdhttp.Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), LoggerMiddleware(logger), MetricsMiddleware())

	api := NewAPIHandlers(authService, st, cfg.UploadDir, logger)
	chats := NewChatHandlers(chatService, st, hub, registry, logger)
	ws := NewWSHandler(hub, authService, chatService, cfg.MessageRatePerMinute, logger)

	router.GET("/health", func(c *gin.Context) {
		c.String(stdhttp.StatusOK, "ok")
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.Static("/uploads", cfg.UploadDir)

	authGroup := router.Group("/api/auth")
	{
		authGroup.POST("/register", api.Register)
		authGroup.POST("/login", api.Login)

		protected := authGroup.Group("")
		protected.Use(AuthMiddleware(authService, logger))
		protected.GET("/me", api.Me)
		protected.POST("/profile/image", api.UploadAvatar)
		protected.DELETE("/profile/image", api.DeleteAvatar)
	}

	chatGroup := router.Group("/api/chat")
	chatGroup.Use(AuthMiddleware(authService, logger))
	{
		chatGroup.GET("/search", chats.SearchUsers)
		chatGroup.POST("/create", chats.CreateChat)
		chatGroup.GET("/chats", chats.ListChats)
		chatGroup.GET("/:chatId", chats.GetChat)
		chatGroup.POST("/message", chats.SendMessage)
		chatGroup.POST("/message/read", chats.MarkRead)
	}

	router.GET("/ws", ws.ServeWS)

	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}
