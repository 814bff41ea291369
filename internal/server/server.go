package server

import (
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/skillbay/chatsync/internal/auth"
	"github.com/skillbay/chatsync/internal/config"
	"github.com/skillbay/chatsync/internal/server/storage"
)

// NewRouter assembles the REST API and the WebSocket endpoint.
func NewRouter(hub *Hub, authService *auth.Service, store storage.Store, logger *zerolog.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), LoggerMiddleware(logger))

	handlers := NewHandlers(authService, store, hub, logger)

	router.GET("/health", func(c *gin.Context) {
		c.String(stdhttp.StatusOK, "ok")
	})
	router.GET("/ws", gin.WrapH(NewWSHandler(hub, authService, logger)))

	api := router.Group("/api")
	api.POST("/register", handlers.Register)
	api.POST("/login", handlers.Login)

	authed := api.Group("")
	authed.Use(AuthMiddleware(authService, logger))
	authed.POST("/conversations", handlers.CreateConversation)
	authed.GET("/conversations", handlers.ListConversations)
	authed.GET("/chats/:id/messages", handlers.ListMessages)
	authed.POST("/chats/:id/messages", handlers.SendMessage)
	authed.GET("/images/:id", handlers.GetImage)

	return router
}

// NewServer builds the HTTP server around the router.
func NewServer(hub *Hub, authService *auth.Service, store storage.Store, cfg config.Config, logger *zerolog.Logger) *stdhttp.Server {
	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           NewRouter(hub, authService, store, logger),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}
