package http

import (
	"github.com/gin-gonic/gin"

	"kevin-chat/internal/bootstrap"
	"kevin-chat/internal/transport/http/handler"
	"kevin-chat/internal/transport/http/middleware"
)

func NewRouter(app *bootstrap.App) *gin.Engine {
	gin.SetMode(app.Config.App.GinMode)
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())

	healthHandler := handler.NewHealthHandler(app)
	router.GET("/healthz", healthHandler.Check)

	authHandler := handler.NewAuthHandler(app.AuthService, app.Logger)
	chatHandler := handler.NewChatHandler(app.ChatService, app.AgentClient, app.SessionPublisher, app.Logger)

	v1 := router.Group("/api/v1")
	authGroup := v1.Group("/auth")
	authGroup.POST("/register", authHandler.Register)
	authGroup.POST("/login", authHandler.Login)
	authGroup.GET("/me", middleware.AuthJWT(app.Config.Auth.JWTSecret), authHandler.Me)

	chatGroup := v1.Group("/chat")
	chatGroup.Use(middleware.AuthJWT(app.Config.Auth.JWTSecret))
	chatGroup.GET("/sessions", chatHandler.ListSessions)
	chatGroup.PATCH("/sessions", chatHandler.RenameSession)
	chatGroup.DELETE("/sessions", chatHandler.DeleteSession)
	chatGroup.GET("/history", chatHandler.GetHistory)
	chatGroup.POST("/save", chatHandler.SaveSession)
	chatGroup.POST("/query", chatHandler.Query)
	chatGroup.GET("/query/stream", chatHandler.StreamQuery)

	return router
}
